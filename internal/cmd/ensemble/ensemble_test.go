package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/ensemble/internal/report"
	reportsqlite "github.com/louisbranch/ensemble/internal/report/sqlite"
	"github.com/louisbranch/ensemble/internal/scenario"
	"github.com/louisbranch/ensemble/internal/testkit/roomfakes"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("ensemble", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.ServerURL != "ws://localhost:8787/ws" {
		t.Fatalf("expected default server url, got %q", cfg.ServerURL)
	}
	if cfg.Mode != "unattended" {
		t.Fatalf("expected unattended default mode, got %q", cfg.Mode)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms poll interval, got %s", cfg.PollInterval)
	}
	if cfg.ValidationDeadline != 5*time.Second {
		t.Fatalf("expected 5s validation deadline, got %s", cfg.ValidationDeadline)
	}
	if cfg.ContinueOnFailure {
		t.Fatal("expected continue-on-failure to default to false")
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ENSEMBLE_MODE", "stepped")
	t.Setenv("ENSEMBLE_ACTION_TIMEOUT", "3s")

	fs := flag.NewFlagSet("ensemble", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-mode", "unattended", "-scenario", "demo.lua"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Mode != "unattended" {
		t.Fatalf("flag did not override env, mode = %q", cfg.Mode)
	}
	if cfg.ActionTimeout != 3*time.Second {
		t.Fatalf("env action timeout not applied, got %s", cfg.ActionTimeout)
	}
	if cfg.Scenario != "demo.lua" {
		t.Fatalf("scenario = %q, want demo.lua", cfg.Scenario)
	}
}

func TestRunRequiresScenarioPath(t *testing.T) {
	err := Run(context.Background(), Config{Mode: "unattended"}, nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "scenario path") {
		t.Fatalf("Run error = %v, want scenario path requirement", err)
	}
}

func smokePlan() *scenario.Plan {
	return &scenario.Plan{
		Name:    "smoke",
		Clients: []string{"alice", "bob"},
		Steps: []*scenario.Step{
			{
				Index:  0,
				Name:   "create",
				Status: scenario.StatusPending,
				Action: scenario.Action{Kind: scenario.ActionCreateRoom, Client: "alice", Room: "main"},
				Validations: []scenario.Validation{
					{Kind: scenario.ValidationRoomExists, Room: "main", Observer: "alice"},
				},
			},
			{
				Index:  1,
				Name:   "join",
				Status: scenario.StatusPending,
				Action: scenario.Action{Kind: scenario.ActionJoinRoom, Client: "bob", Room: "main"},
				Validations: []scenario.Validation{
					{Kind: scenario.ValidationMemberCount, Room: "main", Count: 2},
				},
			},
		},
	}
}

func fastRunConfig() Config {
	return Config{
		Mode:               "unattended",
		PollInterval:       20 * time.Millisecond,
		ValidationDeadline: 2 * time.Second,
		ActionTimeout:      time.Second,
	}
}

func TestRunPlanWritesReportsAndHistory(t *testing.T) {
	server := roomfakes.NewServer(roomfakes.Config{})
	plan := smokePlan()

	dir := t.TempDir()
	cfg := fastRunConfig()
	cfg.ReportJSON = filepath.Join(dir, "report.json")
	cfg.ReportCSV = filepath.Join(dir, "report.csv")
	cfg.HistoryDB = filepath.Join(dir, "history.db")

	var out bytes.Buffer
	err := runPlan(context.Background(), cfg, plan, server.Adaptors(plan.Clients), nil, &out, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runPlan: %v", err)
	}

	if !strings.Contains(out.String(), "2 passed, 0 failed, 0 skipped of 2 steps") {
		t.Errorf("summary missing totals line:\n%s", out.String())
	}

	data, err := os.ReadFile(cfg.ReportJSON)
	if err != nil {
		t.Fatalf("read json report: %v", err)
	}
	var written report.Report
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("decode json report: %v", err)
	}
	if written.Totals.Passed != 2 {
		t.Errorf("report passed = %d, want 2", written.Totals.Passed)
	}

	if _, err := os.Stat(cfg.ReportCSV); err != nil {
		t.Errorf("csv report not written: %v", err)
	}

	store, err := reportsqlite.Open(cfg.HistoryDB)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	records, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(records) != 1 || records[0].RunID != written.RunID {
		t.Fatalf("history records = %+v, want the written run", records)
	}
}

func TestRunPlanFailureExitsNonZero(t *testing.T) {
	server := roomfakes.NewServer(roomfakes.Config{Capacity: 1})
	plan := smokePlan()

	cfg := fastRunConfig()
	cfg.ValidationDeadline = 150 * time.Millisecond

	var out bytes.Buffer
	err := runPlan(context.Background(), cfg, plan, server.Adaptors(plan.Clients), nil, &out, &bytes.Buffer{})
	if err == nil {
		t.Fatal("runPlan returned nil for a failing run")
	}
	if !strings.Contains(err.Error(), "steps failed") {
		t.Fatalf("error = %v, want failed step count", err)
	}
}

func TestRunPlanSteppedModeAdvancesOnInput(t *testing.T) {
	server := roomfakes.NewServer(roomfakes.Config{})
	plan := smokePlan()

	cfg := fastRunConfig()
	cfg.Mode = "stepped"

	in := strings.NewReader("\n\n")
	var out bytes.Buffer
	err := runPlan(context.Background(), cfg, plan, server.Adaptors(plan.Clients), in, &out, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("runPlan: %v", err)
	}
	if !strings.Contains(out.String(), "2 passed") {
		t.Errorf("summary missing pass totals:\n%s", out.String())
	}
}

func TestRunPlanRejectsUnknownMode(t *testing.T) {
	server := roomfakes.NewServer(roomfakes.Config{})
	plan := smokePlan()

	cfg := fastRunConfig()
	cfg.Mode = "turbo"
	err := runPlan(context.Background(), cfg, plan, server.Adaptors(plan.Clients), nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "turbo") {
		t.Fatalf("error = %v, want unsupported mode", err)
	}
}
