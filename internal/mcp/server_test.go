package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/ensemble/internal/orchestrator"
	"github.com/louisbranch/ensemble/internal/report"
	"github.com/louisbranch/ensemble/internal/scenario"
)

func trackedPlan() *scenario.Plan {
	return &scenario.Plan{
		Name:    "lobby smoke",
		Clients: []string{"alice"},
		Steps: []*scenario.Step{
			{Index: 0, Name: "create", Status: scenario.StatusPending},
			{Index: 1, Name: "join", Status: scenario.StatusPending},
		},
	}
}

func TestTrackerStatusProgression(t *testing.T) {
	tracker := NewTracker(trackedPlan())

	status := tracker.Status()
	if status.Scenario != "lobby smoke" {
		t.Errorf("scenario = %s, want lobby smoke", status.Scenario)
	}
	if status.Done || status.Current != 0 {
		t.Fatalf("initial status = %+v, want current 0 and not done", status)
	}

	tracker.Observe(scenario.Step{Index: 0, Name: "create", Status: scenario.StatusPassed, Duration: 120 * time.Millisecond})
	status = tracker.Status()
	if status.Current != 1 {
		t.Fatalf("current = %d after first step, want 1", status.Current)
	}
	if status.Steps[0].Status != string(scenario.StatusPassed) {
		t.Errorf("step 0 status = %s, want PASSED", status.Steps[0].Status)
	}

	tracker.Observe(scenario.Step{Index: 1, Name: "join", Status: scenario.StatusFailed, Reason: "room full"})
	status = tracker.Status()
	if !status.Done || status.Current != -1 {
		t.Fatalf("final status = %+v, want done with current -1", status)
	}
	if status.Steps[1].Reason != "room full" {
		t.Errorf("step 1 reason = %q, want %q", status.Steps[1].Reason, "room full")
	}
}

func TestAdvanceHandlerReleasesGate(t *testing.T) {
	tracker := NewTracker(trackedPlan())
	advancer := orchestrator.NewChannelAdvancer()
	handler := AdvanceHandler(tracker, advancer)

	_, result, err := handler(context.Background(), nil, AdvanceInput{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.Released != 0 || result.Done {
		t.Fatalf("result = %+v, want released step 0", result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := advancer.Advance(ctx, scenario.Step{}); err != nil {
		t.Fatalf("gate was not released: %v", err)
	}
}

func TestAdvanceHandlerAfterRunDone(t *testing.T) {
	tracker := NewTracker(trackedPlan())
	tracker.Observe(scenario.Step{Index: 0, Status: scenario.StatusPassed})
	tracker.Observe(scenario.Step{Index: 1, Status: scenario.StatusSkipped})

	advancer := orchestrator.NewChannelAdvancer()
	_, result, err := AdvanceHandler(tracker, advancer)(context.Background(), nil, AdvanceInput{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !result.Done || result.Released != -1 {
		t.Fatalf("result = %+v, want done with no release", result)
	}
}

func TestLastReportHandler(t *testing.T) {
	tracker := NewTracker(trackedPlan())
	handler := LastReportHandler(tracker)

	if _, _, err := handler(context.Background(), nil, LastReportInput{}); err == nil {
		t.Fatal("last_report returned a report before the run finished")
	}

	tracker.SetReport(&report.Report{RunID: "run-1", Scenario: "lobby smoke"})
	_, out, err := handler(context.Background(), nil, LastReportInput{})
	if err != nil {
		t.Fatalf("last_report: %v", err)
	}
	if out.RunID != "run-1" {
		t.Errorf("run id = %s, want run-1", out.RunID)
	}
}

func TestRunStatusHandler(t *testing.T) {
	tracker := NewTracker(trackedPlan())
	_, status, err := RunStatusHandler(tracker)(context.Background(), nil, RunStatusInput{})
	if err != nil {
		t.Fatalf("run_status: %v", err)
	}
	if len(status.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(status.Steps))
	}
}
