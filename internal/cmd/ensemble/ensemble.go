// Package ensemble wires the scenario runner command: scenario loading,
// client adaptors, orchestration, reporting and the optional MCP control
// surface.
package ensemble

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/mcp"
	"github.com/louisbranch/ensemble/internal/orchestrator"
	"github.com/louisbranch/ensemble/internal/platform/otel"
	"github.com/louisbranch/ensemble/internal/report"
	reportsqlite "github.com/louisbranch/ensemble/internal/report/sqlite"
	"github.com/louisbranch/ensemble/internal/scenario"
	"github.com/louisbranch/ensemble/internal/transport/ws"
)

// Config holds runner command configuration.
type Config struct {
	Scenario           string        `env:"ENSEMBLE_SCENARIO_FILE"`
	ServerURL          string        `env:"ENSEMBLE_SERVER_URL"          envDefault:"ws://localhost:8787/ws"`
	Mode               string        `env:"ENSEMBLE_MODE"                envDefault:"unattended"`
	PollInterval       time.Duration `env:"ENSEMBLE_POLL_INTERVAL"       envDefault:"250ms"`
	ValidationDeadline time.Duration `env:"ENSEMBLE_VALIDATION_DEADLINE" envDefault:"5s"`
	ActionTimeout      time.Duration `env:"ENSEMBLE_ACTION_TIMEOUT"      envDefault:"10s"`
	ContinueOnFailure  bool          `env:"ENSEMBLE_CONTINUE_ON_FAILURE"`
	SigningKey         string        `env:"ENSEMBLE_SIGNING_KEY,unset"`
	ReportJSON         string        `env:"ENSEMBLE_REPORT_JSON"`
	ReportCSV          string        `env:"ENSEMBLE_REPORT_CSV"`
	HistoryDB          string        `env:"ENSEMBLE_HISTORY_DB"`
	MCP                bool          `env:"ENSEMBLE_MCP"`
	Verbose            bool          `env:"ENSEMBLE_VERBOSE"`
}

// ParseConfig parses env then flags into a Config; flags win.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to scenario file (.lua, .yaml or .yml)")
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "room server websocket url")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "run mode: unattended or stepped")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "validation poll interval")
	fs.DurationVar(&cfg.ValidationDeadline, "validation-deadline", cfg.ValidationDeadline, "deadline for a step's validations to converge")
	fs.DurationVar(&cfg.ActionTimeout, "action-timeout", cfg.ActionTimeout, "deadline for a step's action fan-out")
	fs.BoolVar(&cfg.ContinueOnFailure, "continue-on-failure", cfg.ContinueOnFailure, "keep running steps after a failure")
	fs.StringVar(&cfg.ReportJSON, "report-out", cfg.ReportJSON, "write the run report JSON to this path")
	fs.StringVar(&cfg.ReportCSV, "report-csv", cfg.ReportCSV, "write the run report CSV to this path")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "sqlite path for run history")
	fs.BoolVar(&cfg.MCP, "mcp", cfg.MCP, "serve the stepped-mode MCP control surface on stdio")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the runner command.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Scenario == "" {
		return errors.New("scenario path is required")
	}

	plan, err := scenario.LoadFile(cfg.Scenario)
	if err != nil {
		return err
	}

	shutdown, err := otel.Setup(ctx, "ensemble")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	adaptors := make(map[string]client.Adaptor, len(plan.Clients))
	for _, name := range plan.Clients {
		adaptor, err := ws.New(ws.Config{
			URL:            cfg.ServerURL,
			Name:           name,
			SigningKey:     signingKey(cfg),
			RequestTimeout: cfg.ActionTimeout,
		})
		if err != nil {
			return fmt.Errorf("build adaptor for %s: %w", name, err)
		}
		adaptors[name] = adaptor
	}

	return runPlan(ctx, cfg, plan, adaptors, in, out, errOut)
}

func signingKey(cfg Config) []byte {
	if cfg.SigningKey == "" {
		return nil
	}
	return []byte(cfg.SigningKey)
}

// runPlan drives a loaded plan against pre-built adaptors. Run builds the
// websocket adaptors; tests inject fakes.
func runPlan(ctx context.Context, cfg Config, plan *scenario.Plan, adaptors map[string]client.Adaptor, in io.Reader, out io.Writer, errOut io.Writer) error {
	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return err
	}

	collector := report.NewCollector()
	orchCfg := orchestrator.Config{
		Mode:               mode,
		PollInterval:       cfg.PollInterval,
		ValidationDeadline: cfg.ValidationDeadline,
		ActionTimeout:      cfg.ActionTimeout,
		ContinueOnFailure:  cfg.ContinueOnFailure,
		Verbose:            cfg.Verbose,
		Logger:             log.New(errOut, "", 0),
		Collector:          collector,
	}

	var tracker *mcp.Tracker
	var mcpDone chan error
	if mode == orchestrator.ModeStepped {
		if cfg.MCP {
			advancer := orchestrator.NewChannelAdvancer()
			tracker = mcp.NewTracker(plan)
			orchCfg.Advancer = advancer
			orchCfg.Observer = tracker.Observe

			mcpCtx, stopMCP := context.WithCancel(ctx)
			defer stopMCP()
			mcpDone = make(chan error, 1)
			control := mcp.New(tracker, advancer)
			go func() { mcpDone <- control.Run(mcpCtx) }()
		} else {
			if in == nil {
				return errors.New("stepped mode needs an input stream to advance on")
			}
			orchCfg.Advancer = orchestrator.NewReaderAdvancer(in, errOut)
		}
	}

	started := time.Now()
	run, runErr := orchestrator.New(orchCfg).Run(ctx, plan, adaptors)
	if run == nil {
		return runErr
	}

	result, err := report.Build(run, collector, started)
	if err != nil {
		return err
	}
	if tracker != nil {
		tracker.SetReport(result)
	}

	printSummary(out, result)

	if cfg.ReportJSON != "" {
		if err := report.WriteJSONFile(cfg.ReportJSON, result); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
	}
	if cfg.ReportCSV != "" {
		if err := report.WriteCSVFile(cfg.ReportCSV, result); err != nil {
			return fmt.Errorf("write csv report: %w", err)
		}
	}
	if cfg.HistoryDB != "" {
		if err := saveHistory(ctx, cfg.HistoryDB, result); err != nil {
			return err
		}
	}

	// With the control surface up, hold the process until the operator
	// disconnects so last_report stays reachable.
	if mcpDone != nil && runErr == nil {
		if err := <-mcpDone; err != nil {
			fmt.Fprintf(errOut, "mcp server: %v\n", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if result.Failed() {
		return fmt.Errorf("%d of %d steps failed", result.Totals.Failed, result.Totals.Steps)
	}
	return nil
}

func parseMode(value string) (orchestrator.Mode, error) {
	switch orchestrator.Mode(value) {
	case orchestrator.ModeUnattended:
		return orchestrator.ModeUnattended, nil
	case orchestrator.ModeStepped:
		return orchestrator.ModeStepped, nil
	}
	return "", fmt.Errorf("mode %q is not supported", value)
}

func saveHistory(ctx context.Context, path string, result *report.Report) error {
	store, err := reportsqlite.Open(path)
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer store.Close()
	if err := store.SaveReport(ctx, result); err != nil {
		return fmt.Errorf("save run history: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, result *report.Report) {
	fmt.Fprintf(out, "scenario %s (run %s)\n", result.Scenario, result.RunID)
	for _, step := range result.Steps {
		fmt.Fprintf(out, "- step %d %s: %s (%.3fs)\n", step.Index+1, step.Name, step.Status, step.ElapsedSeconds)
		if step.Reason != "" {
			fmt.Fprintf(out, "    %s\n", step.Reason)
		}
	}
	fmt.Fprintf(out, "%d passed, %d failed, %d skipped of %d steps in %.3fs\n",
		result.Totals.Passed,
		result.Totals.Failed,
		result.Totals.Skipped,
		result.Totals.Steps,
		result.ElapsedSeconds,
	)
}
