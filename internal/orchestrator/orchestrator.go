// Package orchestrator drives a scenario plan against a set of client
// adaptors. It owns step lifecycle, concurrent action fan-out and the
// eventual-consistency validation loop; everything it learns about the run
// lands back on the executed plan's steps.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
	"github.com/louisbranch/ensemble/internal/scenario"
)

// Collector receives timing samples from a run. Implementations must be safe
// for concurrent use.
type Collector interface {
	ObserveStepDuration(step string, d time.Duration)
	ObserveActionLatency(kind string, d time.Duration)
	ObserveValidationWait(step string, d time.Duration)
}

type nopCollector struct{}

func (nopCollector) ObserveStepDuration(string, time.Duration)   {}
func (nopCollector) ObserveActionLatency(string, time.Duration)  {}
func (nopCollector) ObserveValidationWait(string, time.Duration) {}

// Config controls run execution.
type Config struct {
	Mode               Mode
	PollInterval       time.Duration
	ValidationDeadline time.Duration
	ActionTimeout      time.Duration
	ContinueOnFailure  bool
	Verbose            bool
	Logger             *log.Logger
	Collector          Collector
	Advancer           Advancer

	// Observer, when set, is called with a copy of each step as it reaches a
	// terminal status.
	Observer func(scenario.Step)
}

// DefaultConfig returns default run configuration.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeUnattended,
		PollInterval:       250 * time.Millisecond,
		ValidationDeadline: 5 * time.Second,
		ActionTimeout:      10 * time.Second,
	}
}

// Orchestrator executes scenario plans.
type Orchestrator struct {
	cfg       Config
	logger    *log.Logger
	collector Collector
	advancer  Advancer
	observer  func(scenario.Step)
}

// New builds an Orchestrator, filling zero config fields with defaults.
func New(cfg Config) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ValidationDeadline <= 0 {
		cfg.ValidationDeadline = defaults.ValidationDeadline
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaults.ActionTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	collector := cfg.Collector
	if collector == nil {
		collector = nopCollector{}
	}
	advancer := cfg.Advancer
	if advancer == nil {
		advancer = AutoAdvancer{}
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		advancer:  advancer,
		observer:  cfg.Observer,
	}
}

// Run executes the plan against the given adaptors. The input plan is not
// mutated; the returned clone carries final statuses, durations and failure
// reasons. Run returns an error only when the run itself could not proceed;
// step failures are reported through step statuses.
func (o *Orchestrator) Run(ctx context.Context, plan *scenario.Plan, adaptors map[string]client.Adaptor) (*scenario.Plan, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	for _, name := range plan.Clients {
		if _, ok := adaptors[name]; !ok {
			return nil, errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", name))
		}
	}

	run := plan.Clone()
	state := newRunState()
	exec := &executor{adaptors: adaptors, state: state, timeout: o.cfg.ActionTimeout}
	check := &validator{adaptors: adaptors, state: state, interval: o.cfg.PollInterval, deadline: o.cfg.ValidationDeadline}

	tracer := otel.Tracer("ensemble/orchestrator")
	ctx, span := tracer.Start(ctx, "scenario.run")
	span.SetAttributes(
		attribute.String("scenario.name", run.Name),
		attribute.Int("scenario.steps", len(run.Steps)),
	)
	defer span.End()

	o.logf("run start: %s (%d steps, %d clients)", run.Name, len(run.Steps), len(run.Clients))

	failed := false
	for _, step := range run.Steps {
		if failed && !o.cfg.ContinueOnFailure {
			o.finish(step, scenario.StatusSkipped, "")
			continue
		}
		if ctx.Err() != nil {
			o.finish(step, scenario.StatusSkipped, "")
			continue
		}

		// Stepped mode suspends after a step resolves, before dispatching the
		// next one; the first step always dispatches unprompted.
		if o.cfg.Mode == ModeStepped && step.Index > 0 {
			if err := o.advancer.Advance(ctx, *step); err != nil {
				o.finish(step, scenario.StatusSkipped, "")
				continue
			}
		}

		if err := step.Transition(scenario.StatusRunning); err != nil {
			return run, err
		}
		o.logf("step %d/%d start: %s", step.Index+1, len(run.Steps), step.Name)

		stepCtx, stepSpan := tracer.Start(ctx, "scenario.step")
		stepSpan.SetAttributes(
			attribute.Int("step.index", step.Index),
			attribute.String("step.name", step.Name),
			attribute.String("step.action", string(step.Action.Kind)),
		)

		start := time.Now()
		err := o.runStep(stepCtx, exec, check, step)
		step.Duration = time.Since(start)
		o.collector.ObserveStepDuration(step.Name, step.Duration)

		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, string(errors.GetCode(err)))
			stepSpan.End()
			o.finish(step, scenario.StatusFailed, err.Error())
			o.logf("step %d/%d failed: %s (%s): %v", step.Index+1, len(run.Steps), step.Name, step.Duration, err)
			failed = true
			continue
		}
		stepSpan.End()
		o.finish(step, scenario.StatusPassed, "")
		o.logf("step %d/%d done: %s (%s)", step.Index+1, len(run.Steps), step.Name, step.Duration)
	}

	o.logf("run done: %s", run.Name)
	if ctx.Err() != nil {
		return run, ctx.Err()
	}
	return run, nil
}

func (o *Orchestrator) runStep(ctx context.Context, exec *executor, check *validator, step *scenario.Step) error {
	actionStart := time.Now()
	if err := exec.execute(ctx, step.Action); err != nil {
		return err
	}
	o.collector.ObserveActionLatency(string(step.Action.Kind), time.Since(actionStart))

	if len(step.Validations) == 0 {
		return nil
	}
	waitStart := time.Now()
	err := check.checkAll(ctx, step.Validations)
	o.collector.ObserveValidationWait(step.Name, time.Since(waitStart))
	return err
}

func (o *Orchestrator) finish(step *scenario.Step, status scenario.Status, reason string) {
	step.Reason = reason
	// Transition only rejects programming errors here; the lifecycle table
	// admits every terminal move this loop makes.
	_ = step.Transition(status)
	if o.observer != nil {
		o.observer(*step)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if !o.cfg.Verbose || o.logger == nil {
		return
	}
	o.logger.Printf(format, args...)
}
