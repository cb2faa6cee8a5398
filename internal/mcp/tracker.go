package mcp

import (
	"sync"

	"github.com/louisbranch/ensemble/internal/report"
	"github.com/louisbranch/ensemble/internal/scenario"
)

// StepStatus is one step's position in the run as seen by operators.
type StepStatus struct {
	Index   int     `json:"index" jsonschema:"zero-based step index"`
	Name    string  `json:"name" jsonschema:"step name"`
	Status  string  `json:"status" jsonschema:"PENDING, RUNNING, PASSED, FAILED or SKIPPED"`
	Reason  string  `json:"reason,omitempty" jsonschema:"failure cause when status is FAILED"`
	Elapsed float64 `json:"elapsed_seconds,omitempty" jsonschema:"step duration in seconds"`
}

// RunStatus is the operator-facing snapshot of the run.
type RunStatus struct {
	Scenario string       `json:"scenario" jsonschema:"scenario name"`
	Current  int          `json:"current" jsonschema:"index of the next step to run, -1 when the run is over"`
	Steps    []StepStatus `json:"steps" jsonschema:"per-step statuses in order"`
	Done     bool         `json:"done" jsonschema:"whether every step reached a terminal status"`
}

// Tracker mirrors run progress for the control surface. The orchestrator
// feeds it through its step observer; tools read consistent snapshots.
type Tracker struct {
	mu       sync.Mutex
	scenario string
	steps    []StepStatus
	report   *report.Report
}

// NewTracker seeds a tracker with the plan's steps, all pending.
func NewTracker(plan *scenario.Plan) *Tracker {
	t := &Tracker{scenario: plan.Name, steps: make([]StepStatus, len(plan.Steps))}
	for i, step := range plan.Steps {
		t.steps[i] = StepStatus{Index: step.Index, Name: step.Name, Status: string(scenario.StatusPending)}
	}
	return t
}

// Observe records one step reaching a terminal status. It has the
// orchestrator's step observer signature.
func (t *Tracker) Observe(step scenario.Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if step.Index < 0 || step.Index >= len(t.steps) {
		return
	}
	t.steps[step.Index] = StepStatus{
		Index:   step.Index,
		Name:    step.Name,
		Status:  string(step.Status),
		Reason:  step.Reason,
		Elapsed: step.Duration.Seconds(),
	}
}

// SetReport publishes the finished run's report to the last_report tool.
func (t *Tracker) SetReport(r *report.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report = r
}

// Status returns a copy of the current run state.
func (t *Tracker) Status() RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := RunStatus{
		Scenario: t.scenario,
		Current:  -1,
		Steps:    append([]StepStatus(nil), t.steps...),
		Done:     true,
	}
	for _, step := range out.Steps {
		if step.Status == string(scenario.StatusPending) || step.Status == string(scenario.StatusRunning) {
			out.Done = false
			out.Current = step.Index
			break
		}
	}
	return out
}

// Report returns the published report, or nil while the run is in flight.
func (t *Tracker) Report() *report.Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}
