// Package report turns an executed scenario plan and its timing samples into
// an immutable run report with JSON and CSV renderings.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/louisbranch/ensemble/internal/platform/id"
	"github.com/louisbranch/ensemble/internal/scenario"
)

// StepResult is one step's outcome in a finished run.
type StepResult struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Action         string  `json:"action"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Reason         string  `json:"reason,omitempty"`
}

// Totals counts steps per terminal status.
type Totals struct {
	Steps   int `json:"steps"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Report is the immutable record of one run.
type Report struct {
	RunID          string          `json:"run_id"`
	Scenario       string          `json:"scenario"`
	GeneratedAtUTC string          `json:"generated_at_utc"`
	StartedAtUTC   string          `json:"started_at_utc"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
	Totals         Totals          `json:"totals"`
	Steps          []StepResult    `json:"steps"`
	Metrics        []SeriesSummary `json:"metrics,omitempty"`
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	return r.Totals.Failed > 0
}

// Failures returns the failure causes in step order.
func (r *Report) Failures() []string {
	var causes []string
	for _, step := range r.Steps {
		if step.Status == string(scenario.StatusFailed) {
			causes = append(causes, fmt.Sprintf("step %d (%s): %s", step.Index+1, step.Name, step.Reason))
		}
	}
	return causes
}

// Build assembles a report from an executed plan. collector may be nil when
// no metrics were recorded.
func Build(plan *scenario.Plan, collector *Collector, startedAt time.Time) (*Report, error) {
	runID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	now := time.Now().UTC()
	out := &Report{
		RunID:          runID,
		Scenario:       plan.Name,
		GeneratedAtUTC: now.Format(time.RFC3339),
		StartedAtUTC:   startedAt.UTC().Format(time.RFC3339),
		ElapsedSeconds: now.Sub(startedAt.UTC()).Seconds(),
		Steps:          make([]StepResult, 0, len(plan.Steps)),
	}

	for _, step := range plan.Steps {
		out.Steps = append(out.Steps, StepResult{
			Index:          step.Index,
			Name:           step.Name,
			Action:         string(step.Action.Kind),
			Status:         string(step.Status),
			ElapsedSeconds: step.Duration.Seconds(),
			Reason:         step.Reason,
		})
		out.Totals.Steps++
		switch step.Status {
		case scenario.StatusPassed:
			out.Totals.Passed++
		case scenario.StatusFailed:
			out.Totals.Failed++
		case scenario.StatusSkipped:
			out.Totals.Skipped++
		}
	}

	if collector != nil {
		out.Metrics = collector.Summary()
	}
	return out, nil
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteCSV renders one row per step with the run totals repeated.
func WriteCSV(w io.Writer, r *Report) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{
		"run_id",
		"scenario",
		"step_index",
		"step_name",
		"action",
		"status",
		"elapsed_seconds",
		"reason",
	}); err != nil {
		return err
	}
	for _, step := range r.Steps {
		if err := writer.Write([]string{
			r.RunID,
			r.Scenario,
			fmt.Sprintf("%d", step.Index),
			step.Name,
			step.Action,
			step.Status,
			fmt.Sprintf("%.3f", step.ElapsedSeconds),
			step.Reason,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteJSONFile writes the JSON rendering to path.
func WriteJSONFile(path string, r *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := WriteJSON(file, r); err != nil {
		return err
	}
	return file.Close()
}

// WriteCSVFile writes the CSV rendering to path.
func WriteCSVFile(path string, r *Report) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := WriteCSV(file, r); err != nil {
		return err
	}
	return file.Close()
}
