// Package scenario defines the declarative test plan model: an ordered
// sequence of steps, each pairing one action with the validations that must
// hold for the step to pass. Plans are loaded from Lua or YAML scenario
// files and validated before a run starts.
package scenario

import (
	"fmt"
	"time"

	"github.com/louisbranch/ensemble/internal/errors"
)

// Status is the lifecycle state of one step.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Step is one entry of a plan: an action plus the conjunction of
// validations that must hold for the step to pass.
type Step struct {
	Index       int
	Name        string
	Description string
	Action      Action
	Validations []Validation

	Status   Status
	Reason   string // failure cause when Status is FAILED
	Duration time.Duration
}

// Transition moves the step to a new status, enforcing the lifecycle
// table: PENDING→RUNNING→{PASSED|FAILED}, PENDING→SKIPPED. Terminal
// statuses never change again.
func (s *Step) Transition(to Status) error {
	from := s.Status
	ok := false
	switch to {
	case StatusRunning:
		ok = from == StatusPending
	case StatusPassed, StatusFailed:
		ok = from == StatusRunning
	case StatusSkipped:
		ok = from == StatusPending
	}
	if !ok {
		return fmt.Errorf("step %d: invalid status transition %s -> %s", s.Index, from, to)
	}
	s.Status = to
	return nil
}

// Plan is an ordered, immutable-once-running sequence of steps with the
// client roster they drive.
type Plan struct {
	Name    string
	Clients []string
	Steps   []*Step
}

// Validate rejects malformed plans before run start.
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return errors.New(errors.CodeScenarioInvalid, "plan has no steps")
	}
	if len(p.Clients) == 0 {
		return errors.New(errors.CodeScenarioInvalid, "plan declares no clients")
	}

	declared := make(map[string]bool, len(p.Clients))
	for _, name := range p.Clients {
		if name == "" {
			return errors.New(errors.CodeScenarioInvalid, "client name is required")
		}
		if declared[name] {
			return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("duplicate client %q", name))
		}
		declared[name] = true
	}

	for i, step := range p.Steps {
		if step.Index != i {
			return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("step %q: index %d out of order", step.Name, step.Index))
		}
		if step.Status != StatusPending {
			return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("step %d: status %s is not pending", i, step.Status))
		}
		if err := step.Action.validate(declared); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}
		if step.Action.Kind != ActionWait && len(step.Validations) == 0 {
			return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("step %d (%s): at least one validation is required", i, step.Name))
		}
		for _, v := range step.Validations {
			if err := v.validate(declared); err != nil {
				return fmt.Errorf("step %d (%s): %w", i, step.Name, err)
			}
		}
	}
	return nil
}

// Clone returns a fresh run instance of the plan with every step reset to
// PENDING. Re-running always clones; step state never leaks across runs.
func (p *Plan) Clone() *Plan {
	clone := &Plan{
		Name:    p.Name,
		Clients: append([]string(nil), p.Clients...),
	}
	clone.Steps = make([]*Step, len(p.Steps))
	for i, step := range p.Steps {
		copied := *step
		copied.Status = StatusPending
		copied.Reason = ""
		copied.Duration = 0
		copied.Validations = append([]Validation(nil), step.Validations...)
		clone.Steps[i] = &copied
	}
	return clone
}

// requireUniqueClients rejects client sets naming the same client twice: a
// duplicate would dispatch the operation twice for one declared participant.
func requireUniqueClients(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("client %q appears more than once in the set", name))
		}
		seen[name] = true
	}
	return nil
}

func requireClient(declared map[string]bool, name string) error {
	if name == "" {
		return errors.New(errors.CodeScenarioInvalid, "client reference is required")
	}
	if !declared[name] {
		return errors.WithMetadata(errors.CodeClientUndefined,
			fmt.Sprintf("client %q is not declared", name),
			map[string]string{"client": name})
	}
	return nil
}
