package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
	"github.com/louisbranch/ensemble/internal/scenario"
)

// executor performs one step's action against the run's adaptors. Concurrent
// actions fan out as one goroutine per participant joined at a barrier with a
// timeout; completed participants' effects are never rolled back, and
// in-flight operations are left to finish naturally even when the barrier
// gives up on them.
type executor struct {
	adaptors map[string]client.Adaptor
	state    *runState
	timeout  time.Duration
}

func (e *executor) execute(ctx context.Context, action scenario.Action) error {
	switch action.Kind {
	case scenario.ActionCreateRoom:
		return e.barrier(ctx, []string{action.Client}, func(ctx context.Context, name string) error {
			adaptor, err := e.connected(ctx, name)
			if err != nil {
				return err
			}
			code, err := adaptor.CreateRoom(ctx)
			if err != nil {
				return err
			}
			e.state.bindRoom(action.Room, code)
			return nil
		})
	case scenario.ActionJoinRoom, scenario.ActionBulkJoin:
		code, err := e.state.roomCode(action.Room)
		if err != nil {
			return err
		}
		return e.barrier(ctx, action.Participants(), func(ctx context.Context, name string) error {
			adaptor, err := e.connected(ctx, name)
			if err != nil {
				return err
			}
			return adaptor.Join(ctx, code)
		})
	case scenario.ActionMove:
		return e.barrier(ctx, action.Participants(), func(ctx context.Context, name string) error {
			adaptor, ok := e.adaptors[name]
			if !ok {
				return errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", name))
			}
			return adaptor.Move(ctx, action.Direction, action.Hold)
		})
	case scenario.ActionDisconnect:
		return e.barrier(ctx, []string{action.Client}, func(ctx context.Context, name string) error {
			adaptor, ok := e.adaptors[name]
			if !ok {
				return errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", name))
			}
			return adaptor.Disconnect(ctx)
		})
	case scenario.ActionReconnect:
		return e.barrier(ctx, []string{action.Client}, func(ctx context.Context, name string) error {
			adaptor, ok := e.adaptors[name]
			if !ok {
				return errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", name))
			}
			return adaptor.Reconnect(ctx)
		})
	case scenario.ActionWait:
		return sleep(ctx, action.Wait)
	}
	return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("unknown action kind %q", action.Kind))
}

// connected returns the adaptor for name, establishing its transport session
// on first use.
func (e *executor) connected(ctx context.Context, name string) (client.Adaptor, error) {
	adaptor, ok := e.adaptors[name]
	if !ok {
		return nil, errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", name))
	}
	if !adaptor.Snapshot().Connected {
		if err := adaptor.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return adaptor, nil
}

type participantResult struct {
	name string
	err  error
}

// barrier dispatches op once per participant and waits for all completions
// or the action timeout, whichever comes first. The operation context is the
// step context, not the barrier timer: stragglers are reported, not
// cancelled.
func (e *executor) barrier(ctx context.Context, names []string, op func(context.Context, string) error) error {
	results := make(chan participantResult, len(names))
	for _, name := range names {
		name := name
		go func() {
			results <- participantResult{name: name, err: op(ctx, name)}
		}()
	}

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	// Completion is counted per dispatched operation, not per distinct name:
	// a set naming the same client twice owes two results.
	pending := make(map[string]int, len(names))
	for _, name := range names {
		pending[name]++
	}

	outstanding := len(names)
	var failures []participantResult
	for outstanding > 0 {
		select {
		case result := <-results:
			outstanding--
			if pending[result.name]--; pending[result.name] <= 0 {
				delete(pending, result.name)
			}
			if result.err != nil {
				failures = append(failures, result)
			}
		case <-timer.C:
			stragglers := sortedNames(pending)
			return errors.WithMetadata(errors.CodeActionTimeout,
				fmt.Sprintf("participants did not complete within %s: %s", e.timeout, strings.Join(stragglers, ", ")),
				map[string]string{"stragglers": strings.Join(stragglers, ",")})
		case <-ctx.Done():
			stragglers := sortedNames(pending)
			return errors.Wrap(errors.CodeActionTimeout,
				fmt.Sprintf("run cancelled with participants outstanding: %s", strings.Join(stragglers, ", ")),
				ctx.Err())
		}
	}

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].name < failures[j].name })
		details := make([]string, 0, len(failures))
		for _, failure := range failures {
			details = append(details, fmt.Sprintf("client %s: %v", failure.name, failure.err))
		}
		first := failures[0]
		return errors.Wrap(errors.GetCode(first.err), strings.Join(details, "; "), first.err)
	}
	return nil
}

func sortedNames(set map[string]int) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
