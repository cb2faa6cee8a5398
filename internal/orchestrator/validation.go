package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
	"github.com/louisbranch/ensemble/internal/scenario"
)

// validator polls a step's validation conjunction against the participants'
// room views until every predicate holds or the deadline passes. Individual
// predicates are allowed to observe stale replicas; only the deadline turns
// staleness into failure.
type validator struct {
	adaptors map[string]client.Adaptor
	state    *runState
	interval time.Duration
	deadline time.Duration
}

// checkResult carries one evaluation outcome. observed holds the last state
// seen for an unsatisfied predicate so that timeouts can report expected
// versus observed.
type checkResult struct {
	ok       bool
	observed string
}

// checkAll evaluates the conjunction repeatedly at the poll interval. On
// deadline it reports the first unsatisfied validation in declaration order
// together with the last observed state.
func (v *validator) checkAll(ctx context.Context, validations []scenario.Validation) error {
	ctx, cancel := context.WithTimeout(ctx, v.deadline)
	defer cancel()

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	var unsatisfied *scenario.Validation
	var lastObserved string
	for {
		unsatisfied = nil
		for i := range validations {
			result, err := v.evaluate(ctx, validations[i])
			if err != nil {
				if ctx.Err() != nil && unsatisfiedOnCancel(err) {
					return v.timeoutError(&validations[i], "observation interrupted by deadline")
				}
				return err
			}
			if !result.ok {
				unsatisfied = &validations[i]
				lastObserved = result.observed
				break
			}
		}
		if unsatisfied == nil {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return v.timeoutError(unsatisfied, lastObserved)
		}
	}
}

func (v *validator) timeoutError(unsatisfied *scenario.Validation, observed string) error {
	return errors.WithMetadata(errors.CodeValidationTimeout,
		fmt.Sprintf("%s unsatisfied after %s; last observed: %s", unsatisfied, v.deadline, observed),
		map[string]string{
			"validation": unsatisfied.String(),
			"observed":   observed,
		})
}

// unsatisfiedOnCancel reports whether err is a context error rather than a
// domain failure, meaning the poll deadline interrupted a view query.
func unsatisfiedOnCancel(err error) bool {
	return errors.GetCode(err) == errors.CodeUnknown
}

func (v *validator) evaluate(ctx context.Context, validation scenario.Validation) (checkResult, error) {
	switch validation.Kind {
	case scenario.ValidationMemberCount:
		return v.evaluateMemberCount(ctx, validation)
	case scenario.ValidationMemberVisible:
		return v.evaluateMemberVisible(ctx, validation)
	case scenario.ValidationPositionNear:
		return v.evaluatePositionNear(ctx, validation)
	case scenario.ValidationRoomExists:
		return v.evaluateRoomPresence(ctx, validation, true)
	case scenario.ValidationRoomAbsent:
		return v.evaluateRoomPresence(ctx, validation, false)
	case scenario.ValidationConnectionState:
		return v.evaluateConnectionState(ctx, validation)
	}
	return checkResult{}, errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("unknown validation kind %q", validation.Kind))
}

// observers resolves the set of views the validation must agree across. An
// explicit observer resolves to that single client; otherwise every declared
// client that is a connected member of the room observes.
func (v *validator) observers(code, observer string) (map[string]client.RoomView, error) {
	if observer != "" {
		adaptor, ok := v.adaptors[observer]
		if !ok {
			return nil, errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", observer))
		}
		return map[string]client.RoomView{observer: adaptor.View()}, nil
	}

	views := make(map[string]client.RoomView)
	for name, adaptor := range v.adaptors {
		session := adaptor.Snapshot()
		if session.Room == code && session.Connected {
			views[name] = adaptor.View()
		}
	}
	return views, nil
}

func (v *validator) evaluateMemberCount(ctx context.Context, validation scenario.Validation) (checkResult, error) {
	code, err := v.state.roomCode(validation.Room)
	if err != nil {
		return checkResult{}, err
	}
	views, err := v.observers(code, validation.Observer)
	if err != nil {
		return checkResult{}, err
	}
	if len(views) == 0 {
		return checkResult{observed: fmt.Sprintf("no connected member observes room %s", validation.Room)}, nil
	}
	for _, name := range sortedViewNames(views) {
		members, err := views[name].Members(ctx, code)
		if err != nil {
			return v.staleQuery(ctx, name, err)
		}
		if len(members) != validation.Count {
			return checkResult{observed: fmt.Sprintf("%s sees %d members, want %d", name, len(members), validation.Count)}, nil
		}
	}
	return checkResult{ok: true}, nil
}

func (v *validator) evaluateMemberVisible(ctx context.Context, validation scenario.Validation) (checkResult, error) {
	code, err := v.state.roomCode(validation.Room)
	if err != nil {
		return checkResult{}, err
	}
	views, err := v.observers(code, validation.Observer)
	if err != nil {
		return checkResult{}, err
	}
	if len(views) == 0 {
		return checkResult{observed: fmt.Sprintf("no connected member observes room %s", validation.Room)}, nil
	}
	for _, name := range sortedViewNames(views) {
		members, err := views[name].Members(ctx, code)
		if err != nil {
			return v.staleQuery(ctx, name, err)
		}
		if findMember(members, validation.Target) == nil {
			return checkResult{observed: fmt.Sprintf("%s does not see %s among %d members", name, validation.Target, len(members))}, nil
		}
	}
	return checkResult{ok: true}, nil
}

func (v *validator) evaluatePositionNear(ctx context.Context, validation scenario.Validation) (checkResult, error) {
	code, err := v.state.roomCode(validation.Room)
	if err != nil {
		return checkResult{}, err
	}
	views, err := v.observers(code, validation.Observer)
	if err != nil {
		return checkResult{}, err
	}
	if len(views) == 0 {
		return checkResult{observed: fmt.Sprintf("no connected member observes room %s", validation.Room)}, nil
	}
	for _, name := range sortedViewNames(views) {
		members, err := views[name].Members(ctx, code)
		if err != nil {
			return v.staleQuery(ctx, name, err)
		}
		member := findMember(members, validation.Target)
		if member == nil {
			return checkResult{observed: fmt.Sprintf("%s does not see %s", name, validation.Target)}, nil
		}
		distance := member.Position.DistanceTo(validation.Position)
		if distance > validation.Tolerance {
			return checkResult{observed: fmt.Sprintf("%s sees %s at (%.1f, %.1f), %.1f from expected (%.1f, %.1f)",
				name, validation.Target, member.Position.X, member.Position.Y, distance, validation.Position.X, validation.Position.Y)}, nil
		}
	}
	return checkResult{ok: true}, nil
}

func (v *validator) evaluateRoomPresence(ctx context.Context, validation scenario.Validation, want bool) (checkResult, error) {
	code, err := v.state.roomCode(validation.Room)
	if err != nil {
		return checkResult{}, err
	}
	views, err := v.observers(code, validation.Observer)
	if err != nil {
		return checkResult{}, err
	}
	if len(views) == 0 {
		// An absent room naturally has no member observers; fall back to any
		// declared client so the predicate stays checkable.
		for _, name := range sortedAdaptorNames(v.adaptors) {
			views[name] = v.adaptors[name].View()
			break
		}
	}
	if len(views) == 0 {
		return checkResult{observed: "no clients available to observe"}, nil
	}
	for _, name := range sortedViewNames(views) {
		exists, err := views[name].RoomExists(ctx, code)
		if err != nil {
			return v.staleQuery(ctx, name, err)
		}
		if exists != want {
			return checkResult{observed: fmt.Sprintf("%s sees room %s exists=%t, want %t", name, validation.Room, exists, want)}, nil
		}
	}
	return checkResult{ok: true}, nil
}

func (v *validator) evaluateConnectionState(ctx context.Context, validation scenario.Validation) (checkResult, error) {
	target, ok := v.adaptors[validation.Target]
	if !ok {
		return checkResult{}, errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", validation.Target))
	}

	if validation.Observer == "" {
		session := target.Snapshot()
		if session.Connected != validation.Connected {
			return checkResult{observed: fmt.Sprintf("%s connected=%t, want %t", validation.Target, session.Connected, validation.Connected)}, nil
		}
		return checkResult{ok: true}, nil
	}

	observer, ok := v.adaptors[validation.Observer]
	if !ok {
		return checkResult{}, errors.New(errors.CodeClientUndefined, fmt.Sprintf("no adaptor for client %q", validation.Observer))
	}
	code := observer.Snapshot().Room
	if code == "" {
		return checkResult{observed: fmt.Sprintf("%s is not in a room", validation.Observer)}, nil
	}
	members, err := observer.View().Members(ctx, code)
	if err != nil {
		return v.staleQuery(ctx, validation.Observer, err)
	}
	member := findMember(members, validation.Target)
	if member == nil {
		return checkResult{observed: fmt.Sprintf("%s does not see %s", validation.Observer, validation.Target)}, nil
	}
	if member.Connected != validation.Connected {
		return checkResult{observed: fmt.Sprintf("%s sees %s connected=%t, want %t", validation.Observer, validation.Target, member.Connected, validation.Connected)}, nil
	}
	return checkResult{ok: true}, nil
}

// staleQuery classifies a view query error. Retryable domain errors and
// not-found style races count as an unsatisfied observation to be re-polled;
// everything else aborts the check.
func (v *validator) staleQuery(ctx context.Context, observer string, err error) (checkResult, error) {
	if ctx.Err() != nil {
		return checkResult{}, err
	}
	code := errors.GetCode(err)
	if code.Retryable() || code == errors.CodeRoomNotFound || code == errors.CodeNotFound {
		return checkResult{observed: fmt.Sprintf("%s query failed: %v", observer, err)}, nil
	}
	return checkResult{}, err
}

func findMember(members []client.Session, name string) *client.Session {
	for i := range members {
		if members[i].Name == name {
			return &members[i]
		}
	}
	return nil
}

func sortedViewNames(views map[string]client.RoomView) []string {
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedAdaptorNames(adaptors map[string]client.Adaptor) []string {
	names := make([]string, 0, len(adaptors))
	for name := range adaptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
