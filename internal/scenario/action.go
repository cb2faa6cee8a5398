package scenario

import (
	"fmt"
	"time"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
)

// ActionKind discriminates the closed set of step actions.
type ActionKind string

const (
	ActionCreateRoom ActionKind = "create_room"
	ActionJoinRoom   ActionKind = "join_room"
	ActionBulkJoin   ActionKind = "bulk_join"
	ActionMove       ActionKind = "move"
	ActionDisconnect ActionKind = "disconnect"
	ActionReconnect  ActionKind = "reconnect"
	ActionWait       ActionKind = "wait"
)

// Action is a tagged variant over the supported step actions. Only the
// fields relevant to Kind are set; dispatch switches exhaustively on Kind.
//
// Rooms are referenced by alias, not join code: the code only exists once a
// CreateRoom action has run, so the run binds each alias to the code it
// observes at runtime.
type Action struct {
	Kind ActionKind

	Client  string   // single-participant actions
	Clients []string // move and bulk_join sets

	Room      string           // room alias
	Direction client.Direction // move
	Hold      time.Duration    // move: how long the input is held
	Wait      time.Duration    // wait
}

// Participants returns the client names the action touches, in declared
// order. Wait touches none.
func (a Action) Participants() []string {
	switch a.Kind {
	case ActionMove, ActionBulkJoin:
		return a.Clients
	case ActionWait:
		return nil
	default:
		return []string{a.Client}
	}
}

// Concurrent reports whether the action's participants are driven as
// independent concurrent operations. Movement and bulk joins fan out;
// single-client actions are trivially sequential.
func (a Action) Concurrent() bool {
	switch a.Kind {
	case ActionMove, ActionBulkJoin:
		return len(a.Clients) > 1
	}
	return false
}

// String returns a short human-readable label for logs and reports.
func (a Action) String() string {
	switch a.Kind {
	case ActionCreateRoom:
		return fmt.Sprintf("create_room(%s)", a.Client)
	case ActionJoinRoom:
		return fmt.Sprintf("join_room(%s, %s)", a.Client, a.Room)
	case ActionBulkJoin:
		return fmt.Sprintf("bulk_join(%d clients, %s)", len(a.Clients), a.Room)
	case ActionMove:
		return fmt.Sprintf("move(%d clients, %s, %s)", len(a.Participants()), a.Direction, a.Hold)
	case ActionDisconnect:
		return fmt.Sprintf("disconnect(%s)", a.Client)
	case ActionReconnect:
		return fmt.Sprintf("reconnect(%s)", a.Client)
	case ActionWait:
		return fmt.Sprintf("wait(%s)", a.Wait)
	}
	return string(a.Kind)
}

func (a Action) validate(declared map[string]bool) error {
	switch a.Kind {
	case ActionCreateRoom:
		if err := requireClient(declared, a.Client); err != nil {
			return err
		}
		if a.Room == "" {
			return errors.New(errors.CodeScenarioInvalid, "create_room requires a room alias")
		}
	case ActionJoinRoom:
		if err := requireClient(declared, a.Client); err != nil {
			return err
		}
		if a.Room == "" {
			return errors.New(errors.CodeScenarioInvalid, "join_room requires a room alias")
		}
	case ActionBulkJoin:
		if len(a.Clients) == 0 {
			return errors.New(errors.CodeScenarioInvalid, "bulk_join requires a client set")
		}
		if err := requireUniqueClients(a.Clients); err != nil {
			return err
		}
		for _, name := range a.Clients {
			if err := requireClient(declared, name); err != nil {
				return err
			}
		}
		if a.Room == "" {
			return errors.New(errors.CodeScenarioInvalid, "bulk_join requires a room alias")
		}
	case ActionMove:
		if len(a.Clients) == 0 {
			return errors.New(errors.CodeScenarioInvalid, "move requires a client set")
		}
		if err := requireUniqueClients(a.Clients); err != nil {
			return err
		}
		for _, name := range a.Clients {
			if err := requireClient(declared, name); err != nil {
				return err
			}
		}
		if _, err := client.ParseDirection(string(a.Direction)); err != nil {
			return errors.Wrap(errors.CodeScenarioInvalid, "move direction is invalid", err)
		}
		if a.Hold <= 0 {
			return errors.New(errors.CodeScenarioInvalid, "move hold duration must be positive")
		}
	case ActionDisconnect, ActionReconnect:
		if err := requireClient(declared, a.Client); err != nil {
			return err
		}
	case ActionWait:
		if a.Wait <= 0 {
			return errors.New(errors.CodeScenarioInvalid, "wait duration must be positive")
		}
	default:
		return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("unknown action kind %q", a.Kind))
	}
	return nil
}
