package scenario

import (
	"fmt"

	"github.com/louisbranch/ensemble/internal/client"
	"github.com/louisbranch/ensemble/internal/errors"
)

// ValidationKind discriminates the closed set of step validations.
type ValidationKind string

const (
	ValidationMemberCount     ValidationKind = "member_count"
	ValidationMemberVisible   ValidationKind = "member_visible"
	ValidationPositionNear    ValidationKind = "position_near"
	ValidationRoomExists      ValidationKind = "room_exists"
	ValidationRoomAbsent      ValidationKind = "room_absent"
	ValidationConnectionState ValidationKind = "connection_state"
)

// Validation is a tagged variant over the supported predicates. A step's
// validations are evaluated as a conjunction; each is independently
// re-pollable against an observer's RoomView.
type Validation struct {
	Kind ValidationKind

	Room     string // room alias; required by every kind except connection_state
	Observer string // observing client; empty means every room member's view must agree

	Target    string          // member_visible target, position_near / connection_state subject
	Count     int             // member_count
	Position  client.Position // position_near
	Tolerance float64         // position_near: maximum absolute distance
	Connected bool            // connection_state
}

// String returns a short human-readable label for logs and failure causes.
func (v Validation) String() string {
	switch v.Kind {
	case ValidationMemberCount:
		return fmt.Sprintf("member_count(%s, %d)", v.Room, v.Count)
	case ValidationMemberVisible:
		return fmt.Sprintf("member_visible(%s sees %s)", v.Observer, v.Target)
	case ValidationPositionNear:
		return fmt.Sprintf("position_near(%s, (%.1f, %.1f), tol %.1f)", v.Target, v.Position.X, v.Position.Y, v.Tolerance)
	case ValidationRoomExists:
		return fmt.Sprintf("room_exists(%s)", v.Room)
	case ValidationRoomAbsent:
		return fmt.Sprintf("room_absent(%s)", v.Room)
	case ValidationConnectionState:
		return fmt.Sprintf("connection_state(%s, %t)", v.Target, v.Connected)
	}
	return string(v.Kind)
}

func (v Validation) validate(declared map[string]bool) error {
	requireRoom := func() error {
		if v.Room == "" {
			return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("%s requires a room alias", v.Kind))
		}
		return nil
	}

	switch v.Kind {
	case ValidationMemberCount:
		if err := requireRoom(); err != nil {
			return err
		}
		if v.Count < 0 {
			return errors.New(errors.CodeScenarioInvalid, "member_count expectation must not be negative")
		}
		if v.Observer != "" {
			return requireClient(declared, v.Observer)
		}
	case ValidationMemberVisible:
		if err := requireRoom(); err != nil {
			return err
		}
		if err := requireClient(declared, v.Observer); err != nil {
			return err
		}
		return requireClient(declared, v.Target)
	case ValidationPositionNear:
		if err := requireRoom(); err != nil {
			return err
		}
		if err := requireClient(declared, v.Target); err != nil {
			return err
		}
		if v.Tolerance <= 0 {
			return errors.New(errors.CodeScenarioInvalid, "position_near tolerance must be positive")
		}
		if v.Observer != "" {
			return requireClient(declared, v.Observer)
		}
	case ValidationRoomExists, ValidationRoomAbsent:
		if err := requireRoom(); err != nil {
			return err
		}
		if v.Observer != "" {
			return requireClient(declared, v.Observer)
		}
	case ValidationConnectionState:
		return requireClient(declared, v.Target)
	default:
		return errors.New(errors.CodeScenarioInvalid, fmt.Sprintf("unknown validation kind %q", v.Kind))
	}
	return nil
}
