// Package client defines the boundary between the orchestrator and one
// simulated participant of the external room application.
//
// An Adaptor owns exactly one participant session. The orchestrator never
// mutates session state directly; every mutation goes through an Adaptor
// operation which the implementation translates into calls against the
// external system. Reads come back as immutable Session snapshots.
package client

import (
	"context"
	"time"
)

// Adaptor drives one simulated participant session.
//
// Operations are synchronous at this boundary: implementations block until
// the external system acknowledges the call or ctx expires. Connect, Join
// and Reconnect fail with a CONNECTION_FAILED domain error when the external
// system refuses or times out; Move on a disconnected session fails with
// INVALID_STATE without touching the wire.
type Adaptor interface {
	// Connect establishes the participant's transport session.
	Connect(ctx context.Context) error

	// CreateRoom creates a new room and joins it as creator, returning the
	// join code.
	CreateRoom(ctx context.Context) (string, error)

	// Join joins the room identified by code.
	Join(ctx context.Context, code string) error

	// Move holds a directional input for the given duration. The authoritative
	// position advances server-side; the local session catches up via
	// replication.
	Move(ctx context.Context, dir Direction, hold time.Duration) error

	// Disconnect tears down the transport session. The participant stays a
	// room member with its connection flag lowered, per the room lifecycle
	// policy.
	Disconnect(ctx context.Context) error

	// Reconnect re-establishes the transport session for a previously
	// disconnected participant.
	Reconnect(ctx context.Context) error

	// Snapshot returns a copy of the locally observed session state.
	Snapshot() Session

	// View returns this participant's observer-relative view of replicated
	// room state.
	View() RoomView
}

// RoomView is a read-only query surface over the replicated room state as
// observed by one participant. It has no side effects and is intentionally
// allowed to return stale data; callers that need convergence poll it.
type RoomView interface {
	// Members returns the member sessions of the room, ordered by join time.
	Members(ctx context.Context, code string) ([]Session, error)

	// RoomExists reports whether the observer currently sees a room with the
	// given join code.
	RoomExists(ctx context.Context, code string) (bool, error)
}

// Session is a point-in-time snapshot of one participant session.
type Session struct {
	ID        string
	Name      string
	Color     string
	Position  Position
	Room      string // join code, empty when not a member
	Connected bool
	Creator   bool
}
