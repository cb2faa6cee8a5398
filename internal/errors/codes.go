// Package errors provides structured error handling with machine-readable
// codes for the orchestrator and its transport boundary.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Transport errors
	CodeConnectionFailed Code = "CONNECTION_FAILED"
	CodeInvalidState     Code = "INVALID_STATE"

	// Room errors
	CodeRoomNotFound Code = "ROOM_NOT_FOUND"
	CodeRoomFull     Code = "ROOM_FULL"
	CodeRoomClosed   Code = "ROOM_CLOSED"

	// Step execution errors
	CodeActionTimeout     Code = "ACTION_TIMEOUT"
	CodeValidationTimeout Code = "VALIDATION_TIMEOUT"

	// Scenario errors
	CodeScenarioInvalid Code = "SCENARIO_INVALID"
	CodeClientUndefined Code = "CLIENT_UNDEFINED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// Retryable reports whether an operation failing with this code may succeed
// on a later attempt against the same external system.
func (c Code) Retryable() bool {
	switch c {
	case CodeConnectionFailed, CodeValidationTimeout, CodeActionTimeout:
		return true
	default:
		return false
	}
}
