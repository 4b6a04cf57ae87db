package orchestrator

import "errors"

var (
	// ErrUnknownCall is returned when no live invocation has the given
	// call ID.
	ErrUnknownCall = errors.New("orchestrator: unknown tool call")

	// ErrDuplicateCall is returned when a call ID is already in flight.
	ErrDuplicateCall = errors.New("orchestrator: tool call already in flight")

	// ErrNotWaiting is returned when confirming an invocation that is not
	// waiting at either approval gate.
	ErrNotWaiting = errors.New("orchestrator: invocation is not waiting for a decision")

	// ErrToolPanicked wraps a panic raised by a tool implementation.
	ErrToolPanicked = errors.New("orchestrator: tool implementation panicked")
)
