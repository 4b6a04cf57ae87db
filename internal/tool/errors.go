package tool

import (
	"context"
	"errors"
)

var (
	// ErrEmptyToolID is returned when registering tool data without an ID.
	ErrEmptyToolID = errors.New("tool id must not be empty")

	// ErrDuplicateTool is returned when registering tool data under an ID
	// that is already registered.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnknownTool is returned when attaching an implementation to an ID
	// that has no tool data.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateImplementation is returned when a tool already has an
	// implementation attached.
	ErrDuplicateImplementation = errors.New("tool already has an implementation")

	// ErrDuplicateToolSet is returned when creating a tool set with an ID
	// that is already in use.
	ErrDuplicateToolSet = errors.New("tool set already exists")

	// ErrToolSetCycle is returned when nesting a tool set would make it
	// contain itself.
	ErrToolSetCycle = errors.New("tool set cannot contain itself")

	// ErrToolNotContributed is returned by invocations for IDs that are not
	// registered, even after activation.
	ErrToolNotContributed = errors.New("tool not contributed")

	// ErrToolNotImplemented is returned by invocations for tools that have
	// data but no implementation, even after activation.
	ErrToolNotImplemented = errors.New("tool not implemented")

	// ErrInvalidInvocationContext is returned when a tool invocation token
	// does not have the expected shape.
	ErrInvalidInvocationContext = errors.New("invalid tool invocation context")

	// ErrCancelled covers caller cancellation, user denial during
	// confirmation and post-approval denial.
	ErrCancelled = errors.New("tool invocation cancelled")
)

// IsCancellation reports whether err belongs to the cancellation class.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
