// Package hook lets components intercept tool invocations. Hooks run at
// three positions: before the implementation is invoked, after it returns,
// and once the call is complete.
package hook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flemzord/toolhost/internal/tool"
)

// Position identifies where in the pipeline a hook executes.
type Position string

const (
	// BeforeInvoke runs after confirmation, before the implementation.
	// Hooks here can drop the call or rewrite its parameters.
	BeforeInvoke Position = "before_invoke"

	// AfterInvoke runs on a successful result, before result approval.
	// Hooks here can rewrite the result.
	AfterInvoke Position = "after_invoke"

	// AfterComplete runs once the call has finished, whatever the outcome.
	// Hooks here are fire-and-forget (errors are logged, never propagated).
	AfterComplete Position = "after_complete"
)

// Action signals the pipeline what to do after a hook executes.
type Action int

const (
	// ActionContinue tells the pipeline to proceed normally.
	ActionContinue Action = iota

	// ActionDrop denies the call. Only valid for BeforeInvoke hooks.
	ActionDrop

	// ActionModify signals that the hook mutated Parameters or Result.
	ActionModify
)

// Outcome labels of a completed call.
const (
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Context carries data available to hooks. One Context is shared across
// the positions of a single call.
type Context struct {
	Position Position
	Tool     tool.Data
	Call     tool.Call

	// Parameters is the payload sent to the implementation. BeforeInvoke
	// hooks may replace it.
	Parameters json.RawMessage

	// Result is non-nil for AfterInvoke and, when one exists, AfterComplete.
	Result *tool.Result

	// Outcome, Err and Duration are set for AfterComplete.
	Outcome  string
	Err      error
	Duration time.Duration

	// Metadata is shared across positions, allowing hooks to pass data
	// along the pipeline.
	Metadata map[string]any

	Logger *slog.Logger
}

// Hook is the extension point interface for pipeline interception.
type Hook interface {
	// Position returns where this hook should execute.
	Position() Position

	// Priority determines execution order within a position.
	// Lower values run first.
	Priority() int

	// Execute runs the hook logic. The returned Action tells the
	// pipeline how to proceed.
	Execute(ctx context.Context, hctx *Context) (Action, error)
}
