package hook

import (
	"context"
	"math"
	"strconv"

	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/tool"
)

// AuditHook records every completed call as a tool_result audit event.
// It runs at AfterComplete with the lowest priority (runs last).
type AuditHook struct {
	logger *security.AuditLogger
}

// NewAuditHook creates an audit hook writing to logger.
func NewAuditHook(logger *security.AuditLogger) *AuditHook {
	return &AuditHook{logger: logger}
}

// Compile-time interface check.
var _ Hook = (*AuditHook)(nil)

// Position returns AfterComplete.
func (a *AuditHook) Position() Position { return AfterComplete }

// Priority returns math.MaxInt so the audit hook sees the final result.
func (a *AuditHook) Priority() int { return math.MaxInt }

// Execute logs the outcome of the call.
func (a *AuditHook) Execute(_ context.Context, hctx *Context) (Action, error) {
	ev := security.AuditEvent{
		Type:      security.EventToolResult,
		RequestID: hctx.Call.ChatRequestID,
		CallID:    hctx.Call.CallID,
		ToolID:    hctx.Tool.ID,
		Detail:    hctx.Outcome,
		Metadata: map[string]string{
			"source":      hctx.Tool.Source.String(),
			"duration_ms": strconv.FormatInt(hctx.Duration.Milliseconds(), 10),
		},
	}
	if hctx.Call.Context != nil {
		ev.SessionID = hctx.Call.Context.SessionID
	}
	if hctx.Err != nil {
		ev.Metadata["error"] = hctx.Err.Error()
	}
	if hctx.Result != nil {
		ev.Metadata["result_bytes"] = strconv.Itoa(len(hctx.Result.Text()))
	}
	a.logger.Log(ev)
	return ActionContinue, nil
}

// RedactHook scrubs secrets from text content before the result reaches
// the model. It runs at AfterInvoke.
type RedactHook struct {
	redactor *security.Redactor
}

// NewRedactHook creates a redaction hook backed by r.
func NewRedactHook(r *security.Redactor) *RedactHook {
	return &RedactHook{redactor: r}
}

// Compile-time interface check.
var _ Hook = (*RedactHook)(nil)

// Position returns AfterInvoke.
func (h *RedactHook) Position() Position { return AfterInvoke }

// Priority returns 0.
func (h *RedactHook) Priority() int { return 0 }

// Execute rewrites text parts and the result message.
func (h *RedactHook) Execute(_ context.Context, hctx *Context) (Action, error) {
	r := hctx.Result
	if r == nil {
		return ActionContinue, nil
	}
	modified := false
	for i, part := range r.Content {
		text, ok := part.(tool.TextPart)
		if !ok {
			continue
		}
		if clean := h.redactor.Redact(text.Value); clean != text.Value {
			r.Content[i] = tool.TextPart{Value: clean}
			modified = true
		}
	}
	if clean := h.redactor.Redact(r.ToolResultMessage); clean != r.ToolResultMessage {
		r.ToolResultMessage = clean
		modified = true
	}
	if modified {
		return ActionModify, nil
	}
	return ActionContinue, nil
}
