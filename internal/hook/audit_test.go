package hook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/toolhost/internal/hook"
	"github.com/flemzord/toolhost/internal/hook/hooktest"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/tool"
)

func TestAuditHook_WritesToolResult(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := security.NewAuditLogger(security.AuditLoggerConfig{Writer: &buf})
	h := hook.NewAuditHook(logger)
	if h.Position() != hook.AfterComplete {
		t.Fatalf("position = %q", h.Position())
	}

	hctx := &hook.Context{
		Tool: tool.Data{ID: "runInTerminal", Source: tool.InternalSource()},
		Call: tool.Call{
			CallID:        "c1",
			ChatRequestID: "r1",
			Context:       &tool.InvocationContext{SessionID: "s1"},
		},
		Result:   tool.TextResult("ok"),
		Outcome:  hook.OutcomeError,
		Err:      errors.New("exit status 1"),
		Duration: 1500 * time.Millisecond,
	}
	if _, err := h.Execute(context.Background(), hctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var ev security.AuditEvent
	if err := json.NewDecoder(&buf).Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != security.EventToolResult || ev.ToolID != "runInTerminal" || ev.SessionID != "s1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Metadata["duration_ms"] != "1500" || ev.Metadata["error"] != "exit status 1" {
		t.Fatalf("metadata = %v", ev.Metadata)
	}
}

func TestRedactHook(t *testing.T) {
	t.Parallel()

	r := security.NewRedactor()
	r.AddLiteral("hunter2")
	h := hook.NewRedactHook(r)

	hctx := &hook.Context{Result: &tool.Result{
		Content: []tool.ContentPart{
			tool.TextPart{Value: "password is hunter2"},
			tool.DataPart{MimeType: "image/png", Data: []byte("hunter2")},
		},
		ToolResultMessage: "used hunter2",
	}}
	action, err := h.Execute(context.Background(), hctx)
	if err != nil || action != hook.ActionModify {
		t.Fatalf("Execute = %v, %v", action, err)
	}
	if text := hctx.Result.Text(); strings.Contains(text, "hunter2") {
		t.Fatalf("secret left in text: %q", text)
	}
	if strings.Contains(hctx.Result.ToolResultMessage, "hunter2") {
		t.Fatal("secret left in result message")
	}
	if string(hctx.Result.Content[1].(tool.DataPart).Data) != "hunter2" {
		t.Fatal("binary parts are left alone")
	}

	clean := &hook.Context{Result: tool.TextResult("nothing here")}
	if action, _ := h.Execute(context.Background(), clean); action != hook.ActionContinue {
		t.Fatalf("clean result action = %v", action)
	}
}

func TestRecorder_RecordsContexts(t *testing.T) {
	t.Parallel()

	p := hook.NewPipeline()
	r := &hooktest.Recorder{At: hook.AfterComplete}
	p.Register(r)
	p.RunAfterComplete(context.Background(), &hook.Context{Outcome: hook.OutcomeSuccess})

	last, ok := r.Last()
	if !ok || len(r.Seen()) != 1 || last.Outcome != hook.OutcomeSuccess {
		t.Fatalf("recorder saw %d contexts, last %+v", len(r.Seen()), last)
	}
}
