package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func decodeAuditLines(t *testing.T, buf *bytes.Buffer) []AuditEvent {
	t.Helper()
	var out []AuditEvent
	dec := json.NewDecoder(buf)
	for dec.More() {
		var ev AuditEvent
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode audit line: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf, Now: func() time.Time { return at }})

	logger.Log(AuditEvent{
		Type:      EventApproval,
		SessionID: "sess-1",
		RequestID: "req-1",
		CallID:    "call-1",
		ToolID:    "runInTerminal",
		Detail:    "setting:chat.tools.autoApprove",
	})
	logger.Log(AuditEvent{Type: EventToolResult, CallID: "call-1", Detail: "success"})

	want := []AuditEvent{
		{Timestamp: at, Type: EventApproval, SessionID: "sess-1", RequestID: "req-1", CallID: "call-1", ToolID: "runInTerminal", Detail: "setting:chat.tools.autoApprove"},
		{Timestamp: at, Type: EventToolResult, CallID: "call-1", Detail: "success"},
	}
	if diff := cmp.Diff(want, decodeAuditLines(t, &buf)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestAuditLogger_URLsNotEscaped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf})
	logger.Log(AuditEvent{Type: EventApproval, Detail: "https://example.com/?a=1&b=<2>"})

	if !strings.Contains(buf.String(), "a=1&b=<2>") {
		t.Errorf("detail escaped: %s", buf.String())
	}
}

func TestAuditLogger_Redacts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("my-secret-key")
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf, Redactor: r})

	meta := map[string]string{
		"command":      "curl -H my-secret-key",
		"bearer_token": "short",
		"source":       "mcp:github",
	}
	logger.Log(AuditEvent{Type: EventToolCall, Detail: "calling with my-secret-key", Metadata: meta})

	got := decodeAuditLines(t, &buf)[0]
	want := map[string]string{
		"command":      "curl -H " + RedactPlaceholder,
		"bearer_token": RedactPlaceholder,
		"source":       "mcp:github",
	}
	if diff := cmp.Diff(want, got.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
	if got.Detail != "calling with "+RedactPlaceholder {
		t.Errorf("detail = %q", got.Detail)
	}
	if meta["bearer_token"] != "short" {
		t.Error("caller's metadata was mutated")
	}
}

func TestAuditLogger_OnEventWithoutWriter(t *testing.T) {
	t.Parallel()

	var got []EventType
	logger := NewAuditLogger(AuditLoggerConfig{OnEvent: func(e AuditEvent) { got = append(got, e.Type) }})

	logger.Log(AuditEvent{Type: EventHostConnect, HostID: "host-a"})
	logger.Log(AuditEvent{Type: EventHostLeave, HostID: "host-a"})

	if diff := cmp.Diff([]EventType{EventHostConnect, EventHostLeave}, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if logger.WriteErrors() != 0 {
		t.Error("no writer must not count as a write error")
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf})

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			logger.Log(AuditEvent{Type: EventToolCall, Detail: "concurrent"})
		})
	}
	wg.Wait()

	if got := len(decodeAuditLines(t, &buf)); got != 50 {
		t.Fatalf("got %d events, want 50", got)
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAuditLogger_WriteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		w    io.Writer
		want int64
	}{
		{name: "failing writer", w: errWriter{}, want: 2},
		{name: "healthy writer", w: io.Discard, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger := NewAuditLogger(AuditLoggerConfig{Writer: tt.w})
			logger.Log(AuditEvent{Type: EventToolCall})
			logger.Log(AuditEvent{Type: EventToolCall})
			if got := logger.WriteErrors(); got != tt.want {
				t.Errorf("WriteErrors() = %d, want %d", got, tt.want)
			}
		})
	}
}
