package security

import (
	"encoding/json"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// EventType categorizes audit events.
type EventType string

// Audit event types covering every decision that lets a tool run.
const (
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventApproval      EventType = "approval"
	EventResultReview  EventType = "result_approval"
	EventAutoApproveIn EventType = "auto_approve_opt_in"
	EventAuthSuccess   EventType = "auth_success"
	EventAuthFailure   EventType = "auth_failure"
	EventConfigChange  EventType = "config_change"
	EventHostConnect   EventType = "host_connect"
	EventHostLeave     EventType = "host_disconnect"
	EventRateLimit     EventType = "rate_limit"
)

// AuditEvent is one line of the audit trail. IDs tie it to the chat
// session, request and tool call it concerns.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	ToolID    string            `json:"tool_id,omitempty"`
	HostID    string            `json:"host_id,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures the audit logger.
type AuditLoggerConfig struct {
	// Writer receives one JSON object per line. Nil keeps events in
	// memory only, for OnEvent.
	Writer io.Writer

	// Redactor scrubs Detail and Metadata. Metadata under secret keys is
	// masked whole.
	Redactor *Redactor

	// OnEvent sees every event after redaction.
	OnEvent func(AuditEvent)

	// Now defaults to time.Now.
	Now func() time.Time
}

// AuditLogger appends audit events as JSONL. Events are written in the
// order Log is called.
type AuditLogger struct {
	redactor *Redactor
	onEvent  func(AuditEvent)
	now      func() time.Time

	mu  sync.Mutex
	enc *json.Encoder

	writeErrors atomic.Int64
}

// NewAuditLogger creates an audit logger.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	l := &AuditLogger{redactor: cfg.Redactor, onEvent: cfg.OnEvent, now: cfg.Now}
	if l.now == nil {
		l.now = time.Now
	}
	if cfg.Writer != nil {
		l.enc = json.NewEncoder(cfg.Writer)
		l.enc.SetEscapeHTML(false)
	}
	return l
}

// Log stamps, redacts and writes event. The caller's Metadata map is not
// modified.
func (l *AuditLogger) Log(event AuditEvent) {
	event.Timestamp = l.now()
	event.Metadata = maps.Clone(event.Metadata)
	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			if IsSecretKey(k) && v != "" {
				event.Metadata[k] = RedactPlaceholder
				continue
			}
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onEvent != nil {
		l.onEvent(event)
	}
	if l.enc != nil {
		if err := l.enc.Encode(event); err != nil {
			l.writeErrors.Add(1)
		}
	}
}

// WriteErrors returns how many events failed to reach the writer.
func (l *AuditLogger) WriteErrors() int64 {
	return l.writeErrors.Load()
}
