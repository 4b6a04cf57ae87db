// Package securitytest provides test doubles for the security package,
// for use by other packages' tests.
package securitytest

import (
	"slices"
	"sync"

	"github.com/flemzord/toolhost/internal/security"
)

// NewTestRedactor creates a Redactor with no patterns, so test strings
// that look like production secrets are left alone.
func NewTestRedactor() *security.Redactor {
	return &security.Redactor{}
}

// NewTestCredentialStore creates a CredentialStore pre-populated with
// the given key-value pairs. Panics if an odd number of args is provided.
func NewTestCredentialStore(kvs ...string) *security.CredentialStore {
	if len(kvs)%2 != 0 {
		panic("securitytest: NewTestCredentialStore requires even number of args (key, value pairs)")
	}
	store := security.NewCredentialStore()
	for i := 0; i < len(kvs); i += 2 {
		store.Set(kvs[i], kvs[i+1])
	}
	return store
}

// AuditRecorder collects audit events. It is safe for concurrent use.
type AuditRecorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

// Events returns a copy of the recorded events.
func (r *AuditRecorder) Events() []security.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the types of the recorded events, in order.
func (r *AuditRecorder) Types() []security.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]security.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *AuditRecorder) record(ev security.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// NewTestAuditLogger creates an AuditLogger that only records events in
// the returned recorder.
func NewTestAuditLogger() (*security.AuditLogger, *AuditRecorder) {
	rec := &AuditRecorder{}
	logger := security.NewAuditLogger(security.AuditLoggerConfig{OnEvent: rec.record})
	return logger, rec
}
