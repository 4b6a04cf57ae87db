package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/toolhost/internal/security"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("read-only file system") }

func TestStatus_ReturnsMetrics(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.gateway.hosts = fakeHosts(3)
	f.gateway.startedAt = time.Now().Add(-5 * time.Minute)
	f.gateway.audit = security.NewAuditLogger(security.AuditLoggerConfig{Writer: failingWriter{}})
	f.gateway.audit.Log(security.AuditEvent{Type: security.EventToolCall})

	m := f.gateway.metrics
	m.RecordConfirmation()
	m.RecordCancellation(2)
	m.RecordSettingWrite()
	m.RecordError()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	f.gateway.handleStatus().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp.Sessions != 1 {
		t.Errorf("sessions = %d, want 1", resp.Sessions)
	}
	if resp.Tools != 2 || resp.ToolSets != 1 || resp.Hosts != 3 {
		t.Errorf("tools = %d, tool sets = %d, hosts = %d", resp.Tools, resp.ToolSets, resp.Hosts)
	}
	if resp.Metrics.Confirmations != 1 {
		t.Errorf("confirmations = %d, want 1", resp.Metrics.Confirmations)
	}
	if resp.Metrics.CancelledCalls != 2 {
		t.Errorf("cancelled calls = %d, want 2", resp.Metrics.CancelledCalls)
	}
	if resp.Metrics.Errors != 1 {
		t.Errorf("errors = %d, want 1", resp.Metrics.Errors)
	}
	if resp.AuditWriteErrors != 1 {
		t.Errorf("audit write errors = %d, want 1", resp.AuditWriteErrors)
	}
	if resp.Uptime < 290 { // at least 290s (it's been 5 minutes)
		t.Errorf("uptime = %d, expected >= 290", resp.Uptime)
	}
}

func TestStatus_NoServices(t *testing.T) {
	t.Parallel()

	g := &Gateway{metrics: &Metrics{}, startedAt: time.Now()}

	rr := httptest.NewRecorder()
	g.handleStatus().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tools != 0 || resp.Sessions != 0 || resp.Hosts != 0 {
		t.Errorf("resp = %+v, want zero counts", resp)
	}
}
