package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime   int64           `json:"uptime_seconds"`
	Metrics  MetricsSnapshot `json:"metrics"`
	Tools    int             `json:"tools"`
	ToolSets int             `json:"tool_sets"`
	Sessions int             `json:"sessions"`
	Hosts    int             `json:"hosts"`

	// AuditWriteErrors counts audit events lost to a failing audit log.
	AuditWriteErrors int64 `json:"audit_write_errors"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:  int64(time.Since(g.startedAt) / time.Second),
			Metrics: g.metrics.Snapshot(),
		}

		if g.orchestrator != nil {
			registry := g.orchestrator.Registry()
			resp.Tools = registry.ToolCount()
			resp.ToolSets = len(registry.ToolSets())
		}
		if g.sessions != nil {
			resp.Sessions = g.sessions.Len()
		}
		if g.hosts != nil {
			resp.Hosts = g.hosts.Hosts()
		}
		if g.audit != nil {
			resp.AuditWriteErrors = g.audit.WriteErrors()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
