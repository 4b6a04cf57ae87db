package gateway

import "net/http"

// Check results reported by GET /health.
const (
	checkOK      = "ok"
	checkMissing = "missing"
	checkFailing = "failing"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks"`
	Tools  int               `json:"tools"`
	Hosts  int               `json:"hosts"`
}

// handleHealth reports the wired components. Any failed check degrades
// the status; only a missing orchestrator answers 503, since no tool
// can run without it.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Checks: make(map[string]string)}

		resp.Checks["orchestrator"] = checkMissing
		if g.orchestrator != nil {
			resp.Checks["orchestrator"] = checkOK
			resp.Tools = g.orchestrator.Registry().ToolCount()
		}
		resp.Checks["settings"] = checkMissing
		if g.settings != nil {
			resp.Checks["settings"] = checkOK
		}
		if g.audit != nil {
			resp.Checks["audit"] = checkOK
			if g.audit.WriteErrors() > 0 {
				resp.Checks["audit"] = checkFailing
			}
		}
		if g.hosts != nil {
			resp.Hosts = g.hosts.Hosts()
		}

		for _, result := range resp.Checks {
			if result != checkOK {
				resp.Status = "degraded"
			}
		}
		code := http.StatusOK
		if g.orchestrator == nil {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
