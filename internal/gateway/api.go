package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/flemzord/toolhost/internal/orchestrator"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/go-chi/chi/v5"
)

// bodyLimits bounds request bodies of the admin API.
var bodyLimits = security.PayloadLimits{MaxBytes: 64 << 10, MaxDepth: 16}

// toolJSON is a registered tool as listed by the API.
type toolJSON struct {
	tool.Data
	FullReferenceName string `json:"fullReferenceName"`
	Implemented       bool   `json:"implemented"`
}

// handleListTools lists tools. Disabled tools are included with ?all=true.
func (g *Gateway) handleListTools() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
		registry := g.orchestrator.Registry()

		tools := registry.Tools(all)
		out := make([]toolJSON, 0, len(tools))
		for _, d := range tools {
			_, impl, _ := registry.LookupTool(d.ID)
			out = append(out, toolJSON{
				Data:              d,
				FullReferenceName: registry.FullReferenceName(d),
				Implemented:       impl != nil,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// toolSetJSON is a tool set as listed by the API.
type toolSetJSON struct {
	ID                string      `json:"id"`
	ReferenceName     string      `json:"referenceName"`
	FullReferenceName string      `json:"fullReferenceName"`
	Description       string      `json:"description,omitempty"`
	Source            tool.Source `json:"source"`
	Tools             []string    `json:"tools"`
	ToolSets          []string    `json:"toolSets"`
}

// handleListToolSets lists tool sets with their direct members.
func (g *Gateway) handleListToolSets() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sets := g.orchestrator.Registry().ToolSets()
		out := make([]toolSetJSON, 0, len(sets))
		for _, ts := range sets {
			children := ts.ToolSets()
			childIDs := make([]string, 0, len(children))
			for _, c := range children {
				childIDs = append(childIDs, c.ID)
			}
			out = append(out, toolSetJSON{
				ID:                ts.ID,
				ReferenceName:     ts.ReferenceName,
				FullReferenceName: ts.FullReferenceName(),
				Description:       ts.Description,
				Source:            ts.Source,
				Tools:             append([]string{}, ts.ToolIDs()...),
				ToolSets:          childIDs,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// invocationJSON pairs the live state of an invocation with its
// persisted form.
type invocationJSON struct {
	State      string           `json:"state"`
	Waiting    bool             `json:"waiting"`
	Invocation *tool.Invocation `json:"invocation"`
}

// handleGetInvocation returns a live invocation.
func (g *Gateway) handleGetInvocation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := chi.URLParam(r, "callID")
		inv, ok := g.orchestrator.Invocation(callID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown tool call")
			return
		}
		kind := inv.State().Kind
		writeJSON(w, http.StatusOK, invocationJSON{
			State:      kind.String(),
			Waiting:    kind == tool.StateWaitingForConfirmation || kind == tool.StateWaitingForPostApproval,
			Invocation: inv,
		})
	}
}

// confirmRequest is the body of POST /api/invocations/{callID}/confirm.
type confirmRequest struct {
	Decision string `json:"decision"` // approve, skip or deny
	Remember bool   `json:"remember"` // approve this tool for the rest of the chat session
}

func (c confirmRequest) reason() (tool.ConfirmReason, bool) {
	switch c.Decision {
	case "approve":
		return tool.UserApproved(), true
	case "skip":
		return tool.Skipped(), true
	case "deny":
		return tool.Denied(), true
	}
	return tool.ConfirmReason{}, false
}

// handleConfirm resolves whichever approval gate the invocation waits at.
func (g *Gateway) handleConfirm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := chi.URLParam(r, "callID")

		var req confirmRequest
		if err := readJSON(w, r, &req); err != nil {
			g.metrics.RecordError()
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		reason, ok := req.reason()
		if !ok {
			g.metrics.RecordError()
			writeError(w, http.StatusBadRequest, "decision must be approve, skip or deny")
			return
		}

		err := g.orchestrator.Confirm(callID, reason, req.Remember)
		switch {
		case errors.Is(err, orchestrator.ErrUnknownCall):
			g.metrics.RecordError()
			writeError(w, http.StatusNotFound, "unknown tool call")
			return
		case errors.Is(err, orchestrator.ErrNotWaiting):
			g.metrics.RecordError()
			writeError(w, http.StatusConflict, "invocation is not waiting for a decision")
			return
		case err != nil:
			g.metrics.RecordError()
			writeError(w, http.StatusInternalServerError, "confirm failed")
			return
		}

		g.metrics.RecordConfirmation()
		if g.audit != nil {
			meta := requestMetadata(r)
			meta["call_id"] = callID
			meta["decision"] = req.Decision
			g.audit.Log(security.AuditEvent{Type: security.EventApproval, Detail: "confirmed over http", Metadata: meta})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleCancelRequest cancels every live tool call of a chat request.
func (g *Gateway) handleCancelRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "requestID")
		n := g.orchestrator.CancelToolCallsForRequest(requestID)
		g.metrics.RecordCancellation(n)
		writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
	}
}

// settingJSON is a setting with its effective and per-scope values.
type settingJSON struct {
	Key    string         `json:"key"`
	Value  any            `json:"value"`
	Scopes map[string]any `json:"scopes"`
}

// handleGetSetting returns one setting.
func (g *Gateway) handleGetSetting() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		insp := g.settings.Inspect(key)
		value, _ := insp.Effective()

		scopes := make(map[string]any)
		for scope, v := range insp.Values() {
			scopes[scope.String()] = v
		}
		writeJSON(w, http.StatusOK, settingJSON{Key: key, Value: value, Scopes: scopes})
	}
}

// settingUpdate is the body of PUT /api/settings/{key}. A null value
// removes the key from the scope.
type settingUpdate struct {
	Value any    `json:"value"`
	Scope string `json:"scope"` // defaults to "user"
}

// handlePutSetting writes one setting at a scope.
func (g *Gateway) handlePutSetting() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		var req settingUpdate
		if err := readJSON(w, r, &req); err != nil {
			g.metrics.RecordError()
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.Scope == "" {
			req.Scope = settings.ScopeUser.String()
		}
		scope, ok := settings.ParseScope(req.Scope)
		if !ok || scope == settings.ScopeDefault {
			g.metrics.RecordError()
			writeError(w, http.StatusBadRequest, "invalid scope: "+req.Scope)
			return
		}

		g.settings.Update(key, req.Value, scope)
		g.metrics.RecordSettingWrite()
		if g.audit != nil {
			g.audit.Log(security.AuditEvent{
				Type:     security.EventConfigChange,
				Detail:   "setting updated",
				Metadata: settingMetadata(r, key, scope),
			})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// readJSON decodes a request body within bodyLimits.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(bodyLimits.MaxBytes)))
	if err != nil {
		return err
	}
	if err := bodyLimits.Check(data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func settingMetadata(r *http.Request, key string, scope settings.Scope) map[string]string {
	meta := requestMetadata(r)
	meta["key"] = key
	meta["scope"] = scope.String()
	return meta
}
