package gateway

import (
	"net/http"

	"github.com/flemzord/toolhost/internal/config"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/security"
)

// moduleJSON is a serializable module info snapshot.
type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// handleGetAllModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleGetAllModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleGetConfig returns the current config file with secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.configPath == "" {
			writeError(w, http.StatusServiceUnavailable, "config path not set")
			return
		}

		doc, err := config.LoadMap(g.configPath)
		if err != nil {
			g.logger.Error("config read failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load config")
			return
		}

		redactor := g.redactor
		if redactor == nil {
			redactor = security.NewRedactor()
		}
		redactor.RedactMap(doc)
		writeJSON(w, http.StatusOK, doc)
	}
}

// handleReloadConfig triggers a hot-reload of the configuration.
func (g *Gateway) handleReloadConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.configPath == "" || g.reloader == nil {
			writeError(w, http.StatusServiceUnavailable, "reload not available")
			return
		}

		if err := g.reloader.HandleReload(r.Context(), g.configPath); err != nil {
			g.logger.Error("config reload failed", "error", err)
			g.metrics.RecordError()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}
