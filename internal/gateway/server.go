package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.config.Metrics && g.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}

	// Extension host websocket, authenticated by its hello token.
	if g.exthost != nil {
		r.Handle("/ws/exthost", g.exthost)
	}

	// Admin endpoints, auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(g.authenticator().middleware)
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Get("/modules", g.handleGetAllModules())
				r.Get("/config", g.handleGetConfig())
				r.Post("/config/reload", g.handleReloadConfig())

				if g.orchestrator != nil {
					r.Get("/tools", g.handleListTools())
					r.Get("/toolsets", g.handleListToolSets())
					r.Get("/invocations/{callID}", g.handleGetInvocation())
					r.Post("/invocations/{callID}/confirm", g.handleConfirm())
					r.Post("/requests/{requestID}/cancel", g.handleCancelRequest())
				}
				if g.settings != nil {
					r.Get("/settings/{key}", g.handleGetSetting())
					r.Put("/settings/{key}", g.handlePutSetting())
				}
			})
		})
	}

	return r
}

// authenticator returns the one built at Start, or a fresh one for
// routers built without starting the module.
func (g *Gateway) authenticator() *authenticator {
	if g.auth != nil {
		return g.auth
	}
	return &authenticator{cfg: g.config.Auth, creds: g.creds, audit: g.audit, limiter: g.limiter}
}
