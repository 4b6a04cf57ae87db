// Package gateway provides the HTTP admin surface of toolhost: health,
// metrics, the extension host websocket and the tool/invocation API. It
// binds to loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/toolhost/internal/chat"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/orchestrator"
	"github.com/flemzord/toolhost/internal/reload"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// hostCounter is the part of the remote manager the gateway reports on.
type hostCounter interface {
	Hosts() int
}

// Gateway is the HTTP gateway module. It is a leaf module; nothing
// imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	startedAt time.Time

	// Resolved lazily at Start() via service registry.
	orchestrator *orchestrator.Service
	settings     *settings.Store
	sessions     *chat.MemoryService
	hosts        hostCounter
	exthost      http.Handler
	gatherer     prometheus.Gatherer
	audit        *security.AuditLogger
	limiter      *security.RateLimiter
	redactor     *security.Redactor
	creds        *security.CredentialStore
	auth         *authenticator
	reloader     *reload.Handler
	configPath   string
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = &Metrics{}

	ctx.RegisterService("gateway.metrics", g.metrics)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	for name, token := range g.config.Auth.Clients {
		if name == "" || token == "" {
			return fmt.Errorf("gateway: auth client %q needs a name and a token", name)
		}
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolveServices()
	g.startedAt = time.Now()
	g.auth = &authenticator{cfg: g.config.Auth, creds: g.creds, audit: g.audit, limiter: g.limiter}
	if missing := g.auth.unresolved(); len(missing) > 0 {
		g.logger.Warn("gateway auth references unknown secrets", "clients", missing)
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolveServices looks up optional services. Missing ones disable the
// routes that need them.
func (g *Gateway) resolveServices() {
	ctx := g.appCtx
	if svc, ok := core.Service[*orchestrator.Service](ctx, "orchestrator"); ok {
		g.orchestrator = svc
	}
	if svc, ok := core.Service[*settings.Store](ctx, "settings.store"); ok {
		g.settings = svc
	}
	if svc, ok := core.Service[*chat.MemoryService](ctx, "chat.sessions"); ok {
		g.sessions = svc
	}
	if svc, ok := core.Service[hostCounter](ctx, "remote.manager"); ok {
		g.hosts = svc
	}
	if svc, ok := core.Service[http.Handler](ctx, "remote.handler"); ok {
		g.exthost = svc
	}
	if svc, ok := core.Service[prometheus.Gatherer](ctx, "telemetry.prometheus"); ok {
		g.gatherer = svc
	}
	if svc, ok := core.Service[*security.AuditLogger](ctx, "security.audit"); ok {
		g.audit = svc
	}
	if svc, ok := core.Service[*security.RateLimiter](ctx, "security.ratelimiter"); ok {
		g.limiter = svc
	}
	if svc, ok := core.Service[*security.Redactor](ctx, "security.redactor"); ok {
		g.redactor = svc
	}
	if svc, ok := core.Service[*security.CredentialStore](ctx, "security.credentials"); ok {
		g.creds = svc
	}
	if svc, ok := core.Service[*reload.Handler](ctx, "reload.handler"); ok {
		g.reloader = svc
	}
	if svc, ok := core.Service[string](ctx, "config.path"); ok {
		g.configPath = svc
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
