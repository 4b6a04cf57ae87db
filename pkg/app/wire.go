package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/flemzord/toolhost/internal/approval"
	"github.com/flemzord/toolhost/internal/chat"
	"github.com/flemzord/toolhost/internal/config"
	"github.com/flemzord/toolhost/internal/contextkey"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/cron"
	"github.com/flemzord/toolhost/internal/hook"
	"github.com/flemzord/toolhost/internal/orchestrator"
	"github.com/flemzord/toolhost/internal/prompt"
	"github.com/flemzord/toolhost/internal/schema"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/telemetry"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// sessionMaxIdle is how long a chat session survives without requests.
const sessionMaxIdle = 2 * time.Hour

// earlyNamespaces are module namespaces loaded before the core services
// are built, because those services consume what they register.
var earlyNamespaces = []string{"storage", "telemetry"}

// splitModules separates the IDs of early modules from the others,
// keeping the order of each group.
func splitModules(ids []string) (early, rest []string) {
	for _, id := range ids {
		if slices.Contains(earlyNamespaces, core.ModuleID(id).Namespace()) {
			early = append(early, id)
		} else {
			rest = append(rest, id)
		}
	}
	return early, rest
}

// securityServices are built before any module loads.
type securityServices struct {
	credentials *security.CredentialStore
	redactor    *security.Redactor
	audit       *security.AuditLogger
	limiter     *security.RateLimiter
	urlFilter   *security.URLFilter
}

func newSecurityServices(cfg config.SecurityConfig, audit *security.AuditLogger, redactor *security.Redactor, credentials *security.CredentialStore) *securityServices {
	rl := security.DefaultRateLimitConfig()
	if cfg.RateLimits != nil {
		rl = *cfg.RateLimits
	}
	var filter *security.URLFilter
	if cfg.URLFilter != nil {
		filter = security.NewURLFilter(*cfg.URLFilter)
	}
	return &securityServices{
		credentials: credentials,
		redactor:    redactor,
		audit:       audit,
		limiter:     security.NewRateLimiter(rl),
		urlFilter:   filter,
	}
}

func (s *securityServices) register(ctx *core.AppContext) {
	ctx.RegisterService("security.credentials", s.credentials)
	ctx.RegisterService("security.redactor", s.redactor)
	ctx.RegisterService("security.audit", s.audit)
	ctx.RegisterService("security.ratelimiter", s.limiter)
	if s.urlFilter != nil {
		ctx.RegisterService("security.urlfilter", s.urlFilter)
	}
}

// runtime holds the core services of a running toolhost and takes part in
// the application lifecycle as the "runtime" module.
type runtime struct {
	settings  *settings.Store
	registry  *tool.Registry
	engine    *approval.Engine
	chats     *chat.MemoryService
	hooks     *hook.Pipeline
	orch      *orchestrator.Service
	scheduler *cron.Scheduler
	telemetry *telemetry.Async
	logger    *slog.Logger
}

// wireParams are the inputs of wireRuntime.
type wireParams struct {
	Config      *config.Config
	Security    *securityServices
	Interactive bool
	Logger      *slog.Logger
}

// wireRuntime builds the settings store, tool registry, approval engine,
// chat sessions, hook pipeline, telemetry and orchestrator, and registers
// them as services. It must run after the early modules are loaded and
// before the others.
func wireRuntime(ctx *core.AppContext, p wireParams) (*runtime, error) {
	logger := p.Logger
	sec := p.Security

	store := settings.NewStore()
	p.Config.Settings.Apply(store)

	storage, ok := core.Service[settings.Storage](ctx, "settings.storage")
	if !ok {
		storage = settings.NewMemoryStorage()
		logger.Info("no storage module, approval opt-in is kept in memory")
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("creating schema registry: %w", err)
	}
	keys := contextkey.NewService()

	registry := tool.NewRegistry(tool.RegistryConfig{
		ContextKeys: keys,
		Settings:    store,
		Schemas:     schemas,
		Logger:      logger,
	})

	var dialog approval.Dialog
	if p.Interactive {
		dialog = prompt.New(prompt.Config{})
	}
	engine := approval.New(approval.Config{
		Settings:    store,
		Storage:     storage,
		ContextKeys: keys,
		Dialog:      dialog,
		Audit:       sec.audit,
		Logger:      logger,
	})
	engine.RegisterContribution(approval.FetchToolID, approval.NewURLContribution(store, sec.urlFilter))

	chats := chat.NewMemoryService(logger)

	hooks := hook.NewPipeline()
	hooks.Register(hook.NewRedactHook(sec.redactor))
	hooks.Register(hook.NewAuditHook(sec.audit))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sinks := telemetry.Multi{
		telemetry.SlogSink{Logger: logger.With("component", "telemetry")},
		telemetry.NewPrometheusSink(promRegistry),
	}
	if sink, ok := core.Service[telemetry.Sink](ctx, "telemetry.posthog"); ok {
		sinks = append(sinks, sink)
	}
	async := telemetry.NewAsync(sinks, 0)

	orch := orchestrator.New(orchestrator.Config{
		Registry:    registry,
		Approval:    engine,
		Chat:        chats,
		Schemas:     schemas,
		Telemetry:   async,
		Audit:       sec.audit,
		RateLimiter: sec.limiter,
		Hooks:       hooks,
		Logger:      logger,
	})

	scheduler := cron.NewScheduler(logger)
	jobs := []cron.Job{
		&cron.SessionPruneJob{Sessions: chats, MaxIdle: sessionMaxIdle, Logger: logger},
		&cron.GrantSweepJob{Grants: engine.Grants(), Logger: logger},
	}
	if history, ok := core.Service[cron.HistoryPruner](ctx, "storage.history"); ok {
		jobs = append(jobs, &cron.HistoryPruneJob{History: history, Logger: logger})
	}
	for _, j := range jobs {
		if err := scheduler.RegisterJob(j); err != nil {
			return nil, err
		}
	}

	ctx.RegisterService("settings.store", store)
	ctx.RegisterService("settings.storage", storage)
	ctx.RegisterService("contextkey.service", keys)
	ctx.RegisterService("schema.registry", schemas)
	ctx.RegisterService("tool.registry", registry)
	ctx.RegisterService("approval.engine", engine)
	ctx.RegisterService("chat.sessions", chats)
	ctx.RegisterService("hook.pipeline", hooks)
	ctx.RegisterService("telemetry.prometheus", prometheus.Gatherer(promRegistry))
	ctx.RegisterService("orchestrator", orch)
	ctx.RegisterService("cron.scheduler", scheduler)

	return &runtime{
		settings:  store,
		registry:  registry,
		engine:    engine,
		chats:     chats,
		hooks:     hooks,
		orch:      orch,
		scheduler: scheduler,
		telemetry: async,
		logger:    logger.With("component", "runtime"),
	}, nil
}

// ModuleInfo implements core.Module.
func (r *runtime) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "runtime"}
}

// Start implements core.Starter.
func (r *runtime) Start() error {
	return r.scheduler.Start()
}

// Stop implements core.Stopper. Modules loaded after the runtime are
// already stopped when this runs.
func (r *runtime) Stop(ctx context.Context) error {
	err := r.scheduler.Stop(ctx)
	r.telemetry.Close()
	if n := r.telemetry.Dropped(); n > 0 {
		r.logger.Warn("telemetry events dropped", "count", n)
	}
	r.engine.Close()
	r.registry.Close()
	return err
}
