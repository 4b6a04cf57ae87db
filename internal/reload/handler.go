package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/toolhost/internal/config"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
)

// Handler reloads application configuration: it re-seeds the configured
// settings layers and secrets, then calls Reload on modules that implement
// core.Reloader.
type Handler struct {
	app      *core.App
	settings *settings.Store
	audit    *security.AuditLogger
	logger   *slog.Logger
}

// NewHandler creates a reload handler. store and audit may be nil.
func NewHandler(app *core.App, store *settings.Store, audit *security.AuditLogger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		app:      app,
		settings: store,
		audit:    audit,
		logger:   logger.With("component", "reload"),
	}
}

// HandleReload loads a fresh config from disk, validates it, and applies it.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.handleReload(ctx, cfg, configPath)
}

// HandleReloadFromConfig applies a pre-loaded, already-validated config.
// The caller is responsible for calling config.Validate first.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	return h.handleReload(ctx, cfg, "")
}

func (h *Handler) handleReload(ctx context.Context, cfg *config.Config, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if h.settings != nil {
		cfg.Settings.Apply(h.settings)
	}
	h.refreshSecrets(cfg.Security.Secrets)

	// Keep the running services; only the module entries change.
	appCtx := h.app.Context().WithModuleConfigs(cfg.Modules)
	if err := h.app.ReloadModules(appCtx); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}

	if h.audit != nil {
		ev := security.AuditEvent{Type: security.EventConfigChange, Detail: "configuration reloaded"}
		if path != "" {
			ev.Metadata = map[string]string{"path": path}
		}
		h.audit.Log(ev)
	}
	h.logger.Info("configuration reloaded successfully")
	return nil
}

// refreshSecrets swaps the credential store content and the redactor
// literals so modules reloaded next resolve the new values.
func (h *Handler) refreshSecrets(secrets map[string]string) {
	ctx := h.app.Context()
	creds, ok := core.Service[*security.CredentialStore](ctx, "security.credentials")
	if !ok {
		return
	}
	creds.Replace(secrets)
	if redactor, ok := core.Service[*security.Redactor](ctx, "security.redactor"); ok {
		redactor.SyncCredentials(creds)
	}
}
