// Package app provides the entry point of the toolhost binary: it loads
// the configuration, wires the tool runtime and runs the modules until a
// shutdown signal.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/toolhost/internal/config"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/reload"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// Workspace overrides the default working directory.
	Workspace string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// Interactive asks confirmations of calls made outside a chat session
	// on the terminal. Without it they are denied.
	Interactive bool
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received or ctx is done. SIGHUP and file-change events trigger
// a live configuration reload.
func Run(ctx context.Context, params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Credential store and redactor come first so nothing logs a secret.
	credStore := security.NewCredentialStore()
	credStore.Replace(cfg.Security.Secrets)
	redactor := security.NewRedactor()
	redactor.SyncCredentials(credStore)

	innerHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	})
	logger := slog.New(security.NewRedactingHandler(innerHandler, redactor))

	auditWriter, closeAudit, err := openAuditLog(cfg.Security.AuditLog)
	if err != nil {
		return err
	}
	defer closeAudit()
	auditLogger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   auditWriter,
		Redactor: redactor,
	})

	sec := newSecurityServices(cfg.Security, auditLogger, redactor, credStore)

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	workspace := params.Workspace
	if workspace == "" {
		workspace = DefaultWorkspace()
	}

	appCtx := core.NewAppContext(logger, dataDir, workspace)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	sec.register(appCtx)
	appCtx.RegisterService("config.path", cfgPath)

	application := core.NewApp(appCtx)
	early, rest := splitModules(cfg.ModuleIDs())
	if err := application.LoadModules(early); err != nil {
		return err
	}

	rt, err := wireRuntime(appCtx, wireParams{
		Config:      cfg,
		Security:    sec,
		Interactive: params.Interactive,
		Logger:      logger,
	})
	if err != nil {
		application.Stop()
		return err
	}
	application.AppendModule("runtime", rt)

	// Reload handler is registered before the remaining modules load so
	// the gateway can find it.
	handler := reload.NewHandler(application, rt.settings, auditLogger, logger)
	appCtx.RegisterService("reload.handler", handler)

	if err := application.LoadModules(rest); err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}
	logger.Info("toolhost started",
		"version", params.Version,
		"config", cfgPath,
		"tools", rt.registry.ToolCount(),
	)

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watcher := reload.NewWatcher(reload.WatcherConfig{
		ConfigPath: cfgPath,
	})
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher.Start(watchCtx)
	defer watcher.Stop()

	// --- main event loop ---
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "reason", context.Cause(ctx))
			application.Stop()
			logger.Info("shutdown complete")
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
			default:
				logger.Info("shutdown signal received", "signal", sig.String())
				application.Stop()
				logger.Info("shutdown complete")
				return nil
			}
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, cfgPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

// openAuditLog opens path for appending audit events. An empty path
// disables the file.
func openAuditLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/toolhost/toolhost.yaml → ~/.config/toolhost/toolhost.yaml → ./toolhost.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "toolhost", "toolhost.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "toolhost", "toolhost.yaml"))
	}

	candidates = append(candidates, "toolhost.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/toolhost if set, otherwise ~/.local/share/toolhost per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "toolhost")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "toolhost")
}

// DefaultWorkspace returns the current working directory.
func DefaultWorkspace() string {
	dir, _ := os.Getwd()
	return dir
}
