// Package sqlite implements a persistent storage module on SQLite. It
// provides the settings.Storage behind the global auto-approve opt-in and
// a history of completed tool calls. It uses modernc.org/sqlite (pure Go,
// no CGO) in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/hook"
	"github.com/flemzord/toolhost/internal/settings"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ settings.Storage  = (*Storage)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the SQLite storage module. Load it before the modules and
// services that consume "settings.storage".
type Module struct {
	config  Config
	appCtx  *core.AppContext
	db      *sql.DB
	logger  *slog.Logger
	storage *Storage
	history *History
	hook    *historyHook
	hooks   *hook.Pipeline
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := open(context.TODO(), m.config.Path, m.config.walEnabled(), m.config.BusyTimeout)
	if err != nil {
		return err
	}

	m.db = db
	m.storage = &Storage{db: db}
	m.history = &History{db: db, now: time.Now, retention: m.config.Retention}

	ctx.RegisterService("settings.storage", m.storage)
	ctx.RegisterService("storage.history", m.history)

	m.logger.Info("sqlite storage provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
		"history", m.config.historyEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Start implements core.Starter. The history hook joins the pipeline here
// because the pipeline is registered after storage modules provision.
func (m *Module) Start() error {
	if !m.config.historyEnabled() {
		return nil
	}
	hooks, ok := core.Service[*hook.Pipeline](m.appCtx, "hook.pipeline")
	if !ok {
		m.logger.Warn("no hook pipeline, tool call history disabled")
		return nil
	}
	m.hook = &historyHook{history: m.history}
	m.hooks = hooks
	hooks.Register(m.hook)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite storage stopping")
	if m.hooks != nil {
		m.hooks.Unregister(m.hook)
	}
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Storage returns the flag storage.
func (m *Module) Storage() *Storage {
	return m.storage
}

// History returns the tool call history.
func (m *Module) History() *History {
	return m.history
}
