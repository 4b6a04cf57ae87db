package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App runs a list of modules through their lifecycle. Modules start in
// load order and stop in reverse.
type App struct {
	ctx     *AppContext
	logger  *slog.Logger
	modules []*loaded
}

type loaded struct {
	id      ModuleID
	module  Module
	started bool
}

// NewApp creates an App around ctx.
func NewApp(ctx *AppContext) *App {
	return &App{ctx: ctx, logger: ctx.Logger.With("component", "core")}
}

// LoadModules loads ids in order. On failure the modules loaded so far
// are stopped and forgotten.
func (a *App) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := a.ctx.LoadModule(id)
		if err != nil {
			a.stop(func(*loaded) bool { return true })
			a.modules = nil
			return err
		}
		a.modules = append(a.modules, &loaded{id: mod.ModuleInfo().ID, module: mod})
		a.logger.Info("module loaded", "module", id)
	}
	return nil
}

// AppendModule adds a module built outside the registry. It starts after
// every module added before it.
func (a *App) AppendModule(id string, mod Module) {
	a.modules = append(a.modules, &loaded{id: ModuleID(id), module: mod})
}

// Module returns the loaded module with the given ID.
func (a *App) Module(id string) (Module, bool) {
	for _, m := range a.modules {
		if string(m.id) == id {
			return m.module, true
		}
	}
	return nil, false
}

// Context returns the root context.
func (a *App) Context() *AppContext {
	return a.ctx
}

// Start starts every Starter in order. When one fails, those already
// started are stopped before the error is returned.
func (a *App) Start() error {
	for _, m := range a.modules {
		s, ok := m.module.(Starter)
		if !ok {
			continue
		}
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(m.id), "error", err)
			a.Stop()
			return fmt.Errorf("starting module %s: %w", m.id, err)
		}
		m.started = true
		a.logger.Info("module started", "module", string(m.id))
	}
	return nil
}

// Stop stops the started modules in reverse order. Each Stop shares one
// shutdown deadline.
func (a *App) Stop() {
	a.stop(func(m *loaded) bool { return m.started })
}

func (a *App) stop(selected func(*loaded) bool) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(a.modules) - 1; i >= 0; i-- {
		m := a.modules[i]
		if !selected(m) {
			continue
		}
		m.started = false
		s, ok := m.module.(Stopper)
		if !ok {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module stop failed", "module", string(m.id), "error", err)
			continue
		}
		a.logger.Info("module stopped", "module", string(m.id))
	}
}

// ReloadModules calls every Reloader with a context scoped to it. All
// modules are tried; their errors are joined.
func (a *App) ReloadModules(ctx *AppContext) error {
	var errs []error
	for _, m := range a.modules {
		r, ok := m.module.(Reloader)
		if !ok {
			continue
		}
		if err := r.Reload(ctx.ForModule(m.id)); err != nil {
			a.logger.Error("module reload failed", "module", string(m.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading module %s: %w", m.id, err))
			continue
		}
		a.logger.Info("module reloaded", "module", string(m.id))
	}
	return errors.Join(errs...)
}
