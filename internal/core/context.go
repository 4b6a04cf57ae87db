// Package core provides the module system toolhost is assembled from:
// a registry of module constructors, a shared context carrying services
// between modules, and the lifecycle that starts and stops them.
package core

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// AppContext is handed to modules during provisioning and reload.
// Contexts derived with ForModule or WithModuleConfigs share one service
// map.
type AppContext struct {
	// Logger is scoped to the module being loaded.
	Logger *slog.Logger

	// DataDir is where modules keep persistent state.
	DataDir string

	// Workspace is the folder whose settings layer applies to tools that
	// run in the workspace.
	Workspace string

	root          *slog.Logger
	moduleConfigs map[string]yaml.Node
	services      *serviceMap
}

// NewAppContext creates a root context. A nil logger means slog.Default.
func NewAppContext(logger *slog.Logger, dataDir, workspace string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:    logger,
		DataDir:   dataDir,
		Workspace: workspace,
		root:      logger,
		services:  newServiceMap(),
	}
}

// WithModuleConfigs returns a copy carrying the modules section of the
// config, keyed by module ID.
func (ctx *AppContext) WithModuleConfigs(configs map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.moduleConfigs = configs
	return &cp
}

// ForModule returns a copy whose logger is tagged with the module ID.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	cp := *ctx
	cp.Logger = ctx.root.With("module", string(id))
	return &cp
}

// LoadError reports the lifecycle phase a module failed in.
type LoadError struct {
	Module ModuleID
	Phase  string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s module %s: %v", e.Phase, e.Module, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadModule builds the module registered under id and runs its
// Configure, Provision and Validate hooks. Configure only runs when the
// modules section has an entry for id.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}
	mod := info.New()

	fail := func(phase string, err error) (Module, error) {
		return nil, &LoadError{Module: info.ID, Phase: phase, Err: err}
	}

	if c, ok := mod.(Configurable); ok {
		if node, found := ctx.moduleConfigs[id]; found {
			if err := c.Configure(&node); err != nil {
				return fail("configuring", err)
			}
		}
	}
	if p, ok := mod.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(info.ID)); err != nil {
			return fail("provisioning", err)
		}
	}
	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fail("validating", err)
		}
	}
	return mod, nil
}
