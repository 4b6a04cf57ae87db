package core

import (
	"context"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModuleID is a dotted module identifier such as "storage.sqlite". The
// part before the first dot is the namespace.
type ModuleID string

var moduleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Valid reports whether id is lowercase, dotted and has a namespace.
func (id ModuleID) Valid() bool {
	return moduleIDPattern.MatchString(string(id))
}

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the first dot, or the whole ID
// when it has no namespace.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registrable module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is implemented by every module. The lifecycle hooks below are
// optional and run in this order:
//
//	New → Configure → Provision → Validate → Start → (Reload)* → Stop
type Module interface {
	ModuleInfo() ModuleInfo
}

// Configurable modules decode their entry of the modules section.
// Configure is skipped when the config has no entry for the module.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules set defaults, open resources and register services.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their provisioned state. Validate must not
// have side effects; config check relies on it.
type Validator interface {
	Validate() error
}

// Starter modules launch background work once every module is validated.
type Starter interface {
	Start() error
}

// Stopper modules release what Start acquired. Stop runs in reverse
// start order.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules pick up a changed configuration without a restart.
type Reloader interface {
	Reload(ctx *AppContext) error
}
