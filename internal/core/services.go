package core

import "sync"

// serviceMap is shared by an AppContext and every context derived from it,
// so a service registered by one module is visible to the others.
type serviceMap struct {
	mu       sync.RWMutex
	services map[string]any
}

func newServiceMap() *serviceMap {
	return &serviceMap{services: make(map[string]any)}
}

// RegisterService publishes svc under name, replacing any previous value.
// Names are namespaced by convention ("tool.registry", "security.audit").
func (ctx *AppContext) RegisterService(name string, svc any) {
	ctx.services.mu.Lock()
	defer ctx.services.mu.Unlock()
	ctx.services.services[name] = svc
}

// GetService returns the service registered under name.
func (ctx *AppContext) GetService(name string) (any, bool) {
	ctx.services.mu.RLock()
	defer ctx.services.mu.RUnlock()
	svc, ok := ctx.services.services[name]
	return svc, ok
}

// Service returns the service registered under name when it has type T.
func Service[T any](ctx *AppContext, name string) (T, bool) {
	var zero T
	svc, ok := ctx.GetService(name)
	if !ok {
		return zero, false
	}
	v, ok := svc.(T)
	return v, ok
}
