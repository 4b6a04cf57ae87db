package core

import (
	"context"
	"testing"
)

func TestAppContext_Services(t *testing.T) {
	t.Parallel()

	ctx := NewAppContext(nil, "/data", "/ws")
	child := ctx.ForModule("remote.manager")
	child.RegisterService("remote.handler", 42)

	v, ok := Service[int](ctx, "remote.handler")
	if !ok || v != 42 {
		t.Fatalf("Service = %v, %v; services must be shared with derived contexts", v, ok)
	}
	if _, ok := Service[string](ctx, "remote.handler"); ok {
		t.Fatal("Service must reject a mismatched type")
	}
	if _, ok := ctx.GetService("missing"); ok {
		t.Fatal("GetService found an unregistered name")
	}

	withCfg := ctx.WithModuleConfigs(nil)
	if _, ok := withCfg.GetService("remote.handler"); !ok {
		t.Fatal("WithModuleConfigs must keep services")
	}
}

func TestModuleID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id        ModuleID
		namespace string
		name      string
	}{
		{"storage.sqlite", "storage", "sqlite"},
		{"mcp.stdio", "mcp", "stdio"},
		{"gateway", "gateway", "gateway"},
	}
	for _, tt := range tests {
		if got := tt.id.Namespace(); got != tt.namespace {
			t.Errorf("%s.Namespace() = %q, want %q", tt.id, got, tt.namespace)
		}
		if got := tt.id.Name(); got != tt.name {
			t.Errorf("%s.Name() = %q, want %q", tt.id, got, tt.name)
		}
	}
}

type startStopModule struct {
	started, stopped bool
}

func (m *startStopModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: "test.appended", New: func() Module { return &startStopModule{} }}
}

func (m *startStopModule) Start() error { m.started = true; return nil }

func (m *startStopModule) Stop(context.Context) error { m.stopped = true; return nil }

func TestApp_AppendModule(t *testing.T) {
	t.Parallel()

	app := NewApp(NewAppContext(nil, "/data", "/ws"))
	mod := &startStopModule{}
	app.AppendModule("orchestrator", mod)

	got, ok := app.Module("orchestrator")
	if !ok || got != mod {
		t.Fatal("Module did not return the appended module")
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()
	if !mod.started || !mod.stopped {
		t.Fatalf("started=%v stopped=%v", mod.started, mod.stopped)
	}
}
