// Package tooltest provides test helpers and mocks for the tool package.
package tooltest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/toolhost/internal/tool"
)

// MockImplementation is a configurable mock implementation of
// tool.Implementation.
type MockImplementation struct {
	InvokeFunc  func(ctx context.Context, call tool.Call, countTokens tool.CountTokensFunc, progress tool.ProgressSink) (*tool.Result, error)
	PrepareFunc func(ctx context.Context, pc tool.PrepareContext) (*tool.PreparedInvocation, error)

	mu           sync.Mutex
	InvokeCalls  int
	PrepareCalls int
	LastCall     tool.Call
}

// Invoke implements tool.Implementation.
func (m *MockImplementation) Invoke(ctx context.Context, call tool.Call, countTokens tool.CountTokensFunc, progress tool.ProgressSink) (*tool.Result, error) {
	m.mu.Lock()
	m.InvokeCalls++
	m.LastCall = call
	m.mu.Unlock()

	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, call, countTokens, progress)
	}
	return tool.TextResult("ok"), nil
}

// PrepareInvocation implements tool.Implementation.
func (m *MockImplementation) PrepareInvocation(ctx context.Context, pc tool.PrepareContext) (*tool.PreparedInvocation, error) {
	m.mu.Lock()
	m.PrepareCalls++
	m.mu.Unlock()

	if m.PrepareFunc != nil {
		return m.PrepareFunc(ctx, pc)
	}
	return nil, nil
}

// Invocations returns the number of Invoke calls so far.
func (m *MockImplementation) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InvokeCalls
}

// SimpleTool returns minimal internal tool data with the given ID, also
// used as its reference name.
func SimpleTool(id string) tool.Data {
	return tool.Data{
		ID:                id,
		DisplayName:       id,
		ModelDescription:  "simple test tool: " + id,
		ToolReferenceName: id,
		InputSchema:       json.RawMessage(`{"type":"object"}`),
		Source:            tool.InternalSource(),
	}
}

// EchoTool returns an implementation answering with the raw parameters.
func EchoTool() *MockImplementation {
	return &MockImplementation{
		InvokeFunc: func(_ context.Context, call tool.Call, _ tool.CountTokensFunc, _ tool.ProgressSink) (*tool.Result, error) {
			return tool.TextResult("echo: " + string(call.Parameters)), nil
		},
	}
}

// Interface guards.
var (
	_ tool.Implementation = (*MockImplementation)(nil)
)
