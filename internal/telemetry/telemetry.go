// Package telemetry publishes usage events about tool invocations.
// Publishing is fire-and-forget: sinks must never block or fail a call.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventToolInvoked is published once per orchestrated tool call.
const EventToolInvoked = "languageModelToolInvoked"

// Result labels of EventToolInvoked.
const (
	ResultSuccess       = "success"
	ResultUserCancelled = "userCancelled"
	ResultError         = "error"
)

// Properties is the payload of an event.
type Properties map[string]any

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, name string, props Properties)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, name string, props Properties)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, name string, props Properties) { f(ctx, name, props) }

// Nop drops every event.
var Nop Sink = SinkFunc(func(context.Context, string, Properties) {})

// ToolInvoked describes one orchestrated tool call.
type ToolInvoked struct {
	Result          string
	ToolID          string
	ToolSourceKind  string
	ToolExtensionID string
	ChatSessionID   string // empty for calls outside a chat
	PrepareTime     time.Duration
	InvocationTime  time.Duration
}

// Properties flattens e into an event payload.
func (e ToolInvoked) Properties() Properties {
	p := Properties{
		"result":           e.Result,
		"toolId":           e.ToolID,
		"toolSourceKind":   e.ToolSourceKind,
		"prepareTimeMs":    e.PrepareTime.Milliseconds(),
		"invocationTimeMs": e.InvocationTime.Milliseconds(),
	}
	if e.ToolExtensionID != "" {
		p["toolExtensionId"] = e.ToolExtensionID
	}
	if e.ChatSessionID != "" {
		p["chatSessionId"] = e.ChatSessionID
	}
	return p
}

// Multi fans an event out to every sink.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, name string, props Properties) {
	for _, s := range m {
		s.Publish(ctx, name, props)
	}
}

// SlogSink logs events at debug level.
type SlogSink struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (s SlogSink) Publish(ctx context.Context, name string, props Properties) {
	attrs := make([]any, 0, 2*len(props)+2)
	attrs = append(attrs, "event", name)
	for k, v := range props {
		attrs = append(attrs, k, v)
	}
	s.Logger.DebugContext(ctx, "telemetry", attrs...)
}

type queued struct {
	name  string
	props Properties
}

// Async decouples publishers from a slow sink. Events that do not fit in
// the buffer are dropped and counted.
type Async struct {
	sink    Sink
	ch      chan queued
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts a goroutine forwarding to sink through a buffer of size.
func NewAsync(sink Sink, size int) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		sink: sink,
		ch:   make(chan queued, size),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.sink.Publish(context.Background(), ev.name, ev.props)
	}
}

// Publish implements Sink. It never blocks.
func (a *Async) Publish(_ context.Context, name string, props Properties) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- queued{name: name, props: props}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of discarded events.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close drains queued events and stops the forwarding goroutine.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}
