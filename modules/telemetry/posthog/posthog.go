// Package posthog forwards tool telemetry to PostHog. The module registers
// a telemetry.Sink under "telemetry.posthog"; the application adds it to
// the sinks the orchestrator publishes to.
package posthog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/telemetry"
	"github.com/posthog/posthog-go"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ telemetry.Sink    = (*Sink)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the PostHog module configuration.
type Config struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	// DistinctID identifies this installation. Defaults to "toolhost".
	DistinctID string `yaml:"distinct_id"`

	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`

	// Exclude lists event properties that never leave the process.
	// Defaults to the chat session ID.
	Exclude []string `yaml:"exclude"`
}

func (c *Config) defaults() {
	if c.DistinctID == "" {
		c.DistinctID = "toolhost"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Exclude == nil {
		c.Exclude = []string{"chatSessionId"}
	}
}

// enqueuer is the part of posthog.Client the sink uses.
type enqueuer interface {
	io.Closer
	Enqueue(posthog.Message) error
}

// Sink publishes telemetry events as PostHog captures.
type Sink struct {
	client     enqueuer
	distinctID string
	exclude    []string
	logger     *slog.Logger
}

// Publish implements telemetry.Sink. Enqueue only buffers; delivery errors
// surface through the client's logger.
func (s *Sink) Publish(_ context.Context, name string, props telemetry.Properties) {
	out := make(posthog.Properties, len(props))
	maps.Copy(out, props)
	for _, k := range s.exclude {
		delete(out, k)
	}
	if err := s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      name,
		Properties: out,
	}); err != nil {
		s.logger.Debug("posthog enqueue failed", "event", name, "error", err)
	}
}

// Module is the PostHog telemetry module.
type Module struct {
	config Config
	logger *slog.Logger
	sink   *Sink
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.posthog",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("posthog: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if m.config.APIKey == "" {
		return errors.New("posthog: api_key is required")
	}

	client, err := posthog.NewWithConfig(m.config.APIKey, posthog.Config{
		Endpoint:  m.config.Endpoint,
		Interval:  m.config.Interval,
		BatchSize: m.config.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("posthog: create client: %w", err)
	}

	m.sink = &Sink{
		client:     client,
		distinctID: m.config.DistinctID,
		exclude:    m.config.Exclude,
		logger:     m.logger,
	}
	ctx.RegisterService("telemetry.posthog", telemetry.Sink(m.sink))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.BatchSize > 1000 {
		return fmt.Errorf("posthog: batch_size must be at most 1000, got %d", m.config.BatchSize)
	}
	return nil
}

// Stop implements core.Stopper. Close flushes buffered events.
func (m *Module) Stop(_ context.Context) error {
	if m.sink == nil {
		return nil
	}
	return m.sink.client.Close()
}
