// Package stdio launches MCP servers as child processes and bridges their
// tools into the tool registry, one tool set per server.
package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/mcpbridge"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Version is reported to servers in the initialize handshake.
var Version = "dev"

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// Timeout bounds the handshake and the initial tool listing.
	// Defaults to 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds the module configuration.
type Config struct {
	Servers map[string]ServerConfig `yaml:"servers"`
}

func (c *Config) defaults() {
	for name, srv := range c.Servers {
		if srv.Timeout <= 0 {
			srv.Timeout = 30 * time.Second
		}
		c.Servers[name] = srv
	}
}

// conn is a connected MCP server.
type conn interface {
	mcpbridge.Client
	io.Closer
}

// dialFunc starts a server and completes the initialize handshake.
type dialFunc func(ctx context.Context, cfg ServerConfig, env []string) (conn, error)

// Module is the MCP stdio module.
type Module struct {
	config      Config
	logger      *slog.Logger
	credentials *security.CredentialStore
	bridge      *mcpbridge.Bridge
	dial        dialFunc

	mu    sync.Mutex
	conns map[string]conn
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "mcp.stdio",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("mcp.stdio: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. It needs the "tool.registry"
// service.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	registry, ok := core.Service[*tool.Registry](ctx, "tool.registry")
	if !ok {
		return errors.New("mcp.stdio: tool.registry service not found")
	}
	if creds, ok := core.Service[*security.CredentialStore](ctx, "security.credentials"); ok {
		m.credentials = creds
	}
	m.bridge = mcpbridge.New(registry, m.logger)
	if m.dial == nil {
		m.dial = dialStdio
	}
	m.conns = make(map[string]conn)

	ctx.RegisterService("mcp.bridge", m.bridge)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	for name, srv := range m.config.Servers {
		if name == "" {
			return errors.New("mcp.stdio: server name must not be empty")
		}
		if srv.Command == "" {
			return fmt.Errorf("mcp.stdio: server %s: command is required", name)
		}
	}
	return nil
}

// Start implements core.Starter. Servers that fail to start are logged and
// skipped; the others are still bridged.
func (m *Module) Start() error {
	for _, name := range slices.Sorted(maps.Keys(m.config.Servers)) {
		if err := m.connect(name, m.config.Servers[name]); err != nil {
			m.logger.Error("mcp server unavailable", "server", name, "error", err)
		}
	}
	return nil
}

func (m *Module) connect(name string, srv ServerConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), srv.Timeout)
	defer cancel()

	env, err := security.SubprocessEnv(m.credentials, srv.Env)
	if err != nil {
		return err
	}
	c, err := m.dial(ctx, srv, env)
	if err != nil {
		return err
	}
	if _, err := m.bridge.AddServer(ctx, name, c); err != nil {
		_ = c.Close()
		return err
	}

	m.mu.Lock()
	m.conns[name] = c
	m.mu.Unlock()
	return nil
}

// Servers returns the names of the connected servers.
func (m *Module) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.conns))
}

// Stop implements core.Stopper. Tools are unregistered before the server
// processes are closed.
func (m *Module) Stop(_ context.Context) error {
	if m.bridge != nil {
		m.bridge.Close()
	}
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]conn)
	m.mu.Unlock()

	var errs []error
	for name, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp.stdio: close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func dialStdio(ctx context.Context, srv ServerConfig, env []string) (conn, error) {
	c, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", srv.Command, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "toolhost", Version: Version}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}
