package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/orchestrator"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Manager{})
}

const (
	defaultPingInterval = 30 * time.Second
	defaultMaxHosts     = 10
	helloReadTimeout    = 10 * time.Second
)

// ManagerConfig holds YAML configuration for the remote manager module.
type ManagerConfig struct {
	Tokens         []string `yaml:"tokens"`
	PingInterval   string   `yaml:"ping_interval"`
	MaxHosts       int      `yaml:"max_hosts"`
	// PrepareTimeout bounds a host's prepare reply. Empty means no
	// deadline: a slow host only makes the call unresponsive.
	PrepareTimeout string   `yaml:"prepare_timeout"`
	MaxMessageSize int      `yaml:"max_message_size"`
}

// defaults fills zero values with sensible defaults.
func (c *ManagerConfig) defaults() {
	if c.PingInterval == "" {
		c.PingInterval = "30s"
	}
	if c.MaxHosts <= 0 {
		c.MaxHosts = defaultMaxHosts
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8 << 20
	}
}

// Manager accepts extension hosts over WebSocket, registers the tools
// they announce and proxies calls to them. It implements core.Module and
// related lifecycle interfaces, http.Handler and orchestrator.Activator.
type Manager struct {
	config         ManagerConfig
	logger         *slog.Logger
	registry       *tool.Registry
	audit          *security.AuditLogger
	limiter        *security.RateLimiter
	hosts          *hostStore
	tokens         map[string]struct{}
	pingInterval   time.Duration
	prepareTimeout time.Duration
	cancel         context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Manager) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "remote.manager",
		New: func() core.Module { return &Manager{} },
	}
}

// Configure implements core.Configurable.
func (m *Manager) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Manager) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.hosts = newHostStore()

	registry, ok := core.Service[*tool.Registry](ctx, "tool.registry")
	if !ok {
		return errors.New("remote: tool.registry service is not available")
	}
	m.registry = registry
	m.audit, _ = core.Service[*security.AuditLogger](ctx, "security.audit")
	m.limiter, _ = core.Service[*security.RateLimiter](ctx, "security.ratelimiter")

	var err error
	m.pingInterval, err = time.ParseDuration(m.config.PingInterval)
	if err != nil {
		return fmt.Errorf("remote: invalid ping_interval %q: %w", m.config.PingInterval, err)
	}
	if m.config.PrepareTimeout != "" {
		m.prepareTimeout, err = time.ParseDuration(m.config.PrepareTimeout)
		if err != nil {
			return fmt.Errorf("remote: invalid prepare_timeout %q: %w", m.config.PrepareTimeout, err)
		}
	}

	m.tokens = make(map[string]struct{}, len(m.config.Tokens))
	for _, t := range m.config.Tokens {
		m.tokens[t] = struct{}{}
	}

	if orch, ok := core.Service[*orchestrator.Service](ctx, "orchestrator"); ok {
		orch.SetActivator(m)
	}

	ctx.RegisterService("remote.manager", m)
	ctx.RegisterService("remote.handler", http.Handler(m))
	return nil
}

// Validate implements core.Validator.
func (m *Manager) Validate() error {
	if len(m.tokens) == 0 {
		return errors.New("remote: at least one token is required")
	}
	return nil
}

// Start implements core.Starter. It launches the ping loop.
func (m *Manager) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go m.pingLoop(ctx)

	m.logger.Info("remote manager started",
		"ping_interval", m.pingInterval,
		"max_hosts", m.config.MaxHosts,
	)
	return nil
}

// Stop implements core.Stopper. It closes every host connection; their
// tools are unregistered as the read loops exit.
func (m *Manager) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	for _, h := range m.hosts.Snapshot() {
		_ = h.peer.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	m.logger.Info("remote manager stopped")
	return nil
}

// Hosts returns the number of connected hosts.
func (m *Manager) Hosts() int {
	return m.hosts.Len()
}

// ServeHTTP runs the connection lifecycle of one extension host:
// hello -> read loop -> cleanup.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.CloseNow()
	}()

	h := newRemoteHost(newPeer(conn, m.config.MaxMessageSize, m.logger))
	if err := m.handleHello(r.Context(), h); err != nil {
		m.logger.Warn("host hello failed", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "hello rejected")
		return
	}
	h.peer.logger = m.logger.With("host_id", h.ID)

	m.logger.Info("extension host connected",
		"host_id", h.ID,
		"name", h.Name,
		"extension", h.ExtensionID,
	)
	m.logAudit(security.AuditEvent{Type: security.EventHostConnect, HostID: h.ID, Detail: h.ExtensionID})

	err = m.readLoop(r.Context(), h)

	h.peer.close(ErrConnectionClosed)
	m.hosts.Remove(h.ID)
	h.removeAllTools()
	if m.limiter != nil {
		m.limiter.Forget(security.KindHostFrame, h.ID)
	}
	m.logger.Info("extension host disconnected", "host_id", h.ID, "reason", err)
	m.logAudit(security.AuditEvent{Type: security.EventHostLeave, HostID: h.ID, Detail: h.ExtensionID})

	if errors.Is(err, ErrProtocol) {
		_ = conn.Close(websocket.StatusProtocolError, "protocol violation")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) handleHello(ctx context.Context, h *remoteHost) error {
	helloCtx, cancel := context.WithTimeout(ctx, helloReadTimeout)
	defer cancel()

	f, err := h.peer.read(helloCtx)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.env.Type != MsgHello {
		h.peer.sendError(ctx, f.env.ID, CodeInvalid, "expected hello")
		return fmt.Errorf("%w: expected hello, got %s", ErrProtocol, f.env.Type)
	}
	hello, err := decodePayload[Hello](f)
	if err != nil {
		h.peer.sendError(ctx, f.env.ID, CodeInvalid, "invalid hello payload")
		return err
	}

	if _, ok := m.tokens[hello.Token]; !ok {
		m.logAudit(security.AuditEvent{Type: security.EventAuthFailure, Detail: "remote host " + hello.Name})
		h.peer.reply(ctx, f.env.ID, HelloAck{Reason: "invalid token"})
		return ErrInvalidToken
	}
	if hello.ExtensionID == "" {
		h.peer.reply(ctx, f.env.ID, HelloAck{Reason: "extension_id is required"})
		return fmt.Errorf("%w: missing extension_id", ErrProtocol)
	}

	h.ID = "host-" + uuid.NewString()
	h.Name = hello.Name
	h.ExtensionID = hello.ExtensionID

	// Check and add in one step so concurrent hellos cannot exceed the limit.
	if !m.hosts.AddIfUnder(h, m.config.MaxHosts) {
		h.peer.reply(ctx, f.env.ID, HelloAck{Reason: "maximum number of hosts reached"})
		return ErrMaxHosts
	}

	h.peer.reply(ctx, f.env.ID, HelloAck{Accepted: true, HostID: h.ID})
	return nil
}

func (m *Manager) readLoop(ctx context.Context, h *remoteHost) error {
	for {
		f, err := h.peer.read(ctx)
		if err != nil {
			return err
		}

		switch f.env.Type {
		case MsgResult, MsgError, MsgToolProgress:
			if !h.peer.deliver(f) {
				m.logger.Debug("reply for unknown request", "host_id", h.ID, "id", f.env.ID, "type", f.env.Type)
			}
			continue
		}

		if m.limiter != nil {
			if err := m.limiter.Allow(security.KindHostFrame, h.ID); err != nil {
				m.logAudit(security.AuditEvent{Type: security.EventRateLimit, HostID: h.ID, Detail: string(f.env.Type)})
				h.peer.sendError(ctx, f.env.ID, CodeRateLimited, err.Error())
				continue
			}
		}

		switch f.env.Type {
		case MsgRegisterTools:
			m.handleRegister(ctx, h, f)
		case MsgUnregisterTool:
			req, err := decodePayload[UnregisterTool](f)
			if err != nil {
				h.peer.sendError(ctx, f.env.ID, CodeInvalid, err.Error())
				continue
			}
			if !h.removeTool(req.ToolID) {
				h.peer.sendError(ctx, f.env.ID, CodeInvalid, "unknown tool "+req.ToolID)
				continue
			}
			h.peer.reply(ctx, f.env.ID, nil)
		case MsgCountTokens:
			go m.handleCountTokens(ctx, h, f)
		case MsgCancel:
			// Nothing runs on this side on behalf of a host.
		default:
			m.logger.Warn("unexpected message type from host",
				"host_id", h.ID,
				"type", f.env.Type,
			)
			h.peer.sendError(ctx, f.env.ID, CodeInvalid, "unexpected message type "+string(f.env.Type))
		}
	}
}

// handleRegister registers each announced tool with a proxy
// implementation. Tools that fail to register are reported together.
func (m *Manager) handleRegister(ctx context.Context, h *remoteHost, f frame) {
	req, err := decodePayload[RegisterTools](f)
	if err != nil {
		h.peer.sendError(ctx, f.env.ID, CodeInvalid, err.Error())
		return
	}

	var errs []error
	for _, d := range req.Tools {
		d.Source = tool.ExtensionSource(h.ExtensionID)
		unregisterData, err := m.registry.RegisterToolData(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		unregisterImpl, err := m.registry.RegisterToolImplementation(d.ID, &proxyTool{manager: m, hostID: h.ID, toolID: d.ID})
		if err != nil {
			unregisterData()
			errs = append(errs, err)
			continue
		}
		h.addTool(d.ID, func() {
			unregisterImpl()
			unregisterData()
		})
		m.logger.Debug("remote tool registered", "host_id", h.ID, "tool", d.ID)
	}

	if err := errors.Join(errs...); err != nil {
		h.peer.sendError(ctx, f.env.ID, CodeInvalid, err.Error())
		return
	}
	h.peer.reply(ctx, f.env.ID, nil)
}

func (m *Manager) handleCountTokens(ctx context.Context, h *remoteHost, f frame) {
	req, err := decodePayload[CountTokens](f)
	if err != nil {
		h.peer.sendError(ctx, f.env.ID, CodeInvalid, err.Error())
		return
	}
	count, ok := h.counter(req.CallID)
	if !ok {
		h.peer.sendError(ctx, f.env.ID, CodeInvalid, "no token counter for call "+req.CallID)
		return
	}
	n, err := count(ctx, req.Input)
	if err != nil {
		h.peer.sendError(ctx, f.env.ID, errorCode(err), err.Error())
		return
	}
	h.peer.reply(ctx, f.env.ID, CountTokensResult{Tokens: n})
}

// Activate implements orchestrator.Activator by forwarding the event to
// every connected host. It returns the first host error.
func (m *Manager) Activate(ctx context.Context, event string) error {
	var g errgroup.Group
	for _, h := range m.hosts.Snapshot() {
		g.Go(func() error {
			if _, err := h.peer.request(ctx, MsgActivate, Activate{Event: event}, nil); err != nil {
				return fmt.Errorf("activate %s on host %s: %w", event, h.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range m.hosts.Snapshot() {
				go m.ping(ctx, h)
			}
		}
	}
}

func (m *Manager) ping(ctx context.Context, h *remoteHost) {
	pingCtx, cancel := context.WithTimeout(ctx, m.pingInterval)
	defer cancel()
	if err := h.peer.conn.Ping(pingCtx); err != nil && ctx.Err() == nil {
		m.logger.Warn("host ping failed, disconnecting", "host_id", h.ID, "error", err)
		_ = h.peer.conn.Close(websocket.StatusGoingAway, "ping timeout")
	}
}

func (m *Manager) logAudit(ev security.AuditEvent) {
	if m.audit != nil {
		m.audit.Log(ev)
	}
}

// proxyTool forwards Implementation calls to the host that registered
// the tool.
type proxyTool struct {
	manager *Manager
	hostID  string
	toolID  string
}

func (p *proxyTool) host() (*remoteHost, error) {
	h, ok := p.manager.hosts.Get(p.hostID)
	if !ok {
		return nil, fmt.Errorf("%w: %s (host %s disconnected)", tool.ErrToolNotImplemented, p.toolID, p.hostID)
	}
	return h, nil
}

// Invoke implements tool.Implementation.
func (p *proxyTool) Invoke(ctx context.Context, call tool.Call, countTokens tool.CountTokensFunc, progress tool.ProgressSink) (*tool.Result, error) {
	h, err := p.host()
	if err != nil {
		return nil, err
	}
	call.ToolID = p.toolID

	remove := h.setCounter(call.CallID, countTokens)
	defer remove()

	f, err := h.peer.request(ctx, MsgInvokeTool, call, progress)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return nil, fmt.Errorf("%w: %s (host %s disconnected)", tool.ErrToolNotImplemented, p.toolID, p.hostID)
		}
		return nil, err
	}
	w, err := decodePayload[WireResult](f)
	if err != nil {
		return nil, err
	}
	return decodeResult(w, f.attachments)
}

// PrepareInvocation implements tool.Implementation.
func (p *proxyTool) PrepareInvocation(ctx context.Context, pc tool.PrepareContext) (*tool.PreparedInvocation, error) {
	h, err := p.host()
	if err != nil {
		return nil, err
	}
	if d := p.manager.prepareTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	f, err := h.peer.request(ctx, MsgPrepareInvocation, PrepareInvocation{ToolID: p.toolID, Context: pc}, nil)
	if err != nil {
		return nil, err
	}
	return decodePayload[*tool.PreparedInvocation](f)
}

var (
	_ tool.Implementation    = (*proxyTool)(nil)
	_ orchestrator.Activator = (*Manager)(nil)
	_ http.Handler           = (*Manager)(nil)
)
