package remote

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/flemzord/toolhost/internal/tool"
)

const defaultDialAttempts = 10

// HostConfig configures an extension host.
type HostConfig struct {
	// URL of the manager endpoint, e.g. ws://localhost:7331/ws/exthost.
	URL         string
	Token       string
	Name        string
	ExtensionID string

	// DialAttempts bounds the attempts of each (re)connection. Zero
	// means 10.
	DialAttempts uint

	// MaxMessageSize bounds incoming frames. Zero means
	// security.DefaultMaxPayloadBytes.
	MaxMessageSize int

	Logger *slog.Logger
}

// ActivateFunc handles an activation event forwarded by the manager.
type ActivateFunc func(ctx context.Context, event string) error

type localTool struct {
	data tool.Data
	impl tool.Implementation
}

// Host serves local tool implementations to a Manager. Tools may be added
// and removed while connected.
type Host struct {
	cfg    HostConfig
	logger *slog.Logger

	mu       sync.Mutex
	tools    map[string]localTool
	activate ActivateFunc
	peer     *peer
	hostID   string
	// cancel funcs of requests being served, by envelope ID.
	running map[string]context.CancelFunc
}

// NewHost creates a host. Call Run to connect.
func NewHost(cfg HostConfig) *Host {
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = defaultDialAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		cfg:     cfg,
		logger:  logger.With("component", "remote.host", "extension", cfg.ExtensionID),
		tools:   make(map[string]localTool),
		running: make(map[string]context.CancelFunc),
	}
}

// OnActivate sets the handler for activation events.
func (h *Host) OnActivate(fn ActivateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activate = fn
}

// AddTool adds a local tool. When connected it is registered with the
// manager right away, otherwise on the next connection.
func (h *Host) AddTool(ctx context.Context, d tool.Data, impl tool.Implementation) error {
	if d.ID == "" {
		return tool.ErrEmptyToolID
	}
	h.mu.Lock()
	if _, ok := h.tools[d.ID]; ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", tool.ErrDuplicateTool, d.ID)
	}
	h.tools[d.ID] = localTool{data: d, impl: impl}
	p := h.peer
	h.mu.Unlock()

	if p == nil {
		return nil
	}
	_, err := p.request(ctx, MsgRegisterTools, RegisterTools{Tools: []tool.Data{d}}, nil)
	return err
}

// RemoveTool removes a local tool and unregisters it when connected.
func (h *Host) RemoveTool(ctx context.Context, id string) error {
	h.mu.Lock()
	_, ok := h.tools[id]
	delete(h.tools, id)
	p := h.peer
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", tool.ErrUnknownTool, id)
	}
	if p == nil {
		return nil
	}
	_, err := p.request(ctx, MsgUnregisterTool, UnregisterTool{ToolID: id}, nil)
	return err
}

// HostID returns the ID the manager assigned on the current connection,
// or "" when disconnected.
func (h *Host) HostID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hostID
}

// Run connects and serves until ctx ends, reconnecting when the
// connection drops. It returns when ctx is done or a connection cannot be
// established.
func (h *Host) Run(ctx context.Context) error {
	for {
		p, err := h.connect(ctx)
		if err != nil {
			return err
		}
		err = h.serve(ctx, p)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn("connection to manager lost, reconnecting", "error", err)
	}
}

// connect dials the manager with exponential backoff, says hello and
// registers every local tool. A rejected hello is not retried.
func (h *Host) connect(ctx context.Context) (*peer, error) {
	return backoff.Retry(ctx, func() (*peer, error) {
		return h.dial(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(h.cfg.DialAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Warn("connect to manager failed", "error", err, "retry_in", next)
		}),
	)
}

func (h *Host) dial(ctx context.Context) (*peer, error) {
	conn, _, err := websocket.Dial(ctx, h.cfg.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{"toolhost-exthost"}},
	})
	if err != nil {
		return nil, err
	}
	p := newPeer(conn, h.cfg.MaxMessageSize, h.logger)

	ack, err := h.hello(ctx, p)
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	p.hostID = ack.HostID
	h.logger.Info("connected to manager", "host_id", ack.HostID)
	return p, nil
}

// hello runs the handshake before the read loop exists, so it reads the
// acknowledgement directly.
func (h *Host) hello(ctx context.Context, p *peer) (HelloAck, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloReadTimeout)
	defer cancel()

	err := p.send(helloCtx, MsgHello, "hello", Hello{
		Token:       h.cfg.Token,
		Name:        h.cfg.Name,
		ExtensionID: h.cfg.ExtensionID,
	}, nil)
	if err != nil {
		return HelloAck{}, err
	}
	f, err := p.read(helloCtx)
	if err != nil {
		return HelloAck{}, fmt.Errorf("read hello_ack: %w", err)
	}
	if f.env.Type == MsgError {
		return HelloAck{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrHelloRejected, decodeError(f.env.Payload)))
	}
	ack, err := decodePayload[HelloAck](f)
	if err != nil {
		return HelloAck{}, backoff.Permanent(err)
	}
	if !ack.Accepted {
		return HelloAck{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrHelloRejected, ack.Reason))
	}
	return ack, nil
}

// serve registers local tools and runs the read loop until the
// connection ends.
func (h *Host) serve(ctx context.Context, p *peer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		err := h.readLoop(ctx, p)
		p.close(ErrConnectionClosed)
		errc <- err
	}()

	// Publishing the peer and snapshotting the tools under one lock means
	// a concurrent AddTool is registered exactly once.
	h.mu.Lock()
	h.peer = p
	h.hostID = p.hostID
	tools := h.localToolsLocked()
	h.mu.Unlock()

	if len(tools) > 0 {
		if _, err := p.request(ctx, MsgRegisterTools, RegisterTools{Tools: tools}, nil); err != nil {
			h.logger.Error("register tools failed", "error", err)
		}
	}

	err := <-errc

	h.mu.Lock()
	if h.peer == p {
		h.peer = nil
		h.hostID = ""
	}
	running := h.running
	h.running = make(map[string]context.CancelFunc)
	h.mu.Unlock()
	for _, cancel := range running {
		cancel()
	}

	if ctx.Err() != nil {
		_ = p.conn.Close(websocket.StatusNormalClosure, "")
	} else {
		_ = p.conn.CloseNow()
	}
	return err
}

// Close drops the current connection. Run reconnects unless its context
// is done.
func (h *Host) Close() error {
	h.mu.Lock()
	p := h.peer
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.conn.Close(websocket.StatusNormalClosure, "host closing")
}

func (h *Host) localToolsLocked() []tool.Data {
	out := make([]tool.Data, 0, len(h.tools))
	for _, t := range h.tools {
		out = append(out, t.data)
	}
	slices.SortFunc(out, func(a, b tool.Data) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (h *Host) readLoop(ctx context.Context, p *peer) error {
	for {
		f, err := p.read(ctx)
		if err != nil {
			return err
		}

		switch f.env.Type {
		case MsgResult, MsgError:
			p.deliver(f)
		case MsgInvokeTool:
			h.spawn(ctx, p, f, h.handleInvoke)
		case MsgPrepareInvocation:
			h.spawn(ctx, p, f, h.handlePrepare)
		case MsgActivate:
			h.spawn(ctx, p, f, h.handleActivate)
		case MsgCancel:
			h.mu.Lock()
			cancel, ok := h.running[f.env.ID]
			h.mu.Unlock()
			if ok {
				cancel()
			}
		default:
			h.logger.Warn("unexpected message type from manager", "type", f.env.Type)
			p.sendError(ctx, f.env.ID, CodeInvalid, "unexpected message type "+string(f.env.Type))
		}
	}
}

// spawn serves one request in its own goroutine with a context the
// manager can cancel.
func (h *Host) spawn(ctx context.Context, p *peer, f frame, handle func(context.Context, *peer, frame)) {
	reqCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.running[f.env.ID] = cancel
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.running, f.env.ID)
			h.mu.Unlock()
			cancel()
		}()
		handle(reqCtx, p, f)
	}()
}

func (h *Host) lookup(id string) (localTool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tools[id]
	return t, ok
}

func (h *Host) handleInvoke(ctx context.Context, p *peer, f frame) {
	// Replies go out on the connection context so a cancelled call can
	// still report its outcome.
	replyCtx := context.WithoutCancel(ctx)

	call, err := decodePayload[tool.Call](f)
	if err != nil {
		p.sendError(replyCtx, f.env.ID, CodeInvalid, err.Error())
		return
	}
	lt, ok := h.lookup(call.ToolID)
	if !ok || lt.impl == nil {
		p.sendError(replyCtx, f.env.ID, CodeNotImplemented, "no implementation for "+call.ToolID)
		return
	}

	countTokens := func(ctx context.Context, input string) (int, error) {
		rf, err := p.request(ctx, MsgCountTokens, CountTokens{CallID: call.CallID, Input: input}, nil)
		if err != nil {
			return 0, err
		}
		res, err := decodePayload[CountTokensResult](rf)
		return res.Tokens, err
	}
	progress := func(step tool.ProgressStep) {
		if err := p.send(ctx, MsgToolProgress, f.env.ID, ToolProgress{CallID: call.CallID, Step: step}, nil); err != nil {
			h.logger.Debug("write progress failed", "call_id", call.CallID, "error", err)
		}
	}

	result, err := h.invokeSafe(ctx, lt.impl, call, countTokens, progress)
	if err != nil {
		p.sendError(replyCtx, f.env.ID, errorCode(err), err.Error())
		return
	}
	w, attachments, err := encodeResult(result)
	if err != nil {
		p.sendError(replyCtx, f.env.ID, CodeInternal, err.Error())
		return
	}
	if err := p.send(replyCtx, MsgResult, f.env.ID, w, attachments); err != nil {
		h.logger.Warn("write result failed", "call_id", call.CallID, "error", err)
	}
}

func (h *Host) invokeSafe(ctx context.Context, impl tool.Implementation, call tool.Call, countTokens tool.CountTokensFunc, progress tool.ProgressSink) (result *tool.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.ToolID, r)
		}
	}()
	result, err = impl.Invoke(ctx, call, countTokens, progress)
	if err == nil && ctx.Err() != nil {
		err = errors.Join(tool.ErrCancelled, context.Cause(ctx))
	}
	return result, err
}

func (h *Host) handlePrepare(ctx context.Context, p *peer, f frame) {
	req, err := decodePayload[PrepareInvocation](f)
	if err != nil {
		p.sendError(ctx, f.env.ID, CodeInvalid, err.Error())
		return
	}
	lt, ok := h.lookup(req.ToolID)
	if !ok || lt.impl == nil {
		p.sendError(ctx, f.env.ID, CodeNotImplemented, "no implementation for "+req.ToolID)
		return
	}
	prepared, err := lt.impl.PrepareInvocation(ctx, req.Context)
	if err != nil {
		p.sendError(ctx, f.env.ID, errorCode(err), err.Error())
		return
	}
	p.reply(ctx, f.env.ID, prepared)
}

func (h *Host) handleActivate(ctx context.Context, p *peer, f frame) {
	req, err := decodePayload[Activate](f)
	if err != nil {
		p.sendError(ctx, f.env.ID, CodeInvalid, err.Error())
		return
	}
	h.mu.Lock()
	activate := h.activate
	h.mu.Unlock()
	if activate != nil {
		if err := activate(ctx, req.Event); err != nil {
			p.sendError(ctx, f.env.ID, errorCode(err), err.Error())
			return
		}
	}
	p.reply(ctx, f.env.ID, nil)
}
