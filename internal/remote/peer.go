package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/google/uuid"
)

const (
	cancelWriteTimeout = 5 * time.Second
	maxAttachments     = 64
)

// frame is an envelope together with its binary attachments.
type frame struct {
	env         Envelope
	attachments [][]byte
}

type pendingRequest struct {
	ch       chan frame
	progress tool.ProgressSink
}

// peer is one side of a connection. Writes are serialized so an envelope
// and its attachments stay contiguous. Requests are correlated with
// replies by envelope ID.
type peer struct {
	conn   *websocket.Conn
	logger *slog.Logger
	limits security.PayloadLimits
	// hostID assigned by the manager's hello_ack.
	hostID string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingRequest
	done    chan struct{}
	err     error
}

func newPeer(conn *websocket.Conn, maxMessageSize int, logger *slog.Logger) *peer {
	limits := security.PayloadLimits{MaxBytes: maxMessageSize}.WithDefaults()
	conn.SetReadLimit(int64(limits.MaxBytes))
	return &peer{
		conn:    conn,
		logger:  logger,
		limits:  limits,
		pending: make(map[string]*pendingRequest),
		done:    make(chan struct{}),
	}
}

// send writes an envelope with payload and attachments.
func (p *peer) send(ctx context.Context, typ MessageType, id string, payload any, attachments [][]byte) error {
	env := Envelope{Type: typ, ID: id, Attachments: len(attachments), Timestamp: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	for i, a := range attachments {
		if err := p.conn.Write(ctx, websocket.MessageBinary, a); err != nil {
			return fmt.Errorf("write attachment %d of %s: %w", i, typ, err)
		}
	}
	return nil
}

func (p *peer) sendError(ctx context.Context, id string, code, message string) {
	if err := p.send(ctx, MsgError, id, ErrorPayload{Message: message, Code: code}, nil); err != nil {
		p.logger.Warn("write error envelope failed", "error", err)
	}
}

// reply sends v as the result of request id.
func (p *peer) reply(ctx context.Context, id string, v any) {
	if err := p.send(ctx, MsgResult, id, v, nil); err != nil {
		p.logger.Warn("write result failed", "id", id, "error", err)
	}
}

// read returns the next envelope and its attachments.
func (p *peer) read(ctx context.Context) (frame, error) {
	typ, data, err := p.conn.Read(ctx)
	if err != nil {
		return frame{}, err
	}
	if typ != websocket.MessageText {
		return frame{}, fmt.Errorf("%w: binary frame without envelope", ErrProtocol)
	}
	if err := p.limits.Check(data); err != nil {
		return frame{}, err
	}

	var f frame
	if err := json.Unmarshal(data, &f.env); err != nil {
		return frame{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if f.env.Attachments < 0 || f.env.Attachments > maxAttachments {
		return frame{}, fmt.Errorf("%w: %d attachments", ErrProtocol, f.env.Attachments)
	}
	for range f.env.Attachments {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return frame{}, err
		}
		if typ != websocket.MessageBinary {
			return frame{}, fmt.Errorf("%w: expected attachment, got text frame", ErrProtocol)
		}
		f.attachments = append(f.attachments, data)
	}
	return f, nil
}

// request sends a message and waits for its result or error envelope.
// Progress envelopes for the request go to progress. When ctx ends first
// a cancel envelope is sent and the context cause is returned.
func (p *peer) request(ctx context.Context, typ MessageType, payload any, progress tool.ProgressSink) (frame, error) {
	id := uuid.NewString()
	pr := &pendingRequest{ch: make(chan frame, 1), progress: progress}

	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return frame{}, err
	}
	p.pending[id] = pr
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(ctx, typ, id, payload, nil); err != nil {
		return frame{}, err
	}

	select {
	case f := <-pr.ch:
		if f.env.Type == MsgError {
			return f, decodeError(f.env.Payload)
		}
		return f, nil
	case <-p.done:
		return frame{}, p.closeErr()
	case <-ctx.Done():
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelWriteTimeout)
		defer cancel()
		if err := p.send(sendCtx, MsgCancel, id, nil, nil); err != nil {
			p.logger.Debug("write cancel failed", "id", id, "error", err)
		}
		return frame{}, context.Cause(ctx)
	}
}

// deliver routes a result, error or progress envelope to the request
// waiting for it. It reports false when nothing is waiting.
func (p *peer) deliver(f frame) bool {
	p.mu.Lock()
	pr, ok := p.pending[f.env.ID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	if f.env.Type == MsgToolProgress {
		var tp ToolProgress
		if err := json.Unmarshal(f.env.Payload, &tp); err != nil {
			p.logger.Warn("invalid tool_progress", "id", f.env.ID, "error", err)
			return true
		}
		if pr.progress != nil {
			pr.progress(tp.Step)
		}
		return true
	}

	// Duplicate or late replies are dropped.
	select {
	case pr.ch <- f:
	default:
	}
	return true
}

// close fails every pending request with err. Later requests fail
// immediately.
func (p *peer) close(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	close(p.done)
}

func (p *peer) closeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func decodeError(raw json.RawMessage) error {
	var ep ErrorPayload
	if err := json.Unmarshal(raw, &ep); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &RemoteError{Code: ep.Code, Message: ep.Message}
}

func decodePayload[T any](f frame) (T, error) {
	var v T
	if len(f.env.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(f.env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %w", ErrProtocol, f.env.Type, err)
	}
	return v, nil
}
