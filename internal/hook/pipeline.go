package hook

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Pipeline runs hooks grouped by position, ordered by priority then by
// registration order. A nil *Pipeline runs nothing.
type Pipeline struct {
	mu    sync.RWMutex
	hooks map[Position][]Hook
	// order tracks registration sequence for stable sorting.
	order map[Hook]int
	seq   int
}

// NewPipeline creates a new empty hook pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		hooks: make(map[Position][]Hook),
		order: make(map[Hook]int),
	}
}

// Register adds a hook to the pipeline. Hooks within the same position
// are sorted by priority (ascending), with registration order as tiebreaker.
func (p *Pipeline) Register(h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := h.Position()
	p.order[h] = p.seq
	p.seq++

	// Copy on write: running pipelines iterate the previous slice.
	hooks := append(slices.Clone(p.hooks[pos]), h)
	slices.SortStableFunc(hooks, func(a, b Hook) int {
		if c := cmp.Compare(a.Priority(), b.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(p.order[a], p.order[b])
	})
	p.hooks[pos] = hooks
}

// Unregister removes h. It reports whether h was registered.
func (p *Pipeline) Unregister(h Hook) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.order[h]; !ok {
		return false
	}
	delete(p.order, h)
	pos := h.Position()
	p.hooks[pos] = slices.DeleteFunc(slices.Clone(p.hooks[pos]), func(x Hook) bool { return x == h })
	return true
}

func (p *Pipeline) snapshot(pos Position) []Hook {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hooks[pos]
}

// RunBeforeInvoke executes BeforeInvoke hooks in order. It short-circuits
// on ActionDrop and returns ActionModify if any hook rewrote the
// parameters. Errors are logged but don't stop execution.
func (p *Pipeline) RunBeforeInvoke(ctx context.Context, hctx *Context) Action {
	hctx.Position = BeforeInvoke
	modified := false
	for _, h := range p.snapshot(BeforeInvoke) {
		action, err := h.Execute(ctx, hctx)
		logHookError(hctx, err, h)
		switch action {
		case ActionDrop:
			return ActionDrop
		case ActionModify:
			modified = true
		}
	}
	if modified {
		return ActionModify
	}
	return ActionContinue
}

// RunAfterInvoke executes AfterInvoke hooks in order and returns
// ActionModify if any hook rewrote the result.
func (p *Pipeline) RunAfterInvoke(ctx context.Context, hctx *Context) Action {
	hctx.Position = AfterInvoke
	modified := false
	for _, h := range p.snapshot(AfterInvoke) {
		action, err := h.Execute(ctx, hctx)
		logHookError(hctx, err, h)
		if action == ActionModify {
			modified = true
		}
	}
	if modified {
		return ActionModify
	}
	return ActionContinue
}

// RunAfterComplete executes all AfterComplete hooks. Fire-and-forget:
// errors are logged internally and never propagated to the caller.
func (p *Pipeline) RunAfterComplete(ctx context.Context, hctx *Context) {
	hctx.Position = AfterComplete
	for _, h := range p.snapshot(AfterComplete) {
		_, err := h.Execute(ctx, hctx)
		logHookError(hctx, err, h)
	}
}

func logHookError(hctx *Context, err error, h Hook) {
	if err == nil || hctx.Logger == nil {
		return
	}
	hctx.Logger.Warn("hook error",
		"position", hctx.Position,
		"tool", hctx.Tool.ID,
		"priority", h.Priority(),
		"error", err,
	)
}
