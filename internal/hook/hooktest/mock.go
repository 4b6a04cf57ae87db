// Package hooktest provides a recording hook for pipeline tests.
package hooktest

import (
	"context"
	"slices"
	"sync"

	"github.com/flemzord/toolhost/internal/hook"
)

// Recorder is a hook that remembers every context it ran with. Do, when
// set, decides the action; otherwise the pipeline continues.
type Recorder struct {
	At    hook.Position
	Order int
	Do    func(ctx context.Context, hctx *hook.Context) (hook.Action, error)

	mu   sync.Mutex
	seen []hook.Context
}

var _ hook.Hook = (*Recorder)(nil)

// Position implements hook.Hook.
func (r *Recorder) Position() hook.Position { return r.At }

// Priority implements hook.Hook.
func (r *Recorder) Priority() int { return r.Order }

// Execute implements hook.Hook. The context is recorded before Do runs.
func (r *Recorder) Execute(ctx context.Context, hctx *hook.Context) (hook.Action, error) {
	r.mu.Lock()
	r.seen = append(r.seen, *hctx)
	r.mu.Unlock()

	if r.Do == nil {
		return hook.ActionContinue, nil
	}
	return r.Do(ctx, hctx)
}

// Seen returns the recorded contexts, oldest first.
func (r *Recorder) Seen() []hook.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.seen)
}

// Last returns the most recent recorded context.
func (r *Recorder) Last() (hook.Context, bool) {
	seen := r.Seen()
	if len(seen) == 0 {
		return hook.Context{}, false
	}
	return seen[len(seen)-1], true
}
