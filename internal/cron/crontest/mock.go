// Package crontest provides fakes for the stores housekeeping jobs
// clean up.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/toolhost/internal/cron"
)

// Sessions fakes cron.SessionPruner. Every call prunes Pruned sessions.
type Sessions struct {
	Pruned int

	mu       sync.Mutex
	maxIdles []time.Duration
}

// Prune implements cron.SessionPruner.
func (s *Sessions) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxIdles = append(s.maxIdles, maxIdle)
	return s.Pruned
}

// MaxIdles returns the idle limit of every Prune call.
func (s *Sessions) MaxIdles() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.maxIdles...)
}

// Grants fakes cron.GrantSweeper. Every call sweeps Swept grants.
type Grants struct {
	Swept int

	mu    sync.Mutex
	calls int
}

// Sweep implements cron.GrantSweeper.
func (g *Grants) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.Swept
}

// Calls returns the number of Sweep calls.
func (g *Grants) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// History fakes cron.HistoryPruner. Every call returns Pruned and Err.
type History struct {
	Pruned int
	Err    error

	mu    sync.Mutex
	calls int
}

// PruneExpired implements cron.HistoryPruner.
func (h *History) PruneExpired(context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.Pruned, h.Err
}

// Calls returns the number of PruneExpired calls.
func (h *History) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

var (
	_ cron.SessionPruner = (*Sessions)(nil)
	_ cron.GrantSweeper  = (*Grants)(nil)
	_ cron.HistoryPruner = (*History)(nil)
)
