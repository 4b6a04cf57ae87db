// Package debounce coalesces bursts of change notifications into a single
// delayed callback.
package debounce

import (
	"sync"
	"time"
)

// Scheduler runs a callback once after a delay. Scheduling while a run is
// already pending does nothing; Flush runs a pending callback immediately.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	pending bool
	gen     uint64

	// runMu keeps callback invocations from overlapping.
	runMu sync.Mutex
}

// NewScheduler creates a Scheduler that calls fn delay after Schedule.
func NewScheduler(delay time.Duration, fn func()) *Scheduler {
	return &Scheduler{delay: delay, fn: fn}
}

// Schedule arms the timer unless a run is already pending.
func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return
	}
	s.pending = true
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

// IsScheduled reports whether a run is pending.
func (s *Scheduler) IsScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Flush cancels the pending timer and runs the callback synchronously.
// It does nothing when no run is pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.mu.Unlock()

	s.run()
}

// Cancel drops a pending run without invoking the callback.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	s.gen++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	// A Flush or Cancel after the timer fired but before we got the lock
	// bumps the generation.
	if !s.pending || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	s.run()
}

func (s *Scheduler) run() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.fn()
}
