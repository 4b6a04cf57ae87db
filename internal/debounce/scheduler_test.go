package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_CoalescesBursts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := NewScheduler(30*time.Millisecond, func() { calls.Add(1) })

	for range 10 {
		s.Schedule()
	}
	if !s.IsScheduled() {
		t.Fatal("expected a pending run")
	}

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if s.IsScheduled() {
		t.Fatal("no run should be pending after firing")
	}
}

func TestScheduler_FlushRunsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := NewScheduler(time.Hour, func() { calls.Add(1) })

	s.Flush()
	if got := calls.Load(); got != 0 {
		t.Fatalf("Flush without pending run invoked callback %d times", got)
	}

	s.Schedule()
	s.Flush()
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d after Flush, want 1", got)
	}

	s.Flush()
	if got := calls.Load(); got != 1 {
		t.Fatalf("second Flush should be a no-op, calls = %d", got)
	}
}

func TestScheduler_CancelDropsRun(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := NewScheduler(20*time.Millisecond, func() { calls.Add(1) })

	s.Schedule()
	s.Cancel()
	time.Sleep(60 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d after Cancel, want 0", got)
	}
}

func TestScheduler_RescheduleAfterFire(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s := NewScheduler(10*time.Millisecond, func() { calls.Add(1) })

	s.Schedule()
	time.Sleep(50 * time.Millisecond)
	s.Schedule()
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}
