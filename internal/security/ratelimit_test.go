package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{ToolCallsPerMin: 5})

	for i := range 5 {
		if err := rl.Allow(KindToolCall, ""); err != nil {
			t.Fatalf("Allow(%d) returned error: %v", i, err)
		}
	}

	if err := rl.Allow(KindToolCall, ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimitConfig{SessionToolCallsPerMin: 2})
	rl.now = func() time.Time { return now }

	_ = rl.Allow(KindSessionToolCall, "s1")
	_ = rl.Allow(KindSessionToolCall, "s1")

	if err := rl.Allow(KindSessionToolCall, "s1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	now = now.Add(61 * time.Second)

	if err := rl.Allow(KindSessionToolCall, "s1"); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{SessionToolCallsPerMin: 1})
	if err := rl.Allow(KindSessionToolCall, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow(KindSessionToolCall, "s2"); err != nil {
		t.Fatalf("other session should have its own window: %v", err)
	}
	if err := rl.Allow(KindSessionToolCall, "s1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit for s1")
	}

	rl.Forget(KindSessionToolCall, "s1")
	if err := rl.Allow(KindSessionToolCall, "s1"); err != nil {
		t.Fatalf("forgotten key should start fresh: %v", err)
	}
}

func TestRateLimiter_UnconfiguredKind(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{})
	for range 1000 {
		if err := rl.Allow(KindHostFrame, "h"); err != nil {
			t.Fatalf("unconfigured kind should be unlimited, got %v", err)
		}
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultRateLimitConfig()
	if cfg.ToolCallsPerMin == 0 || cfg.SessionToolCallsPerMin == 0 || cfg.HostFramesPerSec == 0 || cfg.AuthAttemptsPerMin == 0 {
		t.Fatalf("defaults should set every limit: %+v", cfg)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(RateLimitConfig{ToolCallsPerMin: 50})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(KindToolCall, "") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("allowed = %d, want 50", allowed)
	}
}
