package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit kinds.
const (
	KindToolCall        = "tool_call"         // all tool calls
	KindSessionToolCall = "session_tool_call" // tool calls of one chat session
	KindHostFrame       = "host_frame"        // frames received from one extension host
	KindAuth            = "auth"              // admin API auth attempts from one remote address
)

// RateLimitConfig holds configurable rate limits. Zero means unlimited.
type RateLimitConfig struct {
	ToolCallsPerMin        int `yaml:"tool_calls_per_min"`
	SessionToolCallsPerMin int `yaml:"session_tool_calls_per_min"`
	HostFramesPerSec       int `yaml:"host_frames_per_sec"`
	AuthAttemptsPerMin     int `yaml:"auth_attempts_per_min"`
}

// DefaultRateLimitConfig returns the limits used when none are configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		ToolCallsPerMin:        600,
		SessionToolCallsPerMin: 120,
		HostFramesPerSec:       500,
		AuthAttemptsPerMin:     30,
	}
}

type limit struct {
	window time.Duration
	max    int
}

// RateLimiter is a sliding-window limiter with one window per
// (kind, key) pair.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]limit
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

type bucketKey struct {
	kind string
	key  string
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		limits:  make(map[string]limit),
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
	if cfg.ToolCallsPerMin > 0 {
		rl.limits[KindToolCall] = limit{window: time.Minute, max: cfg.ToolCallsPerMin}
	}
	if cfg.SessionToolCallsPerMin > 0 {
		rl.limits[KindSessionToolCall] = limit{window: time.Minute, max: cfg.SessionToolCallsPerMin}
	}
	if cfg.HostFramesPerSec > 0 {
		rl.limits[KindHostFrame] = limit{window: time.Second, max: cfg.HostFramesPerSec}
	}
	if cfg.AuthAttemptsPerMin > 0 {
		rl.limits[KindAuth] = limit{window: time.Minute, max: cfg.AuthAttemptsPerMin}
	}
	return rl
}

// Allow records one event of kind for key, or returns ErrRateLimited when
// the window is full. Kinds without a configured limit always pass.
func (rl *RateLimiter) Allow(kind, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limits[kind]
	if !ok {
		return nil
	}
	k := bucketKey{kind, key}
	b := rl.buckets[k]
	if b == nil {
		b = &bucket{}
		rl.buckets[k] = b
	}

	now := rl.now()
	b.evict(now.Add(-l.window))
	if len(b.events) >= l.max {
		return ErrRateLimited
	}
	b.events = append(b.events, now)
	return nil
}

// Forget drops the window of key, e.g. when a session or host goes away.
func (rl *RateLimiter) Forget(kind, key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, bucketKey{kind, key})
}

// evict removes events older than cutoff.
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
