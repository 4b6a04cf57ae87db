package approval

import (
	"sync"
	"time"
)

// DefaultGrantTTL bounds how long an "allow for this session" answer lasts.
const DefaultGrantTTL = 30 * time.Minute

type grantKey struct {
	session string
	tool    string
}

// SessionGrants tracks tools the user allowed for the rest of a chat
// session. Grants expire after their TTL.
type SessionGrants struct {
	mu    sync.Mutex
	until map[grantKey]time.Time
	now   func() time.Time // injectable for testing
}

// NewSessionGrants creates an empty grant table using real time.
func NewSessionGrants() *SessionGrants {
	return &SessionGrants{
		until: make(map[grantKey]time.Time),
		now:   time.Now,
	}
}

// Grant allows toolID in sessionID for ttl. A non-positive ttl uses
// DefaultGrantTTL.
func (g *SessionGrants) Grant(sessionID, toolID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until[grantKey{sessionID, toolID}] = g.now().Add(ttl)
}

// Revoke removes a single grant.
func (g *SessionGrants) Revoke(sessionID, toolID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.until, grantKey{sessionID, toolID})
}

// RevokeSession removes every grant of sessionID.
func (g *SessionGrants) RevokeSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.until {
		if k.session == sessionID {
			delete(g.until, k)
		}
	}
}

// IsGranted reports whether toolID is currently allowed in sessionID.
// Expired grants are dropped.
func (g *SessionGrants) IsGranted(sessionID, toolID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := grantKey{sessionID, toolID}
	until, ok := g.until[k]
	if !ok {
		return false
	}
	if !g.now().Before(until) {
		delete(g.until, k)
		return false
	}
	return true
}

// Sweep drops expired grants and returns how many were removed.
func (g *SessionGrants) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for k, until := range g.until {
		if !now.Before(until) {
			delete(g.until, k)
			n++
		}
	}
	return n
}
