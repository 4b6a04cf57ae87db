package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryService keeps sessions in process memory.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*MemorySession
	logger   *slog.Logger
	now      func() time.Time // injectable for testing
}

// NewMemoryService creates an empty service.
func NewMemoryService(logger *slog.Logger) *MemoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryService{
		sessions: make(map[string]*MemorySession),
		logger:   logger.With("component", "chat"),
		now:      time.Now,
	}
}

// Session implements Service.
func (s *MemoryService) Session(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess, true
}

// Open returns the session with id, creating it when absent. An empty id
// allocates a new one.
func (s *MemoryService) Open(id string) *MemorySession {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &MemorySession{
		id:       id,
		progress: make(map[string][]Part),
		now:      s.now,
		lastUsed: s.now(),
	}
	s.sessions[id] = sess
	s.logger.Debug("session opened", "session_id", id)
	return sess
}

// Close drops a session and its progress.
func (s *MemoryService) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of open sessions.
func (s *MemoryService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Prune drops sessions idle for longer than maxIdle and returns how many
// were removed.
func (s *MemoryService) Prune(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// MemorySession is a Session held by MemoryService.
type MemorySession struct {
	mu       sync.Mutex
	id       string
	requests []Request
	progress map[string][]Part
	lastUsed time.Time
	now      func() time.Time
}

// ID implements Session.
func (s *MemorySession) ID() string { return s.id }

// Requests implements Session.
func (s *MemorySession) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// AddRequest starts a new turn and returns it.
func (s *MemorySession) AddRequest(message string) Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := Request{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Message:   message,
		CreatedAt: s.now(),
	}
	s.requests = append(s.requests, req)
	s.progress[req.ID] = nil
	s.lastUsed = req.CreatedAt
	return req
}

// AcceptResponseProgress implements Session.
func (s *MemorySession) AcceptResponseProgress(requestID string, part Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress[requestID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	s.progress[requestID] = append(s.progress[requestID], part)
	s.lastUsed = s.now()
	return nil
}

// Progress returns the parts appended to the response of requestID.
func (s *MemorySession) Progress(requestID string) []Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.progress[requestID]
	out := make([]Part, len(parts))
	copy(out, parts)
	return out
}

// DiscardProgress drops the response of requestID, releasing the
// invocations it holds.
func (s *MemorySession) DiscardProgress(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress[requestID]; ok {
		s.progress[requestID] = nil
	}
}

// LastUsed returns when the session last changed.
func (s *MemorySession) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
