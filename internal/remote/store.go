package remote

import (
	"slices"
	"sync"
	"time"

	"github.com/flemzord/toolhost/internal/tool"
)

// remoteHost is a connected extension host as seen by the Manager.
type remoteHost struct {
	ID          string
	Name        string
	ExtensionID string
	ConnectedAt time.Time

	peer *peer

	mu    sync.Mutex
	tools map[string]func()
	// countTokens of calls in flight, by call ID.
	counters map[string]tool.CountTokensFunc
}

func newRemoteHost(p *peer) *remoteHost {
	return &remoteHost{
		ConnectedAt: time.Now(),
		peer:        p,
		tools:       make(map[string]func()),
		counters:    make(map[string]tool.CountTokensFunc),
	}
}

// ToolIDs returns the IDs of the tools the host registered, sorted.
func (h *remoteHost) ToolIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.tools))
	for id := range h.tools {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *remoteHost) addTool(id string, unregister func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[id] = unregister
}

// removeTool unregisters one tool. It reports whether the host owned it.
func (h *remoteHost) removeTool(id string) bool {
	h.mu.Lock()
	unregister, ok := h.tools[id]
	delete(h.tools, id)
	h.mu.Unlock()
	if ok {
		unregister()
	}
	return ok
}

// removeAllTools unregisters every tool of the host.
func (h *remoteHost) removeAllTools() {
	h.mu.Lock()
	tools := h.tools
	h.tools = make(map[string]func())
	h.mu.Unlock()
	for _, unregister := range tools {
		unregister()
	}
}

func (h *remoteHost) setCounter(callID string, fn tool.CountTokensFunc) (remove func()) {
	if fn == nil || callID == "" {
		return func() {}
	}
	h.mu.Lock()
	h.counters[callID] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.counters, callID)
		h.mu.Unlock()
	}
}

func (h *remoteHost) counter(callID string) (tool.CountTokensFunc, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn, ok := h.counters[callID]
	return fn, ok
}

// hostStore is a concurrent-safe in-memory store for connected hosts.
type hostStore struct {
	mu    sync.RWMutex
	hosts map[string]*remoteHost
}

func newHostStore() *hostStore {
	return &hostStore{hosts: make(map[string]*remoteHost)}
}

// AddIfUnder adds h when fewer than limit hosts are connected.
func (s *hostStore) AddIfUnder(h *remoteHost, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hosts) >= limit {
		return false
	}
	s.hosts[h.ID] = h
	return true
}

func (s *hostStore) Get(id string) (*remoteHost, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[id]
	return h, ok
}

func (s *hostStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, id)
}

func (s *hostStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts)
}

// Snapshot returns the connected hosts.
func (s *hostStore) Snapshot() []*remoteHost {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*remoteHost, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h)
	}
	return out
}
