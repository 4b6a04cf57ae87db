// Package contextkey holds the named context values that gate tool
// visibility, and the small boolean expression language ("when" clauses)
// evaluated over them.
package contextkey

import (
	"reflect"
	"slices"
	"sync"
)

// Service stores context key values and publishes changes.
type Service struct {
	mu     sync.RWMutex
	values map[string]any
	subs   map[int]func(changed []string)
	nextID int
}

// NewService creates an empty Service.
func NewService() *Service {
	return &Service{
		values: make(map[string]any),
		subs:   make(map[int]func([]string)),
	}
}

// Set assigns value to key. Setting nil removes the key.
func (s *Service) Set(key string, value any) {
	s.mu.Lock()
	old, had := s.values[key]
	if value == nil {
		delete(s.values, key)
	} else {
		s.values[key] = value
	}
	changed := had != (value != nil) || (had && !reflect.DeepEqual(old, value))
	subs := s.snapshot()
	s.mu.Unlock()

	if !changed {
		return
	}
	keys := []string{key}
	for _, fn := range subs {
		fn(keys)
	}
}

// Get returns the value of key, or nil.
func (s *Service) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Lookup implements Context.
func (s *Service) Lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Evaluate evaluates expr against the current values. A nil expr is true.
func (s *Service) Evaluate(expr Expr) bool {
	if expr == nil {
		return true
	}
	return expr.Eval(s)
}

// OnDidChange registers fn to receive the keys that changed.
func (s *Service) OnDidChange(fn func(changed []string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service) snapshot() []func([]string) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func([]string), len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}
