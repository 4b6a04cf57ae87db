// Package settings implements the layered configuration store consulted by
// the confirmation policy, and the small persisted key/value storage used
// for one-time opt-ins.
package settings

import (
	"reflect"
	"slices"
	"sync"
)

// Scope identifies a settings layer. Higher scopes override lower ones when
// computing the effective value.
type Scope int

// Settings layers, lowest precedence first.
const (
	ScopeDefault Scope = iota
	ScopeApplication
	ScopeUser
	ScopeUserLocal
	ScopeUserRemote
	ScopeWorkspace
	ScopeWorkspaceFolder
)

var scopeNames = map[Scope]string{
	ScopeDefault:         "default",
	ScopeApplication:     "application",
	ScopeUser:            "user",
	ScopeUserLocal:       "userLocal",
	ScopeUserRemote:      "userRemote",
	ScopeWorkspace:       "workspace",
	ScopeWorkspaceFolder: "workspaceFolder",
}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseScope converts a scope name as written in configuration.
func ParseScope(name string) (Scope, bool) {
	for s, n := range scopeNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// effectiveOrder lists scopes from highest to lowest precedence.
var effectiveOrder = []Scope{
	ScopeWorkspaceFolder,
	ScopeWorkspace,
	ScopeUserRemote,
	ScopeUserLocal,
	ScopeUser,
	ScopeApplication,
	ScopeDefault,
}

// ChangeEvent is published after an update.
type ChangeEvent struct {
	Keys  []string
	Scope Scope
}

// Affects reports whether key is among the changed keys.
func (e ChangeEvent) Affects(key string) bool {
	return slices.Contains(e.Keys, key)
}

// Inspection holds the per-scope values of a single key.
type Inspection struct {
	Key    string
	values map[Scope]any
}

// Value returns the value set at scope.
func (i Inspection) Value(scope Scope) (any, bool) {
	v, ok := i.values[scope]
	return v, ok
}

// First returns the first value found walking scopes in the given order.
func (i Inspection) First(scopes ...Scope) (any, bool) {
	for _, s := range scopes {
		if v, ok := i.values[s]; ok {
			return v, true
		}
	}
	return nil, false
}

// Values returns a copy of the per-scope values.
func (i Inspection) Values() map[Scope]any {
	out := make(map[Scope]any, len(i.values))
	for s, v := range i.values {
		out[s] = v
	}
	return out
}

// Effective returns the highest-precedence value.
func (i Inspection) Effective() (any, bool) {
	return i.First(effectiveOrder...)
}

// Store is a concurrency-safe layered settings store.
type Store struct {
	mu     sync.RWMutex
	layers map[Scope]map[string]any
	subs   map[int]func(ChangeEvent)
	nextID int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		layers: make(map[Scope]map[string]any),
		subs:   make(map[int]func(ChangeEvent)),
	}
}

// Get returns the effective value of key, or nil.
func (s *Store) Get(key string) any {
	v, _ := s.Inspect(key).Effective()
	return v
}

// Inspect returns every scope's value for key.
func (s *Store) Inspect(key string) Inspection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make(map[Scope]any)
	for scope, layer := range s.layers {
		if v, ok := layer[key]; ok {
			values[scope] = v
		}
	}
	return Inspection{Key: key, values: values}
}

// Update sets key at scope. A nil value removes it. Subscribers are only
// notified when the stored value actually changed.
func (s *Store) Update(key string, value any, scope Scope) {
	s.mu.Lock()
	layer := s.layers[scope]
	if layer == nil {
		layer = make(map[string]any)
		s.layers[scope] = layer
	}
	old, had := layer[key]
	if value == nil {
		delete(layer, key)
	} else {
		layer[key] = value
	}
	changed := had != (value != nil) || (had && !reflect.DeepEqual(old, value))
	subs := s.snapshot()
	s.mu.Unlock()

	if !changed {
		return
	}
	s.publish(subs, ChangeEvent{Keys: []string{key}, Scope: scope})
}

// Replace swaps the whole layer at scope and publishes the keys whose
// values differ.
func (s *Store) Replace(scope Scope, values map[string]any) {
	s.mu.Lock()
	old := s.layers[scope]
	next := make(map[string]any, len(values))
	for k, v := range values {
		next[k] = v
	}
	s.layers[scope] = next

	var changed []string
	for k, v := range next {
		if ov, ok := old[k]; !ok || !reflect.DeepEqual(ov, v) {
			changed = append(changed, k)
		}
	}
	for k := range old {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	subs := s.snapshot()
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	s.publish(subs, ChangeEvent{Keys: changed, Scope: scope})
}

// OnDidChange registers fn for change events.
func (s *Store) OnDidChange(fn func(ChangeEvent)) (unsubscribe func()) {
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

func (s *Store) snapshot() []func(ChangeEvent) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(ChangeEvent), len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}

func (s *Store) publish(subs []func(ChangeEvent), evt ChangeEvent) {
	for _, fn := range subs {
		fn(evt)
	}
}

// Bool returns the effective value of key as a bool.
func (s *Store) Bool(key string, fallback bool) bool {
	v, ok := s.Get(key).(bool)
	if !ok {
		return fallback
	}
	return v
}

// AsBool converts a raw settings value to a bool.
func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsMap converts a raw settings value (as decoded from YAML or JSON) to a
// string-keyed map.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]bool:
		out := make(map[string]any, len(m))
		for k, b := range m {
			out[k] = b
		}
		return out, true
	default:
		return nil, false
	}
}

// AsBoolMap converts a raw settings value to a map of booleans. Entries
// whose values are not booleans are dropped.
func AsBoolMap(v any) map[string]bool {
	m, ok := AsMap(v)
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, raw := range m {
		if b, ok := raw.(bool); ok {
			out[k] = b
		}
	}
	return out
}
