package tool

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/flemzord/toolhost/internal/observable"
)

// ToolSetOptions holds the optional fields of a tool set.
type ToolSetOptions struct {
	Icon            string
	Description     string
	LegacyFullNames []string
}

// ToolSet is a named group of tools and nested tool sets. Membership is
// observable; only the owner mutates it.
type ToolSet struct {
	ID              string
	ReferenceName   string
	Icon            string
	Description     string
	Source          Source
	LegacyFullNames []string

	registry *Registry
	tools    *observable.Set[string]
	sets     *observable.Set[*ToolSet]
	disposed sync.Once
}

// CreateToolSet registers a new tool set. It returns ErrDuplicateToolSet
// when id is taken.
func (r *Registry) CreateToolSet(source Source, id, referenceName string, opts ToolSetOptions) (*ToolSet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: tool set", ErrEmptyToolID)
	}

	ts := &ToolSet{
		ID:              id,
		ReferenceName:   referenceName,
		Icon:            opts.Icon,
		Description:     opts.Description,
		Source:          source,
		LegacyFullNames: opts.LegacyFullNames,
		registry:        r,
		tools:           observable.NewSet[string](),
		sets:            observable.NewSet[*ToolSet](),
	}

	r.mu.Lock()
	if _, exists := r.toolSets[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateToolSet, id)
	}
	r.toolSets[id] = ts
	r.mu.Unlock()

	r.scheduler.Schedule()
	return ts, nil
}

// ToolSets returns every tool set sorted by ID.
func (r *Registry) ToolSets() []*ToolSet {
	r.mu.RLock()
	out := make([]*ToolSet, 0, len(r.toolSets))
	for _, ts := range r.toolSets {
		out = append(out, ts)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *ToolSet) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ToolSet returns the tool set with the given ID.
func (r *Registry) ToolSet(id string) (*ToolSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolSets[id]
	return ts, ok
}

// ToolSetByName resolves a tool set by reference name, full reference
// name, then legacy names.
func (r *Registry) ToolSetByName(name string) (*ToolSet, bool) {
	sets := r.ToolSets()
	for _, ts := range sets {
		if ts.ReferenceName == name || ts.FullReferenceName() == name {
			return ts, true
		}
	}
	for _, ts := range sets {
		if slices.Contains(ts.LegacyFullNames, name) {
			return ts, true
		}
	}
	return nil, false
}

// setsContaining returns the tool sets that directly contain toolID,
// sorted by ID.
func (r *Registry) setsContaining(toolID string) []*ToolSet {
	var out []*ToolSet
	for _, ts := range r.ToolSets() {
		if ts.tools.Has(toolID) {
			out = append(out, ts)
		}
	}
	return out
}

// FullReferenceName is how the set is referenced in prompts and enablement
// lists. MCP server sets are referenced with a wildcard.
func (ts *ToolSet) FullReferenceName() string {
	if ts.Source.Kind == SourceMCP {
		return ts.ReferenceName + "/*"
	}
	return ts.ReferenceName
}

// AddTool adds a tool to the set.
func (ts *ToolSet) AddTool(d Data) (remove func()) {
	ts.tools.Add(d.ID)
	return func() { ts.tools.Delete(d.ID) }
}

// AddToolSet nests child in ts. It returns ErrToolSetCycle when child is
// ts or already contains it.
func (ts *ToolSet) AddToolSet(child *ToolSet) (remove func(), err error) {
	if child == ts || child.contains(ts, map[*ToolSet]bool{}) {
		return nil, fmt.Errorf("%w: %s into %s", ErrToolSetCycle, child.ID, ts.ID)
	}
	ts.sets.Add(child)
	return func() { ts.sets.Delete(child) }, nil
}

func (ts *ToolSet) contains(target *ToolSet, seen map[*ToolSet]bool) bool {
	if seen[ts] {
		return false
	}
	seen[ts] = true
	for _, s := range ts.sets.Values() {
		if s == target || s.contains(target, seen) {
			return true
		}
	}
	return false
}

// ToolIDs returns the IDs of the tools directly in the set.
func (ts *ToolSet) ToolIDs() []string {
	return ts.tools.Values()
}

// ToolSets returns the directly nested sets.
func (ts *ToolSet) ToolSets() []*ToolSet {
	return ts.sets.Values()
}

// Tools returns every registered tool in the set and its nested sets,
// without duplicates.
func (ts *ToolSet) Tools() []Data {
	var out []Data
	seenTools := make(map[string]bool)
	seenSets := make(map[*ToolSet]bool)
	var walk func(*ToolSet)
	walk = func(s *ToolSet) {
		if seenSets[s] {
			return
		}
		seenSets[s] = true
		for _, id := range s.tools.Values() {
			if seenTools[id] {
				continue
			}
			seenTools[id] = true
			if d, _, ok := ts.registry.LookupTool(id); ok {
				out = append(out, d)
			}
		}
		for _, child := range s.sets.Values() {
			walk(child)
		}
	}
	walk(ts)
	return out
}

// IsHomogenous reports whether every direct member shares the set's
// source.
func (ts *ToolSet) IsHomogenous() bool {
	for _, id := range ts.tools.Values() {
		d, _, ok := ts.registry.LookupTool(id)
		if ok && d.Source != ts.Source {
			return false
		}
	}
	for _, s := range ts.sets.Values() {
		if s.Source != ts.Source {
			return false
		}
	}
	return true
}

// OnDidChange registers fn for membership changes.
func (ts *ToolSet) OnDidChange(fn func()) (unsubscribe func()) {
	u1 := ts.tools.Subscribe(func(observable.SetChange[string]) { fn() })
	u2 := ts.sets.Subscribe(func(observable.SetChange[*ToolSet]) { fn() })
	return func() {
		u1()
		u2()
	}
}

// Dispose removes the set from the registry and clears its memberships.
// Member tool data stays registered.
func (ts *ToolSet) Dispose() {
	ts.disposed.Do(func() {
		r := ts.registry
		r.mu.Lock()
		if r.toolSets[ts.ID] == ts {
			delete(r.toolSets, ts.ID)
		}
		r.mu.Unlock()

		for _, parent := range r.ToolSets() {
			parent.sets.Delete(ts)
		}
		ts.tools.Clear()
		ts.sets.Clear()
		r.scheduler.Schedule()
	})
}
