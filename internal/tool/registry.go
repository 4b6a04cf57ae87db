package tool

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/toolhost/internal/contextkey"
	"github.com/flemzord/toolhost/internal/debounce"
	"github.com/flemzord/toolhost/internal/observable"
	"github.com/flemzord/toolhost/internal/schema"
	"github.com/flemzord/toolhost/internal/settings"
)

// ToolsChangedDelay is the minimum coalescing window of the tools-changed
// notification.
const ToolsChangedDelay = 750 * time.Millisecond

// SettingExtensionToolsEnabled toggles every extension-contributed tool.
const SettingExtensionToolsEnabled = "chat.extensionTools.enabled"

// RegistryConfig holds the collaborators of a Registry. Nil fields get
// private defaults.
type RegistryConfig struct {
	ContextKeys *contextkey.Service
	Settings    *settings.Store
	Schemas     *schema.Registry
	Logger      *slog.Logger

	// ChangeDelay is raised to ToolsChangedDelay when smaller.
	ChangeDelay time.Duration
}

type entry struct {
	data             Data
	when             contextkey.Expr
	impl             Implementation
	unregisterSchema func()
}

// Registry holds tool data, implementations and tool sets.
// It is instance-based (not global) for better testability.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*entry
	toolSets map[string]*ToolSet
	whenKeys map[string]struct{}

	keys    *contextkey.Service
	store   *settings.Store
	schemas *schema.Registry
	logger  *slog.Logger

	count     *observable.Value[int]
	changes   *observable.Value[uint64]
	scheduler *debounce.Scheduler
	unsubs    []func()
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		tools:    make(map[string]*entry),
		toolSets: make(map[string]*ToolSet),
		whenKeys: make(map[string]struct{}),
		keys:     cfg.ContextKeys,
		store:    cfg.Settings,
		schemas:  cfg.Schemas,
		logger:   cfg.Logger,
		count:    observable.NewValue(0),
		changes:  observable.NewValue[uint64](0),
	}
	if r.keys == nil {
		r.keys = contextkey.NewService()
	}
	if r.store == nil {
		r.store = settings.NewStore()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "tool-registry")

	r.scheduler = debounce.NewScheduler(max(cfg.ChangeDelay, ToolsChangedDelay), func() {
		r.changes.Update(func(n uint64) uint64 { return n + 1 })
	})

	r.unsubs = append(r.unsubs,
		r.keys.OnDidChange(func(changed []string) {
			r.mu.RLock()
			affected := slices.ContainsFunc(changed, func(k string) bool {
				_, ok := r.whenKeys[k]
				return ok
			})
			r.mu.RUnlock()
			if affected {
				r.scheduler.Schedule()
			}
		}),
		r.store.OnDidChange(func(e settings.ChangeEvent) {
			if e.Affects(SettingExtensionToolsEnabled) {
				r.scheduler.Schedule()
			}
		}),
	)
	return r
}

// Close stops pending notifications and detaches from the context key and
// settings services.
func (r *Registry) Close() {
	r.scheduler.Cancel()
	for _, u := range r.unsubs {
		u()
	}
	r.unsubs = nil
}

// RegisterToolData adds d to the registry. It returns ErrEmptyToolID for a
// blank ID, ErrDuplicateTool when the ID is taken, and an error wrapping
// contextkey.ErrInvalidExpression for a malformed When clause.
func (r *Registry) RegisterToolData(d Data) (unregister func(), err error) {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return nil, ErrEmptyToolID
	}
	when, err := contextkey.Parse(d.When)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", d.ID, err)
	}

	r.mu.Lock()
	if _, exists := r.tools[d.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, d.ID)
	}
	e := &entry{data: d, when: when, unregisterSchema: func() {}}
	if r.schemas != nil {
		u, err := r.schemas.Register(d.ID, d.InputSchema)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		e.unregisterSchema = u
	}
	r.tools[d.ID] = e
	if when != nil {
		for _, k := range when.Keys() {
			r.whenKeys[k] = struct{}{}
		}
	}
	r.mu.Unlock()

	r.count.Update(func(n int) int { return n + 1 })
	r.scheduler.Schedule()
	r.logger.Debug("tool registered", "tool", d.ID, "source", d.Source.String())

	var once sync.Once
	return func() {
		once.Do(func() { r.removeTool(d.ID, e) })
	}, nil
}

func (r *Registry) removeTool(id string, e *entry) {
	r.mu.Lock()
	if r.tools[id] != e {
		r.mu.Unlock()
		return
	}
	delete(r.tools, id)
	r.recomputeWhenKeysLocked()
	r.mu.Unlock()

	e.unregisterSchema()
	r.count.Update(func(n int) int { return n - 1 })
	r.scheduler.Schedule()
	r.logger.Debug("tool unregistered", "tool", id)
}

func (r *Registry) recomputeWhenKeysLocked() {
	keys := make(map[string]struct{})
	for _, e := range r.tools {
		if e.when == nil {
			continue
		}
		for _, k := range e.when.Keys() {
			keys[k] = struct{}{}
		}
	}
	r.whenKeys = keys
}

// RegisterToolImplementation attaches impl to the tool with the given ID.
// It returns ErrUnknownTool when no data is registered and
// ErrDuplicateImplementation when one is already attached. Unregistering
// detaches the implementation and keeps the data.
func (r *Registry) RegisterToolImplementation(id string, impl Implementation) (unregister func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	if e.impl != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateImplementation, id)
	}
	e.impl = impl

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if cur, ok := r.tools[id]; ok && cur == e && e.impl == impl {
				e.impl = nil
			}
		})
	}, nil
}

// Tools returns registered tools sorted by ID. Unless includeDisabled is
// set, tools whose When clause is false and extension tools while
// extension tools are disabled are left out.
func (r *Registry) Tools(includeDisabled bool) []Data {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tools))
	for _, e := range r.tools {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Data, 0, len(entries))
	for _, e := range entries {
		if includeDisabled || r.isEnabled(e) {
			out = append(out, e.data)
		}
	}
	slices.SortFunc(out, func(a, b Data) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Tool returns the enabled tool with the given ID.
func (r *Registry) Tool(id string) (Data, bool) {
	r.mu.RLock()
	e, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok || !r.isEnabled(e) {
		return Data{}, false
	}
	return e.data, true
}

// LookupTool returns a tool and its implementation regardless of
// enablement. The implementation is nil when none is attached.
func (r *Registry) LookupTool(id string) (Data, Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[id]
	if !ok {
		return Data{}, nil, false
	}
	return e.data, e.impl, true
}

// ToolByName resolves a reference name. Current reference names win over
// legacy names.
func (r *Registry) ToolByName(name string, includeDisabled bool) (Data, bool) {
	tools := r.Tools(includeDisabled)
	for _, d := range tools {
		if d.ReferenceName() == name {
			return d, true
		}
	}
	for _, d := range tools {
		if slices.Contains(d.LegacyToolReferenceFullNames, name) {
			return d, true
		}
	}
	return Data{}, false
}

// ToolCount returns the number of registered tools.
func (r *Registry) ToolCount() int {
	return r.count.Get()
}

// OnDidChangeToolCount registers fn for tool count changes.
func (r *Registry) OnDidChangeToolCount(fn func(int)) (unsubscribe func()) {
	return r.count.Subscribe(fn)
}

// OnDidChangeTools registers fn for the coalesced tools-changed
// notification. It fires at least once after the last mutation, not once
// per mutation.
func (r *Registry) OnDidChangeTools(fn func()) (unsubscribe func()) {
	return r.changes.Subscribe(func(uint64) { fn() })
}

// FlushToolUpdates delivers a pending tools-changed notification now.
func (r *Registry) FlushToolUpdates() {
	r.scheduler.Flush()
}

func (r *Registry) isEnabled(e *entry) bool {
	if e.data.Source.Kind == SourceExtension && !r.store.Bool(SettingExtensionToolsEnabled, true) {
		return false
	}
	return r.keys.Evaluate(e.when)
}
