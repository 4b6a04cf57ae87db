// Package observable provides small publish-on-change primitives used to
// expose mutable state (invocation state, tool counts, tool-set membership)
// to concurrent readers without a reactive framework.
package observable

import "sync"

// Value is a state cell. Every change is queued and delivered to
// subscribers in the order the changes were made, outside the cell's
// lock, so a subscriber may itself change the cell. A change made while
// another goroutine is notifying is delivered by that goroutine, and the
// call making it returns once the change is queued.
type Value[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[int]func(T)
	nextID int

	pending  []T
	draining bool
}

// NewValue creates a cell holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value and publishes it.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	v.value = value
	v.publish(value)
}

// Update applies fn to the current value under the write lock and publishes
// the result. fn must not call back into v.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	v.value = fn(v.value)
	value := v.value
	v.publish(value)
	return value
}

// CompareAndSet sets value only when ok(current) is true. It reports whether
// the value was replaced.
func (v *Value[T]) CompareAndSet(ok func(T) bool, value T) bool {
	v.mu.Lock()
	if !ok(v.value) {
		v.mu.Unlock()
		return false
	}
	v.value = value
	v.publish(value)
	return true
}

// publish queues value and, unless a notification is already running,
// delivers the queue. It must be called with v.mu held and releases it.
func (v *Value[T]) publish(value T) {
	v.pending = append(v.pending, value)
	if v.draining {
		v.mu.Unlock()
		return
	}
	v.draining = true
	for len(v.pending) > 0 {
		next := v.pending[0]
		v.pending = v.pending[1:]
		subs := v.snapshot()
		v.mu.Unlock()

		for _, fn := range subs {
			fn(next)
		}

		v.mu.Lock()
	}
	v.pending = nil
	v.draining = false
	v.mu.Unlock()
}

// Subscribe registers fn for future changes and returns a function that
// removes the subscription.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

// snapshot must be called with v.mu held.
func (v *Value[T]) snapshot() []func(T) {
	if len(v.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(v.subs))
	for id := range v.subs {
		ids = append(ids, id)
	}
	sortInts(ids)
	out := make([]func(T), len(ids))
	for i, id := range ids {
		out[i] = v.subs[id]
	}
	return out
}
