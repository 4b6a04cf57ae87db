package observable

import (
	"slices"
	"sync"
)

// SetChange describes a mutation of a Set.
type SetChange[T comparable] struct {
	Added   []T
	Removed []T
}

// Set is an observable set. Values returns a snapshot so readers may iterate
// while the owner mutates it.
type Set[T comparable] struct {
	mu     sync.RWMutex
	items  map[T]int
	seq    int
	subs   map[int]func(SetChange[T])
	nextID int
}

// NewSet creates an empty Set.
func NewSet[T comparable]() *Set[T] {
	return &Set[T]{
		items: make(map[T]int),
		subs:  make(map[int]func(SetChange[T])),
	}
}

// Add inserts item and reports whether it was new.
func (s *Set[T]) Add(item T) bool {
	s.mu.Lock()
	if _, ok := s.items[item]; ok {
		s.mu.Unlock()
		return false
	}
	s.items[item] = s.seq
	s.seq++
	subs := s.snapshotSubs()
	s.mu.Unlock()

	change := SetChange[T]{Added: []T{item}}
	for _, fn := range subs {
		fn(change)
	}
	return true
}

// Delete removes item and reports whether it was present.
func (s *Set[T]) Delete(item T) bool {
	s.mu.Lock()
	if _, ok := s.items[item]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.items, item)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	change := SetChange[T]{Removed: []T{item}}
	for _, fn := range subs {
		fn(change)
	}
	return true
}

// Clear removes every item.
func (s *Set[T]) Clear() {
	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return
	}
	removed := s.orderedLocked()
	s.items = make(map[T]int)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	change := SetChange[T]{Removed: removed}
	for _, fn := range subs {
		fn(change)
	}
}

// Has reports whether item is in the set.
func (s *Set[T]) Has(item T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[item]
	return ok
}

// Len returns the number of items.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Values returns the items in insertion order.
func (s *Set[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked()
}

// Subscribe registers fn for membership changes.
func (s *Set[T]) Subscribe(fn func(SetChange[T])) (unsubscribe func()) {
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

func (s *Set[T]) orderedLocked() []T {
	out := make([]T, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b T) int {
		return s.items[a] - s.items[b]
	})
	return out
}

func (s *Set[T]) snapshotSubs() []func(SetChange[T]) {
	if len(s.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sortInts(ids)
	out := make([]func(SetChange[T]), len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}

func sortInts(ids []int) {
	slices.Sort(ids)
}
