package observable

import (
	"context"
	"sync"
)

// Deferred is a one-shot result that can be completed exactly once and
// awaited by any number of goroutines.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// NewDeferred creates an unresolved Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Complete resolves the Deferred with value. Only the first call has an
// effect; it reports whether this call resolved it.
func (d *Deferred[T]) Complete(value T) bool {
	completed := false
	d.once.Do(func() {
		d.value = value
		close(d.done)
		completed = true
	})
	return completed
}

// Done is closed once the Deferred is resolved.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// IsSettled reports whether Complete has been called.
func (d *Deferred[T]) IsSettled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the Deferred is resolved or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Value returns the resolved value and whether it is settled.
func (d *Deferred[T]) Value() (T, bool) {
	select {
	case <-d.done:
		return d.value, true
	default:
		var zero T
		return zero, false
	}
}
