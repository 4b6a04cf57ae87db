package observable

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestValue_SetNotifiesInOrder(t *testing.T) {
	t.Parallel()

	v := NewValue(0)
	var seen []int
	unsubscribe := v.Subscribe(func(n int) { seen = append(seen, n) })

	v.Set(1)
	v.Set(2)
	v.Update(func(n int) int { return n + 10 })
	unsubscribe()
	v.Set(99)

	if diff := cmp.Diff([]int{1, 2, 12}, seen); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
	if v.Get() != 99 {
		t.Fatalf("Get() = %d, want 99", v.Get())
	}
}

func TestValue_CompareAndSet(t *testing.T) {
	t.Parallel()

	v := NewValue("idle")
	if v.CompareAndSet(func(s string) bool { return s == "busy" }, "done") {
		t.Fatal("CompareAndSet should refuse when predicate is false")
	}
	if !v.CompareAndSet(func(s string) bool { return s == "idle" }, "busy") {
		t.Fatal("CompareAndSet should accept when predicate is true")
	}
	if v.Get() != "busy" {
		t.Fatalf("Get() = %q, want busy", v.Get())
	}
}

func TestValue_ConcurrentSetsAreSerialized(t *testing.T) {
	t.Parallel()

	v := NewValue(0)
	var mu sync.Mutex
	last := 0
	v.Subscribe(func(n int) {
		mu.Lock()
		defer mu.Unlock()
		if n < last {
			t.Errorf("observed %d after %d", n, last)
		}
		last = n
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Update(func(n int) int { return n + 1 })
		}()
	}
	wg.Wait()

	if v.Get() != 50 {
		t.Fatalf("Get() = %d, want 50", v.Get())
	}
}

func TestValue_SubscriberMayChangeValue(t *testing.T) {
	t.Parallel()

	v := NewValue("waiting")
	var seen []string
	v.Subscribe(func(s string) {
		seen = append(seen, s)
		if s == "waiting-for-user" {
			v.CompareAndSet(func(cur string) bool { return cur == "waiting-for-user" }, "executing")
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Set("waiting-for-user")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set deadlocked on a subscriber that changes the value")
	}

	if diff := cmp.Diff([]string{"waiting-for-user", "executing"}, seen); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
	if v.Get() != "executing" {
		t.Fatalf("Get() = %q, want executing", v.Get())
	}
}

func TestSet_AddDeleteClear(t *testing.T) {
	t.Parallel()

	s := NewSet[string]()
	var changes []SetChange[string]
	s.Subscribe(func(c SetChange[string]) { changes = append(changes, c) })

	if !s.Add("a") || !s.Add("b") {
		t.Fatal("expected new items to be added")
	}
	if s.Add("a") {
		t.Fatal("duplicate add should report false")
	}
	if diff := cmp.Diff([]string{"a", "b"}, s.Values()); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
	if !s.Delete("a") || s.Delete("a") {
		t.Fatal("delete should report presence once")
	}
	s.Add("c")
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", s.Len())
	}

	want := []SetChange[string]{
		{Added: []string{"a"}},
		{Added: []string{"b"}},
		{Removed: []string{"a"}},
		{Added: []string{"c"}},
		{Removed: []string{"b", "c"}},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestDeferred_CompleteOnce(t *testing.T) {
	t.Parallel()

	d := NewDeferred[int]()
	if d.IsSettled() {
		t.Fatal("new deferred should not be settled")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Complete(7)
	}()

	got, err := d.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got != 7 {
		t.Fatalf("Wait = %d, want 7", got)
	}
	if d.Complete(8) {
		t.Fatal("second Complete should report false")
	}
	if v, ok := d.Value(); !ok || v != 7 {
		t.Fatalf("Value() = %d, %v; want 7, true", v, ok)
	}
}

func TestDeferred_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	d := NewDeferred[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := d.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
