package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// never is a valid schedule that does not fire during a test.
const never = "0 0 1 1 *"

type funcJob struct {
	name, schedule string
	fn             func(context.Context) error
	runs           atomic.Int32
}

func (j *funcJob) Name() string     { return j.name }
func (j *funcJob) Schedule() string { return j.schedule }

func (j *funcJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.fn == nil {
		return nil
	}
	return j.fn(ctx)
}

func newTestScheduler(t *testing.T, jobs ...Job) *Scheduler {
	t.Helper()
	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			t.Fatalf("RegisterJob(%s): %v", j.Name(), err)
		}
	}
	return s
}

func TestScheduler_Lifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		jobs      []Job
		wantStart bool
	}{
		{name: "every minute", jobs: []Job{&funcJob{name: "tick", schedule: "* * * * *"}}, wantStart: true},
		{
			name: "failing job keeps scheduler alive",
			jobs: []Job{&funcJob{name: "fail", schedule: "* * * * *", fn: func(context.Context) error {
				return errors.New("boom")
			}}},
			wantStart: true,
		},
		{name: "no jobs", wantStart: true},
		{name: "invalid schedule", jobs: []Job{&funcJob{name: "bad", schedule: "every day"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestScheduler(t, tt.jobs...)
			err := s.Start()
			if (err == nil) != tt.wantStart {
				t.Fatalf("Start() = %v, wantStart %v", err, tt.wantStart)
			}
			if err := s.Stop(context.Background()); err != nil {
				t.Fatalf("Stop: %v", err)
			}
		})
	}
}

func TestScheduler_RegisterJobRejectsDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, &funcJob{name: "prune", schedule: never})
	if err := s.RegisterJob(&funcJob{name: "prune", schedule: "* * * * *"}); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestScheduler_NilLoggerDefaults(t *testing.T) {
	t.Parallel()

	if s := NewScheduler(nil); s.logger == nil {
		t.Fatal("nil logger not replaced")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	prune := &funcJob{name: "prune", schedule: never}
	s := newTestScheduler(t, prune, &funcJob{name: "alpha", schedule: never})

	if diff := cmp.Diff([]string{"alpha", "prune"}, s.Jobs()); diff != "" {
		t.Fatalf("Jobs() mismatch (-want +got):\n%s", diff)
	}
	if err := s.RunNow("prune"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if n := prune.runs.Load(); n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RunNow(missing) = %v, want ErrUnknownJob", err)
	}
}

func TestScheduler_RunNowDoesNotOverlap(t *testing.T) {
	t.Parallel()

	started, release := make(chan struct{}), make(chan struct{})
	slow := &funcJob{name: "slow", schedule: never, fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	s := newTestScheduler(t, slow)

	first := make(chan error, 1)
	go func() { first <- s.RunNow("slow") }()
	<-started

	if err := s.RunNow("slow"); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("overlapping RunNow = %v, want ErrJobBusy", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if n := slow.runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool
	s := newTestScheduler(t, &funcJob{name: "ctx", schedule: never, fn: func(ctx context.Context) error {
		cancelled.Store(ctx.Err() != nil)
		return nil
	}})

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := s.RunNow("ctx"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !cancelled.Load() {
		t.Fatal("job ran with a live context after Stop")
	}
}
