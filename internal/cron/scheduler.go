package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by RunNow for unregistered job names.
var ErrUnknownJob = errors.New("cron: unknown job")

// ErrJobBusy is returned by RunNow when the job is already running.
var ErrJobBusy = errors.New("cron: job already running")

// Scheduler runs housekeeping jobs on 5-field cron expressions. A job
// never overlaps itself: a tick arriving while the previous run is still
// in flight is skipped.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	names  map[string]struct{}
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		names:  make(map[string]struct{}),
		locks:  make(map[string]*sync.Mutex),
		logger: logger.With("component", "cron"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob adds a job. Names must be unique.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	s.names[name] = struct{}{}
	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Name())
	}
	slices.Sort(out)
	return out
}

// Start parses every schedule and begins ticking. An invalid expression
// fails Start without running anything.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(cron.WithParser(scheduleParser))
	for _, job := range s.jobs {
		sched, err := ParseSchedule(job.Schedule())
		if err != nil {
			return fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}
		lock := s.locks[job.Name()]
		c.Schedule(sched, cron.FuncJob(func() {
			if !s.run(job, lock) {
				s.logger.Warn("job still running, skipping tick", "job", job.Name())
			}
		}))
	}

	s.cron = c
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// RunNow runs the named job immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	var job Job
	for _, j := range s.jobs {
		if j.Name() == name {
			job = j
			break
		}
	}
	lock := s.locks[name]
	s.mu.Unlock()

	if job == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !s.run(job, lock) {
		return fmt.Errorf("%w: %s", ErrJobBusy, name)
	}
	return nil
}

// run executes job unless it is already running and reports whether it ran.
func (s *Scheduler) run(job Job, lock *sync.Mutex) bool {
	if !lock.TryLock() {
		return false
	}
	defer lock.Unlock()

	s.logger.Debug("job started", "job", job.Name())
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name(), "error", err)
	} else {
		s.logger.Debug("job completed", "job", job.Name())
	}
	return true
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		s.logger.Info("scheduler stopped")
	}
	return nil
}
