package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ledger/internal/log"
)

// JobFunc is one scheduled task. now is the tick time in the scheduler's
// location.
type JobFunc func(ctx context.Context, now time.Time) error

// Scheduler runs named jobs on standard five-field cron specs. A tick that
// arrives while the previous run of the same job is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	logger *log.Logger

	mu      sync.Mutex
	jobs    map[string]JobFunc
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		loc:    loc,
		logger: log.For(log.ComponentScheduler),
		jobs:   make(map[string]JobFunc),
		ctx:    context.Background(),
	}
}

// Add registers job under name on spec. Names must be unique.
func (s *Scheduler) Add(name, spec string, job JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("schedule %q (%s): %w", name, spec, err)
	}
	s.jobs[name] = job
	s.logger.Info("Job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, job JobFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	err := job(ctx, start.In(s.loc))
	if err != nil {
		s.logger.Failure(ctx, "Scheduled job failed", name, err, "duration", time.Since(start))
		return
	}
	s.logger.InfoContext(ctx, "Scheduled job finished", "job", name, "duration", time.Since(start))
}

// RunNow runs the named job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job(ctx, time.Now().In(s.loc))
}

// Start begins firing jobs. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "jobs", len(s.jobs), "location", s.loc.String())
	return nil
}

// Stop prevents new runs and waits for running jobs, or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		cancel()
		s.logger.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		cancel()
		s.logger.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
