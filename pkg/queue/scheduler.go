package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper expires stale queue items.
type Sweeper interface {
	ExpireStale(ctx context.Context) (int, error)
}

type job struct {
	name     string
	schedule string
	fn       func(context.Context) error
}

// Scheduler runs the expiry sweep, plus any extra periodic jobs, on cron
// schedules. Jobs do not overlap with themselves.
//
// Common schedules:
//   - "@every 1m"   - Every minute
//   - "*/5 * * * *" - Every five minutes
//   - "0 3 * * *"   - Daily at 3 AM
type Scheduler struct {
	sweeper  Sweeper
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	jobs    []job
	running bool
}

// NewScheduler creates a scheduler that sweeps on schedule. An empty
// schedule disables the sweep.
func NewScheduler(sweeper Sweeper, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "queue.scheduler")
	return &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
	}
}

// AddFunc registers an extra job. It must be called before Start.
func (s *Scheduler) AddFunc(name, schedule string, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", schedule, name, err)
	}
	s.jobs = append(s.jobs, job{name: name, schedule: schedule, fn: fn})
	return nil
}

// Start schedules every job and returns. The scheduler stops when ctx is
// cancelled. With no sweep schedule and no extra jobs it does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already started")
	}

	jobs := s.jobs
	if s.schedule != "" {
		if _, err := cron.ParseStandard(s.schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
		}
		jobs = append([]job{{name: "expiry", schedule: s.schedule, fn: s.sweep}}, jobs...)
	}
	if len(jobs) == 0 {
		s.logger.Info("no schedules configured, skipping scheduler")
		return nil
	}

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.schedule, func() { s.run(ctx, j) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		s.logger.Info("scheduled job", "job", j.name, "schedule", j.schedule)
	}

	s.cron.Start()
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) sweep(ctx context.Context) error {
	_, err := s.sweeper.ExpireStale(ctx)
	return err
}

func (s *Scheduler) run(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		s.logger.Error("scheduled job failed", "job", j.name, "error", err)
		return
	}
	s.logger.Debug("scheduled job completed", "job", j.name, "duration", time.Since(start))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("queue scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the earliest next run of any job, or nil when nothing
// is scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next == nil || e.Next.Before(*next) {
			t := e.Next
			next = &t
		}
	}
	return next
}
