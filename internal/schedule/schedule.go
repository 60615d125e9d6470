// Package schedule triggers ranking runs on a cron schedule, guarded by a
// run lock and a per-run timeout.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/astrokiran/guiderank/internal/jobs"
	"github.com/astrokiran/guiderank/internal/lock"
	"github.com/astrokiran/guiderank/internal/runner"
)

// DefaultSchedule runs every 30 minutes.
const DefaultSchedule = "*/30 * * * *"

// DefaultTimeout is the default deadline for a single run.
const DefaultTimeout = 5 * time.Minute

// Job is the unit the scheduler triggers.
type Job interface {
	Run(ctx context.Context) (*runner.Summary, error)
}

// Config configures a Scheduler.
type Config struct {
	// Schedule is a five-field cron expression.
	Schedule string
	// Location for the cron expression. Defaults to UTC.
	Location *time.Location
	// Timeout bounds each run.
	Timeout time.Duration
	// Locker serializes runs. Defaults to an in-process lock.
	Locker lock.Locker
	// Logger for scheduler activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics jobs.Reporter
}

// Scheduler runs a Job on a cron schedule. At most one run holds the lock at
// a time; ticks that find it held are skipped.
type Scheduler struct {
	config Config
	job    Job
	cron   *cron.Cron

	mu      sync.Mutex
	running bool
	baseCtx context.Context
}

// New validates the cron expression and creates a Scheduler.
func New(config Config, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Locker == nil {
		config.Locker = lock.NewMemoryLocker(lock.DefaultTTL)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Scheduler{
		config: config,
		job:    job,
		cron:   cron.New(cron.WithLocation(config.Location)),
	}
	if _, err := s.cron.AddFunc(config.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}
	return s, nil
}

// Start begins triggering runs. ctx is the parent of every run context.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.baseCtx = ctx
	s.cron.Start()

	s.config.Logger.Info("ranking scheduler started",
		"schedule", s.config.Schedule,
		"timeout", s.config.Timeout)
	return nil
}

// Stop stops triggering runs and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.config.Logger.Info("ranking scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next returns the next scheduled trigger time, or zero if not running.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, runner.ErrRunInProgress) {
		s.config.Logger.Error("scheduled ranking run failed", "error", err)
	}
}

// RunNow runs the job immediately under the lock and timeout. It returns
// runner.ErrRunInProgress if another run holds the lock.
func (s *Scheduler) RunNow(ctx context.Context) (*runner.Summary, error) {
	token, err := s.config.Locker.TryAcquire(ctx)
	if errors.Is(err, lock.ErrLockHeld) {
		s.config.Logger.Info("ranking run skipped, previous run still in progress")
		if s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobsTotal(jobs.JobTypeRankingSchedule, "skipped")
		}
		return nil, runner.ErrRunInProgress
	}
	if err != nil {
		if s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobErrors(jobs.JobTypeRankingSchedule, "lock_error")
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		// The run context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.config.Locker.Release(releaseCtx, token); err != nil {
			s.config.Logger.Warn("failed to release run lock", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	summary, err := s.job.Run(runCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && s.config.JobMetrics != nil {
			s.config.JobMetrics.IncJobErrors(jobs.JobTypeRankingSchedule, "timeout")
		}
		return nil, err
	}
	if s.config.JobMetrics != nil {
		s.config.JobMetrics.IncJobsTotal(jobs.JobTypeRankingSchedule, jobs.StatusSuccess)
	}
	return summary, nil
}
