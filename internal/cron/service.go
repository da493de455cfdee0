package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/basketly/basketly-backend/pkg/logger"
	"github.com/basketly/basketly-backend/pkg/metrics"
)

// Job is a named periodic task. LockTTL bounds how long a crashed holder
// can block other instances.
type Job struct {
	Name     string
	Interval time.Duration
	LockTTL  time.Duration
	Run      func(ctx context.Context) error
}

// Service drives the background jobs on their intervals, one distributed
// lock per job so overlapping instances never double-run a sweep.
type Service struct {
	jobs    []Job
	lock    Locker
	logg    *logger.Logger
	metrics *metrics.JobMetrics
}

// New builds the job runner. A nil mets disables metric recording.
func New(lock Locker, logg *logger.Logger, mets *metrics.JobMetrics, jobs ...Job) (*Service, error) {
	if lock == nil {
		return nil, fmt.Errorf("locker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job required")
	}
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil || job.Interval <= 0 {
			return nil, fmt.Errorf("job %q is not fully configured", job.Name)
		}
	}
	return &Service{jobs: jobs, lock: lock, logg: logg, metrics: mets}, nil
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runJob(ctx, job)
				}
			}
		}(job)
	}
	wg.Wait()
}

// RunOnce executes every job a single time and aggregates their failures.
func (s *Service) RunOnce(ctx context.Context) error {
	var errs error
	for _, job := range s.jobs {
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errs
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jctx := s.logg.WithField(ctx, "job", job.Name)

	ttl := job.LockTTL
	if ttl <= 0 {
		ttl = job.Interval
	}
	release, ok, err := s.lock.Acquire(jctx, job.Name, ttl)
	if err != nil {
		s.logg.Error(jctx, "acquiring job lock", err)
		return err
	}
	if !ok {
		// another instance holds the lock
		s.metrics.IncSkipped(job.Name)
		return nil
	}
	defer release()

	start := time.Now()
	err = job.Run(jctx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(job.Name, elapsed)
	jctx = s.logg.WithField(jctx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(job.Name)
		s.logg.Error(jctx, "job run failed", err)
		return err
	}
	s.metrics.IncSuccess(job.Name)
	s.logg.Info(jctx, "job run complete")
	return nil
}
