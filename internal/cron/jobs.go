package cron

import (
	"context"

	"github.com/basketly/basketly-backend/internal/assignment"
	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/logger"
)

// TimeoutSweepJob expires assignment offers that sat unanswered past the
// offer timeout.
func TimeoutSweepJob(svc assignment.Service, cfg config.AssignmentConfig, logg *logger.Logger) Job {
	return Job{
		Name:     "assignment-timeout-sweep",
		Interval: cfg.SweepInterval,
		LockTTL:  cfg.SweepInterval,
		Run: func(ctx context.Context) error {
			expired, err := svc.SweepTimeouts(ctx)
			if err != nil {
				return err
			}
			if expired > 0 {
				logg.Info(logg.WithField(ctx, "expired", expired), "expired stale offers")
			}
			return nil
		},
	}
}

// PendingRetryJob re-runs assignment for the paid-but-unassigned backlog.
func PendingRetryJob(svc assignment.Service, cfg config.AssignmentConfig, logg *logger.Logger) Job {
	return Job{
		Name:     "assignment-pending-retry",
		Interval: cfg.RetryInterval,
		LockTTL:  cfg.RetryInterval,
		Run: func(ctx context.Context) error {
			assigned, err := svc.RetryPending(ctx)
			if err != nil {
				return err
			}
			if assigned > 0 {
				logg.Info(logg.WithField(ctx, "assigned", assigned), "assigned backlogged orders")
			}
			return nil
		},
	}
}
