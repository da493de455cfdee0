package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/basketly/basketly-backend/internal/agents"
	"github.com/basketly/basketly-backend/internal/assignment"
	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/cron"
	internalorders "github.com/basketly/basketly-backend/internal/orders"
	"github.com/basketly/basketly-backend/internal/snapshot"
	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/db"
	"github.com/basketly/basketly-backend/pkg/logger"
	"github.com/basketly/basketly-backend/pkg/metrics"
	"github.com/basketly/basketly-backend/pkg/pubsub"
	"github.com/basketly/basketly-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment", nil)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweeper"

	logg = logger.New(logger.Options{
		ServiceName: "sweeper",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := db.MaybeAutoMigrate(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to auto-migrate schema", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	catalogRepo := catalog.NewRepository(dbClient.DB())
	agentsRepo := agents.NewRepository(dbClient.DB())
	ordersRepo := internalorders.NewRepository(dbClient.DB())

	snapshotSvc, err := snapshot.NewService(catalogRepo, agentsRepo, nil, pubsubClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create snapshot service", err)
		os.Exit(1)
	}

	assignSvc, err := assignment.NewService(ordersRepo, agentsRepo, catalogRepo, snapshotSvc, cfg.Assignment, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}

	sweeper, err := cron.New(
		cron.NewRedisLock(redisClient),
		logg,
		metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		cron.TimeoutSweepJob(assignSvc, cfg.Assignment, logg),
		cron.PendingRetryJob(assignSvc, cfg.Assignment, logg),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweeper")

	if err := sweeper.RunOnce(ctx); err != nil {
		logg.Warn(ctx, "initial sweep finished with errors", err)
	}

	sweeper.Run(ctx)

	logg.Info(ctx, "sweeper shutting down gracefully")
}
