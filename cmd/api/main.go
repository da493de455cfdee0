package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/basketly/basketly-backend/api/controllers"
	"github.com/basketly/basketly-backend/api/routes"
	"github.com/basketly/basketly-backend/internal/agents"
	"github.com/basketly/basketly-backend/internal/assignment"
	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/earnings"
	internalorders "github.com/basketly/basketly-backend/internal/orders"
	"github.com/basketly/basketly-backend/internal/pricing"
	"github.com/basketly/basketly-backend/internal/settings"
	"github.com/basketly/basketly-backend/internal/snapshot"
	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/db"
	"github.com/basketly/basketly-backend/pkg/logger"
	"github.com/basketly/basketly-backend/pkg/maps"
	"github.com/basketly/basketly-backend/pkg/pubsub"
	"github.com/basketly/basketly-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment", nil)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	var mapsClient *maps.Client
	if cfg.GoogleMaps.APIKey != "" {
		mapsClient, err = maps.NewClient(cfg.GoogleMaps.APIKey)
		if err != nil {
			logg.Error(context.Background(), "failed to create maps client", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "maps api key not set, address resolution disabled", nil)
	}

	settingsSvc, err := settings.NewService(settings.NewRepository(dbClient.DB()), cfg.Pricing, cfg.Earnings)
	if err != nil {
		logg.Error(context.Background(), "failed to create settings service", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	agentsRepo := agents.NewRepository(dbClient.DB())
	ordersRepo := internalorders.NewRepository(dbClient.DB())

	pricingSvc, err := pricing.NewService(catalogRepo, settingsSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing service", err)
		os.Exit(1)
	}

	earningsSvc, err := earnings.NewService(earnings.NewRepository(dbClient.DB()), catalogRepo, settingsSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create earnings service", err)
		os.Exit(1)
	}

	var places snapshot.PlaceResolver
	var geocoder internalorders.Geocoder
	if mapsClient != nil {
		places = mapsClient
		geocoder = mapsClient
	}

	snapshotSvc, err := snapshot.NewService(catalogRepo, agentsRepo, places, pubsubClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create snapshot service", err)
		os.Exit(1)
	}

	assignSvc, err := assignment.NewService(ordersRepo, agentsRepo, catalogRepo, snapshotSvc, cfg.Assignment, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment service", err)
		os.Exit(1)
	}

	ordersSvc, err := internalorders.NewService(ordersRepo, agentsRepo, pricingSvc, settingsSvc, earningsSvc, snapshotSvc, assignSvc, geocoder, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	pingers := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
		"pubsub":   pubsubClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, pingers, ordersSvc, assignSvc),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
