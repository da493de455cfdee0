package db

import (
	"context"
	"fmt"

	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/logger"
)

// MaybeAutoMigrate reconciles the schema from the model definitions when the
// app runs in dev mode with the auto-migrate flag on. Production schemas are
// managed out of band.
func MaybeAutoMigrate(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	if logg != nil {
		logg.Info(ctx, "running schema auto-migration (dev only)")
	}

	if err := client.DB().WithContext(ctx).AutoMigrate(
		&models.PlatformSettings{},
		&models.Seller{},
		&models.Product{},
		&models.DeliveryAgent{},
		&models.Order{},
		&models.OrderLine{},
		&models.OrderAssignment{},
		&models.EarningLog{},
	); err != nil {
		return fmt.Errorf("auto-migrating schema: %w", err)
	}
	return nil
}
