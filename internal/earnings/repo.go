package earnings

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/basketly/basketly-backend/pkg/db/models"
)

// Repository manages persistence for earning logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, log *models.EarningLog) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.EarningLog, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an earnings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert writes the log keyed on (role, order_id, party_id). Replaying a
// settlement overwrites the amounts instead of inserting a duplicate.
func (r *repository) Upsert(ctx context.Context, log *models.EarningLog) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "role"}, {Name: "order_id"}, {Name: "party_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"item_total", "delivery_charge", "platform_commission", "net_earning", "updated_at",
			}),
		}).
		Create(log).Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.EarningLog, error) {
	var logs []models.EarningLog
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
