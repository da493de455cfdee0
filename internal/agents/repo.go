package agents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/basketly/basketly-backend/pkg/db/models"
)

// Repository manages persistence for delivery agents. Counter mutations are
// single atomic SQL statements so concurrent assignment paths never read
// and write stale values.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryAgent, error)
	OfferablePool(ctx context.Context) ([]models.DeliveryAgent, error)
	IncrementAssigned(ctx context.Context, id uuid.UUID) error
	DecrementAssigned(ctx context.Context, id uuid.UUID) error
	IncrementCompleted(ctx context.Context, id uuid.UUID) error
	SetAvailability(ctx context.Context, id uuid.UUID, active, available bool) error
	UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an agent repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	err := r.db.WithContext(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// OfferablePool returns every agent eligible to receive a new offer before
// per-order exclusions and the capacity ceiling are applied.
func (r *repository) OfferablePool(ctx context.Context) ([]models.DeliveryAgent, error) {
	var pool []models.DeliveryAgent
	if err := r.db.WithContext(ctx).
		Where("approved = ? AND active = ? AND available = ?", true, true, true).
		Find(&pool).Error; err != nil {
		return nil, err
	}
	return pool, nil
}

func (r *repository) IncrementAssigned(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", id).
		UpdateColumn("assigned_orders", gorm.Expr("assigned_orders + 1")).Error
}

// DecrementAssigned lowers the counter without ever taking it below zero.
func (r *repository) DecrementAssigned(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ? AND assigned_orders > 0", id).
		UpdateColumn("assigned_orders", gorm.Expr("assigned_orders - 1")).Error
}

func (r *repository) IncrementCompleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", id).
		UpdateColumn("completed_orders", gorm.Expr("completed_orders + 1")).Error
}

func (r *repository) SetAvailability(ctx context.Context, id uuid.UUID, active, available bool) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":    active,
			"available": available,
		}).Error
}

func (r *repository) UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"lat":        lat,
			"lng":        lng,
			"located_at": now,
		}).Error
}
