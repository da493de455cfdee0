package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAgent is the courier profile the assignment engine selects from.
// AssignedOrders is only written through atomic SQL increments and never
// drops below zero.
type DeliveryAgent struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Phone     *string   `gorm:"column:phone"`
	Approved  bool      `gorm:"column:approved;not null;default:false"`
	Active    bool      `gorm:"column:active;not null;default:false"`
	Available bool      `gorm:"column:available;not null;default:false"`

	Lat       *float64   `gorm:"column:lat"`
	Lng       *float64   `gorm:"column:lng"`
	LocatedAt *time.Time `gorm:"column:located_at"`

	AssignedOrders  int `gorm:"column:assigned_orders;not null;default:0"`
	CompletedOrders int `gorm:"column:completed_orders;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// HasLocation reports whether the agent has ever reported coordinates.
func (a DeliveryAgent) HasLocation() bool {
	return a.Lat != nil && a.Lng != nil
}
