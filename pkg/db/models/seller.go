package models

import (
	"time"

	"github.com/google/uuid"
)

// Seller is the merchant profile used as the assignment reference point
// and the earnings beneficiary. Managed elsewhere; this service only
// reads it.
type Seller struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BusinessName string    `gorm:"column:business_name;not null"`
	Address      *string   `gorm:"column:address"`
	PlaceID      *string   `gorm:"column:place_id"`
	Lat          *float64  `gorm:"column:lat"`
	Lng          *float64  `gorm:"column:lng"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// HasLocation reports whether the seller profile carries coordinates.
func (s Seller) HasLocation() bool {
	return s.Lat != nil && s.Lng != nil
}
