package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog row the pricing engine resolves checkout lines
// against. Managed elsewhere; this service only reads it.
type Product struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SellerID  uuid.UUID `gorm:"column:seller_id;type:uuid;not null"`
	Name      string    `gorm:"column:name;not null"`
	Category  string    `gorm:"column:category;not null"`
	Price     float64   `gorm:"column:price;not null"`
	Status    string    `gorm:"column:status;not null;default:'active'"`
	Stock     int       `gorm:"column:stock;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
