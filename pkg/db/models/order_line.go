package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine captures the snapshot of each item within an order. Lines are
// immutable after creation. ProductID is nil for fallback lines the client
// supplied without a catalog match.
type OrderLine struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	ProductID *uuid.UUID `gorm:"column:product_id;type:uuid"`
	Name      string     `gorm:"column:name;not null"`
	Category  string     `gorm:"column:category;not null"`
	UnitPrice float64    `gorm:"column:unit_price;not null"`
	Quantity  int        `gorm:"column:quantity;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// Catalogued reports whether the line resolved against a catalog product.
func (l OrderLine) Catalogued() bool {
	return l.ProductID != nil
}

// IsFallback reports whether the line was accepted on client-supplied data.
func (l OrderLine) IsFallback() bool {
	return l.ProductID == nil
}

// Total returns the extended line amount.
func (l OrderLine) Total() float64 {
	return l.UnitPrice * float64(l.Quantity)
}
