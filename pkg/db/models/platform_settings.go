package models

import (
	"time"
)

// Coupon lives inside the platform settings document rather than its own
// table; the admin surface edits the whole list at once.
type Coupon struct {
	Code           string     `json:"code"`
	Percent        float64    `json:"percent"`
	Active         bool       `json:"active"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidTo        *time.Time `json:"valid_to,omitempty"`
	MinSubtotal    float64    `json:"min_subtotal"`
	Categories     []string   `json:"categories,omitempty"`
	UsageLimit     int        `json:"usage_limit"`
	UsageCount     int        `json:"usage_count"`
	MaxUsesPerUser int        `json:"max_uses_per_user"`
	UsedBy         []string   `json:"used_by,omitempty"`
}

// PlatformSettings is a singleton row of marketplace-wide tunables.
type PlatformSettings struct {
	ID uint `gorm:"column:id;primaryKey"`

	DeliveryChargeGrocery     *float64 `gorm:"column:delivery_charge_grocery"`
	DeliveryChargeFood        *float64 `gorm:"column:delivery_charge_food"`
	MinTotalForDeliveryCharge *float64 `gorm:"column:min_total_for_delivery_charge"`

	PlatformCommissionRate *float64 `gorm:"column:platform_commission_rate"`
	DeliveryAgentShareRate *float64 `gorm:"column:delivery_agent_share_rate"`

	FreeDeliveryAdminCompensation bool    `gorm:"column:free_delivery_admin_compensation;not null;default:false"`
	FreeDeliveryAgentPayment      float64 `gorm:"column:free_delivery_agent_payment;not null;default:0"`

	Coupons []Coupon `gorm:"column:coupons;type:jsonb;serializer:json"`

	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
