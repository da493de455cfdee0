package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/pkg/enums"
)

// EarningLog records what one party earned on one delivered order. The
// (role, order_id, party_id) key makes ledger writes idempotent: re-running
// settlement upserts instead of duplicating.
type EarningLog struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Role               enums.EarningRole `gorm:"column:role;type:text;not null;uniqueIndex:earning_logs_role_order_party_key"`
	OrderID            uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:earning_logs_role_order_party_key"`
	PartyID            uuid.UUID         `gorm:"column:party_id;type:uuid;not null;uniqueIndex:earning_logs_role_order_party_key"`
	ItemTotal          float64           `gorm:"column:item_total;not null;default:0"`
	DeliveryCharge     float64           `gorm:"column:delivery_charge;not null;default:0"`
	PlatformCommission float64           `gorm:"column:platform_commission;not null;default:0"`
	NetEarning         float64           `gorm:"column:net_earning;not null"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
