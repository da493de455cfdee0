package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/pkg/enums"
)

// OrderAssignment is an append-only history entry recording one delivery
// offer and its outcome. Rows are never updated except to stamp the
// response, and never deleted.
type OrderAssignment struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	AgentID    uuid.UUID           `gorm:"column:agent_id;type:uuid;not null"`
	Response   enums.AgentResponse `gorm:"column:response;type:text;not null;default:'pending'"`
	AssignedAt time.Time           `gorm:"column:assigned_at;autoCreateTime"`
	ResponseAt *time.Time          `gorm:"column:response_at"`
}
