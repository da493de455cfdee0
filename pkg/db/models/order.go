package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/pkg/enums"
	"github.com/basketly/basketly-backend/pkg/types"
)

// Order is the per-category order produced from a checkout. Payment and
// delivery columns are only written through the orders service.
type Order struct {
	ID       uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ClientID string              `gorm:"column:client_id;not null"`
	SellerID *uuid.UUID          `gorm:"column:seller_id;type:uuid"`
	Category enums.OrderCategory `gorm:"column:category;type:text;not null"`

	Amount            float64             `gorm:"column:amount;not null"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'cod'"`
	PaymentStatus     enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentDate       *time.Time          `gorm:"column:payment_date"`
	PaymentVerifiedBy *string             `gorm:"column:payment_verified_by"`
	PaymentNote       *string             `gorm:"column:payment_note"`
	PaymentVerifiedAt *time.Time          `gorm:"column:payment_verified_at"`

	DeliveryStatus    enums.DeliveryStatus `gorm:"column:delivery_status;type:text;not null;default:'pending'"`
	DeliveryAddress   *types.Address       `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	DeliveryCharge    *float64             `gorm:"column:delivery_charge"`
	AdminPaysAgent    bool                 `gorm:"column:admin_pays_agent;not null;default:false"`
	AdminAgentPayment float64              `gorm:"column:admin_agent_payment;not null;default:0"`

	AgentID       *uuid.UUID           `gorm:"column:agent_id;type:uuid"`
	AgentResponse *enums.AgentResponse `gorm:"column:agent_response;type:text"`

	OtpCode       *string    `gorm:"column:otp_code"`
	OtpVerified   bool       `gorm:"column:otp_verified;not null;default:false"`
	OtpVerifiedAt *time.Time `gorm:"column:otp_verified_at"`

	EtaAt             *time.Time `gorm:"column:eta_at"`
	DeliveryStartTime *time.Time `gorm:"column:delivery_start_time"`
	DeliveryEndTime   *time.Time `gorm:"column:delivery_end_time"`

	CancellationReason *string    `gorm:"column:cancellation_reason"`
	CancelledBy        *string    `gorm:"column:cancelled_by"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`

	CouponCode     *string `gorm:"column:coupon_code"`
	DiscountAmount float64 `gorm:"column:discount_amount;not null;default:0"`

	RetryAttempts     int        `gorm:"column:retry_attempts;not null;default:0"`
	LastRetryAt       *time.Time `gorm:"column:last_retry_at"`
	NeedsManualReview bool       `gorm:"column:needs_manual_review;not null;default:false"`

	Lines       []OrderLine       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Assignments []OrderAssignment `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
