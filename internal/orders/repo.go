package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
)

// Repository manages persistence for orders and their assignment history.
// Every state-transition write is a single conditional UPDATE matching on
// the expected current state; callers treat zero affected rows as a lost
// race, not an error.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)

	ActiveByAgent(ctx context.Context, agentID uuid.UUID) ([]models.Order, error)
	PendingOffersByAgent(ctx context.Context, agentID uuid.UUID) ([]models.Order, error)
	AssignedPendingResponse(ctx context.Context, limit int) ([]models.Order, error)
	RetryCandidates(ctx context.Context, limit int) ([]models.Order, error)

	OfferAgent(ctx context.Context, orderID, agentID uuid.UUID) (bool, error)
	AcceptOffer(ctx context.Context, orderID, agentID uuid.UUID) (bool, error)
	ClearAgent(ctx context.Context, orderID, agentID uuid.UUID, response enums.AgentResponse) (bool, error)
	ReplaceAgent(ctx context.Context, orderID, newAgentID uuid.UUID) (bool, error)

	SetDeliveryStatus(ctx context.Context, orderID uuid.UUID, from []enums.DeliveryStatus, to enums.DeliveryStatus) (bool, error)
	SetDeliveryCharge(ctx context.Context, orderID uuid.UUID, charge float64) error
	SetETA(ctx context.Context, orderID uuid.UUID, etaAt *time.Time) error

	RecordPaymentVerification(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus, note, by string) (bool, error)
	CompleteDelivery(ctx context.Context, orderID uuid.UUID) (bool, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason, by string) (bool, error)

	SetOTP(ctx context.Context, orderID uuid.UUID, code string) error
	MarkOTPVerified(ctx context.Context, orderID uuid.UUID, code string) (bool, error)

	AppendAssignment(ctx context.Context, entry *models.OrderAssignment) error
	MarkAssignmentResponse(ctx context.Context, orderID, agentID uuid.UUID, to enums.AgentResponse) (bool, error)

	IncrementRetry(ctx context.Context, orderID uuid.UUID) error
	FlagManualReview(ctx context.Context, orderID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("Assignments", func(db *gorm.DB) *gorm.DB {
			return db.Order("assigned_at ASC")
		}).
		First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ActiveByAgent lists the orders an agent is currently carrying. Pending
// offers count: an unanswered offer holds a capacity slot until the agent
// responds or the sweep reclaims it.
func (r *repository) ActiveByAgent(ctx context.Context, agentID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Where("agent_id = ? AND delivery_status IN ?", agentID, []enums.DeliveryStatus{
			enums.DeliveryStatusAssigned,
			enums.DeliveryStatusAccepted,
			enums.DeliveryStatusPickedUp,
			enums.DeliveryStatusInTransit,
			enums.DeliveryStatusDispatched,
		}).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// PendingOffersByAgent lists offers the agent has not responded to yet.
func (r *repository) PendingOffersByAgent(ctx context.Context, agentID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Assignments").
		Where("agent_id = ? AND delivery_status = ? AND agent_response = ?",
			agentID, enums.DeliveryStatusAssigned, enums.AgentResponsePending).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// AssignedPendingResponse pulls a bounded batch of offers still awaiting a
// response, oldest first. The caller decides which of them have actually
// timed out by inspecting the last history entry.
func (r *repository) AssignedPendingResponse(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Assignments", func(db *gorm.DB) *gorm.DB {
			return db.Order("assigned_at ASC")
		}).
		Where("delivery_status = ? AND agent_response = ?",
			enums.DeliveryStatusAssigned, enums.AgentResponsePending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// RetryCandidates pulls paid orders still waiting for an agent, FIFO.
func (r *repository) RetryCandidates(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Assignments", func(db *gorm.DB) *gorm.DB {
			return db.Order("assigned_at ASC")
		}).
		Where("payment_status = ? AND delivery_status = ? AND agent_id IS NULL AND needs_manual_review = ?",
			enums.PaymentStatusPaid, enums.DeliveryStatusPending, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// OfferAgent places an offer on an unassigned pending order.
func (r *repository) OfferAgent(ctx context.Context, orderID, agentID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_status = ? AND agent_id IS NULL", orderID, enums.DeliveryStatusPending).
		Updates(map[string]any{
			"agent_id":        agentID,
			"agent_response":  enums.AgentResponsePending,
			"delivery_status": enums.DeliveryStatusAssigned,
		})
	return res.RowsAffected > 0, res.Error
}

// AcceptOffer turns a pending offer into an accepted delivery.
func (r *repository) AcceptOffer(ctx context.Context, orderID, agentID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND agent_id = ? AND delivery_status = ? AND agent_response = ?",
			orderID, agentID, enums.DeliveryStatusAssigned, enums.AgentResponsePending).
		Updates(map[string]any{
			"agent_response":      enums.AgentResponseAccepted,
			"delivery_status":     enums.DeliveryStatusAccepted,
			"delivery_start_time": now,
		})
	return res.RowsAffected > 0, res.Error
}

// ClearAgent unwinds an offer, returning the order to the unassigned pool.
// The response is what the released order carries: rejections keep the
// rejected marker until a fresh offer overwrites it, other releases reset
// to pending.
func (r *repository) ClearAgent(ctx context.Context, orderID, agentID uuid.UUID, response enums.AgentResponse) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND agent_id = ?", orderID, agentID).
		Updates(map[string]any{
			"agent_id":        nil,
			"agent_response":  response,
			"delivery_status": enums.DeliveryStatusPending,
		})
	return res.RowsAffected > 0, res.Error
}

// ReplaceAgent hands the order to a new agent as a fresh pending offer.
func (r *repository) ReplaceAgent(ctx context.Context, orderID, newAgentID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_status NOT IN ?", orderID, []enums.DeliveryStatus{
			enums.DeliveryStatusDelivered,
			enums.DeliveryStatusCancelled,
		}).
		Updates(map[string]any{
			"agent_id":        newAgentID,
			"agent_response":  enums.AgentResponsePending,
			"delivery_status": enums.DeliveryStatusAssigned,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SetDeliveryStatus(ctx context.Context, orderID uuid.UUID, from []enums.DeliveryStatus, to enums.DeliveryStatus) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID)
	if len(from) > 0 {
		query = query.Where("delivery_status IN ?", from)
	}
	res := query.Update("delivery_status", to)
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SetDeliveryCharge(ctx context.Context, orderID uuid.UUID, charge float64) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("delivery_charge", charge).Error
}

func (r *repository) SetETA(ctx context.Context, orderID uuid.UUID, etaAt *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("eta_at", etaAt).Error
}

// RecordPaymentVerification stamps the payment outcome while the payment is
// still pending.
func (r *repository) RecordPaymentVerification(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus, note, by string) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"payment_status":      status,
		"payment_verified_by": by,
		"payment_verified_at": now,
	}
	if note != "" {
		updates["payment_note"] = note
	}
	if status == enums.PaymentStatusPaid {
		updates["payment_date"] = now
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPending).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// CompleteDelivery marks the order delivered and settles the payment as
// collected. Requires a verified OTP and an in-progress delivery.
func (r *repository) CompleteDelivery(ctx context.Context, orderID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND otp_verified = ? AND delivery_status IN ?", orderID, true, []enums.DeliveryStatus{
			enums.DeliveryStatusAccepted,
			enums.DeliveryStatusPickedUp,
			enums.DeliveryStatusInTransit,
			enums.DeliveryStatusDispatched,
		}).
		Updates(map[string]any{
			"delivery_status":   enums.DeliveryStatusDelivered,
			"delivery_end_time": now,
			"payment_status":    enums.PaymentStatusPaid,
			"payment_date":      now,
			"eta_at":            nil,
		})
	return res.RowsAffected > 0, res.Error
}

// CancelOrder cancels both payment and delivery in pre-delivered states.
func (r *repository) CancelOrder(ctx context.Context, orderID uuid.UUID, reason, by string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_status NOT IN ?", orderID, []enums.DeliveryStatus{
			enums.DeliveryStatusDelivered,
			enums.DeliveryStatusCancelled,
		}).
		Updates(map[string]any{
			"delivery_status":     enums.DeliveryStatusCancelled,
			"payment_status":      enums.PaymentStatusCanceled,
			"cancellation_reason": reason,
			"cancelled_by":        by,
			"cancelled_at":        now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) SetOTP(ctx context.Context, orderID uuid.UUID, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"otp_code":        code,
			"otp_verified":    false,
			"otp_verified_at": nil,
		}).Error
}

// MarkOTPVerified flips the verification flag only when the stored code
// matches exactly.
func (r *repository) MarkOTPVerified(ctx context.Context, orderID uuid.UUID, code string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND otp_code = ? AND otp_verified = ?", orderID, code, false).
		Updates(map[string]any{
			"otp_verified":    true,
			"otp_verified_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) AppendAssignment(ctx context.Context, entry *models.OrderAssignment) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// MarkAssignmentResponse stamps the outcome on the agent's open history
// entry. Only a pending entry can be stamped, so racing sweeps and manual
// responses cannot double-record.
func (r *repository) MarkAssignmentResponse(ctx context.Context, orderID, agentID uuid.UUID, to enums.AgentResponse) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.OrderAssignment{}).
		Where("order_id = ? AND agent_id = ? AND response = ?", orderID, agentID, enums.AgentResponsePending).
		Updates(map[string]any{
			"response":    to,
			"response_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) IncrementRetry(ctx context.Context, orderID uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"retry_attempts": gorm.Expr("retry_attempts + 1"),
			"last_retry_at":  now,
		}).Error
}

func (r *repository) FlagManualReview(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("needs_manual_review", true).Error
}
