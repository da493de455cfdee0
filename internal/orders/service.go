package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/internal/agents"
	"github.com/basketly/basketly-backend/internal/earnings"
	"github.com/basketly/basketly-backend/internal/pricing"
	"github.com/basketly/basketly-backend/internal/settings"
	"github.com/basketly/basketly-backend/internal/snapshot"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
	"github.com/basketly/basketly-backend/pkg/logger"
	"github.com/basketly/basketly-backend/pkg/maps"
	"github.com/basketly/basketly-backend/pkg/types"
)

// Assigner triggers delivery assignment for an order. Implemented by the
// assignment engine; assignment failures leave the order pending and are
// never surfaced to the caller.
type Assigner interface {
	AssignNearest(ctx context.Context, order *models.Order) error
}

// Geocoder resolves a delivery address into coordinates at checkout.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*maps.LatLng, error)
}

// CheckoutInput is a priced cart ready to be turned into orders.
type CheckoutInput struct {
	ClientID      string
	PaymentMethod enums.PaymentMethod
	Lines         []pricing.CartLine
	Address       types.Address
	CouponCode    string
}

// Service owns every order state transition.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) ([]models.Order, error)
	VerifyPayment(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus, note, by string) (*models.Order, error)
	UpdateDelivery(ctx context.Context, orderID uuid.UUID, status *enums.DeliveryStatus, etaMinutes *int) (*models.Order, error)
	GenerateOTP(ctx context.Context, orderID, agentID uuid.UUID) (string, error)
	VerifyOTP(ctx context.Context, orderID uuid.UUID, code string) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason, by string) (*models.Order, error)
	Status(ctx context.Context, orderID uuid.UUID) (*snapshot.OrderSnapshot, error)
}

type service struct {
	repo      Repository
	agents    agents.Repository
	pricing   pricing.Service
	settings  settings.Service
	earnings  earnings.Service
	snapshots snapshot.Service
	assigner  Assigner
	geocoder  Geocoder
	logg      *logger.Logger
}

// NewService wires the orders service. The assigner and geocoder may be
// nil; both sides degrade to no-ops.
func NewService(
	repo Repository,
	agentRepo agents.Repository,
	pricingSvc pricing.Service,
	settingsSvc settings.Service,
	earningsSvc earnings.Service,
	snapshotSvc snapshot.Service,
	assigner Assigner,
	geocoder Geocoder,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if agentRepo == nil {
		return nil, fmt.Errorf("agent repository required")
	}
	if pricingSvc == nil {
		return nil, fmt.Errorf("pricing service required")
	}
	if settingsSvc == nil {
		return nil, fmt.Errorf("settings service required")
	}
	if earningsSvc == nil {
		return nil, fmt.Errorf("earnings service required")
	}
	if snapshotSvc == nil {
		return nil, fmt.Errorf("snapshot service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		agents:    agentRepo,
		pricing:   pricingSvc,
		settings:  settingsSvc,
		earnings:  earningsSvc,
		snapshots: snapshotSvc,
		assigner:  assigner,
		geocoder:  geocoder,
		logg:      logg,
	}, nil
}

// Checkout prices the cart into category groups and persists one order per
// group. The coupon, when present, is validated once against the whole cart
// and its discount is split proportionally across the resulting orders.
func (s *service) Checkout(ctx context.Context, input CheckoutInput) ([]models.Order, error) {
	if strings.TrimSpace(input.ClientID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "client id is required")
	}
	if input.PaymentMethod != "" && !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	groups, err := s.pricing.BuildGroups(ctx, input.Lines)
	if err != nil {
		return nil, err
	}

	subtotalAll := 0.0
	categories := make([]enums.OrderCategory, 0, len(groups))
	for _, g := range groups {
		subtotalAll += g.Subtotal
		categories = append(categories, g.Category)
	}

	discountTotal := 0.0
	couponCode := strings.TrimSpace(input.CouponCode)
	if couponCode != "" {
		percent, err := s.pricing.ValidateCoupon(ctx, couponCode, subtotalAll, categories, input.ClientID)
		if err != nil {
			return nil, err
		}
		discountTotal = pricing.Round2(subtotalAll * percent / 100)
	}
	shares := s.pricing.AllocateDiscount(discountTotal, groups)

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	address := input.Address
	s.geocodeAddress(ctx, &address)

	method := input.PaymentMethod
	if method == "" {
		method = enums.PaymentMethodCOD
	}

	created := make([]models.Order, 0, len(groups))
	for i, group := range groups {
		charge := s.pricing.DeliveryCharge(group, snap)

		order := models.Order{
			ID:             uuid.New(),
			ClientID:       input.ClientID,
			Category:       group.Category,
			PaymentMethod:  method,
			PaymentStatus:  enums.PaymentStatusPending,
			DeliveryStatus: enums.DeliveryStatusPending,
			DeliveryCharge: &charge,
			DiscountAmount: shares[i],
			Amount:         pricing.Round2(group.Subtotal + charge - shares[i]),
			Lines:          group.Lines,
		}
		addr := address
		order.DeliveryAddress = &addr
		if len(group.SellerIDs) == 1 {
			sellerID := group.SellerIDs[0]
			order.SellerID = &sellerID
		}
		if charge == 0 && snap.FreeDeliveryAdminCompensation {
			order.AdminPaysAgent = true
			order.AdminAgentPayment = snap.FreeDeliveryAgentPayment
		}
		if discountTotal > 0 {
			code := couponCode
			order.CouponCode = &code
		}

		if err := s.repo.Create(ctx, &order); err != nil {
			return nil, err
		}
		created = append(created, order)
	}

	if discountTotal > 0 {
		if err := s.settings.IncrementCouponUsage(ctx, couponCode, input.ClientID); err != nil {
			s.logg.Error(ctx, "recording coupon usage", err)
		}
	}

	for i := range created {
		s.snapshots.Publish(ctx, &created[i])
	}
	return created, nil
}

// VerifyPayment records the payment outcome. A paid order immediately gets
// a best-effort assignment attempt; assignment failure leaves it in the
// retry pool.
func (s *service) VerifyPayment(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus, note, by string) (*models.Order, error) {
	switch status {
	case enums.PaymentStatusPaid, enums.PaymentStatusFailed, enums.PaymentStatusCanceled:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment status must be paid, failed or canceled")
	}

	ok, err := s.repo.RecordPaymentVerification(ctx, orderID, status, note, by)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is already finalized")
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	if status == enums.PaymentStatusPaid && s.assigner != nil {
		if err := s.assigner.AssignNearest(ctx, order); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "initial assignment attempt failed", err)
		}
		// reload so the response reflects any assignment
		if reloaded, err := s.repo.FindByID(ctx, orderID); err == nil && reloaded != nil {
			order = reloaded
		}
	}

	s.snapshots.Publish(ctx, order)
	return order, nil
}

// UpdateDelivery moves the delivery state machine forward and maintains the
// ETA. Delivered is the guarded transition: it requires a verified OTP and
// settles agent counters, COD payment and earnings.
func (s *service) UpdateDelivery(ctx context.Context, orderID uuid.UUID, status *enums.DeliveryStatus, etaMinutes *int) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	if status != nil {
		if !status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid delivery status %q", *status))
		}
		if order.DeliveryStatus.IsTerminal() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order delivery is already finalized")
		}

		if *status == enums.DeliveryStatusDelivered {
			if err := s.completeDelivery(ctx, order); err != nil {
				return nil, err
			}
		} else {
			s.backfillDeliveryCharge(ctx, order, *status)
			if _, err := s.repo.SetDeliveryStatus(ctx, orderID, nil, *status); err != nil {
				return nil, err
			}
		}
	}

	if etaMinutes != nil && (status == nil || *status != enums.DeliveryStatusDelivered) {
		if *etaMinutes < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "eta minutes must not be negative")
		}
		etaAt := time.Now().UTC().Add(time.Duration(*etaMinutes) * time.Minute)
		if err := s.repo.SetETA(ctx, orderID, &etaAt); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Publish(ctx, updated)
	return updated, nil
}

func (s *service) completeDelivery(ctx context.Context, order *models.Order) error {
	if !order.OtpVerified {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "OTP verification is required before delivery completion")
	}

	ok, err := s.repo.CompleteDelivery(ctx, order.ID)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in a deliverable state")
	}

	if order.AgentID != nil {
		agentID := *order.AgentID
		if err := s.agents.DecrementAssigned(ctx, agentID); err != nil {
			s.logg.Error(ctx, "decrementing agent assigned counter", err)
		}
		if err := s.agents.IncrementCompleted(ctx, agentID); err != nil {
			s.logg.Error(ctx, "incrementing agent completed counter", err)
		}
		if err := s.agents.SetAvailability(ctx, agentID, true, true); err != nil {
			s.logg.Error(ctx, "freeing agent after delivery", err)
		}
	}

	settled, err := s.repo.FindByID(ctx, order.ID)
	if err != nil {
		return err
	}
	if settled != nil {
		if err := s.earnings.RecordForOrder(ctx, settled); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "settling earnings", err)
		}
	}
	return nil
}

// backfillDeliveryCharge fills a never-persisted charge on the first
// dispatch-like transition. Settings failures degrade the charge to zero
// rather than blocking the delivery.
func (s *service) backfillDeliveryCharge(ctx context.Context, order *models.Order, status enums.DeliveryStatus) {
	if order.DeliveryCharge != nil {
		return
	}
	switch status {
	case enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusDispatched:
	default:
		return
	}

	charge := 0.0
	snap, err := s.settings.Get(ctx)
	if err != nil {
		s.logg.Error(ctx, "loading settings for charge backfill", err)
	} else {
		subtotal := 0.0
		for _, line := range order.Lines {
			subtotal += line.Total()
		}
		charge = s.pricing.DeliveryCharge(pricing.Group{Category: order.Category, Subtotal: subtotal}, snap)
	}

	if err := s.repo.SetDeliveryCharge(ctx, order.ID, charge); err != nil {
		s.logg.Error(ctx, "backfilling delivery charge", err)
	}
}

// GenerateOTP hands the assigned agent the delivery code. An unverified
// code is reused so repeated calls are stable; a verified or missing code
// produces a fresh one.
func (s *service) GenerateOTP(ctx context.Context, orderID, agentID uuid.UUID) (string, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.AgentID == nil || *order.AgentID != agentID {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "order is not assigned to this agent")
	}
	if !order.DeliveryStatus.InProgress() {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "OTP is only available during an active delivery")
	}

	if order.OtpCode != nil && !order.OtpVerified {
		return *order.OtpCode, nil
	}

	code, err := NewOTPCode()
	if err != nil {
		return "", err
	}
	if err := s.repo.SetOTP(ctx, orderID, code); err != nil {
		return "", err
	}
	return code, nil
}

// VerifyOTP compares the submitted code byte for byte. Re-verifying an
// already verified code succeeds idempotently.
func (s *service) VerifyOTP(ctx context.Context, orderID uuid.UUID, code string) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.OtpCode == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "OTP has not been generated for this order")
	}

	ok, err := s.repo.MarkOTPVerified(ctx, orderID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		if order.OtpVerified && *order.OtpCode == code {
			return order, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid OTP")
	}

	updated, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel aborts both payment and delivery. A seller-initiated cancel must
// carry a meaningful reason.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason, by string) (*models.Order, error) {
	trimmed := strings.TrimSpace(reason)
	if by == "seller" && len(trimmed) < 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason must be at least 3 characters")
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	ok, err := s.repo.CancelOrder(ctx, orderID, trimmed, by)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled")
	}

	if order.AgentID != nil {
		if err := s.agents.DecrementAssigned(ctx, *order.AgentID); err != nil {
			s.logg.Error(ctx, "decrementing agent counter after cancel", err)
		}
	}

	updated, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Publish(ctx, updated)
	return updated, nil
}

// Status returns the enriched snapshot view of the order.
func (s *service) Status(ctx context.Context, orderID uuid.UUID) (*snapshot.OrderSnapshot, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.snapshots.Build(ctx, order)
}

func (s *service) geocodeAddress(ctx context.Context, address *types.Address) {
	if s.geocoder == nil || address.Location != nil {
		return
	}
	formatted := address.Formatted()
	if formatted == "" {
		return
	}
	loc, err := s.geocoder.Geocode(ctx, formatted)
	if err != nil {
		s.logg.Warn(ctx, "geocoding delivery address", err)
		return
	}
	address.Location = &types.LatLng{Lat: loc.Latitude, Lng: loc.Longitude}
}

// NewOTPCode produces a 4-digit delivery code in [1000, 9999].
func NewOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating otp")
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}
