package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basketly/basketly-backend/internal/agents"
	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/logger"
)

const pickupAddressUnavailable = "Pickup location unavailable"

// EventPublisher is the fan-out surface snapshots are pushed through.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, data []byte, attrs map[string]string) error
	PublishNotification(ctx context.Context, data []byte, attrs map[string]string) error
}

// PlaceResolver resolves pickup coordinates and place ids into readable
// addresses.
type PlaceResolver interface {
	ResolvePlaceAddress(ctx context.Context, placeID string) (string, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// OrderSnapshot is the denormalized order view fanned out to clients.
type OrderSnapshot struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
	Category string `json:"category"`

	Payment  PaymentView  `json:"payment"`
	Delivery DeliveryView `json:"delivery"`

	Items          []ItemView `json:"items"`
	Subtotal       float64    `json:"subtotal"`
	DeliveryCharge float64    `json:"delivery_charge"`
	DiscountAmount float64    `json:"discount_amount"`
	Total          float64    `json:"total"`

	Seller *SellerView `json:"seller,omitempty"`
	Agent  *AgentView  `json:"agent,omitempty"`

	PickupAddress string `json:"pickup_address"`
	GeneratedAt   string `json:"generated_at"`
}

type PaymentView struct {
	Status     string  `json:"status"`
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	PaidAt     *string `json:"paid_at,omitempty"`
	VerifiedBy *string `json:"verified_by,omitempty"`
}

type DeliveryView struct {
	Status      string        `json:"status"`
	Address     any           `json:"address,omitempty"`
	OtpCode     *string       `json:"otp_code,omitempty"`
	OtpVerified bool          `json:"otp_verified"`
	EtaMinutes  *int          `json:"eta_minutes,omitempty"`
	StartedAt   *string       `json:"started_at,omitempty"`
	EndedAt     *string       `json:"ended_at,omitempty"`
	History     []HistoryView `json:"history"`
}

type HistoryView struct {
	AgentID    string  `json:"agent_id"`
	Response   string  `json:"response"`
	AssignedAt string  `json:"assigned_at"`
	ResponseAt *string `json:"response_at,omitempty"`
}

type ItemView struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Total     float64 `json:"total"`
}

type SellerView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AgentView struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

// Service assembles order snapshots and fans them out. Publishing and
// geocoding failures degrade or are swallowed; a snapshot trigger never
// fails the operation that caused it.
type Service interface {
	Build(ctx context.Context, order *models.Order) (*OrderSnapshot, error)
	Publish(ctx context.Context, order *models.Order)
}

type service struct {
	catalog   catalog.Repository
	agents    agents.Repository
	places    PlaceResolver
	publisher EventPublisher
	logg      *logger.Logger
}

// NewService wires the snapshot service. The place resolver and publisher
// may be nil; both degrade gracefully.
func NewService(catalogRepo catalog.Repository, agentRepo agents.Repository, places PlaceResolver, publisher EventPublisher, logg *logger.Logger) (Service, error) {
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if agentRepo == nil {
		return nil, fmt.Errorf("agent repository required")
	}
	return &service{
		catalog:   catalogRepo,
		agents:    agentRepo,
		places:    places,
		publisher: publisher,
		logg:      logg,
	}, nil
}

func (s *service) Build(ctx context.Context, order *models.Order) (*OrderSnapshot, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}

	snap := &OrderSnapshot{
		OrderID:     order.ID.String(),
		ClientID:    order.ClientID,
		Category:    order.Category.String(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	snap.Payment = PaymentView{
		Status:     order.PaymentStatus.String(),
		Method:     order.PaymentMethod.String(),
		Amount:     order.Amount,
		PaidAt:     formatTime(order.PaymentDate),
		VerifiedBy: order.PaymentVerifiedBy,
	}

	subtotal := 0.0
	for _, line := range order.Lines {
		snap.Items = append(snap.Items, ItemView{
			Name:      line.Name,
			Category:  line.Category,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Total:     line.Total(),
		})
		subtotal += line.Total()
	}
	snap.Subtotal = subtotal
	if order.DeliveryCharge != nil {
		snap.DeliveryCharge = *order.DeliveryCharge
	}
	snap.DiscountAmount = order.DiscountAmount
	snap.Total = order.Amount

	history := make([]HistoryView, 0, len(order.Assignments))
	for _, entry := range order.Assignments {
		history = append(history, HistoryView{
			AgentID:    entry.AgentID.String(),
			Response:   entry.Response.String(),
			AssignedAt: entry.AssignedAt.UTC().Format(time.RFC3339),
			ResponseAt: formatTime(entry.ResponseAt),
		})
	}

	snap.Delivery = DeliveryView{
		Status:      order.DeliveryStatus.String(),
		Address:     order.DeliveryAddress,
		OtpCode:     order.OtpCode,
		OtpVerified: order.OtpVerified,
		EtaMinutes:  etaMinutes(order.EtaAt),
		StartedAt:   formatTime(order.DeliveryStartTime),
		EndedAt:     formatTime(order.DeliveryEndTime),
		History:     history,
	}

	if order.SellerID != nil {
		seller, err := s.catalog.FindSeller(ctx, *order.SellerID)
		if err != nil {
			return nil, err
		}
		if seller != nil {
			snap.Seller = &SellerView{ID: seller.ID.String(), Name: seller.BusinessName}
			snap.PickupAddress = s.resolvePickupAddress(ctx, seller)
		}
	}
	if snap.PickupAddress == "" {
		snap.PickupAddress = pickupAddressUnavailable
	}

	if order.AgentID != nil {
		agent, err := s.agents.FindByID(ctx, *order.AgentID)
		if err != nil {
			return nil, err
		}
		if agent != nil {
			snap.Agent = &AgentView{ID: agent.ID.String(), Name: agent.Name, Phone: agent.Phone}
		}
	}

	return snap, nil
}

// Publish assembles the snapshot and fans it out to the order channel, the
// seller channel with the OTP stripped, and the notification topic. Every
// failure is logged and swallowed.
func (s *service) Publish(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}

	snap, err := s.Build(ctx, order)
	if err != nil {
		s.logError(ctx, order, err, "building order snapshot")
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		s.logError(ctx, order, err, "marshaling order snapshot")
		return
	}
	if err := s.publisher.PublishOrderEvent(ctx, payload, map[string]string{
		"order_id": snap.OrderID,
		"channel":  "order",
	}); err != nil {
		s.logError(ctx, order, err, "publishing order snapshot")
	}

	sellerCopy := *snap
	sellerCopy.Delivery.OtpCode = nil
	sellerPayload, err := json.Marshal(&sellerCopy)
	if err != nil {
		s.logError(ctx, order, err, "marshaling seller snapshot")
		return
	}
	if err := s.publisher.PublishOrderEvent(ctx, sellerPayload, map[string]string{
		"order_id": snap.OrderID,
		"channel":  "seller",
	}); err != nil {
		s.logError(ctx, order, err, "publishing seller snapshot")
	}

	notification := map[string]any{
		"order_id":        snap.OrderID,
		"delivery_status": snap.Delivery.Status,
		"payment_status":  snap.Payment.Status,
		"exclude_roles":   []string{"delivery_agent"},
	}
	notifPayload, err := json.Marshal(notification)
	if err != nil {
		s.logError(ctx, order, err, "marshaling notification")
		return
	}
	if err := s.publisher.PublishNotification(ctx, notifPayload, map[string]string{
		"order_id": snap.OrderID,
	}); err != nil {
		s.logError(ctx, order, err, "publishing notification")
	}
}

// resolvePickupAddress tries place details, then the stored address, then
// reverse geocoding, then a raw coordinate string.
func (s *service) resolvePickupAddress(ctx context.Context, seller *models.Seller) string {
	if s.places != nil && seller.PlaceID != nil && *seller.PlaceID != "" {
		if addr, err := s.places.ResolvePlaceAddress(ctx, *seller.PlaceID); err == nil && addr != "" {
			return addr
		} else if err != nil && s.logg != nil {
			s.logg.Warn(ctx, "resolving pickup place", err)
		}
	}
	if seller.Address != nil && *seller.Address != "" {
		return *seller.Address
	}
	if seller.HasLocation() {
		if s.places != nil {
			if addr, err := s.places.ReverseGeocode(ctx, *seller.Lat, *seller.Lng); err == nil && addr != "" {
				return addr
			} else if err != nil && s.logg != nil {
				s.logg.Warn(ctx, "reverse geocoding pickup location", err)
			}
		}
		return fmt.Sprintf("%f, %f", *seller.Lat, *seller.Lng)
	}
	return pickupAddressUnavailable
}

func (s *service) logError(ctx context.Context, order *models.Order, err error, msg string) {
	if s.logg == nil {
		return
	}
	if order != nil {
		ctx = s.logg.WithOrderID(ctx, order.ID.String())
	}
	s.logg.Error(ctx, msg, err)
}

func etaMinutes(etaAt *time.Time) *int {
	if etaAt == nil {
		return nil
	}
	mins := int(time.Until(*etaAt).Minutes())
	if mins < 0 {
		mins = 0
	}
	return &mins
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
