package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/api/responses"
	"github.com/basketly/basketly-backend/api/validators"
	internalorders "github.com/basketly/basketly-backend/internal/orders"
	"github.com/basketly/basketly-backend/internal/pricing"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
	"github.com/basketly/basketly-backend/pkg/logger"
	"github.com/basketly/basketly-backend/pkg/types"
)

// Checkout prices the submitted cart and creates one order per category
// group.
func Checkout(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, err := svc.Checkout(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]orderResponse, 0, len(orders))
		for i := range orders {
			out = append(out, newOrderResponse(&orders[i]))
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{Orders: out})
	}
}

// OrderStatus returns the full snapshot for a single order.
func OrderStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.Status(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, snap)
	}
}

// VerifyPayment records the payment outcome for an order. A paid outcome
// triggers delivery assignment.
func VerifyPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParsePaymentStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status"))
			return
		}

		order, err := svc.VerifyPayment(r.Context(), orderID, status, payload.Note, payload.VerifiedBy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// UpdateDelivery advances the delivery status and/or the ETA of an order.
func UpdateDelivery(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateDeliveryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Status == nil && payload.EtaMinutes == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status or eta_minutes is required"))
			return
		}

		var status *enums.DeliveryStatus
		if payload.Status != nil {
			parsed, err := enums.ParseDeliveryStatus(*payload.Status)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status"))
				return
			}
			status = &parsed
		}

		order, err := svc.UpdateDelivery(r.Context(), orderID, status, payload.EtaMinutes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// CancelOrder cancels an order that has not yet been delivered.
func CancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), orderID, payload.Reason, payload.CancelledBy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// VerifyOTP confirms the delivery OTP the client read to the agent.
func VerifyOTP(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyOTPRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.VerifyOTP(r.Context(), orderID, payload.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

type checkoutRequest struct {
	ClientID      string            `json:"client_id" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"omitempty,oneof=cod online"`
	Lines         []cartLineRequest `json:"lines" validate:"required,min=1,dive"`
	Address       addressRequest    `json:"address" validate:"required"`
	CouponCode    string            `json:"coupon_code" validate:"omitempty,max=64"`
}

type cartLineRequest struct {
	ProductID *uuid.UUID           `json:"product_id,omitempty" validate:"omitempty,uuid4"`
	Quantity  int                  `json:"quantity" validate:"required,min=1"`
	Fallback  *fallbackItemRequest `json:"fallback,omitempty"`
}

type fallbackItemRequest struct {
	Name     string  `json:"name" validate:"required"`
	Price    float64 `json:"price" validate:"required,gt=0"`
	Category string  `json:"category" validate:"required,oneof=grocery food"`
}

type addressRequest struct {
	Line1      string        `json:"line1" validate:"required"`
	Line2      *string       `json:"line2,omitempty"`
	City       string        `json:"city" validate:"required"`
	State      string        `json:"state"`
	PostalCode string        `json:"postal_code"`
	Country    string        `json:"country"`
	Location   *types.LatLng `json:"location,omitempty"`
}

type verifyPaymentRequest struct {
	Status     string `json:"status" validate:"required"`
	Note       string `json:"note" validate:"omitempty,max=500"`
	VerifiedBy string `json:"verified_by" validate:"required"`
}

type updateDeliveryRequest struct {
	Status     *string `json:"status,omitempty"`
	EtaMinutes *int    `json:"eta_minutes,omitempty"`
}

type cancelOrderRequest struct {
	Reason      string `json:"reason" validate:"omitempty,max=500"`
	CancelledBy string `json:"cancelled_by" validate:"required,oneof=client seller admin agent"`
}

type verifyOTPRequest struct {
	Code string `json:"code" validate:"required,len=4,numeric"`
}

func (c checkoutRequest) toInput() internalorders.CheckoutInput {
	method := enums.PaymentMethodCOD
	if c.PaymentMethod != "" {
		method = enums.PaymentMethod(c.PaymentMethod)
	}
	lines := make([]pricing.CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		cartLine := pricing.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		}
		if line.Fallback != nil {
			cartLine.Fallback = &pricing.FallbackItem{
				Name:     line.Fallback.Name,
				Price:    line.Fallback.Price,
				Category: line.Fallback.Category,
			}
		}
		lines = append(lines, cartLine)
	}
	return internalorders.CheckoutInput{
		ClientID:      c.ClientID,
		PaymentMethod: method,
		Lines:         lines,
		Address: types.Address{
			Line1:      c.Address.Line1,
			Line2:      c.Address.Line2,
			City:       c.Address.City,
			State:      c.Address.State,
			PostalCode: c.Address.PostalCode,
			Country:    c.Address.Country,
			Location:   c.Address.Location,
		},
		CouponCode: c.CouponCode,
	}
}

type checkoutResponse struct {
	Orders []orderResponse `json:"orders"`
}

type orderResponse struct {
	OrderID        uuid.UUID  `json:"order_id"`
	ClientID       string     `json:"client_id"`
	SellerID       *uuid.UUID `json:"seller_id,omitempty"`
	Category       string     `json:"category"`
	Amount         float64    `json:"amount"`
	PaymentMethod  string     `json:"payment_method"`
	PaymentStatus  string     `json:"payment_status"`
	DeliveryStatus string     `json:"delivery_status"`
	DeliveryCharge *float64   `json:"delivery_charge,omitempty"`
	DiscountAmount float64    `json:"discount_amount"`
	CouponCode     *string    `json:"coupon_code,omitempty"`
	AgentID        *uuid.UUID `json:"agent_id,omitempty"`
	OtpVerified    bool       `json:"otp_verified"`
	EtaAt          *string    `json:"eta_at,omitempty"`
	AdminPaysAgent bool       `json:"admin_pays_agent"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	resp := orderResponse{
		OrderID:        order.ID,
		ClientID:       order.ClientID,
		SellerID:       order.SellerID,
		Category:       string(order.Category),
		Amount:         order.Amount,
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		DeliveryStatus: string(order.DeliveryStatus),
		DeliveryCharge: order.DeliveryCharge,
		DiscountAmount: order.DiscountAmount,
		CouponCode:     order.CouponCode,
		AgentID:        order.AgentID,
		OtpVerified:    order.OtpVerified,
		AdminPaysAgent: order.AdminPaysAgent,
	}
	if order.EtaAt != nil {
		eta := order.EtaAt.UTC().Format(time.RFC3339)
		resp.EtaAt = &eta
	}
	return resp
}
