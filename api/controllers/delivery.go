package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/api/responses"
	"github.com/basketly/basketly-backend/api/validators"
	"github.com/basketly/basketly-backend/internal/assignment"
	internalorders "github.com/basketly/basketly-backend/internal/orders"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
	"github.com/basketly/basketly-backend/pkg/logger"
)

// AcceptOrder records an agent accepting an offered delivery.
func AcceptOrder(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload agentActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Accept(r.Context(), orderID, payload.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// RejectOrder records an agent declining an offered delivery and puts the
// order back into selection.
func RejectOrder(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload agentActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Reject(r.Context(), orderID, payload.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// GenerateOTP issues (or re-issues) the delivery OTP to the assigned agent.
func GenerateOTP(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload agentActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		code, err := svc.GenerateOTP(r.Context(), orderID, payload.AgentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, otpResponse{OrderID: orderID, Code: code})
	}
}

// ToggleAvailability flips an agent online or offline. Going offline with
// active deliveries is refused unless force is set.
func ToggleAvailability(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		agentID, err := agentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload availabilityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetAvailability(r.Context(), agentID, *payload.Active, *payload.Available, payload.Force); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, availabilityResponse{
			AgentID:   agentID,
			Active:    *payload.Active,
			Available: *payload.Available,
		})
	}
}

// UpdateLocation stores the agent's latest reported coordinates.
func UpdateLocation(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		agentID, err := agentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload locationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.UpdateLocation(r.Context(), agentID, *payload.Lat, *payload.Lng); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// SweepTimeouts expires stale offers and re-runs selection for the released
// orders. Normally driven by the sweeper binary; exposed for operators.
func SweepTimeouts(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		expired, err := svc.SweepTimeouts(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, sweepResponse{Expired: expired})
	}
}

// RetryPending re-runs selection for paid orders still waiting on an agent.
func RetryPending(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		assigned, err := svc.RetryPending(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, retryResponse{Assigned: assigned})
	}
}

// ForceReassign moves an order to a named agent, or back into selection when
// no agent is given.
func ForceReassign(svc assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reassignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ForceReassign(r.Context(), orderID, payload.AgentID, payload.Force)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func agentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "agentId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id is required")
	}
	agentID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid agent id")
	}
	return agentID, nil
}

type agentActionRequest struct {
	AgentID uuid.UUID `json:"agent_id" validate:"required,uuid4"`
}

type availabilityRequest struct {
	Active    *bool `json:"active" validate:"required"`
	Available *bool `json:"available" validate:"required"`
	Force     bool  `json:"force"`
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lng *float64 `json:"lng" validate:"required"`
}

type reassignRequest struct {
	AgentID *uuid.UUID `json:"agent_id,omitempty" validate:"omitempty,uuid4"`
	Force   bool       `json:"force"`
}

type otpResponse struct {
	OrderID uuid.UUID `json:"order_id"`
	Code    string    `json:"code"`
}

type availabilityResponse struct {
	AgentID   uuid.UUID `json:"agent_id"`
	Active    bool      `json:"active"`
	Available bool      `json:"available"`
}

type sweepResponse struct {
	Expired int `json:"expired"`
}

type retryResponse struct {
	Assigned int `json:"assigned"`
}
