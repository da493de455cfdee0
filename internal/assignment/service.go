package assignment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/internal/agents"
	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/orders"
	"github.com/basketly/basketly-backend/internal/snapshot"
	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
	"github.com/basketly/basketly-backend/pkg/geo"
	"github.com/basketly/basketly-backend/pkg/logger"
)

// Service is the delivery-assignment engine. Selection never fails an
// order: when no agent qualifies the order simply stays in the retry pool.
type Service interface {
	AssignNearest(ctx context.Context, order *models.Order) error
	Accept(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error)
	Reject(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error)
	SweepTimeouts(ctx context.Context) (int, error)
	RetryPending(ctx context.Context) (int, error)
	SetAvailability(ctx context.Context, agentID uuid.UUID, active, available, force bool) error
	UpdateLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64) error
	ForceReassign(ctx context.Context, orderID uuid.UUID, agentID *uuid.UUID, force bool) (*models.Order, error)
}

type service struct {
	repo      orders.Repository
	agents    agents.Repository
	catalog   catalog.Repository
	snapshots snapshot.Service
	cfg       config.AssignmentConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the assignment engine.
func NewService(
	repo orders.Repository,
	agentRepo agents.Repository,
	catalogRepo catalog.Repository,
	snapshotSvc snapshot.Service,
	cfg config.AssignmentConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if agentRepo == nil {
		return nil, fmt.Errorf("agent repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
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
		catalog:   catalogRepo,
		snapshots: snapshotSvc,
		cfg:       cfg,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// AssignNearest offers the order to the closest eligible agent. Orders that
// are not paid, already carry an agent, or have left the pending state are
// skipped silently so racing callers stay safe.
func (s *service) AssignNearest(ctx context.Context, order *models.Order) error {
	if order == nil {
		return nil
	}
	_, err := s.assign(ctx, order)
	return err
}

func (s *service) assign(ctx context.Context, order *models.Order) (bool, error) {
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return false, nil
	}
	if order.AgentID != nil || order.DeliveryStatus != enums.DeliveryStatusPending {
		return false, nil
	}

	pool, err := s.agents.OfferablePool(ctx)
	if err != nil {
		return false, err
	}
	if len(pool) == 0 {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "no agents online for assignment")
		return false, nil
	}

	candidate := s.pickCandidate(ctx, order, pool)
	if candidate == nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "no eligible agent for assignment")
		return false, nil
	}

	ok, err := s.repo.OfferAgent(ctx, order.ID, candidate.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		// lost the race, someone else moved the order
		return false, nil
	}

	entry := &models.OrderAssignment{
		ID:       uuid.New(),
		OrderID:  order.ID,
		AgentID:  candidate.ID,
		Response: enums.AgentResponsePending,
	}
	if err := s.repo.AppendAssignment(ctx, entry); err != nil {
		return false, err
	}
	if err := s.agents.IncrementAssigned(ctx, candidate.ID); err != nil {
		s.logg.Error(ctx, "incrementing agent assigned counter", err)
	}

	if offered, err := s.repo.FindByID(ctx, order.ID); err == nil && offered != nil {
		s.snapshots.Publish(ctx, offered)
	}
	return true, nil
}

// pickCandidate ranks the offerable pool by distance from the order's
// reference point, closest first, breaking ties on current load. The
// assignment history is an exclusion set: an agent already tried for this
// order is never offered it again. When the candidates left after the
// capacity and history filters are scarce, distance ranking is bypassed
// and the least-loaded candidate takes the order.
func (s *service) pickCandidate(ctx context.Context, order *models.Order, pool []models.DeliveryAgent) *models.DeliveryAgent {
	tried := make(map[uuid.UUID]bool, len(order.Assignments))
	for _, entry := range order.Assignments {
		tried[entry.AgentID] = true
	}

	ref := s.referencePoint(ctx, order)

	type ranked struct {
		agent    models.DeliveryAgent
		distance float64
	}
	candidates := make([]ranked, 0, len(pool))
	for _, agent := range pool {
		if agent.AssignedOrders >= s.cfg.AgentCapacity {
			continue
		}
		if tried[agent.ID] {
			continue
		}
		distance := math.Inf(1)
		if ref != nil && agent.HasLocation() {
			distance = geo.DistanceKm(ref.lat, ref.lng, *agent.Lat, *agent.Lng)
		}
		candidates = append(candidates, ranked{agent: agent, distance: distance})
	}
	if len(candidates) == 0 {
		return nil
	}

	lowAvailability := len(candidates) <= s.cfg.LowAvailabilityFloor
	sort.SliceStable(candidates, func(i, j int) bool {
		if !lowAvailability && candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].agent.AssignedOrders < candidates[j].agent.AssignedOrders
	})
	return &candidates[0].agent
}

type point struct {
	lat, lng float64
}

// referencePoint prefers the seller's pickup location and falls back to the
// delivery address. A missing point degrades ranking to least-loaded.
func (s *service) referencePoint(ctx context.Context, order *models.Order) *point {
	if order.SellerID != nil {
		if seller, err := s.catalog.FindSeller(ctx, *order.SellerID); err == nil &&
			seller != nil && seller.HasLocation() {
			return &point{lat: *seller.Lat, lng: *seller.Lng}
		}
	}
	if order.DeliveryAddress != nil && order.DeliveryAddress.Location != nil {
		return &point{lat: order.DeliveryAddress.Location.Lat, lng: order.DeliveryAddress.Location.Lng}
	}
	return nil
}

// Accept turns the agent's open offer into an active delivery and makes
// sure a delivery OTP exists. Re-accepting an already accepted offer is
// idempotent.
func (s *service) Accept(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.AgentID != nil && *order.AgentID == agentID &&
		order.DeliveryStatus == enums.DeliveryStatusAccepted {
		return order, nil
	}

	active, err := s.repo.ActiveByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	held := 0
	for _, carried := range active {
		// the offer being accepted holds a slot already, do not double-count it
		if carried.ID != orderID {
			held++
		}
	}
	if held >= s.cfg.AgentCapacity {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "agent is already at delivery capacity")
	}

	ok, err := s.repo.AcceptOffer(ctx, orderID, agentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "offer is no longer available")
	}
	if _, err := s.repo.MarkAssignmentResponse(ctx, orderID, agentID, enums.AgentResponseAccepted); err != nil {
		s.logg.Error(ctx, "recording assignment acceptance", err)
	}

	if order.OtpCode == nil {
		code, err := orders.NewOTPCode()
		if err != nil {
			return nil, err
		}
		if err := s.repo.SetOTP(ctx, orderID, code); err != nil {
			return nil, err
		}
	}

	accepted, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Publish(ctx, accepted)
	return accepted, nil
}

// Reject releases the offer back to the pool and immediately tries the next
// eligible agent.
func (s *service) Reject(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	if _, err := s.repo.MarkAssignmentResponse(ctx, orderID, agentID, enums.AgentResponseRejected); err != nil {
		return nil, err
	}
	ok, err := s.repo.ClearAgent(ctx, orderID, agentID, enums.AgentResponseRejected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not held by this agent")
	}
	if err := s.agents.DecrementAssigned(ctx, agentID); err != nil {
		s.logg.Error(ctx, "decrementing agent assigned counter", err)
	}

	released, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if released != nil {
		if _, err := s.assign(ctx, released); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "reassigning after rejection", err)
		}
		released, err = s.repo.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}
	return released, nil
}

// SweepTimeouts expires offers that sat unanswered past the offer timeout
// and hands each expired order to the next agent. Returns how many offers
// were expired.
func (s *service) SweepTimeouts(ctx context.Context) (int, error) {
	batch, err := s.repo.AssignedPendingResponse(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-s.cfg.OfferTimeout)

	expired := 0
	for i := range batch {
		order := &batch[i]
		if order.AgentID == nil {
			continue
		}
		agentID := *order.AgentID
		offeredAt := openOfferTime(order, agentID)
		if offeredAt == nil || offeredAt.After(cutoff) {
			continue
		}

		ok, err := s.repo.MarkAssignmentResponse(ctx, order.ID, agentID, enums.AgentResponseTimeout)
		if err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "expiring offer", err)
			continue
		}
		if !ok {
			// the agent responded while we were sweeping
			continue
		}
		if cleared, err := s.repo.ClearAgent(ctx, order.ID, agentID, enums.AgentResponsePending); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "clearing expired offer", err)
			continue
		} else if cleared {
			if err := s.agents.DecrementAssigned(ctx, agentID); err != nil {
				s.logg.Error(ctx, "decrementing agent assigned counter", err)
			}
		}
		expired++

		if released, err := s.repo.FindByID(ctx, order.ID); err == nil && released != nil {
			if _, err := s.assign(ctx, released); err != nil {
				s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "reassigning expired offer", err)
			}
		}
	}
	return expired, nil
}

// openOfferTime finds when the agent's still-pending history entry was
// created.
func openOfferTime(order *models.Order, agentID uuid.UUID) *time.Time {
	for i := len(order.Assignments) - 1; i >= 0; i-- {
		entry := order.Assignments[i]
		if entry.AgentID == agentID && entry.Response == enums.AgentResponsePending {
			at := entry.AssignedAt
			return &at
		}
	}
	return nil
}

// RetryPending walks the paid-but-unassigned backlog oldest first and tries
// each order again, escalating to manual review once the retry budget is
// exhausted. Returns how many orders found an agent.
func (s *service) RetryPending(ctx context.Context) (int, error) {
	batch, err := s.repo.RetryCandidates(ctx, s.cfg.RetryBatchSize)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()

	assigned := 0
	for i := range batch {
		order := &batch[i]
		if order.LastRetryAt != nil && now.Sub(*order.LastRetryAt) < s.cfg.OrderRetryCooldown {
			continue
		}
		if order.RetryAttempts >= s.cfg.MaxRetryAttempts {
			if err := s.repo.FlagManualReview(ctx, order.ID); err != nil {
				s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "flagging manual review", err)
			} else {
				s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "order escalated to manual review", nil)
			}
			continue
		}

		if err := s.repo.IncrementRetry(ctx, order.ID); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "incrementing retry counter", err)
			continue
		}
		ok, err := s.assign(ctx, order)
		if err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "retrying assignment", err)
			continue
		}
		if ok {
			assigned++
		}
	}
	return assigned, nil
}

// SetAvailability flips the agent's flags. Going offline releases all open
// offers back to the pool; in-progress deliveries block the change unless
// forced, in which case each one is handed to another agent.
func (s *service) SetAvailability(ctx context.Context, agentID uuid.UUID, active, available, force bool) error {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}

	goingOffline := !active || !available
	if !goingOffline {
		return s.agents.SetAvailability(ctx, agentID, active, available)
	}

	carrying, err := s.repo.ActiveByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	// unanswered offers never block going offline, they are simply released
	inProgress := carrying[:0:0]
	for _, order := range carrying {
		if order.DeliveryStatus.InProgress() {
			inProgress = append(inProgress, order)
		}
	}
	if len(inProgress) > 0 && !force {
		ids := make([]string, 0, len(inProgress))
		for _, order := range inProgress {
			ids = append(ids, order.ID.String())
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "agent has deliveries in progress").
			WithDetails(map[string]any{"order_ids": ids})
	}

	// flip the flags first so re-selection cannot pick the leaving agent
	if err := s.agents.SetAvailability(ctx, agentID, active, available); err != nil {
		return err
	}
	if err := s.releasePendingOffers(ctx, agentID); err != nil {
		return err
	}
	for i := range inProgress {
		s.releaseOrder(ctx, &inProgress[i], agentID)
	}
	return nil
}

func (s *service) releasePendingOffers(ctx context.Context, agentID uuid.UUID) error {
	offers, err := s.repo.PendingOffersByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for i := range offers {
		s.releaseOrder(ctx, &offers[i], agentID)
	}
	return nil
}

// releaseOrder unwinds one order held by an agent that is leaving and tries
// to find it a replacement. Every step is best-effort.
func (s *service) releaseOrder(ctx context.Context, order *models.Order, agentID uuid.UUID) {
	octx := s.logg.WithOrderID(ctx, order.ID.String())
	if _, err := s.repo.MarkAssignmentResponse(ctx, order.ID, agentID, enums.AgentResponseWentOffline); err != nil {
		s.logg.Error(octx, "recording offline release", err)
	}
	cleared, err := s.repo.ClearAgent(ctx, order.ID, agentID, enums.AgentResponsePending)
	if err != nil {
		s.logg.Error(octx, "releasing order from offline agent", err)
		return
	}
	if !cleared {
		return
	}
	if err := s.agents.DecrementAssigned(ctx, agentID); err != nil {
		s.logg.Error(octx, "decrementing agent assigned counter", err)
	}

	if released, err := s.repo.FindByID(ctx, order.ID); err == nil && released != nil {
		if _, err := s.assign(ctx, released); err != nil {
			s.logg.Error(octx, "reassigning released order", err)
		}
	}
}

func (s *service) UpdateLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return pkgerrors.New(pkgerrors.CodeValidation, "coordinates out of range")
	}
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}
	return s.agents.UpdateLocation(ctx, agentID, lat, lng)
}

// ForceReassign is the operator override. With a target agent it hands the
// order over directly; without one it reruns automatic selection. The
// target must be online unless forced.
func (s *service) ForceReassign(ctx context.Context, orderID uuid.UUID, agentID *uuid.UUID, force bool) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders can be reassigned")
	}
	if order.DeliveryStatus.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order delivery is already finalized")
	}

	previous := order.AgentID

	if agentID == nil {
		if previous != nil {
			s.releaseOrder(ctx, order, *previous)
		} else if _, err := s.assign(ctx, order); err != nil {
			return nil, err
		}
		return s.repo.FindByID(ctx, orderID)
	}

	if previous != nil && *previous == *agentID {
		return order, nil
	}

	target, err := s.agents.FindByID(ctx, *agentID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
	}
	if !force && !(target.Approved && target.Active && target.Available) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "agent is not available for deliveries")
	}

	ok, err := s.repo.ReplaceAgent(ctx, orderID, *agentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be reassigned")
	}

	if previous != nil {
		if _, err := s.repo.MarkAssignmentResponse(ctx, orderID, *previous, enums.AgentResponseRejected); err != nil {
			s.logg.Error(ctx, "closing previous assignment entry", err)
		}
		if err := s.agents.DecrementAssigned(ctx, *previous); err != nil {
			s.logg.Error(ctx, "decrementing previous agent counter", err)
		}
	}
	entry := &models.OrderAssignment{
		ID:       uuid.New(),
		OrderID:  orderID,
		AgentID:  *agentID,
		Response: enums.AgentResponsePending,
	}
	if err := s.repo.AppendAssignment(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.agents.IncrementAssigned(ctx, *agentID); err != nil {
		s.logg.Error(ctx, "incrementing agent assigned counter", err)
	}

	reassigned, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Publish(ctx, reassigned)
	return reassigned, nil
}
