package orders

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
)

func newSQLiteRepo(t *testing.T) Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Order{}, &models.OrderLine{}, &models.OrderAssignment{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return NewRepository(conn)
}

func seedOrder(t *testing.T, repo Repository, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:             uuid.New(),
		ClientID:       "client-1",
		Category:       enums.OrderCategoryGrocery,
		Amount:         150,
		PaymentMethod:  enums.PaymentMethodCOD,
		PaymentStatus:  enums.PaymentStatusPending,
		DeliveryStatus: enums.DeliveryStatusPending,
	}
	if mutate != nil {
		mutate(order)
	}
	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("seeding order: %v", err)
	}
	return order
}

func TestOfferAcceptLifecycle(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, nil)
	agentID := uuid.New()

	ok, err := repo.OfferAgent(ctx, order.ID, agentID)
	if err != nil || !ok {
		t.Fatalf("OfferAgent = %v, %v, want true", ok, err)
	}

	// a second offer loses the race
	ok, err = repo.OfferAgent(ctx, order.ID, uuid.New())
	if err != nil {
		t.Fatalf("second OfferAgent: %v", err)
	}
	if ok {
		t.Fatal("offer on an already-assigned order must be a no-op")
	}

	ok, err = repo.AcceptOffer(ctx, order.ID, agentID)
	if err != nil || !ok {
		t.Fatalf("AcceptOffer = %v, %v, want true", ok, err)
	}
	ok, err = repo.AcceptOffer(ctx, order.ID, agentID)
	if err != nil {
		t.Fatalf("re-accept: %v", err)
	}
	if ok {
		t.Fatal("re-accepting must be a no-op")
	}

	loaded, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if loaded.DeliveryStatus != enums.DeliveryStatusAccepted {
		t.Fatalf("status = %s, want accepted", loaded.DeliveryStatus)
	}
	if loaded.DeliveryStartTime == nil {
		t.Fatal("expected delivery start time to be stamped")
	}
	if loaded.AgentID == nil || *loaded.AgentID != agentID {
		t.Fatalf("agent = %v, want %s", loaded.AgentID, agentID)
	}
}

func TestActiveByAgentCountsUnansweredOffers(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	agentID := uuid.New()

	offered := seedOrder(t, repo, nil)
	if ok, _ := repo.OfferAgent(ctx, offered.ID, agentID); !ok {
		t.Fatal("offer failed")
	}
	seedOrder(t, repo, func(o *models.Order) {
		o.AgentID = &agentID
		o.DeliveryStatus = enums.DeliveryStatusInTransit
	})
	seedOrder(t, repo, func(o *models.Order) {
		o.AgentID = &agentID
		o.DeliveryStatus = enums.DeliveryStatusDelivered
	})
	seedOrder(t, repo, nil) // unassigned, never counts

	active, err := repo.ActiveByAgent(ctx, agentID)
	if err != nil {
		t.Fatalf("ActiveByAgent: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want the pending offer and the in-transit order", len(active))
	}
}

func TestClearAgentReturnsOrderToPool(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, nil)
	agentID := uuid.New()

	if ok, _ := repo.OfferAgent(ctx, order.ID, agentID); !ok {
		t.Fatal("offer failed")
	}

	ok, err := repo.ClearAgent(ctx, order.ID, agentID, enums.AgentResponseRejected)
	if err != nil || !ok {
		t.Fatalf("ClearAgent = %v, %v, want true", ok, err)
	}
	ok, err = repo.ClearAgent(ctx, order.ID, agentID, enums.AgentResponsePending)
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if ok {
		t.Fatal("clearing an unassigned order must be a no-op")
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if loaded.AgentID != nil {
		t.Fatalf("expected agent cleared, got %v", loaded.AgentID)
	}
	if loaded.AgentResponse == nil || *loaded.AgentResponse != enums.AgentResponseRejected {
		t.Fatalf("expected rejected response to survive the release, got %v", loaded.AgentResponse)
	}
	if loaded.DeliveryStatus != enums.DeliveryStatusPending {
		t.Fatalf("status = %s, want pending", loaded.DeliveryStatus)
	}
}

func TestCompleteDeliveryRequiresVerifiedOTP(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	agentID := uuid.New()
	order := seedOrder(t, repo, func(o *models.Order) {
		o.DeliveryStatus = enums.DeliveryStatusInTransit
		o.AgentID = &agentID
	})

	ok, err := repo.CompleteDelivery(ctx, order.ID)
	if err != nil {
		t.Fatalf("CompleteDelivery: %v", err)
	}
	if ok {
		t.Fatal("delivery must not complete without a verified OTP")
	}

	if err := repo.SetOTP(ctx, order.ID, "4242"); err != nil {
		t.Fatalf("SetOTP: %v", err)
	}
	ok, err = repo.MarkOTPVerified(ctx, order.ID, "0000")
	if err != nil {
		t.Fatalf("MarkOTPVerified: %v", err)
	}
	if ok {
		t.Fatal("wrong code must not verify")
	}
	ok, err = repo.MarkOTPVerified(ctx, order.ID, "4242")
	if err != nil || !ok {
		t.Fatalf("MarkOTPVerified = %v, %v, want true", ok, err)
	}

	ok, err = repo.CompleteDelivery(ctx, order.ID)
	if err != nil || !ok {
		t.Fatalf("CompleteDelivery = %v, %v, want true", ok, err)
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if loaded.DeliveryStatus != enums.DeliveryStatusDelivered {
		t.Fatalf("status = %s, want delivered", loaded.DeliveryStatus)
	}
	if loaded.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("payment = %s, want paid on COD settlement", loaded.PaymentStatus)
	}
	if loaded.PaymentDate == nil || loaded.DeliveryEndTime == nil {
		t.Fatal("expected payment date and delivery end time stamped")
	}
	if loaded.EtaAt != nil {
		t.Fatal("expected ETA cleared on delivery")
	}
}

func TestRecordPaymentVerificationIsOneShot(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, nil)

	ok, err := repo.RecordPaymentVerification(ctx, order.ID, enums.PaymentStatusPaid, "upi ref 991", "admin-7")
	if err != nil || !ok {
		t.Fatalf("RecordPaymentVerification = %v, %v, want true", ok, err)
	}
	ok, err = repo.RecordPaymentVerification(ctx, order.ID, enums.PaymentStatusFailed, "", "admin-7")
	if err != nil {
		t.Fatalf("second verification: %v", err)
	}
	if ok {
		t.Fatal("a finalized payment must not be re-verified")
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if loaded.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("payment = %s, want paid", loaded.PaymentStatus)
	}
	if loaded.PaymentDate == nil || loaded.PaymentVerifiedAt == nil {
		t.Fatal("expected payment stamps")
	}
	if loaded.PaymentNote == nil || *loaded.PaymentNote != "upi ref 991" {
		t.Fatalf("note = %v, want recorded", loaded.PaymentNote)
	}
}

func TestCancelOrderOnlyPreDelivered(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, nil)

	ok, err := repo.CancelOrder(ctx, order.ID, "out of stock", "seller")
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v, want true", ok, err)
	}
	ok, err = repo.CancelOrder(ctx, order.ID, "again", "seller")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if ok {
		t.Fatal("cancelling a cancelled order must be a no-op")
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if loaded.DeliveryStatus != enums.DeliveryStatusCancelled {
		t.Fatalf("status = %s, want cancelled", loaded.DeliveryStatus)
	}
	if loaded.PaymentStatus != enums.PaymentStatusCanceled {
		t.Fatalf("payment = %s, want canceled", loaded.PaymentStatus)
	}
	if loaded.CancellationReason == nil || *loaded.CancellationReason != "out of stock" {
		t.Fatalf("reason = %v, want recorded", loaded.CancellationReason)
	}
}

func TestRetryCandidatesFilters(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	eligible := seedOrder(t, repo, func(o *models.Order) {
		o.PaymentStatus = enums.PaymentStatusPaid
	})
	seedOrder(t, repo, nil) // payment still pending
	seedOrder(t, repo, func(o *models.Order) {
		o.PaymentStatus = enums.PaymentStatusPaid
		o.NeedsManualReview = true
	})
	assigned := seedOrder(t, repo, func(o *models.Order) {
		o.PaymentStatus = enums.PaymentStatusPaid
	})
	if ok, _ := repo.OfferAgent(ctx, assigned.ID, uuid.New()); !ok {
		t.Fatal("offer failed")
	}

	candidates, err := repo.RetryCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("RetryCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != eligible.ID {
		t.Fatalf("candidates = %d, want only the unassigned paid order", len(candidates))
	}
}

func TestAssignedPendingResponseBatch(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		order := seedOrder(t, repo, nil)
		if ok, _ := repo.OfferAgent(ctx, order.ID, uuid.New()); !ok {
			t.Fatal("offer failed")
		}
	}
	accepted := seedOrder(t, repo, nil)
	agentID := uuid.New()
	if ok, _ := repo.OfferAgent(ctx, accepted.ID, agentID); !ok {
		t.Fatal("offer failed")
	}
	if ok, _ := repo.AcceptOffer(ctx, accepted.ID, agentID); !ok {
		t.Fatal("accept failed")
	}

	batch, err := repo.AssignedPendingResponse(ctx, 2)
	if err != nil {
		t.Fatalf("AssignedPendingResponse: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch = %d, want capped at 2", len(batch))
	}
	for _, order := range batch {
		if order.DeliveryStatus != enums.DeliveryStatusAssigned {
			t.Fatalf("unexpected status %s in pending batch", order.DeliveryStatus)
		}
	}
}

func TestMarkAssignmentResponseOnlyPending(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, nil)
	agentID := uuid.New()

	entry := &models.OrderAssignment{
		ID:      uuid.New(),
		OrderID: order.ID,
		AgentID: agentID,
	}
	if err := repo.AppendAssignment(ctx, entry); err != nil {
		t.Fatalf("AppendAssignment: %v", err)
	}

	ok, err := repo.MarkAssignmentResponse(ctx, order.ID, agentID, enums.AgentResponseAccepted)
	if err != nil || !ok {
		t.Fatalf("MarkAssignmentResponse = %v, %v, want true", ok, err)
	}
	ok, err = repo.MarkAssignmentResponse(ctx, order.ID, agentID, enums.AgentResponseTimeout)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if ok {
		t.Fatal("a stamped history entry must not be re-stamped")
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if len(loaded.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(loaded.Assignments))
	}
	if loaded.Assignments[0].Response != enums.AgentResponseAccepted {
		t.Fatalf("response = %s, want accepted", loaded.Assignments[0].Response)
	}
	if loaded.Assignments[0].ResponseAt == nil {
		t.Fatal("expected response timestamp")
	}
}

func TestRetryBookkeeping(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, func(o *models.Order) {
		o.PaymentStatus = enums.PaymentStatusPaid
	})

	for i := 0; i < 3; i++ {
		if err := repo.IncrementRetry(ctx, order.ID); err != nil {
			t.Fatalf("IncrementRetry: %v", err)
		}
	}
	if err := repo.FlagManualReview(ctx, order.ID); err != nil {
		t.Fatalf("FlagManualReview: %v", err)
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if loaded.RetryAttempts != 3 {
		t.Fatalf("retries = %d, want 3", loaded.RetryAttempts)
	}
	if loaded.LastRetryAt == nil {
		t.Fatal("expected last retry timestamp")
	}
	if !loaded.NeedsManualReview {
		t.Fatal("expected manual review flag")
	}
}

func TestSetDeliveryStatusGuards(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, func(o *models.Order) {
		o.DeliveryStatus = enums.DeliveryStatusAccepted
	})

	ok, err := repo.SetDeliveryStatus(ctx, order.ID, []enums.DeliveryStatus{enums.DeliveryStatusPending}, enums.DeliveryStatusPickedUp)
	if err != nil {
		t.Fatalf("SetDeliveryStatus: %v", err)
	}
	if ok {
		t.Fatal("transition from a non-matching state must be a no-op")
	}

	ok, err = repo.SetDeliveryStatus(ctx, order.ID, []enums.DeliveryStatus{enums.DeliveryStatusAccepted}, enums.DeliveryStatusPickedUp)
	if err != nil || !ok {
		t.Fatalf("SetDeliveryStatus = %v, %v, want true", ok, err)
	}

	loaded, _ := repo.FindByID(ctx, order.ID)
	if loaded.DeliveryStatus != enums.DeliveryStatusPickedUp {
		t.Fatalf("status = %s, want picked_up", loaded.DeliveryStatus)
	}
}

func TestReplaceAgentSkipsTerminalOrders(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	order := seedOrder(t, repo, func(o *models.Order) {
		o.DeliveryStatus = enums.DeliveryStatusCancelled
	})

	ok, err := repo.ReplaceAgent(ctx, order.ID, uuid.New())
	if err != nil {
		t.Fatalf("ReplaceAgent: %v", err)
	}
	if ok {
		t.Fatal("a terminal order must not be reassigned")
	}

	live := seedOrder(t, repo, func(o *models.Order) {
		o.DeliveryStatus = enums.DeliveryStatusAssigned
	})
	newAgent := uuid.New()
	ok, err = repo.ReplaceAgent(ctx, live.ID, newAgent)
	if err != nil || !ok {
		t.Fatalf("ReplaceAgent = %v, %v, want true", ok, err)
	}

	loaded, _ := repo.FindByID(ctx, live.ID)
	if loaded.AgentID == nil || *loaded.AgentID != newAgent {
		t.Fatalf("agent = %v, want %s", loaded.AgentID, newAgent)
	}
	if loaded.AgentResponse == nil || *loaded.AgentResponse != enums.AgentResponsePending {
		t.Fatalf("response = %v, want fresh pending offer", loaded.AgentResponse)
	}
}
