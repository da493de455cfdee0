package earnings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/settings"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
)

type fakeRepository struct {
	upserts []models.EarningLog
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Upsert(ctx context.Context, log *models.EarningLog) error {
	f.upserts = append(f.upserts, *log)
	return nil
}

func (f *fakeRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.EarningLog, error) {
	return f.upserts, nil
}

type fakeCatalog struct {
	products map[uuid.UUID]models.Product
}

func (f *fakeCatalog) WithTx(tx *gorm.DB) catalog.Repository {
	return f
}

func (f *fakeCatalog) FindProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	result := make(map[uuid.UUID]models.Product)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (f *fakeCatalog) FindSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	return nil, nil
}

type fakeSettings struct {
	snap settings.Snapshot
}

func (f *fakeSettings) Get(ctx context.Context) (settings.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeSettings) IncrementCouponUsage(ctx context.Context, code, clientID string) error {
	return nil
}

func defaultSnapshot() settings.Snapshot {
	return settings.Snapshot{
		PlatformCommissionRate: 0.1,
		DeliveryAgentShareRate: 0.8,
	}
}

func deliveredOrder(agentID *uuid.UUID, charge float64, lines ...models.OrderLine) *models.Order {
	c := charge
	return &models.Order{
		ID:             uuid.New(),
		DeliveryStatus: enums.DeliveryStatusDelivered,
		AgentID:        agentID,
		DeliveryCharge: &c,
		Lines:          lines,
	}
}

func TestRecordForOrder_SellerAndAgentLogs(t *testing.T) {
	sellerA := uuid.New()
	sellerB := uuid.New()
	prodA := models.Product{ID: uuid.New(), SellerID: sellerA, Name: "Rice", Price: 10}
	prodB := models.Product{ID: uuid.New(), SellerID: sellerB, Name: "Soup", Price: 20}
	agentID := uuid.New()

	repo := &fakeRepository{}
	svc, err := NewService(repo, &fakeCatalog{products: map[uuid.UUID]models.Product{prodA.ID: prodA, prodB.ID: prodB}}, &fakeSettings{snap: defaultSnapshot()})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	order := deliveredOrder(&agentID, 30,
		models.OrderLine{ProductID: &prodA.ID, UnitPrice: 10, Quantity: 3},
		models.OrderLine{ProductID: &prodB.ID, UnitPrice: 20, Quantity: 1},
	)

	if err := svc.RecordForOrder(context.Background(), order); err != nil {
		t.Fatalf("RecordForOrder error: %v", err)
	}
	if len(repo.upserts) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(repo.upserts))
	}

	byParty := map[uuid.UUID]models.EarningLog{}
	for _, log := range repo.upserts {
		byParty[log.PartyID] = log
	}

	a := byParty[sellerA]
	if a.ItemTotal != 30 || a.PlatformCommission != 3 || a.NetEarning != 27 {
		t.Fatalf("unexpected seller A log %+v", a)
	}
	b := byParty[sellerB]
	if b.ItemTotal != 20 || b.PlatformCommission != 2 || b.NetEarning != 18 {
		t.Fatalf("unexpected seller B log %+v", b)
	}
	agent := byParty[agentID]
	if agent.Role != enums.EarningRoleDelivery {
		t.Fatalf("unexpected agent role %v", agent.Role)
	}
	if agent.DeliveryCharge != 30 || agent.NetEarning != 24 {
		t.Fatalf("unexpected agent log %+v", agent)
	}
}

func TestRecordForOrder_AdminPaysAgentOverride(t *testing.T) {
	agentID := uuid.New()
	repo := &fakeRepository{}
	svc, _ := NewService(repo, &fakeCatalog{}, &fakeSettings{snap: defaultSnapshot()})

	order := deliveredOrder(&agentID, 0)
	order.AdminPaysAgent = true
	order.AdminAgentPayment = 25

	if err := svc.RecordForOrder(context.Background(), order); err != nil {
		t.Fatalf("RecordForOrder error: %v", err)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected 1 log, got %d", len(repo.upserts))
	}
	if repo.upserts[0].NetEarning != 25 {
		t.Fatalf("expected fixed payment 25, got %v", repo.upserts[0].NetEarning)
	}
}

func TestRecordForOrder_FallbackLinesUseOrderSeller(t *testing.T) {
	sellerID := uuid.New()
	repo := &fakeRepository{}
	svc, _ := NewService(repo, &fakeCatalog{}, &fakeSettings{snap: defaultSnapshot()})

	order := deliveredOrder(nil, 0,
		models.OrderLine{Name: "Mystery", UnitPrice: 15, Quantity: 2},
	)
	order.SellerID = &sellerID

	if err := svc.RecordForOrder(context.Background(), order); err != nil {
		t.Fatalf("RecordForOrder error: %v", err)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected 1 log, got %d", len(repo.upserts))
	}
	log := repo.upserts[0]
	if log.PartyID != sellerID || log.ItemTotal != 30 {
		t.Fatalf("unexpected log %+v", log)
	}
}

func TestRecordForOrder_SkipsAgentLogOnWaivedCharge(t *testing.T) {
	sellerID := uuid.New()
	prod := models.Product{ID: uuid.New(), SellerID: sellerID, Price: 10}
	agentID := uuid.New()
	repo := &fakeRepository{}
	svc, _ := NewService(repo, &fakeCatalog{products: map[uuid.UUID]models.Product{prod.ID: prod}}, &fakeSettings{snap: defaultSnapshot()})

	order := deliveredOrder(&agentID, 0, models.OrderLine{ProductID: &prod.ID, UnitPrice: 10, Quantity: 2})

	if err := svc.RecordForOrder(context.Background(), order); err != nil {
		t.Fatalf("RecordForOrder error: %v", err)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected only the seller log, got %d", len(repo.upserts))
	}
	if repo.upserts[0].Role != enums.EarningRoleSeller {
		t.Fatalf("unexpected role %v", repo.upserts[0].Role)
	}
}

func TestRecordForOrder_RejectsUndelivered(t *testing.T) {
	svc, _ := NewService(&fakeRepository{}, &fakeCatalog{}, &fakeSettings{snap: defaultSnapshot()})
	order := &models.Order{ID: uuid.New(), DeliveryStatus: enums.DeliveryStatusInTransit}
	if err := svc.RecordForOrder(context.Background(), order); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRecordForOrder_Idempotent(t *testing.T) {
	sellerID := uuid.New()
	prod := models.Product{ID: uuid.New(), SellerID: sellerID, Price: 10}
	agentID := uuid.New()
	repo := &fakeRepository{}
	svc, _ := NewService(repo, &fakeCatalog{products: map[uuid.UUID]models.Product{prod.ID: prod}}, &fakeSettings{snap: defaultSnapshot()})

	order := deliveredOrder(&agentID, 40, models.OrderLine{ProductID: &prod.ID, UnitPrice: 10, Quantity: 1})
	if err := svc.RecordForOrder(context.Background(), order); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := svc.RecordForOrder(context.Background(), order); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// both runs write identical keys; the repository upsert collapses them
	first := repo.upserts[:2]
	second := repo.upserts[2:]
	for i := range first {
		if first[i].PartyID != second[i].PartyID || first[i].NetEarning != second[i].NetEarning {
			t.Fatalf("replay produced different logs: %+v vs %+v", first[i], second[i])
		}
	}
}
