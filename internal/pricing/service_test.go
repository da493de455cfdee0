package pricing

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/settings"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
)

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

func newProduct(sellerID uuid.UUID, name, category string, price float64) models.Product {
	return models.Product{
		ID:       uuid.New(),
		SellerID: sellerID,
		Name:     name,
		Category: category,
		Price:    price,
		Status:   "active",
	}
}

func newTestService(t *testing.T, products ...models.Product) (Service, *fakeCatalog) {
	t.Helper()
	cat := &fakeCatalog{products: make(map[uuid.UUID]models.Product)}
	for _, p := range products {
		cat.products[p.ID] = p
	}
	svc, err := NewService(cat, &fakeSettings{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc, cat
}

func TestBuildGroups_SplitsByCategory(t *testing.T) {
	seller := uuid.New()
	rice := newProduct(seller, "Rice 5kg", "vegetables & staples", 12.5)
	burger := newProduct(seller, "Burger", "Fast Food", 8)
	svc, _ := newTestService(t, rice, burger)

	groups, err := svc.BuildGroups(context.Background(), []CartLine{
		{ProductID: &rice.ID, Quantity: 2},
		{ProductID: &burger.ID, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("BuildGroups error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Category != enums.OrderCategoryGrocery || groups[1].Category != enums.OrderCategoryFood {
		t.Fatalf("unexpected group order: %v, %v", groups[0].Category, groups[1].Category)
	}
	if groups[0].Subtotal != 25 {
		t.Fatalf("expected grocery subtotal 25, got %v", groups[0].Subtotal)
	}
	if groups[1].Subtotal != 8 {
		t.Fatalf("expected food subtotal 8, got %v", groups[1].Subtotal)
	}
}

func TestBuildGroups_SubtotalConservation(t *testing.T) {
	seller := uuid.New()
	a := newProduct(seller, "Apples", "fruit", 3.33)
	b := newProduct(seller, "Noodles", "restaurant", 7.77)
	c := newProduct(seller, "Beans", "grocery", 2.2)
	svc, _ := newTestService(t, a, b, c)

	lines := []CartLine{
		{ProductID: &a.ID, Quantity: 3},
		{ProductID: &b.ID, Quantity: 2},
		{ProductID: &c.ID, Quantity: 5},
	}
	groups, err := svc.BuildGroups(context.Background(), lines)
	if err != nil {
		t.Fatalf("BuildGroups error: %v", err)
	}

	want := Round2(3*3.33 + 2*7.77 + 5*2.2)
	got := 0.0
	for _, g := range groups {
		got += g.Subtotal
	}
	if math.Abs(Round2(got)-want) > 0.001 {
		t.Fatalf("subtotals not conserved: want %v got %v", want, got)
	}
}

func TestBuildGroups_FallbackLines(t *testing.T) {
	svc, _ := newTestService(t)
	missing := uuid.New()

	groups, err := svc.BuildGroups(context.Background(), []CartLine{
		{ProductID: &missing, Quantity: 1, Fallback: &FallbackItem{Name: "Mystery Snack", Price: 4.5, Category: "food"}},
	})
	if err != nil {
		t.Fatalf("BuildGroups error: %v", err)
	}
	if len(groups) != 1 || groups[0].Category != enums.OrderCategoryFood {
		t.Fatalf("unexpected groups %+v", groups)
	}
	line := groups[0].Lines[0]
	if !line.IsFallback() {
		t.Fatal("expected a fallback line")
	}
	if line.Name != "Mystery Snack" || line.UnitPrice != 4.5 {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestBuildGroups_InactiveProductFallsBack(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Product{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}

	delisted := newProduct(uuid.New(), "Old Snack", "food", 9)
	delisted.Status = "inactive"
	if err := conn.Create(&delisted).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	svc, err := NewService(catalog.NewRepository(conn), &fakeSettings{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	groups, err := svc.BuildGroups(context.Background(), []CartLine{
		{ProductID: &delisted.ID, Quantity: 1, Fallback: &FallbackItem{Name: "Fresh Snack", Price: 4.5, Category: "food"}},
	})
	if err != nil {
		t.Fatalf("BuildGroups error: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Lines) != 1 {
		t.Fatalf("unexpected groups %+v", groups)
	}
	line := groups[0].Lines[0]
	if !line.IsFallback() {
		t.Fatal("expected the delisted product to resolve through its fallback")
	}
	if line.Name != "Fresh Snack" || line.UnitPrice != 4.5 {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestBuildGroups_RejectsInvalidFallback(t *testing.T) {
	svc, _ := newTestService(t)
	missing := uuid.New()

	cases := []struct {
		name string
		fb   *FallbackItem
	}{
		{"nil fallback", nil},
		{"negative price", &FallbackItem{Name: "X", Price: -1, Category: "food"}},
		{"nan price", &FallbackItem{Name: "X", Price: math.NaN(), Category: "food"}},
		{"inf price", &FallbackItem{Name: "X", Price: math.Inf(1), Category: "food"}},
		{"blank name", &FallbackItem{Name: "  ", Price: 2, Category: "food"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.BuildGroups(context.Background(), []CartLine{
				{ProductID: &missing, Quantity: 1, Fallback: tc.fb},
			})
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBuildGroups_EmptyCart(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.BuildGroups(context.Background(), nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]enums.OrderCategory{
		"Fast Food":     enums.OrderCategoryFood,
		"restaurant":    enums.OrderCategoryFood,
		"Ready to Eat":  enums.OrderCategoryFood,
		"vegetables":    enums.OrderCategoryGrocery,
		"dairy":         enums.OrderCategoryGrocery,
		"":              enums.OrderCategoryGrocery,
		"frozen things": enums.OrderCategoryGrocery,
	}
	for raw, want := range cases {
		if got := Classify(raw); got != want {
			t.Fatalf("Classify(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestDeliveryCharge(t *testing.T) {
	svc, _ := newTestService(t)
	snap := settings.Snapshot{
		DeliveryChargeGrocery:     30,
		DeliveryChargeFood:        40,
		MinTotalForDeliveryCharge: 100,
	}

	grocery := Group{Category: enums.OrderCategoryGrocery, Subtotal: 80}
	if got := svc.DeliveryCharge(grocery, snap); got != 30 {
		t.Fatalf("expected charge 30 below threshold, got %v", got)
	}

	grocery.Subtotal = 99.99
	if got := svc.DeliveryCharge(grocery, snap); got != 30 {
		t.Fatalf("expected charge 30 just below threshold, got %v", got)
	}

	grocery.Subtotal = 100
	if got := svc.DeliveryCharge(grocery, snap); got != 0 {
		t.Fatalf("expected waived charge at threshold, got %v", got)
	}

	grocery.Subtotal = 100.01
	if got := svc.DeliveryCharge(grocery, snap); got != 0 {
		t.Fatalf("expected waived charge above threshold, got %v", got)
	}

	food := Group{Category: enums.OrderCategoryFood, Subtotal: 50}
	if got := svc.DeliveryCharge(food, snap); got != 40 {
		t.Fatalf("expected food charge 40, got %v", got)
	}

	snap.MinTotalForDeliveryCharge = 0
	grocery.Subtotal = 1000
	if got := svc.DeliveryCharge(grocery, snap); got != 30 {
		t.Fatalf("expected charge when threshold unset, got %v", got)
	}
}

func TestValidateCoupon(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	base := models.Coupon{
		Code:        "SAVE10",
		Percent:     10,
		Active:      true,
		ValidFrom:   &past,
		ValidTo:     &future,
		MinSubtotal: 50,
	}

	cases := []struct {
		name     string
		mutate   func(c *models.Coupon)
		code     string
		subtotal float64
		wantErr  bool
	}{
		{"valid", nil, "SAVE10", 60, false},
		{"case and whitespace insensitive", nil, "  save10 ", 60, false},
		{"unknown code", nil, "NOPE", 60, true},
		{"inactive", func(c *models.Coupon) { c.Active = false }, "SAVE10", 60, true},
		{"not yet valid", func(c *models.Coupon) { c.ValidFrom = &future }, "SAVE10", 60, true},
		{"expired", func(c *models.Coupon) { c.ValidTo = &past }, "SAVE10", 60, true},
		{"below min subtotal", nil, "SAVE10", 40, true},
		{"usage limit reached", func(c *models.Coupon) { c.UsageLimit = 2; c.UsageCount = 2 }, "SAVE10", 60, true},
		{"per-user cap reached", func(c *models.Coupon) { c.MaxUsesPerUser = 1; c.UsedBy = []string{"client-1"} }, "SAVE10", 60, true},
		{"category mismatch", func(c *models.Coupon) { c.Categories = []string{"food"} }, "SAVE10", 60, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := base
			if tc.mutate != nil {
				tc.mutate(&coupon)
			}
			svc, err := NewService(&fakeCatalog{}, &fakeSettings{snap: settings.Snapshot{Coupons: []models.Coupon{coupon}}})
			if err != nil {
				t.Fatalf("unexpected service error: %v", err)
			}

			percent, err := svc.ValidateCoupon(context.Background(), tc.code, tc.subtotal, []enums.OrderCategory{enums.OrderCategoryGrocery}, "client-1")
			if tc.wantErr {
				if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCoupon error: %v", err)
			}
			if percent != 10 {
				t.Fatalf("expected percent 10, got %v", percent)
			}
		})
	}
}

func TestValidateCoupon_CategoryIntersection(t *testing.T) {
	coupon := models.Coupon{Code: "FOODIE", Percent: 15, Active: true, Categories: []string{"food"}}
	svc, _ := NewService(&fakeCatalog{}, &fakeSettings{snap: settings.Snapshot{Coupons: []models.Coupon{coupon}}})

	percent, err := svc.ValidateCoupon(context.Background(), "FOODIE", 60, []enums.OrderCategory{enums.OrderCategoryGrocery, enums.OrderCategoryFood}, "")
	if err != nil {
		t.Fatalf("ValidateCoupon error: %v", err)
	}
	if percent != 15 {
		t.Fatalf("expected percent 15, got %v", percent)
	}
}

func TestAllocateDiscount_ConservesTotal(t *testing.T) {
	svc, _ := newTestService(t)
	groups := []Group{
		{Category: enums.OrderCategoryGrocery, Subtotal: 33.33},
		{Category: enums.OrderCategoryFood, Subtotal: 66.67},
	}

	shares := svc.AllocateDiscount(10, groups)
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}
	sum := Round2(shares[0] + shares[1])
	if sum != 10 {
		t.Fatalf("discount not conserved: %v (shares %v)", sum, shares)
	}
	if shares[0] != 3.33 {
		t.Fatalf("unexpected proportional share %v", shares[0])
	}
}

func TestAllocateDiscount_LastShareClampedAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	groups := []Group{
		{Category: enums.OrderCategoryGrocery, Subtotal: 100},
		{Category: enums.OrderCategoryFood, Subtotal: 0.01},
	}

	shares := svc.AllocateDiscount(0.01, groups)
	if shares[1] < 0 {
		t.Fatalf("last share must not be negative, got %v", shares[1])
	}
}

func TestAllocateDiscount_ZeroTotal(t *testing.T) {
	svc, _ := newTestService(t)
	shares := svc.AllocateDiscount(0, []Group{{Subtotal: 50}})
	if shares[0] != 0 {
		t.Fatalf("expected zero share, got %v", shares[0])
	}
}
