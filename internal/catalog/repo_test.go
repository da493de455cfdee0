package catalog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/basketly/basketly-backend/pkg/db/models"
)

func newTestRepo(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Product{}, &models.Seller{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return NewRepository(conn), conn
}

func seedProduct(t *testing.T, conn *gorm.DB, status string) models.Product {
	t.Helper()
	product := models.Product{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Name:     "Rice 5kg",
		Category: "grocery",
		Price:    12.5,
		Status:   status,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

func TestFindProducts_SkipsInactive(t *testing.T) {
	repo, conn := newTestRepo(t)
	ctx := context.Background()

	active := seedProduct(t, conn, "active")
	delisted := seedProduct(t, conn, "inactive")

	found, err := repo.FindProducts(ctx, []uuid.UUID{active.ID, delisted.ID})
	if err != nil {
		t.Fatalf("FindProducts error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 product, got %d", len(found))
	}
	if _, ok := found[active.ID]; !ok {
		t.Fatal("expected the active product in the result")
	}
	if _, ok := found[delisted.ID]; ok {
		t.Fatal("inactive product must not resolve")
	}
}

func TestFindProducts_EmptyIDs(t *testing.T) {
	repo, _ := newTestRepo(t)

	found, err := repo.FindProducts(context.Background(), nil)
	if err != nil {
		t.Fatalf("FindProducts error: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected empty result, got %d", len(found))
	}
}

func TestFindSeller_MissingReturnsNil(t *testing.T) {
	repo, _ := newTestRepo(t)

	seller, err := repo.FindSeller(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("FindSeller error: %v", err)
	}
	if seller != nil {
		t.Fatalf("expected nil seller, got %+v", seller)
	}
}
