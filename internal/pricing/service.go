package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/settings"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
)

// CartLine is one requested item at checkout. Fallback carries the
// client-supplied snapshot used when the product id is absent or unknown.
type CartLine struct {
	ProductID *uuid.UUID
	Quantity  int
	Fallback  *FallbackItem
}

// FallbackItem is the client-supplied description of an uncatalogued item.
type FallbackItem struct {
	Name     string
	Price    float64
	Category string
}

// Group is a per-category bundle of priced lines ready to become an order.
type Group struct {
	Category enums.OrderCategory
	Lines    []models.OrderLine
	Subtotal float64

	// SellerIDs collects the distinct sellers whose products appear in the
	// group, in first-seen order.
	SellerIDs []uuid.UUID
}

// Service prices carts into category groups and applies platform pricing
// rules.
type Service interface {
	BuildGroups(ctx context.Context, lines []CartLine) ([]Group, error)
	DeliveryCharge(group Group, snap settings.Snapshot) float64
	ValidateCoupon(ctx context.Context, code string, subtotal float64, categories []enums.OrderCategory, clientID string) (float64, error)
	AllocateDiscount(total float64, groups []Group) []float64
}

type service struct {
	catalog  catalog.Repository
	settings settings.Service
}

// NewService wires a pricing service with its catalog and settings
// collaborators.
func NewService(catalogRepo catalog.Repository, settingsSvc settings.Service) (Service, error) {
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if settingsSvc == nil {
		return nil, fmt.Errorf("settings service required")
	}
	return &service{catalog: catalogRepo, settings: settingsSvc}, nil
}

// BuildGroups resolves cart lines against the catalog, accepts valid
// fallback lines for unknown products, and splits the result into grocery
// and food groups. Groups come back in stable [grocery, food] order with
// empty groups omitted.
func (s *service) BuildGroups(ctx context.Context, lines []CartLine) ([]Group, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if line.ProductID != nil {
			ids = append(ids, *line.ProductID)
		}
	}

	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	grouped := map[enums.OrderCategory]*Group{
		enums.OrderCategoryGrocery: {Category: enums.OrderCategoryGrocery},
		enums.OrderCategoryFood:    {Category: enums.OrderCategoryFood},
	}
	seenSellers := map[enums.OrderCategory]map[uuid.UUID]bool{
		enums.OrderCategoryGrocery: {},
		enums.OrderCategoryFood:    {},
	}

	for i, line := range lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity must be positive", i))
		}

		var orderLine models.OrderLine
		var sellerID *uuid.UUID

		if line.ProductID != nil {
			if product, ok := products[*line.ProductID]; ok {
				id := product.ID
				sid := product.SellerID
				orderLine = models.OrderLine{
					ProductID: &id,
					Name:      product.Name,
					Category:  product.Category,
					UnitPrice: product.Price,
					Quantity:  line.Quantity,
				}
				sellerID = &sid
			}
		}

		if orderLine.Name == "" {
			fb := line.Fallback
			if fb == nil {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: unknown product without fallback item", i))
			}
			if !validFallback(fb) {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: invalid fallback item", i))
			}
			orderLine = models.OrderLine{
				Name:      strings.TrimSpace(fb.Name),
				Category:  fb.Category,
				UnitPrice: fb.Price,
				Quantity:  line.Quantity,
			}
		}

		category := Classify(orderLine.Category)
		group := grouped[category]
		group.Lines = append(group.Lines, orderLine)
		group.Subtotal += orderLine.Total()
		if sellerID != nil && !seenSellers[category][*sellerID] {
			seenSellers[category][*sellerID] = true
			group.SellerIDs = append(group.SellerIDs, *sellerID)
		}
	}

	result := make([]Group, 0, 2)
	for _, category := range []enums.OrderCategory{enums.OrderCategoryGrocery, enums.OrderCategoryFood} {
		group := grouped[category]
		if len(group.Lines) == 0 {
			continue
		}
		group.Subtotal = Round2(group.Subtotal)
		result = append(result, *group)
	}
	return result, nil
}

// DeliveryCharge returns the charge owed for a group. The charge is waived
// only when the free-delivery threshold is set to a positive value and the
// group subtotal meets or exceeds it.
func (s *service) DeliveryCharge(group Group, snap settings.Snapshot) float64 {
	threshold := snap.MinTotalForDeliveryCharge
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return snap.ChargeFor(group.Category)
	}
	if group.Subtotal < threshold {
		return snap.ChargeFor(group.Category)
	}
	return 0
}

// ValidateCoupon checks a coupon code against the whole-cart subtotal and
// the categories present in the cart. Any failed rule short-circuits with a
// validation error; the returned percent applies to the full subtotal.
func (s *service) ValidateCoupon(ctx context.Context, code string, subtotal float64, categories []enums.OrderCategory, clientID string) (float64, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return 0, err
	}

	var coupon *models.Coupon
	for i := range snap.Coupons {
		if strings.EqualFold(strings.TrimSpace(snap.Coupons[i].Code), trimmed) {
			coupon = &snap.Coupons[i]
			break
		}
	}
	if coupon == nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon code")
	}
	if !coupon.Active {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon is not active")
	}

	now := time.Now().UTC()
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon is not yet valid")
	}
	if coupon.ValidTo != nil && now.After(*coupon.ValidTo) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon has expired")
	}
	if coupon.MinSubtotal > 0 && subtotal < coupon.MinSubtotal {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("coupon requires a minimum subtotal of %.2f", coupon.MinSubtotal))
	}
	if len(coupon.Categories) > 0 && !categoriesIntersect(coupon.Categories, categories) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon does not apply to these categories")
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon usage limit reached")
	}
	if coupon.MaxUsesPerUser > 0 && clientID != "" {
		uses := 0
		for _, used := range coupon.UsedBy {
			if used == clientID {
				uses++
			}
		}
		if uses >= coupon.MaxUsesPerUser {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon already used the maximum number of times")
		}
	}

	if coupon.Percent <= 0 || coupon.Percent > 100 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coupon percent is invalid")
	}
	return coupon.Percent, nil
}

// AllocateDiscount splits a cart-level discount across groups in proportion
// to their subtotals. Every share is rounded to two decimals and the last
// group absorbs the rounding remainder, clamped at zero.
func (s *service) AllocateDiscount(total float64, groups []Group) []float64 {
	shares := make([]float64, len(groups))
	if total <= 0 || len(groups) == 0 {
		return shares
	}

	subtotalAll := 0.0
	for _, g := range groups {
		subtotalAll += g.Subtotal
	}
	if subtotalAll <= 0 {
		return shares
	}

	allocated := 0.0
	for i := range groups {
		if i == len(groups)-1 {
			shares[i] = Round2(total - allocated)
			if shares[i] < 0 {
				shares[i] = 0
			}
			break
		}
		shares[i] = Round2(total * groups[i].Subtotal / subtotalAll)
		allocated += shares[i]
	}
	return shares
}

// Classify maps a raw product category to a fulfillment lane. Anything not
// recognizably prepared food is treated as grocery.
func Classify(rawCategory string) enums.OrderCategory {
	lowered := strings.ToLower(rawCategory)
	for _, marker := range []string{"restaurant", "food", "eat"} {
		if strings.Contains(lowered, marker) {
			return enums.OrderCategoryFood
		}
	}
	return enums.OrderCategoryGrocery
}

// Round2 rounds to two decimal places, the precision every monetary value
// in the system carries.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func validFallback(fb *FallbackItem) bool {
	if strings.TrimSpace(fb.Name) == "" {
		return false
	}
	if math.IsNaN(fb.Price) || math.IsInf(fb.Price, 0) || fb.Price < 0 {
		return false
	}
	return true
}

func categoriesIntersect(couponCategories []string, orderCategories []enums.OrderCategory) bool {
	for _, cc := range couponCategories {
		for _, oc := range orderCategories {
			if strings.EqualFold(strings.TrimSpace(cc), oc.String()) {
				return true
			}
		}
	}
	return false
}
