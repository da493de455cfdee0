package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/basketly/basketly-backend/pkg/config"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
)

// Service reads marketplace tunables, falling back to configured defaults
// when the settings row is absent or a field is unset.
type Service interface {
	Get(ctx context.Context) (Snapshot, error)
	IncrementCouponUsage(ctx context.Context, code, clientID string) error
}

// Snapshot is the resolved view of platform settings with every default
// applied.
type Snapshot struct {
	DeliveryChargeGrocery     float64
	DeliveryChargeFood        float64
	MinTotalForDeliveryCharge float64

	PlatformCommissionRate float64
	DeliveryAgentShareRate float64

	FreeDeliveryAdminCompensation bool
	FreeDeliveryAgentPayment      float64

	Coupons []models.Coupon
}

// ChargeFor returns the base delivery charge for a category.
func (s Snapshot) ChargeFor(category enums.OrderCategory) float64 {
	if category == enums.OrderCategoryFood {
		return s.DeliveryChargeFood
	}
	return s.DeliveryChargeGrocery
}

type service struct {
	repo     Repository
	defaults config.PricingConfig
	earnings config.EarningsConfig
}

// NewService wires a settings service with the provided repository and
// fallback rates.
func NewService(repo Repository, defaults config.PricingConfig, earnings config.EarningsConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settings repository required")
	}
	return &service{repo: repo, defaults: defaults, earnings: earnings}, nil
}

func (s *service) Get(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		DeliveryChargeGrocery:     s.defaults.GroceryDeliveryCharge,
		DeliveryChargeFood:        s.defaults.FoodDeliveryCharge,
		MinTotalForDeliveryCharge: s.defaults.FreeDeliveryThreshold,
		PlatformCommissionRate:    s.earnings.CommissionRate,
		DeliveryAgentShareRate:    s.earnings.AgentShareRate,
	}

	row, err := s.repo.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if row == nil {
		return snap, nil
	}

	if row.DeliveryChargeGrocery != nil {
		snap.DeliveryChargeGrocery = *row.DeliveryChargeGrocery
	}
	if row.DeliveryChargeFood != nil {
		snap.DeliveryChargeFood = *row.DeliveryChargeFood
	}
	if row.MinTotalForDeliveryCharge != nil {
		snap.MinTotalForDeliveryCharge = *row.MinTotalForDeliveryCharge
	}
	if row.PlatformCommissionRate != nil {
		snap.PlatformCommissionRate = *row.PlatformCommissionRate
	}
	if row.DeliveryAgentShareRate != nil {
		snap.DeliveryAgentShareRate = *row.DeliveryAgentShareRate
	}
	snap.FreeDeliveryAdminCompensation = row.FreeDeliveryAdminCompensation
	snap.FreeDeliveryAgentPayment = row.FreeDeliveryAgentPayment
	snap.Coupons = row.Coupons

	return snap, nil
}

// IncrementCouponUsage bumps the global usage count and records the client
// against the per-user cap. Unknown codes are a no-op.
func (s *service) IncrementCouponUsage(ctx context.Context, code, clientID string) error {
	row, err := s.repo.Get(ctx)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	changed := false
	for i := range row.Coupons {
		if !equalCouponCode(row.Coupons[i].Code, code) {
			continue
		}
		row.Coupons[i].UsageCount++
		if clientID != "" {
			row.Coupons[i].UsedBy = append(row.Coupons[i].UsedBy, clientID)
		}
		changed = true
		break
	}
	if !changed {
		return nil
	}
	return s.repo.Save(ctx, row)
}

func equalCouponCode(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
