package earnings

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/basketly/basketly-backend/internal/catalog"
	"github.com/basketly/basketly-backend/internal/settings"
	"github.com/basketly/basketly-backend/pkg/db/models"
	"github.com/basketly/basketly-backend/pkg/enums"
	pkgerrors "github.com/basketly/basketly-backend/pkg/errors"
)

// Service settles a delivered order into per-party earning logs. Calls are
// idempotent: rerunning settlement upserts the same rows.
type Service interface {
	RecordForOrder(ctx context.Context, order *models.Order) error
}

type service struct {
	repo     Repository
	catalog  catalog.Repository
	settings settings.Service
}

// NewService wires the earnings service with its collaborators.
func NewService(repo Repository, catalogRepo catalog.Repository, settingsSvc settings.Service) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("earnings repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if settingsSvc == nil {
		return nil, fmt.Errorf("settings service required")
	}
	return &service{repo: repo, catalog: catalogRepo, settings: settingsSvc}, nil
}

func (s *service) RecordForOrder(ctx context.Context, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if order.DeliveryStatus != enums.DeliveryStatusDelivered {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "earnings are only settled for delivered orders")
	}

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	sellerTotals, err := s.sellerTotals(ctx, order)
	if err != nil {
		return err
	}

	for _, st := range sellerTotals {
		itemTotal := round2(st.total)
		commission := round2(itemTotal * snap.PlatformCommissionRate)
		log := &models.EarningLog{
			Role:               enums.EarningRoleSeller,
			OrderID:            order.ID,
			PartyID:            st.sellerID,
			ItemTotal:          itemTotal,
			PlatformCommission: commission,
			NetEarning:         round2(itemTotal - commission),
		}
		if err := s.repo.Upsert(ctx, log); err != nil {
			return err
		}
	}

	if order.AgentID != nil {
		charge := 0.0
		if order.DeliveryCharge != nil {
			charge = *order.DeliveryCharge
		}

		// A waived charge with no platform top-up would settle to a net-zero
		// row, so there is nothing to record for the agent.
		if charge == 0 && !order.AdminPaysAgent {
			return nil
		}

		net := round2(charge * snap.DeliveryAgentShareRate)
		if order.AdminPaysAgent {
			// The platform covers the agent directly on waived deliveries.
			net = round2(order.AdminAgentPayment)
		}

		log := &models.EarningLog{
			Role:           enums.EarningRoleDelivery,
			OrderID:        order.ID,
			PartyID:        *order.AgentID,
			DeliveryCharge: charge,
			NetEarning:     net,
		}
		if err := s.repo.Upsert(ctx, log); err != nil {
			return err
		}
	}

	return nil
}

type sellerTotal struct {
	sellerID uuid.UUID
	total    float64
}

// sellerTotals groups line amounts by the seller of each resolved product.
// Fallback lines fall back to the order-level seller; lines with no seller
// at all are skipped.
func (s *service) sellerTotals(ctx context.Context, order *models.Order) ([]sellerTotal, error) {
	ids := make([]uuid.UUID, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.ProductID != nil {
			ids = append(ids, *line.ProductID)
		}
	}

	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	totals := map[uuid.UUID]float64{}
	orderIndex := []uuid.UUID{}
	add := func(sellerID uuid.UUID, amount float64) {
		if _, seen := totals[sellerID]; !seen {
			orderIndex = append(orderIndex, sellerID)
		}
		totals[sellerID] += amount
	}

	for _, line := range order.Lines {
		if line.ProductID != nil {
			if product, ok := products[*line.ProductID]; ok {
				add(product.SellerID, line.Total())
				continue
			}
		}
		if order.SellerID != nil {
			add(*order.SellerID, line.Total())
		}
	}

	result := make([]sellerTotal, 0, len(orderIndex))
	for _, sellerID := range orderIndex {
		result = append(result, sellerTotal{sellerID: sellerID, total: totals[sellerID]})
	}
	return result, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
