package services

import (
	"context"
	"fmt"
	"strings"
)

// CheckStockAvailability reports whether the order's items could be covered by
// current availability without mutating anything. Quantities the order already
// holds count toward its own availability.
func (s *orderService) CheckStockAvailability(ctx context.Context, orderID string) (StockAvailabilityResult, error) {
	if ctx == nil {
		return StockAvailabilityResult{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return StockAvailabilityResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return StockAvailabilityResult{}, s.mapRepositoryError(err)
	}

	conflicts, err := s.resolveStockConflicts(ctx, order.ID, order.Items)
	if err != nil {
		return StockAvailabilityResult{}, err
	}

	return StockAvailabilityResult{
		HasConflicts: len(conflicts) > 0,
		Conflicts:    conflicts,
	}, nil
}

// resolveStockConflicts checks every line against ledger availability and
// returns the complete shortage list. Quantities already reserved for this
// order are treated as available to it because a reserve replaces the order's
// existing reservation rather than stacking on top of it.
func (s *orderService) resolveStockConflicts(ctx context.Context, orderID string, items []OrderItem) ([]StockConflictItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	variantIDs := make([]string, 0, len(items))
	for _, item := range items {
		variantIDs = append(variantIDs, item.ProductVariantID)
	}

	levels, err := s.ledger.Availability(ctx, variantIDs)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	held := make(map[string]int)
	reserved, err := s.ledger.Reservation(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	for _, line := range reserved {
		held[line.VariantID] = line.Quantity
	}

	var conflicts []StockConflictItem
	for _, item := range items {
		available := held[item.ProductVariantID]
		if level, ok := levels[item.ProductVariantID]; ok {
			available += level.Available
		}
		if item.Quantity > available {
			conflicts = append(conflicts, StockConflictItem{
				ProductVariantID: item.ProductVariantID,
				ProductName:      item.ProductName,
				SKU:              item.SKU,
				RequiredQuantity: item.Quantity,
				AvailableStock:   available,
			})
		}
	}

	return conflicts, nil
}
