package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/visionwholesale/api/internal/domain"
)

// MutateItem applies one item-level change to an order inside a single
// transaction. Quantity changes on orders that hold stock re-validate
// availability and rebalance the order's reservation before anything is
// persisted. On orders that hold stock the exchange rate is refetched and
// frozen onto the order so the recomputed ARS total reflects the rate at
// mutation time; cancelled orders keep the rate they were cancelled at.
func (s *orderService) MutateItem(ctx context.Context, cmd ItemMutationCommand) (Order, error) {
	if ctx == nil {
		return Order{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := validateItemAction(cmd); err != nil {
		return Order{}, err
	}

	rate, err := s.currentRate(ctx)
	if err != nil {
		return Order{}, err
	}

	var updated Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkRevision(order, cmd.ExpectedRevision); err != nil {
			return err
		}
		if order.Status == domain.OrderStatusRefunded {
			return fmt.Errorf("%w: refunded orders are immutable", ErrOrderInvalidState)
		}
		if order.Refund != nil {
			return fmt.Errorf("%w: cancel the refund before editing items", ErrOrderInvalidState)
		}

		items, quantitiesChanged, err := applyItemAction(order.Items, cmd)
		if err != nil {
			return err
		}
		if len(items) == 0 && order.Status != domain.OrderStatusCancelled {
			return fmt.Errorf("%w: an active order must keep at least one item", ErrOrderInvalidInput)
		}

		holdsStock := order.Status != domain.OrderStatusCancelled
		if quantitiesChanged && holdsStock {
			conflicts, err := s.resolveStockConflicts(txCtx, order.ID, items)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &StockConflictError{OrderID: order.ID, Conflicts: conflicts}
			}
			if err := s.ledger.Reserve(txCtx, order.ID, reservationLines(items)); err != nil {
				return s.mapLedgerError(txCtx, order.ID, items, err)
			}
		}

		now := s.now()
		order.Items = s.calc.PriceItems(items)
		order.ItemsCount = countItems(order.Items)
		if holdsStock {
			order.ExchangeRate = rate.Value
			order.Financials = s.calc.Snapshot(order.Items, order.PaymentMethod, order.Refund, order.ExchangeRate)
		}
		order.UpdatedAt = now
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			order.UpdatedBy = valuePtr(actor)
		}

		saved, err := s.orders.Update(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		updated = saved

		return s.recordAudit(txCtx, auditActionItemMutation, order.ID, cmd.ActorID, now, itemAuditDetails(cmd, order))
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventItemsChanged,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    updated.UpdatedAt,
		Metadata: map[string]any{
			"action":  string(cmd.Action),
			"variant": targetVariantID(cmd),
		},
	})

	return updated, nil
}

func validateItemAction(cmd ItemMutationCommand) error {
	switch cmd.Action {
	case ItemActionAdd:
		if cmd.Item == nil {
			return fmt.Errorf("%w: add requires an item payload", ErrOrderInvalidInput)
		}
		return nil
	case ItemActionIncrease, ItemActionDecrease, ItemActionSet:
		if strings.TrimSpace(cmd.ProductVariantID) == "" {
			return fmt.Errorf("%w: item variant id is required", ErrOrderInvalidInput)
		}
		if cmd.Quantity == nil || *cmd.Quantity <= 0 {
			return fmt.Errorf("%w: %s requires a positive quantity", ErrOrderInvalidInput, cmd.Action)
		}
		return nil
	case ItemActionRemove:
		if strings.TrimSpace(cmd.ProductVariantID) == "" {
			return fmt.Errorf("%w: item variant id is required", ErrOrderInvalidInput)
		}
		return nil
	case ItemActionUpdatePrices:
		if strings.TrimSpace(cmd.ProductVariantID) == "" {
			return fmt.Errorf("%w: item variant id is required", ErrOrderInvalidInput)
		}
		if cmd.PriceUSD == nil && cmd.CostUSD == nil {
			return fmt.Errorf("%w: update_prices requires a price or cost", ErrOrderInvalidInput)
		}
		if (cmd.PriceUSD != nil && *cmd.PriceUSD < 0) || (cmd.CostUSD != nil && *cmd.CostUSD < 0) {
			return fmt.Errorf("%w: prices must not be negative", ErrOrderInvalidInput)
		}
		return nil
	case ItemActionUpdateAll:
		if strings.TrimSpace(cmd.ProductVariantID) == "" {
			return fmt.Errorf("%w: item variant id is required", ErrOrderInvalidInput)
		}
		if cmd.SubTotal == nil || cmd.MarginUSD == nil {
			return fmt.Errorf("%w: update_all requires subtotal and margin", ErrOrderInvalidInput)
		}
		if *cmd.SubTotal < 0 {
			return fmt.Errorf("%w: subtotal must not be negative", ErrOrderInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown item action %q", ErrOrderInvalidInput, cmd.Action)
	}
}

// applyItemAction returns the mutated line set and whether any quantity moved,
// which is what decides if the stock reservation must be rebalanced.
func applyItemAction(items []OrderItem, cmd ItemMutationCommand) ([]OrderItem, bool, error) {
	result := make([]OrderItem, len(items))
	copy(result, items)

	if cmd.Action == ItemActionAdd {
		item, err := buildOrderItem(*cmd.Item)
		if err != nil {
			return nil, false, err
		}
		for _, existing := range result {
			if existing.ProductVariantID == item.ProductVariantID {
				return nil, false, fmt.Errorf("%w: variant %s already on order", ErrOrderInvalidInput, item.ProductVariantID)
			}
		}
		return append(result, item), true, nil
	}

	variantID := strings.TrimSpace(cmd.ProductVariantID)
	idx := -1
	for i, item := range result {
		if item.ProductVariantID == variantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false, fmt.Errorf("%w: variant %s not on order", ErrOrderInvalidInput, variantID)
	}

	switch cmd.Action {
	case ItemActionIncrease:
		result[idx].Quantity += *cmd.Quantity
		return result, true, nil
	case ItemActionDecrease:
		next := result[idx].Quantity - *cmd.Quantity
		if next <= 0 {
			return nil, false, fmt.Errorf("%w: quantity for %s would drop to %d, remove the line instead", ErrOrderInvalidInput, variantID, next)
		}
		result[idx].Quantity = next
		return result, true, nil
	case ItemActionSet:
		changed := result[idx].Quantity != *cmd.Quantity
		result[idx].Quantity = *cmd.Quantity
		return result, changed, nil
	case ItemActionRemove:
		return append(result[:idx], result[idx+1:]...), true, nil
	case ItemActionUpdatePrices:
		if cmd.PriceUSD != nil {
			result[idx].PriceUSDAtPurchase = *cmd.PriceUSD
		}
		if cmd.CostUSD != nil {
			result[idx].CostUSDAtPurchase = *cmd.CostUSD
		}
		result[idx].ManualOverride = false
		return result, false, nil
	case ItemActionUpdateAll:
		changed := false
		if cmd.Quantity != nil && *cmd.Quantity > 0 && *cmd.Quantity != result[idx].Quantity {
			result[idx].Quantity = *cmd.Quantity
			changed = true
		}
		if cmd.PriceUSD != nil {
			result[idx].PriceUSDAtPurchase = *cmd.PriceUSD
		}
		if cmd.CostUSD != nil {
			result[idx].CostUSDAtPurchase = *cmd.CostUSD
		}
		result[idx].SubTotal = *cmd.SubTotal
		result[idx].ContributionMarginUSD = *cmd.MarginUSD
		result[idx].ManualOverride = true
		return result, changed, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown item action %q", ErrOrderInvalidInput, cmd.Action)
	}
}

func itemAuditDetails(cmd ItemMutationCommand, order Order) map[string]any {
	details := map[string]any{
		"action":     string(cmd.Action),
		"variant":    targetVariantID(cmd),
		"itemsCount": order.ItemsCount,
		"subTotal":   order.Financials.SubTotal,
	}
	if cmd.Action == ItemActionUpdateAll {
		details["manualOverride"] = true
	}
	if cmd.Quantity != nil {
		details["quantity"] = *cmd.Quantity
	}
	return details
}

func targetVariantID(cmd ItemMutationCommand) string {
	if cmd.Action == ItemActionAdd && cmd.Item != nil {
		return strings.TrimSpace(cmd.Item.ProductVariantID)
	}
	return strings.TrimSpace(cmd.ProductVariantID)
}
