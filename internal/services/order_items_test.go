package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/repositories"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestMutateItemIncrease(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))
	fixture.rates.rate = 1200

	updated, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionIncrease,
		ProductVariantID: "var_frame",
		Quantity:         intPtr(3),
		ActorID:          "admin_maria",
	})
	if err != nil {
		t.Fatalf("MutateItem returned error: %v", err)
	}

	if updated.Items[0].Quantity != 5 {
		t.Errorf("expected quantity 5, got %d", updated.Items[0].Quantity)
	}
	if updated.ItemsCount != 5 {
		t.Errorf("expected items count 5, got %d", updated.ItemsCount)
	}
	if updated.Financials.SubTotal != 50 {
		t.Errorf("expected subtotal 50, got %f", updated.Financials.SubTotal)
	}
	if updated.ExchangeRate != 1200 {
		t.Errorf("expected refreshed rate 1200, got %f", updated.ExchangeRate)
	}
	if updated.Financials.TotalAmountARS != 62400 {
		t.Errorf("expected ARS total at refreshed rate, got %f", updated.Financials.TotalAmountARS)
	}

	held := fixture.ledger.reservations[order.ID]
	if len(held) != 1 || held[0].Quantity != 5 {
		t.Errorf("expected reservation rebalanced to 5, got %+v", held)
	}

	if len(fixture.publisher.events) != 1 || fixture.publisher.events[0].Type != "order.items.changed" {
		t.Fatalf("expected items event, got %+v", fixture.publisher.events)
	}
	if len(fixture.audit.entries) != 1 || fixture.audit.entries[0].Action != "order.items.mutate" {
		t.Fatalf("expected mutation audit entry, got %+v", fixture.audit.entries)
	}
}

func TestMutateItemIncreaseStockConflict(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	ledger := newStubLedger(map[string]domain.StockLevel{
		"var_frame": {VariantID: "var_frame", Available: 1},
	})
	ledger.reservations[order.ID] = []repositories.ReservationLine{{VariantID: "var_frame", Quantity: 2}}
	fixture := newServiceFixture(t, newStubOrderRepo(order), ledger)

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionIncrease,
		ProductVariantID: "var_frame",
		Quantity:         intPtr(10),
	})
	if err == nil {
		t.Fatal("expected stock conflict, got nil")
	}

	var conflictErr *StockConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected StockConflictError, got %T", err)
	}
	// Held quantities count toward the order's own availability.
	if conflictErr.Conflicts[0].AvailableStock != 3 {
		t.Errorf("expected available 3 (1 free + 2 held), got %d", conflictErr.Conflicts[0].AvailableStock)
	}

	stored := fixture.orders.orders[order.ID]
	if stored.Items[0].Quantity != 2 {
		t.Error("expected order untouched after conflict")
	}
}

func TestMutateItemDecreaseToZeroRejected(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionDecrease,
		ProductVariantID: "var_frame",
		Quantity:         intPtr(2),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestMutateItemRemoveLastItemRejected(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionRemove,
		ProductVariantID: "var_frame",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestMutateItemRemoveLastItemAllowedWhenCancelled(t *testing.T) {
	order := testOrder(domain.OrderStatusCancelled)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))
	fixture.rates.rate = 1200

	updated, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionRemove,
		ProductVariantID: "var_frame",
	})
	if err != nil {
		t.Fatalf("remove on cancelled order returned error: %v", err)
	}
	if len(updated.Items) != 0 {
		t.Errorf("expected empty items, got %+v", updated.Items)
	}
	if fixture.ledger.reserveCalls != 0 {
		t.Error("expected no reservation for cancelled order")
	}
	if updated.ExchangeRate != 1000 {
		t.Errorf("expected cancelled order to keep its frozen rate, got %f", updated.ExchangeRate)
	}
}

func TestMutateItemAdd(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	updated, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID: order.ID,
		Action:  ItemActionAdd,
		Item: &OrderItemInput{
			ProductVariantID: "var_lens",
			ProductName:      "Blue Light Lens",
			SKU:              "LN-BL",
			Quantity:         4,
			CostUSD:          1,
			PriceUSD:         3,
		},
	})
	if err != nil {
		t.Fatalf("add returned error: %v", err)
	}

	if len(updated.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(updated.Items))
	}
	if updated.Financials.SubTotal != 32 {
		t.Errorf("expected subtotal 32, got %f", updated.Financials.SubTotal)
	}
	held := fixture.ledger.reservations[order.ID]
	if len(held) != 2 {
		t.Errorf("expected reservation to include both lines, got %+v", held)
	}
}

func TestMutateItemAddDuplicateRejected(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID: order.ID,
		Action:  ItemActionAdd,
		Item:    &OrderItemInput{ProductVariantID: "var_frame", Quantity: 1, PriceUSD: 10},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestMutateItemUpdatePrices(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	updated, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionUpdatePrices,
		ProductVariantID: "var_frame",
		PriceUSD:         floatPtr(12.5),
		CostUSD:          floatPtr(5),
	})
	if err != nil {
		t.Fatalf("update_prices returned error: %v", err)
	}

	item := updated.Items[0]
	if item.PriceUSDAtPurchase != 12.5 || item.CostUSDAtPurchase != 5 {
		t.Errorf("expected updated prices, got %+v", item)
	}
	if item.SubTotal != 25 || item.CogsUSD != 10 || item.ContributionMarginUSD != 15 {
		t.Errorf("expected recomputed line totals, got %+v", item)
	}
	if item.ManualOverride {
		t.Error("expected manual override cleared by price update")
	}
	if fixture.ledger.reserveCalls != 0 {
		t.Error("expected no reservation change for a price-only update")
	}
}

func TestMutateItemUpdateAllManualOverride(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	updated, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionUpdateAll,
		ProductVariantID: "var_frame",
		SubTotal:         floatPtr(18),
		MarginUSD:        floatPtr(11.5),
	})
	if err != nil {
		t.Fatalf("update_all returned error: %v", err)
	}

	item := updated.Items[0]
	if !item.ManualOverride {
		t.Error("expected manual override flag")
	}
	if item.SubTotal != 18 || item.ContributionMarginUSD != 11.5 {
		t.Errorf("expected overridden totals kept, got %+v", item)
	}
	if item.CogsUSD != 6.5 {
		t.Errorf("expected cogs derived as subtotal minus margin, got %f", item.CogsUSD)
	}
	if updated.Financials.SubTotal != 18 {
		t.Errorf("expected order subtotal 18, got %f", updated.Financials.SubTotal)
	}
}

func TestMutateItemRefundedOrderImmutable(t *testing.T) {
	order := testOrder(domain.OrderStatusRefunded)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionIncrease,
		ProductVariantID: "var_frame",
		Quantity:         intPtr(1),
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestMutateItemBlockedByLiveRefund(t *testing.T) {
	order := testOrder(domain.OrderStatusCompleted)
	order.Refund = &Refund{Type: domain.RefundTypeFixed, Amount: 5, AppliedAmount: 5, OriginalSubTotal: 20, ProcessedAt: testClock}
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionIncrease,
		ProductVariantID: "var_frame",
		Quantity:         intPtr(1),
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestMutateItemRevisionConflict(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID:          order.ID,
		Action:           ItemActionIncrease,
		ProductVariantID: "var_frame",
		Quantity:         intPtr(1),
		ExpectedRevision: int64Ptr(1),
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestMutateItemUnknownAction(t *testing.T) {
	fixture := newServiceFixture(t, newStubOrderRepo(), newStubLedger(defaultLevels()))

	_, err := fixture.service.MutateItem(context.Background(), ItemMutationCommand{
		OrderID: "ord_existing",
		Action:  "merge",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
