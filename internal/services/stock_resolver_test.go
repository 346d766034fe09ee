package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/repositories"
)

func twoLineOrder(status domain.OrderStatus) Order {
	order := testOrder(status)
	order.Items = append(order.Items, OrderItem{
		ProductVariantID:      "var_lens",
		ProductName:           "Blue Light Lens",
		SKU:                   "LN-BL",
		Quantity:              5,
		CostUSDAtPurchase:     1,
		PriceUSDAtPurchase:    3,
		SubTotal:              15,
		CogsUSD:               5,
		ContributionMarginUSD: 10,
	})
	order.ItemsCount = 7
	return order
}

func TestCheckStockAvailabilityNoConflicts(t *testing.T) {
	order := twoLineOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	result, err := fixture.service.CheckStockAvailability(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckStockAvailability returned error: %v", err)
	}
	if result.HasConflicts {
		t.Errorf("expected no conflicts, got %+v", result.Conflicts)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("expected empty conflict list, got %d entries", len(result.Conflicts))
	}
}

func TestCheckStockAvailabilityReportsAllShortages(t *testing.T) {
	order := twoLineOrder(domain.OrderStatusProcessing)
	ledger := newStubLedger(map[string]domain.StockLevel{
		"var_frame": {VariantID: "var_frame", Available: 1},
		"var_lens":  {VariantID: "var_lens", Available: 2},
	})
	fixture := newServiceFixture(t, newStubOrderRepo(order), ledger)

	result, err := fixture.service.CheckStockAvailability(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckStockAvailability returned error: %v", err)
	}
	if !result.HasConflicts {
		t.Fatal("expected conflicts")
	}
	if len(result.Conflicts) != 2 {
		t.Fatalf("expected both lines reported, got %+v", result.Conflicts)
	}

	frame := result.Conflicts[0]
	if frame.ProductVariantID != "var_frame" || frame.RequiredQuantity != 2 || frame.AvailableStock != 1 {
		t.Errorf("unexpected frame conflict: %+v", frame)
	}
	if frame.ProductName != "Aviator Frame" || frame.SKU != "FR-AV" {
		t.Errorf("expected product details on conflict, got %+v", frame)
	}

	lens := result.Conflicts[1]
	if lens.ProductVariantID != "var_lens" || lens.RequiredQuantity != 5 || lens.AvailableStock != 2 {
		t.Errorf("unexpected lens conflict: %+v", lens)
	}
}

func TestCheckStockAvailabilityCountsHeldReservation(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	ledger := newStubLedger(map[string]domain.StockLevel{
		"var_frame": {VariantID: "var_frame", Available: 0},
	})
	ledger.reservations[order.ID] = []repositories.ReservationLine{{VariantID: "var_frame", Quantity: 2}}
	fixture := newServiceFixture(t, newStubOrderRepo(order), ledger)

	result, err := fixture.service.CheckStockAvailability(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckStockAvailability returned error: %v", err)
	}
	if result.HasConflicts {
		t.Errorf("expected held quantities to satisfy the order, got %+v", result.Conflicts)
	}
}

func TestCheckStockAvailabilityMissingStockDocument(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	ledger := newStubLedger(map[string]domain.StockLevel{})
	ledger.reservations[order.ID] = []repositories.ReservationLine{{VariantID: "var_frame", Quantity: 1}}
	fixture := newServiceFixture(t, newStubOrderRepo(order), ledger)

	result, err := fixture.service.CheckStockAvailability(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckStockAvailability returned error: %v", err)
	}
	if !result.HasConflicts {
		t.Fatal("expected conflict when no stock document exists")
	}
	if result.Conflicts[0].AvailableStock != 1 {
		t.Errorf("expected only the held quantity to count, got %d", result.Conflicts[0].AvailableStock)
	}
}

func TestCheckStockAvailabilityOrderNotFound(t *testing.T) {
	fixture := newServiceFixture(t, newStubOrderRepo(), newStubLedger(defaultLevels()))

	_, err := fixture.service.CheckStockAvailability(context.Background(), "ord_missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
