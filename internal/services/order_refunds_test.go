package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/visionwholesale/api/internal/domain"
)

func TestApplyRefundPercentage(t *testing.T) {
	order := testOrder(domain.OrderStatusCompleted)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	result, err := fixture.service.ApplyRefund(context.Background(), ApplyRefundCommand{
		OrderID: order.ID,
		Type:    domain.RefundTypePercentage,
		Amount:  50,
		Reason:  "damaged shipment",
		ActorID: "admin_maria",
	})
	if err != nil {
		t.Fatalf("ApplyRefund returned error: %v", err)
	}

	refund := result.Order.Refund
	if refund == nil {
		t.Fatal("expected refund attached to order")
	}
	if refund.AppliedAmount != 10 {
		t.Errorf("expected applied amount 10, got %f", refund.AppliedAmount)
	}
	if refund.OriginalSubTotal != 20 {
		t.Errorf("expected original subtotal frozen at 20, got %f", refund.OriginalSubTotal)
	}

	fin := result.Order.Financials
	if fin.TotalAmount != 10.8 {
		t.Errorf("expected total 10.8 after refund, got %f", fin.TotalAmount)
	}
	if fin.TotalContributionMarginUSD != 2 {
		t.Errorf("expected margin 2 after refund, got %f", fin.TotalContributionMarginUSD)
	}
	if fin.ContributionMarginPercentage != 10 {
		t.Errorf("expected margin percentage 10, got %f", fin.ContributionMarginPercentage)
	}

	details := result.Details
	if details.OriginalTotalAmount != 20.8 || details.NewTotalAmount != 10.8 {
		t.Errorf("unexpected totals in details: %+v", details)
	}
	if details.OriginalContributionMarginUSD != 12 || details.NewContributionMarginUSD != 2 {
		t.Errorf("unexpected margins in details: %+v", details)
	}

	if result.Order.Status != domain.OrderStatusCompleted {
		t.Errorf("expected status unchanged without markCompleted, got %s", result.Order.Status)
	}
	if len(fixture.publisher.events) != 1 || fixture.publisher.events[0].Type != "order.refund.applied" {
		t.Fatalf("expected refund event, got %+v", fixture.publisher.events)
	}
}

func TestApplyRefundMarkCompleted(t *testing.T) {
	order := testOrder(domain.OrderStatusCompleted)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	result, err := fixture.service.ApplyRefund(context.Background(), ApplyRefundCommand{
		OrderID:       order.ID,
		Type:          domain.RefundTypeFixed,
		Amount:        20,
		MarkCompleted: true,
	})
	if err != nil {
		t.Fatalf("ApplyRefund returned error: %v", err)
	}

	if result.Order.Status != domain.OrderStatusRefunded {
		t.Errorf("expected refunded status, got %s", result.Order.Status)
	}
	if result.Order.RefundedAt == nil {
		t.Error("expected refundedAt set")
	}
}

func TestApplyRefundMarkCompletedRequiresCompletedOrder(t *testing.T) {
	order := testOrder(domain.OrderStatusProcessing)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.ApplyRefund(context.Background(), ApplyRefundCommand{
		OrderID:       order.ID,
		Type:          domain.RefundTypeFixed,
		Amount:        5,
		MarkCompleted: true,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestApplyRefundEligibility(t *testing.T) {
	withRefund := testOrder(domain.OrderStatusCompleted)
	withRefund.Refund = &Refund{Type: domain.RefundTypeFixed, Amount: 5, AppliedAmount: 5, OriginalSubTotal: 20, ProcessedAt: testClock}

	cases := []struct {
		name  string
		order Order
		cmd   ApplyRefundCommand
	}{
		{
			name:  "already refunding",
			order: withRefund,
			cmd:   ApplyRefundCommand{Type: domain.RefundTypeFixed, Amount: 5},
		},
		{
			name:  "cancelled order",
			order: testOrder(domain.OrderStatusCancelled),
			cmd:   ApplyRefundCommand{Type: domain.RefundTypeFixed, Amount: 5},
		},
		{
			name:  "refunded order",
			order: testOrder(domain.OrderStatusRefunded),
			cmd:   ApplyRefundCommand{Type: domain.RefundTypeFixed, Amount: 5},
		},
		{
			name:  "fixed amount exceeds subtotal",
			order: testOrder(domain.OrderStatusCompleted),
			cmd:   ApplyRefundCommand{Type: domain.RefundTypeFixed, Amount: 25},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newServiceFixture(t, newStubOrderRepo(tc.order), newStubLedger(defaultLevels()))
			cmd := tc.cmd
			cmd.OrderID = tc.order.ID
			_, err := fixture.service.ApplyRefund(context.Background(), cmd)
			if !errors.Is(err, ErrRefundNotEligible) {
				t.Fatalf("expected ErrRefundNotEligible, got %v", err)
			}
		})
	}
}

func TestApplyRefundValidation(t *testing.T) {
	cases := []struct {
		name string
		cmd  ApplyRefundCommand
	}{
		{name: "fixed zero amount", cmd: ApplyRefundCommand{OrderID: "ord_x", Type: domain.RefundTypeFixed, Amount: 0}},
		{name: "negative percentage", cmd: ApplyRefundCommand{OrderID: "ord_x", Type: domain.RefundTypePercentage, Amount: -1}},
		{name: "percentage above 100", cmd: ApplyRefundCommand{OrderID: "ord_x", Type: domain.RefundTypePercentage, Amount: 150}},
		{name: "unknown type", cmd: ApplyRefundCommand{OrderID: "ord_x", Type: "store_credit", Amount: 5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newServiceFixture(t, newStubOrderRepo(), newStubLedger(defaultLevels()))
			_, err := fixture.service.ApplyRefund(context.Background(), tc.cmd)
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}
}

func TestCancelRefundRestoresFinancials(t *testing.T) {
	order := testOrder(domain.OrderStatusRefunded)
	order.Refund = &Refund{
		Type:             domain.RefundTypePercentage,
		Amount:           50,
		AppliedAmount:    10,
		OriginalSubTotal: 20,
		ProcessedAt:      testClock.Add(-24 * time.Hour),
	}
	order.Financials.TotalAmount = 10.8
	order.Financials.TotalContributionMarginUSD = 2
	order.Financials.ContributionMarginPercentage = 10
	refundedAt := testClock.Add(-time.Hour)
	order.RefundedAt = &refundedAt

	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	result, err := fixture.service.CancelRefund(context.Background(), CancelRefundCommand{
		OrderID: order.ID,
		Reason:  "refund issued by mistake",
	})
	if err != nil {
		t.Fatalf("CancelRefund returned error: %v", err)
	}

	if result.Order.Refund != nil {
		t.Error("expected refund removed")
	}
	if result.Order.Status != domain.OrderStatusCompleted {
		t.Errorf("expected refunded order restored to completed, got %s", result.Order.Status)
	}
	if result.Order.RefundedAt != nil {
		t.Error("expected refundedAt cleared")
	}

	fin := result.Order.Financials
	if fin.TotalAmount != 20.8 || fin.TotalContributionMarginUSD != 12 {
		t.Errorf("expected original financials restored, got %+v", fin)
	}

	details := result.Details
	if details.CancelledRefundAmount != 10 {
		t.Errorf("expected cancelled amount 10, got %f", details.CancelledRefundAmount)
	}
	if details.RestoredTotalAmount != 20.8 || details.RestoredContributionMarginUSD != 12 {
		t.Errorf("unexpected restored values: %+v", details)
	}
	if details.CogsUSD != 8 {
		t.Errorf("expected cogs 8, got %f", details.CogsUSD)
	}

	if len(fixture.publisher.events) != 1 || fixture.publisher.events[0].Type != "order.refund.cancelled" {
		t.Fatalf("expected refund cancelled event, got %+v", fixture.publisher.events)
	}
}

func TestCancelRefundWithoutRefund(t *testing.T) {
	order := testOrder(domain.OrderStatusCompleted)
	fixture := newServiceFixture(t, newStubOrderRepo(order), newStubLedger(defaultLevels()))

	_, err := fixture.service.CancelRefund(context.Background(), CancelRefundCommand{OrderID: order.ID})
	if !errors.Is(err, ErrRefundNotEligible) {
		t.Fatalf("expected ErrRefundNotEligible, got %v", err)
	}
}
