package services

import (
	"testing"

	domain "github.com/visionwholesale/api/internal/domain"
)

func TestPriceItems(t *testing.T) {
	calc := FinancialCalculator{BankTransferFeeRate: 0.04}

	priced := calc.PriceItems([]domain.OrderItem{
		{ProductVariantID: "v1", Quantity: 3, CostUSDAtPurchase: 2.55, PriceUSDAtPurchase: 9.99},
	})

	item := priced[0]
	if item.SubTotal != 29.97 {
		t.Errorf("expected subtotal 29.97, got %f", item.SubTotal)
	}
	if item.CogsUSD != 7.65 {
		t.Errorf("expected cogs 7.65, got %f", item.CogsUSD)
	}
	if item.ContributionMarginUSD != 22.32 {
		t.Errorf("expected margin 22.32, got %f", item.ContributionMarginUSD)
	}
}

func TestPriceItemsManualOverride(t *testing.T) {
	calc := FinancialCalculator{}

	priced := calc.PriceItems([]domain.OrderItem{
		{
			ProductVariantID:      "v1",
			Quantity:              4,
			CostUSDAtPurchase:     2,
			PriceUSDAtPurchase:    10,
			SubTotal:              35,
			ContributionMarginUSD: 21.5,
			ManualOverride:        true,
		},
	})

	item := priced[0]
	if item.SubTotal != 35 || item.ContributionMarginUSD != 21.5 {
		t.Errorf("expected overridden values kept, got %+v", item)
	}
	if item.CogsUSD != 13.5 {
		t.Errorf("expected cogs rebuilt from override, got %f", item.CogsUSD)
	}
}

func TestSnapshotBankTransferFee(t *testing.T) {
	calc := FinancialCalculator{BankTransferFeeRate: 0.04}
	items := []domain.OrderItem{
		{SubTotal: 20, CogsUSD: 8},
	}

	snapshot := calc.Snapshot(items, domain.PaymentMethodBankTransfer, nil, 1000)

	if snapshot.BankTransferExpense == nil || *snapshot.BankTransferExpense != 0.8 {
		t.Fatalf("expected bank transfer fee 0.8, got %+v", snapshot.BankTransferExpense)
	}
	if snapshot.TotalAmount != 20.8 {
		t.Errorf("expected total 20.8, got %f", snapshot.TotalAmount)
	}
	if snapshot.TotalAmountARS != 20800 {
		t.Errorf("expected ARS total 20800, got %f", snapshot.TotalAmountARS)
	}
	if snapshot.TotalContributionMarginUSD != 12 {
		t.Errorf("expected margin 12, got %f", snapshot.TotalContributionMarginUSD)
	}
	if snapshot.ContributionMarginPercentage != 60 {
		t.Errorf("expected margin percentage 60, got %f", snapshot.ContributionMarginPercentage)
	}
}

func TestSnapshotCashHasNoFee(t *testing.T) {
	calc := FinancialCalculator{BankTransferFeeRate: 0.04}
	items := []domain.OrderItem{
		{SubTotal: 20, CogsUSD: 8},
	}

	snapshot := calc.Snapshot(items, domain.PaymentMethodCash, nil, 1000)

	if snapshot.BankTransferExpense != nil {
		t.Errorf("expected no fee for cash, got %f", *snapshot.BankTransferExpense)
	}
	if snapshot.TotalAmount != 20 {
		t.Errorf("expected total 20, got %f", snapshot.TotalAmount)
	}
}

func TestSnapshotRefundLowersTotalsAndMargin(t *testing.T) {
	calc := FinancialCalculator{BankTransferFeeRate: 0.04}
	items := []domain.OrderItem{
		{SubTotal: 20, CogsUSD: 8},
	}
	refund := &domain.Refund{Type: domain.RefundTypeFixed, Amount: 10, AppliedAmount: 10}

	snapshot := calc.Snapshot(items, domain.PaymentMethodBankTransfer, refund, 1000)

	if snapshot.TotalAmount != 10.8 {
		t.Errorf("expected total 10.8, got %f", snapshot.TotalAmount)
	}
	if snapshot.TotalContributionMarginUSD != 2 {
		t.Errorf("expected margin 2, got %f", snapshot.TotalContributionMarginUSD)
	}
	if snapshot.ContributionMarginPercentage != 10 {
		t.Errorf("expected margin percentage 10, got %f", snapshot.ContributionMarginPercentage)
	}
}

func TestSnapshotZeroSubtotal(t *testing.T) {
	calc := FinancialCalculator{BankTransferFeeRate: 0.04}

	snapshot := calc.Snapshot(nil, domain.PaymentMethodCash, nil, 1000)

	if snapshot.TotalAmount != 0 || snapshot.TotalAmountARS != 0 {
		t.Errorf("expected zero totals, got %+v", snapshot)
	}
	if snapshot.ContributionMarginPercentage != 0 {
		t.Errorf("expected zero margin percentage, got %f", snapshot.ContributionMarginPercentage)
	}
}

func TestRefundAppliedAmount(t *testing.T) {
	calc := FinancialCalculator{}

	cases := []struct {
		name       string
		refundType domain.RefundType
		amount     float64
		subTotal   float64
		want       float64
	}{
		{name: "fixed passes through", refundType: domain.RefundTypeFixed, amount: 12.345, subTotal: 100, want: 12.35},
		{name: "percentage of subtotal", refundType: domain.RefundTypePercentage, amount: 50, subTotal: 20, want: 10},
		{name: "percentage rounds to cents", refundType: domain.RefundTypePercentage, amount: 33.33, subTotal: 99.99, want: 33.33},
		{name: "full percentage", refundType: domain.RefundTypePercentage, amount: 100, subTotal: 20.8, want: 20.8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := calc.RefundAppliedAmount(tc.refundType, tc.amount, tc.subTotal)
			if got != tc.want {
				t.Errorf("expected %f, got %f", tc.want, got)
			}
		})
	}
}
