package services

import (
	"math"

	domain "github.com/visionwholesale/api/internal/domain"
)

// FinancialCalculator derives the monetary rollup of an order from its lines.
// All USD outputs are rounded to cents.
type FinancialCalculator struct {
	// BankTransferFeeRate is applied to the subtotal of bank transfer orders.
	BankTransferFeeRate float64
}

// PriceItems recomputes per-line derived values. Lines flagged with a manual
// override keep their stored subtotal and margin; their COGS is rebuilt from
// the two so the order rollup stays consistent.
func (c FinancialCalculator) PriceItems(items []domain.OrderItem) []domain.OrderItem {
	priced := make([]domain.OrderItem, len(items))
	for i, item := range items {
		if item.ManualOverride {
			item.SubTotal = roundUSD(item.SubTotal)
			item.ContributionMarginUSD = roundUSD(item.ContributionMarginUSD)
			item.CogsUSD = roundUSD(item.SubTotal - item.ContributionMarginUSD)
		} else {
			qty := float64(item.Quantity)
			item.SubTotal = roundUSD(item.PriceUSDAtPurchase * qty)
			item.CogsUSD = roundUSD(item.CostUSDAtPurchase * qty)
			item.ContributionMarginUSD = roundUSD(item.SubTotal - item.CogsUSD)
		}
		priced[i] = item
	}
	return priced
}

// Snapshot aggregates priced lines into the order-level financial snapshot.
// A live refund lowers both the collectable total and the contribution margin
// by its applied amount. The exchange rate converts the final total to ARS.
func (c FinancialCalculator) Snapshot(items []domain.OrderItem, method domain.PaymentMethod, refund *domain.Refund, exchangeRate float64) domain.FinancialSnapshot {
	var subTotal, cogs float64
	for _, item := range items {
		subTotal += item.SubTotal
		cogs += item.CogsUSD
	}
	subTotal = roundUSD(subTotal)
	cogs = roundUSD(cogs)

	var refundApplied float64
	if refund != nil {
		refundApplied = refund.AppliedAmount
	}

	snapshot := domain.FinancialSnapshot{
		SubTotal:     subTotal,
		TotalCogsUSD: cogs,
	}

	var fee float64
	if method == domain.PaymentMethodBankTransfer {
		fee = roundUSD(subTotal * c.BankTransferFeeRate)
		feeValue := fee
		snapshot.BankTransferExpense = &feeValue
	}

	snapshot.TotalAmount = roundUSD(subTotal + fee - refundApplied)
	snapshot.TotalAmountARS = roundUSD(snapshot.TotalAmount * exchangeRate)
	snapshot.TotalContributionMarginUSD = roundUSD(subTotal - cogs - refundApplied)
	if subTotal == 0 {
		snapshot.ContributionMarginPercentage = 0
	} else {
		snapshot.ContributionMarginPercentage = roundUSD(snapshot.TotalContributionMarginUSD / subTotal * 100)
	}

	return snapshot
}

// RefundAppliedAmount resolves the USD value a refund removes from the order.
func (c FinancialCalculator) RefundAppliedAmount(refundType domain.RefundType, amount float64, subTotal float64) float64 {
	if refundType == domain.RefundTypePercentage {
		return roundUSD(subTotal * amount / 100)
	}
	return roundUSD(amount)
}

func roundUSD(value float64) float64 {
	return math.Round(value*100) / 100
}
