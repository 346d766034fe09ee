package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/visionwholesale/api/internal/domain"
)

// ApplyRefund attaches a refund to an order and recomputes its financials. A
// percentage refund resolves against the current subtotal; the resolved amount
// and the subtotal it was computed from are frozen on the refund so a later
// cancellation restores the exact original values. MarkCompleted moves a
// completed order to refunded in the same transaction.
func (s *orderService) ApplyRefund(ctx context.Context, cmd ApplyRefundCommand) (RefundResult, error) {
	if ctx == nil {
		return RefundResult{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return RefundResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := validateRefundInput(cmd); err != nil {
		return RefundResult{}, err
	}

	var result RefundResult
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkRevision(order, cmd.ExpectedRevision); err != nil {
			return err
		}
		if order.Refund != nil {
			return fmt.Errorf("%w: order already has a refund", ErrRefundNotEligible)
		}
		switch order.Status {
		case domain.OrderStatusCancelled:
			return fmt.Errorf("%w: cancelled orders cannot be refunded", ErrRefundNotEligible)
		case domain.OrderStatusRefunded:
			return fmt.Errorf("%w: order is already refunded", ErrRefundNotEligible)
		}
		if cmd.MarkCompleted && order.Status != domain.OrderStatusCompleted {
			return fmt.Errorf("%w: only completed orders can be marked refunded", ErrOrderInvalidState)
		}

		subTotal := order.Financials.SubTotal
		applied := s.calc.RefundAppliedAmount(cmd.Type, cmd.Amount, subTotal)
		if cmd.Type == domain.RefundTypeFixed && applied > subTotal {
			return fmt.Errorf("%w: refund %.2f exceeds subtotal %.2f", ErrRefundNotEligible, applied, subTotal)
		}

		now := s.now()
		before := order.Financials

		order.Refund = &Refund{
			Type:             cmd.Type,
			Amount:           cmd.Amount,
			AppliedAmount:    applied,
			OriginalSubTotal: subTotal,
			Reason:           strings.TrimSpace(cmd.Reason),
			ProcessedBy:      strings.TrimSpace(cmd.ActorID),
			ProcessedAt:      now,
		}
		order.Financials = s.calc.Snapshot(order.Items, order.PaymentMethod, order.Refund, order.ExchangeRate)
		if cmd.MarkCompleted {
			order.Status = domain.OrderStatusRefunded
			order.RefundedAt = &now
		}
		order.UpdatedAt = now
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			order.UpdatedBy = valuePtr(actor)
		}

		saved, err := s.orders.Update(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		result = RefundResult{
			Order: saved,
			Details: RefundDetails{
				OriginalSubTotal:              subTotal,
				RefundAmount:                  applied,
				OriginalTotalAmount:           before.TotalAmount,
				NewTotalAmount:                saved.Financials.TotalAmount,
				OriginalContributionMarginUSD: before.TotalContributionMarginUSD,
				NewContributionMarginUSD:      saved.Financials.TotalContributionMarginUSD,
			},
		}

		return s.recordAudit(txCtx, auditActionRefundApply, order.ID, cmd.ActorID, now, map[string]any{
			"type":          string(cmd.Type),
			"amount":        cmd.Amount,
			"appliedAmount": applied,
			"markCompleted": cmd.MarkCompleted,
			"reason":        strings.TrimSpace(cmd.Reason),
		})
	})
	if err != nil {
		return RefundResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventRefundApplied,
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.OrderNumber,
		CurrentStatus: string(result.Order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    result.Order.UpdatedAt,
		Metadata: map[string]any{
			"appliedAmount": result.Details.RefundAmount,
		},
	})

	return result, nil
}

// CancelRefund removes the live refund and restores the financials it had
// displaced. An order that was moved to refunded by the refund returns to
// completed.
func (s *orderService) CancelRefund(ctx context.Context, cmd CancelRefundCommand) (RefundCancellationResult, error) {
	if ctx == nil {
		return RefundCancellationResult{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return RefundCancellationResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var result RefundCancellationResult
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkRevision(order, cmd.ExpectedRevision); err != nil {
			return err
		}
		if order.Refund == nil {
			return fmt.Errorf("%w: order has no refund to cancel", ErrRefundNotEligible)
		}

		now := s.now()
		cancelled := *order.Refund

		order.Refund = nil
		if order.Status == domain.OrderStatusRefunded {
			order.Status = domain.OrderStatusCompleted
			order.RefundedAt = nil
		}
		order.Financials = s.calc.Snapshot(order.Items, order.PaymentMethod, nil, order.ExchangeRate)
		order.UpdatedAt = now
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			order.UpdatedBy = valuePtr(actor)
		}

		saved, err := s.orders.Update(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		result = RefundCancellationResult{
			Order: saved,
			Details: RefundCancellationDetails{
				CancelledRefundAmount:         cancelled.AppliedAmount,
				RestoredSubTotal:              saved.Financials.SubTotal,
				RestoredTotalAmount:           saved.Financials.TotalAmount,
				RestoredContributionMarginUSD: saved.Financials.TotalContributionMarginUSD,
				CogsUSD:                       saved.Financials.TotalCogsUSD,
			},
		}

		return s.recordAudit(txCtx, auditActionRefundCancel, order.ID, cmd.ActorID, now, map[string]any{
			"cancelledAmount": cancelled.AppliedAmount,
			"type":            string(cancelled.Type),
			"reason":          strings.TrimSpace(cmd.Reason),
		})
	})
	if err != nil {
		return RefundCancellationResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventRefundCancelled,
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.OrderNumber,
		CurrentStatus: string(result.Order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    result.Order.UpdatedAt,
		Metadata: map[string]any{
			"cancelledAmount": result.Details.CancelledRefundAmount,
		},
	})

	return result, nil
}

func validateRefundInput(cmd ApplyRefundCommand) error {
	switch cmd.Type {
	case domain.RefundTypeFixed:
		if cmd.Amount <= 0 {
			return fmt.Errorf("%w: fixed refund amount must be positive", ErrOrderInvalidInput)
		}
	case domain.RefundTypePercentage:
		if cmd.Amount < 0 || cmd.Amount > 100 {
			return fmt.Errorf("%w: percentage refund must be between 0 and 100", ErrOrderInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown refund type %q", ErrOrderInvalidInput, cmd.Type)
	}
	return nil
}
