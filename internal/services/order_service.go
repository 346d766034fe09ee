package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventItemsChanged    = "order.items.changed"
	orderEventRefundApplied   = "order.refund.applied"
	orderEventRefundCancelled = "order.refund.cancelled"
	orderEventFlagsChanged    = "order.flags.changed"

	orderIDPrefix    = "ord_"
	auditLogIDPrefix = "aud_"

	auditActionOrderCreate      = "order.create"
	auditActionStatusTransition = "order.status.transition"
	auditActionItemMutation     = "order.items.mutate"
	auditActionRefundApply      = "order.refund.apply"
	auditActionRefundCancel     = "order.refund.cancel"
	auditActionFlagsUpdate      = "order.flags.update"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusProcessing: {
		domain.OrderStatusOnHold,
		domain.OrderStatusPendingPayment,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusOnHold: {
		domain.OrderStatusProcessing,
		domain.OrderStatusPendingPayment,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusPendingPayment: {
		domain.OrderStatusProcessing,
		domain.OrderStatusOnHold,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusCompleted: {
		domain.OrderStatusRefunded,
	},
	domain.OrderStatusCancelled: {
		domain.OrderStatusOnHold,
	},
}

var knownOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusOnHold,
	domain.OrderStatusPendingPayment,
	domain.OrderStatusCompleted,
	domain.OrderStatusCancelled,
	domain.OrderStatusRefunded,
}

var knownPaymentMethods = []domain.PaymentMethod{
	domain.PaymentMethodBankTransfer,
	domain.PaymentMethodCash,
	domain.PaymentMethodCard,
	domain.PaymentMethodOther,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Ledger      repositories.StockLedger
	Counters    repositories.CounterRepository
	Audit       repositories.AuditLogRepository
	Rates       RateProvider
	Calculator  FinancialCalculator
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	ledger     repositories.StockLedger
	counters   repositories.CounterRepository
	audit      repositories.AuditLogRepository
	rates      RateProvider
	calc       FinancialCalculator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: stock ledger is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("order service: rate provider is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	newID := deps.IDGenerator
	if newID == nil {
		return nil, errors.New("order service: id generator is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		ledger:     deps.Ledger,
		counters:   deps.Counters,
		audit:      deps.Audit,
		rates:      deps.Rates,
		calc:       deps.Calculator,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if ctx == nil {
		return Order{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}

	clientRef := strings.TrimSpace(cmd.ClientRef)
	if clientRef == "" {
		return Order{}, fmt.Errorf("%w: client reference is required", ErrOrderInvalidInput)
	}
	if !slices.Contains(knownPaymentMethods, cmd.PaymentMethod) {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	items, err := buildOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	rate, err := s.currentRate(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:               orderIDPrefix + s.newID(),
		ClientRef:        clientRef,
		Status:           domain.OrderStatusProcessing,
		PaymentMethod:    cmd.PaymentMethod,
		Items:            s.calc.PriceItems(items),
		ExchangeRate:     rate.Value,
		IsVisible:        boolOrDefault(cmd.IsVisible, true),
		AllowViewInvoice: boolOrDefault(cmd.AllowViewInvoice, true),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.ItemsCount = countItems(order.Items)
	order.Financials = s.calc.Snapshot(order.Items, order.PaymentMethod, nil, order.ExchangeRate)
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		order.UpdatedBy = valuePtr(actor)
	}

	// Sequence numbers run in their own transaction so a failed create only
	// skips a number instead of holding the counter document locked.
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.OrderNumber = number

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		conflicts, err := s.resolveStockConflicts(txCtx, order.ID, order.Items)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &StockConflictError{OrderID: order.ID, Conflicts: conflicts}
		}
		if err := s.ledger.Reserve(txCtx, order.ID, reservationLines(order.Items)); err != nil {
			return s.mapLedgerError(txCtx, order.ID, order.Items, err)
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		order.Revision = 1

		return s.recordAudit(txCtx, auditActionOrderCreate, order.ID, cmd.ActorID, now, map[string]any{
			"orderNumber":   order.OrderNumber,
			"clientRef":     order.ClientRef,
			"paymentMethod": string(order.PaymentMethod),
			"itemsCount":    order.ItemsCount,
			"subTotal":      order.Financials.SubTotal,
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if ctx == nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if ctx == nil {
		return Order{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if ctx == nil {
		return Order{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !slices.Contains(knownOrderStatuses, cmd.TargetStatus) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	var (
		updated  Order
		previous domain.OrderStatus
		noop     bool
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkRevision(order, cmd.ExpectedRevision); err != nil {
			return err
		}

		previous = order.Status
		if order.Status == cmd.TargetStatus || order.Status == domain.OrderStatusRefunded {
			noop = true
			updated = order
			return nil
		}
		if !canTransition(order.Status, cmd.TargetStatus) {
			return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, cmd.TargetStatus)
		}
		if cmd.TargetStatus == domain.OrderStatusRefunded && order.Refund == nil {
			return fmt.Errorf("%w: refunded requires a live refund on the order", ErrOrderInvalidState)
		}

		now := s.now()
		switch {
		case cmd.TargetStatus == domain.OrderStatusCancelled:
			if err := s.applyCancellation(txCtx, &order, now); err != nil {
				return err
			}
		case order.Status == domain.OrderStatusCancelled:
			if err := s.applyReactivation(txCtx, &order); err != nil {
				return err
			}
		}

		order.Status = cmd.TargetStatus
		order.UpdatedAt = now
		s.updateStatusTimestamps(&order, cmd.TargetStatus, now)
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			order.UpdatedBy = valuePtr(actor)
		}

		saved, err := s.orders.Update(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		updated = saved

		return s.recordAudit(txCtx, auditActionStatusTransition, order.ID, cmd.ActorID, now, map[string]any{
			"from":   string(previous),
			"to":     string(cmd.TargetStatus),
			"reason": strings.TrimSpace(cmd.Reason),
		})
	})
	if err != nil {
		return Order{}, err
	}

	if !noop {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: string(previous),
			CurrentStatus:  string(updated.Status),
			ActorID:        strings.TrimSpace(cmd.ActorID),
			OccurredAt:     updated.UpdatedAt,
			Metadata:       transitionMetadata(cmd.Reason),
		})
	}

	return updated, nil
}

func (s *orderService) BulkTransitionStatus(ctx context.Context, cmd BulkStatusCommand) (BulkStatusResult, error) {
	if ctx == nil {
		return BulkStatusResult{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	if len(cmd.OrderIDs) == 0 {
		return BulkStatusResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	if !slices.Contains(knownOrderStatuses, cmd.TargetStatus) {
		return BulkStatusResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	result := BulkStatusResult{TotalRequested: len(cmd.OrderIDs)}
	seen := make(map[string]bool, len(cmd.OrderIDs))
	for _, rawID := range cmd.OrderIDs {
		id := strings.TrimSpace(rawID)
		if id == "" {
			result.FailedUpdates = append(result.FailedUpdates, BulkStatusFailure{
				OrderID: rawID,
				Reason:  "order id is required",
			})
			continue
		}
		if seen[id] {
			result.FailedUpdates = append(result.FailedUpdates, BulkStatusFailure{
				OrderID: id,
				Reason:  "duplicate order id in request",
			})
			continue
		}
		seen[id] = true

		_, err := s.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:      id,
			TargetStatus: cmd.TargetStatus,
			Reason:       cmd.Reason,
			ActorID:      cmd.ActorID,
		})
		if err != nil {
			result.FailedUpdates = append(result.FailedUpdates, BulkStatusFailure{
				OrderID: id,
				Reason:  err.Error(),
			})
			continue
		}
		result.SuccessfulUpdates = append(result.SuccessfulUpdates, id)
	}

	result.SuccessCount = len(result.SuccessfulUpdates)
	result.FailureCount = len(result.FailedUpdates)
	return result, nil
}

func (s *orderService) UpdateFlags(ctx context.Context, cmd UpdateOrderFlagsCommand) (Order, error) {
	if ctx == nil {
		return Order{}, fmt.Errorf("%w: context is required", ErrOrderInvalidInput)
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.IsVisible == nil && cmd.AllowViewInvoice == nil {
		return Order{}, fmt.Errorf("%w: no flags provided", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := checkRevision(order, cmd.ExpectedRevision); err != nil {
			return err
		}

		now := s.now()
		if cmd.IsVisible != nil {
			order.IsVisible = *cmd.IsVisible
		}
		if cmd.AllowViewInvoice != nil {
			order.AllowViewInvoice = *cmd.AllowViewInvoice
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

		return s.recordAudit(txCtx, auditActionFlagsUpdate, order.ID, cmd.ActorID, now, map[string]any{
			"isVisible":        order.IsVisible,
			"allowViewInvoice": order.AllowViewInvoice,
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventFlagsChanged,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    updated.UpdatedAt,
	})

	return updated, nil
}

// applyCancellation snapshots the live financials for later reactivation,
// zeroes the stored rollup, and returns the reserved stock to availability.
func (s *orderService) applyCancellation(ctx context.Context, order *Order, now time.Time) error {
	snapshot := order.Financials
	order.CancelledSnapshot = &snapshot
	order.Financials = FinancialSnapshot{}
	order.CancelledAt = &now

	if err := s.ledger.Release(ctx, order.ID); err != nil {
		return s.mapLedgerError(ctx, order.ID, order.Items, err)
	}
	return nil
}

// applyReactivation re-reserves stock for the order's current items and rebuilds
// the financial rollup at the rate frozen on the order. Any shortage fails the
// whole reactivation with the full conflict list.
func (s *orderService) applyReactivation(ctx context.Context, order *Order) error {
	conflicts, err := s.resolveStockConflicts(ctx, order.ID, order.Items)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &StockConflictError{OrderID: order.ID, Conflicts: conflicts}
	}
	if err := s.ledger.Reserve(ctx, order.ID, reservationLines(order.Items)); err != nil {
		return s.mapLedgerError(ctx, order.ID, order.Items, err)
	}

	order.Items = s.calc.PriceItems(order.Items)
	order.ItemsCount = countItems(order.Items)
	order.Financials = s.calc.Snapshot(order.Items, order.PaymentMethod, order.Refund, order.ExchangeRate)
	order.CancelledSnapshot = nil
	order.CancelledAt = nil
	return nil
}

func (s *orderService) updateStatusTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
	}
}

func (s *orderService) currentRate(ctx context.Context) (ExchangeRate, error) {
	rate, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return ExchangeRate{}, fmt.Errorf("%w: exchange rate fetch failed: %v", ErrDependencyUnavailable, err)
	}
	if rate.Value <= 0 {
		return ExchangeRate{}, fmt.Errorf("%w: exchange rate provider returned %f", ErrDependencyUnavailable, rate.Value)
	}
	return rate, nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("VW-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) recordAudit(ctx context.Context, action, orderID, actorID string, now time.Time, details map[string]any) error {
	if s.audit == nil {
		return nil
	}
	entry := domain.AuditLogEntry{
		ID:        auditLogIDPrefix + s.newID(),
		Action:    action,
		TargetRef: "orders/" + orderID,
		Actor:     strings.TrimSpace(actorID),
		Details:   details,
		CreatedAt: now,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
	}

	return err
}

// mapLedgerError converts typed ledger failures into service sentinels. An
// insufficient stock failure is rebuilt as a full conflict report so the caller
// sees the same shape whether the shortage was detected up front or at write time.
func (s *orderService) mapLedgerError(ctx context.Context, orderID string, items []OrderItem, err error) error {
	if err == nil {
		return nil
	}

	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Code {
		case repositories.LedgerErrorInsufficientStock, repositories.LedgerErrorStockNotFound:
			conflicts, resolveErr := s.resolveStockConflicts(ctx, orderID, items)
			if resolveErr != nil || len(conflicts) == 0 {
				return fmt.Errorf("%w: %v", ErrOrderStockConflict, err)
			}
			return &StockConflictError{OrderID: orderID, Conflicts: conflicts}
		case repositories.LedgerErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	return s.mapRepositoryError(err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func checkRevision(order Order, expected *int64) error {
	if expected == nil {
		return nil
	}
	if order.Revision != *expected {
		return fmt.Errorf("%w: revision %d does not match expected %d", ErrOrderConflict, order.Revision, *expected)
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func buildOrderItems(inputs []OrderItemInput) ([]OrderItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	items := make([]OrderItem, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		item, err := buildOrderItem(input)
		if err != nil {
			return nil, err
		}
		if seen[item.ProductVariantID] {
			return nil, fmt.Errorf("%w: duplicate item for variant %s", ErrOrderInvalidInput, item.ProductVariantID)
		}
		seen[item.ProductVariantID] = true
		items = append(items, item)
	}
	return items, nil
}

func buildOrderItem(input OrderItemInput) (OrderItem, error) {
	variantID := strings.TrimSpace(input.ProductVariantID)
	if variantID == "" {
		return OrderItem{}, fmt.Errorf("%w: item variant id is required", ErrOrderInvalidInput)
	}
	if input.Quantity <= 0 {
		return OrderItem{}, fmt.Errorf("%w: item %s quantity must be positive", ErrOrderInvalidInput, variantID)
	}
	if input.PriceUSD < 0 || input.CostUSD < 0 {
		return OrderItem{}, fmt.Errorf("%w: item %s prices must not be negative", ErrOrderInvalidInput, variantID)
	}
	return OrderItem{
		ProductVariantID:   variantID,
		ProductName:        strings.TrimSpace(input.ProductName),
		SKU:                strings.TrimSpace(input.SKU),
		Quantity:           input.Quantity,
		CostUSDAtPurchase:  input.CostUSD,
		PriceUSDAtPurchase: input.PriceUSD,
	}, nil
}

func reservationLines(items []OrderItem) []repositories.ReservationLine {
	lines := make([]repositories.ReservationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, repositories.ReservationLine{
			VariantID: item.ProductVariantID,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

func countItems(items []OrderItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func transitionMetadata(reason string) map[string]any {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil
	}
	return map[string]any{"reason": trimmed}
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func valuePtr[T any](v T) *T {
	return &v
}
