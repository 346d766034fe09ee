package services

import (
	"context"
	"time"

	domain "github.com/visionwholesale/api/internal/domain"
	"github.com/visionwholesale/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentMethod      = domain.PaymentMethod
	FinancialSnapshot  = domain.FinancialSnapshot
	Refund             = domain.Refund
	RefundType         = domain.RefundType
	StockLevel         = domain.StockLevel
	StockConflictItem  = domain.StockConflictItem
	ExchangeRate       = domain.ExchangeRate
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
)

// Filter aliases keep handler-facing types in one import path.
type (
	OrderListFilter = repositories.OrderListFilter
	AuditLogFilter  = repositories.AuditLogFilter
)

// OrderService orchestrates the wholesale order lifecycle: status transitions with
// their stock and financial side effects, item mutations, refunds, and flags.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	BulkTransitionStatus(ctx context.Context, cmd BulkStatusCommand) (BulkStatusResult, error)
	CheckStockAvailability(ctx context.Context, orderID string) (StockAvailabilityResult, error)
	MutateItem(ctx context.Context, cmd ItemMutationCommand) (Order, error)
	ApplyRefund(ctx context.Context, cmd ApplyRefundCommand) (RefundResult, error)
	CancelRefund(ctx context.Context, cmd CancelRefundCommand) (RefundCancellationResult, error)
	UpdateFlags(ctx context.Context, cmd UpdateOrderFlagsCommand) (Order, error)
}

// SystemService exposes operational utilities: dependency health and the audit trail.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// RateProvider supplies the current USD to ARS conversion rate. Implementations
// must honour context deadlines; a failed fetch aborts the calling operation.
type RateProvider interface {
	CurrentRate(ctx context.Context) (ExchangeRate, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// CreateOrderCommand carries the inputs for registering a new wholesale order.
type CreateOrderCommand struct {
	ClientRef        string
	PaymentMethod    PaymentMethod
	Items            []OrderItemInput
	IsVisible        *bool
	AllowViewInvoice *bool
	ActorID          string
}

// OrderItemInput is a purchase line supplied by the caller. Cost and price are
// frozen onto the order at creation time.
type OrderItemInput struct {
	ProductVariantID string
	ProductName      string
	SKU              string
	Quantity         int
	CostUSD          float64
	PriceUSD         float64
}

// OrderStatusTransitionCommand requests a single order status change.
type OrderStatusTransitionCommand struct {
	OrderID          string
	TargetStatus     OrderStatus
	ExpectedRevision *int64
	Reason           string
	ActorID          string
}

// BulkStatusCommand applies the same target status to several orders. Each order
// is processed independently so one failure never blocks the rest.
type BulkStatusCommand struct {
	OrderIDs     []string
	TargetStatus OrderStatus
	Reason       string
	ActorID      string
}

// BulkStatusFailure reports why one order in a bulk request was not updated.
type BulkStatusFailure struct {
	OrderID string
	Reason  string
}

// BulkStatusResult summarises the per-order outcome of a bulk status request.
// Every submitted id is accounted for: blank and duplicate entries surface as
// failures so TotalRequested always equals SuccessCount plus FailureCount.
type BulkStatusResult struct {
	SuccessfulUpdates []string
	FailedUpdates     []BulkStatusFailure
	TotalRequested    int
	SuccessCount      int
	FailureCount      int
}

// StockAvailabilityResult reports whether the order's items can be covered by
// current availability, listing every short line when they cannot.
type StockAvailabilityResult struct {
	HasConflicts bool
	Conflicts    []StockConflictItem
}

// ItemAction enumerates the supported order item mutations. The set is closed;
// unknown actions are rejected as invalid input.
type ItemAction string

const (
	// ItemActionIncrease raises an existing line's quantity by Quantity.
	ItemActionIncrease ItemAction = "increase"
	// ItemActionDecrease lowers an existing line's quantity by Quantity.
	ItemActionDecrease ItemAction = "decrease"
	// ItemActionRemove deletes the line entirely.
	ItemActionRemove ItemAction = "remove"
	// ItemActionAdd appends a new line from the Item payload.
	ItemActionAdd ItemAction = "add"
	// ItemActionSet replaces an existing line's quantity with Quantity.
	ItemActionSet ItemAction = "set"
	// ItemActionUpdatePrices overrides the line's frozen unit cost and price.
	ItemActionUpdatePrices ItemAction = "update_prices"
	// ItemActionUpdateAll manually overrides the line's derived totals.
	ItemActionUpdateAll ItemAction = "update_all"
)

// ItemMutationCommand mutates one line of an order. Optional fields apply only
// to the actions that consume them.
type ItemMutationCommand struct {
	OrderID          string
	Action           ItemAction
	ProductVariantID string
	Quantity         *int
	Item             *OrderItemInput
	PriceUSD         *float64
	CostUSD          *float64
	SubTotal         *float64
	MarginUSD        *float64
	ExpectedRevision *int64
	ActorID          string
}

// ApplyRefundCommand requests a refund against a completed order. MarkCompleted
// moves the order from completed to refunded in the same operation.
type ApplyRefundCommand struct {
	OrderID          string
	Type             RefundType
	Amount           float64
	Reason           string
	MarkCompleted    bool
	ExpectedRevision *int64
	ActorID          string
}

// RefundDetails reports the monetary effect of an applied refund.
type RefundDetails struct {
	OriginalSubTotal              float64
	RefundAmount                  float64
	OriginalTotalAmount           float64
	NewTotalAmount                float64
	OriginalContributionMarginUSD float64
	NewContributionMarginUSD      float64
}

// RefundResult pairs the updated order with the refund's monetary diff.
type RefundResult struct {
	Order   Order
	Details RefundDetails
}

// CancelRefundCommand reverses the live refund on an order.
type CancelRefundCommand struct {
	OrderID          string
	Reason           string
	ExpectedRevision *int64
	ActorID          string
}

// RefundCancellationDetails reports the values restored by a refund reversal.
type RefundCancellationDetails struct {
	CancelledRefundAmount         float64
	RestoredSubTotal              float64
	RestoredTotalAmount           float64
	RestoredContributionMarginUSD float64
	CogsUSD                       float64
}

// RefundCancellationResult pairs the updated order with the restored values.
type RefundCancellationResult struct {
	Order   Order
	Details RefundCancellationDetails
}

// UpdateOrderFlagsCommand toggles order visibility flags. Nil fields are untouched.
type UpdateOrderFlagsCommand struct {
	OrderID          string
	IsVisible        *bool
	AllowViewInvoice *bool
	ExpectedRevision *int64
	ActorID          string
}
