package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps paginated results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates lifecycle states for wholesale orders.
type OrderStatus string

const (
	// OrderStatusProcessing marks an order that is being prepared and holds stock.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOnHold marks an order parked by an operator while still holding stock.
	OrderStatusOnHold OrderStatus = "on_hold"
	// OrderStatusPendingPayment marks an order awaiting settlement.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusCompleted marks a settled and closed order.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled marks an order whose stock was released and financials zeroed.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded marks a completed order that was fully refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentMethod enumerates supported settlement channels.
type PaymentMethod string

const (
	// PaymentMethodBankTransfer incurs the configured processing expense.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodCash settles without processing expense.
	PaymentMethodCash PaymentMethod = "cash"
	// PaymentMethodCard settles through the card acquirer.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodOther covers channels negotiated per client.
	PaymentMethodOther PaymentMethod = "other"
)

// RefundType distinguishes fixed-amount refunds from percentage refunds.
type RefundType string

const (
	// RefundTypeFixed applies the amount as an absolute USD value.
	RefundTypeFixed RefundType = "fixed"
	// RefundTypePercentage applies the amount as a percentage of the subtotal.
	RefundTypePercentage RefundType = "percentage"
)

// FinancialSnapshot aggregates the derived monetary fields of an order.
// All USD values are rounded to cents.
type FinancialSnapshot struct {
	SubTotal                     float64
	TotalCogsUSD                 float64
	TotalContributionMarginUSD   float64
	ContributionMarginPercentage float64
	BankTransferExpense          *float64
	TotalAmount                  float64
	TotalAmountARS               float64
}

// OrderItem is a purchased line with prices frozen at purchase time.
type OrderItem struct {
	ProductVariantID      string
	ProductName           string
	SKU                   string
	Quantity              int
	CostUSDAtPurchase     float64
	PriceUSDAtPurchase    float64
	SubTotal              float64
	CogsUSD               float64
	ContributionMarginUSD float64
	ManualOverride        bool
}

// Refund records an applied refund and the data needed to reverse it exactly.
type Refund struct {
	Type             RefundType
	Amount           float64
	AppliedAmount    float64
	OriginalSubTotal float64
	Reason           string
	ProcessedBy      string
	ProcessedAt      time.Time
}

// Order is the aggregate root of the lifecycle engine.
type Order struct {
	ID                string
	OrderNumber       string
	ClientRef         string
	Status            OrderStatus
	PaymentMethod     PaymentMethod
	Items             []OrderItem
	ItemsCount        int
	Financials        FinancialSnapshot
	ExchangeRate      float64
	Refund            *Refund
	CancelledSnapshot *FinancialSnapshot
	IsVisible         bool
	AllowViewInvoice  bool
	Revision          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	UpdatedBy         *string
	CancelledAt       *time.Time
	CompletedAt       *time.Time
	RefundedAt        *time.Time
}

// StockLevel reports the ledger view of a single product variant.
type StockLevel struct {
	VariantID string
	OnHand    int
	Reserved  int
	Available int
}

// StockConflictItem describes one line whose demand exceeds availability.
// It is a transient response shape and is never persisted.
type StockConflictItem struct {
	ProductVariantID string
	ProductName      string
	SKU              string
	RequiredQuantity int
	AvailableStock   int
}

// ExchangeRate is a point-in-time USD to ARS conversion value.
type ExchangeRate struct {
	Value float64
	AsOf  time.Time
}

// AuditLogEntry is an immutable record of a sensitive admin action.
type AuditLogEntry struct {
	ID        string
	Action    string
	TargetRef string
	Actor     string
	Details   map[string]any
	CreatedAt time.Time
}

// SystemHealthStatus summarises a dependency probe outcome.
type SystemHealthStatus string

const (
	// HealthStatusOK indicates the dependency responded within its deadline.
	HealthStatusOK SystemHealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency responded with errors.
	HealthStatusDegraded SystemHealthStatus = "degraded"
	// HealthStatusError indicates the dependency timed out or was cancelled.
	HealthStatusError SystemHealthStatus = "error"
)

// SystemHealthCheck is the probe result for a single dependency.
type SystemHealthCheck struct {
	Status    SystemHealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness reporting.
type SystemHealthReport struct {
	Status      SystemHealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
