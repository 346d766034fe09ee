package repositories

import (
	"context"
	"time"

	domain "github.com/visionwholesale/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates with optimistic concurrency control.
// Update must fail with a conflict error when the stored revision differs from
// the revision carried by the supplied order, and must bump the revision on success.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ReservationLine is one variant/quantity pair held by an order.
type ReservationLine struct {
	VariantID string
	Quantity  int
}

// StockLedger manages per-variant stock documents and per-order reservations.
// Reserve replaces the order's reservation with exactly the given lines, which
// makes retries and rebalances idempotent. Release drops the reservation and
// returns quantities to availability; releasing an absent reservation is a no-op.
type StockLedger interface {
	Reserve(ctx context.Context, orderID string, lines []ReservationLine) error
	Release(ctx context.Context, orderID string) error
	Reservation(ctx context.Context, orderID string) ([]ReservationLine, error)
	Availability(ctx context.Context, variantIDs []string) (map[string]domain.StockLevel, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	Status     []string
	ClientRef  string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
