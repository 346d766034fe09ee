package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/visionwholesale/api/internal/domain"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderStockConflict indicates demanded quantities exceed availability.
	ErrOrderStockConflict = errors.New("order: insufficient stock")
	// ErrRefundNotEligible indicates the order cannot accept the requested refund.
	ErrRefundNotEligible = errors.New("order: refund not eligible")
	// ErrDependencyUnavailable indicates an external dependency failed or timed out.
	ErrDependencyUnavailable = errors.New("order: dependency unavailable")
)

// StockConflictError carries the full list of lines whose demand exceeds
// availability so callers can surface every shortage at once. It unwraps to
// ErrOrderStockConflict for errors.Is checks.
type StockConflictError struct {
	OrderID   string
	Conflicts []domain.StockConflictItem
}

// Error implements the error interface.
func (e *StockConflictError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, conflict := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s needs %d, %d available",
			conflict.ProductVariantID, conflict.RequiredQuantity, conflict.AvailableStock))
	}
	return fmt.Sprintf("order %s: insufficient stock: %s", e.OrderID, strings.Join(parts, "; "))
}

// Unwrap ties the typed error to the sentinel.
func (e *StockConflictError) Unwrap() error {
	return ErrOrderStockConflict
}
