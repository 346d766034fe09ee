package repositories

import "fmt"

// LedgerErrorCode enumerates repository error causes for stock ledger operations.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorInsufficientStock indicates requested quantity exceeds availability.
	LedgerErrorInsufficientStock LedgerErrorCode = "ledger_insufficient_stock"
	// LedgerErrorStockNotFound indicates the variant does not have a stock record.
	LedgerErrorStockNotFound LedgerErrorCode = "ledger_stock_not_found"
	// LedgerErrorInvalidInput indicates the caller supplied invalid arguments.
	LedgerErrorInvalidInput LedgerErrorCode = "ledger_invalid_input"
)

// LedgerError wraps stock-ledger failures with machine readable codes.
type LedgerError struct {
	Op      string
	Code    LedgerErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
