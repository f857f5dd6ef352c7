package stock

import (
	"errors"
	"fmt"

	"github.com/ventas-erp/ventas-erp/internal/shared"
)

// Families used by callers that only care about the error class.
var (
	// ErrNotFound groups every missing-record error.
	ErrNotFound = errors.New("stock: not found")
	// ErrInconsistent groups ledger data that violates stored invariants.
	ErrInconsistent = errors.New("stock: inconsistent ledger data")
)

var (
	// ErrProductNotFound indicates an unknown product.
	ErrProductNotFound = fmt.Errorf("%w: product", ErrNotFound)
	// ErrUnitEntryNotFound indicates an unknown or foreign product-unit entry.
	ErrUnitEntryNotFound = fmt.Errorf("%w: product unit entry", ErrNotFound)
	// ErrUnitNotFound indicates an unknown unit of measure.
	ErrUnitNotFound = fmt.Errorf("%w: unit", ErrNotFound)
	// ErrSaleNotFound indicates an unknown sale.
	ErrSaleNotFound = fmt.Errorf("%w: sale", ErrNotFound)
	// ErrSaleLineNotFound indicates the sale never included the product.
	ErrSaleLineNotFound = fmt.Errorf("%w: sale line", ErrNotFound)

	// ErrInvalidInput indicates a non-positive quantity, negative price or malformed request.
	ErrInvalidInput = errors.New("stock: invalid input")
	// ErrInsufficientStock indicates a decrement that would leave stock negative.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrOverReturn indicates returns exceeding the quantity originally sold.
	ErrOverReturn = errors.New("stock: return exceeds sold quantity")
	// ErrNoUnitsConfigured indicates a product without active ledger entries.
	ErrNoUnitsConfigured = errors.New("stock: product has no units configured")
	// ErrDuplicateEntry indicates the product already sells in that unit.
	ErrDuplicateEntry = errors.New("stock: product already configured for unit")
	// ErrDuplicateProduct indicates a product code collision.
	ErrDuplicateProduct = errors.New("stock: product code already exists")
	// ErrRepairRunning indicates another repair sweep holds the lock.
	ErrRepairRunning = errors.New("stock: repair sweep already running")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Code classifies err into a stable machine-readable label used for problem
// types and metric outcomes.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOverReturn):
		return "over_return"
	case errors.Is(err, ErrNoUnitsConfigured):
		return "no_units_configured"
	case errors.Is(err, ErrDuplicateEntry), errors.Is(err, ErrDuplicateProduct):
		return "duplicate"
	case errors.Is(err, ErrRepairRunning):
		return "repair_running"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "idempotency_conflict"
	}
	return "internal"
}
