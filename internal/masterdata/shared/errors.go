package shared

import (
	"fmt"

	"github.com/ventas-erp/ventas-erp/internal/platform/httpx"
)

var (
	ErrNotFound      = fmt.Errorf("masterdata: %w", httpx.ErrNotFound)
	ErrDuplicate     = fmt.Errorf("masterdata: %w", httpx.ErrDuplicate)
	ErrInUse         = fmt.Errorf("masterdata: still referenced: %w", httpx.ErrConflict)
	ErrValidation    = fmt.Errorf("masterdata: %w", httpx.ErrValidation)
	ErrInvalidID     = fmt.Errorf("invalid ID: %w", ErrValidation)
	ErrRequiredField = fmt.Errorf("field is required: %w", ErrValidation)
)
