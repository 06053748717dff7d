package repositories

import "fmt"

// InventoryErrorCode classifies inventory write failures so the service
// layer can translate them without string matching.
type InventoryErrorCode string

const (
	InventoryErrorUnknown           InventoryErrorCode = "inventory_unknown"
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorVariantNotFound   InventoryErrorCode = "inventory_variant_not_found"
	InventoryErrorInvariantViolated InventoryErrorCode = "inventory_invariant_violated"
)

// InventoryError carries the code alongside the wrapped driver error.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error
}

func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HasCode reports whether the error carries the given code.
func (e *InventoryError) HasCode(code InventoryErrorCode) bool {
	return e != nil && e.Code == code
}

// NewInventoryError builds a typed inventory error, defaulting the message
// to the code when none is given.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Code: code, Message: message, Err: err}
}
