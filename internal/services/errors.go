package services

import (
	"errors"
	"fmt"

	domain "github.com/clearcart/api/internal/domain"
)

var (
	// ErrEmptyCart indicates the user's cart has no lines to check out.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInsufficientStock indicates one or more lines exceed available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidCoupon indicates the coupon failed an eligibility check.
	ErrInvalidCoupon = errors.New("coupon: not applicable")
	// ErrConcurrencyConflict indicates a lock timeout or serialization failure;
	// the whole attempt is safe to retry because nothing was persisted.
	ErrConcurrencyConflict = errors.New("checkout: concurrency conflict")
	// ErrPaymentFailed indicates the gateway rejected the charge.
	ErrPaymentFailed = errors.New("payments: gateway rejected the charge")
	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
	// ErrNotFound indicates a referenced order, coupon, or address does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput indicates the caller supplied invalid parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable indicates a dependency is currently unreachable.
	ErrUnavailable = errors.New("dependency unavailable")
)

// InsufficientStockError carries the per-line shortages of a failed
// reservation. It matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	Shortages []domain.VariantShortage
}

func (e *InsufficientStockError) Error() string {
	if len(e.Shortages) == 0 {
		return ErrInsufficientStock.Error()
	}
	first := e.Shortages[0]
	return fmt.Sprintf("inventory: insufficient stock for variant %s (requested %d, available %d)",
		first.VariantID, first.Requested, first.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError names the rejected status change. It matches
// ErrInvalidTransition under errors.Is.
type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("orders: transition %s -> %s is not allowed", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
