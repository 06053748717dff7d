package services

import "fmt"

// CouponRejection is the machine-readable sub-reason of a failed validation.
type CouponRejection string

const (
	// CouponRejectionNotFound means no coupon matches the code.
	CouponRejectionNotFound CouponRejection = "not_found"
	// CouponRejectionInactive means the coupon exists but is switched off.
	CouponRejectionInactive CouponRejection = "inactive"
	// CouponRejectionNotStarted means the start date is in the future.
	CouponRejectionNotStarted CouponRejection = "not_started"
	// CouponRejectionExpired means the end date has passed.
	CouponRejectionExpired CouponRejection = "expired"
	// CouponRejectionUsageLimit means the global usage limit is exhausted.
	CouponRejectionUsageLimit CouponRejection = "usage_limit_reached"
	// CouponRejectionBelowMinimum means the subtotal is under the minimum order value.
	CouponRejectionBelowMinimum CouponRejection = "below_minimum"
	// CouponRejectionAlreadyUsed means the user already redeemed this coupon.
	CouponRejectionAlreadyUsed CouponRejection = "already_used"
	// CouponRejectionScopeMismatch means no cart line matches the coupon's scope.
	CouponRejectionScopeMismatch CouponRejection = "scope_mismatch"
)

// InvalidCouponError carries the specific rejection reason. It matches
// ErrInvalidCoupon under errors.Is so callers can branch on the family
// and read the reason for the response body.
type InvalidCouponError struct {
	Code   string
	Reason CouponRejection
}

func (e *InvalidCouponError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("coupon rejected: %s", e.Reason)
	}
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

func (e *InvalidCouponError) Unwrap() error { return ErrInvalidCoupon }

func newCouponRejection(code string, reason CouponRejection) error {
	return &InvalidCouponError{Code: code, Reason: reason}
}
