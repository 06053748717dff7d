package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/repositories"
)

// CouponServiceDeps wires the dependencies required by the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
	// CountCancelledRedemptions controls whether an order that was later
	// cancelled still counts as a prior redemption by the user.
	CountCancelledRedemptions bool
}

type couponService struct {
	coupons        repositories.CouponRepository
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
	countCancelled bool
}

// NewCouponService constructs a CouponService validating required dependencies.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:         logger,
		countCancelled: deps.CountCancelledRedemptions,
	}, nil
}

// Validate runs the eligibility checks in order, short-circuiting on the
// first failure: active, date window, usage limit, minimum order value,
// prior redemption by the user, catalog scope.
func (s *couponService) Validate(ctx context.Context, code, userID string, subtotal decimal.Decimal, snapshot domain.CartSnapshot) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon code is required", ErrInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Coupon{}, newCouponRejection(code, CouponRejectionNotFound)
		}
		return domain.Coupon{}, err
	}

	if !coupon.IsActive {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionInactive)
	}

	now := s.now()
	if now.Before(coupon.StartDate) {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionNotStarted)
	}
	if coupon.EndDate != nil && now.After(*coupon.EndDate) {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionExpired)
	}

	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionUsageLimit)
	}

	if subtotal.LessThan(coupon.MinOrderValue) {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionBelowMinimum)
	}

	redemptions, err := s.coupons.CountUserRedemptions(ctx, coupon.ID, userID, s.countCancelled)
	if err != nil {
		return domain.Coupon{}, err
	}
	if redemptions > 0 {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionAlreadyUsed)
	}

	if coupon.AppliesTo.IsScoped() && !scopeMatches(coupon.AppliesTo, snapshot.Lines) {
		return domain.Coupon{}, newCouponRejection(code, CouponRejectionScopeMismatch)
	}

	return coupon, nil
}

// ComputeDiscount prices the coupon against the merchandise subtotal.
// Percentage discounts are capped at MaxDiscount when set; fixed discounts
// never exceed the subtotal. free_shipping is priced later, once the
// shipping cost is known, so it contributes zero here.
func (s *couponService) ComputeDiscount(coupon domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	switch coupon.Type {
	case domain.CouponPercentage:
		amount := subtotal.Mul(coupon.Value).Div(decimal.NewFromInt(100)).Round(2)
		if coupon.MaxDiscount != nil && amount.GreaterThan(*coupon.MaxDiscount) {
			amount = *coupon.MaxDiscount
		}
		return amount
	case domain.CouponFixed:
		if coupon.Value.GreaterThan(subtotal) {
			return subtotal
		}
		return coupon.Value.Round(2)
	case domain.CouponFreeShipping:
		return decimal.Zero
	default:
		return decimal.Zero
	}
}

// RedeemInTx locks the coupon row, re-checks the usage limit under the lock,
// and increments the counter. Two concurrent checkouts racing for a coupon's
// last use serialise on the row lock; the loser sees the limit exhausted.
func (s *couponService) RedeemInTx(ctx context.Context, couponID string) error {
	coupon, err := s.coupons.LockByID(ctx, couponID)
	if err != nil {
		if isRepoNotFound(err) {
			// The user-facing code is unknown here; never echo the internal id.
			return newCouponRejection("", CouponRejectionNotFound)
		}
		return err
	}

	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return newCouponRejection(coupon.Code, CouponRejectionUsageLimit)
	}

	if err := s.coupons.IncrementUsage(ctx, couponID); err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) && couponErr.Code == repositories.CouponErrorUsageExhausted {
			return newCouponRejection(coupon.Code, CouponRejectionUsageLimit)
		}
		return err
	}

	s.logger(ctx, "coupon.redeemed", map[string]any{
		"couponId": couponID,
		"code":     coupon.Code,
	})
	return nil
}

// Preview returns the public pre-check view of a coupon: its mechanics and
// limits, without touching usage counters or user history.
func (s *couponService) Preview(ctx context.Context, code string) (CouponPreview, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CouponPreview{}, fmt.Errorf("%w: coupon code is required", ErrInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return CouponPreview{}, ErrNotFound
		}
		return CouponPreview{}, err
	}

	if !coupon.IsActive {
		return CouponPreview{}, newCouponRejection(code, CouponRejectionInactive)
	}
	now := s.now()
	if now.Before(coupon.StartDate) {
		return CouponPreview{}, newCouponRejection(code, CouponRejectionNotStarted)
	}
	if coupon.EndDate != nil && now.After(*coupon.EndDate) {
		return CouponPreview{}, newCouponRejection(code, CouponRejectionExpired)
	}

	return CouponPreview{
		Code:          coupon.Code,
		Type:          coupon.Type,
		Value:         coupon.Value,
		MaxDiscount:   coupon.MaxDiscount,
		MinOrderValue: coupon.MinOrderValue,
	}, nil
}

func scopeMatches(scope domain.CouponScope, lines []domain.CartLine) bool {
	categories := make(map[string]struct{}, len(scope.Categories))
	for _, c := range scope.Categories {
		categories[c] = struct{}{}
	}
	products := make(map[string]struct{}, len(scope.Products))
	for _, p := range scope.Products {
		products[p] = struct{}{}
	}
	for _, line := range lines {
		if _, ok := categories[line.CategoryID]; ok {
			return true
		}
		if _, ok := products[line.ProductID]; ok {
			return true
		}
	}
	return false
}
