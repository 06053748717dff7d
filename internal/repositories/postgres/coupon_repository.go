package postgres

import (
	"context"
	"errors"
	"strings"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
	"github.com/clearcart/api/internal/repositories"
)

const couponColumns = `id, code, type, value, max_discount, min_order_value, usage_limit, usage_count,
       start_date, end_date, is_active, applies_to_categories, applies_to_products, created_at, updated_at`

// CouponRepository persists coupons and redemption counters in Postgres.
type CouponRepository struct {
	runner *platformpg.Runner
}

// NewCouponRepository constructs a Postgres-backed coupon repository.
func NewCouponRepository(runner *platformpg.Runner) (*CouponRepository, error) {
	if runner == nil {
		return nil, errors.New("coupon repository requires a transaction runner")
	}
	return &CouponRepository{runner: runner}, nil
}

// FindByCode looks a coupon up by its case-insensitive code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	q := r.runner.Querier(ctx)
	row := q.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE lower(code) = lower($1)`,
		strings.TrimSpace(code),
	)
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, platformpg.WrapError("coupons.find_by_code", err)
	}
	return coupon, nil
}

// LockByID re-reads the coupon under a FOR UPDATE lock for the redeem step.
func (r *CouponRepository) LockByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	q := r.runner.Querier(ctx)
	row := q.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1 FOR UPDATE`,
		couponID,
	)
	coupon, err := scanCoupon(row)
	if err != nil {
		return domain.Coupon{}, platformpg.WrapError("coupons.lock", err)
	}
	return coupon, nil
}

// IncrementUsage bumps the usage counter. The caller holds the row lock and
// has already re-checked the limit.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string) error {
	q := r.runner.Querier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`,
		couponID,
	)
	if err != nil {
		return platformpg.WrapError("coupons.increment_usage", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewCouponError(
			repositories.CouponErrorUsageExhausted,
			"coupon usage limit reached",
			nil,
		)
	}
	return nil
}

// CountUserRedemptions counts orders by the user that redeemed the coupon.
// Cancelled orders are excluded unless includeCancelled is set.
func (r *CouponRepository) CountUserRedemptions(ctx context.Context, couponID, userID string, includeCancelled bool) (int, error) {
	q := r.runner.Querier(ctx)
	query := `SELECT COUNT(*) FROM orders WHERE coupon_id = $1 AND user_id = $2`
	if !includeCancelled {
		query += ` AND status <> 'cancelled'`
	}

	var count int
	if err := q.QueryRow(ctx, query, couponID, userID).Scan(&count); err != nil {
		return 0, platformpg.WrapError("coupons.count_redemptions", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		coupon     domain.Coupon
		categories []string
		products   []string
	)
	err := row.Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MaxDiscount,
		&coupon.MinOrderValue,
		&coupon.UsageLimit,
		&coupon.UsageCount,
		&coupon.StartDate,
		&coupon.EndDate,
		&coupon.IsActive,
		&categories,
		&products,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon.AppliesTo = domain.CouponScope{Categories: categories, Products: products}
	return coupon, nil
}
