package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	platformpg "github.com/clearcart/api/internal/platform/postgres"
)

// ShippingRepository reads per-region shipping multipliers in Postgres.
type ShippingRepository struct {
	runner *platformpg.Runner
}

// NewShippingRepository constructs a Postgres-backed shipping repository.
func NewShippingRepository(runner *platformpg.Runner) (*ShippingRepository, error) {
	if runner == nil {
		return nil, errors.New("shipping repository requires a transaction runner")
	}
	return &ShippingRepository{runner: runner}, nil
}

// RegionMultiplier returns the cost multiplier for a destination country.
// Countries without a configured region fall back to a multiplier of one.
func (r *ShippingRepository) RegionMultiplier(ctx context.Context, country string) (decimal.Decimal, error) {
	q := r.runner.Querier(ctx)
	var multiplier decimal.Decimal
	err := q.QueryRow(ctx,
		`SELECT multiplier FROM shipping_regions WHERE country_code = $1`,
		strings.ToUpper(strings.TrimSpace(country)),
	).Scan(&multiplier)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NewFromInt(1), nil
	}
	if err != nil {
		return decimal.Decimal{}, platformpg.WrapError("shipping.region_multiplier", err)
	}
	return multiplier, nil
}
