package postgres

import (
	"context"
	"errors"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
)

// CartRepository reads cart snapshots and clears cart lines in Postgres.
type CartRepository struct {
	runner *platformpg.Runner
}

// NewCartRepository constructs a Postgres-backed cart repository.
func NewCartRepository(runner *platformpg.Runner) (*CartRepository, error) {
	if runner == nil {
		return nil, errors.New("cart repository requires a transaction runner")
	}
	return &CartRepository{runner: runner}, nil
}

// GetSnapshot loads the user's cart as a frozen view. Line prices are the
// catalog price at read time: base price plus variant modifier.
func (r *CartRepository) GetSnapshot(ctx context.Context, userID string) (domain.CartSnapshot, error) {
	q := r.runner.Querier(ctx)

	var (
		cartID   string
		currency string
	)
	err := q.QueryRow(ctx,
		`SELECT id, currency FROM carts WHERE user_id = $1`,
		userID,
	).Scan(&cartID, &currency)
	if err != nil {
		return domain.CartSnapshot{}, platformpg.WrapError("carts.snapshot", err)
	}

	rows, err := q.Query(ctx, `
		SELECT ci.variant_id, v.product_id, p.category_id, p.name, v.name, v.sku,
		       ci.quantity, (p.base_price + v.price_modifier)::numeric(12,2)
		FROM cart_items ci
		JOIN product_variants v ON v.id = ci.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id`,
		cartID,
	)
	if err != nil {
		return domain.CartSnapshot{}, platformpg.WrapError("carts.snapshot", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(
			&line.VariantID,
			&line.ProductID,
			&line.CategoryID,
			&line.ProductName,
			&line.VariantName,
			&line.SKU,
			&line.Quantity,
			&line.UnitPrice,
		); err != nil {
			return domain.CartSnapshot{}, platformpg.WrapError("carts.snapshot", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.CartSnapshot{}, platformpg.WrapError("carts.snapshot", err)
	}

	return domain.CartSnapshot{
		CartID:     cartID,
		UserID:     userID,
		Currency:   currency,
		Lines:      lines,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// ClearItems deletes every line of the cart.
func (r *CartRepository) ClearItems(ctx context.Context, cartID string) error {
	q := r.runner.Querier(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return platformpg.WrapError("carts.clear", err)
	}
	return nil
}
