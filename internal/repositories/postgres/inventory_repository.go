package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
	"github.com/clearcart/api/internal/repositories"
)

const variantColumns = `id, product_id, sku, price_modifier, inventory_quantity, reserved_quantity, low_stock_threshold, updated_at`

// InventoryRepository manages variant stock counters in Postgres.
type InventoryRepository struct {
	runner *platformpg.Runner
}

// NewInventoryRepository constructs a Postgres-backed inventory repository.
func NewInventoryRepository(runner *platformpg.Runner) (*InventoryRepository, error) {
	if runner == nil {
		return nil, errors.New("inventory repository requires a transaction runner")
	}
	return &InventoryRepository{runner: runner}, nil
}

// GetVariants reads the variants without locking. Used for advisory checks.
func (r *InventoryRepository) GetVariants(ctx context.Context, variantIDs []string) ([]domain.ProductVariant, error) {
	return r.queryVariants(ctx, variantIDs, false)
}

// LockVariants acquires FOR UPDATE row locks in ascending id order. Every
// caller locking the same set of variants acquires them in the same sequence,
// so two overlapping checkouts queue instead of deadlocking.
func (r *InventoryRepository) LockVariants(ctx context.Context, variantIDs []string) ([]domain.ProductVariant, error) {
	return r.queryVariants(ctx, variantIDs, true)
}

func (r *InventoryRepository) queryVariants(ctx context.Context, variantIDs []string, lock bool) ([]domain.ProductVariant, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}

	q := r.runner.Querier(ctx)
	query := fmt.Sprintf(`SELECT %s FROM product_variants WHERE id = ANY($1) ORDER BY id`, variantColumns)
	if lock {
		query += " FOR UPDATE"
	}

	rows, err := q.Query(ctx, query, variantIDs)
	if err != nil {
		return nil, platformpg.WrapError("inventory.variants", err)
	}
	defer rows.Close()

	var variants []domain.ProductVariant
	for rows.Next() {
		var v domain.ProductVariant
		if err := rows.Scan(
			&v.ID,
			&v.ProductID,
			&v.SKU,
			&v.PriceModifier,
			&v.OnHand,
			&v.Reserved,
			&v.LowStockThreshold,
			&v.UpdatedAt,
		); err != nil {
			return nil, platformpg.WrapError("inventory.variants", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, platformpg.WrapError("inventory.variants", err)
	}

	if len(variants) != len(uniqueIDs(variantIDs)) {
		return variants, repositories.NewInventoryError(
			repositories.InventoryErrorVariantNotFound,
			"one or more variants do not exist",
			nil,
		)
	}
	return variants, nil
}

// AdjustReserved moves the reserved counter by delta. The table CHECK keeps
// reserved between zero and on-hand; a violation surfaces as a typed error.
func (r *InventoryRepository) AdjustReserved(ctx context.Context, variantID string, delta int) error {
	q := r.runner.Querier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE product_variants
		SET reserved_quantity = reserved_quantity + $2, updated_at = now()
		WHERE id = $1`,
		variantID, delta,
	)
	if err != nil {
		if isCheckViolation(err) {
			return repositories.NewInventoryError(
				repositories.InventoryErrorInvariantViolated,
				"reserved quantity would leave the valid range",
				err,
			)
		}
		return platformpg.WrapError("inventory.adjust_reserved", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewInventoryError(
			repositories.InventoryErrorVariantNotFound,
			fmt.Sprintf("variant %s does not exist", variantID),
			nil,
		)
	}
	return nil
}

// SetOnHand rewrites the on-hand counter for an admin adjustment.
func (r *InventoryRepository) SetOnHand(ctx context.Context, variantID string, quantity int) error {
	q := r.runner.Querier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE product_variants
		SET inventory_quantity = $2, updated_at = now()
		WHERE id = $1`,
		variantID, quantity,
	)
	if err != nil {
		if isCheckViolation(err) {
			return repositories.NewInventoryError(
				repositories.InventoryErrorInvariantViolated,
				"on-hand quantity would drop below reserved stock",
				err,
			)
		}
		return platformpg.WrapError("inventory.set_on_hand", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NewInventoryError(
			repositories.InventoryErrorVariantNotFound,
			fmt.Sprintf("variant %s does not exist", variantID),
			nil,
		)
	}
	return nil
}

// InsertLog appends an audit row for a manual stock adjustment.
func (r *InventoryRepository) InsertLog(ctx context.Context, log domain.InventoryLog) error {
	q := r.runner.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO inventory_logs (id, variant_id, old_quantity, new_quantity, change, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.VariantID, log.OldQuantity, log.NewQuantity, log.Change, log.Reason, log.ActorID, log.CreatedAt,
	)
	if err != nil {
		return platformpg.WrapError("inventory.insert_log", err)
	}
	return nil
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
