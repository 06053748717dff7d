package postgres

import (
	"context"
	"errors"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
	"github.com/clearcart/api/internal/repositories"
)

const orderColumns = `id, order_number, user_id, status, payment_status, payment_method,
       subtotal, discount_amount, shipping_amount, total_amount, currency,
       coupon_id, shipping_address_id, tracking_number, created_at, updated_at`

// OrderRepository persists orders and their immutable item snapshots in Postgres.
type OrderRepository struct {
	runner *platformpg.Runner
}

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(runner *platformpg.Runner) (*OrderRepository, error) {
	if runner == nil {
		return nil, errors.New("order repository requires a transaction runner")
	}
	return &OrderRepository{runner: runner}, nil
}

// Insert writes the order header plus every item row.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	q := r.runner.Querier(ctx)

	_, err := q.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, payment_status, payment_method,
		                    subtotal, discount_amount, shipping_amount, total_amount, currency,
		                    coupon_id, shipping_address_id, tracking_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		order.ID, order.OrderNumber, order.UserID, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.Subtotal, order.DiscountAmount, order.ShippingAmount, order.TotalAmount, order.Currency,
		order.CouponID, order.ShippingAddressID, order.TrackingNumber, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return platformpg.WrapError("orders.insert", err)
	}

	for _, item := range order.Items {
		_, err := q.Exec(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, product_id, product_name, variant_name,
			                         sku, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, order.ID, item.VariantID, item.ProductID, item.ProductName, item.VariantName,
			item.SKU, item.Quantity, item.UnitPrice, item.TotalPrice,
		)
		if err != nil {
			return platformpg.WrapError("orders.insert_item", err)
		}
	}
	return nil
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

// FindForUser loads an order only when it belongs to the user.
func (r *OrderRepository) FindForUser(ctx context.Context, orderID, userID string) (domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID)
}

func (r *OrderRepository) findOne(ctx context.Context, query string, args ...any) (domain.Order, error) {
	q := r.runner.Querier(ctx)

	order, err := scanOrder(q.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Order{}, platformpg.WrapError("orders.find", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// ListByUser returns the user's orders, newest first, with items attached.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	q := r.runner.Querier(ctx)

	page := pager.Page
	if page < 1 {
		page = 1
	}
	size := pager.PageSize
	if size < 1 {
		size = 20
	}

	var total int64
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return domain.Page[domain.Order]{}, platformpg.WrapError("orders.list", err)
	}

	rows, err := q.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, size, (page-1)*size,
	)
	if err != nil {
		return domain.Page[domain.Order]{}, platformpg.WrapError("orders.list", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.Page[domain.Order]{}, platformpg.WrapError("orders.list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, platformpg.WrapError("orders.list", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		orders[i].Items = items
	}

	return domain.Page[domain.Order]{
		Items:    orders,
		Total:    total,
		Page:     page,
		PageSize: size,
	}, nil
}

// UpdateStatus mutates the order's mutable fields.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) error {
	q := r.runner.Querier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE orders
		SET status = COALESCE($2, status),
		    payment_status = COALESCE($3, payment_status),
		    tracking_number = COALESCE($4, tracking_number),
		    updated_at = now()
		WHERE id = $1`,
		orderID, update.Status, update.PaymentStatus, update.TrackingNumber,
	)
	if err != nil {
		return platformpg.WrapError("orders.update_status", err)
	}
	if tag.RowsAffected() == 0 {
		return errOrderNotFound
	}
	return nil
}

var errOrderNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string       { return "orders.update_status: order does not exist" }
func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	q := r.runner.Querier(ctx)
	rows, err := q.Query(ctx, `
		SELECT id, order_id, variant_id, product_id, product_name, variant_name, sku, quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, platformpg.WrapError("orders.items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.VariantID,
			&item.ProductID,
			&item.ProductName,
			&item.VariantName,
			&item.SKU,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
		); err != nil {
			return nil, platformpg.WrapError("orders.items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, platformpg.WrapError("orders.items", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&order.Subtotal,
		&order.DiscountAmount,
		&order.ShippingAmount,
		&order.TotalAmount,
		&order.Currency,
		&order.CouponID,
		&order.ShippingAddressID,
		&order.TrackingNumber,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}
