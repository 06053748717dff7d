package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	platformpg "github.com/clearcart/api/internal/platform/postgres"
	"github.com/clearcart/api/internal/repositories"
)

// Registry wires all Postgres-backed repositories over a shared pool and
// transaction runner.
type Registry struct {
	pool   *pgxpool.Pool
	runner *platformpg.Runner

	carts     *CartRepository
	inventory *InventoryRepository
	coupons   *CouponRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	outbox    *OutboxRepository
	addresses *AddressRepository
	shipping  *ShippingRepository
}

// NewRegistry constructs the repository registry for the pool.
func NewRegistry(pool *pgxpool.Pool, lockTimeout time.Duration) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("registry requires a connection pool")
	}
	runner, err := platformpg.NewRunner(pool, lockTimeout)
	if err != nil {
		return nil, err
	}

	reg := &Registry{pool: pool, runner: runner}
	if reg.carts, err = NewCartRepository(runner); err != nil {
		return nil, err
	}
	if reg.inventory, err = NewInventoryRepository(runner); err != nil {
		return nil, err
	}
	if reg.coupons, err = NewCouponRepository(runner); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(runner); err != nil {
		return nil, err
	}
	if reg.payments, err = NewPaymentRepository(runner); err != nil {
		return nil, err
	}
	if reg.outbox, err = NewOutboxRepository(runner); err != nil {
		return nil, err
	}
	if reg.addresses, err = NewAddressRepository(runner); err != nil {
		return nil, err
	}
	if reg.shipping, err = NewShippingRepository(runner); err != nil {
		return nil, err
	}
	return reg, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close(_ context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}

// Carts implements repositories.Registry.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Inventory implements repositories.Registry.
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

// Coupons implements repositories.Registry.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// Orders implements repositories.Registry.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments implements repositories.Registry.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Outbox implements repositories.Registry.
func (r *Registry) Outbox() repositories.OutboxRepository { return r.outbox }

// Addresses implements repositories.Registry.
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

// Shipping implements repositories.Registry.
func (r *Registry) Shipping() repositories.ShippingRepository { return r.shipping }

// RunInTx executes fn within a single database transaction. Lock races are
// surfaced as conflicts rather than retried, because the checkout flow calls
// an external payment gateway inside the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.runner.RunInTx(ctx, fn)
}
