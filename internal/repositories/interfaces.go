package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Inventory() InventoryRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Outbox() OutboxRepository
	Addresses() AddressRepository
	Shipping() ShippingRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository loads frozen cart snapshots and clears cart lines after a
// successful checkout.
type CartRepository interface {
	GetSnapshot(ctx context.Context, userID string) (domain.CartSnapshot, error)
	ClearItems(ctx context.Context, cartID string) error
}

// InventoryRepository manages variant stock counters. Locking methods must be
// called inside a transaction started by the unit of work.
type InventoryRepository interface {
	GetVariants(ctx context.Context, variantIDs []string) ([]domain.ProductVariant, error)
	// LockVariants acquires row locks in ascending id order regardless of the
	// order of the input, which keeps concurrent checkouts deadlock free.
	LockVariants(ctx context.Context, variantIDs []string) ([]domain.ProductVariant, error)
	AdjustReserved(ctx context.Context, variantID string, delta int) error
	SetOnHand(ctx context.Context, variantID string, quantity int) error
	InsertLog(ctx context.Context, log domain.InventoryLog) error
}

// CouponRepository persists coupons and their redemption counters.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// LockByID acquires a row lock so the usage-limit re-check and the
	// increment observe a stable counter.
	LockByID(ctx context.Context, couponID string) (domain.Coupon, error)
	IncrementUsage(ctx context.Context, couponID string) error
	CountUserRedemptions(ctx context.Context, couponID, userID string, includeCancelled bool) (int, error)
}

// OrderStatusUpdate carries optional fields to mutate during a status transition.
type OrderStatusUpdate struct {
	Status         *domain.OrderStatus
	PaymentStatus  *domain.PaymentStatus
	TrackingNumber *string
}

// OrderRepository persists orders together with their immutable item snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindForUser(ctx context.Context, orderID, userID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error)
	UpdateStatus(ctx context.Context, orderID string, update OrderStatusUpdate) error
}

// PaymentRepository persists payment attempts and webhook event receipts.
type PaymentRepository interface {
	Insert(ctx context.Context, attempt domain.PaymentAttempt) error
	FindByIntentID(ctx context.Context, intentID string) (domain.PaymentAttempt, error)
	UpdateStatus(ctx context.Context, attemptID string, status domain.PaymentAttemptStatus) error
	// RecordWebhookEvent inserts the gateway event id if absent and reports
	// whether this call was the first to see it. Replays return false.
	RecordWebhookEvent(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error)
}

// OutboxRepository stores post-commit jobs written inside business transactions.
type OutboxRepository interface {
	Enqueue(ctx context.Context, message domain.OutboxMessage) error
	ListPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkPublished(ctx context.Context, messageID string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, messageID string) error
}

// AddressRepository reads shipping destinations scoped to their owner.
type AddressRepository interface {
	FindForUser(ctx context.Context, addressID, userID string) (domain.Address, error)
}

// ShippingRepository resolves pricing inputs for destinations.
type ShippingRepository interface {
	// RegionMultiplier returns the cost multiplier for a destination country.
	// Unknown countries fall back to a multiplier of one.
	RegionMultiplier(ctx context.Context, country string) (decimal.Decimal, error)
}
