package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	CartSnapshot    = domain.CartSnapshot
	Coupon          = domain.Coupon
	Order           = domain.Order
	OrderStatus     = domain.OrderStatus
	PaymentStatus   = domain.PaymentStatus
	PaymentMethod   = domain.PaymentMethod
	PaymentAttempt  = domain.PaymentAttempt
	ProductVariant  = domain.ProductVariant
	VariantShortage = domain.VariantShortage
)

// Job type names delivered through the outbox. Consumers are expected to be
// idempotent: delivery is at-least-once.
const (
	JobOrderConfirmation        = "order-confirmation"
	JobOrderCreatedNotification = "order-created-notification"
	JobLowStockAlert            = "inventory-low-stock-alert"
)

// JobMessage is the payload delivered to background workers via Pub/Sub.
type JobMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

// JobPublisher publishes job messages to the background queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, message JobMessage) (string, error)
}

// CheckoutCommand carries everything a checkout attempt needs.
type CheckoutCommand struct {
	UserID            string
	ShippingAddressID string
	CouponCode        string
	PaymentMethod     domain.PaymentMethod
	PaymentToken      string
	IdempotencyKey    string
}

// PaymentIntentInfo is the client-facing slice of a created payment intent.
type PaymentIntentInfo struct {
	IntentID     string
	Provider     domain.PaymentMethod
	ClientSecret string
	Status       string
}

// CheckoutResult is returned to the caller after a committed checkout.
type CheckoutResult struct {
	Order   domain.Order
	Payment PaymentIntentInfo
}

// CheckoutIssue is one advisory problem found by ValidateCheckout.
type CheckoutIssue struct {
	Kind      string
	Message   string
	Shortages []domain.VariantShortage
}

// CheckoutValidation is the advisory pre-flight result. It reserves nothing.
type CheckoutValidation struct {
	Valid  bool
	Issues []CheckoutIssue
}

// CheckoutService converts a cart into an immutable order inside one
// database transaction.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	ValidateCheckout(ctx context.Context, userID string) (CheckoutValidation, error)
}

// ReservationSummary reports the side observations of a successful ReserveAll.
type ReservationSummary struct {
	LowStock []LowStockAlert
}

// LowStockAlert names a variant whose availability dropped below its threshold.
type LowStockAlert struct {
	VariantID string
	SKU       string
	Available int
	Threshold int
}

// AdjustInventoryCommand is an admin stock rewrite with an audit reason.
type AdjustInventoryCommand struct {
	VariantID string
	Quantity  int
	Reason    string
	ActorID   string
}

// InventoryService centralises stock checks, reservations, and releases.
// ReserveAll and ReleaseReservation must run inside a transaction started by
// the unit of work; the advisory operations run lock free.
type InventoryService interface {
	CheckAvailability(ctx context.Context, snapshot domain.CartSnapshot) ([]domain.VariantShortage, error)
	ReserveAll(ctx context.Context, snapshot domain.CartSnapshot) (ReservationSummary, error)
	ReleaseReservation(ctx context.Context, orderID string) error
	AdjustInventory(ctx context.Context, cmd AdjustInventoryCommand) (domain.ProductVariant, error)
	GetStock(ctx context.Context, variantID string) (domain.ProductVariant, error)
}

// CouponPreview is the public pre-check view of a coupon.
type CouponPreview struct {
	Code          string
	Type          domain.CouponType
	Value         decimal.Decimal
	MaxDiscount   *decimal.Decimal
	MinOrderValue decimal.Decimal
}

// CouponService validates, prices, and redeems discount codes.
type CouponService interface {
	// Validate runs the ordered eligibility checks against the user and the
	// frozen cart. Failures carry an InvalidCouponError reason.
	Validate(ctx context.Context, code, userID string, subtotal decimal.Decimal, snapshot domain.CartSnapshot) (domain.Coupon, error)
	// ComputeDiscount prices the coupon against the merchandise subtotal.
	// free_shipping coupons return zero here; their value is the shipping
	// cost, known only after shipping is computed.
	ComputeDiscount(coupon domain.Coupon, subtotal decimal.Decimal) decimal.Decimal
	// RedeemInTx locks the coupon row, re-checks the usage limit, and
	// increments the counter. Must run inside the checkout transaction.
	RedeemInTx(ctx context.Context, couponID string) error
	Preview(ctx context.Context, code string) (CouponPreview, error)
}

// ShippingCalculator prices delivery to a stored address.
type ShippingCalculator interface {
	// Calculate returns the shipping cost for the discounted order value.
	// Orders at or above the free-shipping threshold cost nothing.
	Calculate(ctx context.Context, addressID, userID string, orderValue decimal.Decimal) (decimal.Decimal, error)
}

// ListOrdersCommand scopes an order listing to its owner.
type ListOrdersCommand struct {
	UserID string
	Pager  Pagination
}

// UpdateOrderStatusCommand requests one transition of the fulfilment state machine.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         domain.OrderStatus
	TrackingNumber *string
}

// OrderService exposes user-scoped order reads and the status transition path.
type OrderService interface {
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.Page[domain.Order], error)
	GetOrder(ctx context.Context, orderID, userID string) (domain.Order, error)
	// UpdateStatus enforces the transition table. Moving to cancelled
	// releases the order's inventory reservation in the same transaction.
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
}

// CreateIntentCommand asks the orchestrator for a payment intent on an order.
type CreateIntentCommand struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Method         domain.PaymentMethod
	CustomerID     string
	IdempotencyKey string
}

// PaymentService creates gateway intents and applies webhook confirmations.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentIntentInfo, error)
	// HandleWebhook verifies the gateway signature, dedupes on the gateway
	// event id, and applies the paid or failed transition. Replays are no-ops.
	HandleWebhook(ctx context.Context, signatureHeader string, payload []byte) error
}
