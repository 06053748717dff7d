package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard offset paging inputs for list operations.
type Pagination struct {
	Page     int
	PageSize int
}

// Page wraps a result set together with the total row count for the query.
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

// CartLine is a single frozen line of a cart snapshot. Unit price is the
// variant price at the instant the snapshot was taken and is never refreshed
// mid-checkout.
type CartLine struct {
	VariantID   string
	ProductID   string
	CategoryID  string
	ProductName string
	VariantName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal returns quantity times unit price rounded to two decimals.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// CartSnapshot is the read-only view of a user's cart captured once per
// checkout attempt. All validation and pricing inside the checkout
// transaction works off this frozen view, never the live cart.
type CartSnapshot struct {
	CartID     string
	UserID     string
	Currency   string
	Lines      []CartLine
	CapturedAt time.Time
}

// Subtotal sums the line totals of the snapshot.
func (s CartSnapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.LineTotal())
	}
	return total.Round(2)
}

// ProductVariant carries the inventory-relevant fields of a sellable variant.
// Invariant: 0 <= Reserved <= OnHand, so Available() never goes negative.
type ProductVariant struct {
	ID                string
	ProductID         string
	SKU               string
	PriceModifier     decimal.Decimal
	OnHand            int
	Reserved          int
	LowStockThreshold int
	UpdatedAt         time.Time
}

// Available returns the quantity that can still be reserved.
func (v ProductVariant) Available() int {
	return v.OnHand - v.Reserved
}

// VariantShortage describes one cart line that exceeds available stock.
type VariantShortage struct {
	VariantID   string
	ProductName string
	Requested   int
	Available   int
}

// CouponType enumerates the supported discount mechanics.
type CouponType string

const (
	// CouponPercentage discounts a percentage of the merchandise subtotal.
	CouponPercentage CouponType = "percentage"
	// CouponFixed discounts a fixed amount, capped at the subtotal.
	CouponFixed CouponType = "fixed"
	// CouponFreeShipping waives the computed shipping cost.
	CouponFreeShipping CouponType = "free_shipping"
)

// CouponScope restricts a coupon to specific catalog slices. An empty scope
// applies to every cart.
type CouponScope struct {
	Categories []string
	Products   []string
}

// IsScoped reports whether the coupon carries any scoping rule.
func (s CouponScope) IsScoped() bool {
	return len(s.Categories) > 0 || len(s.Products) > 0
}

// Coupon is a redeemable discount code. UsageCount never exceeds UsageLimit
// when a limit is set; the increment happens under a row lock in the same
// transaction that creates the order.
type Coupon struct {
	ID            string
	Code          string
	Type          CouponType
	Value         decimal.Decimal
	MaxDiscount   *decimal.Decimal
	MinOrderValue decimal.Decimal
	UsageLimit    *int
	UsageCount    int
	StartDate     time.Time
	EndDate       *time.Time
	IsActive      bool
	AppliesTo     CouponScope
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentMethod is the closed set of ways an order can be paid.
type PaymentMethod string

const (
	// PaymentMethodStripe charges a card or wallet through Stripe.
	PaymentMethodStripe PaymentMethod = "stripe"
	// PaymentMethodCOD collects payment on delivery; no gateway call is made.
	PaymentMethodCOD PaymentMethod = "cod"
)

// ParsePaymentMethod maps a wire value onto the closed method set.
func ParsePaymentMethod(value string) (PaymentMethod, bool) {
	switch PaymentMethod(value) {
	case PaymentMethodStripe:
		return PaymentMethodStripe, true
	case PaymentMethodCOD:
		return PaymentMethodCOD, true
	default:
		return "", false
	}
}

// PaymentAttemptStatus tracks the lifecycle of a single gateway attempt.
type PaymentAttemptStatus string

const (
	// PaymentAttemptPending indicates the intent exists but is unconfirmed.
	PaymentAttemptPending PaymentAttemptStatus = "pending"
	// PaymentAttemptSucceeded indicates the gateway captured the charge.
	PaymentAttemptSucceeded PaymentAttemptStatus = "succeeded"
	// PaymentAttemptFailed indicates the gateway rejected the charge.
	PaymentAttemptFailed PaymentAttemptStatus = "failed"
)

// PaymentAttempt records one payment-intent creation against an order. An
// order may accumulate several attempts but at most one succeeded attempt.
type PaymentAttempt struct {
	ID        string
	OrderID   string
	IntentID  string
	Amount    decimal.Decimal
	Currency  string
	Gateway   PaymentMethod
	Status    PaymentAttemptStatus
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address carries the destination fields shipping pricing needs.
type Address struct {
	ID         string
	UserID     string
	Country    string
	City       string
	PostalCode string
}

// InventoryLog is an audit row written for every manual stock adjustment.
type InventoryLog struct {
	ID          string
	VariantID   string
	OldQuantity int
	NewQuantity int
	Change      int
	Reason      string
	ActorID     string
	CreatedAt   time.Time
}

// OutboxMessage is a post-commit job persisted in the same transaction as
// the order it references. The dispatcher relays pending rows to the queue
// with at-least-once semantics, so consumers must tolerate duplicates.
type OutboxMessage struct {
	ID             string
	JobType        string
	OrderID        string
	Payload        map[string]any
	IdempotencyKey string
	PublishedAt    *time.Time
	Attempts       int
	CreatedAt      time.Time
}
