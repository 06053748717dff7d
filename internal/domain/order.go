package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state machine seeded at checkout.
type OrderStatus string

const (
	// OrderPending is the state every order is created in.
	OrderPending OrderStatus = "pending"
	// OrderProcessing indicates payment cleared and fulfilment started.
	OrderProcessing OrderStatus = "processing"
	// OrderShipped indicates the parcel left the warehouse.
	OrderShipped OrderStatus = "shipped"
	// OrderDelivered indicates the carrier confirmed delivery.
	OrderDelivered OrderStatus = "delivered"
	// OrderCancelled is terminal; reserved stock has been given back.
	OrderCancelled OrderStatus = "cancelled"
	// OrderRefunded is terminal.
	OrderRefunded OrderStatus = "refunded"
)

// PaymentStatus is the payment state machine, independent from OrderStatus
// except at the webhook transition points.
type PaymentStatus string

const (
	// PaymentPending means no confirmation has arrived from the gateway yet.
	PaymentPending PaymentStatus = "pending"
	// PaymentPaid means the gateway confirmed capture.
	PaymentPaid PaymentStatus = "paid"
	// PaymentFailed means the gateway rejected the charge.
	PaymentFailed PaymentStatus = "failed"
	// PaymentRefunded means the captured amount was returned.
	PaymentRefunded PaymentStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
	OrderDelivered:  {OrderRefunded},
	OrderCancelled:  {},
	OrderRefunded:   {},
}

// CanTransition reports whether the fulfilment state machine allows moving
// from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem is an immutable snapshot of what was bought and at which price.
// It is never recomputed from the live catalog, which is what keeps
// historical orders stable under later catalog edits.
type OrderItem struct {
	ID          string
	OrderID     string
	VariantID   string
	ProductID   string
	ProductName string
	VariantName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

// Order is immutable once created except for Status, PaymentStatus and
// TrackingNumber. Monetary invariant:
// TotalAmount = Subtotal - DiscountAmount + ShippingAmount, all non-negative
// and rounded to two decimals.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     PaymentMethod
	Subtotal          decimal.Decimal
	DiscountAmount    decimal.Decimal
	ShippingAmount    decimal.Decimal
	TotalAmount       decimal.Decimal
	Currency          string
	CouponID          *string
	ShippingAddressID string
	TrackingNumber    *string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TotalsConsistent verifies the monetary invariant within a cent tolerance.
func (o Order) TotalsConsistent() bool {
	expected := o.Subtotal.Sub(o.DiscountAmount).Add(o.ShippingAmount)
	return expected.Sub(o.TotalAmount).Abs().LessThanOrEqual(decimal.New(1, -2))
}
