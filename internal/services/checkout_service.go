package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
	"github.com/clearcart/api/internal/repositories"
)

// paymentIntentCreator abstracts PaymentService for easier testing.
type paymentIntentCreator interface {
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentIntentInfo, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts      repositories.CartRepository
	Orders     repositories.OrderRepository
	Outbox     repositories.OutboxRepository
	Inventory  InventoryService
	Coupons    CouponService
	Shipping   ShippingCalculator
	Payments   paymentIntentCreator
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
	Currency   string
}

type checkoutService struct {
	carts     repositories.CartRepository
	orders    repositories.OrderRepository
	outbox    repositories.OutboxRepository
	inventory InventoryService
	coupons   CouponService
	shipping  ShippingCalculator
	payments  paymentIntentCreator
	uow       repositories.UnitOfWork
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	currency  string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Outbox == nil {
		return nil, errors.New("checkout service: outbox repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory service is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout service: coupon service is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout service: shipping calculator is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment service is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("checkout service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &checkoutService{
		carts:     deps.Carts,
		orders:    deps.Orders,
		outbox:    deps.Outbox,
		inventory: deps.Inventory,
		coupons:   deps.Coupons,
		shipping:  deps.Shipping,
		payments:  deps.Payments,
		uow:       deps.UnitOfWork,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		currency: currency,
	}, nil
}

// Checkout converts the user's cart into an order. Every step from the
// snapshot to the payment intent runs inside one database transaction, so a
// failure at any point leaves no reservation, no order, and an intact cart.
// Post-commit jobs are written to the outbox inside the same transaction and
// relayed by the dispatcher only after commit.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if err := validateCheckoutCommand(cmd); err != nil {
		return CheckoutResult{}, err
	}

	var result CheckoutResult
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		result, txErr = s.checkoutInTx(txCtx, cmd)
		return txErr
	})
	if err != nil {
		return CheckoutResult{}, s.translateCheckoutError(err)
	}

	s.logger(ctx, "checkout.committed", map[string]any{
		"orderId":     result.Order.ID,
		"orderNumber": result.Order.OrderNumber,
		"userId":      cmd.UserID,
		"total":       result.Order.TotalAmount.String(),
		"method":      string(cmd.PaymentMethod),
	})
	return result, nil
}

func (s *checkoutService) checkoutInTx(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	snapshot, err := s.loadSnapshot(ctx, cmd.UserID)
	if err != nil {
		return CheckoutResult{}, err
	}

	reservation, err := s.inventory.ReserveAll(ctx, snapshot)
	if err != nil {
		return CheckoutResult{}, err
	}

	subtotal := snapshot.Subtotal()

	var coupon *domain.Coupon
	discount := decimal.Zero
	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		validated, err := s.coupons.Validate(ctx, code, cmd.UserID, subtotal, snapshot)
		if err != nil {
			return CheckoutResult{}, err
		}
		coupon = &validated
		discount = s.coupons.ComputeDiscount(validated, subtotal)
	}

	// Shipping is priced on the discounted merchandise value. A
	// free_shipping coupon's discount equals that cost, so the customer
	// pays the merchandise value and the shipping line cancels out.
	shippingCost, err := s.shipping.Calculate(ctx, cmd.ShippingAddressID, cmd.UserID, subtotal.Sub(discount))
	if err != nil {
		return CheckoutResult{}, err
	}
	if coupon != nil && coupon.Type == domain.CouponFreeShipping {
		discount = shippingCost
	}

	total := subtotal.Sub(discount).Add(shippingCost)
	if total.IsNegative() {
		total = decimal.Zero
	}

	now := s.now()
	order := s.buildOrder(cmd, snapshot, coupon, subtotal, discount, shippingCost, total, now)
	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, err
	}

	// Clearing the cart inside the transaction stops a concurrent duplicate
	// checkout from spending the same snapshot twice.
	if err := s.carts.ClearItems(ctx, snapshot.CartID); err != nil {
		return CheckoutResult{}, err
	}

	if coupon != nil {
		if err := s.coupons.RedeemInTx(ctx, coupon.ID); err != nil {
			return CheckoutResult{}, err
		}
	}

	intent, err := s.payments.CreateIntent(ctx, CreateIntentCommand{
		OrderID:        order.ID,
		Amount:         total,
		Currency:       order.Currency,
		Method:         cmd.PaymentMethod,
		CustomerID:     cmd.PaymentToken,
		IdempotencyKey: cmd.IdempotencyKey,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	if err := s.enqueuePostCommitJobs(ctx, order, reservation, now); err != nil {
		return CheckoutResult{}, err
	}

	return CheckoutResult{Order: order, Payment: intent}, nil
}

// ValidateCheckout is the advisory pre-flight: it reports what would block a
// checkout right now without locking or reserving anything. A clean result
// is not a guarantee; the locked re-check at reservation time decides.
func (s *checkoutService) ValidateCheckout(ctx context.Context, userID string) (CheckoutValidation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckoutValidation{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	snapshot, err := s.loadSnapshot(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			return CheckoutValidation{
				Issues: []CheckoutIssue{{Kind: "empty_cart", Message: "cart has no items"}},
			}, nil
		}
		return CheckoutValidation{}, err
	}

	shortages, err := s.inventory.CheckAvailability(ctx, snapshot)
	if err != nil {
		return CheckoutValidation{}, err
	}
	if len(shortages) > 0 {
		return CheckoutValidation{
			Issues: []CheckoutIssue{{
				Kind:      "insufficient_stock",
				Message:   "one or more items exceed available stock",
				Shortages: shortages,
			}},
		}, nil
	}

	return CheckoutValidation{Valid: true}, nil
}

func (s *checkoutService) loadSnapshot(ctx context.Context, userID string) (domain.CartSnapshot, error) {
	snapshot, err := s.carts.GetSnapshot(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CartSnapshot{}, ErrEmptyCart
		}
		return domain.CartSnapshot{}, err
	}
	if len(snapshot.Lines) == 0 {
		return domain.CartSnapshot{}, ErrEmptyCart
	}
	return snapshot, nil
}

func (s *checkoutService) buildOrder(cmd CheckoutCommand, snapshot domain.CartSnapshot, coupon *domain.Coupon, subtotal, discount, shipping, total decimal.Decimal, now time.Time) domain.Order {
	orderID := newOrderID()

	currency := strings.ToUpper(strings.TrimSpace(snapshot.Currency))
	if currency == "" {
		currency = s.currency
	}

	var couponID *string
	if coupon != nil {
		id := coupon.ID
		couponID = &id
	}

	items := make([]domain.OrderItem, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		items = append(items, domain.OrderItem{
			ID:          newItemID(),
			OrderID:     orderID,
			VariantID:   line.VariantID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			VariantName: line.VariantName,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.LineTotal(),
		})
	}

	return domain.Order{
		ID:                orderID,
		OrderNumber:       newOrderNumber(orderID),
		UserID:            cmd.UserID,
		Status:            domain.OrderPending,
		PaymentStatus:     domain.PaymentPending,
		PaymentMethod:     cmd.PaymentMethod,
		Subtotal:          subtotal,
		DiscountAmount:    discount,
		ShippingAmount:    shipping,
		TotalAmount:       total,
		Currency:          currency,
		CouponID:          couponID,
		ShippingAddressID: cmd.ShippingAddressID,
		Items:             items,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (s *checkoutService) enqueuePostCommitJobs(ctx context.Context, order domain.Order, reservation ReservationSummary, now time.Time) error {
	orderPayload := map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.TotalAmount.String(),
		"currency":    order.Currency,
	}

	jobs := []domain.OutboxMessage{
		{
			ID:             newOutboxID(),
			JobType:        JobOrderConfirmation,
			OrderID:        order.ID,
			Payload:        orderPayload,
			IdempotencyKey: order.ID + "|" + JobOrderConfirmation,
			CreatedAt:      now,
		},
		{
			ID:             newOutboxID(),
			JobType:        JobOrderCreatedNotification,
			OrderID:        order.ID,
			Payload:        orderPayload,
			IdempotencyKey: order.ID + "|" + JobOrderCreatedNotification,
			CreatedAt:      now,
		},
	}

	for _, alert := range reservation.LowStock {
		jobs = append(jobs, domain.OutboxMessage{
			ID:      newOutboxID(),
			JobType: JobLowStockAlert,
			OrderID: order.ID,
			Payload: map[string]any{
				"variantId": alert.VariantID,
				"sku":       alert.SKU,
				"available": alert.Available,
				"threshold": alert.Threshold,
			},
			IdempotencyKey: order.ID + "|" + JobLowStockAlert + "|" + alert.VariantID,
			CreatedAt:      now,
		})
	}

	for _, job := range jobs {
		if err := s.outbox.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (s *checkoutService) translateCheckoutError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, platformpg.ErrTxConflict) {
		return ErrConcurrencyConflict
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrConcurrencyConflict
		case repoErr.IsUnavailable():
			return ErrUnavailable
		}
	}
	return err
}

func validateCheckoutCommand(cmd CheckoutCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddressID) == "" {
		return fmt.Errorf("%w: shipping address id is required", ErrInvalidInput)
	}
	if _, ok := domain.ParsePaymentMethod(string(cmd.PaymentMethod)); !ok {
		return fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, cmd.PaymentMethod)
	}
	return nil
}
