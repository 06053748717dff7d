package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/payments"
	"github.com/clearcart/api/internal/repositories"
)

// intentGateway abstracts payments.Manager for easier testing.
type intentGateway interface {
	CreateIntent(ctx context.Context, method domain.PaymentMethod, req payments.IntentRequest) (payments.Intent, error)
}

// webhookParser verifies and normalises a raw gateway notification.
type webhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Payments   repositories.PaymentRepository
	Orders     repositories.OrderRepository
	Inventory  InventoryService
	Gateway    intentGateway
	Webhooks   webhookParser
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments  repositories.PaymentRepository
	orders    repositories.OrderRepository
	inventory InventoryService
	gateway   intentGateway
	webhooks  webhookParser
	uow       repositories.UnitOfWork
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("payment service: inventory service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}
	if deps.Webhooks == nil {
		return nil, errors.New("payment service: webhook parser is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("payment service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments:  deps.Payments,
		orders:    deps.Orders,
		inventory: deps.Inventory,
		gateway:   deps.Gateway,
		webhooks:  deps.Webhooks,
		uow:       deps.UnitOfWork,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent asks the gateway for a payment intent and records the attempt.
// Called inside the checkout transaction: a gateway rejection propagates out
// and rolls back the order, the reservation, and the cart clear with it.
func (s *paymentService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentIntentInfo, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntentInfo{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if cmd.Amount.IsNegative() {
		return PaymentIntentInfo{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}

	req := payments.IntentRequest{
		OrderID:        orderID,
		Amount:         toMinorUnits(cmd.Amount),
		Currency:       strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		CustomerID:     strings.TrimSpace(cmd.CustomerID),
		Metadata:       map[string]string{"order_id": orderID},
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	}

	intent, err := s.gateway.CreateIntent(ctx, cmd.Method, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentIntentInfo{}, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, cmd.Method)
		}
		s.logger(ctx, "payments.intent_failed", map[string]any{
			"orderId": orderID,
			"method":  string(cmd.Method),
			"error":   err.Error(),
		})
		return PaymentIntentInfo{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	now := s.now()
	attempt := domain.PaymentAttempt{
		ID:        newPaymentID(),
		OrderID:   orderID,
		IntentID:  intent.ID,
		Amount:    cmd.Amount,
		Currency:  req.Currency,
		Gateway:   cmd.Method,
		Status:    attemptStatusFrom(intent.Status),
		Metadata:  intent.Raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Insert(ctx, attempt); err != nil {
		return PaymentIntentInfo{}, err
	}

	return PaymentIntentInfo{
		IntentID:     intent.ID,
		Provider:     intent.Provider,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// HandleWebhook verifies the gateway signature, dedupes on the event id, and
// applies the confirmed transition in one transaction. Replays of an already
// recorded event change nothing.
func (s *paymentService) HandleWebhook(ctx context.Context, signatureHeader string, payload []byte) error {
	event, err := s.webhooks.ParseWebhook(payload, signatureHeader)
	if err != nil {
		return fmt.Errorf("%w: webhook rejected: %v", ErrInvalidInput, err)
	}
	if event.Status == "" {
		// Event type this engine does not act on.
		return nil
	}

	return s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		firstSeen, err := s.payments.RecordWebhookEvent(txCtx, event.ID, event.Type, s.now())
		if err != nil {
			return err
		}
		if !firstSeen {
			s.logger(txCtx, "payments.webhook_replayed", map[string]any{
				"eventId": event.ID,
				"type":    event.Type,
			})
			return nil
		}
		return s.applyWebhookTransition(txCtx, event)
	})
}

func (s *paymentService) applyWebhookTransition(ctx context.Context, event payments.WebhookEvent) error {
	orderID := strings.TrimSpace(event.OrderID)

	var attempt *domain.PaymentAttempt
	if event.IntentID != "" {
		found, err := s.payments.FindByIntentID(ctx, event.IntentID)
		if err == nil {
			attempt = &found
			if orderID == "" {
				orderID = found.OrderID
			}
		} else if !isRepoNotFound(err) {
			return err
		}
	}
	if orderID == "" {
		return fmt.Errorf("%w: webhook event %s references no order", ErrNotFound, event.ID)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return err
	}

	switch event.Status {
	case payments.StatusSucceeded:
		if attempt != nil {
			if err := s.payments.UpdateStatus(ctx, attempt.ID, domain.PaymentAttemptSucceeded); err != nil {
				return err
			}
		}
		_, err := s.transitionOrder(ctx, order, domain.OrderProcessing, domain.PaymentPaid, event.ID)
		return err

	case payments.StatusFailed:
		if attempt != nil {
			if err := s.payments.UpdateStatus(ctx, attempt.ID, domain.PaymentAttemptFailed); err != nil {
				return err
			}
		}
		applied, err := s.transitionOrder(ctx, order, domain.OrderCancelled, domain.PaymentFailed, event.ID)
		if err != nil {
			return err
		}
		if !applied {
			// The order left pending before the event arrived. Whoever moved
			// it (cancellation, an earlier event) already settled the stock;
			// releasing again would hand the reservation back twice.
			return nil
		}
		// A failed payment must give the reserved stock back.
		return s.inventory.ReleaseReservation(ctx, order.ID)

	case payments.StatusRefunded:
		paymentStatus := domain.PaymentRefunded
		return s.orders.UpdateStatus(ctx, order.ID, repositories.OrderStatusUpdate{
			PaymentStatus: &paymentStatus,
		})

	default:
		return nil
	}
}

// transitionOrder applies the webhook-driven transition and reports whether
// it took effect, so callers can skip side effects tied to the transition.
func (s *paymentService) transitionOrder(ctx context.Context, order domain.Order, status domain.OrderStatus, paymentStatus domain.PaymentStatus, eventID string) (bool, error) {
	if !domain.CanTransition(order.Status, status) {
		// A late webhook for an order the state machine has moved past.
		// Acknowledge rather than fight it; the event is already recorded.
		s.logger(ctx, "payments.webhook_transition_skipped", map[string]any{
			"eventId": eventID,
			"orderId": order.ID,
			"from":    string(order.Status),
			"to":      string(status),
		})
		return false, nil
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, repositories.OrderStatusUpdate{
		Status:        &status,
		PaymentStatus: &paymentStatus,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func attemptStatusFrom(status payments.Status) domain.PaymentAttemptStatus {
	switch status {
	case payments.StatusSucceeded:
		return domain.PaymentAttemptSucceeded
	case payments.StatusFailed:
		return domain.PaymentAttemptFailed
	default:
		return domain.PaymentAttemptPending
	}
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
