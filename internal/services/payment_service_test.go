package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/payments"
	"github.com/clearcart/api/internal/repositories"
)

type stubPaymentRepository struct {
	insertFunc        func(ctx context.Context, attempt domain.PaymentAttempt) error
	findByIntentFunc  func(ctx context.Context, intentID string) (domain.PaymentAttempt, error)
	updateStatusFunc  func(ctx context.Context, attemptID string, status domain.PaymentAttemptStatus) error
	recordWebhookFunc func(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error)
}

func (s *stubPaymentRepository) Insert(ctx context.Context, attempt domain.PaymentAttempt) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, attempt)
}

func (s *stubPaymentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.PaymentAttempt, error) {
	if s.findByIntentFunc == nil {
		return domain.PaymentAttempt{}, stubNotFoundError{}
	}
	return s.findByIntentFunc(ctx, intentID)
}

func (s *stubPaymentRepository) UpdateStatus(ctx context.Context, attemptID string, status domain.PaymentAttemptStatus) error {
	if s.updateStatusFunc == nil {
		return nil
	}
	return s.updateStatusFunc(ctx, attemptID, status)
}

func (s *stubPaymentRepository) RecordWebhookEvent(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	if s.recordWebhookFunc == nil {
		return true, nil
	}
	return s.recordWebhookFunc(ctx, eventID, eventType, receivedAt)
}

type stubGateway struct {
	createFunc func(ctx context.Context, method domain.PaymentMethod, req payments.IntentRequest) (payments.Intent, error)
}

func (s *stubGateway) CreateIntent(ctx context.Context, method domain.PaymentMethod, req payments.IntentRequest) (payments.Intent, error) {
	if s.createFunc == nil {
		return payments.Intent{ID: "pi_stub", Provider: method, Status: payments.StatusPending}, nil
	}
	return s.createFunc(ctx, method, req)
}

type stubWebhookParser struct {
	parseFunc func(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

func (s *stubWebhookParser) ParseWebhook(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
	if s.parseFunc == nil {
		return payments.WebhookEvent{}, errors.New("unexpected ParseWebhook call")
	}
	return s.parseFunc(payload, signatureHeader)
}

type paymentFixture struct {
	payments  *stubPaymentRepository
	orders    *stubOrderRepository
	inventory *stubInventoryService
	gateway   *stubGateway
	webhooks  *stubWebhookParser
}

func newPaymentFixture() *paymentFixture {
	return &paymentFixture{
		payments:  &stubPaymentRepository{},
		orders:    &stubOrderRepository{},
		inventory: &stubInventoryService{},
		gateway:   &stubGateway{},
		webhooks:  &stubWebhookParser{},
	}
}

func (f *paymentFixture) service(t *testing.T) PaymentService {
	t.Helper()
	service, err := NewPaymentService(PaymentServiceDeps{
		Payments:   f.payments,
		Orders:     f.orders,
		Inventory:  f.inventory,
		Gateway:    f.gateway,
		Webhooks:   f.webhooks,
		UnitOfWork: &stubUnitOfWork{},
		Clock: func() time.Time {
			return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return service
}

func TestPaymentServiceCreateIntentRecordsAttempt(t *testing.T) {
	f := newPaymentFixture()

	var gatewayReq payments.IntentRequest
	f.gateway.createFunc = func(_ context.Context, method domain.PaymentMethod, req payments.IntentRequest) (payments.Intent, error) {
		gatewayReq = req
		return payments.Intent{
			ID:           "pi_1",
			Provider:     method,
			ClientSecret: "sec_1",
			Status:       payments.StatusPending,
		}, nil
	}

	var attempt domain.PaymentAttempt
	f.payments.insertFunc = func(_ context.Context, a domain.PaymentAttempt) error {
		attempt = a
		return nil
	}

	info, err := f.service(t).CreateIntent(context.Background(), CreateIntentCommand{
		OrderID:        "ord_1",
		Amount:         decimal.RequireFromString("19.99"),
		Currency:       "usd",
		Method:         domain.PaymentMethodStripe,
		CustomerID:     "cus_1",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	if gatewayReq.Amount != 1999 {
		t.Fatalf("expected minor units 1999, got %d", gatewayReq.Amount)
	}
	if gatewayReq.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", gatewayReq.Currency)
	}
	if gatewayReq.Metadata["order_id"] != "ord_1" {
		t.Fatalf("expected order metadata, got %v", gatewayReq.Metadata)
	}

	if info.IntentID != "pi_1" || info.ClientSecret != "sec_1" {
		t.Fatalf("unexpected intent info %+v", info)
	}
	if attempt.IntentID != "pi_1" || attempt.OrderID != "ord_1" {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if attempt.Status != domain.PaymentAttemptPending {
		t.Fatalf("expected pending attempt, got %s", attempt.Status)
	}
}

func TestPaymentServiceCreateIntentGatewayFailure(t *testing.T) {
	f := newPaymentFixture()
	f.gateway.createFunc = func(context.Context, domain.PaymentMethod, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, errors.New("card declined")
	}
	f.payments.insertFunc = func(context.Context, domain.PaymentAttempt) error {
		t.Fatal("no attempt must be written on gateway failure")
		return nil
	}

	_, err := f.service(t).CreateIntent(context.Background(), CreateIntentCommand{
		OrderID: "ord_1",
		Amount:  decimal.NewFromInt(10),
		Method:  domain.PaymentMethodStripe,
	})
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}
}

func TestPaymentServiceCreateIntentUnsupportedMethod(t *testing.T) {
	f := newPaymentFixture()
	f.gateway.createFunc = func(context.Context, domain.PaymentMethod, payments.IntentRequest) (payments.Intent, error) {
		return payments.Intent{}, payments.ErrUnsupportedProvider
	}

	_, err := f.service(t).CreateIntent(context.Background(), CreateIntentCommand{
		OrderID: "ord_1",
		Amount:  decimal.NewFromInt(10),
		Method:  "paypal",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func succeededEvent() payments.WebhookEvent {
	return payments.WebhookEvent{
		ID:       "evt_1",
		Type:     "payment_intent.succeeded",
		IntentID: "pi_1",
		Status:   payments.StatusSucceeded,
	}
}

func TestPaymentServiceWebhookSuccessTransitionsOrder(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return succeededEvent(), nil
	}
	f.payments.findByIntentFunc = func(_ context.Context, intentID string) (domain.PaymentAttempt, error) {
		return domain.PaymentAttempt{ID: "pay_1", OrderID: "ord_1", IntentID: intentID}, nil
	}

	var attemptStatus domain.PaymentAttemptStatus
	f.payments.updateStatusFunc = func(_ context.Context, _ string, status domain.PaymentAttemptStatus) error {
		attemptStatus = status
		return nil
	}

	f.orders.findByIDFunc = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, Status: domain.OrderPending}, nil
	}

	var update repositories.OrderStatusUpdate
	f.orders.updateStatusFunc = func(_ context.Context, _ string, u repositories.OrderStatusUpdate) error {
		update = u
		return nil
	}

	if err := f.service(t).HandleWebhook(context.Background(), "sig", []byte("{}")); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	if attemptStatus != domain.PaymentAttemptSucceeded {
		t.Fatalf("expected succeeded attempt, got %s", attemptStatus)
	}
	if update.Status == nil || *update.Status != domain.OrderProcessing {
		t.Fatalf("expected order moved to processing, got %+v", update.Status)
	}
	if update.PaymentStatus == nil || *update.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected payment status paid, got %+v", update.PaymentStatus)
	}
}

func TestPaymentServiceWebhookReplayIsNoOp(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return succeededEvent(), nil
	}
	f.payments.recordWebhookFunc = func(context.Context, string, string, time.Time) (bool, error) {
		return false, nil
	}

	lookups := 0
	f.orders.findByIDFunc = func(context.Context, string) (domain.Order, error) {
		lookups++
		return domain.Order{}, stubNotFoundError{}
	}

	if err := f.service(t).HandleWebhook(context.Background(), "sig", []byte("{}")); err != nil {
		t.Fatalf("HandleWebhook replay: %v", err)
	}
	if lookups != 0 {
		t.Fatalf("replayed event must not touch orders, got %d lookups", lookups)
	}
}

func TestPaymentServiceWebhookFailureReleasesStock(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{
			ID:       "evt_2",
			Type:     "payment_intent.payment_failed",
			IntentID: "pi_1",
			Status:   payments.StatusFailed,
		}, nil
	}
	f.payments.findByIntentFunc = func(_ context.Context, intentID string) (domain.PaymentAttempt, error) {
		return domain.PaymentAttempt{ID: "pay_1", OrderID: "ord_1", IntentID: intentID}, nil
	}
	f.orders.findByIDFunc = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, Status: domain.OrderPending}, nil
	}

	var update repositories.OrderStatusUpdate
	f.orders.updateStatusFunc = func(_ context.Context, _ string, u repositories.OrderStatusUpdate) error {
		update = u
		return nil
	}

	released := ""
	f.inventory.releaseFunc = func(_ context.Context, orderID string) error {
		released = orderID
		return nil
	}

	if err := f.service(t).HandleWebhook(context.Background(), "sig", []byte("{}")); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if update.Status == nil || *update.Status != domain.OrderCancelled {
		t.Fatalf("expected cancelled order, got %+v", update.Status)
	}
	if released != "ord_1" {
		t.Fatalf("expected reservation released, got %q", released)
	}
}

func TestPaymentServiceWebhookLateEventSkipsTransition(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return succeededEvent(), nil
	}
	f.payments.findByIntentFunc = func(_ context.Context, intentID string) (domain.PaymentAttempt, error) {
		return domain.PaymentAttempt{ID: "pay_1", OrderID: "ord_1", IntentID: intentID}, nil
	}
	f.orders.findByIDFunc = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, Status: domain.OrderCancelled}, nil
	}
	f.orders.updateStatusFunc = func(context.Context, string, repositories.OrderStatusUpdate) error {
		t.Fatal("cancelled order must not transition on a late webhook")
		return nil
	}

	if err := f.service(t).HandleWebhook(context.Background(), "sig", []byte("{}")); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
}

func TestPaymentServiceWebhookFailureOnCancelledOrderKeepsStock(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{
			ID:       "evt_4",
			Type:     "payment_intent.payment_failed",
			IntentID: "pi_1",
			Status:   payments.StatusFailed,
		}, nil
	}
	f.payments.findByIntentFunc = func(_ context.Context, intentID string) (domain.PaymentAttempt, error) {
		return domain.PaymentAttempt{ID: "pay_1", OrderID: "ord_1", IntentID: intentID}, nil
	}
	f.orders.findByIDFunc = func(_ context.Context, orderID string) (domain.Order, error) {
		return domain.Order{ID: orderID, Status: domain.OrderCancelled}, nil
	}
	f.orders.updateStatusFunc = func(context.Context, string, repositories.OrderStatusUpdate) error {
		t.Fatal("cancelled order must not transition on a late failed event")
		return nil
	}

	releases := 0
	f.inventory.releaseFunc = func(context.Context, string) error {
		releases++
		return nil
	}

	if err := f.service(t).HandleWebhook(context.Background(), "sig", []byte("{}")); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if releases != 0 {
		t.Fatalf("cancellation already released the stock, got %d extra release(s)", releases)
	}
}

func TestPaymentServiceWebhookBadSignature(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{}, errors.New("signature mismatch")
	}

	err := f.service(t).HandleWebhook(context.Background(), "bad", []byte("{}"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPaymentServiceWebhookIgnoredEventType(t *testing.T) {
	f := newPaymentFixture()
	f.webhooks.parseFunc = func([]byte, string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{ID: "evt_3", Type: "payment_intent.created"}, nil
	}
	f.payments.recordWebhookFunc = func(context.Context, string, string, time.Time) (bool, error) {
		t.Fatal("ignored events must not be recorded")
		return false, nil
	}

	if err := f.service(t).HandleWebhook(context.Background(), "sig", []byte("{}")); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
}
