package payments

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type fakeIntentAPI struct {
	newFunc func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFunc func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.newFunc == nil {
		return &stripe.PaymentIntent{}, nil
	}
	return f.newFunc(params)
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.getFunc == nil {
		return &stripe.PaymentIntent{ID: id}, nil
	}
	return f.getFunc(id, params)
}

type fakeRefundAPI struct {
	newFunc func(params *stripe.RefundParams) (*stripe.Refund, error)
}

func (f *fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	if f.newFunc == nil {
		return &stripe.Refund{}, nil
	}
	return f.newFunc(params)
}

func newTestStripeProvider(t *testing.T, intents *fakeIntentAPI, refunds *fakeRefundAPI, secret string) *StripeProvider {
	t.Helper()
	if intents == nil {
		intents = &fakeIntentAPI{}
	}
	if refunds == nil {
		refunds = &fakeRefundAPI{}
	}
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: secret,
		Clients: &stripeClients{
			intents: intents,
			refunds: refunds,
		},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestStripeProviderCreateIntent(t *testing.T) {
	var got *stripe.PaymentIntentParams
	intents := &fakeIntentAPI{
		newFunc: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			got = params
			return &stripe.PaymentIntent{
				ID:           "pi_1",
				ClientSecret: "pi_1_secret",
				Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
				Amount:       1999,
				Currency:     "usd",
			}, nil
		},
	}
	provider := newTestStripeProvider(t, intents, nil, "whsec_test")

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		OrderID:        "ord_1",
		Amount:         1999,
		Currency:       "USD",
		CustomerID:     "cus_123",
		IdempotencyKey: "key-1",
		Metadata:       map[string]string{"orderNumber": "ORD-1"},
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Status != StatusPending {
		t.Fatalf("requires_payment_method should map to pending, got %s", intent.Status)
	}

	if got == nil || got.Amount == nil || *got.Amount != 1999 {
		t.Fatalf("unexpected amount params %+v", got)
	}
	if got.Currency == nil || *got.Currency != "usd" {
		t.Fatalf("currency must be lowercased, got %+v", got.Currency)
	}
	if got.Customer == nil || *got.Customer != "cus_123" {
		t.Fatalf("unexpected customer %+v", got.Customer)
	}
	if got.Metadata["order_id"] != "ord_1" || got.Metadata["orderNumber"] != "ORD-1" {
		t.Fatalf("unexpected metadata %v", got.Metadata)
	}
}

func TestStripeProviderCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	provider := newTestStripeProvider(t, nil, nil, "whsec_test")

	if _, err := provider.CreateIntent(context.Background(), IntentRequest{OrderID: "ord_1", Amount: 0}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestStripeProviderRefund(t *testing.T) {
	var got *stripe.RefundParams
	refunds := &fakeRefundAPI{
		newFunc: func(params *stripe.RefundParams) (*stripe.Refund, error) {
			got = params
			return &stripe.Refund{ID: "re_1"}, nil
		},
	}
	provider := newTestStripeProvider(t, nil, refunds, "whsec_test")

	amount := int64(500)
	err := provider.Refund(context.Background(), RefundRequest{
		IntentID: "pi_1",
		Amount:   &amount,
		Reason:   "requested_by_customer",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got == nil || got.PaymentIntent == nil || *got.PaymentIntent != "pi_1" {
		t.Fatalf("unexpected refund params %+v", got)
	}
	if got.Amount == nil || *got.Amount != 500 {
		t.Fatalf("unexpected refund amount %+v", got.Amount)
	}
	if got.Reason == nil || *got.Reason != string(stripe.RefundReasonRequestedByCustomer) {
		t.Fatalf("unexpected refund reason %+v", got.Reason)
	}
}

func signedStripePayload(t *testing.T, secret, eventType string) ([]byte, string) {
	t.Helper()
	now := time.Now()
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"created":%d,"data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"order_id":"ord_1"}}}}`,
		stripe.APIVersion, eventType, now.Unix(),
	))
	signature := webhook.ComputeSignature(now, payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature))
	return payload, header
}

func TestStripeProviderParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	provider := newTestStripeProvider(t, nil, nil, secret)

	payload, header := signedStripePayload(t, secret, "payment_intent.succeeded")
	event, err := provider.ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.ID != "evt_1" || event.Status != StatusSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.IntentID != "pi_1" || event.OrderID != "ord_1" {
		t.Fatalf("expected intent and order extracted, got %+v", event)
	}
}

func TestStripeProviderParseWebhookBadSignature(t *testing.T) {
	provider := newTestStripeProvider(t, nil, nil, "whsec_test")

	payload, header := signedStripePayload(t, "whsec_other", "payment_intent.succeeded")
	if _, err := provider.ParseWebhook(payload, header); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestStripeProviderParseWebhookIgnoredType(t *testing.T) {
	const secret = "whsec_test"
	provider := newTestStripeProvider(t, nil, nil, secret)

	payload, header := signedStripePayload(t, secret, "customer.created")
	event, err := provider.ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Status != "" {
		t.Fatalf("ignored event types must carry no status, got %q", event.Status)
	}
	if event.IntentID != "" {
		t.Fatalf("ignored event types are not decoded, got %+v", event)
	}
}

func TestStripeProviderParseWebhookRequiresSecret(t *testing.T) {
	provider := newTestStripeProvider(t, nil, nil, "")

	if _, err := provider.ParseWebhook([]byte("{}"), "t=1,v1=abc"); err == nil {
		t.Fatal("expected error when webhook secret is not configured")
	}
}
