package payments

import (
	"context"
	"testing"

	"github.com/clearcart/api/internal/domain"
)

func TestCODProviderCreateIntent(t *testing.T) {
	provider := NewCODProvider()

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{
		OrderID:  "ord_1",
		Amount:   11000,
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.ID != "cod_ord_1" {
		t.Fatalf("unexpected intent id %q", intent.ID)
	}
	if intent.Provider != domain.PaymentMethodCOD || intent.Status != StatusPending {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.ClientSecret != "" {
		t.Fatalf("cod intents carry no client secret, got %q", intent.ClientSecret)
	}
}

func TestCODProviderCreateIntentValidation(t *testing.T) {
	provider := NewCODProvider()

	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 100}); err == nil {
		t.Fatal("expected error for missing order id")
	}
	if _, err := provider.CreateIntent(context.Background(), IntentRequest{OrderID: "ord_1", Amount: 0}); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestCODProviderRefund(t *testing.T) {
	provider := NewCODProvider()

	if err := provider.Refund(context.Background(), RefundRequest{IntentID: "cod_ord_1"}); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if err := provider.Refund(context.Background(), RefundRequest{}); err == nil {
		t.Fatal("expected error for missing intent id")
	}
}
