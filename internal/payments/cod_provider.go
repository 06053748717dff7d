package payments

import (
	"context"
	"errors"

	"github.com/clearcart/api/internal/domain"
)

// CODProvider implements the Provider interface for cash-on-delivery orders.
// No gateway is involved: the intent is accepted immediately and the payment
// stays pending until the courier collects it.
type CODProvider struct{}

// NewCODProvider constructs a cash-on-delivery adapter.
func NewCODProvider() *CODProvider {
	return &CODProvider{}
}

// CreateIntent records a deferred payment obligation for the order.
func (p *CODProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if req.OrderID == "" {
		return Intent{}, errors.New("cod: order id is required")
	}
	if req.Amount <= 0 {
		return Intent{}, errors.New("cod: intent amount must be positive")
	}
	return Intent{
		ID:       "cod_" + req.OrderID,
		Provider: domain.PaymentMethodCOD,
		Status:   StatusPending,
	}, nil
}

// Refund is a bookkeeping no-op; cash refunds are settled out of band.
func (p *CODProvider) Refund(_ context.Context, req RefundRequest) error {
	if req.IntentID == "" {
		return errors.New("cod: intent id is required")
	}
	return nil
}
