package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearcart/api/internal/domain"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// IntentRequest captures the payload required to create a payment intent.
// Amount is in minor currency units.
type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent represents the provider-side payment attempt returned to the client.
type Intent struct {
	ID           string
	Provider     domain.PaymentMethod
	ClientSecret string
	Status       Status
	Raw          map[string]any
}

// RefundRequest defines a provider refund attempt. A nil Amount refunds in full.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// WebhookEvent normalises an asynchronous gateway notification.
type WebhookEvent struct {
	ID         string
	Type       string
	IntentID   string
	OrderID    string
	Status     Status
	OccurredAt time.Time
	Raw        map[string]any
}

// Provider defines the contract for payment adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// Manager routes payment operations to the adapter for each supported method.
// The method set is closed; adding a method means adding a field, a case and
// an adapter, which the compiler then enforces everywhere the switch appears.
type Manager struct {
	stripe Provider
	cod    Provider
}

// NewManager constructs a Manager over the supplied adapters.
func NewManager(stripe, cod Provider) (*Manager, error) {
	if stripe == nil {
		return nil, errors.New("payments: stripe provider is required")
	}
	if cod == nil {
		return nil, errors.New("payments: cod provider is required")
	}
	return &Manager{stripe: stripe, cod: cod}, nil
}

// Provider resolves the adapter for the given payment method.
func (m *Manager) Provider(method domain.PaymentMethod) (Provider, error) {
	if m == nil {
		return nil, errors.New("payments: manager is nil")
	}
	switch method {
	case domain.PaymentMethodStripe:
		return m.stripe, nil
	case domain.PaymentMethodCOD:
		return m.cod, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, method)
	}
}

// CreateIntent delegates to the adapter for the method.
func (m *Manager) CreateIntent(ctx context.Context, method domain.PaymentMethod, req IntentRequest) (Intent, error) {
	provider, err := m.Provider(method)
	if err != nil {
		return Intent{}, err
	}
	return provider.CreateIntent(ctx, req)
}

// Refund delegates to the adapter for the method.
func (m *Manager) Refund(ctx context.Context, method domain.PaymentMethod, req RefundRequest) error {
	provider, err := m.Provider(method)
	if err != nil {
		return err
	}
	return provider.Refund(ctx, req)
}
