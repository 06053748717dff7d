package postgres

import (
	"context"
	"errors"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
)

// PaymentRepository persists payment attempts and webhook receipts in Postgres.
type PaymentRepository struct {
	runner *platformpg.Runner
}

// NewPaymentRepository constructs a Postgres-backed payment repository.
func NewPaymentRepository(runner *platformpg.Runner) (*PaymentRepository, error) {
	if runner == nil {
		return nil, errors.New("payment repository requires a transaction runner")
	}
	return &PaymentRepository{runner: runner}, nil
}

// Insert records a payment attempt against an order.
func (r *PaymentRepository) Insert(ctx context.Context, attempt domain.PaymentAttempt) error {
	q := r.runner.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO payments (id, order_id, intent_id, amount, currency, gateway, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID, attempt.OrderID, attempt.IntentID, attempt.Amount, attempt.Currency,
		attempt.Gateway, attempt.Status, attempt.Metadata, attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return platformpg.WrapError("payments.insert", err)
	}
	return nil
}

// FindByIntentID loads the attempt matching a gateway intent id.
func (r *PaymentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.PaymentAttempt, error) {
	q := r.runner.Querier(ctx)
	var attempt domain.PaymentAttempt
	err := q.QueryRow(ctx, `
		SELECT id, order_id, intent_id, amount, currency, gateway, status, metadata, created_at, updated_at
		FROM payments WHERE intent_id = $1`,
		intentID,
	).Scan(
		&attempt.ID,
		&attempt.OrderID,
		&attempt.IntentID,
		&attempt.Amount,
		&attempt.Currency,
		&attempt.Gateway,
		&attempt.Status,
		&attempt.Metadata,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		return domain.PaymentAttempt{}, platformpg.WrapError("payments.find_by_intent", err)
	}
	return attempt, nil
}

// UpdateStatus transitions the attempt's lifecycle state.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, attemptID string, status domain.PaymentAttemptStatus) error {
	q := r.runner.Querier(ctx)
	tag, err := q.Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`,
		attemptID, status,
	)
	if err != nil {
		return platformpg.WrapError("payments.update_status", err)
	}
	if tag.RowsAffected() == 0 {
		return errPaymentNotFound
	}
	return nil
}

var errPaymentNotFound = &paymentNotFoundError{}

type paymentNotFoundError struct{}

func (e *paymentNotFoundError) Error() string       { return "payments.update_status: attempt does not exist" }
func (e *paymentNotFoundError) IsNotFound() bool    { return true }
func (e *paymentNotFoundError) IsConflict() bool    { return false }
func (e *paymentNotFoundError) IsUnavailable() bool { return false }

// RecordWebhookEvent inserts the gateway event id if it has not been seen.
// The primary key on the event id makes replays observable as zero affected rows.
func (r *PaymentRepository) RecordWebhookEvent(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	q := r.runner.Querier(ctx)
	tag, err := q.Exec(ctx, `
		INSERT INTO webhook_events (id, event_type, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		eventID, eventType, receivedAt,
	)
	if err != nil {
		return false, platformpg.WrapError("payments.record_webhook", err)
	}
	return tag.RowsAffected() > 0, nil
}
