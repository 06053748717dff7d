package postgres

import (
	"context"
	"errors"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
)

// OutboxRepository persists post-commit jobs in the outbox table.
type OutboxRepository struct {
	runner *platformpg.Runner
}

// NewOutboxRepository constructs a Postgres-backed outbox repository.
func NewOutboxRepository(runner *platformpg.Runner) (*OutboxRepository, error) {
	if runner == nil {
		return nil, errors.New("outbox repository requires a transaction runner")
	}
	return &OutboxRepository{runner: runner}, nil
}

// Enqueue writes a pending outbox row. Called inside the checkout
// transaction so the job commits or rolls back together with the order.
func (r *OutboxRepository) Enqueue(ctx context.Context, message domain.OutboxMessage) error {
	q := r.runner.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO outbox (id, job_type, order_id, payload, idempotency_key, published_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		message.ID, message.JobType, message.OrderID, message.Payload,
		message.IdempotencyKey, message.PublishedAt, message.Attempts, message.CreatedAt,
	)
	if err != nil {
		return platformpg.WrapError("outbox.enqueue", err)
	}
	return nil
}

// ListPending returns unpublished rows, oldest first.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	q := r.runner.Querier(ctx)
	rows, err := q.Query(ctx, `
		SELECT id, job_type, order_id, payload, idempotency_key, published_at, attempts, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, platformpg.WrapError("outbox.list_pending", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		var message domain.OutboxMessage
		if err := rows.Scan(
			&message.ID,
			&message.JobType,
			&message.OrderID,
			&message.Payload,
			&message.IdempotencyKey,
			&message.PublishedAt,
			&message.Attempts,
			&message.CreatedAt,
		); err != nil {
			return nil, platformpg.WrapError("outbox.list_pending", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, platformpg.WrapError("outbox.list_pending", err)
	}
	return messages, nil
}

// MarkPublished stamps the row so it is never dispatched again.
func (r *OutboxRepository) MarkPublished(ctx context.Context, messageID string, publishedAt time.Time) error {
	q := r.runner.Querier(ctx)
	if _, err := q.Exec(ctx,
		`UPDATE outbox SET published_at = $2 WHERE id = $1`,
		messageID, publishedAt,
	); err != nil {
		return platformpg.WrapError("outbox.mark_published", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter after a failed publish.
func (r *OutboxRepository) MarkFailed(ctx context.Context, messageID string) error {
	q := r.runner.Querier(ctx)
	if _, err := q.Exec(ctx,
		`UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`,
		messageID,
	); err != nil {
		return platformpg.WrapError("outbox.mark_failed", err)
	}
	return nil
}
