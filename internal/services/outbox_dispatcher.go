package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/repositories"
)

const (
	defaultDispatchInterval  = 2 * time.Second
	defaultDispatchBatchSize = 50
	defaultDispatchAttempts  = 10
)

// OutboxDispatcherDeps wires the dependencies required by the outbox dispatcher.
type OutboxDispatcherDeps struct {
	Outbox      repositories.OutboxRepository
	Publisher   JobPublisher
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// OutboxDispatcher relays committed outbox rows to the job queue. It is the
// only path from the checkout transaction to the outside world: rows exist
// iff the transaction committed, and delivery is at-least-once because a
// publish can succeed while the mark-published write fails.
type OutboxDispatcher struct {
	outbox      repositories.OutboxRepository
	publisher   JobPublisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewOutboxDispatcher constructs an OutboxDispatcher validating required dependencies.
func NewOutboxDispatcher(deps OutboxDispatcherDeps) (*OutboxDispatcher, error) {
	if deps.Outbox == nil {
		return nil, errors.New("outbox dispatcher: outbox repository is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("outbox dispatcher: publisher is required")
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultDispatchAttempts
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &OutboxDispatcher{
		outbox:      deps.Outbox,
		publisher:   deps.Publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Run polls the outbox until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchPending(ctx); err != nil {
				d.logger(ctx, "outbox.dispatch_failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
	}
}

// DispatchPending relays one batch of unpublished rows and returns how many
// were published. Rows past the attempt cap are left in the table as dead
// letters and skipped.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.outbox.ListPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range pending {
		if message.Attempts >= d.maxAttempts {
			d.logger(ctx, "outbox.dead_letter", map[string]any{
				"messageId": message.ID,
				"jobType":   message.JobType,
				"attempts":  message.Attempts,
			})
			continue
		}
		if err := d.dispatchOne(ctx, message); err != nil {
			if markErr := d.outbox.MarkFailed(ctx, message.ID); markErr != nil {
				d.logger(ctx, "outbox.mark_failed_error", map[string]any{
					"messageId": message.ID,
					"error":     markErr.Error(),
				})
			}
			d.logger(ctx, "outbox.publish_failed", map[string]any{
				"messageId": message.ID,
				"jobType":   message.JobType,
				"error":     err.Error(),
			})
			continue
		}
		published++
	}
	return published, nil
}

func (d *OutboxDispatcher) dispatchOne(ctx context.Context, message domain.OutboxMessage) error {
	_, err := d.publisher.PublishJob(ctx, JobMessage{
		Type:           message.JobType,
		OrderID:        message.OrderID,
		Payload:        message.Payload,
		IdempotencyKey: message.IdempotencyKey,
	})
	if err != nil {
		return err
	}
	// Publish succeeded but the stamp below can still fail, in which case the
	// row is relayed again on a later tick. Consumers dedupe on the
	// idempotency key.
	return d.outbox.MarkPublished(ctx, message.ID, d.now())
}
