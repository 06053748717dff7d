package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clearcart/api/internal/domain"
)

type stubJobPublisher struct {
	publishFunc func(ctx context.Context, message JobMessage) (string, error)
}

func (s *stubJobPublisher) PublishJob(ctx context.Context, message JobMessage) (string, error) {
	if s.publishFunc == nil {
		return "msg-1", nil
	}
	return s.publishFunc(ctx, message)
}

func newTestDispatcher(t *testing.T, outbox *stubOutboxRepository, publisher *stubJobPublisher) *OutboxDispatcher {
	t.Helper()
	dispatcher, err := NewOutboxDispatcher(OutboxDispatcherDeps{
		Outbox:      outbox,
		Publisher:   publisher,
		MaxAttempts: 3,
		Clock: func() time.Time {
			return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewOutboxDispatcher: %v", err)
	}
	return dispatcher
}

func TestOutboxDispatcherPublishesAndMarks(t *testing.T) {
	pending := []domain.OutboxMessage{
		{ID: "msg-1", JobType: JobOrderConfirmation, OrderID: "ord_1", IdempotencyKey: "key-1"},
		{ID: "msg-2", JobType: JobLowStockAlert, OrderID: "ord_1", IdempotencyKey: "key-2"},
	}
	var publishedJobs []JobMessage
	var markedIDs []string
	var stampedAt time.Time
	outbox := &stubOutboxRepository{
		listPendingFunc: func(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
			if limit != defaultDispatchBatchSize {
				t.Fatalf("unexpected batch size %d", limit)
			}
			return pending, nil
		},
		markPublishedFunc: func(_ context.Context, messageID string, publishedAt time.Time) error {
			markedIDs = append(markedIDs, messageID)
			stampedAt = publishedAt
			return nil
		},
	}
	publisher := &stubJobPublisher{
		publishFunc: func(_ context.Context, message JobMessage) (string, error) {
			publishedJobs = append(publishedJobs, message)
			return "queued", nil
		},
	}

	count, err := newTestDispatcher(t, outbox, publisher).DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 published, got %d", count)
	}
	if len(publishedJobs) != 2 || publishedJobs[0].Type != JobOrderConfirmation || publishedJobs[0].IdempotencyKey != "key-1" {
		t.Fatalf("unexpected published jobs %+v", publishedJobs)
	}
	if len(markedIDs) != 2 || markedIDs[0] != "msg-1" || markedIDs[1] != "msg-2" {
		t.Fatalf("unexpected marked rows %v", markedIDs)
	}
	want := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	if !stampedAt.Equal(want) {
		t.Fatalf("expected publish stamp %s, got %s", want, stampedAt)
	}
}

func TestOutboxDispatcherPublishFailureMarksAndContinues(t *testing.T) {
	var failedIDs []string
	var markedIDs []string
	outbox := &stubOutboxRepository{
		listPendingFunc: func(context.Context, int) ([]domain.OutboxMessage, error) {
			return []domain.OutboxMessage{
				{ID: "msg-1", JobType: JobOrderConfirmation},
				{ID: "msg-2", JobType: JobLowStockAlert},
			}, nil
		},
		markPublishedFunc: func(_ context.Context, messageID string, _ time.Time) error {
			markedIDs = append(markedIDs, messageID)
			return nil
		},
		markFailedFunc: func(_ context.Context, messageID string) error {
			failedIDs = append(failedIDs, messageID)
			return nil
		},
	}
	publisher := &stubJobPublisher{
		publishFunc: func(_ context.Context, message JobMessage) (string, error) {
			if message.Type == JobOrderConfirmation {
				return "", errors.New("broker unavailable")
			}
			return "queued", nil
		},
	}

	count, err := newTestDispatcher(t, outbox, publisher).DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 published, got %d", count)
	}
	if len(failedIDs) != 1 || failedIDs[0] != "msg-1" {
		t.Fatalf("expected msg-1 marked failed, got %v", failedIDs)
	}
	if len(markedIDs) != 1 || markedIDs[0] != "msg-2" {
		t.Fatalf("expected msg-2 marked published, got %v", markedIDs)
	}
}

func TestOutboxDispatcherSkipsDeadLetters(t *testing.T) {
	published := 0
	outbox := &stubOutboxRepository{
		listPendingFunc: func(context.Context, int) ([]domain.OutboxMessage, error) {
			return []domain.OutboxMessage{
				{ID: "msg-dead", JobType: JobLowStockAlert, Attempts: 3},
				{ID: "msg-live", JobType: JobLowStockAlert, Attempts: 2},
			}, nil
		},
	}
	publisher := &stubJobPublisher{
		publishFunc: func(_ context.Context, message JobMessage) (string, error) {
			published++
			if message.Type != JobLowStockAlert {
				t.Fatalf("unexpected job %+v", message)
			}
			return "queued", nil
		},
	}

	count, err := newTestDispatcher(t, outbox, publisher).DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending: %v", err)
	}
	if count != 1 || published != 1 {
		t.Fatalf("expected only the live row published, got count=%d published=%d", count, published)
	}
}

func TestOutboxDispatcherListError(t *testing.T) {
	outbox := &stubOutboxRepository{
		listPendingFunc: func(context.Context, int) ([]domain.OutboxMessage, error) {
			return nil, errors.New("connection reset")
		},
	}

	if _, err := newTestDispatcher(t, outbox, &stubJobPublisher{}).DispatchPending(context.Background()); err == nil {
		t.Fatal("expected error from pending lookup")
	}
}
