package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/clearcart/api/internal/services"
)

// PubSubJobPublisher publishes post-commit order jobs to a Pub/Sub topic.
type PubSubJobPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubJobPublisher constructs a Pub/Sub backed job publisher.
func NewPubSubJobPublisher(topic *pubsub.Topic) (*PubSubJobPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub job publisher: topic is required")
	}
	return &PubSubJobPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishJob enqueues a job message on the configured topic. Delivery is
// at-least-once; consumers dedupe on the idempotency key attribute.
func (p *PubSubJobPublisher) PublishJob(ctx context.Context, message services.JobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub job publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobType", message.Type)
	setAttr(attrs, "orderId", message.OrderID)
	if key := strings.TrimSpace(message.IdempotencyKey); key != "" {
		attrs["idempotencyKey"] = key
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
