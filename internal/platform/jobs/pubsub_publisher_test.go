package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/clearcart/api/internal/services"
)

func TestPubSubJobPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-jobs")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubJobPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubJobPublisher: %v", err)
	}

	msg := services.JobMessage{
		Type:           "order-confirmation",
		OrderID:        "ord_1",
		Payload:        map[string]any{"orderNumber": "ORD-20250615-0001"},
		IdempotencyKey: "key-1",
	}

	if _, err := publisher.PublishJob(ctx, msg); err != nil {
		t.Fatalf("PublishJob: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.JobMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != msg.Type || payload.OrderID != msg.OrderID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["idempotencyKey"]; attr != "key-1" {
		t.Fatalf("expected idempotency key attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["jobType"]; attr != "order-confirmation" {
		t.Fatalf("expected job type attribute, got %q", attr)
	}
}

func TestNewPubSubJobPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubJobPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
