package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"photo-orders-bot/internal/models"
)

// OrderEvent records one committed status change.
type OrderEvent struct {
	ID      string        `json:"id"`
	OrderID int64         `json:"order_id"`
	From    models.Status `json:"from"`
	To      models.Status `json:"to"`
	ActorID int64         `json:"actor_id"`
	At      time.Time     `json:"at"`
}

func NewOrderEvent(orderID int64, from, to models.Status, actorID int64, at time.Time) OrderEvent {
	return OrderEvent{
		ID:      uuid.NewString(),
		OrderID: orderID,
		From:    from,
		To:      to,
		ActorID: actorID,
		At:      at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}

// PubSubPublisher sends order events to a Google Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubPublisher(ctx context.Context, projectID, topicName string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to check topic %q: %w", topicName, err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topicName); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create topic %q: %w", topicName, err)
		}
	}

	return &PubSubPublisher{client: client, topic: topic}, nil
}

// CredentialsOption returns the client option for a credentials file, or nil
// to use Application Default Credentials.
func CredentialsOption(path string) []option.ClientOption {
	if path == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(path)}
}

func (p *PubSubPublisher) Publish(ctx context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"order_id": strconv.FormatInt(event.OrderID, 10),
			"status":   string(event.To),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// LogPublisher writes order events to the log when no broker is configured.
type LogPublisher struct {
	logger logrus.FieldLogger
}

func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event OrderEvent) error {
	p.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"order_id": event.OrderID,
		"from":     event.From,
		"to":       event.To,
		"actor_id": event.ActorID,
	}).Info("order status changed")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
