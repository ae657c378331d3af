// Package jobs hands order events to asynchronous consumers (kitchen display, analytics) over Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/acai-shop/api/internal/domain"
	"github.com/acai-shop/api/internal/services"
)

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic. Messages for the same
// order share an ordering key so subscribers see status changes in commit order.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

// NewPubSubOrderPublisher constructs a publisher and enables message ordering on the topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// orderEventMessage is the wire format. Money travels as fixed two-digit strings.
type orderEventMessage struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        int64          `json:"orderId"`
	UserID         int64          `json:"userId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	Status         string         `json:"status"`
	ActorID        string         `json:"actorId,omitempty"`
	DelivererID    *int64         `json:"delivererId,omitempty"`
	TotalPrice     string         `json:"totalPrice"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	data, err := p.marshal(orderEventMessage{
		ID:             event.ID,
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		PreviousStatus: string(event.PreviousStatus),
		Status:         string(event.CurrentStatus),
		ActorID:        event.ActorID,
		DelivererID:    event.DelivererID,
		TotalPrice:     domain.FormatMoney(event.TotalPrice),
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	orderID := strconv.FormatInt(event.OrderID, 10)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: orderID,
		Attributes: map[string]string{
			"eventId":   event.ID,
			"eventType": event.Type,
			"orderId":   orderID,
			"status":    string(event.CurrentStatus),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key; resume so later events for the order still flow.
		p.topic.ResumePublish(orderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}
