package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"marketplace-payments/internal/models"
)

// EventPublisher publishes order lifecycle events to the notification
// topic.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes an order event keyed by order id.
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// OrderEventHandler consumes order events from the notification topic.
type OrderEventHandler struct {
	onOrderEvent func(context.Context, *models.OrderEvent) error
}

// NewOrderEventHandler creates a new handler
func NewOrderEventHandler() *OrderEventHandler {
	return &OrderEventHandler{}
}

// OnOrderEvent registers the handler invoked for every order event.
func (eh *OrderEventHandler) OnOrderEvent(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrderEvent = handler
}

// HandleMessage decodes and routes one Kafka message.
func (eh *OrderEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal order event: %w", err)
	}

	if eh.onOrderEvent == nil {
		return nil
	}
	return eh.onOrderEvent(ctx, &event)
}
