package broker

import (
	"context"

	"payment-reconciler/internal/models"
)

// EventPublisher publishes reconciliation events on the order topic.
// Fulfillment and analytics consume them; this service only produces.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStatusChanged publishes an OrderStatusChanged event keyed by order
// id, so all events for one order land on the same partition in order.
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}
