package models

import "time"

// Event types published on the reconciliation topic
const (
	EventTypeOrderPaid     = "ORDER_PAID"
	EventTypeOrderCanceled = "ORDER_CANCELED"
	EventTypeOrderRefunded = "ORDER_REFUNDED"
)

// Status change sources
const (
	SourceWebhook = "webhook"
	SourceSync    = "sync"
	SourceCharge  = "charge"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedEvent is published after a status transition is applied.
// Downstream consumers (fulfillment, analytics) key on OrderID.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        string      `json:"order_id"`
	Gateway        string      `json:"gateway"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	TransactionID  string      `json:"transaction_id,omitempty"`
	Source         string      `json:"source"`
}

// EventTypeForStatus maps a new order status to the event type published for
// it. Returns "" for statuses that do not emit events.
func EventTypeForStatus(s OrderStatus) string {
	switch s {
	case StatusPaid:
		return EventTypeOrderPaid
	case StatusCanceled:
		return EventTypeOrderCanceled
	case StatusRefunded:
		return EventTypeOrderRefunded
	default:
		return ""
	}
}
