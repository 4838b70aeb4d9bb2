package models

import (
	"encoding/json"
	"time"
)

// OrderStatus is the canonical lifecycle state of an order.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusPaid     OrderStatus = "paid"
	StatusCanceled OrderStatus = "canceled"
	StatusRefunded OrderStatus = "refunded"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusRefunded
}

// CanTransition reports whether the state machine allows moving from one
// status to another. Re-applying the current status is not a transition;
// callers treat that case as an idempotent no-op.
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusPaid || to == StatusCanceled
	case StatusPaid:
		return to == StatusRefunded
	default:
		return false
	}
}

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	MethodCreditCard PaymentMethod = "credit_card"
	MethodPix        PaymentMethod = "pix"
	MethodBoleto     PaymentMethod = "boleto"
)

// Order is the central entity the reconciliation flows read and update.
// Total is stored in integer centavos; adapters convert at the wire.
type Order struct {
	ID                   string        `db:"id" json:"id"`
	Total                int64         `db:"total" json:"total"`
	PaymentMethod        PaymentMethod `db:"payment_method" json:"payment_method"`
	Gateway              string        `db:"gateway" json:"gateway"`
	GatewayTransactionID string        `db:"gateway_transaction_id" json:"gateway_transaction_id,omitempty"`
	GatewayStatus        string        `db:"gateway_status" json:"gateway_status,omitempty"`
	Status               OrderStatus   `db:"status" json:"status"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
	ShippedAt            *time.Time    `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt          *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
}

// realTransactionIDMinLen separates gateway-issued transaction ids from
// locally-truncated order-id placeholders, which are at most 16 characters.
const realTransactionIDMinLen = 16

// RealTransactionID reports whether id looks gateway-issued rather than a
// local placeholder derived from the order id.
func RealTransactionID(id string) bool {
	return len(id) >= realTransactionIDMinLen
}

// PreferTransactionID picks which transaction id to persist. A real
// gateway-issued id is never overwritten by a shorter placeholder.
func PreferTransactionID(current, incoming string) string {
	if incoming == "" {
		return current
	}
	if RealTransactionID(current) && !RealTransactionID(incoming) {
		return current
	}
	return incoming
}

// PaymentLog is one append-only audit entry per payment attempt or webhook
// delivery. Rows are never mutated.
type PaymentLog struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        string          `db:"order_id" json:"order_id"`
	RawResponse    json.RawMessage `db:"raw_response" json:"raw_response,omitempty"`
	ParsedResponse json.RawMessage `db:"parsed_response" json:"parsed_response,omitempty"`
	Success        bool            `db:"success" json:"success"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// WebhookEvent is the gateway-neutral form of an inbound notification. It is
// built per request by an adapter's ParseWebhook and consumed immediately;
// it is never persisted.
type WebhookEvent struct {
	Gateway       string
	TransactionID string
	// OrderRef is the order reference as sent by the gateway: either the
	// full 36-char id or a truncated prefix. Adapters apply their source's
	// field priority before filling it.
	OrderRef      string
	StatusCode    string
	StatusMessage string
	Raw           json.RawMessage
}

// NotificationEndpoint holds the outbound forwarding configuration plus the
// result of the most recent delivery attempt.
type NotificationEndpoint struct {
	ID         int64     `db:"id" json:"id"`
	URL        string    `db:"url" json:"url"`
	LastStatus *int      `db:"last_status" json:"last_status,omitempty"`
	LastError  *string   `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
