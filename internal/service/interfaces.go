package service

import (
	"context"
	"time"

	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
)

// Store is the persistence surface the reconciliation flows depend on,
// implemented by *store.Store.
type Store interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	FindOrdersByIDPrefix(ctx context.Context, prefix string) ([]models.Order, error)
	GetOrderByGatewayTransaction(ctx context.Context, gateway, txID string) (*models.Order, error)
	ListPendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)

	ApplyStatusTransition(ctx context.Context, orderID string, from, to models.OrderStatus, gatewayStatus, txID string) (bool, error)
	UpdateGatewayState(ctx context.Context, orderID, gatewayStatus, txID string) error
	SetOrderPaymentGateway(ctx context.Context, orderID, gateway string, method models.PaymentMethod, gatewayStatus, txID string) error

	AppendPaymentLog(ctx context.Context, log *models.PaymentLog) error
	GetPaymentLogs(ctx context.Context, orderID string) ([]models.PaymentLog, error)
	LastLoggedTransactionID(ctx context.Context, orderID string) (string, error)

	RecordNotificationResult(ctx context.Context, url string, httpStatus int, lastErr string) error
}

// TxCache caches (gateway, transaction id) -> order id, implemented by
// *redisclient.Client. A nil TxCache disables the fast path.
type TxCache interface {
	SetTransactionRef(ctx context.Context, gateway, txID, orderID string, ttl time.Duration) error
	GetTransactionRef(ctx context.Context, gateway, txID string) (string, error)
}

// EventPublisher publishes reconciliation events, implemented by
// *broker.EventPublisher.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// CredentialSource supplies per-gateway credentials at call time. The
// credentials are owned by admin configuration; nothing in this package
// stores or logs them.
type CredentialSource func(gatewayID string) (gateway.Credentials, error)
