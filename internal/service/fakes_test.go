package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
)

// fakeStore is an in-memory Store for engine and resolver tests.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	logs   []models.PaymentLog

	notifURL    string
	notifStatus int
	notifErr    string
}

func newFakeStore(orders ...*models.Order) *fakeStore {
	fs := &fakeStore{orders: make(map[string]*models.Order)}
	for _, o := range orders {
		fs.orders[o.ID] = o
	}
	return fs
}

func (fs *fakeStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	o, ok := fs.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	cp := *o
	return &cp, nil
}

func (fs *fakeStore) FindOrdersByIDPrefix(ctx context.Context, prefix string) ([]models.Order, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []models.Order
	for _, o := range fs.orders {
		if strings.HasPrefix(o.ID, prefix) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (fs *fakeStore) GetOrderByGatewayTransaction(ctx context.Context, gateway, txID string) (*models.Order, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, o := range fs.orders {
		if o.Gateway == gateway && o.GatewayTransactionID == txID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperr.OrderNotFound(txID)
}

func (fs *fakeStore) ListPendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []models.Order
	for _, o := range fs.orders {
		if o.Status == models.StatusPending && !o.CreatedAt.Before(cutoff) {
			out = append(out, *o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (fs *fakeStore) ApplyStatusTransition(ctx context.Context, orderID string, from, to models.OrderStatus, gatewayStatus, txID string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	o, ok := fs.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.GatewayStatus = gatewayStatus
	o.GatewayTransactionID = models.PreferTransactionID(o.GatewayTransactionID, txID)
	return true, nil
}

func (fs *fakeStore) UpdateGatewayState(ctx context.Context, orderID, gatewayStatus, txID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if o, ok := fs.orders[orderID]; ok {
		o.GatewayStatus = gatewayStatus
		o.GatewayTransactionID = models.PreferTransactionID(o.GatewayTransactionID, txID)
	}
	return nil
}

func (fs *fakeStore) SetOrderPaymentGateway(ctx context.Context, orderID, gateway string, method models.PaymentMethod, gatewayStatus, txID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if o, ok := fs.orders[orderID]; ok {
		o.Gateway = gateway
		o.PaymentMethod = method
		o.GatewayStatus = gatewayStatus
		o.GatewayTransactionID = models.PreferTransactionID(o.GatewayTransactionID, txID)
	}
	return nil
}

func (fs *fakeStore) AppendPaymentLog(ctx context.Context, log *models.PaymentLog) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	log.ID = int64(len(fs.logs) + 1)
	log.CreatedAt = time.Now()
	fs.logs = append(fs.logs, *log)
	return nil
}

func (fs *fakeStore) GetPaymentLogs(ctx context.Context, orderID string) ([]models.PaymentLog, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []models.PaymentLog
	for _, l := range fs.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (fs *fakeStore) LastLoggedTransactionID(ctx context.Context, orderID string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := len(fs.logs) - 1; i >= 0; i-- {
		if fs.logs[i].OrderID != orderID {
			continue
		}
		var parsed struct {
			TransactionID string `json:"transaction_id"`
		}
		if json.Unmarshal(fs.logs[i].ParsedResponse, &parsed) == nil && models.RealTransactionID(parsed.TransactionID) {
			return parsed.TransactionID, nil
		}
	}
	return "", nil
}

func (fs *fakeStore) RecordNotificationResult(ctx context.Context, url string, httpStatus int, lastErr string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.notifURL = url
	fs.notifStatus = httpStatus
	fs.notifErr = lastErr
	return nil
}

func (fs *fakeStore) order(id string) models.Order {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return *fs.orders[id]
}

func (fs *fakeStore) logCount(orderID string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, l := range fs.logs {
		if l.OrderID == orderID {
			n++
		}
	}
	return n
}

// fakeCache is an in-memory TxCache.
type fakeCache struct {
	mu   sync.Mutex
	refs map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{refs: make(map[string]string)}
}

func (fc *fakeCache) SetTransactionRef(ctx context.Context, gateway, txID, orderID string, ttl time.Duration) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.refs[gateway+":"+txID] = orderID
	return nil
}

func (fc *fakeCache) GetTransactionRef(ctx context.Context, gateway, txID string) (string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.refs[gateway+":"+txID], nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []*models.OrderStatusChangedEvent
}

func (fp *fakePublisher) PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.events = append(fp.events, event)
	return nil
}

func (fp *fakePublisher) count() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.events)
}
