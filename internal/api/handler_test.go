package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrderID = "a81bc81b-dead-4e5d-abff-90865d1e13b1"

// memStore is a minimal in-memory service.Store for handler tests.
type memStore struct {
	orders map[string]*models.Order
	logs   []models.PaymentLog
}

func newMemStore(orders ...*models.Order) *memStore {
	ms := &memStore{orders: make(map[string]*models.Order)}
	for _, o := range orders {
		ms.orders[o.ID] = o
	}
	return ms
}

func (ms *memStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	if o, ok := ms.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, apperr.OrderNotFound(id)
}

func (ms *memStore) FindOrdersByIDPrefix(ctx context.Context, prefix string) ([]models.Order, error) {
	var out []models.Order
	for _, o := range ms.orders {
		if strings.HasPrefix(o.ID, prefix) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (ms *memStore) GetOrderByGatewayTransaction(ctx context.Context, gateway, txID string) (*models.Order, error) {
	for _, o := range ms.orders {
		if o.Gateway == gateway && o.GatewayTransactionID == txID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperr.OrderNotFound(txID)
}

func (ms *memStore) ListPendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func (ms *memStore) ApplyStatusTransition(ctx context.Context, orderID string, from, to models.OrderStatus, gatewayStatus, txID string) (bool, error) {
	o, ok := ms.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.GatewayStatus = gatewayStatus
	o.GatewayTransactionID = models.PreferTransactionID(o.GatewayTransactionID, txID)
	return true, nil
}

func (ms *memStore) UpdateGatewayState(ctx context.Context, orderID, gatewayStatus, txID string) error {
	if o, ok := ms.orders[orderID]; ok {
		o.GatewayStatus = gatewayStatus
		o.GatewayTransactionID = models.PreferTransactionID(o.GatewayTransactionID, txID)
	}
	return nil
}

func (ms *memStore) SetOrderPaymentGateway(ctx context.Context, orderID, gateway string, method models.PaymentMethod, gatewayStatus, txID string) error {
	if o, ok := ms.orders[orderID]; ok {
		o.Gateway = gateway
		o.PaymentMethod = method
	}
	return nil
}

func (ms *memStore) AppendPaymentLog(ctx context.Context, log *models.PaymentLog) error {
	log.ID = int64(len(ms.logs) + 1)
	ms.logs = append(ms.logs, *log)
	return nil
}

func (ms *memStore) GetPaymentLogs(ctx context.Context, orderID string) ([]models.PaymentLog, error) {
	var out []models.PaymentLog
	for _, l := range ms.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (ms *memStore) LastLoggedTransactionID(ctx context.Context, orderID string) (string, error) {
	return "", nil
}

func (ms *memStore) RecordNotificationResult(ctx context.Context, url string, httpStatus int, lastErr string) error {
	return nil
}

func setupTestRouter(ms *memStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	creds := func(gatewayID string) (gateway.Credentials, error) {
		return gateway.Credentials{}, nil
	}
	registry := gateway.NewRegistry(nil)
	resolver := service.NewResolver(ms, nil)
	reconciler := service.NewReconciler(ms, registry, resolver, nil, nil, creds, service.ReconcilerConfig{})
	payments := service.NewPaymentService(ms, registry, reconciler, creds, time.Second)

	router := gin.New()
	NewHandler(reconciler, payments).SetupRoutes(router)
	return router
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/webhooks/cielo", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebhookAppliesTransition(t *testing.T) {
	ms := newMemStore(&models.Order{ID: testOrderID, Status: models.StatusPending, Gateway: "cielo"})
	router := setupTestRouter(ms)

	body := `{"attributes":{"order_id":"` + testOrderID[:16] + `","tid":"99999999999","status":{"code":"8","message":"Capturado"}}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cielo", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool   `json:"success"`
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, testOrderID, resp.OrderID)
	assert.Equal(t, "paid", resp.Status)
	assert.Equal(t, models.StatusPaid, ms.orders[testOrderID].Status)
}

func TestWebhookUnrecognizedPayloadAcknowledged(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cielo", strings.NewReader(`{"ping":"pong"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	// a 2xx even when ignored, otherwise the gateway retries forever
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool `json:"success"`
		Ignored bool `json:"ignored"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.True(t, resp.Ignored)
}

func TestWebhookUnknownGateway(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION")
}

func TestGetOrderNotFound(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+testOrderID, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ORDER_NOT_FOUND")
}

func TestGetOrderWithLogs(t *testing.T) {
	ms := newMemStore(&models.Order{ID: testOrderID, Status: models.StatusPaid})
	ms.logs = append(ms.logs, models.PaymentLog{ID: 1, OrderID: testOrderID, Success: true})
	router := setupTestRouter(ms)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+testOrderID, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Order       models.Order        `json:"order"`
		PaymentLogs []models.PaymentLog `json:"payment_logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testOrderID, resp.Order.ID)
	assert.Len(t, resp.PaymentLogs, 1)
}

func TestCardPaymentValidation(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/card", strings.NewReader(`{"gateway":"cielo"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPixUnsupportedGateway(t *testing.T) {
	ms := newMemStore(&models.Order{ID: testOrderID, Status: models.StatusPending, Total: 1000})
	router := setupTestRouter(ms)

	body := `{"order_id":"` + testOrderID + `","gateway":"stripe"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/pix", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "UNSUPPORTED_OPERATION")
}

func TestSyncEmptyBodyRunsBatch(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result service.SyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Zero(t, result.Scanned)
}

func TestSyncUnknownOrder(t *testing.T) {
	router := setupTestRouter(newMemStore())

	body := `{"order_id":"` + testOrderID + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTestGatewayLegacyWithoutSecret(t *testing.T) {
	router := setupTestRouter(newMemStore())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gateways/legacy/test", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
}
