package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/status"
	"payment-reconciler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcilerConfig bounds the poll loop.
type ReconcilerConfig struct {
	SyncMaxAge  time.Duration // pending orders older than this are left alone
	SyncLimit   int
	Throttle    time.Duration // fixed delay between sequential gateway polls
	CallTimeout time.Duration // per outbound gateway call
}

// Reconciler applies gateway truth to order state. Both entry points — the
// webhook push path and the poll pull path — funnel into the same transition
// logic, so a stale poll can never revert a fresher webhook-driven change.
type Reconciler struct {
	store     Store
	registry  *gateway.Registry
	resolver  *Resolver
	publisher EventPublisher
	notifier  *Notifier
	creds     CredentialSource
	cfg       ReconcilerConfig
	logger    *zap.Logger
}

// NewReconciler creates a new reconciliation engine. publisher and notifier
// may be nil; both are best-effort side channels.
func NewReconciler(
	store Store,
	registry *gateway.Registry,
	resolver *Resolver,
	publisher EventPublisher,
	notifier *Notifier,
	creds CredentialSource,
	cfg ReconcilerConfig,
) *Reconciler {
	if cfg.SyncMaxAge <= 0 {
		cfg.SyncMaxAge = 48 * time.Hour
	}
	if cfg.SyncLimit <= 0 {
		cfg.SyncLimit = 50
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Reconciler{
		store:     store,
		registry:  registry,
		resolver:  resolver,
		publisher: publisher,
		notifier:  notifier,
		creds:     creds,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// Outcome summarizes one reconciliation of one order.
type Outcome struct {
	Ignored bool               `json:"ignored,omitempty"`
	OrderID string             `json:"order_id,omitempty"`
	Status  models.OrderStatus `json:"status,omitempty"`
	Applied bool               `json:"applied"`
}

// HandleWebhook processes one inbound gateway notification:
// parse -> resolve -> normalize -> transition -> log -> notify.
func (rc *Reconciler) HandleWebhook(ctx context.Context, gatewayID string, body []byte, header http.Header, query url.Values) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleWebhook")
	defer span.End()

	adapter, err := rc.registry.Adapter(gatewayID)
	if err != nil {
		return nil, err
	}
	creds, err := rc.creds(gatewayID)
	if err != nil {
		return nil, err
	}

	util.WebhooksReceivedTotal.WithLabelValues(gatewayID).Inc()

	evt, err := adapter.ParseWebhook(body, header, query, creds)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		util.WebhooksIgnoredTotal.WithLabelValues(gatewayID).Inc()
		rc.logger.Info("webhook payload not recognized, ignoring",
			zap.String("gateway", gatewayID))
		return &Outcome{Ignored: true}, nil
	}

	// Some sources notify with only a transaction id; fetch the status.
	if evt.StatusCode == "" && evt.StatusMessage == "" && evt.TransactionID != "" {
		rc.enrichFromGateway(ctx, adapter, creds, evt)
	}

	order, err := rc.resolver.Resolve(ctx, evt)
	if err != nil {
		return nil, err
	}

	target := status.Normalize(gatewayID, evt.StatusCode, evt.StatusMessage)
	gatewayStatus := evt.StatusMessage
	if gatewayStatus == "" {
		gatewayStatus = evt.StatusCode
	}
	return rc.apply(ctx, order, target, gatewayStatus, evt.TransactionID, models.SourceWebhook, evt.Raw)
}

// enrichFromGateway polls the transaction status for webhooks that only
// announce a change without carrying it. Failure leaves the event as-is; an
// empty status normalizes to pending and a later delivery or poll catches
// up.
func (rc *Reconciler) enrichFromGateway(ctx context.Context, adapter gateway.Adapter, creds gateway.Credentials, evt *models.WebhookEvent) {
	callCtx, cancel := context.WithTimeout(ctx, rc.cfg.CallTimeout)
	defer cancel()

	res, err := adapter.VerifyPaymentStatus(callCtx, evt.TransactionID, creds)
	if err != nil {
		rc.logger.Warn("could not fetch status for bare webhook",
			zap.String("gateway", evt.Gateway),
			zap.String("transaction_id", evt.TransactionID),
			zap.Error(err))
		return
	}
	evt.StatusMessage = res.GatewayStatus
}

// SyncResult summarizes one poll batch.
type SyncResult struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SyncPendingOrders polls the gateway for every pending order newer than the
// cutoff. One order's failure never aborts its siblings; errors are counted
// into the result. Calls are throttled sequentially — correctness over
// throughput at this volume.
func (rc *Reconciler) SyncPendingOrders(ctx context.Context, maxAge time.Duration, limit int) (*SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.SyncPendingOrders")
	defer span.End()

	if maxAge <= 0 {
		maxAge = rc.cfg.SyncMaxAge
	}
	if limit <= 0 {
		limit = rc.cfg.SyncLimit
	}
	util.SyncRunsTotal.Inc()

	cutoff := time.Now().Add(-maxAge)
	orders, err := rc.store.ListPendingOrders(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Scanned: len(orders)}
	for i := range orders {
		if i > 0 && rc.cfg.Throttle > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(rc.cfg.Throttle):
			}
		}

		outcome, err := rc.syncOne(ctx, &orders[i])
		if err != nil {
			if apperr.Is(err, apperr.CodeUnsupported) {
				result.Skipped++
				continue
			}
			result.Failed++
			util.SyncOrdersFailedTotal.Inc()
			rc.logger.Warn("order sync failed",
				zap.String("order_id", orders[i].ID),
				zap.Error(err))
			continue
		}
		if outcome.Applied {
			result.Updated++
		} else {
			result.Unchanged++
		}
	}

	rc.logger.Info("pending order sync finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed))
	return result, nil
}

// SyncOrder re-polls a single order on operator request.
func (rc *Reconciler) SyncOrder(ctx context.Context, orderID string) (*Outcome, error) {
	order, err := rc.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return rc.syncOne(ctx, order)
}

func (rc *Reconciler) syncOne(ctx context.Context, order *models.Order) (*Outcome, error) {
	if order.Gateway == "" {
		return nil, apperr.Validation("order %s has no gateway to poll", order.ID)
	}
	adapter, err := rc.registry.Adapter(order.Gateway)
	if err != nil {
		return nil, err
	}
	creds, err := rc.creds(order.Gateway)
	if err != nil {
		return nil, err
	}

	// Prefer a real gateway-issued id over the local order reference:
	// polling by the real id sidesteps prefix collisions on the gateway
	// side. The audit log may hold one even when the order row does not.
	txID := order.GatewayTransactionID
	if !models.RealTransactionID(txID) {
		if logged, lerr := rc.store.LastLoggedTransactionID(ctx, order.ID); lerr == nil && logged != "" {
			txID = logged
		}
	}
	lookupKey := txID
	if lookupKey == "" {
		lookupKey = order.ID // adapters truncate to their own field width
	}

	callCtx, cancel := context.WithTimeout(ctx, rc.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := adapter.VerifyPaymentStatus(callCtx, lookupKey, creds)
	util.GatewayCallDuration.WithLabelValues(order.Gateway, "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		// A timeout or network blip is not a status: the order stays as
		// it is rather than being wrongly settled.
		util.GatewayCallErrorsTotal.WithLabelValues(order.Gateway, "verify").Inc()
		return nil, err
	}

	return rc.apply(ctx, order, res.Status, res.GatewayStatus, txID, models.SourceSync, res.RawResponse)
}

// apply runs the shared transition logic: idempotent re-application,
// monotonicity enforcement, audit logging, and the post-transition side
// channels. Exactly one payment_logs row is appended per delivery.
func (rc *Reconciler) apply(ctx context.Context, order *models.Order, target models.OrderStatus, gatewayStatus, txID, source string, raw json.RawMessage) (*Outcome, error) {
	outcome := &Outcome{OrderID: order.ID, Status: order.Status}
	txID = models.PreferTransactionID(order.GatewayTransactionID, txID)

	accepted := true
	switch {
	case target == order.Status:
		// Idempotent redelivery: refresh audit fields, no transition.
		if err := rc.store.UpdateGatewayState(ctx, order.ID, gatewayStatus, txID); err != nil {
			return nil, err
		}

	case models.CanTransition(order.Status, target):
		applied, err := rc.store.ApplyStatusTransition(ctx, order.ID, order.Status, target, gatewayStatus, txID)
		if err != nil {
			return nil, err
		}
		if applied {
			outcome.Applied = true
			outcome.Status = target
			util.TransitionsAppliedTotal.WithLabelValues(string(target)).Inc()
			rc.logger.Info("order status transition applied",
				zap.String("order_id", order.ID),
				zap.String("from", string(order.Status)),
				zap.String("to", string(target)),
				zap.String("source", source))
		} else {
			// A concurrent delivery won the conditional write. Both paths
			// compute from the same upstream truth, so treat as no-op.
			rc.logger.Info("transition already applied concurrently",
				zap.String("order_id", order.ID),
				zap.String("to", string(target)))
			if err := rc.store.UpdateGatewayState(ctx, order.ID, gatewayStatus, txID); err != nil {
				return nil, err
			}
		}

	default:
		// Replayed or out-of-order delivery trying to move a settled order
		// backward. Rejected, logged, never applied.
		accepted = false
		util.TransitionsRejectedTotal.WithLabelValues(string(order.Status), string(target)).Inc()
		rc.logger.Warn("rejected status transition",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(target)),
			zap.String("source", source))
	}

	parsed, _ := json.Marshal(map[string]interface{}{
		"transaction_id": txID,
		"target_status":  target,
		"gateway_status": gatewayStatus,
		"source":         source,
		"applied":        outcome.Applied,
	})
	logEntry := &models.PaymentLog{
		OrderID:        order.ID,
		RawResponse:    raw,
		ParsedResponse: parsed,
		Success:        accepted,
	}
	if err := rc.store.AppendPaymentLog(ctx, logEntry); err != nil {
		return nil, err
	}

	if outcome.Applied {
		rc.afterTransition(ctx, order, target, txID, source, raw)
	}
	return outcome, nil
}

// afterTransition fires the side channels. The order state is already
// durable; failures here are logged and recorded, never propagated.
func (rc *Reconciler) afterTransition(ctx context.Context, order *models.Order, target models.OrderStatus, txID, source string, raw json.RawMessage) {
	eventType := models.EventTypeForStatus(target)

	if rc.publisher != nil && eventType != "" {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: eventType,
				Timestamp: time.Now(),
			},
			OrderID:        order.ID,
			Gateway:        order.Gateway,
			PreviousStatus: order.Status,
			NewStatus:      target,
			TransactionID:  txID,
			Source:         source,
		}
		if err := rc.publisher.PublishStatusChanged(ctx, event); err != nil {
			rc.logger.Error("failed to publish status change event",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if rc.notifier != nil {
		updated := *order
		updated.Status = target
		updated.GatewayTransactionID = txID
		payload := &NotificationPayload{
			Event:         eventType,
			Timestamp:     time.Now(),
			Order:         &updated,
			WebhookSource: source,
			RawData:       raw,
		}
		if err := rc.notifier.Notify(ctx, payload); err != nil {
			rc.logger.Error("downstream notification failed",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}
}

// GetOrder retrieves an order with its audit trail.
func (rc *Reconciler) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.PaymentLog, error) {
	order, err := rc.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	logs, err := rc.store.GetPaymentLogs(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, logs, nil
}
