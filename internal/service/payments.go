package service

import (
	"context"
	"encoding/json"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/gateway"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

// PaymentService initiates charges through the gateway adapters and records
// the gateway linkage the reconciliation flows later key on.
type PaymentService struct {
	store       Store
	registry    *gateway.Registry
	reconciler  *Reconciler
	creds       CredentialSource
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewPaymentService creates a new payment service. Approved charges go
// through the reconciler so the transition fires the same audit log, event
// and notification as a webhook-driven one.
func NewPaymentService(store Store, registry *gateway.Registry, reconciler *Reconciler, creds CredentialSource, callTimeout time.Duration) *PaymentService {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &PaymentService{
		store:       store,
		registry:    registry,
		reconciler:  reconciler,
		creds:       creds,
		callTimeout: callTimeout,
		logger:      util.GetLogger(),
	}
}

// CardPaymentRequest initiates a card charge for an existing order.
type CardPaymentRequest struct {
	OrderID      string           `json:"order_id" binding:"required,uuid"`
	Gateway      string           `json:"gateway" binding:"required"`
	Installments int              `json:"installments"`
	Card         gateway.CardData `json:"card" binding:"required"`
	Customer     gateway.Customer `json:"customer"`
}

// PixPaymentRequest issues a PIX charge for an existing order.
type PixPaymentRequest struct {
	OrderID  string           `json:"order_id" binding:"required,uuid"`
	Gateway  string           `json:"gateway" binding:"required"`
	Customer gateway.Customer `json:"customer"`
}

// ProcessCardPayment charges an order's total through the chosen gateway.
// An explicit decline comes back as a rejected result; the order stays
// pending so the shopper can retry with another card.
func (ps *PaymentService) ProcessCardPayment(ctx context.Context, req *CardPaymentRequest) (*gateway.ChargeResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessCardPayment")
	defer span.End()

	order, adapter, creds, err := ps.prepare(ctx, req.OrderID, req.Gateway, models.MethodCreditCard)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, ps.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := adapter.ProcessCardPayment(callCtx, gateway.ChargeRequest{
		OrderID:      order.ID,
		Amount:       order.Total,
		Installments: req.Installments,
		Card:         req.Card,
		Customer:     req.Customer,
	}, creds)
	util.GatewayCallDuration.WithLabelValues(req.Gateway, "charge").Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayCallErrorsTotal.WithLabelValues(req.Gateway, "charge").Inc()
		ps.logAttempt(ctx, order.ID, nil, map[string]interface{}{"error": err.Error()}, false)
		return nil, err
	}

	if err := ps.store.SetOrderPaymentGateway(ctx, order.ID, req.Gateway, models.MethodCreditCard, res.Message, res.TransactionID); err != nil {
		return nil, err
	}
	order.Gateway = req.Gateway
	order.PaymentMethod = models.MethodCreditCard

	if res.Status == gateway.ChargeApproved {
		// Same path as a webhook-driven transition: one audit row, the
		// kafka event and the downstream notification.
		if _, err := ps.reconciler.apply(ctx, order, models.StatusPaid, res.Message, res.TransactionID, models.SourceCharge, res.RawResponse); err != nil {
			return nil, err
		}
		ps.logger.Info("card charge approved",
			zap.String("order_id", order.ID),
			zap.String("gateway", req.Gateway),
			zap.String("transaction_id", res.TransactionID))
	} else {
		ps.logAttempt(ctx, order.ID, res.RawResponse, map[string]interface{}{
			"transaction_id": res.TransactionID,
			"charge_status":  res.Status,
			"message":        res.Message,
		}, false)
		ps.logger.Info("card charge not approved",
			zap.String("order_id", order.ID),
			zap.String("gateway", req.Gateway),
			zap.String("charge_status", string(res.Status)))
	}
	return res, nil
}

// GeneratePix issues a PIX QR charge. The order stays pending until the
// gateway confirms payment through a webhook or poll.
func (ps *PaymentService) GeneratePix(ctx context.Context, req *PixPaymentRequest) (*gateway.PixCharge, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GeneratePix")
	defer span.End()

	order, adapter, creds, err := ps.prepare(ctx, req.OrderID, req.Gateway, models.MethodPix)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, ps.callTimeout)
	defer cancel()

	start := time.Now()
	pix, err := adapter.GeneratePix(callCtx, gateway.PixRequest{
		OrderID:  order.ID,
		Amount:   order.Total,
		Customer: req.Customer,
	}, creds)
	util.GatewayCallDuration.WithLabelValues(req.Gateway, "pix").Observe(time.Since(start).Seconds())
	if err != nil {
		if !apperr.Is(err, apperr.CodeUnsupported) {
			util.GatewayCallErrorsTotal.WithLabelValues(req.Gateway, "pix").Inc()
			ps.logAttempt(ctx, order.ID, nil, map[string]interface{}{"error": err.Error()}, false)
		}
		return nil, err
	}

	if err := ps.store.SetOrderPaymentGateway(ctx, order.ID, req.Gateway, models.MethodPix, "pix issued", pix.TransactionID); err != nil {
		return nil, err
	}
	ps.logAttempt(ctx, order.ID, pix.RawResponse, map[string]interface{}{
		"transaction_id": pix.TransactionID,
		"charge_status":  "pix_issued",
	}, true)

	ps.logger.Info("pix charge issued",
		zap.String("order_id", order.ID),
		zap.String("gateway", req.Gateway),
		zap.String("transaction_id", pix.TransactionID))
	return pix, nil
}

// TestGateway runs the adapter's credential check.
func (ps *PaymentService) TestGateway(ctx context.Context, gatewayID string) (*gateway.ConnCheck, error) {
	adapter, err := ps.registry.Adapter(gatewayID)
	if err != nil {
		return nil, err
	}
	creds, err := ps.creds(gatewayID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, ps.callTimeout)
	defer cancel()
	return adapter.TestConnection(callCtx, creds)
}

func (ps *PaymentService) prepare(ctx context.Context, orderID, gatewayID string, method models.PaymentMethod) (*models.Order, gateway.Adapter, gateway.Credentials, error) {
	var zero gateway.Credentials

	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, zero, err
	}
	if order.Status != models.StatusPending {
		return nil, nil, zero, apperr.Validation("order %s is not payable in status %s", order.ID, order.Status)
	}
	if !ps.registry.Supports(gatewayID, method) {
		return nil, nil, zero, apperr.Unsupported(gatewayID, string(method))
	}
	adapter, err := ps.registry.Adapter(gatewayID)
	if err != nil {
		return nil, nil, zero, err
	}
	creds, err := ps.creds(gatewayID)
	if err != nil {
		return nil, nil, zero, err
	}
	return order, adapter, creds, nil
}

// logAttempt appends one audit row per charge attempt, best effort.
func (ps *PaymentService) logAttempt(ctx context.Context, orderID string, raw json.RawMessage, parsed map[string]interface{}, success bool) {
	parsedJSON, _ := json.Marshal(parsed)
	entry := &models.PaymentLog{
		OrderID:        orderID,
		RawResponse:    raw,
		ParsedResponse: parsedJSON,
		Success:        success,
	}
	if err := ps.store.AppendPaymentLog(ctx, entry); err != nil {
		ps.logger.Error("failed to append payment log",
			zap.String("order_id", orderID), zap.Error(err))
	}
}
