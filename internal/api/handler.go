package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/service"
	"payment-reconciler/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	reconciler *service.Reconciler
	payments   *service.PaymentService
}

// NewHandler creates a new HTTP handler
func NewHandler(reconciler *service.Reconciler, payments *service.PaymentService) *Handler {
	return &Handler{
		reconciler: reconciler,
		payments:   payments,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(corsMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// one endpoint per gateway; dashboards and gateways hit these directly
	router.POST("/webhooks/:gateway", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/payments/card", h.processCardPayment)
		v1.POST("/payments/pix", h.generatePix)
		v1.POST("/sync", h.syncOrders)
		v1.POST("/gateways/:gateway/test", h.testGateway)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// handleWebhook receives one gateway notification. The body content type
// varies by gateway (JSON, form-encoded, raw text); the adapter sorts it
// out, this handler only moves bytes.
func (h *Handler) handleWebhook(c *gin.Context) {
	gatewayID := c.Param("gateway")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.Validation("unreadable request body"))
		return
	}

	outcome, err := h.reconciler.HandleWebhook(
		c.Request.Context(), gatewayID, body, c.Request.Header, c.Request.URL.Query())
	if err != nil {
		writeError(c, err)
		return
	}

	if outcome.Ignored {
		// acknowledged but not actionable; a 2xx stops redelivery storms
		c.JSON(http.StatusOK, gin.H{"success": false, "ignored": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"order_id": outcome.OrderID,
		"status":   outcome.Status,
	})
}

// getOrder returns an order with its payment audit trail
func (h *Handler) getOrder(c *gin.Context) {
	order, logs, err := h.reconciler.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order":        order,
		"payment_logs": logs,
	})
}

// processCardPayment initiates a card charge
func (h *Handler) processCardPayment(c *gin.Context) {
	var req service.CardPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	res, err := h.payments.ProcessCardPayment(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         res.Status,
		"transaction_id": res.TransactionID,
		"message":        res.Message,
	})
}

// generatePix issues a PIX QR charge
func (h *Handler) generatePix(c *gin.Context) {
	var req service.PixPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	pix, err := h.payments.GeneratePix(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": pix.TransactionID,
		"qr_code_text":   pix.QRCodeText,
		"qr_code_image":  pix.QRCodeImage,
	})
}

type syncRequest struct {
	OrderID     string `json:"order_id"`
	MaxAgeHours int    `json:"max_age_hours"`
	Limit       int    `json:"limit"`
}

// syncOrders triggers a manual resync: one order when order_id is given,
// otherwise a bounded batch of recent pending orders.
func (h *Handler) syncOrders(c *gin.Context) {
	// empty body means batch sync with defaults
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	if req.OrderID != "" {
		outcome, err := h.reconciler.SyncOrder(c.Request.Context(), req.OrderID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
		return
	}

	result, err := h.reconciler.SyncPendingOrders(
		c.Request.Context(), time.Duration(req.MaxAgeHours)*time.Hour, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// testGateway verifies gateway credentials and reachability
func (h *Handler) testGateway(c *gin.Context) {
	check, err := h.payments.TestGateway(c.Request.Context(), c.Param("gateway"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      check.OK,
		"message": check.Message,
	})
}

// writeError maps the error taxonomy onto HTTP responses with a
// machine-readable body.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := apperr.As(err); ok {
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code.Code,
				"message": appErr.Message,
			},
		})
		return
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    "INTERNAL",
			"message": "internal server error",
		},
	})
}

// corsMiddleware answers gateway and dashboard preflights. Gateways send
// OPTIONS before POSTing webhooks from browser-side checkouts; they expect
// a 200.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature, X-WC-Webhook-Signature")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
