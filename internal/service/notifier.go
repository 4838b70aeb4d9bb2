package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

// NotifierConfig configures downstream webhook forwarding.
type NotifierConfig struct {
	URL         string // empty disables forwarding
	MaxAttempts int
	Timeout     time.Duration // per attempt
	RetryDelay  time.Duration // linear backoff unit: attempt * delay
}

// NotificationRecorder persists the last delivery outcome on the endpoint
// configuration record.
type NotificationRecorder interface {
	RecordNotificationResult(ctx context.Context, url string, httpStatus int, lastErr string) error
}

// NotificationPayload is the JSON body forwarded to the automation endpoint
// after a status transition.
type NotificationPayload struct {
	Event         string          `json:"event"`
	Timestamp     time.Time       `json:"timestamp"`
	Order         *models.Order   `json:"order"`
	WebhookSource string          `json:"webhook_source"`
	RawData       json.RawMessage `json:"raw_data,omitempty"`
}

// Notifier forwards status changes to a configured automation endpoint with
// bounded retries. By the time it runs the order state is already durable,
// so exhausting retries is reported and recorded, never escalated.
type Notifier struct {
	client   *http.Client
	cfg      NotifierConfig
	recorder NotificationRecorder
	logger   *zap.Logger
}

// NewNotifier creates a notifier. recorder may be nil.
func NewNotifier(client *http.Client, cfg NotifierConfig, recorder NotificationRecorder) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Notifier{
		client:   client,
		cfg:      cfg,
		recorder: recorder,
		logger:   util.GetLogger(),
	}
}

// Notify delivers the payload, retrying with linear backoff. Returns nil
// when forwarding is disabled or any attempt gets a 2xx.
func (n *Notifier) Notify(ctx context.Context, payload *NotificationPayload) error {
	if n.cfg.URL == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.NotificationDelivery(0, err)
	}

	var lastStatus int
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				return n.giveUp(ctx, lastStatus, lastErr)
			case <-time.After(time.Duration(attempt-1) * n.cfg.RetryDelay):
			}
		}

		util.NotificationAttemptsTotal.Inc()
		status, err := n.post(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}
		lastStatus = status
		if status >= 200 && status < 300 {
			n.record(ctx, status, "")
			return nil
		}
		lastErr = fmt.Errorf("endpoint returned status %d", status)
	}
	return n.giveUp(ctx, lastStatus, lastErr)
}

func (n *Notifier) post(ctx context.Context, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (n *Notifier) giveUp(ctx context.Context, lastStatus int, lastErr error) error {
	util.NotificationFailuresTotal.Inc()
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	n.record(ctx, lastStatus, errMsg)
	return apperr.NotificationDelivery(n.cfg.MaxAttempts, lastErr)
}

func (n *Notifier) record(ctx context.Context, status int, errMsg string) {
	if n.recorder == nil {
		return
	}
	if err := n.recorder.RecordNotificationResult(ctx, n.cfg.URL, status, errMsg); err != nil {
		n.logger.Error("failed to record notification result", zap.Error(err))
	}
}
