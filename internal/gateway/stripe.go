package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/status"
)

// Stripe is the international card processor adapter. It speaks the
// payment-intent object model: form-encoded requests, JSON responses, Bearer
// secret key, and signed event-envelope webhooks. It has no PIX support.
type Stripe struct {
	client *http.Client
}

func NewStripe(client *http.Client) *Stripe {
	return &Stripe{client: client}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) SupportedMethods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodCreditCard}
}

type stripeIntent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Metadata struct {
		OrderID string `json:"order_id"`
	} `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (s *Stripe) ProcessCardPayment(ctx context.Context, req ChargeRequest, creds Credentials) (*ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", "brl")
	form.Set("confirm", "true")
	form.Set("payment_method", req.Card.Number) // pm_ token issued at checkout
	form.Set("metadata[order_id]", req.OrderID)
	form.Set("receipt_email", req.Customer.Email)

	code, body, err := s.do(ctx, creds, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, apperr.Gateway(s.Name(), err)
	}
	var intent stripeIntent
	if uerr := json.Unmarshal(body, &intent); uerr != nil || intent.ID == "" {
		if code >= 200 && code < 300 {
			return nil, apperr.Gateway(s.Name(), uerr)
		}
		return nil, apperr.New(apperr.CodeGateway, "card processor rejected the request", nil)
	}

	result := &ChargeResult{
		TransactionID: intent.ID,
		Message:       intent.Status,
		RawResponse:   json.RawMessage(body),
	}
	if intent.LastPaymentError != nil {
		result.Message = intent.LastPaymentError.Message
	}
	switch intent.Status {
	case "succeeded":
		result.Status = ChargeApproved
	case "canceled", "requires_payment_method":
		result.Status = ChargeRejected
	default:
		result.Status = ChargePending
	}
	return result, nil
}

// GeneratePix always fails: the international processor has no PIX rail.
// No upstream call is made.
func (s *Stripe) GeneratePix(ctx context.Context, req PixRequest, creds Credentials) (*PixCharge, error) {
	return nil, apperr.Unsupported(s.Name(), "pix")
}

func (s *Stripe) VerifyPaymentStatus(ctx context.Context, transactionID string, creds Credentials) (*StatusResult, error) {
	var code int
	var body []byte
	var err error
	if strings.HasPrefix(transactionID, "pi_") {
		code, body, err = s.do(ctx, creds, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(transactionID), nil)
	} else {
		q := url.QueryEscape("metadata['order_id']:'" + transactionID + "'")
		code, body, err = s.do(ctx, creds, http.MethodGet, "/v1/payment_intents/search?query="+q, nil)
	}
	if err != nil {
		return nil, apperr.Gateway(s.Name(), err)
	}
	if code == http.StatusNotFound {
		return &StatusResult{Status: models.StatusPending, RawResponse: json.RawMessage(body)}, nil
	}

	intent := parseStripeIntent(body)
	if intent == nil || intent.Status == "" {
		return &StatusResult{Status: models.StatusPending, RawResponse: json.RawMessage(body)}, nil
	}
	return &StatusResult{
		Status:        status.Normalize(s.Name(), "", intent.Status),
		GatewayStatus: intent.Status,
		RawResponse:   json.RawMessage(body),
	}, nil
}

// ParseWebhook decodes a signed event envelope. When a webhook secret is
// configured the hex HMAC-SHA256 signature is mandatory; a mismatch is an
// error, not a no-op, so redeliveries keep failing loudly.
func (s *Stripe) ParseWebhook(body []byte, header http.Header, query url.Values, creds Credentials) (*models.WebhookEvent, error) {
	if creds.WebhookSecret != "" {
		sig := header.Get("Stripe-Signature")
		if sig == "" || !checkHexSignature(creds.WebhookSecret, body, sig) {
			return nil, apperr.Validation("invalid webhook signature")
		}
	}

	var envelope struct {
		Type string `json:"type"`
		Data struct {
			Object stripeIntent `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Type == "" {
		return nil, nil
	}
	obj := envelope.Data.Object
	if obj.ID == "" {
		return nil, nil
	}

	statusMessage := obj.Status
	if strings.HasSuffix(envelope.Type, ".refunded") {
		statusMessage = "refunded"
	}

	return &models.WebhookEvent{
		Gateway:       s.Name(),
		TransactionID: obj.ID,
		OrderRef:      obj.Metadata.OrderID,
		StatusMessage: statusMessage,
		Raw:           json.RawMessage(rawOrNull(body)),
	}, nil
}

func (s *Stripe) TestConnection(ctx context.Context, creds Credentials) (*ConnCheck, error) {
	code, _, err := s.do(ctx, creds, http.MethodGet, "/v1/balance", nil)
	if err != nil {
		return nil, apperr.Gateway(s.Name(), err)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return &ConnCheck{OK: false, Message: "card processor rejected the secret key"}, nil
	}
	return &ConnCheck{OK: true, Message: "card processor reachable"}, nil
}

func (s *Stripe) do(ctx context.Context, creds Credentials, method, path string, form url.Values) (int, []byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(creds.BaseURL, "/")+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// parseStripeIntent handles a bare intent and the search envelope
// {"data": [...]}.
func parseStripeIntent(body []byte) *stripeIntent {
	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err == nil && intent.ID != "" {
		return &intent
	}
	var search struct {
		Data []stripeIntent `json:"data"`
	}
	if err := json.Unmarshal(body, &search); err == nil && len(search.Data) > 0 {
		return &search.Data[0]
	}
	return nil
}
