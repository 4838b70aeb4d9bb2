package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
)

// Legacy is the old WooCommerce installation, kept only as a webhook source:
// it never initiates or polls payments. Its notifications arrive in several
// vintages — a flat JSON order object, a "retorno" array, or raw key=value
// text — and are signed with a base64 HMAC-SHA256 over the raw body.
type Legacy struct{}

func NewLegacy() *Legacy { return &Legacy{} }

func (l *Legacy) Name() string { return "legacy" }

func (l *Legacy) SupportedMethods() []models.PaymentMethod { return nil }

func (l *Legacy) ProcessCardPayment(ctx context.Context, req ChargeRequest, creds Credentials) (*ChargeResult, error) {
	return nil, apperr.Unsupported(l.Name(), "card payment")
}

func (l *Legacy) GeneratePix(ctx context.Context, req PixRequest, creds Credentials) (*PixCharge, error) {
	return nil, apperr.Unsupported(l.Name(), "pix")
}

func (l *Legacy) VerifyPaymentStatus(ctx context.Context, transactionID string, creds Credentials) (*StatusResult, error) {
	return nil, apperr.Unsupported(l.Name(), "status polling")
}

// ParseWebhook accepts the legacy store's notification shapes. The order
// reference is looked up in priority order: explicit order_id, the "pedido"
// field, then retorno[0].num_pedido.
func (l *Legacy) ParseWebhook(body []byte, header http.Header, query url.Values, creds Credentials) (*models.WebhookEvent, error) {
	if creds.WebhookSecret != "" {
		sig := header.Get("X-WC-Webhook-Signature")
		if sig == "" || !checkBase64Signature(creds.WebhookSecret, body, sig) {
			return nil, apperr.Validation("invalid webhook signature")
		}
	}

	payload := decodePayload(body, header.Get("Content-Type"))
	if payload == nil {
		return nil, nil
	}

	orderRef := firstNonEmpty(
		digString(payload, "order_id"),
		digString(payload, "pedido"),
		digString(payload, "retorno", "num_pedido"),
		query.Get("id"),
	)
	if orderRef == "" {
		return nil, nil
	}

	statusMessage := firstNonEmpty(
		digString(payload, "status"),
		digString(payload, "status_pedido"),
		digString(payload, "retorno", "status_pedido"),
	)
	tid := firstNonEmpty(
		digString(payload, "transaction_id"),
		digString(payload, "retorno", "transacao"),
	)

	return &models.WebhookEvent{
		Gateway:       l.Name(),
		TransactionID: tid,
		OrderRef:      orderRef,
		StatusMessage: legacyTranslate(statusMessage),
		Raw:           json.RawMessage(rawOrNull(body)),
	}, nil
}

// TestConnection: there is nothing to call on the legacy side, but a
// configured signing secret is required for its webhooks to be accepted.
func (l *Legacy) TestConnection(ctx context.Context, creds Credentials) (*ConnCheck, error) {
	if creds.WebhookSecret == "" {
		return &ConnCheck{OK: false, Message: "legacy webhook secret not configured"}, nil
	}
	return &ConnCheck{OK: true, Message: "legacy webhook secret configured"}, nil
}

// legacyTranslate maps WooCommerce order statuses onto the shared keyword
// vocabulary.
var legacyStatusVocabulary = map[string]string{
	"completed":  "pago",
	"processing": "pago",
	"cancelled":  "cancelado",
	"failed":     "falha",
	"refunded":   "estornado",
	"on-hold":    "pending",
}

func legacyTranslate(s string) string {
	if t, ok := legacyStatusVocabulary[s]; ok {
		return t
	}
	return s
}
