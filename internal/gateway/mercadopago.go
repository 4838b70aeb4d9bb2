package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/status"
)

// MercadoPago is the wallet/PIX processor adapter: plain JSON REST with a
// Bearer token. The wallet keeps the full 36-char order id in
// external_reference, so its webhooks resolve by exact match. Its status
// vocabulary ("rejected", "cancelled") is translated here so nothing above
// the adapter needs to know it.
type MercadoPago struct {
	client *http.Client
}

func NewMercadoPago(client *http.Client) *MercadoPago {
	return &MercadoPago{client: client}
}

func (m *MercadoPago) Name() string { return "mercadopago" }

func (m *MercadoPago) SupportedMethods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodCreditCard, models.MethodPix}
}

// mpStatusVocabulary maps the wallet's spellings onto the shared keyword
// vocabulary the normalizer understands.
var mpStatusVocabulary = map[string]string{
	"rejected":     "refused",
	"cancelled":    "canceled",
	"charged_back": "refunded",
}

func mpTranslate(s string) string {
	if t, ok := mpStatusVocabulary[strings.ToLower(s)]; ok {
		return t
	}
	return s
}

type mpPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (m *MercadoPago) ProcessCardPayment(ctx context.Context, req ChargeRequest, creds Credentials) (*ChargeResult, error) {
	payload := map[string]interface{}{
		"transaction_amount": float64(req.Amount) / 100,
		"installments":       max(req.Installments, 1),
		"external_reference": req.OrderID,
		"payment_method_id":  "credit_card",
		"token":              req.Card.Number, // tokenized upstream by the checkout
		"payer": map[string]string{
			"email": req.Customer.Email,
		},
	}

	code, body, err := m.do(ctx, creds, http.MethodPost, "/v1/payments", payload)
	if err != nil {
		return nil, apperr.Gateway(m.Name(), err)
	}
	var pay mpPayment
	if uerr := json.Unmarshal(body, &pay); uerr != nil || pay.Status == "" {
		if code >= 200 && code < 300 {
			return nil, apperr.Gateway(m.Name(), uerr)
		}
		return nil, apperr.New(apperr.CodeGateway, "wallet rejected the request", nil)
	}

	result := &ChargeResult{
		TransactionID: pay.ID.String(),
		Message:       firstNonEmpty(pay.StatusDetail, pay.Status),
		RawResponse:   json.RawMessage(body),
	}
	switch status.Normalize(m.Name(), "", mpTranslate(pay.Status)) {
	case models.StatusPaid:
		result.Status = ChargeApproved
	case models.StatusCanceled:
		result.Status = ChargeRejected
	default:
		result.Status = ChargePending
	}
	return result, nil
}

func (m *MercadoPago) GeneratePix(ctx context.Context, req PixRequest, creds Credentials) (*PixCharge, error) {
	payload := map[string]interface{}{
		"transaction_amount": float64(req.Amount) / 100,
		"external_reference": req.OrderID,
		"payment_method_id":  "pix",
		"payer": map[string]string{
			"email": req.Customer.Email,
		},
	}

	_, body, err := m.do(ctx, creds, http.MethodPost, "/v1/payments", payload)
	if err != nil {
		return nil, apperr.Gateway(m.Name(), err)
	}
	var pay mpPayment
	if uerr := json.Unmarshal(body, &pay); uerr != nil {
		return nil, apperr.Gateway(m.Name(), uerr)
	}
	qr := pay.PointOfInteraction.TransactionData
	if qr.QRCode == "" {
		return nil, apperr.New(apperr.CodeGateway, "wallet did not return a pix code", nil)
	}
	return &PixCharge{
		TransactionID: pay.ID.String(),
		QRCodeText:    qr.QRCode,
		QRCodeImage:   qr.QRCodeBase64,
		RawResponse:   json.RawMessage(body),
	}, nil
}

func (m *MercadoPago) VerifyPaymentStatus(ctx context.Context, transactionID string, creds Credentials) (*StatusResult, error) {
	// Wallet payment ids are numeric; anything else is an order reference
	// and goes through the external_reference search, which holds the full
	// 36-char id.
	var code int
	var body []byte
	var err error
	if isNumeric(transactionID) {
		code, body, err = m.do(ctx, creds, http.MethodGet, "/v1/payments/"+url.PathEscape(transactionID), nil)
	} else {
		code, body, err = m.do(ctx, creds, http.MethodGet, "/v1/payments/search?external_reference="+url.QueryEscape(transactionID), nil)
	}
	if err != nil {
		return nil, apperr.Gateway(m.Name(), err)
	}
	if code == http.StatusNotFound {
		return &StatusResult{Status: models.StatusPending, RawResponse: json.RawMessage(body)}, nil
	}

	pay := parseMPPayment(body)
	if pay == nil || pay.Status == "" {
		return &StatusResult{Status: models.StatusPending, RawResponse: json.RawMessage(body)}, nil
	}
	translated := mpTranslate(pay.Status)
	return &StatusResult{
		Status:        status.Normalize(m.Name(), "", translated),
		GatewayStatus: translated,
		RawResponse:   json.RawMessage(body),
	}, nil
}

// ParseWebhook handles the wallet's "action" envelope. Older integrations
// deliver only the payment id as query parameters; those events come back
// with an empty status and the engine fills it in by polling.
func (m *MercadoPago) ParseWebhook(body []byte, header http.Header, query url.Values, creds Credentials) (*models.WebhookEvent, error) {
	payload := decodePayload(body, header.Get("Content-Type"))

	txID := firstNonEmpty(
		digString(payload, "data", "id"),
		query.Get("data.id"),
		query.Get("id"),
	)
	if txID == "" {
		return nil, nil
	}
	topic := firstNonEmpty(digString(payload, "type"), digString(payload, "action"), query.Get("topic"))
	if topic != "" && !strings.Contains(topic, "payment") {
		return nil, nil
	}

	return &models.WebhookEvent{
		Gateway:       m.Name(),
		TransactionID: txID,
		OrderRef:      digString(payload, "data", "external_reference"),
		StatusMessage: mpTranslate(digString(payload, "data", "status")),
		Raw:           json.RawMessage(rawOrNull(body)),
	}, nil
}

func (m *MercadoPago) TestConnection(ctx context.Context, creds Credentials) (*ConnCheck, error) {
	code, _, err := m.do(ctx, creds, http.MethodGet, "/v1/payment_methods", nil)
	if err != nil {
		return nil, apperr.Gateway(m.Name(), err)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return &ConnCheck{OK: false, Message: "wallet rejected the access token"}, nil
	}
	return &ConnCheck{OK: true, Message: "wallet reachable"}, nil
}

func (m *MercadoPago) do(ctx context.Context, creds Credentials, method, path string, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(creds.BaseURL, "/")+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

// parseMPPayment handles both a bare payment object and the search envelope
// {"results": [...]}.
func parseMPPayment(body []byte) *mpPayment {
	var pay mpPayment
	if err := json.Unmarshal(body, &pay); err == nil && pay.Status != "" {
		return &pay
	}
	var search struct {
		Results []mpPayment `json:"results"`
	}
	if err := json.Unmarshal(body, &search); err == nil && len(search.Results) > 0 {
		return &search.Results[0]
	}
	return nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
