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

// Cielo is the domestic acquirer adapter. Requests go out form-encoded,
// responses come back as JSON with a nested numeric status object, and
// authentication is Basic over the merchant id/key pair. The acquirer's
// order-reference field holds at most 16 characters, so outbound requests
// carry a truncated order id.
type Cielo struct {
	client *http.Client
}

func NewCielo(client *http.Client) *Cielo {
	return &Cielo{client: client}
}

func (c *Cielo) Name() string { return "cielo" }

func (c *Cielo) SupportedMethods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodCreditCard, models.MethodPix, models.MethodBoleto}
}

// cieloPayment is the nested payment object in acquirer responses.
type cieloPayment struct {
	TID    string `json:"tid"`
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	ReturnMessage string `json:"return_message"`
	QRCodeString  string `json:"qr_code_string"`
	QRCodeBase64  string `json:"qr_code_base64"`
}

type cieloResponse struct {
	Payment  *cieloPayment  `json:"payment"`
	Payments []cieloPayment `json:"payments"`
}

func (c *Cielo) ProcessCardPayment(ctx context.Context, req ChargeRequest, creds Credentials) (*ChargeResult, error) {
	form := url.Values{}
	form.Set("merchant_order_id", truncateOrderRef(req.OrderID))
	form.Set("amount", formatDecimalAmount(req.Amount))
	form.Set("installments", strconv.Itoa(max(req.Installments, 1)))
	form.Set("payment_type", "CreditCard")
	form.Set("card_number", req.Card.Number)
	form.Set("card_holder", req.Card.Holder)
	form.Set("card_expiration", req.Card.Expiration)
	form.Set("card_cvv", req.Card.CVV)
	form.Set("customer_name", req.Customer.Name)
	form.Set("customer_document", req.Customer.Document)

	code, body, err := c.do(ctx, creds, http.MethodPost, "/1/sales", form)
	if err != nil {
		return nil, apperr.Gateway(c.Name(), err)
	}
	resp, perr := parseCieloResponse(body)
	if perr != nil || resp == nil {
		if code >= 200 && code < 300 {
			return nil, apperr.Gateway(c.Name(), perr)
		}
		return nil, apperr.New(apperr.CodeGateway, "acquirer rejected the request", nil)
	}

	result := &ChargeResult{
		TransactionID: resp.TID,
		Message:       firstNonEmpty(resp.Status.Message, resp.ReturnMessage),
		RawResponse:   json.RawMessage(body),
	}
	switch status.Normalize(c.Name(), resp.Status.Code, resp.Status.Message) {
	case models.StatusPaid:
		result.Status = ChargeApproved
	case models.StatusCanceled:
		result.Status = ChargeRejected
	default:
		result.Status = ChargePending
	}
	return result, nil
}

func (c *Cielo) GeneratePix(ctx context.Context, req PixRequest, creds Credentials) (*PixCharge, error) {
	form := url.Values{}
	form.Set("merchant_order_id", truncateOrderRef(req.OrderID))
	form.Set("amount", formatDecimalAmount(req.Amount))
	form.Set("payment_type", "Pix")
	form.Set("customer_name", req.Customer.Name)
	form.Set("customer_document", req.Customer.Document)

	_, body, err := c.do(ctx, creds, http.MethodPost, "/1/sales", form)
	if err != nil {
		return nil, apperr.Gateway(c.Name(), err)
	}
	resp, perr := parseCieloResponse(body)
	if perr != nil || resp == nil || resp.QRCodeString == "" {
		return nil, apperr.New(apperr.CodeGateway, "acquirer did not return a pix code", perr)
	}
	return &PixCharge{
		TransactionID: resp.TID,
		QRCodeText:    resp.QRCodeString,
		QRCodeImage:   resp.QRCodeBase64,
		RawResponse:   json.RawMessage(body),
	}, nil
}

func (c *Cielo) VerifyPaymentStatus(ctx context.Context, transactionID string, creds Credentials) (*StatusResult, error) {
	// Order ids are UUIDs and always carry dashes; acquirer tids never do.
	// When given an order reference, query by the truncated merchant order
	// id the acquirer was originally sent.
	path := "/1/sales/" + url.PathEscape(transactionID)
	if strings.Contains(transactionID, "-") {
		path = "/1/sales?merchant_order_id=" + url.QueryEscape(truncateOrderRef(transactionID))
	}

	code, body, err := c.do(ctx, creds, http.MethodGet, path, nil)
	if err != nil {
		return nil, apperr.Gateway(c.Name(), err)
	}
	if code == http.StatusNotFound {
		return &StatusResult{Status: models.StatusPending, RawResponse: json.RawMessage(body)}, nil
	}
	resp, perr := parseCieloResponse(body)
	if perr != nil || resp == nil {
		return &StatusResult{Status: models.StatusPending, RawResponse: json.RawMessage(body)}, nil
	}
	return &StatusResult{
		Status:        status.Normalize(c.Name(), resp.Status.Code, resp.Status.Message),
		GatewayStatus: firstNonEmpty(resp.Status.Message, resp.Status.Code),
		RawResponse:   json.RawMessage(body),
	}, nil
}

// ParseWebhook handles the acquirer's notification shape: the payment under
// an "attributes" wrapper with a nested status object, with the order id
// sometimes only present as the "id" query parameter.
func (c *Cielo) ParseWebhook(body []byte, header http.Header, query url.Values, creds Credentials) (*models.WebhookEvent, error) {
	payload := decodePayload(body, header.Get("Content-Type"))
	if payload == nil && query.Get("id") == "" {
		return nil, nil
	}

	orderRef := firstNonEmpty(
		digString(payload, "attributes", "order_id"),
		digString(payload, "order_id"),
		query.Get("id"),
	)
	statusCode := firstNonEmpty(
		digString(payload, "attributes", "status", "code"),
		digString(payload, "status", "code"),
	)
	statusMessage := firstNonEmpty(
		digString(payload, "attributes", "status", "message"),
		digString(payload, "status", "message"),
	)
	tid := firstNonEmpty(
		digString(payload, "attributes", "tid"),
		digString(payload, "tid"),
	)
	if orderRef == "" && tid == "" {
		return nil, nil
	}

	return &models.WebhookEvent{
		Gateway:       c.Name(),
		TransactionID: tid,
		OrderRef:      orderRef,
		StatusCode:    statusCode,
		StatusMessage: statusMessage,
		Raw:           json.RawMessage(rawOrNull(body)),
	}, nil
}

func (c *Cielo) TestConnection(ctx context.Context, creds Credentials) (*ConnCheck, error) {
	code, _, err := c.do(ctx, creds, http.MethodGet, "/1/sales/0", nil)
	if err != nil {
		return nil, apperr.Gateway(c.Name(), err)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return &ConnCheck{OK: false, Message: "acquirer rejected the merchant credentials"}, nil
	}
	return &ConnCheck{OK: true, Message: "acquirer reachable"}, nil
}

func (c *Cielo) do(ctx context.Context, creds Credentials, method, path string, form url.Values) (int, []byte, error) {
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
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func parseCieloResponse(body []byte) (*cieloPayment, error) {
	var resp cieloResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Payment != nil {
		return resp.Payment, nil
	}
	if len(resp.Payments) > 0 {
		return &resp.Payments[0], nil
	}
	return nil, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rawOrNull keeps payment_logs JSON columns valid when the raw body is not
// itself JSON (form-encoded webhooks).
func rawOrNull(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return []byte("null")
	}
	return quoted
}
