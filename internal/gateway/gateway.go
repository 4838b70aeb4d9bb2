// Package gateway contains the payment gateway adapters. Each adapter
// absorbs one provider's wire format entirely: nothing above this layer sees
// gateway-specific field names or status vocabularies.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
)

// Credentials is the per-gateway configuration passed into every adapter
// call. It is supplied by admin configuration, never persisted or logged
// here.
type Credentials struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	Token         string
	WebhookSecret string
}

// CardData carries card details for a charge. Values come straight from the
// checkout and are forwarded, never stored.
type CardData struct {
	Number     string `json:"number"`
	Holder     string `json:"holder"`
	Expiration string `json:"expiration"` // MM/YYYY
	CVV        string `json:"cvv"`
}

// Customer identifies the payer.
type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"` // CPF/CNPJ
}

// ChargeStatus is the immediate outcome of a charge attempt.
type ChargeStatus string

const (
	ChargeApproved ChargeStatus = "approved"
	ChargePending  ChargeStatus = "pending"
	ChargeRejected ChargeStatus = "rejected"
)

// ChargeRequest is a card charge instruction. Amount is integer centavos;
// adapters convert to whatever unit their gateway expects.
type ChargeRequest struct {
	OrderID      string
	Amount       int64
	Installments int
	Card         CardData
	Customer     Customer
}

// ChargeResult is the normalized outcome of a card charge. An explicit
// decline is a ChargeRejected result, not an error.
type ChargeResult struct {
	Status        ChargeStatus
	TransactionID string
	Message       string
	RawResponse   json.RawMessage
}

// PixRequest asks a gateway to issue a PIX QR charge.
type PixRequest struct {
	OrderID  string
	Amount   int64
	Customer Customer
}

// PixCharge is an issued PIX charge: the text code and the rendered QR image
// (base64 PNG) shown at checkout.
type PixCharge struct {
	TransactionID string
	QRCodeText    string
	QRCodeImage   string
	RawResponse   json.RawMessage
}

// StatusResult is a polled transaction status. A "not found yet" condition
// is reported as pending, never as an error.
type StatusResult struct {
	Status        models.OrderStatus
	GatewayStatus string
	RawResponse   json.RawMessage
}

// ConnCheck is the outcome of a credential/reachability test.
type ConnCheck struct {
	OK      bool
	Message string
}

// Adapter is the uniform capability contract implemented once per gateway.
type Adapter interface {
	Name() string
	SupportedMethods() []models.PaymentMethod

	ProcessCardPayment(ctx context.Context, req ChargeRequest, creds Credentials) (*ChargeResult, error)
	GeneratePix(ctx context.Context, req PixRequest, creds Credentials) (*PixCharge, error)
	VerifyPaymentStatus(ctx context.Context, transactionID string, creds Credentials) (*StatusResult, error)

	// ParseWebhook decodes an inbound notification. It returns (nil, nil)
	// when the payload matches no recognized shape for this gateway; the
	// caller treats that as a no-op. A failed signature check is an error.
	ParseWebhook(body []byte, header http.Header, query url.Values, creds Credentials) (*models.WebhookEvent, error)

	// TestConnection is a lightweight credential check. Only a 401-class
	// reply counts as failure: any other HTTP status from a reachable
	// endpoint means the endpoint exists and the credential format is
	// accepted.
	TestConnection(ctx context.Context, creds Credentials) (*ConnCheck, error)
}

// Info is static registry metadata per gateway.
type Info struct {
	Methods          []models.PaymentMethod
	CredentialFields []string
}

// Registry maps gateway identifiers to adapters. Read-only after New.
type Registry struct {
	adapters map[string]Adapter
	infos    map[string]Info
}

// NewRegistry builds the registry with all known gateways sharing one tuned
// HTTP client.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = NewHTTPClient()
	}
	r := &Registry{
		adapters: make(map[string]Adapter),
		infos:    make(map[string]Info),
	}
	r.register(NewCielo(client), Info{
		Methods:          []models.PaymentMethod{models.MethodCreditCard, models.MethodPix, models.MethodBoleto},
		CredentialFields: []string{"base_url", "client_id", "client_secret"},
	})
	r.register(NewMercadoPago(client), Info{
		Methods:          []models.PaymentMethod{models.MethodCreditCard, models.MethodPix},
		CredentialFields: []string{"base_url", "token"},
	})
	r.register(NewStripe(client), Info{
		Methods:          []models.PaymentMethod{models.MethodCreditCard},
		CredentialFields: []string{"base_url", "token", "webhook_secret"},
	})
	r.register(NewLegacy(), Info{
		Methods:          nil, // webhook source only
		CredentialFields: []string{"webhook_secret"},
	})
	return r
}

func (r *Registry) register(a Adapter, info Info) {
	r.adapters[a.Name()] = a
	r.infos[a.Name()] = info
}

// Adapter returns the adapter for id.
func (r *Registry) Adapter(id string) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, apperr.Validation("unknown gateway %q", id)
	}
	return a, nil
}

// Info returns static metadata for id.
func (r *Registry) Info(id string) (Info, error) {
	info, ok := r.infos[id]
	if !ok {
		return Info{}, apperr.Validation("unknown gateway %q", id)
	}
	return info, nil
}

// IDs lists registered gateway identifiers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// Supports reports whether the gateway accepts the payment method.
func (r *Registry) Supports(id string, method models.PaymentMethod) bool {
	info, ok := r.infos[id]
	if !ok {
		return false
	}
	for _, m := range info.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// outboundRefLen is how many characters of the order id truncating gateways
// accept in their order-reference field.
const outboundRefLen = 16

// truncateOrderRef shortens a full order id for gateways whose reference
// field cannot hold 36 characters.
func truncateOrderRef(orderID string) string {
	if len(orderID) <= outboundRefLen {
		return orderID
	}
	return orderID[:outboundRefLen]
}

// formatDecimalAmount renders integer centavos as a "123.45" decimal string
// for gateways that take decimal reais.
func formatDecimalAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
