package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"payment-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMercadoPagoProcessCardPayment(t *testing.T) {
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer APP_USR-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"id":12345678901,"status":"approved","external_reference":"` + testOrderID + `"}`))
	}))
	defer srv.Close()

	m := NewMercadoPago(srv.Client())
	result, err := m.ProcessCardPayment(context.Background(), ChargeRequest{
		OrderID: testOrderID,
		Amount:  129990,
	}, Credentials{BaseURL: srv.URL, Token: "APP_USR-token"})
	require.NoError(t, err)

	assert.Equal(t, ChargeApproved, result.Status)
	assert.Equal(t, "12345678901", result.TransactionID)
	// centavos go out as decimal reais, full order id as external_reference
	assert.Equal(t, 1299.90, gotPayload["transaction_amount"])
	assert.Equal(t, testOrderID, gotPayload["external_reference"])
}

func TestMercadoPagoRejectedVocabulary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"status":"rejected","status_detail":"cc_rejected_insufficient_amount"}`))
	}))
	defer srv.Close()

	m := NewMercadoPago(srv.Client())
	result, err := m.ProcessCardPayment(context.Background(), ChargeRequest{OrderID: testOrderID, Amount: 1000}, Credentials{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, ChargeRejected, result.Status)
}

func TestMercadoPagoGeneratePix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":987,"status":"pending","point_of_interaction":{"transaction_data":{"qr_code":"00020126580014br.gov.bcb.pix","qr_code_base64":"aW1n"}}}`))
	}))
	defer srv.Close()

	m := NewMercadoPago(srv.Client())
	pix, err := m.GeneratePix(context.Background(), PixRequest{OrderID: testOrderID, Amount: 5000}, Credentials{BaseURL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, "987", pix.TransactionID)
	assert.Equal(t, "00020126580014br.gov.bcb.pix", pix.QRCodeText)
	assert.Equal(t, "aW1n", pix.QRCodeImage)
}

func TestMercadoPagoVerifyRoutesByIdentifierShape(t *testing.T) {
	var gotPath, gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRef = r.URL.Query().Get("external_reference")
		if r.URL.Path == "/v1/payments/search" {
			w.Write([]byte(`{"results":[{"id":1,"status":"cancelled"}]}`))
			return
		}
		w.Write([]byte(`{"id":1,"status":"approved"}`))
	}))
	defer srv.Close()

	m := NewMercadoPago(srv.Client())
	creds := Credentials{BaseURL: srv.URL}

	res, err := m.VerifyPaymentStatus(context.Background(), "12345678901", creds)
	require.NoError(t, err)
	assert.Equal(t, "/v1/payments/12345678901", gotPath)
	assert.Equal(t, models.StatusPaid, res.Status)

	res, err = m.VerifyPaymentStatus(context.Background(), testOrderID, creds)
	require.NoError(t, err)
	assert.Equal(t, "/v1/payments/search", gotPath)
	assert.Equal(t, testOrderID, gotRef) // full 36-char id, no truncation
	assert.Equal(t, models.StatusCanceled, res.Status)
}

func TestMercadoPagoParseWebhook(t *testing.T) {
	m := NewMercadoPago(nil)
	body := []byte(`{"type":"payment.updated","data":{"id":"12345678901","status":"approved","external_reference":"` + testOrderID + `"}}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	evt, err := m.ParseWebhook(body, header, url.Values{}, Credentials{})
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "mercadopago", evt.Gateway)
	assert.Equal(t, "12345678901", evt.TransactionID)
	assert.Equal(t, testOrderID, evt.OrderRef)
	assert.Equal(t, "approved", evt.StatusMessage)
}

func TestMercadoPagoParseWebhookQueryOnly(t *testing.T) {
	// old-style IPN: only query parameters, no status — the engine polls to
	// fill it in later
	m := NewMercadoPago(nil)
	query := url.Values{"topic": []string{"payment"}, "id": []string{"12345678901"}}

	evt, err := m.ParseWebhook(nil, http.Header{}, query, Credentials{})
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "12345678901", evt.TransactionID)
	assert.Empty(t, evt.StatusMessage)
}

func TestMercadoPagoParseWebhookNonPaymentTopic(t *testing.T) {
	m := NewMercadoPago(nil)
	query := url.Values{"topic": []string{"merchant_order"}, "id": []string{"555"}}

	evt, err := m.ParseWebhook(nil, http.Header{}, query, Credentials{})
	require.NoError(t, err)
	assert.Nil(t, evt)
}
