package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyOperationsUnsupported(t *testing.T) {
	l := NewLegacy()
	ctx := context.Background()

	_, err := l.ProcessCardPayment(ctx, ChargeRequest{}, Credentials{})
	assert.Error(t, err)
	_, err = l.GeneratePix(ctx, PixRequest{}, Credentials{})
	assert.Error(t, err)
	_, err = l.VerifyPaymentStatus(ctx, "abc", Credentials{})
	assert.Error(t, err)
}

func TestLegacyParseWebhookSigned(t *testing.T) {
	l := NewLegacy()
	secret := "wc-secret"
	body := []byte(`{"order_id":"` + testOrderID + `","status":"completed","transaction_id":"tx-901"}`)
	sig := base64.StdEncoding.EncodeToString(hmacSHA256(secret, body))
	header := http.Header{
		"Content-Type":           []string{"application/json"},
		"X-Wc-Webhook-Signature": []string{sig},
	}

	evt, err := l.ParseWebhook(body, header, url.Values{}, Credentials{WebhookSecret: secret})
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "legacy", evt.Gateway)
	assert.Equal(t, testOrderID, evt.OrderRef)
	assert.Equal(t, "pago", evt.StatusMessage) // "completed" translated
	assert.Equal(t, "tx-901", evt.TransactionID)

	_, err = l.ParseWebhook(append(body, '!'), header, url.Values{}, Credentials{WebhookSecret: secret})
	assert.Error(t, err)
}

func TestLegacyParseWebhookRetornoShape(t *testing.T) {
	l := NewLegacy()
	body := []byte(`{"retorno":[{"num_pedido":"a81bc81b-dead","status_pedido":"failed","transacao":"9001"}]}`)
	header := http.Header{"Content-Type": []string{"application/json"}}

	evt, err := l.ParseWebhook(body, header, url.Values{}, Credentials{})
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "a81bc81b-dead", evt.OrderRef)
	assert.Equal(t, "falha", evt.StatusMessage)
	assert.Equal(t, "9001", evt.TransactionID)
}

func TestLegacyParseWebhookRawKeyValue(t *testing.T) {
	l := NewLegacy()
	body := []byte("pedido=a81bc81b&status=refunded")

	evt, err := l.ParseWebhook(body, http.Header{}, url.Values{}, Credentials{})
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "a81bc81b", evt.OrderRef)
	assert.Equal(t, "estornado", evt.StatusMessage)
}

func TestLegacyParseWebhookUnrecognized(t *testing.T) {
	l := NewLegacy()
	evt, err := l.ParseWebhook([]byte(`{"ping":"pong"}`), http.Header{}, url.Values{}, Credentials{})
	require.NoError(t, err)
	assert.Nil(t, evt)
}

func TestLegacyTestConnection(t *testing.T) {
	l := NewLegacy()

	check, err := l.TestConnection(context.Background(), Credentials{})
	require.NoError(t, err)
	assert.False(t, check.OK)

	check, err = l.TestConnection(context.Background(), Credentials{WebhookSecret: "s"})
	require.NoError(t, err)
	assert.True(t, check.OK)
}
