package service

import (
	"context"
	"testing"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	orderA = "a81bc81b-dead-4e5d-abff-90865d1e13b1"
	orderB = "a81bc81b-dead-4fff-abff-90865d1e13b2"
	orderC = "c3d5e7f9-0000-4a2b-8c6d-112233445566"
)

func TestResolveExactID(t *testing.T) {
	fs := newFakeStore(&models.Order{ID: orderA, Status: models.StatusPending})
	r := NewResolver(fs, nil)

	order, err := r.Resolve(context.Background(), &models.WebhookEvent{Gateway: "cielo", OrderRef: orderA})
	require.NoError(t, err)
	assert.Equal(t, orderA, order.ID)
}

func TestResolveUniquePrefix(t *testing.T) {
	fs := newFakeStore(
		&models.Order{ID: orderA, Status: models.StatusPending},
		&models.Order{ID: orderC, Status: models.StatusPending},
	)
	r := NewResolver(fs, nil)

	order, err := r.Resolve(context.Background(), &models.WebhookEvent{Gateway: "cielo", OrderRef: orderA[:16]})
	require.NoError(t, err)
	assert.Equal(t, orderA, order.ID)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	// orderA and orderB share a 13-char prefix: resolution must refuse to
	// guess between them
	fs := newFakeStore(
		&models.Order{ID: orderA, Status: models.StatusPending},
		&models.Order{ID: orderB, Status: models.StatusPending},
	)
	r := NewResolver(fs, nil)

	_, err := r.Resolve(context.Background(), &models.WebhookEvent{Gateway: "cielo", OrderRef: orderA[:13]})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeAmbiguousOrder))
}

func TestResolvePrefixNoMatch(t *testing.T) {
	fs := newFakeStore(&models.Order{ID: orderA, Status: models.StatusPending})
	r := NewResolver(fs, nil)

	_, err := r.Resolve(context.Background(), &models.WebhookEvent{Gateway: "cielo", OrderRef: "ffff0000"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOrderNotFound))
}

func TestResolveByGatewayTransaction(t *testing.T) {
	// no order reference at all, only a real gateway transaction id
	fs := newFakeStore(&models.Order{
		ID:                   orderA,
		Status:               models.StatusPending,
		Gateway:              "cielo",
		GatewayTransactionID: "10447480686JPMQHBA3B",
	})
	r := NewResolver(fs, nil)

	order, err := r.Resolve(context.Background(), &models.WebhookEvent{
		Gateway:       "cielo",
		TransactionID: "10447480686JPMQHBA3B",
	})
	require.NoError(t, err)
	assert.Equal(t, orderA, order.ID)
}

func TestResolveByShortWalletTransactionID(t *testing.T) {
	// wallet payment ids are short numerics, but the (gateway, transaction id)
	// pair is still unique, so a bare-id delivery must resolve
	fs := newFakeStore(&models.Order{
		ID:                   orderA,
		Status:               models.StatusPending,
		Gateway:              "mercadopago",
		GatewayTransactionID: "12345678901",
	})
	r := NewResolver(fs, nil)

	order, err := r.Resolve(context.Background(), &models.WebhookEvent{
		Gateway:       "mercadopago",
		TransactionID: "12345678901",
	})
	require.NoError(t, err)
	assert.Equal(t, orderA, order.ID)
}

func TestResolveNoReference(t *testing.T) {
	fs := newFakeStore()
	r := NewResolver(fs, nil)

	_, err := r.Resolve(context.Background(), &models.WebhookEvent{Gateway: "cielo"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestResolveCachesRealTransactionID(t *testing.T) {
	fs := newFakeStore(&models.Order{ID: orderA, Status: models.StatusPending})
	cache := newFakeCache()
	r := NewResolver(fs, cache)

	evt := &models.WebhookEvent{
		Gateway:       "cielo",
		TransactionID: "10447480686JPMQHBA3B",
		OrderRef:      orderA,
	}
	_, err := r.Resolve(context.Background(), evt)
	require.NoError(t, err)

	cached, err := cache.GetTransactionRef(context.Background(), "cielo", "10447480686JPMQHBA3B")
	require.NoError(t, err)
	assert.Equal(t, orderA, cached)

	// second delivery hits the cache
	order, err := r.Resolve(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, orderA, order.ID)
}

func TestResolveShortTransactionIDNotCached(t *testing.T) {
	fs := newFakeStore(&models.Order{ID: orderA, Status: models.StatusPending})
	cache := newFakeCache()
	r := NewResolver(fs, cache)

	_, err := r.Resolve(context.Background(), &models.WebhookEvent{
		Gateway:       "cielo",
		TransactionID: "12345",
		OrderRef:      orderA,
	})
	require.NoError(t, err)

	cached, _ := cache.GetTransactionRef(context.Background(), "cielo", "12345")
	assert.Empty(t, cached)
}
