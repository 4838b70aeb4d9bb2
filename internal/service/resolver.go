package service

import (
	"context"
	"time"

	"payment-reconciler/internal/apperr"
	"payment-reconciler/internal/models"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

// canonical order ids are 36-char UUIDs; anything shorter is a gateway
// truncation and resolves by prefix.
const canonicalIDLen = 36

// txRefTTL bounds how long a cached transaction-id mapping lives.
const txRefTTL = 30 * 24 * time.Hour

// Resolver finds the unique order a webhook refers to. Gateways send either
// the full id, a 16-char truncation, or only their own transaction id, so
// resolution tries increasingly expensive paths: the Redis transaction
// cache, the unique (gateway, transaction id) pair, exact id match, and
// finally prefix search with explicit ambiguity detection.
type Resolver struct {
	store  Store
	cache  TxCache
	logger *zap.Logger
}

// NewResolver creates a new order resolver. cache may be nil.
func NewResolver(store Store, cache TxCache) *Resolver {
	return &Resolver{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Resolve returns the unique order matching the webhook event.
// A prefix matching more than one order is an error, never a guess:
// silently picking one would corrupt an unrelated order.
func (r *Resolver) Resolve(ctx context.Context, evt *models.WebhookEvent) (*models.Order, error) {
	if order := r.fromCache(ctx, evt); order != nil {
		return order, nil
	}

	// The (gateway, transaction id) pair is unique however short the id is:
	// wallet payment ids are ~11-digit numerics, well under the placeholder
	// threshold, and bare-id webhooks carry nothing else to resolve by.
	if evt.TransactionID != "" {
		order, err := r.store.GetOrderByGatewayTransaction(ctx, evt.Gateway, evt.TransactionID)
		if err == nil {
			r.remember(ctx, evt, order.ID)
			return order, nil
		}
		if !apperr.Is(err, apperr.CodeOrderNotFound) {
			return nil, err
		}
	}

	ref := evt.OrderRef
	if ref == "" {
		return nil, apperr.Validation("webhook from %s carries no order reference", evt.Gateway)
	}

	if len(ref) == canonicalIDLen {
		order, err := r.store.GetOrderByID(ctx, ref)
		if err != nil {
			return nil, err
		}
		r.remember(ctx, evt, order.ID)
		return order, nil
	}

	matches, err := r.store.FindOrdersByIDPrefix(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperr.OrderNotFound(ref)
	case 1:
		r.remember(ctx, evt, matches[0].ID)
		return &matches[0], nil
	default:
		r.logger.Warn("truncated order reference is ambiguous",
			zap.String("gateway", evt.Gateway),
			zap.String("prefix", ref),
			zap.Int("matches", len(matches)))
		return nil, apperr.AmbiguousOrder(ref, len(matches))
	}
}

// fromCache resolves via the transaction-id cache. A stale entry pointing at
// a missing order is treated as a miss.
func (r *Resolver) fromCache(ctx context.Context, evt *models.WebhookEvent) *models.Order {
	if r.cache == nil || evt.TransactionID == "" {
		return nil
	}
	orderID, err := r.cache.GetTransactionRef(ctx, evt.Gateway, evt.TransactionID)
	if err != nil {
		r.logger.Warn("transaction cache lookup failed, falling back to database",
			zap.String("gateway", evt.Gateway), zap.Error(err))
		return nil
	}
	if orderID == "" {
		return nil
	}
	order, err := r.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil
	}
	return order
}

func (r *Resolver) remember(ctx context.Context, evt *models.WebhookEvent, orderID string) {
	if r.cache == nil || !models.RealTransactionID(evt.TransactionID) {
		return
	}
	if err := r.cache.SetTransactionRef(ctx, evt.Gateway, evt.TransactionID, orderID, txRefTTL); err != nil {
		r.logger.Warn("failed to cache transaction reference",
			zap.String("gateway", evt.Gateway), zap.Error(err))
	}
}
