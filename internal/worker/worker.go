package worker

import (
	"context"
	"time"

	"payment-reconciler/internal/service"
	"payment-reconciler/internal/util"

	"go.uber.org/zap"
)

// SyncWorker periodically reconciles recent pending orders against their
// gateways, catching webhooks that were never delivered.
type SyncWorker struct {
	reconciler *service.Reconciler
	interval   time.Duration
	maxAge     time.Duration
	limit      int
	logger     *zap.Logger
	stop       chan struct{}
}

// NewSyncWorker creates a new sync worker.
func NewSyncWorker(reconciler *service.Reconciler, interval, maxAge time.Duration, limit int) *SyncWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SyncWorker{
		reconciler: reconciler,
		interval:   interval,
		maxAge:     maxAge,
		limit:      limit,
		logger:     util.GetLogger(),
		stop:       make(chan struct{}),
	}
}

// Start runs the periodic sync loop until the context is cancelled or Stop
// is called.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("starting sync worker",
		zap.Duration("interval", w.interval),
		zap.Duration("max_age", w.maxAge),
		zap.Int("limit", w.limit))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			result, err := w.reconciler.SyncPendingOrders(ctx, w.maxAge, w.limit)
			if err != nil {
				w.logger.Error("scheduled sync failed", zap.Error(err))
				continue
			}
			if result.Updated > 0 || result.Failed > 0 {
				w.logger.Info("scheduled sync completed",
					zap.Int("scanned", result.Scanned),
					zap.Int("updated", result.Updated),
					zap.Int("failed", result.Failed))
			}
		}
	}
}

// Stop stops the worker
func (w *SyncWorker) Stop() {
	close(w.stop)
}
