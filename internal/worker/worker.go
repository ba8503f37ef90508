package worker

import (
	"context"
	"fmt"

	"store-service/internal/broker"
	"store-service/internal/cache"
	"store-service/internal/models"
	"store-service/internal/store"
	"store-service/internal/util"

	"go.uber.org/zap"
)

// CacheWorker consumes sale events and drops the read-cache entries their
// ledger writes made stale. Events are deduplicated through the
// processed_events table so consumer-group rebalances cannot double-apply.
type CacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	cache        *cache.Client
	logger       *zap.Logger
}

// NewCacheWorker creates a new cache worker
func NewCacheWorker(consumer *broker.Consumer, st *store.Store, c *cache.Client) *CacheWorker {
	w := &CacheWorker{
		consumer: consumer,
		store:    st,
		cache:    c,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnSaleCreated(w.handleSaleCreated)
	eventHandler.OnSaleCancelled(w.handleSaleCancelled)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *CacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CacheWorker) Stop() error {
	w.logger.Info("Stopping cache worker")
	return w.consumer.Close()
}

func (w *CacheWorker) handleSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	return w.invalidate(ctx, event.EventID, event.EventType, event.MembershipCode, event.Items)
}

func (w *CacheWorker) handleSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error {
	return w.invalidate(ctx, event.EventID, event.EventType, event.MembershipCode, event.Items)
}

func (w *CacheWorker) invalidate(ctx context.Context, eventID, eventType, membershipCode string, items []models.SaleLineData) error {
	processed, err := w.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		return nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	if err := w.cache.InvalidateProducts(ctx, ids...); err != nil {
		w.logger.Error("Failed to invalidate product cache",
			zap.String("event_id", eventID),
			zap.Error(err))
	}

	if membershipCode != "" {
		if err := w.cache.InvalidateMembership(ctx, membershipCode); err != nil {
			w.logger.Error("Failed to invalidate membership cache",
				zap.String("membership_code", membershipCode),
				zap.Error(err))
		}
	}

	if err := w.store.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	return nil
}
