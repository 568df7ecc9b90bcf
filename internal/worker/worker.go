package worker

import (
	"context"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/broker"
	"storefront-orders/internal/service"
	"storefront-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageConsumer is satisfied by *broker.Consumer
type messageConsumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// OrderWorker applies payment and carrier events to orders
type OrderWorker struct {
	consumer     messageConsumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewOrderWorker creates a new order worker
func NewOrderWorker(consumer messageConsumer, handlers *service.EventHandlers) *OrderWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentConfirmed(handlers.HandlePaymentConfirmed)
	eventHandler.OnPaymentFailed(handlers.HandlePaymentFailed)
	eventHandler.OnCarrierStatus(handlers.HandleCarrierStatus)

	return &OrderWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *OrderWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order worker")
	return w.consumer.StartConsuming(ctx, w.handle)
}

// handle marks errors that redelivery cannot fix as permanent
func (w *OrderWorker) handle(ctx context.Context, msg kafka.Message) error {
	err := w.eventHandler.HandleMessage(ctx, msg)
	if err == nil || broker.IsPermanent(err) {
		return err
	}
	switch apperror.As(err).Kind {
	case apperror.KindInternal, apperror.KindBackend:
		return err
	default:
		return broker.Permanent(err)
	}
}

// Stop stops the worker
func (w *OrderWorker) Stop() error {
	w.logger.Info("Stopping order worker")
	return w.consumer.Close()
}

// inventorySyncer is satisfied by *service.InventoryClient
type inventorySyncer interface {
	SyncInventoryToRedis(ctx context.Context) error
}

// InventorySyncWorker periodically rebuilds the Redis stock cache from the database
type InventorySyncWorker struct {
	inventory inventorySyncer
	interval  time.Duration
	logger    *zap.Logger
}

// NewInventorySyncWorker creates a new inventory sync worker
func NewInventorySyncWorker(inventory inventorySyncer, interval time.Duration) *InventorySyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &InventorySyncWorker{
		inventory: inventory,
		interval:  interval,
		logger:    util.GetLogger(),
	}
}

// Start syncs once immediately, then on every tick until ctx is done
func (w *InventorySyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting inventory sync worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.inventory.SyncInventoryToRedis(ctx); err != nil {
			w.logger.Error("Inventory sync failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Stopping inventory sync worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
