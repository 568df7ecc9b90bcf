package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/redisclient"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

// stockCache is the Redis fast path
type stockCache interface {
	ReserveStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
	CommitStock(ctx context.Context, productID int64, quantity int) error
	InitInventory(ctx context.Context, productID int64, available, reserved int) error
}

// stockStore is the authoritative inventory in Postgres
type stockStore interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetInventory(ctx context.Context, productID int64) (*models.Inventory, error)
	ReserveStockTx(ctx context.Context, productID int64, quantity int) error
	ReleaseStock(ctx context.Context, productID int64, quantity int) error
	CommitStock(ctx context.Context, productID int64, quantity int) error
}

// InventoryClient handles inventory operations
type InventoryClient struct {
	store  stockStore
	cache  stockCache
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client. cache may be nil.
func NewInventoryClient(store stockStore, cache stockCache) *InventoryClient {
	return &InventoryClient{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Reserve holds quantity units of a product. It returns false when stock is short.
// Redis rejects quickly; the database reservation is always made and is the one that counts.
func (ic *InventoryClient) Reserve(ctx context.Context, productID int64, quantity int) (bool, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if ic.cache == nil {
		return ic.reserveDB(ctx, productID, quantity)
	}

	ok, err := ic.cache.ReserveStock(ctx, productID, quantity)
	if err != nil {
		if !errors.Is(err, redisclient.ErrStockNotCached) {
			ic.logger.Warn("Redis reservation failed, falling back to DB",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
		return ic.reserveDB(ctx, productID, quantity)
	}
	if !ok {
		util.InventoryReservationsFailed.WithLabelValues("insufficient_cache").Inc()
		return false, nil
	}

	reserved, err := ic.reserveDB(ctx, productID, quantity)
	if err != nil || !reserved {
		if relErr := ic.cache.ReleaseStock(ctx, productID, quantity); relErr != nil {
			ic.logger.Error("Failed to undo Redis reservation",
				zap.Int64("product_id", productID),
				zap.Error(relErr))
		}
	}
	return reserved, err
}

func (ic *InventoryClient) reserveDB(ctx context.Context, productID int64, quantity int) (bool, error) {
	err := ic.store.ReserveStockTx(ctx, productID, quantity)
	if errors.Is(err, store.ErrInsufficientStock) {
		util.InventoryReservationsFailed.WithLabelValues("insufficient").Inc()
		return false, nil
	}
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}
	return true, nil
}

// Release returns reserved units (compensation and cancellation)
func (ic *InventoryClient) Release(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Release")
	defer span.End()

	if ic.cache != nil {
		if err := ic.cache.ReleaseStock(ctx, productID, quantity); err != nil {
			ic.logger.Error("Failed to release stock in Redis",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}

	return ic.store.ReleaseStock(ctx, productID, quantity)
}

// Commit removes reserved units once the goods have shipped
func (ic *InventoryClient) Commit(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Commit")
	defer span.End()

	if ic.cache != nil {
		if err := ic.cache.CommitStock(ctx, productID, quantity); err != nil {
			ic.logger.Error("Failed to commit stock in Redis",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}

	return ic.store.CommitStock(ctx, productID, quantity)
}

// SyncInventoryToRedis copies database inventory into the cache
func (ic *InventoryClient) SyncInventoryToRedis(ctx context.Context) error {
	if ic.cache == nil {
		return nil
	}
	ic.logger.Info("Starting inventory sync to Redis")

	products, err := ic.store.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	synced := 0
	for _, product := range products {
		inv, err := ic.store.GetInventory(ctx, product.ID)
		if err != nil {
			ic.logger.Error("Failed to get inventory",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}

		if err := ic.cache.InitInventory(ctx, product.ID, inv.Available, inv.Reserved); err != nil {
			ic.logger.Error("Failed to init Redis inventory",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}
		synced++
	}

	ic.logger.Info("Inventory sync completed", zap.Int("count", synced))
	return nil
}
