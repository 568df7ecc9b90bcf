package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-orders/config"
	"storefront-orders/internal/api"
	"storefront-orders/internal/backend"
	"storefront-orders/internal/broker"
	"storefront-orders/internal/policy"
	"storefront-orders/internal/ratelimit"
	"storefront-orders/internal/redisclient"
	"storefront-orders/internal/service"
	"storefront-orders/internal/store"
	"storefront-orders/internal/tracking"
	"storefront-orders/internal/util"
	"storefront-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Starting storefront order service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.URL, store.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	secret := []byte(cfg.Security.AppSecret)
	trackingKey, err := util.DeriveKey(secret, util.KeyPurposeTracking)
	if err != nil {
		logger.Fatal("Failed to derive tracking key", zap.Error(err))
	}
	rateLimitKey, err := util.DeriveKey(secret, util.KeyPurposeRateLimit)
	if err != nil {
		logger.Fatal("Failed to derive rate limit key", zap.Error(err))
	}

	commerce := backend.NewClient(backend.Config{
		BaseURL:          cfg.Backend.URL,
		APIKey:           cfg.Backend.APIKey,
		Timeout:          cfg.Backend.Timeout,
		BreakerFailures:  cfg.Backend.BreakerFailures,
		BreakerOpenFor:   cfg.Backend.BreakerOpenFor,
		BreakerHalfOpenN: cfg.Backend.BreakerHalfOpenN,
	})

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	inventoryClient := service.NewInventoryClient(db, redisClient)
	paymentService := service.NewPaymentService(commerce)
	orderService := service.NewOrderService(
		db,
		inventoryClient,
		commerce,
		paymentService,
		eventPublisher,
		tracking.NewSigner(trackingKey, cfg.Security.TrackingTokenTTL),
		service.Options{
			Rules: policy.Rules{
				FreeCancellationWindow:      cfg.Policy.FreeCancellationWindow,
				ConfirmedCancellationWindow: cfg.Policy.ConfirmedCancellationWindow,
				RestockingFeeRate:           cfg.Policy.RestockingFeeRate,
				CancellationFee:             cfg.Policy.CancellationFee,
				RefundProcessingMinDays:     cfg.Policy.RefundProcessingMinDays,
				RefundProcessingMaxDays:     cfg.Policy.RefundProcessingMaxDays,
			},
			Currency:        cfg.Pricing.Currency,
			TaxRate:         cfg.Pricing.TaxRate,
			ShippingMethods: cfg.Pricing.ShippingMethods,
			Locker:          redisClient,
		},
	)
	accountService := service.NewAccountService(commerce, ratelimit.NewLimiter(cfg.RateLimit.Window))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	updatesConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicUpdates, cfg.Kafka.ConsumerGroup)
	orderWorker := worker.NewOrderWorker(updatesConsumer, service.NewEventHandlers(orderService))
	go func() {
		if err := orderWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Order worker error", zap.Error(err))
		}
	}()

	syncWorker := worker.NewInventorySyncWorker(inventoryClient, cfg.Redis.InventorySyncInterval)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Inventory sync worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if !cfg.Server.TrustProxy {
		if err := router.SetTrustedProxies(nil); err != nil {
			logger.Fatal("Failed to configure trusted proxies", zap.Error(err))
		}
	}

	apiCfg := api.Config{
		RateLimitKey:  rateLimitKey,
		SecureCookies: cfg.Security.SecureCookies,
		Checks: map[string]api.ReadinessCheck{
			"database": db.Ping,
			"redis":    redisClient.Ping,
		},
	}
	if cfg.RateLimit.Store == "redis" {
		apiCfg.Markers = redisclient.NewMarkerStore(redisClient, "forgot-password")
	}

	handler := api.NewHandler(
		orderService,
		accountService,
		api.NewIdentityResolver(redisClient, commerce, cfg.Redis.SessionTTL),
		apiCfg,
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := orderWorker.Stop(); err != nil {
		logger.Error("Failed to stop order worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
