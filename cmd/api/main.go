package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clearcart/api/internal/handlers"
	"github.com/clearcart/api/internal/payments"
	"github.com/clearcart/api/internal/platform/auth"
	"github.com/clearcart/api/internal/platform/config"
	"github.com/clearcart/api/internal/platform/idempotency"
	"github.com/clearcart/api/internal/platform/jobs"
	"github.com/clearcart/api/internal/platform/observability"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
	pgrepos "github.com/clearcart/api/internal/repositories/postgres"
	"github.com/clearcart/api/internal/services"
)

const migrationsDir = "db/migrations"

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if err := platformpg.Migrate(cfg.Database.URL, migrationsDir); err != nil {
		logger.Fatal("failed to apply migrations", zap.Error(err))
	}

	pool, err := platformpg.Connect(ctx, platformpg.Options{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Fatal("failed to initialise postgres pool", zap.Error(err))
	}
	defer pool.Close()

	registry, err := pgrepos.NewRegistry(pool, cfg.Database.LockTimeout)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("registry close error", zap.Error(err))
		}
	}()

	idempotencyStore, redisClient := newIdempotencyStore(logger, cfg)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	publisher, pubsubClient, err := newJobPublisher(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise job publisher", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Fatal("stripe api key is required for payment processing")
	}
	paymentsLogger := logger.Named("payments")
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        zapEventLogger(paymentsLogger),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(stripeProvider, payments.NewCODProvider())
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: registry.Inventory(),
		Orders:    registry.Orders(),
		Clock:     time.Now,
		Logger:    zapEventLogger(logger.Named("inventory")),
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:                   registry.Coupons(),
		Clock:                     time.Now,
		Logger:                    zapEventLogger(logger.Named("coupons")),
		CountCancelledRedemptions: cfg.Checkout.CountCancelledRedemptions,
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon service", zap.Error(err))
	}

	shippingCalculator, err := services.NewShippingCalculator(services.ShippingCalculatorDeps{
		Addresses:             registry.Addresses(),
		Shipping:              registry.Shipping(),
		FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
		BaseCost:              cfg.Checkout.BaseShippingCost,
	})
	if err != nil {
		logger.Fatal("failed to initialise shipping calculator", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:   registry.Payments(),
		Orders:     registry.Orders(),
		Inventory:  inventoryService,
		Gateway:    paymentManager,
		Webhooks:   stripeProvider,
		UnitOfWork: registry,
		Clock:      time.Now,
		Logger:     zapEventLogger(paymentsLogger),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:      registry.Carts(),
		Orders:     registry.Orders(),
		Outbox:     registry.Outbox(),
		Inventory:  inventoryService,
		Coupons:    couponService,
		Shipping:   shippingCalculator,
		Payments:   paymentService,
		UnitOfWork: registry,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("checkout")),
		Currency:   cfg.Checkout.Currency,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		Inventory:  inventoryService,
		UnitOfWork: registry,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	dispatcher, err := services.NewOutboxDispatcher(services.OutboxDispatcherDeps{
		Outbox:      registry.Outbox(),
		Publisher:   publisher,
		Interval:    cfg.Outbox.PollInterval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Clock:       time.Now,
		Logger:      zapEventLogger(logger.Named("outbox")),
	})
	if err != nil {
		logger.Fatal("failed to initialise outbox dispatcher", zap.Error(err))
	}

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	var dispatcherWG sync.WaitGroup
	dispatcherWG.Add(1)
	go func() {
		defer dispatcherWG.Done()
		dispatcher.Run(dispatcherCtx)
	}()

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, checkoutService, idempotencyMiddleware)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	couponHandlers := handlers.NewCouponHandlers(couponService)
	webhookHandlers := handlers.NewWebhookHandlers(paymentService)

	healthHandlers := handlers.NewHealthHandlers(map[string]handlers.ReadinessCheck{
		"postgres": func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
		"redis": func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.TraceMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("clearcart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	dispatcherCancel()
	dispatcherWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newIdempotencyStore prefers Redis when configured and falls back to the
// in-process store for local development.
func newIdempotencyStore(logger *zap.Logger, cfg config.Config) (idempotency.Store, *redis.Client) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		logger.Warn("redis address not configured; using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return idempotency.NewRedisStore(client), client
}

// newJobPublisher connects the outbox dispatcher to Pub/Sub. Without a
// configured project the dispatcher logs and drops jobs locally.
func newJobPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.JobPublisher, *pubsub.Client, error) {
	if strings.TrimSpace(cfg.PubSub.ProjectID) == "" || strings.TrimSpace(cfg.PubSub.TopicID) == "" {
		logger.Warn("pubsub not configured; post-commit jobs will be logged and dropped")
		return loggingJobPublisher{logger: logger.Named("jobs")}, nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubJobPublisher(client.Topic(cfg.PubSub.TopicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, client, nil
}

type loggingJobPublisher struct {
	logger *zap.Logger
}

func (p loggingJobPublisher) PublishJob(_ context.Context, message services.JobMessage) (string, error) {
	p.logger.Info("job published to log sink",
		zap.String("jobType", message.Type),
		zap.String("orderId", message.OrderID),
		zap.String("idempotencyKey", message.IdempotencyKey),
	)
	return message.IdempotencyKey, nil
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}
