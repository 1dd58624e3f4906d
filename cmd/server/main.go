// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/internal/commission"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/handler"
	"github.com/RemisonBarawa/Freelance-App/internal/middleware"
	"github.com/RemisonBarawa/Freelance-App/internal/provider/mpesa"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/internal/router"
	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cacheBackend is what the resolver, poller and rate limiter share.
type cacheBackend interface {
	cache.Store
	cache.Counter
}

func main() {
	// Initialize logger
	logger, err := newLogger(os.Getenv("ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting settlement service")

	// Load configuration
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to database
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		logger.Fatal("invalid database configuration", zap.Error(err))
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	logger.Info("connected to database", zap.String("database", cfg.Database.DBName))

	// Cache
	var (
		store cacheBackend = cache.NewMemory()
		rdb   redis.UniversalClient
	)
	if cfg.Redis.Enabled {
		redisCache := cache.NewCache(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.Cluster)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		store = redisCache
		rdb = redisCache.Client()
		logger.Info("connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))
	}

	// Secrets
	envSecrets, err := config.NewEnvSecretStore(cfg.Mpesa, logger)
	if err != nil {
		logger.Fatal("failed to load M-Pesa secrets", zap.Error(err))
	}
	var secrets config.SecretStore = envSecrets
	if cfg.Mpesa.SecretBackend == "redis" {
		if rdb == nil {
			logger.Fatal("MPESA_SECRET_BACKEND=redis requires REDIS_ENABLED")
		}
		secrets = config.NewRedisSecretStore(rdb, envSecrets)
	}

	// Event fan-out
	hub := events.NewHub()
	var publishers events.Multi
	switch {
	case rdb != nil:
		publishers = append(publishers, events.NewRedisPublisher(rdb))
		go runSource(ctx, "redis", func(ctx context.Context) error {
			return events.NewRedisSource(rdb, logger).Run(ctx, hub)
		}, logger)
	case cfg.Kafka.Enabled:
		// without redis the realtime feed rides on kafka, one group per node
		host, _ := os.Hostname()
		groupID := cfg.Kafka.ClientID + "-ws-" + host
		go runSource(ctx, "kafka", func(ctx context.Context) error {
			return events.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID, logger).Run(ctx, hub)
		}, logger)
	default:
		publishers = append(publishers, hub)
	}
	if cfg.Kafka.Enabled {
		kafkaPub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		defer kafkaPub.Close()
		publishers = append(publishers, kafkaPub)
	}
	publisher := events.NewLogged(publishers, logger)

	// Initialize repositories
	repos := repository.NewPostgres(dbPool)

	// Initialize providers
	mpesaProvider := mpesa.NewMpesaProvider(cfg.Mpesa, secrets, logger)

	// Initialize usecases
	notifier := usecase.NewNotifier(repos.Notifications, logger)
	resolver := commission.NewResolver(repos.Policies, store, cfg.Settlement.CommissionCacheTTL, logger)
	settler := usecase.NewSettler(repos, notifier, publisher, cfg.Settlement.AutoReleaseDays, logger)

	paymentUC := usecase.NewPaymentUsecase(
		repos,
		resolver,
		mpesaProvider,
		publisher,
		cfg.Settlement.Currency,
		cfg.Mpesa.RequestTimeout,
		logger,
	)
	callbackUC := usecase.NewCallbackUsecase(repos, settler, logger)
	poller := usecase.NewStatusPoller(repos, mpesaProvider, settler, store, usecase.PollerConfig{
		MaxAttempts:    cfg.Settlement.PollMaxAttempts,
		Interval:       cfg.Settlement.PollInterval,
		AttemptWindow:  cfg.Settlement.PollAttemptWindow,
		RequestTimeout: cfg.Mpesa.RequestTimeout,
	}, logger)
	payoutUC := usecase.NewPayoutUsecase(repos, mpesaProvider, notifier, publisher, cfg.Mpesa.RequestTimeout, logger)
	escrowUC := usecase.NewEscrowUsecase(repos, notifier, publisher, logger)
	ledgerUC := usecase.NewLedgerUsecase(repos, notifier, publisher, logger)
	secretsUC := usecase.NewSecretsUsecase(secrets, notifier, logger)

	// Initialize handlers
	verifier, err := middleware.NewVerifier(cfg.Auth)
	if err != nil {
		logger.Fatal("failed to load JWT verifier", zap.Error(err))
	}

	handlers := router.Handlers{
		Payment:  handler.NewPaymentHandler(paymentUC, poller, ledgerUC, logger),
		Callback: handler.NewCallbackHandler(callbackUC, logger),
		Escrow:   handler.NewEscrowHandler(payoutUC, escrowUC, ledgerUC, logger),
		Admin:    handler.NewAdminHandler(secretsUC, callbackUC, poller, logger),
		Stream:   handler.NewTransactionStreamHandler(hub, ledgerUC, cfg.Server.AllowedOrigins, logger),
	}

	// Setup routes
	r := router.SetupRoutes(handlers, middleware.NewAuthMiddleware(verifier, logger), store, cfg.Server, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("settlement service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// runSource keeps an event source feeding the hub until ctx ends.
func runSource(ctx context.Context, name string, run func(context.Context) error, logger *zap.Logger) {
	for ctx.Err() == nil {
		if err := run(ctx); err != nil {
			logger.Error("settlement event source stopped",
				zap.String("source", name),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
