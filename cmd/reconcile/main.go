// cmd/reconcile/main.go
//
// reconcile runs one sweep over transactions stuck in processing and exits.
// It is meant to be scheduled (cron, k8s CronJob) next to the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/provider/mpesa"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	limit := flag.Int("limit", 200, "maximum transactions to check")
	olderThan := flag.Duration("older-than", 0, "only check transactions processing for longer than this (default RECONCILE_STALE_AFTER)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if *olderThan <= 0 {
		*olderThan = cfg.Settlement.StaleAfter
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	var (
		counter   cache.Counter = cache.NewMemory()
		publisher events.Publisher
		secrets   config.SecretStore
	)

	envSecrets, err := config.NewEnvSecretStore(cfg.Mpesa, logger)
	if err != nil {
		logger.Fatal("failed to load M-Pesa secrets", zap.Error(err))
	}
	secrets = envSecrets

	var publishers events.Multi
	if cfg.Redis.Enabled {
		redisCache := cache.NewCache(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.Cluster)
		defer redisCache.Close()
		// share the attempt counters with the server so the bound holds
		counter = redisCache
		publishers = append(publishers, events.NewRedisPublisher(redisCache.Client()))
		if cfg.Mpesa.SecretBackend == "redis" {
			secrets = config.NewRedisSecretStore(redisCache.Client(), envSecrets)
		}
	}
	if cfg.Kafka.Enabled {
		kafkaPub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		defer kafkaPub.Close()
		publishers = append(publishers, kafkaPub)
	}
	publisher = events.NewLogged(publishers, logger)

	repos := repository.NewPostgres(dbPool)
	mpesaProvider := mpesa.NewMpesaProvider(cfg.Mpesa, secrets, logger)
	notifier := usecase.NewNotifier(repos.Notifications, logger)
	settler := usecase.NewSettler(repos, notifier, publisher, cfg.Settlement.AutoReleaseDays, logger)
	poller := usecase.NewStatusPoller(repos, mpesaProvider, settler, counter, usecase.PollerConfig{
		MaxAttempts:    cfg.Settlement.PollMaxAttempts,
		AttemptWindow:  cfg.Settlement.PollAttemptWindow,
		RequestTimeout: cfg.Mpesa.RequestTimeout,
	}, logger)

	report, err := poller.SweepStale(ctx, *olderThan, *limit)
	if err != nil {
		logger.Error("reconciliation sweep failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("reconciliation complete",
		zap.Duration("older_than", *olderThan),
		zap.Int("checked", report.Checked),
		zap.Int("settled", report.Settled),
		zap.Int("errors", report.Errors))
}
