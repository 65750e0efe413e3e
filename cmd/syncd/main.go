package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	httpapi "github.com/execution-hub/ledger-sync/internal/api/http"
	"github.com/execution-hub/ledger-sync/internal/application/ingestion"
	"github.com/execution-hub/ledger-sync/internal/application/notification"
	"github.com/execution-hub/ledger-sync/internal/application/orchestrator"
	"github.com/execution-hub/ledger-sync/internal/application/reward"
	"github.com/execution-hub/ledger-sync/internal/application/transaction"
	"github.com/execution-hub/ledger-sync/internal/config"
	"github.com/execution-hub/ledger-sync/internal/domain/ledger"
	domainNotification "github.com/execution-hub/ledger-sync/internal/domain/notification"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/keystore"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/ledgerclient"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/logging"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/metrics"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/postgres"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/redis"
	"github.com/execution-hub/ledger-sync/internal/infrastructure/sse"
	"github.com/execution-hub/ledger-sync/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, logCloser := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile, Service: "syncd"})
	defer logCloser.Close()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("db error")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		logger.Fatal().Err(err).Msg("migration error")
	}

	var redisClient *goredis.Client
	if cfg.NeedsRedis() {
		redisClient, err = redis.NewClient(ctx, redis.Config{
			URL:      cfg.RedisURL,
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis error")
		}
		defer redisClient.Close()
	}

	// repositories
	txRepo := postgres.NewTransactionRepository(pool)
	rewardRepo := postgres.NewRewardRepository(pool)
	eventRepo := postgres.NewEventLogRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	userRepo := postgres.NewUserRepository(pool)

	// infrastructure
	m := metrics.Default()
	sseHub := sse.NewHub()
	defer sseHub.Stop()

	var publisher domainNotification.Publisher
	if cfg.PublishNotifications {
		publisher = redis.NewPublisher(redisClient)
	}
	notifier := notification.NewService(sseHub, publisher, logger)
	defer notifier.Close()

	locker := newLocker(cfg.LockBackend, pool, redisClient)

	ledgerClient, err := ledgerclient.New(ledgerclient.Config{
		BaseURL:           cfg.LedgerURL,
		RequestsPerSecond: cfg.LedgerRPS,
		Burst:             cfg.LedgerBurst,
		Timeout:           cfg.LedgerTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ledger client error")
	}

	contract := ledger.Contract{Address: cfg.ContractAddress, Module: cfg.ContractModule}
	handle := cfg.EventHandle
	if handle == "" {
		handle = contract.EventHandle()
	}

	txOpts := []transaction.Option{transaction.WithMetrics(m)}
	if cfg.AdminSigningKey != "" {
		signer, err := keystore.FromSeedHex(cfg.AdminSigningKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid ADMIN_SIGNING_KEY")
		}
		logger.Info().Str("address", signer.Address()).Msg("admin signing identity loaded")
		txOpts = append(txOpts, transaction.WithSigner(signer))
	} else {
		logger.Warn().Msg("ADMIN_SIGNING_KEY not set; platform-initiated ledger writes are disabled")
	}

	// services
	txSvc := transaction.NewService(txRepo, userRepo, sessionRepo, ledgerClient, notifier, transaction.Config{
		Contract:           contract,
		MonitorDelay:       cfg.MonitorDelay,
		MonitorMaxAttempts: cfg.MonitorMaxAttempts,
		MonitorMaxDuration: cfg.MonitorMaxDuration,
		MonitorConcurrency: cfg.MonitorConcurrency,
		RetryBatchSize:     cfg.RetryBatchSize,
	}, logger, txOpts...)

	calc := reward.DefaultCalculatorConfig()
	calc.ParticipationShare = cfg.ParticipationShare
	calc.PerformanceShare = cfg.PerformanceShare
	calc.BonusShare = cfg.BonusShare
	calc.PerformanceFallbackBase = cfg.PerformanceFallbackBase
	calc.CompletionShare = cfg.CompletionShare
	if err := calc.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid reward configuration")
	}
	rewardSvc := reward.NewService(rewardRepo, sessionRepo, userRepo, txSvc, notifier, reward.Config{
		Calculator:              calc,
		ClaimWindow:             cfg.ClaimWindow,
		DistributionConcurrency: cfg.DistributionWorkers,
	}, logger, reward.WithMetrics(m))
	defer rewardSvc.Close()

	ingestSvc := ingestion.NewService(eventRepo, sessionRepo, userRepo, rewardRepo, txRepo, rewardSvc, ledgerClient, notifier, ingestion.Config{
		Handle:         handle,
		PollInterval:   cfg.PollInterval,
		BatchSize:      cfg.IngestBatchSize,
		RetryBatchSize: cfg.IngestRetryBatch,
		PendingGrace:   cfg.JobTimeout,
	}, logger, ingestion.WithMetrics(m))
	cursor, err := ingestSvc.RecoverCursor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to recover ingestion cursor")
	}
	logger.Info().Int64("cursor", cursor).Str("handle", handle).Msg("ingestion cursor recovered")

	orch, err := orchestrator.NewOrchestrator(
		txSvc,
		ingestSvc,
		rewardSvc,
		txRepo,
		rewardRepo,
		eventRepo,
		sessionRepo,
		ledgerClient,
		notifier,
		locker,
		orchestrator.Config{
			Contract:               contract,
			Intervals:              cfg.JobIntervals,
			AlertRules:             alertRules(cfg.AlertRules),
			JobTimeout:             cfg.JobTimeout,
			RetryBatchSize:         cfg.RetryBatchSize,
			ReconcileBatchSize:     cfg.ReconcileBatchSize,
			EventRetention:         cfg.EventRetention,
			TransactionRetention:   cfg.TransactionRetention,
			ExpiryHorizon:          cfg.ExpiryHorizon,
			MaxPendingTransactions: cfg.MaxPendingTransactions,
			MaxFailedEvents:        cfg.MaxFailedEvents,
		},
		logger,
		orchestrator.WithMetrics(m),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator error")
	}

	// API server
	apiServer := httpapi.NewServer(orch, sseHub, nil, logger)
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if err := orch.Start(runCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start orchestrator")
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("lock_backend", cfg.LockBackend).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := orch.Stop(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("scheduler stop")
	}
	stopRun()
	if err := txSvc.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("transaction monitors stop")
	}
	sseHub.Stop()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}

func newLocker(backend string, pool *pgxpool.Pool, client *goredis.Client) orchestrator.Locker {
	switch backend {
	case config.LockBackendRedis:
		return redis.NewLocker(client)
	case config.LockBackendPostgres:
		return postgres.NewLeaseLocker(pool)
	default:
		return orchestrator.NewMemoryLocker()
	}
}

// alertRules returns nil when none are configured so the orchestrator applies its defaults.
func alertRules(in []config.AlertRule) []orchestrator.AlertRule {
	if len(in) == 0 {
		return nil
	}
	rules := make([]orchestrator.AlertRule, 0, len(in))
	for _, r := range in {
		rules = append(rules, orchestrator.AlertRule{Name: r.Name, Expression: r.Expression, Severity: r.Severity, Message: r.Message})
	}
	return rules
}
