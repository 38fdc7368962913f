/**
 * @description
 * Main entry point for the rent service. It loads configuration, builds the storage layer,
 * the ledger adapter, the event publisher, the outbox sender and the core service, then
 * serves the HTTP API until SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL pool for the durable outbox.
 * - github.com/redis/go-redis/v9: shared listing quota across replicas.
 * - github.com/joho/godotenv: local .env loading before viper reads the environment.
 * - internal/api, internal/app, internal/config, internal/store: service packages.
 * - pkg/ledger, pkg/rabbitmq: ledger adapter and event publishing.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shelterflex/rent-service/internal/api"
	"github.com/shelterflex/rent-service/internal/app"
	"github.com/shelterflex/rent-service/internal/config"
	"github.com/shelterflex/rent-service/internal/store"
	"github.com/shelterflex/rent-service/pkg/ledger"
	"github.com/shelterflex/rent-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("level=warn component=bootstrap msg=\".env load failed\" err=%v", err)
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting rent service", "port", cfg.ServerPort, "storage", cfg.StorageDriver, "ledger", cfg.LedgerAdapter)

	ctx := context.Background()

	outboxRepo, closeStore, err := newOutboxRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise outbox store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			publisher = producer
			logger.Info("rabbitmq producer connected", "exchange", cfg.EventsExchange)
		}
	}
	defer publisher.Close()

	ledgerCfg := ledger.Config{
		RPCURL:            cfg.SorobanRPCURL,
		NetworkPassphrase: cfg.SorobanNetworkPassphrase,
		ContractID:        cfg.SorobanContractID,
	}
	var adapter ledger.Adapter
	switch cfg.LedgerAdapter {
	case config.LedgerGateway:
		adapter = ledger.NewGatewayClient(cfg.LedgerGatewayURL, cfg.LedgerGatewayAPIKey, ledgerCfg, logger)
	default:
		adapter = ledger.NewStubAdapter(ledgerCfg, logger)
	}

	var quota app.ListingQuota
	if strings.TrimSpace(cfg.RedisURL) != "" {
		if client := newRedisClient(cfg.RedisURL, logger); client != nil {
			defer client.Close()
			quota = app.NewRedisListingQuota(client, cfg.RedisKeyPrefix)
		}
	}

	sender := app.NewOutboxSender(outboxRepo, adapter, publisher, logger, app.SenderConfig{
		MaxAttempts:       cfg.OutboxMaxAttempts,
		StalePendingAfter: time.Duration(cfg.OutboxStalePendingSeconds) * time.Second,
	})

	service := app.NewService(app.Repositories{
		Deals:    store.NewMemoryDealRepository(),
		Outbox:   outboxRepo,
		Rewards:  store.NewMemoryRewardRepository(),
		Listings: store.NewMemoryListingRepository(),
	}, sender, adapter, quota, logger, app.ServiceConfig{
		AllowedTermMonths:   cfg.AllowedTermMonths,
		MinDepositPercent:   cfg.MinDepositPercent,
		ListingMonthlyLimit: cfg.ListingMonthlyLimit,
	})

	var scheduler *app.RetryScheduler
	if strings.TrimSpace(cfg.OutboxRetrySchedule) != "" {
		scheduler = app.NewRetryScheduler(sender, logger, cfg.OutboxRetrySchedule)
		if err := scheduler.Start(); err != nil {
			logger.Warn("outbox retry scheduler disabled", "error", err)
			scheduler = nil
		}
	}

	handler := api.NewHandler(service, logger, cfg.LedgerAdapter)
	router := api.NewRouter(handler, cfg.CORSOriginList())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"invalid LOG_LEVEL; using info\" value=%q", cfg.LogLevel)
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newOutboxRepository returns the configured outbox store and a func releasing its resources.
func newOutboxRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.OutboxRepository, func(), error) {
	if cfg.StorageDriver != config.StoragePostgres {
		logger.Info("using in-memory outbox store")
		return store.NewMemoryOutboxRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	repo := store.NewPostgresOutboxRepository(dbpool)
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repo.EnsureSchema(schemaCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("ensure outbox schema: %w", err)
	}
	logger.Info("database connected", "store", "postgres")
	return repo, dbpool.Close, nil
}

// newRedisClient returns nil when Redis is unusable; listing limits then fall back to the
// in-process count.
func newRedisClient(rawURL string, logger *slog.Logger) *redis.Client {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-process listing quota", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-process listing quota", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
