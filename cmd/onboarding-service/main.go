/**
 * @description
 * This is the main entry point for the onboarding-service.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Establishes the PostgreSQL pool and applies the embedded migrations.
 * - Wires the ledger client, orchestrator, webhook reconciler and scheduler.
 * - Publishes and consumes onboarding events over RabbitMQ when configured.
 * - Serves the HTTP API and shuts everything down on SIGINT/SIGTERM.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/piggybank/onboarding-service/internal/api"
	"github.com/piggybank/onboarding-service/internal/app"
	"github.com/piggybank/onboarding-service/internal/config"
	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/internal/store"
	"github.com/piggybank/onboarding-service/pkg/ledgerclient"
	"github.com/piggybank/onboarding-service/pkg/middleware"
	"github.com/piggybank/onboarding-service/pkg/rabbitmq"
)

const approvedQueue = "onboarding_account_approved"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("onboarding-service exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("onboarding-service stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := newPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	if cfg.MigrationsEnabled {
		if err := store.Migrate(ctx, dbpool); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	redisClient, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	var (
		keys    app.IdempotencyKeys
		limiter middleware.RateLimiter
	)
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("redis connected")
		keys = app.NewRedisIdempotencyKeys(redisClient, cfg.RedisKeyPrefix, cfg.IdempotencyTTL())
		limiter = middleware.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix)
	} else {
		logger.Warn("REDIS_URL not set; idempotency keys are held in process memory and rate limiting is off")
		keys = app.NewMemoryIdempotencyKeys(cfg.IdempotencyTTL())
	}

	// A nil publisher disables domain events; keep the interface nil, not a typed nil.
	var publisher app.EventPublisher
	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect RabbitMQ producer: %w", err)
		}
		defer producer.Close()
		publisher = producer

		consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect RabbitMQ consumer: %w", err)
		}
		defer consumer.Close()
	} else {
		logger.Warn("RABBITMQ_URL not set; onboarding events are disabled")
	}

	mirrors := store.NewPostgresMirrorRepository(dbpool)
	payments := store.NewPostgresPaymentRepository(dbpool)
	ledger := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerSecretKey, cfg.LedgerTimeout(), logger)

	orchestrator := app.NewOrchestrator(mirrors, ledger, keys, publisher, logger, app.OrchestratorConfig{
		CardCurrency:  cfg.CardCurrency,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	reconciler := app.NewReconciler(mirrors, payments, publisher, cfg.LedgerWebhookSecret, cfg.WebhookTolerance(), logger)
	jobs := app.NewJobs(mirrors, orchestrator, logger, cfg.ReconcileBatchSize)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReconcileSchedule)

	verifier := middleware.NewJWKSVerifier(middleware.AuthConfig{
		JWKSURL:          cfg.AuthJWKSURL,
		ExpectedAudience: cfg.AuthAudience,
		ExpectedIssuer:   cfg.AuthIssuer,
	})
	router := api.NewRouter(
		api.NewHandler(orchestrator, logger),
		api.NewWebhookHandler(reconciler, logger),
		cfg.AllowedOrigins(),
		middleware.AuthMiddleware(verifier, logger),
		middleware.RateLimitMiddleware(limiter, cfg.RateLimitPerMinute, time.Minute, logger),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if consumer != nil {
		handler := app.NewAccountEventHandler(orchestrator, logger)
		g.Go(func() error {
			return consumer.Consume(gctx, domain.OnboardingExchange, approvedQueue, domain.RoutingKeyAccountApproved, handler.HandleAccountApproved)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down onboarding-service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		<-scheduler.Stop().Done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	dbConfig.MaxConns = 20
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}

// newRedisClient returns nil when no URL is configured. A configured but
// unreachable Redis is a startup error, since createAccount reservations
// depend on it.
func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
