package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/application/factories/infrastructure"
	"github.com/Jativax/sq-qb-integration-sub000/internal/config"
	"github.com/Jativax/sq-qb-integration-sub000/internal/infrastructure/postgres"
	redisinfra "github.com/Jativax/sq-qb-integration-sub000/internal/infrastructure/redis"
	"github.com/Jativax/sq-qb-integration-sub000/internal/mapping"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
	"github.com/Jativax/sq-qb-integration-sub000/internal/quickbooks"
	"github.com/Jativax/sq-qb-integration-sub000/internal/square"
	"github.com/Jativax/sq-qb-integration-sub000/internal/usecase"
	"github.com/Jativax/sq-qb-integration-sub000/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	kafkaProd := infraFactory.KafkaProducer()

	// Repositories and queue
	dedupRepo := postgres.NewDedupRepository(pgPool)
	jobRepo := postgres.NewJobRepository(pgPool)
	dlqRepo := postgres.NewDeadLetterRepository(pgPool)
	linkRepo := postgres.NewLinkRepository(pgPool)
	jobQueue := queue.New(jobRepo, dlqRepo, logger)

	// External APIs
	squareClient := square.NewClient(square.Config{
		BaseURL:     cfg.Square.BaseURL,
		AccessToken: cfg.Square.AccessToken,
		LocationID:  cfg.Square.LocationID,
		Timeout:     cfg.Square.Timeout,
	})
	qbClient := quickbooks.NewClient(quickbooks.Config{
		BaseURL:     cfg.QuickBooks.BaseURL,
		RealmID:     cfg.QuickBooks.RealmID,
		AccessToken: cfg.QuickBooks.AccessToken,
		Timeout:     cfg.QuickBooks.Timeout,
	})

	engine := mapping.NewEngine(logger)

	processUC := usecase.NewProcessEvent(squareClient, qbClient, engine, linkRepo, dedupRepo, kafkaProd, cfg.Mapping, logger)

	// The QuickBooks budget is shared across worker replicas, so the rate
	// limiter lives in redis rather than in process memory.
	limiter := redisinfra.NewFixedWindowLimiter(redisClient, "quickbooks", cfg.Worker.RateLimit, cfg.Worker.RateWindow, logger)

	pool := worker.NewPool(worker.Config{
		Queue:             queue.Primary,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		LeaseTTL:          cfg.Worker.LeaseTTL,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		DrainTimeout:      cfg.Worker.DrainTimeout,
	}, jobQueue, processUC.Execute, limiter, processUC.OnDeadLetter, logger)

	// Metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: metricsMux}
	go func() {
		logger.Info("worker metrics server starting", "port", cfg.Worker.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listen failed", "error", err)
		}
	}()
	defer metricsSrv.Close()

	// Housekeeping: expired dedup records and terminal job retention.
	go runHousekeeping(ctx, dedupRepo, jobQueue, logger)

	if err := pool.Run(ctx); err != nil {
		logger.Error("worker pool stopped with error", "error", err)
	}

	logger.Info("worker exited")
}

func runHousekeeping(ctx context.Context, dedupRepo *postgres.DedupRepository, q *queue.Queue, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := dedupRepo.CleanupExpired(ctx, time.Now().UTC()); err != nil {
				logger.Error("dedup cleanup failed", "error", err)
			} else if n > 0 {
				logger.Info("expired dedup records removed", "count", n)
			}

			if n, err := q.TrimTerminal(ctx, queue.Primary); err != nil {
				logger.Error("terminal trim failed", "error", err)
			} else if n > 0 {
				logger.Info("terminal job records trimmed", "count", n)
			}
		}
	}
}
