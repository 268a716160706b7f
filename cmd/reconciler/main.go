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
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
	"github.com/Jativax/sq-qb-integration-sub000/internal/reconcile"
	"github.com/Jativax/sq-qb-integration-sub000/internal/square"
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

	kafkaProd := infraFactory.KafkaProducer()

	jobRepo := postgres.NewJobRepository(pgPool)
	dlqRepo := postgres.NewDeadLetterRepository(pgPool)
	linkRepo := postgres.NewLinkRepository(pgPool)
	jobQueue := queue.New(jobRepo, dlqRepo, logger)

	squareClient := square.NewClient(square.Config{
		BaseURL:     cfg.Square.BaseURL,
		AccessToken: cfg.Square.AccessToken,
		LocationID:  cfg.Square.LocationID,
		Timeout:     cfg.Square.Timeout,
	})

	scanner := reconcile.NewScanner(reconcile.Config{
		Window:    cfg.Reconcile.Window,
		Exclusion: cfg.Reconcile.Exclusion,
	}, squareClient, linkRepo, jobQueue, kafkaProd, logger)

	// Each pass re-enqueues its own successor with the configured delay, so
	// the schedule survives restarts and never overlaps itself. The trigger's
	// dead-letter hook reschedules even when a pass exhausts its retries.
	trigger := reconcile.NewTrigger(scanner, jobQueue, cfg.Reconcile.Interval, logger)

	// Seed the first trigger if none is pending, such as on first deploy.
	depth, err := jobQueue.Depth(ctx, queue.Scheduled)
	if err != nil {
		logger.Error("failed to inspect scheduled queue", "error", err)
		os.Exit(1)
	}
	if depth == 0 {
		if _, err := jobQueue.Enqueue(ctx, queue.Scheduled, reconcile.SeedPayload(), queue.EnqueueOptions{}); err != nil {
			logger.Error("failed to seed reconciliation trigger", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded initial reconciliation trigger")
	}

	// Overlapping passes would double-report orphans, hence one worker.
	pool := worker.NewPool(worker.Config{
		Queue:        queue.Scheduled,
		Concurrency:  1,
		PollInterval: 5 * time.Second,
		LeaseTTL:     10 * time.Minute,
	}, jobQueue, trigger.Handle, nil, trigger.OnDeadLetter, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{Addr: ":" + cfg.Reconcile.MetricsPort, Handler: metricsMux}
	go func() {
		logger.Info("reconciler metrics server starting", "port", cfg.Reconcile.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listen failed", "error", err)
		}
	}()
	defer metricsSrv.Close()

	if err := pool.Run(ctx); err != nil {
		logger.Error("reconciler stopped with error", "error", err)
	}

	logger.Info("reconciler exited")
}
