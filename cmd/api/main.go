package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/api"
	"github.com/Jativax/sq-qb-integration-sub000/internal/application/factories/infrastructure"
	"github.com/Jativax/sq-qb-integration-sub000/internal/config"
	"github.com/Jativax/sq-qb-integration-sub000/internal/infrastructure/postgres"
	redisinfra "github.com/Jativax/sq-qb-integration-sub000/internal/infrastructure/redis"
	"github.com/Jativax/sq-qb-integration-sub000/internal/mapping"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
	"github.com/Jativax/sq-qb-integration-sub000/internal/signature"
	"github.com/Jativax/sq-qb-integration-sub000/internal/usecase"
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

	// Repositories
	dedupRepo := postgres.NewDedupRepository(pgPool)
	jobRepo := postgres.NewJobRepository(pgPool)
	dlqRepo := postgres.NewDeadLetterRepository(pgPool)
	linkRepo := postgres.NewLinkRepository(pgPool)
	txManager := postgres.NewTxManager(pgPool)

	jobQueue := queue.New(jobRepo, dlqRepo, logger)
	eventCache := redisinfra.NewEventCache(redisClient)

	// The test bypass is refused in production no matter what the flag says.
	allowBypass := cfg.Webhook.AllowTestSignature && cfg.App.Environment != "production"
	validator := signature.NewValidator(cfg.Webhook.SignatureKey, allowBypass, logger)

	engine := mapping.NewEngine(logger)

	// UseCases
	ingestUC := usecase.NewIngestEvent(validator, dedupRepo, eventCache, jobQueue, txManager, logger)
	getLinkUC := usecase.NewGetLink(redisClient, linkRepo)
	listDeadUC := usecase.NewListDeadLetters(dlqRepo)
	replayUC := usecase.NewReplayDeadLetter(jobQueue, logger)

	handlers := api.NewHandlers(ingestUC, getLinkUC, listDeadUC, replayUC, engine, cfg.Webhook.NotificationURL, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.NewRouter(handlers),
	}

	go func() {
		logger.Info("webhook server starting", "port", cfg.HTTP.Port, "environment", cfg.App.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down webhook server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("webhook server exiting")
}
