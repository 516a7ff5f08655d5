package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledger-core/internal/api"
	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/config"
	"github.com/dvloznov/ledger-core/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-core/internal/logger"
	"github.com/dvloznov/ledger-core/internal/runtime"
	"github.com/dvloznov/ledger-core/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	var (
		port    = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		bucket  = flag.String("bucket", cfg.GCSBucket, "GCS bucket for statements (or set GCS_BUCKET env)")
		migrate = flag.Bool("migrate", false, "apply database migrations before serving")
	)
	flag.Parse()
	cfg.GCSBucket = *bucket

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if *migrate && cfg.DatabaseURL != "" {
		if err := postgres.Migrate(cfg.DatabaseURL, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	ctx := context.Background()
	rt, err := runtime.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize runtime")
	}
	defer rt.Close()

	if cfg.GCSBucket == "" {
		log.Warn().Msg("No GCS bucket configured - statement exports will be disabled")
	}
	if cfg.BigQueryProject == "" {
		log.Warn().Msg("No BigQuery project configured - ledger exports will be disabled")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithLogger(log))

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Msg("Starting export worker")
	if err := jobQueue.Start(workerCtx, rt.Exports.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export worker")
	}

	var idempotency middleware.IdempotencyStore = middleware.NewMemoryIdempotencyStore(runtime.IdempotencyTTL)
	if rt.Redis != nil {
		idempotency = middleware.NewRedisIdempotencyStore(rt.Redis, runtime.IdempotencyTTL)
	}

	deps := api.Deps{
		Banking:     rt.Service,
		Publisher:   jobQueue,
		JobStore:    jobStore,
		Exports:     rt.Exports,
		Idempotency: idempotency,
		Log:         log,
	}
	if rt.Postgres != nil {
		deps.Health = rt.Postgres
	}
	app := api.NewApp(deps)

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := app.Listen(":" + *port); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancelWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
