package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/ledger-core/internal/config"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/dvloznov/ledger-core/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-core/internal/logger"
	"github.com/dvloznov/ledger-core/internal/runtime"
	"github.com/rs/zerolog"
)

func main() {
	accounts := flag.String("accounts", "", "comma-separated account IDs to export")
	types := flag.String("types", "ledger_export,statement", "comma-separated job types to schedule")
	interval := flag.Duration("interval", 24*time.Hour, "export window length")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	accountIDs := splitList(*accounts)
	if len(accountIDs) == 0 {
		log.Fatal().Msg("Error: -accounts is required")
	}
	jobTypes, err := parseJobTypes(*types)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -types")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("Error: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := runtime.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize runtime")
	}
	defer rt.Close()

	for _, t := range jobTypes {
		if !rt.Exports.Supports(t) {
			log.Fatal().Str("type", string(t)).Msg("Export destination not configured (set BQ_PROJECT or GCS_BUCKET)")
		}
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithLogger(log))
	if err := jobQueue.Start(ctx, rt.Exports.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().
		Strs("accounts", accountIDs).
		Dur("interval", *interval).
		Msg("Worker service started")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	windowEnd := time.Now().UTC().Truncate(*interval)
	enqueue(ctx, log, jobQueue, scheduleJobs(accountIDs, jobTypes, windowEnd.Add(-*interval), windowEnd))

loop:
	for {
		select {
		case <-ticker.C:
			next := time.Now().UTC().Truncate(*interval)
			if !next.After(windowEnd) {
				continue
			}
			enqueue(ctx, log, jobQueue, scheduleJobs(accountIDs, jobTypes, windowEnd, next))
			windowEnd = next
		case <-quit:
			break loop
		}
	}

	log.Info().Msg("Shutting down worker service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}

func enqueue(ctx context.Context, log zerolog.Logger, pub jobs.Publisher, batch []*jobs.ExportJob) {
	for _, job := range batch {
		if err := pub.PublishExport(ctx, job); err != nil {
			log.Error().Err(err).
				Str("account_id", job.AccountID).
				Str("type", string(job.Type)).
				Msg("Failed to enqueue export")
		}
	}
}

// scheduleJobs builds one job per account and type for the window [from, to).
func scheduleJobs(accountIDs []string, types []jobs.JobType, from, to time.Time) []*jobs.ExportJob {
	out := make([]*jobs.ExportJob, 0, len(accountIDs)*len(types))
	for _, id := range accountIDs {
		for _, t := range types {
			out = append(out, &jobs.ExportJob{
				Type:      t,
				AccountID: id,
				From:      from,
				To:        to,
			})
		}
	}
	return out
}

func parseJobTypes(s string) ([]jobs.JobType, error) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("no job types given")
	}
	out := make([]jobs.JobType, 0, len(parts))
	for _, p := range parts {
		t, err := jobs.ParseJobType(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
