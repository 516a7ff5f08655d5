package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-core/internal/config"
	infraBQ "github.com/dvloznov/ledger-core/internal/infra/bigquery"
	"github.com/dvloznov/ledger-core/internal/logger"
	"github.com/dvloznov/ledger-core/internal/storage/postgres"
)

const (
	targetPostgres = "postgres"
	targetBigQuery = "bigquery"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	var (
		targetsFlag = flag.String("targets", targetPostgres, "comma separated list of postgres, bigquery")
		dsn         = flag.String("database-url", cfg.DatabaseURL, "PostgreSQL DSN (or set DATABASE_URL env)")
		projectID   = flag.String("project", cfg.BigQueryProject, "GCP project ID (or set BQ_PROJECT env)")
		datasetID   = flag.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
		tableID     = flag.String("table", cfg.BigQueryTable, "BigQuery export table")
	)
	flag.Parse()

	targets, err := parseTargets(*targetsFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -targets")
	}

	for _, target := range targets {
		switch target {
		case targetPostgres:
			if *dsn == "" {
				log.Fatal().Msg("Error: -database-url or DATABASE_URL is required")
			}
			log.Info().Msg("Applying PostgreSQL migrations")
			if err := postgres.Migrate(*dsn, log); err != nil {
				log.Fatal().Err(err).Msg("PostgreSQL migration failed")
			}

		case targetBigQuery:
			if *projectID == "" {
				log.Fatal().Msg("Error: -project or BQ_PROJECT is required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			exp, err := infraBQ.NewLedgerExporter(ctx, *projectID, *datasetID, *tableID, log)
			if err != nil {
				cancel()
				log.Fatal().Err(err).Msg("Failed to create BigQuery client")
			}
			log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")
			err = exp.EnsureTable(ctx)
			_ = exp.Close()
			cancel()
			if err != nil {
				log.Fatal().Err(err).Msg("BigQuery table creation failed")
			}
		}
	}
	log.Info().Strs("targets", targets).Msg("Migration complete")
}

// parseTargets splits and validates the -targets flag, dropping duplicates.
func parseTargets(s string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		t := strings.ToLower(strings.TrimSpace(part))
		if t == "" || seen[t] {
			continue
		}
		if t != targetPostgres && t != targetBigQuery {
			return nil, fmt.Errorf("unknown target %q", part)
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	return out, nil
}
