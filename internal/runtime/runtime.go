// Package runtime wires configuration into a running ledger: storage,
// locking, the processor and the banking facade, and the export runner.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-core/internal/banking"
	"github.com/dvloznov/ledger-core/internal/config"
	"github.com/dvloznov/ledger-core/internal/export"
	"github.com/dvloznov/ledger-core/internal/gcsuploader"
	infraBQ "github.com/dvloznov/ledger-core/internal/infra/bigquery"
	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/dvloznov/ledger-core/internal/lock"
	"github.com/dvloznov/ledger-core/internal/storage/memory"
	"github.com/dvloznov/ledger-core/internal/storage/postgres"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Runtime holds the assembled components. Close releases every client that
// was opened.
type Runtime struct {
	Config   *config.Config
	Service  *banking.Service
	Exports  *export.Runner
	Exporter *infraBQ.LedgerExporter // nil unless BQ_PROJECT is set
	Archive  *gcsuploader.Archive    // nil unless GCS_BUCKET is set
	Postgres *postgres.Store         // nil when running on memory
	Redis    redis.UniversalClient   // nil unless REDIS_ADDR is set

	closers []func()
}

// Build connects the configured backends. Missing optional backends fall back
// to in-process implementations.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var uow ledger.UnitOfWork
	if cfg.DatabaseURL != "" {
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		rt.Postgres = store
		rt.closers = append(rt.closers, store.Close)
		uow = store
		log.Info().Msg("Using PostgreSQL storage")
	} else {
		uow = memory.NewStore()
		log.Warn().Msg("DATABASE_URL not set - using in-memory storage")
	}

	var locker ledger.Locker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("runtime: redis ping: %w", err)
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })

		opts := lock.DefaultOptions()
		opts.Expiry = cfg.LockTTL
		locker = lock.NewRedis(client, opts, log)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis locks")
	} else {
		locker = lock.NewLocal()
	}

	fee, err := cfg.FeePolicy()
	if err != nil {
		return nil, err
	}
	processor := ledger.NewProcessor(uow, locker, fee, cfg.RiskRules(),
		ledger.WithVelocityWindow(cfg.Risk.VelocityWindow),
		ledger.WithLogger(log))
	rt.Service = banking.NewService(uow, locker, processor,
		banking.WithMaxAccountsPerCustomer(cfg.MaxAccountsPerCustomer),
		banking.WithLogger(log))

	var warehouse export.Warehouse
	if cfg.BigQueryProject != "" {
		exp, err := infraBQ.NewLedgerExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset, cfg.BigQueryTable, log)
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		rt.Exporter = exp
		rt.closers = append(rt.closers, func() { _ = exp.Close() })
		warehouse = exp
	}

	var archive export.Archive
	if cfg.GCSBucket != "" {
		ar, err := gcsuploader.NewArchive(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("runtime: %w", err)
		}
		rt.Archive = ar
		rt.closers = append(rt.closers, func() { _ = ar.Close() })
		archive = ar
	}
	rt.Exports = export.NewRunner(rt.Service, warehouse, archive, log)

	ok = true
	return rt, nil
}

// IdempotencyTTL is how long replayable responses are kept.
const IdempotencyTTL = 24 * time.Hour

// Close releases clients in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
