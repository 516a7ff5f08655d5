// Package export executes ledger export jobs.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	infraBQ "github.com/dvloznov/ledger-core/internal/infra/bigquery"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/dvloznov/ledger-core/internal/statement"
	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned for job types whose destination is not set up.
var ErrNotConfigured = errors.New("export destination not configured")

// Source is the read side of the banking facade.
type Source interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error)
	GetLedgerEntriesByAccount(ctx context.Context, accountID string) ([]*domain.LedgerEntry, error)
}

// Warehouse receives ledger rows.
type Warehouse interface {
	Export(ctx context.Context, rows []*infraBQ.LedgerEntryRow) (int, error)
}

// Archive stores rendered statements.
type Archive interface {
	Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error)
}

type Runner struct {
	source    Source
	warehouse Warehouse
	archive   Archive
	now       domain.Clock
	log       zerolog.Logger
}

// NewRunner builds a runner. warehouse and archive may be nil, which turns
// the matching job type off.
func NewRunner(source Source, warehouse Warehouse, archive Archive, log zerolog.Logger) *Runner {
	return &Runner{source: source, warehouse: warehouse, archive: archive, now: domain.SystemClock, log: log}
}

// Supports reports whether jobs of type t can run.
func (r *Runner) Supports(t jobs.JobType) bool {
	switch t {
	case jobs.JobTypeLedgerExport:
		return r.warehouse != nil
	case jobs.JobTypeStatement:
		return r.archive != nil
	}
	return false
}

// Handle is a jobs.JobHandler.
func (r *Runner) Handle(ctx context.Context, job *jobs.ExportJob) (string, error) {
	if !r.Supports(job.Type) {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, job.Type)
	}

	account, err := r.source.GetAccount(ctx, job.AccountID)
	if err != nil {
		return "", fmt.Errorf("export: loading account: %w", err)
	}
	entries, err := r.source.GetLedgerEntriesByAccount(ctx, job.AccountID)
	if err != nil {
		return "", fmt.Errorf("export: loading ledger entries: %w", err)
	}
	txs, err := r.source.ListTransactions(ctx, job.AccountID)
	if err != nil {
		return "", fmt.Errorf("export: loading transactions: %w", err)
	}
	types := make(map[string]domain.TransactionType, len(txs))
	for _, tx := range txs {
		types[tx.ID] = tx.Type
	}

	switch job.Type {
	case jobs.JobTypeLedgerExport:
		return r.exportLedger(ctx, account, entries, types, job.From, job.To)
	default:
		return r.archiveStatement(ctx, account, entries, types, job.From, job.To)
	}
}

func (r *Runner) exportLedger(ctx context.Context, account *domain.Account, entries []*domain.LedgerEntry, types map[string]domain.TransactionType, from, to time.Time) (string, error) {
	now := r.now()
	rows := make([]*infraBQ.LedgerEntryRow, 0, len(entries))
	for _, e := range entries {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		rows = append(rows, infraBQ.NewLedgerEntryRow(e, account.Currency(), types[e.TransactionID], now))
	}

	n, err := r.warehouse.Export(ctx, rows)
	if err != nil {
		return "", err
	}
	r.log.Info().Str("account_id", account.ID()).Int("rows", n).Msg("Exported ledger entries")
	return fmt.Sprintf("%d rows", n), nil
}

func (r *Runner) archiveStatement(ctx context.Context, account *domain.Account, entries []*domain.LedgerEntry, types map[string]domain.TransactionType, from, to time.Time) (string, error) {
	st := statement.Build(account, entries, types, from, to)

	var buf bytes.Buffer
	if err := statement.WriteCSV(&buf, st); err != nil {
		return "", err
	}
	uri, err := r.archive.Upload(ctx, statement.ObjectName(account.ID(), r.now()), statement.ContentType, &buf)
	if err != nil {
		return "", err
	}
	r.log.Info().Str("account_id", account.ID()).Str("uri", uri).Int("lines", len(st.Lines)).Msg("Archived statement")
	return uri, nil
}
