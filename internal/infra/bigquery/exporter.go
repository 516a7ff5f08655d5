package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

const (
	// DefaultDataset and DefaultTable name the export destination when
	// nothing else is configured.
	DefaultDataset = "ledger"
	DefaultTable   = "ledger_entries"

	insertBatchSize = 500
)

// rowInserter is the part of *bigquery.Inserter the exporter needs.
type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// LedgerExporter streams ledger entries into a BigQuery table. Calls go
// through a circuit breaker so a failing warehouse is not hammered by
// export retries.
type LedgerExporter struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter rowInserter
	breaker  *gobreaker.CircuitBreaker
	project  string
	dataset  string
	log      zerolog.Logger
}

// NewLedgerExporter creates a client for project and targets dataset.table.
func NewLedgerExporter(ctx context.Context, project, dataset, table string, log zerolog.Logger) (*LedgerExporter, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewLedgerExporter: creating client: %w", err)
	}
	t := client.DatasetInProject(project, dataset).Table(table)
	e := newExporter(t.Inserter(), log)
	e.client = client
	e.table = t
	e.project = project
	e.dataset = dataset
	return e, nil
}

func newExporter(ins rowInserter, log zerolog.Logger) *LedgerExporter {
	e := &LedgerExporter{inserter: ins, log: log}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bigquery-ledger-export",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return e
}

// Close closes the BigQuery client connection.
func (e *LedgerExporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Export inserts rows in batches. Each row carries its entry id as the
// insert id, so re-exporting the same entries is deduplicated by BigQuery's
// best-effort streaming dedup.
func (e *LedgerExporter) Export(ctx context.Context, rows []*LedgerEntryRow) (int, error) {
	inserted := 0
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		batch := make([]*bigquery.StructSaver, 0, end-start)
		for _, r := range rows[start:end] {
			batch = append(batch, &bigquery.StructSaver{Struct: r, InsertID: r.EntryID})
		}

		_, err := e.breaker.Execute(func() (interface{}, error) {
			return nil, e.inserter.Put(ctx, batch)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return inserted, fmt.Errorf("LedgerExporter.Export: warehouse unavailable: %w", err)
			}
			return inserted, fmt.Errorf("LedgerExporter.Export: inserting rows: %w", err)
		}
		inserted += len(batch)
	}
	return inserted, nil
}

// EnsureTable creates the export table, partitioned by entry_date, unless it
// already exists.
func (e *LedgerExporter) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(LedgerEntryRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "entry_date",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"account_id"}},
	}
	if err := e.table.Create(ctx, meta); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			e.log.Info().Str("table", e.table.FullyQualifiedName()).Msg("Export table already exists")
			return nil
		}
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	e.log.Info().Str("table", e.table.FullyQualifiedName()).Msg("Created export table")
	return nil
}
