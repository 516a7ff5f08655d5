package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

// LedgerStore implements ledger.LedgerStore.
type LedgerStore struct {
	q querier
}

const entryColumns = `id, account_id, transaction_id, direction, amount, created_at`

func (s *LedgerStore) Save(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	_, err := s.q.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AccountID, e.TransactionID, string(e.Direction), int64(e.Amount), e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("LedgerStore.Save: insert: %w", err)
	}
	saved := *e
	return &saved, nil
}

func (s *LedgerStore) GetByAccountID(ctx context.Context, accountID string) ([]*domain.LedgerEntry, error) {
	return s.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY seq`, accountID)
}

func (s *LedgerStore) GetByTransactionID(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error) {
	return s.list(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE transaction_id = $1 ORDER BY seq`, transactionID)
}

func (s *LedgerStore) list(ctx context.Context, query, arg string) ([]*domain.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("LedgerStore: query: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.LedgerEntry, error) {
		var (
			e         domain.LedgerEntry
			direction string
			amount    int64
		)
		if err := row.Scan(&e.ID, &e.AccountID, &e.TransactionID, &direction, &amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Direction = domain.Direction(direction)
		e.Amount = domain.Money(amount)
		e.CreatedAt = e.CreatedAt.UTC()
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("LedgerStore: collect rows: %w", err)
	}
	return entries, nil
}
