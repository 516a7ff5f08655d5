package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

// TransactionStore implements ledger.TransactionStore. Account filters join
// through ledger_entries.
type TransactionStore struct {
	q querier
}

const transactionColumns = `t.id, t.type, t.amount, t.currency, t.status, t.created_at`

const touchesAccount = `t.id IN (SELECT transaction_id FROM ledger_entries WHERE account_id = $1)`

func (s *TransactionStore) Save(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	_, err := s.q.Exec(ctx,
		`INSERT INTO transactions (id, type, amount, currency, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		tx.ID, string(tx.Type), int64(tx.Amount), string(tx.Currency), string(tx.Status), tx.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("TransactionStore.Save: insert: %w", err)
	}
	saved := *tx
	return &saved, nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("TransactionStore.GetByID: %w", err)
	}
	return tx, nil
}

func (s *TransactionStore) GetByAccountID(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions t
		 WHERE `+touchesAccount+`
		 ORDER BY t.created_at DESC, t.seq DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("TransactionStore.GetByAccountID: query: %w", err)
	}
	defer rows.Close()

	txs := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("TransactionStore.GetByAccountID: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TransactionStore.GetByAccountID: rows: %w", err)
	}
	return txs, nil
}

func (s *TransactionStore) CountRecentByAccount(ctx context.Context, accountID string, since time.Time) (int, error) {
	var count int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions t
		 WHERE `+touchesAccount+` AND t.status = 'APPROVED' AND t.created_at >= $2`,
		accountID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("TransactionStore.CountRecentByAccount: %w", err)
	}
	return count, nil
}

func (s *TransactionStore) SumDailyByAccount(ctx context.Context, accountID string, dayStart time.Time) (domain.Money, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(t.amount), 0)::BIGINT FROM transactions t
		 WHERE `+touchesAccount+` AND t.status = 'APPROVED' AND t.created_at >= $2`,
		accountID, dayStart).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("TransactionStore.SumDailyByAccount: %w", err)
	}
	return domain.Money(total), nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx                      domain.Transaction
		txType, currency, state string
		amount                  int64
	)
	if err := row.Scan(&tx.ID, &txType, &amount, &currency, &state, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Amount = domain.Money(amount)
	tx.Currency = domain.Currency(currency)
	tx.Status = domain.TransactionStatus(state)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}
