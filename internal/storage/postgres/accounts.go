package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

// AccountStore implements ledger.AccountStore.
type AccountStore struct {
	q         querier
	forUpdate bool
}

const accountColumns = `id, customer_id, currency, balance, status, version, created_at`

func (s *AccountStore) Save(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	st := a.State()
	_, err := s.q.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.ID, st.CustomerID, string(st.Currency), int64(st.Balance), string(st.Status), st.Version, st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("AccountStore.Save: insert: %w", err)
	}
	return domain.RestoreAccount(st), nil
}

// GetByID locks the row for the rest of the enclosing transaction unless the
// store belongs to a read-only unit of work.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	row := s.q.QueryRow(ctx, query, id)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("AccountStore.GetByID: %w", err)
	}
	return acc, nil
}

func (s *AccountStore) GetByCustomerID(ctx context.Context, customerID string) ([]*domain.Account, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("AccountStore.GetByCustomerID: query: %w", err)
	}
	defer rows.Close()

	accounts := []*domain.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("AccountStore.GetByCustomerID: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AccountStore.GetByCustomerID: rows: %w", err)
	}
	return accounts, nil
}

// Update writes balance and status when the stored version still matches.
func (s *AccountStore) Update(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	st := a.State()
	var version int64
	err := s.q.QueryRow(ctx,
		`UPDATE accounts SET balance = $2, status = $3, version = version + 1
		 WHERE id = $1 AND version = $4
		 RETURNING version`,
		st.ID, int64(st.Balance), string(st.Status), st.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, st.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("AccountStore.Update: check existence: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, st.ID)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentUpdate, st.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("AccountStore.Update: update: %w", err)
	}
	st.Version = version
	return domain.RestoreAccount(st), nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		st       domain.AccountState
		currency string
		balance  int64
		status   string
	)
	if err := row.Scan(&st.ID, &st.CustomerID, &currency, &balance, &status, &st.Version, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.Currency = domain.Currency(currency)
	st.Balance = domain.Money(balance)
	st.Status = domain.AccountStatus(status)
	st.CreatedAt = st.CreatedAt.UTC()
	return domain.RestoreAccount(st), nil
}
