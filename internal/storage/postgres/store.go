// Package postgres implements the ledger persistence ports on PostgreSQL
// through pgx. Each unit of work is one database transaction; accounts read
// inside it are locked with SELECT ... FOR UPDATE until it ends.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx implements ledger.UnitOfWork with a READ COMMITTED transaction.
// Row locks on accounts plus the version check in AccountStore.Update keep
// concurrent operations from losing updates.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, stores ledger.Stores) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, storesFor(tx, true)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

// WithinReadTx implements ledger.UnitOfWork with a READ ONLY REPEATABLE READ
// transaction. Account reads do not take row locks.
func (s *Store) WithinReadTx(ctx context.Context, fn func(ctx context.Context, stores ledger.Stores) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("WithinReadTx: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, storesFor(tx, false)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("WithinReadTx: commit: %w", err)
	}
	return nil
}

func storesFor(q querier, lockRows bool) ledger.Stores {
	return ledger.Stores{
		Customers:    &CustomerStore{q: q},
		Accounts:     &AccountStore{q: q, forUpdate: lockRows},
		Transactions: &TransactionStore{q: q},
		Ledger:       &LedgerStore{q: q},
	}
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

var _ ledger.UnitOfWork = (*Store)(nil)
