// Package ledgertest checks that a ledger.UnitOfWork implementation honours
// the persistence contract the processor relies on.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/dvloznov/ledger-core/internal/lock"
	"github.com/dvloznov/ledger-core/internal/policy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreSuite runs the contract tests. newUoW must return an empty store
// for each call.
func RunStoreSuite(t *testing.T, newUoW func(t *testing.T) ledger.UnitOfWork) {
	t.Run("CustomerRoundTrip", func(t *testing.T) { testCustomerRoundTrip(t, newUoW(t)) })
	t.Run("DepositAndTransfer", func(t *testing.T) { testDepositAndTransfer(t, newUoW(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newUoW(t)) })
	t.Run("StaleVersionRejected", func(t *testing.T) { testStaleVersionRejected(t, newUoW(t)) })
	t.Run("RiskAggregates", func(t *testing.T) { testRiskAggregates(t, newUoW(t)) })
	t.Run("ReadTxDiscardsWrites", func(t *testing.T) { testReadTxDiscardsWrites(t, newUoW(t)) })
	t.Run("ReadTxDoesNotWaitForWriter", func(t *testing.T) { testReadTxDoesNotWaitForWriter(t, newUoW(t)) })
}

var base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func seedCustomer(t *testing.T, uow ledger.UnitOfWork, email string) *domain.Customer {
	t.Helper()
	c, err := domain.NewCustomer("Test Customer", email, base)
	require.NoError(t, err)
	require.NoError(t, uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		_, err := s.Customers.Save(ctx, c)
		return err
	}))
	return c
}

func seedAccount(t *testing.T, uow ledger.UnitOfWork, customerID string) string {
	t.Helper()
	acc, err := domain.NewAccount(customerID, domain.USD, base)
	require.NoError(t, err)
	require.NoError(t, uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		_, err := s.Accounts.Save(ctx, acc)
		return err
	}))
	return acc.ID()
}

func read[T any](t *testing.T, uow ledger.UnitOfWork, fn func(ctx context.Context, s ledger.Stores) (T, error)) T {
	t.Helper()
	var out T
	require.NoError(t, uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		var err error
		out, err = fn(ctx, s)
		return err
	}))
	return out
}

func testCustomerRoundTrip(t *testing.T, uow ledger.UnitOfWork) {
	c := seedCustomer(t, uow, "round@example.com")

	got := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Customer, error) {
		return s.Customers.GetByEmail(ctx, "round@example.com")
	})
	assert.Equal(t, c, got)

	dup, err := domain.NewCustomer("Other", "round@example.com", base)
	require.NoError(t, err)
	err = uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		_, err := s.Customers.Save(ctx, dup)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateEmail)

	missing := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Customer, error) {
		return s.Customers.GetByID(ctx, "no-such-customer")
	})
	assert.Nil(t, missing)
}

func testDepositAndTransfer(t *testing.T, uow ledger.UnitOfWork) {
	c := seedCustomer(t, uow, "transfer@example.com")
	a := seedAccount(t, uow, c.ID)
	b := seedAccount(t, uow, c.ID)
	ctx := context.Background()

	clock := func() time.Time { return base }
	fee := policy.PercentFee{Rate: decimal.RequireFromString("0.015")}
	p := ledger.NewProcessor(uow, lock.NewLocal(), fee, nil, ledger.WithClock(clock))

	dep, err := p.Deposit(ctx, a, domain.MustParseMoney("1015.23"))
	require.NoError(t, err)
	tr, err := p.Transfer(ctx, a, b, domain.MustParseMoney("200"))
	require.NoError(t, err)

	accA := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Account, error) { return s.Accounts.GetByID(ctx, a) })
	accB := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Account, error) { return s.Accounts.GetByID(ctx, b) })
	// 1015.23 - 15.23 fee = 1000.00, then 1000.00 - 203.00.
	assert.Equal(t, "797.00", accA.Balance().String())
	assert.Equal(t, "200.00", accB.Balance().String())
	assert.Equal(t, int64(2), accA.Version())

	txs := read(t, uow, func(ctx context.Context, s ledger.Stores) ([]*domain.Transaction, error) {
		return s.Transactions.GetByAccountID(ctx, a)
	})
	require.Len(t, txs, 2)
	assert.ElementsMatch(t, []string{dep.ID, tr.ID}, []string{txs[0].ID, txs[1].ID})

	fetched := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Transaction, error) {
		return s.Transactions.GetByID(ctx, tr.ID)
	})
	assert.Equal(t, tr, fetched)

	entries := read(t, uow, func(ctx context.Context, s ledger.Stores) ([]*domain.LedgerEntry, error) {
		return s.Ledger.GetByTransactionID(ctx, tr.ID)
	})
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Debit, entries[0].Direction)
	assert.Equal(t, "203.00", entries[0].Amount.String())
	assert.Equal(t, domain.Credit, entries[1].Direction)
	assert.Equal(t, "200.00", entries[1].Amount.String())
}

func testRollbackOnError(t *testing.T, uow ledger.UnitOfWork) {
	c := seedCustomer(t, uow, "rollback@example.com")
	id := seedAccount(t, uow, c.ID)
	boom := errors.New("boom")

	err := uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		acc, err := s.Accounts.GetByID(ctx, id)
		require.NoError(t, err)
		require.NoError(t, acc.Deposit(500))
		if _, err := s.Accounts.Update(ctx, acc); err != nil {
			return err
		}
		tx, err := domain.NewTransaction(domain.TransactionDeposit, 500, domain.USD, base)
		require.NoError(t, err)
		require.NoError(t, tx.Approve())
		if _, err := s.Transactions.Save(ctx, tx); err != nil {
			return err
		}
		entry, err := domain.NewLedgerEntry(id, tx.ID, domain.Credit, 500, base)
		require.NoError(t, err)
		if _, err := s.Ledger.Save(ctx, entry); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Account, error) { return s.Accounts.GetByID(ctx, id) })
	assert.Equal(t, domain.Money(0), acc.Balance())
	entries := read(t, uow, func(ctx context.Context, s ledger.Stores) ([]*domain.LedgerEntry, error) {
		return s.Ledger.GetByAccountID(ctx, id)
	})
	assert.Empty(t, entries)
}

func testStaleVersionRejected(t *testing.T, uow ledger.UnitOfWork) {
	c := seedCustomer(t, uow, "stale@example.com")
	id := seedAccount(t, uow, c.ID)

	stale := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Account, error) { return s.Accounts.GetByID(ctx, id) })

	require.NoError(t, uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		acc, err := s.Accounts.GetByID(ctx, id)
		require.NoError(t, err)
		require.NoError(t, acc.Freeze())
		_, err = s.Accounts.Update(ctx, acc)
		return err
	}))

	err := uow.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		require.NoError(t, stale.Deposit(100))
		_, err := s.Accounts.Update(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
}

func testRiskAggregates(t *testing.T, uow ledger.UnitOfWork) {
	c := seedCustomer(t, uow, "risk@example.com")
	id := seedAccount(t, uow, c.ID)
	ctx := context.Background()

	now := base
	p := ledger.NewProcessor(uow, lock.NewLocal(), policy.NoFee{}, nil,
		ledger.WithClock(func() time.Time { return now }))

	now = base.Add(-13 * time.Hour) // previous UTC day
	_, err := p.Deposit(ctx, id, 1000)
	require.NoError(t, err)
	now = base.Add(-time.Hour)
	_, err = p.Deposit(ctx, id, 2000)
	require.NoError(t, err)
	now = base.Add(-time.Minute)
	_, err = p.Withdraw(ctx, id, 500)
	require.NoError(t, err)

	rc := read(t, uow, func(ctx context.Context, s ledger.Stores) (policy.RiskContext, error) {
		return ledger.RiskContext(ctx, s.Transactions, id, base, ledger.DefaultVelocityWindow)
	})
	assert.Equal(t, 1, rc.RecentTransactionCount)
	assert.Equal(t, domain.Money(2500), rc.DailyTotal)
}

func testReadTxDiscardsWrites(t *testing.T, uow ledger.UnitOfWork) {
	ctx := context.Background()
	owner := seedCustomer(t, uow, "reader@example.com")
	id := seedAccount(t, uow, owner.ID)

	var seen *domain.Account
	require.NoError(t, uow.WithinReadTx(ctx, func(ctx context.Context, s ledger.Stores) error {
		var err error
		seen, err = s.Accounts.GetByID(ctx, id)
		return err
	}))
	require.NotNil(t, seen)
	assert.Equal(t, owner.ID, seen.CustomerID())

	extra, err := domain.NewCustomer("Ghost Writer", "ghost@example.com", base)
	require.NoError(t, err)
	// A read-only backend may refuse the write outright; either way it must
	// not persist.
	_ = uow.WithinReadTx(ctx, func(ctx context.Context, s ledger.Stores) error {
		_, err := s.Customers.Save(ctx, extra)
		return err
	})
	got := read(t, uow, func(ctx context.Context, s ledger.Stores) (*domain.Customer, error) {
		return s.Customers.GetByID(ctx, extra.ID)
	})
	assert.Nil(t, got)
}

func testReadTxDoesNotWaitForWriter(t *testing.T, uow ledger.UnitOfWork) {
	ctx := context.Background()
	owner := seedCustomer(t, uow, "busy@example.com")
	id := seedAccount(t, uow, owner.ID)

	locked := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	writer := make(chan error, 1)
	go func() {
		writer <- uow.WithinTx(ctx, func(ctx context.Context, s ledger.Stores) error {
			if _, err := s.Accounts.GetByID(ctx, id); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	select {
	case <-locked:
	case err := <-writer:
		t.Fatalf("writer finished early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer never loaded the account")
	}

	reader := make(chan error, 1)
	go func() {
		reader <- uow.WithinReadTx(ctx, func(ctx context.Context, s ledger.Stores) error {
			acc, err := s.Accounts.GetByID(ctx, id)
			if err == nil && acc == nil {
				err = errors.New("account missing")
			}
			return err
		})
	}()

	select {
	case err := <-reader:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read waited behind the writer's row lock")
	}

	unblock()
	require.NoError(t, <-writer)
}
