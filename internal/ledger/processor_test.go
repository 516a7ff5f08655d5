package ledger_test

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
	"github.com/dvloznov/ledger-core/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var onePointFive = policy.PercentFee{Rate: decimal.RequireFromString("0.015")}

type fixture struct {
	store  *memory.Store
	locker *lock.Local
	clock  time.Time
}

func newFixture() *fixture {
	return &fixture{
		store:  memory.NewStore(),
		locker: lock.NewLocal(),
		clock:  time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) processor(fee policy.FeePolicy, rules ...policy.RiskRule) *ledger.Processor {
	return ledger.NewProcessor(f.store, f.locker, fee, rules, ledger.WithClock(f.now))
}

func (f *fixture) openAccount(t *testing.T, currency domain.Currency) string {
	t.Helper()
	acc, err := domain.NewAccount("cust-1", currency, f.clock)
	require.NoError(t, err)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		_, err := s.Accounts.Save(ctx, acc)
		return err
	}))
	return acc.ID()
}

func (f *fixture) account(t *testing.T, id string) *domain.Account {
	t.Helper()
	var acc *domain.Account
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		var err error
		acc, err = s.Accounts.GetByID(ctx, id)
		return err
	}))
	require.NotNil(t, acc)
	return acc
}

func (f *fixture) entries(t *testing.T, accountID string) []*domain.LedgerEntry {
	t.Helper()
	var out []*domain.LedgerEntry
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		var err error
		out, err = s.Ledger.GetByAccountID(ctx, accountID)
		return err
	}))
	return out
}

func (f *fixture) transactions(t *testing.T, accountID string) []*domain.Transaction {
	t.Helper()
	var out []*domain.Transaction
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		var err error
		out, err = s.Transactions.GetByAccountID(ctx, accountID)
		return err
	}))
	return out
}

func (f *fixture) setStatus(t *testing.T, id string, mutate func(a *domain.Account)) {
	t.Helper()
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		acc, err := s.Accounts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		mutate(acc)
		_, err = s.Accounts.Update(ctx, acc)
		return err
	}))
}

func money(s string) domain.Money { return domain.MustParseMoney(s) }

func TestDepositWithPercentFee(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)
	p := f.processor(onePointFive)

	tx, err := p.Deposit(context.Background(), id, money("500"))
	require.NoError(t, err)

	assert.Equal(t, money("500"), tx.Amount, "transaction carries the gross amount")
	assert.Equal(t, domain.TransactionDeposit, tx.Type)
	assert.Equal(t, domain.TransactionApproved, tx.Status)
	assert.Equal(t, domain.USD, tx.Currency)
	assert.Equal(t, money("492.50"), f.account(t, id).Balance())

	entries := f.entries(t, id)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.Credit, entries[0].Direction)
	assert.Equal(t, money("492.50"), entries[0].Amount)
	assert.Equal(t, tx.ID, entries[0].TransactionID)
}

func TestTransferWithPercentFee(t *testing.T) {
	f := newFixture()
	a := f.openAccount(t, domain.USD)
	b := f.openAccount(t, domain.USD)
	ctx := context.Background()

	_, err := f.processor(policy.NoFee{}).Deposit(ctx, a, money("1000"))
	require.NoError(t, err)

	tx, err := f.processor(onePointFive).Transfer(ctx, a, b, money("200"))
	require.NoError(t, err)

	assert.Equal(t, money("200"), tx.Amount)
	assert.Equal(t, money("797.00"), f.account(t, a).Balance())
	assert.Equal(t, money("200.00"), f.account(t, b).Balance())

	var txEntries []*domain.LedgerEntry
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, s ledger.Stores) error {
		txEntries, err = s.Ledger.GetByTransactionID(ctx, tx.ID)
		return err
	}))
	require.Len(t, txEntries, 2)
	byDirection := map[domain.Direction]*domain.LedgerEntry{}
	for _, e := range txEntries {
		byDirection[e.Direction] = e
	}
	assert.Equal(t, a, byDirection[domain.Debit].AccountID)
	assert.Equal(t, money("203.00"), byDirection[domain.Debit].Amount)
	assert.Equal(t, b, byDirection[domain.Credit].AccountID)
	assert.Equal(t, money("200.00"), byDirection[domain.Credit].Amount)

	require.Len(t, f.transactions(t, b), 1, "destination sees the transfer through its ledger entry")
}

func TestWithdrawChecksFundsAfterFee(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)
	ctx := context.Background()

	_, err := f.processor(policy.NoFee{}).Deposit(ctx, id, money("100"))
	require.NoError(t, err)

	p := f.processor(policy.FlatFee{Fee: money("2")})

	_, err = p.Withdraw(ctx, id, money("99"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, money("100"), f.account(t, id).Balance())
	assert.Len(t, f.transactions(t, id), 1, "failed withdrawal persists nothing")
	assert.Len(t, f.entries(t, id), 1)

	tx, err := p.Withdraw(ctx, id, money("98"))
	require.NoError(t, err)
	assert.Equal(t, money("98"), tx.Amount)
	assert.Equal(t, domain.Money(0), f.account(t, id).Balance())

	entries := f.entries(t, id)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Debit, entries[1].Direction)
	assert.Equal(t, money("100"), entries[1].Amount)
}

func TestOperationsRejectInactiveAccounts(t *testing.T) {
	freeze := func(a *domain.Account) { _ = a.Freeze() }
	closeAcc := func(a *domain.Account) { a.Close() }

	tests := []struct {
		name    string
		mutate  func(a *domain.Account)
		target  string // "source" or "destination"
		op      string
		wantErr error
	}{
		{"deposit frozen", freeze, "source", "deposit", domain.ErrAccountFrozen},
		{"deposit closed", closeAcc, "source", "deposit", domain.ErrAccountClosed},
		{"withdraw frozen", freeze, "source", "withdraw", domain.ErrAccountFrozen},
		{"withdraw closed", closeAcc, "source", "withdraw", domain.ErrAccountClosed},
		{"transfer frozen source", freeze, "source", "transfer", domain.ErrAccountFrozen},
		{"transfer closed source", closeAcc, "source", "transfer", domain.ErrAccountClosed},
		{"transfer frozen destination", freeze, "destination", "transfer", domain.ErrAccountFrozen},
		{"transfer closed destination", closeAcc, "destination", "transfer", domain.ErrAccountClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			src := f.openAccount(t, domain.USD)
			dst := f.openAccount(t, domain.USD)
			ctx := context.Background()
			p := f.processor(policy.NoFee{})

			_, err := p.Deposit(ctx, src, money("50"))
			require.NoError(t, err)

			if tt.target == "source" {
				f.setStatus(t, src, tt.mutate)
			} else {
				f.setStatus(t, dst, tt.mutate)
			}

			switch tt.op {
			case "deposit":
				_, err = p.Deposit(ctx, src, money("10"))
			case "withdraw":
				_, err = p.Withdraw(ctx, src, money("10"))
			case "transfer":
				_, err = p.Transfer(ctx, src, dst, money("10"))
			}
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, money("50"), f.account(t, src).Balance())
			assert.Equal(t, domain.Money(0), f.account(t, dst).Balance())
			assert.Len(t, f.entries(t, src), 1)
			assert.Empty(t, f.entries(t, dst))
		})
	}
}

func TestInputFailures(t *testing.T) {
	f := newFixture()
	usd := f.openAccount(t, domain.USD)
	eur := f.openAccount(t, domain.EUR)
	ctx := context.Background()
	p := f.processor(policy.NoFee{})

	_, err := p.Deposit(ctx, usd, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = p.Withdraw(ctx, usd, -100)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = p.Deposit(ctx, "missing", money("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = p.Transfer(ctx, "missing", usd, money("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = p.Transfer(ctx, usd, "missing", money("1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = p.Transfer(ctx, usd, usd, money("1"))
	assert.ErrorIs(t, err, domain.ErrSameAccount)

	_, err = p.Deposit(ctx, usd, money("10"))
	require.NoError(t, err)
	_, err = p.Transfer(ctx, usd, eur, money("1"))
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestDepositFeeConsumingAmountIsInvalid(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)

	_, err := f.processor(policy.FlatFee{Fee: money("5")}).Deposit(context.Background(), id, money("5"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Empty(t, f.entries(t, id))
}

func TestRiskRulesGateOperations(t *testing.T) {
	f := newFixture()
	src := f.openAccount(t, domain.USD)
	dst := f.openAccount(t, domain.USD)
	ctx := context.Background()

	_, err := f.processor(policy.NoFee{}).Deposit(ctx, src, money("1000"))
	require.NoError(t, err)

	p := f.processor(policy.NoFee{},
		policy.MaxAmount{Max: money("100")},
		policy.DailyLimit{Limit: money("1150")},
	)

	_, err = p.Withdraw(ctx, src, money("150"))
	var rr *domain.RiskRejectedError
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, policy.RuleMaxAmount, rr.Rule)

	_, err = p.Transfer(ctx, src, dst, money("100"))
	require.NoError(t, err, "boundary amount passes")

	// 1000 deposit + 100 transfer already count today.
	_, err = p.Withdraw(ctx, src, money("60"))
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, policy.RuleDailyLimit, rr.Rule)

	assert.Equal(t, money("900"), f.account(t, src).Balance())
	assert.Len(t, f.transactions(t, src), 2)

	f.clock = f.clock.Add(24 * time.Hour)
	_, err = p.Withdraw(ctx, src, money("60"))
	assert.NoError(t, err, "daily total resets at the UTC day boundary")
}

func TestRiskRuleOrderDecidesRejection(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)

	p := f.processor(policy.NoFee{},
		policy.DailyLimit{Limit: money("10")},
		policy.MaxAmount{Max: money("10")},
	)

	_, err := p.Deposit(context.Background(), id, money("50"))
	var rr *domain.RiskRejectedError
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, policy.RuleDailyLimit, rr.Rule)
}

func TestVelocityWindow(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)
	ctx := context.Background()
	p := f.processor(policy.NoFee{}, policy.Velocity{MaxTransactions: 2})

	for i := 0; i < 3; i++ {
		_, err := p.Deposit(ctx, id, money("1"))
		require.NoError(t, err)
		f.clock = f.clock.Add(time.Minute)
	}

	_, err := p.Deposit(ctx, id, money("1"))
	require.ErrorIs(t, err, domain.ErrRiskRejected)

	f.clock = f.clock.Add(ledger.DefaultVelocityWindow)
	_, err = p.Deposit(ctx, id, money("1"))
	assert.NoError(t, err, "old transactions fall out of the window")
}

// failingLedger wraps a unit of work so that ledger entry writes fail after
// the account and transaction writes have been staged.
type failingLedger struct {
	ledger.UnitOfWork
}

var errDiskFull = errors.New("disk full")

func (u failingLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, s ledger.Stores) error) error {
	return u.UnitOfWork.WithinTx(ctx, func(ctx context.Context, s ledger.Stores) error {
		s.Ledger = brokenLedger{s.Ledger}
		return fn(ctx, s)
	})
}

type brokenLedger struct{ ledger.LedgerStore }

func (brokenLedger) Save(context.Context, *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	return nil, errDiskFull
}

func TestPartialWriteFailureRollsBack(t *testing.T) {
	f := newFixture()
	a := f.openAccount(t, domain.USD)
	b := f.openAccount(t, domain.USD)
	ctx := context.Background()

	_, err := f.processor(policy.NoFee{}).Deposit(ctx, a, money("100"))
	require.NoError(t, err)

	p := ledger.NewProcessor(failingLedger{f.store}, f.locker, policy.NoFee{}, nil, ledger.WithClock(f.now))

	_, err = p.Transfer(ctx, a, b, money("40"))
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	assert.Equal(t, money("100"), f.account(t, a).Balance())
	assert.Equal(t, domain.Money(0), f.account(t, b).Balance())
	assert.Len(t, f.transactions(t, a), 1)
}

func TestRefetchMatchesReturnedTransaction(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)

	tx, err := f.processor(onePointFive).Deposit(context.Background(), id, money("12.34"))
	require.NoError(t, err)

	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, s ledger.Stores) error {
		got, err := s.Transactions.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, tx, got)
		return nil
	}))
}

func TestConcurrentOppositeTransfers(t *testing.T) {
	f := newFixture()
	a := f.openAccount(t, domain.USD)
	b := f.openAccount(t, domain.USD)
	ctx := context.Background()
	p := f.processor(policy.NoFee{})

	_, err := p.Deposit(ctx, a, money("100"))
	require.NoError(t, err)
	_, err = p.Deposit(ctx, b, money("100"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := p.Transfer(ctx, a, b, money("3"))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := p.Transfer(ctx, b, a, money("3"))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	balA, balB := f.account(t, a).Balance(), f.account(t, b).Balance()
	assert.Equal(t, money("200"), balA+balB, "no money created or lost")
	assert.GreaterOrEqual(t, balA, domain.Money(0))
	assert.GreaterOrEqual(t, balB, domain.Money(0))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture()
	id := f.openAccount(t, domain.USD)
	ctx := context.Background()
	p := f.processor(policy.NoFee{})

	_, err := p.Deposit(ctx, id, money("10"))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Withdraw(ctx, id, money("1")); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, approved)
	assert.Equal(t, domain.Money(0), f.account(t, id).Balance())
}
