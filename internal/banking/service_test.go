package banking

import (
	"context"
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

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(opts ...Option) *Service {
	store := memory.NewStore()
	locker := lock.NewLocal()
	clock := func() time.Time { return testNow }
	processor := ledger.NewProcessor(store, locker,
		policy.PercentFee{Rate: decimal.RequireFromString("0.015")}, nil,
		ledger.WithClock(clock))
	return NewService(store, locker, processor, append([]Option{WithClock(clock)}, opts...)...)
}

func TestEndToEndScenario(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, "Grace Hopper", "grace@example.com")
	require.NoError(t, err)

	acc, err := svc.CreateAccount(ctx, c.ID, domain.USD)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), acc.Balance())

	tx, err := svc.Deposit(ctx, acc.ID(), domain.MustParseMoney("500"))
	require.NoError(t, err)

	got, err := svc.GetAccount(ctx, acc.ID())
	require.NoError(t, err)
	assert.Equal(t, "492.50", got.Balance().String())

	txs, err := svc.ListTransactions(ctx, acc.ID())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx, txs[0])

	byTx, err := svc.GetLedgerEntriesByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	byAccount, err := svc.GetLedgerEntriesByAccount(ctx, acc.ID())
	require.NoError(t, err)
	assert.Equal(t, byTx, byAccount)
	require.Len(t, byTx, 1)
	assert.Equal(t, "492.50", byTx[0].Amount.String())

	fetched, err := svc.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx, fetched)
}

func TestCreateCustomerRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.CreateCustomer(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)

	_, err = svc.CreateCustomer(ctx, "Another Ada", "ADA@example.com")
	assert.ErrorIs(t, err, domain.ErrDuplicateEmail)

	_, err = svc.CreateCustomer(ctx, "Ada", "not-an-email")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
}

func TestCreateAccountRules(t *testing.T) {
	svc := newTestService(WithMaxAccountsPerCustomer(2))
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, "missing", domain.USD)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	c, err := svc.CreateCustomer(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, c.ID, domain.Currency("JPY"))
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	for i := 0; i < 2; i++ {
		_, err = svc.CreateAccount(ctx, c.ID, domain.EUR)
		require.NoError(t, err)
	}
	_, err = svc.CreateAccount(ctx, c.ID, domain.EUR)
	assert.ErrorIs(t, err, domain.ErrAccountLimitReached)

	accounts, err := svc.ListCustomerAccounts(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	suspended, err := svc.CreateCustomer(ctx, "Bob", "bob@example.com")
	require.NoError(t, err)
	_, err = svc.UpdateCustomerStatus(ctx, suspended.ID, domain.CustomerSuspended)
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, suspended.ID, domain.USD)
	assert.ErrorIs(t, err, domain.ErrCustomerInactive)
}

func TestUpdateCustomerStatusWithActiveAccounts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	acc, err := svc.CreateAccount(ctx, c.ID, domain.USD)
	require.NoError(t, err)

	_, err = svc.UpdateCustomerStatus(ctx, c.ID, domain.CustomerInactive)
	assert.ErrorIs(t, err, domain.ErrActiveAccounts)

	_, err = svc.CloseAccount(ctx, acc.ID())
	require.NoError(t, err)

	updated, err := svc.UpdateCustomerStatus(ctx, c.ID, domain.CustomerInactive)
	require.NoError(t, err)
	assert.Equal(t, domain.CustomerInactive, updated.Status)

	_, err = svc.UpdateCustomerStatus(ctx, c.ID, domain.CustomerStatus("GONE"))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestAccountAdministration(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	acc, err := svc.CreateAccount(ctx, c.ID, domain.USD)
	require.NoError(t, err)

	frozen, err := svc.FreezeAccount(ctx, acc.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.AccountFrozen, frozen.Status())

	_, err = svc.Deposit(ctx, acc.ID(), 100)
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)

	_, err = svc.UnfreezeAccount(ctx, acc.ID())
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, acc.ID(), 100)
	require.NoError(t, err)

	closed, err := svc.CloseAccount(ctx, acc.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.AccountClosed, closed.Status())

	_, err = svc.UnfreezeAccount(ctx, acc.ID())
	assert.ErrorIs(t, err, domain.ErrAccountClosed)

	_, err = svc.FreezeAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestQueriesReportMissingEntities(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.ListTransactions(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = svc.GetLedgerEntriesByAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = svc.GetLedgerEntriesByTransaction(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = svc.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = svc.GetCustomer(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)

	_, err = svc.ListCustomerAccounts(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}
