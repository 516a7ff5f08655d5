// Package ledger is the transaction-processing core: the persistence ports it
// consumes and the Processor that runs deposits, withdrawals and transfers
// as single units of work.
package ledger

import (
	"context"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
)

// CustomerStore persists customers.
// Get methods return (nil, nil) when nothing matches.
type CustomerStore interface {
	Save(ctx context.Context, c *domain.Customer) (*domain.Customer, error)
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	GetByEmail(ctx context.Context, email string) (*domain.Customer, error)
	// Update persists a status change.
	Update(ctx context.Context, c *domain.Customer) (*domain.Customer, error)
}

// AccountStore persists accounts.
type AccountStore interface {
	Save(ctx context.Context, a *domain.Account) (*domain.Account, error)
	// GetByID returns (nil, nil) when the account does not exist. Inside
	// WithinTx the row stays locked until commit or rollback; inside
	// WithinReadTx it is not locked.
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByCustomerID(ctx context.Context, customerID string) ([]*domain.Account, error)
	// Update writes a only if the stored version still equals a.Version(),
	// returning domain.ErrConcurrentUpdate otherwise. The returned account
	// carries the new version.
	Update(ctx context.Context, a *domain.Account) (*domain.Account, error)
}

// TransactionStore persists transactions. Account lookups resolve through
// ledger entries; a transaction has no account column of its own.
type TransactionStore interface {
	Save(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// GetByAccountID lists the account's transactions newest first.
	GetByAccountID(ctx context.Context, accountID string) ([]*domain.Transaction, error)
	// CountRecentByAccount counts APPROVED transactions created at or after since.
	CountRecentByAccount(ctx context.Context, accountID string, since time.Time) (int, error)
	// SumDailyByAccount sums APPROVED transaction amounts created at or after
	// dayStart, which callers set to 00:00 UTC.
	SumDailyByAccount(ctx context.Context, accountID string, dayStart time.Time) (domain.Money, error)
}

// LedgerStore appends and reads ledger entries. Lists are in creation order.
type LedgerStore interface {
	Save(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error)
	GetByAccountID(ctx context.Context, accountID string) ([]*domain.LedgerEntry, error)
	GetByTransactionID(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error)
}

// Stores bundles the four ports bound to one unit of work.
type Stores struct {
	Customers    CustomerStore
	Accounts     AccountStore
	Transactions TransactionStore
	Ledger       LedgerStore
}

// UnitOfWork runs fn atomically. Every write made through the Stores passed
// to fn becomes visible together when fn returns nil, and none of them do
// when fn returns an error or panics.
//
// WithinReadTx runs fn against a consistent snapshot without taking row
// locks, so queries do not wait behind monetary operations. Writes made
// inside it are never committed.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
	WithinReadTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Locker serializes work on accounts. WithLock acquires every key (in
// ascending order, duplicates collapsed), runs fn and releases them.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}
