// Package banking is the entry point used by transports: customer and
// account administration, the monetary operations of the ledger core, and
// the read-side queries over transactions and ledger entries.
package banking

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/rs/zerolog"
)

// DefaultMaxAccountsPerCustomer caps how many accounts one customer may open.
const DefaultMaxAccountsPerCustomer = 5

// Processor is the monetary core the service delegates to.
type Processor interface {
	Deposit(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error)
	Withdraw(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error)
	Transfer(ctx context.Context, fromID, toID string, amount domain.Money) (*domain.Transaction, error)
}

// Service implements the banking operations on top of a unit of work.
type Service struct {
	uow         ledger.UnitOfWork
	locker      ledger.Locker
	processor   Processor
	maxAccounts int
	now         domain.Clock
	log         zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithMaxAccountsPerCustomer(n int) Option {
	return func(s *Service) { s.maxAccounts = n }
}

func WithClock(clock domain.Clock) Option {
	return func(s *Service) { s.now = clock }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates a Service. The locker must be the one the processor
// uses so that administrative changes and monetary operations on the same
// account are serialized.
func NewService(uow ledger.UnitOfWork, locker ledger.Locker, processor Processor, opts ...Option) *Service {
	s := &Service{
		uow:         uow,
		locker:      locker,
		processor:   processor,
		maxAccounts: DefaultMaxAccountsPerCustomer,
		now:         domain.SystemClock,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCustomer registers a new ACTIVE customer. Emails are unique.
func (s *Service) CreateCustomer(ctx context.Context, name, email string) (*domain.Customer, error) {
	c, err := domain.NewCustomer(name, email, s.now())
	if err != nil {
		return nil, err
	}

	var saved *domain.Customer
	err = s.locker.WithLock(ctx, []string{"email:" + c.Email}, func(ctx context.Context) error {
		return s.uow.WithinTx(ctx, func(ctx context.Context, st ledger.Stores) error {
			existing, err := st.Customers.GetByEmail(ctx, c.Email)
			if err != nil {
				return fmt.Errorf("CreateCustomer: lookup email: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, c.Email)
			}
			saved, err = st.Customers.Save(ctx, c)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("customer_id", saved.ID).Msg("Customer created")
	return saved, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c *domain.Customer
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		var err error
		c, err = loadCustomer(ctx, st, id)
		return err
	})
	return c, err
}

// UpdateCustomerStatus applies an administrative status change. A customer
// with ACTIVE accounts cannot become INACTIVE.
func (s *Service) UpdateCustomerStatus(ctx context.Context, id string, status domain.CustomerStatus) (*domain.Customer, error) {
	if _, err := domain.ParseCustomerStatus(string(status)); err != nil {
		return nil, err
	}

	var updated *domain.Customer
	err := s.locker.WithLock(ctx, []string{customerKey(id)}, func(ctx context.Context) error {
		return s.uow.WithinTx(ctx, func(ctx context.Context, st ledger.Stores) error {
			c, err := loadCustomer(ctx, st, id)
			if err != nil {
				return err
			}
			if status == domain.CustomerInactive {
				accounts, err := st.Accounts.GetByCustomerID(ctx, id)
				if err != nil {
					return fmt.Errorf("UpdateCustomerStatus: list accounts: %w", err)
				}
				for _, a := range accounts {
					if a.Status() == domain.AccountActive {
						return fmt.Errorf("%w: account %s", domain.ErrActiveAccounts, a.ID())
					}
				}
			}
			c.Status = status
			updated, err = st.Customers.Update(ctx, c)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("customer_id", id).Str("status", string(status)).Msg("Customer status changed")
	return updated, nil
}

// CreateAccount opens a zero-balance account for an ACTIVE customer.
func (s *Service) CreateAccount(ctx context.Context, customerID string, currency domain.Currency) (*domain.Account, error) {
	acc, err := domain.NewAccount(customerID, currency, s.now())
	if err != nil {
		return nil, err
	}

	var saved *domain.Account
	err = s.locker.WithLock(ctx, []string{customerKey(customerID)}, func(ctx context.Context) error {
		return s.uow.WithinTx(ctx, func(ctx context.Context, st ledger.Stores) error {
			c, err := loadCustomer(ctx, st, customerID)
			if err != nil {
				return err
			}
			if !c.IsActive() {
				return fmt.Errorf("%w: %s is %s", domain.ErrCustomerInactive, c.ID, c.Status)
			}
			existing, err := st.Accounts.GetByCustomerID(ctx, customerID)
			if err != nil {
				return fmt.Errorf("CreateAccount: list accounts: %w", err)
			}
			if len(existing) >= s.maxAccounts {
				return fmt.Errorf("%w: limit is %d", domain.ErrAccountLimitReached, s.maxAccounts)
			}
			saved, err = st.Accounts.Save(ctx, acc)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", saved.ID()).
		Str("customer_id", customerID).
		Str("currency", string(currency)).
		Msg("Account opened")
	return saved, nil
}

func (s *Service) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acc *domain.Account
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		var err error
		acc, err = loadAccount(ctx, st, id)
		return err
	})
	return acc, err
}

// ListCustomerAccounts returns the customer's accounts, oldest first.
func (s *Service) ListCustomerAccounts(ctx context.Context, customerID string) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		if _, err := loadCustomer(ctx, st, customerID); err != nil {
			return err
		}
		var err error
		accounts, err = st.Accounts.GetByCustomerID(ctx, customerID)
		return err
	})
	return accounts, err
}

func (s *Service) FreezeAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.changeAccountStatus(ctx, id, "frozen", (*domain.Account).Freeze)
}

func (s *Service) UnfreezeAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.changeAccountStatus(ctx, id, "unfrozen", (*domain.Account).Unfreeze)
}

func (s *Service) CloseAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.changeAccountStatus(ctx, id, "closed", func(a *domain.Account) error {
		a.Close()
		return nil
	})
}

func (s *Service) changeAccountStatus(ctx context.Context, id, verb string, apply func(*domain.Account) error) (*domain.Account, error) {
	var updated *domain.Account
	err := s.locker.WithLock(ctx, []string{id}, func(ctx context.Context) error {
		return s.uow.WithinTx(ctx, func(ctx context.Context, st ledger.Stores) error {
			acc, err := loadAccount(ctx, st, id)
			if err != nil {
				return err
			}
			if err := apply(acc); err != nil {
				return err
			}
			updated, err = st.Accounts.Update(ctx, acc)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("account_id", id).Str("status", string(updated.Status())).Msg("Account " + verb)
	return updated, nil
}

func (s *Service) Deposit(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error) {
	return s.processor.Deposit(ctx, accountID, amount)
}

func (s *Service) Withdraw(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error) {
	return s.processor.Withdraw(ctx, accountID, amount)
}

func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount domain.Money) (*domain.Transaction, error) {
	return s.processor.Transfer(ctx, fromID, toID, amount)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx *domain.Transaction
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		var err error
		tx, err = loadTransaction(ctx, st, id)
		return err
	})
	return tx, err
}

// ListTransactions returns the account's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		if _, err := loadAccount(ctx, st, accountID); err != nil {
			return err
		}
		var err error
		txs, err = st.Transactions.GetByAccountID(ctx, accountID)
		return err
	})
	return txs, err
}

func (s *Service) GetLedgerEntriesByAccount(ctx context.Context, accountID string) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		if _, err := loadAccount(ctx, st, accountID); err != nil {
			return err
		}
		var err error
		entries, err = st.Ledger.GetByAccountID(ctx, accountID)
		return err
	})
	return entries, err
}

func (s *Service) GetLedgerEntriesByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := s.uow.WithinReadTx(ctx, func(ctx context.Context, st ledger.Stores) error {
		if _, err := loadTransaction(ctx, st, transactionID); err != nil {
			return err
		}
		var err error
		entries, err = st.Ledger.GetByTransactionID(ctx, transactionID)
		return err
	})
	return entries, err
}

func customerKey(id string) string { return "customer:" + id }

func loadCustomer(ctx context.Context, st ledger.Stores, id string) (*domain.Customer, error) {
	c, err := st.Customers.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading customer %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, id)
	}
	return c, nil
}

func loadAccount(ctx context.Context, st ledger.Stores, id string) (*domain.Account, error) {
	acc, err := st.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return acc, nil
}

func loadTransaction(ctx context.Context, st ledger.Stores, id string) (*domain.Transaction, error) {
	tx, err := st.Transactions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", id, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}
	return tx, nil
}
