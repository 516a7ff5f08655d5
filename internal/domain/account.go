package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Currency is an ISO 4217 code from the supported set.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	CAD Currency = "CAD"
	GBP Currency = "GBP"
)

// ParseCurrency accepts a supported currency code in any case.
func ParseCurrency(s string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case USD, EUR, CAD, GBP:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

// Account holds a balance that only changes through Deposit, Withdraw and
// Transfer. Its fields are unexported so that stores rebuild it through
// RestoreAccount and nothing else can assign a balance.
type Account struct {
	id         string
	customerID string
	currency   Currency
	balance    Money
	status     AccountStatus
	version    int64
	createdAt  time.Time
}

// AccountState is the persisted and serialized form of an Account.
type AccountState struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Currency   Currency      `json:"currency"`
	Balance    Money         `json:"balance"`
	Status     AccountStatus `json:"status"`
	Version    int64         `json:"version"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewAccount opens an ACTIVE account with a zero balance.
func NewAccount(customerID string, currency Currency, now time.Time) (*Account, error) {
	if _, err := ParseCurrency(string(currency)); err != nil {
		return nil, err
	}
	return &Account{
		id:         uuid.NewString(),
		customerID: customerID,
		currency:   currency,
		status:     AccountActive,
		createdAt:  now,
	}, nil
}

// RestoreAccount rebuilds an account from its stored state.
func RestoreAccount(s AccountState) *Account {
	return &Account{
		id:         s.ID,
		customerID: s.CustomerID,
		currency:   s.Currency,
		balance:    s.Balance,
		status:     s.Status,
		version:    s.Version,
		createdAt:  s.CreatedAt,
	}
}

func (a *Account) State() AccountState {
	return AccountState{
		ID:         a.id,
		CustomerID: a.customerID,
		Currency:   a.currency,
		Balance:    a.balance,
		Status:     a.status,
		Version:    a.version,
		CreatedAt:  a.createdAt,
	}
}

func (a *Account) ID() string            { return a.id }
func (a *Account) CustomerID() string    { return a.customerID }
func (a *Account) Currency() Currency    { return a.currency }
func (a *Account) Balance() Money        { return a.balance }
func (a *Account) Status() AccountStatus { return a.status }
func (a *Account) Version() int64        { return a.version }
func (a *Account) CreatedAt() time.Time  { return a.createdAt }

func (a *Account) ensureActive() error {
	switch a.status {
	case AccountActive:
		return nil
	case AccountFrozen:
		return fmt.Errorf("%w: %s", ErrAccountFrozen, a.id)
	case AccountClosed:
		return fmt.Errorf("%w: %s", ErrAccountClosed, a.id)
	default:
		return fmt.Errorf("%w: account %s has status %q", ErrInvalidStatus, a.id, a.status)
	}
}

func (a *Account) checkDeposit(amount Money) error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit of %s", ErrInvalidAmount, amount)
	}
	if a.balance > math.MaxInt64-amount {
		return fmt.Errorf("%w: deposit of %s overflows balance", ErrInvalidAmount, amount)
	}
	return nil
}

func (a *Account) checkWithdraw(amount Money) error {
	if err := a.ensureActive(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: withdrawal of %s", ErrInvalidAmount, amount)
	}
	if a.balance < amount {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, a.balance, amount)
	}
	return nil
}

// Deposit increases the balance by amount.
func (a *Account) Deposit(amount Money) error {
	if err := a.checkDeposit(amount); err != nil {
		return err
	}
	a.balance += amount
	return nil
}

// Withdraw decreases the balance by amount. The balance never goes negative.
func (a *Account) Withdraw(amount Money) error {
	if err := a.checkWithdraw(amount); err != nil {
		return err
	}
	a.balance -= amount
	return nil
}

// Transfer moves amount from a to target. Both sides are checked before
// either balance changes, so a failure leaves both accounts untouched.
// Persisting the pair atomically is the caller's job.
func (a *Account) Transfer(amount Money, target *Account) error {
	if target == nil {
		return fmt.Errorf("%w: transfer target", ErrAccountNotFound)
	}
	if a.id == target.id {
		return ErrSameAccount
	}
	if err := a.checkWithdraw(amount); err != nil {
		return err
	}
	if err := target.checkDeposit(amount); err != nil {
		return err
	}
	a.balance -= amount
	target.balance += amount
	return nil
}

// Freeze suspends monetary operations. A closed account stays closed.
func (a *Account) Freeze() error {
	if a.status == AccountClosed {
		return fmt.Errorf("%w: %s", ErrAccountClosed, a.id)
	}
	a.status = AccountFrozen
	return nil
}

// Unfreeze returns a frozen account to ACTIVE.
func (a *Account) Unfreeze() error {
	if a.status == AccountClosed {
		return fmt.Errorf("%w: %s", ErrAccountClosed, a.id)
	}
	a.status = AccountActive
	return nil
}

// Close is terminal.
func (a *Account) Close() {
	a.status = AccountClosed
}
