package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/ledger"
)

type customerStore struct{ t *txn }

func (s customerStore) Save(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	if c == nil || c.ID == "" {
		return nil, fmt.Errorf("memory: customer ID is required")
	}
	existing, err := s.GetByEmail(ctx, c.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != c.ID {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, c.Email)
	}
	s.t.customers[c.ID] = *c
	saved := *c
	return &saved, nil
}

func (s customerStore) Update(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	current, err := s.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, c.ID)
	}
	return s.Save(ctx, c)
}

func (s customerStore) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	if c, ok := s.t.customers[id]; ok {
		return &c, nil
	}
	s.t.store.mu.RLock()
	defer s.t.store.mu.RUnlock()
	if c, ok := s.t.store.customers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s customerStore) GetByEmail(_ context.Context, email string) (*domain.Customer, error) {
	for _, c := range s.t.customers {
		if c.Email == email {
			found := c
			return &found, nil
		}
	}
	s.t.store.mu.RLock()
	defer s.t.store.mu.RUnlock()
	if id, ok := s.t.store.emails[email]; ok {
		if _, staged := s.t.customers[id]; staged {
			// The staged copy has moved to another email.
			return nil, nil
		}
		c := s.t.store.customers[id]
		return &c, nil
	}
	return nil, nil
}

type accountStore struct{ t *txn }

func (s accountStore) Save(_ context.Context, a *domain.Account) (*domain.Account, error) {
	if a == nil || a.ID() == "" {
		return nil, fmt.Errorf("memory: account ID is required")
	}
	state := a.State()
	s.t.accounts[state.ID] = stagedAccount{state: state, isNew: true}
	return domain.RestoreAccount(state), nil
}

func (s accountStore) GetByID(_ context.Context, id string) (*domain.Account, error) {
	if staged, ok := s.t.accounts[id]; ok {
		return domain.RestoreAccount(staged.state), nil
	}
	s.t.store.mu.RLock()
	defer s.t.store.mu.RUnlock()
	if state, ok := s.t.store.accounts[id]; ok {
		return domain.RestoreAccount(state), nil
	}
	return nil, nil
}

func (s accountStore) GetByCustomerID(_ context.Context, customerID string) ([]*domain.Account, error) {
	byID := make(map[string]domain.AccountState)

	s.t.store.mu.RLock()
	for id, state := range s.t.store.accounts {
		if state.CustomerID == customerID {
			byID[id] = state
		}
	}
	s.t.store.mu.RUnlock()

	for id, staged := range s.t.accounts {
		if staged.state.CustomerID == customerID {
			byID[id] = staged.state
		}
	}

	states := make([]domain.AccountState, 0, len(byID))
	for _, state := range byID {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].CreatedAt.Before(states[j].CreatedAt)
		}
		return states[i].ID < states[j].ID
	})

	out := make([]*domain.Account, len(states))
	for i, state := range states {
		out[i] = domain.RestoreAccount(state)
	}
	return out, nil
}

func (s accountStore) Update(_ context.Context, a *domain.Account) (*domain.Account, error) {
	state := a.State()

	staged, ok := s.t.accounts[state.ID]
	if !ok {
		s.t.store.mu.RLock()
		current, exists := s.t.store.accounts[state.ID]
		s.t.store.mu.RUnlock()
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, state.ID)
		}
		staged = stagedAccount{state: current, baseVersion: current.Version}
	}
	if staged.state.Version != state.Version {
		return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentUpdate, state.ID)
	}

	state.Version++
	staged.state = state
	s.t.accounts[state.ID] = staged
	return domain.RestoreAccount(state), nil
}

type transactionStore struct{ t *txn }

func (s transactionStore) Save(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if tx == nil || tx.ID == "" {
		return nil, fmt.Errorf("memory: transaction ID is required")
	}
	s.t.transactions = append(s.t.transactions, *tx)
	saved := *tx
	return &saved, nil
}

func (s transactionStore) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	for _, tx := range s.t.transactions {
		if tx.ID == id {
			found := tx
			return &found, nil
		}
	}
	s.t.store.mu.RLock()
	defer s.t.store.mu.RUnlock()
	if rec, ok := s.t.store.transactions[id]; ok {
		tx := rec.tx
		return &tx, nil
	}
	return nil, nil
}

func (s transactionStore) GetByAccountID(_ context.Context, accountID string) ([]*domain.Transaction, error) {
	txs := s.t.accountTransactions(accountID)
	out := make([]*domain.Transaction, len(txs))
	for i := range txs {
		out[i] = &txs[i]
	}
	return out, nil
}

func (s transactionStore) CountRecentByAccount(_ context.Context, accountID string, since time.Time) (int, error) {
	return len(approvedSince(s.t.accountTransactions(accountID), since)), nil
}

func (s transactionStore) SumDailyByAccount(_ context.Context, accountID string, dayStart time.Time) (domain.Money, error) {
	var total domain.Money
	for _, tx := range approvedSince(s.t.accountTransactions(accountID), dayStart) {
		total += tx.Amount
	}
	return total, nil
}

type ledgerStore struct{ t *txn }

func (s ledgerStore) Save(_ context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("memory: ledger entry ID is required")
	}
	s.t.entries = append(s.t.entries, *e)
	saved := *e
	return &saved, nil
}

func (s ledgerStore) GetByAccountID(_ context.Context, accountID string) ([]*domain.LedgerEntry, error) {
	return pointers(s.t.accountEntries(accountID)), nil
}

func (s ledgerStore) GetByTransactionID(_ context.Context, transactionID string) ([]*domain.LedgerEntry, error) {
	var out []domain.LedgerEntry

	s.t.store.mu.RLock()
	for _, e := range s.t.store.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	s.t.store.mu.RUnlock()

	for _, e := range s.t.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return pointers(out), nil
}

func pointers(entries []domain.LedgerEntry) []*domain.LedgerEntry {
	out := make([]*domain.LedgerEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out
}

var (
	_ ledger.CustomerStore    = customerStore{}
	_ ledger.AccountStore     = accountStore{}
	_ ledger.TransactionStore = transactionStore{}
	_ ledger.LedgerStore      = ledgerStore{}
)
