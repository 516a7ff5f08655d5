// Package memory implements the ledger persistence ports in process memory.
// Writes made inside WithinTx are staged and applied together on commit, so
// a failed operation leaves no trace. Data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/ledger"
)

type txRecord struct {
	tx  domain.Transaction
	seq int64
}

// Store holds committed state. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	seq          int64
	customers    map[string]domain.Customer
	emails       map[string]string
	accounts     map[string]domain.AccountState
	transactions map[string]txRecord
	entries      []domain.LedgerEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		customers:    make(map[string]domain.Customer),
		emails:       make(map[string]string),
		accounts:     make(map[string]domain.AccountState),
		transactions: make(map[string]txRecord),
	}
}

// WithinTx implements ledger.UnitOfWork.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, stores ledger.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTxn(s)
	if err := fn(ctx, t.stores()); err != nil {
		return err
	}
	return s.commit(t)
}

// WithinReadTx implements ledger.UnitOfWork. Staged writes are discarded.
func (s *Store) WithinReadTx(ctx context.Context, fn func(ctx context.Context, stores ledger.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, newTxn(s).stores())
}

// commit re-validates staged writes against the committed state and applies
// them all, or none.
func (s *Store) commit(t *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range t.customers {
		prev, exists := s.customers[id]
		if !exists || prev.Email != c.Email {
			if owner, taken := s.emails[c.Email]; taken && owner != id {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, c.Email)
			}
		}
	}
	for id, a := range t.accounts {
		prev, exists := s.accounts[id]
		switch {
		case a.isNew && exists:
			return fmt.Errorf("memory: account %s already exists", id)
		case !a.isNew && !exists:
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
		case !a.isNew && prev.Version != a.baseVersion:
			return fmt.Errorf("%w: %s", domain.ErrConcurrentUpdate, id)
		}
	}
	for _, tx := range t.transactions {
		if _, exists := s.transactions[tx.ID]; exists {
			return fmt.Errorf("memory: transaction %s already exists", tx.ID)
		}
	}

	for id, c := range t.customers {
		if prev, ok := s.customers[id]; ok {
			delete(s.emails, prev.Email)
		}
		s.customers[id] = c
		s.emails[c.Email] = id
	}
	for id, a := range t.accounts {
		s.accounts[id] = a.state
	}
	for _, tx := range t.transactions {
		s.seq++
		s.transactions[tx.ID] = txRecord{tx: tx, seq: s.seq}
	}
	s.entries = append(s.entries, t.entries...)

	return nil
}

// txn stages the writes of one unit of work.
type txn struct {
	store        *Store
	customers    map[string]domain.Customer
	accounts     map[string]stagedAccount
	transactions []domain.Transaction
	entries      []domain.LedgerEntry
}

type stagedAccount struct {
	state       domain.AccountState
	baseVersion int64
	isNew       bool
}

func newTxn(s *Store) *txn {
	return &txn{
		store:     s,
		customers: make(map[string]domain.Customer),
		accounts:  make(map[string]stagedAccount),
	}
}

func (t *txn) stores() ledger.Stores {
	return ledger.Stores{
		Customers:    customerStore{t},
		Accounts:     accountStore{t},
		Transactions: transactionStore{t},
		Ledger:       ledgerStore{t},
	}
}

// accountEntries returns committed then staged entries for accountID.
func (t *txn) accountEntries(accountID string) []domain.LedgerEntry {
	t.store.mu.RLock()
	var out []domain.LedgerEntry
	for _, e := range t.store.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	t.store.mu.RUnlock()

	for _, e := range t.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

// accountTransactions resolves the account's transactions through its ledger
// entries, newest first.
func (t *txn) accountTransactions(accountID string) []domain.Transaction {
	seen := make(map[string]struct{})
	var records []txRecord

	entries := t.accountEntries(accountID)

	t.store.mu.RLock()
	for _, e := range entries {
		if _, dup := seen[e.TransactionID]; dup {
			continue
		}
		if rec, ok := t.store.transactions[e.TransactionID]; ok {
			seen[e.TransactionID] = struct{}{}
			records = append(records, rec)
		}
	}
	t.store.mu.RUnlock()

	for i, tx := range t.transactions {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		for _, e := range entries {
			if e.TransactionID == tx.ID {
				seen[tx.ID] = struct{}{}
				records = append(records, txRecord{tx: tx, seq: int64(1<<62) + int64(i)})
				break
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].tx.CreatedAt.Equal(records[j].tx.CreatedAt) {
			return records[i].tx.CreatedAt.After(records[j].tx.CreatedAt)
		}
		return records[i].seq > records[j].seq
	})

	out := make([]domain.Transaction, len(records))
	for i, r := range records {
		out[i] = r.tx
	}
	return out
}

func approvedSince(txs []domain.Transaction, since time.Time) []domain.Transaction {
	var out []domain.Transaction
	for _, tx := range txs {
		if tx.Status == domain.TransactionApproved && !tx.CreatedAt.Before(since) {
			out = append(out, tx)
		}
	}
	return out
}

var _ ledger.UnitOfWork = (*Store)(nil)
