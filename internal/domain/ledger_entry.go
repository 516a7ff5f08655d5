package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction says whether an entry decreases (DEBIT) or increases (CREDIT)
// the account's value.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// LedgerEntry is one account-side effect of a transaction. Entries are
// append-only.
type LedgerEntry struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	Direction     Direction `json:"direction"`
	Amount        Money     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewLedgerEntry(accountID, transactionID string, direction Direction, amount Money, now time.Time) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: ledger entry amount %s", ErrInvalidAmount, amount)
	}
	if direction != Debit && direction != Credit {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidStatus, direction)
	}
	return &LedgerEntry{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		TransactionID: transactionID,
		Direction:     direction,
		Amount:        amount,
		CreatedAt:     now,
	}, nil
}

// Signed returns the entry amount as a balance delta.
func (e *LedgerEntry) Signed() Money {
	if e.Direction == Debit {
		return -e.Amount
	}
	return e.Amount
}
