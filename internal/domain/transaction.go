package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType identifies the monetary operation a transaction records.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "DEPOSIT"
	TransactionWithdraw TransactionType = "WITHDRAW"
	TransactionTransfer TransactionType = "TRANSFER"
)

// TransactionStatus is the outcome of a transaction.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "PENDING"
	TransactionApproved TransactionStatus = "APPROVED"
	TransactionRejected TransactionStatus = "REJECTED"
)

// Transaction records the intent and outcome of one monetary operation.
// Amount is always the gross amount the caller asked for, before fees; the
// per-account effect lives in the ledger entries.
type Transaction struct {
	ID        string            `json:"id"`
	Type      TransactionType   `json:"type"`
	Amount    Money             `json:"amount"`
	Currency  Currency          `json:"currency"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewTransaction returns a PENDING transaction. A non-positive amount is
// refused here, at construction.
func NewTransaction(txType TransactionType, amount Money, currency Currency, now time.Time) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: transaction amount %s", ErrInvalidAmount, amount)
	}
	switch txType {
	case TransactionDeposit, TransactionWithdraw, TransactionTransfer:
	default:
		return nil, fmt.Errorf("%w: transaction type %q", ErrInvalidStatus, txType)
	}
	return &Transaction{
		ID:        uuid.NewString(),
		Type:      txType,
		Amount:    amount,
		Currency:  currency,
		Status:    TransactionPending,
		CreatedAt: now,
	}, nil
}

// Approve marks a pending transaction as APPROVED.
func (t *Transaction) Approve() error {
	return t.settle(TransactionApproved)
}

// Reject marks a pending transaction as REJECTED.
func (t *Transaction) Reject() error {
	return t.settle(TransactionRejected)
}

func (t *Transaction) settle(status TransactionStatus) error {
	if t.Status != TransactionPending {
		return fmt.Errorf("%w: transaction %s is already %s", ErrInvalidStatus, t.ID, t.Status)
	}
	t.Status = status
	return nil
}
