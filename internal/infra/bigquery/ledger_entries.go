package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-core/internal/domain"
)

// LedgerEntryRow is one ledger entry as stored in the warehouse.
type LedgerEntryRow struct {
	EntryID       string `bigquery:"entry_id"`       // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	TransactionType bigquery.NullString `bigquery:"transaction_type"` // NULLABLE

	Direction string   `bigquery:"direction"` // DEBIT | CREDIT
	Amount    *big.Rat `bigquery:"amount"`    // REQUIRED NUMERIC, always positive
	// SignedAmount is negative for debits.
	SignedAmount *big.Rat `bigquery:"signed_amount"`
	Currency     string   `bigquery:"currency"`

	EntryDate  civil.Date `bigquery:"entry_date"` // UTC day of CreatedTS
	CreatedTS  time.Time  `bigquery:"created_ts"`
	ExportedTS time.Time  `bigquery:"exported_ts"`
}

// NewLedgerEntryRow maps a ledger entry. txType may be empty when the
// transaction is unknown to the caller.
func NewLedgerEntryRow(e *domain.LedgerEntry, currency domain.Currency, txType domain.TransactionType, exportedAt time.Time) *LedgerEntryRow {
	created := e.CreatedAt.UTC()
	row := &LedgerEntryRow{
		EntryID:       e.ID,
		AccountID:     e.AccountID,
		TransactionID: e.TransactionID,
		Direction:     string(e.Direction),
		Amount:        moneyRat(e.Amount),
		SignedAmount:  moneyRat(e.Signed()),
		Currency:      string(currency),
		EntryDate:     civil.DateOf(created),
		CreatedTS:     created,
		ExportedTS:    exportedAt.UTC(),
	}
	if txType != "" {
		row.TransactionType = bigquery.NullString{StringVal: string(txType), Valid: true}
	}
	return row
}

// moneyRat converts minor units to an exact NUMERIC value.
func moneyRat(m domain.Money) *big.Rat {
	return big.NewRat(int64(m), 100)
}
