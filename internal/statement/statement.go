// Package statement renders account statements from ledger entries.
package statement

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dvloznov/ledger-core/internal/domain"
)

// ContentType of the rendered statement.
const ContentType = "text/csv"

// Line is one ledger entry with the running balance after it.
type Line struct {
	Date          time.Time
	EntryID       string
	TransactionID string
	Type          domain.TransactionType
	Direction     domain.Direction
	Amount        domain.Money
	Balance       domain.Money
}

type Statement struct {
	AccountID      string
	Currency       domain.Currency
	From, To       time.Time
	OpeningBalance domain.Money
	ClosingBalance domain.Money
	Lines          []Line
}

// Build replays entries (oldest first) into a statement covering
// [from, to). A zero bound is open. Entries before from only contribute to
// the opening balance.
func Build(account *domain.Account, entries []*domain.LedgerEntry, types map[string]domain.TransactionType, from, to time.Time) *Statement {
	s := &Statement{
		AccountID: account.ID(),
		Currency:  account.Currency(),
		From:      from,
		To:        to,
	}

	var balance domain.Money
	for _, e := range entries {
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			break
		}
		balance += e.Signed()
		if !from.IsZero() && e.CreatedAt.Before(from) {
			s.OpeningBalance = balance
			continue
		}
		s.Lines = append(s.Lines, Line{
			Date:          e.CreatedAt,
			EntryID:       e.ID,
			TransactionID: e.TransactionID,
			Type:          types[e.TransactionID],
			Direction:     e.Direction,
			Amount:        e.Amount,
			Balance:       balance,
		})
	}
	s.ClosingBalance = balance
	return s
}

var header = []string{"date", "entry_id", "transaction_id", "type", "direction", "amount", "balance", "currency"}

// WriteCSV writes the statement with a trailing summary row.
func WriteCSV(w io.Writer, s *Statement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("WriteCSV: header: %w", err)
	}
	for _, l := range s.Lines {
		rec := []string{
			l.Date.UTC().Format(time.RFC3339),
			l.EntryID,
			l.TransactionID,
			string(l.Type),
			string(l.Direction),
			l.Amount.String(),
			l.Balance.String(),
			string(s.Currency),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("WriteCSV: line %s: %w", l.EntryID, err)
		}
	}
	summary := []string{"", "", "", "SUMMARY", strconv.Itoa(len(s.Lines)) + " entries",
		s.OpeningBalance.String(), s.ClosingBalance.String(), string(s.Currency)}
	if err := cw.Write(summary); err != nil {
		return fmt.Errorf("WriteCSV: summary: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ObjectName is where a statement generated at t is archived.
func ObjectName(accountID string, t time.Time) string {
	return fmt.Sprintf("statements/%s/%s.csv", accountID, t.UTC().Format("20060102T150405Z"))
}
