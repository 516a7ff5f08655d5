package bigquery

import (
	"context"
	"fmt"
	"math/big"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
)

// DailyVolumeRow aggregates one account's exported entries for one day.
type DailyVolumeRow struct {
	EntryDate civil.Date `bigquery:"entry_date"`
	Debits    *big.Rat   `bigquery:"debits"`
	Credits   *big.Rat   `bigquery:"credits"`
	Net       *big.Rat   `bigquery:"net"`
	Entries   int64      `bigquery:"entries"`
}

// DailyVolume reads per-day debit and credit totals for an account between
// from and to inclusive, oldest first.
func (e *LedgerExporter) DailyVolume(ctx context.Context, accountID string, from, to civil.Date) ([]*DailyVolumeRow, error) {
	query := fmt.Sprintf(`
		SELECT
			entry_date,
			SUM(IF(direction = 'DEBIT', amount, 0)) AS debits,
			SUM(IF(direction = 'CREDIT', amount, 0)) AS credits,
			SUM(signed_amount) AS net,
			COUNT(DISTINCT entry_id) AS entries
		FROM `+"`%s.%s.%s`"+`
		WHERE account_id = @account_id
		  AND entry_date BETWEEN @from AND @to
		GROUP BY entry_date
		ORDER BY entry_date
	`, e.project, e.dataset, e.table.TableID)

	q := e.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "from", Value: from},
		{Name: "to", Value: to},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("DailyVolume: reading query: %w", err)
	}

	var rows []*DailyVolumeRow
	for {
		var row DailyVolumeRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DailyVolume: iterating: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}
