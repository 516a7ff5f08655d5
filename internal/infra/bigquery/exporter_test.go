package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	batches [][]*bigquery.StructSaver
	err     error
	calls   int
}

func (f *fakeInserter) Put(_ context.Context, src interface{}) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, src.([]*bigquery.StructSaver))
	return nil
}

func entry(t *testing.T, dir domain.Direction, amount string, at time.Time) *domain.LedgerEntry {
	t.Helper()
	e, err := domain.NewLedgerEntry("acc-1", "tx-1", dir, domain.MustParseMoney(amount), at)
	require.NoError(t, err)
	return e
}

func TestNewLedgerEntryRow(t *testing.T) {
	at := time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC)
	exported := at.Add(time.Hour)

	debit := NewLedgerEntryRow(entry(t, domain.Debit, "203.00", at), domain.USD, domain.TransactionTransfer, exported)
	assert.Equal(t, "DEBIT", debit.Direction)
	assert.Equal(t, 0, debit.Amount.Cmp(big.NewRat(203, 1)))
	assert.Equal(t, 0, debit.SignedAmount.Cmp(big.NewRat(-203, 1)))
	assert.Equal(t, "USD", debit.Currency)
	assert.Equal(t, civil.Date{Year: 2026, Month: time.February, Day: 28}, debit.EntryDate)
	assert.Equal(t, bigquery.NullString{StringVal: "TRANSFER", Valid: true}, debit.TransactionType)
	assert.Equal(t, exported, debit.ExportedTS)

	credit := NewLedgerEntryRow(entry(t, domain.Credit, "0.05", at), domain.EUR, "", exported)
	assert.Equal(t, 0, credit.SignedAmount.Cmp(big.NewRat(1, 20)))
	assert.False(t, credit.TransactionType.Valid)
}

func TestExport_BatchesWithInsertIDs(t *testing.T) {
	ins := &fakeInserter{}
	e := newExporter(ins, zerolog.Nop())

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := make([]*LedgerEntryRow, insertBatchSize+2)
	for i := range rows {
		rows[i] = NewLedgerEntryRow(entry(t, domain.Credit, "1", at), domain.USD, domain.TransactionDeposit, at)
	}

	n, err := e.Export(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, len(rows), n)
	require.Len(t, ins.batches, 2)
	assert.Len(t, ins.batches[0], insertBatchSize)
	assert.Len(t, ins.batches[1], 2)
	assert.Equal(t, rows[0].EntryID, ins.batches[0][0].InsertID)
}

func TestExport_Empty(t *testing.T) {
	ins := &fakeInserter{}
	n, err := newExporter(ins, zerolog.Nop()).Export(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, ins.calls)
}

func TestExport_BreakerOpensAfterFailures(t *testing.T) {
	ins := &fakeInserter{err: errors.New("backend error")}
	e := newExporter(ins, zerolog.Nop())
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []*LedgerEntryRow{NewLedgerEntryRow(entry(t, domain.Credit, "1", at), domain.USD, "", at)}

	for i := 0; i < 3; i++ {
		_, err := e.Export(context.Background(), rows)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState, fmt.Sprintf("attempt %d", i))
	}

	_, err := e.Export(context.Background(), rows)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, ins.calls)
}
