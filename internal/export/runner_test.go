package export

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/ledger-core/internal/banking"
	"github.com/dvloznov/ledger-core/internal/domain"
	infraBQ "github.com/dvloznov/ledger-core/internal/infra/bigquery"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/dvloznov/ledger-core/internal/lock"
	"github.com/dvloznov/ledger-core/internal/policy"
	"github.com/dvloznov/ledger-core/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeWarehouse struct{ rows []*infraBQ.LedgerEntryRow }

func (f *fakeWarehouse) Export(_ context.Context, rows []*infraBQ.LedgerEntryRow) (int, error) {
	f.rows = append(f.rows, rows...)
	return len(rows), nil
}

type fakeArchive struct {
	objects map[string]string
}

func (f *fakeArchive) Upload(_ context.Context, name, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.objects[name] = string(b)
	return "gs://test/" + name, nil
}

func seeded(t *testing.T) (*banking.Service, string) {
	t.Helper()
	store := memory.NewStore()
	locker := lock.NewLocal()
	clock := func() time.Time { return now }
	p := ledger.NewProcessor(store, locker, policy.FlatFee{Fee: domain.MustParseMoney("1")}, nil, ledger.WithClock(clock))
	svc := banking.NewService(store, locker, p, banking.WithClock(clock))
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, "Ada Lovelace", "ada@example.com")
	require.NoError(t, err)
	a, err := svc.CreateAccount(ctx, c.ID, domain.EUR)
	require.NoError(t, err)
	b, err := svc.CreateAccount(ctx, c.ID, domain.EUR)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, a.ID(), domain.MustParseMoney("101"))
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, a.ID(), b.ID(), domain.MustParseMoney("40"))
	require.NoError(t, err)
	return svc, a.ID()
}

func TestHandle_LedgerExport(t *testing.T) {
	svc, accountID := seeded(t)
	wh := &fakeWarehouse{}
	r := NewRunner(svc, wh, nil, zerolog.Nop())
	r.now = func() time.Time { return now }

	result, err := r.Handle(context.Background(), &jobs.ExportJob{Type: jobs.JobTypeLedgerExport, AccountID: accountID})
	require.NoError(t, err)
	assert.Equal(t, "2 rows", result)

	require.Len(t, wh.rows, 2)
	assert.Equal(t, "CREDIT", wh.rows[0].Direction)
	assert.Equal(t, "DEPOSIT", wh.rows[0].TransactionType.StringVal)
	assert.Equal(t, "DEBIT", wh.rows[1].Direction)
	assert.Equal(t, "TRANSFER", wh.rows[1].TransactionType.StringVal)
	assert.Equal(t, "EUR", wh.rows[1].Currency)
}

func TestHandle_Statement(t *testing.T) {
	svc, accountID := seeded(t)
	ar := &fakeArchive{objects: map[string]string{}}
	r := NewRunner(svc, nil, ar, zerolog.Nop())
	r.now = func() time.Time { return now }

	uri, err := r.Handle(context.Background(), &jobs.ExportJob{Type: jobs.JobTypeStatement, AccountID: accountID})
	require.NoError(t, err)
	assert.Equal(t, "gs://test/statements/"+accountID+"/20260601T090000Z.csv", uri)

	body := ar.objects["statements/"+accountID+"/20260601T090000Z.csv"]
	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	// 101 - 1 fee = 100, then 100 - 41.
	assert.Equal(t, "100.00", records[1][6])
	assert.Equal(t, "59.00", records[2][6])
	assert.Equal(t, "59.00", records[3][6])
}

func TestHandle_Errors(t *testing.T) {
	svc, accountID := seeded(t)
	ctx := context.Background()

	r := NewRunner(svc, nil, nil, zerolog.Nop())
	assert.False(t, r.Supports(jobs.JobTypeStatement))
	_, err := r.Handle(ctx, &jobs.ExportJob{Type: jobs.JobTypeStatement, AccountID: accountID})
	assert.ErrorIs(t, err, ErrNotConfigured)

	r = NewRunner(svc, &fakeWarehouse{}, nil, zerolog.Nop())
	_, err = r.Handle(ctx, &jobs.ExportJob{Type: jobs.JobTypeLedgerExport, AccountID: "missing"})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
