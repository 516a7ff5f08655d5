package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/banking"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/dvloznov/ledger-core/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-core/internal/ledger"
	"github.com/dvloznov/ledger-core/internal/lock"
	"github.com/dvloznov/ledger-core/internal/policy"
	"github.com/dvloznov/ledger-core/internal/storage/memory"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statementsOnly struct{}

func (statementsOnly) Supports(t jobs.JobType) bool { return t == jobs.JobTypeStatement }

type fixedPinger struct{ err error }

func (p fixedPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	app   *fiber.App
	store *inmemory.Store
}

func newTestServer(t *testing.T, health Pinger) *testServer {
	t.Helper()
	store := memory.NewStore()
	locker := lock.NewLocal()
	p := ledger.NewProcessor(store, locker,
		policy.PercentFee{Rate: decimal.RequireFromString("0.015")},
		[]policy.RiskRule{policy.MaxAmount{Max: domain.MustParseMoney("10000")}})
	svc := banking.NewService(store, locker, p)

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(10, jobStore)
	t.Cleanup(func() { _ = queue.Close() })

	app := NewApp(Deps{
		Banking:     svc,
		Publisher:   queue,
		JobStore:    jobStore,
		Exports:     statementsOnly{},
		Idempotency: middleware.NewMemoryIdempotencyStore(time.Hour),
		Health:      health,
		Log:         zerolog.Nop(),
	})
	return &testServer{app: app, store: jobStore}
}

type reply struct {
	status int
	header http.Header
	body   map[string]any
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) reply {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := reply{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (s *testServer) customerWithAccount(t *testing.T, email string) (string, string) {
	t.Helper()
	c := s.do(t, http.MethodPost, "/v1/customers", map[string]string{"name": "Ada Lovelace", "email": email})
	require.Equal(t, http.StatusCreated, c.status)
	customerID := c.body["id"].(string)

	a := s.do(t, http.MethodPost, "/v1/accounts", map[string]string{"customer_id": customerID, "currency": "usd"})
	require.Equal(t, http.StatusCreated, a.status)
	return customerID, a.body["id"].(string)
}

func TestHealth(t *testing.T) {
	ok := newTestServer(t, fixedPinger{}).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, ok.status)
	assert.Equal(t, "healthy", ok.body["status"])

	down := newTestServer(t, fixedPinger{err: errors.New("db down")}).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, down.status)
}

func TestCustomerEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	created := s.do(t, http.MethodPost, "/v1/customers", map[string]string{"name": "  Ada  ", "email": "Ada@Example.com"})
	require.Equal(t, http.StatusCreated, created.status)
	assert.Equal(t, "Ada", created.body["name"])
	assert.Equal(t, "ada@example.com", created.body["email"])
	assert.Equal(t, "ACTIVE", created.body["status"])
	id := created.body["id"].(string)

	dup := s.do(t, http.MethodPost, "/v1/customers", map[string]string{"name": "Other", "email": "ada@example.com"})
	assert.Equal(t, http.StatusConflict, dup.status)
	assert.Equal(t, "state_conflict", dup.body["kind"])

	bad := s.do(t, http.MethodPost, "/v1/customers", map[string]string{"name": "Bob", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, bad.status)
	assert.Equal(t, "input_violation", bad.body["kind"])

	missing := s.do(t, http.MethodPost, "/v1/customers", map[string]string{"name": "Bob"})
	assert.Equal(t, http.StatusBadRequest, missing.status)
	assert.Equal(t, "email is required", missing.body["error"])

	got := s.do(t, http.MethodGet, "/v1/customers/"+id, nil)
	assert.Equal(t, http.StatusOK, got.status)

	notFound := s.do(t, http.MethodGet, "/v1/customers/nope", nil)
	assert.Equal(t, http.StatusNotFound, notFound.status)
	assert.Equal(t, "not_found", notFound.body["kind"])

	suspended := s.do(t, http.MethodPatch, "/v1/customers/"+id+"/status", map[string]string{"status": "suspended"})
	assert.Equal(t, http.StatusOK, suspended.status)
	assert.Equal(t, "SUSPENDED", suspended.body["status"])

	noAccount := s.do(t, http.MethodPost, "/v1/accounts", map[string]string{"customer_id": id, "currency": "USD"})
	assert.Equal(t, http.StatusConflict, noAccount.status)

	badStatus := s.do(t, http.MethodPatch, "/v1/customers/"+id+"/status", map[string]string{"status": "gone"})
	assert.Equal(t, http.StatusBadRequest, badStatus.status)
}

func TestMoneyMovement(t *testing.T) {
	s := newTestServer(t, nil)
	customerID, a := s.customerWithAccount(t, "a@example.com")

	b := s.do(t, http.MethodPost, "/v1/accounts", map[string]string{"customer_id": customerID, "currency": "USD"})
	require.Equal(t, http.StatusCreated, b.status)
	bID := b.body["id"].(string)

	dep := s.do(t, http.MethodPost, "/v1/transactions/deposit", map[string]any{"account_id": a, "amount": "1015.23"})
	require.Equal(t, http.StatusCreated, dep.status)
	assert.Equal(t, "1015.23", dep.body["amount"])
	assert.Equal(t, "APPROVED", dep.body["status"])

	acc := s.do(t, http.MethodGet, "/v1/accounts/"+a, nil)
	assert.Equal(t, "1000.00", acc.body["balance"])

	tr := s.do(t, http.MethodPost, "/v1/transactions/transfer", map[string]any{
		"from_account_id": a, "to_account_id": bID, "amount": 200,
	})
	require.Equal(t, http.StatusCreated, tr.status)
	trID := tr.body["id"].(string)

	assert.Equal(t, "797.00", s.do(t, http.MethodGet, "/v1/accounts/"+a, nil).body["balance"])
	assert.Equal(t, "200.00", s.do(t, http.MethodGet, "/v1/accounts/"+bID, nil).body["balance"])

	entries := s.do(t, http.MethodGet, "/v1/transactions/"+trID+"/ledger-entries", nil)
	assert.Equal(t, float64(2), entries.body["count"])

	byAccount := s.do(t, http.MethodGet, "/v1/accounts/"+a+"/ledger-entries", nil)
	assert.Equal(t, float64(2), byAccount.body["count"])

	txs := s.do(t, http.MethodGet, "/v1/accounts/"+a+"/transactions", nil)
	require.Equal(t, float64(2), txs.body["count"])
	first := txs.body["transactions"].([]any)[0].(map[string]any)
	assert.Equal(t, trID, first["id"], "newest first")

	customerAccounts := s.do(t, http.MethodGet, "/v1/customers/"+customerID+"/accounts", nil)
	assert.Equal(t, float64(2), customerAccounts.body["count"])
}

func TestMoneyMovementErrors(t *testing.T) {
	s := newTestServer(t, nil)
	_, a := s.customerWithAccount(t, "e@example.com")

	funds := s.do(t, http.MethodPost, "/v1/transactions/withdraw", map[string]any{"account_id": a, "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, funds.status)
	assert.Equal(t, "funds_violation", funds.body["kind"])

	risk := s.do(t, http.MethodPost, "/v1/transactions/deposit", map[string]any{"account_id": a, "amount": "10000.01"})
	assert.Equal(t, http.StatusBadRequest, risk.status)
	assert.Equal(t, "policy_violation", risk.body["kind"])
	assert.Equal(t, policy.RuleMaxAmount, risk.body["rule"])

	zero := s.do(t, http.MethodPost, "/v1/transactions/deposit", map[string]any{"account_id": a, "amount": "0"})
	assert.Equal(t, http.StatusBadRequest, zero.status)
	assert.Equal(t, "input_violation", zero.body["kind"])

	precision := s.do(t, http.MethodPost, "/v1/transactions/deposit", map[string]any{"account_id": a, "amount": "1.001"})
	assert.Equal(t, http.StatusBadRequest, precision.status)

	same := s.do(t, http.MethodPost, "/v1/transactions/transfer", map[string]any{"from_account_id": a, "to_account_id": a, "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, same.status)

	missing := s.do(t, http.MethodPost, "/v1/transactions/deposit", map[string]any{"account_id": "nope", "amount": "1"})
	assert.Equal(t, http.StatusNotFound, missing.status)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/accounts/"+a+"/freeze", nil).status)
	frozen := s.do(t, http.MethodPost, "/v1/transactions/deposit", map[string]any{"account_id": a, "amount": "1"})
	assert.Equal(t, http.StatusConflict, frozen.status)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/accounts/"+a+"/unfreeze", nil).status)
	closed := s.do(t, http.MethodPost, "/v1/accounts/"+a+"/close", nil)
	assert.Equal(t, "CLOSED", closed.body["status"])
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/v1/accounts/"+a+"/freeze", nil).status)
}

func TestDepositIdempotency(t *testing.T) {
	s := newTestServer(t, nil)
	_, a := s.customerWithAccount(t, "i@example.com")
	body := map[string]any{"account_id": a, "amount": "100"}

	first := s.do(t, http.MethodPost, "/v1/transactions/deposit", body, middleware.HeaderIdempotencyKey, "dep-1")
	second := s.do(t, http.MethodPost, "/v1/transactions/deposit", body, middleware.HeaderIdempotencyKey, "dep-1")
	require.Equal(t, http.StatusCreated, first.status)
	require.Equal(t, http.StatusCreated, second.status)
	assert.Equal(t, first.body["id"], second.body["id"])
	assert.Equal(t, "true", second.header.Get(middleware.HeaderIdempotencyHit))

	assert.Equal(t, "98.50", s.do(t, http.MethodGet, "/v1/accounts/"+a, nil).body["balance"])
}

func TestExports(t *testing.T) {
	s := newTestServer(t, nil)
	_, a := s.customerWithAccount(t, "x@example.com")

	queued := s.do(t, http.MethodPost, "/v1/accounts/"+a+"/exports", map[string]string{"type": "statement"})
	require.Equal(t, http.StatusAccepted, queued.status)
	jobID := queued.body["job_id"].(string)
	assert.Equal(t, "/v1/jobs/"+jobID, queued.header.Get("Location"))

	job := s.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusOK, job.status)
	assert.Equal(t, "pending", job.body["status"])
	assert.Equal(t, a, job.body["account_id"])

	list := s.do(t, http.MethodGet, "/v1/jobs?account_id="+a, nil)
	assert.Equal(t, float64(1), list.body["count"])

	unconfigured := s.do(t, http.MethodPost, "/v1/accounts/"+a+"/exports", map[string]string{"type": "ledger_export"})
	assert.Equal(t, http.StatusServiceUnavailable, unconfigured.status)

	badType := s.do(t, http.MethodPost, "/v1/accounts/"+a+"/exports", map[string]string{"type": "pdf"})
	assert.Equal(t, http.StatusBadRequest, badType.status)

	badRange := s.do(t, http.MethodPost, "/v1/accounts/"+a+"/exports", map[string]string{
		"type": "statement", "from": "2026-02-01T00:00:00Z", "to": "2026-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, badRange.status)

	noAccount := s.do(t, http.MethodPost, "/v1/accounts/nope/exports", map[string]string{"type": "statement"})
	assert.Equal(t, http.StatusNotFound, noAccount.status)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/jobs/nope", nil).status)
}

func TestExportJobKeepsAccountIDAfterLaterRequests(t *testing.T) {
	s := newTestServer(t, nil)
	_, first := s.customerWithAccount(t, "first@example.com")
	_, second := s.customerWithAccount(t, "second@example.com")

	queued := s.do(t, http.MethodPost, "/v1/accounts/"+first+"/exports", map[string]string{"type": "statement"})
	require.Equal(t, http.StatusAccepted, queued.status)
	jobID := queued.body["job_id"].(string)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/v1/accounts/"+second+"/transactions", nil).status)
		require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/v1/accounts/"+second+"/exports", map[string]string{"type": "statement"}).status)
	}

	job, err := s.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, first, job.AccountID)

	firstJobs, err := s.store.ListJobs(context.Background(), jobs.JobFilter{AccountID: first})
	require.NoError(t, err)
	assert.Len(t, firstJobs, 1)
	secondJobs, err := s.store.ListJobs(context.Background(), jobs.JobFilter{AccountID: second})
	require.NoError(t, err)
	assert.Len(t, secondJobs, 5)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)
	r := s.do(t, http.MethodGet, "/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "Not Found", r.body["error"])
}
