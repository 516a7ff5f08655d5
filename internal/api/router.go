// Package api assembles the HTTP surface of the ledger service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dvloznov/ledger-core/internal/api/handlers"
	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/jobs"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Pinger is satisfied by storage backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Banking     handlers.Banking
	Publisher   jobs.Publisher
	JobStore    jobs.JobStore
	Exports     handlers.ExportSupport
	Idempotency middleware.IdempotencyStore
	Health      Pinger // optional
	Log         zerolog.Logger
}

// NewApp builds the fiber application with every route mounted.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Params, queries and headers outlive the request in export jobs.
		Immutable:             true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := http.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return middleware.WriteError(c, code, http.StatusText(code))
		},
	})

	app.Use(
		middleware.Recovery(d.Log),
		middleware.RequestID(d.Log),
		middleware.Logger(d.Log),
		middleware.CORS,
	)

	app.Get("/health", func(c *fiber.Ctx) error {
		status, code := "healthy", http.StatusOK
		if d.Health != nil {
			if err := d.Health.Ping(c.UserContext()); err != nil {
				d.Log.Error().Err(err).Msg("Health check failed")
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		return middleware.WriteJSON(c, code, fiber.Map{
			"status": status,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	customers := handlers.NewCustomersHandler(d.Banking)
	accounts := handlers.NewAccountsHandler(d.Banking)
	transactions := handlers.NewTransactionsHandler(d.Banking)
	exports := handlers.NewJobsHandler(d.Banking, d.Publisher, d.JobStore, d.Exports)
	idem := middleware.Idempotency(d.Idempotency)

	v1 := app.Group("/v1")

	v1.Post("/customers", customers.CreateCustomer)
	v1.Get("/customers/:id", customers.GetCustomer)
	v1.Patch("/customers/:id/status", customers.UpdateStatus)
	v1.Get("/customers/:id/accounts", customers.ListAccounts)

	v1.Post("/accounts", accounts.CreateAccount)
	v1.Get("/accounts/:id", accounts.GetAccount)
	v1.Post("/accounts/:id/freeze", accounts.Freeze)
	v1.Post("/accounts/:id/unfreeze", accounts.Unfreeze)
	v1.Post("/accounts/:id/close", accounts.Close)
	v1.Get("/accounts/:id/transactions", accounts.ListTransactions)
	v1.Get("/accounts/:id/ledger-entries", accounts.ListLedgerEntries)
	v1.Post("/accounts/:id/exports", idem, exports.EnqueueExport)

	v1.Post("/transactions/deposit", idem, transactions.Deposit)
	v1.Post("/transactions/withdraw", idem, transactions.Withdraw)
	v1.Post("/transactions/transfer", idem, transactions.Transfer)
	v1.Get("/transactions/:id", transactions.GetTransaction)
	v1.Get("/transactions/:id/ledger-entries", transactions.ListLedgerEntries)

	v1.Get("/jobs", exports.ListJobs)
	v1.Get("/jobs/:id", exports.GetJob)

	return app
}
