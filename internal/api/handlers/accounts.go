package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/gofiber/fiber/v2"
)

type AccountsHandler struct {
	svc Banking
}

func NewAccountsHandler(svc Banking) *AccountsHandler {
	return &AccountsHandler{svc: svc}
}

type createAccountRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Currency   string `json:"currency" validate:"required"`
}

// CreateAccount handles POST /v1/accounts
func (h *AccountsHandler) CreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}

	account, err := h.svc.CreateAccount(c.UserContext(), req.CustomerID, currency)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusCreated, account.State())
}

// GetAccount handles GET /v1/accounts/:id
func (h *AccountsHandler) GetAccount(c *fiber.Ctx) error {
	account, err := h.svc.GetAccount(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, account.State())
}

// Freeze handles POST /v1/accounts/:id/freeze
func (h *AccountsHandler) Freeze(c *fiber.Ctx) error {
	return h.transition(c, h.svc.FreezeAccount)
}

// Unfreeze handles POST /v1/accounts/:id/unfreeze
func (h *AccountsHandler) Unfreeze(c *fiber.Ctx) error {
	return h.transition(c, h.svc.UnfreezeAccount)
}

// Close handles POST /v1/accounts/:id/close
func (h *AccountsHandler) Close(c *fiber.Ctx) error {
	return h.transition(c, h.svc.CloseAccount)
}

func (h *AccountsHandler) transition(c *fiber.Ctx, fn func(context.Context, string) (*domain.Account, error)) error {
	account, err := fn(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, account.State())
}

// ListTransactions handles GET /v1/accounts/:id/transactions
func (h *AccountsHandler) ListTransactions(c *fiber.Ctx) error {
	txs, err := h.svc.ListTransactions(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, fiber.Map{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListLedgerEntries handles GET /v1/accounts/:id/ledger-entries
func (h *AccountsHandler) ListLedgerEntries(c *fiber.Ctx) error {
	entries, err := h.svc.GetLedgerEntriesByAccount(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}
