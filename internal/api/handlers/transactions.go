package handlers

import (
	"net/http"

	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/gofiber/fiber/v2"
)

type TransactionsHandler struct {
	svc Banking
}

func NewTransactionsHandler(svc Banking) *TransactionsHandler {
	return &TransactionsHandler{svc: svc}
}

// Amounts arrive as decimal strings ("492.50") or JSON numbers; positivity
// is enforced by the ledger so the error kind matches other callers.
type movementRequest struct {
	AccountID string       `json:"account_id" validate:"required"`
	Amount    domain.Money `json:"amount"`
}

type transferRequest struct {
	FromAccountID string       `json:"from_account_id" validate:"required"`
	ToAccountID   string       `json:"to_account_id" validate:"required"`
	Amount        domain.Money `json:"amount"`
}

// Deposit handles POST /v1/transactions/deposit
func (h *TransactionsHandler) Deposit(c *fiber.Ctx) error {
	var req movementRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	tx, err := h.svc.Deposit(c.UserContext(), req.AccountID, req.Amount)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusCreated, tx)
}

// Withdraw handles POST /v1/transactions/withdraw
func (h *TransactionsHandler) Withdraw(c *fiber.Ctx) error {
	var req movementRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	tx, err := h.svc.Withdraw(c.UserContext(), req.AccountID, req.Amount)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusCreated, tx)
}

// Transfer handles POST /v1/transactions/transfer
func (h *TransactionsHandler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	tx, err := h.svc.Transfer(c.UserContext(), req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusCreated, tx)
}

// GetTransaction handles GET /v1/transactions/:id
func (h *TransactionsHandler) GetTransaction(c *fiber.Ctx) error {
	tx, err := h.svc.GetTransaction(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, tx)
}

// ListLedgerEntries handles GET /v1/transactions/:id/ledger-entries
func (h *TransactionsHandler) ListLedgerEntries(c *fiber.Ctx) error {
	entries, err := h.svc.GetLedgerEntriesByTransaction(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}
