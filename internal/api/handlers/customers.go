package handlers

import (
	"net/http"

	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/gofiber/fiber/v2"
)

type CustomersHandler struct {
	svc Banking
}

func NewCustomersHandler(svc Banking) *CustomersHandler {
	return &CustomersHandler{svc: svc}
}

type createCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,max=320"`
}

// CreateCustomer handles POST /v1/customers
func (h *CustomersHandler) CreateCustomer(c *fiber.Ctx) error {
	var req createCustomerRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}

	customer, err := h.svc.CreateCustomer(c.UserContext(), req.Name, req.Email)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusCreated, customer)
}

// GetCustomer handles GET /v1/customers/:id
func (h *CustomersHandler) GetCustomer(c *fiber.Ctx) error {
	customer, err := h.svc.GetCustomer(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, customer)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateStatus handles PATCH /v1/customers/:id/status
func (h *CustomersHandler) UpdateStatus(c *fiber.Ctx) error {
	var req updateStatusRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	status, err := domain.ParseCustomerStatus(req.Status)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}

	customer, err := h.svc.UpdateCustomerStatus(c.UserContext(), c.Params("id"), status)
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, customer)
}

// ListAccounts handles GET /v1/customers/:id/accounts
func (h *CustomersHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.svc.ListCustomerAccounts(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteDomainError(c, err)
	}
	return middleware.WriteJSON(c, http.StatusOK, fiber.Map{
		"accounts": accountStates(accounts),
		"count":    len(accounts),
	})
}
