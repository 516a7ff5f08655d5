package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/dvloznov/ledger-core/internal/api/middleware"
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Banking is the facade the handlers drive.
type Banking interface {
	CreateCustomer(ctx context.Context, name, email string) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomerStatus(ctx context.Context, id string, status domain.CustomerStatus) (*domain.Customer, error)
	CreateAccount(ctx context.Context, customerID string, currency domain.Currency) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListCustomerAccounts(ctx context.Context, customerID string) ([]*domain.Account, error)
	FreezeAccount(ctx context.Context, id string) (*domain.Account, error)
	UnfreezeAccount(ctx context.Context, id string) (*domain.Account, error)
	CloseAccount(ctx context.Context, id string) (*domain.Account, error)
	Deposit(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error)
	Withdraw(ctx context.Context, accountID string, amount domain.Money) (*domain.Transaction, error)
	Transfer(ctx context.Context, fromID, toID string, amount domain.Money) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, accountID string) ([]*domain.Transaction, error)
	GetLedgerEntriesByAccount(ctx context.Context, accountID string) ([]*domain.LedgerEntry, error)
	GetLedgerEntriesByTransaction(ctx context.Context, transactionID string) ([]*domain.LedgerEntry, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the JSON body into req and validates it. On failure it has
// already written the 400 response and returns false.
func bind(c *fiber.Ctx, req interface{}) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, middleware.WriteJSON(c, http.StatusBadRequest, middleware.ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Kind:  domain.KindInputViolation,
		})
	}
	if err := validate.Struct(req); err != nil {
		return false, middleware.WriteJSON(c, http.StatusBadRequest, middleware.ErrorResponse{
			Error: validationMessage(err),
			Kind:  domain.KindInputViolation,
		})
	}
	return true, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func accountStates(accounts []*domain.Account) []domain.AccountState {
	out := make([]domain.AccountState, len(accounts))
	for i, a := range accounts {
		out[i] = a.State()
	}
	return out
}
