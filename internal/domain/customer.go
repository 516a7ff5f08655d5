package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CustomerStatus is the lifecycle state of a customer.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "ACTIVE"
	CustomerInactive  CustomerStatus = "INACTIVE"
	CustomerSuspended CustomerStatus = "SUSPENDED"
)

const minNameLength = 2

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// Customer owns accounts. Customers are never deleted; an administrator
// changes their status instead.
type Customer struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Status    CustomerStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewCustomer validates name and email and returns an ACTIVE customer with a
// fresh id. The email is stored lower-cased.
func NewCustomer(name, email string, now time.Time) (*Customer, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < minNameLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrInvalidName, minNameLength)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return &Customer{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Status:    CustomerActive,
		CreatedAt: now,
	}, nil
}

// ParseCustomerStatus accepts a status name in any case.
func ParseCustomerStatus(s string) (CustomerStatus, error) {
	switch status := CustomerStatus(strings.ToUpper(strings.TrimSpace(s))); status {
	case CustomerActive, CustomerInactive, CustomerSuspended:
		return status, nil
	default:
		return "", fmt.Errorf("%w: customer status %q", ErrInvalidStatus, s)
	}
}

func (c *Customer) IsActive() bool {
	return c.Status == CustomerActive
}
