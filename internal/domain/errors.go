package domain

import (
	"errors"
	"fmt"
)

// Not found.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// State conflicts.
var (
	ErrAccountFrozen       = errors.New("account is frozen")
	ErrAccountClosed       = errors.New("account is closed")
	ErrCustomerInactive    = errors.New("customer is not active")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrAccountLimitReached = errors.New("customer has reached the maximum number of accounts")
	ErrActiveAccounts      = errors.New("customer still has active accounts")
	ErrConcurrentUpdate    = errors.New("account was modified concurrently")
)

// Funds and policy.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRiskRejected      = errors.New("rejected by risk policy")
)

// Input.
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("unsupported currency")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrSameAccount      = errors.New("source and destination accounts are the same")
	ErrCurrencyMismatch = errors.New("accounts have different currencies")
)

// RiskRejectedError names the risk rule that refused an operation.
// It matches ErrRiskRejected under errors.Is.
type RiskRejectedError struct {
	Rule   string
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrRiskRejected.Error(), e.Rule, e.Reason)
}

func (e *RiskRejectedError) Is(target error) bool {
	return target == ErrRiskRejected
}

// Kind classifies errors for callers that only care about the family,
// such as the HTTP layer choosing a status code.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindStateConflict   Kind = "state_conflict"
	KindFundsViolation  Kind = "funds_violation"
	KindPolicyViolation Kind = "policy_violation"
	KindInputViolation  Kind = "input_violation"
	KindInternal        Kind = "internal"
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindNotFound, []error{ErrAccountNotFound, ErrCustomerNotFound, ErrTransactionNotFound}},
	{KindStateConflict, []error{ErrAccountFrozen, ErrAccountClosed, ErrCustomerInactive, ErrDuplicateEmail,
		ErrAccountLimitReached, ErrActiveAccounts, ErrConcurrentUpdate}},
	{KindFundsViolation, []error{ErrInsufficientFunds}},
	{KindPolicyViolation, []error{ErrRiskRejected}},
	{KindInputViolation, []error{ErrInvalidAmount, ErrInvalidCurrency, ErrInvalidEmail, ErrInvalidName,
		ErrInvalidStatus, ErrSameAccount, ErrCurrencyMismatch}},
}

// KindOf reports the family err belongs to. Anything not raised by the
// domain is KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}
