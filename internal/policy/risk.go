package policy

import (
	"fmt"

	"github.com/dvloznov/ledger-core/internal/domain"
)

// Rule names, reported in RiskRejectedError.
const (
	RuleMaxAmount  = "max_amount"
	RuleVelocity   = "velocity"
	RuleDailyLimit = "daily_limit"
)

// RiskContext is the account activity snapshot a risk check runs against.
// It is built once per operation and shared by every rule.
type RiskContext struct {
	// RecentTransactionCount counts APPROVED transactions touching the
	// account inside the velocity window.
	RecentTransactionCount int
	// DailyTotal sums APPROVED transaction amounts since 00:00 UTC.
	DailyTotal domain.Money
}

// RiskRule passes or rejects a requested amount. A rejection is a
// *domain.RiskRejectedError.
type RiskRule interface {
	Name() string
	Validate(amount domain.Money, rc RiskContext) error
}

// MaxAmount rejects single amounts above Max. Max itself passes.
type MaxAmount struct {
	Max domain.Money
}

func (MaxAmount) Name() string { return RuleMaxAmount }

func (r MaxAmount) Validate(amount domain.Money, _ RiskContext) error {
	if amount > r.Max {
		return reject(RuleMaxAmount, "amount %s exceeds maximum %s", amount, r.Max)
	}
	return nil
}

// Velocity rejects when the account already has more than MaxTransactions
// recent transactions.
type Velocity struct {
	MaxTransactions int
}

func (Velocity) Name() string { return RuleVelocity }

func (r Velocity) Validate(_ domain.Money, rc RiskContext) error {
	if rc.RecentTransactionCount > r.MaxTransactions {
		return reject(RuleVelocity, "%d recent transactions exceeds maximum %d", rc.RecentTransactionCount, r.MaxTransactions)
	}
	return nil
}

// DailyLimit rejects when the day's total plus amount goes over Limit.
type DailyLimit struct {
	Limit domain.Money
}

func (DailyLimit) Name() string { return RuleDailyLimit }

func (r DailyLimit) Validate(amount domain.Money, rc RiskContext) error {
	if rc.DailyTotal+amount > r.Limit {
		return reject(RuleDailyLimit, "daily total %s plus %s exceeds limit %s", rc.DailyTotal, amount, r.Limit)
	}
	return nil
}

// Evaluate runs rules in order and returns the first rejection.
func Evaluate(rules []RiskRule, amount domain.Money, rc RiskContext) error {
	for _, rule := range rules {
		if err := rule.Validate(amount, rc); err != nil {
			return err
		}
	}
	return nil
}

func reject(rule, format string, args ...any) error {
	return &domain.RiskRejectedError{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
