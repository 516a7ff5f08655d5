// Package policy holds the pluggable fee and risk strategies consumed by the
// transaction processor.
package policy

import (
	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/shopspring/decimal"
)

// FeePolicy computes the fee charged on a requested amount. Implementations
// are pure functions of the amount.
type FeePolicy interface {
	Calculate(amount domain.Money) domain.Money
}

// NoFee charges nothing.
type NoFee struct{}

func (NoFee) Calculate(domain.Money) domain.Money { return 0 }

// FlatFee charges the same fee on every amount.
type FlatFee struct {
	Fee domain.Money
}

func (f FlatFee) Calculate(domain.Money) domain.Money { return f.Fee }

// PercentFee charges Rate × amount (0.015 is 1.5%), rounded half away from
// zero to the nearest minor unit.
type PercentFee struct {
	Rate decimal.Decimal
}

func (p PercentFee) Calculate(amount domain.Money) domain.Money {
	fee := decimal.NewFromInt(int64(amount)).Mul(p.Rate).Round(0)
	return domain.Money(fee.IntPart())
}

// TieredFee charges Low when amount <= Threshold and High above it.
type TieredFee struct {
	Threshold domain.Money
	Low       domain.Money
	High      domain.Money
}

func (t TieredFee) Calculate(amount domain.Money) domain.Money {
	if amount <= t.Threshold {
		return t.Low
	}
	return t.High
}

// CappedFee bounds the fee of another policy.
type CappedFee struct {
	Policy FeePolicy
	Max    domain.Money
}

func (c CappedFee) Calculate(amount domain.Money) domain.Money {
	fee := c.Policy.Calculate(amount)
	if fee > c.Max {
		return c.Max
	}
	return fee
}
