package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// minorUnits is the number of fractional digits carried by every supported
// currency (USD, EUR, CAD, GBP all use cents).
const minorUnits = 2

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Money is a monetary amount in minor currency units. Arithmetic on Money is
// exact; decimal conversion only happens at the boundaries.
type Money int64

// ParseMoney parses a decimal string such as "492.50" into Money.
// More than two fractional digits is rejected rather than rounded.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d)
}

// MustParseMoney is ParseMoney for constants and tests. It panics on error.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal converts an exact decimal into Money.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(minorUnits)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), minorUnits)
	}
	minor := d.Shift(minorUnits)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return Money(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorUnits)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(minorUnits)
}

// MarshalJSON encodes Money as a fixed two-place decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Clock supplies timestamps for new entities.
type Clock func() time.Time

// SystemClock returns the current UTC time at microsecond precision, which is
// what Postgres stores, so a re-read entity compares equal to the one written.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
