package rent

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed two-decimal arithmetic
// =============================================================================

// Round2 rounds to cents, half away from zero.
// Every amount passes through Round2 before it is compared or persisted.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Balance returns max(0, round2(amount - paid)).
func Balance(amount, paid decimal.Decimal) decimal.Decimal {
	b := Round2(amount.Sub(paid))
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// ParseAmount parses a decimal string and rounds it to cents.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Round2(d), nil
}

// MustAmount is ParseAmount for literals; it panics on malformed input.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return Round2(d).StringFixed(2)
}

// =============================================================================
// DATES - Ledger rows compare dates as YYYY-MM-DD strings
// =============================================================================

const (
	DateLayout   = "2006-01-02"
	PeriodLayout = "2006-01"
)

// DateKey normalizes a time to its UTC calendar date.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func MustDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ValidPeriod reports whether s is a YYYY-MM month label.
func ValidPeriod(s string) bool {
	_, err := time.Parse(PeriodLayout, s)
	return err == nil
}
