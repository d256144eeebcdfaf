// Package money handles the fixed-point amounts stored on accounts.
//
// Balances are stored with StorageScale fractional digits and cross the
// service boundary as strings with exactly DisplayScale digits, floored.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"ledger"
)

const (
	// StorageScale is the number of fractional digits persisted for balances.
	StorageScale int32 = 10
	// DisplayScale is the number of fractional digits accepted on input and
	// shown on output.
	DisplayScale int32 = 6
)

// Scale returns the number of fractional digits in d as written, trailing
// zeros included: "30.00000010" has scale 8.
func Scale(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// Parse reads a decimal amount and rejects more than DisplayScale fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ledger.Errorf(ledger.KindValidation, "amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ledger.Errorf(ledger.KindValidation, "amount %q is not a decimal", s)
	}
	if sc := Scale(d); sc > DisplayScale {
		return decimal.Zero, ledger.Errorf(ledger.KindValidation,
			"amount %s scale %d exceeds maximum allowed scale %d", s, sc, DisplayScale)
	}
	return d, nil
}

// ParsePositive is Parse for amounts that must be greater than zero.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ledger.Errorf(ledger.KindValidation, "amount %s must be positive", s)
	}
	return d, nil
}

// ParseBalance reads an optional initial balance. Empty means zero; negative
// values are rejected.
func ParseBalance(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := Parse(s)
	if err != nil {
		return d, err
	}
	if d.IsNegative() {
		return decimal.Zero, ledger.Errorf(ledger.KindValidation, "initial balance %s must not be negative", s)
	}
	return d, nil
}

// Display floors d to DisplayScale digits and renders exactly that many.
func Display(d decimal.Decimal) string {
	return d.RoundFloor(DisplayScale).StringFixed(DisplayScale)
}

// Storage renders d with StorageScale digits for persistence.
func Storage(d decimal.Decimal) string {
	return d.StringFixed(StorageScale)
}
