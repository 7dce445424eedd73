package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Fractional digits per value kind.
const (
	PrecInt     int32 = 0
	PrecDefault int32 = 2 // money
	PrecSwap    int32 = 4
	PrecPrice   int32 = 8
)

// Rescale rounds d to prec fractional digits (half away from zero).
func Rescale(d decimal.Decimal, prec int32) decimal.Decimal {
	return d.Round(prec)
}

// Parse reads a decimal string and rescales it to prec digits.
// Surrounding whitespace is not accepted.
func Parse(s string, prec int32) (decimal.Decimal, error) {
	if s == "" || strings.TrimSpace(s) != s {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Rescale(d, prec), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string, prec int32) decimal.Decimal {
	d, err := Parse(s, prec)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d with trailing zeros stripped, the way amounts go out on the wire.
func Format(d decimal.Decimal) string {
	return d.String()
}
