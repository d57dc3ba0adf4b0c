/*
money.go - Exact monetary arithmetic helpers

PURPOSE:
  All amounts in the pipeline are money. They are held as decimal.Decimal and
  serialized fixed-point with two fraction digits, never binary floating
  point. This file centralizes parsing and formatting so every CSV column
  round-trips identically.

SEE ALSO:
  - generic/discount.go: consumes balances produced here
  - store/csvfile: serialization call sites
*/
package generic

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MustDecimal parses a decimal literal known at compile time.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseMoney parses a money cell. An empty cell means zero; anything else
// must be a valid decimal.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// FormatMoney renders a money value the way persisted files expect it:
// fixed-point, two fraction digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}
