/*
month.go - Invoice month abstraction

PURPOSE:
  Every pipeline run operates on exactly one billing period, identified by a
  YYYY-MM string in every input and persisted file. Month wraps that period
  with exact arithmetic so age and carry-forward calculations never touch
  day-level time or timezones.

KEY OPERATIONS:
  - ParseMonth("2024-03"): the only way months enter the system
  - Diff: signed month distance, the basis for PI age and prepay windows
  - Before/After/Equal: ordering for window checks

INVARIANTS:
  - A zero Month is invalid everywhere except "field not set"
  - String() always round-trips through ParseMonth

SEE ALSO:
  - billing/credit.go: PI age = current.Diff(firstMonth)
  - billing/prepay.go: active windows and carry-forward sums
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The billing period
// =============================================================================

// Month is a calendar month, the granularity all billing state is keyed on.
type Month struct {
	year  int
	month time.Month
}

// NewMonth builds a Month from explicit parts.
func NewMonth(year int, month time.Month) Month {
	return Month{year: year, month: month}
}

// ParseMonth parses the YYYY-MM form used by every invoice file.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid invoice month %q: %w", s, err)
	}
	return Month{year: t.Year(), month: t.Month()}, nil
}

// MustParseMonth is for tests and compile-time-known constants.
func MustParseMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Month) Year() int         { return m.year }
func (m Month) Month() time.Month { return m.month }
func (m Month) IsZero() bool      { return m.year == 0 && m.month == 0 }

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.year, int(m.month))
}

// =============================================================================
// ARITHMETIC & COMPARISON
// =============================================================================

// Diff returns the signed number of months m is ahead of other.
// Positive means m is later, zero means same month.
func (m Month) Diff(other Month) int {
	return (m.year-other.year)*12 + int(m.month) - int(other.month)
}

func (m Month) Before(other Month) bool { return m.Diff(other) < 0 }
func (m Month) After(other Month) bool  { return m.Diff(other) > 0 }
func (m Month) Equal(other Month) bool  { return m.Diff(other) == 0 }

// AddMonths returns the month n months later (or earlier, for negative n).
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.year, m.month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return Month{year: t.Year(), month: t.Month()}
}

// Contains reports whether m falls inside [start, end], inclusive both ends.
// Used for timed non-billable projects and prepay project windows.
func (m Month) Contains(start, end Month) bool {
	return m.Diff(start) >= 0 && end.Diff(m) >= 0
}
