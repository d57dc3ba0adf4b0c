/*
errors.go - Centralized error types for the billing pipeline

PURPOSE:
  All pipeline error types in one place. The taxonomy matters: precondition
  violations abort the whole run (downstream stages assume a consistent
  ledger), while data-quality issues are logged and the row is still
  processed, since dropping it would silently distort totals.

ERROR CATEGORIES:
  1. Fatal preconditions - negative PI age, negative prepay balance,
     missing persisted ledger files
  2. Warned-and-continued - handled via logging at the call sites, not here
     (missing PI, unmapped domain, credit overwrite disagreement)

USAGE:
  Callers match with errors.Is():

    if errors.Is(err, billing.ErrNegativePIAge) { ... }
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNegativePIAge is returned when a PI's recorded first invoice month
	// is after the current invoice month. This means a corrupted PI ledger
	// or a replay against an out-of-order month; the run must abort.
	ErrNegativePIAge = errors.New("negative PI age")

	// ErrNegativePrepayBalance is returned when a group's computed prepaid
	// balance goes negative, which indicates a corrupted debit ledger.
	ErrNegativePrepayBalance = errors.New("negative prepay balance")

	// ErrLedgerFileMissing is returned when a required persisted ledger
	// file (PI credits, prepay debits) does not exist.
	ErrLedgerFileMissing = errors.New("persisted ledger file missing")

	// ErrUnknownPrepayGroup is returned when a credit, debit, or project
	// entry references a group absent from the contacts file.
	ErrUnknownPrepayGroup = errors.New("unknown prepay group")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NegativeAgeError reports a PI whose first invoice month postdates the
// month being processed.
type NegativeAgeError struct {
	PI           string
	FirstMonth   generic.Month
	InvoiceMonth generic.Month
}

func (e *NegativeAgeError) Error() string {
	return fmt.Sprintf("PI %s from %s found in %s invoice", e.PI, e.FirstMonth, e.InvoiceMonth)
}

func (e *NegativeAgeError) Unwrap() error { return ErrNegativePIAge }

// NegativeBalanceError reports a prepay group whose carry-forward balance
// went negative while replaying past debits.
type NegativeBalanceError struct {
	Group   string
	Balance decimal.Decimal
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("balance for prepay group %s is negative (%s)", e.Group, e.Balance)
}

func (e *NegativeBalanceError) Unwrap() error { return ErrNegativePrepayBalance }
