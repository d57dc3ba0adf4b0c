/*
discount.go - Flat discount engine

PURPOSE:
  The one algorithm every credit rule shares: apply a bounded monetary amount
  across an ordered set of accounts, greedily consuming each account's
  remaining balance until the amount runs out. New-PI credits, institutional
  subsidies, and prepaid-group balances are all this loop with different
  grouping keys, discount fields, and persisted state.

CONTRACT:
  - Accounts are visited strictly in slice order (caller controls ordering,
    which must match ledger row order).
  - applied = min(account source balance, remaining amount) per account.
  - The account records applied (overwrite, not accumulate: one write per
    account per call) and decrements its running balances.
  - A non-empty code is comma-appended only to accounts where applied > 0.
  - Stops early once the amount is exhausted.
  - Zero or negative amounts are a valid no-op returning zero.

MUTATION:
  Accounts mutate their rows in place. The return value is only the total
  actually consumed, which callers persist into their ledgers.

SEE ALSO:
  - billing/credit.go, billing/subsidy.go, billing/prepay.go: the three rules
*/
package generic

import "github.com/shopspring/decimal"

// =============================================================================
// DISCOUNT ACCOUNT - One row's view of a single discount application
// =============================================================================

// DiscountAccount adapts a ledger row for one discount rule. Implementations
// choose which row fields act as the source balance, the discount record,
// and the credit-code field.
type DiscountAccount interface {
	// SourceBalance returns the balance the discount is taken against.
	SourceBalance() decimal.Decimal

	// Consume records the applied amount and decrements the running
	// balances. Called once per visited account, including applied == 0.
	Consume(applied decimal.Decimal)

	// AppendCode comma-appends a credit code to the account's code field.
	// Only called when the applied amount is positive.
	AppendCode(code string)
}

// =============================================================================
// ENGINE
// =============================================================================

// ApplyFlatDiscount greedily consumes amount across accounts in order and
// returns the total actually applied, capped by the sum of source balances.
func ApplyFlatDiscount(accounts []DiscountAccount, amount decimal.Decimal, code string) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	remaining := amount
	for _, acct := range accounts {
		if !remaining.IsPositive() {
			break
		}
		applied := decimal.Min(acct.SourceBalance(), remaining)
		acct.Consume(applied)
		remaining = remaining.Sub(applied)
		if code != "" && applied.IsPositive() {
			acct.AppendCode(code)
		}
	}

	return amount.Sub(remaining)
}
