/*
credit.go - New-PI credit engine

PURPOSE:
  Grants every first-time PI a one-time credit pool spendable across their
  first two invoice months, and persists per-PI usage in the durable PI
  credit ledger so the remainder carries into month two.

STATE MACHINE (per PI, age = invoiceMonth - firstMonth in months):
  absent   -> treated as age 0: ledger entry created
  age == 0 -> apply up to the full pool, record first-month usage
  age == 1 -> apply the remainder (pool - first-month usage), record
              second-month usage
  age  > 1 -> no credit; the entry is never touched again
  age  < 0 -> fatal: corrupted ledger or out-of-order replay

ELIGIBILITY:
  Billable, non-missing-PI rows, excluding SU types that carry their own
  pricing, optionally restricted to institutions with an active MGHPCC
  partnership as of the invoice month.

IDEMPOTENCE:
  Re-running a month recomputes usage from scratch. If the recorded usage
  disagrees with the fresh computation the file is about to be overwritten
  with a different value - that is warned about (a data-integrity signal)
  but not fatal.

SEE ALSO:
  - generic/discount.go: the consumption loop
  - store/csvfile: ledger (de)serialization
*/
package billing

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/generic"
)

// NewPICreditEngine applies the New-PI credit rule. The PI credit ledger is
// loaded before the run and written back after; the engine only mutates the
// in-memory copy.
type NewPICreditEngine struct {
	CreditLedger    *PICreditLedger
	DefaultAmount   decimal.Decimal
	ExcludedSUTypes []string

	// LimitToPartners restricts eligibility to institutions present in
	// ActivePartners.
	LimitToPartners bool
	ActivePartners  map[string]bool

	Log zerolog.Logger
}

func (e *NewPICreditEngine) Name() string { return "new-pi-credit" }

func (e *NewPICreditEngine) Process(ledger *Ledger) error {
	// This is the first balance-writing stage: seed both running columns
	// from Cost so every later rule consumes over them.
	for _, row := range ledger.Rows {
		row.PIBalance = row.Cost
		row.Balance = row.Cost
	}

	amount := e.initialCreditAmount(ledger.Month)
	e.Log.Info().
		Str("invoice_month", ledger.Month.String()).
		Str("amount", generic.FormatMoney(amount)).
		Msg("new PI credit set")

	eligible := e.eligibleRows(ledger)
	for _, pi := range orderedPIs(eligible) {
		var piRows []*Row
		for _, r := range eligible {
			if r.PI == pi {
				piRows = append(piRows, r)
			}
		}
		if err := e.applyForPI(ledger.Month, pi, piRows, amount); err != nil {
			return err
		}
	}
	return nil
}

func (e *NewPICreditEngine) applyForPI(month generic.Month, pi string, rows []*Row, amount decimal.Decimal) error {
	age, err := e.piAge(pi, month)
	if err != nil {
		return err
	}
	if age > 1 {
		// Pool exhausted by definition; the full remaining balance stands.
		return nil
	}

	var remaining decimal.Decimal
	entry := e.CreditLedger.Lookup(pi)
	switch age {
	case 0:
		if entry == nil {
			entry = &PICreditEntry{PI: pi, FirstMonth: month, InitialCredits: amount}
			e.CreditLedger.Add(entry)
		}
		remaining = amount
	case 1:
		remaining = entry.InitialCredits.Sub(entry.FirstMonthUsed)
	}

	accounts := make([]generic.DiscountAccount, len(rows))
	for i, r := range rows {
		accounts[i] = creditAccount{row: r}
	}
	used := generic.ApplyFlatDiscount(accounts, remaining, NewPICreditCode)

	recorded := &entry.FirstMonthUsed
	if age == 1 {
		recorded = &entry.SecondMonthUsed
	}
	if !recorded.IsZero() && !used.Equal(*recorded) {
		e.Log.Warn().
			Str("pi", pi).
			Str("previously_used", generic.FormatMoney(*recorded)).
			Str("now_used", generic.FormatMoney(used)).
			Msg("PI credit ledger overwritten with different usage")
	}
	*recorded = used
	return nil
}

// piAge returns how many months have passed since the PI's first invoice
// month; absent PIs are brand-new (age 0). A negative age is a pipeline
// precondition violation and aborts the run.
func (e *NewPICreditEngine) piAge(pi string, month generic.Month) (int, error) {
	entry := e.CreditLedger.Lookup(pi)
	if entry == nil {
		return 0, nil
	}
	age := month.Diff(entry.FirstMonth)
	if age < 0 {
		return 0, &NegativeAgeError{PI: pi, FirstMonth: entry.FirstMonth, InvoiceMonth: month}
	}
	return age, nil
}

// initialCreditAmount returns the credit pool for PIs first seen this
// month. An entry already recorded in the ledger for this month overrides
// the configured default, which is how manual per-month overrides work.
func (e *NewPICreditEngine) initialCreditAmount(month generic.Month) decimal.Decimal {
	for _, entry := range e.CreditLedger.Entries {
		if entry.FirstMonth.Equal(month) && !entry.InitialCredits.IsZero() {
			return entry.InitialCredits
		}
	}
	return e.DefaultAmount
}

func (e *NewPICreditEngine) eligibleRows(ledger *Ledger) []*Row {
	excluded := make(map[string]bool, len(e.ExcludedSUTypes))
	for _, t := range e.ExcludedSUTypes {
		excluded[t] = true
	}

	var rows []*Row
	for _, r := range ledger.BillableRows() {
		if excluded[r.SUType] {
			continue
		}
		if e.LimitToPartners && !e.ActivePartners[r.Institution] {
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

// =============================================================================
// DISCOUNT ADAPTER
// =============================================================================

// creditAccount directs the flat discount at the Credit/CreditCode columns.
type creditAccount struct {
	row *Row
}

func (a creditAccount) SourceBalance() decimal.Decimal { return a.row.PIBalance }

func (a creditAccount) Consume(applied decimal.Decimal) {
	a.row.Credit = &applied
	a.row.PIBalance = a.row.PIBalance.Sub(applied)
	a.row.Balance = a.row.Balance.Sub(applied)
}

func (a creditAccount) AppendCode(code string) {
	if a.row.CreditCode == "" {
		a.row.CreditCode = code
		return
	}
	a.row.CreditCode += "," + code
}
