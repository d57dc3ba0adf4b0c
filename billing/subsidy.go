/*
subsidy.go - Institutional subsidy engine

A flat per-PI allowance applied to one designated institution's rows, on top
of whatever the New-PI credit left. No persisted state, no carry-forward, no
credit code - purely a per-run allowance. Rows are selected via the flags
the billability classifier persisted, not recomputed billability.
*/
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/generic"
)

// SubsidyEngine applies a flat per-PI subsidy for one institution.
type SubsidyEngine struct {
	Institution string
	Amount      decimal.Decimal
}

func (e *SubsidyEngine) Name() string { return "institution-subsidy" }

func (e *SubsidyEngine) Process(ledger *Ledger) error {
	var eligible []*Row
	for _, r := range ledger.BillableRows() {
		if r.Institution == e.Institution {
			eligible = append(eligible, r)
		}
	}

	// Seed the subsidy column so eligible rows export 0.00 rather than an
	// empty cell even when the allowance was exhausted before reaching them.
	for _, r := range eligible {
		zero := decimal.Zero
		r.Subsidy = &zero
	}

	for _, pi := range orderedPIs(eligible) {
		var accounts []generic.DiscountAccount
		for _, r := range eligible {
			if r.PI == pi {
				accounts = append(accounts, subsidyAccount{row: r})
			}
		}
		generic.ApplyFlatDiscount(accounts, e.Amount, "")
	}
	return nil
}

// subsidyAccount directs the flat discount at the Subsidy column.
type subsidyAccount struct {
	row *Row
}

func (a subsidyAccount) SourceBalance() decimal.Decimal { return a.row.PIBalance }

func (a subsidyAccount) Consume(applied decimal.Decimal) {
	a.row.Subsidy = &applied
	a.row.PIBalance = a.row.PIBalance.Sub(applied)
	a.row.Balance = a.row.Balance.Sub(applied)
}

func (a subsidyAccount) AppendCode(string) {}
