/*
statements.go - The concrete export configurations

One constructor per billing artifact. All of them are filtered views over
the final ledger; the BU-internal and Lenovo artifacts reshape rows and so
render directly instead of going through Export.
*/
package invoices

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/billing"
	"github.com/nerc/billing-engine/generic"
)

// Billable is the full billable invoice: every billable, attributable row
// with the complete column list.
func Billable(name string) Export {
	return Export{
		Name:    name,
		Columns: standardColumns(),
		Filter:  billableAttributable,
	}
}

// Nonbillable lists the rows excluded from billing, for auditing.
func Nonbillable(name string) Export {
	return Export{
		Name:    name,
		Columns: standardColumns(),
		Filter:  func(r *billing.Row) bool { return !r.IsBillable },
	}
}

// Total is the institutional total invoice: billable rows of institutions
// flagged for inclusion, plus rows of managed prepay groups.
func Total(name string, includedInstitutions map[string]bool) Export {
	return Export{
		Name:    name,
		Columns: standardColumns(),
		Filter: func(r *billing.Row) bool {
			if !billableAttributable(r) {
				return false
			}
			managed := r.GroupManaged != nil && *r.GroupManaged
			return includedInstitutions[r.Institution] || managed
		},
	}
}

// HarvardBU is the combined Harvard/Boston University statement.
func HarvardBU(name string) Export {
	return Export{
		Name:    name,
		Columns: standardColumns(),
		Filter: func(r *billing.Row) bool {
			return billableAttributable(r) &&
				(r.Institution == "Harvard University" || r.Institution == "Boston University")
		},
	}
}

// PrepaidGroups is the statement for externally managed prepaid groups
// (rows tagged with a group that is not MGHPCC-managed).
func PrepaidGroups(name string) Export {
	return Export{
		Name:    name,
		Columns: standardColumns(),
		Filter: func(r *billing.Row) bool {
			return billableAttributable(r) && r.GroupManaged != nil && !*r.GroupManaged
		},
	}
}

// =============================================================================
// PER-PI STATEMENTS
// =============================================================================

// PerPI renders one statement per PI, keyed by the output file stem
// "{institution}_{pi}_{month}". Missing-PI rows are skipped.
func PerPI(ledger *billing.Ledger) map[string][][]string {
	columns := standardColumns()
	base := Export{Columns: columns}

	statements := make(map[string][][]string)
	for _, pi := range orderedBillablePIs(ledger) {
		piRows := &billing.Ledger{Month: ledger.Month}
		institution := ""
		for _, r := range ledger.Rows {
			if billableAttributable(r) && r.PI == pi {
				if institution == "" {
					institution = r.Institution
				}
				piRows.Rows = append(piRows.Rows, r)
			}
		}
		stem := fmt.Sprintf("%s_%s_%s", institution, pi, ledger.Month)
		statements[stem] = base.Records(piRows)
	}
	return statements
}

func orderedBillablePIs(ledger *billing.Ledger) []string {
	var pis []string
	seen := make(map[string]bool)
	for _, r := range ledger.Rows {
		if !billableAttributable(r) || seen[r.PI] {
			continue
		}
		seen[r.PI] = true
		pis = append(pis, r.PI)
	}
	return pis
}

// =============================================================================
// BU INTERNAL INVOICE - per-project sums
// =============================================================================

// BUInternal renders the internal subsidy-adjusted invoice for the
// subsidized institution. A project may have several allocations and
// therefore several ledger rows; the internal invoice carries one row per
// project, summing cost, credit, subsidy, and balance.
func BUInternal(ledger *billing.Ledger, institution string) [][]string {
	type projectSum struct {
		month   string
		pi      string
		project string
		cost    decimal.Decimal
		credit  decimal.Decimal
		subsidy decimal.Decimal
		balance decimal.Decimal
	}

	var order []string
	sums := make(map[string]*projectSum)
	for _, r := range ledger.Rows {
		if !billableAttributable(r) || r.Institution != institution {
			continue
		}
		s := sums[r.ProjectName]
		if s == nil {
			s = &projectSum{month: r.InvoiceMonth.String(), pi: r.PI, project: r.ProjectName}
			sums[r.ProjectName] = s
			order = append(order, r.ProjectName)
		}
		s.cost = s.cost.Add(r.Cost)
		if r.Credit != nil {
			s.credit = s.credit.Add(*r.Credit)
		}
		if r.Subsidy != nil {
			s.subsidy = s.subsidy.Add(*r.Subsidy)
		}
		s.balance = s.balance.Add(r.Balance)
	}

	records := [][]string{{
		HeaderInvoiceMonth, HeaderPI, "Project",
		HeaderCost, HeaderCredit, HeaderSubsidy, HeaderBalance,
	}}
	for _, project := range order {
		s := sums[project]
		records = append(records, []string{
			s.month, s.pi, s.project,
			generic.FormatMoney(s.cost),
			generic.FormatMoney(s.credit),
			generic.FormatMoney(s.subsidy),
			generic.FormatMoney(s.balance),
		})
	}
	return records
}

// =============================================================================
// SIDE ARTIFACTS
// =============================================================================

// Lenovo renders the vendor surcharge invoice.
func Lenovo(charges []billing.LenovoCharge) [][]string {
	records := [][]string{{
		HeaderInvoiceMonth, HeaderProject, HeaderInstitution,
		"SU Hours", HeaderSUType, "SU Charge", "Charge",
	}}
	for _, c := range charges {
		records = append(records, []string{
			c.InvoiceMonth, c.Project, c.Institution,
			c.SUHours.String(), c.SUType,
			generic.FormatMoney(c.SUCharge),
			generic.FormatMoney(c.Charge),
		})
	}
	return records
}

// PrepayCreditsSnapshot renders the auditable snapshot of this month's
// managed-group credit grants.
func PrepayCreditsSnapshot(credits []billing.PrepayCredit) [][]string {
	records := [][]string{{"Month", "Group Name", "Credit"}}
	for _, c := range credits {
		records = append(records, []string{
			c.Month.String(), c.Group, generic.FormatMoney(c.Credit),
		})
	}
	return records
}
