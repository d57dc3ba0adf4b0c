/*
Package invoices turns the processed ledger into billing artifacts.

PURPOSE:
  Every invoice is a filtered, column-sliced view of the final ledger:
  exports never alter balances. Instead of an inheritance hierarchy, each
  artifact is a tagged export configuration (name + column list + row
  filter) consumed by one generic renderer.

KEY TYPES:
  - Column: header + cell renderer for one output column
  - Export: one artifact's configuration
  - Records: the generic renderer, header row first

SEE ALSO:
  - statements.go: the concrete export configurations
  - store/csvfile: writes the rendered records
*/
package invoices

import (
	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/billing"
	"github.com/nerc/billing-engine/generic"
)

// Exported column headers, matching the raw usage report plus the columns
// the pipeline adds.
const (
	HeaderInvoiceMonth     = "Invoice Month"
	HeaderProject          = "Project - Allocation"
	HeaderProjectID        = "Project - Allocation ID"
	HeaderPI               = "Manager (PI)"
	HeaderInvoiceEmail     = "Invoice Email"
	HeaderInvoiceAddress   = "Invoice Address"
	HeaderInstitution      = "Institution"
	HeaderInstitutionCode  = "Institution - Specific Code"
	HeaderSUHours          = "SU Hours (GBhr or SUhr)"
	HeaderSUType           = "SU Type"
	HeaderRate             = "Rate"
	HeaderGroupName        = "Prepaid Group Name"
	HeaderGroupInstitution = "Prepaid Group Institution"
	HeaderGroupBalance     = "Prepaid Group Balance"
	HeaderCost             = "Cost"
	HeaderGroupUsed        = "Prepaid Group Used"
	HeaderCredit           = "Credit"
	HeaderCreditCode       = "Credit Code"
	HeaderSubsidy          = "Subsidy"
	HeaderBalance          = "Balance"
)

// Column is one output column: a header and how to render a row's cell.
type Column struct {
	Header string
	Cell   func(*billing.Row) string
}

// Export is one artifact's configuration. Filter nil means every row.
type Export struct {
	Name    string
	Columns []Column
	Filter  func(*billing.Row) bool
}

// Records renders the export: header row first, then one record per
// matching ledger row, in ledger order.
func (e Export) Records(ledger *billing.Ledger) [][]string {
	header := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		header[i] = c.Header
	}
	records := [][]string{header}

	for _, row := range ledger.Rows {
		if e.Filter != nil && !e.Filter(row) {
			continue
		}
		record := make([]string, len(e.Columns))
		for i, c := range e.Columns {
			record[i] = c.Cell(row)
		}
		records = append(records, record)
	}
	return records
}

// =============================================================================
// CELL RENDERERS
// =============================================================================

func moneyCell(d decimal.Decimal) string { return generic.FormatMoney(d) }

func optMoneyCell(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return generic.FormatMoney(*d)
}

func yesNoCell(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "Yes"
	}
	return "No"
}

// standardColumns is the full column list shared by the billable, total,
// per-PI, and prepaid-group artifacts.
func standardColumns() []Column {
	return []Column{
		{HeaderInvoiceMonth, func(r *billing.Row) string { return r.InvoiceMonth.String() }},
		{HeaderProject, func(r *billing.Row) string { return r.Project }},
		{HeaderProjectID, func(r *billing.Row) string { return r.ProjectID }},
		{HeaderPI, func(r *billing.Row) string { return r.PI }},
		{HeaderInvoiceEmail, func(r *billing.Row) string { return r.InvoiceEmail }},
		{HeaderInvoiceAddress, func(r *billing.Row) string { return r.InvoiceAddress }},
		{HeaderInstitution, func(r *billing.Row) string { return r.Institution }},
		{HeaderInstitutionCode, func(r *billing.Row) string { return r.InstitutionCode }},
		{HeaderSUHours, func(r *billing.Row) string { return r.SUHours.String() }},
		{HeaderSUType, func(r *billing.Row) string { return r.SUType }},
		{HeaderRate, func(r *billing.Row) string { return r.Rate }},
		{HeaderGroupName, func(r *billing.Row) string { return r.GroupName }},
		{HeaderGroupInstitution, func(r *billing.Row) string { return r.GroupInstitution }},
		{HeaderGroupBalance, func(r *billing.Row) string { return optMoneyCell(r.GroupBalance) }},
		{HeaderCost, func(r *billing.Row) string { return moneyCell(r.Cost) }},
		{HeaderGroupUsed, func(r *billing.Row) string { return optMoneyCell(r.GroupBalanceUsed) }},
		{HeaderCredit, func(r *billing.Row) string { return optMoneyCell(r.Credit) }},
		{HeaderCreditCode, func(r *billing.Row) string { return r.CreditCode }},
		{HeaderSubsidy, func(r *billing.Row) string { return optMoneyCell(r.Subsidy) }},
		{HeaderBalance, func(r *billing.Row) string { return moneyCell(r.Balance) }},
	}
}

func billableAttributable(r *billing.Row) bool {
	return r.IsBillable && !r.MissingPI
}
