/*
Package billing implements the monthly invoicing pipeline for the consortium.

PURPOSE:
  One pipeline run ingests the month's raw usage ledger (one row per project
  allocation per SU type), canonicalizes PI identities, resolves
  institutions, classifies billability, and then applies the ordered chain of
  credit rules - New-PI credits, the institutional subsidy, and prepaid-group
  balances - each consuming the balance left by the previous rule.

KEY TYPES IN THIS FILE:
  - Row: one fixed-schema usage record with its running balance columns
  - Ledger: the month's ordered row set shared by every processor
  - PICreditEntry / PICreditLedger: the persisted New-PI credit state
  - Prepay*: prepaid-group credits, projects, contacts, and the debit ledger

DESIGN PRINCIPLES:
  1. Exact decimals: money is decimal.Decimal, never float
  2. Fixed schema: optional columns are pointer fields, not dynamic columns
  3. Single writer: processors run in order, each finishing before the next
  4. Balances only shrink: a rule can reduce what a PI owes, never increase it

SEE ALSO:
  - pipeline.go: processor ordering
  - generic/discount.go: the shared consumption algorithm
*/
package billing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/generic"
)

// NewPICreditCode is the credit code stamped on rows that received New-PI
// credit, as it appears on exported invoices.
const NewPICreditCode = "0002"

// =============================================================================
// ROW - One project-allocation/SU-type usage record
// =============================================================================

// Row is one usage record for the invoice month. Pointer fields are columns
// a later pipeline stage may populate; nil means the stage never touched
// this row and the exported cell stays empty.
type Row struct {
	InvoiceMonth    generic.Month
	Project         string // "Project - Allocation"
	ProjectID       string
	ProjectName     string // text before the last "-" of Project, or Project itself
	PI              string // empty means missing PI
	InvoiceEmail    string
	InvoiceAddress  string
	Institution     string
	InstitutionCode string
	SUHours         decimal.Decimal
	SUType          string
	Rate            string
	Cost            decimal.Decimal

	// Written once by the billability classifier, read-only afterward.
	IsBillable bool
	MissingPI  bool

	// Running balance columns. PIBalance is the internal working balance the
	// discount rules consume against; Balance is the exported final amount
	// owed. Both start at Cost and only ever decrease.
	PIBalance decimal.Decimal
	Balance   decimal.Decimal

	Credit     *decimal.Decimal
	CreditCode string // comma-separated when multiple codes apply
	Subsidy    *decimal.Decimal

	GroupName        string
	GroupInstitution string
	GroupManaged     *bool
	GroupBalance     *decimal.Decimal
	GroupBalanceUsed *decimal.Decimal
}

// ProjectNameOf derives the project name from a "Project - Allocation"
// string: everything before the last "-", or the whole string if there is
// no "-".
func ProjectNameOf(projectAllocation string) string {
	if i := strings.LastIndex(projectAllocation, "-"); i >= 0 {
		return projectAllocation[:i]
	}
	return projectAllocation
}

// =============================================================================
// LEDGER - The month's shared row set
// =============================================================================

// Ledger is the tabular record set every processor reads and writes. Row
// order is stable for the whole run; discount rules depend on it.
type Ledger struct {
	Month generic.Month
	Rows  []*Row
}

// BillableRows returns the rows downstream credit rules may operate on:
// billable and attributable to a PI.
func (l *Ledger) BillableRows() []*Row {
	var rows []*Row
	for _, r := range l.Rows {
		if r.IsBillable && !r.MissingPI {
			rows = append(rows, r)
		}
	}
	return rows
}

// orderedPIs returns the distinct PIs of rows in first-appearance order, so
// that re-runs over the same inputs produce byte-identical state.
func orderedPIs(rows []*Row) []string {
	var pis []string
	seen := make(map[string]bool)
	for _, r := range rows {
		if r.PI == "" || seen[r.PI] {
			continue
		}
		seen[r.PI] = true
		pis = append(pis, r.PI)
	}
	return pis
}

// =============================================================================
// PI CREDIT LEDGER - Persisted across invoice months
// =============================================================================

// PICreditEntry is one PI's durable New-PI credit record. Created on the
// PI's first invoice month, updated exactly once (second-month usage), then
// read-only forever.
type PICreditEntry struct {
	PI              string
	FirstMonth      generic.Month
	InitialCredits  decimal.Decimal
	FirstMonthUsed  decimal.Decimal
	SecondMonthUsed decimal.Decimal
}

// PICreditLedger is the in-memory copy of the persisted PI file. It is read
// once at pipeline start and the updated copy is written once at the end,
// never incrementally flushed.
type PICreditLedger struct {
	Entries []*PICreditEntry

	index map[string]*PICreditEntry
}

func NewPICreditLedger(entries []*PICreditEntry) *PICreditLedger {
	l := &PICreditLedger{Entries: entries, index: make(map[string]*PICreditEntry)}
	for _, e := range entries {
		l.index[e.PI] = e
	}
	return l
}

// Lookup returns the entry for a PI, or nil if the PI has never been billed.
func (l *PICreditLedger) Lookup(pi string) *PICreditEntry {
	return l.index[pi]
}

// Add inserts a newly granted PI at the top of the file, matching how the
// persisted CSV has historically been ordered (newest grants first).
func (l *PICreditLedger) Add(e *PICreditEntry) {
	l.Entries = append([]*PICreditEntry{e}, l.Entries...)
	l.index[e.PI] = e
}

// =============================================================================
// PREPAY STATE - Group credits, projects, contacts, and the debit ledger
// =============================================================================

// PrepayCredit is one purchased credit grant, effective from its month.
type PrepayCredit struct {
	Month  generic.Month
	Group  string
	Credit decimal.Decimal
}

// PrepayProject maps a project to its group for an inclusive month window.
type PrepayProject struct {
	Group   string
	Project string
	Start   generic.Month
	End     generic.Month
}

// PrepayContact carries a group's contact email and whether the group is
// MGHPCC-managed.
type PrepayContact struct {
	Group        string
	ContactEmail string
	Managed      bool
}

// PrepayDebit is one month's consumption of a group's prepaid balance.
// The persisted debit file holds at most one row per (month, group).
type PrepayDebit struct {
	Month generic.Month
	Group string
	Debit decimal.Decimal
}

// PrepayDebitLedger is the in-memory copy of the persisted debit file.
type PrepayDebitLedger struct {
	Entries []*PrepayDebit
}

func NewPrepayDebitLedger(entries []*PrepayDebit) *PrepayDebitLedger {
	return &PrepayDebitLedger{Entries: entries}
}

// Upsert records a month's debit for a group. Re-running the pipeline for
// the same month overwrites that (month, group) row instead of appending a
// duplicate; this is what makes re-runs idempotent.
func (l *PrepayDebitLedger) Upsert(month generic.Month, group string, amount decimal.Decimal) {
	for _, e := range l.Entries {
		if e.Month.Equal(month) && e.Group == group {
			e.Debit = amount
			return
		}
	}
	l.Entries = append(l.Entries, &PrepayDebit{Month: month, Group: group, Debit: amount})
}

// =============================================================================
// TIMED NON-BILLABLE PROJECTS
// =============================================================================

// TimedProject is a project that is non-billable for an inclusive month
// window.
type TimedProject struct {
	Project string
	Start   generic.Month
	End     generic.Month
}

// ActiveTimedProjects returns the projects whose window contains month.
func ActiveTimedProjects(projects []TimedProject, month generic.Month) []string {
	var active []string
	for _, p := range projects {
		if month.Contains(p.Start, p.End) {
			active = append(active, p.Project)
		}
	}
	return active
}
