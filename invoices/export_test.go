package invoices_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerc/billing-engine/billing"
	"github.com/nerc/billing-engine/generic"
	"github.com/nerc/billing-engine/invoices"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) decimal.Decimal { return generic.MustDecimal(s) }

func processedRow(pi, institution, project, balance string) *billing.Row {
	cost := money(balance)
	return &billing.Row{
		InvoiceMonth: generic.MustParseMonth("2024-03"),
		Project:      project,
		ProjectName:  billing.ProjectNameOf(project),
		PI:           pi,
		Institution:  institution,
		SUType:       "CPU",
		Cost:         cost,
		IsBillable:   true,
		Balance:      cost,
	}
}

func testLedger(rows ...*billing.Row) *billing.Ledger {
	return &billing.Ledger{Month: generic.MustParseMonth("2024-03"), Rows: rows}
}

func cell(t *testing.T, records [][]string, row int, header string) string {
	t.Helper()
	for i, h := range records[0] {
		if h == header {
			return records[row][i]
		}
	}
	t.Fatalf("header %q not found", header)
	return ""
}

// =============================================================================
// EXPORT FILTERS
// =============================================================================

func TestBillable_ExcludesNonbillableAndOrphanRows(t *testing.T) {
	// GIVEN: A billable row, a non-billable row, and a billable orphan
	// THEN: Only the attributable billable row is exported

	billable := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	excluded := processedRow("ops@nerc.org", "", "admin-1", "50")
	excluded.IsBillable = false
	orphan := processedRow("", "", "mystery-1", "25")
	orphan.MissingPI = true

	records := invoices.Billable("billable").Records(testLedger(billable, excluded, orphan))

	require.Len(t, records, 2, "header plus one row")
	assert.Equal(t, "alice@bu.edu", cell(t, records, 1, invoices.HeaderPI))
	assert.Equal(t, "100.00", cell(t, records, 1, invoices.HeaderBalance))
}

func TestNonbillable_IsTheComplement(t *testing.T) {
	billable := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	excluded := processedRow("ops@nerc.org", "", "admin-1", "50")
	excluded.IsBillable = false

	records := invoices.Nonbillable("nonbillable").Records(testLedger(billable, excluded))

	require.Len(t, records, 2)
	assert.Equal(t, "ops@nerc.org", cell(t, records, 1, invoices.HeaderPI))
}

func TestTotal_IncludedInstitutionsPlusManagedGroups(t *testing.T) {
	// GIVEN: An included institution, an excluded one, and an excluded one
	//        covered by a managed prepay group
	// THEN: The total invoice carries the included row and the managed row

	included := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	outside := processedRow("bob@other.org", "Elsewhere", "proj-beta-1", "50")
	managed := processedRow("carol@other.org", "Elsewhere", "proj-gamma-1", "75")
	yes := true
	managed.GroupManaged = &yes
	managed.GroupName = "quantum-lab"

	export := invoices.Total("total", map[string]bool{"Boston University": true})
	records := export.Records(testLedger(included, outside, managed))

	require.Len(t, records, 3)
	assert.Equal(t, "alice@bu.edu", cell(t, records, 1, invoices.HeaderPI))
	assert.Equal(t, "carol@other.org", cell(t, records, 2, invoices.HeaderPI))
}

func TestPrepaidGroups_UnmanagedOnly(t *testing.T) {
	yes, no := true, false
	managed := processedRow("a@x.edu", "X", "p1-1", "10")
	managed.GroupManaged = &yes
	external := processedRow("b@y.edu", "Y", "p2-1", "20")
	external.GroupManaged = &no
	ungrouped := processedRow("c@z.edu", "Z", "p3-1", "30")

	records := invoices.PrepaidGroups("prepaid").Records(testLedger(managed, external, ungrouped))

	require.Len(t, records, 2)
	assert.Equal(t, "b@y.edu", cell(t, records, 1, invoices.HeaderPI))
}

// =============================================================================
// COLUMN RENDERING
// =============================================================================

func TestRecords_OptionalColumnsRenderEmptyWhenUnset(t *testing.T) {
	// GIVEN: A row no credit rule ever touched
	// THEN: Credit, Subsidy, and group cells are empty, not 0.00

	row := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	records := invoices.Billable("billable").Records(testLedger(row))

	assert.Equal(t, "", cell(t, records, 1, invoices.HeaderCredit))
	assert.Equal(t, "", cell(t, records, 1, invoices.HeaderSubsidy))
	assert.Equal(t, "", cell(t, records, 1, invoices.HeaderGroupBalance))
	assert.Equal(t, "", cell(t, records, 1, invoices.HeaderGroupUsed))
	assert.Equal(t, "100.00", cell(t, records, 1, invoices.HeaderCost))
}

func TestRecords_AppliedDiscountsRenderFixedPoint(t *testing.T) {
	row := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	credit := money("60")
	subsidy := money("15.5")
	row.Credit = &credit
	row.CreditCode = billing.NewPICreditCode
	row.Subsidy = &subsidy
	row.Balance = money("24.5")

	records := invoices.Billable("billable").Records(testLedger(row))

	assert.Equal(t, "60.00", cell(t, records, 1, invoices.HeaderCredit))
	assert.Equal(t, "0002", cell(t, records, 1, invoices.HeaderCreditCode))
	assert.Equal(t, "15.50", cell(t, records, 1, invoices.HeaderSubsidy))
	assert.Equal(t, "24.50", cell(t, records, 1, invoices.HeaderBalance))
}

// =============================================================================
// PER-PI AND AGGREGATED ARTIFACTS
// =============================================================================

func TestPerPI_OneStatementPerPI(t *testing.T) {
	alice1 := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	alice2 := processedRow("alice@bu.edu", "Boston University", "proj-beta-1", "40")
	bob := processedRow("bob@mit.edu", "MIT", "proj-gamma-1", "70")

	statements := invoices.PerPI(testLedger(alice1, alice2, bob))

	require.Len(t, statements, 2)
	aliceRecords := statements["Boston University_alice@bu.edu_2024-03"]
	require.NotNil(t, aliceRecords)
	assert.Len(t, aliceRecords, 3)
	bobRecords := statements["MIT_bob@mit.edu_2024-03"]
	require.NotNil(t, bobRecords)
	assert.Len(t, bobRecords, 2)
}

func TestBUInternal_SumsAllocationsPerProject(t *testing.T) {
	// GIVEN: Two allocations of the same project with credits and subsidies
	// THEN: One output row with summed cost, credit, subsidy, balance

	first := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	credit := money("30")
	first.Credit = &credit
	first.Balance = money("70")
	second := processedRow("alice@bu.edu", "Boston University", "proj-alpha-2", "50")
	subsidy := money("20")
	second.Subsidy = &subsidy
	second.Balance = money("30")
	other := processedRow("bob@mit.edu", "MIT", "proj-beta-1", "10")

	records := invoices.BUInternal(testLedger(first, second, other), "Boston University")

	require.Len(t, records, 2, "header plus one aggregated project row")
	row := records[1]
	assert.Equal(t, "proj-alpha", row[2])
	assert.Equal(t, "150.00", row[3])
	assert.Equal(t, "30.00", row[4])
	assert.Equal(t, "20.00", row[5])
	assert.Equal(t, "100.00", row[6])
}

func TestLenovoCharges_SelectsGPUSUTypesOnly(t *testing.T) {
	gpu := processedRow("alice@bu.edu", "Boston University", "proj-alpha-1", "100")
	gpu.SUType = "OpenShift GPUA100SXM4"
	gpu.SUHours = money("12")
	cpu := processedRow("bob@mit.edu", "MIT", "proj-beta-1", "50")

	charges := billing.LenovoCharges(testLedger(gpu, cpu))

	require.Len(t, charges, 1)
	records := invoices.Lenovo(charges)
	require.Len(t, records, 2)
	assert.Equal(t, "12.00", records[1][6], "charge is SU hours times the unit charge")
}
