package billing_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerc/billing-engine/billing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newPrepayEngine(debits *billing.PrepayDebitLedger) *billing.PrepaymentEngine {
	return &billing.PrepaymentEngine{
		Credits: []billing.PrepayCredit{
			{Month: month("2024-01"), Group: "quantum-lab", Credit: money("1000")},
		},
		Projects: []billing.PrepayProject{
			{Group: "quantum-lab", Project: "proj-alpha", Start: month("2024-01"), End: month("2024-12")},
		},
		Contacts: []billing.PrepayContact{
			{Group: "quantum-lab", ContactEmail: "lead@bu.edu", Managed: true},
		},
		DebitLedger: debits,
		Resolver: billing.NewInstitutionResolver(map[string]string{
			"bu.edu": "Boston University",
		}, zerolog.Nop()),
		Log: zerolog.Nop(),
	}
}

// =============================================================================
// BALANCE APPLICATION
// =============================================================================

func TestPrepay_GroupBalanceCoversMemberRows(t *testing.T) {
	// GIVEN: quantum-lab holds 1000; its project costs 400 this month
	// WHEN: Processing
	// THEN: Full 400 consumed, 600 remains, one debit row recorded

	row := usageRow("alice@bu.edu", "proj-alpha-1", "400")
	ledger := newLedger("2024-03", row)
	seedBalances(ledger)
	debits := billing.NewPrepayDebitLedger(nil)
	engine := newPrepayEngine(debits)

	require.NoError(t, engine.Process(ledger))

	assert.Equal(t, "quantum-lab", row.GroupName)
	assert.Equal(t, "Boston University", row.GroupInstitution)
	assert.Equal(t, "lead@bu.edu", row.InvoiceEmail)
	require.NotNil(t, row.GroupManaged)
	assert.True(t, *row.GroupManaged)
	assert.Equal(t, "400.00", fmtMoney(*row.GroupBalanceUsed))
	assert.Equal(t, "600.00", fmtMoney(*row.GroupBalance))
	assert.Equal(t, "0.00", fmtMoney(row.Balance))

	require.Len(t, debits.Entries, 1)
	assert.Equal(t, "quantum-lab", debits.Entries[0].Group)
	assert.Equal(t, "400.00", fmtMoney(debits.Entries[0].Debit))
}

func TestPrepay_CarryForwardSubtractsPastDebits(t *testing.T) {
	// GIVEN: 1000 granted, 700 already consumed in a prior month
	// WHEN: This month's project costs 500
	// THEN: Only the remaining 300 applies

	row := usageRow("alice@bu.edu", "proj-alpha-1", "500")
	ledger := newLedger("2024-03", row)
	seedBalances(ledger)
	debits := billing.NewPrepayDebitLedger([]*billing.PrepayDebit{
		{Month: month("2024-02"), Group: "quantum-lab", Debit: money("700")},
	})
	engine := newPrepayEngine(debits)

	require.NoError(t, engine.Process(ledger))

	assert.Equal(t, "300.00", fmtMoney(*row.GroupBalanceUsed))
	assert.Equal(t, "200.00", fmtMoney(row.Balance))
	assert.Equal(t, "0.00", fmtMoney(*row.GroupBalance))
}

func TestPrepay_MixedWindows_OnlyActiveProjectCharged(t *testing.T) {
	// GIVEN: One group with two projects, only one active this month
	// THEN: The active project's rows consume the balance; the other is
	//       untouched by the group entirely

	active := usageRow("alice@bu.edu", "proj-alpha-1", "300")
	inactive := usageRow("bob@bu.edu", "proj-omega-1", "200")
	ledger := newLedger("2024-03", active, inactive)
	seedBalances(ledger)
	debits := billing.NewPrepayDebitLedger(nil)
	engine := newPrepayEngine(debits)
	engine.Projects = append(engine.Projects, billing.PrepayProject{
		Group: "quantum-lab", Project: "proj-omega",
		Start: month("2024-06"), End: month("2024-12"),
	})

	require.NoError(t, engine.Process(ledger))

	assert.Equal(t, "quantum-lab", active.GroupName)
	assert.Equal(t, "300.00", fmtMoney(*active.GroupBalanceUsed))
	assert.Equal(t, "0.00", fmtMoney(active.Balance))

	assert.Equal(t, "", inactive.GroupName)
	assert.Nil(t, inactive.GroupBalanceUsed)
	assert.Nil(t, inactive.GroupBalance)
	assert.Equal(t, "200.00", fmtMoney(inactive.Balance))
}

func TestPrepay_InactiveProjectWindow_NotTagged(t *testing.T) {
	// GIVEN: The invoice month falls outside the project's window
	// THEN: The row keeps its balance and no group metadata

	row := usageRow("alice@bu.edu", "proj-alpha-1", "400")
	ledger := newLedger("2025-02", row)
	seedBalances(ledger)
	debits := billing.NewPrepayDebitLedger(nil)
	engine := newPrepayEngine(debits)

	require.NoError(t, engine.Process(ledger))

	assert.Equal(t, "", row.GroupName)
	assert.Nil(t, row.GroupBalanceUsed)
	assert.Equal(t, "400.00", fmtMoney(row.Balance))
	assert.Empty(t, debits.Entries)
}

func TestPrepay_FutureCreditNotYetEffective(t *testing.T) {
	// GIVEN: The only credit grant is dated after the invoice month
	// THEN: The group has no balance; rows are tagged but uncharged

	row := usageRow("alice@bu.edu", "proj-alpha-1", "400")
	ledger := newLedger("2024-03", row)
	seedBalances(ledger)
	debits := billing.NewPrepayDebitLedger(nil)
	engine := newPrepayEngine(debits)
	engine.Credits = []billing.PrepayCredit{
		{Month: month("2024-06"), Group: "quantum-lab", Credit: money("1000")},
	}

	require.NoError(t, engine.Process(ledger))

	assert.Equal(t, "quantum-lab", row.GroupName)
	assert.Equal(t, "400.00", fmtMoney(row.Balance))
	assert.Empty(t, debits.Entries, "zero usage must not write a debit row")
}

// =============================================================================
// PRECONDITIONS AND IDEMPOTENCE
// =============================================================================

func TestPrepay_NegativeCarryForward_Fatal(t *testing.T) {
	// GIVEN: Past debits exceeding granted credits
	// THEN: Processing aborts

	row := usageRow("alice@bu.edu", "proj-alpha-1", "100")
	ledger := newLedger("2024-03", row)
	seedBalances(ledger)
	debits := billing.NewPrepayDebitLedger([]*billing.PrepayDebit{
		{Month: month("2024-02"), Group: "quantum-lab", Debit: money("1500")},
	})
	engine := newPrepayEngine(debits)

	err := engine.Process(ledger)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrNegativePrepayBalance)
}

func TestPrepay_UnknownGroup_Fatal(t *testing.T) {
	debits := billing.NewPrepayDebitLedger(nil)
	engine := newPrepayEngine(debits)
	engine.Credits = append(engine.Credits, billing.PrepayCredit{
		Month: month("2024-01"), Group: "ghost-group", Credit: money("10"),
	})

	ledger := newLedger("2024-03")
	err := engine.Process(ledger)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrUnknownPrepayGroup)
}

func TestPrepay_Rerun_IsIdempotent(t *testing.T) {
	// GIVEN: A month already processed, its debit row persisted
	// WHEN: Re-running the same month over the same inputs
	// THEN: Balances are identical and the debit row is overwritten, not duplicated

	debits := billing.NewPrepayDebitLedger(nil)

	run := func() *billing.Row {
		row := usageRow("alice@bu.edu", "proj-alpha-1", "400")
		ledger := newLedger("2024-03", row)
		seedBalances(ledger)
		engine := newPrepayEngine(debits)
		require.NoError(t, engine.Process(ledger))
		return row
	}

	first := run()
	second := run()

	assert.Equal(t, fmtMoney(first.Balance), fmtMoney(second.Balance))
	assert.Equal(t, fmtMoney(*first.GroupBalance), fmtMoney(*second.GroupBalance))
	require.Len(t, debits.Entries, 1)
	assert.Equal(t, "400.00", fmtMoney(debits.Entries[0].Debit))
}

// =============================================================================
// CREDITS SNAPSHOT
// =============================================================================

func TestPrepay_CreditsSnapshot_ManagedCurrentMonthOnly(t *testing.T) {
	engine := newPrepayEngine(billing.NewPrepayDebitLedger(nil))
	engine.Credits = []billing.PrepayCredit{
		{Month: month("2024-03"), Group: "quantum-lab", Credit: money("500")},
		{Month: month("2024-02"), Group: "quantum-lab", Credit: money("900")},
	}
	engine.Contacts = append(engine.Contacts, billing.PrepayContact{
		Group: "self-run", ContactEmail: "x@mit.edu", Managed: false,
	})
	engine.Credits = append(engine.Credits, billing.PrepayCredit{
		Month: month("2024-03"), Group: "self-run", Credit: money("100"),
	})

	snapshot := engine.CreditsSnapshot(month("2024-03"))

	require.Len(t, snapshot, 1)
	assert.Equal(t, "quantum-lab", snapshot[0].Group)
	assert.Equal(t, "500.00", fmtMoney(snapshot[0].Credit))
}
