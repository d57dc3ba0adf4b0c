/*
prepay.go - Prepaid-group credit engine

PURPOSE:
  Institution-level groups pre-purchase credit that their member projects
  consume across months until exhausted. Each run assembles every group's
  carry-forward balance from the full credit and debit history, applies it
  across the group's active projects' rows, and records this month's
  consumption in the persisted debit ledger.

BALANCE ASSEMBLY (per group, per run):
  + all credits granted on or before the invoice month
  - all debits from months strictly before the invoice month
  A negative result is fatal: the debit ledger is corrupted.

ACTIVE PROJECTS:
  A project belongs to its group's active set iff the invoice month falls
  inside the project's [start, end] window, inclusive both ends. Prepay
  projects are identified by project name, not "Project - Allocation".

IDEMPOTENCE:
  The debit ledger holds at most one row per (month, group); re-running a
  month overwrites that row's amount. Running the pipeline twice over the
  same inputs yields identical balances and identical debit rows.

SEE ALSO:
  - generic/discount.go: the consumption loop
  - billing/institution.go: contact email -> group institution
*/
package billing

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/generic"
)

// PrepaymentEngine applies group prepaid balances. The debit ledger is
// loaded before the run and written back after; the engine mutates the
// in-memory copy through Upsert.
type PrepaymentEngine struct {
	Credits  []PrepayCredit
	Projects []PrepayProject
	Contacts []PrepayContact

	DebitLedger *PrepayDebitLedger
	Resolver    *InstitutionResolver

	Log zerolog.Logger
}

func (e *PrepaymentEngine) Name() string { return "prepayment" }

// groupState is one group's derived per-run view.
type groupState struct {
	name     string
	contact  string
	managed  bool
	balance  decimal.Decimal
	projects map[string]bool // active project names this month
}

func (e *PrepaymentEngine) Process(ledger *Ledger) error {
	groups, err := e.buildGroups(ledger.Month)
	if err != nil {
		return err
	}

	for _, g := range groups {
		e.tagGroupRows(ledger, g)
	}
	for _, g := range groups {
		e.applyGroup(ledger, g)
	}
	return nil
}

// buildGroups assembles every configured group's carry-forward state.
// Groups come back in contacts-file order so runs are deterministic.
func (e *PrepaymentEngine) buildGroups(month generic.Month) ([]*groupState, error) {
	var groups []*groupState
	byName := make(map[string]*groupState)
	for _, c := range e.Contacts {
		g := &groupState{
			name:     c.Group,
			contact:  c.ContactEmail,
			managed:  c.Managed,
			projects: make(map[string]bool),
		}
		groups = append(groups, g)
		byName[c.Group] = g
	}

	for _, credit := range e.Credits {
		g := byName[credit.Group]
		if g == nil {
			return nil, fmt.Errorf("%w: %s in prepay credits", ErrUnknownPrepayGroup, credit.Group)
		}
		if month.Diff(credit.Month) >= 0 {
			g.balance = g.balance.Add(credit.Credit)
		}
	}

	// Past months only; this month's debit is what this run computes.
	for _, debit := range e.DebitLedger.Entries {
		g := byName[debit.Group]
		if g == nil {
			return nil, fmt.Errorf("%w: %s in prepay debits", ErrUnknownPrepayGroup, debit.Group)
		}
		if month.Diff(debit.Month) > 0 {
			g.balance = g.balance.Sub(debit.Debit)
			if g.balance.IsNegative() {
				return nil, &NegativeBalanceError{Group: g.name, Balance: g.balance}
			}
		}
	}

	for _, project := range e.Projects {
		g := byName[project.Group]
		if g == nil {
			return nil, fmt.Errorf("%w: %s in prepay projects", ErrUnknownPrepayGroup, project.Group)
		}
		if month.Contains(project.Start, project.End) {
			g.projects[project.Project] = true
		}
	}

	return groups, nil
}

// tagGroupRows populates group metadata on every row belonging to one of
// the group's active projects.
func (e *PrepaymentEngine) tagGroupRows(ledger *Ledger, g *groupState) {
	institution := ""
	if len(g.projects) > 0 {
		institution = e.Resolver.Resolve(g.contact)
	}
	for _, row := range ledger.Rows {
		if !g.projects[row.ProjectName] {
			continue
		}
		managed := g.managed
		row.InvoiceEmail = g.contact
		row.GroupName = g.name
		row.GroupInstitution = institution
		row.GroupManaged = &managed
	}
}

// applyGroup consumes the group's balance across its rows and records this
// month's debit.
func (e *PrepaymentEngine) applyGroup(ledger *Ledger, g *groupState) {
	var accounts []generic.DiscountAccount
	for _, row := range ledger.BillableRows() {
		if row.GroupName == g.name {
			accounts = append(accounts, prepayAccount{row: row})
		}
	}

	used := generic.ApplyFlatDiscount(accounts, g.balance, "")
	remaining := g.balance.Sub(used)

	for _, row := range ledger.Rows {
		if row.GroupName == g.name {
			r := remaining
			row.GroupBalance = &r
		}
	}

	if used.IsPositive() {
		e.DebitLedger.Upsert(ledger.Month, g.name, used)
		e.Log.Info().
			Str("group", g.name).
			Str("debit", generic.FormatMoney(used)).
			Str("remaining_balance", generic.FormatMoney(remaining)).
			Msg("prepay balance applied")
	}
}

// CreditsSnapshot returns this month's credit entries belonging to managed
// groups, the auditable side artifact. Does not affect balances.
func (e *PrepaymentEngine) CreditsSnapshot(month generic.Month) []PrepayCredit {
	managed := make(map[string]bool)
	for _, c := range e.Contacts {
		if c.Managed {
			managed[c.Group] = true
		}
	}

	var snapshot []PrepayCredit
	for _, credit := range e.Credits {
		if credit.Month.Equal(month) && managed[credit.Group] {
			snapshot = append(snapshot, credit)
		}
	}
	return snapshot
}

// prepayAccount directs the flat discount at the GroupBalanceUsed column.
type prepayAccount struct {
	row *Row
}

func (a prepayAccount) SourceBalance() decimal.Decimal { return a.row.PIBalance }

func (a prepayAccount) Consume(applied decimal.Decimal) {
	a.row.GroupBalanceUsed = &applied
	a.row.PIBalance = a.row.PIBalance.Sub(applied)
	a.row.Balance = a.row.Balance.Sub(applied)
}

func (a prepayAccount) AppendCode(string) {}
