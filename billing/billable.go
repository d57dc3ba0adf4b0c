/*
billable.go - Billability classification

PURPOSE:
  Flags every row billable or non-billable and flags missing-PI rows. These
  two booleans are the gates every downstream credit rule respects:
  discounts only ever touch rows that are billable AND attributable to a PI.
  The flags are written here exactly once and are read-only afterward.

INPUTS:
  - an explicit non-billable PI list
  - a non-billable project list, matched case-insensitively against the
    "Project - Allocation" column, already merged with the timed
    non-billable projects active for the invoice month

WARNINGS:
  A billable row with no PI is billable-but-unattributable; it is kept (and
  exported on the non-attributable side) but warned about. Non-billable
  missing-PI rows are unremarkable.
*/
package billing

import (
	"strings"

	"github.com/rs/zerolog"
)

// BillabilityClassifier writes the IsBillable and MissingPI flags.
type BillabilityClassifier struct {
	nonbillablePIs      map[string]bool
	nonbillableProjects map[string]bool // lowercased
	log                 zerolog.Logger
}

func NewBillabilityClassifier(nonbillablePIs, nonbillableProjects []string, log zerolog.Logger) *BillabilityClassifier {
	pis := make(map[string]bool, len(nonbillablePIs))
	for _, pi := range nonbillablePIs {
		pis[pi] = true
	}
	projects := make(map[string]bool, len(nonbillableProjects))
	for _, p := range nonbillableProjects {
		projects[strings.ToLower(p)] = true
	}
	return &BillabilityClassifier{nonbillablePIs: pis, nonbillableProjects: projects, log: log}
}

func (c *BillabilityClassifier) Name() string { return "validate-billable-pi" }

func (c *BillabilityClassifier) Process(ledger *Ledger) error {
	for _, row := range ledger.Rows {
		row.IsBillable = !c.nonbillablePIs[row.PI] &&
			!c.nonbillableProjects[strings.ToLower(row.Project)]
		row.MissingPI = row.PI == ""

		if row.IsBillable && row.MissingPI {
			c.log.Warn().
				Str("project", row.Project).
				Msg("billable project has empty PI field")
		}
	}
	return nil
}
