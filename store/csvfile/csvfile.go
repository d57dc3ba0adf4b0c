/*
Package csvfile is the CSV persistence layer of the pipeline.

PURPOSE:
  Every input and persisted artifact is a CSV (or line-based) file: the raw
  usage reports, the non-billable lists, the PI alias file, the durable PI
  credit ledger, and the four prepay files. This package owns their schemas
  and (de)serialization; money columns round-trip through decimal.Decimal
  and are written fixed-point with two fraction digits, never float.

SCHEMAS:
  usage report    - header-addressed; see readUsageReport
  PI credit file  - PI, First Invoice Month, Initial Credits,
                    1st Month Used, 2nd Month Used
  prepay credits  - Month, Group Name, Credit
  prepay projects - Group Name, Project, Start Date, End Date
  prepay contacts - Group Name, Group Contact Email, MGHPCC Managed
  prepay debits   - Month, Group Name, Debit

FAILURE MODEL:
  A missing persisted ledger file is ErrLedgerFileMissing (fatal upstream);
  malformed cells fail the read with row context.
*/
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/nerc/billing-engine/billing"
	"github.com/nerc/billing-engine/generic"
)

// =============================================================================
// GENERIC HELPERS
// =============================================================================

// WriteRecords writes rendered records (header first) to path.
func WriteRecords(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

func readAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

// ReadLines reads a one-identifier-per-line file (the non-billable PI and
// project lists), skipping blank lines.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// header maps column names to indices for header-addressed files.
type header map[string]int

func newHeader(record []string) header {
	h := make(header, len(record))
	for i, name := range record {
		h[strings.TrimSpace(name)] = i
	}
	return h
}

func (h header) cell(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (h header) require(names ...string) error {
	for _, name := range names {
		if _, ok := h[name]; !ok {
			return fmt.Errorf("missing required column %q", name)
		}
	}
	return nil
}

// =============================================================================
// USAGE REPORTS
// =============================================================================

// ReadUsageReports reads and merges the month's usage report CSVs into one
// ledger, preserving file order then row order.
func ReadUsageReports(paths []string, month generic.Month) (*billing.Ledger, error) {
	ledger := &billing.Ledger{Month: month}
	for _, path := range paths {
		if err := readUsageReport(path, ledger); err != nil {
			return nil, fmt.Errorf("usage report %s: %w", path, err)
		}
	}
	return ledger, nil
}

func readUsageReport(path string, ledger *billing.Ledger) error {
	records, err := readAll(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("empty file")
	}

	h := newHeader(records[0])
	if err := h.require(
		"Invoice Month", "Project - Allocation", "Manager (PI)",
		"SU Hours (GBhr or SUhr)", "SU Type", "Rate", "Cost",
	); err != nil {
		return err
	}

	for n, record := range records[1:] {
		rowMonth, err := generic.ParseMonth(h.cell(record, "Invoice Month"))
		if err != nil {
			return fmt.Errorf("row %d: %w", n+2, err)
		}
		suHours, err := generic.ParseMoney(h.cell(record, "SU Hours (GBhr or SUhr)"))
		if err != nil {
			return fmt.Errorf("row %d: SU hours: %w", n+2, err)
		}
		cost, err := generic.ParseMoney(h.cell(record, "Cost"))
		if err != nil {
			return fmt.Errorf("row %d: cost: %w", n+2, err)
		}

		project := h.cell(record, "Project - Allocation")
		ledger.Rows = append(ledger.Rows, &billing.Row{
			InvoiceMonth:    rowMonth,
			Project:         project,
			ProjectID:       h.cell(record, "Project - Allocation ID"),
			ProjectName:     billing.ProjectNameOf(project),
			PI:              h.cell(record, "Manager (PI)"),
			InvoiceEmail:    h.cell(record, "Invoice Email"),
			InvoiceAddress:  h.cell(record, "Invoice Address"),
			Institution:     h.cell(record, "Institution"),
			InstitutionCode: h.cell(record, "Institution - Specific Code"),
			SUHours:         suHours,
			SUType:          h.cell(record, "SU Type"),
			Rate:            h.cell(record, "Rate"),
			Cost:            cost,
		})
	}
	return nil
}

// =============================================================================
// ALIAS AND TIMED-PROJECT FILES
// =============================================================================

// ReadAliases reads the PI alias file: one line per canonical PI,
// "canonical,alias1,alias2,...".
func ReadAliases(path string) (map[string][]string, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	aliases := make(map[string][]string)
	for _, line := range lines {
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		canonical := strings.TrimSpace(parts[0])
		for _, alias := range parts[1:] {
			if alias = strings.TrimSpace(alias); alias != "" {
				aliases[canonical] = append(aliases[canonical], alias)
			}
		}
	}
	return aliases, nil
}

// ReadTimedProjects reads the timed non-billable projects file
// (Project, Start Date, End Date; months inclusive).
func ReadTimedProjects(path string) ([]billing.TimedProject, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	h := newHeader(records[0])
	if err := h.require("Project", "Start Date", "End Date"); err != nil {
		return nil, fmt.Errorf("timed projects %s: %w", path, err)
	}

	var projects []billing.TimedProject
	for n, record := range records[1:] {
		start, err := generic.ParseMonth(h.cell(record, "Start Date"))
		if err != nil {
			return nil, fmt.Errorf("timed projects row %d: %w", n+2, err)
		}
		end, err := generic.ParseMonth(h.cell(record, "End Date"))
		if err != nil {
			return nil, fmt.Errorf("timed projects row %d: %w", n+2, err)
		}
		projects = append(projects, billing.TimedProject{
			Project: h.cell(record, "Project"),
			Start:   start,
			End:     end,
		})
	}
	return projects, nil
}

// =============================================================================
// PI CREDIT LEDGER
// =============================================================================

var piCreditHeader = []string{
	"PI", "First Invoice Month", "Initial Credits", "1st Month Used", "2nd Month Used",
}

// ReadPICreditLedger loads the persisted PI credit file. The file is
// required: a missing file means credits cannot be applied safely.
func ReadPICreditLedger(path string) (*billing.PICreditLedger, error) {
	records, err := readAll(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: PI credit file %s", billing.ErrLedgerFileMissing, path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return billing.NewPICreditLedger(nil), nil
	}

	h := newHeader(records[0])
	if err := h.require(piCreditHeader...); err != nil {
		return nil, fmt.Errorf("PI credit file %s: %w", path, err)
	}

	var entries []*billing.PICreditEntry
	for n, record := range records[1:] {
		firstMonth, err := generic.ParseMonth(h.cell(record, "First Invoice Month"))
		if err != nil {
			return nil, fmt.Errorf("PI credit file row %d: %w", n+2, err)
		}
		initial, err := generic.ParseMoney(h.cell(record, "Initial Credits"))
		if err != nil {
			return nil, fmt.Errorf("PI credit file row %d: initial credits: %w", n+2, err)
		}
		firstUsed, err := generic.ParseMoney(h.cell(record, "1st Month Used"))
		if err != nil {
			return nil, fmt.Errorf("PI credit file row %d: 1st month used: %w", n+2, err)
		}
		secondUsed, err := generic.ParseMoney(h.cell(record, "2nd Month Used"))
		if err != nil {
			return nil, fmt.Errorf("PI credit file row %d: 2nd month used: %w", n+2, err)
		}
		entries = append(entries, &billing.PICreditEntry{
			PI:              h.cell(record, "PI"),
			FirstMonth:      firstMonth,
			InitialCredits:  initial,
			FirstMonthUsed:  firstUsed,
			SecondMonthUsed: secondUsed,
		})
	}
	return billing.NewPICreditLedger(entries), nil
}

// WritePICreditLedger rewrites the persisted PI credit file.
func WritePICreditLedger(path string, ledger *billing.PICreditLedger) error {
	records := [][]string{piCreditHeader}
	for _, e := range ledger.Entries {
		records = append(records, []string{
			e.PI,
			e.FirstMonth.String(),
			generic.FormatMoney(e.InitialCredits),
			generic.FormatMoney(e.FirstMonthUsed),
			generic.FormatMoney(e.SecondMonthUsed),
		})
	}
	return WriteRecords(path, records)
}

// =============================================================================
// PREPAY FILES
// =============================================================================

// ReadPrepayCredits reads the prepay credits file (Month, Group Name, Credit).
func ReadPrepayCredits(path string) ([]billing.PrepayCredit, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	h := newHeader(records[0])
	if err := h.require("Month", "Group Name", "Credit"); err != nil {
		return nil, fmt.Errorf("prepay credits %s: %w", path, err)
	}

	var credits []billing.PrepayCredit
	for n, record := range records[1:] {
		month, err := generic.ParseMonth(h.cell(record, "Month"))
		if err != nil {
			return nil, fmt.Errorf("prepay credits row %d: %w", n+2, err)
		}
		amount, err := generic.ParseMoney(h.cell(record, "Credit"))
		if err != nil {
			return nil, fmt.Errorf("prepay credits row %d: credit: %w", n+2, err)
		}
		credits = append(credits, billing.PrepayCredit{
			Month:  month,
			Group:  h.cell(record, "Group Name"),
			Credit: amount,
		})
	}
	return credits, nil
}

// ReadPrepayProjects reads the prepay projects file
// (Group Name, Project, Start Date, End Date).
func ReadPrepayProjects(path string) ([]billing.PrepayProject, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	h := newHeader(records[0])
	if err := h.require("Group Name", "Project", "Start Date", "End Date"); err != nil {
		return nil, fmt.Errorf("prepay projects %s: %w", path, err)
	}

	var projects []billing.PrepayProject
	for n, record := range records[1:] {
		start, err := generic.ParseMonth(h.cell(record, "Start Date"))
		if err != nil {
			return nil, fmt.Errorf("prepay projects row %d: %w", n+2, err)
		}
		end, err := generic.ParseMonth(h.cell(record, "End Date"))
		if err != nil {
			return nil, fmt.Errorf("prepay projects row %d: %w", n+2, err)
		}
		projects = append(projects, billing.PrepayProject{
			Group:   h.cell(record, "Group Name"),
			Project: h.cell(record, "Project"),
			Start:   start,
			End:     end,
		})
	}
	return projects, nil
}

// ReadPrepayContacts reads the prepay contacts file
// (Group Name, Group Contact Email, MGHPCC Managed).
func ReadPrepayContacts(path string) ([]billing.PrepayContact, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	h := newHeader(records[0])
	if err := h.require("Group Name", "Group Contact Email", "MGHPCC Managed"); err != nil {
		return nil, fmt.Errorf("prepay contacts %s: %w", path, err)
	}

	var contacts []billing.PrepayContact
	for _, record := range records[1:] {
		contacts = append(contacts, billing.PrepayContact{
			Group:        h.cell(record, "Group Name"),
			ContactEmail: h.cell(record, "Group Contact Email"),
			Managed:      parseYesNo(h.cell(record, "MGHPCC Managed")),
		})
	}
	return contacts, nil
}

func parseYesNo(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

var prepayDebitHeader = []string{"Month", "Group Name", "Debit"}

// ReadPrepayDebits loads the persisted debit ledger. The file is required;
// prepayments cannot be applied without the debit history.
func ReadPrepayDebits(path string) (*billing.PrepayDebitLedger, error) {
	records, err := readAll(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: prepay debits file %s", billing.ErrLedgerFileMissing, path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return billing.NewPrepayDebitLedger(nil), nil
	}
	h := newHeader(records[0])
	if err := h.require(prepayDebitHeader...); err != nil {
		return nil, fmt.Errorf("prepay debits %s: %w", path, err)
	}

	var entries []*billing.PrepayDebit
	for n, record := range records[1:] {
		month, err := generic.ParseMonth(h.cell(record, "Month"))
		if err != nil {
			return nil, fmt.Errorf("prepay debits row %d: %w", n+2, err)
		}
		amount, err := generic.ParseMoney(h.cell(record, "Debit"))
		if err != nil {
			return nil, fmt.Errorf("prepay debits row %d: debit: %w", n+2, err)
		}
		entries = append(entries, &billing.PrepayDebit{
			Month: month,
			Group: h.cell(record, "Group Name"),
			Debit: amount,
		})
	}
	return billing.NewPrepayDebitLedger(entries), nil
}

// WritePrepayDebits rewrites the persisted debit ledger.
func WritePrepayDebits(path string, ledger *billing.PrepayDebitLedger) error {
	records := [][]string{prepayDebitHeader}
	for _, e := range ledger.Entries {
		records = append(records, []string{
			e.Month.String(), e.Group, generic.FormatMoney(e.Debit),
		})
	}
	return WriteRecords(path, records)
}
