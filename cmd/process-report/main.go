/*
main.go - Monthly invoicing pipeline entry point

PURPOSE:
  Runs one invoice month end to end: fetch inputs, run the processor chain,
  export every billing artifact, rewrite the persisted ledgers, and upload
  results (plus timestamped archive copies) to the invoice bucket.

USAGE:
  process-report -invoice-month=2024-03 \
      -pi-file=nonbillable_pis.txt \
      -projects-file=nonbillable_projects.txt \
      -timed-projects-file=timed_projects.csv \
      -institutions-file=institutions.yaml \
      -bu-subsidy-amount=100 \
      usage1.csv usage2.csv

  With -fetch-from-s3 the positional usage CSVs are fetched from the
  bucket instead; persisted files (-old-pi-file, -alias-file,
  -prepay-debits-file) also default to their bucket copies when the flag
  is omitted. -upload-to-s3 pushes every export and rewritten ledger back.

ENVIRONMENT:
  S3_ENDPOINT, S3_KEY_ID, S3_APP_KEY, S3_BUCKET_NAME - bucket access,
  required only when fetching or uploading.

FAILURE MODEL:
  Fail-fast: precondition violations (out-of-order months, negative prepay
  balances, missing persisted ledgers) abort the whole run with a nonzero
  exit. Data-quality issues are logged and processing continues.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nerc/billing-engine/billing"
	"github.com/nerc/billing-engine/config"
	"github.com/nerc/billing-engine/generic"
	"github.com/nerc/billing-engine/invoices"
	"github.com/nerc/billing-engine/logger"
	"github.com/nerc/billing-engine/store/csvfile"
	"github.com/nerc/billing-engine/store/s3"
)

// newPICreditRateName is the published-rates entry holding the default
// New-PI credit amount.
const newPICreditRateName = "New PI Credit Amount"

type options struct {
	invoiceMonth string
	fetchFromS3  bool
	uploadToS3   bool

	piFile            string
	projectsFile      string
	timedProjectsFile string
	aliasFile         string
	oldPIFile         string
	institutionsFile  string

	prepayCreditsFile  string
	prepayProjectsFile string
	prepayContactsFile string
	prepayDebitsFile   string

	newPICreditAmount    string
	limitCreditToPartner bool
	ratesURL             string
	buSubsidyAmount      string

	outputFile      string
	nonbillableFile string
	totalFile       string
	huBUFile        string
	buInternalFile  string
	lenovoFile      string
	prepaidFile     string
	outputFolder    string

	usageFiles []string
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.invoiceMonth, "invoice-month", "", "invoice month to process (YYYY-MM, required)")
	flag.BoolVar(&o.fetchFromS3, "fetch-from-s3", false, "fetch usage reports from the invoice bucket")
	flag.BoolVar(&o.uploadToS3, "upload-to-s3", false, "upload processed invoices and ledgers to the invoice bucket")

	flag.StringVar(&o.piFile, "pi-file", "", "file listing non-billable PIs (required)")
	flag.StringVar(&o.projectsFile, "projects-file", "", "file listing non-billable projects (required)")
	flag.StringVar(&o.timedProjectsFile, "timed-projects-file", "", "CSV of projects non-billable within a month window (required)")
	flag.StringVar(&o.aliasFile, "alias-file", "", "PI alias CSV; fetched from the bucket when omitted")
	flag.StringVar(&o.oldPIFile, "old-pi-file", "", "persisted PI credit CSV; fetched from the bucket when omitted")
	flag.StringVar(&o.institutionsFile, "institutions-file", "institutions.yaml", "institution directory YAML")

	flag.StringVar(&o.prepayCreditsFile, "prepay-credits-file", "prepay_credits.csv", "prepay credits CSV")
	flag.StringVar(&o.prepayProjectsFile, "prepay-projects-file", "prepay_projects.csv", "prepay projects CSV")
	flag.StringVar(&o.prepayContactsFile, "prepay-contacts-file", "prepay_contacts.csv", "prepay contacts CSV")
	flag.StringVar(&o.prepayDebitsFile, "prepay-debits-file", "", "persisted prepay debits CSV; fetched from the bucket when omitted")

	flag.StringVar(&o.newPICreditAmount, "new-pi-credit-amount", "", "New-PI credit pool; resolved from published rates when omitted")
	flag.BoolVar(&o.limitCreditToPartner, "limit-new-pi-credit-to-partners", false, "restrict New-PI credit to active partner institutions")
	flag.StringVar(&o.ratesURL, "rates-url", config.DefaultRatesURL, "published rates document URL")
	flag.StringVar(&o.buSubsidyAmount, "bu-subsidy-amount", "", "per-PI subsidy for Boston University (required)")

	flag.StringVar(&o.outputFile, "output-file", "billable", "billable invoice name")
	flag.StringVar(&o.nonbillableFile, "nonbillable-file", "nonbillable", "non-billable invoice name")
	flag.StringVar(&o.totalFile, "total-invoice-file", "", "total invoice name; defaults to NERC-{month}-Total-Invoice")
	flag.StringVar(&o.huBUFile, "hu-bu-invoice-file", "HU_BU", "Harvard/BU invoice name")
	flag.StringVar(&o.buInternalFile, "bu-invoice-file", "BU_Internal", "BU internal invoice name")
	flag.StringVar(&o.lenovoFile, "lenovo-file", "Lenovo", "Lenovo SU type invoice name")
	flag.StringVar(&o.prepaidFile, "prepaid-invoice-file", "", "prepaid groups invoice name; defaults to Prepaid_Groups-{month}")
	flag.StringVar(&o.outputFolder, "output-folder", "pi_invoices", "folder for per-PI invoice CSVs")
	flag.Parse()

	o.usageFiles = flag.Args()
	return o
}

func main() {
	log := logger.New().With().Str("run_id", uuid.NewString()).Logger()
	o := parseFlags()

	for name, v := range map[string]string{
		"invoice-month":       o.invoiceMonth,
		"pi-file":             o.piFile,
		"projects-file":       o.projectsFile,
		"timed-projects-file": o.timedProjectsFile,
		"bu-subsidy-amount":   o.buSubsidyAmount,
	} {
		if v == "" {
			log.Fatal().Msgf("flag -%s is required", name)
		}
	}

	if err := run(context.Background(), log, o); err != nil {
		log.Fatal().Err(err).Msg("invoice run failed")
	}
}

func run(ctx context.Context, log zerolog.Logger, o *options) error {
	month, err := generic.ParseMonth(o.invoiceMonth)
	if err != nil {
		return err
	}
	log.Info().Str("invoice_month", month.String()).Msg("processing invoice month")

	var bucket *s3.Bucket
	if o.fetchFromS3 || o.uploadToS3 {
		if bucket, err = s3.NewBucketFromEnv(ctx); err != nil {
			return err
		}
	}

	// Resolve inputs, pulling persisted files from the bucket when no
	// local path was given.
	usageFiles := o.usageFiles
	if o.fetchFromS3 {
		if usageFiles, err = bucket.DownloadPrefix(ctx, s3.UsageReportsPrefix(month.String()), "."); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		flag     *string
		fallback string
		key      string
	}{
		{&o.oldPIFile, "PI.csv", s3.PICreditKey},
		{&o.aliasFile, "alias.csv", s3.AliasKey},
		{&o.prepayDebitsFile, "prepay_debits.csv", s3.PrepayDebitKey},
	} {
		if *p.flag != "" {
			continue
		}
		if bucket == nil {
			return fmt.Errorf("no local path given for %s and bucket access is disabled", p.key)
		}
		*p.flag = p.fallback
		if err := bucket.Download(ctx, p.key, *p.flag); err != nil {
			return err
		}
	}

	inputs, err := loadInputs(o)
	if err != nil {
		return err
	}

	creditAmount, err := resolveCreditAmount(ctx, o, month)
	if err != nil {
		return err
	}
	subsidyAmount, err := decimal.NewFromString(o.buSubsidyAmount)
	if err != nil {
		return fmt.Errorf("bu-subsidy-amount: %w", err)
	}

	ledger, err := csvfile.ReadUsageReports(usageFiles, month)
	if err != nil {
		return err
	}

	activeTimed := billing.ActiveTimedProjects(inputs.timedProjects, month)
	log.Info().Strs("projects", activeTimed).Msg("timed projects non-billable this period")

	partners, err := config.ActivePartners(inputs.institutions, month)
	if err != nil {
		return err
	}
	resolver := billing.NewInstitutionResolver(config.DomainMap(inputs.institutions), log)

	prepayEngine := &billing.PrepaymentEngine{
		Credits:     inputs.prepayCredits,
		Projects:    inputs.prepayProjects,
		Contacts:    inputs.prepayContacts,
		DebitLedger: inputs.debitLedger,
		Resolver:    resolver,
		Log:         log,
	}

	pipeline := billing.NewPipeline(log,
		billing.NewAliasResolver(inputs.aliases),
		resolver,
		billing.NewBillabilityClassifier(
			inputs.nonbillablePIs,
			append(inputs.nonbillableProjects, activeTimed...),
			log,
		),
		&billing.NewPICreditEngine{
			CreditLedger:    inputs.creditLedger,
			DefaultAmount:   creditAmount,
			ExcludedSUTypes: billing.LenovoSUTypes,
			LimitToPartners: o.limitCreditToPartner,
			ActivePartners:  partners,
			Log:             log,
		},
		&billing.SubsidyEngine{Institution: "Boston University", Amount: subsidyAmount},
		prepayEngine,
	)
	if err := pipeline.Run(ledger); err != nil {
		return err
	}

	// Back up the persisted ledgers before overwriting them.
	now := time.Now()
	if o.uploadToS3 {
		if err := bucket.Upload(ctx, o.oldPIFile, s3.BackupKey(s3.PICreditKey, now)); err != nil {
			return err
		}
		if err := bucket.Upload(ctx, o.prepayDebitsFile, s3.BackupKey(s3.PrepayDebitKey, now)); err != nil {
			return err
		}
	}
	if err := csvfile.WritePICreditLedger(o.oldPIFile, inputs.creditLedger); err != nil {
		return err
	}
	if err := csvfile.WritePrepayDebits(o.prepayDebitsFile, inputs.debitLedger); err != nil {
		return err
	}

	exports, err := writeExports(o, log, month, ledger, prepayEngine, inputs)
	if err != nil {
		return err
	}

	if o.uploadToS3 {
		if err := bucket.Upload(ctx, o.oldPIFile, s3.PICreditKey); err != nil {
			return err
		}
		if err := bucket.Upload(ctx, o.prepayDebitsFile, s3.PrepayDebitKey); err != nil {
			return err
		}
		for _, ex := range exports {
			if err := bucket.Upload(ctx, ex.path, s3.InvoiceKey(ex.name, month.String())); err != nil {
				return err
			}
			if err := bucket.Upload(ctx, ex.path, s3.ArchiveKey(ex.name, month.String(), now)); err != nil {
				return err
			}
		}
		log.Info().Int("invoices", len(exports)).Msg("uploaded invoices and ledgers")
	}
	return nil
}

type inputSet struct {
	aliases             map[string][]string
	nonbillablePIs      []string
	nonbillableProjects []string
	timedProjects       []billing.TimedProject
	institutions        []config.Institution
	creditLedger        *billing.PICreditLedger
	prepayCredits       []billing.PrepayCredit
	prepayProjects      []billing.PrepayProject
	prepayContacts      []billing.PrepayContact
	debitLedger         *billing.PrepayDebitLedger
}

func loadInputs(o *options) (*inputSet, error) {
	in := &inputSet{}
	var err error
	if in.aliases, err = csvfile.ReadAliases(o.aliasFile); err != nil {
		return nil, err
	}
	if in.nonbillablePIs, err = csvfile.ReadLines(o.piFile); err != nil {
		return nil, err
	}
	if in.nonbillableProjects, err = csvfile.ReadLines(o.projectsFile); err != nil {
		return nil, err
	}
	if in.timedProjects, err = csvfile.ReadTimedProjects(o.timedProjectsFile); err != nil {
		return nil, err
	}
	if in.institutions, err = config.LoadInstitutions(o.institutionsFile); err != nil {
		return nil, err
	}
	if in.creditLedger, err = csvfile.ReadPICreditLedger(o.oldPIFile); err != nil {
		return nil, err
	}
	if in.prepayCredits, err = csvfile.ReadPrepayCredits(o.prepayCreditsFile); err != nil {
		return nil, err
	}
	if in.prepayProjects, err = csvfile.ReadPrepayProjects(o.prepayProjectsFile); err != nil {
		return nil, err
	}
	if in.prepayContacts, err = csvfile.ReadPrepayContacts(o.prepayContactsFile); err != nil {
		return nil, err
	}
	if in.debitLedger, err = csvfile.ReadPrepayDebits(o.prepayDebitsFile); err != nil {
		return nil, err
	}
	return in, nil
}

// resolveCreditAmount prefers the explicit flag and otherwise looks the
// amount up in the published rates for the invoice month.
func resolveCreditAmount(ctx context.Context, o *options, month generic.Month) (decimal.Decimal, error) {
	if o.newPICreditAmount != "" {
		return decimal.NewFromString(o.newPICreditAmount)
	}
	rates, err := config.FetchRates(ctx, o.ratesURL)
	if err != nil {
		return decimal.Zero, err
	}
	value, err := rates.ValueAt(newPICreditRateName, month)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(value)
}

type exportFile struct {
	path string
	name string
}

func writeExports(o *options, log zerolog.Logger, month generic.Month, ledger *billing.Ledger, prepay *billing.PrepaymentEngine, in *inputSet) ([]exportFile, error) {
	totalName := o.totalFile
	if totalName == "" {
		totalName = fmt.Sprintf("NERC-%s-Total-Invoice", month)
	}
	prepaidName := o.prepaidFile
	if prepaidName == "" {
		prepaidName = fmt.Sprintf("Prepaid_Groups-%s", month)
	}

	exports := []struct {
		name    string
		records [][]string
	}{
		{o.outputFile, invoices.Billable(o.outputFile).Records(ledger)},
		{o.nonbillableFile, invoices.Nonbillable(o.nonbillableFile).Records(ledger)},
		{totalName, invoices.Total(totalName, config.IncludedInTotal(in.institutions)).Records(ledger)},
		{o.huBUFile, invoices.HarvardBU(o.huBUFile).Records(ledger)},
		{o.buInternalFile, invoices.BUInternal(ledger, "Boston University")},
		{o.lenovoFile, invoices.Lenovo(billing.LenovoCharges(ledger))},
		{prepaidName, invoices.PrepaidGroups(prepaidName).Records(ledger)},
		{fmt.Sprintf("NERC-Prepaid-Group-Credits-%s", month), invoices.PrepayCreditsSnapshot(prepay.CreditsSnapshot(ledger.Month))},
	}

	var files []exportFile
	for _, ex := range exports {
		path := ex.name + ".csv"
		if err := csvfile.WriteRecords(path, ex.records); err != nil {
			return nil, err
		}
		files = append(files, exportFile{path: path, name: ex.name})
	}

	if err := os.MkdirAll(o.outputFolder, 0o755); err != nil {
		return nil, err
	}
	for key, records := range invoices.PerPI(ledger) {
		path := filepath.Join(o.outputFolder, key+".csv")
		if err := csvfile.WriteRecords(path, records); err != nil {
			return nil, err
		}
	}
	log.Info().Str("folder", o.outputFolder).Msg("wrote per-PI invoices")
	return files, nil
}
