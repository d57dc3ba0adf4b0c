/*
lenovo.go - Lenovo GPU surcharge artifact

Certain GPU SU types carry their own vendor pricing: their usage is billed
to the hardware vendor at a flat per-SU-hour charge instead of flowing
through the credit chain (they are also excluded from New-PI credit for the
same reason). This produces an independent side artifact from the resolved
ledger and never touches balances.
*/
package billing

import "github.com/shopspring/decimal"

// LenovoSUTypes are the SU types billed to the vendor.
var LenovoSUTypes = []string{"OpenShift GPUA100SXM4", "OpenStack GPUA100SXM4"}

// LenovoSUChargeMultiplier is the flat per-SU-hour charge.
var LenovoSUChargeMultiplier = decimal.NewFromInt(1)

// LenovoCharge is one surcharge line for the vendor invoice.
type LenovoCharge struct {
	InvoiceMonth string
	Project      string
	Institution  string
	SUHours      decimal.Decimal
	SUType       string
	SUCharge     decimal.Decimal
	Charge       decimal.Decimal
}

// LenovoCharges derives the vendor surcharge lines from the ledger. Called
// after institution resolution, before billability filtering - the vendor
// invoice covers all matching usage regardless of billability.
func LenovoCharges(ledger *Ledger) []LenovoCharge {
	types := make(map[string]bool, len(LenovoSUTypes))
	for _, t := range LenovoSUTypes {
		types[t] = true
	}

	var charges []LenovoCharge
	for _, row := range ledger.Rows {
		if !types[row.SUType] {
			continue
		}
		charges = append(charges, LenovoCharge{
			InvoiceMonth: row.InvoiceMonth.String(),
			Project:      row.Project,
			Institution:  row.Institution,
			SUHours:      row.SUHours,
			SUType:       row.SUType,
			SUCharge:     LenovoSUChargeMultiplier,
			Charge:       row.SUHours.Mul(LenovoSUChargeMultiplier),
		})
	}
	return charges
}
