/*
alias.go - PI identity canonicalization

Some PIs appear in usage reports under more than one identity (old email
addresses, renamed accounts). The alias resolver rewrites every known alias
to its canonical PI before anything downstream keys off PI identity.
Unmapped identities pass through unchanged.
*/
package billing

// AliasResolver rewrites known PI aliases to their canonical identity.
type AliasResolver struct {
	canonical map[string]string // alias -> canonical PI
}

// NewAliasResolver builds a resolver from a canonical-PI -> aliases mapping,
// the shape of the persisted alias file.
func NewAliasResolver(aliases map[string][]string) *AliasResolver {
	canonical := make(map[string]string)
	for pi, names := range aliases {
		for _, alias := range names {
			canonical[alias] = pi
		}
	}
	return &AliasResolver{canonical: canonical}
}

func (a *AliasResolver) Name() string { return "validate-pi-alias" }

func (a *AliasResolver) Process(ledger *Ledger) error {
	for _, row := range ledger.Rows {
		if pi, ok := a.canonical[row.PI]; ok {
			row.PI = pi
		}
	}
	return nil
}
