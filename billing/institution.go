/*
institution.go - PI email domain -> institution classifier

PURPOSE:
  Derives each row's institution from the PI identifier's email domain by
  walking progressively shorter domain suffixes until one matches the
  registered directory. Trying `a.childrens.harvard.edu`, then
  `childrens.harvard.edu`, then `harvard.edu` means the most specific
  registered suffix wins, which is what keeps subsidiary domains (a hospital
  under a parent university's TLD) attributed correctly.

FAILURE MODEL:
  No registered suffix: institution set to "" with a warning.
  Missing PI: row logged, institution left unset. Both are data-quality
  signals, never fatal - the row still flows through the pipeline.
*/
package billing

import (
	"strings"

	"github.com/rs/zerolog"
)

// InstitutionResolver maps PI email domains to institution display names.
type InstitutionResolver struct {
	domains map[string]string // registered domain -> display name
	log     zerolog.Logger
}

// NewInstitutionResolver builds a resolver over a domain -> display-name
// map (see config.DomainMap).
func NewInstitutionResolver(domains map[string]string, log zerolog.Logger) *InstitutionResolver {
	return &InstitutionResolver{domains: domains, log: log}
}

func (r *InstitutionResolver) Name() string { return "add-institution" }

func (r *InstitutionResolver) Process(ledger *Ledger) error {
	for _, row := range ledger.Rows {
		if row.PI == "" {
			r.log.Info().
				Str("project", row.Project).
				Msg("project has no PI, institution left unset")
			continue
		}
		row.Institution = r.Resolve(row.PI)
	}
	return nil
}

// Resolve returns the institution display name for a PI identifier, or ""
// if no registered suffix of its domain matches. Also used for prepay group
// contact emails.
func (r *InstitutionResolver) Resolve(pi string) string {
	domain := pi
	if i := strings.LastIndex(pi, "@"); i >= 0 {
		domain = pi[i+1:]
	}

	// Strip the leftmost label each iteration; the loop bound guarantees
	// termination even when no "." remains.
	for i := 0; i <= strings.Count(domain, "."); i++ {
		if name := r.domains[domain]; name != "" {
			return name
		}
		domain = domain[strings.Index(domain, ".")+1:]
	}

	r.log.Warn().
		Str("pi", pi).
		Msg("PI does not match any institution")
	return ""
}
