/*
Package config loads the static configuration documents the pipeline
depends on: the institution directory and the externally published rate
parameters.
*/
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nerc/billing-engine/generic"
)

var ErrNoInstitutions = errors.New("institution directory: empty institution list")

// Institution is one entry of the institution directory document.
type Institution struct {
	DisplayName string   `yaml:"display_name"`
	Domains     []string `yaml:"domains"`

	// PartnershipStart is the YYYY-MM the institution's MGHPCC partnership
	// began; empty means no partnership.
	PartnershipStart string `yaml:"mghpcc_partnership_start_date"`

	// IncludeInTotalInvoice marks institutions billed through the
	// consortium's total invoice.
	IncludeInTotalInvoice bool `yaml:"include_in_total_invoice"`
}

// LoadInstitutions reads the institution directory YAML.
func LoadInstitutions(path string) ([]Institution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var institutions []Institution
	if err := yaml.Unmarshal(data, &institutions); err != nil {
		return nil, fmt.Errorf("institution directory %s: %w", path, err)
	}
	if len(institutions) == 0 {
		return nil, ErrNoInstitutions
	}
	return institutions, nil
}

// DomainMap flattens the directory into the email-domain -> display-name
// map the institution resolver matches against.
func DomainMap(institutions []Institution) map[string]string {
	domains := make(map[string]string)
	for _, inst := range institutions {
		for _, d := range inst.Domains {
			domains[d] = inst.DisplayName
		}
	}
	return domains
}

// ActivePartners returns the institutions whose MGHPCC partnership is
// active as of the invoice month (start month on or before it).
func ActivePartners(institutions []Institution, month generic.Month) (map[string]bool, error) {
	partners := make(map[string]bool)
	for _, inst := range institutions {
		if inst.PartnershipStart == "" {
			continue
		}
		start, err := generic.ParseMonth(inst.PartnershipStart)
		if err != nil {
			return nil, fmt.Errorf("institution %s: partnership start: %w", inst.DisplayName, err)
		}
		if month.Diff(start) >= 0 {
			partners[inst.DisplayName] = true
		}
	}
	return partners, nil
}

// IncludedInTotal returns the institutions billed on the total invoice.
func IncludedInTotal(institutions []Institution) map[string]bool {
	included := make(map[string]bool)
	for _, inst := range institutions {
		if inst.IncludeInTotalInvoice {
			included[inst.DisplayName] = true
		}
	}
	return included
}
