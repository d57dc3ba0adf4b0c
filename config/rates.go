/*
rates.go - Externally published rate parameters

Rate parameters (SU rates, the default New-PI credit amount) are published
as a YAML document of named values with dated validity ranges. The pipeline
fetches that document once per run and resolves each parameter for the
invoice month being processed.

Document shape:

  - name: New PI Credit Amount
    history:
      - value: "1000"
        from: 2023-06
        until: 2024-05
      - value: "500"
        from: 2024-06

An open-ended entry (no "until") is valid for every month from "from" on.
*/
package config

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/nerc/billing-engine/generic"
)

// DefaultRatesURL is where the published rates document lives.
const DefaultRatesURL = "https://raw.githubusercontent.com/nerc-project/nerc-rates/main/rates.yaml"

// Rates is the published rates document.
type Rates struct {
	entries []rateEntry
}

type rateEntry struct {
	Name    string      `yaml:"name"`
	History []rateValue `yaml:"history"`
}

type rateValue struct {
	Value string `yaml:"value"`
	From  string `yaml:"from"`
	Until string `yaml:"until"`
}

// FetchRates downloads and parses the published rates document.
func FetchRates(ctx context.Context, url string) (*Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rates: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	return ParseRates(data)
}

// ParseRates parses a rates document.
func ParseRates(data []byte) (*Rates, error) {
	var entries []rateEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse rates: %w", err)
	}
	return &Rates{entries: entries}, nil
}

// ValueAt resolves a named rate for the invoice month.
func (r *Rates) ValueAt(name string, month generic.Month) (string, error) {
	for _, entry := range r.entries {
		if entry.Name != name {
			continue
		}
		for _, v := range entry.History {
			from, err := generic.ParseMonth(v.From)
			if err != nil {
				return "", fmt.Errorf("rate %q: from: %w", name, err)
			}
			if month.Diff(from) < 0 {
				continue
			}
			if v.Until != "" {
				until, err := generic.ParseMonth(v.Until)
				if err != nil {
					return "", fmt.Errorf("rate %q: until: %w", name, err)
				}
				if until.Diff(month) < 0 {
					continue
				}
			}
			return v.Value, nil
		}
		return "", fmt.Errorf("rate %q has no value for %s", name, month)
	}
	return "", fmt.Errorf("rate %q not found", name)
}
