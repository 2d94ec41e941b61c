// Package plans holds the static plan/price table and the naming
// conventions around it. A plan name carries a "12" suffix when it is
// billed yearly; the base name keys the table.
package plans

import (
	"sort"
	"strings"
)

// YearlySuffix marks yearly billing on a plan name.
const YearlySuffix = "12"

// Plan describes one purchasable plan.
type Plan struct {
	PriceID       string `yaml:"price"`        // Provider price id, monthly billing.
	YearlyPriceID string `yaml:"yearly-price"` // Provider price id, yearly billing.
	QuotaGiB      int64  `yaml:"quota"`        // Storage quota in GiB.
	Drives        int    `yaml:"drives"`       // Seats including the owner's own drive.
	Org           bool   `yaml:"org"`          // Organization plan family (DPA eligible).
}

// Table maps base plan names to their definitions.
type Table map[string]Plan

// IsYearly reports whether a plan name denotes yearly billing.
func IsYearly(name string) bool {
	return strings.HasSuffix(name, YearlySuffix)
}

// Base strips the yearly suffix from a plan name.
func Base(name string) string {
	return strings.TrimSuffix(name, YearlySuffix)
}

// Get looks up the definition for a possibly-suffixed plan name.
func (t Table) Get(name string) (Plan, bool) {
	p, ok := t[Base(name)]
	return p, ok
}

// Price returns the provider price id matching the plan name's billing
// period, falling back to the other period when the selected one is not
// configured. The empty string means the plan cannot be purchased.
func (t Table) Price(name string) string {
	p, ok := t.Get(name)
	if !ok {
		return ""
	}
	price := p.PriceID
	if IsYearly(name) {
		price = p.YearlyPriceID
	}
	if price == "" {
		if p.YearlyPriceID != "" {
			return p.YearlyPriceID
		}
		return p.PriceID
	}
	return price
}

// FromPrice resolves a provider price id back to a plan name, applying the
// yearly suffix when the yearly price matched. Unknown prices are returned
// verbatim so reconciliation can record what the provider reported.
func (t Table) FromPrice(priceID string) string {
	for name, p := range t {
		if p.PriceID == priceID {
			return name
		}
		if p.YearlyPriceID != "" && p.YearlyPriceID == priceID {
			return name + YearlySuffix
		}
	}
	return priceID
}

// OrgPlans lists the plan names (base and yearly variants) belonging to
// the organization family.
func (t Table) OrgPlans() []string {
	var res []string
	for name, p := range t {
		if !p.Org {
			continue
		}
		res = append(res, name, name+YearlySuffix)
	}
	sort.Strings(res)
	return res
}
