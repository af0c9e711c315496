package domain

import "strings"

// MarketSnapshot is one named market scraped for a match, e.g. "Total Goals",
// with its outcomes. Scraped markets are the preferred price source; the
// pricing engine falls back to analytic derivation only when a market or
// outcome is absent.
type MarketSnapshot struct {
	Name     string
	Outcomes []OutcomeSnapshot
}

// OutcomeSnapshot is one priced outcome inside a market.
type OutcomeSnapshot struct {
	Name  string
	Price float64
}

// FindOutcome searches markets whose name contains marketSubstr for an outcome
// whose name contains outcomeSubstr, both case-insensitively, and returns the
// first matching price.
func FindOutcome(markets []MarketSnapshot, marketSubstr, outcomeSubstr string) (float64, bool) {
	ms := strings.ToLower(marketSubstr)
	os := strings.ToLower(outcomeSubstr)
	for _, m := range markets {
		if !strings.Contains(strings.ToLower(m.Name), ms) {
			continue
		}
		for _, o := range m.Outcomes {
			if strings.Contains(strings.ToLower(o.Name), os) {
				return o.Price, true
			}
		}
	}
	return 0, false
}
