package domain

import "time"

// PriceQuote is the base 1X2 triplet observed from one source for one match.
// Unique per (match, source); refreshed idempotently on every snapshot that
// carries prices.
type PriceQuote struct {
	MatchID   int64
	Source    string
	HomeOdds  float64
	DrawOdds  float64
	AwayOdds  float64
	ScrapedAt time.Time
}

// Margin returns the bookmaker overround embedded in the triplet as a
// percentage, e.g. 5.2 for a 105.2% book. Returns 0 for degenerate prices.
func (q PriceQuote) Margin() float64 {
	if q.HomeOdds <= 0 || q.DrawOdds <= 0 || q.AwayOdds <= 0 {
		return 0
	}
	return (1/q.HomeOdds + 1/q.DrawOdds + 1/q.AwayOdds - 1) * 100
}
