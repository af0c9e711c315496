package source

import (
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// feedMatch is the wire representation of one match record in a feed payload.
// All fields except the team names are optional.
type feedMatch struct {
	League    string `json:"league"`
	URL       string `json:"url"`
	KickoffAt string `json:"kickoff_at"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`

	Minute      *int `json:"minute"`
	HomeScore   *int `json:"home_score"`
	AwayScore   *int `json:"away_score"`
	HTHomeScore *int `json:"ht_home_score"`
	HTAwayScore *int `json:"ht_away_score"`

	Odds *feedOdds `json:"odds"`

	Markets []feedMarket `json:"markets"`

	Finished bool `json:"finished"`
}

type feedOdds struct {
	Home *float64 `json:"home"`
	Draw *float64 `json:"draw"`
	Away *float64 `json:"away"`
}

type feedMarket struct {
	Name     string        `json:"name"`
	Outcomes []feedOutcome `json:"outcomes"`
}

type feedOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// toDomain converts a wire record into a domain snapshot. An unparseable
// kickoff timestamp is left zero; the reconciler tolerates that for matches
// already resolved by URL.
func (f *feedMatch) toDomain() domain.Snapshot {
	snap := domain.Snapshot{
		League:      f.League,
		MatchURL:    f.URL,
		HomeTeam:    f.HomeTeam,
		AwayTeam:    f.AwayTeam,
		Minute:      f.Minute,
		HomeScore:   f.HomeScore,
		AwayScore:   f.AwayScore,
		HTHomeScore: f.HTHomeScore,
		HTAwayScore: f.HTAwayScore,
		Finished:    f.Finished,
	}

	if f.KickoffAt != "" {
		if t, err := time.Parse(time.RFC3339, f.KickoffAt); err == nil {
			snap.KickoffAt = t.UTC()
		}
	}

	if f.Odds != nil {
		snap.HomeOdds = f.Odds.Home
		snap.DrawOdds = f.Odds.Draw
		snap.AwayOdds = f.Odds.Away
	}

	for _, m := range f.Markets {
		ms := domain.MarketSnapshot{Name: m.Name}
		for _, o := range m.Outcomes {
			ms.Outcomes = append(ms.Outcomes, domain.OutcomeSnapshot{Name: o.Name, Price: o.Price})
		}
		snap.Markets = append(snap.Markets, ms)
	}

	return snap
}
