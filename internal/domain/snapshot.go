package domain

import "time"

// Snapshot is one match record as delivered by a snapshot source in a single
// poll. Everything beyond the team names and league is optional; the
// reconciler treats missing fields as "unchanged".
type Snapshot struct {
	League    string
	MatchURL  string
	KickoffAt time.Time
	HomeTeam  string
	AwayTeam  string

	Minute      *int
	HomeScore   *int
	AwayScore   *int
	HTHomeScore *int
	HTAwayScore *int

	HomeOdds *float64
	DrawOdds *float64
	AwayOdds *float64

	Markets []MarketSnapshot

	// Finished is a hint from the source that the event page already shows a
	// final result. Absence detection still applies when the hint is missing.
	Finished bool
}

// Valid reports whether the snapshot carries the minimum identity fields.
func (s Snapshot) Valid() bool {
	return s.HomeTeam != "" && s.AwayTeam != "" && s.HomeTeam != s.AwayTeam
}
