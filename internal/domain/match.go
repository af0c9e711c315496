// Package domain defines the core catalog types shared by the reconciler,
// pricing engine, and settlement engine, together with the store interfaces
// their persistence implementations must satisfy.
package domain

import "time"

// MatchStatus represents the lifecycle state of a match. Transitions only move
// forward: upcoming -> live -> finished (or -> canceled from any non-terminal
// state). Once finished, scores and status are immutable except through the
// explicit reopen path used for administrative corrections.
type MatchStatus string

const (
	MatchStatusUpcoming MatchStatus = "upcoming"
	MatchStatusLive     MatchStatus = "live"
	MatchStatusFinished MatchStatus = "finished"
	MatchStatusCanceled MatchStatus = "canceled"
)

// CanTransition reports whether a status change respects the forward-only
// lifecycle.
func (s MatchStatus) CanTransition(to MatchStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case MatchStatusUpcoming:
		return to == MatchStatusLive || to == MatchStatusFinished || to == MatchStatusCanceled
	case MatchStatusLive:
		return to == MatchStatusFinished || to == MatchStatusCanceled
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s MatchStatus) Terminal() bool {
	return s == MatchStatusFinished || s == MatchStatusCanceled
}

// Match is one sporting event in the catalog. Created by the reconciler on
// first sighting; score and status fields are mutated by the reconciler while
// live and frozen on finalization.
type Match struct {
	ID         int64
	HomeTeamID int64
	AwayTeamID int64
	HomeTeam   string // denormalized team names, filled by store reads
	AwayTeam   string
	MatchDate  time.Time
	League     string
	Status     MatchStatus
	MatchURL   string // external locator; empty when the source gave none
	Minute     *int   // live-minute marker

	HomeScore     *int
	AwayScore     *int
	HTHomeScore   *int
	HTAwayScore   *int

	// Base 1X2 triplet from the preferred quote source.
	HomeOdds *float64
	DrawOdds *float64
	AwayOdds *float64

	HandicapLine float64
	Derived      DerivedOdds

	ScrapedAt time.Time
	UpdatedAt time.Time
}

// HasBaseOdds reports whether the full 1X2 triplet is present.
func (m *Match) HasBaseOdds() bool {
	return m.HomeOdds != nil && m.DrawOdds != nil && m.AwayOdds != nil
}

// Result builds the finalized-match view used by settlement predicates.
// It returns false when the match has no final score.
func (m *Match) Result() (MatchResult, bool) {
	if m.HomeScore == nil || m.AwayScore == nil {
		return MatchResult{}, false
	}
	return MatchResult{
		HomeScore:    *m.HomeScore,
		AwayScore:    *m.AwayScore,
		HTHomeScore:  m.HTHomeScore,
		HTAwayScore:  m.HTAwayScore,
		HandicapLine: m.HandicapLine,
	}, true
}

// DerivedOdds is the full set of secondary-market prices for a match. Each
// field is nil until the pricing engine has produced it; a failed pricing run
// leaves previously stored values untouched.
type DerivedOdds struct {
	// Double chance.
	DC1X *float64
	DC12 *float64
	DCX2 *float64

	// Draw no bet.
	DNBHome *float64
	DNBAway *float64

	// Goal totals.
	Over15  *float64
	Under15 *float64
	Over25  *float64
	Under25 *float64
	Over35  *float64
	Under35 *float64

	// European handicap at Match.HandicapLine.
	HandicapHome *float64
	HandicapAway *float64

	// Asian handicap (half-goal style).
	AHHome *float64
	AHAway *float64

	// Both teams to score.
	BTTSYes     *float64
	BTTSNo      *float64
	BTTSHomeWin *float64
	BTTSAwayWin *float64

	// Half time / full time combinations.
	HTFTHomeHome *float64
	HTFTDrawDraw *float64
	HTFTAwayAway *float64
	HTFTHomeDraw *float64
	HTFTDrawHome *float64

	// Correct score.
	CS10 *float64
	CS20 *float64
	CS21 *float64
	CS00 *float64
	CS11 *float64
	CS22 *float64
	CS01 *float64
	CS02 *float64
	CS12 *float64

	// Odd/even total goals.
	OddTotal  *float64
	EvenTotal *float64

	// Win to nil.
	WinToNilHome *float64
	WinToNilAway *float64

	// Team totals at 1.5.
	HomeOver15  *float64
	HomeUnder15 *float64
	AwayOver15  *float64
	AwayUnder15 *float64
}
