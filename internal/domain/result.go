package domain

// Outcome1X2 is the result class of a match: home win, draw, or away win.
type Outcome1X2 string

const (
	OutcomeHome Outcome1X2 = "home"
	OutcomeDraw Outcome1X2 = "draw"
	OutcomeAway Outcome1X2 = "away"
)

// MatchResult is the finalized view of a match that settlement predicates
// evaluate against. Half-time scores are optional; predicates that need them
// push when they are unknown.
type MatchResult struct {
	HomeScore    int
	AwayScore    int
	HTHomeScore  *int
	HTAwayScore  *int
	HandicapLine float64
}

// Winner returns the full-time result class.
func (r MatchResult) Winner() Outcome1X2 {
	switch {
	case r.HomeScore > r.AwayScore:
		return OutcomeHome
	case r.HomeScore < r.AwayScore:
		return OutcomeAway
	default:
		return OutcomeDraw
	}
}

// HTWinner returns the half-time result class and whether a half-time score
// was recorded at all.
func (r MatchResult) HTWinner() (Outcome1X2, bool) {
	if r.HTHomeScore == nil || r.HTAwayScore == nil {
		return "", false
	}
	switch {
	case *r.HTHomeScore > *r.HTAwayScore:
		return OutcomeHome, true
	case *r.HTHomeScore < *r.HTAwayScore:
		return OutcomeAway, true
	default:
		return OutcomeDraw, true
	}
}

// TotalGoals returns the combined full-time goal count.
func (r MatchResult) TotalGoals() int {
	return r.HomeScore + r.AwayScore
}

// BothScored reports whether both teams found the net.
func (r MatchResult) BothScored() bool {
	return r.HomeScore > 0 && r.AwayScore > 0
}
