package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CombinationWager is a multi-leg ticket: one stake across N selections.
// It settles only once every leg has left pending. A single lost leg loses the
// ticket; otherwise its effective price is the product of every won leg's
// price, with refunded legs contributing a multiplier of 1 (push).
type CombinationWager struct {
	ID              uuid.UUID
	UserID          int64
	Stake           decimal.Decimal
	TotalPrice      float64 // quoted at placement; recomputed on settlement
	PotentialPayout decimal.Decimal
	Status          WagerStatus
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// CombinationLeg is one selection inside a combination wager, settled with the
// same predicate table as a single wager of the same bet type.
type CombinationLeg struct {
	ID            int64
	CombinationID uuid.UUID
	MatchID       int64
	BetType       BetType
	Price         float64
	Status        WagerStatus
}

// EffectivePrice computes the settled multiplier for a fully resolved set of
// legs: product of won-leg prices, 1.0 per refunded leg. The boolean is false
// while any leg is still pending, and the price is 0 when any leg is lost.
func EffectivePrice(legs []CombinationLeg) (float64, bool) {
	price := 1.0
	for _, leg := range legs {
		switch leg.Status {
		case WagerStatusPending:
			return 0, false
		case WagerStatusLost:
			return 0, true
		case WagerStatusWon:
			price *= leg.Price
		case WagerStatusRefunded:
			// push: multiplier of 1
		}
	}
	return price, true
}
