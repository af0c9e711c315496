package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WagerStatus is the settlement state of a wager or combination leg. Terminal
// once it leaves pending; settlement touches only pending rows, which is what
// makes re-invocation a no-op.
type WagerStatus string

const (
	WagerStatusPending  WagerStatus = "pending"
	WagerStatusWon      WagerStatus = "won"
	WagerStatusLost     WagerStatus = "lost"
	WagerStatusRefunded WagerStatus = "refunded"
)

// BetType is the closed enumeration of wagerable markets. Settlement evaluates
// every member against a MatchResult; an unknown value is an error, never a
// silent loss.
type BetType string

const (
	BetHome BetType = "home"
	BetDraw BetType = "draw"
	BetAway BetType = "away"

	BetDC1X BetType = "dc_1x"
	BetDC12 BetType = "dc_12"
	BetDCX2 BetType = "dc_x2"

	BetDNBHome BetType = "dnb_home"
	BetDNBAway BetType = "dnb_away"

	BetOver15  BetType = "over_1_5"
	BetUnder15 BetType = "under_1_5"
	BetOver25  BetType = "over_2_5"
	BetUnder25 BetType = "under_2_5"
	BetOver35  BetType = "over_3_5"
	BetUnder35 BetType = "under_3_5"

	BetHandicapHome BetType = "handicap_home"
	BetHandicapAway BetType = "handicap_away"
	BetAHHome       BetType = "ah_home"
	BetAHAway       BetType = "ah_away"

	BetBTTSYes     BetType = "btts_yes"
	BetBTTSNo      BetType = "btts_no"
	BetBTTSHomeWin BetType = "btts_home_win"
	BetBTTSAwayWin BetType = "btts_away_win"

	BetHTFTHomeHome BetType = "htft_hh"
	BetHTFTDrawDraw BetType = "htft_dd"
	BetHTFTAwayAway BetType = "htft_aa"
	BetHTFTHomeDraw BetType = "htft_hd"
	BetHTFTDrawHome BetType = "htft_dh"

	BetOddTotal  BetType = "odd_total"
	BetEvenTotal BetType = "even_total"

	BetWinToNilHome BetType = "win_to_nil_home"
	BetWinToNilAway BetType = "win_to_nil_away"

	BetHomeOver15  BetType = "home_over_1_5"
	BetHomeUnder15 BetType = "home_under_1_5"
	BetAwayOver15  BetType = "away_over_1_5"
	BetAwayUnder15 BetType = "away_under_1_5"

	BetCS10 BetType = "cs_1_0"
	BetCS20 BetType = "cs_2_0"
	BetCS21 BetType = "cs_2_1"
	BetCS00 BetType = "cs_0_0"
	BetCS11 BetType = "cs_1_1"
	BetCS22 BetType = "cs_2_2"
	BetCS01 BetType = "cs_0_1"
	BetCS02 BetType = "cs_0_2"
	BetCS12 BetType = "cs_1_2"
)

// Wager is a single-match bet. Created at placement (outside this subsystem);
// mutated exactly once, by settlement.
type Wager struct {
	ID              uuid.UUID
	UserID          int64
	MatchID         int64
	BetType         BetType
	Price           float64
	Stake           decimal.Decimal
	PotentialPayout decimal.Decimal
	Status          WagerStatus
	CreatedAt       time.Time
	SettledAt       *time.Time
}
