// Package settle resolves pending wagers and combination wagers once a match
// is finished. Evaluation is a pure predicate table over the finalized
// result; persistence happens in one all-or-nothing transaction per match
// with a fixed lock order (match, then wager and leg rows, then balances).
package settle

import (
	"fmt"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// Verdict is the outcome of evaluating one bet type against a result.
type Verdict int

const (
	VerdictLost Verdict = iota
	VerdictWon
	VerdictPush // stake returned
)

// Evaluate resolves a bet type against a finalized match result. Draw-no-bet
// markets push on a draw. HT/FT markets push when no half-time score was
// recorded, since guessing would corrupt settled tickets. An unknown bet type
// returns domain.ErrUnknownBetType and the wager stays pending.
func Evaluate(bt domain.BetType, r domain.MatchResult) (Verdict, error) {
	winner := r.Winner()
	total := r.TotalGoals()
	margin := r.HomeScore - r.AwayScore

	switch bt {
	case domain.BetHome:
		return verdict(winner == domain.OutcomeHome), nil
	case domain.BetDraw:
		return verdict(winner == domain.OutcomeDraw), nil
	case domain.BetAway:
		return verdict(winner == domain.OutcomeAway), nil

	case domain.BetDC1X:
		return verdict(winner != domain.OutcomeAway), nil
	case domain.BetDC12:
		return verdict(winner != domain.OutcomeDraw), nil
	case domain.BetDCX2:
		return verdict(winner != domain.OutcomeHome), nil

	case domain.BetDNBHome:
		if winner == domain.OutcomeDraw {
			return VerdictPush, nil
		}
		return verdict(winner == domain.OutcomeHome), nil
	case domain.BetDNBAway:
		if winner == domain.OutcomeDraw {
			return VerdictPush, nil
		}
		return verdict(winner == domain.OutcomeAway), nil

	case domain.BetOver15:
		return verdict(total >= 2), nil
	case domain.BetUnder15:
		return verdict(total <= 1), nil
	case domain.BetOver25:
		return verdict(total >= 3), nil
	case domain.BetUnder25:
		return verdict(total <= 2), nil
	case domain.BetOver35:
		return verdict(total >= 4), nil
	case domain.BetUnder35:
		return verdict(total <= 3), nil

	case domain.BetHandicapHome:
		// Home covers a -line handicap by winning with a margin beyond it.
		return verdict(float64(margin) > r.HandicapLine), nil
	case domain.BetHandicapAway:
		return verdict(float64(margin) < r.HandicapLine), nil
	case domain.BetAHHome:
		// Half-goal Asian line: no push possible.
		return verdict(margin > 0), nil
	case domain.BetAHAway:
		return verdict(margin < 0), nil

	case domain.BetBTTSYes:
		return verdict(r.BothScored()), nil
	case domain.BetBTTSNo:
		return verdict(!r.BothScored()), nil
	case domain.BetBTTSHomeWin:
		return verdict(r.BothScored() && winner == domain.OutcomeHome), nil
	case domain.BetBTTSAwayWin:
		return verdict(r.BothScored() && winner == domain.OutcomeAway), nil

	case domain.BetHTFTHomeHome:
		return htft(r, domain.OutcomeHome, domain.OutcomeHome)
	case domain.BetHTFTDrawDraw:
		return htft(r, domain.OutcomeDraw, domain.OutcomeDraw)
	case domain.BetHTFTAwayAway:
		return htft(r, domain.OutcomeAway, domain.OutcomeAway)
	case domain.BetHTFTHomeDraw:
		return htft(r, domain.OutcomeHome, domain.OutcomeDraw)
	case domain.BetHTFTDrawHome:
		return htft(r, domain.OutcomeDraw, domain.OutcomeHome)

	case domain.BetOddTotal:
		return verdict(total%2 == 1), nil
	case domain.BetEvenTotal:
		return verdict(total%2 == 0), nil

	case domain.BetWinToNilHome:
		return verdict(winner == domain.OutcomeHome && r.AwayScore == 0), nil
	case domain.BetWinToNilAway:
		return verdict(winner == domain.OutcomeAway && r.HomeScore == 0), nil

	case domain.BetHomeOver15:
		return verdict(r.HomeScore >= 2), nil
	case domain.BetHomeUnder15:
		return verdict(r.HomeScore <= 1), nil
	case domain.BetAwayOver15:
		return verdict(r.AwayScore >= 2), nil
	case domain.BetAwayUnder15:
		return verdict(r.AwayScore <= 1), nil

	case domain.BetCS10:
		return correctScore(r, 1, 0), nil
	case domain.BetCS20:
		return correctScore(r, 2, 0), nil
	case domain.BetCS21:
		return correctScore(r, 2, 1), nil
	case domain.BetCS00:
		return correctScore(r, 0, 0), nil
	case domain.BetCS11:
		return correctScore(r, 1, 1), nil
	case domain.BetCS22:
		return correctScore(r, 2, 2), nil
	case domain.BetCS01:
		return correctScore(r, 0, 1), nil
	case domain.BetCS02:
		return correctScore(r, 0, 2), nil
	case domain.BetCS12:
		return correctScore(r, 1, 2), nil
	}

	return VerdictLost, fmt.Errorf("%w: %q", domain.ErrUnknownBetType, bt)
}

func verdict(won bool) Verdict {
	if won {
		return VerdictWon
	}
	return VerdictLost
}

func htft(r domain.MatchResult, ht, ft domain.Outcome1X2) (Verdict, error) {
	htWinner, ok := r.HTWinner()
	if !ok {
		return VerdictPush, nil
	}
	return verdict(htWinner == ht && r.Winner() == ft), nil
}

func correctScore(r domain.MatchResult, home, away int) Verdict {
	return verdict(r.HomeScore == home && r.AwayScore == away)
}
