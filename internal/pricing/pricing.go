// Package pricing derives the full secondary-market price set for a match
// from its base 1X2 triplet. Scraped market data is always preferred; the
// analytic model (implied-probability combination, Poisson goal totals,
// margin-scaled handicaps) is the fallback. Derivation is pure: it never
// touches storage and a failed run changes nothing.
package pricing

import (
	"fmt"
	"math"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// Params holds the tunable constants of the pricing model. The heuristic
// bands are empirical values carried over from the production line; they are
// configuration, not derivation.
type Params struct {
	// Overround is the multiplicative margin factor applied to every
	// analytically derived price.
	Overround float64

	// HandicapLine is the goal line for the European handicap market.
	HandicapLine float64

	// HandicapCoverFactor scales the implied win probability down to
	// "wins by more than the line".
	HandicapCoverFactor float64

	// AsianCoverFactor scales the implied win probability for the half-goal
	// Asian handicap.
	AsianCoverFactor float64

	// CorrectScoreMargin is the liquidity-adjustment multiplier applied to
	// joint scoreline probabilities before inversion.
	CorrectScoreMargin float64

	// Expected-goal tiers, selected from favorite and draw prices.
	RateStrongFavorite float64 // favorite priced under 1.5
	RateFavorite       float64 // favorite priced under 2.0
	RateTight          float64 // draw priced under 3.0
	RateDefault        float64

	// HT/FT lead factors: probability that the named full-time result was
	// already (or not yet) showing at half time.
	HTLeadGivenWin   float64 // htft home/home, away/away
	HTDrawGivenDraw  float64 // htft draw/draw
	HTDrawGivenWin   float64 // htft draw/home
	HTLeadGivenDraw  float64 // htft home/draw
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		Overround:           0.95,
		HandicapLine:        1.5,
		HandicapCoverFactor: 0.45,
		AsianCoverFactor:    0.85,
		CorrectScoreMargin:  1.3,
		RateStrongFavorite:  3.1,
		RateFavorite:        2.7,
		RateTight:           2.2,
		RateDefault:         2.5,
		HTLeadGivenWin:      0.60,
		HTDrawGivenDraw:     0.52,
		HTDrawGivenWin:      0.30,
		HTLeadGivenDraw:     0.08,
	}
}

// Input is everything a single derivation needs.
type Input struct {
	HomeOdds float64
	DrawOdds float64
	AwayOdds float64

	// Markets is scraped ground truth, consulted before any analytic
	// fallback. May be nil.
	Markets []domain.MarketSnapshot

	Params Params
}

// Derive computes the full derived-odds set for one match. Any arithmetic
// problem (price at or below 1.0, zero division, non-finite intermediate)
// aborts the whole computation with an error so the caller can keep the
// previously stored prices.
func Derive(in Input) (domain.DerivedOdds, error) {
	var out domain.DerivedOdds

	p := in.Params
	if p.Overround <= 0 || p.Overround > 1 {
		return out, fmt.Errorf("pricing: overround %v out of range", p.Overround)
	}
	for _, o := range []float64{in.HomeOdds, in.DrawOdds, in.AwayOdds} {
		if math.IsNaN(o) || math.IsInf(o, 0) || o <= 1.0 {
			return out, fmt.Errorf("pricing: base price %v not a decimal price > 1.0", o)
		}
	}

	pHome := 1 / in.HomeOdds
	pDraw := 1 / in.DrawOdds
	pAway := 1 / in.AwayOdds

	// Double chance: sum the implied probabilities of the legs.
	var err error
	if out.DC1X, err = invert(pHome+pDraw, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.DC12, err = invert(pHome+pAway, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.DCX2, err = invert(pDraw+pAway, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}

	// Draw no bet: condition the win probabilities on "no draw".
	if out.DNBHome, err = invert(pHome/(pHome+pAway), p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.DNBAway, err = invert(pAway/(pHome+pAway), p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}

	// Goal totals from the tiered expected-goal rate.
	rate := goalRate(in, p)
	if err := deriveTotals(&out, in, rate); err != nil {
		return domain.DerivedOdds{}, err
	}

	// Handicaps.
	if err := deriveHandicaps(&out, in, pHome, pAway); err != nil {
		return domain.DerivedOdds{}, err
	}

	// Correct score from independent Poisson goal counts per side.
	if err := deriveCorrectScores(&out, pHome, pAway, rate, p); err != nil {
		return domain.DerivedOdds{}, err
	}

	// HT/FT combinations.
	if out.HTFTHomeHome, err = invert(pHome*p.HTLeadGivenWin, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.HTFTAwayAway, err = invert(pAway*p.HTLeadGivenWin, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.HTFTDrawDraw, err = invert(pDraw*p.HTDrawGivenDraw, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.HTFTDrawHome, err = invert(pHome*p.HTDrawGivenWin, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}
	if out.HTFTHomeDraw, err = invert(pDraw*p.HTLeadGivenDraw, p.Overround); err != nil {
		return domain.DerivedOdds{}, err
	}

	// Heuristic-band markets, scraped values first.
	deriveHeuristics(&out, in)

	return out, nil
}

// goalRate selects the expected total-goal rate from the documented tiers.
func goalRate(in Input, p Params) float64 {
	fav := math.Min(in.HomeOdds, in.AwayOdds)
	switch {
	case fav < 1.5:
		return p.RateStrongFavorite
	case fav < 2.0:
		return p.RateFavorite
	case in.DrawOdds < 3.0:
		return p.RateTight
	default:
		return p.RateDefault
	}
}

func deriveTotals(out *domain.DerivedOdds, in Input, rate float64) error {
	p := in.Params
	lines := []struct {
		goals            int // Over line.5 wins with more than this many goals
		over, under      **float64
		overKey, underKey string
	}{
		{1, &out.Over15, &out.Under15, "over 1.5", "under 1.5"},
		{2, &out.Over25, &out.Under25, "over 2.5", "under 2.5"},
		{3, &out.Over35, &out.Under35, "over 3.5", "under 3.5"},
	}
	for _, l := range lines {
		if price, ok := domain.FindOutcome(in.Markets, "total", l.overKey); ok {
			*l.over = round2p(price)
		}
		if price, ok := domain.FindOutcome(in.Markets, "total", l.underKey); ok {
			*l.under = round2p(price)
		}
		if *l.over != nil && *l.under != nil {
			continue
		}
		pUnder := poissonCDF(rate, l.goals)
		pOver := 1 - pUnder
		if *l.over == nil {
			priced, err := invert(pOver, p.Overround)
			if err != nil {
				return err
			}
			*l.over = priced
		}
		if *l.under == nil {
			priced, err := invert(pUnder, p.Overround)
			if err != nil {
				return err
			}
			*l.under = priced
		}
	}
	return nil
}

func deriveHandicaps(out *domain.DerivedOdds, in Input, pHome, pAway float64) error {
	p := in.Params

	if price, ok := domain.FindOutcome(in.Markets, "handicap", fmt.Sprintf("(-%.1f)", p.HandicapLine)); ok {
		out.HandicapHome = round2p(price)
	}
	if price, ok := domain.FindOutcome(in.Markets, "handicap", fmt.Sprintf("(+%.1f)", p.HandicapLine)); ok {
		out.HandicapAway = round2p(price)
	}

	var err error
	pCover := pHome * p.HandicapCoverFactor
	if out.HandicapHome == nil {
		if out.HandicapHome, err = invert(pCover, p.Overround); err != nil {
			return err
		}
	}
	if out.HandicapAway == nil {
		if out.HandicapAway, err = invert(1-pCover, p.Overround); err != nil {
			return err
		}
	}

	if out.AHHome, err = invert(pHome*p.AsianCoverFactor, p.Overround); err != nil {
		return err
	}
	if out.AHAway, err = invert(pAway*p.AsianCoverFactor, p.Overround); err != nil {
		return err
	}
	return nil
}

func deriveCorrectScores(out *domain.DerivedOdds, pHome, pAway, rate float64, p Params) error {
	// Split the total rate between the sides by relative win probability.
	homeShare := pHome / (pHome + pAway)
	lambdaHome := rate * homeShare
	lambdaAway := rate * (1 - homeShare)

	targets := []struct {
		h, a int
		dst  **float64
	}{
		{1, 0, &out.CS10}, {2, 0, &out.CS20}, {2, 1, &out.CS21},
		{0, 0, &out.CS00}, {1, 1, &out.CS11}, {2, 2, &out.CS22},
		{0, 1, &out.CS01}, {0, 2, &out.CS02}, {1, 2, &out.CS12},
	}
	for _, t := range targets {
		joint := poissonPMF(lambdaHome, t.h) * poissonPMF(lambdaAway, t.a)
		price, err := invert(joint*p.CorrectScoreMargin, 1.0)
		if err != nil {
			return err
		}
		*t.dst = price
	}
	return nil
}

// deriveHeuristics fills the fixed-band markets. These never fail: the bands
// are constants chosen by price thresholds, not arithmetic on inputs.
func deriveHeuristics(out *domain.DerivedOdds, in Input) {
	o1, ox, o2 := in.HomeOdds, in.DrawOdds, in.AwayOdds

	// Both teams to score: balanced games favor BTTS.
	if price, ok := domain.FindOutcome(in.Markets, "both", "yes"); ok {
		out.BTTSYes = round2p(price)
	}
	if price, ok := domain.FindOutcome(in.Markets, "both", "no"); ok {
		out.BTTSNo = round2p(price)
	}
	if out.BTTSYes == nil || out.BTTSNo == nil {
		yes, no := 2.00, 1.75
		if ox < 3.2 {
			yes, no = 1.75, 2.05
		}
		if out.BTTSYes == nil {
			out.BTTSYes = round2p(yes)
		}
		if out.BTTSNo == nil {
			out.BTTSNo = round2p(no)
		}
	}

	// BTTS combined with a winner.
	if o1 < 2.0 {
		out.BTTSHomeWin = round2p(3.40)
	} else {
		out.BTTSHomeWin = round2p(4.60)
	}
	if o2 < 2.0 {
		out.BTTSAwayWin = round2p(3.60)
	} else {
		out.BTTSAwayWin = round2p(5.00)
	}

	// Odd/even total goals.
	if ox < 3.0 {
		out.OddTotal, out.EvenTotal = round2p(2.00), round2p(1.78)
	} else {
		out.OddTotal, out.EvenTotal = round2p(1.90), round2p(1.86)
	}

	// Win to nil.
	if o1 < 1.8 {
		out.WinToNilHome = round2p(2.60)
	} else {
		out.WinToNilHome = round2p(3.90)
	}
	if o2 < 1.8 {
		out.WinToNilAway = round2p(2.80)
	} else {
		out.WinToNilAway = round2p(4.20)
	}

	// Team totals over/under 1.5.
	if o1 < 1.6 {
		out.HomeOver15, out.HomeUnder15 = round2p(1.70), round2p(2.05)
	} else {
		out.HomeOver15, out.HomeUnder15 = round2p(2.10), round2p(1.68)
	}
	if o2 < 1.6 {
		out.AwayOver15, out.AwayUnder15 = round2p(1.70), round2p(2.05)
	} else {
		out.AwayOver15, out.AwayUnder15 = round2p(2.10), round2p(1.68)
	}
}

// invert converts a probability to a decimal price with the given margin
// factor and rounds to two decimals. It rejects probabilities that would
// produce a degenerate price.
func invert(prob, overround float64) (*float64, error) {
	if math.IsNaN(prob) || math.IsInf(prob, 0) || prob <= 0 {
		return nil, fmt.Errorf("pricing: probability %v out of range", prob)
	}
	price := round2(1 / prob * overround)
	if price <= 1.0 {
		// Implied probability at or above certainty once the margin is
		// applied; clamp to the minimum quotable price.
		price = 1.01
	}
	return &price, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round2p(v float64) *float64 {
	r := round2(v)
	return &r
}
