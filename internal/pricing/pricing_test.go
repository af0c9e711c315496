package pricing

import (
	"math"
	"reflect"
	"testing"

	"github.com/vborovik/oddskeeper/internal/domain"
)

func baseInput() Input {
	return Input{
		HomeOdds: 2.00,
		DrawOdds: 3.20,
		AwayOdds: 4.00,
		Params:   DefaultParams(),
	}
}

// derivedFields walks every pointer field of DerivedOdds, returning name ->
// value for the non-nil ones.
func derivedFields(t *testing.T, d domain.DerivedOdds) map[string]float64 {
	t.Helper()
	out := map[string]float64{}
	v := reflect.ValueOf(d)
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.IsNil() {
			continue
		}
		out[v.Type().Field(i).Name] = f.Elem().Float()
	}
	return out
}

func TestDeriveFillsEveryMarket(t *testing.T) {
	d, err := Derive(baseInput())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	fields := derivedFields(t, d)
	total := reflect.TypeOf(d).NumField()
	if len(fields) != total {
		t.Errorf("filled %d of %d derived fields", len(fields), total)
	}
	for name, price := range fields {
		if price <= 1.0 {
			t.Errorf("%s = %v, every price must exceed 1.0", name, price)
		}
		if math.Round(price*100)/100 != price {
			t.Errorf("%s = %v, prices must be rounded to two decimals", name, price)
		}
	}
}

func TestDeriveDeterministic(t *testing.T) {
	a, err := Derive(baseInput())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(baseInput())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !reflect.DeepEqual(derivedFields(t, a), derivedFields(t, b)) {
		t.Error("identical inputs produced different derived sets")
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"home at even money floor", func(in *Input) { in.HomeOdds = 1.0 }},
		{"zero draw", func(in *Input) { in.DrawOdds = 0 }},
		{"negative away", func(in *Input) { in.AwayOdds = -2.5 }},
		{"nan home", func(in *Input) { in.HomeOdds = math.NaN() }},
		{"inf away", func(in *Input) { in.AwayOdds = math.Inf(1) }},
		{"zero overround", func(in *Input) { in.Params.Overround = 0 }},
		{"overround above one", func(in *Input) { in.Params.Overround = 1.2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInput()
			tt.mutate(&in)
			if _, err := Derive(in); err == nil {
				t.Error("Derive accepted invalid input")
			}
		})
	}
}

func TestDerivePrefersScrapedMarkets(t *testing.T) {
	in := baseInput()
	in.Markets = []domain.MarketSnapshot{
		{
			Name: "Total Goals",
			Outcomes: []domain.OutcomeSnapshot{
				{Name: "Over 2.5", Price: 1.95},
				{Name: "Under 2.5", Price: 1.85},
			},
		},
		{
			Name: "Handicap",
			Outcomes: []domain.OutcomeSnapshot{
				{Name: "Home (-1.5)", Price: 2.40},
				{Name: "Away (+1.5)", Price: 1.55},
			},
		},
		{
			Name: "Both Teams To Score",
			Outcomes: []domain.OutcomeSnapshot{
				{Name: "Yes", Price: 1.72},
			},
		},
	}

	d, err := Derive(in)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	checks := []struct {
		name string
		got  *float64
		want float64
	}{
		{"Over25", d.Over25, 1.95},
		{"Under25", d.Under25, 1.85},
		{"HandicapHome", d.HandicapHome, 2.40},
		{"HandicapAway", d.HandicapAway, 1.55},
		{"BTTSYes", d.BTTSYes, 1.72},
	}
	for _, c := range checks {
		if c.got == nil || *c.got != c.want {
			t.Errorf("%s: scraped price not preferred, got %v want %v", c.name, c.got, c.want)
		}
	}
	// Lines without scraped data still fall back to the model.
	if d.Over15 == nil || d.Under35 == nil {
		t.Error("analytic fallback missing for unscraped total lines")
	}
	if d.BTTSNo == nil {
		t.Error("heuristic fallback missing for unscraped BTTS side")
	}
}

func TestDeriveProbabilityOrdering(t *testing.T) {
	d, err := Derive(baseInput())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	// Covering more outcomes must never cost more than a single leg.
	if *d.DC1X >= 2.00 || *d.DC1X >= 3.20 {
		t.Errorf("DC1X = %v, must price below both legs", *d.DC1X)
	}
	if *d.DCX2 >= 3.20 || *d.DCX2 >= 4.00 {
		t.Errorf("DCX2 = %v, must price below both legs", *d.DCX2)
	}
	// Removing the draw shortens the home price.
	if *d.DNBHome >= 2.00 {
		t.Errorf("DNBHome = %v, must price below the outright", *d.DNBHome)
	}
	// Scorelines get longer as the goal count drifts from expectation.
	if *d.CS22 <= *d.CS11 {
		t.Errorf("CS22 (%v) must be longer than CS11 (%v)", *d.CS22, *d.CS11)
	}
}

func TestGoalRateTiers(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name             string
		home, draw, away float64
		want             float64
	}{
		{"strong favorite", 1.30, 5.00, 9.00, p.RateStrongFavorite},
		{"favorite", 1.80, 3.60, 4.20, p.RateFavorite},
		{"tight game", 2.50, 2.90, 2.80, p.RateTight},
		{"default", 2.60, 3.40, 2.70, p.RateDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{HomeOdds: tt.home, DrawOdds: tt.draw, AwayOdds: tt.away, Params: p}
			if got := goalRate(in, p); got != tt.want {
				t.Errorf("goalRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoisson(t *testing.T) {
	if got := poissonPMF(2.5, 0); math.Abs(got-math.Exp(-2.5)) > 1e-12 {
		t.Errorf("PMF(2.5, 0) = %v, want e^-2.5", got)
	}
	if got := poissonPMF(2.5, -1); got != 0 {
		t.Errorf("PMF(2.5, -1) = %v, want 0", got)
	}
	// CDF approaches 1 as k grows.
	if got := poissonCDF(2.5, 30); math.Abs(got-1) > 1e-9 {
		t.Errorf("CDF(2.5, 30) = %v, want ~1", got)
	}
	// CDF is monotone in k.
	if poissonCDF(2.5, 2) >= poissonCDF(2.5, 3) {
		t.Error("CDF must be increasing in k")
	}
}
