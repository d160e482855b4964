package risk

import (
	"math"

	"github.com/rustyeddy/backtester/ensemble"
)

// PositionSize returns the fraction of equity to commit to a decision.
//
// The expected edge is taken as one volatility move weighted by confidence,
// so the Kelly ratio expected/volatility² reduces to confidence/volatility.
// It is capped at the Kelly cap, scaled by the decision strength and capped
// again at the position limit.
func PositionSize(d ensemble.Decision, confidence, equity, volatility float64, l Limits) float64 {
	if d.Action == ensemble.Hold || !(volatility > 0) || !(equity > 0) || !(confidence > 0) {
		return 0
	}
	expected := confidence * volatility
	kelly := math.Min(expected/(volatility*volatility), l.kellyCap())
	size := kelly * clamp01(d.Strength)
	return math.Min(size, l.MaxPositionFraction)
}

// AdjustForRisk halves a size while the portfolio check reports violations.
func AdjustForRisk(fraction float64, c Check) float64 {
	if c.OK {
		return fraction
	}
	return fraction * 0.5
}

// Units converts a fraction of equity into whole units at an effective price.
func Units(fraction, equity, price float64) float64 {
	if !(fraction > 0) || !(equity > 0) || !(price > 0) {
		return 0
	}
	return math.Floor(fraction * equity / price)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
