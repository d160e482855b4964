package risk

import "math"

// PlannedRisk is the cash lost if units bought at entry are stopped out.
func PlannedRisk(units, entry float64, l Limits) float64 {
	if units <= 0 || entry <= 0 || l.StopLossPct <= 0 {
		return 0
	}
	return units * (entry - StopLossPrice(entry, l.StopLossPct))
}

// RewardRisk is the ratio of the take-profit move to the stop-loss move.
func RewardRisk(l Limits) float64 {
	if l.StopLossPct <= 0 {
		return 0
	}
	return l.TakeProfitPct / l.StopLossPct
}

// RiskPct is planned risk as a fraction of equity.
func RiskPct(planned, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return planned / equity
}
