package risk

// Exit reasons for protective sells.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

func StopLossPrice(entry, rate float64) float64 {
	return entry * (1 - rate)
}

func TakeProfitPrice(entry, rate float64) float64 {
	return entry * (1 + rate)
}

// ExitReason reports whether mark breaches the stop or the target around
// entry. The stop wins when both would apply.
func ExitReason(entry, mark float64, l Limits) (string, bool) {
	if entry <= 0 || mark <= 0 {
		return "", false
	}
	if l.StopLossPct > 0 && mark <= StopLossPrice(entry, l.StopLossPct) {
		return ExitStopLoss, true
	}
	if l.TakeProfitPct > 0 && mark >= TakeProfitPrice(entry, l.TakeProfitPct) {
		return ExitTakeProfit, true
	}
	return "", false
}
