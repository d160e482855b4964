package risk

import (
	"math"
	"sort"

	"github.com/rustyeddy/backtester/ledger"
)

// TradingDays is the annualization constant.
const TradingDays = 252

// Values extracts total_value from snapshots.
func Values(snaps []ledger.Snapshot) []float64 {
	out := make([]float64, len(snaps))
	for i, s := range snaps {
		out[i] = s.TotalValue
	}
	return out
}

// DailyReturns lists daily_return for every snapshot after the first.
func DailyReturns(snaps []ledger.Snapshot) []float64 {
	if len(snaps) < 2 {
		return nil
	}
	out := make([]float64, 0, len(snaps)-1)
	for _, s := range snaps[1:] {
		out = append(out, s.DailyReturn)
	}
	return out
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Std is the population standard deviation.
func Std(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Percentile uses linear interpolation between closest ranks; q is in [0, 100].
func Percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if q <= 0 {
		return s[0]
	}
	if q >= 100 {
		return s[len(s)-1]
	}
	pos := q / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// VaR is the historical value-at-risk expressed as a return: the
// (1-confidence) percentile of returns. Losses are negative.
func VaR(returns []float64, confidence float64) float64 {
	return Percentile(returns, (1-confidence)*100)
}

// CVaR is the mean of the returns at or below VaR.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	v := VaR(returns, confidence)
	sum, n := 0.0, 0
	for _, r := range returns {
		if r <= v {
			sum += r
			n++
		}
	}
	if n == 0 {
		return v
	}
	return sum / float64(n)
}

// MaxDrawdown is the worst peak-to-trough change of values, as a
// non-positive fraction.
func MaxDrawdown(values []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// Drawdown is the change of the last value from the running peak.
func Drawdown(values []float64) float64 {
	peak := 0.0
	for _, v := range values {
		peak = math.Max(peak, v)
	}
	if len(values) == 0 || peak <= 0 {
		return 0
	}
	return values[len(values)-1]/peak - 1
}

// Sharpe is the annualized mean over standard deviation of daily returns.
func Sharpe(returns []float64) float64 {
	sd := Std(returns)
	if sd == 0 {
		return 0
	}
	return Mean(returns) / sd * math.Sqrt(TradingDays)
}

// Sortino annualizes the mean return over the downside deviation.
func Sortino(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	ss := 0.0
	for _, r := range returns {
		if r < 0 {
			ss += r * r
		}
	}
	dd := math.Sqrt(ss / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return Mean(returns) / dd * math.Sqrt(TradingDays)
}
