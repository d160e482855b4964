package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rustyeddy/backtester/ensemble"
	"github.com/rustyeddy/backtester/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// snaps builds an all-invested series from daily returns starting at 100.
func snaps(cashFrac float64, rets ...float64) []ledger.Snapshot {
	v := 100.0
	out := []ledger.Snapshot{{Date: day0, Cash: v * cashFrac, PositionsValue: v * (1 - cashFrac), TotalValue: v}}
	for i, r := range rets {
		v *= 1 + r
		out = append(out, ledger.Snapshot{
			Date: day0.AddDate(0, 0, i+1), Cash: v * cashFrac, PositionsValue: v * (1 - cashFrac),
			TotalValue: v, DailyReturn: r,
		})
	}
	return out
}

func buyAt(d time.Time) []ledger.Trade {
	return []ledger.Trade{{ID: "t1", Timestamp: d, Symbol: "AAA", Side: ledger.Buy, Quantity: 1, FillPrice: 100}}
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, -0.25, MaxDrawdown([]float64{100, 120, 90, 95}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown([]float64{100, 101, 102}))
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.InDelta(t, 95.0/120-1, Drawdown([]float64{100, 120, 90, 95}), 1e-12)
}

func TestPercentileAndVaR(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3.0, Percentile([]float64{5, 1, 4, 2, 3}, 50))
	assert.Equal(t, 1.0, Percentile([]float64{5, 1, 4, 2, 3}, 0))
	assert.Equal(t, 5.0, Percentile([]float64{5, 1, 4, 2, 3}, 100))
	assert.InDelta(t, 1.5, Percentile([]float64{1, 2}, 50), 1e-12)
	assert.Equal(t, 0.0, Percentile(nil, 5))

	rets := make([]float64, 20)
	for i := range rets {
		rets[i] = float64(i)/100 - 0.1
	}
	// rank 0.95 between -0.10 and -0.09
	assert.InDelta(t, -0.0905, VaR(rets, 0.95), 1e-12)
	assert.InDelta(t, -0.10, CVaR(rets, 0.95), 1e-12)
	assert.LessOrEqual(t, CVaR(rets, 0.95), VaR(rets, 0.95))
}

func TestRatios(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Sharpe([]float64{0.01, 0.01, 0.01}))
	assert.Equal(t, 0.0, Sortino([]float64{0.01, 0.02}))
	assert.Equal(t, 0.0, Sharpe(nil))

	rets := []float64{0.02, -0.01, 0.02, -0.01}
	// mean 0.005, population std 0.015, downside deviation sqrt(0.0002/4)
	assert.InDelta(t, 0.005/0.015*math.Sqrt(252), Sharpe(rets), 1e-9)
	assert.InDelta(t, 0.005/math.Sqrt(0.00005)*math.Sqrt(252), Sortino(rets), 1e-9)
}

func TestPositionSize(t *testing.T) {
	t.Parallel()

	buy := ensemble.Decision{Action: ensemble.Buy, Strength: 0.6}
	l := DefaultLimits()

	// zero volatility never sizes a position
	assert.Equal(t, 0.0, PositionSize(buy, 0.8, 10000, 0, l))
	assert.Equal(t, 0.0, PositionSize(ensemble.Decision{Action: ensemble.Hold, Strength: 1}, 0.8, 10000, 0.02, l))
	assert.Equal(t, 0.0, PositionSize(buy, 0, 10000, 0.02, l))
	assert.Equal(t, 0.0, PositionSize(buy, 0.8, 0, 0.02, l))

	// kelly capped at 0.5, scaled by strength, capped by position limit
	assert.InDelta(t, 0.1, PositionSize(buy, 0.8, 10000, 0.02, l), 1e-12)
	l.MaxPositionFraction = 1
	assert.InDelta(t, 0.3, PositionSize(buy, 0.8, 10000, 0.02, l), 1e-12)
	full := ensemble.Decision{Action: ensemble.Sell, Strength: 1}
	assert.InDelta(t, 0.2, PositionSize(full, 0.004, 10000, 0.02, l), 1e-12)
}

func TestAdjustAndUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.1, AdjustForRisk(0.1, Check{OK: true}))
	assert.Equal(t, 0.05, AdjustForRisk(0.1, Check{OK: false}))

	assert.Equal(t, 10.0, Units(0.1, 10000, 99.7))
	assert.Equal(t, 0.0, Units(0.001, 10000, 99.7))
	assert.Equal(t, 0.0, Units(0.1, 10000, 0))
}

func TestCheckPortfolioAllCash(t *testing.T) {
	t.Parallel()

	c := CheckPortfolio(DefaultLimits(), snaps(1, 0, 0, 0), nil)
	assert.True(t, c.OK)
	assert.Empty(t, c.Violations)
	assert.Equal(t, 0, c.Observations)
	assert.NoError(t, c.Err())

	assert.True(t, CheckPortfolio(DefaultLimits(), nil, nil).OK)
}

func TestCheckPortfolioDrawdown(t *testing.T) {
	t.Parallel()

	s := snaps(0.5, -0.1, -0.1, 0.01)
	c := CheckPortfolio(DefaultLimits(), s, buyAt(day0))
	assert.False(t, c.OK)
	assert.True(t, c.Has(CodeDrawdown))
	assert.False(t, c.Has(CodeVaR), "too few observations for VaR")
	assert.Equal(t, 0.0, c.VaR)
	assert.InDelta(t, 0.81-1, c.MaxDrawdown, 1e-12)

	var lv *LimitViolation
	require.True(t, errors.As(c.Err(), &lv))
	assert.Equal(t, CodeDrawdown, lv.Violations[0].Code)
	assert.Contains(t, c.Err().Error(), "DRAWDOWN_LIMIT")
}

func TestCheckPortfolioVaRAndExposure(t *testing.T) {
	t.Parallel()

	rets := make([]float64, 29)
	for i := range rets {
		rets[i] = 0.03
		if i%2 == 1 {
			rets[i] = -0.03
		}
	}
	l := DefaultLimits()
	l.CVaRLimit = 0.025
	c := CheckPortfolio(l, snaps(0.1, rets...), buyAt(day0))

	assert.Equal(t, 29, c.Observations)
	assert.InDelta(t, -0.03, c.VaR, 1e-12)
	assert.InDelta(t, -0.03, c.CVaR, 1e-12)
	assert.InDelta(t, 0.9, c.Exposure, 1e-12)
	assert.True(t, c.Has(CodeVaR))
	assert.True(t, c.Has(CodeCVaR))
	assert.True(t, c.Has(CodeExposure))
	assert.False(t, c.Has(CodeDrawdown))
}

func TestCheckPortfolioWindowStartsBeforeFirstTrade(t *testing.T) {
	t.Parallel()

	s := snaps(1, make([]float64, 29)...)
	c := CheckPortfolio(DefaultLimits(), s, buyAt(s[20].Date))
	assert.Equal(t, 10, c.Observations)

	l := DefaultLimits()
	l.Window = 5
	c = CheckPortfolio(l, s, buyAt(day0))
	assert.Equal(t, 4, c.Observations)
}

func TestExitReason(t *testing.T) {
	t.Parallel()

	l := DefaultLimits()
	tests := []struct {
		mark   float64
		reason string
		ok     bool
	}{
		{94.9, ExitStopLoss, true},
		{90, ExitStopLoss, true},
		{110.5, ExitTakeProfit, true},
		{100, "", false},
		{96, "", false},
	}
	for _, tt := range tests {
		reason, ok := ExitReason(100, tt.mark, l)
		assert.Equal(t, tt.ok, ok, tt.mark)
		assert.Equal(t, tt.reason, reason, tt.mark)
	}
	_, ok := ExitReason(0, 50, l)
	assert.False(t, ok)
}

func TestPlannedRisk(t *testing.T) {
	t.Parallel()

	l := DefaultLimits()
	assert.InDelta(t, 50, PlannedRisk(10, 100, l), 1e-9)
	assert.InDelta(t, 2, RewardRisk(l), 1e-12)
	assert.InDelta(t, 0.005, RiskPct(50, 10000), 1e-12)
	assert.True(t, math.IsInf(RiskPct(50, 0), 1))
}

func TestLimitsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultLimits().Validate())

	l := DefaultLimits()
	l.MaxPositionFraction = 0
	require.Error(t, l.Validate())

	l = DefaultLimits()
	l.VaRConfidence = 0.4
	require.Error(t, l.Validate())

	l = DefaultLimits()
	l.Window = -1
	require.Error(t, l.Validate())
}
