package indicators

import (
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/backtester/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func barsFrom(closes []float64) []market.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Date:   t0.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1000 + float64(i),
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	t.Parallel()

	closes := []float64{102, 105, 106, 108, 110, 111, 113, 114, 116, 118}
	v, err := SMA(closes, 5)
	require.NoError(t, err)
	// 111+113+114+116+118 = 572
	assert.InDelta(t, 114.4, v, 1e-9)

	_, err = SMA(closes, 11)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))

	_, err = SMA(closes, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period must be positive")
}

func TestEMAConstantSeries(t *testing.T) {
	t.Parallel()

	v, err := EMA(flat(30, 50), 10)
	require.NoError(t, err)
	assert.InDelta(t, 50, v, 1e-9)
}

func TestRSIExtremes(t *testing.T) {
	t.Parallel()

	up, err := RSI(ramp(40, 100, 1), 14)
	require.NoError(t, err)
	assert.InDelta(t, 100, up, 1e-9)

	down, err := RSI(ramp(40, 200, -1), 14)
	require.NoError(t, err)
	assert.InDelta(t, 0, down, 1e-9)

	_, err = RSI(ramp(10, 100, 1), 14)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestMACDSign(t *testing.T) {
	t.Parallel()

	v, err := MACD(ramp(60, 100, 1), 12, 26, 9)
	require.NoError(t, err)
	assert.Greater(t, v.MACD, 0.0)
	assert.InDelta(t, v.MACD-v.Signal, v.Hist, 1e-9)

	_, err = MACD(ramp(60, 100, 1), 26, 12, 9)
	require.Error(t, err)

	_, err = MACD(ramp(30, 100, 1), 12, 26, 9)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestBollingerFlat(t *testing.T) {
	t.Parallel()

	b, err := Bollinger(flat(25, 10), 20, 2)
	require.NoError(t, err)
	assert.InDelta(t, 10, b.Middle, 1e-9)
	assert.InDelta(t, 10, b.Upper, 1e-9)
	assert.InDelta(t, 10, b.Lower, 1e-9)
	assert.Equal(t, 0.5, b.PercentB(10))

	bands := Bands{Upper: 12, Middle: 10, Lower: 8}
	assert.InDelta(t, 1.0, bands.PercentB(12), 1e-12)
	assert.InDelta(t, 0.0, bands.PercentB(8), 1e-12)
}

func TestStochasticRange(t *testing.T) {
	t.Parallel()

	closes := ramp(40, 100, 1)
	bars := barsFrom(closes)
	v, err := Stochastic(market.Highs(bars), market.Lows(bars), closes, 14, 3, 3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.K, 0.0)
	assert.LessOrEqual(t, v.K, 100.0)

	_, err = Stochastic(closes[:5], closes, closes, 14, 3, 3)
	require.Error(t, err)
}

func TestATRPositive(t *testing.T) {
	t.Parallel()

	closes := ramp(30, 100, 0.5)
	bars := barsFrom(closes)
	v, err := ATR(market.Highs(bars), market.Lows(bars), closes, 14)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
}

func TestOBV(t *testing.T) {
	t.Parallel()

	obv, err := OBV([]float64{10, 11, 10, 12}, []float64{100, 200, 300, 400})
	require.NoError(t, err)
	require.Len(t, obv, 4)
	// +200 -300 +400 relative to the first bar
	assert.InDelta(t, 300, obv[3]-obv[0], 1e-9)
}

func TestReturnsMomentumVolatility(t *testing.T) {
	t.Parallel()

	rets := Returns([]float64{100, 110, 99})
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-12)
	assert.InDelta(t, -0.10, rets[1], 1e-12)

	assert.Nil(t, Returns([]float64{1}))

	m, err := Momentum([]float64{100, 105, 110}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, m, 1e-12)

	vol, err := Volatility(flat(30, 10), 20)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol)

	vol, err = Volatility([]float64{100, 110, 99, 108.9, 98.01}, 4)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, vol, 1e-9)
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, Clamp(3, -1, 1))
	assert.Equal(t, -1.0, Clamp(-3, -1, 1))
	assert.Equal(t, 0.25, Clamp(0.25, -1, 1))
}

func TestComputeSnapshot(t *testing.T) {
	t.Parallel()

	short := Compute(barsFrom(ramp(10, 100, 1)))
	assert.Equal(t, 10, short.Bars)
	assert.False(t, short.HasTrend)
	assert.False(t, short.HasMACD)

	full := Compute(barsFrom(ramp(60, 100, 1)))
	assert.True(t, full.HasTrend)
	assert.True(t, full.HasRSI)
	assert.True(t, full.HasMACD)
	assert.True(t, full.HasBands)
	assert.True(t, full.HasStoch)
	assert.True(t, full.HasATR)
	assert.True(t, full.HasVolume)
	assert.Greater(t, full.SMA5, full.SMA20)
	assert.Greater(t, full.Mom20, full.Mom5)

	assert.Equal(t, Snapshot{}, Compute(nil))
}
