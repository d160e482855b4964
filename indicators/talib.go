// Package indicators provides technical analysis indicators over daily series.
//
// Every function takes an ascending series and returns the value for the
// last element. Too-short input yields ErrInsufficientHistory rather than a
// zero-filled warm-up value.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

var ErrInsufficientHistory = errors.New("insufficient history")

func need(n, have int) error {
	if have < n {
		return fmt.Errorf("%w: need %d, got %d", ErrInsufficientHistory, n, have)
	}
	return nil
}

func checkPeriod(period int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	return nil
}

func last(xs []float64) float64 { return xs[len(xs)-1] }

// SMA is the simple moving average of the last period values.
func SMA(in []float64, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}
	if err := need(period, len(in)); err != nil {
		return 0, err
	}
	return last(talib.Sma(in, period)), nil
}

// EMA is the exponential moving average seeded with the SMA of the first period values.
func EMA(in []float64, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}
	if err := need(period, len(in)); err != nil {
		return 0, err
	}
	return last(talib.Ema(in, period)), nil
}

// RSI is Wilder's relative strength index in [0, 100].
func RSI(in []float64, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}
	if err := need(period+2, len(in)); err != nil {
		return 0, err
	}
	return last(talib.Rsi(in, period)), nil
}

type MACDValue struct {
	MACD   float64
	Signal float64
	Hist   float64
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(in []float64, fast, slow, signal int) (MACDValue, error) {
	for _, p := range []int{fast, slow, signal} {
		if err := checkPeriod(p); err != nil {
			return MACDValue{}, err
		}
	}
	if fast >= slow {
		return MACDValue{}, fmt.Errorf("fast period %d must be below slow period %d", fast, slow)
	}
	if err := need(slow+signal, len(in)); err != nil {
		return MACDValue{}, err
	}
	m, s, h := talib.Macd(in, fast, slow, signal)
	return MACDValue{MACD: last(m), Signal: last(s), Hist: last(h)}, nil
}

type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// PercentB locates x inside the bands: 0 at the lower band, 1 at the upper.
func (b Bands) PercentB(x float64) float64 {
	w := b.Upper - b.Lower
	if w <= 0 {
		return 0.5
	}
	return (x - b.Lower) / w
}

// Bollinger returns SMA(period) bands at ±k population standard deviations.
func Bollinger(in []float64, period int, k float64) (Bands, error) {
	if err := checkPeriod(period); err != nil {
		return Bands{}, err
	}
	if err := need(period, len(in)); err != nil {
		return Bands{}, err
	}
	u, m, l := talib.BBands(in, period, k, k, talib.SMA)
	return Bands{Upper: last(u), Middle: last(m), Lower: last(l)}, nil
}

type StochValue struct {
	K float64
	D float64
}

// Stochastic is the slow stochastic oscillator with SMA smoothing.
func Stochastic(high, low, close []float64, fastK, slowK, slowD int) (StochValue, error) {
	for _, p := range []int{fastK, slowK, slowD} {
		if err := checkPeriod(p); err != nil {
			return StochValue{}, err
		}
	}
	if len(high) != len(close) || len(low) != len(close) {
		return StochValue{}, fmt.Errorf("series length mismatch")
	}
	if err := need(fastK+slowK+slowD, len(close)); err != nil {
		return StochValue{}, err
	}
	k, d := talib.Stoch(high, low, close, fastK, slowK, talib.SMA, slowD, talib.SMA)
	return StochValue{K: last(k), D: last(d)}, nil
}

// ATR is the Wilder-smoothed average true range.
func ATR(high, low, close []float64, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}
	if len(high) != len(close) || len(low) != len(close) {
		return 0, fmt.Errorf("series length mismatch")
	}
	if err := need(period+2, len(close)); err != nil {
		return 0, err
	}
	return last(talib.Atr(high, low, close, period)), nil
}

// OBV returns the on-balance volume series.
func OBV(close, volume []float64) ([]float64, error) {
	if len(volume) != len(close) {
		return nil, fmt.Errorf("series length mismatch")
	}
	if err := need(2, len(close)); err != nil {
		return nil, err
	}
	return talib.Obv(close, volume), nil
}

// Returns lists simple one-period returns; the result is one shorter than in.
func Returns(in []float64) []float64 {
	if len(in) < 2 {
		return nil
	}
	return talib.Rocp(in, 1)[1:]
}

// Momentum is the fractional change over the last n periods.
func Momentum(in []float64, n int) (float64, error) {
	if err := checkPeriod(n); err != nil {
		return 0, err
	}
	if err := need(n+1, len(in)); err != nil {
		return 0, err
	}
	return last(talib.Rocp(in, n)), nil
}

// Volatility is the population standard deviation of the last period returns.
func Volatility(in []float64, period int) (float64, error) {
	if err := checkPeriod(period); err != nil {
		return 0, err
	}
	rets := Returns(in)
	if err := need(period, len(rets)); err != nil {
		return 0, err
	}
	if period == 1 {
		return 0, nil
	}
	return last(talib.StdDev(rets, period, 1)), nil
}

// Mean of the last n values.
func Mean(in []float64, n int) (float64, error) {
	if err := checkPeriod(n); err != nil {
		return 0, err
	}
	if err := need(n, len(in)); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, x := range in[len(in)-n:] {
		sum += x
	}
	return sum / float64(n), nil
}

// Clamp bounds x to [lo, hi]; NaN maps to 0.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(lo, math.Min(hi, x))
}
