package indicators

import (
	"github.com/rustyeddy/backtester/market"
)

// Standard periods used by Compute.
const (
	ShortPeriod  = 5
	LongPeriod   = 20
	RSIPeriod    = 14
	MACDFast     = 12
	MACDSlow     = 26
	MACDSignal   = 9
	BandPeriod   = 20
	BandWidth    = 2.0
	StochFastK   = 14
	StochSlowK   = 3
	StochSlowD   = 3
	ATRPeriod    = 14
	VolumePeriod = 20
)

// Snapshot holds the indicator values for the last bar of a history.
// Each group has its own flag; values in a group without its flag set are zero.
type Snapshot struct {
	Bars  int
	Close float64

	HasTrend bool
	SMA5     float64
	SMA20    float64
	Mom5     float64
	Mom20    float64
	Vol20    float64

	HasRSI bool
	RSI    float64

	HasMACD bool
	MACD    MACDValue

	HasBands bool
	Bands    Bands
	PercentB float64

	HasStoch bool
	Stoch    StochValue

	HasATR bool
	ATR    float64

	HasVolume   bool
	VolumeRatio float64 // last volume over its 20-day mean
	OBVSlope    float64 // OBV change over 5 bars, scaled by mean volume
}

// Compute evaluates every indicator group that the history is long enough for.
func Compute(bars []market.Bar) Snapshot {
	s := Snapshot{Bars: len(bars)}
	if len(bars) == 0 {
		return s
	}
	closes := market.Closes(bars)
	s.Close = last(closes)

	if sma5, err := SMA(closes, ShortPeriod); err == nil {
		sma20, err1 := SMA(closes, LongPeriod)
		m5, err2 := Momentum(closes, ShortPeriod)
		m20, err3 := Momentum(closes, LongPeriod)
		v20, err4 := Volatility(closes, LongPeriod)
		if err1 == nil && err2 == nil && err3 == nil && err4 == nil {
			s.HasTrend = true
			s.SMA5, s.SMA20, s.Mom5, s.Mom20, s.Vol20 = sma5, sma20, m5, m20, v20
		}
	}

	if v, err := RSI(closes, RSIPeriod); err == nil {
		s.HasRSI, s.RSI = true, v
	}
	if v, err := MACD(closes, MACDFast, MACDSlow, MACDSignal); err == nil {
		s.HasMACD, s.MACD = true, v
	}
	if v, err := Bollinger(closes, BandPeriod, BandWidth); err == nil {
		s.HasBands, s.Bands, s.PercentB = true, v, v.PercentB(s.Close)
	}

	highs, lows := market.Highs(bars), market.Lows(bars)
	if v, err := Stochastic(highs, lows, closes, StochFastK, StochSlowK, StochSlowD); err == nil {
		s.HasStoch, s.Stoch = true, v
	}
	if v, err := ATR(highs, lows, closes, ATRPeriod); err == nil {
		s.HasATR, s.ATR = true, v
	}

	volumes := market.Volumes(bars)
	if meanVol, err := Mean(volumes, VolumePeriod); err == nil && meanVol > 0 {
		if obv, err := OBV(closes, volumes); err == nil && len(obv) > ShortPeriod {
			s.HasVolume = true
			s.VolumeRatio = last(volumes) / meanVol
			s.OBVSlope = (last(obv) - obv[len(obv)-1-ShortPeriod]) / (meanVol * ShortPeriod)
		}
	}
	return s
}
