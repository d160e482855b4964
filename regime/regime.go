// Package regime labels market conditions so the ensemble can pick weights.
package regime

import (
	"math"

	"github.com/rustyeddy/backtester/indicators"
	"github.com/rustyeddy/backtester/market"
)

type Label string

const (
	Unknown  Label = "unknown"
	Bull     Label = "bull"
	Sideways Label = "sideways"
	Bear     Label = "bear"
)

// Labels fixes the order of Regime.Probabilities.
var Labels = []Label{Bull, Sideways, Bear}

func (l Label) Valid() bool {
	switch l {
	case Bull, Sideways, Bear:
		return true
	}
	return false
}

// Regime is the classifier output. Probabilities are aligned with Labels
// and sum to 1.
type Regime struct {
	Label         Label     `json:"label" yaml:"label"`
	Probabilities []float64 `json:"probabilities" yaml:"probabilities"`
}

func UnknownRegime() Regime {
	return Regime{Label: Unknown, Probabilities: []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}}
}

// Classifier is implemented by every regime model.
type Classifier interface {
	Name() string
	// Fit prepares the model from history. Rule-based models ignore it.
	Fit(bars []market.Bar) error
	// Classify labels the last bar of bars using at most the trailing window.
	Classify(bars []market.Bar) Regime
}

// MinBars is the shortest history that yields a feature vector.
const MinBars = indicators.LongPeriod + 1

// Feature vector layout.
const (
	FeatReturn = iota
	FeatVolatility
	FeatMomentum
	FeatVolumeTrend
	FeatRSI
	FeatPercentB
	NumFeatures
)

// Features computes the feature vector for the last bar of bars.
func Features(bars []market.Bar) ([]float64, bool) {
	if len(bars) < MinBars {
		return nil, false
	}
	closes := market.Closes(bars)
	volumes := market.Volumes(bars)

	rets := indicators.Returns(closes)
	ret, err := indicators.Mean(rets, indicators.ShortPeriod)
	if err != nil {
		return nil, false
	}
	vol, err := indicators.Volatility(closes, indicators.LongPeriod)
	if err != nil {
		return nil, false
	}
	mom, err := indicators.Momentum(closes, indicators.LongPeriod)
	if err != nil {
		return nil, false
	}
	vs, err1 := indicators.Mean(volumes, indicators.ShortPeriod)
	vl, err2 := indicators.Mean(volumes, indicators.LongPeriod)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	volTrend := 0.0
	if vl > 0 {
		volTrend = vs/vl - 1
	}
	rsi := 50.0
	if v, err := indicators.RSI(closes, indicators.RSIPeriod); err == nil {
		rsi = v
	}
	pb := 0.5
	if b, err := indicators.Bollinger(closes, indicators.BandPeriod, indicators.BandWidth); err == nil {
		pb = b.PercentB(closes[len(closes)-1])
	}

	f := []float64{ret, vol, mom, volTrend, rsi / 100, pb}
	for _, x := range f {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
	}
	return f, true
}

func trailing(bars []market.Bar, window int) []market.Bar {
	if window > 0 && len(bars) > window {
		return bars[len(bars)-window:]
	}
	return bars
}

func argmax(probs []float64) Label {
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return Labels[best]
}
