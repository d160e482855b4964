package agents

import (
	"math"
	"time"

	"github.com/rustyeddy/backtester/indicators"
)

// Factor blends momentum, volume, volatility and OBV factors.
type Factor struct {
	// TargetVol is the daily volatility treated as neutral.
	TargetVol float64
}

func NewFactor() *Factor { return &Factor{TargetVol: 0.02} }

func (a *Factor) ID() string { return "factor" }

func (a *Factor) Score(symbol string, ts time.Time, c *Context) Signal {
	s := c.Indicators
	if !s.HasTrend || !s.HasVolume {
		return Neutral(a.ID(), symbol, ts)
	}

	momentum := 0.6*s.Mom5 + 0.4*s.Mom20
	momFactor := indicators.Clamp(momentum*10, -1, 1)

	// heavy volume confirms whichever way price is moving
	dir := 0.0
	if momentum > 0 {
		dir = 1
	} else if momentum < 0 {
		dir = -1
	}
	volumeFactor := indicators.Clamp((s.VolumeRatio-1)*dir, -1, 1)

	volFactor := 0.0
	if a.TargetVol > 0 {
		volFactor = indicators.Clamp((a.TargetVol-s.Vol20)/a.TargetVol, -1, 1)
	}
	obvFactor := indicators.Clamp(s.OBVSlope, -1, 1)

	score := 0.4*momFactor + 0.3*volumeFactor + 0.1*volFactor + 0.2*obvFactor
	return NewSignal(a.ID(), symbol, ts, score, math.Abs(score))
}
