package agents

import (
	"math"
	"time"
)

// Technical combines moving-average trend, RSI, MACD, Bollinger %B and the
// stochastic oscillator into one composite score.
type Technical struct{}

func NewTechnical() *Technical { return &Technical{} }

func (a *Technical) ID() string { return "technical" }

func (a *Technical) Score(symbol string, ts time.Time, c *Context) Signal {
	s := c.Indicators
	if !s.HasTrend || !s.HasRSI || !s.HasMACD {
		return Neutral(a.ID(), symbol, ts)
	}

	score := 0.0
	if s.SMA5 > s.SMA20 {
		score += 0.3
	} else if s.SMA5 < s.SMA20 {
		score -= 0.3
	}

	switch {
	case s.RSI < 30:
		score += 0.4
	case s.RSI > 70:
		score -= 0.4
	}

	if s.MACD.Hist > 0 {
		score += 0.3
	} else if s.MACD.Hist < 0 {
		score -= 0.3
	}

	if s.HasBands {
		switch {
		case s.PercentB < 0:
			score += 0.2
		case s.PercentB > 1:
			score -= 0.2
		}
	}
	if s.HasStoch {
		switch {
		case s.Stoch.K < 20:
			score += 0.1
		case s.Stoch.K > 80:
			score -= 0.1
		}
	}

	return NewSignal(a.ID(), symbol, ts, score, math.Abs(score))
}
