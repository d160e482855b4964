package regime

import (
	"github.com/rustyeddy/backtester/indicators"
	"github.com/rustyeddy/backtester/market"
)

type RuleOptions struct {
	Lookback   int     `json:"lookback" yaml:"lookback"`       // trailing returns, 20
	BullReturn float64 `json:"bull_return" yaml:"bull_return"` // mean daily return above which it is bull
	BearReturn float64 `json:"bear_return" yaml:"bear_return"` // mean daily return below which it is bear
	MaxBullVol float64 `json:"max_bull_vol" yaml:"max_bull_vol"`
}

func DefaultRuleOptions() RuleOptions {
	return RuleOptions{
		Lookback:   20,
		BullReturn: 0.002,
		BearReturn: -0.002,
		MaxBullVol: 0.03,
	}
}

// Rule thresholds the trailing mean return and volatility.
type Rule struct {
	opts RuleOptions
}

func NewRule(opts RuleOptions) *Rule {
	if opts.Lookback <= 1 {
		opts.Lookback = DefaultRuleOptions().Lookback
	}
	return &Rule{opts: opts}
}

func (r *Rule) Name() string { return "rule" }

func (r *Rule) Fit([]market.Bar) error { return nil }

func (r *Rule) Classify(bars []market.Bar) Regime {
	closes := market.Closes(trailing(bars, r.opts.Lookback+1))
	mean, err := indicators.Mean(indicators.Returns(closes), r.opts.Lookback)
	if err != nil {
		return UnknownRegime()
	}
	vol, err := indicators.Volatility(closes, r.opts.Lookback)
	if err != nil {
		return UnknownRegime()
	}

	label := Sideways
	switch {
	case mean > r.opts.BullReturn && vol < r.opts.MaxBullVol:
		label = Bull
	case mean < r.opts.BearReturn:
		label = Bear
	}

	probs := make([]float64, len(Labels))
	for i, l := range Labels {
		if l == label {
			probs[i] = 0.8
		} else {
			probs[i] = 0.1
		}
	}
	return Regime{Label: label, Probabilities: probs}
}
