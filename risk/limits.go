package risk

import "fmt"

// Limits are the run-wide risk bounds. They do not change during a run.
type Limits struct {
	MaxPositionFraction  float64 `json:"max_position_fraction" yaml:"max_position_fraction"`   // 0.1
	MaxPortfolioExposure float64 `json:"max_portfolio_exposure" yaml:"max_portfolio_exposure"` // 0.8
	MaxDrawdownLimit     float64 `json:"max_drawdown_limit" yaml:"max_drawdown_limit"`         // 0.15
	VaRLimit             float64 `json:"var_limit" yaml:"var_limit"`                           // 0.02 daily loss
	StopLossPct          float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`                   // 0.05
	TakeProfitPct        float64 `json:"take_profit_pct" yaml:"take_profit_pct"`               // 0.10

	// Optional knobs; zero selects the default.
	VaRConfidence   float64 `json:"var_confidence,omitempty" yaml:"var_confidence,omitempty"`     // 0.95
	CVaRLimit       float64 `json:"cvar_limit,omitempty" yaml:"cvar_limit,omitempty"`             // disabled
	KellyCap        float64 `json:"kelly_cap,omitempty" yaml:"kelly_cap,omitempty"`               // 0.5
	Window          int     `json:"window,omitempty" yaml:"window,omitempty"`                     // 60 snapshots
	MinObservations int     `json:"min_observations,omitempty" yaml:"min_observations,omitempty"` // 20 returns
}

const (
	DefaultVaRConfidence   = 0.95
	DefaultKellyCap        = 0.5
	DefaultWindow          = 60
	DefaultMinObservations = 20
)

func DefaultLimits() Limits {
	return Limits{
		MaxPositionFraction:  0.1,
		MaxPortfolioExposure: 0.8,
		MaxDrawdownLimit:     0.15,
		VaRLimit:             0.02,
		StopLossPct:          0.05,
		TakeProfitPct:        0.1,
		VaRConfidence:        DefaultVaRConfidence,
		KellyCap:             DefaultKellyCap,
		Window:               DefaultWindow,
		MinObservations:      DefaultMinObservations,
	}
}

func (l Limits) confidence() float64 {
	if l.VaRConfidence <= 0 {
		return DefaultVaRConfidence
	}
	return l.VaRConfidence
}

func (l Limits) kellyCap() float64 {
	if l.KellyCap <= 0 {
		return DefaultKellyCap
	}
	return l.KellyCap
}

func (l Limits) window() int {
	if l.Window <= 0 {
		return DefaultWindow
	}
	return l.Window
}

func (l Limits) minObservations() int {
	if l.MinObservations <= 0 {
		return DefaultMinObservations
	}
	return l.MinObservations
}

func (l Limits) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"max_position_fraction", l.MaxPositionFraction},
		{"max_portfolio_exposure", l.MaxPortfolioExposure},
		{"max_drawdown_limit", l.MaxDrawdownLimit},
		{"var_limit", l.VaRLimit},
		{"stop_loss_pct", l.StopLossPct},
		{"take_profit_pct", l.TakeProfitPct},
	}
	for _, f := range fractions {
		if !(f.v > 0 && f.v <= 1) {
			return fmt.Errorf("risk.%s must be in (0, 1], got %v", f.name, f.v)
		}
	}
	if l.VaRConfidence != 0 && !(l.VaRConfidence > 0.5 && l.VaRConfidence < 1) {
		return fmt.Errorf("risk.var_confidence must be in (0.5, 1), got %v", l.VaRConfidence)
	}
	if l.CVaRLimit < 0 || l.KellyCap < 0 || l.Window < 0 || l.MinObservations < 0 {
		return fmt.Errorf("risk: optional limits must not be negative")
	}
	return nil
}
