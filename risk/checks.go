package risk

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/backtester/ledger"
)

// Violation codes reported by CheckPortfolio.
const (
	CodeVaR      = "VAR_LIMIT"
	CodeCVaR     = "CVAR_LIMIT"
	CodeDrawdown = "DRAWDOWN_LIMIT"
	CodeExposure = "EXPOSURE_LIMIT"
)

type Violation struct {
	Code string `json:"code" yaml:"code"`
	Msg  string `json:"msg" yaml:"msg"`
}

// Check is the outcome of a portfolio evaluation. Violations are reported
// only; acting on them is up to the caller.
type Check struct {
	OK         bool
	Violations []Violation

	Observations int
	VaR          float64
	CVaR         float64
	MaxDrawdown  float64
	Exposure     float64
}

func (c *Check) add(code, msg string) {
	c.Violations = append(c.Violations, Violation{Code: code, Msg: msg})
	c.OK = false
}

// Has reports whether a violation with code was recorded.
func (c Check) Has(code string) bool {
	for _, v := range c.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Err returns a *LimitViolation when the check failed.
func (c Check) Err() error {
	if c.OK {
		return nil
	}
	return &LimitViolation{Violations: c.Violations}
}

type LimitViolation struct {
	Violations []Violation
}

func (e *LimitViolation) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Code + ": " + v.Msg
	}
	return "limit violation: " + strings.Join(parts, "; ")
}

// CheckPortfolio evaluates the trailing window of snapshots against l.
//
// Returns are only counted from the first fill onward; an all-cash book
// has no risk to measure. VaR and CVaR need at least MinObservations
// returns and are left at zero until then.
func CheckPortfolio(l Limits, snaps []ledger.Snapshot, trades []ledger.Trade) Check {
	c := Check{OK: true}
	if len(snaps) == 0 {
		return c
	}

	latest := snaps[len(snaps)-1]
	if latest.TotalValue > 0 {
		c.Exposure = 1 - latest.Cash/latest.TotalValue
	}

	window := snaps
	if w := l.window(); len(window) > w {
		window = window[len(window)-w:]
	}
	if len(trades) > 0 {
		first := trades[0].Timestamp
		i := 0
		for i < len(window) && window[i].Date.Before(first) {
			i++
		}
		// keep the day before the first fill as the return base
		if i > 0 {
			i--
		}
		window = window[i:]
	} else {
		window = window[len(window)-1:]
	}

	c.MaxDrawdown = MaxDrawdown(Values(window))
	rets := DailyReturns(window)
	c.Observations = len(rets)
	if len(rets) >= l.minObservations() {
		conf := l.confidence()
		c.VaR = VaR(rets, conf)
		c.CVaR = CVaR(rets, conf)
	}

	if -c.VaR > l.VaRLimit {
		c.add(CodeVaR, fmt.Sprintf("VaR %.2f%% exceeds limit %.2f%%", -100*c.VaR, 100*l.VaRLimit))
	}
	if l.CVaRLimit > 0 && -c.CVaR > l.CVaRLimit {
		c.add(CodeCVaR, fmt.Sprintf("CVaR %.2f%% exceeds limit %.2f%%", -100*c.CVaR, 100*l.CVaRLimit))
	}
	if -c.MaxDrawdown > l.MaxDrawdownLimit {
		c.add(CodeDrawdown, fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", -100*c.MaxDrawdown, 100*l.MaxDrawdownLimit))
	}
	if c.Exposure > l.MaxPortfolioExposure {
		c.add(CodeExposure, fmt.Sprintf("exposure %.2f%% exceeds limit %.2f%%", 100*c.Exposure, 100*l.MaxPortfolioExposure))
	}
	return c
}
