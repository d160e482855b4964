package config

import (
	"math"
	"sort"

	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/ensemble"
	"github.com/rustyeddy/backtester/market"
)

// Validate reports the first problem as a *Error wrapping ErrConfiguration.
func (c *Config) Validate() error {
	start, err := market.ParseDay(c.Run.Start)
	if err != nil {
		return fieldErr("run.start", "%v", err)
	}
	end, err := market.ParseDay(c.Run.End)
	if err != nil {
		return fieldErr("run.end", "%v", err)
	}
	if !start.Before(end) {
		return fieldErr("run.start", "must be before run.end")
	}
	if len(c.Run.Symbols) == 0 {
		return fieldErr("run.symbols", "at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Run.Symbols))
	for _, s := range c.Run.Symbols {
		if s == "" {
			return fieldErr("run.symbols", "empty symbol")
		}
		if seen[s] {
			return fieldErr("run.symbols", "duplicate symbol %q", s)
		}
		seen[s] = true
	}
	if c.Run.RebalanceInterval < 1 {
		return fieldErr("run.rebalance_interval", "must be at least 1, got %d", c.Run.RebalanceInterval)
	}
	if c.Run.LookbackDays < 0 {
		return fieldErr("run.lookback_days", "must not be negative")
	}
	if c.Run.Workers < 0 {
		return fieldErr("run.workers", "must not be negative")
	}
	if _, err := market.ParseHolidays(c.Run.Holidays); err != nil {
		return fieldErr("run.holidays", "%v", err)
	}

	if !(c.Account.InitialCapital > 0) || math.IsInf(c.Account.InitialCapital, 0) {
		return fieldErr("account.initial_capital", "must be positive")
	}
	if c.Account.CashReserve < 0 || c.Account.CashReserve >= 1 {
		return fieldErr("account.cash_reserve", "must be in [0, 1)")
	}

	if !(c.Costs.Commission > 0) {
		return fieldErr("costs.commission", "must be positive, got %v", c.Costs.Commission)
	}
	if c.Costs.Slippage < 0 {
		return fieldErr("costs.slippage", "must not be negative, got %v", c.Costs.Slippage)
	}
	if c.Costs.Commission+c.Costs.Slippage >= 1 {
		return fieldErr("costs", "commission plus slippage must be below 1")
	}

	if err := c.Risk.Validate(); err != nil {
		return fieldErr("risk", "%v", err)
	}

	if len(c.Agents) == 0 {
		return fieldErr("agents", "at least one agent is required")
	}
	for _, a := range c.Agents {
		if _, err := agents.New(a, agents.Deps{}); err != nil {
			return fieldErr("agents", "%v", err)
		}
	}
	if c.Ensemble.Threshold < 0 || c.Ensemble.Threshold >= 1 {
		return fieldErr("ensemble.threshold", "must be in [0, 1), got %v", c.Ensemble.Threshold)
	}
	if err := ensemble.ValidateTable(c.Ensemble.Weights, c.AgentIDs()); err != nil {
		return fieldErr("ensemble.weights", "%v", err)
	}
	if ad := c.Ensemble.Adaptation; ad.Enabled && (ad.LearningRate <= 0 || ad.Floor < 0 || ad.Floor >= 1) {
		return fieldErr("ensemble.adaptation", "needs learning_rate > 0 and floor in [0, 1)")
	}

	switch c.Regime.Kind {
	case RegimeGMM:
		if c.Regime.GMM.States < 2 || c.Regime.GMM.Window < 2 {
			return fieldErr("regime.gmm", "needs at least 2 states and a window of 2")
		}
	case RegimeRule:
		if c.Regime.Rule.BearReturn >= c.Regime.Rule.BullReturn {
			return fieldErr("regime.rule", "bear_return must be below bull_return")
		}
	default:
		return fieldErr("regime.kind", "unknown kind %q", c.Regime.Kind)
	}
	if c.Regime.RefitEvery < 0 {
		return fieldErr("regime.refit_every", "must not be negative")
	}

	switch c.Data.Source {
	case SourceSynthetic:
		if _, err := c.SyntheticOptions(); err != nil {
			return err
		}
		if g := c.Data.Synthetic.GapRate; g < 0 || g >= 1 {
			return fieldErr("data.synthetic.gap_rate", "must be in [0, 1)")
		}
	case SourceCSV, SourceSQLite:
		if c.Data.Path == "" {
			return fieldErr("data.path", "required for source %q", c.Data.Source)
		}
	default:
		return fieldErr("data.source", "unknown source %q", c.Data.Source)
	}

	switch c.Journal.Type {
	case "", JournalNone:
	case JournalCSV:
		if c.Journal.Dir == "" {
			return fieldErr("journal.dir", "required for csv journals")
		}
	case JournalSQLite:
		if c.Journal.DBPath == "" {
			return fieldErr("journal.db_path", "required for sqlite journals")
		}
	default:
		return fieldErr("journal.type", "must be none, csv or sqlite")
	}
	return nil
}

// AgentIDs resolves configured agent names to their ids, sorted and
// without duplicates.
func (c *Config) AgentIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, name := range c.Agents {
		a, err := agents.New(name, agents.Deps{})
		if err != nil || seen[a.ID()] {
			continue
		}
		seen[a.ID()] = true
		ids = append(ids, a.ID())
	}
	sort.Strings(ids)
	return ids
}
