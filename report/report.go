// Package report computes run analytics and persists the run artifact.
package report

import (
	"math"
	"time"

	"github.com/rustyeddy/backtester/ledger"
	"github.com/rustyeddy/backtester/risk"
)

// PerformanceReport is computed once at the end of a run. Drawdown, VaR
// and CVaR are returns, so losses are negative.
type PerformanceReport struct {
	TotalReturn  float64 `json:"total_return" yaml:"total_return"`
	AnnualReturn float64 `json:"annual_return" yaml:"annual_return"`
	Sharpe       float64 `json:"sharpe" yaml:"sharpe"`
	Sortino      float64 `json:"sortino" yaml:"sortino"`
	MaxDrawdown  float64 `json:"max_drawdown" yaml:"max_drawdown"`
	VaR95        float64 `json:"var_95" yaml:"var_95"`
	CVaR95       float64 `json:"cvar_95" yaml:"cvar_95"`
	WinRate      float64 `json:"win_rate" yaml:"win_rate"`
	TradeCount   int     `json:"trade_count" yaml:"trade_count"`
}

// Compute derives the report from the full snapshot and trade history.
func Compute(initial float64, snaps []ledger.Snapshot, trades []ledger.Trade) PerformanceReport {
	r := PerformanceReport{TradeCount: len(trades)}
	if len(snaps) > 0 && initial > 0 {
		r.TotalReturn = snaps[len(snaps)-1].TotalValue/initial - 1
	}

	rets := risk.DailyReturns(snaps)
	if n := len(rets); n > 0 && 1+r.TotalReturn > 0 {
		r.AnnualReturn = math.Pow(1+r.TotalReturn, float64(risk.TradingDays)/float64(n)) - 1
	}
	r.Sharpe = risk.Sharpe(rets)
	r.Sortino = risk.Sortino(rets)
	r.MaxDrawdown = risk.MaxDrawdown(risk.Values(snaps))
	if len(rets) > 0 {
		r.VaR95 = risk.VaR(rets, 0.95)
		r.CVaR95 = risk.CVaR(rets, 0.95)
	}

	s := Summarize(trades)
	if s.Sells > 0 {
		r.WinRate = float64(s.Wins) / float64(s.Sells)
	}
	return r
}

// RegimeChange marks the first rebalance day of a new regime.
type RegimeChange struct {
	Date  time.Time `json:"date" yaml:"date"`
	Label string    `json:"label" yaml:"label"`
}

// Summary is the trading activity of a run.
type Summary struct {
	Buys            int            `json:"buys" yaml:"buys"`
	Sells           int            `json:"sells" yaml:"sells"`
	BuyAmount       float64        `json:"buy_amount" yaml:"buy_amount"`
	SellAmount      float64        `json:"sell_amount" yaml:"sell_amount"`
	RealizedPnL     float64        `json:"realized_pnl" yaml:"realized_pnl"`
	Wins            int            `json:"wins" yaml:"wins"`
	Losses          int            `json:"losses" yaml:"losses"`
	ProfitFactor    float64        `json:"profit_factor" yaml:"profit_factor"`
	ProtectiveExits int            `json:"protective_exits" yaml:"protective_exits"`
	Rejected        int            `json:"rejected" yaml:"rejected"`
	DataGaps        int            `json:"data_gaps" yaml:"data_gaps"`
	Violations      int            `json:"violations" yaml:"violations"`
	FinalValue      float64        `json:"final_value" yaml:"final_value"`
	BenchmarkReturn float64        `json:"benchmark_return" yaml:"benchmark_return"`
	Regimes         []RegimeChange `json:"regimes" yaml:"regimes"`
}

// Summarize counts fills and realized profit. Fields the ledger does not
// know about are left zero.
func Summarize(trades []ledger.Trade) Summary {
	var (
		s           Summary
		gross, loss float64
	)
	for _, t := range trades {
		switch t.Side {
		case ledger.Buy:
			s.Buys++
			s.BuyAmount += t.GrossAmount
		case ledger.Sell:
			s.Sells++
			s.SellAmount += t.GrossAmount
			s.RealizedPnL += t.RealizedPnL
			switch {
			case t.RealizedPnL > 0:
				s.Wins++
				gross += t.RealizedPnL
			case t.RealizedPnL < 0:
				s.Losses++
				loss -= t.RealizedPnL
			}
			if t.Reason == risk.ExitStopLoss || t.Reason == risk.ExitTakeProfit {
				s.ProtectiveExits++
			}
		}
	}
	if loss > 0 {
		s.ProfitFactor = gross / loss
	}
	return s
}

// Run describes the run an artifact came from.
type Run struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Status         string    `json:"status" yaml:"status"`
	Start          time.Time `json:"start" yaml:"start"`
	End            time.Time `json:"end" yaml:"end"`
	Symbols        []string  `json:"symbols" yaml:"symbols"`
	Seed           int64     `json:"seed" yaml:"seed"`
	InitialCapital float64   `json:"initial_capital" yaml:"initial_capital"`
}

// Artifact is the persisted result of a run.
type Artifact struct {
	Run         Run               `json:"run" yaml:"run"`
	Performance PerformanceReport `json:"performance" yaml:"performance"`
	Summary     Summary           `json:"summary" yaml:"summary"`
	Trades      []ledger.Trade    `json:"trades" yaml:"trades"`
	Snapshots   []ledger.Snapshot `json:"snapshots" yaml:"snapshots"`
}

// Equity returns dates and total values for plotting.
func (a *Artifact) Equity() ([]time.Time, []float64) {
	dates := make([]time.Time, len(a.Snapshots))
	for i, s := range a.Snapshots {
		dates[i] = s.Date
	}
	return dates, risk.Values(a.Snapshots)
}
