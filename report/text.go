package report

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/backtester/market"
)

const rule = "--------------------------------------------------"

// WriteText prints a human readable summary of a.
func WriteText(w io.Writer, a *Artifact) {
	p, s := a.Performance, a.Summary

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", a.Run.ID)
	if a.Run.Name != "" {
		fmt.Fprintf(w, "Name:          %s\n", a.Run.Name)
	}
	fmt.Fprintf(w, "Status:        %s\n", a.Run.Status)
	fmt.Fprintf(w, "Symbols:       %v\n", a.Run.Symbols)
	fmt.Fprintf(w, "Seed:          %d\n", a.Run.Seed)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Start:         %s\n", a.Run.Start.Format(market.DateLayout))
	fmt.Fprintf(w, "End:           %s\n", a.Run.End.Format(market.DateLayout))
	fmt.Fprintf(w, "Trading Days:  %d\n", len(a.Snapshots))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Trades:        %d (%d buys, %d sells)\n", p.TradeCount, s.Buys, s.Sells)
	fmt.Fprintf(w, "Wins:          %d\n", s.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", s.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", p.WinRate*100)
	if s.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", s.ProfitFactor)
	}
	fmt.Fprintf(w, "Stops/Targets: %d\n", s.ProtectiveExits)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Start Balance: %.2f\n", a.Run.InitialCapital)
	fmt.Fprintf(w, "End Balance:   %.2f\n", s.FinalValue)
	fmt.Fprintf(w, "Realized P/L:  %.2f\n", s.RealizedPnL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", p.TotalReturn*100)
	fmt.Fprintf(w, "Annualized:    %.2f%%\n", p.AnnualReturn*100)
	if s.BenchmarkReturn != 0 {
		fmt.Fprintf(w, "Benchmark:     %.2f%%\n", s.BenchmarkReturn*100)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Risk")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", p.Sharpe)
	fmt.Fprintf(w, "Sortino:       %.2f\n", p.Sortino)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", p.MaxDrawdown*100)
	fmt.Fprintf(w, "VaR 95:        %.2f%%\n", p.VaR95*100)
	fmt.Fprintf(w, "CVaR 95:       %.2f%%\n", p.CVaR95*100)

	if notes := Observations(a); len(notes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Observations")
		fmt.Fprintln(w, rule)
		for _, note := range notes {
			fmt.Fprintf(w, "- %s\n", note)
		}
	}

	fmt.Fprintln(w)
}

// Observations lists the notable events of a run in a fixed order.
func Observations(a *Artifact) []string {
	var notes []string
	s := a.Summary
	if a.Run.Status == StatusPartial {
		notes = append(notes, "run was cancelled; results cover a partial period")
	}
	if s.DataGaps > 0 {
		notes = append(notes, fmt.Sprintf("%d missing bars were filled with the previous close", s.DataGaps))
	}
	if s.Violations > 0 {
		notes = append(notes, fmt.Sprintf("risk limits were breached on %d rebalance days", s.Violations))
	}
	if s.Rejected > 0 {
		notes = append(notes, fmt.Sprintf("%d orders were rejected", s.Rejected))
	}
	for _, rc := range s.Regimes {
		notes = append(notes, fmt.Sprintf("regime %s from %s", rc.Label, rc.Date.Format(market.DateLayout)))
	}
	if p := a.Performance; p.TradeCount == 0 {
		notes = append(notes, "no trades were executed")
	}
	return notes
}

func day(t time.Time) string { return t.Format(market.DateLayout) }
