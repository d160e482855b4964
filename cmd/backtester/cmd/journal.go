package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/backtester/journal"
	"github.com/rustyeddy/backtester/ledger"
	"github.com/rustyeddy/backtester/market"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display records from a SQLite trade journal.

Subcommands:
  trade  - Get details of a specific trade by ID
  trades - List the trades of a run, optionally within dates
  stats  - Realized profit statistics of a run

Examples:
  backtester journal trade <trade-id> --run <run-id>
  backtester journal trades --run <run-id> --from 2023-03-01 --to 2023-03-31
  backtester journal stats --run <run-id>`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List trades of a run",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show realized profit statistics",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var (
	journalDBPath string
	journalRunID  string
	journalFrom   string
	journalTo     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd, journalTradesCmd, journalStatsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./backtest.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVar(&journalRunID, "run", "", "run id (required)")
	journalCmd.MarkPersistentFlagRequired("run")
	journalTradesCmd.Flags().StringVar(&journalFrom, "from", "", "first day, YYYY-MM-DD")
	journalTradesCmd.Flags().StringVar(&journalTo, "to", "", "last day, YYYY-MM-DD")
}

func openJournal() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(journalDBPath, journalRunID)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	t, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Printf("Trade ID:     %s\n", t.ID)
	fmt.Printf("Date:         %s\n", t.Timestamp.Format(market.DateLayout))
	fmt.Printf("Symbol:       %s\n", t.Symbol)
	fmt.Printf("Side:         %s\n", t.Side)
	fmt.Printf("Quantity:     %.0f\n", t.Quantity)
	fmt.Printf("Fill Price:   %.4f\n", t.FillPrice)
	fmt.Printf("Gross:        $%.2f\n", t.GrossAmount)
	fmt.Printf("Cash After:   $%.2f\n", t.CashAfter)
	if t.Side == ledger.Sell {
		fmt.Printf("Realized P/L: $%.2f\n", t.RealizedPnL)
	}
	if t.Reason != "" {
		fmt.Printf("Reason:       %s\n", t.Reason)
	}
	return nil
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	var trades []ledger.Trade
	if journalFrom == "" && journalTo == "" {
		trades, err = j.ListTrades()
	} else {
		var from, to time.Time
		if from, err = parseOptionalDay(journalFrom, time.Time{}); err != nil {
			return err
		}
		if to, err = parseOptionalDay(journalTo, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)); err != nil {
			return err
		}
		trades, err = j.ListTradesBetween(from, to.AddDate(0, 0, 1))
	}
	if err != nil {
		return fmt.Errorf("list trades: %w", err)
	}

	if len(trades) == 0 {
		fmt.Println("No trades found")
		return nil
	}
	fmt.Printf("Found %d trade(s):\n\n", len(trades))
	for _, t := range trades {
		fmt.Printf("%s  %-4s %-6s %8.0f @ %10.4f  cash %12.2f  pnl %10.2f  %s\n",
			t.Timestamp.Format(market.DateLayout), t.Side, t.Symbol, t.Quantity, t.FillPrice, t.CashAfter, t.RealizedPnL, t.Reason)
	}
	return nil
}

func parseOptionalDay(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return market.ParseDay(s)
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	s, err := j.PnLStats()
	if err != nil {
		return err
	}
	fmt.Printf("Sells:         %d\n", s.Sells)
	fmt.Printf("Wins:          %d\n", s.Wins)
	fmt.Printf("Losses:        %d\n", s.Losses)
	fmt.Printf("Gross Profit:  $%.2f\n", s.GrossProfit)
	fmt.Printf("Gross Loss:    $%.2f\n", s.GrossLoss)
	fmt.Printf("Profit Factor: %.2f\n", s.ProfitFactor)
	return nil
}
