package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/rustyeddy/backtester/journal"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse the run catalog",
	Long: `Query runs saved to the catalog (journal.run_store in the config).

Examples:
  backtester runs list --db runs.db
  backtester runs show <run-id> --db runs.db
  backtester runs delete <run-id> --db runs.db`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Remove a run from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var (
	runsDBPath string
	runsLimit  int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)

	runsCmd.PersistentFlags().StringVarP(&runsDBPath, "db", "d", "runs.db", "path to the run catalog")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
}

func openRuns() (*journal.RunStore, error) {
	s, err := journal.OpenRunStore(runsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open run catalog: %w", err)
	}
	return s, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	s, err := openRuns()
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.List(context.Background(), runsLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTATUS\tPERIOD\tSYMBOLS\tRETURN\tSHARPE\tMAX DD\tTRADES")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%s\t%.2f%%\t%.2f\t%.2f%%\t%d\n",
			r.RunID, r.Status, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.Symbols,
			r.TotalReturn*100, r.Sharpe, r.MaxDrawdown*100, r.TradeCount)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	s, err := openRuns()
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Run:          %s (%s)\n", r.RunID, r.Status)
	fmt.Printf("Created:      %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Period:       %s to %s\n", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	fmt.Printf("Symbols:      %s\n", r.Symbols)
	fmt.Printf("Final Value:  $%.2f\n", r.FinalValue)
	fmt.Printf("Return:       %.2f%%\n", r.TotalReturn*100)
	fmt.Printf("Sharpe:       %.2f\n", r.Sharpe)
	fmt.Printf("Max Drawdown: %.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("Trades:       %d\n", r.TradeCount)
	fmt.Printf("\nPerformance:\n%s\n", r.Report.String())
	fmt.Printf("\nConfig:\n%s\n", r.Config.String())
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	s, err := openRuns()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted run %s\n", args[0])
	return nil
}
