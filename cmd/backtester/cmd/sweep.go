package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	"github.com/rustyeddy/backtester/backtest"
	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/report"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a grid of thresholds and seeds in parallel",
	Long: `Sweep clones the loaded configuration once per (threshold, seed) pair,
runs every clone concurrently and prints one result line per run.

Example:
  backtester sweep -c backtest.yaml --thresholds 0.2,0.3,0.4 --seeds 1,2,3 --out results/`,
	RunE: runSweep,
}

var (
	sweepThresholds []float64
	sweepSeeds      []int64
	sweepWorkers    int
	sweepOutDir     string
)

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().Float64SliceVar(&sweepThresholds, "thresholds", nil, "ensemble thresholds to try (default: the configured one)")
	sweepCmd.Flags().Int64SliceVar(&sweepSeeds, "seeds", nil, "run seeds to try (default: the configured one)")
	sweepCmd.Flags().IntVarP(&sweepWorkers, "workers", "w", 4, "runs in flight at once")
	sweepCmd.Flags().StringVar(&sweepOutDir, "out", "", "write each artifact into this directory")
}

// sweepConfigs expands base over every threshold and seed.
func sweepConfigs(base *config.Config, thresholds []float64, seeds []int64) []*config.Config {
	if len(thresholds) == 0 {
		thresholds = []float64{base.Ensemble.Threshold}
	}
	if len(seeds) == 0 {
		seeds = []int64{base.Run.Seed}
	}
	var out []*config.Config
	for _, th := range thresholds {
		for _, seed := range seeds {
			c := base.Clone()
			c.Ensemble.Threshold = th
			c.Run.Seed = seed
			c.Run.Name = fmt.Sprintf("%s-t%.2f-s%d", base.Run.Name, th, seed)
			// a shared journal file would interleave runs
			c.Journal.Type = config.JournalNone
			out = append(out, c)
		}
	}
	return out
}

func runSweep(cmd *cobra.Command, args []string) error {
	base, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(base)
	if err != nil {
		return err
	}
	cfgs := sweepConfigs(base, sweepThresholds, sweepSeeds)
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.Run.Name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Sweeping %d runs with %d workers\n\n", len(cfgs), sweepWorkers)
	results, err := backtest.Sweep(ctx, nil, cfgs, sweepWorkers, backtest.WithLogger(log))
	if err != nil {
		return err
	}

	if sweepOutDir != "" {
		if err := os.MkdirAll(sweepOutDir, 0755); err != nil {
			return err
		}
		for _, a := range results {
			if err := report.Save(filepath.Join(sweepOutDir, a.Run.Name+".json"), a); err != nil {
				return err
			}
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRETURN\tSHARPE\tMAX DD\tTRADES\tWIN RATE")
	for _, a := range results {
		p := a.Performance
		fmt.Fprintf(tw, "%s\t%.2f%%\t%.2f\t%.2f%%\t%d\t%.1f%%\n",
			a.Run.Name, p.TotalReturn*100, p.Sharpe, p.MaxDrawdown*100, p.TradeCount, p.WinRate*100)
	}
	return tw.Flush()
}
