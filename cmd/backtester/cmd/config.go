package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/regime"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write a starter backtest config or check an existing one",
	Long: `Backtest configs are YAML or JSON files. Every key can be overridden
with a BACKTEST_ environment variable, e.g. BACKTEST_ENSEMBLE_THRESHOLD=0.4.

Subcommands:
  init     - Write the default run: synthetic prices, rule regime, all four agents
  validate - Load a config the way 'run' does and print the effective settings

Examples:
  backtester config init -o backtest.yaml --symbols AAPL,MSFT --source csv --data ./bars
  backtester config validate -f backtest.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default backtest config",
	Long: `Write the default run to a file. The symbol list and price source can be
set here; everything else is left at its default for editing.

Example:
  backtester config init -o backtest.yaml --symbols AAPL,MSFT,SPY --start 2023-01-02 --end 2023-12-29`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a backtest config and show its risk limits and weights",
	Long: `Load a config with the same precedence as 'run' (file, then environment)
and validate it: dates, symbols, cost rates, risk limits and that each
regime's agent weights sum to 1. On success the effective risk limits
and the regime weight table are printed.

Example:
  backtester config validate -f backtest.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configInitForce    bool
	configInitSymbols  []string
	configInitSource   string
	configInitData     string
	configInitStart    string
	configInitEnd      string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	f := configInitCmd.Flags()
	f.StringVarP(&configInitOutput, "output", "o", "backtest.yaml", "output config file path (.yaml or .json)")
	f.BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	f.StringSliceVar(&configInitSymbols, "symbols", nil, "traded symbols (default: the built-in synthetic universe)")
	f.StringVar(&configInitSource, "source", config.SourceSynthetic, "price source: synthetic, csv or sqlite")
	f.StringVar(&configInitData, "data", "", "CSV directory or SQLite bar store for csv/sqlite sources")
	f.StringVar(&configInitStart, "start", "", "first trading day, YYYY-MM-DD")
	f.StringVar(&configInitEnd, "end", "", "last trading day, YYYY-MM-DD")

	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

// initConfig is the default config with the init flags applied.
func initConfig() (*config.Config, error) {
	cfg := config.Default()
	if len(configInitSymbols) > 0 {
		cfg.Run.Symbols = configInitSymbols
	}
	if configInitStart != "" {
		cfg.Run.Start = configInitStart
	}
	if configInitEnd != "" {
		cfg.Run.End = configInitEnd
	}
	cfg.Data.Source = configInitSource
	if configInitData != "" {
		cfg.Data.Path = configInitData
	}
	if cfg.Data.Source != config.SourceSynthetic && cfg.Data.Path == "" {
		return nil, fmt.Errorf("--data is required for the %s source", cfg.Data.Source)
	}
	return cfg, cfg.Validate()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if !configInitForce {
		if _, err := os.Stat(configInitOutput); err == nil {
			return fmt.Errorf("%s exists, use --force to overwrite", configInitOutput)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	cfg, err := initConfig()
	if err != nil {
		return err
	}
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Wrote %s (%d symbols, %s prices, %s..%s)\n",
		configInitOutput, len(cfg.Run.Symbols), cfg.Data.Source, cfg.Run.Start, cfg.Run.End)
	fmt.Fprintf(out, "\nRun it with:\n  backtester run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	return writeConfigSummary(out, cfg)
}

// writeConfigSummary prints the run settings, the risk limits and the
// regime weight table.
func writeConfigSummary(w io.Writer, cfg *config.Config) error {
	fmt.Fprintf(w, "  Period:  %s to %s, rebalance every %d days, %d lookback days\n",
		cfg.Run.Start, cfg.Run.End, cfg.Run.RebalanceInterval, cfg.Run.LookbackDays)
	fmt.Fprintf(w, "  Symbols: %s", strings.Join(cfg.Run.Symbols, ","))
	if cfg.Run.Benchmark != "" {
		fmt.Fprintf(w, " (benchmark %s)", cfg.Run.Benchmark)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Capital: $%.2f, reserve %.0f%%, costs %.2f%% + %.2f%% slippage\n",
		cfg.Account.InitialCapital, cfg.Account.CashReserve*100, cfg.Costs.Commission*100, cfg.Costs.Slippage*100)
	fmt.Fprintf(w, "  Data:    %s  Journal: %s  Regime: %s\n", cfg.Data.Source, cfg.Journal.Type, cfg.Regime.Kind)

	r := cfg.Risk
	fmt.Fprintln(w, "\nRisk limits:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  max position\t%.1f%%\n", r.MaxPositionFraction*100)
	fmt.Fprintf(tw, "  max exposure\t%.1f%%\n", r.MaxPortfolioExposure*100)
	fmt.Fprintf(tw, "  max drawdown\t%.1f%%\n", r.MaxDrawdownLimit*100)
	fmt.Fprintf(tw, "  VaR limit\t%.2f%%\n", r.VaRLimit*100)
	fmt.Fprintf(tw, "  stop / target\t%.1f%% / %.1f%%\n", r.StopLossPct*100, r.TakeProfitPct*100)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nEnsemble (threshold %.2f):\n", cfg.Ensemble.Threshold)
	if len(cfg.Ensemble.Weights) == 0 {
		fmt.Fprintln(w, "  equal weights")
		return nil
	}
	ids := cfg.AgentIDs()
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  REGIME\t%s\n", strings.ToUpper(strings.Join(ids, "\t")))
	for _, label := range regime.Labels {
		ws, ok := cfg.Ensemble.Weights[string(label)]
		if !ok {
			continue
		}
		cells := make([]string, len(ids))
		for i, id := range ids {
			cells[i] = fmt.Sprintf("%.2f", ws[id])
		}
		fmt.Fprintf(tw, "  %s\t%s\n", label, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
