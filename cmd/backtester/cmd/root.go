package cmd

import (
	"context"
	"fmt"

	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "backtester",
	Short: "A multi-signal equity backtester",
	Long: `Backtester replays daily price history through a set of signal agents,
a regime-aware ensemble and a risk manager into a simulated portfolio.

It provides tools for:
  - Running a backtest from a configuration file
  - Sweeping thresholds and seeds in parallel
  - Rendering reports, org summaries and equity charts
  - Generating and caching price history
  - Browsing journals and the run catalog

Settings come from the config file and BACKTEST_* environment variables.`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// loadConfig reads the config named by --config and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.NewZapLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}
