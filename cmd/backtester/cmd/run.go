package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/backtester/backtest"
	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/logger"
	"github.com/rustyeddy/backtester/metrics"
	"github.com/rustyeddy/backtester/notify"
	"github.com/rustyeddy/backtester/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest from a config file",
	Long: `Run a backtest using settings from a configuration file and write the
run artifact (performance report, summary, trades and snapshots).

Interrupting the run writes a partial artifact for the days completed.

Example:
  backtester run -c backtest.yaml -o results/run.json --org results/run.org --chart results/equity.html`,
	RunE: runRun,
}

var (
	runOutput     string
	runOrgPath    string
	runChartPath  string
	runMetricsOut string
	runWebhook    string
	runHalveBuys  bool
	runQuiet      bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOutput, "output", "o", "artifact.json", "artifact path (.json or .yaml)")
	runCmd.Flags().StringVar(&runOrgPath, "org", "", "also write an org-mode summary to this path")
	runCmd.Flags().StringVar(&runChartPath, "chart", "", "also write an HTML equity chart to this path")
	runCmd.Flags().StringVar(&runMetricsOut, "metrics", "", "write prometheus metrics in text format to this path")
	runCmd.Flags().StringVar(&runWebhook, "webhook", "", "POST run events as JSON to this URL")
	runCmd.Flags().BoolVar(&runHalveBuys, "halve-on-violation", false, "halve buys instead of blocking them while a risk limit is violated")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print the text report")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logRunConfig(log, cfg)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sink := eventSink(log, runWebhook)
	defer sink.Close()

	opts := []backtest.Option{
		backtest.WithLogger(log),
		backtest.WithSink(sink),
		backtest.WithMetrics(m),
	}
	if runHalveBuys {
		opts = append(opts, backtest.WithViolationPolicy(backtest.HalveBuys))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, runErr := backtest.Run(ctx, cfg, opts...)
	if a == nil {
		return fmt.Errorf("backtest: %w", runErr)
	}
	if err := writeOutputs(a, runOutput, runOrgPath, runChartPath); err != nil {
		return err
	}
	if runMetricsOut != "" {
		if err := prometheus.WriteToTextfile(runMetricsOut, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if !runQuiet {
		report.WriteText(cmd.OutOrStdout(), a)
		fmt.Fprintf(cmd.OutOrStdout(), "\nArtifact saved to: %s\n", runOutput)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// eventSink logs every event and optionally forwards it to a webhook,
// off the simulation goroutine.
func eventSink(log logger.Logger, webhook string) *notify.Async {
	sinks := notify.Multi{notify.LogSink{Log: log}}
	if webhook != "" {
		sinks = append(sinks, notify.NewWebhook(webhook))
	}
	return notify.NewAsync(sinks, 1024)
}

func writeOutputs(a *report.Artifact, out, org, chart string) error {
	if out != "" {
		if err := report.Save(out, a); err != nil {
			return err
		}
	}
	if chart != "" {
		if err := writeFile(chart, func(f *os.File) error { return report.RenderEquityChart(f, a) }); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	if org != "" {
		if err := writeFile(org, func(f *os.File) error { return report.WriteOrg(f, a, chart) }); err != nil {
			return fmt.Errorf("write org: %w", err)
		}
	}
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func logRunConfig(log logger.Logger, cfg *config.Config) {
	log.Info("configuration loaded",
		zap.String("name", cfg.Run.Name),
		zap.String("source", cfg.Data.Source),
		zap.String("regime", cfg.Regime.Kind),
		zap.Strings("agents", cfg.AgentIDs()),
		zap.Float64("threshold", cfg.Ensemble.Threshold),
	)
}
