package cmd

import (
	"fmt"
	"os"

	"github.com/rustyeddy/backtester/report"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render saved run artifacts",
	Long: `Render a saved run artifact.

Subcommands:
  show     - Print the text report
  org      - Write an org-mode summary
  chart    - Write an HTML equity and drawdown chart
  validate - Check an artifact against its schema

Examples:
  backtester report show artifact.json
  backtester report org artifact.json -o run.org --chart equity.html`,
}

var reportShowCmd = &cobra.Command{
	Use:   "show <artifact>",
	Short: "Print the text report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

var reportOrgCmd = &cobra.Command{
	Use:   "org <artifact>",
	Short: "Write an org-mode summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportOrg,
}

var reportChartCmd = &cobra.Command{
	Use:   "chart <artifact>",
	Short: "Write an HTML equity chart",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportChart,
}

var reportValidateCmd = &cobra.Command{
	Use:   "validate <artifact>",
	Short: "Check an artifact against its schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportValidate,
}

var (
	reportOutput string
	reportChart  string
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportShowCmd, reportOrgCmd, reportChartCmd, reportValidateCmd)

	reportOrgCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "output path (default stdout)")
	reportOrgCmd.Flags().StringVar(&reportChart, "chart", "", "link this chart file from the summary")
	reportChartCmd.Flags().StringVarP(&reportOutput, "output", "o", "equity.html", "output HTML path")
}

func runReportShow(cmd *cobra.Command, args []string) error {
	a, err := report.Load(args[0])
	if err != nil {
		return err
	}
	report.WriteText(cmd.OutOrStdout(), a)
	return nil
}

func runReportOrg(cmd *cobra.Command, args []string) error {
	a, err := report.Load(args[0])
	if err != nil {
		return err
	}
	if reportOutput == "" {
		return report.WriteOrg(cmd.OutOrStdout(), a, reportChart)
	}
	if err := writeFile(reportOutput, func(f *os.File) error { return report.WriteOrg(f, a, reportChart) }); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s\n", reportOutput)
	return nil
}

func runReportChart(cmd *cobra.Command, args []string) error {
	a, err := report.Load(args[0])
	if err != nil {
		return err
	}
	if err := writeFile(reportOutput, func(f *os.File) error { return report.RenderEquityChart(f, a) }); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s\n", reportOutput)
	return nil
}

func runReportValidate(cmd *cobra.Command, args []string) error {
	a, err := report.Load(args[0])
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Printf("✓ Artifact valid: %s (run %s, %s, %d trades)\n", args[0], a.Run.ID, a.Run.Status, len(a.Trades))
	return nil
}
