package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderEquityChart writes an HTML page with the equity curve, the
// cash line and the drawdown series of a.
func RenderEquityChart(w io.Writer, a *Artifact) error {
	if len(a.Snapshots) == 0 {
		return fmt.Errorf("report: no snapshots to chart")
	}

	dates := make([]string, len(a.Snapshots))
	equity := make([]opts.LineData, len(a.Snapshots))
	cash := make([]opts.LineData, len(a.Snapshots))
	dd := make([]opts.LineData, len(a.Snapshots))
	peak := 0.0
	for i, s := range a.Snapshots {
		dates[i] = day(s.Date)
		equity[i] = opts.LineData{Value: s.TotalValue}
		cash[i] = opts.LineData{Value: s.Cash}
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
		v := 0.0
		if peak > 0 {
			v = (s.TotalValue/peak - 1) * 100
		}
		dd[i] = opts.LineData{Value: v}
	}

	value := charts.NewLine()
	value.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Backtest " + a.Run.ID, Width: "1200px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Portfolio value", Subtitle: a.Run.ID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	value.SetXAxis(dates).
		AddSeries("total_value", equity).
		AddSeries("cash", cash)
	value.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	drawdown := charts.NewLine()
	drawdown.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "240px"}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	drawdown.SetXAxis(dates).AddSeries("drawdown", dd,
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}))
	drawdown.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.AddCharts(value, drawdown)
	return page.Render(w)
}
