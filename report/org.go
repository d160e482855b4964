package report

import (
	"fmt"
	"io"
	"strings"
	"text/template"
)

var orgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"day":    day,
	"join":   strings.Join,
}

var orgTemplate = template.Must(template.New("backtest").Funcs(orgFuncs).Parse(OrgTemplate))

type orgView struct {
	*Artifact
	Chart string
	Notes []string
}

// WriteOrg renders a as an org-mode entry. chart, when set, is linked
// as the equity curve.
func WriteOrg(w io.Writer, a *Artifact, chart string) error {
	v := orgView{Artifact: a, Chart: chart, Notes: Observations(a)}
	if err := orgTemplate.Execute(w, v); err != nil {
		return fmt.Errorf("report: org: %w", err)
	}
	return nil
}

const OrgTemplate = `
* BACKTEST: {{if .Run.Name}}{{.Run.Name}}{{else}}ensemble{{end}} {{join .Run.Symbols " "}}
:PROPERTIES:
:RUN_ID:      {{.Run.ID}}
:STATUS:      {{.Run.Status}}
:SEED:        {{.Run.Seed}}
:START_DATE:  {{day .Run.Start}}
:END_DATE:    {{day .Run.End}}
:START_BAL:   {{printf "%.2f" .Run.InitialCapital}}
:END_BAL:     {{printf "%.2f" .Summary.FinalValue}}
:REALIZED_PL: {{printf "%.2f" .Summary.RealizedPnL}}
:RETURN_PCT:  {{printf "%.2f" (mul100 .Performance.TotalReturn)}}
:MAX_DD_PCT:  {{printf "%.2f" (mul100 .Performance.MaxDrawdown)}}
:TRADES:      {{.Performance.TradeCount}}
:WINS:        {{.Summary.Wins}}
:LOSSES:      {{.Summary.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .Performance.WinRate)}}
:PROFIT_FAC:  {{if ne .Summary.ProfitFactor 0.0}}{{printf "%.2f" .Summary.ProfitFactor}}{{else}}(none){{end}}
:END:

** Performance Summary
| Metric        | Value |
|---------------+-------|
| Total Return  | {{printf "%.2f%%" (mul100 .Performance.TotalReturn)}} |
| Annualized    | {{printf "%.2f%%" (mul100 .Performance.AnnualReturn)}} |
| Sharpe        | {{printf "%.2f" .Performance.Sharpe}} |
| Sortino       | {{printf "%.2f" .Performance.Sortino}} |
| Max Drawdown  | {{printf "%.2f%%" (mul100 .Performance.MaxDrawdown)}} |
| VaR 95        | {{printf "%.2f%%" (mul100 .Performance.VaR95)}} |
| CVaR 95       | {{printf "%.2f%%" (mul100 .Performance.CVaR95)}} |

** Equity Curve
{{- if .Chart }}
[[file:{{.Chart}}]]
{{- else }}
# render with: backtester report chart
{{- end }}

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Buys    | {{.Summary.Buys}} |
| Wins    | {{.Summary.Wins}} |
| Losses  | {{.Summary.Losses}} |
| Total   | {{.Performance.TradeCount}} |

{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
