// Package metrics exposes run counters through Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is registered on a caller-supplied registry so concurrent runs
// do not share counters.
type Metrics struct {
	Trades      *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	Violations  *prometheus.CounterVec
	DataGaps    prometheus.Counter
	Days        prometheus.Counter
	Equity      prometheus.Gauge
	RunDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_trades_total",
				Help: "Executed fills by side.",
			},
			[]string{"side"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_rejected_orders_total",
				Help: "Orders the ledger refused, by reason.",
			},
			[]string{"reason"},
		),
		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtester_limit_violations_total",
				Help: "Risk limit violations by code.",
			},
			[]string{"code"},
		),
		DataGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_data_gaps_total",
			Help: "Trading days with a missing bar for some symbol.",
		}),
		Days: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_days_total",
			Help: "Trading days simulated.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtester_equity",
			Help: "Total portfolio value at the last snapshot.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_run_duration_seconds",
			Help:    "Wall time of completed runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Trades, m.Rejections, m.Violations, m.DataGaps, m.Days, m.Equity, m.RunDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Unregistered returns metrics that are collected nowhere.
func Unregistered() *Metrics {
	m, _ := New(nil)
	return m
}
