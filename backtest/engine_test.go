package backtest

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/journal"
	"github.com/rustyeddy/backtester/ledger"
	"github.com/rustyeddy/backtester/logger"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/metrics"
	"github.com/rustyeddy/backtester/notify"
	"github.com/rustyeddy/backtester/report"
	"github.com/rustyeddy/backtester/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// origin is a Monday; weekday index 85 is 2023-01-02.
var origin = time.Date(2022, 9, 5, 0, 0, 0, 0, time.UTC)

const firstRunIndex = 85

func day(s string) time.Time {
	d, err := market.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// pathProvider serves weekday bars whose close is fn(symbol, weekday index).
// fn returning false leaves a gap.
func pathProvider(fn func(sym string, i int) (float64, bool)) market.Provider {
	return market.ProviderFunc(func(ctx context.Context, sym string, start, end time.Time) ([]market.Bar, error) {
		var bars []market.Bar
		i := 0
		for d := origin; !d.After(end); d = d.AddDate(0, 0, 1) {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			c, ok := fn(sym, i)
			i++
			if !ok || d.Before(start) {
				continue
			}
			bars = append(bars, market.Bar{Date: d, Open: c, High: c * 1.001, Low: c * 0.999, Close: c, Volume: 1000})
		}
		return bars, nil
	})
}

// wiggle alternates between base and base+1.
func wiggle(base float64) func(string, int) (float64, bool) {
	return func(_ string, i int) (float64, bool) { return base + float64(i%2), true }
}

// buyer always wants to buy.
type buyer struct{}

func (buyer) ID() string { return "buyer" }

func (buyer) Score(symbol string, ts time.Time, _ *agents.Context) agents.Signal {
	return agents.NewSignal("buyer", symbol, ts, 1, 1)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.Name = "test"
	cfg.Run.Start = "2023-01-02"
	cfg.Run.End = "2023-02-24"
	cfg.Run.Symbols = []string{"AAA"}
	cfg.Run.LookbackDays = 90
	cfg.Run.RebalanceInterval = 1
	cfg.Ensemble.Weights = nil
	cfg.Regime.Kind = config.RegimeRule
	return cfg
}

func tradingDays(t *testing.T, cfg *config.Config) []time.Time {
	t.Helper()
	cal, err := cfg.Calendar()
	require.NoError(t, err)
	start, _ := cfg.StartDate()
	end, _ := cfg.EndDate()
	return market.TradingDays(cal, start, end)
}

// checkInvariants verifies the accounting of a finished artifact.
func checkInvariants(t *testing.T, a *report.Artifact) {
	t.Helper()

	cash := a.Run.InitialCapital
	for _, tr := range a.Trades {
		require.GreaterOrEqual(t, tr.CashAfter, 0.0, tr.ID)
		require.Greater(t, tr.Quantity, 0.0, tr.ID)
		switch tr.Side {
		case ledger.Buy:
			cash -= tr.GrossAmount
		case ledger.Sell:
			cash += tr.GrossAmount
		}
		require.InDelta(t, cash, tr.CashAfter, 1e-6*a.Run.InitialCapital, tr.ID)
		cash = tr.CashAfter
	}

	held := map[string]float64{}
	for _, tr := range a.Trades {
		if tr.Side == ledger.Buy {
			held[tr.Symbol] += tr.Quantity
		} else {
			held[tr.Symbol] -= tr.Quantity
		}
		require.GreaterOrEqual(t, held[tr.Symbol], 0.0, tr.ID)
	}

	for i, s := range a.Snapshots {
		require.GreaterOrEqual(t, s.Cash, 0.0)
		require.Equal(t, s.Cash+s.PositionsValue, s.TotalValue)
		if i > 0 {
			require.True(t, s.Date.After(a.Snapshots[i-1].Date))
		}
	}
	if n := len(a.Snapshots); n > 0 {
		assert.Equal(t, a.Snapshots[n-1].TotalValue, a.Summary.FinalValue)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "snapshot_recorded", SnapshotRecorded.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestEngineStateTransitions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Run.End = "2023-01-04"
	cfg.Run.RebalanceInterval = 2

	var states []State
	e, err := NewEngine(cfg,
		WithProvider(pathProvider(wiggle(100))),
		WithAgents(buyer{}),
		WithStateHook(func(s State) { states = append(states, s) }),
	)
	require.NoError(t, err)
	assert.Equal(t, Idle, e.State())

	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{
		Running, RebalanceDue, AgentsEvaluated, OrdersResolved, SnapshotRecorded,
		Running, SnapshotRecorded,
		Running, RebalanceDue, AgentsEvaluated, OrdersResolved, SnapshotRecorded,
		Finished,
	}, states)
	assert.Equal(t, Finished, e.State())

	_, err = e.Run(context.Background())
	assert.Error(t, err, "engines are single use")
}

func TestEngineSkipsHolidays(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Run.End = "2023-01-06"
	e, err := NewEngine(cfg,
		WithProvider(pathProvider(wiggle(100))),
		WithAgents(buyer{}),
		WithCalendar(market.NewCalendar(day("2023-01-03"))),
	)
	require.NoError(t, err)

	a, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Snapshots, 4)
	for _, s := range a.Snapshots {
		assert.NotEqual(t, day("2023-01-03"), s.Date)
	}
}

func TestNewEngineErrors(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")

	cfg := testConfig()
	cfg.Costs.Commission = 0
	_, err = NewEngine(cfg, WithProvider(pathProvider(wiggle(100))))
	assert.ErrorIs(t, err, config.ErrConfiguration)

	_, err = Run(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	// weights naming agents that are not running
	cfg = testConfig()
	cfg.Ensemble.Weights = config.Default().Ensemble.Weights
	_, err = NewEngine(cfg, WithProvider(pathProvider(wiggle(100))), WithAgents(buyer{}))
	assert.Error(t, err)
}

func TestRunBuysAndTakesProfit(t *testing.T) {
	t.Parallel()

	jump := firstRunIndex + 5 // 2023-01-09
	p := pathProvider(func(_ string, i int) (float64, bool) {
		if i >= jump {
			return 115 + float64(i%2), true
		}
		return 100 + float64(i%2), true
	})
	sink := &notify.Recorder{}
	mem := journal.NewMemory()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := testConfig()
	a, err := Run(context.Background(), cfg,
		WithProvider(p), WithAgents(buyer{}), WithSink(sink), WithJournal(mem), WithMetrics(m))
	require.NoError(t, err)
	checkInvariants(t, a)

	require.NotEmpty(t, a.Trades)
	first := a.Trades[0]
	assert.Equal(t, ledger.Buy, first.Side)
	assert.Equal(t, day("2023-01-02"), first.Timestamp)
	assert.Equal(t, ReasonSignal, first.Reason)
	// 10% of equity at the effective price of the first close
	assert.InDelta(t, 98, first.Quantity, 1)

	var exits []ledger.Trade
	for _, tr := range a.Trades {
		if tr.Reason == risk.ExitTakeProfit {
			exits = append(exits, tr)
		}
	}
	require.Len(t, exits, 1)
	assert.Equal(t, day("2023-01-09"), exits[0].Timestamp)
	assert.Greater(t, exits[0].RealizedPnL, 0.0)
	assert.Equal(t, 1, a.Summary.ProtectiveExits)
	assert.Equal(t, 1, sink.Count(notify.ProtectiveExit))
	assert.Equal(t, len(a.Trades), sink.Count(notify.TradeExecuted))
	assert.Equal(t, 1, sink.Count(notify.RunFinished))

	days := tradingDays(t, cfg)
	assert.Len(t, a.Snapshots, len(days))
	assert.Equal(t, a.Trades, mem.Trades())
	assert.Equal(t, a.Snapshots, mem.Snapshots())
	assert.Equal(t, float64(len(days)), testutil.ToFloat64(m.Days))
	assert.Equal(t, float64(a.Summary.Sells), testutil.ToFloat64(m.Trades.WithLabelValues("sell")))
	assert.Equal(t, a.Summary.FinalValue, testutil.ToFloat64(m.Equity))

	assert.Equal(t, report.StatusComplete, a.Run.Status)
	assert.Equal(t, len(a.Trades), a.Performance.TradeCount)
	assert.Greater(t, a.Performance.TotalReturn, 0.0)
}

func TestRunDataGapCarriesMarkForward(t *testing.T) {
	t.Parallel()

	gap := firstRunIndex + 2 // 2023-01-04
	p := pathProvider(func(sym string, i int) (float64, bool) {
		if sym == "AAA" && i == gap {
			return 0, false
		}
		return 100 + float64(i%2), true
	})
	sink := &notify.Recorder{}
	log := logger.NewRecorder()

	cfg := testConfig()
	cfg.Run.Symbols = []string{"BBB", "AAA"}
	a, err := Run(context.Background(), cfg, WithProvider(p), WithAgents(buyer{}), WithSink(sink), WithLogger(log))
	require.NoError(t, err)
	checkInvariants(t, a)

	assert.Equal(t, 1, a.Summary.DataGaps)
	assert.Equal(t, 1, sink.Count(notify.DataGap))
	assert.Contains(t, log.Messages("warn"), "data gap, carrying last close forward")
	assert.Len(t, a.Snapshots, len(tradingDays(t, cfg)))

	gapDay := day("2023-01-04")
	for _, tr := range a.Trades {
		if tr.Timestamp.Equal(gapDay) {
			assert.NotEqual(t, "AAA", tr.Symbol, "no decision for a symbol without a bar")
		}
	}

	// AAA is valued at its 2023-01-03 close of 100 on the gap day
	var aaa, bbb float64
	for _, tr := range a.Trades {
		if tr.Timestamp.After(gapDay) {
			continue
		}
		if tr.Symbol == "AAA" {
			aaa += tr.Quantity
		} else {
			bbb += tr.Quantity
		}
	}
	for _, s := range a.Snapshots {
		if s.Date.Equal(gapDay) {
			assert.InDelta(t, aaa*100+bbb*101, s.PositionsValue, 1e-6)
		}
	}
}

func TestRunNormalizesIntradayBarDates(t *testing.T) {
	t.Parallel()

	inner := pathProvider(wiggle(100))
	atClose := market.ProviderFunc(func(ctx context.Context, sym string, start, end time.Time) ([]market.Bar, error) {
		bars, err := inner.GetHistory(ctx, sym, start, end)
		for i := range bars {
			bars[i].Date = bars[i].Date.Add(16 * time.Hour)
		}
		return bars, err
	})

	cfg := testConfig()
	a, err := Run(context.Background(), cfg, WithProvider(atClose), WithAgents(buyer{}))
	require.NoError(t, err)
	checkInvariants(t, a)

	assert.Zero(t, a.Summary.DataGaps)
	assert.Len(t, a.Snapshots, len(tradingDays(t, cfg)))
	require.NotEmpty(t, a.Trades)
	assert.Equal(t, day("2023-01-02"), a.Trades[0].Timestamp)
}

// rotator holds AAA and CCC, then drops AAA in favor of BBB.
type rotator struct{ switchDay time.Time }

func (rotator) ID() string { return "rotator" }

func (r rotator) Score(symbol string, ts time.Time, _ *agents.Context) agents.Signal {
	rotated := !ts.Before(r.switchDay)
	switch {
	case symbol == "AAA" && rotated:
		return agents.NewSignal("rotator", symbol, ts, -1, 1)
	case symbol == "BBB" && !rotated:
		return agents.Neutral("rotator", symbol, ts)
	}
	return agents.NewSignal("rotator", symbol, ts, 1, 1)
}

func TestRunSellsBeforeBuying(t *testing.T) {
	t.Parallel()

	switchDay := day("2023-01-09")
	cfg := testConfig()
	cfg.Run.End = "2023-01-13"
	cfg.Run.Symbols = []string{"CCC", "BBB", "AAA"}
	cfg.Risk.MaxPositionFraction = 0.45
	cfg.Risk.MaxPortfolioExposure = 1

	a, err := Run(context.Background(), cfg,
		WithProvider(pathProvider(wiggle(100))), WithAgents(rotator{switchDay: switchDay}))
	require.NoError(t, err)
	checkInvariants(t, a)

	sellAt, buyAt := -1, -1
	for i, tr := range a.Trades {
		if !tr.Timestamp.Equal(switchDay) {
			continue
		}
		switch {
		case tr.Symbol == "AAA" && tr.Side == ledger.Sell:
			sellAt = i
		case tr.Symbol == "BBB" && tr.Side == ledger.Buy:
			buyAt = i
		}
	}
	require.GreaterOrEqual(t, sellAt, 0, "AAA sold on the switch day")
	require.GreaterOrEqual(t, buyAt, 0, "BBB bought on the switch day")
	assert.Less(t, sellAt, buyAt)

	sell, buy := a.Trades[sellAt], a.Trades[buyAt]
	assert.Equal(t, ReasonSignal, sell.Reason)
	cashBefore := sell.CashAfter - sell.GrossAmount
	assert.Greater(t, buy.GrossAmount, cashBefore, "the buy is funded by the sale")

	for _, tr := range a.Trades {
		if tr.Symbol == "BBB" {
			assert.False(t, tr.Timestamp.Before(switchDay))
		}
	}
}

func TestRunCancelledReturnsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorded := 0
	a, err := Run(ctx, testConfig(),
		WithProvider(pathProvider(wiggle(100))),
		WithAgents(buyer{}),
		WithStateHook(func(s State) {
			if s == SnapshotRecorded {
				recorded++
				if recorded == 3 {
					cancel()
				}
			}
		}),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, a)
	assert.Equal(t, report.StatusPartial, a.Run.Status)
	assert.Len(t, a.Snapshots, 3)
	checkInvariants(t, a)
}

func TestRunViolationBlocksBuys(t *testing.T) {
	t.Parallel()

	crash := firstRunIndex + 10 // 2023-01-16
	p := pathProvider(func(_ string, i int) (float64, bool) {
		if i >= crash {
			return 60 + float64(i%2), true
		}
		return 100 + float64(i%2), true
	})
	sink := &notify.Recorder{}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Risk.StopLossPct = 1
	cfg.Risk.TakeProfitPct = 1
	cfg.Risk.MaxDrawdownLimit = 0.01

	a, err := Run(context.Background(), cfg, WithProvider(p), WithAgents(buyer{}), WithSink(sink), WithMetrics(m))
	require.NoError(t, err)
	checkInvariants(t, a)

	require.Greater(t, a.Summary.Violations, 0)
	assert.Equal(t, a.Summary.Violations, sink.Count(notify.LimitViolation))
	assert.Equal(t, float64(a.Summary.Violations), testutil.ToFloat64(m.Violations.WithLabelValues(risk.CodeDrawdown)))
	for _, tr := range a.Trades {
		if tr.Timestamp.After(day("2023-01-16")) {
			assert.NotEqual(t, ledger.Buy, tr.Side, tr.Timestamp)
		}
	}
	// positions are never unwound by a violation
	assert.Zero(t, a.Summary.Sells)
}

func syntheticConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.Start = "2023-01-02"
	cfg.Run.End = "2023-03-31"
	cfg.Data.Synthetic.GapRate = 0.05
	return cfg
}

func TestRunDeterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	encode := func(a *report.Artifact) string {
		var buf bytes.Buffer
		require.NoError(t, report.Encode(&buf, a, report.FormatJSON))
		return buf.String()
	}

	a1, err := Run(ctx, syntheticConfig())
	require.NoError(t, err)
	a2, err := Run(ctx, syntheticConfig())
	require.NoError(t, err)
	assert.Equal(t, encode(a1), encode(a2))
	checkInvariants(t, a1)
	assert.Greater(t, a1.Summary.DataGaps, 0)

	// evaluation width does not change the outcome
	serial := syntheticConfig()
	serial.Run.Workers = 1
	a3, err := Run(ctx, serial)
	require.NoError(t, err)
	assert.Equal(t, a1.Trades, a3.Trades)
	assert.Equal(t, a1.Performance, a3.Performance)

	// the artifact survives its own encoding
	back, err := report.Decode(bytes.NewBufferString(encode(a1)), report.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, encode(a1), encode(back))
}

func TestRunIDStable(t *testing.T) {
	t.Parallel()

	id1, err := RunID(config.Default())
	require.NoError(t, err)
	id2, err := RunID(config.Default())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	cfg := config.Default()
	cfg.Run.Seed++
	id3, err := RunID(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestRunWithJournalAndRunStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Journal.Type = config.JournalSQLite
	cfg.Journal.DBPath = filepath.Join(dir, "journal.db")
	cfg.Journal.RunStore = filepath.Join(dir, "runs.db")

	a, err := Run(context.Background(), cfg, WithProvider(pathProvider(wiggle(100))), WithAgents(buyer{}))
	require.NoError(t, err)
	require.NotEmpty(t, a.Trades)

	j, err := journal.NewSQLite(cfg.Journal.DBPath, a.Run.ID)
	require.NoError(t, err)
	defer j.Close()
	trades, err := j.ListTrades()
	require.NoError(t, err)
	assert.Equal(t, a.Trades, trades)
	snaps, err := j.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, len(a.Snapshots))

	s, err := journal.OpenRunStore(cfg.Journal.RunStore)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(context.Background(), a.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusComplete, rec.Status)
	assert.Equal(t, a.Performance.TradeCount, rec.TradeCount)
	assert.Equal(t, "AAA", rec.Symbols)
}

func TestRunCSVJournalAndCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := syntheticConfig()
	cfg.Run.End = "2023-01-31"
	cfg.Run.Symbols = []string{"AAA"}
	cfg.Run.Benchmark = "IDX"
	cfg.Data.Cache = filepath.Join(dir, "bars.db")
	cfg.Journal.Type = config.JournalCSV
	cfg.Journal.Dir = dir

	a, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "trades-"+a.Run.ID+".csv"))
	assert.FileExists(t, filepath.Join(dir, "snapshots-"+a.Run.ID+".csv"))
	assert.NotZero(t, a.Summary.BenchmarkReturn)

	// the cache now serves the same history
	store, err := market.OpenSQLiteStore(cfg.Data.Cache)
	require.NoError(t, err)
	defer store.Close()
	from, end, err := HistoryRange(cfg)
	require.NoError(t, err)
	bars, err := store.GetHistory(context.Background(), "IDX", from, end)
	require.NoError(t, err)
	assert.NotEmpty(t, bars)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	var cfgs []*config.Config
	for _, name := range []string{"tight", "loose"} {
		cfg := testConfig()
		cfg.Run.Name = name
		cfgs = append(cfgs, cfg)
	}
	cfgs[1].Ensemble.Threshold = 0.9

	out, err := Sweep(context.Background(), pathProvider(wiggle(100)), cfgs, 2, WithAgents(buyer{}))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "tight", out[0].Run.Name)
	assert.Equal(t, "loose", out[1].Run.Name)
	assert.NotEqual(t, out[0].Run.ID, out[1].Run.ID)

	bad := testConfig()
	bad.Run.Symbols = nil
	_, err = Sweep(context.Background(), pathProvider(wiggle(100)), []*config.Config{bad}, 1)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestSymbols(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Run.Symbols = []string{"CCC", "AAA"}
	cfg.Run.Benchmark = "AAA"
	assert.Equal(t, []string{"AAA", "CCC"}, Symbols(cfg))
	cfg.Run.Benchmark = "SPY"
	assert.Equal(t, []string{"AAA", "CCC", "SPY"}, Symbols(cfg))
}
