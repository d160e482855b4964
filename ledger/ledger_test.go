package ledger

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rustyeddy/backtester/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, capital float64, costs Costs) *Ledger {
	t.Helper()
	l, err := New(capital, costs)
	require.NoError(t, err)
	return l
}

func mustExecute(t *testing.T, l *Ledger, sym string, side Side, qty, px float64) Trade {
	t.Helper()
	tr, err := l.Execute(sym, side, qty, px, t0)
	require.NoError(t, err)
	return tr
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		capital float64
		costs   Costs
		wantErr bool
	}{
		{"ok", 1000, Costs{Commission: 0.001, Slippage: 0.001}, false},
		{"zero costs", 1000, Costs{}, false},
		{"zero capital", 0, Costs{}, true},
		{"negative commission", 1000, Costs{Commission: -0.1}, true},
		{"cost rate too high", 1000, Costs{Commission: 0.6, Slippage: 0.5}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.capital, tt.costs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestZeroCostRoundTrip(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 10000, Costs{})
	buy := mustExecute(t, l, "AAA", Buy, 10, 100)
	assert.Equal(t, 1000.0, buy.GrossAmount)
	assert.Equal(t, 9000.0, buy.CashAfter)

	sell := mustExecute(t, l, "AAA", Sell, 10, 110)
	assert.Equal(t, 1100.0, sell.GrossAmount)
	assert.InDelta(t, 100, sell.RealizedPnL, 1e-9)
	assert.InDelta(t, 100, l.RealizedPnL(), 1e-9)
	assert.Equal(t, 10100.0, l.Cash())

	_, ok := l.Position("AAA")
	assert.False(t, ok, "position is deleted at zero")
	assert.Len(t, l.Trades(), 2)
}

func TestCostsApplied(t *testing.T) {
	t.Parallel()

	costs := Costs{Commission: 0.003, Slippage: 0.001}
	l := newLedger(t, 100000, costs)

	buy := mustExecute(t, l, "AAA", Buy, 100, 50)
	assert.InDelta(t, 50*1.004, buy.FillPrice, 1e-12)
	assert.InDelta(t, 100*50*1.004, buy.GrossAmount, 1e-9)

	sell := mustExecute(t, l, "AAA", Sell, 100, 50)
	assert.InDelta(t, 50*0.996, sell.FillPrice, 1e-12)
	// a flat round trip loses both cost legs
	assert.InDelta(t, -100*50*0.008, sell.RealizedPnL, 1e-9)
	assert.InDelta(t, 100000-100*50*0.008, l.Cash(), 1e-9)
}

func TestWeightedAverageCost(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 100000, Costs{})
	mustExecute(t, l, "AAA", Buy, 10, 100)
	mustExecute(t, l, "AAA", Buy, 30, 120)

	p, ok := l.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 40.0, p.Quantity)
	assert.InDelta(t, (10*100+30*120)/40.0, p.AverageCost, 1e-12)

	// partial sell keeps the average
	mustExecute(t, l, "AAA", Sell, 15, 130)
	p, _ = l.Position("AAA")
	assert.Equal(t, 25.0, p.Quantity)
	assert.InDelta(t, 115, p.AverageCost, 1e-12)
}

func TestFractionalFillsCloseExactly(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 1000, Costs{})
	mustExecute(t, l, "AAA", Buy, 0.1, 10)
	mustExecute(t, l, "AAA", Buy, 0.2, 10)

	p, ok := l.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 0.3, p.Quantity)

	_, err := l.Execute("AAA", Sell, 0.30000000000000004, 10, t0)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	mustExecute(t, l, "AAA", Sell, 0.3, 10)
	_, ok = l.Position("AAA")
	assert.False(t, ok, "position closed")
	assert.Empty(t, l.Positions())
	assert.Equal(t, 1000.0, l.Cash())
	assert.Zero(t, l.Snapshot(t0, map[string]float64{"AAA": 10}).PositionsValue)

	// a later buy starts a fresh position
	mustExecute(t, l, "AAA", Buy, 0.7, 12)
	p, _ = l.Position("AAA")
	assert.Equal(t, 0.7, p.Quantity)
	assert.InDelta(t, 12, p.AverageCost, 1e-12)
}

func TestBuyBoundary(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 1000, Costs{})
	_, err := l.Execute("AAA", Buy, 11, 100, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCash))

	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "AAA", rej.Order.Symbol)

	assert.Empty(t, l.Trades())
	assert.Equal(t, 1000.0, l.Cash())

	tr := mustExecute(t, l, "AAA", Buy, 10, 100)
	assert.Equal(t, 0.0, tr.CashAfter)
	assert.Equal(t, 0.0, l.Cash())
}

func TestSellMoreThanHeldIsRejected(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 10000, Costs{Commission: 0.001})
	mustExecute(t, l, "AAA", Buy, 5, 100)

	cash := l.Cash()
	trades := l.Trades()
	pos := l.Positions()

	_, err := l.Execute("AAA", Sell, 6, 100, t0)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	_, err = l.Execute("BBB", Sell, 1, 100, t0)
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	assert.Equal(t, cash, l.Cash())
	assert.Equal(t, trades, l.Trades())
	assert.Equal(t, pos, l.Positions())
}

func TestInvalidOrders(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 10000, Costs{})
	bad := []Order{
		{Symbol: "", Side: Buy, Quantity: 1, Price: 1},
		{Symbol: "AAA", Side: "short", Quantity: 1, Price: 1},
		{Symbol: "AAA", Side: Buy, Quantity: 0, Price: 1},
		{Symbol: "AAA", Side: Buy, Quantity: -1, Price: 1},
		{Symbol: "AAA", Side: Buy, Quantity: 1, Price: 0},
		{Symbol: "AAA", Side: Buy, Quantity: math.NaN(), Price: 1},
	}
	for _, o := range bad {
		_, err := l.Submit(o)
		assert.ErrorIs(t, err, ErrInvalidOrder, "%+v", o)
	}
	assert.Empty(t, l.Trades())
}

func TestMarkToMarketFallsBackToCost(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 10000, Costs{})
	mustExecute(t, l, "AAA", Buy, 10, 100)
	mustExecute(t, l, "BBB", Buy, 5, 200)

	assert.InDelta(t, 8000+10*110+5*200, l.MarkToMarket(map[string]float64{"AAA": 110}), 1e-9)
	assert.InDelta(t, 10000, l.MarkToMarket(nil), 1e-9)
}

func TestSnapshotSequence(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 1000, Costs{})
	s1 := l.Snapshot(t0, nil)
	assert.Equal(t, 0.0, s1.DailyReturn)
	assert.Equal(t, 1000.0, s1.TotalValue)

	mustExecute(t, l, "AAA", Buy, 5, 100)
	s2 := l.Snapshot(t0.AddDate(0, 0, 1), map[string]float64{"AAA": 120})
	assert.Equal(t, 500.0, s2.Cash)
	assert.Equal(t, 600.0, s2.PositionsValue)
	assert.Equal(t, 1100.0, s2.TotalValue)
	assert.InDelta(t, 0.1, s2.DailyReturn, 1e-12)

	snaps := l.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, s1, snaps[0])
	assert.Equal(t, s2, snaps[1])
}

// Random order flow never drives cash or quantity negative, conserves cash
// per trade and reconciles cost basis with realized profit.
func TestInvariantsUnderRandomFlow(t *testing.T) {
	t.Parallel()

	const capital = 50000.0
	rng := rand.New(rand.NewSource(99))
	l := newLedger(t, capital, Costs{Commission: 0.0025, Slippage: 0.0005})
	syms := []string{"AAA", "BBB", "CCC"}

	prevCash := capital
	sumGross := 0.0
	for i := 0; i < 2000; i++ {
		sym := syms[rng.Intn(len(syms))]
		side := Buy
		if rng.Intn(2) == 0 {
			side = Sell
		}
		qty := float64(1 + rng.Intn(50))
		px := 50 + rng.Float64()*100

		tr, err := l.Execute(sym, side, qty, px, t0.Add(time.Duration(i)*time.Minute))
		if err != nil {
			assert.True(t, errors.Is(err, ErrInsufficientCash) || errors.Is(err, ErrInsufficientPosition))
			assert.Equal(t, prevCash, l.Cash())
			continue
		}

		if side == Buy {
			assert.InDelta(t, prevCash-tr.GrossAmount, tr.CashAfter, 1e-9*capital)
			sumGross -= tr.GrossAmount
		} else {
			assert.InDelta(t, prevCash+tr.GrossAmount, tr.CashAfter, 1e-9*capital)
			sumGross += tr.GrossAmount
		}
		prevCash = tr.CashAfter

		require.GreaterOrEqual(t, l.Cash(), 0.0)
		for _, p := range l.Positions() {
			require.Greater(t, p.Quantity, 0.0)
			require.Greater(t, p.AverageCost, 0.0)
		}
	}

	// long-run drift
	assert.InDelta(t, 0, (capital+sumGross-l.Cash())/capital, 1e-6)

	basis := 0.0
	for _, p := range l.Positions() {
		basis += p.Quantity * p.AverageCost
	}
	assert.InDelta(t, capital-l.Cash(), basis-l.RealizedPnL(), 1e-6*capital)
}

func TestTradeIDsAreDeterministic(t *testing.T) {
	t.Parallel()

	run := func() []Trade {
		l, err := New(10000, Costs{}, WithIDs(id.NewGenerator(5)))
		require.NoError(t, err)
		mustExecute(t, l, "AAA", Buy, 1, 100)
		mustExecute(t, l, "AAA", Sell, 1, 100)
		return l.Trades()
	}
	a, b := run(), run()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0].ID, a[1].ID)
}
