package journal

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/backtester/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func sampleTrades() []ledger.Trade {
	return []ledger.Trade{
		{ID: "T1", Timestamp: day0, Symbol: "AAA", Side: ledger.Buy, Quantity: 10, FillPrice: 100, GrossAmount: 1000, CashAfter: 9000, Reason: "signal"},
		{ID: "T2", Timestamp: day0.AddDate(0, 0, 1), Symbol: "BBB", Side: ledger.Buy, Quantity: 5, FillPrice: 50, GrossAmount: 250, CashAfter: 8750, Reason: "signal"},
		{ID: "T3", Timestamp: day0.AddDate(0, 0, 2), Symbol: "AAA", Side: ledger.Sell, Quantity: 10, FillPrice: 110, GrossAmount: 1100, CashAfter: 9850, RealizedPnL: 100, Reason: "take_profit"},
		{ID: "T4", Timestamp: day0.AddDate(0, 0, 3), Symbol: "BBB", Side: ledger.Sell, Quantity: 5, FillPrice: 40, GrossAmount: 200, CashAfter: 10050, RealizedPnL: -50, Reason: "stop_loss"},
	}
}

func sampleSnapshots() []ledger.Snapshot {
	return []ledger.Snapshot{
		{Date: day0, Cash: 9000, PositionsValue: 1000, TotalValue: 10000},
		{Date: day0.AddDate(0, 0, 1), Cash: 8750, PositionsValue: 1400, TotalValue: 10150, DailyReturn: 0.015},
	}
}

func TestMemoryJournal(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	for _, tr := range sampleTrades() {
		require.NoError(t, m.RecordTrade(tr))
	}
	for _, s := range sampleSnapshots() {
		require.NoError(t, m.RecordSnapshot(s))
	}
	assert.Equal(t, sampleTrades(), m.Trades())
	assert.Equal(t, sampleSnapshots(), m.Snapshots())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.RecordTrade(sampleTrades()[0]), ErrClosed)
}

type failing struct{ Nop }

func (failing) RecordTrade(ledger.Trade) error { return errors.New("disk full") }

func TestMulti(t *testing.T) {
	t.Parallel()

	a, b := NewMemory(), NewMemory()
	mj := Multi{a, Nop{}, b}
	tr := sampleTrades()[0]
	require.NoError(t, mj.RecordTrade(tr))
	require.NoError(t, mj.RecordSnapshot(sampleSnapshots()[0]))
	assert.Len(t, a.Trades(), 1)
	assert.Len(t, b.Snapshots(), 1)

	err := Multi{a, failing{}}.RecordTrade(tr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, a.Trades(), 2, "healthy journals still record")
	require.NoError(t, mj.Close())
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tp, sp := filepath.Join(dir, "trades.csv"), filepath.Join(dir, "snapshots.csv")
	j, err := NewCSV(tp, sp)
	require.NoError(t, err)

	for _, tr := range sampleTrades() {
		require.NoError(t, j.RecordTrade(tr))
	}
	for _, s := range sampleSnapshots() {
		require.NoError(t, j.RecordSnapshot(s))
	}
	require.NoError(t, j.Close())

	trades := readCSV(t, tp)
	require.Len(t, trades, 5)
	assert.Equal(t, TradeHeader, trades[0])
	assert.Equal(t, []string{
		"T3", "2024-01-04T00:00:00Z", "AAA", "sell", "10.000000", "110.000000",
		"1100.000000", "9850.000000", "100.000000", "take_profit",
	}, trades[3])

	snaps := readCSV(t, sp)
	require.Len(t, snaps, 3)
	assert.Equal(t, SnapshotHeader, snaps[0])
	assert.Equal(t, []string{"2024-01-03", "8750.000000", "1400.000000", "10150.000000", "0.01500000"}, snaps[2])
}

func TestCSVJournalBadPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(filepath.Join(t.TempDir(), "missing", "t.csv"), "s.csv")
	require.Error(t, err)
}

func newTestSQLite(t *testing.T, runID string) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLite(path, runID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t, "run-1")
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','snapshots')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())
	assert.True(t, found["trades"])
	assert.True(t, found["snapshots"])

	_, err = NewSQLite(path, "")
	require.Error(t, err)
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t, "run-1")
	for _, tr := range sampleTrades() {
		require.NoError(t, j.RecordTrade(tr))
	}
	for _, s := range sampleSnapshots() {
		require.NoError(t, j.RecordSnapshot(s))
	}

	got, err := j.ListTrades()
	require.NoError(t, err)
	assert.Equal(t, sampleTrades(), got)

	snaps, err := j.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshots(), snaps)

	tr, err := j.GetTrade("T3")
	require.NoError(t, err)
	assert.Equal(t, sampleTrades()[2], tr)

	_, err = j.GetTrade("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	// duplicate ids are rejected
	require.Error(t, j.RecordTrade(sampleTrades()[0]))
}

func TestSQLiteQueries(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t, "run-1")
	for _, tr := range sampleTrades() {
		require.NoError(t, j.RecordTrade(tr))
	}

	between, err := j.ListTradesBetween(day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, "T2", between[0].ID)
	assert.Equal(t, "T3", between[1].ID)

	stats, err := j.PnLStats()
	require.NoError(t, err)
	assert.Equal(t, PnLStats{Sells: 2, Wins: 1, Losses: 1, GrossProfit: 100, GrossLoss: 50, ProfitFactor: 2}, stats)

	// another run in the same file does not see these rows
	other, err := NewSQLite(path, "run-2")
	require.NoError(t, err)
	defer other.Close()
	trades, err := other.ListTrades()
	require.NoError(t, err)
	assert.Empty(t, trades)
	empty, err := other.PnLStats()
	require.NoError(t, err)
	assert.Equal(t, PnLStats{}, empty)
}

func TestRunStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := RunRecord{
		RunID: "abc", CreatedAt: created, Start: day0, End: day0.AddDate(0, 1, 0),
		Symbols: "AAA,BBB", Status: StatusComplete, FinalValue: 10500, TotalReturn: 0.05,
		Sharpe: 1.2, MaxDrawdown: -0.04, TradeCount: 4,
		Config: datatypes.JSON(`{"initial_capital":10000}`),
		Report: datatypes.JSON(`{"total_return":0.05}`),
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "AAA,BBB", got.Symbols)
	assert.InDelta(t, 10500, got.FinalValue, 1e-9)
	assert.JSONEq(t, `{"initial_capital":10000}`, string(got.Config))
	assert.True(t, created.Equal(got.CreatedAt))

	// saving again replaces the row
	rec.Status = StatusPartial
	rec.TradeCount = 5
	require.NoError(t, s.Save(ctx, rec))
	got, err = s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, got.Status)
	assert.Equal(t, 5, got.TradeCount)

	require.NoError(t, s.Save(ctx, RunRecord{RunID: "older", CreatedAt: created.Add(-time.Hour)}))
	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "abc", list[0].RunID)

	list, err = s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, "abc"))
	_, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.Error(t, s.Save(ctx, RunRecord{}))
	_, err = OpenRunStore(" ")
	require.Error(t, err)
}
