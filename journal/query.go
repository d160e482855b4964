package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/backtester/ledger"
)

const tradeColumns = `trade_id, timestamp, symbol, side, quantity, fill_price, gross_amount, cash_after, realized_pnl, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (ledger.Trade, error) {
	var (
		t    ledger.Trade
		side string
	)
	err := s.Scan(
		&t.ID,
		&t.Timestamp,
		&t.Symbol,
		&side,
		&t.Quantity,
		&t.FillPrice,
		&t.GrossAmount,
		&t.CashAfter,
		&t.RealizedPnL,
		&t.Reason,
	)
	t.Side = ledger.Side(side)
	t.Timestamp = t.Timestamp.UTC()
	return t, err
}

// GetTrade returns a single trade by id.
func (j *SQLite) GetTrade(tradeID string) (ledger.Trade, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Trade{}, fmt.Errorf("trade %q not found", tradeID)
		}
		return ledger.Trade{}, err
	}
	return t, nil
}

// ListTrades returns the trades of this run in execution order.
func (j *SQLite) ListTrades() ([]ledger.Trade, error) {
	return j.queryTrades(`SELECT `+tradeColumns+` FROM trades WHERE run_id = ? ORDER BY timestamp ASC, rowid ASC`, j.runID)
}

// ListTradesBetween returns trades of this run with timestamp in [start, end).
func (j *SQLite) ListTradesBetween(start, end time.Time) ([]ledger.Trade, error) {
	return j.queryTrades(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE run_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, rowid ASC`, j.runID, start.UTC(), end.UTC())
}

func (j *SQLite) queryTrades(query string, args ...any) ([]ledger.Trade, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSnapshots returns this run's snapshots by date.
func (j *SQLite) ListSnapshots() ([]ledger.Snapshot, error) {
	rows, err := j.db.Query(`
		SELECT date, cash, positions_value, total_value, daily_return
		FROM snapshots
		WHERE run_id = ?
		ORDER BY date ASC`, j.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Snapshot
	for rows.Next() {
		var s ledger.Snapshot
		if err := rows.Scan(&s.Date, &s.Cash, &s.PositionsValue, &s.TotalValue, &s.DailyReturn); err != nil {
			return nil, err
		}
		s.Date = s.Date.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PnLStats summarizes realized profit on sells.
type PnLStats struct {
	Sells        int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
}

func (j *SQLite) PnLStats() (PnLStats, error) {
	var s PnLStats
	row := j.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN realized_pnl ELSE 0 END), 0),
			COALESCE(-SUM(CASE WHEN realized_pnl < 0 THEN realized_pnl ELSE 0 END), 0)
		FROM trades
		WHERE run_id = ? AND side = ?`, j.runID, string(ledger.Sell))
	if err := row.Scan(&s.Sells, &s.Wins, &s.Losses, &s.GrossProfit, &s.GrossLoss); err != nil {
		return PnLStats{}, err
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s, nil
}
