package journal

import (
	"database/sql"
	"fmt"

	"github.com/rustyeddy/backtester/ledger"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite journals one run into a database file. Several runs can share
// a file; rows are keyed by run id.
type SQLite struct {
	db    *sql.DB
	runID string
}

func NewSQLite(path, runID string) (*SQLite, error) {
	if runID == "" {
		return nil, fmt.Errorf("journal: run id is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, runID: runID}, nil
}

func (j *SQLite) RunID() string { return j.runID }

func (j *SQLite) RecordTrade(t ledger.Trade) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, run_id, timestamp, symbol, side, quantity, fill_price, gross_amount, cash_after, realized_pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, j.runID, t.Timestamp.UTC(), t.Symbol, string(t.Side), t.Quantity,
		t.FillPrice, t.GrossAmount, t.CashAfter, t.RealizedPnL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordSnapshot(s ledger.Snapshot) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO snapshots
		(run_id, date, cash, positions_value, total_value, daily_return)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.runID, s.Date.UTC(), s.Cash, s.PositionsValue, s.TotalValue, s.DailyReturn,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
