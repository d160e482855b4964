package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const barSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol TEXT NOT NULL,
	date   TEXT NOT NULL,
	open   REAL NOT NULL,
	high   REAL NOT NULL,
	low    REAL NOT NULL,
	close  REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (symbol, date)
);
`

// SQLiteStore is a local bar cache. Histories are loaded into it ahead of
// a run and served back through the Provider interface.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bar store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(barSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bar store: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts bars for symbol.
func (s *SQLiteStore) Put(ctx context.Context, symbol string, bars []Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Date.Format(DateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("bar store: put %s %s: %w", symbol, b.Date.Format(DateLayout), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, Day(start).Format(DateLayout), Day(end).Format(DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var (
			ds string
			b  Bar
		)
		if err := rows.Scan(&ds, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		if b.Date, err = ParseDay(ds); err != nil {
			return nil, fmt.Errorf("bar store: bad date %q: %w", ds, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Fill copies histories for symbols from src into the store.
func (s *SQLiteStore) Fill(ctx context.Context, src Provider, symbols []string, start, end time.Time) (int, error) {
	total := 0
	for _, sym := range symbols {
		bars, err := src.GetHistory(ctx, sym, start, end)
		if err != nil {
			return total, fmt.Errorf("bar store: fetch %s: %w", sym, err)
		}
		if err := s.Put(ctx, sym, bars); err != nil {
			return total, err
		}
		total += len(bars)
	}
	return total, nil
}
