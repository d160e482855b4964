package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/backtester/ledger"
)

var (
	TradeHeader    = []string{"trade_id", "timestamp", "symbol", "side", "quantity", "fill_price", "gross_amount", "cash_after", "realized_pnl", "reason"}
	SnapshotHeader = []string{"date", "cash", "positions_value", "total_value", "daily_return"}
)

// CSV writes trades and snapshots to two files, flushing after each row.
type CSV struct {
	trades *csv.Writer
	snaps  *csv.Writer
	tf, sf *os.File
}

func NewCSV(tradesPath, snapshotsPath string) (*CSV, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	sf, err := os.Create(snapshotsPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	j := &CSV{trades: csv.NewWriter(tf), snaps: csv.NewWriter(sf), tf: tf, sf: sf}
	if err := j.write(j.trades, TradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if err := j.write(j.snaps, SnapshotHeader); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) RecordTrade(t ledger.Trade) error {
	return j.write(j.trades, []string{
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Symbol,
		string(t.Side),
		f(t.Quantity),
		f(t.FillPrice),
		f(t.GrossAmount),
		f(t.CashAfter),
		f(t.RealizedPnL),
		t.Reason,
	})
}

func (j *CSV) RecordSnapshot(s ledger.Snapshot) error {
	return j.write(j.snaps, []string{
		s.Date.UTC().Format("2006-01-02"),
		f(s.Cash),
		f(s.PositionsValue),
		f(s.TotalValue),
		strconv.FormatFloat(s.DailyReturn, 'f', 8, 64),
	})
}

func (j *CSV) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.snaps.Flush()
	if err := j.snaps.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.sf.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
