// Package journal records fills and daily snapshots as a run progresses.
package journal

import (
	"errors"
	"sync"

	"github.com/rustyeddy/backtester/ledger"
)

// Journal receives every trade and snapshot the ledger produces, in order.
type Journal interface {
	RecordTrade(ledger.Trade) error
	RecordSnapshot(ledger.Snapshot) error
	Close() error
}

// Memory keeps records in slices. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	trades []ledger.Trade
	snaps  []ledger.Snapshot
	closed bool
}

func NewMemory() *Memory { return &Memory{} }

var ErrClosed = errors.New("journal: closed")

func (m *Memory) RecordTrade(t ledger.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) RecordSnapshot(s ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Trades() []ledger.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Trade(nil), m.trades...)
}

func (m *Memory) Snapshots() []ledger.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Snapshot(nil), m.snaps...)
}

// Multi fans out to every journal and joins their errors.
type Multi []Journal

func (mj Multi) RecordTrade(t ledger.Trade) error {
	var errs []error
	for _, j := range mj {
		errs = append(errs, j.RecordTrade(t))
	}
	return errors.Join(errs...)
}

func (mj Multi) RecordSnapshot(s ledger.Snapshot) error {
	var errs []error
	for _, j := range mj {
		errs = append(errs, j.RecordSnapshot(s))
	}
	return errors.Join(errs...)
}

func (mj Multi) Close() error {
	var errs []error
	for _, j := range mj {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(ledger.Trade) error       { return nil }
func (Nop) RecordSnapshot(ledger.Snapshot) error { return nil }
func (Nop) Close() error                         { return nil }
