package market

import (
	"context"
	"sync"
	"time"
)

type memoEntry struct {
	start, end time.Time
	bars       []Bar
}

// Memo caches histories from another Provider so repeated requests inside
// an already fetched range never reach the source again. It is safe for
// concurrent use, so parallel sweeps can share one.
type Memo struct {
	src Provider

	mu      sync.Mutex
	entries map[string]memoEntry
}

func NewMemo(src Provider) *Memo {
	return &Memo{src: src, entries: make(map[string]memoEntry)}
}

func (m *Memo) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	start, end = Day(start), Day(end)

	m.mu.Lock()
	e, ok := m.entries[symbol]
	m.mu.Unlock()
	if ok && !start.Before(e.start) && !end.After(e.end) {
		return clone(Window(e.bars, start, end)), nil
	}

	from, to := start, end
	if ok {
		if e.start.Before(from) {
			from = e.start
		}
		if e.end.After(to) {
			to = e.end
		}
	}
	bars, err := m.src.GetHistory(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[symbol] = memoEntry{start: from, end: to, bars: bars}
	m.mu.Unlock()

	return clone(Window(bars, start, end)), nil
}

func clone(bars []Bar) []Bar {
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out
}
