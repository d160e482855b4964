package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar-day format used in configs, CSV files and caches.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV record for a symbol.
type Bar struct {
	Date   time.Time `json:"date" yaml:"date"`
	Open   float64   `json:"open" yaml:"open"`
	High   float64   `json:"high" yaml:"high"`
	Low    float64   `json:"low" yaml:"low"`
	Close  float64   `json:"close" yaml:"close"`
	Volume float64   `json:"volume" yaml:"volume"`
}

// Provider supplies ascending daily bars for a symbol over [start, end].
// Missing days are allowed; callers handle them as data gaps.
type Provider interface {
	GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)

func (f ProviderFunc) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	return f(ctx, symbol, start, end)
}

// ErrDataGap marks a trading day without a bar for a symbol.
var ErrDataGap = errors.New("data gap")

type GapError struct {
	Symbol string
	Date   time.Time
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: no bar for %s", e.Symbol, e.Date.Format(DateLayout))
}

func (e *GapError) Unwrap() error { return ErrDataGap }

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Until returns the prefix of bars dated on or before day.
func Until(bars []Bar, day time.Time) []Bar {
	n := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(day) })
	return bars[:n]
}

// At returns the bar dated exactly day, if any.
func At(bars []Bar, day time.Time) (Bar, bool) {
	i := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(day) })
	if i < len(bars) && bars[i].Date.Equal(day) {
		return bars[i], true
	}
	return Bar{}, false
}

// Window returns the bars in [start, end].
func Window(bars []Bar, start, end time.Time) []Bar {
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(start) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(end) })
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}

func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Normalize returns a copy of bars dated at midnight UTC of their calendar
// day, ascending, one bar per day.
func Normalize(bars []Bar) []Bar {
	out := make([]Bar, len(bars))
	for i, b := range bars {
		b.Date = Day(b.Date)
		out[i] = b
	}
	return sortBars(out)
}

// sortBars orders bars ascending by date and drops duplicate dates, keeping the last one seen.
func sortBars(bars []Bar) []Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Date.Equal(b.Date) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
