package market

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// SyntheticOptions controls the random-walk generator.
type SyntheticOptions struct {
	Seed      int64
	Origin    time.Time // first generated day; the walk always starts here
	BasePrice float64
	Drift     float64 // mean daily return
	Vol       float64 // stdev of daily return
	GapRate   float64 // probability that a weekday has no bar
}

func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Seed:      42,
		Origin:    time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC),
		BasePrice: 10000,
		Drift:     0.001,
		Vol:       0.02,
	}
}

// Synthetic generates weekday bars from a seeded random walk.
// The series for a symbol depends only on (Seed, symbol, Origin), so
// any requested window sees the same prices for the same dates.
type Synthetic struct {
	opts SyntheticOptions
}

func NewSynthetic(opts SyntheticOptions) *Synthetic {
	def := DefaultSyntheticOptions()
	if opts.Origin.IsZero() {
		opts.Origin = def.Origin
	}
	if opts.BasePrice <= 0 {
		opts.BasePrice = def.BasePrice
	}
	if opts.Vol <= 0 {
		opts.Vol = def.Vol
	}
	opts.Origin = Day(opts.Origin)
	return &Synthetic{opts: opts}
}

func (s *Synthetic) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end = Day(start), Day(end)

	rng := rand.New(rand.NewSource(s.opts.Seed ^ symbolSeed(symbol)))
	price := s.opts.BasePrice

	var bars []Bar
	for d := s.opts.Origin; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		// draw every value each day so gaps never shift the walk
		ret := s.opts.Drift + s.opts.Vol*rng.NormFloat64()
		wick := math.Abs(rng.NormFloat64()) * 0.005
		volume := math.Floor(100000 + rng.Float64()*900000)
		missing := rng.Float64() < s.opts.GapRate

		open := price
		price = math.Max(price*(1+ret), 0.01)
		if missing || d.Before(start) {
			continue
		}

		bars = append(bars, Bar{
			Date:   d,
			Open:   open,
			High:   math.Max(open, price) * (1 + wick),
			Low:    math.Min(open, price) * (1 - wick),
			Close:  price,
			Volume: volume,
		})
	}
	return bars, nil
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64() & math.MaxInt64)
}
