package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/backtester/market"
	"golang.org/x/sync/errgroup"
)

// history is every bar the run will look at, fetched before the first day.
type history map[string][]market.Bar

// loadHistory fetches symbols concurrently and normalizes bar dates to
// calendar days. Each symbol must have at least one bar inside [start, end].
func loadHistory(ctx context.Context, p market.Provider, symbols []string, from, start, end time.Time, workers int) (history, error) {
	bars := make([][]market.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			bs, err := p.GetHistory(gctx, sym, from, end)
			if err != nil {
				return fmt.Errorf("backtest: history for %s: %w", sym, err)
			}
			bs = market.Normalize(bs)
			if len(market.Window(bs, start, end)) == 0 {
				return fmt.Errorf("backtest: no bars for %s between %s and %s",
					sym, start.Format(market.DateLayout), end.Format(market.DateLayout))
			}
			bars[i] = bs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h := make(history, len(symbols))
	for i, sym := range symbols {
		h[sym] = bars[i]
	}
	return h, nil
}

// returnOver is the close-to-close return of symbol across [start, end].
func (h history) returnOver(symbol string, start, end time.Time) float64 {
	w := market.Window(h[symbol], start, end)
	if len(w) < 2 || w[0].Close <= 0 {
		return 0
	}
	return w[len(w)-1].Close/w[0].Close - 1
}
