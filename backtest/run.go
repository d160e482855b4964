package backtest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/journal"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/report"
	"golang.org/x/sync/errgroup"
)

// Run executes cfg and returns the artifact; its Performance field is the
// run's PerformanceReport. Collaborators not passed as options are built
// from the config and closed before Run returns.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) (a *report.Artifact, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.Join(err, closers[i]())
		}
	}()

	if o.provider == nil {
		p, closeFn, perr := OpenProvider(ctx, cfg)
		if perr != nil {
			return nil, perr
		}
		closers = append(closers, closeFn)
		opts = append(opts, WithProvider(p))
	}

	if _, ok := o.journal.(journal.Nop); ok && cfg.Journal.Type != "" && cfg.Journal.Type != config.JournalNone {
		runID, rerr := RunID(cfg)
		if rerr != nil {
			return nil, rerr
		}
		j, jerr := OpenJournal(cfg, runID)
		if jerr != nil {
			return nil, jerr
		}
		closers = append(closers, j.Close)
		opts = append(opts, WithJournal(j))
	}

	if o.runs == nil && cfg.Journal.RunStore != "" {
		s, serr := journal.OpenRunStore(cfg.Journal.RunStore)
		if serr != nil {
			return nil, serr
		}
		closers = append(closers, s.Close)
		opts = append(opts, WithRunStore(s))
	}

	e, err := NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx)
}

// HistoryRange is the span of bars a run fetches: the lookback before the
// start through the end date.
func HistoryRange(cfg *config.Config) (from, end time.Time, err error) {
	start, err := cfg.StartDate()
	if err != nil {
		return from, end, err
	}
	end, err = cfg.EndDate()
	if err != nil {
		return from, end, err
	}
	return start.AddDate(0, 0, -cfg.Run.LookbackDays), end, nil
}

// Symbols lists the traded symbols and the benchmark, sorted.
func Symbols(cfg *config.Config) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string(nil), cfg.Run.Symbols...), cfg.Run.Benchmark) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// OpenProvider builds the configured price source. With a cache path the
// history is copied into a SQLite bar store ahead of the run and served
// from there. The result is memoized.
func OpenProvider(ctx context.Context, cfg *config.Config) (market.Provider, func() error, error) {
	closeFn := func() error { return nil }

	var src market.Provider
	switch cfg.Data.Source {
	case config.SourceSynthetic:
		opts, err := cfg.SyntheticOptions()
		if err != nil {
			return nil, nil, err
		}
		src = market.NewSynthetic(opts)
	case config.SourceCSV:
		src = market.NewCSVProvider(cfg.Data.Path)
	case config.SourceSQLite:
		s, err := market.OpenSQLiteStore(cfg.Data.Path)
		if err != nil {
			return nil, nil, err
		}
		src, closeFn = s, s.Close
	default:
		return nil, nil, fmt.Errorf("backtest: unknown data source %q", cfg.Data.Source)
	}

	if cfg.Data.Cache != "" {
		from, end, err := HistoryRange(cfg)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		store, err := market.OpenSQLiteStore(cfg.Data.Cache)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		if _, err := store.Fill(ctx, src, Symbols(cfg), from, end); err != nil {
			_ = store.Close()
			_ = closeFn()
			return nil, nil, err
		}
		inner := closeFn
		src, closeFn = store, func() error { return errors.Join(store.Close(), inner()) }
	}
	return market.NewMemo(src), closeFn, nil
}

// OpenJournal opens the configured trade journal for runID.
func OpenJournal(cfg *config.Config, runID string) (journal.Journal, error) {
	switch cfg.Journal.Type {
	case config.JournalCSV:
		return journal.NewCSV(
			filepath.Join(cfg.Journal.Dir, "trades-"+runID+".csv"),
			filepath.Join(cfg.Journal.Dir, "snapshots-"+runID+".csv"),
		)
	case config.JournalSQLite:
		return journal.NewSQLite(cfg.Journal.DBPath, runID)
	case "", config.JournalNone:
		return journal.Nop{}, nil
	default:
		return nil, fmt.Errorf("backtest: unknown journal type %q", cfg.Journal.Type)
	}
}

// Sweep runs independent configurations concurrently, at most workers at
// a time, and returns the artifacts in input order. A shared provider
// and any options must be safe for concurrent use.
func Sweep(ctx context.Context, p market.Provider, cfgs []*config.Config, workers int, opts ...Option) ([]*report.Artifact, error) {
	out := make([]*report.Artifact, len(cfgs))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			runOpts := append([]Option(nil), opts...)
			if p != nil {
				runOpts = append(runOpts, WithProvider(p))
			}
			a, err := Run(gctx, cfg, runOpts...)
			if err != nil {
				return fmt.Errorf("backtest: sweep run %d (%s): %w", i, cfg.Run.Name, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
