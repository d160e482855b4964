// Package backtest replays price history day by day through the agents,
// the ensemble and the risk manager into a ledger.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/config"
	"github.com/rustyeddy/backtester/ensemble"
	"github.com/rustyeddy/backtester/journal"
	"github.com/rustyeddy/backtester/ledger"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/notify"
	"github.com/rustyeddy/backtester/pkg/id"
	"github.com/rustyeddy/backtester/regime"
	"github.com/rustyeddy/backtester/report"
	"github.com/rustyeddy/backtester/risk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// ReasonSignal marks fills that came from an ensemble decision.
const ReasonSignal = "signal"

// Engine runs one configuration. It is single use.
type Engine struct {
	cfg   *config.Config
	opts  options
	runID string

	start, end, from time.Time
	days             []time.Time
	symbols          []string
	regimeSymbol     string

	book       *ledger.Ledger
	agents     []agents.Agent
	ens        *ensemble.Ensemble
	classifier regime.Classifier

	hist  history
	marks map[string]float64
	fresh map[string]bool

	state  atomic.Int32
	day    int
	fitAt  int
	regime regime.Regime

	prevScores map[string]map[string]float64
	prevMarks  map[string]float64

	rejected   int
	gaps       int
	violations int
	regimes    []report.RegimeChange
}

// NewEngine validates cfg and builds every component of the run. A
// provider must be supplied with WithProvider.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if o.provider == nil {
		return nil, errors.New("backtest: a price provider is required")
	}

	start, _ := cfg.StartDate()
	end, _ := cfg.EndDate()
	if o.calendar == nil {
		cal, err := cfg.Calendar()
		if err != nil {
			return nil, err
		}
		o.calendar = cal
	}
	days := market.TradingDays(o.calendar, start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("backtest: no trading days between %s and %s", cfg.Run.Start, cfg.Run.End)
	}

	runID, err := RunID(cfg)
	if err != nil {
		return nil, err
	}

	book, err := ledger.New(cfg.Account.InitialCapital, cfg.Costs, ledger.WithIDs(id.NewGenerator(cfg.Run.Seed)))
	if err != nil {
		return nil, err
	}

	as, ids, err := buildAgents(cfg, o.agents)
	if err != nil {
		return nil, err
	}

	ens, err := ensemble.New(cfg.Ensemble.Weights, ids, cfg.Ensemble.Threshold, cfg.Ensemble.Adaptation)
	if err != nil {
		return nil, err
	}

	var cls regime.Classifier
	switch cfg.Regime.Kind {
	case config.RegimeRule:
		cls = regime.NewRule(cfg.Regime.Rule)
	default:
		cls = regime.NewGMM(cfg.Regime.GMM)
	}

	symbols := append([]string(nil), cfg.Run.Symbols...)
	sort.Strings(symbols)
	regimeSymbol := symbols[0]
	if cfg.Run.Benchmark != "" {
		regimeSymbol = cfg.Run.Benchmark
	}

	e := &Engine{
		cfg:          cfg,
		opts:         o,
		runID:        runID,
		start:        start,
		end:          end,
		from:         start.AddDate(0, 0, -cfg.Run.LookbackDays),
		days:         days,
		symbols:      symbols,
		regimeSymbol: regimeSymbol,
		book:         book,
		agents:       as,
		ens:          ens,
		classifier:   cls,
		marks:        make(map[string]float64),
		fresh:        make(map[string]bool),
		fitAt:        -1,
		regime:       regime.UnknownRegime(),
	}
	e.opts.log = o.log.With(zap.String("run_id", runID))
	return e, nil
}

func buildAgents(cfg *config.Config, given []agents.Agent) ([]agents.Agent, []string, error) {
	if len(given) > 0 {
		as := append([]agents.Agent(nil), given...)
		sort.SliceStable(as, func(i, j int) bool { return as[i].ID() < as[j].ID() })
		ids := make([]string, len(as))
		for i, a := range as {
			ids[i] = a.ID()
		}
		return as, ids, nil
	}

	var deps agents.Deps
	if cfg.Data.Sentiment != "" {
		src, err := agents.LoadFileSentiment(cfg.Data.Sentiment)
		if err != nil {
			return nil, nil, err
		}
		deps.Sentiment = src
	}
	ids := cfg.AgentIDs()
	as := make([]agents.Agent, 0, len(ids))
	for _, name := range ids {
		a, err := agents.New(name, deps)
		if err != nil {
			return nil, nil, err
		}
		as = append(as, a)
	}
	return as, ids, nil
}

// RunID derives a stable id from the encoded configuration, so reruns of
// the same config share it.
func RunID(cfg *config.Config) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("backtest: encode config: %w", err)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, append([]byte("backtester:"), raw...)).String(), nil
}

func (e *Engine) RunID() string { return e.runID }

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) Ledger() *ledger.Ledger { return e.book }

// Regime is the label used at the latest rebalance.
func (e *Engine) Regime() regime.Regime { return e.regime }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.opts.onState != nil {
		e.opts.onState(s)
	}
}

// Run simulates every trading day. When ctx is cancelled between days it
// returns the partial artifact together with ctx.Err().
func (e *Engine) Run(ctx context.Context) (*report.Artifact, error) {
	if e.State() != Idle {
		return nil, errors.New("backtest: engine already ran")
	}
	began := time.Now()
	log := e.opts.log

	h, err := loadHistory(ctx, e.opts.provider, Symbols(e.cfg), e.from, e.start, e.end, e.cfg.Run.Workers)
	if err != nil {
		return nil, err
	}
	e.hist = h
	for _, sym := range e.symbols {
		if prior := market.Until(h[sym], e.start.AddDate(0, 0, -1)); len(prior) > 0 {
			e.marks[sym] = prior[len(prior)-1].Close
		}
	}

	log.Info("backtest started",
		zap.String("start", e.cfg.Run.Start),
		zap.String("end", e.cfg.Run.End),
		zap.Strings("symbols", e.symbols),
		zap.Int("days", len(e.days)),
	)

	for _, day := range e.days {
		if err := ctx.Err(); err != nil {
			a, ferr := e.finish(ctx, report.StatusPartial)
			log.Warn("backtest cancelled", zap.Int("days_done", e.day), zap.Error(err))
			return a, errors.Join(err, ferr)
		}
		if err := e.step(day); err != nil {
			return nil, err
		}
	}

	a, err := e.finish(ctx, report.StatusComplete)
	if err != nil {
		return a, err
	}
	e.opts.metrics.RunDuration.Observe(time.Since(began).Seconds())
	log.Info("backtest finished",
		zap.Float64("final_value", a.Summary.FinalValue),
		zap.Float64("total_return", a.Performance.TotalReturn),
		zap.Int("trades", a.Performance.TradeCount),
	)
	return a, nil
}

// step runs one trading day.
func (e *Engine) step(day time.Time) error {
	e.setState(Running)
	e.markDay(day)

	if err := e.pollExits(day); err != nil {
		return err
	}

	if e.day%e.cfg.Run.RebalanceInterval == 0 {
		e.setState(RebalanceDue)
		evals, decisions := e.evaluate(day)
		e.setState(AgentsEvaluated)
		if err := e.resolve(day, evals, decisions); err != nil {
			return err
		}
		e.setState(OrdersResolved)
	}

	snap := e.book.Snapshot(day, e.prices())
	if err := e.opts.journal.RecordSnapshot(snap); err != nil {
		return fmt.Errorf("backtest: journal snapshot: %w", err)
	}
	e.opts.metrics.Days.Inc()
	e.opts.metrics.Equity.Set(snap.TotalValue)
	e.setState(SnapshotRecorded)
	e.day++
	return nil
}

// markDay refreshes marks from today's bars. A symbol without a bar keeps
// its previous close.
func (e *Engine) markDay(day time.Time) {
	for _, sym := range e.symbols {
		if b, ok := market.At(e.hist[sym], day); ok {
			e.marks[sym] = b.Close
			e.fresh[sym] = true
			continue
		}
		e.fresh[sym] = false
		gap := &market.GapError{Symbol: sym, Date: day}
		e.gaps++
		e.opts.metrics.DataGaps.Inc()
		e.opts.log.Warn("data gap, carrying last close forward",
			zap.String("symbol", sym),
			zap.String("date", day.Format(market.DateLayout)),
			zap.Float64("mark", e.marks[sym]),
			zap.Error(gap),
		)
		e.emit(notify.DataGap, day, sym, gap.Error(), nil)
	}
}

func (e *Engine) prices() map[string]float64 {
	out := make(map[string]float64, len(e.marks))
	for k, v := range e.marks {
		out[k] = v
	}
	return out
}

// pollExits sells positions whose close breached the stop or the target.
func (e *Engine) pollExits(day time.Time) error {
	for _, p := range e.book.Positions() {
		if !e.fresh[p.Symbol] {
			continue
		}
		mark := e.marks[p.Symbol]
		reason, hit := risk.ExitReason(p.AverageCost, mark, e.cfg.Risk)
		if !hit {
			continue
		}
		t, ok, err := e.execute(ledger.Order{Symbol: p.Symbol, Side: ledger.Sell, Quantity: p.Quantity, Price: mark, Time: day, Reason: reason})
		if err != nil {
			return err
		}
		if ok {
			e.opts.log.Info("protective exit",
				zap.String("symbol", p.Symbol),
				zap.String("date", day.Format(market.DateLayout)),
				zap.String("reason", reason),
				zap.Float64("entry", p.AverageCost),
				zap.Float64("mark", mark),
				zap.Float64("realized_pnl", t.RealizedPnL),
			)
			e.emit(notify.ProtectiveExit, day, p.Symbol, reason, map[string]string{
				"realized_pnl": fmt.Sprintf("%.2f", t.RealizedPnL),
			})
		}
	}
	return nil
}

type evaluation struct {
	symbol  string
	close   float64
	vol     float64
	signals []agents.Signal
}

// evaluate classifies the regime and scores every symbol with a bar today.
// Scoring runs concurrently over read-only history; combining is serial.
func (e *Engine) evaluate(day time.Time) ([]evaluation, []ensemble.Decision) {
	r := e.classify(day)
	e.adapt()
	if e.ens.SetRegime(r.Label) {
		e.regimeChanged(day, r)
	}
	e.regime = r

	var syms []string
	for _, sym := range e.symbols {
		if e.fresh[sym] {
			syms = append(syms, sym)
		}
	}

	evals := make([]evaluation, len(syms))
	var g errgroup.Group
	if w := e.cfg.Run.Workers; w > 0 {
		g.SetLimit(w)
	}
	for i, sym := range syms {
		i, sym := i, sym
		g.Go(func() error {
			bars := market.Until(e.hist[sym], day)
			c := agents.NewContext(bars, r)
			sigs := make([]agents.Signal, len(e.agents))
			for j, a := range e.agents {
				sigs[j] = a.Score(sym, day, c)
			}
			evals[i] = evaluation{symbol: sym, close: bars[len(bars)-1].Close, vol: c.Indicators.Vol20, signals: sigs}
			return nil
		})
	}
	_ = g.Wait()

	decisions := make([]ensemble.Decision, len(evals))
	e.prevScores = make(map[string]map[string]float64, len(evals))
	e.prevMarks = make(map[string]float64, len(evals))
	for i, ev := range evals {
		decisions[i] = e.ens.Combine(ev.symbol, day, ev.signals, r)
		scores := make(map[string]float64, len(ev.signals))
		for _, s := range ev.signals {
			scores[s.AgentID] = s.Score
		}
		e.prevScores[ev.symbol] = scores
		e.prevMarks[ev.symbol] = ev.close
	}
	return evals, decisions
}

// classify labels the market from the regime symbol, refitting the model
// on the first rebalance and every RefitEvery trading days after.
func (e *Engine) classify(day time.Time) regime.Regime {
	bars := market.Until(e.hist[e.regimeSymbol], day)
	refit := e.cfg.Regime.RefitEvery
	if e.fitAt < 0 || (refit > 0 && e.day-e.fitAt >= refit) {
		if err := e.classifier.Fit(bars); err != nil {
			e.opts.log.Debug("regime fit skipped", zap.String("model", e.classifier.Name()), zap.Error(err))
		} else {
			e.fitAt = e.day
		}
	}
	return e.classifier.Classify(bars)
}

func (e *Engine) regimeChanged(day time.Time, r regime.Regime) {
	e.regimes = append(e.regimes, report.RegimeChange{Date: day, Label: string(r.Label)})
	e.opts.log.Info("regime change",
		zap.String("date", day.Format(market.DateLayout)),
		zap.String("regime", string(r.Label)),
		zap.Float64s("probabilities", r.Probabilities),
	)
	e.emit(notify.RegimeChange, day, "", "regime is now "+string(r.Label), map[string]string{"regime": string(r.Label)})
}

// adapt credits each agent with its previous score times the return of
// the symbol since the last rebalance.
func (e *Engine) adapt() {
	if !e.cfg.Ensemble.Adaptation.Enabled || len(e.prevScores) == 0 {
		return
	}
	pnl := make(map[string]float64)
	syms := make([]string, 0, len(e.prevScores))
	for s := range e.prevScores {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		prev := e.prevMarks[sym]
		if prev <= 0 || !e.fresh[sym] {
			continue
		}
		ret := e.marks[sym]/prev - 1
		for agent, score := range e.prevScores[sym] {
			pnl[agent] += score * ret
		}
	}
	e.ens.Adapt(pnl)
}

// resolve turns decisions into orders: sells first, then buys, each in
// ascending symbol order.
func (e *Engine) resolve(day time.Time, evals []evaluation, decisions []ensemble.Decision) error {
	log := e.opts.log
	check := risk.CheckPortfolio(e.cfg.Risk, e.book.Snapshots(), e.book.Trades())
	if !check.OK {
		e.violations++
		codes := make([]string, len(check.Violations))
		for i, v := range check.Violations {
			codes[i] = v.Code
			e.opts.metrics.Violations.WithLabelValues(v.Code).Inc()
		}
		err := check.Err()
		log.Warn("risk limits violated",
			zap.String("date", day.Format(market.DateLayout)),
			zap.Strings("codes", codes),
			zap.Error(err),
		)
		e.emit(notify.LimitViolation, day, "", err.Error(), map[string]string{"codes": strings.Join(codes, ",")})
	}

	for i, d := range decisions {
		if d.Action != ensemble.Sell {
			continue
		}
		p, ok := e.book.Position(d.Symbol)
		if !ok {
			continue
		}
		if _, _, err := e.execute(ledger.Order{Symbol: d.Symbol, Side: ledger.Sell, Quantity: p.Quantity, Price: evals[i].close, Time: day, Reason: ReasonSignal}); err != nil {
			return err
		}
	}

	if !check.OK && e.opts.policy == BlockBuys {
		log.Info("buys blocked by risk limits", zap.String("date", day.Format(market.DateLayout)))
		return nil
	}
	for i, d := range decisions {
		if d.Action != ensemble.Buy {
			continue
		}
		if err := e.buy(day, d, evals[i], check); err != nil {
			return err
		}
	}
	return nil
}

// buy tops the position up toward its target fraction of total value,
// leaving the cash reserve untouched and staying under the exposure cap.
func (e *Engine) buy(day time.Time, d ensemble.Decision, ev evaluation, check risk.Check) error {
	prices := e.prices()
	equity := e.book.MarkToMarket(prices)
	frac := risk.AdjustForRisk(risk.PositionSize(d, d.Confidence, equity, ev.vol, e.cfg.Risk), check)
	if frac <= 0 {
		return nil
	}

	eff := e.book.Costs().EffectivePrice(ledger.Buy, ev.close)
	units := risk.Units(frac, equity, eff)
	if p, ok := e.book.Position(d.Symbol); ok {
		units -= p.Quantity
	}
	cash := e.book.Cash()
	units = math.Min(units, math.Floor((cash-e.cfg.Account.CashReserve*equity)/eff))
	units = math.Min(units, math.Floor((e.cfg.Risk.MaxPortfolioExposure*equity-(equity-cash))/ev.close))
	if units < 1 {
		return nil
	}

	planned := risk.PlannedRisk(units, eff, e.cfg.Risk)
	e.opts.log.Debug("buy sized",
		zap.String("symbol", d.Symbol),
		zap.String("date", day.Format(market.DateLayout)),
		zap.Float64("score", d.Score),
		zap.Float64("fraction", frac),
		zap.Float64("units", units),
		zap.Float64("planned_risk", planned),
		zap.Float64("risk_pct", risk.RiskPct(planned, equity)),
	)
	_, _, err := e.execute(ledger.Order{Symbol: d.Symbol, Side: ledger.Buy, Quantity: units, Price: ev.close, Time: day, Reason: ReasonSignal})
	return err
}

// execute submits o. A rejection is recorded and reported as ok=false;
// the error return is reserved for journal failures.
func (e *Engine) execute(o ledger.Order) (ledger.Trade, bool, error) {
	t, err := e.book.Submit(o)
	if err != nil {
		var rej *ledger.RejectedError
		if !errors.As(err, &rej) {
			return ledger.Trade{}, false, err
		}
		e.rejected++
		reason := rejectReason(rej.Err)
		e.opts.metrics.Rejections.WithLabelValues(reason).Inc()
		e.opts.log.Warn("order rejected",
			zap.String("symbol", o.Symbol),
			zap.String("date", o.Time.Format(market.DateLayout)),
			zap.String("side", string(o.Side)),
			zap.Float64("quantity", o.Quantity),
			zap.String("reason", reason),
		)
		e.emit(notify.OrderRejected, o.Time, o.Symbol, err.Error(), map[string]string{"reason": reason})
		return ledger.Trade{}, false, nil
	}

	if err := e.opts.journal.RecordTrade(t); err != nil {
		return t, true, fmt.Errorf("backtest: journal trade: %w", err)
	}
	e.opts.metrics.Trades.WithLabelValues(string(t.Side)).Inc()
	e.opts.log.Debug("trade executed",
		zap.String("id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.Float64("quantity", t.Quantity),
		zap.Float64("fill_price", t.FillPrice),
		zap.Float64("cash_after", t.CashAfter),
	)
	e.emit(notify.TradeExecuted, t.Timestamp, t.Symbol, fmt.Sprintf("%s %g @ %.4f", t.Side, t.Quantity, t.FillPrice), map[string]string{
		"trade_id": t.ID,
		"reason":   t.Reason,
	})
	return t, true, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, ledger.ErrInsufficientPosition):
		return "insufficient_position"
	default:
		return "invalid_order"
	}
}

func (e *Engine) emit(kind notify.Kind, day time.Time, symbol, msg string, attrs map[string]string) {
	e.opts.sink.Emit(notify.Event{Kind: kind, RunID: e.runID, Time: day, Symbol: symbol, Msg: msg, Attrs: attrs})
}

// finish builds the artifact from everything simulated so far.
func (e *Engine) finish(ctx context.Context, status string) (*report.Artifact, error) {
	e.setState(Finished)

	snaps := e.book.Snapshots()
	trades := e.book.Trades()

	sum := report.Summarize(trades)
	sum.Rejected = e.rejected
	sum.DataGaps = e.gaps
	sum.Violations = e.violations
	sum.Regimes = append([]report.RegimeChange(nil), e.regimes...)
	if n := len(snaps); n > 0 {
		sum.FinalValue = snaps[n-1].TotalValue
		if b := e.cfg.Run.Benchmark; b != "" {
			sum.BenchmarkReturn = e.hist.returnOver(b, e.start, snaps[n-1].Date)
		}
	} else {
		sum.FinalValue = e.book.InitialCapital()
	}

	a := &report.Artifact{
		Run: report.Run{
			ID:             e.runID,
			Name:           e.cfg.Run.Name,
			Status:         status,
			Start:          e.start,
			End:            e.end,
			Symbols:        append([]string(nil), e.symbols...),
			Seed:           e.cfg.Run.Seed,
			InitialCapital: e.cfg.Account.InitialCapital,
		},
		Performance: report.Compute(e.cfg.Account.InitialCapital, snaps, trades),
		Summary:     sum,
		Trades:      trades,
		Snapshots:   snaps,
	}

	e.emit(notify.RunFinished, e.end, "", "backtest "+status, map[string]string{
		"final_value":  fmt.Sprintf("%.2f", sum.FinalValue),
		"total_return": fmt.Sprintf("%.4f", a.Performance.TotalReturn),
	})
	return a, e.catalogue(context.WithoutCancel(ctx), a)
}

func (e *Engine) catalogue(ctx context.Context, a *report.Artifact) error {
	if e.opts.runs == nil {
		return nil
	}
	cfgJSON, err := json.Marshal(e.cfg)
	if err != nil {
		return fmt.Errorf("backtest: encode config: %w", err)
	}
	perfJSON, err := json.Marshal(a.Performance)
	if err != nil {
		return fmt.Errorf("backtest: encode report: %w", err)
	}
	rec := journal.RunRecord{
		RunID:       a.Run.ID,
		CreatedAt:   time.Now().UTC(),
		Start:       a.Run.Start,
		End:         a.Run.End,
		Symbols:     strings.Join(a.Run.Symbols, ","),
		Status:      a.Run.Status,
		FinalValue:  a.Summary.FinalValue,
		TotalReturn: a.Performance.TotalReturn,
		Sharpe:      a.Performance.Sharpe,
		MaxDrawdown: a.Performance.MaxDrawdown,
		TradeCount:  a.Performance.TradeCount,
		Config:      datatypes.JSON(cfgJSON),
		Report:      datatypes.JSON(perfJSON),
	}
	if err := e.opts.runs.Save(ctx, rec); err != nil {
		return fmt.Errorf("backtest: save run: %w", err)
	}
	return nil
}
