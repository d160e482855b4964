package ledger

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/backtester/pkg/id"
	"github.com/shopspring/decimal"
)

// Ledger is the authoritative cash and position book for one run.
//
// Cash and position quantities are held as decimals so that repeated
// fills never accumulate rounding drift; positions, trades and snapshots
// expose float64 views of them.
type Ledger struct {
	mu sync.Mutex

	initial decimal.Decimal
	cash    decimal.Decimal
	costs   Costs
	ids     *id.Generator

	positions map[string]*Position
	held      map[string]decimal.Decimal
	trades    []Trade
	snapshots []Snapshot
	realized  float64
}

type Option func(*Ledger)

// WithIDs sets the generator used for trade IDs.
func WithIDs(g *id.Generator) Option {
	return func(l *Ledger) { l.ids = g }
}

func New(capital float64, costs Costs, opts ...Option) (*Ledger, error) {
	if capital <= 0 || math.IsNaN(capital) || math.IsInf(capital, 0) {
		return nil, fmt.Errorf("ledger: initial capital must be positive, got %v", capital)
	}
	if costs.Commission < 0 || costs.Slippage < 0 {
		return nil, fmt.Errorf("ledger: costs must not be negative")
	}
	if costs.Commission+costs.Slippage >= 1 {
		return nil, fmt.Errorf("ledger: combined cost rate must be below 1")
	}

	l := &Ledger{
		initial:   decimal.NewFromFloat(capital),
		cash:      decimal.NewFromFloat(capital),
		costs:     costs,
		positions: make(map[string]*Position),
		held:      make(map[string]decimal.Decimal),
	}
	for _, o := range opts {
		o(l)
	}
	if l.ids == nil {
		l.ids = id.NewGenerator(0)
	}
	return l, nil
}

// EffectivePrice applies slippage and commission against the trader.
func (c Costs) EffectivePrice(side Side, ref float64) float64 {
	rate := c.Slippage + c.Commission
	if side == Sell {
		return ref * (1 - rate)
	}
	return ref * (1 + rate)
}

// Execute fills quantity of symbol at the reference price.
func (l *Ledger) Execute(symbol string, side Side, quantity, price float64, ts time.Time) (Trade, error) {
	return l.Submit(Order{Symbol: symbol, Side: side, Quantity: quantity, Price: price, Time: ts})
}

// Submit fills an order or rejects it with no side effects.
func (l *Ledger) Submit(o Order) (Trade, error) {
	if err := validate(o); err != nil {
		return Trade{}, &RejectedError{Order: o, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	eff := l.costs.EffectivePrice(o.Side, o.Price)
	qty := decimal.NewFromFloat(o.Quantity)
	gross := qty.Mul(decimal.NewFromFloat(eff))

	t := Trade{
		Timestamp: o.Time,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Quantity,
		FillPrice: eff,
		Reason:    o.Reason,
	}

	switch o.Side {
	case Buy:
		if gross.GreaterThan(l.cash) {
			return Trade{}, &RejectedError{Order: o, Err: ErrInsufficientCash}
		}
		l.cash = l.cash.Sub(gross)

		p, ok := l.positions[o.Symbol]
		if !ok {
			p = &Position{Symbol: o.Symbol}
			l.positions[o.Symbol] = p
		}
		l.held[o.Symbol] = l.held[o.Symbol].Add(qty)
		p.AverageCost = (p.Quantity*p.AverageCost + o.Quantity*eff) / (p.Quantity + o.Quantity)
		p.Quantity = l.held[o.Symbol].InexactFloat64()

	case Sell:
		p, ok := l.positions[o.Symbol]
		if !ok || qty.GreaterThan(l.held[o.Symbol]) {
			return Trade{}, &RejectedError{Order: o, Err: ErrInsufficientPosition}
		}
		l.cash = l.cash.Add(gross)

		t.RealizedPnL = o.Quantity * (eff - p.AverageCost)
		l.realized += t.RealizedPnL

		rest := l.held[o.Symbol].Sub(qty)
		if rest.IsZero() {
			delete(l.positions, o.Symbol)
			delete(l.held, o.Symbol)
			break
		}
		l.held[o.Symbol] = rest
		p.Quantity = rest.InexactFloat64()
	}

	t.ID = l.ids.New(o.Time)
	t.GrossAmount = gross.InexactFloat64()
	t.CashAfter = l.cash.InexactFloat64()
	l.trades = append(l.trades, t)
	return t, nil
}

func validate(o Order) error {
	switch {
	case o.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case o.Side != Buy && o.Side != Sell:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	case !(o.Quantity > 0) || math.IsInf(o.Quantity, 0):
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case !(o.Price > 0) || math.IsInf(o.Price, 0):
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	return nil
}

// MarkToMarket values the book at prices. A held symbol without a price is
// carried at its average cost.
func (l *Ledger) MarkToMarket(prices map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash.InexactFloat64() + l.positionsValueLocked(prices)
}

func (l *Ledger) positionsValueLocked(prices map[string]float64) float64 {
	total := 0.0
	for _, sym := range l.symbolsLocked() {
		p := l.positions[sym]
		px, ok := prices[sym]
		if !ok || !(px > 0) {
			px = p.AverageCost
		}
		total += p.Quantity * px
	}
	return total
}

// Snapshot values the book at prices and appends the result to the
// snapshot sequence.
func (l *Ledger) Snapshot(date time.Time, prices map[string]float64) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Date:           date,
		Cash:           l.cash.InexactFloat64(),
		PositionsValue: l.positionsValueLocked(prices),
	}
	s.TotalValue = s.Cash + s.PositionsValue
	if n := len(l.snapshots); n > 0 {
		if prev := l.snapshots[n-1].TotalValue; prev > 0 {
			s.DailyReturn = s.TotalValue/prev - 1
		}
	}
	l.snapshots = append(l.snapshots, s)
	return s
}

func (l *Ledger) symbolsLocked() []string {
	syms := make([]string, 0, len(l.positions))
	for s := range l.positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash.InexactFloat64()
}

// CashDecimal returns the exact cash balance.
func (l *Ledger) CashDecimal() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

func (l *Ledger) InitialCapital() float64 {
	return l.initial.InexactFloat64()
}

func (l *Ledger) Costs() Costs { return l.costs }

// RealizedPnL is the running sum of realized profit over all sells.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns open positions ordered by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, sym := range l.symbolsLocked() {
		out = append(out, *l.positions[sym])
	}
	return out
}

func (l *Ledger) Trades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) Snapshots() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}
