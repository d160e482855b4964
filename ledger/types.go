package ledger

import (
	"errors"
	"fmt"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidOrder         = errors.New("invalid order")
)

// Costs are proportional per-fill charges applied to the reference price.
type Costs struct {
	Commission float64 `json:"commission" yaml:"commission"`
	Slippage   float64 `json:"slippage" yaml:"slippage"`
}

// Order is a request to trade at a reference price.
type Order struct {
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
	Time     time.Time
	Reason   string
}

// RejectedError describes an order that left the ledger untouched.
type RejectedError struct {
	Order Order
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger: %s %g %s rejected: %v", e.Order.Side, e.Order.Quantity, e.Order.Symbol, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

type Position struct {
	Symbol      string  `json:"symbol" yaml:"symbol"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	AverageCost float64 `json:"average_cost" yaml:"average_cost"`
}

// Trade is one executed fill. RealizedPnL is set on sells only.
type Trade struct {
	ID          string    `json:"id" yaml:"id"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Symbol      string    `json:"symbol" yaml:"symbol"`
	Side        Side      `json:"side" yaml:"side"`
	Quantity    float64   `json:"quantity" yaml:"quantity"`
	FillPrice   float64   `json:"fill_price" yaml:"fill_price"`
	GrossAmount float64   `json:"gross_amount" yaml:"gross_amount"`
	CashAfter   float64   `json:"cash_after" yaml:"cash_after"`
	RealizedPnL float64   `json:"realized_pnl" yaml:"realized_pnl"`
	Reason      string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type Snapshot struct {
	Date           time.Time `json:"date" yaml:"date"`
	Cash           float64   `json:"cash" yaml:"cash"`
	PositionsValue float64   `json:"positions_value" yaml:"positions_value"`
	TotalValue     float64   `json:"total_value" yaml:"total_value"`
	DailyReturn    float64   `json:"daily_return" yaml:"daily_return"`
}
