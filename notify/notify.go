// Package notify delivers run events to external sinks without ever
// blocking the simulation.
package notify

import (
	"sync"
	"time"

	"github.com/rustyeddy/backtester/logger"
	"go.uber.org/zap"
)

type Kind string

const (
	TradeExecuted  Kind = "trade_executed"
	OrderRejected  Kind = "order_rejected"
	LimitViolation Kind = "limit_violation"
	DataGap        Kind = "data_gap"
	RegimeChange   Kind = "regime_change"
	ProtectiveExit Kind = "protective_exit"
	RunFinished    Kind = "run_finished"
)

// Event is a fire-and-forget notification. Time is the simulated day.
type Event struct {
	Kind   Kind              `json:"kind"`
	RunID  string            `json:"run_id,omitempty"`
	Time   time.Time         `json:"time"`
	Symbol string            `json:"symbol,omitempty"`
	Msg    string            `json:"msg"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Sink receives events. Emit must not block or retry.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Nop drops everything.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// LogSink writes events to a logger.
type LogSink struct {
	Log logger.Logger
}

func (s LogSink) Emit(e Event) {
	fields := []logger.Field{
		zap.String("kind", string(e.Kind)),
		zap.String("date", e.Time.Format("2006-01-02")),
	}
	if e.RunID != "" {
		fields = append(fields, zap.String("run_id", e.RunID))
	}
	if e.Symbol != "" {
		fields = append(fields, zap.String("symbol", e.Symbol))
	}
	for _, k := range sortedKeys(e.Attrs) {
		fields = append(fields, zap.String(k, e.Attrs[k]))
	}
	switch e.Kind {
	case OrderRejected, LimitViolation, DataGap:
		s.Log.Warn(e.Msg, fields...)
	default:
		s.Log.Info(e.Msg, fields...)
	}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
