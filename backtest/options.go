package backtest

import (
	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/journal"
	"github.com/rustyeddy/backtester/logger"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/metrics"
	"github.com/rustyeddy/backtester/notify"
)

// ViolationPolicy decides how buys react to a failed portfolio check.
type ViolationPolicy int

const (
	// BlockBuys skips every buy on a day with a limit violation.
	BlockBuys ViolationPolicy = iota
	// HalveBuys keeps buying at half the usual size.
	HalveBuys
)

type options struct {
	log      logger.Logger
	sink     notify.Sink
	metrics  *metrics.Metrics
	journal  journal.Journal
	runs     *journal.RunStore
	provider market.Provider
	calendar market.Calendar
	agents   []agents.Agent
	policy   ViolationPolicy
	onState  func(State)
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSink sets the notification sink. It must not block.
func WithSink(s notify.Sink) Option {
	return func(o *options) { o.sink = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithJournal streams trades and snapshots as they happen. The caller
// keeps ownership and closes it.
func WithJournal(j journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithRunStore saves a catalogue row when the run ends.
func WithRunStore(s *journal.RunStore) Option {
	return func(o *options) { o.runs = s }
}

// WithProvider overrides the data source named in the config.
func WithProvider(p market.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithCalendar overrides the holiday calendar built from the config.
func WithCalendar(c market.Calendar) Option {
	return func(o *options) { o.calendar = c }
}

// WithAgents replaces the agents named in the config. The weight table
// must then only name these agents, or be empty for equal weights.
func WithAgents(as ...agents.Agent) Option {
	return func(o *options) { o.agents = as }
}

func WithViolationPolicy(p ViolationPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *options) { o.onState = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		log:     logger.NewNop(),
		sink:    notify.Nop{},
		metrics: metrics.Unregistered(),
		journal: journal.Nop{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
