// Package agents turns a symbol's visible history into bounded trading signals.
package agents

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/backtester/indicators"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/regime"
)

// Signal is one agent's view on a symbol at a point in time.
type Signal struct {
	Symbol     string    `json:"symbol" yaml:"symbol"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	AgentID    string    `json:"agent_id" yaml:"agent_id"`
	Score      float64   `json:"score" yaml:"score"`           // [-1, 1]
	Confidence float64   `json:"confidence" yaml:"confidence"` // [0, 1]
}

// NewSignal clamps score and confidence into range.
func NewSignal(agentID, symbol string, ts time.Time, score, confidence float64) Signal {
	return Signal{
		Symbol:     symbol,
		Timestamp:  ts,
		AgentID:    agentID,
		Score:      indicators.Clamp(score, -1, 1),
		Confidence: indicators.Clamp(confidence, 0, 1),
	}
}

// Neutral is the zero signal returned when an agent cannot form a view.
func Neutral(agentID, symbol string, ts time.Time) Signal {
	return Signal{Symbol: symbol, Timestamp: ts, AgentID: agentID}
}

// Context is everything an agent may look at. Bars end at the scoring
// day; nothing later is visible.
type Context struct {
	Bars       []market.Bar
	Indicators indicators.Snapshot
	Regime     regime.Regime
}

// NewContext computes the indicator snapshot for bars.
func NewContext(bars []market.Bar, r regime.Regime) *Context {
	return &Context{Bars: bars, Indicators: indicators.Compute(bars), Regime: r}
}

// Agent scores a symbol. Implementations must be deterministic for the
// same context and return a neutral signal when history is too short.
type Agent interface {
	ID() string
	Score(symbol string, ts time.Time, c *Context) Signal
}

// Deps are the external collaborators some agents need.
type Deps struct {
	Sentiment Source
}

// Names lists the agents New knows about.
var Names = []string{"technical", "factor", "momentum", "sentiment"}

// New builds an agent by name.
func New(name string, deps Deps) (Agent, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "technical", "ta":
		return NewTechnical(), nil
	case "factor":
		return NewFactor(), nil
	case "momentum", "learned":
		return NewMomentum(DefaultMomentumOptions()), nil
	case "sentiment":
		return NewSentiment(deps.Sentiment), nil
	default:
		return nil, fmt.Errorf("unknown agent %q (supported: %s)", name, strings.Join(Names, ", "))
	}
}
