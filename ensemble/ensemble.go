// Package ensemble combines agent signals into one decision per symbol
// using regime-dependent weights.
package ensemble

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/regime"
)

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
	Hold Action = "hold"
)

// DefaultThreshold is the score magnitude needed to act.
const DefaultThreshold = 0.3

// WeightTable maps a regime label to agent weights. Each map sums to 1.
type WeightTable map[string]map[string]float64

// DefaultWeights leans on trend followers in a bull market, on the
// factor model sideways and on technical mean reversion in a bear market.
func DefaultWeights() WeightTable {
	return WeightTable{
		string(regime.Bull):     {"technical": 0.2, "factor": 0.3, "momentum": 0.4, "sentiment": 0.1},
		string(regime.Sideways): {"technical": 0.3, "factor": 0.4, "momentum": 0.2, "sentiment": 0.1},
		string(regime.Bear):     {"technical": 0.4, "factor": 0.3, "momentum": 0.2, "sentiment": 0.1},
	}
}

// Contribution records one agent's share of a decision.
type Contribution struct {
	AgentID    string  `json:"agent_id" yaml:"agent_id"`
	Score      float64 `json:"score" yaml:"score"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Weight     float64 `json:"weight" yaml:"weight"`
}

type Decision struct {
	Symbol     string         `json:"symbol" yaml:"symbol"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
	Action     Action         `json:"action" yaml:"action"`
	Score      float64        `json:"score" yaml:"score"`           // [-1, 1]
	Strength   float64        `json:"strength" yaml:"strength"`     // |score|
	Confidence float64        `json:"confidence" yaml:"confidence"` // weight-averaged agent confidence
	Regime     regime.Label   `json:"regime" yaml:"regime"`
	Breakdown  []Contribution `json:"breakdown" yaml:"breakdown"`
}

// ValidateTable checks that every map is for a known regime, has no
// negative weights and sums to 1. Agents, when given, restrict the names.
func ValidateTable(t WeightTable, known []string) error {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	for _, label := range sortedKeys(t) {
		if !regime.Label(label).Valid() {
			return fmt.Errorf("weights: unknown regime %q", label)
		}
		sum := 0.0
		for _, agent := range sortedKeys(t[label]) {
			w := t[label][agent]
			if w < 0 || math.IsNaN(w) {
				return fmt.Errorf("weights: %s/%s must not be negative", label, agent)
			}
			if len(known) > 0 && !allowed[agent] {
				return fmt.Errorf("weights: %s/%s is not an active agent", label, agent)
			}
			sum += w
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("weights: %s sums to %v, want 1", label, sum)
		}
	}
	return nil
}

// Combine aggregates signals with weights. It sorts its input by agent so
// the result does not depend on signal order. Agents without a weight are
// ignored; an empty weight map weighs every signal equally.
func Combine(symbol string, ts time.Time, signals []agents.Signal, weights map[string]float64, label regime.Label, threshold float64) Decision {
	d := Decision{Symbol: symbol, Timestamp: ts, Action: Hold, Regime: label}

	sorted := append([]agents.Signal(nil), signals...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	equal := len(weights) == 0
	num, den, wsum := 0.0, 0.0, 0.0
	for _, s := range sorted {
		w := 1.0 / float64(len(sorted))
		if !equal {
			var ok bool
			if w, ok = weights[s.AgentID]; !ok {
				continue
			}
		}
		d.Breakdown = append(d.Breakdown, Contribution{AgentID: s.AgentID, Score: s.Score, Confidence: s.Confidence, Weight: w})
		num += w * s.Score * s.Confidence
		den += w * s.Confidence
		wsum += w
	}
	if den <= 0 {
		return d
	}

	d.Score = math.Max(-1, math.Min(1, num/den))
	d.Strength = math.Abs(d.Score)
	if wsum > 0 {
		d.Confidence = den / wsum
	}
	switch {
	case d.Score > threshold:
		d.Action = Buy
	case d.Score < -threshold:
		d.Action = Sell
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
