package ensemble

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/regime"
)

// Adaptation bounds the online weight update.
type Adaptation struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Floor        float64 `json:"floor" yaml:"floor"`
}

func DefaultAdaptation() Adaptation {
	return Adaptation{LearningRate: 0.5, Floor: 0.05}
}

// Ensemble holds the active weight map. The map only changes when the
// regime changes or when adaptation is applied.
type Ensemble struct {
	table     WeightTable
	agents    []string
	threshold float64
	adapt     Adaptation

	label   regime.Label
	weights map[string]float64
	adapted map[regime.Label]map[string]float64

	recomputes int
}

// New validates the table against the active agents.
func New(table WeightTable, agentIDs []string, threshold float64, adapt Adaptation) (*Ensemble, error) {
	if err := ValidateTable(table, agentIDs); err != nil {
		return nil, err
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("ensemble: threshold must be in [0, 1), got %v", threshold)
	}
	if adapt.Enabled && (adapt.LearningRate <= 0 || adapt.Floor < 0 || adapt.Floor >= 1) {
		return nil, fmt.Errorf("ensemble: adaptation needs learning_rate > 0 and floor in [0, 1)")
	}
	return &Ensemble{
		table:     table,
		agents:    append([]string(nil), agentIDs...),
		threshold: threshold,
		adapt:     adapt,
		adapted:   make(map[regime.Label]map[string]float64),
	}, nil
}

// SetRegime switches the active weights. It returns false, and does no
// work, when the label is unchanged.
func (e *Ensemble) SetRegime(label regime.Label) bool {
	if e.weights != nil && label == e.label {
		return false
	}
	e.label = label
	e.recomputes++

	if w, ok := e.adapted[label]; ok {
		e.weights = copyWeights(w)
		return true
	}
	if w, ok := e.table[string(label)]; ok && len(w) > 0 {
		e.weights = copyWeights(w)
		return true
	}
	e.weights = make(map[string]float64, len(e.agents))
	for _, a := range e.agents {
		e.weights[a] = 1 / float64(len(e.agents))
	}
	return true
}

// Combine sets the regime and aggregates signals with the active weights.
func (e *Ensemble) Combine(symbol string, ts time.Time, signals []agents.Signal, r regime.Regime) Decision {
	e.SetRegime(r.Label)
	return Combine(symbol, ts, signals, e.weights, e.label, e.threshold)
}

// Adapt nudges each weight by learning rate times the profit attributed
// to that agent, clamps to [floor, 1] and renormalizes.
func (e *Ensemble) Adapt(pnl map[string]float64) {
	if !e.adapt.Enabled || e.weights == nil || len(pnl) == 0 {
		return
	}
	sum := 0.0
	for _, a := range sortedKeys(e.weights) {
		w := e.weights[a] + e.adapt.LearningRate*pnl[a]
		w = math.Max(e.adapt.Floor, math.Min(1, w))
		e.weights[a] = w
		sum += w
	}
	if sum <= 0 {
		return
	}
	for a := range e.weights {
		e.weights[a] /= sum
	}
	e.adapted[e.label] = copyWeights(e.weights)
}

// Weights returns a copy of the active map.
func (e *Ensemble) Weights() map[string]float64 { return copyWeights(e.weights) }

func (e *Ensemble) Regime() regime.Label { return e.label }

func (e *Ensemble) Threshold() float64 { return e.threshold }

// Recomputes counts how many times the active map was rebuilt.
func (e *Ensemble) Recomputes() int { return e.recomputes }

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
