package agents

import (
	"math"
	"time"

	"github.com/rustyeddy/backtester/market"
)

type MomentumOptions struct {
	Window int     // training samples drawn from the visible history
	Epochs int     // batch gradient steps
	Rate   float64 // learning rate
	L2     float64 // weight decay
}

func DefaultMomentumOptions() MomentumOptions {
	return MomentumOptions{Window: 60, Epochs: 200, Rate: 0.5, L2: 1e-3}
}

// Momentum is a learned agent: a logistic model of next-day direction,
// refitted on every call from the visible history only, blended with a
// squashed 5-day price change.
type Momentum struct {
	opts MomentumOptions
}

func NewMomentum(opts MomentumOptions) *Momentum {
	def := DefaultMomentumOptions()
	if opts.Window < 20 {
		opts.Window = def.Window
	}
	if opts.Epochs <= 0 {
		opts.Epochs = def.Epochs
	}
	if opts.Rate <= 0 {
		opts.Rate = def.Rate
	}
	if opts.L2 < 0 {
		opts.L2 = def.L2
	}
	return &Momentum{opts: opts}
}

func (a *Momentum) ID() string { return "momentum" }

// momentumLag is the longest look-back any feature uses.
const momentumLag = 10

func momentumFeatures(closes []float64, i int) []float64 {
	c := closes[i]
	sma := 0.0
	for _, v := range closes[i-momentumLag+1 : i+1] {
		sma += v
	}
	sma /= momentumLag
	return []float64{
		c/closes[i-1] - 1,
		c/closes[i-5] - 1,
		c/closes[i-momentumLag] - 1,
		c/sma - 1,
	}
}

func (a *Momentum) Score(symbol string, ts time.Time, c *Context) Signal {
	closes := market.Closes(c.Bars)
	n := len(closes)
	if n < momentumLag+a.opts.Window/2+1 {
		return Neutral(a.ID(), symbol, ts)
	}

	// samples i have a known next-day label, so the last one is n-2
	first := n - 1 - a.opts.Window
	if first < momentumLag {
		first = momentumLag
	}
	var xs [][]float64
	var ys []float64
	for i := first; i < n-1; i++ {
		xs = append(xs, momentumFeatures(closes, i))
		y := 0.0
		if closes[i+1] > closes[i] {
			y = 1
		}
		ys = append(ys, y)
	}

	center, scale := columnStats(xs)
	for _, x := range xs {
		normalize(x, center, scale)
	}
	w := a.fit(xs, ys)

	x := momentumFeatures(closes, n-1)
	normalize(x, center, scale)
	p := sigmoid(dot(w, x))

	learned := 2*p - 1
	change := math.Tanh((closes[n-1]/closes[n-6] - 1) * 10)
	score := 0.5*learned + 0.5*change
	return NewSignal(a.ID(), symbol, ts, score, math.Abs(score))
}

// fit runs batch gradient descent from zero weights; the last weight is the bias.
func (a *Momentum) fit(xs [][]float64, ys []float64) []float64 {
	d := len(xs[0])
	w := make([]float64, d+1)
	grad := make([]float64, d+1)
	m := float64(len(xs))
	for e := 0; e < a.opts.Epochs; e++ {
		for j := range grad {
			grad[j] = 0
		}
		for i, x := range xs {
			diff := sigmoid(dot(w, x)) - ys[i]
			for j, v := range x {
				grad[j] += diff * v
			}
			grad[d] += diff
		}
		for j := range w {
			g := grad[j] / m
			if j < d {
				g += a.opts.L2 * w[j]
			}
			w[j] -= a.opts.Rate * g
		}
	}
	return w
}

func dot(w, x []float64) float64 {
	z := w[len(w)-1]
	for j, v := range x {
		z += w[j] * v
	}
	return z
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func columnStats(xs [][]float64) (center, scale []float64) {
	d := len(xs[0])
	center = make([]float64, d)
	scale = make([]float64, d)
	n := float64(len(xs))
	for _, x := range xs {
		for j, v := range x {
			center[j] += v / n
		}
	}
	for _, x := range xs {
		for j, v := range x {
			scale[j] += (v - center[j]) * (v - center[j]) / n
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j])
		if scale[j] < 1e-12 {
			scale[j] = 1
		}
	}
	return center, scale
}

func normalize(x, center, scale []float64) {
	for j := range x {
		x[j] = (x[j] - center[j]) / scale[j]
	}
}
