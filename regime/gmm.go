package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rustyeddy/backtester/market"
)

var ErrNotFitted = errors.New("regime model is not fitted")

type GMMOptions struct {
	States   int     `json:"states" yaml:"states"`     // latent states, 3
	Window   int     `json:"window" yaml:"window"`     // bars per feature vector, 60
	MaxIter  int     `json:"max_iter" yaml:"max_iter"` // EM iterations, 200
	Tol      float64 `json:"tol" yaml:"tol"`           // log-likelihood tolerance
	VarFloor float64 `json:"var_floor" yaml:"var_floor"`
}

func DefaultGMMOptions() GMMOptions {
	return GMMOptions{States: 3, Window: 60, MaxIter: 200, Tol: 1e-6, VarFloor: 1e-3}
}

// GMM is a diagonal Gaussian mixture over standardized feature vectors,
// fitted with EM from a deterministic initialization. States are mapped to
// labels by their mean momentum: highest is bull, lowest is bear and the
// rest are sideways.
type GMM struct {
	opts GMMOptions

	fitted  bool
	center  []float64
	scale   []float64
	weights []float64
	means   [][]float64
	vars    [][]float64
	labels  []Label
}

func NewGMM(opts GMMOptions) *GMM {
	def := DefaultGMMOptions()
	if opts.States < 2 {
		opts.States = def.States
	}
	if opts.Window < MinBars {
		opts.Window = def.Window
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = def.MaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = def.Tol
	}
	if opts.VarFloor <= 0 {
		opts.VarFloor = def.VarFloor
	}
	return &GMM{opts: opts}
}

func (g *GMM) Name() string { return "gmm" }

// FeatureSeries computes one feature vector per bar with enough history.
func FeatureSeries(bars []market.Bar, window int) [][]float64 {
	var out [][]float64
	for i := MinBars; i <= len(bars); i++ {
		lo := 0
		if i > window {
			lo = i - window
		}
		if f, ok := Features(bars[lo:i]); ok {
			out = append(out, f)
		}
	}
	return out
}

func (g *GMM) Fit(bars []market.Bar) error {
	xs := FeatureSeries(bars, g.opts.Window)
	k := g.opts.States
	if len(xs) < 10*k {
		return fmt.Errorf("regime: need %d feature vectors to fit %d states, got %d", 10*k, k, len(xs))
	}

	g.center, g.scale = standardize(xs)
	z := make([][]float64, len(xs))
	for i, x := range xs {
		z[i] = g.transform(x)
	}

	g.initialize(z)
	resp := make([][]float64, len(z))
	for i := range resp {
		resp[i] = make([]float64, k)
	}

	prev := math.Inf(-1)
	for iter := 0; iter < g.opts.MaxIter; iter++ {
		ll := 0.0
		for i, x := range z {
			ll += g.posterior(x, resp[i])
		}
		g.maximize(z, resp)
		if math.Abs(ll-prev) < g.opts.Tol*math.Max(1, math.Abs(ll)) {
			break
		}
		prev = ll
	}

	g.assignLabels()
	g.fitted = true
	return nil
}

func (g *GMM) Classify(bars []market.Bar) Regime {
	if !g.fitted {
		return UnknownRegime()
	}
	f, ok := Features(trailing(bars, g.opts.Window))
	if !ok {
		return UnknownRegime()
	}
	resp := make([]float64, g.opts.States)
	g.posterior(g.transform(f), resp)

	probs := make([]float64, len(Labels))
	for s, p := range resp {
		for i, l := range Labels {
			if g.labels[s] == l {
				probs[i] += p
			}
		}
	}
	return Regime{Label: argmax(probs), Probabilities: probs}
}

// initialize splits samples into equal chunks ordered by momentum.
func (g *GMM) initialize(z [][]float64) {
	k, d := g.opts.States, NumFeatures
	order := make([]int, len(z))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return z[order[a]][FeatMomentum] < z[order[b]][FeatMomentum] })

	g.weights = make([]float64, k)
	g.means = make([][]float64, k)
	g.vars = make([][]float64, k)
	for s := 0; s < k; s++ {
		lo, hi := s*len(z)/k, (s+1)*len(z)/k
		g.weights[s] = 1 / float64(k)
		g.means[s] = make([]float64, d)
		g.vars[s] = make([]float64, d)
		for _, i := range order[lo:hi] {
			for j := 0; j < d; j++ {
				g.means[s][j] += z[i][j]
			}
		}
		for j := 0; j < d; j++ {
			g.means[s][j] /= float64(hi - lo)
			g.vars[s][j] = 1
		}
	}
}

// posterior fills resp with state probabilities for x and returns log p(x).
func (g *GMM) posterior(x []float64, resp []float64) float64 {
	maxLog := math.Inf(-1)
	for s := range resp {
		lp := math.Log(g.weights[s])
		for j, v := range x {
			diff := v - g.means[s][j]
			lp -= 0.5 * (math.Log(2*math.Pi*g.vars[s][j]) + diff*diff/g.vars[s][j])
		}
		resp[s] = lp
		maxLog = math.Max(maxLog, lp)
	}
	sum := 0.0
	for s := range resp {
		resp[s] = math.Exp(resp[s] - maxLog)
		sum += resp[s]
	}
	for s := range resp {
		resp[s] /= sum
	}
	return maxLog + math.Log(sum)
}

func (g *GMM) maximize(z [][]float64, resp [][]float64) {
	n, d := float64(len(z)), NumFeatures
	for s := range g.weights {
		nk := 0.0
		for i := range z {
			nk += resp[i][s]
		}
		if nk < 1e-9 {
			// collapsed state keeps its parameters
			continue
		}
		g.weights[s] = nk / n
		for j := 0; j < d; j++ {
			m := 0.0
			for i, x := range z {
				m += resp[i][s] * x[j]
			}
			m /= nk
			v := 0.0
			for i, x := range z {
				v += resp[i][s] * (x[j] - m) * (x[j] - m)
			}
			g.means[s][j] = m
			g.vars[s][j] = math.Max(v/nk, g.opts.VarFloor)
		}
	}
}

func (g *GMM) assignLabels() {
	k := g.opts.States
	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return g.means[order[a]][FeatMomentum] < g.means[order[b]][FeatMomentum] })

	g.labels = make([]Label, k)
	for rank, s := range order {
		switch rank {
		case 0:
			g.labels[s] = Bear
		case k - 1:
			g.labels[s] = Bull
		default:
			g.labels[s] = Sideways
		}
	}
}

func (g *GMM) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - g.center[j]) / g.scale[j]
	}
	return out
}

func standardize(xs [][]float64) (center, scale []float64) {
	d := len(xs[0])
	center = make([]float64, d)
	scale = make([]float64, d)
	n := float64(len(xs))
	for _, x := range xs {
		for j, v := range x {
			center[j] += v
		}
	}
	for j := range center {
		center[j] /= n
	}
	for _, x := range xs {
		for j, v := range x {
			scale[j] += (v - center[j]) * (v - center[j])
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] < 1e-12 {
			scale[j] = 1
		}
	}
	return center, scale
}
