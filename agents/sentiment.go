package agents

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/rustyeddy/backtester/market"
	"github.com/tidwall/gjson"
)

// Source supplies a sentiment reading in [-1, 1] for a symbol as known at ts.
type Source interface {
	Sentiment(symbol string, ts time.Time) (float64, bool)
}

type SourceFunc func(symbol string, ts time.Time) (float64, bool)

func (f SourceFunc) Sentiment(symbol string, ts time.Time) (float64, bool) { return f(symbol, ts) }

// Sentiment scores from an external sentiment source, boosted when price
// momentum agrees and damped in high volatility.
type Sentiment struct {
	src Source
}

func NewSentiment(src Source) *Sentiment { return &Sentiment{src: src} }

func (a *Sentiment) ID() string { return "sentiment" }

func (a *Sentiment) Score(symbol string, ts time.Time, c *Context) Signal {
	if a.src == nil {
		return Neutral(a.ID(), symbol, ts)
	}
	s, ok := a.src.Sentiment(symbol, ts)
	if !ok || math.IsNaN(s) {
		return Neutral(a.ID(), symbol, ts)
	}

	score := s
	conf := math.Min(1, math.Abs(s)+0.2)
	if ind := c.Indicators; ind.HasTrend {
		if ind.Mom5*s > 0 {
			score *= 1.2
		}
		if ind.Vol20 > 0.03 {
			conf *= 0.7
		}
	}
	return NewSignal(a.ID(), symbol, ts, score, conf)
}

type reading struct {
	date  time.Time
	score float64
}

// FileSentiment serves readings loaded from a JSON document of the form
//
//	{"AAA": [{"date": "2024-01-02", "score": 0.4}, ...], ...}
//
// A reading is visible from its date onward for MaxAge days.
type FileSentiment struct {
	MaxAge   int
	readings map[string][]reading
}

func LoadFileSentiment(path string) (*FileSentiment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sentiment: %w", err)
	}
	return ParseSentiment(raw)
}

func ParseSentiment(raw []byte) (*FileSentiment, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("sentiment: invalid json")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("sentiment: root must be an object keyed by symbol")
	}

	fs := &FileSentiment{MaxAge: 3, readings: make(map[string][]reading)}
	var parseErr error
	root.ForEach(func(key, value gjson.Result) bool {
		sym := key.String()
		if !value.IsArray() {
			parseErr = fmt.Errorf("sentiment: %s must be an array", sym)
			return false
		}
		value.ForEach(func(_, item gjson.Result) bool {
			d, err := market.ParseDay(item.Get("date").String())
			if err != nil {
				parseErr = fmt.Errorf("sentiment: %s: %w", sym, err)
				return false
			}
			score := item.Get("score")
			if !score.Exists() {
				parseErr = fmt.Errorf("sentiment: %s %s: score is required", sym, d.Format(market.DateLayout))
				return false
			}
			fs.readings[sym] = append(fs.readings[sym], reading{date: d, score: score.Float()})
			return true
		})
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	for sym := range fs.readings {
		rs := fs.readings[sym]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].date.Before(rs[j].date) })
	}
	return fs, nil
}

func (f *FileSentiment) Sentiment(symbol string, ts time.Time) (float64, bool) {
	rs := f.readings[symbol]
	day := market.Day(ts)
	i := sort.Search(len(rs), func(i int) bool { return rs[i].date.After(day) })
	if i == 0 {
		return 0, false
	}
	r := rs[i-1]
	if f.MaxAge > 0 && day.Sub(r.date) > time.Duration(f.MaxAge)*24*time.Hour {
		return 0, false
	}
	return r.score, true
}
