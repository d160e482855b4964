// Package config holds the single validated configuration of a run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rustyeddy/backtester/agents"
	"github.com/rustyeddy/backtester/ensemble"
	"github.com/rustyeddy/backtester/ledger"
	"github.com/rustyeddy/backtester/logger"
	"github.com/rustyeddy/backtester/market"
	"github.com/rustyeddy/backtester/regime"
	"github.com/rustyeddy/backtester/risk"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete description of one backtest.
type Config struct {
	Run      RunConfig      `json:"run" yaml:"run"`
	Account  AccountConfig  `json:"account" yaml:"account"`
	Costs    ledger.Costs   `json:"costs" yaml:"costs"`
	Risk     risk.Limits    `json:"risk" yaml:"risk"`
	Ensemble EnsembleConfig `json:"ensemble" yaml:"ensemble"`
	Regime   RegimeConfig   `json:"regime" yaml:"regime"`
	Agents   []string       `json:"agents" yaml:"agents"`
	Data     DataConfig     `json:"data" yaml:"data"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Log      logger.Options `json:"log" yaml:"log"`
}

// RunConfig is the simulated period and universe.
type RunConfig struct {
	Name              string   `json:"name" yaml:"name"`
	Start             string   `json:"start" yaml:"start"` // YYYY-MM-DD
	End               string   `json:"end" yaml:"end"`     // inclusive
	Seed              int64    `json:"seed" yaml:"seed"`
	Symbols           []string `json:"symbols" yaml:"symbols"`
	Benchmark         string   `json:"benchmark,omitempty" yaml:"benchmark,omitempty"`
	LookbackDays      int      `json:"lookback_days" yaml:"lookback_days"` // calendar days of warmup history
	RebalanceInterval int      `json:"rebalance_interval" yaml:"rebalance_interval"`
	Holidays          []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	Workers           int      `json:"workers" yaml:"workers"`
}

type AccountConfig struct {
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	CashReserve    float64 `json:"cash_reserve" yaml:"cash_reserve"` // fraction of total value never spent on buys
}

type EnsembleConfig struct {
	Threshold  float64              `json:"threshold" yaml:"threshold"`
	Weights    ensemble.WeightTable `json:"weights" yaml:"weights"`
	Adaptation ensemble.Adaptation  `json:"adaptation" yaml:"adaptation"`
}

type RegimeConfig struct {
	Kind       string             `json:"kind" yaml:"kind"` // gmm or rule
	RefitEvery int                `json:"refit_every" yaml:"refit_every"`
	GMM        regime.GMMOptions  `json:"gmm" yaml:"gmm"`
	Rule       regime.RuleOptions `json:"rule" yaml:"rule"`
}

type DataConfig struct {
	Source    string          `json:"source" yaml:"source"` // synthetic, csv or sqlite
	Path      string          `json:"path,omitempty" yaml:"path,omitempty"`
	Cache     string          `json:"cache,omitempty" yaml:"cache,omitempty"`
	Sentiment string          `json:"sentiment,omitempty" yaml:"sentiment,omitempty"`
	Synthetic SyntheticConfig `json:"synthetic" yaml:"synthetic"`
}

// SyntheticConfig shapes the generated series. The seed is Run.Seed.
type SyntheticConfig struct {
	Origin    string  `json:"origin" yaml:"origin"`
	BasePrice float64 `json:"base_price" yaml:"base_price"`
	Drift     float64 `json:"drift" yaml:"drift"`
	Vol       float64 `json:"vol" yaml:"vol"`
	GapRate   float64 `json:"gap_rate" yaml:"gap_rate"`
}

type JournalConfig struct {
	Type     string `json:"type" yaml:"type"` // none, csv or sqlite
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
	DBPath   string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	RunStore string `json:"run_store,omitempty" yaml:"run_store,omitempty"`
}

// Regime kinds, data sources and journal types.
const (
	RegimeGMM  = "gmm"
	RegimeRule = "rule"

	SourceSynthetic = "synthetic"
	SourceCSV       = "csv"
	SourceSQLite    = "sqlite"

	JournalNone   = "none"
	JournalCSV    = "csv"
	JournalSQLite = "sqlite"
)

// ErrConfiguration is wrapped by every validation failure.
var ErrConfiguration = errors.New("configuration error")

// Error names the offending field.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Msg) }

func (e *Error) Unwrap() error { return ErrConfiguration }

func fieldErr(field, format string, args ...any) error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Default returns a runnable configuration over synthetic data.
func Default() *Config {
	syn := market.DefaultSyntheticOptions()
	return &Config{
		Run: RunConfig{
			Name:              "default",
			Start:             "2023-01-02",
			End:               "2023-12-29",
			Seed:              42,
			Symbols:           []string{"AAA", "BBB", "CCC"},
			LookbackDays:      180,
			RebalanceInterval: 5,
			Workers:           4,
		},
		Account: AccountConfig{InitialCapital: 100000, CashReserve: 0.05},
		Costs:   ledger.Costs{Commission: 0.001, Slippage: 0.0005},
		Risk:    risk.DefaultLimits(),
		Ensemble: EnsembleConfig{
			Threshold:  ensemble.DefaultThreshold,
			Weights:    ensemble.DefaultWeights(),
			Adaptation: ensemble.DefaultAdaptation(),
		},
		Regime: RegimeConfig{
			Kind:       RegimeGMM,
			RefitEvery: 60,
			GMM:        regime.DefaultGMMOptions(),
			Rule:       regime.DefaultRuleOptions(),
		},
		Agents:  append([]string(nil), agents.Names...),
		Data: DataConfig{
			Source: SourceSynthetic,
			Synthetic: SyntheticConfig{
				Origin:    syn.Origin.Format(market.DateLayout),
				BasePrice: 100,
				Drift:     syn.Drift,
				Vol:       syn.Vol,
			},
		},
		Journal: JournalConfig{Type: JournalNone},
		Log:     logger.DefaultOptions(),
	}
}

// Load reads a yaml or json file onto Default. Environment variables
// prefixed BACKTEST_ override file values, e.g. BACKTEST_ACCOUNT_INITIAL_CAPITAL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, "", Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.ZeroFields = true
		dc.DecodeHook = mapstructure.StringToSliceHookFunc(",")
	}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers every scalar key so AutomaticEnv sees keys that are
// absent from the file.
func bindEnv(v *viper.Viper, prefix string, cfg *Config) {
	var m map[string]any
	raw, _ := yaml.Marshal(cfg)
	_ = yaml.Unmarshal(raw, &m)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok && !strings.HasPrefix(key, "ensemble.weights") {
				walk(key, sub)
				continue
			}
			_ = v.BindEnv(key)
		}
	}
	walk(prefix, m)
}

// SaveToFile writes yaml or indented json depending on the extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// StartDate and EndDate return the parsed run bounds.
func (c *Config) StartDate() (time.Time, error) { return market.ParseDay(c.Run.Start) }

func (c *Config) EndDate() (time.Time, error) { return market.ParseDay(c.Run.End) }

// SyntheticOptions converts the data settings for market.NewSynthetic.
func (c *Config) SyntheticOptions() (market.SyntheticOptions, error) {
	opts := market.SyntheticOptions{
		Seed:      c.Run.Seed,
		BasePrice: c.Data.Synthetic.BasePrice,
		Drift:     c.Data.Synthetic.Drift,
		Vol:       c.Data.Synthetic.Vol,
		GapRate:   c.Data.Synthetic.GapRate,
	}
	if c.Data.Synthetic.Origin != "" {
		o, err := market.ParseDay(c.Data.Synthetic.Origin)
		if err != nil {
			return opts, fieldErr("data.synthetic.origin", "%v", err)
		}
		opts.Origin = o
	}
	return opts, nil
}

// Calendar builds the trading calendar from the configured holidays.
func (c *Config) Calendar() (*market.HolidayCalendar, error) {
	hs, err := market.ParseHolidays(c.Run.Holidays)
	if err != nil {
		return nil, fmt.Errorf("config: holidays: %w", err)
	}
	return market.NewCalendar(hs...), nil
}

// Clone returns a deep copy that can be modified independently.
func (c *Config) Clone() *Config {
	out := *c
	out.Run.Symbols = append([]string(nil), c.Run.Symbols...)
	out.Run.Holidays = append([]string(nil), c.Run.Holidays...)
	out.Agents = append([]string(nil), c.Agents...)
	if c.Ensemble.Weights != nil {
		out.Ensemble.Weights = make(ensemble.WeightTable, len(c.Ensemble.Weights))
		for label, ws := range c.Ensemble.Weights {
			m := make(map[string]float64, len(ws))
			for a, w := range ws {
				m[a] = w
			}
			out.Ensemble.Weights[label] = m
		}
	}
	return &out
}
