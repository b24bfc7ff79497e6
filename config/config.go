package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rustyeddy/breakout/market"
	"github.com/rustyeddy/breakout/risk"
	"github.com/rustyeddy/breakout/session"
	"github.com/rustyeddy/breakout/strategies"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration. It is loaded once and passed
// to constructors.
type Config struct {
	Instrument string `json:"instrument" yaml:"instrument"`
	Timeframe  string `json:"timeframe" yaml:"timeframe"`

	Account    AccountConfig    `json:"account" yaml:"account"`
	Timezone   TimezoneConfig   `json:"timezone" yaml:"timezone"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Strategy   StrategyConfig   `json:"strategy" yaml:"strategy"`
	Risk       risk.Spec        `json:"risk" yaml:"risk"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Data       DataConfig       `json:"data" yaml:"data"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Results    ResultsConfig    `json:"results" yaml:"results"`
	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Oanda      OandaConfig      `json:"oanda" yaml:"oanda"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

type AccountConfig struct {
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// TimezoneConfig names the zone bar timestamps are in and the zone the
// session times are written in.
type TimezoneConfig struct {
	Broker string `json:"broker" yaml:"broker"`
	User   string `json:"user" yaml:"user"`
}

// SessionConfig is in the user zone.
type SessionConfig struct {
	Start    market.TimeOfDay `json:"start" yaml:"start"`
	End      market.TimeOfDay `json:"end" yaml:"end"`
	TradeEnd market.TimeOfDay `json:"trade_end" yaml:"trade_end"`
}

type StrategyConfig struct {
	Name              string              `json:"name" yaml:"name"`
	BufferPips        float64             `json:"buffer_pips" yaml:"buffer_pips"`
	StopMode          strategies.StopMode `json:"stop_mode" yaml:"stop_mode"`
	StopPips          float64             `json:"stop_pips" yaml:"stop_pips"`
	TargetPips        float64             `json:"target_pips" yaml:"target_pips"`
	TargetRR          float64             `json:"target_rr" yaml:"target_rr"`
	TrailTriggerPips  float64             `json:"trail_trigger_pips" yaml:"trail_trigger_pips"`
	TrailDistancePips float64             `json:"trail_distance_pips" yaml:"trail_distance_pips"`
	TieBreak          strategies.TieBreak `json:"tie_break" yaml:"tie_break"`
}

type SimulationConfig struct {
	SlippagePips float64 `json:"slippage_pips" yaml:"slippage_pips"`
	// Seed feeds the deterministic ID generator.
	Seed       int64 `json:"seed" yaml:"seed"`
	CloseAtEnd bool  `json:"close_at_end" yaml:"close_at_end"`
}

// DataConfig selects the backtest bar source.
type DataConfig struct {
	Source string `json:"source" yaml:"source"` // "csv" or "dukas"
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Symbol string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	From   string `json:"from,omitempty" yaml:"from,omitempty"`
	To     string `json:"to,omitempty" yaml:"to,omitempty"`
	Months int    `json:"months,omitempty" yaml:"months,omitempty"`
}

type StoreConfig struct {
	Type string `json:"type" yaml:"type"` // "memory", "file" or "sqlite"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type ResultsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type BrokerConfig struct {
	URL          string        `json:"url" yaml:"url"`
	Token        string        `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	Retries      int           `json:"retries" yaml:"retries"`
	RetryWait    time.Duration `json:"retry_wait" yaml:"retry_wait"`
	RetryMaxWait time.Duration `json:"retry_max_wait" yaml:"retry_max_wait"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	// BarSource is where live bars come from: "bridge" or "oanda".
	BarSource string `json:"bar_source" yaml:"bar_source"`
}

// OandaConfig is used for live bars when broker.bar_source is "oanda" and
// by the data download command.
type OandaConfig struct {
	Env   string `json:"env" yaml:"env"` // "practice" or "live"
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// Env holds the BREAKOUT_* overrides.
type Env struct {
	LogLevel    string   `envconfig:"LOG_LEVEL"`
	StorePath   string   `envconfig:"STORE_PATH"`
	BrokerURL   string   `envconfig:"BROKER_URL"`
	BrokerToken string   `envconfig:"BROKER_TOKEN"`
	RiskMode    string   `envconfig:"RISK_MODE"`
	RiskValue   *float64 `envconfig:"RISK_VALUE"`
	ResultsDir  string   `envconfig:"RESULTS_DIR"`
	OandaToken  string   `envconfig:"OANDA_TOKEN"`
}

const EnvPrefix = "BREAKOUT"

// LoadFromFile loads configuration from a YAML or JSON file, applies the
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays BREAKOUT_* environment variables.
func (c *Config) ApplyEnv() error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.StorePath != "" {
		c.Store.Path = env.StorePath
	}
	if env.BrokerURL != "" {
		c.Broker.URL = env.BrokerURL
	}
	if env.BrokerToken != "" {
		c.Broker.Token = env.BrokerToken
	}
	if env.RiskMode != "" {
		c.Risk.Mode = risk.Mode(strings.ToUpper(env.RiskMode))
	}
	if env.RiskValue != nil {
		c.Risk.Value = *env.RiskValue
	}
	if env.ResultsDir != "" {
		c.Results.Dir = env.ResultsDir
	}
	if env.OandaToken != "" {
		c.Oanda.Token = env.OandaToken
	}
	return nil
}

// SaveToFile saves configuration as YAML for .yaml/.yml paths and JSON
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if _, err := market.Lookup(c.Instrument); err != nil {
		return fmt.Errorf("instrument: %w", err)
	}
	if _, err := market.ParseTimeframe(c.Timeframe); err != nil {
		return fmt.Errorf("timeframe: %w", err)
	}
	if _, err := c.Calendar(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.StrategyConfig().Validate(); err != nil {
		return err
	}
	if _, err := strategies.New(c.Strategy.Name, c.StrategyConfig()); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Simulation.SlippagePips < 0 {
		return fmt.Errorf("simulation.slippage_pips must be >= 0")
	}
	switch c.Store.Type {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for %s store", c.Store.Type)
		}
	default:
		return fmt.Errorf("store.type must be 'memory', 'file' or 'sqlite'")
	}
	switch c.Data.Source {
	case "", "csv", "dukas":
	default:
		return fmt.Errorf("data.source must be 'csv' or 'dukas'")
	}
	if _, err := c.DataRange(); err != nil {
		return err
	}
	if c.Broker.Timeout < 0 || c.Broker.Retries < 0 {
		return fmt.Errorf("broker timeout and retries must be >= 0")
	}
	switch c.Broker.BarSource {
	case "", "bridge":
	case "oanda":
		if c.Oanda.Token == "" {
			return fmt.Errorf("oanda.token required for the oanda bar source")
		}
	default:
		return fmt.Errorf("broker.bar_source must be 'bridge' or 'oanda'")
	}
	switch strings.ToLower(c.Oanda.Env) {
	case "", "practice", "demo", "live":
	default:
		return fmt.Errorf("oanda.env must be 'practice' or 'live'")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Redacted returns a copy without credentials, for writing next to results.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Broker.Token != "" {
		out.Broker.Token = "REDACTED"
	}
	if out.Oanda.Token != "" {
		out.Oanda.Token = "REDACTED"
	}
	return &out
}

// Calendar builds the session calendar from the timezone and session
// sections.
func (c *Config) Calendar() (*session.Calendar, error) {
	return session.NewCalendar(c.Timezone.Broker, c.Timezone.User, c.Session.Start, c.Session.End, c.Session.TradeEnd)
}

func (c *Config) TimeframeValue() market.Timeframe {
	tf, _ := market.ParseTimeframe(c.Timeframe)
	return tf
}

// StrategyConfig returns the strategy parameters with the risk spec.
func (c *Config) StrategyConfig() strategies.Config {
	s := c.Strategy
	return strategies.Config{
		Instrument:        c.Instrument,
		BufferPips:        s.BufferPips,
		StopMode:          s.StopMode,
		StopPips:          s.StopPips,
		TargetPips:        s.TargetPips,
		TargetRR:          s.TargetRR,
		TrailTriggerPips:  s.TrailTriggerPips,
		TrailDistancePips: s.TrailDistancePips,
		TieBreak:          s.TieBreak,
		Risk:              risk.Spec{Mode: risk.Mode(strings.ToUpper(string(c.Risk.Mode))), Value: c.Risk.Value},
	}
}

// Range is a [From, To) window; zero ends are open.
type Range struct {
	From time.Time
	To   time.Time
}

// DataRange parses data.from and data.to as dates (2006-01-02) or RFC3339
// in the broker zone.
func (c *Config) DataRange() (Range, error) {
	var r Range
	loc, err := market.LoadZone(c.Timezone.Broker)
	if err != nil {
		return r, err
	}
	parse := func(name, s string) (time.Time, error) {
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("data.%s: %w", name, err)
		}
		return t, nil
	}
	if r.From, err = parse("from", c.Data.From); err != nil {
		return r, err
	}
	if r.To, err = parse("to", c.Data.To); err != nil {
		return r, err
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return r, fmt.Errorf("data.to must be after data.from")
	}
	if c.Data.Months < 0 {
		return r, fmt.Errorf("data.months must be >= 0")
	}
	return r, nil
}

// Default returns the gold Asian range setup: session 03:30-13:30 and trade
// end 21:30 India time against a broker on Athens time.
func Default() *Config {
	return &Config{
		Instrument: "XAU_USD",
		Timeframe:  "M15",
		Account: AccountConfig{
			Currency: "USD",
			Balance:  10000,
		},
		Timezone: TimezoneConfig{
			Broker: "Europe/Athens",
			User:   "Asia/Kolkata",
		},
		Session: SessionConfig{
			Start:    market.MustTimeOfDay("03:30"),
			End:      market.MustTimeOfDay("13:30"),
			TradeEnd: market.MustTimeOfDay("21:30"),
		},
		Strategy: StrategyConfig{
			Name:              "breakout",
			StopMode:          strategies.StopPips,
			StopPips:          100,
			TargetPips:        200,
			TrailTriggerPips:  20,
			TrailDistancePips: 5,
			TieBreak:          strategies.TieNearestOpen,
		},
		Risk: risk.Spec{Mode: risk.Dynamic, Value: 1},
		Simulation: SimulationConfig{
			Seed:       1,
			CloseAtEnd: true,
		},
		Data: DataConfig{
			Source: "csv",
			Symbol: "XAUUSD",
		},
		Store: StoreConfig{
			Type: "memory",
		},
		Results: ResultsConfig{
			Dir: "./results",
		},
		Broker: BrokerConfig{
			URL:          "http://127.0.0.1:8700",
			Timeout:      10 * time.Second,
			Retries:      3,
			RetryWait:    500 * time.Millisecond,
			RetryMaxWait: 5 * time.Second,
			PollInterval: 15 * time.Second,
			BarSource:    "bridge",
		},
		Oanda: OandaConfig{
			Env: "practice",
		},
		Metrics: MetricsConfig{
			Addr: ":9108",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
