// Package config provides configuration management for the engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/signalrunner/signalrunner/internal/models"
)

// Engine defaults applied in Load when a key is unset.
const (
	defaultMinTPDistance              = 0.3  // percent
	defaultMaxSLDistance              = 20.0 // percent
	defaultMaxSignalLifetimeMinutes   = 1440
	defaultScheduleAwaitMinutes       = 120
	defaultMaxSignalGenerationSeconds = 30
	defaultAvgPriceCandleCount        = 5
	defaultCandleRetryCount           = 3
	defaultCandleRetryDelayMs         = 1000
	defaultSlippagePercent            = 0.1
	defaultFeePercent                 = 0.1
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Engine      EngineConfig      `yaml:"engine"`
	Storage     StorageConfig     `yaml:"storage"`
	Strategies  []StrategyConfig  `yaml:"strategies"`
	Frame       *models.Frame     `yaml:"frame,omitempty"`
	Walker      *WalkerConfig     `yaml:"walker,omitempty"`
}

// EnvironmentConfig defines the run mode and logging.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // live | backtest | walker
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ExchangeConfig defines the candle source.
type ExchangeConfig struct {
	Name      string                     `yaml:"name"` // mock | any REST exchange name
	BaseURL   string                     `yaml:"base_url"`
	TimeoutMs int                        `yaml:"timeout_ms"`
	Symbols   map[string]SymbolPrecision `yaml:"symbols"`
}

// SymbolPrecision carries exchange-specific display precision per symbol.
type SymbolPrecision struct {
	PriceDecimals    int32 `yaml:"price_decimals"`
	QuantityDecimals int32 `yaml:"quantity_decimals"`
}

// EngineConfig holds the global engine knobs. All percentages are expressed
// in percent units (0.3 means 0.3%).
type EngineConfig struct {
	MinTPDistance              float64 `yaml:"min_tp_distance"`
	MaxSLDistance              float64 `yaml:"max_sl_distance"`
	MaxSignalLifetimeMinutes   int     `yaml:"max_signal_lifetime_minutes"`
	ScheduleAwaitMinutes       int     `yaml:"schedule_await_minutes"`
	MaxSignalGenerationSeconds int     `yaml:"max_signal_generation_seconds"`
	AvgPriceCandleCount        int     `yaml:"avg_price_candle_count"`
	CandleRetryCount           int     `yaml:"candle_retry_count"`
	CandleRetryDelayMs         int     `yaml:"candle_retry_delay_ms"`
	SlippagePercent            float64 `yaml:"slippage_percent"`
	FeePercent                 float64 `yaml:"fee_percent"`
}

// BreakevenThreshold is the favorable move, in percent, that arms the
// breakeven stop: one full round trip of slippage and fees.
func (e EngineConfig) BreakevenThreshold() float64 {
	return 2 * (e.SlippagePercent + e.FeePercent)
}

// ScheduleAwait returns the scheduled-signal timeout as a duration.
func (e EngineConfig) ScheduleAwait() time.Duration {
	return time.Duration(e.ScheduleAwaitMinutes) * time.Minute
}

// MaxSignalGeneration returns the generator invocation bound as a duration.
func (e EngineConfig) MaxSignalGeneration() time.Duration {
	return time.Duration(e.MaxSignalGenerationSeconds) * time.Second
}

// CandleRetryDelay returns the delay between candle fetch retries.
func (e EngineConfig) CandleRetryDelay() time.Duration {
	return time.Duration(e.CandleRetryDelayMs) * time.Millisecond
}

// StorageConfig defines where live position snapshots are written.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// StrategyConfig binds a named strategy to a symbol, proposal cadence and
// risk profile.
type StrategyConfig struct {
	Name        string `yaml:"name"`
	Symbol      string `yaml:"symbol"`
	Interval    string `yaml:"interval"`     // proposal cadence: 1m..1h
	RiskProfile string `yaml:"risk_profile"` // registered risk profile name
}

// WalkerConfig describes a ranked multi-strategy comparison run.
type WalkerConfig struct {
	Name       string   `yaml:"name"`
	Metric     string   `yaml:"metric"`
	Strategies []string `yaml:"strategies"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a config populated with the engine defaults. Callers that
// construct configs in code start from here.
func Default() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "backtest", LogLevel: "info"},
		Engine: EngineConfig{
			MinTPDistance:              defaultMinTPDistance,
			MaxSLDistance:              defaultMaxSLDistance,
			MaxSignalLifetimeMinutes:   defaultMaxSignalLifetimeMinutes,
			ScheduleAwaitMinutes:       defaultScheduleAwaitMinutes,
			MaxSignalGenerationSeconds: defaultMaxSignalGenerationSeconds,
			AvgPriceCandleCount:        defaultAvgPriceCandleCount,
			CandleRetryCount:           defaultCandleRetryCount,
			CandleRetryDelayMs:         defaultCandleRetryDelayMs,
			SlippagePercent:            defaultSlippagePercent,
			FeePercent:                 defaultFeePercent,
		},
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.Mode {
	case "live", "backtest", "walker":
	default:
		return fmt.Errorf("environment.mode must be 'live', 'backtest' or 'walker'")
	}

	switch c.Environment.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level %q is not one of debug|info|warn|error", c.Environment.LogLevel)
	}

	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if c.Exchange.Name != "mock" && c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required for exchange %q", c.Exchange.Name)
	}

	e := c.Engine
	if e.MinTPDistance <= 0 {
		return fmt.Errorf("engine.min_tp_distance must be positive")
	}
	if e.MaxSLDistance <= 0 {
		return fmt.Errorf("engine.max_sl_distance must be positive")
	}
	if e.MaxSignalLifetimeMinutes <= 0 {
		return fmt.Errorf("engine.max_signal_lifetime_minutes must be positive")
	}
	if e.ScheduleAwaitMinutes <= 0 {
		return fmt.Errorf("engine.schedule_await_minutes must be positive")
	}
	if e.AvgPriceCandleCount <= 0 {
		return fmt.Errorf("engine.avg_price_candle_count must be positive")
	}
	if e.CandleRetryCount <= 0 {
		return fmt.Errorf("engine.candle_retry_count must be positive")
	}
	if e.SlippagePercent < 0 || e.FeePercent < 0 {
		return fmt.Errorf("engine slippage and fee percentages cannot be negative")
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy must be configured")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Name == "" || s.Symbol == "" {
			return fmt.Errorf("strategies[%d]: name and symbol are required", i)
		}
		key := s.Name + "/" + s.Symbol
		if seen[key] {
			return fmt.Errorf("strategies[%d]: duplicate strategy/symbol pair %s", i, key)
		}
		seen[key] = true
		iv, err := models.ParseInterval(s.Interval)
		if err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if iv.Duration() > time.Hour {
			return fmt.Errorf("strategies[%d]: proposal cadence %s exceeds 1h", i, s.Interval)
		}
	}

	if c.Environment.Mode != "live" {
		if c.Frame == nil {
			return fmt.Errorf("frame is required in %s mode", c.Environment.Mode)
		}
		if err := c.Frame.Validate(); err != nil {
			return err
		}
	}
	if c.Environment.Mode == "live" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required in live mode")
	}

	if c.Environment.Mode == "walker" {
		if c.Walker == nil {
			return fmt.Errorf("walker section is required in walker mode")
		}
		if c.Walker.Metric == "" || len(c.Walker.Strategies) == 0 {
			return fmt.Errorf("walker.metric and walker.strategies are required")
		}
	}

	return nil
}
