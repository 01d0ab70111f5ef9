// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets kept out of the YAML file.
const (
	EnvAPIKey      = "BINANCE_API_KEY"
	EnvAPISecret   = "BINANCE_API_SECRET"
	EnvPostgresDSN = "SPREADBOT_POSTGRES_DSN"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name             string `yaml:"name"`
	Env              string `yaml:"env"`
	MetricsAddr      string `yaml:"metrics_addr"`
	LogLevel         string `yaml:"log_level"`
	LogFile          string `yaml:"log_file"`
	StatusIntervalMs int    `yaml:"status_interval_ms"`
}

// Exchange describes venue connectivity. Provider is "binance" for live trading or "paper".
type Exchange struct {
	Provider          string  `yaml:"provider"`
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	Testnet           bool    `yaml:"testnet"`
	SpotBaseURL       string  `yaml:"spot_base_url"`
	FuturesBaseURL    string  `yaml:"futures_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MarkStream        bool    `yaml:"mark_stream"`
	MarkStreamURL     string  `yaml:"mark_stream_url"`
	QuantityPrecision int32   `yaml:"quantity_precision"`
}

// Strategy holds the instrument list and spread model knobs.
type Strategy struct {
	Instruments         []string `yaml:"instruments"`
	CapitalPerTrade     float64  `yaml:"capital_per_trade"`
	Leverage            int      `yaml:"leverage"`
	LookbackWindow      int      `yaml:"lookback_window"`
	ZEntry              float64  `yaml:"z_entry"`
	ZExit               float64  `yaml:"z_exit"`
	TransactionCostRate float64  `yaml:"transaction_cost_rate"`
	PollIntervalMs      int      `yaml:"poll_interval_ms"`
	MinTradeIntervalMs  int      `yaml:"min_trade_interval_ms"`
	AllowShortSpread    bool     `yaml:"allow_short_spread"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	StopLossThreshold   float64 `yaml:"stop_loss_threshold"`
}

// Execution tunes order retries and the liquidation fallback.
type Execution struct {
	MaxRetries              int     `yaml:"max_retries"`
	RetryDelayMs            int     `yaml:"retry_delay_ms"`
	OrderTimeoutMs          int     `yaml:"order_timeout_ms"`
	FlatTolerance           float64 `yaml:"flat_tolerance"`
	LiquidationAttempts     int     `yaml:"liquidation_attempts"`
	LiquidationBackoffMs    int     `yaml:"liquidation_backoff_ms"`
	LiquidationMaxBackoffMs int     `yaml:"liquidation_max_backoff_ms"`
	ShutdownTimeoutMs       int     `yaml:"shutdown_timeout_ms"`
	FlattenOnStart          bool    `yaml:"flatten_on_start"`
}

// Paper captures paper-venue settings such as starting cash, slippage, and the price source.
type Paper struct {
	StartingCash     float64 `yaml:"starting_cash"`
	SlippageBps      float64 `yaml:"slippage_bps"`
	MaxOrderNotional float64 `yaml:"max_order_notional"`
	PriceSource      string  `yaml:"price_source"`
}

// Journal configures where trade events are persisted.
type Journal struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Exchange  Exchange  `yaml:"exchange"`
	Strategy  Strategy  `yaml:"strategy"`
	Risk      Risk      `yaml:"risk"`
	Execution Execution `yaml:"execution"`
	Paper     Paper     `yaml:"paper"`
	Journal   Journal   `yaml:"journal"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv loads .env files (missing files are ignored) and lets the environment override secrets.
func (c *Config) ApplyEnv(files ...string) {
	_ = godotenv.Load(files...)
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Journal.PostgresDSN = v
	}
}

// Validate checks the invariants the trading core relies on.
func (c *Config) Validate() error {
	var errs []error
	s := c.Strategy
	if len(s.Instruments) == 0 {
		errs = append(errs, errors.New("strategy.instruments is empty"))
	}
	seen := make(map[string]struct{}, len(s.Instruments))
	for _, sym := range s.Instruments {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			errs = append(errs, errors.New("strategy.instruments contains a blank symbol"))
			continue
		}
		if _, dup := seen[sym]; dup {
			errs = append(errs, fmt.Errorf("strategy.instruments lists %s twice", sym))
		}
		seen[sym] = struct{}{}
	}
	if s.CapitalPerTrade <= 0 {
		errs = append(errs, errors.New("strategy.capital_per_trade must be positive"))
	}
	if s.Leverage < 1 {
		errs = append(errs, errors.New("strategy.leverage must be at least 1"))
	}
	if s.LookbackWindow < 2 {
		errs = append(errs, errors.New("strategy.lookback_window must be at least 2"))
	}
	if s.ZExit <= 0 || s.ZEntry <= s.ZExit {
		errs = append(errs, fmt.Errorf("need z_entry > z_exit > 0, got z_entry=%g z_exit=%g", s.ZEntry, s.ZExit))
	}
	if s.TransactionCostRate < 0 {
		errs = append(errs, errors.New("strategy.transaction_cost_rate must not be negative"))
	}
	if s.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("strategy.poll_interval_ms must be positive"))
	}
	if s.MinTradeIntervalMs < 0 {
		errs = append(errs, errors.New("strategy.min_trade_interval_ms must not be negative"))
	}
	if c.Risk.MaxNotionalPerTrade < 0 {
		errs = append(errs, errors.New("risk.max_notional_per_trade must not be negative"))
	}
	switch strings.ToLower(c.Exchange.Provider) {
	case "", "paper", "binance":
	default:
		errs = append(errs, fmt.Errorf("unknown exchange.provider %q", c.Exchange.Provider))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// PollInterval is the pause between worker cycles.
func (s Strategy) PollInterval() time.Duration { return ms(s.PollIntervalMs) }

// MinTradeInterval is the cooldown between consecutive entries.
func (s Strategy) MinTradeInterval() time.Duration { return ms(s.MinTradeIntervalMs) }

// StatusInterval is the reporter cadence.
func (a App) StatusInterval() time.Duration { return ms(a.StatusIntervalMs) }

// RetryDelay is the pause between leg attempts.
func (e Execution) RetryDelay() time.Duration { return ms(e.RetryDelayMs) }

// OrderTimeout bounds a single open or close execution.
func (e Execution) OrderTimeout() time.Duration { return ms(e.OrderTimeoutMs) }

// LiquidationBackoff is the first pause between liquidation attempts.
func (e Execution) LiquidationBackoff() time.Duration { return ms(e.LiquidationBackoffMs) }

// LiquidationMaxBackoff caps the exponential liquidation backoff.
func (e Execution) LiquidationMaxBackoff() time.Duration { return ms(e.LiquidationMaxBackoffMs) }

// ShutdownTimeout bounds the supervisor's shutdown liquidation.
func (e Execution) ShutdownTimeout() time.Duration { return ms(e.ShutdownTimeoutMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
