package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "spreadbot-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.App.StatusInterval() != 5*time.Second {
		t.Fatalf("unexpected status interval: %s", cfg.App.StatusInterval())
	}
	if cfg.Exchange.Provider != "paper" || !cfg.Exchange.Testnet {
		t.Fatalf("unexpected exchange: %+v", cfg.Exchange)
	}
	if cfg.Exchange.QuantityPrecision != 3 {
		t.Fatalf("unexpected quantity precision: %d", cfg.Exchange.QuantityPrecision)
	}
	if len(cfg.Strategy.Instruments) != 2 || cfg.Strategy.Instruments[1] != "ETHUSDT" {
		t.Fatalf("unexpected instruments: %+v", cfg.Strategy.Instruments)
	}
	if cfg.Strategy.ZEntry != 2 || cfg.Strategy.ZExit != 0.5 {
		t.Fatalf("unexpected thresholds: entry=%.2f exit=%.2f", cfg.Strategy.ZEntry, cfg.Strategy.ZExit)
	}
	if cfg.Strategy.PollInterval() != 750*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.Strategy.PollInterval())
	}
	if cfg.Strategy.MinTradeInterval() != time.Minute {
		t.Fatalf("unexpected min trade interval: %s", cfg.Strategy.MinTradeInterval())
	}
	if cfg.Risk.StopLossThreshold != 25 {
		t.Fatalf("unexpected stop loss: %.2f", cfg.Risk.StopLossThreshold)
	}
	if cfg.Execution.LiquidationAttempts != 5 || cfg.Execution.LiquidationMaxBackoff() != 8*time.Second {
		t.Fatalf("unexpected liquidation settings: %+v", cfg.Execution)
	}
	if !cfg.Execution.FlattenOnStart {
		t.Fatalf("expected flatten_on_start")
	}
	if cfg.Paper.StartingCash != 5000 || cfg.Paper.PriceSource != "stub" {
		t.Fatalf("unexpected paper settings: %+v", cfg.Paper)
	}
	if cfg.Journal.Path != "data/trades.jsonl" {
		t.Fatalf("unexpected journal path: %s", cfg.Journal.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("testdata config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.Strategy.ZEntry = 2.5
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if again.Strategy.ZEntry != 2.5 {
		t.Fatalf("expected saved z_entry 2.5, got %.2f", again.Strategy.ZEntry)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join("testdata", "config.yaml"))
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		return cfg
	}
	cases := map[string]func(*Config){
		"entry not above exit": func(c *Config) { c.Strategy.ZEntry = 0.5 },
		"zero exit":            func(c *Config) { c.Strategy.ZExit = 0 },
		"short lookback":       func(c *Config) { c.Strategy.LookbackWindow = 1 },
		"no instruments":       func(c *Config) { c.Strategy.Instruments = nil },
		"duplicate instrument": func(c *Config) { c.Strategy.Instruments = []string{"BTCUSDT", "BTCUSDT"} },
		"no capital":           func(c *Config) { c.Strategy.CapitalPerTrade = 0 },
		"zero leverage":        func(c *Config) { c.Strategy.Leverage = 0 },
		"zero poll":            func(c *Config) { c.Strategy.PollIntervalMs = 0 },
		"unknown provider":     func(c *Config) { c.Exchange.Provider = "kraken" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvAPIKey, "key-from-env")
	t.Setenv(EnvAPISecret, "secret-from-env")
	t.Setenv(EnvPostgresDSN, "postgres://bot@localhost/trades")

	cfg := &Config{Exchange: Exchange{APIKey: "yaml-key"}}
	cfg.ApplyEnv(filepath.Join(t.TempDir(), "absent.env"))

	if cfg.Exchange.APIKey != "key-from-env" || cfg.Exchange.APISecret != "secret-from-env" {
		t.Fatalf("expected env secrets, got %+v", cfg.Exchange)
	}
	if cfg.Journal.PostgresDSN != "postgres://bot@localhost/trades" {
		t.Fatalf("expected env dsn, got %s", cfg.Journal.PostgresDSN)
	}
}
