package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.TradingConfig.CycleInterval != 60*time.Second {
		t.Errorf("CycleInterval = %s, want 60s", cfg.TradingConfig.CycleInterval)
	}
	if cfg.TradingConfig.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %v, want 0.5", cfg.TradingConfig.ConfidenceThreshold)
	}
	if cfg.StrategyConfig.TrendInterval != "4h" || cfg.StrategyConfig.EntryInterval != "15m" {
		t.Errorf("intervals = %s/%s, want 4h/15m",
			cfg.StrategyConfig.TrendInterval, cfg.StrategyConfig.EntryInterval)
	}
	if cfg.StrategyConfig.TrendEMAPeriod != 200 {
		t.Errorf("TrendEMAPeriod = %d, want 200", cfg.StrategyConfig.TrendEMAPeriod)
	}
	if cfg.RiskConfig.MaxRiskPerTrade != 0.01 {
		t.Errorf("MaxRiskPerTrade = %v, want 0.01", cfg.RiskConfig.MaxRiskPerTrade)
	}
	if cfg.RiskConfig.MaxConcurrentPositions != 2 {
		t.Errorf("MaxConcurrentPositions = %d, want 2", cfg.RiskConfig.MaxConcurrentPositions)
	}
	if cfg.BreakerConfig.MaxConsecutiveLosses != 5 {
		t.Errorf("MaxConsecutiveLosses = %d, want 5", cfg.BreakerConfig.MaxConsecutiveLosses)
	}
	if len(cfg.TradingConfig.Symbols) == 0 {
		t.Error("no default symbols")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BOT_LEVERAGE", "10")
	t.Setenv("RISK_MAX_PER_TRADE", "0.02")
	t.Setenv("BOT_CYCLE_INTERVAL", "30s")
	t.Setenv("BOT_DRY_RUN", "true")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.BinanceConfig.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.BinanceConfig.APIKey)
	}
	if cfg.TradingConfig.Leverage != 10 {
		t.Errorf("Leverage = %d, want 10", cfg.TradingConfig.Leverage)
	}
	if cfg.RiskConfig.MaxRiskPerTrade != 0.02 {
		t.Errorf("MaxRiskPerTrade = %v, want 0.02", cfg.RiskConfig.MaxRiskPerTrade)
	}
	if cfg.TradingConfig.CycleInterval != 30*time.Second {
		t.Errorf("CycleInterval = %s, want 30s", cfg.TradingConfig.CycleInterval)
	}
	if !cfg.TradingConfig.DryRun {
		t.Error("DryRun not set from environment")
	}
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile returned %v for a missing file", err)
	}
	if cfg.StrategyConfig.RSIPeriod != 14 {
		t.Errorf("RSIPeriod = %d, want 14", cfg.StrategyConfig.RSIPeriod)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"trading": {"symbols": ["BTCUSDT"], "leverage": 3}, "risk": {"risk_reward_ratio": 2.0}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned %v", err)
	}
	if len(cfg.TradingConfig.Symbols) != 1 || cfg.TradingConfig.Symbols[0] != "BTCUSDT" {
		t.Errorf("Symbols = %v, want [BTCUSDT]", cfg.TradingConfig.Symbols)
	}
	if cfg.TradingConfig.Leverage != 3 {
		t.Errorf("Leverage = %d, want 3", cfg.TradingConfig.Leverage)
	}
	if cfg.RiskConfig.RiskRewardRatio != 2.0 {
		t.Errorf("RiskRewardRatio = %v, want 2.0", cfg.RiskConfig.RiskRewardRatio)
	}
	// Defaults still fill what the file omits.
	if cfg.StrategyConfig.MACDSlowPeriod != 26 {
		t.Errorf("MACDSlowPeriod = %d, want 26", cfg.StrategyConfig.MACDSlowPeriod)
	}
}

func TestLoadFileCorruptFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile accepted corrupt JSON")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero risk per trade", func(c *Config) { c.RiskConfig.MaxRiskPerTrade = 0 }},
		{"excess risk per trade", func(c *Config) { c.RiskConfig.MaxRiskPerTrade = 0.9 }},
		{"position fraction over 1", func(c *Config) { c.RiskConfig.MaxPositionFraction = 1.5 }},
		{"zero reward ratio", func(c *Config) { c.RiskConfig.RiskRewardRatio = 0 }},
		{"zero concurrent positions", func(c *Config) { c.RiskConfig.MaxConcurrentPositions = 0 }},
		{"macd fast above slow", func(c *Config) { c.StrategyConfig.MACDFastPeriod = 30 }},
		{"sub-second cycle", func(c *Config) { c.TradingConfig.CycleInterval = 100 * time.Millisecond }},
		{"no symbols", func(c *Config) { c.TradingConfig.Symbols = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyEnvOverrides(cfg)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
