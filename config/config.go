package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	TradingConfig      TradingConfig      `json:"trading"`
	StrategyConfig     StrategyConfig     `json:"strategy"`
	RiskConfig         RiskConfig         `json:"risk"`
	BreakerConfig      BreakerConfig      `json:"breaker"`
	PositionConfig     PositionConfig     `json:"position"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ServerConfig       ServerConfig       `json:"server"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
}

// BinanceConfig holds exchange connectivity settings. Credentials may come
// from the environment or, when Vault is enabled, from the secret store.
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	TestNet   bool   `json:"testnet"`
}

// TradingConfig drives the orchestrator cycle.
type TradingConfig struct {
	Symbols             []string      `json:"symbols"`
	CycleInterval       time.Duration `json:"cycle_interval"`
	Leverage            int           `json:"leverage"`
	MarginType          string        `json:"margin_type"` // CROSSED or ISOLATED
	DryRun              bool          `json:"dry_run"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
}

// StrategyConfig holds indicator parameters for the signal engine: the trend
// timeframe (e.g. 4h) and entry timeframe (e.g. 15m), the EMA period on each,
// and the RSI and MACD settings.
type StrategyConfig struct {
	TrendInterval    string  `json:"trend_interval"`
	EntryInterval    string  `json:"entry_interval"`
	TrendEMAPeriod   int     `json:"trend_ema_period"`
	EntryEMAPeriod   int     `json:"entry_ema_period"`
	RSIPeriod        int     `json:"rsi_period"`
	RSIOversold      float64 `json:"rsi_oversold"`
	RSIBuyEntry      float64 `json:"rsi_buy_entry"`
	RSISellEntry     float64 `json:"rsi_sell_entry"`
	RSIOverbought    float64 `json:"rsi_overbought"`
	MACDFastPeriod   int     `json:"macd_fast_period"`
	MACDSlowPeriod   int     `json:"macd_slow_period"`
	MACDSignalPeriod int     `json:"macd_signal_period"`
	CandleLimit      int     `json:"candle_limit"`
}

// RiskConfig holds the risk engine parameters. MaxRiskPerTrade and
// MaxPositionFraction are fractions of the account balance.
// StopLossFallbackPct applies when no candle-derived stop is available, and
// TrailingActivationPct is the unrealized profit fraction that arms the
// trailing stop.
type RiskConfig struct {
	MaxRiskPerTrade        float64 `json:"max_risk_per_trade"`
	MaxPositionFraction    float64 `json:"max_position_fraction"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	RiskRewardRatio        float64 `json:"risk_reward_ratio"`
	StopLossFallbackPct    float64 `json:"stop_loss_fallback_pct"`
	TrailingStopPercent    float64 `json:"trailing_stop_percent"`
	TrailingActivationPct  float64 `json:"trailing_activation_pct"`
	MinNotional            float64 `json:"min_notional"`
}

// BreakerConfig holds the circuit breaker limits. Losses are measured as
// the trade's return on notional, so 0.05 means 5%.
type BreakerConfig struct {
	Enabled              bool          `json:"enabled"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	MaxDailyLossPct      float64       `json:"max_daily_loss_pct"`
	Cooldown             time.Duration `json:"cooldown"`
}

// PositionConfig holds ledger persistence settings.
type PositionConfig struct {
	StateFile string `json:"state_file"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// DatabaseConfig holds the optional Postgres trade journal settings.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// RedisConfig holds the optional Redis ledger mirror settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile reads the JSON config at path (missing file is fine) and applies
// environment overrides. Environment variables take precedence over the file.
func LoadFile(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Exchange
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.TestNet = getEnvOrDefault("BINANCE_TESTNET", boolString(cfg.BinanceConfig.TestNet)) == "true"
	if cfg.BinanceConfig.BaseURL == "" {
		if cfg.BinanceConfig.TestNet {
			cfg.BinanceConfig.BaseURL = "https://testnet.binancefuture.com"
		} else {
			cfg.BinanceConfig.BaseURL = "https://fapi.binance.com"
		}
	}
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	if cfg.BinanceConfig.StreamURL == "" {
		cfg.BinanceConfig.StreamURL = "wss://fstream.binance.com"
	}
	cfg.BinanceConfig.StreamURL = getEnvOrDefault("BINANCE_STREAM_URL", cfg.BinanceConfig.StreamURL)

	// Trading
	if len(cfg.TradingConfig.Symbols) == 0 {
		cfg.TradingConfig.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	}
	cfg.TradingConfig.CycleInterval = getEnvDurationOrDefault("BOT_CYCLE_INTERVAL", defaultDuration(cfg.TradingConfig.CycleInterval, 60*time.Second))
	cfg.TradingConfig.Leverage = getEnvIntOrDefault("BOT_LEVERAGE", defaultInt(cfg.TradingConfig.Leverage, 5))
	cfg.TradingConfig.MarginType = getEnvOrDefault("BOT_MARGIN_TYPE", defaultString(cfg.TradingConfig.MarginType, "ISOLATED"))
	cfg.TradingConfig.DryRun = getEnvOrDefault("BOT_DRY_RUN", boolString(cfg.TradingConfig.DryRun)) == "true"
	cfg.TradingConfig.ConfidenceThreshold = getEnvFloatOrDefault("BOT_CONFIDENCE_THRESHOLD", defaultFloat(cfg.TradingConfig.ConfidenceThreshold, 0.5))

	// Strategy
	cfg.StrategyConfig.TrendInterval = defaultString(cfg.StrategyConfig.TrendInterval, "4h")
	cfg.StrategyConfig.EntryInterval = defaultString(cfg.StrategyConfig.EntryInterval, "15m")
	cfg.StrategyConfig.TrendEMAPeriod = defaultInt(cfg.StrategyConfig.TrendEMAPeriod, 200)
	cfg.StrategyConfig.EntryEMAPeriod = defaultInt(cfg.StrategyConfig.EntryEMAPeriod, 20)
	cfg.StrategyConfig.RSIPeriod = defaultInt(cfg.StrategyConfig.RSIPeriod, 14)
	cfg.StrategyConfig.RSIOversold = defaultFloat(cfg.StrategyConfig.RSIOversold, 30)
	cfg.StrategyConfig.RSIBuyEntry = defaultFloat(cfg.StrategyConfig.RSIBuyEntry, 40)
	cfg.StrategyConfig.RSISellEntry = defaultFloat(cfg.StrategyConfig.RSISellEntry, 60)
	cfg.StrategyConfig.RSIOverbought = defaultFloat(cfg.StrategyConfig.RSIOverbought, 75)
	cfg.StrategyConfig.MACDFastPeriod = defaultInt(cfg.StrategyConfig.MACDFastPeriod, 12)
	cfg.StrategyConfig.MACDSlowPeriod = defaultInt(cfg.StrategyConfig.MACDSlowPeriod, 26)
	cfg.StrategyConfig.MACDSignalPeriod = defaultInt(cfg.StrategyConfig.MACDSignalPeriod, 9)
	cfg.StrategyConfig.CandleLimit = defaultInt(cfg.StrategyConfig.CandleLimit, 250)

	// Risk
	cfg.RiskConfig.MaxRiskPerTrade = getEnvFloatOrDefault("RISK_MAX_PER_TRADE", defaultFloat(cfg.RiskConfig.MaxRiskPerTrade, 0.01))
	cfg.RiskConfig.MaxPositionFraction = getEnvFloatOrDefault("RISK_MAX_POSITION_FRACTION", defaultFloat(cfg.RiskConfig.MaxPositionFraction, 0.10))
	cfg.RiskConfig.MaxConcurrentPositions = getEnvIntOrDefault("RISK_MAX_CONCURRENT", defaultInt(cfg.RiskConfig.MaxConcurrentPositions, 2))
	cfg.RiskConfig.RiskRewardRatio = getEnvFloatOrDefault("RISK_REWARD_RATIO", defaultFloat(cfg.RiskConfig.RiskRewardRatio, 1.5))
	cfg.RiskConfig.StopLossFallbackPct = defaultFloat(cfg.RiskConfig.StopLossFallbackPct, 0.02)
	cfg.RiskConfig.TrailingStopPercent = getEnvFloatOrDefault("RISK_TRAILING_PERCENT", defaultFloat(cfg.RiskConfig.TrailingStopPercent, 0.0075))
	cfg.RiskConfig.TrailingActivationPct = defaultFloat(cfg.RiskConfig.TrailingActivationPct, 0.0075)
	cfg.RiskConfig.MinNotional = defaultFloat(cfg.RiskConfig.MinNotional, 2.0)

	// Circuit breaker
	cfg.BreakerConfig.Enabled = getEnvOrDefault("BREAKER_ENABLED", boolString(cfg.BreakerConfig.Enabled)) == "true"
	cfg.BreakerConfig.MaxConsecutiveLosses = getEnvIntOrDefault("BREAKER_MAX_CONSECUTIVE_LOSSES", defaultInt(cfg.BreakerConfig.MaxConsecutiveLosses, 5))
	cfg.BreakerConfig.MaxDailyLossPct = getEnvFloatOrDefault("BREAKER_MAX_DAILY_LOSS_PCT", defaultFloat(cfg.BreakerConfig.MaxDailyLossPct, 0.05))
	cfg.BreakerConfig.Cooldown = getEnvDurationOrDefault("BREAKER_COOLDOWN", defaultDuration(cfg.BreakerConfig.Cooldown, 30*time.Minute))

	// Position
	cfg.PositionConfig.StateFile = getEnvOrDefault("POSITION_STATE_FILE", defaultString(cfg.PositionConfig.StateFile, "positions.json"))

	// Notifications
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolString(cfg.NotificationConfig.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolString(cfg.NotificationConfig.Telegram.Enabled)) == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", boolString(cfg.NotificationConfig.Discord.Enabled)) == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"

	// Server
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", boolString(cfg.ServerConfig.Enabled)) == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database
	cfg.DatabaseConfig.DSN = getEnvOrDefault("DATABASE_DSN", cfg.DatabaseConfig.DSN)
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolString(cfg.DatabaseConfig.Enabled)) == "true"

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "trading-bot/api-keys"))
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	if c.RiskConfig.MaxRiskPerTrade <= 0 || c.RiskConfig.MaxRiskPerTrade > 0.5 {
		return fmt.Errorf("invalid max_risk_per_trade %.4f: must be in (0, 0.5]", c.RiskConfig.MaxRiskPerTrade)
	}
	if c.RiskConfig.MaxPositionFraction <= 0 || c.RiskConfig.MaxPositionFraction > 1 {
		return fmt.Errorf("invalid max_position_fraction %.4f: must be in (0, 1]", c.RiskConfig.MaxPositionFraction)
	}
	if c.RiskConfig.RiskRewardRatio <= 0 {
		return fmt.Errorf("invalid risk_reward_ratio %.2f: must be positive", c.RiskConfig.RiskRewardRatio)
	}
	if c.RiskConfig.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("invalid max_concurrent_positions %d: must be positive", c.RiskConfig.MaxConcurrentPositions)
	}
	if c.StrategyConfig.MACDFastPeriod >= c.StrategyConfig.MACDSlowPeriod {
		return fmt.Errorf("macd fast period %d must be below slow period %d",
			c.StrategyConfig.MACDFastPeriod, c.StrategyConfig.MACDSlowPeriod)
	}
	if c.TradingConfig.CycleInterval < time.Second {
		return fmt.Errorf("cycle_interval %s too short", c.TradingConfig.CycleInterval)
	}
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("no trading symbols configured")
	}
	return nil
}

// GenerateSampleConfig writes a config.json with the default values.
func GenerateSampleConfig(path string) error {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling sample config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultString(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func defaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func defaultFloat(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}

func defaultDuration(v, d time.Duration) time.Duration {
	if v == 0 {
		return d
	}
	return v
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
