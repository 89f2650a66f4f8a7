package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerConfig     ServerConfig    `json:"server"`
	DatabaseConfig   DatabaseConfig  `json:"database"`
	RedisConfig      RedisConfig     `json:"redis"`
	TimingConfig     TimingConfig    `json:"timings"`
	RiskConfig       RiskConfig      `json:"risk"`
	LimitsConfig     LimitsConfig    `json:"limits"`
	TrailingConfig   TrailingConfig  `json:"trailing"`
	RetentionConfig  RetentionConfig `json:"retention"`
	LoggingConfig    LoggingConfig   `json:"logging"`
	AutoTradeEnabled bool            `json:"auto_trade_enabled"`
}

// ServerConfig holds the four HTTP ingress surfaces. Separate ports keep a
// tick flood from starving command polls.
type ServerConfig struct {
	Host            string `json:"host"`
	ControlPort     int    `json:"control_port"`
	TickPort        int    `json:"tick_port"`
	TradePort       int    `json:"trade_port"`
	LogPort         int    `json:"log_port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	PoolSize int    `json:"pool_size"`
}

// RedisConfig holds Redis configuration for the command queue, indicator
// cache and worker health metrics.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// TimingConfig holds the watchdog and expiry timings, all in seconds.
type TimingConfig struct {
	MaxSignalAge          int `json:"max_signal_age"`      // Signals older than this are never executed
	CommandTimeout        int `json:"command_timeout"`     // pending/sent commands auto-fail after this
	HeartbeatLost         int `json:"heartbeat_lost"`      // Pause auto-trading when heartbeat is older
	TickStale             int `json:"tick_stale"`          // Alert when tick flow stops during market hours
	CircuitCooldown       int `json:"circuit_cooldown"`    // Command-failure breaker cooldown
	SLCooldown            int `json:"sl_cooldown"`         // Symbol pause after an SL hit
	IndicatorCacheTTL     int `json:"indicator_cache_ttl"` // Redis TTL for indicator results
	SignalIntervalSecs    int `json:"signal_interval_secs"`
	DecisionIntervalSecs  int `json:"decision_interval_secs"`
	ReconcileIntervalSecs int `json:"reconcile_interval_secs"`
	TrailingIntervalSecs  int `json:"trailing_interval_secs"`
}

type RiskConfig struct {
	MaxDailyLossPercent         float64 `json:"max_daily_loss_percent"`
	MaxDailyLossEUR             float64 `json:"max_daily_loss_eur"` // 0 disables the absolute cap
	MaxTotalDrawdownPercent     float64 `json:"max_total_drawdown_percent"`
	MaxRiskPercentDefault       float64 `json:"max_risk_percent_default"`
	MaxRiskPercentCrypto        float64 `json:"max_risk_percent_crypto"`
	BaseRiskPercent             float64 `json:"base_risk_percent"`
	MinGenerationConfidence     float64 `json:"min_generation_confidence"`
	BuyAdvantage                int     `json:"buy_advantage"`
	BuyConfidencePenalty        float64 `json:"buy_confidence_penalty"`
	PauseAfterConsecutiveLosses int     `json:"pause_after_consecutive_losses"`
	MaxTPPercent                float64 `json:"max_tp_percent"` // TP capped at this % of entry
	MinSLPercent                float64 `json:"min_sl_percent"` // SL pushed to at least this % of entry
}

type LimitsConfig struct {
	MaxTotalPositions   int `json:"max_total_positions"`
	MaxPerSymbol        int `json:"max_per_symbol"`
	MaxPerTimeframe     int `json:"max_per_timeframe"`
	MaxPerCurrencyGroup int `json:"max_per_currency_group"`
	CircuitThreshold    int `json:"circuit_threshold"` // Consecutive command failures before trip
	CommandBatchSize    int `json:"command_batch_size"`
}

// TrailingConfig holds the 4-stage progress thresholds as percentages of
// the distance to TP.
type TrailingConfig struct {
	BreakevenAtPercent  float64 `json:"breakeven_at_percent"`
	PartialAtPercent    float64 `json:"partial_at_percent"`
	AggressiveAtPercent float64 `json:"aggressive_at_percent"`
	NearTPAtPercent     float64 `json:"near_tp_at_percent"`
	MinTrailPips        float64 `json:"min_trail_pips"`
	MaxTrailPips        float64 `json:"max_trail_pips"`
	UpdateMinSecs       int     `json:"update_min_secs"` // Rate limit per trade
}

type RetentionConfig struct {
	TickRetentionDays         int `json:"tick_retention_days"`
	DecisionLogRetentionHours int `json:"decision_log_retention_hours"`
	SignalLifetimeHours       int `json:"signal_lifetime_hours"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.ControlPort = getEnvIntOrDefault("CONTROL_PORT", defaultInt(cfg.ServerConfig.ControlPort, 9900))
	cfg.ServerConfig.TickPort = getEnvIntOrDefault("TICK_PORT", defaultInt(cfg.ServerConfig.TickPort, 9901))
	cfg.ServerConfig.TradePort = getEnvIntOrDefault("TRADE_PORT", defaultInt(cfg.ServerConfig.TradePort, 9902))
	cfg.ServerConfig.LogPort = getEnvIntOrDefault("LOG_PORT", defaultInt(cfg.ServerConfig.LogPort, 9903))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultStr(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultStr(cfg.DatabaseConfig.User, "mt5_backend"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "mt5_backend"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))
	cfg.DatabaseConfig.PoolSize = getEnvIntOrDefault("DB_POOL_SIZE", defaultInt(cfg.DatabaseConfig.PoolSize, 25))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Timings
	cfg.TimingConfig.MaxSignalAge = getEnvIntOrDefault("MAX_SIGNAL_AGE", defaultInt(cfg.TimingConfig.MaxSignalAge, 300))
	cfg.TimingConfig.CommandTimeout = getEnvIntOrDefault("COMMAND_TIMEOUT", defaultInt(cfg.TimingConfig.CommandTimeout, 300))
	cfg.TimingConfig.HeartbeatLost = getEnvIntOrDefault("HEARTBEAT_LOST", defaultInt(cfg.TimingConfig.HeartbeatLost, 300))
	cfg.TimingConfig.TickStale = getEnvIntOrDefault("TICK_STALE", defaultInt(cfg.TimingConfig.TickStale, 180))
	cfg.TimingConfig.CircuitCooldown = getEnvIntOrDefault("CB_COOLDOWN", defaultInt(cfg.TimingConfig.CircuitCooldown, 300))
	cfg.TimingConfig.SLCooldown = getEnvIntOrDefault("SL_COOLDOWN", defaultInt(cfg.TimingConfig.SLCooldown, 3600))
	cfg.TimingConfig.IndicatorCacheTTL = getEnvIntOrDefault("INDICATOR_CACHE_TTL", defaultInt(cfg.TimingConfig.IndicatorCacheTTL, 15))
	cfg.TimingConfig.SignalIntervalSecs = getEnvIntOrDefault("SIGNAL_INTERVAL_SECS", defaultInt(cfg.TimingConfig.SignalIntervalSecs, 60))
	cfg.TimingConfig.DecisionIntervalSecs = getEnvIntOrDefault("DECISION_INTERVAL_SECS", defaultInt(cfg.TimingConfig.DecisionIntervalSecs, 60))
	cfg.TimingConfig.ReconcileIntervalSecs = getEnvIntOrDefault("RECONCILE_INTERVAL_SECS", defaultInt(cfg.TimingConfig.ReconcileIntervalSecs, 30))
	cfg.TimingConfig.TrailingIntervalSecs = getEnvIntOrDefault("TRAILING_INTERVAL_SECS", defaultInt(cfg.TimingConfig.TrailingIntervalSecs, 5))

	// Risk defaults
	cfg.RiskConfig.MaxDailyLossPercent = getEnvFloatOrDefault("MAX_DAILY_LOSS_PCT", defaultFloat(cfg.RiskConfig.MaxDailyLossPercent, 2.0))
	cfg.RiskConfig.MaxDailyLossEUR = getEnvFloatOrDefault("MAX_DAILY_LOSS_EUR", cfg.RiskConfig.MaxDailyLossEUR)
	cfg.RiskConfig.MaxTotalDrawdownPercent = getEnvFloatOrDefault("MAX_TOTAL_DD_PCT", defaultFloat(cfg.RiskConfig.MaxTotalDrawdownPercent, 20.0))
	cfg.RiskConfig.MaxRiskPercentDefault = getEnvFloatOrDefault("MAX_RISK_PCT_DEFAULT", defaultFloat(cfg.RiskConfig.MaxRiskPercentDefault, 2.0))
	cfg.RiskConfig.MaxRiskPercentCrypto = getEnvFloatOrDefault("MAX_RISK_PCT_CRYPTO", defaultFloat(cfg.RiskConfig.MaxRiskPercentCrypto, 2.5))
	cfg.RiskConfig.BaseRiskPercent = getEnvFloatOrDefault("BASE_RISK_PCT", defaultFloat(cfg.RiskConfig.BaseRiskPercent, 1.0))
	cfg.RiskConfig.MinGenerationConfidence = getEnvFloatOrDefault("MIN_GENERATION_CONFIDENCE", defaultFloat(cfg.RiskConfig.MinGenerationConfidence, 50))
	cfg.RiskConfig.BuyAdvantage = getEnvIntOrDefault("BUY_ADVANTAGE", defaultInt(cfg.RiskConfig.BuyAdvantage, 2))
	cfg.RiskConfig.BuyConfidencePenalty = getEnvFloatOrDefault("BUY_CONFIDENCE_PENALTY", defaultFloat(cfg.RiskConfig.BuyConfidencePenalty, 3))
	cfg.RiskConfig.PauseAfterConsecutiveLosses = getEnvIntOrDefault("PAUSE_AFTER_CONSECUTIVE_LOSSES", defaultInt(cfg.RiskConfig.PauseAfterConsecutiveLosses, 3))
	cfg.RiskConfig.MaxTPPercent = getEnvFloatOrDefault("MAX_TP_PCT", defaultFloat(cfg.RiskConfig.MaxTPPercent, 5.0))
	cfg.RiskConfig.MinSLPercent = getEnvFloatOrDefault("MIN_SL_PCT", defaultFloat(cfg.RiskConfig.MinSLPercent, 0.1))

	// Limits
	cfg.LimitsConfig.MaxTotalPositions = getEnvIntOrDefault("MAX_TOTAL_POSITIONS", defaultInt(cfg.LimitsConfig.MaxTotalPositions, 10))
	cfg.LimitsConfig.MaxPerSymbol = getEnvIntOrDefault("MAX_PER_SYMBOL", defaultInt(cfg.LimitsConfig.MaxPerSymbol, 1))
	cfg.LimitsConfig.MaxPerTimeframe = getEnvIntOrDefault("MAX_PER_TIMEFRAME", defaultInt(cfg.LimitsConfig.MaxPerTimeframe, 1))
	cfg.LimitsConfig.MaxPerCurrencyGroup = getEnvIntOrDefault("MAX_PER_CURRENCY_GROUP", defaultInt(cfg.LimitsConfig.MaxPerCurrencyGroup, 2))
	cfg.LimitsConfig.CircuitThreshold = getEnvIntOrDefault("CB_THRESHOLD", defaultInt(cfg.LimitsConfig.CircuitThreshold, 5))
	cfg.LimitsConfig.CommandBatchSize = getEnvIntOrDefault("COMMAND_BATCH_SIZE", defaultInt(cfg.LimitsConfig.CommandBatchSize, 10))

	// Trailing stages
	cfg.TrailingConfig.BreakevenAtPercent = getEnvFloatOrDefault("BREAKEVEN_AT_PCT", defaultFloat(cfg.TrailingConfig.BreakevenAtPercent, 30))
	cfg.TrailingConfig.PartialAtPercent = getEnvFloatOrDefault("PARTIAL_AT_PCT", defaultFloat(cfg.TrailingConfig.PartialAtPercent, 50))
	cfg.TrailingConfig.AggressiveAtPercent = getEnvFloatOrDefault("AGGRESSIVE_AT_PCT", defaultFloat(cfg.TrailingConfig.AggressiveAtPercent, 75))
	cfg.TrailingConfig.NearTPAtPercent = getEnvFloatOrDefault("NEAR_TP_AT_PCT", defaultFloat(cfg.TrailingConfig.NearTPAtPercent, 90))
	cfg.TrailingConfig.MinTrailPips = getEnvFloatOrDefault("MIN_TRAIL_PIPS", defaultFloat(cfg.TrailingConfig.MinTrailPips, 10))
	cfg.TrailingConfig.MaxTrailPips = getEnvFloatOrDefault("MAX_TRAIL_PIPS", defaultFloat(cfg.TrailingConfig.MaxTrailPips, 100))
	cfg.TrailingConfig.UpdateMinSecs = getEnvIntOrDefault("TRAILING_UPDATE_MIN_SECS", defaultInt(cfg.TrailingConfig.UpdateMinSecs, 5))

	// Retention
	cfg.RetentionConfig.TickRetentionDays = getEnvIntOrDefault("TICK_RETENTION_DAYS", defaultInt(cfg.RetentionConfig.TickRetentionDays, 7))
	cfg.RetentionConfig.DecisionLogRetentionHours = getEnvIntOrDefault("DECISION_LOG_RETENTION_HOURS", defaultInt(cfg.RetentionConfig.DecisionLogRetentionHours, 48))
	cfg.RetentionConfig.SignalLifetimeHours = getEnvIntOrDefault("SIGNAL_LIFETIME_HOURS", defaultInt(cfg.RetentionConfig.SignalLifetimeHours, 24))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultStr(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.AutoTradeEnabled = getEnvOrDefault("AUTO_TRADE_ENABLED", "true") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// Duration helpers so callers don't multiply by time.Second everywhere.

func (t TimingConfig) MaxSignalAgeDuration() time.Duration   { return time.Duration(t.MaxSignalAge) * time.Second }
func (t TimingConfig) CommandTimeoutDuration() time.Duration { return time.Duration(t.CommandTimeout) * time.Second }
func (t TimingConfig) HeartbeatLostDuration() time.Duration  { return time.Duration(t.HeartbeatLost) * time.Second }
func (t TimingConfig) TickStaleDuration() time.Duration      { return time.Duration(t.TickStale) * time.Second }
func (t TimingConfig) CircuitCooldownDuration() time.Duration {
	return time.Duration(t.CircuitCooldown) * time.Second
}
func (t TimingConfig) SLCooldownDuration() time.Duration { return time.Duration(t.SLCooldown) * time.Second }
func (t TimingConfig) IndicatorCacheTTLDuration() time.Duration {
	return time.Duration(t.IndicatorCacheTTL) * time.Second
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

func defaultStr(v, d string) string {
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

// GenerateSampleConfig creates a sample configuration file with defaults
// filled in.
func GenerateSampleConfig(filename string) error {
	cfg := &Config{}
	applyEnvOverrides(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
