// Package config defines the top-level configuration for the WOO X trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WOOXBOT_* environment variables. It is
// built once at startup and passed read-only into every component.
type Config struct {
	Exchange  ExchangeConfig  `toml:"exchange"`
	Trading   TradingConfig   `toml:"trading"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Engine    EngineConfig    `toml:"engine"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangeConfig holds WOO X endpoints, credentials and request pacing.
type ExchangeConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	// EncryptedSecretPath points at a file produced by `-mode keygen`. It is
	// used when APISecret is empty.
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestTimeout      duration `toml:"request_timeout"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	Burst               int      `toml:"burst"`
	MaxAttempts         int      `toml:"max_attempts"`
	BookDepth           int      `toml:"book_depth"`
}

// TradingConfig holds the instrument and the risk and sizing rules.
type TradingConfig struct {
	TradeMode             string  `toml:"trade_mode"` // paper | live
	Symbol                string  `toml:"symbol"`
	AccountID             string  `toml:"account_id"`
	PositionSizeType      string  `toml:"position_size_type"` // value | quantity | percentage
	PositionSizeValue     float64 `toml:"position_size_value"`
	StopLossPct           float64 `toml:"stop_loss_pct"`
	TakeProfitPct         float64 `toml:"take_profit_pct"`
	Commission            float64 `toml:"commission"`
	MaxOpenPositions      int     `toml:"max_open_positions"`
	StartupPositionPolicy string  `toml:"startup_position_policy"` // keep | close
	PaperStartingEquity   float64 `toml:"paper_starting_equity"`
	CloseOnShutdown       bool    `toml:"close_on_shutdown"`
}

// StrategyConfig selects the signal strategy and its numeric parameters.
type StrategyConfig struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

// EngineConfig holds the schedule periods of the engine loop.
type EngineConfig struct {
	FeedInterval         duration `toml:"feed_interval"`
	PositionSyncInterval duration `toml:"position_sync_interval"`
	UpdateInterval       duration `toml:"update_interval"`
	StatusInterval       duration `toml:"status_interval"`
	Resolution           duration `toml:"resolution"`
	HistoryCapacity      int      `toml:"history_capacity"`
}

// PostgresConfig holds ledger database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP console parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinInterval       duration `toml:"min_interval"`
}

// TelemetryConfig holds OTLP metric export settings.
type TelemetryConfig struct {
	Enabled        bool     `toml:"enabled"`
	OTLPEndpoint   string   `toml:"otlp_endpoint"`
	Insecure       bool     `toml:"insecure"`
	MetricInterval duration `toml:"metric_interval"`
	ServiceName    string   `toml:"service_name"`
	Environment    string   `toml:"environment"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:           "https://api.woox.io",
			RequestTimeout:    duration{10 * time.Second},
			RequestsPerSecond: 10,
			Burst:             5,
			MaxAttempts:       3,
			BookDepth:         30,
		},
		Trading: TradingConfig{
			TradeMode:             "paper",
			Symbol:                "PERP_BTC_USDT",
			AccountID:             "TRADER",
			PositionSizeType:      "value",
			PositionSizeValue:     10.0,
			StopLossPct:           2.0,
			TakeProfitPct:         3.0,
			Commission:            0,
			MaxOpenPositions:      1,
			StartupPositionPolicy: "keep",
			PaperStartingEquity:   100_000,
			CloseOnShutdown:       true,
		},
		Strategy: StrategyConfig{
			Name:   "ma_crossover",
			Params: map[string]any{},
		},
		Engine: EngineConfig{
			FeedInterval:         duration{time.Second},
			PositionSyncInterval: duration{3 * time.Second},
			UpdateInterval:       duration{60 * time.Second},
			StatusInterval:       duration{5 * time.Second},
			Resolution:           duration{100 * time.Millisecond},
			HistoryCapacity:      1440,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "wooxbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			CacheTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10_000,
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "wooxbot-ledger",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:      []string{"position_opened", "position_closed", "order_failed"},
			MinInterval: duration{time.Minute},
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			OTLPEndpoint:   "localhost:4318",
			Insecure:       true,
			MetricInterval: duration{30 * time.Second},
			ServiceName:    "wooxbot",
			Environment:    "development",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"report":  true,
	"archive": true,
	"keygen":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{
	"ma_crossover":    true,
	"rsi":             true,
	"bollinger_bands": true,
}

// IsLive reports whether orders are sent to the exchange.
func (c *Config) IsLive() bool {
	return strings.EqualFold(c.Trading.TradeMode, "live")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, report, archive, keygen)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.RequestTimeout.Duration <= 0 {
		errs = append(errs, "exchange: request_timeout must be > 0")
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		errs = append(errs, "exchange: requests_per_second must be > 0")
	}
	if c.Exchange.MaxAttempts < 1 {
		errs = append(errs, "exchange: max_attempts must be >= 1")
	}
	if c.Exchange.BookDepth < 1 || c.Exchange.BookDepth > 100 {
		errs = append(errs, fmt.Sprintf("exchange: book_depth must be 1-100, got %d", c.Exchange.BookDepth))
	}
	if c.IsLive() && strings.EqualFold(c.Mode, "trade") {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key is required for live trading")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for live trading")
		}
	}
	if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
		errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
	}

	// Trading
	switch strings.ToLower(c.Trading.TradeMode) {
	case "paper", "live":
	default:
		errs = append(errs, fmt.Sprintf("trading: unknown trade_mode %q (valid: paper, live)", c.Trading.TradeMode))
	}
	sym := strings.ToUpper(c.Trading.Symbol)
	if !strings.HasPrefix(sym, "SPOT_") && !strings.HasPrefix(sym, "PERP_") {
		errs = append(errs, fmt.Sprintf("trading: symbol %q must start with SPOT_ or PERP_", c.Trading.Symbol))
	}
	switch strings.ToLower(c.Trading.PositionSizeType) {
	case "value", "quantity", "percentage":
	default:
		errs = append(errs, fmt.Sprintf("trading: unknown position_size_type %q (valid: value, quantity, percentage)", c.Trading.PositionSizeType))
	}
	if c.Trading.PositionSizeValue <= 0 {
		errs = append(errs, "trading: position_size_value must be > 0")
	}
	if c.Trading.StopLossPct <= 0 {
		errs = append(errs, "trading: stop_loss_pct must be > 0")
	}
	if c.Trading.TakeProfitPct <= 0 {
		errs = append(errs, "trading: take_profit_pct must be > 0")
	}
	if c.Trading.Commission < 0 {
		errs = append(errs, "trading: commission must be >= 0")
	}
	if c.Trading.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	switch strings.ToLower(c.Trading.StartupPositionPolicy) {
	case "keep", "close":
	default:
		errs = append(errs, fmt.Sprintf("trading: unknown startup_position_policy %q (valid: keep, close)", c.Trading.StartupPositionPolicy))
	}

	// Strategy
	if !validStrategies[c.Strategy.Name] {
		errs = append(errs, fmt.Sprintf("strategy: unknown name %q (valid: ma_crossover, rsi, bollinger_bands)", c.Strategy.Name))
	}

	// Engine
	if c.Engine.FeedInterval.Duration <= 0 {
		errs = append(errs, "engine: feed_interval must be > 0")
	}
	if c.Engine.PositionSyncInterval.Duration <= 0 {
		errs = append(errs, "engine: position_sync_interval must be > 0")
	}
	if c.Engine.UpdateInterval.Duration <= 0 {
		errs = append(errs, "engine: update_interval must be > 0")
	}
	if c.Engine.StatusInterval.Duration <= 0 {
		errs = append(errs, "engine: status_interval must be > 0")
	}
	if c.Engine.HistoryCapacity < 1 {
		errs = append(errs, "engine: history_capacity must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if strings.EqualFold(c.Mode, "archive") && (!c.Postgres.Enabled || !c.S3.Enabled) {
		errs = append(errs, "archive mode requires postgres.enabled and s3.enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
