package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WOOXBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WOOXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The bare WOOX_API_KEY, WOOX_API_SECRET and TRADE_MODE names are read
// first so the prefixed variables win when both are present.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.APIKey, "WOOX_API_KEY")
	setStr(&cfg.Exchange.APISecret, "WOOX_API_SECRET")
	setStr(&cfg.Exchange.BaseURL, "WOOXBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.APIKey, "WOOXBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "WOOXBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "WOOXBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "WOOXBOT_EXCHANGE_SECRET_PASSWORD")
	setDuration(&cfg.Exchange.RequestTimeout, "WOOXBOT_EXCHANGE_REQUEST_TIMEOUT")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "WOOXBOT_EXCHANGE_REQUESTS_PER_SECOND")
	setInt(&cfg.Exchange.Burst, "WOOXBOT_EXCHANGE_BURST")
	setInt(&cfg.Exchange.MaxAttempts, "WOOXBOT_EXCHANGE_MAX_ATTEMPTS")
	setInt(&cfg.Exchange.BookDepth, "WOOXBOT_EXCHANGE_BOOK_DEPTH")

	// ── Trading ──
	setStr(&cfg.Trading.TradeMode, "TRADE_MODE")
	setStr(&cfg.Trading.TradeMode, "WOOXBOT_TRADING_TRADE_MODE")
	setStr(&cfg.Trading.Symbol, "WOOXBOT_TRADING_SYMBOL")
	setStr(&cfg.Trading.AccountID, "WOOXBOT_TRADING_ACCOUNT_ID")
	setStr(&cfg.Trading.PositionSizeType, "WOOXBOT_TRADING_POSITION_SIZE_TYPE")
	setFloat64(&cfg.Trading.PositionSizeValue, "WOOXBOT_TRADING_POSITION_SIZE_VALUE")
	setFloat64(&cfg.Trading.StopLossPct, "WOOXBOT_TRADING_STOP_LOSS_PCT")
	setFloat64(&cfg.Trading.TakeProfitPct, "WOOXBOT_TRADING_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trading.Commission, "WOOXBOT_TRADING_COMMISSION")
	setInt(&cfg.Trading.MaxOpenPositions, "WOOXBOT_TRADING_MAX_OPEN_POSITIONS")
	setStr(&cfg.Trading.StartupPositionPolicy, "WOOXBOT_TRADING_STARTUP_POSITION_POLICY")
	setFloat64(&cfg.Trading.PaperStartingEquity, "WOOXBOT_TRADING_PAPER_STARTING_EQUITY")
	setBool(&cfg.Trading.CloseOnShutdown, "WOOXBOT_TRADING_CLOSE_ON_SHUTDOWN")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "WOOXBOT_STRATEGY_NAME")

	// ── Engine ──
	setDuration(&cfg.Engine.FeedInterval, "WOOXBOT_ENGINE_FEED_INTERVAL")
	setDuration(&cfg.Engine.PositionSyncInterval, "WOOXBOT_ENGINE_POSITION_SYNC_INTERVAL")
	setDuration(&cfg.Engine.UpdateInterval, "WOOXBOT_ENGINE_UPDATE_INTERVAL")
	setDuration(&cfg.Engine.StatusInterval, "WOOXBOT_ENGINE_STATUS_INTERVAL")
	setDuration(&cfg.Engine.Resolution, "WOOXBOT_ENGINE_RESOLUTION")
	setInt(&cfg.Engine.HistoryCapacity, "WOOXBOT_ENGINE_HISTORY_CAPACITY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WOOXBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "WOOXBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WOOXBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WOOXBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WOOXBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WOOXBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WOOXBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WOOXBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WOOXBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WOOXBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WOOXBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WOOXBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WOOXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WOOXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WOOXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WOOXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WOOXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WOOXBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "WOOXBOT_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "WOOXBOT_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.LockTTL, "WOOXBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WOOXBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WOOXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WOOXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WOOXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WOOXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WOOXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WOOXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WOOXBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "WOOXBOT_S3_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WOOXBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WOOXBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WOOXBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WOOXBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "WOOXBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WOOXBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WOOXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WOOXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WOOXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WOOXBOT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.MinInterval, "WOOXBOT_NOTIFY_MIN_INTERVAL")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "WOOXBOT_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.OTLPEndpoint, "WOOXBOT_TELEMETRY_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "WOOXBOT_TELEMETRY_INSECURE")
	setDuration(&cfg.Telemetry.MetricInterval, "WOOXBOT_TELEMETRY_METRIC_INTERVAL")
	setStr(&cfg.Telemetry.ServiceName, "WOOXBOT_TELEMETRY_SERVICE_NAME")
	setStr(&cfg.Telemetry.Environment, "WOOXBOT_TELEMETRY_ENVIRONMENT")

	// ── Top-level ──
	setStr(&cfg.Mode, "WOOXBOT_MODE")
	setStr(&cfg.LogLevel, "WOOXBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
