package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/wooxbot/internal/blob/s3"
	"github.com/alanyoungcy/wooxbot/internal/cache/redis"
	"github.com/alanyoungcy/wooxbot/internal/config"
	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/notify"
	"github.com/alanyoungcy/wooxbot/internal/server/handler"
	"github.com/alanyoungcy/wooxbot/internal/store/memory"
	"github.com/alanyoungcy/wooxbot/internal/store/postgres"
	"github.com/alanyoungcy/wooxbot/internal/telemetry"
)

// archivePartSize is the multipart threshold of one archived month.
const archivePartSize = 8 << 20

// Dependencies bundles the infrastructure the modes run on. Optional parts
// are nil when their backend is disabled.
type Dependencies struct {
	// Stores. In-memory when Postgres is disabled.
	Ledger domain.LedgerStore
	Audit  domain.AuditStore

	// Bus is Redis-backed when Redis is enabled and in-process otherwise.
	Bus domain.SignalBus

	// Redis only.
	PriceCache    domain.PriceCache
	BookCache     domain.OrderbookCache
	LockManager   domain.LockManager
	ExchangeLimit domain.RateLimiter
	APILimit      domain.RateLimiter

	// S3 and Postgres only.
	Archiver *s3blob.Archiver

	Notifier  *notify.Notifier
	Telemetry *telemetry.Provider
	Metrics   *telemetry.EngineMetrics

	// Pingers are reported by the health check.
	Pingers map[string]handler.Pinger
}

// needsBackends reports whether mode talks to stores, caches and the
// exchange. keygen only touches the local filesystem.
func needsBackends(mode string) bool {
	return !strings.EqualFold(mode, "keygen")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}
	if !needsBackends(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- Telemetry ---
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		MetricInterval: cfg.Telemetry.MetricInterval.Duration,
		ServiceName:    cfg.Telemetry.ServiceName,
		Environment:    cfg.Telemetry.Environment,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: telemetry: %w", err)
	}
	closers = append(closers, func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	})
	deps.Telemetry = provider
	deps.Metrics, err = telemetry.NewEngineMetrics(provider.Meter("wooxbot/engine"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: metrics: %w", err)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient
	} else {
		logger.Warn("postgres disabled, ledger is kept in memory and lost on exit")
		deps.Ledger = memory.NewLedgerStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		ttl := cfg.Redis.CacheTTL.Duration
		deps.PriceCache = redis.NewPriceCache(redisClient, ttl)
		deps.BookCache = redis.NewOrderbookCache(redisClient, ttl)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.ExchangeLimit = redis.NewRateLimiter(redisClient, exchangeBudget(cfg.Exchange.RequestsPerSecond), time.Second)
		deps.APILimit = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.Bus = memory.NewSignalBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Pingers["s3"] = s3Pinger{s3Client}
		// An archive of an in-memory ledger would be empty on every run.
		if cfg.Postgres.Enabled {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client),
				deps.Ledger, deps.Audit, archivePartSize, logger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Config{
		Events:      cfg.Notify.Events,
		MinInterval: cfg.Notify.MinInterval.Duration,
	}, logger)

	return deps, cleanup, nil
}

// exchangeBudget converts the per-second request rate into a whole-request
// window budget for the shared limiter.
func exchangeBudget(rps float64) int {
	n := int(rps)
	if n < 1 {
		return 1
	}
	return n
}

// s3Pinger adapts the bucket health check to the health handler.
type s3Pinger struct{ c *s3blob.Client }

func (p s3Pinger) Ping(ctx context.Context) error { return p.c.Health(ctx) }
