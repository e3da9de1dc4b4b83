package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wooxbot/internal/crypto"
	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/engine"
	"github.com/alanyoungcy/wooxbot/internal/executor"
	"github.com/alanyoungcy/wooxbot/internal/feed"
	"github.com/alanyoungcy/wooxbot/internal/platform/woox"
	"github.com/alanyoungcy/wooxbot/internal/server"
	"github.com/alanyoungcy/wooxbot/internal/server/handler"
	"github.com/alanyoungcy/wooxbot/internal/server/ws"
	"github.com/alanyoungcy/wooxbot/internal/service"
	"github.com/alanyoungcy/wooxbot/internal/strategy"
)

const (
	serverShutdownTimeout = 10 * time.Second
	reportMarkTimeout     = 5 * time.Second
)

// TradeMode runs the engine loop and, when enabled, the operator console.
// With Redis wired, a per-symbol lock keeps a second instance from trading
// the same instrument.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	symbol := a.cfg.Trading.Symbol
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("symbol", symbol),
		slog.String("strategy", a.cfg.Strategy.Name),
	)

	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "engine:"+symbol, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: engine lock: %w", err)
		}
		defer unlock()
	}

	client, err := a.exchangeClient(deps)
	if err != nil {
		return err
	}

	mdf := feed.New(feed.Config{
		Symbol:    symbol,
		BookDepth: a.cfg.Exchange.BookDepth,
		Capacity:  a.cfg.Engine.HistoryCapacity,
		Timeout:   a.cfg.Exchange.RequestTimeout.Duration,
	}, client, a.logger,
		feed.WithRetrier(woox.NewRetrier(1)),
		feed.WithCaches(deps.PriceCache, deps.BookCache),
		feed.WithBus(deps.Bus),
	)

	exec, err := a.orderExecutor(ctx, deps, client)
	if err != nil {
		return err
	}

	registry := strategy.DefaultRegistry()
	strat, err := registry.New(a.cfg.Strategy.Name, strategy.Config{
		StopLossPct:   a.cfg.Trading.StopLossPct,
		TakeProfitPct: a.cfg.Trading.TakeProfitPct,
		Params:        a.cfg.Strategy.Params,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	opts := []service.ManagerOption{
		service.WithSignalBus(deps.Bus),
		service.WithAuditStore(deps.Audit),
		service.WithNotifier(deps.Notifier),
		service.WithMetrics(deps.Metrics),
	}
	if a.cfg.IsLive() {
		opts = append(opts, service.WithAccountSource(client))
	}
	mgr := service.NewPositionManager(service.PositionManagerConfig{
		Symbol:              symbol,
		AccountID:           a.cfg.Trading.AccountID,
		SizeType:            strings.ToLower(a.cfg.Trading.PositionSizeType),
		SizeValue:           a.cfg.Trading.PositionSizeValue,
		MaxOpenPositions:    a.cfg.Trading.MaxOpenPositions,
		PaperStartingEquity: a.cfg.Trading.PaperStartingEquity,
		StartupPolicy:       strings.ToLower(a.cfg.Trading.StartupPositionPolicy),
	}, exec, strat, deps.Ledger, a.logger, opts...)

	if err := mgr.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore position: %w", err)
	}

	if err := deps.Notifier.NotifyAll(ctx, "wooxbot started",
		fmt.Sprintf("%s %s trading %s with %s", exec.Mode(), a.cfg.Trading.AccountID, symbol, strat.Name())); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}

	eng := engine.New(engine.Config{
		Symbol:           symbol,
		Mode:             exec.Mode(),
		FeedInterval:     a.cfg.Engine.FeedInterval.Duration,
		SyncInterval:     a.cfg.Engine.PositionSyncInterval.Duration,
		DecisionInterval: a.cfg.Engine.UpdateInterval.Duration,
		StatusInterval:   a.cfg.Engine.StatusInterval.Duration,
		Resolution:       a.cfg.Engine.Resolution.Duration,
		CloseOnShutdown:  a.cfg.Trading.CloseOnShutdown,
	}, mdf, mgr, a.logger,
		engine.WithBus(deps.Bus),
		engine.WithMetrics(deps.Metrics),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, eng, registry)
	}

	return g.Wait()
}

// exchangeClient builds the WOO X REST client. Credentials are optional in
// paper mode since the feed only uses public endpoints.
func (a *App) exchangeClient(deps *Dependencies) (*woox.Client, error) {
	ex := a.cfg.Exchange
	var auth *crypto.HMACAuth
	if ex.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     ex.APISecret,
			EncryptedPath: ex.EncryptedSecretPath,
			Password:      ex.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: load api secret: %w", err)
		}
		auth = &crypto.HMACAuth{Key: ex.APIKey, Secret: secret}
	}
	return woox.NewClient(woox.ClientConfig{
		BaseURL:           ex.BaseURL,
		Timeout:           ex.RequestTimeout.Duration,
		RequestsPerSecond: ex.RequestsPerSecond,
		Burst:             ex.Burst,
		Auth:              auth,
		Shared:            deps.ExchangeLimit,
	}), nil
}

func (a *App) orderExecutor(ctx context.Context, deps *Dependencies, client *woox.Client) (executor.OrderExecutor, error) {
	symbol := a.cfg.Trading.Symbol
	if !a.cfg.IsLive() {
		return executor.NewPaperExecutor(symbol, a.cfg.Trading.Commission, a.logger), nil
	}
	if !client.HasCredentials() {
		return nil, errors.New("app: live trading requires exchange credentials")
	}

	retrier := woox.NewRetrier(a.cfg.Exchange.MaxAttempts)
	logger := a.logger.With(slog.String("component", "order_retry"))
	retrier.OnRetry = func(attempt int, delay time.Duration, err error) {
		deps.Metrics.Retry(ctx, errorKind(err))
		logger.Warn("order retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	live := executor.NewLiveExecutor(symbol, client, retrier, a.cfg.Trading.Commission, a.logger)
	if err := live.LoadFilters(ctx); err != nil {
		return nil, fmt.Errorf("app: load symbol filters: %w", err)
	}
	return live, nil
}

func errorKind(err error) string {
	var xe *domain.ExchangeError
	if errors.As(err, &xe) {
		return string(xe.Kind)
	}
	return "unknown"
}

// startHTTPServer registers the console and its WebSocket hub on g. The
// server is shut down gracefully once ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine, registry *strategy.Registry) {
	symbol := a.cfg.Trading.Symbol
	hub := ws.NewHub(deps.Bus, eng.Status, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Engine:   handler.NewEngineHandler(eng, a.logger),
		Ledger:   handler.NewLedgerHandler(deps.Ledger, service.NewReportService(deps.Ledger, a.logger), eng.Status, symbol, a.logger),
		Strategy: handler.NewStrategyHandler(registry.List(), a.cfg.Strategy.Name, a.cfg.Strategy.Params),
	}, hub, deps.APILimit, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ReportMode prints the account summary of the configured symbol as JSON.
// The mark is the last public trade; without one the unrealized part is zero.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	symbol := a.cfg.Trading.Symbol
	client := woox.NewClient(woox.ClientConfig{
		BaseURL: a.cfg.Exchange.BaseURL,
		Timeout: a.cfg.Exchange.RequestTimeout.Duration,
	})

	var mark float64
	markCtx, cancel := context.WithTimeout(ctx, reportMarkTimeout)
	trade, ok, err := client.GetLastTrade(markCtx, symbol)
	cancel()
	switch {
	case err != nil:
		a.logger.WarnContext(ctx, "mark price unavailable", slog.String("error", err.Error()))
	case ok:
		mark = trade.ExecutedPrice
	}

	summary, err := service.NewReportService(deps.Ledger, a.logger).Summary(ctx, symbol, mark)
	if err != nil {
		return fmt.Errorf("app: report: %w", err)
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("app: marshal report: %w", err)
	}
	if _, err := fmt.Fprintln(a.out, string(out)); err != nil {
		return fmt.Errorf("app: write report: %w", err)
	}
	return nil
}

// ArchiveMode copies ledger rows older than the retention window to object
// storage. Rows stay in the ledger.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive requires postgres and s3")
	}
	days := a.cfg.S3.ArchiveRetentionDays
	before := time.Now().UTC().AddDate(0, 0, -days)
	n, err := deps.Archiver.ArchiveLedger(ctx, before)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	months, err := deps.Archiver.Months(ctx)
	if err != nil {
		return fmt.Errorf("app: archive list: %w", err)
	}
	attrs := []any{slog.Int64("rows", n), slog.Time("before", before), slog.Int("archived_months", len(months))}
	if len(months) > 0 {
		attrs = append(attrs, slog.String("latest_month", months[len(months)-1].Format("2006-01")))
	}
	a.logger.InfoContext(ctx, "archive complete", attrs...)
	return nil
}

// KeygenMode encrypts exchange.api_secret with exchange.secret_password and
// writes the result to exchange.encrypted_secret_path. The file is read back
// and decrypted before returning.
func (a *App) KeygenMode(ctx context.Context) error {
	ex := a.cfg.Exchange
	if ex.APISecret == "" {
		return errors.New("app: keygen: exchange.api_secret (or WOOX_API_SECRET) is required")
	}
	if ex.EncryptedSecretPath == "" || ex.SecretPassword == "" {
		return errors.New("app: keygen: exchange.encrypted_secret_path and exchange.secret_password are required")
	}

	data, err := crypto.EncryptSecret(ex.APISecret, ex.SecretPassword)
	if err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}
	if err := os.WriteFile(ex.EncryptedSecretPath, data, 0o600); err != nil {
		return fmt.Errorf("app: keygen: write %s: %w", ex.EncryptedSecretPath, err)
	}

	got, err := crypto.LoadSecret(crypto.SecretConfig{
		EncryptedPath: ex.EncryptedSecretPath,
		Password:      ex.SecretPassword,
	})
	if err != nil {
		return fmt.Errorf("app: keygen: verify: %w", err)
	}
	if got != strings.TrimSpace(ex.APISecret) {
		return errors.New("app: keygen: verify: decrypted secret does not match")
	}
	a.logger.InfoContext(ctx, "encrypted secret written",
		slog.String("path", ex.EncryptedSecretPath),
	)
	return nil
}
