// Package server exposes the operator console: a REST API over the engine
// and ledger plus a WebSocket push of status, trades and prices.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/server/handler"
	"github.com/alanyoungcy/wooxbot/internal/server/middleware"
	"github.com/alanyoungcy/wooxbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	RateLimit       int    // requests per RateLimitWindow per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Engine   *handler.EngineHandler
	Ledger   *handler.LedgerHandler
	Strategy *handler.StrategyHandler
}

// Server is the console HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in CORS, logging, rate limit
// and auth, outermost first. The health check skips auth.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, hub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 45 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the handler tree.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Engine.GetStatus)
	mux.HandleFunc("POST /api/engine/stop", h.Engine.Stop)
	mux.HandleFunc("POST /api/engine/start", h.Engine.Start)
	mux.HandleFunc("POST /api/position/close", h.Engine.ClosePosition)
	mux.HandleFunc("GET /api/transactions", h.Ledger.ListTransactions)
	mux.HandleFunc("GET /api/summary", h.Ledger.GetSummary)
	mux.HandleFunc("GET /api/strategies", h.Strategy.List)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, "/api/health")(handler)
	handler = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
