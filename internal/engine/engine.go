// Package engine runs the trading loop: a single goroutine walks a schedule
// table of periodic tasks on a fixed resolution ticker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc/panics"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/service"
	"github.com/alanyoungcy/wooxbot/internal/telemetry"
)

// Task names in the schedule table.
const (
	TaskFeed     = "feed"
	TaskSync     = "position_sync"
	TaskDecision = "decision"
	TaskStatus   = "status"
)

// shutdownCloseTimeout bounds the close-on-shutdown order.
const shutdownCloseTimeout = 30 * time.Second

// Feed is the market data source the loop drives.
type Feed interface {
	FetchSnapshot(ctx context.Context) (domain.PriceSample, error)
	History() []domain.HistoryEntry
	Latest() (domain.HistoryEntry, bool)
	Len() int
}

// Config is the loop configuration.
type Config struct {
	Symbol           string
	Mode             string
	FeedInterval     time.Duration
	SyncInterval     time.Duration
	DecisionInterval time.Duration
	StatusInterval   time.Duration
	Resolution       time.Duration
	CloseOnShutdown  bool
}

type task struct {
	name    string
	period  time.Duration
	lastRun time.Time
	run     func(ctx context.Context) error
}

type requestKind int

const (
	reqStop requestKind = iota
	reqStart
	reqClose
)

type request struct {
	kind requestKind
	done chan closeResult
}

type closeResult struct {
	closed bool
	err    error
}

// Engine is the cooperative scheduler. Control requests from other
// goroutines are queued and consumed at the top of the next tick.
type Engine struct {
	cfg     Config
	feed    Feed
	mgr     *service.PositionManager
	bus     domain.SignalBus
	metrics *telemetry.EngineMetrics
	logger  *slog.Logger
	now     func() time.Time

	tasks    []*task
	requests chan request
	running  atomic.Bool
	loopUp   atomic.Bool

	mu      sync.RWMutex
	lastErr string
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithBus publishes status snapshots on the status channel.
func WithBus(bus domain.SignalBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics records task runs, panics and the history length.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the scheduler clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a running Engine. Zero intervals take the
// defaults: feed 1s, sync 3s, decision 60s, status 5s, resolution 100ms.
func New(cfg Config, feed Feed, mgr *service.PositionManager, logger *slog.Logger, opts ...Option) *Engine {
	cfg = withDefaults(cfg)
	e := &Engine{
		cfg:      cfg,
		feed:     feed,
		mgr:      mgr,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		requests: make(chan request, 16),
	}
	for _, o := range opts {
		o(e)
	}
	e.running.Store(true)
	e.tasks = []*task{
		{name: TaskFeed, period: cfg.FeedInterval, run: e.runFeed},
		{name: TaskSync, period: cfg.SyncInterval, run: e.runSync},
		{name: TaskDecision, period: cfg.DecisionInterval, run: e.runDecision},
		{name: TaskStatus, period: cfg.StatusInterval, run: e.runStatus},
	}
	return e
}

func withDefaults(cfg Config) Config {
	if cfg.FeedInterval <= 0 {
		cfg.FeedInterval = time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 3 * time.Second
	}
	if cfg.DecisionInterval <= 0 {
		cfg.DecisionInterval = 60 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = 100 * time.Millisecond
	}
	return cfg
}

// Run drives the schedule until ctx is cancelled. On return an open position
// is closed when CloseOnShutdown is set.
func (e *Engine) Run(ctx context.Context) error {
	e.loopUp.Store(true)
	defer e.loopUp.Store(false)

	e.logger.InfoContext(ctx, "engine started",
		slog.String("symbol", e.cfg.Symbol),
		slog.String("mode", e.cfg.Mode),
		slog.Duration("decision_interval", e.cfg.DecisionInterval),
	)

	ticker := time.NewTicker(e.cfg.Resolution)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.drainOnShutdown()
			e.shutdown()
			e.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick consumes queued requests and runs every task whose period has
// elapsed. A halted engine only consumes requests. It is exported so tests
// can step the loop deterministically.
func (e *Engine) Tick(ctx context.Context) {
	e.consumeRequests(ctx)
	if !e.running.Load() {
		return
	}
	now := e.now()
	for _, t := range e.tasks {
		if !t.lastRun.IsZero() && now.Sub(t.lastRun) < t.period {
			continue
		}
		t.lastRun = now
		e.runTask(ctx, t)
	}
}

// runTask executes one task with panic recovery.
func (e *Engine) runTask(ctx context.Context, t *task) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = t.run(ctx) })
	if r := pc.Recovered(); r != nil {
		e.metrics.TaskPanic(ctx, t.name)
		e.setLastErr(fmt.Sprintf("%s: panic: %v", t.name, r.Value))
		e.logger.ErrorContext(ctx, "task panicked",
			slog.String("task", t.name),
			slog.String("panic", fmt.Sprint(r.Value)),
			slog.String("stack", string(r.Stack)),
		)
		return
	}
	e.metrics.TaskRun(ctx, t.name, err)
	if err == nil {
		return
	}
	e.setLastErr(err.Error())
	switch {
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrNoPrice):
		e.logger.WarnContext(ctx, "task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
	default:
		e.logger.ErrorContext(ctx, "task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) runFeed(ctx context.Context) error {
	_, err := e.feed.FetchSnapshot(ctx)
	e.metrics.SetHistoryLen(e.feed.Len())
	return err
}

func (e *Engine) runSync(ctx context.Context) error {
	return e.mgr.Sync(ctx)
}

func (e *Engine) runDecision(ctx context.Context) error {
	return e.mgr.Evaluate(ctx, e.feed.History())
}

func (e *Engine) runStatus(ctx context.Context) error {
	st := e.Status()
	e.logger.DebugContext(ctx, "status",
		slog.String("state", string(st.State)),
		slog.Float64("price", st.Price),
		slog.Float64("unrealized_pnl", st.UnrealizedPnL),
		slog.Int("history_len", st.HistoryLen),
	)
	if e.bus == nil {
		return nil
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("engine: marshal status: %w", err)
	}
	if err := e.bus.Publish(ctx, domain.ChannelStatus, payload); err != nil {
		e.logger.WarnContext(ctx, "publish status failed", slog.String("error", err.Error()))
	}
	return nil
}

// Status returns a snapshot of the engine for the console.
func (e *Engine) Status() domain.EngineStatus {
	snap := e.mgr.Snapshot()
	st := domain.EngineStatus{
		Symbol:     e.cfg.Symbol,
		Mode:       e.cfg.Mode,
		Strategy:   e.mgr.Strategy().Name(),
		Running:    e.running.Load(),
		State:      snap.State,
		Position:   snap.Position,
		TradeCount: snap.TradeCount,
		HistoryLen: e.feed.Len(),
		LastError:  snap.LastError,
		UpdatedAt:  e.now().UTC(),
	}
	if st.LastError == "" {
		e.mu.RLock()
		st.LastError = e.lastErr
		e.mu.RUnlock()
	}
	if latest, ok := e.feed.Latest(); ok {
		st.Price = latest.Sample.Price
		st.BestBid = latest.Sample.BestBid
		st.BestAsk = latest.Sample.BestAsk
		if snap.Position != nil {
			st.UnrealizedPnL = snap.Position.PnL(st.Price)
		}
	}
	return st
}

// Running reports whether the schedule is live.
func (e *Engine) Running() bool { return e.running.Load() }

// Stop queues a halt. The tick in flight finishes; from the next tick no
// task is scheduled until Start. An open position is closed at the halt when
// CloseOnShutdown is set. Emergency close requests are still served.
func (e *Engine) Stop() { e.enqueue(request{kind: reqStop}) }

// Start queues a request to resume the schedule.
func (e *Engine) Start() { e.enqueue(request{kind: reqStart}) }

// RequestClose queues an emergency close and waits for the loop to execute
// it. When the loop is not running the close is executed directly.
func (e *Engine) RequestClose(ctx context.Context) (bool, error) {
	if !e.loopUp.Load() {
		return e.emergencyClose(ctx)
	}
	req := request{kind: reqClose, done: make(chan closeResult, 1)}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.closed, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (e *Engine) enqueue(r request) {
	select {
	case e.requests <- r:
	default:
		e.logger.Warn("request queue full, dropping request")
	}
}

func (e *Engine) consumeRequests(ctx context.Context) {
	for {
		select {
		case r := <-e.requests:
			e.handle(ctx, r)
		default:
			return
		}
	}
}

func (e *Engine) handle(ctx context.Context, r request) {
	switch r.kind {
	case reqStop:
		if e.running.Swap(false) {
			e.halt(ctx)
		}
	case reqStart:
		if !e.running.Swap(true) {
			e.logger.InfoContext(ctx, "engine resumed")
		}
	case reqClose:
		closed, err := e.emergencyClose(ctx)
		if r.done != nil {
			r.done <- closeResult{closed: closed, err: err}
		}
	}
}

func (e *Engine) emergencyClose(ctx context.Context) (bool, error) {
	latest, ok := e.feed.Latest()
	if !ok {
		return false, fmt.Errorf("engine: emergency close: %w", domain.ErrNoPrice)
	}
	e.logger.WarnContext(ctx, "emergency close requested", slog.Float64("price", latest.Sample.Price))
	return e.mgr.EmergencyClose(ctx, latest.Sample.Price)
}

// drainOnShutdown answers pending close requests so callers are not left
// waiting on a loop that has exited.
func (e *Engine) drainOnShutdown() {
	for {
		select {
		case r := <-e.requests:
			if r.done != nil {
				r.done <- closeResult{err: context.Canceled}
			}
		default:
			return
		}
	}
}

// halt runs when a stop request is consumed.
func (e *Engine) halt(ctx context.Context) {
	e.logger.InfoContext(ctx, "engine halted")
	if _, held := e.mgr.Position(); held {
		if e.cfg.CloseOnShutdown {
			e.closeHeld(context.WithoutCancel(ctx), "close on stop failed")
		} else {
			e.logger.WarnContext(ctx, "engine halted with an open position, stop-loss is not monitored until start")
		}
	}
	if err := e.runStatus(ctx); err != nil {
		e.logger.WarnContext(ctx, "final status failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) shutdown() {
	if !e.cfg.CloseOnShutdown {
		return
	}
	if _, held := e.mgr.Position(); !held {
		return
	}
	e.closeHeld(context.Background(), "close on shutdown failed")
}

func (e *Engine) closeHeld(parent context.Context, failMsg string) {
	ctx, cancel := context.WithTimeout(parent, shutdownCloseTimeout)
	defer cancel()
	if _, err := e.emergencyClose(ctx); err != nil {
		e.logger.ErrorContext(ctx, failMsg, slog.String("error", err.Error()))
	}
}

func (e *Engine) setLastErr(msg string) {
	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()
}
