package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/executor"
	"github.com/alanyoungcy/wooxbot/internal/service"
	"github.com/alanyoungcy/wooxbot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptFeed serves prices from a script, repeating the last one.
type scriptFeed struct {
	mu      sync.Mutex
	prices  []float64
	next    int
	history []domain.HistoryEntry
	calls   int
	panicAt int
}

func (f *scriptFeed) FetchSnapshot(context.Context) (domain.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicAt > 0 && f.calls == f.panicAt {
		panic("feed exploded")
	}
	if len(f.prices) == 0 {
		return domain.PriceSample{}, domain.ErrNoPrice
	}
	i := f.next
	if i >= len(f.prices) {
		i = len(f.prices) - 1
	} else {
		f.next++
	}
	s := domain.PriceSample{Price: f.prices[i], Timestamp: time.Now().UTC(), Source: domain.PriceSourceTrade}
	f.history = append(f.history, domain.HistoryEntry{Sample: s})
	return s, nil
}

func (f *scriptFeed) History() []domain.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.HistoryEntry, len(f.history))
	copy(out, f.history)
	return out
}

func (f *scriptFeed) Latest() (domain.HistoryEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return domain.HistoryEntry{}, false
	}
	return f.history[len(f.history)-1], true
}

func (f *scriptFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

// thresholdStrategy goes long once when the price reaches entryAt and exits
// at exitAt or above.
type thresholdStrategy struct {
	entryAt, exitAt float64
	decisions       int
}

func (s *thresholdStrategy) Name() string       { return "threshold" }
func (s *thresholdStrategy) SignalName() string { return domain.SignalNameMACross }

func (s *thresholdStrategy) EntrySignal(h []domain.HistoryEntry, _ domain.OrderBookSnapshot) domain.Signal {
	s.decisions++
	if len(h) > 0 && h[len(h)-1].Sample.Price == s.entryAt {
		return domain.SignalLong
	}
	return domain.SignalNone
}

func (s *thresholdStrategy) ExitSignal(_ domain.Position, price float64, _ []domain.HistoryEntry, _ domain.OrderBookSnapshot) (bool, string) {
	s.decisions++
	if s.exitAt > 0 && price >= s.exitAt {
		return true, domain.SignalNameTakeProfit
	}
	return false, ""
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	eng    *Engine
	feed   *scriptFeed
	strat  *thresholdStrategy
	mgr    *service.PositionManager
	ledger *memory.LedgerStore
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg Config, prices []float64, strat *thresholdStrategy) *harness {
	t.Helper()
	h := &harness{
		feed:   &scriptFeed{prices: prices},
		strat:  strat,
		ledger: memory.NewLedgerStore(),
		clock:  &fakeClock{t: time.Unix(1_700_000_000, 0)},
	}
	h.mgr = service.NewPositionManager(service.PositionManagerConfig{
		Symbol: "PERP_BTC_USDT", AccountID: "TRADER", SizeType: service.SizeQuantity, SizeValue: 1,
	}, executor.NewPaperExecutor("PERP_BTC_USDT", 0, discardLogger()), strat, h.ledger, discardLogger())
	cfg.Symbol = "PERP_BTC_USDT"
	cfg.Mode = executor.ModePaper
	h.eng = New(cfg, h.feed, h.mgr, discardLogger(), WithClock(h.clock.Now))
	return h
}

func (h *harness) step(ctx context.Context, n int, d time.Duration) {
	for i := 0; i < n; i++ {
		h.eng.Tick(ctx)
		h.clock.Advance(d)
	}
}

func TestScheduleHonoursPeriods(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{FeedInterval: time.Second, DecisionInterval: 10 * time.Second}, []float64{100}, &thresholdStrategy{})

	// 25 ticks of 500ms span 12s: feed at every whole second, decisions at 0s and 10s.
	h.step(ctx, 25, 500*time.Millisecond)
	require.Equal(t, 13, h.feed.calls)
	require.Equal(t, 2, h.strat.decisions)
}

func TestDecisionOpensAndClosesThroughLedger(t *testing.T) {
	ctx := context.Background()
	strat := &thresholdStrategy{entryAt: 101, exitAt: 104}
	h := newHarness(t, Config{FeedInterval: time.Second, DecisionInterval: time.Second}, []float64{100, 101, 102, 104, 104}, strat)

	h.step(ctx, 5, time.Second)

	require.Equal(t, domain.StateFlat, h.mgr.State())
	rows, err := h.ledger.Query(ctx, domain.TxFilter{Ascending: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, domain.TxOpen, rows[0].Code)
	require.Equal(t, 101.0, rows[0].Price)
	require.Equal(t, domain.TxClose, rows[1].Code)
	require.Equal(t, 104.0, rows[1].Price)
	require.InDelta(t, 3.0, rows[0].Proceeds+rows[1].Proceeds, 1e-9)
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{}, []float64{100}, &thresholdStrategy{})
	h.feed.panicAt = 1

	require.NotPanics(t, func() { h.step(ctx, 3, time.Second) })
	require.Equal(t, 3, h.feed.calls)
	require.Equal(t, 2, h.feed.Len())
	require.Contains(t, h.eng.Status().LastError, "panic")
}

func TestStopHaltsTheScheduleNextTick(t *testing.T) {
	ctx := context.Background()
	strat := &thresholdStrategy{entryAt: 100}
	h := newHarness(t, Config{DecisionInterval: time.Second}, []float64{100}, strat)

	h.eng.Stop()
	require.True(t, h.eng.Running(), "queued, not yet consumed")
	h.step(ctx, 3, time.Second)
	require.False(t, h.eng.Running())
	require.False(t, h.eng.Status().Running)
	require.Zero(t, h.feed.calls)
	require.Zero(t, strat.decisions)
	require.Equal(t, domain.StateFlat, h.mgr.State())

	h.eng.Start()
	h.step(ctx, 1, time.Second)
	require.True(t, h.eng.Running())
	require.Equal(t, 1, h.feed.calls)
	require.Equal(t, domain.StateOpen, h.mgr.State())
}

func TestStopClosesOpenPositionWhenConfigured(t *testing.T) {
	ctx := context.Background()
	strat := &thresholdStrategy{entryAt: 100}
	h := newHarness(t, Config{FeedInterval: time.Second, DecisionInterval: time.Second, CloseOnShutdown: true},
		[]float64{100, 90, 50, 10}, strat)

	h.step(ctx, 1, time.Second)
	require.Equal(t, domain.StateOpen, h.mgr.State())

	h.eng.Stop()
	h.step(ctx, 4, time.Second)

	require.Equal(t, domain.StateFlat, h.mgr.State())
	require.Equal(t, 1, h.feed.calls, "no feed polling after the halt")
	rows, err := h.ledger.Query(ctx, domain.TxFilter{Ascending: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, domain.TxClose, rows[1].Code)
	require.Equal(t, domain.SignalNameManualClose, rows[1].Signal)
	require.Equal(t, 100.0, rows[1].Price)
}

func TestStopKeepsPositionUntilStartWhenNotConfigured(t *testing.T) {
	ctx := context.Background()
	strat := &thresholdStrategy{entryAt: 100, exitAt: 104}
	h := newHarness(t, Config{FeedInterval: time.Second, DecisionInterval: time.Second},
		[]float64{100, 104}, strat)

	h.step(ctx, 1, time.Second)
	h.eng.Stop()
	h.step(ctx, 3, time.Second)
	require.Equal(t, domain.StateOpen, h.mgr.State())
	require.Equal(t, 1, h.feed.calls)
	require.Equal(t, 1, h.ledger.Len())

	h.eng.Start()
	h.step(ctx, 1, time.Second)
	require.Equal(t, domain.StateFlat, h.mgr.State())
	require.Equal(t, 2, h.ledger.Len())
}

func TestRequestCloseWhileLoopRuns(t *testing.T) {
	strat := &thresholdStrategy{entryAt: 100}
	h := newHarness(t, Config{Resolution: 5 * time.Millisecond}, []float64{100}, strat)
	h.eng.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()

	require.Eventually(t, func() bool { return h.mgr.State() == domain.StateOpen }, 2*time.Second, 5*time.Millisecond)
	h.eng.Stop()

	closed, err := h.eng.RequestClose(context.Background())
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, domain.StateFlat, h.mgr.State())

	cancel()
	require.NoError(t, <-done)

	rows, err := h.ledger.Query(context.Background(), domain.TxFilter{})
	require.NoError(t, err)
	require.Equal(t, domain.SignalNameManualClose, rows[0].Signal)
}

func TestCloseOnShutdown(t *testing.T) {
	strat := &thresholdStrategy{entryAt: 100}
	h := newHarness(t, Config{Resolution: 5 * time.Millisecond, CloseOnShutdown: true}, []float64{100}, strat)
	h.eng.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()
	require.Eventually(t, func() bool { return h.mgr.State() == domain.StateOpen }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, domain.StateFlat, h.mgr.State())
	require.Equal(t, 2, h.ledger.Len())
}

func TestStatusReportsPositionAndPnL(t *testing.T) {
	ctx := context.Background()
	strat := &thresholdStrategy{entryAt: 100}
	h := newHarness(t, Config{DecisionInterval: time.Hour}, []float64{100, 103}, strat)

	h.step(ctx, 2, time.Second)
	st := h.eng.Status()
	require.Equal(t, domain.StateOpen, st.State)
	require.Equal(t, 103.0, st.Price)
	require.InDelta(t, 3.0, st.UnrealizedPnL, 1e-9)
	require.Equal(t, 2, st.HistoryLen)
	require.Equal(t, 1, st.TradeCount)
	require.True(t, st.Running)
	require.Equal(t, "threshold", st.Strategy)
}

func TestEmergencyCloseWithoutPrice(t *testing.T) {
	h := newHarness(t, Config{}, nil, &thresholdStrategy{})
	_, err := h.eng.RequestClose(context.Background())
	require.ErrorIs(t, err, domain.ErrNoPrice)
}
