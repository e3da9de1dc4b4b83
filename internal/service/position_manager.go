package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/executor"
	"github.com/alanyoungcy/wooxbot/internal/platform/woox"
	"github.com/alanyoungcy/wooxbot/internal/strategy"
	"github.com/alanyoungcy/wooxbot/internal/telemetry"
)

// Sizing modes for new positions.
const (
	SizeValue      = "value"
	SizeQuantity   = "quantity"
	SizePercentage = "percentage"
)

// Startup policies for a position found in the ledger.
const (
	StartupKeep  = "keep"
	StartupClose = "close"
)

// Notification events emitted by the position manager.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventOrderFailed    = "order_failed"
)

// Notifier delivers operator notifications. *notify.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AccountSource reports exchange-side holdings for live reconciliation.
// *woox.Client implements it.
type AccountSource interface {
	GetPositions(ctx context.Context) ([]woox.APIPosition, error)
	GetBalances(ctx context.Context) ([]woox.APIHolding, error)
	GetAccountInfo(ctx context.Context) (woox.APIAccountInfo, error)
}

// PositionManagerConfig is the immutable configuration of a PositionManager.
type PositionManagerConfig struct {
	Symbol              string
	AccountID           string
	SizeType            string
	SizeValue           float64
	MaxOpenPositions    int
	PaperStartingEquity float64
	StartupPolicy       string
}

// ManagerSnapshot is a copy of the manager's state for status readers.
type ManagerSnapshot struct {
	State      domain.PositionState
	Position   *domain.Position
	TradeCount int
	LastError  string
}

// spot holdings at or below this size are treated as dust.
const dustHolding = 0.0001

// PositionManager owns the single position and its FLAT → OPENING → OPEN →
// CLOSING → FLAT lifecycle. It is the only writer of the transaction ledger.
//
// The mutex guards state and position; it is never held across an executor
// call, so status readers are not blocked by a slow exchange.
type PositionManager struct {
	cfg      PositionManagerConfig
	exec     executor.OrderExecutor
	strategy strategy.Strategy
	ledger   domain.LedgerStore
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	account  AccountSource
	metrics  *telemetry.EngineMetrics
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	state        domain.PositionState
	pos          *domain.Position
	tradeCount   int
	lastErr      string
	startupClose bool
}

// ManagerOption configures optional collaborators of a PositionManager.
type ManagerOption func(*PositionManager)

// WithSignalBus publishes fills on the trades channel and ledger stream.
func WithSignalBus(bus domain.SignalBus) ManagerOption {
	return func(m *PositionManager) { m.bus = bus }
}

// WithAuditStore records lifecycle events in the audit log.
func WithAuditStore(audit domain.AuditStore) ManagerOption {
	return func(m *PositionManager) { m.audit = audit }
}

// WithNotifier sends operator notifications on opens, closes and failures.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *PositionManager) { m.notifier = n }
}

// WithAccountSource enables exchange reconciliation and live equity sizing.
func WithAccountSource(a AccountSource) ManagerOption {
	return func(m *PositionManager) { m.account = a }
}

// WithMetrics counts orders and ledger appends.
func WithMetrics(metrics *telemetry.EngineMetrics) ManagerOption {
	return func(m *PositionManager) { m.metrics = metrics }
}

// NewPositionManager creates a PositionManager in the FLAT state.
func NewPositionManager(
	cfg PositionManagerConfig,
	exec executor.OrderExecutor,
	strat strategy.Strategy,
	ledger domain.LedgerStore,
	logger *slog.Logger,
	opts ...ManagerOption,
) *PositionManager {
	if cfg.SizeType == "" {
		cfg.SizeType = SizeValue
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 1
	}
	m := &PositionManager{
		cfg:      cfg,
		exec:     exec,
		strategy: strat,
		ledger:   ledger,
		logger:   logger.With(slog.String("component", "position_manager")),
		now:      func() time.Time { return time.Now().UTC() },
		state:    domain.StateFlat,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Strategy returns the active strategy.
func (m *PositionManager) Strategy() strategy.Strategy { return m.strategy }

// Snapshot returns a copy of the current state.
func (m *PositionManager) Snapshot() ManagerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := ManagerSnapshot{State: m.state, TradeCount: m.tradeCount, LastError: m.lastErr}
	if m.pos != nil {
		p := *m.pos
		snap.Position = &p
	}
	return snap
}

// State returns the current lifecycle state.
func (m *PositionManager) State() domain.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Position returns a copy of the open position, if any.
func (m *PositionManager) Position() (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return domain.Position{}, false
	}
	return *m.pos, true
}

// Evaluate runs one decision tick. An open position is checked for exit
// first; only a FLAT manager consults the entry signal, so a tick never both
// closes and reopens.
func (m *PositionManager) Evaluate(ctx context.Context, history []domain.HistoryEntry) error {
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	price := last.Sample.Price
	book := last.Book

	m.mu.Lock()
	state, startupClose := m.state, m.startupClose
	var pos domain.Position
	if m.pos != nil {
		pos = *m.pos
	}
	m.mu.Unlock()

	switch state {
	case domain.StateOpen:
		if startupClose {
			_, err := m.Close(ctx, price, domain.SignalNameManualClose)
			return err
		}
		exit, reason := m.strategy.ExitSignal(pos, price, history, book)
		if !exit {
			return nil
		}
		_, err := m.Close(ctx, price, reason)
		return err
	case domain.StateFlat:
		sig := m.strategy.EntrySignal(history, book)
		side, ok := sig.Side()
		if !ok {
			return nil
		}
		_, err := m.Open(ctx, side, m.strategy.SignalName(), last.Sample, book)
		return err
	default:
		return nil
	}
}

// Open opens a position on side. It returns false without error when the
// manager is not FLAT, when a short is requested on a spot symbol, or when
// the account is at its position limit. A failed order returns the manager
// to FLAT and surfaces the error.
func (m *PositionManager) Open(ctx context.Context, side domain.Side, signal string, sample domain.PriceSample, book domain.OrderBookSnapshot) (bool, error) {
	if side == domain.SideShort && domain.IsSpotSymbol(m.cfg.Symbol) {
		m.logger.WarnContext(ctx, "short signal discarded on spot symbol",
			slog.String("symbol", m.cfg.Symbol),
			slog.String("signal", signal),
		)
		return false, nil
	}

	m.mu.Lock()
	if m.state != domain.StateFlat {
		state := m.state
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "open ignored",
			slog.String("state", string(state)),
			slog.String("error", domain.ErrPositionOpen.Error()),
		)
		return false, nil
	}
	m.state = domain.StateOpening
	m.mu.Unlock()

	fill, qty, err := m.submitOpen(ctx, side, sample, book)
	if err != nil || qty == 0 {
		m.mu.Lock()
		m.state = domain.StateFlat
		if err != nil {
			m.lastErr = err.Error()
		}
		m.mu.Unlock()
		if err != nil {
			m.orderFailed(ctx, "open", err)
		}
		return false, err
	}

	pos := domain.Position{
		Symbol:     m.cfg.Symbol,
		Side:       side,
		Quantity:   fill.Quantity,
		EntryPrice: fill.Price,
		OpenedAt:   fill.FilledAt,
	}
	tx := domain.NewTransaction(m.cfg.AccountID, m.cfg.Symbol, signal,
		tradeType(side.OpenSide()), fill.Quantity, fill.Price, domain.TxOpen, fill)

	m.mu.Lock()
	m.pos = &pos
	m.state = domain.StateOpen
	m.tradeCount++
	m.lastErr = ""
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "position opened",
		slog.String("side", string(side)),
		slog.Float64("price", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
		slog.String("signal", signal),
	)
	if err := m.record(ctx, tx); err != nil {
		return true, err
	}
	m.announce(ctx, EventPositionOpened, "Position opened",
		fmt.Sprintf("%s %s %.8g @ %.8g (%s)", strings.ToUpper(string(side)), m.cfg.Symbol, pos.Quantity, pos.EntryPrice, signal))
	return true, nil
}

func (m *PositionManager) submitOpen(ctx context.Context, side domain.Side, sample domain.PriceSample, book domain.OrderBookSnapshot) (domain.FillInfo, float64, error) {
	price := entryPrice(side, sample.Price, book)
	if price <= 0 {
		return domain.FillInfo{}, 0, fmt.Errorf("position_manager: open: %w", domain.ErrNoPrice)
	}

	if m.cfg.MaxOpenPositions > 0 && m.account != nil {
		n, err := m.openPositionCount(ctx)
		if err != nil {
			return domain.FillInfo{}, 0, fmt.Errorf("position_manager: count open positions: %w", err)
		}
		if n >= m.cfg.MaxOpenPositions {
			m.logger.WarnContext(ctx, "open skipped at position limit",
				slog.Int("open_positions", n),
				slog.Int("max_open_positions", m.cfg.MaxOpenPositions),
			)
			return domain.FillInfo{}, 0, nil
		}
	}

	qty, err := m.quantity(ctx, price)
	if err != nil {
		return domain.FillInfo{}, 0, err
	}
	if qty <= 0 {
		return domain.FillInfo{}, 0, fmt.Errorf("position_manager: open: %w: non-positive quantity", domain.ErrValidation)
	}

	fill, err := m.exec.Open(ctx, side, price, qty)
	m.metrics.Order(ctx, "open", outcome(err))
	if err != nil {
		return domain.FillInfo{}, 0, fmt.Errorf("position_manager: open %s: %w", side, err)
	}
	if fill.Quantity == 0 {
		fill.Quantity = qty
	}
	if fill.Price == 0 {
		fill.Price = price
	}
	return fill, fill.Quantity, nil
}

// Close closes the open position at price and tags the ledger row with
// signal. It returns false without error when there is no open position. A
// failed order leaves the position OPEN so the next eligible tick retries.
func (m *PositionManager) Close(ctx context.Context, price float64, signal string) (bool, error) {
	m.mu.Lock()
	if m.state != domain.StateOpen || m.pos == nil {
		state := m.state
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "close ignored",
			slog.String("state", string(state)),
			slog.String("error", domain.ErrNoPosition.Error()),
		)
		return false, nil
	}
	pos := *m.pos
	m.state = domain.StateClosing
	m.mu.Unlock()

	if price <= 0 {
		m.mu.Lock()
		m.state = domain.StateOpen
		m.mu.Unlock()
		return false, fmt.Errorf("position_manager: close: %w", domain.ErrNoPrice)
	}

	fill, err := m.exec.Close(ctx, pos, price)
	m.metrics.Order(ctx, "close", outcome(err))
	if err != nil {
		err = fmt.Errorf("position_manager: close %s: %w", pos.Side, err)
		m.mu.Lock()
		m.state = domain.StateOpen
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.orderFailed(ctx, "close", err)
		return false, err
	}
	if fill.Quantity == 0 {
		fill.Quantity = pos.Quantity
	}
	if fill.Price == 0 {
		fill.Price = price
	}
	tx := domain.NewTransaction(m.cfg.AccountID, m.cfg.Symbol, signal,
		tradeType(pos.Side.CloseSide()), fill.Quantity, fill.Price, domain.TxClose, fill)

	m.mu.Lock()
	m.pos = nil
	m.state = domain.StateFlat
	m.tradeCount++
	m.lastErr = ""
	m.startupClose = false
	m.mu.Unlock()

	pnl := pos.PnL(fill.Price)
	m.logger.InfoContext(ctx, "position closed",
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("exit_price", fill.Price),
		slog.Float64("pnl", pnl),
		slog.String("signal", signal),
	)
	if err := m.record(ctx, tx); err != nil {
		return true, err
	}
	m.announce(ctx, EventPositionClosed, "Position closed",
		fmt.Sprintf("%s %s %.8g @ %.8g, pnl %.4f (%s)", strings.ToUpper(string(pos.Side)), m.cfg.Symbol, fill.Quantity, fill.Price, pnl, signal))
	return true, nil
}

// EmergencyClose closes any open position at price under MANUAL_CLOSE.
func (m *PositionManager) EmergencyClose(ctx context.Context, price float64) (bool, error) {
	return m.Close(ctx, price, domain.SignalNameManualClose)
}

// Restore rebuilds the open position from the ledger: the newest row for the
// symbol is an unmatched open when its code is O. Under the close policy the
// restored position is closed on the next decision tick.
func (m *PositionManager) Restore(ctx context.Context) error {
	rows, err := m.ledger.Query(ctx, domain.TxFilter{Symbol: m.cfg.Symbol, Limit: 1})
	if err != nil {
		return fmt.Errorf("position_manager: restore: %w", err)
	}
	count, err := m.countTrades(ctx)
	if err != nil {
		return fmt.Errorf("position_manager: restore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tradeCount = count
	if len(rows) == 0 || rows[0].Code != domain.TxOpen {
		return nil
	}
	last := rows[0]
	side := domain.SideLong
	if last.TradeType == domain.TradeSell {
		side = domain.SideShort
	}
	m.pos = &domain.Position{
		Symbol:     last.Symbol,
		Side:       side,
		Quantity:   math.Abs(last.Quantity),
		EntryPrice: last.Price,
		OpenedAt:   last.TradeTime,
	}
	m.state = domain.StateOpen
	m.startupClose = m.cfg.StartupPolicy == StartupClose

	m.logger.InfoContext(ctx, "position restored from ledger",
		slog.String("side", string(side)),
		slog.Float64("entry_price", last.Price),
		slog.Float64("quantity", m.pos.Quantity),
		slog.String("policy", m.cfg.StartupPolicy),
	)
	return nil
}

func (m *PositionManager) countTrades(ctx context.Context) (int, error) {
	rows, err := m.ledger.Query(ctx, domain.TxFilter{Symbol: m.cfg.Symbol})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Sync reconciles the local position with the exchange. A FLAT manager adopts
// a position the exchange reports; an OPEN one drops its position when the
// exchange no longer reports it. Adoption and drop are audited; they are not
// fills and write no ledger rows.
func (m *PositionManager) Sync(ctx context.Context) error {
	if m.account == nil {
		return nil
	}
	remote, err := m.remotePosition(ctx)
	if err != nil {
		return fmt.Errorf("position_manager: sync: %w", err)
	}

	// Reconciliation, not a fill: the exchange already holds (or no longer
	// holds) the position, so no Transaction is written. The audit log
	// records the adoption or drop instead.
	m.mu.Lock()
	var event string
	switch {
	case m.state == domain.StateFlat && remote != nil:
		m.pos = remote
		m.state = domain.StateOpen
		event = "position.adopted"
	case m.state == domain.StateOpen && remote == nil:
		m.pos = nil
		m.state = domain.StateFlat
		m.startupClose = false
		event = "position.dropped"
	case m.state == domain.StateOpen && remote != nil:
		m.pos.Quantity = remote.Quantity
	}
	m.mu.Unlock()

	if event == "" {
		return nil
	}
	detail := map[string]any{"symbol": m.cfg.Symbol}
	if remote != nil {
		detail["side"] = string(remote.Side)
		detail["quantity"] = remote.Quantity
		detail["entry_price"] = remote.EntryPrice
	}
	m.logger.WarnContext(ctx, "position reconciled with exchange", slog.String("event", event))
	m.auditLog(ctx, event, detail)
	return nil
}

func (m *PositionManager) remotePosition(ctx context.Context) (*domain.Position, error) {
	if domain.IsSpotSymbol(m.cfg.Symbol) {
		holdings, err := m.account.GetBalances(ctx)
		if err != nil {
			return nil, err
		}
		token := baseToken(m.cfg.Symbol)
		for _, h := range holdings {
			if !strings.EqualFold(h.Token, token) || h.Holding <= dustHolding {
				continue
			}
			entry := h.AverageOpenPrice
			if entry == 0 {
				entry = h.MarkPrice
			}
			return &domain.Position{
				Symbol:     m.cfg.Symbol,
				Side:       domain.SideLong,
				Quantity:   h.Holding,
				EntryPrice: entry,
				OpenedAt:   m.now(),
			}, nil
		}
		return nil, nil
	}

	positions, err := m.account.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol != m.cfg.Symbol || p.Holding == 0 {
			continue
		}
		side := domain.SideLong
		if p.Holding < 0 {
			side = domain.SideShort
		}
		opened := m.now()
		if p.Timestamp > 0 {
			opened = time.UnixMilli(int64(p.Timestamp * 1000)).UTC()
		}
		return &domain.Position{
			Symbol:     p.Symbol,
			Side:       side,
			Quantity:   math.Abs(p.Holding),
			EntryPrice: p.AverageOpenPrice,
			OpenedAt:   opened,
		}, nil
	}
	return nil, nil
}

func (m *PositionManager) openPositionCount(ctx context.Context) (int, error) {
	if domain.IsSpotSymbol(m.cfg.Symbol) {
		holdings, err := m.account.GetBalances(ctx)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, h := range holdings {
			if isStablecoin(h.Token) || h.Holding <= dustHolding {
				continue
			}
			n++
		}
		return n, nil
	}
	positions, err := m.account.GetPositions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range positions {
		if p.Holding != 0 {
			n++
		}
	}
	return n, nil
}

// quantity sizes a new position at price.
func (m *PositionManager) quantity(ctx context.Context, price float64) (float64, error) {
	switch m.cfg.SizeType {
	case SizeQuantity:
		return m.cfg.SizeValue, nil
	case SizePercentage:
		equity, err := m.Equity(ctx)
		if err != nil {
			return 0, err
		}
		return equity * m.cfg.SizeValue / 100 / price, nil
	default:
		return m.cfg.SizeValue / price, nil
	}
}

// Equity returns the account equity used for percentage sizing. Paper equity
// is the starting equity plus the ledger's net cash P&L. Live equity is the
// total collateral the exchange reports; an account that reports none (spot
// only) falls back to its stablecoin holdings.
func (m *PositionManager) Equity(ctx context.Context) (float64, error) {
	if m.exec.Mode() == executor.ModeLive && m.account != nil {
		info, err := m.account.GetAccountInfo(ctx)
		if err != nil {
			return 0, fmt.Errorf("position_manager: equity: %w", err)
		}
		if info.TotalCollateral > 0 {
			return info.TotalCollateral, nil
		}
		holdings, err := m.account.GetBalances(ctx)
		if err != nil {
			return 0, fmt.Errorf("position_manager: equity: %w", err)
		}
		var total float64
		for _, h := range holdings {
			if isStablecoin(h.Token) {
				total += h.Holding
			}
		}
		return total, nil
	}
	rows, err := m.ledger.Query(ctx, domain.TxFilter{})
	if err != nil {
		return 0, fmt.Errorf("position_manager: equity: %w", err)
	}
	return m.cfg.PaperStartingEquity + Summarize(rows, 0).NetPnL, nil
}

// record appends tx to the ledger and fans it out. A ledger failure is
// surfaced wrapped in ErrPersistence; the in-memory state already reflects
// the executed fill.
func (m *PositionManager) record(ctx context.Context, tx domain.Transaction) error {
	if err := m.ledger.Append(ctx, tx); err != nil {
		err = fmt.Errorf("position_manager: append transaction %s: %w", tx.ID, joinPersistence(err))
		m.logger.ErrorContext(ctx, "ledger append failed",
			slog.String("tx_id", tx.ID),
			slog.String("error", err.Error()),
		)
		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		return err
	}
	m.metrics.LedgerAppend(ctx, string(tx.Code))

	if m.bus != nil {
		payload, err := json.Marshal(tx)
		if err == nil {
			if pubErr := m.bus.Publish(ctx, domain.ChannelTrades, payload); pubErr != nil {
				m.logger.WarnContext(ctx, "publish trade failed", slog.String("error", pubErr.Error()))
			}
			if appErr := m.bus.StreamAppend(ctx, domain.StreamLedger, payload); appErr != nil {
				m.logger.WarnContext(ctx, "stream append failed", slog.String("error", appErr.Error()))
			}
		}
	}
	m.auditLog(ctx, "transaction.appended", map[string]any{
		"tx_id":      tx.ID,
		"signal":     tx.Signal,
		"trade_type": string(tx.TradeType),
		"quantity":   tx.Quantity,
		"price":      tx.Price,
		"code":       string(tx.Code),
	})
	return nil
}

func joinPersistence(err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func (m *PositionManager) orderFailed(ctx context.Context, action string, err error) {
	if errors.Is(err, domain.ErrRateLimited) {
		m.logger.WarnContext(ctx, action+" failed", slog.String("error", err.Error()))
	} else {
		m.logger.ErrorContext(ctx, action+" failed", slog.String("error", err.Error()))
	}
	m.auditLog(ctx, "order.failed", map[string]any{"action": action, "error": err.Error()})
	m.announce(ctx, EventOrderFailed, "Order failed", fmt.Sprintf("%s %s: %v", action, m.cfg.Symbol, err))
}

func (m *PositionManager) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (m *PositionManager) announce(ctx context.Context, event, title, msg string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event, title, msg); err != nil {
		m.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// entryPrice prices a long at the best ask and a short at the best bid,
// falling back to the sample price when that side of the book is empty.
func entryPrice(side domain.Side, price float64, book domain.OrderBookSnapshot) float64 {
	var p float64
	if side == domain.SideShort {
		p = book.BestBid()
	} else {
		p = book.BestAsk()
	}
	if p > 0 {
		return p
	}
	return price
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "filled"
}

func tradeType(s domain.OrderSide) domain.TradeType {
	if s == domain.OrderSideSell {
		return domain.TradeSell
	}
	return domain.TradeBuy
}

// baseToken returns "BTC" for "SPOT_BTC_USDT".
func baseToken(symbol string) string {
	parts := strings.Split(symbol, "_")
	if len(parts) < 3 {
		return symbol
	}
	return parts[1]
}

func isStablecoin(token string) bool {
	switch strings.ToUpper(token) {
	case "USDT", "USDC":
		return true
	}
	return false
}
