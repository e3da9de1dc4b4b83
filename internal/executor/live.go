package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/platform/woox"
)

// OrderPlacer is the exchange surface the live executor needs. It is
// implemented by *woox.Client.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.Order) (woox.OrderAck, error)
	GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolFilter, error)
}

// LiveExecutor submits LIMIT orders to WOO X. Each logical order gets one
// client order id that is reused across its retries.
type LiveExecutor struct {
	symbol     string
	placer     OrderPlacer
	retrier    *woox.Retrier
	dedup      *Dedup
	commission float64
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	filter *domain.SymbolFilter
}

// NewLiveExecutor creates a LiveExecutor. retrier may be nil for the default
// policy.
func NewLiveExecutor(symbol string, placer OrderPlacer, retrier *woox.Retrier, commission float64, logger *slog.Logger) *LiveExecutor {
	l := &LiveExecutor{
		symbol:     symbol,
		placer:     placer,
		retrier:    retrier,
		dedup:      NewDedup(10 * time.Minute),
		commission: commission,
		logger:     logger.With(slog.String("component", "live_executor")),
		now:        time.Now,
	}
	if l.retrier == nil {
		l.retrier = woox.NewRetrier(woox.DefaultMaxAttempts)
	}
	if l.retrier.OnRetry == nil {
		l.retrier.OnRetry = l.logRetry
	}
	return l
}

// Mode returns ModeLive.
func (l *LiveExecutor) Mode() string { return ModeLive }

// LoadFilters fetches the symbol's price and quantity rules. Orders are
// rounded and validated against them once loaded.
func (l *LiveExecutor) LoadFilters(ctx context.Context) error {
	f, err := l.placer.GetSymbolInfo(ctx, l.symbol)
	if err != nil {
		return fmt.Errorf("executor: load filters: %w", err)
	}
	l.mu.Lock()
	l.filter = &f
	l.mu.Unlock()
	l.logger.InfoContext(ctx, "symbol filters loaded",
		slog.Float64("quote_tick", f.QuoteTick),
		slog.Float64("base_tick", f.BaseTick),
		slog.Float64("min_notional", f.MinNotional),
	)
	return nil
}

// Open submits the opening order.
func (l *LiveExecutor) Open(ctx context.Context, side domain.Side, price, qty float64) (domain.FillInfo, error) {
	if side == domain.SideShort && domain.IsSpotSymbol(l.symbol) {
		return domain.FillInfo{}, domain.ErrSpotShort
	}
	return l.submit(ctx, side.OpenSide(), price, qty, "open")
}

// Close submits the order that flattens pos.
func (l *LiveExecutor) Close(ctx context.Context, pos domain.Position, price float64) (domain.FillInfo, error) {
	return l.submit(ctx, pos.Side.CloseSide(), price, pos.Quantity, "close")
}

func (l *LiveExecutor) submit(ctx context.Context, side domain.OrderSide, price, qty float64, tag string) (domain.FillInfo, error) {
	price, qty = l.round(price, qty)
	if qty <= 0 || price <= 0 {
		return domain.FillInfo{}, fmt.Errorf("%w: non-positive order (price %v, quantity %v)", domain.ErrValidation, price, qty)
	}
	if f := l.currentFilter(); f != nil {
		if err := woox.ValidateFilters(*f, price, qty); err != nil {
			return domain.FillInfo{}, fmt.Errorf("executor: %s: %w", tag, err)
		}
	}

	order := domain.Order{
		Symbol:        l.symbol,
		Side:          side,
		Type:          "LIMIT",
		Price:         price,
		Quantity:      qty,
		ClientOrderID: l.nextClientOrderID(),
		Tag:           tag,
	}

	var ack woox.OrderAck
	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		ack, err = l.placer.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return domain.FillInfo{}, fmt.Errorf("executor: %s: %w", tag, err)
	}

	l.logger.InfoContext(ctx, "order acknowledged",
		slog.String("tag", tag),
		slog.Int64("order_id", ack.OrderID),
		slog.Int64("client_order_id", order.ClientOrderID),
		slog.String("side", string(side)),
		slog.String("price", woox.FormatDecimal(price)),
		slog.String("quantity", woox.FormatDecimal(qty)),
	)

	return domain.FillInfo{
		OrderID:       strconv.FormatInt(ack.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		Commission:    l.commission,
		FilledAt:      ack.AckedAt,
	}, nil
}

func (l *LiveExecutor) currentFilter() *domain.SymbolFilter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filter
}

func (l *LiveExecutor) round(price, qty float64) (float64, float64) {
	f := l.currentFilter()
	if f == nil {
		return price, qty
	}
	return woox.RoundToTick(price, f.QuoteMin, f.QuoteTick), woox.FloorToStep(qty, f.BaseMin, f.BaseTick)
}

// nextClientOrderID derives an id from the clock and bumps it until it has
// not been used within the dedup window.
func (l *LiveExecutor) nextClientOrderID() int64 {
	l.dedup.Cleanup()
	id := woox.ClientOrderID(l.now())
	for l.dedup.IsDuplicate(strconv.FormatInt(id, 10)) {
		id++
	}
	return id
}

func (l *LiveExecutor) logRetry(attempt int, delay time.Duration, err error) {
	l.logger.Warn("order attempt failed",
		slog.Int("attempt", attempt),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()),
	)
}
