// Package feed polls WOO X for the latest trade and order book of a single
// symbol and keeps a bounded rolling history of the results.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/platform/woox"
)

// DefaultCapacity is 24h of one-minute samples.
const DefaultCapacity = 1440

// supportResistanceTop is the number of levels returned per side.
const supportResistanceTop = 3

// Source is the exchange surface the feed polls.
type Source interface {
	GetOrderBook(ctx context.Context, symbol string, maxLevels int) (domain.OrderBookSnapshot, error)
	GetLastTrade(ctx context.Context, symbol string) (woox.APITrade, bool, error)
}

// Config configures a Feed.
type Config struct {
	Symbol    string
	BookDepth int
	Capacity  int
	// Timeout bounds one FetchSnapshot call.
	Timeout time.Duration
}

// Option customises a Feed.
type Option func(*Feed)

// WithRetrier retries classified request failures inside one fetch.
func WithRetrier(r *woox.Retrier) Option {
	return func(f *Feed) { f.retrier = r }
}

// WithCaches mirrors every accepted sample into the price and book caches.
func WithCaches(prices domain.PriceCache, books domain.OrderbookCache) Option {
	return func(f *Feed) {
		f.prices = prices
		f.books = books
	}
}

// WithBus publishes every accepted sample on domain.ChannelPrices.
func WithBus(bus domain.SignalBus) Option {
	return func(f *Feed) { f.bus = bus }
}

// Feed is the market data feed of one symbol. FetchSnapshot is called from the
// engine tick only; the read methods may be called from any goroutine.
type Feed struct {
	cfg     Config
	source  Source
	retrier *woox.Retrier
	prices  domain.PriceCache
	books   domain.OrderbookCache
	bus     domain.SignalBus
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	history *Ring[domain.HistoryEntry]
}

// New creates a Feed.
func New(cfg Config, source Source, logger *slog.Logger, opts ...Option) *Feed {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.BookDepth < 1 || cfg.BookDepth > domain.MaxBookLevels {
		cfg.BookDepth = domain.MaxBookLevels
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = woox.DefaultTimeout
	}
	f := &Feed{
		cfg:     cfg,
		source:  source,
		retrier: &woox.Retrier{MaxAttempts: 1},
		logger:  logger.With(slog.String("component", "feed"), slog.String("symbol", cfg.Symbol)),
		now:     time.Now,
		history: NewRing[domain.HistoryEntry](cfg.Capacity),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchSnapshot fetches the book and the last trade, builds a sample and
// appends it together with the book to the history. When there is no recent
// trade the price falls back to the book mid. When neither exists the sample
// is discarded, the history is left untouched and domain.ErrNoPrice is
// returned.
func (f *Feed) FetchSnapshot(ctx context.Context) (domain.PriceSample, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var book domain.OrderBookSnapshot
	err := f.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		book, err = f.source.GetOrderBook(ctx, f.cfg.Symbol, f.cfg.BookDepth)
		return err
	})
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("feed: fetch book: %w", err)
	}

	var (
		trade woox.APITrade
		ok    bool
	)
	err = f.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		trade, ok, err = f.source.GetLastTrade(ctx, f.cfg.Symbol)
		return err
	})
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("feed: fetch trade: %w", err)
	}

	sample := domain.PriceSample{
		BestBid:   book.BestBid(),
		BestAsk:   book.BestAsk(),
		Timestamp: f.now().UTC(),
	}
	switch {
	case ok:
		sample.Price = trade.ExecutedPrice
		sample.Volume = trade.ExecutedQuantity
		sample.Source = domain.PriceSourceTrade
	case book.MidPrice > 0:
		sample.Price = book.MidPrice
		sample.Source = domain.PriceSourceMid
		f.logger.WarnContext(ctx, "no recent trade, using book mid price",
			slog.Float64("mid", book.MidPrice),
		)
	default:
		f.logger.WarnContext(ctx, "no trade and no two-sided book, sample discarded")
		return domain.PriceSample{}, domain.ErrNoPrice
	}

	f.mu.Lock()
	f.history.Push(domain.HistoryEntry{Sample: sample, Book: book})
	f.mu.Unlock()

	f.publish(ctx, sample, book)
	return sample, nil
}

// publish mirrors the sample to the optional caches and bus. Failures are
// logged and never fail the fetch.
func (f *Feed) publish(ctx context.Context, sample domain.PriceSample, book domain.OrderBookSnapshot) {
	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, f.cfg.Symbol, sample.Price, sample.Timestamp); err != nil {
			f.logger.DebugContext(ctx, "price cache write failed", slog.String("error", err.Error()))
		}
	}
	if f.books != nil {
		if err := f.books.SetSnapshot(ctx, f.cfg.Symbol, book); err != nil {
			f.logger.DebugContext(ctx, "orderbook cache write failed", slog.String("error", err.Error()))
		}
	}
	if f.bus != nil {
		payload, err := json.Marshal(struct {
			Symbol string `json:"symbol"`
			domain.PriceSample
		}{f.cfg.Symbol, sample})
		if err != nil {
			return
		}
		if err := f.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
			f.logger.DebugContext(ctx, "price publish failed", slog.String("error", err.Error()))
		}
	}
}

// History returns a copy of the rolling history, oldest first.
func (f *Feed) History() []domain.HistoryEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.history.Slice()
}

// Len returns the number of history entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.history.Len()
}

// Latest returns the newest history entry.
func (f *Feed) Latest() (domain.HistoryEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.history.Last()
}

// Imbalance returns the depth imbalance of the latest book, or 0 when there
// is no history.
func (f *Feed) Imbalance() float64 {
	e, ok := f.Latest()
	if !ok {
		return 0
	}
	return e.Book.Imbalance()
}

// SupportResistance ranks the first levels of each side of the latest book by
// quantity and returns the three strongest bids as support and the three
// strongest asks as resistance.
func (f *Feed) SupportResistance(levels int) domain.SupportResistance {
	e, ok := f.Latest()
	if !ok {
		return domain.SupportResistance{}
	}
	return SupportResistance(e.Book, levels)
}

// SupportResistance is the pure form of Feed.SupportResistance.
func SupportResistance(book domain.OrderBookSnapshot, levels int) domain.SupportResistance {
	return domain.SupportResistance{
		Support:    strongest(book.Bids, levels),
		Resistance: strongest(book.Asks, levels),
	}
}

func strongest(side []domain.PriceLevel, levels int) []domain.LevelStrength {
	if levels <= 0 || levels > len(side) {
		levels = len(side)
	}
	prefix := append([]domain.PriceLevel(nil), side[:levels]...)
	sort.SliceStable(prefix, func(i, j int) bool {
		return prefix[i].Quantity > prefix[j].Quantity
	})
	if len(prefix) > supportResistanceTop {
		prefix = prefix[:supportResistanceTop]
	}
	out := make([]domain.LevelStrength, 0, len(prefix))
	for _, l := range prefix {
		out = append(out, domain.LevelStrength{Price: l.Price, Strength: l.Quantity})
	}
	return out
}
