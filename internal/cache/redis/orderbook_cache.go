package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache.
//
// Key schema:
//
//	book:{symbol}      - JSON encoded OrderBookSnapshot
//	book:{symbol}:bbo  - hash with fields "bid", "ask" and "ts"
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. A positive ttl expires stale
// books.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

// SetSnapshot atomically replaces the snapshot and best bid/offer of symbol.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, symbol string, snap domain.OrderBookSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal orderbook %s: %w", symbol, err)
	}
	bookKey := oc.c.Key("book", symbol)
	bboKey := oc.c.Key("book", symbol, "bbo")

	pipe := oc.c.rdb.TxPipeline()
	pipe.Set(ctx, bookKey, payload, oc.ttl)
	pipe.Del(ctx, bboKey)
	pipe.HSet(ctx, bboKey, map[string]any{
		"bid": strconv.FormatFloat(snap.BestBid(), 'f', -1, 64),
		"ask": strconv.FormatFloat(snap.BestAsk(), 'f', -1, 64),
		"ts":  strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
	})
	if oc.ttl > 0 {
		pipe.Expire(ctx, bboKey, oc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", symbol, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot of symbol, or domain.ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	raw, err := oc.c.rdb.Get(ctx, oc.c.Key("book", symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s: %w", symbol, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode orderbook snapshot %s: %w", symbol, err)
	}
	return snap, nil
}

// GetBBO returns the cached best bid and ask of symbol, or domain.ErrNotFound.
func (oc *OrderbookCache) GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.c.Key("book", symbol, "bbo")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	bestBid, _ = strconv.ParseFloat(vals["bid"], 64)
	bestAsk, _ = strconv.ParseFloat(vals["ask"], 64)
	return bestBid, bestAsk, nil
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
