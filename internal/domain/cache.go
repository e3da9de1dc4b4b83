package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest price of a symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// OrderbookCache stores the latest book snapshot of a symbol.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, symbol string, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (OrderBookSnapshot, error)
	GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names used by the engine.
const (
	ChannelStatus = "ch:status"
	ChannelTrades = "ch:trades"
	ChannelPrices = "ch:prices"
	StreamLedger  = "stream:ledger"
)
