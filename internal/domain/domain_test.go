package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOrderBookSnapshotDerivesMetrics(t *testing.T) {
	bids := []PriceLevel{{Price: 99, Quantity: 2}, {Price: 98, Quantity: 3}}
	asks := []PriceLevel{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 4}}

	snap := NewOrderBookSnapshot(bids, asks, 10, time.Unix(0, 0))

	require.Equal(t, 5.0, snap.BidDepth)
	require.Equal(t, 5.0, snap.AskDepth)
	require.Equal(t, 2.0, snap.Spread)
	require.Equal(t, 100.0, snap.MidPrice)
	require.Equal(t, 99.0, snap.BestBid())
	require.Equal(t, 101.0, snap.BestAsk())
	require.Zero(t, snap.Imbalance())
}

func TestNewOrderBookSnapshotTruncatesDepth(t *testing.T) {
	var bids []PriceLevel
	for i := 0; i < 150; i++ {
		bids = append(bids, PriceLevel{Price: float64(1000 - i), Quantity: 1})
	}

	snap := NewOrderBookSnapshot(bids, nil, 500, time.Now())
	require.Len(t, snap.Bids, MaxBookLevels)
	require.Zero(t, snap.MidPrice, "mid needs both sides")

	snap = NewOrderBookSnapshot(bids, nil, 5, time.Now())
	require.Len(t, snap.Bids, 5)
	require.Equal(t, 5.0, snap.BidDepth)
}

func TestImbalanceBounds(t *testing.T) {
	require.Zero(t, OrderBookSnapshot{}.Imbalance())
	require.Equal(t, 1.0, OrderBookSnapshot{BidDepth: 3}.Imbalance())
	require.Equal(t, -1.0, OrderBookSnapshot{AskDepth: 3}.Imbalance())
	require.InDelta(t, 0.5, OrderBookSnapshot{BidDepth: 3, AskDepth: 1}.Imbalance(), 1e-12)
}

func TestPositionPnLPct(t *testing.T) {
	long := Position{Side: SideLong, EntryPrice: 100, Quantity: 2}
	require.InDelta(t, 5.0, long.PnLPct(105), 1e-9)
	require.InDelta(t, 10.0, long.PnL(105), 1e-9)

	short := Position{Side: SideShort, EntryPrice: 100, Quantity: 2}
	require.InDelta(t, -5.0, short.PnLPct(105), 1e-9)
	require.InDelta(t, 10.0, short.PnL(95), 1e-9)

	require.Zero(t, Position{}.PnLPct(10))
}

func TestNewTransactionSignConventions(t *testing.T) {
	fill := FillInfo{Commission: 0.1, FilledAt: time.Unix(10, 0)}

	buy := NewTransaction("acct", "PERP_BTC_USDT", SignalNameMACross, TradeBuy, 2, 100, TxOpen, fill)
	require.Equal(t, 2.0, buy.Quantity)
	require.Equal(t, -200.0, buy.Proceeds)
	require.Equal(t, ExchangeName, buy.Exchange)
	require.Equal(t, OrderTypeLimit, buy.OrderType)
	require.Equal(t, 0.1, buy.Commission)
	require.NotEmpty(t, buy.ID)

	sell := NewTransaction("acct", "PERP_BTC_USDT", SignalNameTakeProfit, TradeSell, 2, 110, TxClose, fill)
	require.Equal(t, -2.0, sell.Quantity)
	require.Equal(t, 220.0, sell.Proceeds)
	require.Equal(t, TxClose, sell.Code)
}

func TestExchangeErrorMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("submit: %w", &ExchangeError{Kind: KindRateLimit, Code: -1003, Retryable: true})

	require.ErrorIs(t, err, ErrRateLimited)
	require.False(t, errors.Is(err, ErrServer))
	require.True(t, IsRetryable(err))
	require.False(t, IsRetryable(errors.New("plain")))
	require.ErrorIs(t, ErrSpotShort, ErrValidation)
}

func TestSpotSymbol(t *testing.T) {
	require.True(t, IsSpotSymbol("SPOT_BTC_USDT"))
	require.True(t, IsSpotSymbol("spot_eth_usdt"))
	require.False(t, IsSpotSymbol("PERP_BTC_USDT"))
}
