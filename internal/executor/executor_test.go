package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/platform/woox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlacer struct {
	errs   []error
	orders []domain.Order
	filter domain.SymbolFilter
}

func (f *fakePlacer) PlaceOrder(_ context.Context, o domain.Order) (woox.OrderAck, error) {
	f.orders = append(f.orders, o)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return woox.OrderAck{}, err
		}
	}
	return woox.OrderAck{OrderID: int64(len(f.orders)), ClientOrderID: o.ClientOrderID, AckedAt: time.Unix(10, 0)}, nil
}

func (f *fakePlacer) GetSymbolInfo(context.Context, string) (domain.SymbolFilter, error) {
	return f.filter, nil
}

func recordingRetrier(slept *[]time.Duration) *woox.Retrier {
	return &woox.Retrier{
		MaxAttempts: 3,
		Sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestPaperRoundTripIsFlatBeforeCommission(t *testing.T) {
	p := NewPaperExecutor("PERP_BTC_USDT", 0.5, discardLogger())

	open, err := p.Open(context.Background(), domain.SideLong, 95000, 0.01)
	require.NoError(t, err)
	require.True(t, open.Paper)
	require.Equal(t, domain.OrderSideBuy, open.Side)
	require.Equal(t, 0.5, open.Commission)

	pos := domain.Position{Side: domain.SideLong, Quantity: open.Quantity, EntryPrice: open.Price}
	closeFill, err := p.Close(context.Background(), pos, 95000)
	require.NoError(t, err)
	require.Equal(t, domain.OrderSideSell, closeFill.Side)

	buy := domain.NewTransaction("T", "PERP_BTC_USDT", "MA_CROSS", domain.TradeBuy, open.Quantity, open.Price, domain.TxOpen, open)
	sell := domain.NewTransaction("T", "PERP_BTC_USDT", "TAKE_PROFIT", domain.TradeSell, closeFill.Quantity, closeFill.Price, domain.TxClose, closeFill)
	require.Zero(t, buy.Proceeds+sell.Proceeds)
}

func TestLiveRateLimitedThreeTimes(t *testing.T) {
	rl := func() error { return woox.Classify(-1003, 429, "too many requests") }
	placer := &fakePlacer{errs: []error{rl(), rl(), rl()}}
	var slept []time.Duration
	var reported []time.Duration
	r := recordingRetrier(&slept)
	r.OnRetry = func(_ int, d time.Duration, _ error) { reported = append(reported, d) }
	l := NewLiveExecutor("PERP_BTC_USDT", placer, r, 0, discardLogger())

	_, err := l.Open(context.Background(), domain.SideLong, 95000, 0.001)

	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.Len(t, placer.orders, 3)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, reported)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
	for _, o := range placer.orders {
		require.Equal(t, placer.orders[0].ClientOrderID, o.ClientOrderID)
	}
}

func TestLiveFatalErrorIsNotRetried(t *testing.T) {
	placer := &fakePlacer{errs: []error{woox.Classify(-1002, 401, "unauthorized")}}
	var slept []time.Duration
	l := NewLiveExecutor("PERP_BTC_USDT", placer, recordingRetrier(&slept), 0, discardLogger())

	_, err := l.Open(context.Background(), domain.SideShort, 95000, 0.001)
	require.ErrorIs(t, err, domain.ErrAuthentication)
	require.Len(t, placer.orders, 1)
	require.Empty(t, slept)
}

func TestLiveSuccessAfterRetry(t *testing.T) {
	placer := &fakePlacer{errs: []error{woox.Classify(-1011, 400, "rpc"), nil}}
	var slept []time.Duration
	l := NewLiveExecutor("PERP_BTC_USDT", placer, recordingRetrier(&slept), 0.2, discardLogger())

	pos := domain.Position{Side: domain.SideShort, Quantity: 0.002, EntryPrice: 90000}
	fill, err := l.Close(context.Background(), pos, 91000)
	require.NoError(t, err)
	require.Equal(t, domain.OrderSideBuy, fill.Side)
	require.Equal(t, "2", fill.OrderID)
	require.Equal(t, 0.2, fill.Commission)
	require.False(t, fill.Paper)
	require.Equal(t, []time.Duration{5 * time.Second}, slept)
}

func TestLiveRejectsSpotShort(t *testing.T) {
	placer := &fakePlacer{}
	l := NewLiveExecutor("SPOT_BTC_USDT", placer, nil, 0, discardLogger())

	_, err := l.Open(context.Background(), domain.SideShort, 95000, 0.001)
	require.ErrorIs(t, err, domain.ErrSpotShort)
	require.Empty(t, placer.orders)
}

func TestLiveRoundsAndValidatesAgainstFilters(t *testing.T) {
	placer := &fakePlacer{filter: domain.SymbolFilter{QuoteTick: 0.1, BaseMin: 0.0001, BaseTick: 0.0001, MinNotional: 5}}
	l := NewLiveExecutor("PERP_BTC_USDT", placer, nil, 0, discardLogger())
	require.NoError(t, l.LoadFilters(context.Background()))

	_, err := l.Open(context.Background(), domain.SideLong, 95000.04, 0.000123)
	require.NoError(t, err)
	require.Equal(t, 95000.0, placer.orders[0].Price)
	require.Equal(t, 0.0001, placer.orders[0].Quantity)

	_, err = l.Open(context.Background(), domain.SideLong, 50, 0.0001)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Len(t, placer.orders, 1)
}

func TestClientOrderIDsAreUnique(t *testing.T) {
	l := NewLiveExecutor("PERP_BTC_USDT", &fakePlacer{}, nil, 0, discardLogger())
	fixed := time.UnixMilli(1_700_000_000_000)
	l.now = func() time.Time { return fixed }

	a := l.nextClientOrderID()
	b := l.nextClientOrderID()
	require.NotEqual(t, a, b)
	require.Equal(t, a+1, b)
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	require.False(t, d.IsDuplicate("a"))
	require.True(t, d.IsDuplicate("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	require.Empty(t, d.seen)
	require.False(t, d.IsDuplicate("a"))
}
