package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// startRedis runs a throwaway Redis 7 container. It is opt-in because it
// needs a Docker daemon.
func startRedis(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("WOOXBOT_REDIS_IT") != "1" {
		t.Skip("set WOOXBOT_REDIS_IT=1 to run Redis integration tests")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), KeyPrefix: "it:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachesIntegration(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	prices := NewPriceCache(c, time.Minute)
	_, _, err := prices.GetPrice(ctx, "PERP_BTC_USDT")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, prices.SetPrice(ctx, "PERP_BTC_USDT", 101.5, ts))
	p, at, err := prices.GetPrice(ctx, "PERP_BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, 101.5, p)
	require.True(t, ts.Equal(at))

	books := NewOrderbookCache(c, time.Minute)
	snap := domain.NewOrderBookSnapshot(
		[]domain.PriceLevel{{Price: 99, Quantity: 2}, {Price: 98, Quantity: 1}},
		[]domain.PriceLevel{{Price: 101, Quantity: 3}},
		10, ts,
	)
	require.NoError(t, books.SetSnapshot(ctx, "PERP_BTC_USDT", snap))
	got, err := books.GetSnapshot(ctx, "PERP_BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, snap.Bids, got.Bids)
	require.Equal(t, 100.0, got.MidPrice)
	bid, ask, err := books.GetBBO(ctx, "PERP_BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, 99.0, bid)
	require.Equal(t, 101.0, ask)
}

func TestSignalBusIntegration(t *testing.T) {
	c := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c, 100)

	sub, err := bus.Subscribe(ctx, domain.ChannelStatus)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelStatus, []byte(`{"state":"FLAT"}`)))
	select {
	case msg := <-sub:
		require.JSONEq(t, `{"state":"FLAT"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamLedger, []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamLedger, []byte("b")))
	msgs, err := bus.StreamRead(ctx, domain.StreamLedger, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "b", string(msgs[1].Payload))

	rest, err := bus.StreamRead(ctx, domain.StreamLedger, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestRateLimiterAndLockIntegration(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()

	rl := NewRateLimiter(c, 2, time.Second)
	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "client", 2, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 2, time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	locks := NewLockManager(c)
	release, err := locks.Acquire(ctx, "engine:PERP_BTC_USDT", 300*time.Millisecond)
	require.NoError(t, err)
	_, err = locks.Acquire(ctx, "engine:PERP_BTC_USDT", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	time.Sleep(600 * time.Millisecond)
	_, err = locks.Acquire(ctx, "engine:PERP_BTC_USDT", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld, "refreshed while held")

	release()
	release()
	again, err := locks.Acquire(ctx, "engine:PERP_BTC_USDT", time.Second)
	require.NoError(t, err)
	again()
}
