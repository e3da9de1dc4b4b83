package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKeyNamespacing(t *testing.T) {
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()

	require.Equal(t, "wooxbot:price:PERP_BTC_USDT", c.Key("price", "PERP_BTC_USDT"))
	require.Equal(t, "wooxbot:book:SPOT_ETH_USDT:bbo", c.Key("book", "SPOT_ETH_USDT", "bbo"))
	require.Equal(t, "wooxbot:ch:status", c.Key("ch:status"))

	custom := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "test:")
	defer custom.Close()
	require.Equal(t, "test:lock:engine", custom.Key("lock", "engine"))
}

func TestHasPattern(t *testing.T) {
	require.True(t, hasPattern("ch:*"))
	require.True(t, hasPattern("ch:[st]*"))
	require.False(t, hasPattern("ch:status"))
}

func TestStreamMessagesSkipsForeignEntries(t *testing.T) {
	msgs := streamMessages([]redis.XMessage{
		{ID: "1-0", Values: map[string]any{"payload": `{"id":"a"}`}},
		{ID: "2-0", Values: map[string]any{"other": "x"}},
		{ID: "3-0", Values: map[string]any{"payload": []byte(`{"id":"b"}`)}},
	})
	require.Len(t, msgs, 2)
	require.Equal(t, "1-0", msgs[0].ID)
	require.Equal(t, `{"id":"b"}`, string(msgs[1].Payload))
}

func TestParseWindowResult(t *testing.T) {
	ok, n, err := parseWindowResult([]int64{1, 3})
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, n)

	ok, _, err = parseWindowResult([]int64{0, 5})
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = parseWindowResult([]int64{1})
	require.Error(t, err)
}

func TestSlidingWindowScriptShape(t *testing.T) {
	for _, cmd := range []string{"ZREMRANGEBYSCORE", "ZCARD", "ZADD", "PEXPIRE"} {
		require.True(t, strings.Contains(slidingWindowLua, cmd), cmd)
	}
}

func TestRefreshInterval(t *testing.T) {
	require.Equal(t, 10*time.Second, refreshInterval(30*time.Second))
	require.Equal(t, 100*time.Millisecond, refreshInterval(90*time.Millisecond))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), ""), 0, 0)
	require.Equal(t, 1, rl.limit)
	require.Equal(t, time.Second, rl.window)
}
