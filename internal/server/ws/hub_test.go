package ws

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelStatus: true}}
	require.True(t, c.isSubscribed(domain.ChannelStatus))
	require.False(t, c.isSubscribed(domain.ChannelTrades))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"ch:*"}})
	require.True(t, c.isSubscribed(domain.ChannelPrices))

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:*", domain.ChannelStatus}})
	require.False(t, c.isSubscribed(domain.ChannelStatus))
	require.False(t, c.isSubscribed(domain.ChannelPrices))
}

func TestEncodeWrapsPayload(t *testing.T) {
	frame, err := encode(domain.ChannelTrades, []byte(`{"id":"x"}`))
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, domain.ChannelTrades, env.Channel)
	require.JSONEq(t, `{"id":"x"}`, string(env.Data))

	frame, err = encode(domain.ChannelStatus, []byte("not json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"channel":"ch:status","data":"not json"}`, string(frame))
}

func TestOriginAllowed(t *testing.T) {
	require.True(t, originAllowed(nil, "https://a.example"))
	require.True(t, originAllowed([]string{"https://a.example"}, ""))
	require.True(t, originAllowed([]string{"*"}, "https://b.example"))
	require.False(t, originAllowed([]string{"https://a.example"}, "https://b.example"))
}
