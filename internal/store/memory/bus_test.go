package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusFanOutAndUnsubscribe(t *testing.T) {
	b := NewSignalBus(0)
	ctx, cancel := context.WithCancel(context.Background())

	a, err := b.Subscribe(ctx, "ch:status")
	require.NoError(t, err)
	other, err := b.Subscribe(context.Background(), "ch:trades")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "ch:status", []byte(`{"x":1}`)))
	require.Equal(t, `{"x":1}`, string(<-a))
	require.Empty(t, other)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-a:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Publish(context.Background(), "ch:status", []byte("late")))
}

func TestBusStreamReadAfterID(t *testing.T) {
	ctx := context.Background()
	b := NewSignalBus(2)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "stream:ledger", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "stream:ledger", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "trimmed to maxLen")
	require.Equal(t, "b", string(msgs[0].Payload))

	msgs, err = b.StreamRead(ctx, "stream:ledger", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "c", string(msgs[0].Payload))
	require.Equal(t, "3-0", msgs[0].ID)
}
