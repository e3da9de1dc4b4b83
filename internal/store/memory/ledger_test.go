package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

func tx(id string, at time.Time, code domain.TxCode) domain.Transaction {
	return domain.Transaction{ID: id, Symbol: "PERP_BTC_USDT", TradeTime: at, Code: code}
}

func TestLedgerQueryOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	t0 := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, s.Append(ctx, tx("a", t0, domain.TxOpen)))
	require.NoError(t, s.Append(ctx, tx("b", t0.Add(time.Minute), domain.TxClose)))
	require.NoError(t, s.Append(ctx, tx("c", t0.Add(2*time.Minute), domain.TxOpen)))
	other := tx("d", t0, domain.TxOpen)
	other.Symbol = "SPOT_ETH_USDT"
	require.NoError(t, s.Append(ctx, other))

	rows, err := s.Query(ctx, domain.TxFilter{Symbol: "PERP_BTC_USDT"})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, ids(rows))

	rows, err = s.Query(ctx, domain.TxFilter{Symbol: "PERP_BTC_USDT", Ascending: true, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(rows))

	rows, err = s.Query(ctx, domain.TxFilter{Code: domain.TxOpen, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	until := t0.Add(time.Minute)
	rows, err = s.Query(ctx, domain.TxFilter{Until: &until, Symbol: "PERP_BTC_USDT"})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(rows))
}

func TestLedgerRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.Append(ctx, tx("a", time.Now(), domain.TxOpen)))
	err := s.Append(ctx, tx("a", time.Now(), domain.TxOpen))
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.Equal(t, 1, s.Len())
}

func TestAuditStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "one", map[string]any{"k": 1}))
	require.NoError(t, s.Log(ctx, "two", nil))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "two", entries[0].Event)
}

func ids(rows []domain.Transaction) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}
