package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

func TestParseTxFilterDefaults(t *testing.T) {
	f, err := parseTxFilter(httptest.NewRequest("GET", "/api/transactions", nil), "PERP_BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, "PERP_BTC_USDT", f.Symbol)
	require.Equal(t, defaultLimit, f.Limit)
	require.Zero(t, f.Offset)
	require.Nil(t, f.Since)
	require.Empty(t, f.Code)
}

func TestParseTxFilterQuery(t *testing.T) {
	r := httptest.NewRequest("GET",
		"/api/transactions?symbol=spot_eth_usdt&code=c&since=2024-01-02T03:04:05Z&limit=9999&offset=10", nil)
	f, err := parseTxFilter(r, "PERP_BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, "SPOT_ETH_USDT", f.Symbol)
	require.Equal(t, domain.TxClose, f.Code)
	require.NotNil(t, f.Since)
	require.True(t, f.Since.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.Nil(t, f.Until)
	require.Equal(t, maxLimit, f.Limit)
	require.Equal(t, 10, f.Offset)
}

func TestParseTxFilterRejectsBadParams(t *testing.T) {
	for _, q := range []string{"code=X", "since=yesterday", "limit=0", "limit=abc", "offset=-1"} {
		_, err := parseTxFilter(httptest.NewRequest("GET", "/api/transactions?"+q, nil), "")
		require.Error(t, err, q)
	}
}
