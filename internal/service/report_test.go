package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/store/memory"
)

func TestSummarizeRoundTrips(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0).UTC()
	at := func(i int) domain.FillInfo {
		return domain.FillInfo{Commission: 0.1, FilledAt: t0.Add(time.Duration(i) * time.Minute)}
	}
	rows := []domain.Transaction{
		domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameMACross, domain.TradeBuy, 1, 100, domain.TxOpen, at(0)),
		domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameTakeProfit, domain.TradeSell, 1, 105, domain.TxClose, at(1)),
		domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameRSI, domain.TradeSell, 2, 100, domain.TxOpen, at(2)),
		domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameStopLoss, domain.TradeBuy, 2, 103, domain.TxClose, at(3)),
		domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameMACross, domain.TradeBuy, 1, 90, domain.TxOpen, at(4)),
	}

	s := Summarize(rows, 95)
	require.Equal(t, 5, s.TotalTrades)
	require.Equal(t, 3, s.BuyCount)
	require.Equal(t, 2, s.SellCount)
	require.Equal(t, 4.0, s.BuyQuantity)
	require.Equal(t, 3.0, s.SellQuantity)
	require.InDelta(t, -396, s.BuyProceeds, 1e-9)
	require.InDelta(t, 305, s.SellProceeds, 1e-9)
	require.InDelta(t, -91, s.CashPnL, 1e-9)
	require.InDelta(t, 0.5, s.TotalCommission, 1e-9)
	require.InDelta(t, -91.5, s.NetPnL, 1e-9)
	require.Equal(t, 1.0, s.NetQuantity)
	require.InDelta(t, 95, s.UnrealizedPnL, 1e-9)
	require.InDelta(t, 4, s.TotalPnL, 1e-9, "5 - 6 + 5")
	require.Equal(t, 1, s.Wins)
	require.Equal(t, 1, s.Losses)
	require.Len(t, s.Recent, 5)
	require.Equal(t, 90.0, s.Recent[0].Price)
}

func TestSummarizeEmptyLedger(t *testing.T) {
	s := Summarize(nil, 100)
	require.Zero(t, s.TotalTrades)
	require.Zero(t, s.TotalPnL)
	require.Empty(t, s.Recent)
}

func TestReportServiceFiltersBySymbol(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStore()
	for i := 0; i < 12; i++ {
		require.NoError(t, ledger.Append(ctx, domain.NewTransaction("TRADER", "PERP_BTC_USDT", domain.SignalNameRSI,
			domain.TradeBuy, 1, 10, domain.TxOpen, domain.FillInfo{FilledAt: time.Unix(int64(1_700_000_000+i), 0)})))
	}
	require.NoError(t, ledger.Append(ctx, domain.NewTransaction("TRADER", "SPOT_ETH_USDT", domain.SignalNameRSI,
		domain.TradeBuy, 1, 10, domain.TxOpen, domain.FillInfo{})))

	s, err := NewReportService(ledger, discardLogger()).Summary(ctx, "PERP_BTC_USDT", 0)
	require.NoError(t, err)
	require.Equal(t, 12, s.TotalTrades)
	require.Len(t, s.Recent, recentTradeCount)
	require.Zero(t, s.UnrealizedPnL)
}
