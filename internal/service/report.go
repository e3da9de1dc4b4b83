package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// recentTradeCount is the number of rows returned in AccountSummary.Recent.
const recentTradeCount = 10

// AccountSummary aggregates the ledger of one symbol.
type AccountSummary struct {
	Symbol          string               `json:"symbol"`
	TotalTrades     int                  `json:"total_trades"`
	BuyCount        int                  `json:"buy_count"`
	SellCount       int                  `json:"sell_count"`
	BuyQuantity     float64              `json:"buy_quantity"`
	SellQuantity    float64              `json:"sell_quantity"`
	BuyProceeds     float64              `json:"buy_proceeds"`
	SellProceeds    float64              `json:"sell_proceeds"`
	TotalCommission float64              `json:"total_commission"`
	TotalFee        float64              `json:"total_fee"`
	CashPnL         float64              `json:"cash_pnl"`
	NetPnL          float64              `json:"net_pnl"`
	NetQuantity     float64              `json:"net_quantity"`
	MarkPrice       float64              `json:"mark_price"`
	UnrealizedPnL   float64              `json:"unrealized_pnl"`
	TotalPnL        float64              `json:"total_pnl"`
	Wins            int                  `json:"wins"`
	Losses          int                  `json:"losses"`
	Recent          []domain.Transaction `json:"recent"`
}

// Summarize folds ledger rows into an AccountSummary. Rows may be in any
// order; Recent holds the newest ones first. CashPnL is the sum of proceeds,
// so while a position is open it includes the entry cost; the open quantity
// valued at mark is reported as UnrealizedPnL and TotalPnL adds the two.
// A zero mark leaves the unrealized part at zero.
func Summarize(rows []domain.Transaction, mark float64) AccountSummary {
	var s AccountSummary
	for _, tx := range rows {
		if s.Symbol == "" {
			s.Symbol = tx.Symbol
		}
		s.TotalTrades++
		switch tx.TradeType {
		case domain.TradeBuy:
			s.BuyCount++
			s.BuyQuantity += tx.Quantity
			s.BuyProceeds += tx.Proceeds
		case domain.TradeSell:
			s.SellCount++
			s.SellQuantity += -tx.Quantity
			s.SellProceeds += tx.Proceeds
		}
		s.TotalCommission += tx.Commission
		s.TotalFee += tx.Fee
		s.CashPnL += tx.Proceeds
		s.NetQuantity += tx.Quantity

		if tx.Code == domain.TxClose {
			switch tx.Signal {
			case domain.SignalNameTakeProfit:
				s.Wins++
			case domain.SignalNameStopLoss:
				s.Losses++
			}
		}
	}
	s.NetPnL = s.CashPnL - s.TotalCommission - s.TotalFee
	s.MarkPrice = mark
	if mark > 0 && s.NetQuantity != 0 {
		s.UnrealizedPnL = s.NetQuantity * mark
	}
	s.TotalPnL = s.CashPnL + s.UnrealizedPnL
	s.Recent = newest(rows, recentTradeCount)
	return s
}

func newest(rows []domain.Transaction, n int) []domain.Transaction {
	out := make([]domain.Transaction, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TradeTime.After(out[j].TradeTime)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ReportService builds account summaries from the ledger.
type ReportService struct {
	ledger domain.LedgerStore
	logger *slog.Logger
}

// NewReportService creates a ReportService.
func NewReportService(ledger domain.LedgerStore, logger *slog.Logger) *ReportService {
	return &ReportService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "report")),
	}
}

// Summary loads every ledger row for symbol and summarizes it at mark.
func (r *ReportService) Summary(ctx context.Context, symbol string, mark float64) (AccountSummary, error) {
	rows, err := r.ledger.Query(ctx, domain.TxFilter{Symbol: symbol})
	if err != nil {
		return AccountSummary{}, fmt.Errorf("report: query ledger: %w", err)
	}
	s := Summarize(rows, mark)
	s.Symbol = symbol
	r.logger.DebugContext(ctx, "summary built",
		slog.String("symbol", symbol),
		slog.Int("rows", len(rows)),
	)
	return s, nil
}
