package domain

import (
	"time"

	"github.com/google/uuid"
)

// TradeType is the ledger direction of a fill.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// TxCode marks whether a fill opened or closed the position.
type TxCode string

const (
	TxOpen  TxCode = "O"
	TxClose TxCode = "C"
)

// Signal names written to the ledger.
const (
	SignalNameMACross     = "MA_CROSS"
	SignalNameRSI         = "RSI"
	SignalNameBollinger   = "BOLLINGER"
	SignalNameStopLoss    = "STOP_LOSS"
	SignalNameTakeProfit  = "TAKE_PROFIT"
	SignalNameManualClose = "MANUAL_CLOSE"
	SignalNameReversal    = "REVERSAL"
)

// ExchangeName is the venue recorded on every transaction.
const ExchangeName = "woox"

// OrderTypeLimit is the ledger order type for limit orders.
const OrderTypeLimit = "LMT"

// Transaction is one immutable ledger row. Quantity is signed: positive for
// BUY and negative for SELL. Proceeds are -qty*price for BUY and +qty*price
// for SELL, so the sum of proceeds is the realised cash P&L.
type Transaction struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"acct_id"`
	Symbol     string    `json:"symbol"`
	TradeTime  time.Time `json:"trade_datetime"`
	Exchange   string    `json:"exchange"`
	Signal     string    `json:"signal"`
	TradeType  TradeType `json:"trade_type"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Proceeds   float64   `json:"proceeds"`
	Commission float64   `json:"commission"`
	Fee        float64   `json:"fee"`
	OrderType  string    `json:"order_type"`
	Code       TxCode    `json:"code"`
}

// NewTransaction builds a ledger row for a fill of the given unsigned
// quantity, applying the sign conventions for quantity and proceeds.
func NewTransaction(accountID, symbol, signal string, tradeType TradeType, qty, price float64, code TxCode, fill FillInfo) Transaction {
	signedQty := qty
	proceeds := -qty * price
	if tradeType == TradeSell {
		signedQty = -qty
		proceeds = qty * price
	}
	ts := fill.FilledAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Transaction{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Symbol:     symbol,
		TradeTime:  ts,
		Exchange:   ExchangeName,
		Signal:     signal,
		TradeType:  tradeType,
		Quantity:   signedQty,
		Price:      price,
		Proceeds:   proceeds,
		Commission: fill.Commission,
		Fee:        fill.Fee,
		OrderType:  OrderTypeLimit,
		Code:       code,
	}
}

// TxFilter narrows a ledger query. Empty fields match everything.
type TxFilter struct {
	Symbol string
	Code   TxCode
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
	// Ascending returns the oldest rows first. The default is newest first.
	Ascending bool
}
