package woox

import (
	"time"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// envelope is the common response header of every WOO X endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APILevel is one price level of the public order book.
type APILevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// APIOrderBook is the response of GET /v1/public/orderbook/{symbol}.
type APIOrderBook struct {
	envelope
	Asks      []APILevel `json:"asks"`
	Bids      []APILevel `json:"bids"`
	Timestamp int64      `json:"timestamp"`
}

// ToDomainSnapshot converts the raw book into a bounded snapshot.
func (b *APIOrderBook) ToDomainSnapshot(maxLevels int, fallback time.Time) domain.OrderBookSnapshot {
	ts := fallback
	if b.Timestamp > 0 {
		ts = time.UnixMilli(b.Timestamp).UTC()
	}
	return domain.NewOrderBookSnapshot(toLevels(b.Bids), toLevels(b.Asks), maxLevels, ts)
}

func toLevels(in []APILevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{Price: l.Price, Quantity: l.Quantity})
	}
	return out
}

// APITrade is one row of GET /v1/public/market_trades.
type APITrade struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	ExecutedPrice    float64 `json:"executed_price"`
	ExecutedQuantity float64 `json:"executed_quantity"`
	ExecutedTime     string  `json:"executed_timestamp"`
}

type apiTrades struct {
	envelope
	Rows []APITrade `json:"rows"`
}

// APISymbolInfo carries the trading rules of GET /v1/public/info/{symbol}.
type APISymbolInfo struct {
	Symbol      string  `json:"symbol"`
	QuoteMin    float64 `json:"quote_min"`
	QuoteMax    float64 `json:"quote_max"`
	QuoteTick   float64 `json:"quote_tick"`
	BaseMin     float64 `json:"base_min"`
	BaseMax     float64 `json:"base_max"`
	BaseTick    float64 `json:"base_tick"`
	MinNotional float64 `json:"min_notional"`
}

type apiSymbolInfo struct {
	envelope
	Info APISymbolInfo `json:"info"`
}

// ToDomainFilter converts the rules into a domain filter.
func (i APISymbolInfo) ToDomainFilter() domain.SymbolFilter {
	return domain.SymbolFilter{
		Symbol:      i.Symbol,
		QuoteMin:    i.QuoteMin,
		QuoteMax:    i.QuoteMax,
		QuoteTick:   i.QuoteTick,
		BaseMin:     i.BaseMin,
		BaseMax:     i.BaseMax,
		BaseTick:    i.BaseTick,
		MinNotional: i.MinNotional,
	}
}

// APIOrderRequest is the body of POST /v3/trade/order. Field order is the
// serialised order, which the signature covers.
type APIOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	ClientOrderID int64  `json:"clientOrderId,omitempty"`
}

type apiOrderResponse struct {
	envelope
	Data struct {
		OrderID       int64   `json:"orderId"`
		ClientOrderID int64   `json:"clientOrderId"`
		Side          string  `json:"side"`
		Price         float64 `json:"price"`
		Quantity      float64 `json:"quantity"`
	} `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// OrderAck is the exchange acknowledgement of a placed order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID int64
	AckedAt       time.Time
}

// APIHolding is one token balance of GET /v3/balances.
type APIHolding struct {
	Token            string  `json:"token"`
	Holding          float64 `json:"holding"`
	Frozen           float64 `json:"frozen"`
	AverageOpenPrice float64 `json:"averageOpenPrice"`
	MarkPrice        float64 `json:"markPrice"`
}

// APIAccountInfo is the subset of GET /v3/accountinfo the bot reads.
// TotalCollateral is the USD value the exchange counts as margin.
type APIAccountInfo struct {
	AccountMode       string  `json:"accountMode"`
	Leverage          float64 `json:"leverage"`
	TotalCollateral   float64 `json:"totalCollateral"`
	FreeCollateral    float64 `json:"freeCollateral"`
	TotalAccountValue float64 `json:"totalAccountValue"`
}

type apiAccountInfo struct {
	envelope
	Data APIAccountInfo `json:"data"`
}

type apiBalances struct {
	envelope
	Data struct {
		Holding []APIHolding `json:"holding"`
	} `json:"data"`
}

// APIPosition is one futures position of GET /v3/positions. Holding is
// signed: negative for short.
type APIPosition struct {
	Symbol           string  `json:"symbol"`
	Holding          float64 `json:"holding"`
	AverageOpenPrice float64 `json:"averageOpenPrice"`
	Timestamp        float64 `json:"timestamp"`
}

type apiPositions struct {
	envelope
	Data struct {
		Positions []APIPosition `json:"positions"`
	} `json:"data"`
}
