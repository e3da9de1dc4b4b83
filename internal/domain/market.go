package domain

import "time"

// MaxBookLevels is the deepest order book the feed will request per side.
const MaxBookLevels = 100

// PriceSource records where a sample's price came from.
type PriceSource string

const (
	PriceSourceTrade PriceSource = "trade"
	PriceSourceMid   PriceSource = "mid"
)

// PriceSample is one immutable observation produced per feed tick.
type PriceSample struct {
	Price     float64     `json:"price"`
	Volume    float64     `json:"volume"`
	BestBid   float64     `json:"best_bid"`
	BestAsk   float64     `json:"best_ask"`
	Source    PriceSource `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
}

// PriceLevel is a single price+quantity entry in an order book.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot is a bounded view of both sides of the book. Bids are
// ordered by descending price, asks by ascending price.
type OrderBookSnapshot struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	BidDepth  float64      `json:"bid_depth"`
	AskDepth  float64      `json:"ask_depth"`
	Spread    float64      `json:"spread"`
	MidPrice  float64      `json:"mid_price"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewOrderBookSnapshot builds a snapshot from raw levels, truncating each side
// to maxLevels and deriving depth, spread and mid price. Spread and mid are
// left at zero when either side is empty.
func NewOrderBookSnapshot(bids, asks []PriceLevel, maxLevels int, ts time.Time) OrderBookSnapshot {
	if maxLevels <= 0 || maxLevels > MaxBookLevels {
		maxLevels = MaxBookLevels
	}
	if len(bids) > maxLevels {
		bids = bids[:maxLevels]
	}
	if len(asks) > maxLevels {
		asks = asks[:maxLevels]
	}

	snap := OrderBookSnapshot{
		Bids:      append([]PriceLevel(nil), bids...),
		Asks:      append([]PriceLevel(nil), asks...),
		Timestamp: ts,
	}
	for _, l := range snap.Bids {
		snap.BidDepth += l.Quantity
	}
	for _, l := range snap.Asks {
		snap.AskDepth += l.Quantity
	}
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
		snap.Spread = snap.Asks[0].Price - snap.Bids[0].Price
		snap.MidPrice = (snap.Asks[0].Price + snap.Bids[0].Price) / 2
	}
	return snap
}

// BestBid returns the top bid price, or 0 when the bid side is empty.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the ask side is empty.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Imbalance returns (bidDepth - askDepth) / (bidDepth + askDepth), which lies
// in [-1, 1]. It is 0 when both depths are zero.
func (s OrderBookSnapshot) Imbalance() float64 {
	total := s.BidDepth + s.AskDepth
	if total == 0 {
		return 0
	}
	return (s.BidDepth - s.AskDepth) / total
}

// HistoryEntry pairs a sample with the book fetched on the same tick so an
// index into the history addresses both.
type HistoryEntry struct {
	Sample PriceSample       `json:"sample"`
	Book   OrderBookSnapshot `json:"book"`
}

// Prices extracts the sample prices of a history slice, oldest first.
func Prices(history []HistoryEntry) []float64 {
	out := make([]float64, len(history))
	for i, e := range history {
		out[i] = e.Sample.Price
	}
	return out
}

// LevelStrength is a support or resistance level weighted by resting quantity.
type LevelStrength struct {
	Price    float64 `json:"price"`
	Strength float64 `json:"strength"`
}

// SupportResistance holds the strongest bid (support) and ask (resistance)
// levels of a snapshot.
type SupportResistance struct {
	Support    []LevelStrength `json:"support"`
	Resistance []LevelStrength `json:"resistance"`
}

// SymbolFilter carries the exchange's price and quantity rules for a symbol.
// Zero values disable the corresponding check.
type SymbolFilter struct {
	Symbol      string
	QuoteMin    float64
	QuoteMax    float64
	QuoteTick   float64
	BaseMin     float64
	BaseMax     float64
	BaseTick    float64
	MinNotional float64
}
