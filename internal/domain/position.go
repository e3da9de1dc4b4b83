package domain

import (
	"strings"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// PositionState is a state of the position lifecycle. The terminal state is
// the initial one: a closed position returns the manager to FLAT.
type PositionState string

const (
	StateFlat    PositionState = "FLAT"
	StateOpening PositionState = "OPENING"
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
)

// Position is the single live exposure held by the engine.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// PnLPct returns the percentage profit or loss at price, sign-adjusted for
// the position side. A zero entry price yields 0.
func (p Position) PnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - price) / p.EntryPrice * 100
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// PnL returns the absolute profit or loss in quote currency at price.
func (p Position) PnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// IsSpotSymbol reports whether the symbol trades on the spot market, where
// short positions are not available.
func IsSpotSymbol(symbol string) bool {
	return strings.HasPrefix(strings.ToUpper(symbol), "SPOT_")
}
