package domain

import "time"

// OrderSide is the exchange-facing direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OpenSide returns the order side that opens a position on s.
func (s Side) OpenSide() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseSide returns the order side that closes a position on s.
func (s Side) CloseSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Order is built by an executor immediately before submission. It is not
// retained once the exchange acknowledges it.
type Order struct {
	Symbol        string
	Side          OrderSide
	Type          string // LIMIT
	Price         float64
	Quantity      float64
	ClientOrderID int64
	Tag           string
}

// FillInfo is the acknowledged result of an executed order.
type FillInfo struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID int64     `json:"client_order_id"`
	Side          OrderSide `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Commission    float64   `json:"commission"`
	Fee           float64   `json:"fee"`
	Paper         bool      `json:"paper"`
	FilledAt      time.Time `json:"filled_at"`
}
