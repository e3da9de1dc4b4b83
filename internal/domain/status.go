package domain

import "time"

// EngineStatus is the read-only status snapshot exposed to the console.
type EngineStatus struct {
	Symbol        string        `json:"symbol"`
	Mode          string        `json:"mode"`
	Strategy      string        `json:"strategy"`
	Running       bool          `json:"running"`
	State         PositionState `json:"state"`
	Price         float64       `json:"price"`
	BestBid       float64       `json:"best_bid"`
	BestAsk       float64       `json:"best_ask"`
	Position      *Position     `json:"position,omitempty"`
	UnrealizedPnL float64       `json:"unrealized_pnl"`
	TradeCount    int           `json:"trade_count"`
	HistoryLen    int           `json:"history_len"`
	LastError     string        `json:"last_error,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
