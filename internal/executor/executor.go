// Package executor effects the position manager's decisions. The paper
// executor simulates fills locally; the live executor submits limit orders to
// WOO X through the classified retry policy.
package executor

import (
	"context"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// OrderExecutor opens and closes the single position. A nil error means the
// order was acknowledged and the returned fill is final; an error means no
// order is assumed filled.
type OrderExecutor interface {
	Open(ctx context.Context, side domain.Side, price, qty float64) (domain.FillInfo, error)
	Close(ctx context.Context, pos domain.Position, price float64) (domain.FillInfo, error)
	Mode() string
}

// Trade modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)
