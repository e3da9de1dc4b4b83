package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wooxbot/internal/domain"
	"github.com/alanyoungcy/wooxbot/internal/platform/woox"
)

// PaperExecutor fills every order immediately at the requested price with no
// slippage and a flat commission.
type PaperExecutor struct {
	symbol     string
	commission float64
	logger     *slog.Logger
	now        func() time.Time
}

// NewPaperExecutor creates a PaperExecutor.
func NewPaperExecutor(symbol string, commission float64, logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		symbol:     symbol,
		commission: commission,
		logger:     logger.With(slog.String("component", "paper_executor")),
		now:        time.Now,
	}
}

// Mode returns ModePaper.
func (p *PaperExecutor) Mode() string { return ModePaper }

// Open simulates the opening fill.
func (p *PaperExecutor) Open(ctx context.Context, side domain.Side, price, qty float64) (domain.FillInfo, error) {
	return p.fill(ctx, side.OpenSide(), price, qty), nil
}

// Close simulates the closing fill of pos.
func (p *PaperExecutor) Close(ctx context.Context, pos domain.Position, price float64) (domain.FillInfo, error) {
	return p.fill(ctx, pos.Side.CloseSide(), price, pos.Quantity), nil
}

func (p *PaperExecutor) fill(ctx context.Context, side domain.OrderSide, price, qty float64) domain.FillInfo {
	now := p.now().UTC()
	f := domain.FillInfo{
		OrderID:       "paper-" + uuid.NewString(),
		ClientOrderID: woox.ClientOrderID(now),
		Side:          side,
		Price:         price,
		Quantity:      qty,
		Commission:    p.commission,
		Paper:         true,
		FilledAt:      now,
	}
	p.logger.InfoContext(ctx, "paper fill",
		slog.String("symbol", p.symbol),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("quantity", qty),
	)
	return f
}
