package strategy

import (
	"errors"
	"log/slog"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// NameBollinger is the registry key of Bollinger.
const NameBollinger = "bollinger_bands"

// Bollinger signals Long when the price touches or breaks the lower band and
// Short on the upper band. Bands are SMA(period) plus or minus a multiple of
// the population standard deviation.
type Bollinger struct {
	base
	period int
	stdDev float64
}

// NewBollinger reads "period" (20) and "std_dev" (2.0) from cfg.Params.
func NewBollinger(cfg Config, logger *slog.Logger) (*Bollinger, error) {
	s := &Bollinger{
		base:   newBase(NameBollinger, cfg, logger),
		period: intParam(cfg.Params, "period", 20),
		stdDev: floatParam(cfg.Params, "std_dev", 2.0),
	}
	if s.period < 2 {
		return nil, errors.New("period must be >= 2")
	}
	if s.stdDev <= 0 {
		return nil, errors.New("std_dev must be > 0")
	}
	return s, nil
}

// Name returns the strategy identifier.
func (s *Bollinger) Name() string { return NameBollinger }

// SignalName returns the ledger signal name.
func (s *Bollinger) SignalName() string { return domain.SignalNameBollinger }

// Bands returns the upper, middle and lower band over the last period
// prices, or ok=false when there are fewer.
func (s *Bollinger) Bands(prices []float64) (upper, middle, lower float64, ok bool) {
	if len(prices) < s.period {
		return 0, 0, 0, false
	}
	prices = prices[len(prices)-s.period:]
	u, m, l := talib.BBands(prices, s.period, s.stdDev, s.stdDev, talib.SMA)
	n := len(prices) - 1
	return u[n], m[n], l[n], true
}

// EntrySignal needs period prices.
func (s *Bollinger) EntrySignal(history []domain.HistoryEntry, _ domain.OrderBookSnapshot) domain.Signal {
	prices := s.prices(history)
	upper, _, lower, ok := s.Bands(prices)
	if !ok || upper <= lower {
		// Zero-width bands on a flat series.
		return domain.SignalNone
	}
	price := prices[len(prices)-1]

	switch {
	case price <= lower:
		s.logger.Info("long signal", slog.Float64("price", price), slog.Float64("lower", lower))
		return domain.SignalLong
	case price >= upper:
		s.logger.Info("short signal", slog.Float64("price", price), slog.Float64("upper", upper))
		return domain.SignalShort
	}
	return domain.SignalNone
}

// ExitSignal applies the default exit and the reversal check.
func (s *Bollinger) ExitSignal(pos domain.Position, price float64, history []domain.HistoryEntry, book domain.OrderBookSnapshot) (bool, string) {
	return s.exitSignal(s.EntrySignal, pos, price, history, book)
}
