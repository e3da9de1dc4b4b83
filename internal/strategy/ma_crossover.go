package strategy

import (
	"errors"
	"log/slog"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// NameMACrossover is the registry key of MACrossover.
const NameMACrossover = "ma_crossover"

const (
	defaultShortWindow = 20
	defaultLongWindow  = 50
)

// MACrossover signals Long when the short SMA crosses above the long SMA and
// Short on the mirror crossover. With a threshold t the long line is scaled
// by (1+t) for Long and (1-t) for Short.
type MACrossover struct {
	base
	short     int
	long      int
	threshold float64
}

// NewMACrossover reads "short_window" (20), "long_window" (50) and
// "threshold_pct" (0) from cfg.Params.
func NewMACrossover(cfg Config, logger *slog.Logger) (*MACrossover, error) {
	s := &MACrossover{
		base:      newBase(NameMACrossover, cfg, logger),
		short:     intParam(cfg.Params, "short_window", defaultShortWindow),
		long:      intParam(cfg.Params, "long_window", defaultLongWindow),
		threshold: floatParam(cfg.Params, "threshold_pct", 0) / 100,
	}
	if s.short < 2 || s.long <= s.short {
		return nil, errors.New("short_window must be >= 2 and below long_window")
	}
	return s, nil
}

// Name returns the strategy identifier.
func (s *MACrossover) Name() string { return NameMACrossover }

// SignalName returns the ledger signal name.
func (s *MACrossover) SignalName() string { return domain.SignalNameMACross }

// EntrySignal compares the SMAs of the latest and the previous sample and
// needs long_window+1 prices.
func (s *MACrossover) EntrySignal(history []domain.HistoryEntry, _ domain.OrderBookSnapshot) domain.Signal {
	prices := s.prices(history)
	if len(prices) < s.long+1 {
		return domain.SignalNone
	}
	prices = prices[len(prices)-s.long-1:]

	shortMA := talib.Sma(prices, s.short)
	longMA := talib.Sma(prices, s.long)
	n := len(prices)
	curS, prevS := shortMA[n-1], shortMA[n-2]
	curL, prevL := longMA[n-1], longMA[n-2]

	up, down := 1+s.threshold, 1-s.threshold
	switch {
	case curS > curL*up && prevS <= prevL*up:
		s.logger.Info("long signal", slog.Float64("short_ma", curS), slog.Float64("long_ma", curL))
		return domain.SignalLong
	case curS < curL*down && prevS >= prevL*down:
		s.logger.Info("short signal", slog.Float64("short_ma", curS), slog.Float64("long_ma", curL))
		return domain.SignalShort
	}
	return domain.SignalNone
}

// ExitSignal applies the default exit and the reversal check.
func (s *MACrossover) ExitSignal(pos domain.Position, price float64, history []domain.HistoryEntry, book domain.OrderBookSnapshot) (bool, string) {
	return s.exitSignal(s.EntrySignal, pos, price, history, book)
}
