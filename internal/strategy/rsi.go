package strategy

import (
	"errors"
	"log/slog"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// NameRSI is the registry key of RSI.
const NameRSI = "rsi"

// RSI signals Long when Wilder's RSI crosses up through the oversold level and
// Short when it crosses down through the overbought level.
type RSI struct {
	base
	period     int
	oversold   float64
	overbought float64
}

// NewRSI reads "period" (14), "oversold" (30) and "overbought" (70) from
// cfg.Params.
func NewRSI(cfg Config, logger *slog.Logger) (*RSI, error) {
	s := &RSI{
		base:       newBase(NameRSI, cfg, logger),
		period:     intParam(cfg.Params, "period", 14),
		oversold:   floatParam(cfg.Params, "oversold", 30),
		overbought: floatParam(cfg.Params, "overbought", 70),
	}
	if s.period < 2 {
		return nil, errors.New("period must be >= 2")
	}
	if s.oversold <= 0 || s.overbought >= 100 || s.oversold >= s.overbought {
		return nil, errors.New("need 0 < oversold < overbought < 100")
	}
	return s, nil
}

// Name returns the strategy identifier.
func (s *RSI) Name() string { return NameRSI }

// SignalName returns the ledger signal name.
func (s *RSI) SignalName() string { return domain.SignalNameRSI }

// EntrySignal needs period+2 prices so both the current and the previous RSI
// are defined.
func (s *RSI) EntrySignal(history []domain.HistoryEntry, _ domain.OrderBookSnapshot) domain.Signal {
	prices := s.prices(history)
	if len(prices) < s.period+2 {
		return domain.SignalNone
	}

	rsi := talib.Rsi(prices, s.period)
	n := len(rsi)
	cur, prev := rsi[n-1], rsi[n-2]

	switch {
	case prev <= s.oversold && cur > s.oversold:
		s.logger.Info("long signal", slog.Float64("rsi", cur))
		return domain.SignalLong
	case prev >= s.overbought && cur < s.overbought:
		s.logger.Info("short signal", slog.Float64("rsi", cur))
		return domain.SignalShort
	}
	return domain.SignalNone
}

// ExitSignal applies the default exit and the reversal check.
func (s *RSI) ExitSignal(pos domain.Position, price float64, history []domain.HistoryEntry, book domain.OrderBookSnapshot) (bool, string) {
	return s.exitSignal(s.EntrySignal, pos, price, history, book)
}
