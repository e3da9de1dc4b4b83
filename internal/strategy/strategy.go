// Package strategy turns the feed's rolling history into entry and exit
// decisions. Strategies are pure: they read the history they are given and
// never mutate it or call out.
package strategy

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// Strategy is an entry/exit signal generator.
type Strategy interface {
	// Name is the registry key, e.g. "ma_crossover".
	Name() string
	// SignalName is the ledger signal recorded on entries, e.g. "MA_CROSS".
	SignalName() string
	// EntrySignal returns SignalNone when the history is too short.
	EntrySignal(history []domain.HistoryEntry, book domain.OrderBookSnapshot) domain.Signal
	// ExitSignal reports whether pos should be closed at price and the ledger
	// signal name of the reason.
	ExitSignal(pos domain.Position, price float64, history []domain.HistoryEntry, book domain.OrderBookSnapshot) (bool, string)
}

// Config holds the settings shared by every strategy plus its own numeric
// parameters.
type Config struct {
	StopLossPct   float64
	TakeProfitPct float64
	Params        map[string]any
}

// DefaultExit is the stop-loss/take-profit rule shared by all strategies.
type DefaultExit struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// Check returns true with STOP_LOSS when the side-adjusted P&L is at or below
// -StopLossPct, and true with TAKE_PROFIT when it is at or above
// +TakeProfitPct. A non-positive price never exits.
func (d DefaultExit) Check(pos domain.Position, price float64) (bool, string) {
	if price <= 0 || pos.EntryPrice <= 0 {
		return false, ""
	}
	pnl := pos.PnLPct(price)
	switch {
	case pnl <= -d.StopLossPct:
		return true, domain.SignalNameStopLoss
	case pnl >= d.TakeProfitPct:
		return true, domain.SignalNameTakeProfit
	}
	return false, ""
}

// base carries what the three strategies have in common: the default exit,
// reversal exits and optional resampling of the history.
type base struct {
	exit      DefaultExit
	reversal  bool
	imbalance float64
	timeframe time.Duration
	logger    *slog.Logger
}

func newBase(name string, cfg Config, logger *slog.Logger) base {
	return base{
		exit:      DefaultExit{StopLossPct: cfg.StopLossPct, TakeProfitPct: cfg.TakeProfitPct},
		reversal:  boolParam(cfg.Params, "exit_on_reversal", true),
		imbalance: floatParam(cfg.Params, "imbalance_threshold", 0),
		timeframe: durationParam(cfg.Params, "timeframe", 0),
		logger:    logger.With(slog.String("strategy", name)),
	}
}

// prices returns the history prices, resampled to the close of each
// timeframe bucket when a timeframe is configured.
func (b base) prices(history []domain.HistoryEntry) []float64 {
	if b.timeframe <= 0 {
		return domain.Prices(history)
	}
	return Resample(history, b.timeframe)
}

// exitSignal applies the default exit first and then, if enabled, exits when
// the strategy's own entry logic points the other way.
func (b base) exitSignal(entry func([]domain.HistoryEntry, domain.OrderBookSnapshot) domain.Signal,
	pos domain.Position, price float64, history []domain.HistoryEntry, book domain.OrderBookSnapshot,
) (bool, string) {
	if ok, reason := b.exit.Check(pos, price); ok {
		b.logger.Info("exit signal",
			slog.String("reason", reason),
			slog.Float64("pnl_pct", pos.PnLPct(price)),
		)
		return true, reason
	}
	if b.imbalance > 0 && imbalanceAgainst(pos.Side, book.Imbalance(), b.imbalance) {
		b.logger.Info("exit signal",
			slog.String("reason", domain.SignalNameReversal),
			slog.Float64("imbalance", book.Imbalance()),
		)
		return true, domain.SignalNameReversal
	}
	if !b.reversal || len(history) == 0 {
		return false, ""
	}
	sig := entry(history, book)
	if side, ok := sig.Side(); ok && side == pos.Side.Opposite() {
		b.logger.Info("exit signal",
			slog.String("reason", domain.SignalNameReversal),
			slog.String("signal", sig.String()),
		)
		return true, domain.SignalNameReversal
	}
	return false, ""
}

// imbalanceAgainst reports whether book pressure has crossed threshold on the
// side opposing the position.
func imbalanceAgainst(side domain.Side, imbalance, threshold float64) bool {
	if side == domain.SideShort {
		return imbalance >= threshold
	}
	return imbalance <= -threshold
}

// Resample buckets the history by timeframe and keeps the last price of each
// bucket, including the trailing partial one.
func Resample(history []domain.HistoryEntry, timeframe time.Duration) []float64 {
	out := make([]float64, 0, len(history))
	var (
		bucket  int64
		last    float64
		started bool
	)
	for _, e := range history {
		if e.Sample.Price <= 0 || e.Sample.Timestamp.IsZero() {
			continue
		}
		b := e.Sample.Timestamp.UnixNano() / int64(timeframe)
		if started && b != bucket {
			out = append(out, last)
		}
		bucket, last, started = b, e.Sample.Price, true
	}
	if started {
		out = append(out, last)
	}
	return out
}

// ---------------------------------------------------------------------------
// Parameter helpers. TOML decodes integers as int64 and floats as float64.
// ---------------------------------------------------------------------------

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// durationParam accepts a duration string ("1m") or a number of seconds.
func durationParam(params map[string]any, key string, def time.Duration) time.Duration {
	switch v := params[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}
