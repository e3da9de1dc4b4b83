package woox

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// decimalPlaces is the precision used for order prices and quantities.
const decimalPlaces = 8

// clientOrderIDModulus keeps client order ids to the last 12 digits of the
// millisecond clock.
const clientOrderIDModulus = 1_000_000_000_000

// FormatDecimal renders v with at most eight decimal places and no trailing
// zeros, going through an exact decimal so the wire value is never a binary
// float artifact.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).Round(decimalPlaces).String()
}

// ClientOrderID derives a numeric client order id from the clock.
func ClientOrderID(now time.Time) int64 {
	return now.UnixMilli() % clientOrderIDModulus
}

// RoundToTick rounds price to the nearest multiple of tick above origin. A zero
// tick returns the price unchanged.
func RoundToTick(price, origin, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	m := decimal.NewFromFloat(origin)
	t := decimal.NewFromFloat(tick)
	steps := p.Sub(m).Div(t).Round(0)
	out, _ := m.Add(steps.Mul(t)).Float64()
	return out
}

// FloorToStep truncates qty down to a multiple of step above origin so an order
// never exceeds the sized amount. A zero step returns qty unchanged.
func FloorToStep(qty, origin, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	m := decimal.NewFromFloat(origin)
	s := decimal.NewFromFloat(step)
	steps := q.Sub(m).Div(s).Floor()
	if steps.IsNegative() {
		return 0
	}
	out, _ := m.Add(steps.Mul(s)).Float64()
	return out
}

// ValidateFilters checks an order against the symbol's price, quantity and
// notional rules. Zero-valued rules are skipped.
func ValidateFilters(f domain.SymbolFilter, price, qty float64) error {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(qty)

	if f.QuoteMin > 0 && price < f.QuoteMin {
		return fmt.Errorf("%w: price %s below quote_min %v", domain.ErrValidation, p, f.QuoteMin)
	}
	if f.QuoteMax > 0 && price > f.QuoteMax {
		return fmt.Errorf("%w: price %s above quote_max %v", domain.ErrValidation, p, f.QuoteMax)
	}
	if f.QuoteTick > 0 && !onStep(p, f.QuoteMin, f.QuoteTick) {
		return fmt.Errorf("%w: price %s not on tick %v", domain.ErrValidation, p, f.QuoteTick)
	}
	if f.BaseMin > 0 && qty < f.BaseMin {
		return fmt.Errorf("%w: quantity %s below base_min %v", domain.ErrValidation, q, f.BaseMin)
	}
	if f.BaseMax > 0 && qty > f.BaseMax {
		return fmt.Errorf("%w: quantity %s above base_max %v", domain.ErrValidation, q, f.BaseMax)
	}
	if f.BaseTick > 0 && !onStep(q, f.BaseMin, f.BaseTick) {
		return fmt.Errorf("%w: quantity %s not on tick %v", domain.ErrValidation, q, f.BaseTick)
	}
	if f.MinNotional > 0 {
		notional := p.Mul(q)
		if notional.LessThan(decimal.NewFromFloat(f.MinNotional)) {
			return fmt.Errorf("%w: notional %s below min_notional %v", domain.ErrValidation, notional, f.MinNotional)
		}
	}
	return nil
}

func onStep(v decimal.Decimal, origin, step float64) bool {
	return v.Sub(decimal.NewFromFloat(origin)).Mod(decimal.NewFromFloat(step)).IsZero()
}
