package risk

import (
	"math"

	"github.com/rustyeddy/livetrader/config"
	"github.com/rustyeddy/livetrader/market"
)

// SizeFor computes a position size for an intent on the given symbol.
//
// Risk-per-trade sizing puts equity*risk_pct at risk over the stop
// distance. A missing stop or a stop distance of zero falls back to
// the fixed size: the engine stays permissive here on purpose rather
// than rejecting or dividing by zero.
//
// Known instruments additionally impose their contract terms: the
// trade-units precision supplies the rounding step when the config
// does not set one, and the venue minimum trade size floors the
// config minimum.
func SizeFor(symbol string, equity float64, entry, stop *float64, cfg config.Execution) float64 {
	size := cfg.FixedSize

	if cfg.RiskPerTradePct > 0 && equity > 0 && entry != nil && stop != nil {
		dist := math.Abs(*entry - *stop)
		if dist > 0 {
			size = equity * cfg.RiskPerTradePct / dist
		}
	}

	if cfg.MaxPositionSize > 0 && size > cfg.MaxPositionSize {
		size = cfg.MaxPositionSize
	}

	step := cfg.SizeStep
	minimum := cfg.MinSize
	if meta, ok := market.Instruments[symbol]; ok {
		if step <= 0 {
			step = math.Pow(10, -float64(meta.TradeUnitsPrecision))
		}
		if meta.MinimumTradeSize > minimum {
			minimum = meta.MinimumTradeSize
		}
	}

	size = roundToStep(size, step)
	if size < minimum {
		size = minimum
	}
	return size
}

// FitToExposure shrinks size so its notional fits within headroom.
// A size that rounds below the minimum after the adjustment cannot
// fit: the result is 0, not an error.
func FitToExposure(size, price, headroom float64, cfg config.Execution) float64 {
	if price <= 0 {
		return size
	}
	if size*price <= headroom {
		return size
	}

	adjusted := roundToStep(headroom/price, cfg.SizeStep)
	if adjusted < cfg.MinSize {
		return 0
	}
	return adjusted
}

func roundToStep(size, step float64) float64 {
	if step <= 0 {
		return size
	}
	return math.Floor(size/step) * step
}
