package risk

import (
	"fmt"

	"github.com/rustyeddy/livetrader/config"
)

// Input is everything Evaluate needs to judge one intent. The engine
// is pure: no I/O, no clocks, no shared state.
type Input struct {
	Symbol         string
	Size           float64
	Price          float64
	HasStop        bool
	Equity         float64
	OpenPositions  int
	SymbolExposure float64
	TotalExposure  float64
	TradesLastHour int
	DayRealized    float64
}

// Decision carries the verdict and a human-readable reason. A bare
// boolean is never returned; every rejection explains itself.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func reject(code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// Evaluate applies the checks in a fixed order and stops on the first
// failure, so rejection reasons are deterministic for a given state.
func Evaluate(in Input, cfg config.Execution) Decision {
	if in.OpenPositions >= cfg.MaxConcurrentPositions {
		return reject("MAX_POSITIONS",
			fmt.Sprintf("Max positions (%d) reached", cfg.MaxConcurrentPositions))
	}

	notional := in.Size * in.Price

	if cfg.PerSymbolExposureCap > 0 {
		proposed := in.SymbolExposure + notional
		if proposed > cfg.PerSymbolExposureCap {
			return reject("SYMBOL_EXPOSURE",
				fmt.Sprintf("symbol exposure %.2f exceeds cap %.2f for %s",
					proposed, cfg.PerSymbolExposureCap, in.Symbol))
		}
	}

	if cfg.MaxTotalExposure > 0 {
		proposed := in.TotalExposure + notional
		if proposed > cfg.MaxTotalExposure {
			return reject("TOTAL_EXPOSURE",
				fmt.Sprintf("total exposure %.2f exceeds cap %.2f",
					proposed, cfg.MaxTotalExposure))
		}
	}

	if cfg.RequireStopLoss && !in.HasStop {
		return reject("NO_STOP_LOSS", "stop loss required but not set on intent")
	}

	if cfg.MaxPositionSize > 0 && in.Size > cfg.MaxPositionSize {
		return reject("SIZE_TOO_LARGE",
			fmt.Sprintf("size %.2f exceeds max position size %.2f",
				in.Size, cfg.MaxPositionSize))
	}

	if cfg.MaxTradesPerHour > 0 && in.TradesLastHour >= cfg.MaxTradesPerHour {
		return reject("TRADE_RATE",
			fmt.Sprintf("trades per hour limit (%d) reached", cfg.MaxTradesPerHour))
	}

	if cfg.MaxDailyLossPct > 0 && in.Equity > 0 {
		limit := -cfg.MaxDailyLossPct * in.Equity
		if in.DayRealized <= limit {
			return reject("DAILY_LOSS",
				fmt.Sprintf("day realized %.2f breaches daily loss limit %.2f",
					in.DayRealized, limit))
		}
	}

	return allow()
}
