package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/livetrader/config"
)

func testConfig() config.Execution {
	return config.Execution{
		Mode:                   config.ModeDemo,
		MaxPositionSize:        10000,
		MaxConcurrentPositions: 3,
		MaxDailyLossPct:        0.02,
		MaxTradesPerHour:       10,
		PerSymbolExposureCap:   50000,
		MaxTotalExposure:       100000,
		RequireStopLoss:        true,
	}
}

func TestEvaluate_Allowed(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol:        "EUR_USD",
		Size:          1000,
		Price:         1.10,
		HasStop:       true,
		Equity:        100000,
		OpenPositions: 1,
	}

	d := Evaluate(in, testConfig())
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestEvaluate_MaxPositionsReached(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol:        "EUR_USD",
		Size:          1000,
		Price:         1.10,
		HasStop:       true,
		Equity:        100000,
		OpenPositions: 3,
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "MAX_POSITIONS", d.Code)
	assert.Contains(t, d.Reason, "Max positions (3) reached")
}

func TestEvaluate_SymbolExposureCap(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol:         "EUR_USD",
		Size:           10000,
		Price:          1.10,
		HasStop:        true,
		Equity:         100000,
		SymbolExposure: 45000,
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "SYMBOL_EXPOSURE", d.Code)
	// Message carries both the computed exposure and the cap.
	assert.Contains(t, d.Reason, "56000.00")
	assert.Contains(t, d.Reason, "50000.00")
	assert.Contains(t, d.Reason, "EUR_USD")
}

func TestEvaluate_TotalExposureCap(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol:        "EUR_USD",
		Size:          10000,
		Price:         1.10,
		HasStop:       true,
		Equity:        100000,
		TotalExposure: 95000,
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "TOTAL_EXPOSURE", d.Code)
}

func TestEvaluate_StopLossRequired(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol: "EUR_USD",
		Size:   1000,
		Price:  1.10,
		Equity: 100000,
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "NO_STOP_LOSS", d.Code)

	cfg := testConfig()
	cfg.RequireStopLoss = false
	d = Evaluate(in, cfg)
	assert.True(t, d.Allowed)
}

func TestEvaluate_ShortCircuitOrder(t *testing.T) {
	t.Parallel()

	// Everything is wrong at once: the position cap must win because
	// it is checked first.
	in := Input{
		Symbol:         "EUR_USD",
		Size:           99999,
		Price:          1.10,
		Equity:         100000,
		OpenPositions:  5,
		SymbolExposure: 999999,
		TotalExposure:  999999,
		TradesLastHour: 999,
		DayRealized:    -99999,
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "MAX_POSITIONS", d.Code)
}

func TestEvaluate_TradeRateLimit(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol:         "EUR_USD",
		Size:           1000,
		Price:          1.10,
		HasStop:        true,
		Equity:         100000,
		TradesLastHour: 10,
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "TRADE_RATE", d.Code)
}

func TestEvaluate_DailyLossBreaker(t *testing.T) {
	t.Parallel()

	in := Input{
		Symbol:      "EUR_USD",
		Size:        1000,
		Price:       1.10,
		HasStop:     true,
		Equity:      100000,
		DayRealized: -2500, // limit is -2000 at 2% of 100k
	}

	d := Evaluate(in, testConfig())
	assert.False(t, d.Allowed)
	assert.Equal(t, "DAILY_LOSS", d.Code)
}
