package risk

import (
	"testing"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/dsl"
	"github.com/quantforge/backtestcore/internal/incstate"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/quantforge/backtestcore/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewAtClose(t *testing.T, close float64) *snapshot.View {
	t.Helper()
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	feeds := barfeed.NewMultiTFFeedStore(barfeed.RoleLow)
	fs := barfeed.NewFeedStore(tf)
	fs.Append(barfeed.Bar{TsOpen: 0, TsClose: tf.DurationMs, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1})
	feeds.Stores[barfeed.RoleLow] = fs
	features := registry.NewFeatureTable()
	features.Freeze()
	incr := incstate.NewMultiTFIncrementalState(feeds, map[barfeed.Role]*incstate.TFIncrementalState{})
	return snapshot.New(feeds, incr, features, 0, map[barfeed.Role]int{barfeed.RoleLow: 0})
}

func baseConfig() Config {
	return Config{MaxLeverage: 10, TakerFeeBps: 5, MinTradeNotionalUSDT: 10, PositionPolicy: LongShort, AllowFlip: true}
}

func TestEvaluateAcceptsValidLongEntry(t *testing.T) {
	view := viewAtClose(t, 100)
	sl := 99.0
	tp := 102.0
	intent := dsl.Intent{Action: dsl.ActionEntryLong, SizingMode: dsl.SizePct, SizeValue: 0.5, StopLoss: &sl, TakeProfit: &tp}
	portfolio := Portfolio{Equity: 1000, AvailableBalance: 1000}

	signal, err := Evaluate(intent, view, portfolio, baseConfig())
	require.NoError(t, err)
	assert.Equal(t, "long", signal.Side)
	assert.Equal(t, 500.0, signal.SizeUSDT)
}

func TestEvaluateRejectsBadStopDirection(t *testing.T) {
	view := viewAtClose(t, 100)
	sl := 101.0 // above entry, invalid for a long
	tp := 105.0
	intent := dsl.Intent{Action: dsl.ActionEntryLong, SizingMode: dsl.SizePct, SizeValue: 0.5, StopLoss: &sl, TakeProfit: &tp}
	portfolio := Portfolio{Equity: 1000, AvailableBalance: 1000}

	_, err := Evaluate(intent, view, portfolio, baseConfig())
	require.Error(t, err)
}

func TestEvaluateRejectsInsufficientMargin(t *testing.T) {
	view := viewAtClose(t, 100)
	sl := 99.0
	tp := 105.0
	intent := dsl.Intent{Action: dsl.ActionEntryLong, SizingMode: dsl.SizeUSDT, SizeValue: 10_000, StopLoss: &sl, TakeProfit: &tp}
	portfolio := Portfolio{Equity: 1000, AvailableBalance: 50}

	_, err := Evaluate(intent, view, portfolio, baseConfig())
	require.Error(t, err)
}

func TestEvaluateRejectsWrongSideUnderLongOnly(t *testing.T) {
	view := viewAtClose(t, 100)
	sl := 101.0
	tp := 95.0
	intent := dsl.Intent{Action: dsl.ActionEntryShort, SizingMode: dsl.SizePct, SizeValue: 0.1, StopLoss: &sl, TakeProfit: &tp}
	portfolio := Portfolio{Equity: 1000, AvailableBalance: 1000}
	cfg := baseConfig()
	cfg.PositionPolicy = LongOnly

	_, err := Evaluate(intent, view, portfolio, cfg)
	require.Error(t, err)
}

func TestEvaluateRiskPctSizing(t *testing.T) {
	view := viewAtClose(t, 100)
	sl := 98.0 // 2% stop distance
	tp := 106.0
	intent := dsl.Intent{Action: dsl.ActionEntryLong, SizingMode: dsl.SizeRiskPct, SizeValue: 0.01, StopLoss: &sl, TakeProfit: &tp}
	portfolio := Portfolio{Equity: 1000, AvailableBalance: 1000}

	signal, err := Evaluate(intent, view, portfolio, baseConfig())
	require.NoError(t, err)
	// risk 1% of 1000 equity = 10 USDT risked over a 2% stop distance => 500 USDT notional
	assert.InDelta(t, 500.0, signal.SizeUSDT, 1e-6)
}

func TestEvaluateRejectsFlipWithoutAllowFlip(t *testing.T) {
	view := viewAtClose(t, 100)
	sl := 99.0
	tp := 102.0
	intent := dsl.Intent{Action: dsl.ActionEntryLong, SizingMode: dsl.SizePct, SizeValue: 0.1, StopLoss: &sl, TakeProfit: &tp}
	portfolio := Portfolio{Equity: 1000, AvailableBalance: 1000, PositionOpen: true, PositionSide: "short"}
	cfg := baseConfig()
	cfg.AllowFlip = false

	_, err := Evaluate(intent, view, portfolio, cfg)
	require.Error(t, err)
}
