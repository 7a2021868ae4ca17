package engine

import (
	"testing"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/dsl"
	"github.com/quantforge/backtestcore/internal/exchange"
	"github.com/quantforge/backtestcore/internal/incstate"
	"github.com/quantforge/backtestcore/internal/play"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/quantforge/backtestcore/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func buildFeeds(t *testing.T, closes []float64) *barfeed.MultiTFFeedStore {
	t.Helper()
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	fs := barfeed.NewFeedStore(tf)
	for i, c := range closes {
		ts := int64(i) * tf.DurationMs
		fs.Append(barfeed.Bar{TsOpen: ts, TsClose: ts + tf.DurationMs, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1})
	}
	fs.Freeze()
	feeds := barfeed.NewMultiTFFeedStore(barfeed.RoleLow)
	feeds.Stores[barfeed.RoleLow] = fs
	return feeds
}

func basePlay() *play.Play {
	alwaysTrue := &dsl.Leaf{LHS: dsl.Price("close", "", 0), Op: dsl.OpGT, RHS: dsl.Lit(0)}
	alwaysFalse := &dsl.Leaf{LHS: dsl.Price("close", "", 0), Op: dsl.OpLT, RHS: dsl.Lit(0)}
	return &play.Play{
		ID:             "p1",
		Version:        "1",
		SymbolUniverse: []string{"BTCUSDT"},
		Account: play.Account{
			StartingEquityUSDT:   1000,
			MaxLeverage:          10,
			FeeModel:             play.FeeModel{TakerBps: 5},
			MinTradeNotionalUSDT: 1,
		},
		Timeframes: play.Timeframes{
			LowTF: barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000},
			Exec:  "low_tf",
		},
		SignalRules: play.SignalRules{
			Long: &play.DirectionRules{
				Entry: []dsl.WhenEmit{{
					When: alwaysTrue,
					Emit: []dsl.Intent{{
						Action: dsl.ActionEntryLong, SizingMode: dsl.SizeUSDT, SizeValue: 100,
						StopLoss: ptr(50), TakeProfit: ptr(1_000_000), Reason: "always_enter",
					}},
				}},
				Exit: []dsl.WhenEmit{{When: alwaysFalse, Emit: []dsl.Intent{{Action: dsl.ActionExitLong}}}},
			},
		},
		PositionPolicy: risk.LongOnly,
	}
}

func newEngineFor(t *testing.T, p *play.Play, closes []float64) *Engine {
	t.Helper()
	feeds := buildFeeds(t, closes)
	features := registry.NewFeatureTable()
	features.Freeze()
	incr := incstate.NewMultiTFIncrementalState(feeds, map[barfeed.Role]*incstate.TFIncrementalState{})
	return New(Config{
		Play: p, Feeds: feeds, Incremental: incr, Features: features,
		SimStartIdx: 0, IDSeed: "test-seed",
	})
}

func TestRunEntersOnFirstBarAndFillsNextOpen(t *testing.T) {
	e := newEngineFor(t, basePlay(), []float64{100, 101, 102, 103, 104})
	_, err := e.Run()
	require.NoError(t, err)
	require.Len(t, e.Trades(), 1, "an always-open position force-closes exactly once at end of data")
	assert.Equal(t, 101.0, e.Trades()[0].EntryPrice, "entry fills at the bar-1 open, the bar after it was queued")
}

func TestRunForceClosesOpenPositionAtEndOfData(t *testing.T) {
	e := newEngineFor(t, basePlay(), []float64{100, 101, 102})
	_, err := e.Run()
	require.NoError(t, err)
	trade := e.Trades()[len(e.Trades())-1]
	assert.Equal(t, exchange.ExitEndOfData, trade.ExitReason)
}

func TestRunRecordsOneEquityPointPerBar(t *testing.T) {
	closes := []float64{100, 101, 102, 103}
	e := newEngineFor(t, basePlay(), closes)
	_, err := e.Run()
	require.NoError(t, err)
	assert.Equal(t, len(closes), len(e.EquityCurve()), "one equity point per exec bar, no extra point beyond force-close bar")
}

func TestMaxBarsInTradeForcesSignalExitBeforeEndOfData(t *testing.T) {
	p := basePlay()
	p.RiskModel.MaxBarsInTrade = 1
	e := newEngineFor(t, p, []float64{100, 101, 102, 103, 104, 105})
	_, err := e.Run()
	require.NoError(t, err)
	require.NotEmpty(t, e.Trades())
	trade := e.Trades()[0]
	assert.Equal(t, exchange.ExitSignal, trade.ExitReason)
}

func TestRunIsDeterministicAcrossIdenticalReplays(t *testing.T) {
	closes := []float64{100, 101, 99, 102, 103}
	e1 := newEngineFor(t, basePlay(), closes)
	r1, err := e1.Run()
	require.NoError(t, err)

	e2 := newEngineFor(t, basePlay(), closes)
	r2, err := e2.Run()
	require.NoError(t, err)

	require.Equal(t, len(e1.Trades()), len(e2.Trades()))
	for i := range e1.Trades() {
		assert.Equal(t, e1.Trades()[i].ID, e2.Trades()[i].ID, "identical seed/window must reproduce identical trade ids")
	}
	assert.Equal(t, r1.TotalRealizedPnLUSDT, r2.TotalRealizedPnLUSDT)
}
