package incstate

import (
	"testing"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTF = barfeed.Timeframe{Role: barfeed.RoleLow, Name: "15m", DurationMs: 900_000}

func bar(i int, o, h, l, c, v float64) barfeed.Bar {
	ts := int64(i) * testTF.DurationMs
	return barfeed.Bar{TsOpen: ts, TsClose: ts + testTF.DurationMs, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestSwingFractalTotalVersionInvariant(t *testing.T) {
	s := NewSwingFractal(2)
	prices := []float64{10, 11, 12, 20, 12, 11, 10, 5, 10, 11, 12}
	for i, p := range prices {
		s.Update(bar(i, p, p+0.5, p-0.5, p, 1))
		assert.Equal(t, s.HighVersion+s.LowVersion, s.TotalVersion())
	}

	s.Reset()
	assert.Equal(t, 0, s.TotalVersion(), "TotalVersion must hold immediately after Reset")
	assert.Equal(t, -1, s.HighIdx)
	assert.Equal(t, -1, s.LowIdx)

	for i, p := range prices {
		s.Update(bar(i, p, p+0.5, p-0.5, p, 1))
		assert.Equal(t, s.HighVersion+s.LowVersion, s.TotalVersion())
	}
}

func TestSwingVersionsMonotonicNonDecreasing(t *testing.T) {
	s := NewSwingZigZag(0.05)
	prevHigh, prevLow := 0, 0
	prices := []float64{100, 105, 110, 104, 98, 95, 101, 108, 115, 109, 102}
	for i, p := range prices {
		s.Update(bar(i, p, p+1, p-1, p, 1))
		assert.GreaterOrEqual(t, s.HighVersion, prevHigh)
		assert.GreaterOrEqual(t, s.LowVersion, prevLow)
		prevHigh, prevLow = s.HighVersion, s.LowVersion
	}
}

func TestSwingSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewSwingFractal(2)
	prices := []float64{10, 11, 12, 20, 12, 11, 10, 5, 10}
	for i, p := range prices {
		s.Update(bar(i, p, p+0.5, p-0.5, p, 1))
	}
	snap := s.Snapshot()

	fresh := NewSwingFractal(2)
	fresh.Restore(snap)
	assert.Equal(t, s.HighLevel, fresh.HighLevel)
	assert.Equal(t, s.LowLevel, fresh.LowLevel)
	assert.Equal(t, s.HighVersion, fresh.HighVersion)
	assert.Equal(t, s.LowVersion, fresh.LowVersion)
}

func TestRollingWindowMinMax(t *testing.T) {
	w := NewRollingWindow(FieldClose, 3)
	closes := []float64{5, 3, 8, 1, 9, 2}
	for i, c := range closes {
		w.Update(bar(i, c, c, c, c, 1))
	}
	maxV, ok := w.Value("max")
	require.True(t, ok)
	assert.Equal(t, 9.0, maxV.Num)
	minV, ok := w.Value("min")
	require.True(t, ok)
	assert.Equal(t, 1.0, minV.Num)
}

func TestTrendWiringAndDirection(t *testing.T) {
	swing := NewSwingFractal(1)
	trend := NewTrend("swing")

	registered := []Registered{{Key: "swing", Detector: swing}, {Key: "trend", Detector: trend}}
	state, err := NewTFIncrementalState(testTF, registered)
	require.NoError(t, err)

	prices := []float64{10, 12, 9, 14, 8, 16, 7, 18}
	for i, p := range prices {
		state.Update(bar(i, p, p+0.2, p-0.2, p, 1))
	}

	dir, ok := state.Value("trend", "direction")
	require.True(t, ok)
	assert.NotEqual(t, 0, int(dir.Num))
}

func TestTFIncrementalStateRejectsUnknownDependency(t *testing.T) {
	orphan := NewTrend("does_not_exist")
	_, err := NewTFIncrementalState(testTF, []Registered{{Key: "trend", Detector: orphan}})
	require.Error(t, err)
}

func TestTFIncrementalStateRejectsCycle(t *testing.T) {
	a := NewTrend("b")
	b := NewTrend("a")
	_, err := NewTFIncrementalState(testTF, []Registered{
		{Key: "a", Detector: a},
		{Key: "b", Detector: b},
	})
	require.Error(t, err)
}

func TestZoneLifecycleTransitions(t *testing.T) {
	swing := NewSwingFractal(1)
	zone := NewZone("swing", true, 1.0, 4)
	state, err := NewTFIncrementalState(testTF, []Registered{
		{Key: "swing", Detector: swing},
		{Key: "zone", Detector: zone},
	})
	require.NoError(t, err)

	prices := []float64{10, 14, 10, 10, 10, 10, 20, 20}
	for i, p := range prices {
		state.Update(bar(i, p, p+0.1, p-0.1, p, 1))
	}

	v, ok := state.Value("zone", "slot_count")
	require.True(t, ok)
	assert.GreaterOrEqual(t, int(v.Num), 1)

	st, ok := state.Value("zone", "latest_state")
	require.True(t, ok)
	assert.Equal(t, "ACTIVE", st.Str, "the zone created at the bar-1 pivot turns active once it is confirmed and never broken")
}

func TestZoneClosestActiveIsNearestToCurrentPriceNotZero(t *testing.T) {
	zone := &Zone{
		slots: []ZoneSlot{
			{Upper: 101, Lower: 99, State: ZoneActive},  // mid 100, far from price
			{Upper: 21, Lower: 19, State: ZoneActive},   // mid 20, close to price
		},
		lastClose: 19.5,
	}
	upper, ok := zone.Value("closest_active_upper")
	require.True(t, ok)
	assert.Equal(t, 21.0, upper.Num)

	lower, ok := zone.Value("closest_active_lower")
	require.True(t, ok)
	assert.Equal(t, 19.0, lower.Num)
}

func TestAnchoredVWAPBarsSinceAnchorResetsOnSwingBump(t *testing.T) {
	swing := NewSwingFractal(1)
	avwap := NewAnchoredVWAP("swing", true)
	state, err := NewTFIncrementalState(testTF, []Registered{
		{Key: "swing", Detector: swing},
		{Key: "avwap", Detector: avwap},
	})
	require.NoError(t, err)

	prices := []float64{10, 14, 10, 11, 12, 13, 20, 15, 16}
	var lastBarsSince int
	for i, p := range prices {
		state.Update(bar(i, p, p+0.1, p-0.1, p, 10))
		v, ok := state.Value("avwap", "bars_since_anchor")
		require.True(t, ok)
		lastBarsSince = int(v.Num)
	}
	assert.Equal(t, 2, lastBarsSince, "the bar-6 high, confirmed at bar 7, re-anchors (count 1 there); bar 8 counts 2")
}

func TestFibonacciLevelsRecomputeOnlyOnPairVersionBump(t *testing.T) {
	swing := NewSwingFractal(1)
	fib := NewFibonacci("swing")
	state, err := NewTFIncrementalState(testTF, []Registered{
		{Key: "swing", Detector: swing},
		{Key: "fib", Detector: fib},
	})
	require.NoError(t, err)

	prices := []float64{10, 14, 8, 9, 10, 11, 12}
	for i, p := range prices {
		state.Update(bar(i, p, p+0.1, p-0.1, p, 1))
	}

	v, ok := state.Value("fib", "level_0500")
	require.True(t, ok)
	assert.InDelta(t, 11.0, v.Num, 1e-9, "levels set at the bar-2 low pivot (pair 14.1/7.9) stay put on later bars")
}

func TestMultiTFIncrementalStateForwardFill(t *testing.T) {
	lowTF := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "15m", DurationMs: 900_000}
	highTF := barfeed.Timeframe{Role: barfeed.RoleHigh, Name: "1h", DurationMs: 3_600_000}

	feeds := barfeed.NewMultiTFFeedStore(barfeed.RoleLow)
	low := barfeed.NewFeedStore(lowTF)
	high := barfeed.NewFeedStore(highTF)
	for i := 0; i < 4; i++ {
		ts := int64(i) * lowTF.DurationMs
		low.Append(barfeed.Bar{TsOpen: ts, TsClose: ts + lowTF.DurationMs, Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 1})
	}
	high.Append(barfeed.Bar{TsOpen: 0, TsClose: 3_600_000, Open: 1, High: 3, Low: 1, Close: 2, Volume: 4})
	feeds.Stores[barfeed.RoleLow] = low
	feeds.Stores[barfeed.RoleHigh] = high

	lowEMA := NewIncEMA(2, FieldClose)
	highEMA := NewIncEMA(2, FieldClose)
	lowState, err := NewTFIncrementalState(lowTF, []Registered{{Key: "ema", Detector: lowEMA}})
	require.NoError(t, err)
	highState, err := NewTFIncrementalState(highTF, []Registered{{Key: "ema", Detector: highEMA}})
	require.NoError(t, err)

	multi := NewMultiTFIncrementalState(feeds, map[barfeed.Role]*TFIncrementalState{
		barfeed.RoleLow:  lowState,
		barfeed.RoleHigh: highState,
	})

	for i := 0; i < 4; i++ {
		ts := int64(i) * lowTF.DurationMs
		multi.Advance(ts + lowTF.DurationMs)
	}

	hv, ok := multi.Value(barfeed.RoleHigh, "ema", "value")
	require.True(t, ok)
	assert.Equal(t, 2.0, hv.Num, "high-TF EMA only observes its single closed bar, never a low-TF close")

	hvAt1, _ := multi.Value(barfeed.RoleHigh, "ema", "value")
	multi.Advance(900_000 * 2)
	hvAt2, _ := multi.Value(barfeed.RoleHigh, "ema", "value")
	assert.Equal(t, hvAt1.Num, hvAt2.Num, "no intervening 1h close means the high-TF value is unchanged (forward-fill by omission)")
}

func TestIncRSIAndATRWarmup(t *testing.T) {
	rsi := NewIncRSI(3)
	atr := NewIncATR(3)
	prices := []float64{10, 11, 12, 11, 10, 9, 10}
	for i, p := range prices {
		b := bar(i, p, p+1, p-1, p, 1)
		rsi.Update(b)
		atr.Update(b)
	}
	v, ok := rsi.Value("value")
	require.True(t, ok)
	assert.GreaterOrEqual(t, v.Num, 0.0)
	assert.LessOrEqual(t, v.Num, 100.0)

	av, ok := atr.Value("value")
	require.True(t, ok)
	assert.Greater(t, av.Num, 0.0)
}
