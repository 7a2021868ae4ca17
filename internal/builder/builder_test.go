package builder

import (
	"math"
	"testing"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBars(n int, tf barfeed.Timeframe, startMs int64) []barfeed.Bar {
	bars := make([]barfeed.Bar, 0, n)
	for i := 0; i < n; i++ {
		ts := startMs + int64(i)*tf.DurationMs
		bars = append(bars, barfeed.Bar{
			TsOpen: ts, TsClose: ts + tf.DurationMs,
			Open: 100, High: 105, Low: 99, Close: 100 + float64(i%5), Volume: 10,
		})
	}
	return bars
}

func TestBuildProducesFeedStoreAndFeatures(t *testing.T) {
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	bars := makeBars(50, tf, 0)

	input := &BuildInput{
		ExecRole:       barfeed.RoleLow,
		WindowStartMs:  bars[30].TsOpen,
		WindowEndMs:    bars[49].TsClose,
		SafetyBufferMs: 0,
		TFs: []TFInput{
			{
				TF:   tf,
				Bars: bars,
				Features: []FeatureRequest{
					{ID: "ema_fast", IndicatorType: "ema", Params: map[string]any{"length": 5}},
					{ID: "avwap", IndicatorType: "anchored_vwap", Params: map[string]any{}},
				},
			},
		},
	}

	reg := registry.NewDefault()
	result, err := Build(input, reg)
	require.NoError(t, err)

	exec := result.Feeds.Exec()
	require.NotNil(t, exec)
	assert.Equal(t, 50, exec.Len())
	assert.Len(t, exec.Indicator["ema_fast"], 50)

	for _, v := range exec.Indicator["avwap"] {
		assert.True(t, math.IsNaN(v), "anchored_vwap batch output must be NaN placeholders")
	}

	h, err := result.Features.Resolve("avwap")
	require.NoError(t, err)
	assert.True(t, result.Features.Meta(h).IsStructure)

	h2, err := result.Features.Resolve("ema_fast")
	require.NoError(t, err)
	assert.False(t, result.Features.Meta(h2).IsStructure)
}

func TestPreflightFailsOnInsufficientWarmup(t *testing.T) {
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	bars := makeBars(10, tf, 0)

	input := &BuildInput{
		ExecRole:      barfeed.RoleLow,
		WindowStartMs: bars[0].TsOpen,
		WindowEndMs:   bars[9].TsClose,
		TFs: []TFInput{
			{
				TF:   tf,
				Bars: bars,
				Features: []FeatureRequest{
					{ID: "ema_slow", IndicatorType: "ema", Params: map[string]any{"length": 200}},
				},
			},
		},
	}

	reg := registry.NewDefault()
	_, err := Preflight(input, reg)
	require.Error(t, err)
}

func TestPreflightReportsGapExceedsThreshold(t *testing.T) {
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	bars := makeBars(20, tf, 0)
	// open a gap of 5 bars between index 9 and 10
	for i := 10; i < len(bars); i++ {
		bars[i].TsOpen += 5 * tf.DurationMs
		bars[i].TsClose += 5 * tf.DurationMs
	}

	input := &BuildInput{
		ExecRole:      barfeed.RoleLow,
		WindowStartMs: bars[0].TsOpen,
		WindowEndMs:   bars[len(bars)-1].TsClose,
		TFs: []TFInput{
			{TF: tf, Bars: bars},
		},
	}

	reg := registry.NewDefault()
	_, err := Preflight(input, reg)
	require.Error(t, err)
}

func TestPreflightAutoFixHookFillsGap(t *testing.T) {
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	bars := makeBars(10, tf, 0)
	tail := makeBars(10, tf, bars[9].TsClose+5*tf.DurationMs)
	bars = append(bars, tail...)

	calls := 0
	input := &BuildInput{
		ExecRole:      barfeed.RoleLow,
		WindowStartMs: bars[0].TsOpen,
		WindowEndMs:   bars[len(bars)-1].TsClose,
		TFs: []TFInput{
			{TF: tf, Bars: bars},
		},
		AutoFix: func(tf barfeed.Timeframe, gapStart, gapEnd int64) ([]barfeed.Bar, error) {
			calls++
			var filled []barfeed.Bar
			for ts := gapStart; ts < gapEnd; ts += tf.DurationMs {
				filled = append(filled, barfeed.Bar{TsOpen: ts, TsClose: ts + tf.DurationMs, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1})
			}
			return filled, nil
		},
	}

	reg := registry.NewDefault()
	report, err := Preflight(input, reg)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, report.Gaps, 1)
	assert.True(t, report.Gaps[0].AutoFixed)
}
