package indicatorlib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMAandEMAAlignment(t *testing.T) {
	close := []float64{1, 2, 3, 4, 5, 6, 7}
	sma := SMA(close, 3)
	assert.True(t, math.IsNaN(sma[0]))
	assert.True(t, math.IsNaN(sma[1]))
	assert.InDelta(t, 2.0, sma[2], 1e-9)
	assert.InDelta(t, 6.0, sma[6], 1e-9)

	ema := EMA(close, 3)
	assert.True(t, math.IsNaN(ema[1]))
	assert.InDelta(t, sma[2], ema[2], 1e-9)
	assert.False(t, math.IsNaN(ema[6]))
}

func TestRSIBoundaryBehavior(t *testing.T) {
	close := []float64{100, 101, 102, 101, 100, 99, 98, 99, 100, 102}
	rsi := RSI(close, 3)
	assert.True(t, math.IsNaN(rsi[0]))
	for i := 1; i <= 2; i++ {
		assert.True(t, math.IsNaN(rsi[i]))
	}
	assert.False(t, math.IsNaN(rsi[3]))
	assert.GreaterOrEqual(t, rsi[3], 0.0)
	assert.LessOrEqual(t, rsi[3], 100.0)
}

func TestVWAPZeroVolumeUnchanged(t *testing.T) {
	tsOpen := []int64{0, 60_000, 120_000}
	high := []float64{10, 10, 10}
	low := []float64{10, 10, 10}
	close := []float64{10, 10, 10}
	volume := []float64{5, 0, 5}

	v := VWAP(tsOpen, high, low, close, volume, AnchorNone)
	assert.False(t, math.IsNaN(v[1]), "zero-volume bar must not produce NaN")
	assert.Equal(t, v[0], v[1], "zero-volume bar must not change VWAP")
}

func TestVWAPWeeklyISOReset(t *testing.T) {
	// 1970-01-05 00:00 UTC is the first ISO Monday after epoch.
	mondayMs := int64(4) * dayMs
	tsOpen := []int64{mondayMs - 60_000, mondayMs, mondayMs + 60_000}
	high := []float64{10, 20, 20}
	low := []float64{10, 20, 20}
	close := []float64{10, 20, 20}
	volume := []float64{1, 1, 1}

	v := VWAP(tsOpen, high, low, close, volume, AnchorWeeklyISO)
	assert.InDelta(t, 10.0, v[0], 1e-9)
	assert.InDelta(t, 20.0, v[1], 1e-9, "session must reset exactly at ISO Monday boundary")
}

func TestATRAndMACDandOBV(t *testing.T) {
	high := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13}
	low := []float64{9, 10, 11, 10, 9, 8, 9, 10, 11, 12}
	close := []float64{9.5, 10.5, 11.5, 10.5, 9.5, 8.5, 9.5, 10.5, 11.5, 12.5}
	volume := []float64{1, 2, 1, 2, 1, 2, 1, 2, 1, 2}

	atr := ATR(high, low, close, 3)
	assert.True(t, math.IsNaN(atr[1]))
	assert.False(t, math.IsNaN(atr[2]))

	macd, signal, hist := MACD(close, 2, 4, 2)
	assert.Len(t, macd, len(close))
	assert.Len(t, signal, len(close))
	assert.Len(t, hist, len(close))

	obv := OBV(close, volume)
	assert.Equal(t, 0.0, obv[0])
	assert.Greater(t, obv[1], 0.0)
}

func TestFisherBounded(t *testing.T) {
	high := []float64{10, 11, 12, 13, 12, 11, 10, 9, 10, 11}
	low := []float64{9, 10, 11, 12, 11, 10, 9, 8, 9, 10}
	f := Fisher(high, low, 4)
	for i := 4; i < len(f); i++ {
		assert.False(t, math.IsNaN(f[i]))
	}
}
