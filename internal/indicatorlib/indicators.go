// Package indicatorlib implements the vectorised, batch technical
// indicators the Data Frame Builder runs once off the hot loop (spec
// §4.1). Every function accepts and returns dense, input-aligned
// []float64 arrays; unavailable lookbacks emit NaN, exactly like the
// teacher's SMA/RSI/ZScore (chidi150c-coinbase/indicators.go).
//
// These are pure functions: no state, no clocks, safe to call in any
// order. Indicators that must observe incremental structure (anchored
// VWAP) are NOT here — see internal/incstate — the Builder contract
// requires their batch output to be NaN placeholders (spec §4.1, §9).
package indicatorlib

import "math"

// SMA returns the n-period simple moving average, aligned to close.
func SMA(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i := range close {
		sum += close[i]
		if i >= n {
			sum -= close[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA returns the n-period exponential moving average. Seeded with the
// first n-period SMA, as is conventional; indices before the seed are NaN.
func EMA(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / (float64(n) + 1.0)
	sma := SMA(close, n)
	var prev float64
	seeded := false
	for i := range close {
		if !seeded {
			if i >= n-1 && !math.IsNaN(sma[i]) {
				prev = sma[i]
				out[i] = prev
				seeded = true
			} else {
				out[i] = math.NaN()
			}
			continue
		}
		prev = (close[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// RSI returns the n-period Relative Strength Index using Wilder's
// smoothing (mirrors chidi150c-coinbase/indicators.go:RSI exactly, just
// operating on a bare close array rather than []Candle).
func RSI(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	out[0] = math.NaN()
	var gain, loss float64
	for i := 1; i < len(close); i++ {
		d := close[i] - close[i-1]
		if i <= n {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				avgGain := gain / float64(n)
				avgLoss := loss / float64(n)
				rs := 0.0
				if avgLoss != 0 {
					rs = avgGain / avgLoss
				}
				out[i] = 100.0 - (100.0 / (1.0 + rs))
			} else {
				out[i] = math.NaN()
			}
		} else {
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss * float64(n-1)) / float64(n)
			} else {
				gain = (gain * float64(n-1)) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			rs := 0.0
			if loss != 0 {
				rs = gain / loss
			}
			out[i] = 100.0 - (100.0 / (1.0 + rs))
		}
	}
	return out
}

// ZScore returns the rolling z-score of close over window n (mirrors
// chidi150c-coinbase/indicators.go:ZScore).
func ZScore(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 1 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum, sumSq float64
	for i := range close {
		x := close[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := close[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := (sumSq / float64(n)) - (mean * mean)
			std := math.Sqrt(math.Max(variance, 1e-12))
			out[i] = (x - mean) / std
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// StdDev returns the rolling (population) standard deviation of close
// over window n. NaN before the window fills.
func StdDev(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 1 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum, sumSq float64
	for i := range close {
		x := close[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := close[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := math.Max((sumSq/float64(n))-(mean*mean), 0)
			out[i] = math.Sqrt(variance)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ATR returns the n-period Average True Range (Wilder's smoothing) from
// high/low/close arrays.
func ATR(high, low, close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	tr := make([]float64, len(close))
	for i := range close {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	var sum, avg float64
	seeded := false
	for i := range close {
		if !seeded {
			sum += tr[i]
			if i == n-1 {
				avg = sum / float64(n)
				out[i] = avg
				seeded = true
			} else {
				out[i] = math.NaN()
			}
			continue
		}
		avg = (avg*float64(n-1) + tr[i]) / float64(n)
		out[i] = avg
	}
	return out
}

// SessionAnchor selects the boundary at which VWAP's cumulative
// numerator/denominator reset. ISO Monday resolves the open question in
// spec §9 (weekly anchor is ISO Monday, not epoch-aligned Thursday).
type SessionAnchor int

const (
	AnchorNone SessionAnchor = iota
	AnchorDaily
	AnchorWeeklyISO
)

const dayMs = 86_400_000
const weekMs = 7 * dayMs

// isoMondayStartMs floors tsOpenMs to 00:00 UTC of its ISO Monday. Unix
// epoch (1970-01-01) was a Thursday, so Monday 00:00 UTC boundaries are at
// epoch - 3 days, then every 7 days.
func isoMondayStartMs(tsOpenMs int64) int64 {
	const epochThursdayOffsetMs = 3 * dayMs
	shifted := tsOpenMs + epochThursdayOffsetMs
	weekIdx := shifted / weekMs
	if shifted%weekMs < 0 {
		weekIdx--
	}
	return weekIdx*weekMs - epochThursdayOffsetMs
}

// SessionBoundary returns the session-start ms for tsOpenMs under anchor,
// exported so incremental detectors (internal/incstate) can locate session
// resets without duplicating the boundary arithmetic.
func SessionBoundary(tsOpenMs int64, anchor SessionAnchor) int64 {
	switch anchor {
	case AnchorDaily:
		return dayStartMs(tsOpenMs)
	case AnchorWeeklyISO:
		return isoMondayStartMs(tsOpenMs)
	default:
		return 0
	}
}

func dayStartMs(tsOpenMs int64) int64 {
	d := tsOpenMs / dayMs
	if tsOpenMs%dayMs < 0 {
		d--
	}
	return d * dayMs
}

// VWAP returns the session Volume-Weighted Average Price. tsOpen supplies
// each bar's open timestamp so session boundaries can be located (spec
// §4.1: "indicators dependent on session boundaries receive ts_open arrays
// explicitly"). Volume==0 bars leave VWAP unchanged rather than producing
// NaN (spec §8 boundary case).
func VWAP(tsOpen []int64, high, low, close, volume []float64, anchor SessionAnchor) []float64 {
	out := make([]float64, len(close))
	var cumPV, cumV float64
	var sessionStart int64 = math.MinInt64
	for i := range close {
		var boundary int64
		switch anchor {
		case AnchorDaily:
			boundary = dayStartMs(tsOpen[i])
		case AnchorWeeklyISO:
			boundary = isoMondayStartMs(tsOpen[i])
		default:
			boundary = 0
		}
		if anchor != AnchorNone && boundary != sessionStart {
			sessionStart = boundary
			cumPV, cumV = 0, 0
		}
		typical := (high[i] + low[i] + close[i]) / 3.0
		if volume[i] > 0 {
			cumPV += typical * volume[i]
			cumV += volume[i]
		}
		if cumV > 0 {
			out[i] = cumPV / cumV
		} else if i > 0 {
			out[i] = out[i-1]
		} else {
			out[i] = typical
		}
	}
	return out
}

// MACD returns the MACD line, its signal line (EMA of the MACD line), and
// the histogram (macd - signal). Multi-output indicators expand to one
// array per sub-output at the Builder layer (spec §4.1).
func MACD(close []float64, fast, slow, signal int) (macdLine, signalLine, histogram []float64) {
	emaFast := EMA(close, fast)
	emaSlow := EMA(close, slow)
	macdLine = make([]float64, len(close))
	for i := range close {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			macdLine[i] = math.NaN()
		} else {
			macdLine[i] = emaFast[i] - emaSlow[i]
		}
	}
	signalLine = emaOfMaybeNaN(macdLine, signal)
	histogram = make([]float64, len(close))
	for i := range close {
		if math.IsNaN(macdLine[i]) || math.IsNaN(signalLine[i]) {
			histogram[i] = math.NaN()
		} else {
			histogram[i] = macdLine[i] - signalLine[i]
		}
	}
	return macdLine, signalLine, histogram
}

// emaOfMaybeNaN runs EMA over a series that may have a leading NaN run
// (as MACD's line does), seeding only once real values begin.
func emaOfMaybeNaN(series []float64, n int) []float64 {
	out := make([]float64, len(series))
	k := 2.0 / (float64(n) + 1.0)
	start := -1
	for i, v := range series {
		if !math.IsNaN(v) {
			start = i
			break
		}
	}
	if start == -1 || n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i := 0; i < start; i++ {
		out[i] = math.NaN()
	}
	// seed with SMA of the first n real values
	var sum float64
	seedEnd := start + n - 1
	for i := start; i <= seedEnd && i < len(series); i++ {
		sum += series[i]
		out[i] = math.NaN()
	}
	if seedEnd >= len(series) {
		return out
	}
	prev := sum / float64(n)
	out[seedEnd] = prev
	for i := seedEnd + 1; i < len(series); i++ {
		prev = (series[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// OBV returns On-Balance Volume: cumulative volume signed by the direction
// of the close-to-close move.
func OBV(close, volume []float64) []float64 {
	out := make([]float64, len(close))
	var cum float64
	for i := range close {
		if i == 0 {
			out[i] = cum
			continue
		}
		switch {
		case close[i] > close[i-1]:
			cum += volume[i]
		case close[i] < close[i-1]:
			cum -= volume[i]
		}
		out[i] = cum
	}
	return out
}

// Fisher returns the Fisher Transform of the rolling-normalised
// high/low midpoint over window n, which sharpens turning points for the
// market-structure layer built on top (spec §3 "Incremental Indicators").
func Fisher(high, low []float64, n int) []float64 {
	out := make([]float64, len(high))
	if n <= 1 || len(high) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	mid := make([]float64, len(high))
	for i := range high {
		mid[i] = (high[i] + low[i]) / 2.0
	}
	var prevValue, prevFish float64
	for i := range mid {
		if i < n-1 {
			out[i] = math.NaN()
			continue
		}
		lo, hi := mid[i], mid[i]
		for j := i - n + 1; j <= i; j++ {
			if mid[j] < lo {
				lo = mid[j]
			}
			if mid[j] > hi {
				hi = mid[j]
			}
		}
		var raw float64
		if hi != lo {
			raw = 2.0*((mid[i]-lo)/(hi-lo)-0.5)
		}
		value := 0.33*2.0*clamp(raw, -0.999, 0.999) + 0.67*prevValue
		value = clamp(value, -0.999, 0.999)
		fish := 0.5*math.Log((1+value)/(1-value)) + 0.5*prevFish
		out[i] = fish
		prevValue = value
		prevFish = fish
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
