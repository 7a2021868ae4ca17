package incstate

import (
	"math"

	"github.com/quantforge/backtestcore/internal/barfeed"
)

var fibRatios = []float64{0.236, 0.382, 0.5, 0.618, 0.786, 1.272, 1.618}
var fibNames = []string{"level_0236", "level_0382", "level_0500", "level_0618", "level_0786", "level_1272", "level_1618"}

// Fibonacci anchors retracement/extension levels to the most recently
// confirmed Swing pivot pair (spec §3). Levels are recomputed only when
// the Swing's PairVersion bumps — never on intermediate bars — so a
// level's price is stable between pivot confirmations.
type Fibonacci struct {
	swingKey string
	swing    *Swing

	lastPairVersion int
	dir             int
	levels          []float64 // parallel to fibRatios
	lastClose       float64
}

// NewFibonacci builds a Fibonacci detector anchored to swingKey's pivot
// pair.
func NewFibonacci(swingKey string) *Fibonacci {
	return &Fibonacci{swingKey: swingKey, levels: make([]float64, len(fibRatios))}
}

func (f *Fibonacci) Wire(deps map[string]Detector) {
	if d, ok := deps[f.swingKey]; ok {
		f.swing = d.(*Swing)
	}
}

func (f *Fibonacci) Update(bar barfeed.Bar) {
	f.lastClose = bar.Close
	if f.swing == nil || f.swing.HighIdx < 0 || f.swing.LowIdx < 0 {
		return
	}
	if f.swing.PairVersion == f.lastPairVersion {
		return
	}
	f.lastPairVersion = f.swing.PairVersion
	f.dir = f.swing.PairDir
	high, low := f.swing.HighLevel, f.swing.LowLevel
	span := high - low
	for i, r := range fibRatios {
		if f.dir >= 0 {
			// up-move confirmed (low -> high): retracements measured down from the high
			f.levels[i] = high - r*span
		} else {
			// down-move confirmed (high -> low): retracements measured up from the low
			f.levels[i] = low + r*span
		}
	}
}

func (f *Fibonacci) Value(field string) (Value, bool) {
	for i, name := range fibNames {
		if field == name {
			return FloatValue(f.levels[i]), true
		}
	}
	switch field {
	case "direction":
		return IntValue(f.dir), true
	case "nearest_level_price":
		return FloatValue(f.nearestLevel()), true
	default:
		return Value{}, false
	}
}

func (f *Fibonacci) nearestLevel() float64 {
	best := math.NaN()
	bestDist := math.Inf(1)
	for _, lvl := range f.levels {
		d := math.Abs(lvl - f.lastClose)
		if d < bestDist {
			bestDist = d
			best = lvl
		}
	}
	return best
}

func (f *Fibonacci) OutputKeys() []string {
	keys := append([]string(nil), fibNames...)
	return append(keys, "direction", "nearest_level_price")
}

func (f *Fibonacci) DependsOn() []string { return []string{f.swingKey} }

func (f *Fibonacci) Reset() {
	f.lastPairVersion, f.dir, f.lastClose = 0, 0, 0
	for i := range f.levels {
		f.levels[i] = 0
	}
}

type fibonacciState struct {
	LastPairVersion int
	Dir             int
	Levels          []float64
	LastClose       float64
}

func (f *Fibonacci) Snapshot() any {
	return fibonacciState{
		LastPairVersion: f.lastPairVersion,
		Dir:             f.dir,
		Levels:          append([]float64(nil), f.levels...),
		LastClose:       f.lastClose,
	}
}

func (f *Fibonacci) Restore(state any) {
	s := state.(fibonacciState)
	f.lastPairVersion, f.dir, f.lastClose = s.LastPairVersion, s.Dir, s.LastClose
	copy(f.levels, s.Levels)
}
