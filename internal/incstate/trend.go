package incstate

import "github.com/quantforge/backtestcore/internal/barfeed"

// Trend derives direction, strength, and bars_in_trend from a Swing (spec
// §3). Direction flips to +1/-1 when price closes beyond the swing's
// opposite-side level (a higher high confirms an uptrend continuation; a
// close below the last confirmed low flips it bearish), and strength is
// the normalised distance from the swing midpoint.
type Trend struct {
	swingKey string
	swing    *Swing // resolved by TFIncrementalState at construction

	Direction   int
	Strength    float64
	BarsInTrend int
}

// NewTrend builds a Trend bound to the Swing registered under swingKey.
// The Swing pointer itself is wired by TFIncrementalState.Wire once both
// detectors are registered (spec §4.2 dependency resolution).
func NewTrend(swingKey string) *Trend {
	return &Trend{swingKey: swingKey}
}

// Wire satisfies the dependency-injection contract TFIncrementalState
// uses after topo-sorting: it hands this detector its resolved
// dependencies by key.
func (t *Trend) Wire(deps map[string]Detector) {
	if d, ok := deps[t.swingKey]; ok {
		t.swing = d.(*Swing)
	}
}

func (t *Trend) Update(bar barfeed.Bar) {
	if t.swing == nil || (t.swing.HighIdx < 0 && t.swing.LowIdx < 0) {
		return
	}
	prevDir := t.Direction
	switch {
	case t.swing.HighIdx >= 0 && bar.Close > t.swing.HighLevel:
		t.Direction = 1
	case t.swing.LowIdx >= 0 && bar.Close < t.swing.LowLevel:
		t.Direction = -1
	}
	if t.swing.HighIdx >= 0 && t.swing.LowIdx >= 0 {
		mid := (t.swing.HighLevel + t.swing.LowLevel) / 2
		span := t.swing.HighLevel - t.swing.LowLevel
		if span > 0 {
			t.Strength = (bar.Close - mid) / (span / 2)
		}
	}
	if t.Direction == prevDir {
		t.BarsInTrend++
	} else {
		t.BarsInTrend = 0
	}
}

func (t *Trend) Value(field string) (Value, bool) {
	switch field {
	case "direction":
		return IntValue(t.Direction), true
	case "strength":
		return FloatValue(t.Strength), true
	case "bars_in_trend":
		return IntValue(t.BarsInTrend), true
	default:
		return Value{}, false
	}
}

func (t *Trend) OutputKeys() []string   { return []string{"direction", "strength", "bars_in_trend"} }
func (t *Trend) DependsOn() []string    { return []string{t.swingKey} }

func (t *Trend) Reset() {
	t.Direction, t.Strength, t.BarsInTrend = 0, 0, 0
}

type trendState struct {
	Direction   int
	Strength    float64
	BarsInTrend int
}

func (t *Trend) Snapshot() any {
	return trendState{Direction: t.Direction, Strength: t.Strength, BarsInTrend: t.BarsInTrend}
}

func (t *Trend) Restore(state any) {
	s := state.(trendState)
	t.Direction, t.Strength, t.BarsInTrend = s.Direction, s.Strength, s.BarsInTrend
}
