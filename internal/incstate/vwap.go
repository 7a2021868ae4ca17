package incstate

import (
	"math"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/indicatorlib"
)

// IncVWAP is the streaming session VWAP (spec §3, §4.1). Resets its
// cumulative numerator/denominator whenever bar.TsOpen crosses a session
// boundary under anchor — the same boundary arithmetic indicatorlib.VWAP
// uses in batch, shared via indicatorlib.SessionBoundary so the two never
// drift apart.
type IncVWAP struct {
	anchor       indicatorlib.SessionAnchor
	sessionStart int64
	started      bool
	cumPV, cumV  float64
	value        float64
}

func NewIncVWAP(anchor indicatorlib.SessionAnchor) *IncVWAP {
	return &IncVWAP{anchor: anchor, sessionStart: math.MinInt64}
}

func (w *IncVWAP) Update(bar barfeed.Bar) {
	boundary := indicatorlib.SessionBoundary(bar.TsOpen, w.anchor)
	if w.anchor != indicatorlib.AnchorNone && (!w.started || boundary != w.sessionStart) {
		w.sessionStart = boundary
		w.cumPV, w.cumV = 0, 0
	}
	w.started = true
	typical := (bar.High + bar.Low + bar.Close) / 3.0
	if bar.Volume > 0 {
		w.cumPV += typical * bar.Volume
		w.cumV += bar.Volume
	}
	switch {
	case w.cumV > 0:
		w.value = w.cumPV / w.cumV
	case w.value == 0:
		w.value = typical
	}
}

func (w *IncVWAP) Value(field string) (Value, bool) {
	if field != "value" {
		return Value{}, false
	}
	return FloatValue(w.value), true
}

func (w *IncVWAP) OutputKeys() []string { return []string{"value"} }
func (w *IncVWAP) DependsOn() []string  { return nil }

func (w *IncVWAP) Reset() {
	w.sessionStart = math.MinInt64
	w.started = false
	w.cumPV, w.cumV, w.value = 0, 0, 0
}

type incVWAPState struct {
	SessionStart int64
	Started      bool
	CumPV, CumV  float64
	Value        float64
}

func (w *IncVWAP) Snapshot() any {
	return incVWAPState{w.sessionStart, w.started, w.cumPV, w.cumV, w.value}
}

func (w *IncVWAP) Restore(state any) {
	s := state.(incVWAPState)
	w.sessionStart, w.started, w.cumPV, w.cumV, w.value = s.SessionStart, s.Started, s.CumPV, s.CumV, s.Value
}

// AnchoredVWAP is VWAP re-anchored at the bar a tracked Swing leg's version
// last bumped (spec §4.1: batch output must be a NaN placeholder; this is
// the only legitimate implementation, built incrementally and reset on
// each new confirmed pivot). onHigh selects which Swing leg triggers
// re-anchoring.
type AnchoredVWAP struct {
	swingKey        string
	swing           *Swing
	onHigh          bool
	lastVersion     int
	cumPV, cumV     float64
	value           float64
	barsSinceAnchor int
	anchored        bool
}

// NewAnchoredVWAP builds an AnchoredVWAP keyed to swingKey's high or low
// leg version.
func NewAnchoredVWAP(swingKey string, onHigh bool) *AnchoredVWAP {
	return &AnchoredVWAP{swingKey: swingKey, onHigh: onHigh, lastVersion: -1}
}

func (a *AnchoredVWAP) Wire(deps map[string]Detector) {
	if d, ok := deps[a.swingKey]; ok {
		a.swing = d.(*Swing)
	}
}

func (a *AnchoredVWAP) currentVersion() (int, bool) {
	if a.swing == nil {
		return 0, false
	}
	if a.onHigh {
		if a.swing.HighIdx < 0 {
			return 0, false
		}
		return a.swing.HighVersion, true
	}
	if a.swing.LowIdx < 0 {
		return 0, false
	}
	return a.swing.LowVersion, true
}

func (a *AnchoredVWAP) Update(bar barfeed.Bar) {
	if version, ok := a.currentVersion(); ok && version != a.lastVersion {
		a.lastVersion = version
		a.cumPV, a.cumV = 0, 0
		a.barsSinceAnchor = 0
		a.anchored = true
	}
	if !a.anchored {
		a.value = math.NaN()
		return
	}
	typical := (bar.High + bar.Low + bar.Close) / 3.0
	if bar.Volume > 0 {
		a.cumPV += typical * bar.Volume
		a.cumV += bar.Volume
	}
	if a.cumV > 0 {
		a.value = a.cumPV / a.cumV
	} else {
		a.value = typical
	}
	a.barsSinceAnchor++
}

func (a *AnchoredVWAP) Value(field string) (Value, bool) {
	switch field {
	case "value":
		return FloatValue(a.value), true
	case "bars_since_anchor":
		return IntValue(a.barsSinceAnchor), true
	default:
		return Value{}, false
	}
}

func (a *AnchoredVWAP) OutputKeys() []string { return []string{"value", "bars_since_anchor"} }
func (a *AnchoredVWAP) DependsOn() []string  { return []string{a.swingKey} }

func (a *AnchoredVWAP) Reset() {
	a.lastVersion = -1
	a.cumPV, a.cumV, a.value = 0, 0, math.NaN()
	a.barsSinceAnchor = 0
	a.anchored = false
}

type anchoredVWAPState struct {
	LastVersion     int
	CumPV, CumV     float64
	Value           float64
	BarsSinceAnchor int
	Anchored        bool
}

func (a *AnchoredVWAP) Snapshot() any {
	return anchoredVWAPState{a.lastVersion, a.cumPV, a.cumV, a.value, a.barsSinceAnchor, a.anchored}
}

func (a *AnchoredVWAP) Restore(state any) {
	s := state.(anchoredVWAPState)
	a.lastVersion, a.cumPV, a.cumV = s.LastVersion, s.CumPV, s.CumV
	a.value, a.barsSinceAnchor, a.anchored = s.Value, s.BarsSinceAnchor, s.Anchored
}
