// Package incstate implements spec §4.2: stateful, bar-by-bar-maintained
// detectors (swings, trends, zones, fibonacci, rolling windows, and the
// incremental indicators that depend on structure) organised per timeframe
// with a dependency DAG, updated in topological order.
//
// Every detector in this package satisfies the redesign notes in spec §9:
// no back-pointers (detectors reference dependencies by key through the
// owning TFIncrementalState, resolved once at construction), no global
// clocks or randomness, and fixed-capacity ring buffers rather than
// unbounded deques.
package incstate

import "github.com/quantforge/backtestcore/internal/barfeed"

// Kind tags the dynamic type carried in a Value.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindEnum
)

// Value is the tagged union a detector's fields resolve to (spec §3:
// "get_value(field) -> float|int|enum").
type Value struct {
	Kind Kind
	Num  float64 // used for Float, Int (truncated), and Bool (0/1)
	Str  string  // used for Enum
}

func FloatValue(f float64) Value { return Value{Kind: KindFloat, Num: f} }
func IntValue(i int) Value       { return Value{Kind: KindInt, Num: float64(i)} }
func BoolValue(b bool) Value {
	if b {
		return Value{Kind: KindBool, Num: 1}
	}
	return Value{Kind: KindBool, Num: 0}
}
func EnumValue(s string) Value { return Value{Kind: KindEnum, Str: s} }

// AsFloat coerces any numeric-kind Value to float64. Enum values return
// (0, false).
func (v Value) AsFloat() (float64, bool) {
	if v.Kind == KindEnum {
		return 0, false
	}
	return v.Num, true
}

// Detector is a stateful object maintained bar-by-bar, per spec §3.
//
// Update MUST be called at most once per TF-bar close and only with bars
// in strictly increasing ts order; a Detector never reads bar[i+1] or any
// future cell (spec §4.2 invariant).
type Detector interface {
	// Update advances the detector by exactly one closed bar.
	Update(bar barfeed.Bar)

	// Value resolves one output field. ok is false for an undeclared
	// field name (a builder/wiring bug, not a runtime condition).
	Value(field string) (Value, bool)

	// OutputKeys lists every field Value can resolve.
	OutputKeys() []string

	// DependsOn lists the same-TF detector keys this detector reads
	// during Update, used to compute topological update order.
	DependsOn() []string

	// Reset returns the detector to its zero state. A detector reset
	// then fed the same bars from scratch must behave indistinguishably
	// from a fresh detector (spec §8 round-trip law).
	Reset()

	// Snapshot/Restore support checkpointed replay (spec §4.2: "a
	// contract, not an optimisation").
	Snapshot() any
	Restore(state any)
}

// Registered is an entry in a TFIncrementalState: the detector plus the
// key it was declared under.
type Registered struct {
	Key      string
	Detector Detector
}
