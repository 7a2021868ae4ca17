package incstate

import (
	"sort"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/errs"
)

// wireable is implemented by detectors that reference another detector by
// key (Trend, Zone, DerivedZone, Fibonacci, AnchoredVWAP). TFIncrementalState
// calls Wire once, after topological order is known, handing each detector
// its resolved dependency by pointer — never a string lookup in the hot
// loop (spec §9's feature-resolution redesign applies equally here).
type wireable interface {
	Wire(deps map[string]Detector)
}

// TFIncrementalState owns every detector registered for one timeframe and
// maintains them in dependency order (spec §4.2). Construction resolves
// the dependency DAG once; Update never consults DependsOn again.
type TFIncrementalState struct {
	tf    barfeed.Timeframe
	order []Registered
	byKey map[string]Detector
}

// NewTFIncrementalState topologically sorts detectors by DependsOn and
// wires cross-references, returning an INVALID_PLAY error for an unknown
// dependency key or a dependency cycle.
func NewTFIncrementalState(tf barfeed.Timeframe, detectors []Registered) (*TFIncrementalState, error) {
	byKey := make(map[string]Detector, len(detectors))
	for _, r := range detectors {
		if _, dup := byKey[r.Key]; dup {
			return nil, errs.New(errs.InvalidPlay, "duplicate detector key %q in tf %s", r.Key, tf.Name)
		}
		byKey[r.Key] = r.Detector
	}
	for _, r := range detectors {
		for _, dep := range r.Detector.DependsOn() {
			if _, ok := byKey[dep]; !ok {
				return nil, errs.New(errs.InvalidPlay, "detector %q depends on unknown key %q in tf %s", r.Key, dep, tf.Name).
					WithFixHint("register a detector under key %q before %q", dep, r.Key)
			}
		}
	}

	order, err := topoSort(detectors)
	if err != nil {
		return nil, err
	}

	for _, r := range order {
		if w, ok := r.Detector.(wireable); ok {
			w.Wire(byKey)
		}
	}

	return &TFIncrementalState{tf: tf, order: order, byKey: byKey}, nil
}

// topoSort runs Kahn's algorithm over the DependsOn graph, iterating keys
// in a stable (sorted) order at each step so construction is deterministic
// across runs given the same detector set (spec §5 determinism).
func topoSort(detectors []Registered) ([]Registered, error) {
	byKey := make(map[string]Registered, len(detectors))
	indegree := make(map[string]int, len(detectors))
	dependents := make(map[string][]string)
	for _, r := range detectors {
		byKey[r.Key] = r
		if _, ok := indegree[r.Key]; !ok {
			indegree[r.Key] = 0
		}
	}
	for _, r := range detectors {
		for _, dep := range r.Detector.DependsOn() {
			indegree[r.Key]++
			dependents[dep] = append(dependents[dep], r.Key)
		}
	}

	var ready []string
	for k, d := range indegree {
		if d == 0 {
			ready = append(ready, k)
		}
	}
	sort.Strings(ready)

	out := make([]Registered, 0, len(detectors))
	for len(ready) > 0 {
		sort.Strings(ready)
		k := ready[0]
		ready = ready[1:]
		out = append(out, byKey[k])
		for _, dep := range dependents[k] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(detectors) {
		return nil, errs.New(errs.InvalidPlay, "detector dependency cycle detected among %d unresolved keys", len(detectors)-len(out)).
			WithFixHint("remove the circular DependsOn reference between the affected detectors")
	}
	return out, nil
}

// Update advances every detector by exactly one closed bar, in
// dependency-resolved order.
func (s *TFIncrementalState) Update(bar barfeed.Bar) {
	for _, r := range s.order {
		r.Detector.Update(bar)
	}
}

// Value resolves key.field against the detector registered under key.
func (s *TFIncrementalState) Value(key, field string) (Value, bool) {
	d, ok := s.byKey[key]
	if !ok {
		return Value{}, false
	}
	return d.Value(field)
}

func (s *TFIncrementalState) Keys() []string {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset returns every owned detector to its zero state (spec §8 round-trip
// law, applied per timeframe).
func (s *TFIncrementalState) Reset() {
	for _, r := range s.order {
		r.Detector.Reset()
	}
}

// Snapshot captures every detector's state, keyed by its registration key.
func (s *TFIncrementalState) Snapshot() map[string]any {
	out := make(map[string]any, len(s.order))
	for _, r := range s.order {
		out[r.Key] = r.Detector.Snapshot()
	}
	return out
}

// Restore replays a Snapshot produced by this same TFIncrementalState
// shape (same keys, same detector types).
func (s *TFIncrementalState) Restore(state map[string]any) {
	for _, r := range s.order {
		if st, ok := state[r.Key]; ok {
			r.Detector.Restore(st)
		}
	}
}
