package incstate

import "github.com/quantforge/backtestcore/internal/barfeed"

// MultiTFIncrementalState owns one TFIncrementalState per Role and
// enforces the forward-fill rule structurally: Advance only calls a
// role's Update when that role's FeedStore reports a bar closing exactly
// at the given exec-TF timestamp (spec §4.2, §9 "no partial/unconfirmed
// bars feed a detector"). Between closes, a role's detector state simply
// does not change, which is forward-fill by construction — there is no
// separate carry-forward step.
type MultiTFIncrementalState struct {
	feeds  *barfeed.MultiTFFeedStore
	states map[barfeed.Role]*TFIncrementalState
}

// NewMultiTFIncrementalState wraps feeds with one state container per
// already-constructed TFIncrementalState in states.
func NewMultiTFIncrementalState(feeds *barfeed.MultiTFFeedStore, states map[barfeed.Role]*TFIncrementalState) *MultiTFIncrementalState {
	return &MultiTFIncrementalState{feeds: feeds, states: states}
}

// Advance is called once per exec-TF bar close at ts. For every role whose
// FeedStore reports a bar closing at ts, that role's detectors are
// updated with the closed bar; all other roles are left untouched.
func (m *MultiTFIncrementalState) Advance(ts int64) {
	for role, st := range m.states {
		idx, ok := m.feeds.ClosesAt(role, ts)
		if !ok {
			continue
		}
		bar := m.feeds.Stores[role].Bar(idx)
		st.Update(bar)
	}
}

// State returns the TFIncrementalState for role, or nil if unregistered.
func (m *MultiTFIncrementalState) State(role barfeed.Role) *TFIncrementalState {
	return m.states[role]
}

// Value resolves role.key.field, the fully-qualified form the snapshot
// layer's structure.* namespace addresses (spec §4.3).
func (m *MultiTFIncrementalState) Value(role barfeed.Role, key, field string) (Value, bool) {
	st, ok := m.states[role]
	if !ok {
		return Value{}, false
	}
	return st.Value(key, field)
}

// Reset returns every role's detectors to their zero state.
func (m *MultiTFIncrementalState) Reset() {
	for _, st := range m.states {
		st.Reset()
	}
}

// Snapshot captures every role's detector state, keyed by role.
func (m *MultiTFIncrementalState) Snapshot() map[barfeed.Role]map[string]any {
	out := make(map[barfeed.Role]map[string]any, len(m.states))
	for role, st := range m.states {
		out[role] = st.Snapshot()
	}
	return out
}

// Restore replays a Snapshot produced by this same role/key shape.
func (m *MultiTFIncrementalState) Restore(state map[barfeed.Role]map[string]any) {
	for role, st := range m.states {
		if s, ok := state[role]; ok {
			st.Restore(s)
		}
	}
}
