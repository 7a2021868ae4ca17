// Package snapshot implements the read-only Snapshot View of spec §4.3:
// an O(1)-construction value over Feed Stores + incremental state at a
// given exec-bar index, exposing namespaced price.*/indicator.*/
// structure.* accessors with offset lookback and a hard no-lookahead
// enforcement.
package snapshot

import (
	"math"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/incstate"
	"github.com/quantforge/backtestcore/internal/registry"
)

// Position is the minimal open-position view the snapshot exposes to
// rules (spec §4.3 built-ins); the exchange package owns the full record.
type Position struct {
	Open           bool
	Side           string // "long" | "short"
	SizeUSDT       float64
	AvgEntry       float64
	UnrealizedPnL  float64
}

// PendingOrders reports queued-but-unfilled entries/exits (spec §4.3
// "pending_order_count").
type PendingOrders struct {
	Count int
}

// View is the Snapshot View. Construction is O(1): it only stores
// references plus the current per-TF context indices, never copies
// arrays (spec §4.3 "no copying, no heap allocation per bar").
type View struct {
	feeds    *barfeed.MultiTFFeedStore
	incr     *incstate.MultiTFIncrementalState
	features *registry.FeatureTable

	execIdx int
	ctxIdx  map[barfeed.Role]int // each TF's current (last-closed-at-or-before-exec) index

	Position Position
	Pending  PendingOrders
}

// New builds a View at execIdx on the exec TF. ctxIdx supplies, for every
// other declared role, the index of that role's most recently closed bar
// at or before the exec bar's ts_close (the engine computes this once per
// exec bar via MultiTFFeedStore.ClosesAt tracking, spec §4.2).
func New(feeds *barfeed.MultiTFFeedStore, incr *incstate.MultiTFIncrementalState, features *registry.FeatureTable, execIdx int, ctxIdx map[barfeed.Role]int) *View {
	return &View{feeds: feeds, incr: incr, features: features, execIdx: execIdx, ctxIdx: ctxIdx}
}

// resolveIdx returns the array index for role at offset bars back from
// that role's current context index, and whether the read is in bounds
// (spec §4.3: "the view MUST enforce tf.ctx_index − k ≥ 0, otherwise the
// read returns missing").
func (v *View) resolveIdx(role barfeed.Role, offset int) (int, bool) {
	ctx, ok := v.ctxIdx[role]
	if !ok {
		return 0, false
	}
	idx := ctx - offset
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

func (v *View) execRole() barfeed.Role { return v.feeds.ExecRole }

// roleOrExec defaults an empty role argument to the exec TF (spec §4.3
// "tf?" optional-timeframe convention).
func (v *View) roleOrExec(tf barfeed.Role) barfeed.Role {
	if tf == "" {
		return v.execRole()
	}
	return tf
}

// Price reads one OHLCV field on tf (defaulting to exec) at offset bars
// back. field is one of open/high/low/close/volume/mark_price.
func (v *View) Price(field string, tf barfeed.Role, offset int) (float64, bool) {
	role := v.roleOrExec(tf)
	idx, ok := v.resolveIdx(role, offset)
	if !ok {
		return 0, false
	}
	fs, ok := v.feeds.Stores[role]
	if !ok {
		return 0, false
	}
	switch field {
	case "open":
		return fs.Open[idx], true
	case "high":
		return fs.High[idx], true
	case "low":
		return fs.Low[idx], true
	case "close":
		return fs.Close[idx], true
	case "volume":
		return fs.Volume[idx], true
	case "mark_price":
		return v.markPrice(fs.TsClose[idx])
	default:
		return 0, false
	}
}

// markPrice looks up the nearest 1-minute mark point at or before ts,
// falling back to "missing" if no mark feed was supplied.
func (v *View) markPrice(ts int64) (float64, bool) {
	marks := v.feeds.MarkFeed
	if len(marks) == 0 {
		return 0, false
	}
	lo, hi := 0, len(marks)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if marks[mid].TsMs <= ts {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == -1 {
		return 0, false
	}
	return marks[best].Price, true
}

// Indicator resolves indicator.<id>(tf?, offset=0, field="value") through
// the feature registry, enforcing UNDECLARED_FEATURE-style failure by
// returning ok=false for an id never declared in any feature_spec (spec
// §4.3, §9 — handle-based, not string-hashed in the hot path: Resolve is
// called once per distinct id by the DSL compiler, which caches the
// handle, not per bar).
func (v *View) Indicator(id string, tf barfeed.Role, offset int, field string) (float64, bool) {
	h, err := v.features.Resolve(id)
	if err != nil {
		return 0, false
	}
	meta := v.features.Meta(h)
	role := v.roleOrExec(tf)
	if meta.TF != role && tf != "" {
		return 0, false
	}
	role = meta.TF
	idx, ok := v.resolveIdx(role, offset)
	if !ok {
		return 0, false
	}
	fs, ok := v.feeds.Stores[role]
	if !ok {
		return 0, false
	}
	arr, ok := fs.Indicator[meta.OutputKey]
	if !ok || idx >= len(arr) {
		return 0, false
	}
	val := arr[idx]
	if math.IsNaN(val) {
		return 0, false
	}
	_ = field // single-output arrays only carry "value"; sub-outputs are separate declared ids
	return val, true
}

// Structure resolves structure.<id>.<field>(tf?, offset=0) against an
// incstate detector. Offset lookback on structure fields is not
// supported in v1 (detectors are point-in-time state, not a series);
// offset must be 0.
func (v *View) Structure(detectorKey, field string, tf barfeed.Role, offset int) (incstate.Value, bool) {
	if offset != 0 {
		return incstate.Value{}, false
	}
	role := v.roleOrExec(tf)
	if _, ok := v.ctxIdx[role]; !ok {
		return incstate.Value{}, false
	}
	return v.incr.Value(role, detectorKey, field)
}

// TsClose returns the ts_close of tf's current context bar (spec §4.3:
// "snapshot.ts_close(exec_tf) == current_bar.ts_close").
func (v *View) TsClose(tf barfeed.Role) (int64, bool) {
	role := v.roleOrExec(tf)
	idx, ok := v.resolveIdx(role, 0)
	if !ok {
		return 0, false
	}
	fs, ok := v.feeds.Stores[role]
	if !ok {
		return 0, false
	}
	return fs.TsClose[idx], true
}

// IsStale reports whether tf's context bar has fallen behind the exec
// bar's ts_close — true on every exec bar except the one where tf itself
// closed (spec §4.3: is_stale(tf) = exec.ts_close > tf.ctx_ts_close).
func (v *View) IsStale(tf barfeed.Role) bool {
	execTs, ok := v.TsClose("")
	if !ok {
		return true
	}
	tfTs, ok := v.TsClose(tf)
	if !ok {
		return true
	}
	return execTs > tfTs
}

// ExecIndex returns the exec-TF bar index this view was built at.
func (v *View) ExecIndex() int { return v.execIdx }

// TFDurationMs returns tf's (defaulting to exec) bar duration, used by the
// DSL to scale windowed-quantifier bar counts across timeframes (spec
// §4.4).
func (v *View) TFDurationMs(tf barfeed.Role) int64 {
	role := v.roleOrExec(tf)
	fs, ok := v.feeds.Stores[role]
	if !ok {
		return 0
	}
	return fs.TF.DurationMs
}
