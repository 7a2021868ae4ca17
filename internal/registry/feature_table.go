package registry

import (
	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/errs"
)

// Handle is a pre-computed integer reference to a declared feature,
// resolved once at builder time so the hot loop never hashes a feature id
// string (spec §9).
type Handle int

// FeatureMeta describes one declared feature (one feature_spec entry,
// possibly expanded into multiple output keys for a multi-output
// indicator).
type FeatureMeta struct {
	ID            string
	IndicatorType string
	TF            barfeed.Role
	OutputKey     string // dense-array key inside the FeedStore, e.g. "macd.histogram"
	IsStructure   bool   // true if this id resolves through incstate, not a FeedStore array
}

// FeatureTable maps feature ids to handles and back. It is built once by
// the builder, then frozen and shared read-only by every Snapshot View.
type FeatureTable struct {
	metas   []FeatureMeta
	byID    map[string]Handle
	frozen  bool
}

// NewFeatureTable returns an empty, mutable table.
func NewFeatureTable() *FeatureTable {
	return &FeatureTable{byID: make(map[string]Handle)}
}

// Declare registers a feature id and returns its handle. Declaring the
// same id twice is a builder bug (panics) — ids come from a single
// validated Play.
func (t *FeatureTable) Declare(meta FeatureMeta) Handle {
	if t.frozen {
		panic("registry: Declare called on a frozen FeatureTable")
	}
	if _, exists := t.byID[meta.ID]; exists {
		panic("registry: feature id " + meta.ID + " declared twice")
	}
	h := Handle(len(t.metas))
	t.metas = append(t.metas, meta)
	t.byID[meta.ID] = h
	return h
}

// Freeze marks the table read-only.
func (t *FeatureTable) Freeze() { t.frozen = true }

// Resolve returns the handle for a feature id, or errs.UndeclaredFeature.
func (t *FeatureTable) Resolve(id string) (Handle, error) {
	h, ok := t.byID[id]
	if !ok {
		return 0, errs.New(errs.UndeclaredFeature, "feature %q is not declared in any feature_spec", id)
	}
	return h, nil
}

// Meta returns the metadata for a handle.
func (t *FeatureTable) Meta(h Handle) FeatureMeta { return t.metas[h] }

// Len returns the number of declared features.
func (t *FeatureTable) Len() int { return len(t.metas) }
