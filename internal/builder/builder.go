// Package builder implements the Data Frame Builder of spec §4.1: from raw
// closed-candle OHLCV on N timeframes, build per-TF dense column arrays
// (prices + vectorised indicator outputs) and the close_ts → index maps
// the engine's hot loop reads from. Builder owns the Feed Store
// exclusively during prep, then hands it to the engine as a frozen,
// read-only view (barfeed.FeedStore.Freeze).
package builder

import (
	"log"
	"math"
	"sort"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/errs"
	"github.com/quantforge/backtestcore/internal/registry"
)

// FeatureRequest is one declared feature_spec entry (spec §4.1): an
// indicator type plus its validated parameters, registered under a
// caller-chosen feature id that the DSL/Snapshot layer later addresses as
// indicator.<id>.
type FeatureRequest struct {
	ID            string
	IndicatorType string
	Params        map[string]any
}

// TFInput is one timeframe's raw data plus the features declared against
// it.
type TFInput struct {
	TF       barfeed.Timeframe
	Bars     []barfeed.Bar // ascending by TsOpen, already closed candles
	Features []FeatureRequest
}

// AutoFixHook delegates gap remediation to the data ingestion
// collaborator (spec §4.1: "the Builder MUST delegate... never mutate
// storage directly"). It receives the gap's bounds and returns the bars
// that fill it, ascending by TsOpen.
type AutoFixHook func(tf barfeed.Timeframe, gapStartMs, gapEndMs int64) ([]barfeed.Bar, error)

// BuildInput is everything the Builder needs for one symbol/window.
type BuildInput struct {
	TFs            []TFInput
	ExecRole       barfeed.Role
	WindowStartMs  int64
	WindowEndMs    int64
	SafetyBufferMs int64
	AutoFix        AutoFixHook // nil disables auto-fix; gaps then fail hard
}

// Gap is one reported coverage hole exceeding the 3×TF-duration
// threshold (spec §4.1).
type Gap struct {
	TF         barfeed.Role
	StartMs    int64
	EndMs      int64
	AutoFixed  bool
}

// PreflightReport is the coverage-validation result written to
// preflight_report.json by the out-of-core CLI collaborator (spec §6).
type PreflightReport struct {
	Gaps          []Gap
	WarmupBarsTF  map[barfeed.Role]int
	WarmupSpanMs  map[barfeed.Role]int64
	RequiredStart map[barfeed.Role]int64
}

// BuildResult is the Builder's output: the frozen feed store, the
// registry-backed feature table, and the index past which the engine may
// evaluate rules.
type BuildResult struct {
	Feeds       *barfeed.MultiTFFeedStore
	Features    *registry.FeatureTable
	SimStartIdx int // exec-TF index
	Report      *PreflightReport
}

// warmupBarsForTF computes the maximum warmup_bars across a TF's declared
// features, per spec §4.1 (EMA=3·length, RSI=2·length, SMA=length,
// fallback=2·max(params) — all implemented in registry.Registry.Warmup).
func warmupBarsForTF(reg *registry.Registry, tf TFInput) (int, error) {
	max := 0
	for _, f := range tf.Features {
		params, err := reg.ValidateParams(f.IndicatorType, f.Params)
		if err != nil {
			return 0, err
		}
		w, err := reg.Warmup(f.IndicatorType, params)
		if err != nil {
			return 0, err
		}
		if w > max {
			max = w
		}
	}
	return max, nil
}

// Preflight validates data coverage before prep runs (spec §4.1). It sorts
// each TF's bars by TsOpen in place; when gaps are found and AutoFix is
// set, it also appends the returned bars and re-sorts.
func Preflight(input *BuildInput, reg *registry.Registry) (*PreflightReport, error) {
	report := &PreflightReport{
		WarmupBarsTF:  make(map[barfeed.Role]int),
		WarmupSpanMs:  make(map[barfeed.Role]int64),
		RequiredStart: make(map[barfeed.Role]int64),
	}

	for i := range input.TFs {
		tf := &input.TFs[i]
		sort.Slice(tf.Bars, func(a, b int) bool { return tf.Bars[a].TsOpen < tf.Bars[b].TsOpen })

		warmupBars, err := warmupBarsForTF(reg, *tf)
		if err != nil {
			return nil, err
		}
		warmupSpan := int64(warmupBars) * tf.TF.DurationMs
		requiredStart := input.WindowStartMs - warmupSpan - input.SafetyBufferMs

		report.WarmupBarsTF[tf.TF.Role] = warmupBars
		report.WarmupSpanMs[tf.TF.Role] = warmupSpan
		report.RequiredStart[tf.TF.Role] = requiredStart

		if len(tf.Bars) == 0 {
			return nil, errs.New(errs.InsufficientData, "tf %s has no bars in window", tf.TF.Name).
				WithFixHint("run data sync for %s covering the requested window", tf.TF.Name)
		}
		if tf.Bars[0].TsOpen > requiredStart {
			return nil, errs.New(errs.InsufficientData, "tf %s coverage starts at %d, need %d (warmup %d bars)",
				tf.TF.Name, tf.Bars[0].TsOpen, requiredStart, warmupBars).
				WithFixHint("backfill %s from %d", tf.TF.Name, requiredStart)
		}
		if tf.Bars[len(tf.Bars)-1].TsClose < input.WindowEndMs {
			return nil, errs.New(errs.InsufficientData, "tf %s coverage ends at %d, need %d",
				tf.TF.Name, tf.Bars[len(tf.Bars)-1].TsClose, input.WindowEndMs).
				WithFixHint("backfill %s through %d", tf.TF.Name, input.WindowEndMs)
		}

		threshold := 3 * tf.TF.DurationMs
		for j := 0; j+1 < len(tf.Bars); j++ {
			gapMs := tf.Bars[j+1].TsOpen - tf.Bars[j].TsClose
			if gapMs <= threshold {
				continue
			}
			gap := Gap{TF: tf.TF.Role, StartMs: tf.Bars[j].TsClose, EndMs: tf.Bars[j+1].TsOpen}
			if input.AutoFix == nil {
				return nil, errs.New(errs.GapExceedsThreshold, "tf %s gap of %dms at %d exceeds %dms threshold",
					tf.TF.Name, gapMs, gap.StartMs, threshold).
					WithFixHint("enable an auto-fix hook or backfill %s between %d and %d", tf.TF.Name, gap.StartMs, gap.EndMs)
			}
			filled, err := input.AutoFix(tf.TF, gap.StartMs, gap.EndMs)
			if err != nil {
				return nil, errs.New(errs.GapExceedsThreshold, "auto-fix failed for tf %s gap at %d: %v", tf.TF.Name, gap.StartMs, err)
			}
			gap.AutoFixed = true
			report.Gaps = append(report.Gaps, gap)
			log.Printf("[BUILDER] auto-fixed gap in tf %s: %dms at %d, %d bars filled",
				tf.TF.Name, gapMs, gap.StartMs, len(filled))
			tf.Bars = append(tf.Bars, filled...)
			sort.Slice(tf.Bars, func(a, b int) bool { return tf.Bars[a].TsOpen < tf.Bars[b].TsOpen })
		}
		// Re-verify coverage after auto-fix; a still-present large gap is a
		// hard failure (spec §4.1: "fails hard ... if coverage is still
		// insufficient after auto-fix").
		for j := 0; j+1 < len(tf.Bars); j++ {
			gapMs := tf.Bars[j+1].TsOpen - tf.Bars[j].TsClose
			if gapMs > threshold {
				return nil, errs.New(errs.GapExceedsThreshold, "tf %s gap of %dms at %d persists after auto-fix",
					tf.TF.Name, gapMs, tf.Bars[j].TsClose)
			}
		}
	}

	return report, nil
}

// Build runs Preflight then materialises the Feed Store and Feature
// Table. Batch-only indicator outputs (anchored VWAP) are written as NaN
// placeholders per spec §4.1/§9; internal/incstate overwrites them bar by
// bar at engine time.
func Build(input *BuildInput, reg *registry.Registry) (*BuildResult, error) {
	report, err := Preflight(input, reg)
	if err != nil {
		return nil, err
	}

	feeds := barfeed.NewMultiTFFeedStore(input.ExecRole)
	features := registry.NewFeatureTable()

	for _, tf := range input.TFs {
		fs := barfeed.NewFeedStore(tf.TF)
		for _, b := range tf.Bars {
			if err := b.Validate(tf.TF); err != nil {
				return nil, errs.New(errs.InsufficientData, "tf %s bar at %d invalid: %v", tf.TF.Name, b.TsOpen, err)
			}
			fs.Append(b)
		}

		inputs := registry.BatchInputs{
			TsOpen: fs.TsOpen, Open: fs.Open, High: fs.High, Low: fs.Low, Close: fs.Close, Volume: fs.Volume,
		}

		for _, feat := range tf.Features {
			def, err := reg.Lookup(feat.IndicatorType)
			if err != nil {
				return nil, err
			}
			params, err := reg.ValidateParams(feat.IndicatorType, feat.Params)
			if err != nil {
				return nil, err
			}

			if def.BatchOnly {
				for _, suffix := range def.Outputs {
					key := feat.ID
					if suffix != "" {
						key = feat.ID + "." + suffix
					}
					nanArr := make([]float64, fs.Len())
					for i := range nanArr {
						nanArr[i] = math.NaN()
					}
					fs.SetIndicator(key, nanArr)
					features.Declare(registry.FeatureMeta{
						ID: key, IndicatorType: feat.IndicatorType, TF: tf.TF.Role, OutputKey: key, IsStructure: true,
					})
				}
				continue
			}

			outputs, err := def.Compute(inputs, params)
			if err != nil {
				return nil, err
			}
			for _, suffix := range def.Outputs {
				key := feat.ID
				if suffix != "" {
					key = feat.ID + "." + suffix
				}
				arr, ok := outputs[suffix]
				if !ok {
					return nil, errs.New(errs.InvalidParam, "indicator %q did not produce declared output %q", feat.IndicatorType, suffix)
				}
				fs.SetIndicator(key, arr)
				features.Declare(registry.FeatureMeta{
					ID: key, IndicatorType: feat.IndicatorType, TF: tf.TF.Role, OutputKey: key, IsStructure: false,
				})
			}
		}

		fs.Freeze()
		feeds.Stores[tf.TF.Role] = fs
	}
	features.Freeze()

	exec := feeds.Exec()
	if exec == nil {
		return nil, errs.New(errs.InvalidPlay, "exec role %s has no feed store", input.ExecRole)
	}
	simStartIdx, ok := exec.IndexForCloseTs(firstCloseAtOrAfter(exec, input.WindowStartMs))
	if !ok {
		simStartIdx = 0
	}

	return &BuildResult{Feeds: feeds, Features: features, SimStartIdx: simStartIdx, Report: report}, nil
}

func firstCloseAtOrAfter(fs *barfeed.FeedStore, ts int64) int64 {
	for i := 0; i < fs.Len(); i++ {
		if fs.TsClose[i] >= ts {
			return fs.TsClose[i]
		}
	}
	if fs.Len() > 0 {
		return fs.TsClose[fs.Len()-1]
	}
	return ts
}
