// Package registry is the declared, typed indicator catalogue of spec §4.1
// and §9 ("Dynamic kwargs flowing through indicator factories... restate as
// a declared per-indicator parameter schema... validated at registration
// time"). The Builder looks up a Play's feature_specs against this
// registry; unknown types or out-of-range params fail loudly with
// errs.UnknownIndicator / errs.InvalidParam.
//
// The registry also owns the FeatureTable: the map from string feature id
// to a small integer handle, resolved once at builder time so the hot loop
// in internal/snapshot never hashes a string (spec §9's cyclic-reference
// fix).
package registry

import (
	"fmt"
	"math"

	"github.com/quantforge/backtestcore/internal/errs"
)

// ParamKind is the type of one declared indicator parameter.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamFloat
	ParamString
	ParamEnum
)

// ParamSpec declares one parameter's type and valid range/options.
type ParamSpec struct {
	Name       string
	Kind       ParamKind
	Min, Max   float64 // inclusive; ignored for ParamString/ParamEnum
	EnumValues []string
	Required   bool
	Default    any
}

// BatchInputs is the set of raw columnar arrays an indicator's batch
// Compute function may read. Not every indicator uses every field.
type BatchInputs struct {
	TsOpen []int64
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// ComputeFn computes one or more dense output arrays from params and the
// raw inputs. The returned map is keyed by output sub-key ("" for a
// single-output indicator, or "macd"/"signal"/"histogram" style suffixes
// for multi-output ones); every array must have len(inputs.Close) entries.
type ComputeFn func(inputs BatchInputs, params map[string]any) (map[string][]float64, error)

// WarmupFn computes warmup_bars for a parameter set, per spec §4.1's
// per-indicator formula table (EMA=3*length, RSI=2*length, SMA=length,
// fallback=2*max(params)).
type WarmupFn func(params map[string]any) int

// IndicatorDef is one registered indicator type.
type IndicatorDef struct {
	Type string

	// BatchOnly is false for indicators whose batch output is a real,
	// final value (SMA/EMA/RSI/...). It is true for indicators that
	// depend on incremental structure state (anchored VWAP) — per spec
	// §4.1/§9, their batch path MUST write NaN placeholders; the engine
	// overwrites per bar from internal/incstate.
	BatchOnly bool

	Params  []ParamSpec
	Outputs []string // sub-output suffixes; a single "" entry means single-output
	Compute ComputeFn
	Warmup  WarmupFn
}

// Registry is the set of declared indicator types. Construction happens
// once; lookups are read-only and safe for concurrent use across runs
// (each run only ever reads).
type Registry struct {
	defs map[string]*IndicatorDef
}

// New returns an empty registry. Most callers want NewDefault.
func New() *Registry { return &Registry{defs: make(map[string]*IndicatorDef)} }

// Register adds or replaces an indicator definition.
func (r *Registry) Register(def IndicatorDef) {
	r.defs[def.Type] = &def
}

// Lookup returns the definition for an indicator type, or
// errs.UnknownIndicator.
func (r *Registry) Lookup(indicatorType string) (*IndicatorDef, error) {
	d, ok := r.defs[indicatorType]
	if !ok {
		return nil, errs.New(errs.UnknownIndicator, "unknown indicator type %q", indicatorType).
			WithFixHint("declare a feature_spec with one of the registered indicator types")
	}
	return d, nil
}

// ValidateParams checks a param map against the declared schema, filling
// defaults for missing optional params and returning errs.InvalidParam for
// anything out of range, of the wrong kind, or undeclared.
func (r *Registry) ValidateParams(indicatorType string, params map[string]any) (map[string]any, error) {
	def, err := r.Lookup(indicatorType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(def.Params))
	declared := make(map[string]bool, len(def.Params))
	for _, spec := range def.Params {
		declared[spec.Name] = true
		v, present := params[spec.Name]
		if !present {
			if spec.Required {
				return nil, errs.New(errs.InvalidParam, "indicator %q missing required param %q", indicatorType, spec.Name)
			}
			out[spec.Name] = spec.Default
			continue
		}
		if err := validateOne(indicatorType, spec, v); err != nil {
			return nil, err
		}
		out[spec.Name] = v
	}
	for k := range params {
		if !declared[k] {
			return nil, errs.New(errs.InvalidParam, "indicator %q: undeclared param %q", indicatorType, k)
		}
	}
	return out, nil
}

func validateOne(indicatorType string, spec ParamSpec, v any) error {
	switch spec.Kind {
	case ParamInt:
		iv, ok := toFloat(v)
		if !ok {
			return errs.New(errs.InvalidParam, "indicator %q param %q must be an integer", indicatorType, spec.Name)
		}
		if iv != math.Trunc(iv) {
			return errs.New(errs.InvalidParam, "indicator %q param %q must be an integer, got %v", indicatorType, spec.Name, v)
		}
		return rangeCheck(indicatorType, spec, iv)
	case ParamFloat:
		fv, ok := toFloat(v)
		if !ok {
			return errs.New(errs.InvalidParam, "indicator %q param %q must be numeric", indicatorType, spec.Name)
		}
		return rangeCheck(indicatorType, spec, fv)
	case ParamString:
		if _, ok := v.(string); !ok {
			return errs.New(errs.InvalidParam, "indicator %q param %q must be a string", indicatorType, spec.Name)
		}
		return nil
	case ParamEnum:
		s, ok := v.(string)
		if !ok {
			return errs.New(errs.InvalidParam, "indicator %q param %q must be a string enum", indicatorType, spec.Name)
		}
		for _, e := range spec.EnumValues {
			if e == s {
				return nil
			}
		}
		return errs.New(errs.InvalidParam, "indicator %q param %q=%q not in %v", indicatorType, spec.Name, s, spec.EnumValues)
	default:
		return fmt.Errorf("registry: unknown param kind %d", spec.Kind)
	}
}

func rangeCheck(indicatorType string, spec ParamSpec, v float64) error {
	if spec.Min != 0 || spec.Max != 0 {
		if v < spec.Min || v > spec.Max {
			return errs.New(errs.InvalidParam, "indicator %q param %q=%v out of range [%v,%v]", indicatorType, spec.Name, v, spec.Min, spec.Max)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// ParamInt64 reads an already-validated int-kind param as an int.
func ParamInt64(params map[string]any, name string) int {
	f, _ := toFloat(params[name])
	return int(f)
}

// ParamFloat64 reads an already-validated numeric param as a float64.
func ParamFloat64(params map[string]any, name string) float64 {
	f, _ := toFloat(params[name])
	return f
}

// Warmup computes warmup_bars for a validated param set.
func (r *Registry) Warmup(indicatorType string, params map[string]any) (int, error) {
	def, err := r.Lookup(indicatorType)
	if err != nil {
		return 0, err
	}
	if def.Warmup != nil {
		return def.Warmup(params), nil
	}
	return fallbackWarmup(params), nil
}

// fallbackWarmup implements spec §4.1's fallback formula: 2 * max(params).
func fallbackWarmup(params map[string]any) int {
	maxP := 0.0
	for _, v := range params {
		if f, ok := toFloat(v); ok && f > maxP {
			maxP = f
		}
	}
	return int(2 * maxP)
}
