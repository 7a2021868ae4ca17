package dsl

import "github.com/quantforge/backtestcore/internal/errs"

// Action is an Intent's requested effect (spec §4.4).
type Action string

const (
	ActionEntryLong    Action = "entry_long"
	ActionEntryShort   Action = "entry_short"
	ActionExitLong     Action = "exit_long"
	ActionExitShort    Action = "exit_short"
	ActionExitAll      Action = "exit_all"
	ActionAdjustStop   Action = "adjust_stop"
	ActionAdjustTarget Action = "adjust_target"
	ActionNoAction     Action = "no_action"
)

var validActions = map[Action]bool{
	ActionEntryLong: true, ActionEntryShort: true, ActionExitLong: true, ActionExitShort: true,
	ActionExitAll: true, ActionAdjustStop: true, ActionAdjustTarget: true, ActionNoAction: true,
}

// PriceRef resolves a stop/target price dynamically against the snapshot
// at intent time (spec §4.4 "ref").
type PriceRef struct {
	FeatureID string
	Field     string
	Offset    int
	OffsetPct float64 // applied multiplicatively to the resolved reference price
	OffsetAbs float64 // applied additively to the resolved reference price
}

// SizingMode selects how Risk Policy computes size_usdt (spec §4.4/§4.5).
type SizingMode string

const (
	SizeUSDT   SizingMode = "size_usdt"
	SizePct    SizingMode = "size_pct"
	SizeRiskPct SizingMode = "risk_pct"
)

// Intent is a rule's raw output before risk sizing (spec §4.4, glossary).
type Intent struct {
	Action Action

	SizingMode SizingMode
	SizeValue  float64 // interpretation depends on SizingMode

	StopLoss   *float64
	StopLossRef *PriceRef
	TakeProfit   *float64
	TakeProfitRef *PriceRef

	Reason string
}

// declaredMetadataKeys is every recognised Intent metadata key (spec
// §4.4); used by rule-compile-time validation, which an external loader
// performs before the core ever sees a tree — the core re-validates
// programmatically built Intents defensively here.
var declaredMetadataKeys = map[string]bool{
	"size_usdt": true, "size_pct": true, "risk_pct": true,
	"stop_loss": true, "take_profit": true, "reason": true,
}

// ValidateMetadataKeys fails compile-time (errs.InvalidPlay) on an
// unrecognised metadata key — spec §4.4: "Unknown actions or metadata
// keys fail validation at rule-compile time."
func ValidateMetadataKeys(keys []string) error {
	for _, k := range keys {
		if !declaredMetadataKeys[k] {
			return errs.New(errs.InvalidPlay, "unrecognised intent metadata key %q", k).
				WithFixHint("use one of size_usdt/size_pct/risk_pct/stop_loss/take_profit/reason")
		}
	}
	return nil
}

// ValidateAction fails compile-time on an unrecognised action.
func ValidateAction(a Action) error {
	if !validActions[a] {
		return errs.New(errs.InvalidPlay, "unrecognised intent action %q", a)
	}
	return nil
}

// WhenEmit is one `when → emit` rule block (spec §4.4).
type WhenEmit struct {
	When  Node
	Emit  []Intent
}

// Evaluate returns Emit's Intents if When is true at ctx, else nil.
func (r *WhenEmit) Evaluate(ctx *EvalContext) []Intent {
	if !r.When.Eval(ctx).Value {
		return nil
	}
	return r.Emit
}

// EvaluateAll runs every rule block against ctx and concatenates emitted
// Intents in declaration order (deterministic, spec §5).
func EvaluateAll(rules []WhenEmit, ctx *EvalContext) []Intent {
	var out []Intent
	for i := range rules {
		out = append(out, rules[i].Evaluate(ctx)...)
	}
	return out
}
