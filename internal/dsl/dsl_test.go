package dsl

import (
	"testing"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/incstate"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/quantforge/backtestcore/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildView(t *testing.T, closes []float64, ctxIdx int) *snapshot.View {
	t.Helper()
	tf := barfeed.Timeframe{Role: barfeed.RoleLow, Name: "1h", DurationMs: 3_600_000}
	feeds := barfeed.NewMultiTFFeedStore(barfeed.RoleLow)
	fs := barfeed.NewFeedStore(tf)
	ema9 := make([]float64, len(closes))
	ema21 := make([]float64, len(closes))
	for i, c := range closes {
		ts := int64(i) * tf.DurationMs
		fs.Append(barfeed.Bar{TsOpen: ts, TsClose: ts + tf.DurationMs, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1})
		ema9[i] = c
		ema21[i] = c - 1 // arranged so a crossover happens where closes dip then rise
	}
	fs.SetIndicator("ema_9", ema9)
	fs.SetIndicator("ema_21", ema21)
	feeds.Stores[barfeed.RoleLow] = fs

	features := registry.NewFeatureTable()
	features.Declare(registry.FeatureMeta{ID: "ema_9", TF: barfeed.RoleLow, OutputKey: "ema_9"})
	features.Declare(registry.FeatureMeta{ID: "ema_21", TF: barfeed.RoleLow, OutputKey: "ema_21"})
	features.Freeze()

	incr := incstate.NewMultiTFIncrementalState(feeds, map[barfeed.Role]*incstate.TFIncrementalState{})
	return snapshot.New(feeds, incr, features, ctxIdx, map[barfeed.Role]int{barfeed.RoleLow: ctxIdx})
}

func TestLeafComparisonOperators(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)

	gt := &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(100)}
	assert.True(t, gt.Eval(ctx).Value)

	near := &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpNearPct, RHS: Lit(102), Tolerance: 0.01}
	assert.True(t, near.Eval(ctx).Value)
}

func TestLeafMissingOperandIsFalseWithReason(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	leaf := &Leaf{LHS: Indicator("undeclared", "", 0), Op: OpGT, RHS: Lit(0)}
	r := leaf.Eval(ctx)
	assert.False(t, r.Value)
	assert.Contains(t, r.Reason, "MISSING_VALUE")
}

func TestCrossAboveRequiresPriorNonCross(t *testing.T) {
	// ema_9[i] = close[i], ema_21[i] = close[i]-1 always holds ema_9 > ema_21,
	// so no cross ever fires — a control case proving the prior-bar gate works.
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	cross := &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpCrossAbove, RHS: Indicator("ema_21", "", 0)}
	assert.False(t, cross.Eval(ctx).Value)
}

func TestNotOfMissingIsFalseNotTrue(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	node := &Not{Child: &Leaf{LHS: Indicator("undeclared", "", 0), Op: OpGT, RHS: Lit(0)}}
	assert.False(t, node.Eval(ctx).Value)
}

func TestNotNegatesAnOrdinaryResult(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	node := &Not{Child: &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(1000)}}
	assert.True(t, node.Eval(ctx).Value)
}

func TestAllShortCircuitsOnFalse(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	node := &All{Children: []Node{
		&Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(1000)}, // false
		&Leaf{LHS: Lit(1), Op: OpEQ, RHS: Lit(1)},
	}}
	assert.False(t, node.Eval(ctx).Value)
}

func TestAnyShortCircuitsOnTrue(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	node := &Any{Children: []Node{
		&Leaf{LHS: Lit(1), Op: OpEQ, RHS: Lit(2)},
		&Leaf{LHS: Lit(1), Op: OpEQ, RHS: Lit(1)},
	}}
	assert.True(t, node.Eval(ctx).Value)
}

func TestHoldsForRequiresAllBarsTrue(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102, 103}, 3)
	ctx := NewEvalContext(view)
	node := &HoldsFor{Bars: 3, Expr: &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(99)}}
	assert.True(t, node.Eval(ctx).Value)

	node2 := &HoldsFor{Bars: 3, Expr: &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(101)}}
	assert.False(t, node2.Eval(ctx).Value)
}

func TestCountTrueCounts(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102, 103}, 3)
	ctx := NewEvalContext(view)
	node := &CountTrue{
		Bars: 4, Expr: &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(101)},
		Op: OpGTE, Value: 2,
	}
	assert.True(t, node.Eval(ctx).Value)
}

func TestValidateActionAndMetadata(t *testing.T) {
	require.NoError(t, ValidateAction(ActionEntryLong))
	require.Error(t, ValidateAction(Action("blow_up_the_account")))

	require.NoError(t, ValidateMetadataKeys([]string{"size_usdt", "stop_loss"}))
	require.Error(t, ValidateMetadataKeys([]string{"not_a_real_key"}))
}

func TestWhenEmitEvaluate(t *testing.T) {
	view := buildView(t, []float64{100, 101, 102}, 2)
	ctx := NewEvalContext(view)
	rule := WhenEmit{
		When: &Leaf{LHS: Indicator("ema_9", "", 0), Op: OpGT, RHS: Lit(100)},
		Emit: []Intent{{Action: ActionEntryLong, SizingMode: SizePct, SizeValue: 0.1}},
	}
	intents := rule.Evaluate(ctx)
	require.Len(t, intents, 1)
	assert.Equal(t, ActionEntryLong, intents[0].Action)
}
