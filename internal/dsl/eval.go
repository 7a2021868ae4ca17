package dsl

import (
	"math"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/snapshot"
)

// EvalContext wraps a snapshot.View with an additional uniform bar-offset
// shift, used by windowed quantifiers to re-evaluate an expression "as of
// k bars ago" without reconstructing a View (spec §4.4 HoldsFor/
// OccurredWithin/CountTrue).
type EvalContext struct {
	View   *snapshot.View
	Shift  int
}

// NewEvalContext builds the root context for a bar's rule evaluation.
func NewEvalContext(view *snapshot.View) *EvalContext {
	return &EvalContext{View: view}
}

func (c *EvalContext) shifted(delta int) *EvalContext {
	return &EvalContext{View: c.View, Shift: c.Shift + delta}
}

// resolve reads a ValueRef's value at the context's current shift plus
// the ref's own declared offset. ok=false means "missing" (spec §4.3
// out-of-bounds / undeclared-feature / NaN all read as missing here).
func (r ValueRef) resolve(ctx *EvalContext) (float64, bool) {
	offset := r.Offset + ctx.Shift
	switch r.NS {
	case NSLiteral:
		return r.Literal, true
	case NSPrice:
		return ctx.View.Price(r.ID, r.TF, offset)
	case NSIndicator:
		return ctx.View.Indicator(r.ID, r.TF, offset, "value")
	case NSStructure:
		v, ok := ctx.View.Structure(r.ID, r.Field, r.TF, offset)
		if !ok {
			return 0, false
		}
		return v.AsFloat()
	case NSBuiltin:
		return resolveBuiltin(ctx, r.ID)
	default:
		return 0, false
	}
}

// resolveBuiltin reads position/pending-order state. Side is encoded
// numerically (long=1, short=-1, flat=0) so it composes with the same
// numeric comparison operators as every other operand.
func resolveBuiltin(ctx *EvalContext, name string) (float64, bool) {
	pos := ctx.View.Position
	switch name {
	case "position.side":
		if !pos.Open {
			return 0, true
		}
		if pos.Side == "long" {
			return 1, true
		}
		return -1, true
	case "position.size":
		return pos.SizeUSDT, true
	case "position.avg_entry":
		if !pos.Open {
			return 0, false
		}
		return pos.AvgEntry, true
	case "position.unrealized_pnl":
		return pos.UnrealizedPnL, true
	case "pending_order_count":
		return float64(ctx.View.Pending.Count), true
	default:
		return 0, false
	}
}

func (l *Leaf) Eval(ctx *EvalContext) Result {
	switch l.Op {
	case OpCrossAbove, OpCrossBelow:
		return l.evalCross(ctx)
	case OpBetween:
		return l.evalBetween(ctx)
	case OpIn:
		return l.evalIn(ctx)
	default:
		return l.evalBinary(ctx)
	}
}

func (l *Leaf) evalBinary(ctx *EvalContext) Result {
	a, aok := l.LHS.resolve(ctx)
	b, bok := l.RHS.resolve(ctx)
	if !aok || !bok {
		return missing("comparison operand unavailable")
	}
	switch l.Op {
	case OpGT:
		return ok(a > b)
	case OpGTE:
		return ok(a >= b)
	case OpLT:
		return ok(a < b)
	case OpLTE:
		return ok(a <= b)
	case OpEQ:
		return ok(a == b)
	case OpNE:
		return ok(a != b)
	case OpNearPct:
		if b == 0 {
			return missing("near_pct denominator is zero")
		}
		return ok(math.Abs(a-b)/math.Abs(b) <= l.Tolerance)
	case OpNearAbs:
		return ok(math.Abs(a-b) <= l.Tolerance)
	default:
		return missing("unsupported operator")
	}
}

// evalCross implements TradingView touch-and-cross convention: the prior
// bar must NOT already be on the post-cross side (spec §4.4).
func (l *Leaf) evalCross(ctx *EvalContext) Result {
	aCurr, aok := l.LHS.resolve(ctx)
	bCurr, bok := l.RHS.resolve(ctx)
	prevCtx := ctx.shifted(1)
	aPrev, apOK := l.LHS.resolve(prevCtx)
	bPrev, bpOK := l.RHS.resolve(prevCtx)
	if !aok || !bok || !apOK || !bpOK {
		return missing("cross operand unavailable at current or previous bar")
	}
	if l.Op == OpCrossAbove {
		return ok(aPrev <= bPrev && aCurr > bCurr)
	}
	return ok(aPrev >= bPrev && aCurr < bCurr)
}

func (l *Leaf) evalBetween(ctx *EvalContext) Result {
	x, xok := l.LHS.resolve(ctx)
	lo, lok := l.RHS.resolve(ctx)
	hi, hok := l.RHS2.resolve(ctx)
	if !xok || !lok || !hok {
		return missing("between operand unavailable")
	}
	return ok(lo <= x && x <= hi)
}

func (l *Leaf) evalIn(ctx *EvalContext) Result {
	x, xok := l.LHS.resolve(ctx)
	if !xok {
		return missing("in operand unavailable")
	}
	for _, v := range l.Set {
		if v == x {
			return ok(true)
		}
	}
	return ok(false)
}

func (n *All) Eval(ctx *EvalContext) Result {
	for _, child := range n.Children {
		r := child.Eval(ctx)
		if !r.Value {
			return r
		}
	}
	return ok(true)
}

func (n *Any) Eval(ctx *EvalContext) Result {
	var last Result
	for _, child := range n.Children {
		r := child.Eval(ctx)
		if r.Value {
			return r
		}
		last = r
	}
	return last
}

// Not negates a child, except a missing child passes through unnegated
// (spec §4.4: Not(missing) is false, not true).
func (n *Not) Eval(ctx *EvalContext) Result {
	r := n.Child.Eval(ctx)
	if r.Reason != "" {
		return r
	}
	return ok(!r.Value)
}

// windowBars scales Bars by the anchor TF's duration relative to exec TF
// (spec §4.4: "effective exec-bar window is bars × (anchor_tf_duration /
// exec_tf_duration)").
func windowBars(ctx *EvalContext, bars int, anchor barfeed.Role) int {
	if anchor == "" {
		return bars
	}
	execDur := ctx.View.TFDurationMs("")
	anchorDur := ctx.View.TFDurationMs(anchor)
	if execDur <= 0 || anchorDur <= 0 {
		return bars
	}
	return bars * int(anchorDur/execDur)
}

func (n *HoldsFor) Eval(ctx *EvalContext) Result {
	w := windowBars(ctx, n.Bars, n.AnchorTF)
	for k := 0; k < w; k++ {
		r := n.Expr.Eval(ctx.shifted(k))
		if !r.Value {
			return ok(false)
		}
	}
	return ok(true)
}

func (n *OccurredWithin) Eval(ctx *EvalContext) Result {
	w := windowBars(ctx, n.Bars, n.AnchorTF)
	for k := 0; k < w; k++ {
		r := n.Expr.Eval(ctx.shifted(k))
		if r.Value {
			return ok(true)
		}
	}
	return ok(false)
}

func (n *CountTrue) Eval(ctx *EvalContext) Result {
	w := windowBars(ctx, n.Bars, n.AnchorTF)
	count := 0
	for k := 0; k < w; k++ {
		if n.Expr.Eval(ctx.shifted(k)).Value {
			count++
		}
	}
	cmp := &Leaf{LHS: Lit(float64(count)), Op: n.Op, RHS: Lit(n.Value)}
	return cmp.Eval(ctx)
}
