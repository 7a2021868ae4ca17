// Package dsl implements the Rule Evaluator of spec §4.4: a three-valued
// boolean condition tree evaluated against a read-only snapshot.View,
// emitting Intents from when→emit blocks. The tree itself is already
// parsed (an external loader's job, out of core scope, spec §6); this
// package only evaluates it.
package dsl

import "github.com/quantforge/backtestcore/internal/barfeed"

// Op is a Leaf comparison operator (spec §4.4).
type Op string

const (
	OpGT          Op = "gt"
	OpGTE         Op = "gte"
	OpLT          Op = "lt"
	OpLTE         Op = "lte"
	OpEQ          Op = "eq"
	OpNE          Op = "ne"
	OpNearPct     Op = "near_pct"
	OpNearAbs     Op = "near_abs"
	OpCrossAbove  Op = "cross_above"
	OpCrossBelow  Op = "cross_below"
	OpBetween     Op = "between"
	OpIn          Op = "in"
)

// Namespace selects how a ValueRef resolves against a snapshot.View.
type Namespace int

const (
	NSLiteral Namespace = iota
	NSPrice
	NSIndicator
	NSStructure
	NSBuiltin
)

// ValueRef is an operand: a scalar literal, a feature reference, or a
// built-in reference (spec §4.4 "Values on either side of an operator").
type ValueRef struct {
	NS      Namespace
	Literal float64
	ID      string        // price field name / indicator id / structure detector key / builtin name
	Field   string        // structure sub-field; unused for price and indicator (single "value" output)
	TF      barfeed.Role  // "" defaults to exec TF
	Offset  int
}

// Lit builds a literal-valued ValueRef.
func Lit(v float64) ValueRef { return ValueRef{NS: NSLiteral, Literal: v} }

// Price builds a price.* reference.
func Price(field string, tf barfeed.Role, offset int) ValueRef {
	return ValueRef{NS: NSPrice, ID: field, TF: tf, Offset: offset}
}

// Indicator builds an indicator.* reference.
func Indicator(id string, tf barfeed.Role, offset int) ValueRef {
	return ValueRef{NS: NSIndicator, ID: id, TF: tf, Offset: offset}
}

// Structure builds a structure.*.* reference.
func Structure(key, field string, tf barfeed.Role, offset int) ValueRef {
	return ValueRef{NS: NSStructure, ID: key, Field: field, TF: tf, Offset: offset}
}

// Builtin builds a built-in reference (position.side, pending_order_count, ...).
func Builtin(name string) ValueRef { return ValueRef{NS: NSBuiltin, ID: name} }

// Node is one element of the rule tree's tagged sum (spec §4.4).
type Node interface {
	Eval(ctx *EvalContext) Result
}

// Result is a Leaf/compound node's evaluation outcome. The formal
// three-valued logic {true, false, missing} of spec §4.4 collapses to a
// bool here: a missing operand already evaluates a Leaf to false, with
// Reason carrying "MISSING_VALUE" for diagnostics (spec §7 — missing
// values never abort, they just read as false).
type Result struct {
	Value  bool
	Reason string
}

func ok(v bool) Result                { return Result{Value: v} }
func missing(reason string) Result    { return Result{Value: false, Reason: "MISSING_VALUE: " + reason} }

// Leaf is a single comparison (spec §4.4).
type Leaf struct {
	LHS       ValueRef
	Op        Op
	RHS       ValueRef
	RHS2      ValueRef  // only used by `between` (hi bound)
	Tolerance float64   // used by near_pct/near_abs; a ratio, never a percentage (spec §9)
	Set       []float64 // only used by `in`
}

// All evaluates every child, short-circuiting false (spec §4.4).
type All struct{ Children []Node }

// Any evaluates every child, short-circuiting true (spec §4.4).
type Any struct{ Children []Node }

// Not negates a child, except Not(missing) is false: Eval checks the
// child's Reason and passes a missing Result through unnegated.
type Not struct{ Child Node }

// HoldsFor is true iff Expr evaluates true at every bar in the trailing
// window (spec §4.4 windowed quantifier).
type HoldsFor struct {
	Bars     int
	AnchorTF barfeed.Role // "" defaults to exec TF; coarser TFs scale the window (spec §4.4)
	Expr     Node
}

// OccurredWithin is true iff Expr evaluates true at any bar in the
// trailing window.
type OccurredWithin struct {
	Bars     int
	AnchorTF barfeed.Role
	Expr     Node
}

// CountTrue counts true evaluations of Expr across the trailing window
// and compares the count against Value using Op (gt/gte/lt/lte/eq/ne).
type CountTrue struct {
	Bars     int
	AnchorTF barfeed.Role
	Expr     Node
	Op       Op
	Value    float64
}
