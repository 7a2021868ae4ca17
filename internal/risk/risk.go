// Package risk implements the Risk Policy of spec §4.5: turns a raw
// dsl.Intent into a sized Signal, resolving dynamic price references,
// computing position size from the declared sizing mode, and enforcing
// margin/entry/position-policy gates. Rejections are never fatal — they
// return an errs.PolicyReject the engine logs and moves past (spec §7).
package risk

import (
	"math"

	"github.com/quantforge/backtestcore/internal/dsl"
	"github.com/quantforge/backtestcore/internal/errs"
	"github.com/quantforge/backtestcore/internal/snapshot"
)

// PositionPolicyMode restricts which directions a Play may take (spec §6).
type PositionPolicyMode string

const (
	LongOnly  PositionPolicyMode = "long_only"
	ShortOnly PositionPolicyMode = "short_only"
	LongShort PositionPolicyMode = "long_short"
)

// Config is the Play-declared account/risk configuration this policy
// enforces (spec §6 "account", §4.5).
type Config struct {
	MaxLeverage             float64
	TakerFeeBps             float64
	MakerFeeBps             float64
	MinTradeNotionalUSDT    float64
	IncludeClosingFeeInGate bool
	PositionPolicy          PositionPolicyMode
	AllowFlip               bool
}

// Portfolio is the minimal ledger view the policy reads (spec §3
// Ledger derived fields); the exchange package is the source of truth.
type Portfolio struct {
	Equity           float64
	AvailableBalance float64
	PositionOpen     bool
	PositionSide     string // "long" | "short"
}

// Signal is the risk-validated, sized order instruction handed to the
// exchange (spec §4.5 "Output").
type Signal struct {
	Action     dsl.Action // carried through so the exchange can tell entry/exit/adjust apart
	Side       string     // "long" | "short"
	SizeUSDT   float64
	StopLoss   float64
	TakeProfit float64
	OrderKind  string // always "MARKET" in v1 (spec §1 Non-goals)
	Reason     string
}

func sideFor(action dsl.Action) (string, bool) {
	switch action {
	case dsl.ActionEntryLong:
		return "long", true
	case dsl.ActionEntryShort:
		return "short", true
	default:
		return "", false
	}
}

// resolveRef resolves a dsl.PriceRef's absolute price against view,
// applying its additive/multiplicative offsets (spec §4.4 "ref").
func resolveRef(view *snapshot.View, ref *dsl.PriceRef) (float64, bool) {
	if ref == nil {
		return 0, false
	}
	base, ok := view.Indicator(ref.FeatureID, "", ref.Offset, ref.Field)
	if !ok {
		return 0, false
	}
	if ref.OffsetPct != 0 {
		base *= 1 + ref.OffsetPct
	}
	if ref.OffsetAbs != 0 {
		base += ref.OffsetAbs
	}
	return base, true
}

func resolvePrice(view *snapshot.View, abs *float64, ref *dsl.PriceRef) (float64, bool) {
	if abs != nil {
		return *abs, true
	}
	return resolveRef(view, ref)
}

// sizeUSDT computes size_usdt from the intent's declared sizing mode
// (spec §4.4 Sizing, §4.5 "Compute size_usdt").
func sizeUSDT(intent dsl.Intent, equity, entryPrice, stopPrice float64) (float64, error) {
	switch intent.SizingMode {
	case dsl.SizeUSDT:
		return intent.SizeValue, nil
	case dsl.SizePct:
		return intent.SizeValue * equity, nil
	case dsl.SizeRiskPct:
		stopDistance := math.Abs(entryPrice - stopPrice)
		if stopDistance == 0 || entryPrice == 0 {
			return 0, errs.New(errs.PolicyReject, "risk_pct sizing requires a non-zero stop distance")
		}
		stopFraction := stopDistance / entryPrice
		return intent.SizeValue * equity / stopFraction, nil
	default:
		return 0, errs.New(errs.PolicyReject, "unrecognised sizing mode %q", intent.SizingMode)
	}
}

// Evaluate turns intent into a Signal, or an errs.PolicyReject error the
// engine must treat as non-fatal (spec §4.5 "Failure").
func Evaluate(intent dsl.Intent, view *snapshot.View, portfolio Portfolio, cfg Config) (*Signal, error) {
	side, isEntry := sideFor(intent.Action)
	if !isEntry {
		// Exit/adjust intents pass through without sizing; the exchange
		// interprets the action directly.
		return &Signal{Action: intent.Action, Side: portfolio.PositionSide, OrderKind: "MARKET", Reason: intent.Reason}, nil
	}

	if err := enforcePositionPolicy(side, portfolio, cfg); err != nil {
		return nil, err
	}

	entryPrice, ok := view.Price("close", "", 0)
	if !ok {
		return nil, errs.New(errs.PolicyReject, "no close price available to estimate entry")
	}

	stopPrice, stopOK := resolvePrice(view, intent.StopLoss, intent.StopLossRef)
	if !stopOK {
		return nil, errs.New(errs.PolicyReject, "intent declared no resolvable stop_loss")
	}
	takeProfit, tpOK := resolvePrice(view, intent.TakeProfit, intent.TakeProfitRef)
	if !tpOK {
		return nil, errs.New(errs.PolicyReject, "intent declared no resolvable take_profit")
	}

	if side == "long" && stopPrice >= entryPrice {
		return nil, errs.New(errs.PolicyReject, "long stop_loss %.8f must be below entry %.8f", stopPrice, entryPrice)
	}
	if side == "short" && stopPrice <= entryPrice {
		return nil, errs.New(errs.PolicyReject, "short stop_loss %.8f must be above entry %.8f", stopPrice, entryPrice)
	}

	size, err := sizeUSDT(intent, portfolio.Equity, entryPrice, stopPrice)
	if err != nil {
		return nil, err
	}
	if size < cfg.MinTradeNotionalUSDT {
		return nil, errs.New(errs.PolicyReject, "size_usdt %.2f below min_trade_notional %.2f", size, cfg.MinTradeNotionalUSDT)
	}
	if cfg.MaxLeverage <= 0 {
		return nil, errs.New(errs.PolicyReject, "max_leverage must be positive")
	}
	if size > portfolio.Equity*cfg.MaxLeverage {
		return nil, errs.New(errs.PolicyReject, "size_usdt %.2f exceeds equity*max_leverage %.2f", size, portfolio.Equity*cfg.MaxLeverage)
	}

	requiredMargin := size / cfg.MaxLeverage
	entryFee := size * cfg.TakerFeeBps / 10_000
	gate := requiredMargin + entryFee
	if cfg.IncludeClosingFeeInGate {
		gate += size * cfg.TakerFeeBps / 10_000
	}
	if portfolio.AvailableBalance < gate {
		return nil, errs.New(errs.PolicyReject, "available_balance %.2f below required %.2f (margin+fees)", portfolio.AvailableBalance, gate)
	}

	return &Signal{
		Action: intent.Action, Side: side, SizeUSDT: size, StopLoss: stopPrice, TakeProfit: takeProfit,
		OrderKind: "MARKET", Reason: intent.Reason,
	}, nil
}

func enforcePositionPolicy(side string, portfolio Portfolio, cfg Config) error {
	switch cfg.PositionPolicy {
	case LongOnly:
		if side != "long" {
			return errs.New(errs.PolicyReject, "position_policy long_only rejects a %s entry", side)
		}
	case ShortOnly:
		if side != "short" {
			return errs.New(errs.PolicyReject, "position_policy short_only rejects a %s entry", side)
		}
	}
	if portfolio.PositionOpen && portfolio.PositionSide != side && !cfg.AllowFlip {
		return errs.New(errs.PolicyReject, "flip from %s to %s rejected: allow_flip is false", portfolio.PositionSide, side)
	}
	return nil
}
