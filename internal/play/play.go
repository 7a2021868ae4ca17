// Package play is the already-validated, in-memory form of a Play (spec
// §6 "Play input"). YAML loading and schema validation of Play files are
// an external collaborator's job (spec §1 Non-goals); this package only
// ever receives a tree that a loader has already parsed, and re-validates
// the cross-field invariants the core itself depends on — registry
// membership, timeframe ordering, position-policy consistency — since
// those invariants are the core's contract, not the loader's.
package play

import (
	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/builder"
	"github.com/quantforge/backtestcore/internal/dsl"
	"github.com/quantforge/backtestcore/internal/errs"
	"github.com/quantforge/backtestcore/internal/exchange"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/quantforge/backtestcore/internal/risk"
)

// FeeModel is the Play's declared taker/maker fee schedule.
type FeeModel struct {
	TakerBps float64
	MakerBps float64
}

// Account is the Play's account/risk configuration (spec §6 "account").
type Account struct {
	StartingEquityUSDT    float64
	MaxLeverage           float64
	FeeModel              FeeModel
	SlippageBps           float64
	MinTradeNotionalUSDT  float64
	MaintenanceMarginRate float64 // 0 means "unset"; ToExchangeConfig fills the spec default
}

// defaultMaintenanceMarginRate is applied when a Play omits the optional
// maintenance_margin_rate field (spec §4.6).
const defaultMaintenanceMarginRate = 0.005

// ToExchangeConfig projects the account fields the exchange needs.
func (a Account) ToExchangeConfig() exchange.Config {
	mmr := a.MaintenanceMarginRate
	if mmr == 0 {
		mmr = defaultMaintenanceMarginRate
	}
	return exchange.Config{
		StartingEquityUSDT:    a.StartingEquityUSDT,
		MaxLeverage:           a.MaxLeverage,
		TakerFeeBps:           a.FeeModel.TakerBps,
		SlippageBps:           a.SlippageBps,
		MaintenanceMarginRate: mmr,
	}
}

// ToRiskConfig projects the account fields the risk policy needs.
func (a Account) ToRiskConfig(policy risk.PositionPolicyMode, allowFlip bool) risk.Config {
	return risk.Config{
		MaxLeverage:          a.MaxLeverage,
		TakerFeeBps:          a.FeeModel.TakerBps,
		MakerFeeBps:          a.FeeModel.MakerBps,
		MinTradeNotionalUSDT: a.MinTradeNotionalUSDT,
		PositionPolicy:       policy,
		AllowFlip:            allowFlip,
	}
}

// Timeframes declares the Play's MTF role assignment (spec §6
// "timeframes"). MedTF and HighTF are optional; Exec names which role the
// engine steps bar-by-bar.
type Timeframes struct {
	LowTF  barfeed.Timeframe
	MedTF  *barfeed.Timeframe
	HighTF *barfeed.Timeframe
	Exec   string // role name: "low_tf" | "med_tf" | "high_tf"
}

// DirectionRules is one direction's (long or short) entry/exit rule
// trees (spec §6 "signal_rules").
type DirectionRules struct {
	Entry []dsl.WhenEmit
	Exit  []dsl.WhenEmit
}

// SignalRules is the Play's full entry/exit rule set per direction.
type SignalRules struct {
	Long  *DirectionRules
	Short *DirectionRules
}

// RiskModel is the Play's stop-loss/take-profit/sizing defaults (spec §6
// "risk_model") plus the opt-in max_bars_in_trade guard grounded in
// other_examples' option-replay exit vocabulary.
type RiskModel struct {
	DefaultSizingMode dsl.SizingMode
	DefaultSizeValue  float64
	DefaultStopLoss   *dsl.PriceRef
	DefaultTakeProfit *dsl.PriceRef

	// MaxBarsInTrade force-exits a position open longer than N exec bars
	// with exit_reason=SIGNAL, reason="max_bars_in_trade". Zero disables
	// the guard; it is never required.
	MaxBarsInTrade int
}

// Play is the fully-validated declarative strategy description the
// engine consumes (spec §6).
type Play struct {
	ID      string
	Version string

	Account        Account
	SymbolUniverse []string
	Timeframes     Timeframes
	FeatureSpecs   map[string][]builder.FeatureRequest // keyed by role name
	SignalRules    SignalRules
	RiskModel      RiskModel
	PositionPolicy risk.PositionPolicyMode
	AllowFlip      bool
}

// Validate runs the Play's cross-field checks against reg (spec §6
// "Loader validates against the indicator registry; the core receives an
// already-validated tree" — this is that validation, performed
// defensively by the core itself rather than trusted blindly from the
// loader).
func Validate(p *Play, reg *registry.Registry) error {
	if p.ID == "" {
		return errs.New(errs.InvalidPlay, "play id must not be empty")
	}
	if p.Version == "" {
		return errs.New(errs.InvalidPlay, "play version must not be empty")
	}
	if len(p.SymbolUniverse) == 0 {
		return errs.New(errs.InvalidPlay, "symbol_universe must not be empty")
	}
	if err := validateTimeframes(p.Timeframes); err != nil {
		return err
	}
	if err := validateAccount(p.Account); err != nil {
		return err
	}
	for role, specs := range p.FeatureSpecs {
		for _, fr := range specs {
			if _, err := reg.ValidateParams(fr.IndicatorType, fr.Params); err != nil {
				return errs.New(errs.InvalidPlay, "feature_spec %q on %s: %v", fr.ID, role, err)
			}
		}
	}
	switch p.PositionPolicy {
	case risk.LongOnly, risk.ShortOnly, risk.LongShort:
	default:
		return errs.New(errs.InvalidPlay, "unrecognised position_policy %q", p.PositionPolicy)
	}
	if p.PositionPolicy == risk.LongOnly && p.SignalRules.Short != nil {
		return errs.New(errs.InvalidPlay, "position_policy long_only declares short signal_rules")
	}
	if p.PositionPolicy == risk.ShortOnly && p.SignalRules.Long != nil {
		return errs.New(errs.InvalidPlay, "position_policy short_only declares long signal_rules")
	}
	if p.RiskModel.MaxBarsInTrade < 0 {
		return errs.New(errs.InvalidPlay, "risk_model.max_bars_in_trade must be non-negative")
	}
	return nil
}

func validateAccount(a Account) error {
	if a.StartingEquityUSDT <= 0 {
		return errs.New(errs.InvalidPlay, "account.starting_equity_usdt must be positive")
	}
	if a.MaxLeverage <= 0 {
		return errs.New(errs.InvalidPlay, "account.max_leverage must be positive")
	}
	if a.MinTradeNotionalUSDT < 0 {
		return errs.New(errs.InvalidPlay, "account.min_trade_notional_usdt must be non-negative")
	}
	return nil
}

func validateTimeframes(tf Timeframes) error {
	if tf.LowTF.DurationMs <= 0 {
		return errs.New(errs.InvalidPlay, "timeframes.low_tf is required")
	}
	prev := tf.LowTF.DurationMs
	if tf.MedTF != nil {
		if tf.MedTF.DurationMs <= prev {
			return errs.New(errs.InvalidPlay, "timeframes.med_tf must be strictly longer than low_tf")
		}
		prev = tf.MedTF.DurationMs
	}
	if tf.HighTF != nil {
		if tf.HighTF.DurationMs <= prev {
			return errs.New(errs.InvalidPlay, "timeframes.high_tf must be strictly longer than med_tf/low_tf")
		}
	}
	switch tf.Exec {
	case "low_tf":
	case "med_tf":
		if tf.MedTF == nil {
			return errs.New(errs.InvalidPlay, "timeframes.exec=med_tf but med_tf is not declared")
		}
	case "high_tf":
		if tf.HighTF == nil {
			return errs.New(errs.InvalidPlay, "timeframes.exec=high_tf but high_tf is not declared")
		}
	default:
		return errs.New(errs.InvalidPlay, "timeframes.exec must be one of low_tf/med_tf/high_tf, got %q", tf.Exec)
	}
	return nil
}
