package registry

import (
	"math"

	"github.com/quantforge/backtestcore/internal/indicatorlib"
)

// NewDefault returns a Registry pre-populated with the indicator library
// implemented in internal/indicatorlib, each wrapped in the declared
// parameter schema spec §9 requires in place of the source's loose kwargs.
func NewDefault() *Registry {
	r := New()

	r.Register(IndicatorDef{
		Type:    "sma",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 1, Max: 2000, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.SMA(in.Close, n)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "ema",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 1, Max: 2000, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 3 * ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.EMA(in.Close, n)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "rsi",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 1, Max: 2000, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 2 * ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.RSI(in.Close, n)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "zscore",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 2, Max: 2000, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.ZScore(in.Close, n)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "stddev",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 2, Max: 2000, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.StdDev(in.Close, n)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "atr",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 1, Max: 2000, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 2 * ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.ATR(in.High, in.Low, in.Close, n)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type: "vwap",
		Params: []ParamSpec{
			{Name: "anchor", Kind: ParamEnum, EnumValues: []string{"none", "daily", "weekly_iso"}, Default: "daily"},
		},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 0 },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			anchor := indicatorlib.AnchorDaily
			switch p["anchor"] {
			case "none":
				anchor = indicatorlib.AnchorNone
			case "weekly_iso":
				anchor = indicatorlib.AnchorWeeklyISO
			}
			return map[string][]float64{"": indicatorlib.VWAP(in.TsOpen, in.High, in.Low, in.Close, in.Volume, anchor)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type: "macd",
		Params: []ParamSpec{
			{Name: "fast", Kind: ParamInt, Min: 1, Max: 500, Required: true},
			{Name: "slow", Kind: ParamInt, Min: 1, Max: 500, Required: true},
			{Name: "signal", Kind: ParamInt, Min: 1, Max: 500, Required: true},
		},
		Outputs: []string{"macd", "signal", "histogram"},
		Warmup: func(p map[string]any) int {
			slow := ParamInt64(p, "slow")
			return 3 * slow
		},
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			f, s, sig := ParamInt64(p, "fast"), ParamInt64(p, "slow"), ParamInt64(p, "signal")
			macd, signal, hist := indicatorlib.MACD(in.Close, f, s, sig)
			return map[string][]float64{"macd": macd, "signal": signal, "histogram": hist}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "obv",
		Params:  nil,
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 0 },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			return map[string][]float64{"": indicatorlib.OBV(in.Close, in.Volume)}, nil
		},
	})

	r.Register(IndicatorDef{
		Type:    "fisher",
		Params:  []ParamSpec{{Name: "length", Kind: ParamInt, Min: 2, Max: 500, Required: true}},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 2 * ParamInt64(p, "length") },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			n := ParamInt64(p, "length")
			return map[string][]float64{"": indicatorlib.Fisher(in.High, in.Low, n)}, nil
		},
	})

	// anchored_vwap is BatchOnly==false is wrong; it is the textbook case
	// from spec §9: batch output is NaN placeholders only, the engine
	// overwrites per bar from internal/incstate once the anchor Swing's
	// version bumps.
	r.Register(IndicatorDef{
		Type:      "anchored_vwap",
		BatchOnly: true,
		Params: []ParamSpec{
			{Name: "anchor_swing_key", Kind: ParamString, Required: true},
		},
		Outputs: []string{""},
		Warmup:  func(p map[string]any) int { return 0 },
		Compute: func(in BatchInputs, p map[string]any) (map[string][]float64, error) {
			nan := make([]float64, len(in.Close))
			for i := range nan {
				nan[i] = math.NaN()
			}
			return map[string][]float64{"": nan}, nil
		},
	})

	return r
}
