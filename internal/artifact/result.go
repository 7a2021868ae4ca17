package artifact

import "github.com/quantforge/backtestcore/internal/exchange"

// Result is the `result.json` aggregate-metrics artifact (spec §6,
// testable properties in §8). Metrics carries a flattened snapshot of
// the run's Prometheus counters so offline analysis doesn't need a live
// scrape (SPEC_FULL "Run-scoped Prometheus snapshot").
type Result struct {
	FullHash  string `json:"full_hash"`
	ShortHash string `json:"short_hash"`

	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`

	TotalRealizedPnLUSDT float64 `json:"total_realized_pnl_usdt"`
	TotalFeesPaidUSDT    float64 `json:"total_fees_paid_usdt"`
	TotalFundingPaidUSDT float64 `json:"total_funding_paid_usdt"`

	StartingEquityUSDT float64 `json:"starting_equity_usdt"`
	FinalEquityUSDT    float64 `json:"final_equity_usdt"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	Liquidations       int     `json:"liquidations"`

	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Summarize aggregates trades and the equity curve into a Result.
func Summarize(trades []exchange.Trade, equityCurve []EquityPoint, fullHash, shortHash string, snapshot map[string]float64) Result {
	r := Result{FullHash: fullHash, ShortHash: shortHash, Metrics: snapshot}
	for _, t := range trades {
		r.TotalTrades++
		if t.RealizedPnLUSDT > 0 {
			r.Wins++
		} else {
			r.Losses++
		}
		r.TotalRealizedPnLUSDT += t.RealizedPnLUSDT
		r.TotalFeesPaidUSDT += t.FeesPaidUSDT
		r.TotalFundingPaidUSDT += t.FundingPaidUSDT
		if t.ExitReason == exchange.ExitLiquidation {
			r.Liquidations++
		}
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.TotalTrades)
	}
	if len(equityCurve) > 0 {
		r.StartingEquityUSDT = equityCurve[0].Equity
		r.FinalEquityUSDT = equityCurve[len(equityCurve)-1].Equity
		r.MaxDrawdownPct = maxDrawdownPct(equityCurve)
	}
	return r
}

func maxDrawdownPct(curve []EquityPoint) float64 {
	peak := curve[0].Equity
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.Equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

// WriteResultJSON writes r as indented JSON to path.
func WriteResultJSON(path string, r Result) error {
	return writeJSON(path, r)
}
