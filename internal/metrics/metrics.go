// Package metrics wires github.com/prometheus/client_golang into the
// backtest core, generalizing the teacher's metrics.go pattern (global
// MustRegister into the default registry) to a private registry owned by
// each run: many runs execute in the same process during parameter
// sweeps and tests, and the spec's "no ambient state between runs" rule
// (§5) forbids sharing a package-level registry across them.
package metrics

import (
	"github.com/quantforge/backtestcore/internal/exchange"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is one run's counters/gauges, registered into a private
// registry so concurrent runs never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	tradesTotal        *prometheus.CounterVec
	exitsByReason      *prometheus.CounterVec
	liquidationsTotal  prometheus.Counter
	fundingPaidUSDT     prometheus.Counter
	policyRejectsTotal *prometheus.CounterVec
	invariantChecks    prometheus.Counter
	equityUSD          prometheus.Gauge
}

// New builds a Metrics instance with its own private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Closed trades, split by side and result.",
		}, []string{"side", "result"}),
		exitsByReason: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_exits_total",
			Help: "Closed trades, split by exit reason.",
		}, []string{"reason"}),
		liquidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_liquidations_total",
			Help: "Positions force-closed by the liquidation check.",
		}),
		fundingPaidUSDT: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_funding_paid_usdt_total",
			Help: "Cumulative absolute funding paid across the run.",
		}),
		policyRejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_policy_rejects_total",
			Help: "Intents rejected by the Risk Policy, split by reject reason.",
		}, []string{"reason"}),
		invariantChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_invariant_checks_total",
			Help: "Per-bar ledger invariant recomputations performed.",
		}),
		equityUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_equity_usd",
			Help: "Current account equity in USDT.",
		}),
	}
	m.registry.MustRegister(
		m.tradesTotal, m.exitsByReason, m.liquidationsTotal,
		m.fundingPaidUSDT, m.policyRejectsTotal, m.invariantChecks, m.equityUSD,
	)
	return m
}

// Registry exposes the private registry for an optional /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordTrade updates trade/exit counters and funding/liquidation
// tallies from one closed Trade.
func (m *Metrics) RecordTrade(t exchange.Trade) {
	result := "loss"
	if t.RealizedPnLUSDT > 0 {
		result = "win"
	}
	m.tradesTotal.WithLabelValues(t.Side, result).Inc()
	m.exitsByReason.WithLabelValues(string(t.ExitReason)).Inc()
	if t.ExitReason == exchange.ExitLiquidation {
		m.liquidationsTotal.Inc()
	}
	if t.FundingPaidUSDT != 0 {
		abs := t.FundingPaidUSDT
		if abs < 0 {
			abs = -abs
		}
		m.fundingPaidUSDT.Add(abs)
	}
}

// RecordPolicyReject tallies one policy rejection under reason. The engine
// passes the rejected intent's Reason, not the errs.PolicyReject message.
func (m *Metrics) RecordPolicyReject(reason string) {
	m.policyRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordInvariantCheck tallies one per-bar invariant recomputation.
func (m *Metrics) RecordInvariantCheck() { m.invariantChecks.Inc() }

// SetEquity publishes the current account equity.
func (m *Metrics) SetEquity(usd float64) { m.equityUSD.Set(usd) }

// Snapshot flattens every counter/gauge into a label-qualified map, so
// result.json can carry the run's metrics without a live Prometheus
// scrape (spec SPEC_FULL "Run-scoped Prometheus snapshot").
func (m *Metrics) Snapshot() map[string]float64 {
	out := map[string]float64{}
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			key := fam.GetName()
			for _, lp := range metric.GetLabel() {
				key += "." + lp.GetValue()
			}
			var v float64
			switch {
			case metric.Counter != nil:
				v = metric.Counter.GetValue()
			case metric.Gauge != nil:
				v = metric.Gauge.GetValue()
			}
			out[key] = v
		}
	}
	return out
}
