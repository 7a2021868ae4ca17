// Package engine implements the deterministic single-threaded Engine Loop
// of spec §4.7: one bar at a time, in a fixed step order, with no
// suspension points inside the hot loop (spec §5 "Concurrency & Resource
// Model"). A Feed Store plus its detector states belong to exactly one
// Engine for the run's lifetime.
package engine

import (
	"log"

	"github.com/quantforge/backtestcore/internal/artifact"
	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/dsl"
	"github.com/quantforge/backtestcore/internal/exchange"
	"github.com/quantforge/backtestcore/internal/incstate"
	"github.com/quantforge/backtestcore/internal/metrics"
	"github.com/quantforge/backtestcore/internal/play"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/quantforge/backtestcore/internal/risk"
	"github.com/quantforge/backtestcore/internal/snapshot"
)

// reasonMaxBarsInTrade is the Reason carried by the supplemental
// max_bars_in_trade guard's exit signal (exit_reason=SIGNAL, spec §8).
const reasonMaxBarsInTrade = "max_bars_in_trade"

// Config bundles everything one deterministic run needs. Feeds and
// Incremental are expected to already be built/frozen by the Data Frame
// Builder (spec §4.1); the Engine only ever reads them forward.
type Config struct {
	Play         *play.Play
	Feeds        *barfeed.MultiTFFeedStore
	Incremental  *incstate.MultiTFIncrementalState
	Features     *registry.FeatureTable
	SimStartIdx  int
	FundingTable exchange.FundingTable

	// IDSeed feeds the exchange's deterministic trade-ID derivation (spec
	// §8: identical Play hash + data window + data source id + seed must
	// reproduce byte-identical trades).
	IDSeed string

	Metrics *metrics.Metrics     // optional; nil disables counter/gauge recording
	Events  *artifact.EventWriter // optional; nil disables the event log
}

// Engine runs the bar-by-bar loop over a single Feed Store it exclusively
// owns for the run.
type Engine struct {
	play     *play.Play
	feeds    *barfeed.MultiTFFeedStore
	incr     *incstate.MultiTFIncrementalState
	features *registry.FeatureTable
	exch     *exchange.Exchange
	riskCfg  risk.Config
	metrics  *metrics.Metrics
	events   *artifact.EventWriter

	simStartIdx    int
	ctxIdx         map[barfeed.Role]int
	equityCurve    []artifact.EquityPoint
	tradesRecorded int // index into exch.Trades() already sent to metrics/events
}

// New constructs an Engine from cfg. It owns the exchange instance it
// creates; callers never touch it directly.
func New(cfg Config) *Engine {
	exCfg := cfg.Play.Account.ToExchangeConfig()
	exCfg.IDSeed = cfg.IDSeed

	return &Engine{
		play:        cfg.Play,
		feeds:       cfg.Feeds,
		incr:        cfg.Incremental,
		features:    cfg.Features,
		exch:        exchange.New(exCfg, cfg.FundingTable),
		riskCfg:     cfg.Play.Account.ToRiskConfig(cfg.Play.PositionPolicy, cfg.Play.AllowFlip),
		metrics:     cfg.Metrics,
		events:      cfg.Events,
		simStartIdx: cfg.SimStartIdx,
		ctxIdx:      make(map[barfeed.Role]int),
	}
}

// Trades returns every closed trade so far (exported for callers that want
// to write trades.parquet/csv alongside Run's Result).
func (e *Engine) Trades() []exchange.Trade { return e.exch.Trades() }

// EquityCurve returns the per-bar equity points recorded this run.
func (e *Engine) EquityCurve() []artifact.EquityPoint { return e.equityCurve }

// Run steps the exec feed from SimStartIdx through its last bar,
// implementing spec §4.7's per-bar step sequence:
//
//	process_bar (steps 2-7) -> update_incremental_state -> build_snapshot
//	-> evaluate_rules -> policy -> queue_entry_or_exit -> record_equity
//
// Any position still open after the last bar is force-closed at that
// bar's close with exit_reason=END_OF_DATA (spec §8).
func (e *Engine) Run() (artifact.Result, error) {
	execFeed := e.feeds.Exec()
	n := execFeed.Len()

	for i := e.simStartIdx; i < n; i++ {
		bar := execFeed.Bar(i)

		if err := e.exch.ProcessBar(i, bar); err != nil {
			return artifact.Result{}, err
		}
		if e.metrics != nil {
			e.metrics.RecordInvariantCheck()
		}
		e.emitTradeCloses()

		e.incr.Advance(bar.TsClose)
		e.refreshCtxIdx(bar.TsClose)

		e.enforceMaxBarsInTrade(i)

		view := snapshot.New(e.feeds, e.incr, e.features, i, e.ctxIdx)
		e.populateView(view)

		for _, intent := range e.evaluateRules(view) {
			sig, err := risk.Evaluate(intent, view, e.portfolio(), e.riskCfg)
			if err != nil {
				if e.metrics != nil {
					e.metrics.RecordPolicyReject(intent.Reason)
				}
				e.emitEvent("policy_reject", bar.TsClose, map[string]any{"reason": err.Error()})
				continue
			}
			e.exch.QueueEntryOrExit(*sig, i)
		}

		e.recordEquityPoint(bar.TsClose)
	}

	if e.exch.Position() != nil {
		log.Printf("[ENGINE] force-closing open position at end of data, bar %d", n-1)
		e.exch.ForceCloseEndOfData(execFeed.Bar(n - 1))
		e.emitTradeCloses()
		e.updateLastEquityPoint() // realize the closed position's final equity, same ts, no new point
	}

	snap := map[string]float64(nil)
	if e.metrics != nil {
		snap = e.metrics.Snapshot()
	}
	return artifact.Summarize(e.exch.Trades(), e.equityCurve, "", "", snap), nil
}

// refreshCtxIdx updates, for every declared role whose FeedStore reports a
// bar closing exactly at ts, that role's snapshot context index. Roles
// that did not close simply keep their previous index — forward-fill by
// construction, matching incstate.MultiTFIncrementalState.Advance (spec
// §4.2).
func (e *Engine) refreshCtxIdx(ts int64) {
	for role := range e.feeds.Stores {
		if idx, ok := e.feeds.ClosesAt(role, ts); ok {
			e.ctxIdx[role] = idx
		}
	}
}

// enforceMaxBarsInTrade force-exits a position that has been open for
// risk_model.max_bars_in_trade exec bars or longer (SUPPLEMENTAL
// FEATURES; zero disables the guard). The exit lands as exit_reason=SIGNAL
// with reason "max_bars_in_trade", not FORCE_CLOSE, since it is an
// ordinary rule-level exit rather than an engine-level abort.
func (e *Engine) enforceMaxBarsInTrade(execIdx int) {
	maxBars := e.play.RiskModel.MaxBarsInTrade
	pos := e.exch.Position()
	if maxBars <= 0 || pos == nil {
		return
	}
	if execIdx-pos.EntryBarIndex < maxBars {
		return
	}
	log.Printf("[ENGINE] max_bars_in_trade guard firing at bar %d: position opened bar %d, limit %d",
		execIdx, pos.EntryBarIndex, maxBars)
	side := dsl.ActionExitLong
	if pos.Side == "short" {
		side = dsl.ActionExitShort
	}
	e.exch.QueueEntryOrExit(risk.Signal{
		Action: side, Side: pos.Side, OrderKind: "MARKET", Reason: reasonMaxBarsInTrade,
	}, execIdx)
}

// evaluateRules runs every declared direction's entry/exit rule trees in
// declaration order (long entry, long exit, short entry, short exit) —
// deterministic per spec §5, regardless of which directions position
// policy ultimately allows (risk.Evaluate is the enforcement point).
func (e *Engine) evaluateRules(view *snapshot.View) []dsl.Intent {
	ctx := dsl.NewEvalContext(view)
	var rules []dsl.WhenEmit
	if dr := e.play.SignalRules.Long; dr != nil {
		rules = append(rules, dr.Entry...)
		rules = append(rules, dr.Exit...)
	}
	if dr := e.play.SignalRules.Short; dr != nil {
		rules = append(rules, dr.Entry...)
		rules = append(rules, dr.Exit...)
	}
	return dsl.EvaluateAll(rules, ctx)
}

// portfolio projects the exchange's ledger/position into the minimal view
// risk.Evaluate reads (spec §4.5).
func (e *Engine) portfolio() risk.Portfolio {
	ledger := e.exch.Ledger()
	p := risk.Portfolio{Equity: ledger.Equity(), AvailableBalance: ledger.AvailableBalance()}
	if pos := e.exch.Position(); pos != nil {
		p.PositionOpen = true
		p.PositionSide = pos.Side
	}
	return p
}

// populateView fills the snapshot's position/pending-order built-ins from
// the exchange's current state (spec §4.3 "position.*"/"pending_order_count").
func (e *Engine) populateView(view *snapshot.View) {
	pos := e.exch.Position()
	if pos == nil {
		return
	}
	view.Position = snapshot.Position{
		Open:          true,
		Side:          pos.Side,
		SizeUSDT:      pos.SizeUSDT,
		AvgEntry:      pos.EntryPrice,
		UnrealizedPnL: e.exch.Ledger().UnrealizedPnL,
	}
}

// recordEquityPoint appends the post-bar equity curve entry and updates
// the run's equity gauge (spec §4.7 "record_equity_point").
func (e *Engine) recordEquityPoint(tsMs int64) {
	ledger := e.exch.Ledger()
	if e.metrics != nil {
		e.metrics.SetEquity(ledger.Equity())
	}
	e.equityCurve = append(e.equityCurve, artifact.EquityPoint{
		TsMs:          tsMs,
		Equity:        ledger.Equity(),
		CashBalance:   ledger.CashBalance,
		UnrealizedPnL: ledger.UnrealizedPnL,
		UsedMargin:    ledger.UsedMargin,
	})
}

// updateLastEquityPoint overwrites the final recorded equity point in
// place (same ts_close) with the post-force-close ledger state, rather
// than appending a second point for the already-recorded last bar.
func (e *Engine) updateLastEquityPoint() {
	if len(e.equityCurve) == 0 {
		return
	}
	ledger := e.exch.Ledger()
	if e.metrics != nil {
		e.metrics.SetEquity(ledger.Equity())
	}
	last := &e.equityCurve[len(e.equityCurve)-1]
	last.Equity = ledger.Equity()
	last.CashBalance = ledger.CashBalance
	last.UnrealizedPnL = ledger.UnrealizedPnL
	last.UsedMargin = ledger.UsedMargin
}

// emitTradeCloses records every trade closed as of trades[lastSeen:] into
// metrics and the optional event log. Called once per bar so a bar whose
// ProcessBar or force-close step closes a trade is accounted for exactly
// once.
func (e *Engine) emitTradeCloses() {
	trades := e.exch.Trades()
	for i := e.tradesRecorded; i < len(trades); i++ {
		t := trades[i]
		if e.metrics != nil {
			e.metrics.RecordTrade(t)
		}
		e.emitEvent("trade_exit", t.ExitTs, map[string]any{
			"id": t.ID, "side": t.Side, "exit_reason": string(t.ExitReason),
			"realized_pnl_usdt": t.RealizedPnLUSDT,
		})
	}
	e.tradesRecorded = len(trades)
}

func (e *Engine) emitEvent(eventType string, tsMs int64, data map[string]any) {
	if e.events == nil {
		return
	}
	// Event log write failures are non-fatal diagnostics (spec §6 "best
	// effort"); the run's trades/equity are the source of truth.
	_ = e.events.Emit(eventType, tsMs, data)
}
