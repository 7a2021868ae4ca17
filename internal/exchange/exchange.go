package exchange

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/errs"
	"github.com/quantforge/backtestcore/internal/risk"
)

const fundingIntervalMs = 8 * 60 * 60 * 1000 // 00:00 / 08:00 / 16:00 UTC

// Config is the exchange's account-level, Bybit-aligned simulation
// parameters (spec §4.6).
type Config struct {
	StartingEquityUSDT   float64
	MaxLeverage          float64
	TakerFeeBps          float64 // v1 treats every fill as taker
	SlippageBps          float64
	MaintenanceMarginRate float64 // default 0.005

	// IDSeed roots the deterministic trade-ID derivation (spec §8
	// "Determinism" forbids a random id: two identical runs must produce
	// byte-identical trades). The engine passes its Config.IDSeed through
	// unchanged, so the same seed always yields the same trade IDs.
	IDSeed string
}

// FundingTable maps an exact funding-boundary timestamp (ms, UTC) to the
// funding rate effective at that boundary. Missing entries mean no
// funding event fires at that boundary.
type FundingTable map[int64]float64

// queued is a signal accepted after the close of one bar, fillable only
// at the next bar's open (spec §4.6 step 3 — never the current bar).
type queued struct {
	signal      risk.Signal
	queuedAtBar int
}

// Exchange is the deterministic isolated-margin USDT simulator (spec
// §4.6). One position open at a time; no partial fills; no randomness.
type Exchange struct {
	cfg     Config
	funding FundingTable

	ledger   Ledger
	position *Position
	pending  *queued
	trades   []Trade

	barIndex int
	ts       int64
}

// New builds an Exchange seeded at cfg.StartingEquityUSDT.
func New(cfg Config, funding FundingTable) *Exchange {
	if funding == nil {
		funding = FundingTable{}
	}
	return &Exchange{
		cfg:     cfg,
		funding: funding,
		ledger:  Ledger{CashBalance: cfg.StartingEquityUSDT},
	}
}

// Ledger returns the current account ledger.
func (e *Exchange) Ledger() Ledger { return e.ledger }

// Position returns the open position, or nil.
func (e *Exchange) Position() *Position { return e.position }

// Trades returns every closed trade so far, in close order.
func (e *Exchange) Trades() []Trade { return e.trades }

// QueueEntryOrExit accepts a risk-validated Signal emitted at the close
// of the current bar. Entries and exits both fill at the NEXT bar's open
// (step 3); adjust_stop/adjust_target mutate the open position immediately
// since they carry no fill mechanics.
func (e *Exchange) QueueEntryOrExit(sig risk.Signal, atBarIndex int) {
	switch sig.Action {
	case "adjust_stop":
		if e.position != nil {
			e.position.StopLoss = sig.StopLoss
		}
		return
	case "adjust_target":
		if e.position != nil {
			e.position.TakeProfit = sig.TakeProfit
		}
		return
	}
	// entry_long/entry_short: no pyramiding — ignore if a position is
	// already open. exit_long/exit_short/exit_all: queue unconditionally,
	// a no-op at fill time if nothing is open.
	if (sig.Action == "entry_long" || sig.Action == "entry_short") && e.position != nil {
		return
	}
	e.pending = &queued{signal: sig, queuedAtBar: atBarIndex}
}

// ProcessBar runs the fixed seven-step per-bar order of spec §4.6 against
// bar, which must be the bar at barIndex/closing at ts. Step 1 (set bar
// context) is folded into the call itself.
func (e *Exchange) ProcessBar(barIndex int, bar barfeed.Bar) error {
	e.barIndex = barIndex
	e.ts = bar.TsClose

	e.applyFunding(bar)
	e.fillQueued(bar)
	e.checkIntrabarExit(bar)
	e.markToMarket(bar)
	if err := e.checkLiquidation(bar); err != nil {
		return err
	}
	return e.checkInvariants()
}

// applyFunding settles funding at every 8h UTC boundary the bar spans
// (step 2). Sign convention: a long pays a short.
func (e *Exchange) applyFunding(bar barfeed.Bar) {
	if e.position == nil {
		return
	}
	for boundary := firstBoundaryAtOrAfter(bar.TsOpen); boundary < bar.TsClose; boundary += fundingIntervalMs {
		rate, ok := e.funding[boundary]
		if !ok {
			continue
		}
		amount := e.position.SizeUSDT * rate
		if e.position.Side == "long" {
			e.ledger.CashBalance -= amount
			e.position.FundingPaidUSDT += amount
		} else {
			e.ledger.CashBalance += amount
			e.position.FundingPaidUSDT -= amount
		}
	}
}

// deterministicTradeID derives a stable v5 UUID from the run's IDSeed and
// the entry bar index, so repeat runs of the same Play over the same
// window produce byte-identical trade IDs (spec §8 "Determinism").
func (e *Exchange) deterministicTradeID() string {
	name := fmt.Sprintf("%s/entry/%d", e.cfg.IDSeed, e.barIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func firstBoundaryAtOrAfter(ts int64) int64 {
	if ts%fundingIntervalMs == 0 {
		return ts
	}
	return (ts/fundingIntervalMs + 1) * fundingIntervalMs
}

// fillQueued fills any signal queued at a prior bar's close at this bar's
// open, plus slippage (step 3). Only one pending order is ever held.
func (e *Exchange) fillQueued(bar barfeed.Bar) {
	if e.pending == nil || e.pending.queuedAtBar >= e.barIndex {
		return
	}
	sig := e.pending.signal
	e.pending = nil

	switch sig.Action {
	case "entry_long", "entry_short":
		if e.position != nil {
			return
		}
		side := "long"
		slip := 1 + e.cfg.SlippageBps/10_000
		if sig.Action == "entry_short" {
			side = "short"
			slip = 1 - e.cfg.SlippageBps/10_000
		}
		fillPrice := bar.Open * slip
		entryFee := sig.SizeUSDT * e.cfg.TakerFeeBps / 10_000
		e.ledger.CashBalance -= entryFee
		e.position = &Position{
			ID:   e.deterministicTradeID(),
			Side: side, SizeUSDT: sig.SizeUSDT, EntryPrice: fillPrice,
			StopLoss: sig.StopLoss, TakeProfit: sig.TakeProfit,
			EntryTs: bar.TsOpen, EntryBarIndex: e.barIndex,
			UsedMargin: sig.SizeUSDT / e.cfg.MaxLeverage,
		}
		e.ledger.UsedMargin = e.position.UsedMargin
	case "exit_long", "exit_short", "exit_all":
		if e.position == nil {
			return
		}
		slip := 1 - e.cfg.SlippageBps/10_000
		if e.position.Side == "short" {
			slip = 1 + e.cfg.SlippageBps/10_000
		}
		e.closePosition(bar.TsOpen, bar.Open*slip, ExitSignal, SourceSignal, exitFee(e.position, e.cfg))
	}
}

// checkIntrabarExit closes the open position on an SL/TP touch within the
// bar (step 4). With a mark series present the earlier chronological
// crossing wins; without one, OHLC ambiguity resolves worst-case: SL
// before TP.
func (e *Exchange) checkIntrabarExit(bar barfeed.Bar) {
	if e.position == nil {
		return
	}
	p := e.position
	if len(bar.Marks) > 0 {
		for _, m := range bar.Marks {
			if touchesSL(p, m.Price) {
				e.closePosition(m.TsMs, p.StopLoss, ExitStopLoss, SourceSLLevel, exitFee(p, e.cfg))
				return
			}
			if touchesTP(p, m.Price) {
				e.closePosition(m.TsMs, p.TakeProfit, ExitTakeProfit, SourceTPLevel, exitFee(p, e.cfg))
				return
			}
		}
		return
	}
	slHit := touchesSL(p, bar.Low) || touchesSL(p, bar.High)
	tpHit := touchesTP(p, bar.Low) || touchesTP(p, bar.High)
	if slHit {
		e.closePosition(bar.TsClose, p.StopLoss, ExitStopLoss, SourceSLLevel, exitFee(p, e.cfg))
		return
	}
	if tpHit {
		e.closePosition(bar.TsClose, p.TakeProfit, ExitTakeProfit, SourceTPLevel, exitFee(p, e.cfg))
	}
}

func touchesSL(p *Position, price float64) bool {
	if p.Side == "long" {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

func touchesTP(p *Position, price float64) bool {
	if p.Side == "long" {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

func exitFee(p *Position, cfg Config) float64 {
	return p.SizeUSDT * cfg.TakerFeeBps / 10_000
}

// markToMarket revalues the open position at this bar's close (step 5)
// and tracks its MAE/MFE excursion.
func (e *Exchange) markToMarket(bar barfeed.Bar) {
	if e.position == nil {
		e.ledger.UnrealizedPnL = 0
		return
	}
	u := e.position.unrealizedPnL(bar.Close)
	e.position.trackExcursion(u)
	e.ledger.UnrealizedPnL = u
}

// checkLiquidation force-closes the position at mark if equity has
// fallen to or below maintenance margin (step 6).
func (e *Exchange) checkLiquidation(bar barfeed.Bar) error {
	if e.position == nil {
		e.ledger.MaintenanceMargin = 0
		return nil
	}
	e.ledger.MaintenanceMargin = e.position.SizeUSDT * e.cfg.MaintenanceMarginRate
	if e.ledger.Equity() > e.ledger.MaintenanceMargin {
		return nil
	}
	log.Printf("[EXCHANGE] liquidation at bar %d: equity %.8f <= maintenance %.8f, side=%s size=%.2f",
		e.barIndex, e.ledger.Equity(), e.ledger.MaintenanceMargin, e.position.Side, e.position.SizeUSDT)
	e.closePosition(bar.TsClose, bar.Close, ExitLiquidation, SourceLiquidation, exitFee(e.position, e.cfg))
	return nil
}

// checkInvariants recomputes the ledger identities of spec §8 and fails
// hard on a mismatch.
func (e *Exchange) checkInvariants() error {
	if e.position == nil && e.ledger.UsedMargin != 0 {
		return errs.Invariant(e.barIndex, "used_margin_without_position", "used_margin %.8f with no open position", e.ledger.UsedMargin)
	}
	if e.ledger.FreeMargin() > e.ledger.Equity() {
		return errs.Invariant(e.barIndex, "free_margin_exceeds_equity", "free_margin %.8f exceeds equity %.8f", e.ledger.FreeMargin(), e.ledger.Equity())
	}
	if e.ledger.AvailableBalance() < 0 {
		return errs.Invariant(e.barIndex, "available_balance_negative", "available_balance %.8f", e.ledger.AvailableBalance())
	}
	return nil
}

// ForceCloseEndOfData closes any open position at the final bar's close,
// exit_reason=END_OF_DATA (spec §4.6).
func (e *Exchange) ForceCloseEndOfData(bar barfeed.Bar) {
	if e.position == nil {
		return
	}
	e.closePosition(bar.TsClose, bar.Close, ExitEndOfData, SourceBarClose, exitFee(e.position, e.cfg))
}

// ForceClose closes any open position at bar's close outside the normal
// signal/TP/SL/liquidation paths, exit_reason=FORCE_CLOSE (spec §8's
// exit_reason enum) — used by the engine for an early-abort or
// mode-lock-violation flatten rather than an ordinary rule exit.
func (e *Exchange) ForceClose(bar barfeed.Bar) {
	if e.position == nil {
		return
	}
	e.closePosition(bar.TsClose, bar.Close, ExitForceClose, SourceBarClose, exitFee(e.position, e.cfg))
}

func (e *Exchange) closePosition(exitTs int64, exitPrice float64, reason ExitReason, source ExitPriceSource, fee float64) {
	p := e.position
	realized := p.unrealizedPnL(exitPrice)
	e.ledger.CashBalance += realized - fee
	e.ledger.UsedMargin = 0
	e.ledger.UnrealizedPnL = 0
	e.trades = append(e.trades, p.toTrade(exitTs, e.barIndex, exitPrice, reason, source, realized, fee))
	e.position = nil
}
