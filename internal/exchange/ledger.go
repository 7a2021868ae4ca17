// Package exchange implements the Bybit-aligned isolated-margin USDT
// simulator of spec §4.6: a fixed seven-step per-bar order (bar context,
// funding, queued-entry fills, intrabar TP/SL, mark-to-market,
// liquidation, invariant recompute), one position at a time, no partial
// fills, no random numbers.
package exchange

import "math"

// Ledger holds the USDT account state. Equity/free_margin/
// available_balance are always derived, never stored redundantly, so the
// identities of spec §8 hold by construction (Exchange.checkInvariants
// still asserts them, since the contract calls for recomputation, not
// trust).
type Ledger struct {
	CashBalance       float64
	UnrealizedPnL     float64
	UsedMargin        float64
	MaintenanceMargin float64
}

// Equity is cash + unrealized PnL (spec §3 Ledger).
func (l Ledger) Equity() float64 { return l.CashBalance + l.UnrealizedPnL }

// FreeMargin is equity minus used margin.
func (l Ledger) FreeMargin() float64 { return l.Equity() - l.UsedMargin }

// AvailableBalance is free margin floored at zero.
func (l Ledger) AvailableBalance() float64 { return math.Max(0, l.FreeMargin()) }
