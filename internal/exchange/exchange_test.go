package exchange

import (
	"testing"

	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseCfg() Config {
	return Config{StartingEquityUSDT: 1000, MaxLeverage: 10, TakerFeeBps: 5, SlippageBps: 0, MaintenanceMarginRate: 0.005}
}

func bar(tsOpen int64, o, h, l, c float64) barfeed.Bar {
	return barfeed.Bar{TsOpen: tsOpen, TsClose: tsOpen + 3_600_000, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func TestEntryFillsAtNextBarOpen(t *testing.T) {
	ex := New(baseCfg(), nil)
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 100, StopLoss: 90, TakeProfit: 120}, 0)

	require.NoError(t, ex.ProcessBar(0, bar(0, 100, 101, 99, 100)))
	assert.Nil(t, ex.Position(), "must not fill on the same bar it was queued")

	require.NoError(t, ex.ProcessBar(1, bar(3_600_000, 100, 102, 99, 101)))
	require.NotNil(t, ex.Position())
	assert.Equal(t, 100.0, ex.Position().EntryPrice)
	assert.Equal(t, 10.0, ex.Position().UsedMargin)
}

func TestStopLossCheckedBeforeTakeProfitOnAmbiguousBar(t *testing.T) {
	ex := New(baseCfg(), nil)
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 100, StopLoss: 95, TakeProfit: 105}, 0)
	require.NoError(t, ex.ProcessBar(0, bar(0, 100, 100, 100, 100)))
	// a single bar whose range touches both levels, no mark series
	require.NoError(t, ex.ProcessBar(1, bar(3_600_000, 100, 106, 94, 100)))

	require.Nil(t, ex.Position())
	require.Len(t, ex.Trades(), 1)
	assert.Equal(t, ExitStopLoss, ex.Trades()[0].ExitReason)
	assert.Equal(t, 95.0, ex.Trades()[0].ExitPrice)
}

func TestMarkSeriesResolvesEarlierCrossing(t *testing.T) {
	ex := New(baseCfg(), nil)
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 100, StopLoss: 95, TakeProfit: 105}, 0)
	require.NoError(t, ex.ProcessBar(0, bar(0, 100, 100, 100, 100)))

	b := bar(3_600_000, 100, 106, 94, 100)
	b.Marks = []barfeed.MarkPoint{
		{TsMs: b.TsOpen + 100, Price: 106}, // TP touched first chronologically
		{TsMs: b.TsOpen + 200, Price: 94},
	}
	require.NoError(t, ex.ProcessBar(1, b))

	require.Len(t, ex.Trades(), 1)
	assert.Equal(t, ExitTakeProfit, ex.Trades()[0].ExitReason)
}

func TestLiquidationClosesWhenEquityBelowMaintenanceMargin(t *testing.T) {
	cfg := baseCfg()
	cfg.StartingEquityUSDT = 100 // thin account relative to position size so a drop liquidates
	cfg.MaxLeverage = 20
	ex := New(cfg, nil)
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 1000, StopLoss: 50, TakeProfit: 200}, 0)
	require.NoError(t, ex.ProcessBar(0, bar(0, 100, 100, 100, 100)))
	require.NoError(t, ex.ProcessBar(1, bar(3_600_000, 100, 100, 100, 100)))
	require.NotNil(t, ex.Position())

	// crash the mark price far enough that equity falls through maintenance margin
	require.NoError(t, ex.ProcessBar(2, bar(7_200_000, 95, 96, 60, 60)))

	require.Nil(t, ex.Position())
	require.Len(t, ex.Trades(), 1)
	assert.Equal(t, ExitLiquidation, ex.Trades()[0].ExitReason)
}

func TestFundingAppliedAtBoundaryLongPaysShort(t *testing.T) {
	ex := New(baseCfg(), FundingTable{28_800_000: 0.0001})
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 1000, StopLoss: 50, TakeProfit: 200}, 0)
	require.NoError(t, ex.ProcessBar(0, bar(25_200_000-3_600_000, 100, 100, 100, 100)))
	require.NoError(t, ex.ProcessBar(1, bar(25_200_000, 100, 100, 100, 100)))
	cashBeforeFunding := ex.Ledger().CashBalance

	// bar spanning the 08:00 UTC boundary (28_800_000ms)
	require.NoError(t, ex.ProcessBar(2, bar(28_800_000-1_800_000, 100, 101, 99, 100)))
	assert.Less(t, ex.Ledger().CashBalance, cashBeforeFunding, "a long must pay funding at a positive-rate boundary")
}

func TestForceCloseEndOfData(t *testing.T) {
	ex := New(baseCfg(), nil)
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 100, StopLoss: 50, TakeProfit: 200}, 0)
	require.NoError(t, ex.ProcessBar(0, bar(0, 100, 100, 100, 100)))
	require.NoError(t, ex.ProcessBar(1, bar(3_600_000, 100, 100, 100, 100)))
	require.NotNil(t, ex.Position())

	last := bar(7_200_000, 100, 100, 100, 105)
	require.NoError(t, ex.ProcessBar(2, last))
	ex.ForceCloseEndOfData(last)

	require.Nil(t, ex.Position())
	trade := ex.Trades()[len(ex.Trades())-1]
	assert.Equal(t, ExitEndOfData, trade.ExitReason)
	assert.Equal(t, SourceBarClose, trade.ExitPriceSource)
}

func TestLedgerInvariantsHoldAfterEveryStep(t *testing.T) {
	ex := New(baseCfg(), nil)
	ex.QueueEntryOrExit(risk.Signal{Action: "entry_long", Side: "long", SizeUSDT: 200, StopLoss: 90, TakeProfit: 120}, 0)
	require.NoError(t, ex.ProcessBar(0, bar(0, 100, 100, 100, 100)))
	require.NoError(t, ex.ProcessBar(1, bar(3_600_000, 100, 101, 99, 100)))
	l := ex.Ledger()
	assert.InDelta(t, l.CashBalance+l.UnrealizedPnL, l.Equity(), 1e-9)
	assert.GreaterOrEqual(t, l.AvailableBalance(), 0.0)
}
