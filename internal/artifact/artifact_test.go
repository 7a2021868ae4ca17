package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantforge/backtestcore/internal/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrades() []exchange.Trade {
	return []exchange.Trade{
		{ID: "t1", Side: "long", SizeUSDT: 100, EntryTs: 0, ExitTs: 3_600_000, EntryPrice: 100, ExitPrice: 102, RealizedPnLUSDT: 2, FeesPaidUSDT: 0.05, ExitReason: exchange.ExitTakeProfit, ExitPriceSource: exchange.SourceTPLevel},
		{ID: "t2", Side: "short", SizeUSDT: 100, EntryTs: 3_600_000, ExitTs: 7_200_000, EntryPrice: 102, ExitPrice: 105, RealizedPnLUSDT: -3, FeesPaidUSDT: 0.05, ExitReason: exchange.ExitStopLoss, ExitPriceSource: exchange.SourceSLLevel},
	}
}

func TestWriteTradesCSVRoundTripsHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.csv")
	require.NoError(t, WriteTradesCSV(path, sampleTrades()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ts_ms,id,side")
	assert.Contains(t, string(b), "t1")
	assert.Contains(t, string(b), "TP")
}

func TestWriteEquityCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "equity.csv")
	points := []EquityPoint{{TsMs: 0, Equity: 1000}, {TsMs: 3_600_000, Equity: 1010}}
	require.NoError(t, WriteEquityCSV(path, points))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ts_ms,equity")
}

func TestComputeHashIsDeterministicAndOrderSensitive(t *testing.T) {
	in := ManifestInput{PlayCanonicalJSON: []byte(`{"id":"p1"}`), SymbolUniverse: []string{"BTCUSDT"}, WindowStartMs: 0, WindowEndMs: 1000, DataSourceID: "bybit_demo"}
	h1 := ComputeHash(in)
	h2 := ComputeHash(in)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	in.DataSourceID = "bybit_live"
	h3 := ComputeHash(in)
	assert.NotEqual(t, h1, h3)
}

func TestShortHashExtendsOnCollision(t *testing.T) {
	full := ComputeHash(ManifestInput{PlayCanonicalJSON: []byte("a")})
	other := ComputeHash(ManifestInput{PlayCanonicalJSON: []byte("b")})
	existing := map[string]string{full[:8]: "some-other-full-hash-not-matching"}
	got := ShortHash(full, existing)
	assert.Len(t, got, 12)

	existing2 := map[string]string{other[:8]: other}
	got2 := ShortHash(other, existing2)
	assert.Len(t, got2, 8)
}

func TestSummarizeComputesWinRateAndDrawdown(t *testing.T) {
	curve := []EquityPoint{{Equity: 1000}, {Equity: 1100}, {Equity: 950}, {Equity: 1050}}
	r := Summarize(sampleTrades(), curve, "fullhash", "short01", nil)
	assert.Equal(t, 2, r.TotalTrades)
	assert.Equal(t, 1, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 0.5, r.WinRate, 1e-9)
	assert.InDelta(t, 1000.0, r.StartingEquityUSDT, 1e-9)
	assert.InDelta(t, 1050.0, r.FinalEquityUSDT, 1e-9)
	assert.InDelta(t, (1100.0-950.0)/1100.0*100, r.MaxDrawdownPct, 1e-9)
}

func TestEventWriterProducesDeterministicIDsAcrossWriters(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.jsonl")
	w1, err := NewEventWriter(p1, "seed-1")
	require.NoError(t, err)
	require.NoError(t, w1.Emit("trade_entry", 0, map[string]any{"side": "long"}))
	require.NoError(t, w1.Close())

	p2 := filepath.Join(dir, "b.jsonl")
	w2, err := NewEventWriter(p2, "seed-1")
	require.NoError(t, err)
	require.NoError(t, w2.Emit("trade_entry", 0, map[string]any{"side": "long"}))
	require.NoError(t, w2.Close())

	b1, _ := os.ReadFile(p1)
	b2, _ := os.ReadFile(p2)
	assert.Equal(t, string(b1), string(b2), "identical seed must reproduce identical event ids")
}

func TestWriteManifestAndResultJSON(t *testing.T) {
	dir := t.TempDir()
	mPath := filepath.Join(dir, "run_manifest.json")
	require.NoError(t, WriteManifest(mPath, RunManifest{FullHash: "abc", ShortHash: "ab", PlayID: "p1"}))
	b, err := os.ReadFile(mPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "\"full_hash\"")

	rPath := filepath.Join(dir, "result.json")
	require.NoError(t, WriteResultJSON(rPath, Result{FullHash: "abc", TotalTrades: 2}))
	b2, err := os.ReadFile(rPath)
	require.NoError(t, err)
	assert.Contains(t, string(b2), "\"total_trades\": 2")
}
