// Command btsmoke is a development harness, not a production CLI: it
// loads one CSV of closed candles, wires a small built-in SMA-cross
// demo Play, runs the Engine over the whole file, and writes the
// standard run-output layout to -out (spec §6). A real deployment's
// Play comes from an external YAML loader (spec §1 Non-goals); this
// harness constructs one in code so the core can be exercised without
// that collaborator.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantforge/backtestcore/internal/artifact"
	"github.com/quantforge/backtestcore/internal/barfeed"
	"github.com/quantforge/backtestcore/internal/builder"
	"github.com/quantforge/backtestcore/internal/dsl"
	"github.com/quantforge/backtestcore/internal/engine"
	"github.com/quantforge/backtestcore/internal/incstate"
	"github.com/quantforge/backtestcore/internal/metrics"
	"github.com/quantforge/backtestcore/internal/play"
	"github.com/quantforge/backtestcore/internal/registry"
	"github.com/quantforge/backtestcore/internal/risk"
)

func main() {
	csvPath := flag.String("csv", "", "path to a CSV of closed candles (time,open,high,low,close,volume)")
	outDir := flag.String("out", "./btsmoke-out", "directory to write the run's artifacts into")
	tfMs := flag.Int64("tf-ms", 3_600_000, "candle duration in milliseconds")
	fastLen := flag.Int("fast", 9, "fast SMA length")
	slowLen := flag.Int("slow", 21, "slow SMA length")
	stopPct := flag.Float64("stop-pct", 0.03, "stop_loss distance below slow SMA at entry, as a fraction")
	targetPct := flag.Float64("target-pct", 0.06, "take_profit distance above fast SMA at entry, as a fraction")
	equity := flag.Float64("equity", 1000, "starting account equity in USDT")
	leverage := flag.Float64("leverage", 5, "max account leverage")
	feeBps := flag.Float64("fee-bps", 5, "taker fee in basis points")
	sizeUSDT := flag.Float64("size-usdt", 100, "fixed entry notional in USDT")
	seed := flag.String("seed", "btsmoke-dev", "deterministic ID seed for trade/event ids")
	symbol := flag.String("symbol", "DEMOUSDT", "symbol label carried into the run manifest")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("-csv is required")
	}

	bars, err := loadCandleCSV(*csvPath, *tfMs)
	if err != nil {
		log.Fatalf("load candles: %v", err)
	}
	if len(bars) == 0 {
		log.Fatalf("no candles loaded from %s", *csvPath)
	}
	fmt.Printf("loaded %d candles from %s\n", len(bars), *csvPath)

	reg := registry.NewDefault()
	p := demoPlay(*equity, *leverage, *feeBps, *sizeUSDT, *fastLen, *slowLen, *stopPct, *targetPct, *tfMs)
	if err := play.Validate(p, reg); err != nil {
		log.Fatalf("invalid demo play: %v", err)
	}

	lowTF := barfeed.Timeframe{Role: barfeed.RoleLow, Name: fmt.Sprintf("%dms", *tfMs), DurationMs: *tfMs}

	// The simulation window must start after enough leading bars to warm
	// up the slowest declared feature (spec §4.1); the rest of the file
	// before that point is warmup-only history, never evaluated.
	warmupIdx := *slowLen
	if warmupIdx >= len(bars) {
		warmupIdx = len(bars) - 1
	}
	buildInput := &builder.BuildInput{
		TFs: []builder.TFInput{{
			TF:       lowTF,
			Bars:     bars,
			Features: p.FeatureSpecs["low_tf"],
		}},
		ExecRole:      barfeed.RoleLow,
		WindowStartMs: bars[warmupIdx].TsOpen,
		WindowEndMs:   bars[len(bars)-1].TsClose,
	}
	result, err := builder.Build(buildInput, reg)
	if err != nil {
		log.Fatalf("build feed store: %v", err)
	}
	fmt.Printf("sim starts at exec index %d of %d (warmup consumed)\n", result.SimStartIdx, result.Feeds.Exec().Len())

	incr := incstate.NewMultiTFIncrementalState(result.Feeds, map[barfeed.Role]*incstate.TFIncrementalState{})
	m := metrics.New()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create out dir: %v", err)
	}
	events, err := artifact.NewEventWriter(filepath.Join(*outDir, "events.jsonl"), *seed)
	if err != nil {
		log.Fatalf("open event log: %v", err)
	}
	defer events.Close()

	e := engine.New(engine.Config{
		Play: p, Feeds: result.Feeds, Incremental: incr, Features: result.Features,
		SimStartIdx: result.SimStartIdx, IDSeed: *seed, Metrics: m, Events: events,
	})

	runResult, err := e.Run()
	if err != nil {
		log.Fatalf("engine run: %v", err)
	}

	fullHash := artifact.ComputeHash(artifact.ManifestInput{
		SymbolUniverse: []string{*symbol}, WindowStartMs: bars[0].TsOpen, WindowEndMs: bars[len(bars)-1].TsClose,
		DataSourceID: "csv:" + filepath.Base(*csvPath),
	})
	shortHash := artifact.ShortHash(fullHash, nil)
	runResult.FullHash, runResult.ShortHash = fullHash, shortHash

	if err := writeArtifacts(*outDir, e, result, runResult, p, *symbol, fullHash, shortHash); err != nil {
		log.Fatalf("write artifacts: %v", err)
	}

	fmt.Printf("run %s (%s): %d trades, win_rate=%.2f%%, final_equity=%.2f, max_drawdown=%.2f%%\n",
		fullHash, shortHash, runResult.TotalTrades, runResult.WinRate*100, runResult.FinalEquityUSDT, runResult.MaxDrawdownPct)
}

func writeArtifacts(outDir string, e *engine.Engine, br *builder.BuildResult, r artifact.Result, p *play.Play, symbol, fullHash, shortHash string) error {
	if err := artifact.WriteTradesCSV(filepath.Join(outDir, "trades.csv"), e.Trades()); err != nil {
		return err
	}
	if err := artifact.WriteTradesParquet(filepath.Join(outDir, "trades.parquet"), e.Trades()); err != nil {
		return err
	}
	if err := artifact.WriteEquityCSV(filepath.Join(outDir, "equity.csv"), e.EquityCurve()); err != nil {
		return err
	}
	if err := artifact.WriteEquityParquet(filepath.Join(outDir, "equity.parquet"), e.EquityCurve()); err != nil {
		return err
	}
	if err := artifact.WritePreflightReportJSON(filepath.Join(outDir, "preflight_report.json"), br.Report); err != nil {
		return err
	}
	if err := artifact.WriteResultJSON(filepath.Join(outDir, "result.json"), r); err != nil {
		return err
	}
	manifest := artifact.RunManifest{
		FullHash: fullHash, ShortHash: shortHash, PlayID: p.ID, PlayVersion: p.Version,
		Symbol: symbol, WindowStartMs: br.Feeds.Exec().Bar(0).TsOpen,
		WindowEndMs: br.Feeds.Exec().Bar(br.Feeds.Exec().Len() - 1).TsClose,
		DataSourceID: "csv", CoreVersion: "dev",
	}
	return artifact.WriteManifest(filepath.Join(outDir, "run_manifest.json"), manifest)
}

// demoPlay builds the harness's fixed SMA-cross strategy: long-only,
// enter on a fast/slow SMA cross-above, exit on cross-below, stop below
// the slow SMA and target above the fast SMA at entry time — a
// deliberately simple shape meant to exercise every Engine step, not a
// tuned strategy.
func demoPlay(startingEquity, leverage, feeBps, size float64, fastLen, slowLen int, stopPct, targetPct float64, tfMs int64) *play.Play {
	fast := builder.FeatureRequest{ID: "sma_fast", IndicatorType: "sma", Params: map[string]any{"length": fastLen}}
	slow := builder.FeatureRequest{ID: "sma_slow", IndicatorType: "sma", Params: map[string]any{"length": slowLen}}

	crossAbove := &dsl.Leaf{LHS: dsl.Indicator("sma_fast", "", 0), Op: dsl.OpCrossAbove, RHS: dsl.Indicator("sma_slow", "", 0)}
	crossBelow := &dsl.Leaf{LHS: dsl.Indicator("sma_fast", "", 0), Op: dsl.OpCrossBelow, RHS: dsl.Indicator("sma_slow", "", 0)}

	entry := dsl.Intent{
		Action: dsl.ActionEntryLong, SizingMode: dsl.SizeUSDT, SizeValue: size,
		StopLossRef:   &dsl.PriceRef{FeatureID: "sma_slow", OffsetPct: -stopPct},
		TakeProfitRef: &dsl.PriceRef{FeatureID: "sma_fast", OffsetPct: targetPct},
		Reason:        "sma_cross_long",
	}
	exit := dsl.Intent{Action: dsl.ActionExitLong, Reason: "sma_cross_exit"}

	return &play.Play{
		ID: "btsmoke-sma-cross", Version: "1",
		SymbolUniverse: []string{"DEMOUSDT"},
		Account: play.Account{
			StartingEquityUSDT: startingEquity, MaxLeverage: leverage,
			FeeModel: play.FeeModel{TakerBps: feeBps}, MinTradeNotionalUSDT: 1,
		},
		Timeframes:   play.Timeframes{LowTF: barfeed.Timeframe{Role: barfeed.RoleLow, Name: "low_tf", DurationMs: tfMs}, Exec: "low_tf"},
		FeatureSpecs: map[string][]builder.FeatureRequest{"low_tf": {fast, slow}},
		SignalRules: play.SignalRules{Long: &play.DirectionRules{
			Entry: []dsl.WhenEmit{{When: crossAbove, Emit: []dsl.Intent{entry}}},
			Exit:  []dsl.WhenEmit{{When: crossBelow, Emit: []dsl.Intent{exit}}},
		}},
		PositionPolicy: risk.LongOnly,
	}
}

// loadCandleCSV reads headers time|timestamp,open,high,low,close,volume —
// grounded in the teacher's loadCSV, generalised to produce barfeed.Bar
// values on a fixed-duration timeframe instead of the teacher's Candle
// type. Time accepts RFC3339, "2006-01-02 15:04:05", or UNIX seconds;
// unknown columns are ignored, headers are case-insensitive.
func loadCandleCSV(path string, durationMs int64) ([]barfeed.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := newColumnIndex(header)

	var out []barfeed.Bar
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, ok := cols.cell(rec, "time", "timestamp")
		if !ok {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		o, okO := cols.float(rec, "open")
		c, okC := cols.float(rec, "close")
		if !okO || !okC {
			continue
		}
		h, _ := cols.float(rec, "high")
		l, _ := cols.float(rec, "low")
		v, _ := cols.float(rec, "volume", "vol")
		tsOpen := tt.UnixMilli()
		out = append(out, barfeed.Bar{TsOpen: tsOpen, TsClose: tsOpen + durationMs, Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsOpen < out[j].TsOpen })
	return out, nil
}

// columnIndex maps a normalized (lowercased, trimmed) header name to its
// position in each data record, resolved once per file rather than
// rebuilt per row.
type columnIndex map[string]int

func newColumnIndex(header []string) columnIndex {
	idx := make(columnIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// cell returns the trimmed value of the first of names present (by
// column) and non-empty in rec.
func (c columnIndex) cell(rec []string, names ...string) (string, bool) {
	for _, name := range names {
		i, declared := c[name]
		if !declared || i >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[i]); v != "" {
			return v, true
		}
	}
	return "", false
}

func (c columnIndex) float(rec []string, names ...string) (float64, bool) {
	v, ok := c.cell(rec, names...)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func parseTimeFlexible(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if tt, err := time.Parse(layout, s); err == nil {
			return tt, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
