package artifact

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/quantforge/backtestcore/internal/exchange"
)

var tradesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "ts_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "size_usdt", Type: arrow.PrimitiveTypes.Float64},
	{Name: "entry_ts", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_ts", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "realized_pnl_usdt", Type: arrow.PrimitiveTypes.Float64},
	{Name: "fees_paid_usdt", Type: arrow.PrimitiveTypes.Float64},
	{Name: "funding_paid_usdt", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	{Name: "exit_price_source", Type: arrow.BinaryTypes.String},
	{Name: "stop_loss", Type: arrow.PrimitiveTypes.Float64},
	{Name: "take_profit", Type: arrow.PrimitiveTypes.Float64},
	{Name: "mae", Type: arrow.PrimitiveTypes.Float64},
	{Name: "mfe", Type: arrow.PrimitiveTypes.Float64},
	{Name: "entry_bar_index", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_bar_index", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// tradesCSVHeader mirrors tradesSchema field order, for the CSV sibling
// format spec §6 names as an equally valid "trades.parquet|csv" output.
var tradesCSVHeader = []string{
	"ts_ms", "id", "side", "size_usdt", "entry_ts", "exit_ts", "entry_price", "exit_price",
	"realized_pnl_usdt", "fees_paid_usdt", "funding_paid_usdt", "exit_reason", "exit_price_source",
	"stop_loss", "take_profit", "mae", "mfe", "entry_bar_index", "exit_bar_index",
}

// WriteTradesParquet writes one row per closed trade (spec §6 required
// columns on `trades`), in close order.
func WriteTradesParquet(path string, trades []exchange.Trade) error {
	return writeParquet(path, tradesSchema, len(trades), func(rb *array.RecordBuilder) {
		tsMs := rb.Field(0).(*array.Int64Builder)
		id := rb.Field(1).(*array.StringBuilder)
		side := rb.Field(2).(*array.StringBuilder)
		sizeUSDT := rb.Field(3).(*array.Float64Builder)
		entryTs := rb.Field(4).(*array.Int64Builder)
		exitTs := rb.Field(5).(*array.Int64Builder)
		entryPrice := rb.Field(6).(*array.Float64Builder)
		exitPrice := rb.Field(7).(*array.Float64Builder)
		realized := rb.Field(8).(*array.Float64Builder)
		fees := rb.Field(9).(*array.Float64Builder)
		funding := rb.Field(10).(*array.Float64Builder)
		reason := rb.Field(11).(*array.StringBuilder)
		source := rb.Field(12).(*array.StringBuilder)
		sl := rb.Field(13).(*array.Float64Builder)
		tp := rb.Field(14).(*array.Float64Builder)
		mae := rb.Field(15).(*array.Float64Builder)
		mfe := rb.Field(16).(*array.Float64Builder)
		entryBar := rb.Field(17).(*array.Int64Builder)
		exitBar := rb.Field(18).(*array.Int64Builder)

		for _, t := range trades {
			tsMs.Append(t.ExitTs)
			id.Append(t.ID)
			side.Append(t.Side)
			sizeUSDT.Append(t.SizeUSDT)
			entryTs.Append(t.EntryTs)
			exitTs.Append(t.ExitTs)
			entryPrice.Append(t.EntryPrice)
			exitPrice.Append(t.ExitPrice)
			realized.Append(t.RealizedPnLUSDT)
			fees.Append(t.FeesPaidUSDT)
			funding.Append(t.FundingPaidUSDT)
			reason.Append(string(t.ExitReason))
			source.Append(string(t.ExitPriceSource))
			sl.Append(t.StopLoss)
			tp.Append(t.TakeProfit)
			mae.Append(t.MAE)
			mfe.Append(t.MFE)
			entryBar.Append(int64(t.EntryBarIndex))
			exitBar.Append(int64(t.ExitBarIndex))
		}
	})
}

// WriteTradesCSV writes the same rows as WriteTradesParquet, using
// stdlib encoding/csv the way the teacher's loadCSV reads candle CSVs.
func WriteTradesCSV(path string, trades []exchange.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write(tradesCSVHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			strconv.FormatInt(t.ExitTs, 10), t.ID, t.Side,
			strconv.FormatFloat(t.SizeUSDT, 'f', -1, 64),
			strconv.FormatInt(t.EntryTs, 10), strconv.FormatInt(t.ExitTs, 10),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.RealizedPnLUSDT, 'f', -1, 64),
			strconv.FormatFloat(t.FeesPaidUSDT, 'f', -1, 64),
			strconv.FormatFloat(t.FundingPaidUSDT, 'f', -1, 64),
			string(t.ExitReason), string(t.ExitPriceSource),
			strconv.FormatFloat(t.StopLoss, 'f', -1, 64),
			strconv.FormatFloat(t.TakeProfit, 'f', -1, 64),
			strconv.FormatFloat(t.MAE, 'f', -1, 64),
			strconv.FormatFloat(t.MFE, 'f', -1, 64),
			strconv.Itoa(t.EntryBarIndex), strconv.Itoa(t.ExitBarIndex),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
