package artifact

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// EquityPoint is one exec-bar row of the equity curve (spec §6 "equity").
type EquityPoint struct {
	TsMs          int64
	Equity        float64
	CashBalance   float64
	UnrealizedPnL float64
	UsedMargin    float64
}

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "ts_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "cash_balance", Type: arrow.PrimitiveTypes.Float64},
	{Name: "unrealized_pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "used_margin", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var equityCSVHeader = []string{"ts_ms", "equity", "cash_balance", "unrealized_pnl", "used_margin"}

// WriteEquityParquet writes one row per exec bar (spec §6 "equity").
func WriteEquityParquet(path string, points []EquityPoint) error {
	return writeParquet(path, equitySchema, len(points), func(rb *array.RecordBuilder) {
		ts := rb.Field(0).(*array.Int64Builder)
		eq := rb.Field(1).(*array.Float64Builder)
		cash := rb.Field(2).(*array.Float64Builder)
		u := rb.Field(3).(*array.Float64Builder)
		margin := rb.Field(4).(*array.Float64Builder)
		for _, p := range points {
			ts.Append(p.TsMs)
			eq.Append(p.Equity)
			cash.Append(p.CashBalance)
			u.Append(p.UnrealizedPnL)
			margin.Append(p.UsedMargin)
		}
	})
}

// WriteEquityCSV writes the same rows using stdlib encoding/csv.
func WriteEquityCSV(path string, points []EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write(equityCSVHeader); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			strconv.FormatInt(p.TsMs, 10),
			strconv.FormatFloat(p.Equity, 'f', -1, 64),
			strconv.FormatFloat(p.CashBalance, 'f', -1, 64),
			strconv.FormatFloat(p.UnrealizedPnL, 'f', -1, 64),
			strconv.FormatFloat(p.UsedMargin, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
