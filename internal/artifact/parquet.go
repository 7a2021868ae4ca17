package artifact

import (
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// writeParquet builds one Arrow record via fill, wraps it in a
// single-batch Table, and writes it to path as Parquet — the columnar
// format `NimbleMarkets-dbn-go` uses for OHLCV/market-data artifacts,
// reused here for the trades/equity tables spec §6 names.
func writeParquet(path string, schema *arrow.Schema, numRows int, fill func(*array.RecordBuilder)) error {
	mem := memory.NewGoAllocator()
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	fill(rb)

	rec := rb.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	props := parquet.NewWriterProperties()
	arrProps := pqarrow.DefaultWriterProps()
	return pqarrow.WriteTable(tbl, f, int64(numRows), props, arrProps)
}
