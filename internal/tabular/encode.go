package tabular

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

const readBatchSize = 1024

// EncodeParquet serializes the table as a parquet file. Compression is
// "snappy" (default), "gzip", or "none".
func EncodeParquet(t *Table, compression string) ([]byte, error) {
	schema := inferSchema(t)
	rec := buildRecord(t, schema)
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(parquetCodec(compression)))
	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("open parquet writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("write parquet: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a parquet file back into a table, preserving the
// file's column order.
func DecodeParquet(data []byte) (*Table, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open parquet reader: %w", err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("open arrow reader: %w", err)
	}
	tbl, err := reader.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("read parquet table: %w", err)
	}
	defer tbl.Release()

	columns := make([]string, tbl.NumCols())
	for i := range columns {
		columns[i] = tbl.Schema().Field(i).Name
	}

	out := New(columns...)
	tr := array.NewTableReader(tbl, readBatchSize)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make(map[string]any, len(columns))
			for j, col := range columns {
				row[col] = arrowValue(rec.Column(j), i)
			}
			out.Rows = append(out.Rows, row)
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("read arrow records: %w", err)
	}
	return out, nil
}

// EncodeCSV serializes the table as CSV with a header row.
func EncodeCSV(t *Table, gzipped bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCSV(&buf, t); err != nil {
		return nil, err
	}
	if !gzipped {
		return buf.Bytes(), nil
	}
	return gzipBytes(buf.Bytes())
}

func writeCSV(buf *bytes.Buffer, t *Table) error {
	w := csv.NewWriter(buf)
	if err := w.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = FormatValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// EncodeJSON serializes the table as a JSON array of record objects.
func EncodeJSON(t *Table, gzipped bool) ([]byte, error) {
	rows := t.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal json rows: %w", err)
	}
	if !gzipped {
		return data, nil
	}
	return gzipBytes(data)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetCodec(compression string) compress.Compression {
	switch compression {
	case "gzip":
		return compress.Codecs.Gzip
	case "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}
