// Package tabular holds the in-memory interchange format that connectors
// produce and the blob writer consumes, plus the parquet/csv/json artifact
// codecs built on Arrow.
package tabular

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Table is an ordered set of columns with row-major data. Rows are maps so
// heterogeneous sources (REST payloads, SQL results, synthetic data) share
// one shape; Columns preserves the column order the source reported.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// New returns an empty table with the given column order.
func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// FromRows builds a table from raw row maps. When the caller knows the
// column order it passes it explicitly; otherwise the union of row keys is
// used in sorted order so the result is deterministic.
func FromRows(rows []map[string]any, columns ...string) *Table {
	if len(columns) == 0 {
		seen := make(map[string]bool)
		for _, row := range rows {
			for k := range row {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
		}
		sort.Strings(columns)
	}
	return &Table{Columns: columns, Rows: rows}
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds one row. Columns absent from the table's column list are
// appended to it in encounter order.
func (t *Table) Append(row map[string]any) {
	for k := range row {
		if !t.hasColumn(k) {
			t.Columns = append(t.Columns, k)
		}
	}
	t.Rows = append(t.Rows, row)
}

// Head returns a copy of the first n rows sharing the same column order.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

// Column returns every value of one column in row order.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[name]
	}
	return out
}

func (t *Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// FormatValue renders a cell for CSV output and sample strings: nil becomes
// the empty string, times are RFC3339, floats drop trailing zeros.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
