package tabular

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	return &Table{
		Columns: []string{"id", "name", "amount", "active", "created_at"},
		Rows: []map[string]any{
			{"id": int64(1), "name": "alpha", "amount": 12.5, "active": true, "created_at": time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
			{"id": int64(2), "name": "beta", "amount": 7.25, "active": false, "created_at": time.Date(2024, 3, 2, 11, 30, 0, 0, time.UTC)},
			{"id": int64(3), "name": nil, "amount": nil, "active": true, "created_at": time.Date(2024, 3, 3, 9, 15, 0, 0, time.UTC)},
		},
	}
}

func TestFromRowsColumnOrder(t *testing.T) {
	rows := []map[string]any{{"b": 1, "a": 2}, {"c": 3}}
	tbl := FromRows(rows)
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Columns)

	explicit := FromRows(rows, "b", "a")
	assert.Equal(t, []string{"b", "a"}, explicit.Columns)
}

func TestHead(t *testing.T) {
	tbl := sampleTable()
	assert.Equal(t, 2, tbl.Head(2).NumRows())
	assert.Equal(t, 3, tbl.Head(10).NumRows())
	assert.Equal(t, tbl.Columns, tbl.Head(1).Columns)
}

func TestAppendExtendsColumns(t *testing.T) {
	tbl := New("a")
	tbl.Append(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, 1, tbl.NumRows())
}

func TestParquetRoundTrip(t *testing.T) {
	tbl := sampleTable()
	for _, compression := range []string{"snappy", "gzip", "none"} {
		t.Run(compression, func(t *testing.T) {
			data, err := EncodeParquet(tbl, compression)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			got, err := DecodeParquet(data)
			require.NoError(t, err)
			assert.Equal(t, tbl.Columns, got.Columns)
			require.Equal(t, 3, got.NumRows())

			assert.Equal(t, int64(1), got.Rows[0]["id"])
			assert.Equal(t, "alpha", got.Rows[0]["name"])
			assert.Equal(t, 12.5, got.Rows[0]["amount"])
			assert.Equal(t, true, got.Rows[0]["active"])
			assert.Equal(t, "2024-03-01T10:00:00Z", got.Rows[0]["created_at"])
			assert.Nil(t, got.Rows[2]["name"])
			assert.Nil(t, got.Rows[2]["amount"])
		})
	}
}

func TestMixedNumericColumnPromotesToFloat(t *testing.T) {
	tbl := FromRows([]map[string]any{
		{"v": int64(1)},
		{"v": 2.5},
	}, "v")

	data, err := EncodeParquet(tbl, "none")
	require.NoError(t, err)
	got, err := DecodeParquet(data)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Rows[0]["v"])
	assert.Equal(t, 2.5, got.Rows[1]["v"])
}

func TestEncodeCSV(t *testing.T) {
	tbl := &Table{
		Columns: []string{"id", "name"},
		Rows: []map[string]any{
			{"id": int64(1), "name": "a,b"},
			{"id": int64(2), "name": nil},
		},
	}
	data, err := EncodeCSV(tbl, false)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,\"a,b\"\n2,\n", string(data))
}

func TestEncodeCSVGzip(t *testing.T) {
	tbl := New("x")
	tbl.Append(map[string]any{"x": "y"})

	data, err := EncodeCSV(tbl, true)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "x\ny\n", string(plain))
}

func TestEncodeJSON(t *testing.T) {
	tbl := &Table{
		Columns: []string{"id"},
		Rows:    []map[string]any{{"id": int64(7)}},
	}
	data, err := EncodeJSON(tbl, false)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, float64(7), rows[0]["id"])
}

func TestEncodeJSONEmpty(t *testing.T) {
	data, err := EncodeJSON(New("a"), false)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "42", FormatValue(int64(42)))
	assert.Equal(t, "3.14", FormatValue(3.14))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "2024-01-02T03:04:05Z", FormatValue(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}
