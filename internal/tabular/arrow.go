package tabular

import (
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// columnKind is the inference lattice for a column's Arrow type. Mixed
// numeric columns promote to float; any other mix collapses to string.
type columnKind int

const (
	kindUnknown columnKind = iota
	kindBool
	kindInt
	kindFloat
	kindTime
	kindString
)

func kindOf(v any) columnKind {
	switch v.(type) {
	case nil:
		return kindUnknown
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInt
	case float32, float64:
		return kindFloat
	case time.Time:
		return kindTime
	default:
		return kindString
	}
}

func mergeKinds(a, b columnKind) columnKind {
	if a == kindUnknown {
		return b
	}
	if b == kindUnknown || a == b {
		return a
	}
	if (a == kindInt && b == kindFloat) || (a == kindFloat && b == kindInt) {
		return kindFloat
	}
	return kindString
}

func (k columnKind) arrowType() arrow.DataType {
	switch k {
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindTime:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// inferSchema scans every row once and settles each column on the narrowest
// Arrow type that fits all of its values. All-null columns become strings.
func inferSchema(t *Table) *arrow.Schema {
	kinds := make([]columnKind, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			kinds[i] = mergeKinds(kinds[i], kindOf(row[col]))
		}
	}
	fields := make([]arrow.Field, len(t.Columns))
	for i, col := range t.Columns {
		fields[i] = arrow.Field{Name: col, Type: kinds[i].arrowType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// buildRecord converts the table into a single Arrow record under schema.
// Values that cannot be coerced to the column type are appended as nulls.
func buildRecord(t *Table, schema *arrow.Schema) arrow.Record {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	for _, row := range t.Rows {
		for i, col := range t.Columns {
			appendValue(builder.Field(i), row[col])
		}
	}
	return builder.NewRecord()
}

func appendValue(fb array.Builder, v any) {
	if v == nil {
		fb.AppendNull()
		return
	}
	switch b := fb.(type) {
	case *array.BooleanBuilder:
		if x, ok := v.(bool); ok {
			b.Append(x)
			return
		}
	case *array.Int64Builder:
		if x, ok := toInt64(v); ok {
			b.Append(x)
			return
		}
	case *array.Float64Builder:
		if x, ok := toFloat64(v); ok {
			b.Append(x)
			return
		}
	case *array.TimestampBuilder:
		if x, ok := v.(time.Time); ok {
			b.Append(arrow.Timestamp(x.UTC().UnixMicro()))
			return
		}
	case *array.StringBuilder:
		b.Append(FormatValue(v))
		return
	}
	fb.AppendNull()
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// arrowValue extracts one value from an Arrow column as a JSON-friendly Go
// value. Nulls are nil, timestamps are RFC3339 strings.
func arrowValue(col arrow.Array, idx int) any {
	if col.IsNull(idx) {
		return nil
	}
	switch c := col.(type) {
	case *array.Int8:
		return int64(c.Value(idx))
	case *array.Int16:
		return int64(c.Value(idx))
	case *array.Int32:
		return int64(c.Value(idx))
	case *array.Int64:
		return c.Value(idx)
	case *array.Uint8:
		return int64(c.Value(idx))
	case *array.Uint16:
		return int64(c.Value(idx))
	case *array.Uint32:
		return int64(c.Value(idx))
	case *array.Uint64:
		return c.Value(idx)
	case *array.Float32:
		return float64(c.Value(idx))
	case *array.Float64:
		return c.Value(idx)
	case *array.String:
		return c.Value(idx)
	case *array.LargeString:
		return c.Value(idx)
	case *array.Boolean:
		return c.Value(idx)
	case *array.Binary:
		return c.Value(idx)
	case *array.Timestamp:
		v := c.Value(idx)
		dt := c.DataType().(*arrow.TimestampType)
		return v.ToTime(dt.Unit).UTC().Format(time.RFC3339)
	case *array.Date32:
		return c.Value(idx).ToTime().Format("2006-01-02")
	case *array.Date64:
		return c.Value(idx).ToTime().Format("2006-01-02")
	default:
		// Avoids panics from uninitialized ValueStr receivers.
		return col.String()
	}
}
