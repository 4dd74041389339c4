// Package frame bridges the columnar (Arrow) representation the storage and
// database adapters exchange with the document-shaped record.Record the
// schema transform layer and view builder reason about row by row: a
// schema-driven row<->column codec.
package frame

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/arrowarc/parquetsync/internal/ident"
	pool "github.com/arrowarc/parquetsync/internal/memory"
	"github.com/arrowarc/parquetsync/internal/record"
)

// FromRecords builds a single Arrow batch from rows, in schema field order.
// A row missing a field, or holding an explicit nil, appends a null for that
// column. mem defaults to a pooled Go heap allocator when nil.
func FromRecords(mem memory.Allocator, schema *arrow.Schema, rows []record.Record) (arrow.Record, error) {
	if mem == nil {
		alloc := pool.GetAllocator()
		defer pool.PutAllocator(alloc)
		mem = alloc
	}
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, row := range rows {
		for i, f := range schema.Fields() {
			if err := appendValue(b.Field(i), f.Type, row[f.Name]); err != nil {
				return nil, fmt.Errorf("frame: field %q: %w", f.Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendValue(bld array.Builder, typ arrow.DataType, v any) error {
	if v == nil {
		bld.AppendNull()
		return nil
	}

	switch t := typ.(type) {
	case *arrow.BooleanType:
		val, err := asBool(v)
		if err != nil {
			return err
		}
		bld.(*array.BooleanBuilder).Append(val)
	case *arrow.Int32Type:
		val, err := asInt64(v)
		if err != nil {
			return err
		}
		bld.(*array.Int32Builder).Append(int32(val))
	case *arrow.Int64Type:
		val, err := asInt64(v)
		if err != nil {
			return err
		}
		bld.(*array.Int64Builder).Append(val)
	case *arrow.Float32Type:
		val, err := asFloat64(v)
		if err != nil {
			return err
		}
		bld.(*array.Float32Builder).Append(float32(val))
	case *arrow.Float64Type:
		val, err := asFloat64(v)
		if err != nil {
			return err
		}
		bld.(*array.Float64Builder).Append(val)
	case *arrow.StringType:
		val, err := asString(v)
		if err != nil {
			return err
		}
		bld.(*array.StringBuilder).Append(val)
	case *arrow.TimestampType:
		ts, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("frame: want time.Time, got %T", v)
		}
		bld.(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMilli()))
	case *arrow.ListType:
		seq, ok := v.([]any)
		if !ok {
			return fmt.Errorf("frame: want []any for list column, got %T", v)
		}
		lb := bld.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		for _, e := range seq {
			if err := appendValue(vb, t.Elem(), e); err != nil {
				return err
			}
		}
	case *arrow.StructType:
		row, ok := v.(record.Record)
		if !ok {
			return fmt.Errorf("frame: want record.Record for struct column, got %T", v)
		}
		sb := bld.(*array.StructBuilder)
		sb.Append(true)
		for i, f := range t.Fields() {
			if err := appendValue(sb.FieldBuilder(i), f.Type, row[f.Name]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("frame: unsupported arrow type %s", typ)
	}
	return nil
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("frame: want bool, got %T", v)
	}
	return b, nil
}

// asInt64 accepts any of the record model's numeric shapes so a transform
// that produces a plain `int` (the common case when building rows by hand)
// does not have to be cast at every call site.
func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("frame: want integer, got %T", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("frame: want float, got %T", v)
	}
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case ident.ID:
		return s.Hex(), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("frame: want string, got %T", v)
	}
}

// ToRecords materializes rec's rows into record.Record documents, in column
// order of rec's schema.
func ToRecords(rec arrow.Record) ([]record.Record, error) {
	schema := rec.Schema()
	n := int(rec.NumRows())
	out := make([]record.Record, n)
	for i := 0; i < n; i++ {
		row := make(record.Record, len(schema.Fields()))
		for c, f := range schema.Fields() {
			val, err := readValue(rec.Column(c), i, f.Type)
			if err != nil {
				return nil, fmt.Errorf("frame: field %q row %d: %w", f.Name, i, err)
			}
			row[f.Name] = val
		}
		out[i] = row
	}
	return out, nil
}

func readValue(col arrow.Array, i int, typ arrow.DataType) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch t := typ.(type) {
	case *arrow.BooleanType:
		return col.(*array.Boolean).Value(i), nil
	case *arrow.Int32Type:
		return col.(*array.Int32).Value(i), nil
	case *arrow.Int64Type:
		return col.(*array.Int64).Value(i), nil
	case *arrow.Float32Type:
		return col.(*array.Float32).Value(i), nil
	case *arrow.Float64Type:
		return col.(*array.Float64).Value(i), nil
	case *arrow.StringType:
		return col.(*array.String).Value(i), nil
	case *arrow.TimestampType:
		ts := col.(*array.Timestamp).Value(i)
		return time.UnixMilli(int64(ts)).UTC(), nil
	case *arrow.ListType:
		lst := col.(*array.List)
		start, end := lst.ValueOffsets(i)
		values := lst.ListValues()
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			v, err := readValue(values, int(j), t.Elem())
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *arrow.StructType:
		st := col.(*array.Struct)
		row := make(record.Record, t.NumFields())
		for fi, f := range t.Fields() {
			v, err := readValue(st.Field(fi), i, f.Type)
			if err != nil {
				return nil, err
			}
			row[f.Name] = v
		}
		return row, nil
	default:
		return nil, fmt.Errorf("frame: unsupported arrow type %s", typ)
	}
}

// Concat merges recs into a single batch matching schema, releasing none of
// the inputs (callers retain their own ownership). An empty recs slice
// yields a zero-row batch with the declared schema, never a nil record.
func Concat(mem memory.Allocator, schema *arrow.Schema, recs []arrow.Record) (arrow.Record, error) {
	if mem == nil {
		alloc := pool.GetAllocator()
		defer pool.PutAllocator(alloc)
		mem = alloc
	}

	var nonEmpty []arrow.Record
	for _, r := range recs {
		if r != nil && r.NumRows() > 0 {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		b := array.NewRecordBuilder(mem, schema)
		defer b.Release()
		return b.NewRecord(), nil
	}
	if len(nonEmpty) == 1 {
		nonEmpty[0].Retain()
		return nonEmpty[0], nil
	}

	cols := make([]arrow.Array, len(schema.Fields()))
	var total int64
	for _, r := range nonEmpty {
		total += r.NumRows()
	}
	for c := range schema.Fields() {
		arrs := make([]arrow.Array, len(nonEmpty))
		for i, r := range nonEmpty {
			arrs[i] = r.Column(c)
		}
		merged, err := array.Concatenate(arrs, mem)
		if err != nil {
			return nil, fmt.Errorf("frame: concat column %q: %w", schema.Field(c).Name, err)
		}
		cols[c] = merged
	}
	return array.NewRecord(schema, cols, total), nil
}
