package schema

import (
	"math"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/record"
)

// identityTransform returns rec unchanged; used by reference/lookup models
// whose on-disk shape matches their database-query shape exactly. Only the
// metrics models need rounding or explode/implode.
func identityTransform(rec arrow.Record) (arrow.Record, error) {
	rec.Retain()
	return rec, nil
}

// round4f32 rounds v to 4 decimal places, the precision click-through rates
// and positions are stored at on disk.
func round4f32(v float32) float32 {
	return float32(math.Round(float64(v)*10000) / 10000)
}

// roundFloatColumns returns a transform that rounds every named float32
// field of rec to 4 decimals, leaving every other column untouched. The
// page_metrics primary model uses it; its secondaries explode/implode only.
func roundFloatColumns(fields ...string) TransformFunc {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	return func(rec arrow.Record) (arrow.Record, error) {
		rows, err := frame.ToRecords(rec)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			for f := range want {
				if v, ok := row[f].(float32); ok {
					row[f] = round4f32(v)
				}
			}
			rows[i] = row
		}
		return frame.FromRecords(nil, rec.Schema(), rows)
	}
}

// explodeListField builds a Transform that explodes the array-of-struct
// field listField on each row of rec (keyed by `_id` and a freshly generated
// element id stored under idField) into one output row per element, per
// out's schema. gen produces the distinct per-element identifiers
// (`_term_id` / `_link_id`).
func explodeListField(listField, idField string, out *arrow.Schema, gen *ident.Generator) TransformFunc {
	return func(rec arrow.Record) (arrow.Record, error) {
		rows, err := frame.ToRecords(rec)
		if err != nil {
			return nil, err
		}

		var exploded []record.Record
		for _, row := range rows {
			id := row["_id"]
			elems, _ := row[listField].([]any)
			for _, e := range elems {
				elemRow, ok := e.(record.Record)
				if !ok {
					continue
				}
				out := make(record.Record, len(elemRow)+2)
				out["_id"] = id
				out[idField] = gen.New().Hex()
				for k, v := range elemRow {
					out[k] = v
				}
				exploded = append(exploded, out)
			}
		}
		return frame.FromRecords(nil, out, exploded)
	}
}

// implodeListField builds a ReverseTransform that groups rec's rows by
// `_id`, re-collecting every other column (besides `_id` and the helper
// element-id column) into a struct, and nests the group into listField as a
// list-of-struct column of out's schema. It is the inverse of
// explodeListField modulo row order.
func implodeListField(listField, idField string, structFields []string, out *arrow.Schema) TransformFunc {
	return func(rec arrow.Record) (arrow.Record, error) {
		rows, err := frame.ToRecords(rec)
		if err != nil {
			return nil, err
		}

		order := make([]string, 0)
		groups := make(map[string][]any)
		for _, row := range rows {
			id, ok := row["_id"].(string)
			if !ok {
				continue
			}
			if _, seen := groups[id]; !seen {
				order = append(order, id)
			}
			elem := make(record.Record, len(structFields))
			for _, f := range structFields {
				elem[f] = row[f]
			}
			groups[id] = append(groups[id], elem)
		}

		grouped := make([]record.Record, 0, len(order))
		for _, id := range order {
			row := record.Record{"_id": id}
			row[listField] = groups[id]
			grouped = append(grouped, row)
		}
		return frame.FromRecords(nil, out, grouped)
	}
}
