// Package record implements the structural helpers the schema layer needs to
// move between a columnar (Arrow) representation and the document shape the
// database driver expects: an unordered field-name-to-value mapping, and its
// ordered key-value-pair counterpart for drivers (like the Mongo driver) that
// preserve insertion order on the wire.
package record

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/arrowarc/parquetsync/internal/ident"
)

// Record is an unordered mapping from field name to value, per the data
// model's Record definition. Values are one of: nil, bool, int32, int64,
// float32, float64, string, time.Time (millisecond timestamp), ident.ID,
// Record (struct), or []any (sequence of any of the above, including nested
// Records).
type Record map[string]any

// ToPairs recursively converts r into bson.D, the ordered key-value-array
// representation the database driver wire-encodes. Key order within a level
// is the Go map iteration order; callers that need deterministic output
// should not rely on it beyond round-tripping through FromPairs.
func ToPairs(r Record) bson.D {
	d := make(bson.D, 0, len(r))
	for k, v := range r {
		d = append(d, bson.E{Key: k, Value: toPairValue(v)})
	}
	return d
}

func toPairValue(v any) any {
	switch t := v.(type) {
	case Record:
		return ToPairs(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toPairValue(e)
		}
		return out
	case ident.ID:
		return bson.ObjectID(t)
	default:
		return v
	}
}

// FromPairs recursively converts d back into a Record. It is the inverse of
// ToPairs modulo key order, which Record (being a map) does not preserve.
func FromPairs(d bson.D) Record {
	r := make(Record, len(d))
	for _, e := range d {
		r[e.Key] = fromPairValue(e.Value)
	}
	return r
}

func fromPairValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return FromPairs(t)
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromPairValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromPairValue(e)
		}
		return out
	case bson.ObjectID:
		return ident.ID(t)
	case bson.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}

// ApplyDefaults drops null values from r except for fields named in
// defaults, which are substituted with their declared default (commonly an
// empty sequence for reference-list fields, never left null). Fields absent
// from r entirely are also populated from defaults, so every declared
// default field is guaranteed non-null after this call, matching the
// prepare_for_insert contract.
func ApplyDefaults(r Record, defaults map[string]any) Record {
	out := make(Record, len(r)+len(defaults))
	for k, v := range r {
		if v == nil {
			if def, ok := defaults[k]; ok {
				out[k] = cloneDefault(def)
			}
			continue
		}
		out[k] = v
	}
	for k, def := range defaults {
		if _, present := out[k]; !present {
			out[k] = cloneDefault(def)
		}
	}
	return out
}

// cloneDefault returns a fresh copy of a default value so that repeated
// substitutions across many rows never alias the same backing slice/map.
func cloneDefault(def any) any {
	switch t := def.(type) {
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	case Record:
		out := make(Record, len(t))
		for k, v := range t {
			out[k] = v
		}
		return out
	default:
		return def
	}
}

// DecodeObjectIDFields walks r recursively (through nested Records and
// sequences) and replaces every value found under a field name listed in
// fields with the identifier decoded from its hex-string or byte-sequence
// form. It is the insert-time half of the hex-codec contract: Parquet stores
// identifiers as 24-char hex, the database stores them as 12-byte values.
func DecodeObjectIDFields(r Record, fields []string) (Record, error) {
	fieldSet := make(map[string]bool, len(fields))
	for _, f := range fields {
		fieldSet[f] = true
	}
	return decodeObjectIDs(r, fieldSet)
}

func decodeObjectIDs(r Record, fields map[string]bool) (Record, error) {
	out := make(Record, len(r))
	for k, v := range r {
		decoded, err := decodeObjectIDValue(v, fields[k], fields)
		if err != nil {
			return nil, fmt.Errorf("record: decode field %q: %w", k, err)
		}
		out[k] = decoded
	}
	return out, nil
}

func decodeObjectIDValue(v any, decodeThis bool, fields map[string]bool) (any, error) {
	switch t := v.(type) {
	case Record:
		return decodeObjectIDs(t, fields)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			decoded, err := decodeObjectIDValue(e, decodeThis, fields)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	case string:
		if decodeThis {
			id, err := ident.FromHex(t)
			if err != nil {
				return nil, err
			}
			return id, nil
		}
		return t, nil
	case []byte:
		if decodeThis {
			return ident.FromBytes(t)
		}
		return t, nil
	default:
		return v, nil
	}
}
