package schema

import (
	"sort"

	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/record"
)

// PrepareForInsert applies a collection's default-value and objectid-field
// rules to rows, then sorts by `_id` unless sortByID is false (the view
// builder skips sorting since its inserts are unordered).
func (c *MongoCollection) PrepareForInsert(rows []record.Record, sortByID bool) ([]record.Record, error) {
	prepared := make([]record.Record, len(rows))
	for i, row := range rows {
		row = record.ApplyDefaults(row, c.DefaultValues)
		decoded, err := record.DecodeObjectIDFields(row, c.ObjectIDFields)
		if err != nil {
			return nil, err
		}
		prepared[i] = decoded
	}

	if sortByID {
		sort.SliceStable(prepared, func(i, j int) bool {
			a, aok := prepared[i]["_id"].(ident.ID)
			b, bok := prepared[j]["_id"].(ident.ID)
			if !aok || !bok {
				return false
			}
			return ident.Less(a, b)
		})
	}
	return prepared, nil
}
