// Package schema declares the registry of logical collections this engine
// moves between the document database and Parquet: one ParquetModel per
// physical file, grouped into a MongoCollection per logical collection with
// a primary model and zero or more secondary models joined on `_id`.
// Per-model behavior (transform, reverse_transform, sampling filter) is
// carried as function values on the model struct rather than through an
// interface hierarchy.
package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/sampling"
)

// TransformFunc maps a database-shaped frame to an on-disk-shaped frame
// (primary models) or explodes a primary's array-of-struct column into
// row-per-element shape (secondary models).
type TransformFunc func(arrow.Record) (arrow.Record, error)

// SamplingFilterFunc produces a server-side filter referencing the sampling
// context's id lists / date range, combined with the model's static filter.
type SamplingFilterFunc func(sampling.Context) record.Record

// ParquetModel is one physical Parquet file: a primary file for some
// collection, or a secondary file contributing extra columns to one.
type ParquetModel struct {
	// Collection is the source/target collection name in the database.
	Collection string
	// ParquetFilename is the on-disk name (simple) or directory (partitioned).
	ParquetFilename string
	// Schema is used both to shape the database query (find/aggregate) and
	// to read/write this model's own Parquet file.
	Schema *arrow.Schema
	// SecondarySchema is the exploded, row-per-element shape this model
	// contributes to a collection's combined import schema. Nil for models
	// that are never used as a secondary.
	SecondarySchema *arrow.Schema

	Filter         record.Record
	Projection     record.Record
	Pipeline       []record.Record
	UseAggregation bool

	PartitionBy calendar.PartitionKind

	Transform        TransformFunc
	ReverseTransform TransformFunc
	SamplingFilter   SamplingFilterFunc
}

// GetSamplingFilter returns the model's sampling-aware filter, or its static
// filter unchanged if the model declares no sampling sensitivity.
func (m *ParquetModel) GetSamplingFilter(ctx sampling.Context) record.Record {
	if m.SamplingFilter == nil {
		return m.Filter
	}
	return m.SamplingFilter(ctx)
}

// EffectiveFilter returns the sampling filter when sample is true, the
// static filter otherwise.
func (m *ParquetModel) EffectiveFilter(sample bool, ctx sampling.Context) record.Record {
	if sample {
		return m.GetSamplingFilter(ctx)
	}
	return m.Filter
}

// SyncType selects a collection's export/sync strategy.
type SyncType string

const (
	SyncSimple      SyncType = "simple"
	SyncIncremental SyncType = "incremental"
)

// MongoCollection is one logical collection: a primary model plus zero or
// more secondary models joined onto it by `_id` during import.
type MongoCollection struct {
	Collection      string
	PrimaryModel    *ParquetModel
	SecondaryModels []*ParquetModel
	SyncType        SyncType
	ObjectIDFields  []string
	DefaultValues   map[string]any

	// IsView marks a collection (view_pages, view_tasks) that the view
	// builder writes but the sync engine never exports from or imports
	// into.
	IsView bool
}

// AllModels returns the primary model followed by its secondaries; within a
// collection, secondary files are always processed after the primary.
func (c *MongoCollection) AllModels() []*ParquetModel {
	out := make([]*ParquetModel, 0, 1+len(c.SecondaryModels))
	out = append(out, c.PrimaryModel)
	out = append(out, c.SecondaryModels...)
	return out
}

// CombinedSchema unions the primary schema with every secondary's
// SecondarySchema by field name, narrower-type-wins, rejecting a conflict
// that cannot be unified as a fatal configuration error.
func (c *MongoCollection) CombinedSchema() (*arrow.Schema, error) {
	fields := append([]arrow.Field{}, c.PrimaryModel.Schema.Fields()...)
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}

	for _, sm := range c.SecondaryModels {
		if sm.SecondarySchema == nil {
			continue
		}
		for _, f := range sm.SecondarySchema.Fields() {
			if i, ok := index[f.Name]; ok {
				unified, err := unifyType(fields[i].Type, f.Type)
				if err != nil {
					return nil, fmt.Errorf("schema: %s: cannot unify field %q between primary and %s: %w",
						c.Collection, f.Name, sm.Collection, err)
				}
				fields[i].Type = unified
				fields[i].Nullable = fields[i].Nullable || f.Nullable
				continue
			}
			index[f.Name] = len(fields)
			fields = append(fields, f)
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// numericRank orders the widen-compatible numeric types from narrowest to
// widest; unifyType picks whichever of two compatible types ranks lower.
func numericRank(t arrow.DataType) int {
	switch t.ID() {
	case arrow.INT32:
		return 1
	case arrow.INT64:
		return 2
	case arrow.FLOAT32:
		return 3
	case arrow.FLOAT64:
		return 4
	default:
		return -1
	}
}

func unifyType(a, b arrow.DataType) (arrow.DataType, error) {
	if arrow.TypeEqual(a, b) {
		return a, nil
	}
	ra, rb := numericRank(a), numericRank(b)
	if ra > 0 && rb > 0 {
		if ra <= rb {
			return a, nil
		}
		return b, nil
	}
	return nil, fmt.Errorf("incompatible types %s and %s", a, b)
}

// Registry holds every MongoCollection this engine knows about. Exports and
// imports process collections in this fixed declaration order.
type Registry struct {
	order       []string
	collections map[string]*MongoCollection
}

// NewRegistry builds an empty registry; Register appends in call order.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*MongoCollection)}
}

// Register adds c to the registry, preserving call order.
func (r *Registry) Register(c *MongoCollection) {
	if _, exists := r.collections[c.Collection]; !exists {
		r.order = append(r.order, c.Collection)
	}
	r.collections[c.Collection] = c
}

// Get returns the named collection, or nil if unregistered.
func (r *Registry) Get(name string) *MongoCollection {
	return r.collections[name]
}

// Names returns every registered collection name in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Select resolves the collections a run should act on: all of them by
// default, narrowed to include (if non-empty) or everything except exclude
// (if non-empty). include and exclude are mutually exclusive; both non-empty
// is a configuration error the controller validates before calling this.
func (r *Registry) Select(include, exclude []string) ([]*MongoCollection, error) {
	var names []string
	switch {
	case len(include) > 0:
		names = include
	case len(exclude) > 0:
		excluded := make(map[string]bool, len(exclude))
		for _, n := range exclude {
			excluded[n] = true
		}
		for _, n := range r.order {
			if !excluded[n] {
				names = append(names, n)
			}
		}
	default:
		names = r.order
	}

	out := make([]*MongoCollection, 0, len(names))
	for _, n := range names {
		c := r.collections[n]
		if c == nil {
			return nil, fmt.Errorf("schema: unknown collection %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}
