// Package dbadapter wraps the document database driver behind a typed
// find/aggregate/insert_many surface that speaks record.Record rather than
// the driver's own wire types.
package dbadapter

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
)

// Driver is the minimal document-database surface the adapter needs: find,
// aggregate, insert_many, delete_many, and collection existence/creation.
// MongoDriver is the one concrete implementation; tests fake this seam.
type Driver interface {
	Find(ctx context.Context, collection string, filter, projection record.Record) ([]record.Record, error)
	Aggregate(ctx context.Context, collection string, pipeline []record.Record) ([]record.Record, error)
	InsertMany(ctx context.Context, collection string, rows []record.Record, ordered bool) error
	DeleteMany(ctx context.Context, collection string, filter record.Record) error
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, collection string) error
	// MaxDate returns the maximum value of field across documents matching
	// filter, or nil and false if the collection is empty.
	MaxDate(ctx context.Context, collection, field string, filter record.Record) (any, bool, error)
}

// Adapter is the typed seam the sync engine and view builder call through;
// it never touches the driver's native wire types directly.
type Adapter struct {
	Driver Driver
}

func New(d Driver) *Adapter {
	return &Adapter{Driver: d}
}

// Find runs model's query (pipeline verbatim, else match+project when
// UseAggregation, else a plain find+projection) and returns a frame shaped
// by model.Schema. Empty results yield a zero-row batch with that schema,
// never a nil record.
func (a *Adapter) Find(ctx context.Context, model *schema.ParquetModel, filter record.Record) (arrow.Record, error) {
	rows, err := a.query(ctx, model, filter)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: find %s: %w", model.Collection, err)
	}
	rec, err := frame.FromRecords(nil, model.Schema, rows)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: find %s: shaping result: %w", model.Collection, err)
	}
	return rec, nil
}

func (a *Adapter) query(ctx context.Context, model *schema.ParquetModel, filter record.Record) ([]record.Record, error) {
	switch {
	case len(model.Pipeline) > 0:
		return a.Driver.Aggregate(ctx, model.Collection, model.Pipeline)
	case model.UseAggregation:
		pipeline := []record.Record{
			{"$match": filter},
			{"$project": model.Projection},
		}
		return a.Driver.Aggregate(ctx, model.Collection, pipeline)
	default:
		return a.Driver.Find(ctx, model.Collection, filter, model.Projection)
	}
}

// InsertMany prepares rec's rows for insert (defaults + ObjectID decode,
// sorted by `_id` unless ordered is false) and hands them to the driver.
// ordered controls driver insert ordering: unordered for view inserts (to
// allow partial progress on duplicates), ordered for primary data.
func (a *Adapter) InsertMany(ctx context.Context, collection *schema.MongoCollection, rec arrow.Record, ordered bool) error {
	rows, err := frame.ToRecords(rec)
	if err != nil {
		return fmt.Errorf("dbadapter: insert %s: %w", collection.Collection, err)
	}
	prepared, err := collection.PrepareForInsert(rows, ordered)
	if err != nil {
		return fmt.Errorf("dbadapter: insert %s: %w", collection.Collection, err)
	}
	if len(prepared) == 0 {
		return nil
	}
	if err := a.Driver.InsertMany(ctx, collection.Collection, prepared, ordered); err != nil {
		return fmt.Errorf("dbadapter: insert %s: %w", collection.Collection, err)
	}
	return nil
}

// MaxDate returns the maximum value of field in collection matching filter.
func (a *Adapter) MaxDate(ctx context.Context, collection, field string, filter record.Record) (any, bool, error) {
	v, ok, err := a.Driver.MaxDate(ctx, collection, field, filter)
	if err != nil {
		return nil, false, fmt.Errorf("dbadapter: max(%s) on %s: %w", field, collection, err)
	}
	return v, ok, nil
}

// EnsureCollection creates collection if it is not already present.
func (a *Adapter) EnsureCollection(ctx context.Context, collection string) error {
	names, err := a.Driver.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("dbadapter: list collections: %w", err)
	}
	for _, n := range names {
		if n == collection {
			return nil
		}
	}
	if err := a.Driver.CreateCollection(ctx, collection); err != nil {
		return fmt.Errorf("dbadapter: create collection %s: %w", collection, err)
	}
	return nil
}

// DropCollection deletes every document in collection, used by `--drop`
// import and by the view builder's "delete all existing rows" step.
func (a *Adapter) DropCollection(ctx context.Context, collection string) error {
	if err := a.Driver.DeleteMany(ctx, collection, record.Record{}); err != nil {
		return fmt.Errorf("dbadapter: drop %s: %w", collection, err)
	}
	return nil
}
