package syncengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/errs"
	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/parquetio"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
)

// DefaultImportBatchSize bounds how many joined rows insertBatches hands to
// a single insert_many call.
const DefaultImportBatchSize = 50000

// Import creates the target collection if absent, then streams the primary
// file (joined with its secondaries on `_id`) into the database in batches,
// partition by partition when the primary is partitioned and sampling is
// off. The primary file is never materialized whole: each batch is read,
// joined and inserted before the next is pulled.
func (e *Engine) Import(ctx context.Context, mc *schema.MongoCollection) error {
	if mc.IsView {
		return &errs.ConfigError{Collection: mc.Collection, Reason: "view collections are populated by the view builder, not import"}
	}
	if err := e.DB.EnsureCollection(ctx, mc.Collection); err != nil {
		return err
	}

	primary := mc.PrimaryModel
	if e.Sample || primary.PartitionBy == calendar.NoPartition {
		return e.importWhole(ctx, mc)
	}

	parts, err := e.Storage.Partitions(primary.ParquetFilename, e.Sample)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := e.importPartition(ctx, mc, calendar.Partition{Year: p.Year, Month: p.Month}); err != nil {
			return err
		}
	}
	return nil
}

// importWhole handles the non-partitioned (or sampling) path: index every
// secondary file in memory, then stream the primary file batch by batch
// through the join.
func (e *Engine) importWhole(ctx context.Context, mc *schema.MongoCollection) error {
	indexes, err := e.secondaryIndexes(ctx, mc, nil)
	if err != nil {
		return err
	}
	primary := mc.PrimaryModel
	return e.insertPrimaryStream(ctx, mc, indexes, func(fn func(arrow.Record) error) error {
		return e.Storage.ScanParquetBatches(ctx, primary.ParquetFilename, e.Sample, fn)
	})
}

// importPartition handles one calendar partition of a partitioned primary:
// the same streaming join, restricted to that partition's files. A
// secondary missing the partition contributes no rows, a pure left join; a
// primary missing the partition is skipped entirely.
func (e *Engine) importPartition(ctx context.Context, mc *schema.MongoCollection, p calendar.Partition) error {
	primaryPath := e.Storage.PartitionPath(mc.PrimaryModel.ParquetFilename, e.Sample, p)
	if !fileExists(primaryPath) {
		return nil
	}
	indexes, err := e.secondaryIndexes(ctx, mc, &p)
	if err != nil {
		return err
	}
	return e.insertPrimaryStream(ctx, mc, indexes, func(fn func(arrow.Record) error) error {
		return parquetio.StreamFile(ctx, primaryPath, fn)
	})
}

// secondaryIndexes reads each secondary model's file (or its file for one
// partition when p is non-nil), reverse-transforms it whole — an implode
// has to see every exploded row of an `_id` to regroup it — and indexes the
// resulting rows by `_id`. Only the secondaries are held in memory; the
// primary streams past them.
func (e *Engine) secondaryIndexes(ctx context.Context, mc *schema.MongoCollection, p *calendar.Partition) ([]map[string]record.Record, error) {
	indexes := make([]map[string]record.Record, 0, len(mc.SecondaryModels))
	for _, sm := range mc.SecondaryModels {
		var recs []arrow.Record
		var err error
		if p == nil {
			recs, _, err = e.Storage.ReadParquet(ctx, sm.ParquetFilename, e.Sample)
			if err != nil {
				return nil, fmt.Errorf("syncengine: import %s: read %s: %w", mc.Collection, sm.ParquetFilename, err)
			}
		} else {
			path := e.Storage.PartitionPath(sm.ParquetFilename, e.Sample, *p)
			if fileExists(path) {
				recs, _, err = parquetio.ReadAll(ctx, path)
				if err != nil {
					return nil, fmt.Errorf("syncengine: import %s partition %s: read %s: %w", mc.Collection, p.Dir(), path, err)
				}
			}
		}
		rows, err := e.reverseTransformRecords(sm, recs)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, indexByID(rows))
	}
	return indexes, nil
}

// reverseTransformRecords concatenates recs and applies m's reverse
// transform, returning the resulting rows, or nil if recs is empty.
func (e *Engine) reverseTransformRecords(m *schema.ParquetModel, recs []arrow.Record) ([]record.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()

	combined, err := frame.Concat(nil, recs[0].Schema(), recs)
	if err != nil {
		return nil, fmt.Errorf("syncengine: concat %s batches: %w", m.Collection, err)
	}
	defer combined.Release()

	reversed := combined
	if m.ReverseTransform != nil {
		reversed, err = m.ReverseTransform(combined)
		if err != nil {
			return nil, &errs.DataError{Collection: m.Collection, Reason: "reverse transform failed", Err: err}
		}
		defer reversed.Release()
	}

	return frame.ToRecords(reversed)
}

// insertPrimaryStream drives stream, reverse-transforming each primary
// batch, left-joining it against the secondary indexes on `_id`, applying
// the min-date predicate, sorting the batch by `_id` and inserting it
// before the next batch is read. Peak memory is one primary batch plus the
// secondary indexes.
func (e *Engine) insertPrimaryStream(ctx context.Context, mc *schema.MongoCollection, indexes []map[string]record.Record, stream func(func(arrow.Record) error) error) error {
	schemaDef, err := mc.CombinedSchema()
	if err != nil {
		return fmt.Errorf("syncengine: import %s: %w", mc.Collection, err)
	}
	primary := mc.PrimaryModel

	return stream(func(rec arrow.Record) error {
		if rec.NumRows() == 0 {
			return nil
		}
		reversed := rec
		if primary.ReverseTransform != nil {
			var err error
			reversed, err = primary.ReverseTransform(rec)
			if err != nil {
				return &errs.DataError{Collection: primary.Collection, Reason: "reverse transform failed", Err: err}
			}
			defer reversed.Release()
		}
		rows, err := frame.ToRecords(reversed)
		if err != nil {
			return err
		}

		joined := joinSecondaries(rows, indexes)
		joined = e.filterMinDate(mc, joined)
		sort.SliceStable(joined, func(i, j int) bool {
			return idKey(joined[i]["_id"]) < idKey(joined[j]["_id"])
		})
		return e.insertBatches(ctx, mc, schemaDef, joined, DefaultImportBatchSize)
	})
}

// joinSecondaries left-joins each secondary index's row onto the matching
// primary row by `_id`, at most one match per index. Rows are copied on
// first match so the inputs stay untouched.
func joinSecondaries(rows []record.Record, indexes []map[string]record.Record) []record.Record {
	if len(indexes) == 0 {
		return rows
	}
	out := make([]record.Record, len(rows))
	for i, row := range rows {
		merged := row
		cloned := false
		for _, index := range indexes {
			match, ok := index[idKey(row["_id"])]
			if !ok {
				continue
			}
			if !cloned {
				dup := make(record.Record, len(row)+len(match))
				for k, v := range row {
					dup[k] = v
				}
				merged = dup
				cloned = true
			}
			for k, v := range match {
				if k == "_id" {
					continue
				}
				merged[k] = v
			}
		}
		out[i] = merged
	}
	return out
}

// filterMinDate drops rows whose `date` column falls before e.MinDate, the
// `--min-date` import-time predicate. A collection with no `date` column,
// or an engine with no MinDate set, passes through unfiltered.
func (e *Engine) filterMinDate(mc *schema.MongoCollection, rows []record.Record) []record.Record {
	if e.MinDate == nil || !hasField(mc.PrimaryModel.Schema, "date") {
		return rows
	}
	out := rows[:0]
	for _, row := range rows {
		d, ok := row["date"].(time.Time)
		if ok && d.Before(*e.MinDate) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// insertBatches slices rows into batch-sized chunks (the whole slice when
// batchSize is 0) and inserts each via the database adapter, ordered.
func (e *Engine) insertBatches(ctx context.Context, mc *schema.MongoCollection, schemaDef *arrow.Schema, rows []record.Record, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	for offset := 0; offset < len(rows); offset += batchSize {
		end := offset + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[offset:end]

		rec, err := frame.FromRecords(nil, schemaDef, batch)
		if err != nil {
			return fmt.Errorf("syncengine: import %s: shaping batch: %w", mc.Collection, err)
		}
		err = e.DB.InsertMany(ctx, mc, rec, true)
		rec.Release()
		if err != nil {
			return fmt.Errorf("syncengine: import %s: insert batch [%d,%d): %w", mc.Collection, offset, end, err)
		}
	}
	return nil
}

func indexByID(rows []record.Record) map[string]record.Record {
	index := make(map[string]record.Record, len(rows))
	for _, row := range rows {
		index[idKey(row["_id"])] = row
	}
	return index
}

// idKey renders an `_id` value (ident.ID, string, or anything else) as a
// comparable string for joining and sorting.
func idKey(v any) string {
	switch id := v.(type) {
	case ident.ID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprintf("%v", v)
	}
}
