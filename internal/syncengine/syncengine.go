// Package syncengine drives the export, incremental-sync and import
// directions between the schema registry's models and the storage adapter:
// full and partitioned export, date-watermark incremental sync with atomic
// backup/rename and hash-tracked upload queueing, and partition-aware
// batched import.
package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/dbadapter"
	"github.com/arrowarc/parquetsync/internal/errs"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/sampling"
	"github.com/arrowarc/parquetsync/internal/schema"
	"github.com/arrowarc/parquetsync/internal/storage"
)

// defaultExportStart is the lower bound a partitioned export falls back to
// when a model's filter carries no date lower bound.
var defaultExportStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the engine's logger; the default is a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCompressionLevel overrides the zstd level used for every Parquet
// write this engine performs.
func WithCompressionLevel(level int) Option {
	return func(e *Engine) { e.CompressionLevel = level }
}

// WithPartitionDelay overrides the pause between partition exports.
func WithPartitionDelay(d time.Duration) Option {
	return func(e *Engine) { e.PartitionDelay = d }
}

// WithMinDate sets the import-time predicate `date >= minDate`, applied to
// every imported model that carries a `date` column.
func WithMinDate(minDate time.Time) Option {
	return func(e *Engine) { e.MinDate = &minDate }
}

// Engine holds the dependencies the export/sync/import operations share.
type Engine struct {
	Storage *storage.Adapter
	DB      *dbadapter.Adapter

	// Sample selects the sample directory and sampling-aware filters over
	// the full data directory and static filters.
	Sample      bool
	SamplingCtx sampling.Context

	// MinDate, if set, restricts Import to rows whose `date` column is on or
	// after it.
	MinDate *time.Time

	CompressionLevel int
	PartitionDelay   time.Duration

	logger log.Logger
}

// New builds an Engine against storage and db, applying opts in order.
func New(storageAdapter *storage.Adapter, db *dbadapter.Adapter, opts ...Option) *Engine {
	e := &Engine{
		Storage:          storageAdapter,
		DB:               db,
		CompressionLevel: 7,
		PartitionDelay:   300 * time.Millisecond,
		logger:           log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mergeFilter returns a new filter with extra's keys overlaid on base's,
// so a caller can replace a key (most often "date") by naming it in extra.
func mergeFilter(base, extra record.Record) record.Record {
	out := make(record.Record, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// withoutDate returns filter with its "date" key removed, if any.
func withoutDate(filter record.Record) record.Record {
	if _, ok := filter["date"]; !ok {
		return filter
	}
	out := make(record.Record, len(filter))
	for k, v := range filter {
		if k == "date" {
			continue
		}
		out[k] = v
	}
	return out
}

// dateRangeFromFilter derives the partition iteration span [start, end]:
// the filter's own date lower/upper bound if present (as left by a sampling
// filter), else defaultExportStart through now.
func dateRangeFromFilter(filter record.Record, now time.Time) (time.Time, time.Time) {
	start, end := defaultExportStart, now
	raw, ok := filter["date"]
	if !ok {
		return start, end
	}
	dr, ok := raw.(record.Record)
	if !ok {
		return start, end
	}
	if v, ok := dr["$gte"].(time.Time); ok {
		start = v
	}
	if v, ok := dr["$lte"].(time.Time); ok {
		end = v
	}
	return start, end
}

func hasField(s *arrow.Schema, name string) bool {
	_, ok := s.FieldsByName(name)
	return ok
}

// Export performs a full export of every model (primary then secondaries)
// of mc: partitioned export when the model declares a partition key and
// sampling is off, a single find+write otherwise.
func (e *Engine) Export(ctx context.Context, mc *schema.MongoCollection) error {
	for _, m := range mc.AllModels() {
		if err := e.exportModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) exportModel(ctx context.Context, m *schema.ParquetModel) error {
	filter := m.EffectiveFilter(e.Sample, e.SamplingCtx)
	if !e.Sample && m.PartitionBy != calendar.NoPartition {
		return e.exportPartitioned(ctx, m, filter)
	}

	rec, err := e.DB.Find(ctx, m, filter)
	if err != nil {
		return err
	}
	defer rec.Release()

	transformed, err := m.Transform(rec)
	if err != nil {
		return &errs.DataError{Collection: m.Collection, Reason: "transform failed", Err: err}
	}
	defer transformed.Release()

	if err := e.Storage.WriteParquet(ctx, m.ParquetFilename, e.Sample, []arrow.Record{transformed}, transformed.Schema(), e.CompressionLevel); err != nil {
		return fmt.Errorf("syncengine: write %s: %w", m.ParquetFilename, err)
	}
	return nil
}

// exportPartitioned iterates the model's calendar partitions, querying and
// writing each to its own year=/month= file, pausing between partitions so
// back-to-back range queries don't saturate the database.
func (e *Engine) exportPartitioned(ctx context.Context, m *schema.ParquetModel, filter record.Record) error {
	start, end := dateRangeFromFilter(filter, time.Now().UTC())
	parts := calendar.Partitions(m.PartitionBy, start, end)

	for _, p := range parts {
		pStart, pEnd := p.Bounds()
		if pStart.Before(start) {
			pStart = start
		}
		partitionFilter := mergeFilter(filter, record.Record{
			"date": record.Record{"$gte": pStart, "$lte": pEnd},
		})

		rec, err := e.DB.Find(ctx, m, partitionFilter)
		if err != nil {
			return err
		}
		if rec.NumRows() == 0 {
			rec.Release()
			continue
		}

		transformed, err := m.Transform(rec)
		rec.Release()
		if err != nil {
			return &errs.DataError{Collection: m.Collection, Reason: "transform failed", Err: err}
		}

		name := m.ParquetFilename + "/" + p.Dir() + "/0.parquet"
		err = e.Storage.WriteParquet(ctx, name, e.Sample, []arrow.Record{transformed}, transformed.Schema(), e.CompressionLevel)
		transformed.Release()
		if err != nil {
			return fmt.Errorf("syncengine: write partition %s: %w", p.Dir(), err)
		}

		level.Info(e.logger).Log("msg", "exported partition", "collection", m.Collection, "partition", p.Dir())

		if e.PartitionDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.PartitionDelay):
			}
		}
	}
	return nil
}
