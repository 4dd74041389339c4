// Package viewbuilder computes the two derived, denormalized views —
// view_pages and view_tasks — the database never receives by sync: for each
// of the seven preset date ranges (and each preset's comparison range), it
// joins and aggregates the primary collections into one row per page or
// task, writes the result to a temporary Parquet file, then streams that
// file back in bounded batches through an unordered insert_many. The joins
// are plain Go maps keyed by url or task id, in the same left-join style
// internal/syncengine uses for secondary models.
package viewbuilder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/arrowarc/parquetsync/internal/dbadapter"
	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/parquetio"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
	"github.com/arrowarc/parquetsync/internal/storage"
	daterange "github.com/arrowarc/parquetsync/internal/views"
)

// DefaultPagesBatchSize and DefaultTasksBatchSize bound how many view rows
// insertFromTemp hands to a single insert_many call; tasks rows are far
// wider (nested per-day and per-topic tables), so their batches are far
// smaller.
const (
	DefaultPagesBatchSize = 20000
	DefaultTasksBatchSize = 1000
)

// Option configures a Builder at construction time.
type Option func(*Builder)

// WithLogger overrides the builder's logger; the default is a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithCompressionLevel overrides the zstd level used for temp-file writes.
func WithCompressionLevel(lvl int) Option {
	return func(b *Builder) { b.CompressionLevel = lvl }
}

// WithGenerator overrides the identifier generator used to mint view row ids.
func WithGenerator(g *ident.Generator) Option {
	return func(b *Builder) { b.gen = g }
}

// WithPagesBatchSize overrides the pages-view insert-from-temp batch size.
func WithPagesBatchSize(n int) Option {
	return func(b *Builder) { b.PagesBatchSize = n }
}

// WithTasksBatchSize overrides the tasks-view insert-from-temp batch size.
func WithTasksBatchSize(n int) Option {
	return func(b *Builder) { b.TasksBatchSize = n }
}

// Builder holds the dependencies the pages/tasks view recalculation share.
type Builder struct {
	Storage  *storage.Adapter
	DB       *dbadapter.Adapter
	Registry *schema.Registry

	// Sample selects the sample directory over the full data directory, the
	// same switch the sync engine uses.
	Sample bool

	CompressionLevel int
	PagesBatchSize   int
	TasksBatchSize   int

	gen    *ident.Generator
	logger log.Logger
}

// New builds a Builder against storage, db and registry, applying opts in
// order.
func New(storageAdapter *storage.Adapter, db *dbadapter.Adapter, registry *schema.Registry, opts ...Option) *Builder {
	b := &Builder{
		Storage:          storageAdapter,
		DB:               db,
		Registry:         registry,
		CompressionLevel: 7,
		PagesBatchSize:   DefaultPagesBatchSize,
		TasksBatchSize:   DefaultTasksBatchSize,
		gen:              ident.NewGenerator(),
		logger:           log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// tempDir returns the on-disk temp directory the view builder stages files
// in: a ".views_temp" sibling of the data/sample root, kept outside that
// root so UploadToRemote's parquet-file walk never picks up a half-built
// view file.
func (b *Builder) tempDir() string {
	root := b.Storage.DataDir
	if b.Sample {
		root = b.Storage.SampleDir
	}
	return filepath.Join(filepath.Dir(filepath.Clean(root)), ".views_temp")
}

func (b *Builder) tempPath(filename string) string {
	return filepath.Join(b.tempDir(), filename)
}

// CleanupTempDir removes every staged temp file, for `--cleanup-temp-dir`:
// a recalculation that crashed mid-way leaves partial files behind, and the
// next run's writeTemp calls would otherwise silently overwrite them, not
// clean them.
func (b *Builder) CleanupTempDir(ctx context.Context) error {
	if err := os.RemoveAll(b.tempDir()); err != nil {
		return fmt.Errorf("viewbuilder: cleanup temp dir: %w", err)
	}
	return nil
}

func (b *Builder) ensureTempDir() error {
	if err := os.MkdirAll(b.tempDir(), 0o755); err != nil {
		return fmt.Errorf("viewbuilder: create temp dir: %w", err)
	}
	return nil
}

// collection resolves name against the registry, erroring if it is unknown
// rather than panicking deep inside a join.
func (b *Builder) collection(name string) (*schema.MongoCollection, error) {
	mc := b.Registry.Get(name)
	if mc == nil {
		return nil, fmt.Errorf("viewbuilder: collection %q is not registered", name)
	}
	return mc, nil
}

// modelPath returns the local path a model's file (or partition directory)
// lives at, to probe for existence before reading.
func (b *Builder) modelPath(m *schema.ParquetModel) string {
	return b.Storage.TargetFilepath(m.ParquetFilename, b.Sample)
}

// readSecondaryRows reads mc's secondary model named filename (one of its
// exploded row-per-element files, e.g. "aa_searchterms.parquet"), or nil if
// mc declares no such secondary.
func (b *Builder) readSecondaryRows(ctx context.Context, mc *schema.MongoCollection, filename string) ([]record.Record, error) {
	for _, m := range mc.SecondaryModels {
		if m.ParquetFilename == filename {
			return b.readModelRows(ctx, m)
		}
	}
	return nil, nil
}

// readModelRows reads every row of m's file, partitioned or not, decoded to
// record.Record. A model that has never been exported yields nil, nil rather
// than an error: a fresh database may not have populated every lookup
// collection yet, and a view should degrade gracefully to "no contribution"
// rather than abort the whole recalculation.
func (b *Builder) readModelRows(ctx context.Context, m *schema.ParquetModel) ([]record.Record, error) {
	if _, err := os.Stat(b.modelPath(m)); err != nil {
		return nil, nil
	}

	recs, s, err := b.Storage.ScanParquet(ctx, m.ParquetFilename, b.Sample, nil)
	if err != nil {
		return nil, fmt.Errorf("viewbuilder: read %s: %w", m.ParquetFilename, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	combined, err := frame.Concat(nil, s, recs)
	for _, r := range recs {
		r.Release()
	}
	if err != nil {
		return nil, fmt.Errorf("viewbuilder: concat %s: %w", m.ParquetFilename, err)
	}
	defer combined.Release()

	return frame.ToRecords(combined)
}

// oneBatchReader adapts a single arrow.Record to the arrio.Reader shape
// parquetio.WriteStream consumes.
type oneBatchReader struct {
	rec  arrow.Record
	done bool
}

func (r *oneBatchReader) Read() (arrow.Record, error) {
	if r.done {
		return nil, io.EOF
	}
	r.done = true
	return r.rec, nil
}

// writeTemp shapes rows against schemaDef and writes them to filename under
// the temp directory, creating the directory if needed.
func (b *Builder) writeTemp(ctx context.Context, filename string, schemaDef *arrow.Schema, rows []record.Record) error {
	if err := b.ensureTempDir(); err != nil {
		return err
	}
	rec, err := frame.FromRecords(nil, schemaDef, rows)
	if err != nil {
		return fmt.Errorf("viewbuilder: shaping %s: %w", filename, err)
	}
	defer rec.Release()

	path := b.tempPath(filename)
	reader := &oneBatchReader{rec: rec}
	if err := parquetio.WriteStream(ctx, path, reader, parquetio.NewWriteOptions(b.CompressionLevel)); err != nil {
		return fmt.Errorf("viewbuilder: write %s: %w", filename, err)
	}
	return nil
}

// insertFromTemp streams filename back in batchSize-row chunks and hands
// each to an unordered insert_many.
func (b *Builder) insertFromTemp(ctx context.Context, filename string, mc *schema.MongoCollection, batchSize int) error {
	path := b.tempPath(filename)
	reader, err := parquetio.ReadStream(ctx, path, false, int64(batchSize), nil, nil)
	if err != nil {
		return fmt.Errorf("viewbuilder: read temp %s: %w", filename, err)
	}
	defer reader.Close()

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("viewbuilder: read temp %s: %w", filename, err)
		}
		if rec.NumRows() == 0 {
			continue
		}
		if err := b.DB.InsertMany(ctx, mc, rec, false); err != nil {
			return fmt.Errorf("viewbuilder: insert %s from temp %s: %w", mc.Collection, filename, err)
		}
	}
}

// allRanges flattens a DateRangesWithComparisons into its fourteen distinct
// spans (seven presets, each with its own range and comparison range).
func allRanges(ranges daterange.DateRangesWithComparisons) []daterange.DateRange {
	pairs := []daterange.DateRangeWithComparison{
		ranges.Week, ranges.Month, ranges.Quarter, ranges.Year,
		ranges.FiscalYear, ranges.Last52Weeks, ranges.YearToDate,
	}
	out := make([]daterange.DateRange, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, p.DateRange, p.ComparisonDateRange)
	}
	return out
}

// rangeFilename builds the per-range temp filename the two-phase
// write-then-insert pipeline uses to hand a range's rows from the write
// phase to the insert phase, e.g. "view_pages_20240101_20240131.parquet".
func rangeFilename(prefix string, dr daterange.DateRange) string {
	return fmt.Sprintf("%s_%s_%s.parquet", prefix, dr.Start.Format("20060102"), dr.End.Format("20060102"))
}

// inRange reports whether d falls within dr's inclusive day span.
func inRange(d time.Time, dr daterange.DateRange) bool {
	end := dr.End.AddDate(0, 0, 1)
	return !d.Before(dr.Start) && d.Before(end)
}

// intField reads row[key] as an int64, treating a missing or nil value as
// the zero-contribution rollup default.
func intField(row record.Record, key string) int64 {
	v, ok := row[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

// stringField reads row[key] as a string, or "" if absent/nil/wrong type.
func stringField(row record.Record, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// timeField reads row[key] as a time.Time, or the zero time if absent.
func timeField(row record.Record, key string) time.Time {
	v, ok := row[key]
	if !ok || v == nil {
		return time.Time{}
	}
	t, _ := v.(time.Time)
	return t
}

// stringListField reads row[key] as a []any of strings, or nil if absent.
func stringListField(row record.Record, key string) []string {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func logInfo(l log.Logger, keyvals ...interface{}) {
	level.Info(l).Log(keyvals...)
}
