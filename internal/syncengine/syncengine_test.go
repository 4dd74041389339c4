package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/dbadapter"
	"github.com/arrowarc/parquetsync/internal/errs"
	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
	"github.com/arrowarc/parquetsync/internal/storage"
)

// fakeDriver serves a fixed row set, applying any date bounds the filter
// carries, and records inserts, standing in for the database the same way
// the controller and dbadapter tests fake it.
type fakeDriver struct {
	rows []record.Record

	insertedRows []record.Record
	insertedOrd  bool
	collections  []string
	created      []string
}

func (f *fakeDriver) Find(ctx context.Context, collection string, filter, projection record.Record) ([]record.Record, error) {
	var out []record.Record
	for _, row := range f.rows {
		if matchesDateFilter(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

func matchesDateFilter(row, filter record.Record) bool {
	cond, ok := filter["date"].(record.Record)
	if !ok {
		return true
	}
	d, ok := row["date"].(time.Time)
	if !ok {
		return false
	}
	if v, ok := cond["$gt"].(time.Time); ok && !d.After(v) {
		return false
	}
	if v, ok := cond["$gte"].(time.Time); ok && d.Before(v) {
		return false
	}
	if v, ok := cond["$lte"].(time.Time); ok && d.After(v) {
		return false
	}
	return true
}

func (f *fakeDriver) Aggregate(ctx context.Context, collection string, pipeline []record.Record) ([]record.Record, error) {
	return f.rows, nil
}

func (f *fakeDriver) InsertMany(ctx context.Context, collection string, rows []record.Record, ordered bool) error {
	f.insertedRows = append(f.insertedRows, rows...)
	f.insertedOrd = ordered
	return nil
}

func (f *fakeDriver) DeleteMany(ctx context.Context, collection string, filter record.Record) error {
	return nil
}

func (f *fakeDriver) ListCollections(ctx context.Context) ([]string, error) {
	return f.collections, nil
}

func (f *fakeDriver) CreateCollection(ctx context.Context, collection string) error {
	f.created = append(f.created, collection)
	return nil
}

func (f *fakeDriver) MaxDate(ctx context.Context, collection, field string, filter record.Record) (any, bool, error) {
	var max time.Time
	for _, row := range f.rows {
		if d, ok := row["date"].(time.Time); ok && d.After(max) {
			max = d
		}
	}
	if max.IsZero() {
		return nil, false, nil
	}
	return max, true, nil
}

func retainIdentity(rec arrow.Record) (arrow.Record, error) {
	rec.Retain()
	return rec, nil
}

func metricsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "visits", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
}

func metricsCollection(start, end time.Time) *schema.MongoCollection {
	primary := &schema.ParquetModel{
		Collection:      "metrics",
		ParquetFilename: "metrics.parquet",
		Schema:          metricsSchema(),
		Filter:          record.Record{"date": record.Record{"$gte": start, "$lte": end}},
		PartitionBy:     calendar.PartitionMonth,
		Transform:       retainIdentity,
	}
	return &schema.MongoCollection{
		Collection:   "metrics",
		PrimaryModel: primary,
		SyncType:     schema.SyncIncremental,
	}
}

func metricsRow(id string, d time.Time, visits int64) record.Record {
	return record.Record{"_id": id, "url": "/a", "date": d, "visits": visits}
}

func newTestEngine(t *testing.T, driver *fakeDriver) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	adapter := storage.New(dataDir, filepath.Join(root, "sample"), nil)
	return New(adapter, dbadapter.New(driver), WithPartitionDelay(0)), dataDir
}

func countRows(t *testing.T, e *Engine, name string) int64 {
	t.Helper()
	records, _, err := e.Storage.ScanParquet(context.Background(), name, false, nil)
	require.NoError(t, err)
	var n int64
	for _, rec := range records {
		n += rec.NumRows()
		rec.Release()
	}
	return n
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExportPartitionedSplitsOnMonthBoundary(t *testing.T) {
	driver := &fakeDriver{rows: []record.Record{
		metricsRow("1", time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), 1),
		metricsRow("2", day(2024, 2, 1), 2),
	}}
	e, dataDir := newTestEngine(t, driver)
	mc := metricsCollection(day(2024, 1, 1), day(2024, 2, 29))

	require.NoError(t, e.Export(context.Background(), mc))

	jan := filepath.Join(dataDir, "metrics.parquet", "year=2024", "month=1", "0.parquet")
	feb := filepath.Join(dataDir, "metrics.parquet", "year=2024", "month=2", "0.parquet")
	assert.FileExists(t, jan)
	assert.FileExists(t, feb)
	assert.EqualValues(t, 2, countRows(t, e, "metrics.parquet"))
}

func TestIncrementalSyncRequiresDateColumn(t *testing.T) {
	e, _ := newTestEngine(t, &fakeDriver{})
	mc := &schema.MongoCollection{
		Collection: "pages",
		PrimaryModel: &schema.ParquetModel{
			Collection:      "pages",
			ParquetFilename: "pages.parquet",
			Schema: arrow.NewSchema([]arrow.Field{
				{Name: "_id", Type: arrow.BinaryTypes.String},
			}, nil),
		},
	}

	_, err := e.IncrementalSync(context.Background(), mc)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestIncrementalSyncAppendsOnlyNewRows(t *testing.T) {
	driver := &fakeDriver{rows: []record.Record{
		metricsRow("1", day(2024, 3, 10), 1),
		metricsRow("2", day(2024, 3, 15), 2),
	}}
	e, dataDir := newTestEngine(t, driver)
	mc := metricsCollection(day(2024, 3, 1), day(2024, 4, 30))

	require.NoError(t, e.Export(context.Background(), mc))
	require.EqualValues(t, 2, countRows(t, e, "metrics.parquet"))

	driver.rows = append(driver.rows, metricsRow("3", day(2024, 3, 18), 3))

	queue, err := e.IncrementalSync(context.Background(), mc)
	require.NoError(t, err)

	mar := filepath.Join(dataDir, "metrics.parquet", "year=2024", "month=3", "0.parquet")
	assert.Equal(t, []string{mar}, queue.Paths())
	assert.EqualValues(t, 3, countRows(t, e, "metrics.parquet"))
}

func TestIncrementalSyncIsNoOpWhenDatabaseNotAhead(t *testing.T) {
	driver := &fakeDriver{rows: []record.Record{
		metricsRow("1", day(2024, 3, 10), 1),
	}}
	e, dataDir := newTestEngine(t, driver)
	mc := metricsCollection(day(2024, 3, 1), day(2024, 3, 31))

	require.NoError(t, e.Export(context.Background(), mc))
	mar := filepath.Join(dataDir, "metrics.parquet", "year=2024", "month=3", "0.parquet")
	hashBefore, err := fileHash(mar)
	require.NoError(t, err)

	queue, err := e.IncrementalSync(context.Background(), mc)
	require.NoError(t, err)

	assert.True(t, queue.Empty())
	hashAfter, err := fileHash(mar)
	require.NoError(t, err)
	assert.Equal(t, hashBefore, hashAfter)
}

func TestIncrementalSyncCrossingMonthBoundaryTouchesOnlyNewPartitions(t *testing.T) {
	driver := &fakeDriver{rows: []record.Record{
		metricsRow("1", day(2024, 3, 10), 1),
		metricsRow("2", day(2024, 3, 18), 2),
	}}
	e, dataDir := newTestEngine(t, driver)
	mc := metricsCollection(day(2024, 3, 1), day(2024, 4, 30))

	require.NoError(t, e.Export(context.Background(), mc))
	mar := filepath.Join(dataDir, "metrics.parquet", "year=2024", "month=3", "0.parquet")
	marHash, err := fileHash(mar)
	require.NoError(t, err)

	driver.rows = append(driver.rows, metricsRow("3", day(2024, 4, 2), 3))

	queue, err := e.IncrementalSync(context.Background(), mc)
	require.NoError(t, err)

	apr := filepath.Join(dataDir, "metrics.parquet", "year=2024", "month=4", "0.parquet")
	assert.Equal(t, []string{apr}, queue.Paths())
	assert.FileExists(t, apr)

	marHashAfter, err := fileHash(mar)
	require.NoError(t, err)
	assert.Equal(t, marHash, marHashAfter, "rows before the watermark must stay byte-identical")
}

func TestImportDecodesIDsAndInsertsOrdered(t *testing.T) {
	driver := &fakeDriver{}
	e, _ := newTestEngine(t, driver)

	pagesSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "url", Type: arrow.BinaryTypes.String},
	}, nil)
	mc := &schema.MongoCollection{
		Collection: "pages",
		PrimaryModel: &schema.ParquetModel{
			Collection:      "pages",
			ParquetFilename: "pages.parquet",
			Schema:          pagesSchema,
		},
		ObjectIDFields: []string{"_id"},
	}

	rec, err := frame.FromRecords(nil, pagesSchema, []record.Record{
		{"_id": "64bb7ea337b9d8195e3b441e", "url": "/b"},
		{"_id": "64bb7ea337b9d8195e3b441d", "url": "/a"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Storage.WriteParquet(context.Background(), "pages.parquet", false, []arrow.Record{rec}, pagesSchema, 7))
	rec.Release()

	require.NoError(t, e.Import(context.Background(), mc))

	assert.Equal(t, []string{"pages"}, driver.created)
	require.Len(t, driver.insertedRows, 2)
	assert.True(t, driver.insertedOrd)

	first := driver.insertedRows[0]["_id"].(ident.ID)
	second := driver.insertedRows[1]["_id"].(ident.ID)
	assert.True(t, ident.Less(first, second), "insert batches must be sorted by _id")
	assert.Equal(t, "/a", driver.insertedRows[0]["url"])
}

func TestImportJoinsSecondaryIndexOntoStreamedPrimary(t *testing.T) {
	driver := &fakeDriver{}
	e, _ := newTestEngine(t, driver)

	termStruct := arrow.StructOf(
		arrow.Field{Name: "term", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
	)
	primarySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "url", Type: arrow.BinaryTypes.String},
	}, nil)
	fileSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "term", Type: arrow.BinaryTypes.String},
		{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rejoinSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "terms", Type: arrow.ListOf(termStruct)},
	}, nil)

	secondary := &schema.ParquetModel{
		Collection:      "pages",
		ParquetFilename: "terms.parquet",
		Schema:          fileSchema,
		SecondarySchema: rejoinSchema,
		ReverseTransform: func(rec arrow.Record) (arrow.Record, error) {
			rows, err := frame.ToRecords(rec)
			if err != nil {
				return nil, err
			}
			var order []string
			grouped := make(map[string][]any)
			for _, row := range rows {
				id := row["_id"].(string)
				if _, seen := grouped[id]; !seen {
					order = append(order, id)
				}
				grouped[id] = append(grouped[id], record.Record{"term": row["term"], "clicks": row["clicks"]})
			}
			out := make([]record.Record, 0, len(order))
			for _, id := range order {
				out = append(out, record.Record{"_id": id, "terms": grouped[id]})
			}
			return frame.FromRecords(nil, rejoinSchema, out)
		},
	}
	mc := &schema.MongoCollection{
		Collection: "pages",
		PrimaryModel: &schema.ParquetModel{
			Collection:      "pages",
			ParquetFilename: "pages.parquet",
			Schema:          primarySchema,
		},
		SecondaryModels: []*schema.ParquetModel{secondary},
		ObjectIDFields:  []string{"_id"},
	}

	const idA = "64bb7ea337b9d8195e3b441d"
	primaryRec, err := frame.FromRecords(nil, primarySchema, []record.Record{
		{"_id": idA, "url": "/a"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Storage.WriteParquet(context.Background(), "pages.parquet", false, []arrow.Record{primaryRec}, primarySchema, 7))
	primaryRec.Release()

	secondaryRec, err := frame.FromRecords(nil, fileSchema, []record.Record{
		{"_id": idA, "term": "x", "clicks": int64(3)},
		{"_id": idA, "term": "y", "clicks": int64(1)},
	})
	require.NoError(t, err)
	require.NoError(t, e.Storage.WriteParquet(context.Background(), "terms.parquet", false, []arrow.Record{secondaryRec}, fileSchema, 7))
	secondaryRec.Release()

	require.NoError(t, e.Import(context.Background(), mc))

	require.Len(t, driver.insertedRows, 1)
	row := driver.insertedRows[0]
	assert.Equal(t, "/a", row["url"])
	terms, ok := row["terms"].([]any)
	require.True(t, ok)
	require.Len(t, terms, 2)
	var clicks int64
	for _, tm := range terms {
		clicks += tm.(record.Record)["clicks"].(int64)
	}
	assert.EqualValues(t, 4, clicks)
}

func TestImportAppliesMinDate(t *testing.T) {
	driver := &fakeDriver{}
	e, _ := newTestEngine(t, driver)
	cutoff := day(2024, 3, 15)
	e.MinDate = &cutoff

	s := metricsSchema()
	mc := &schema.MongoCollection{
		Collection: "metrics",
		PrimaryModel: &schema.ParquetModel{
			Collection:      "metrics",
			ParquetFilename: "metrics.parquet",
			Schema:          s,
		},
		ObjectIDFields: []string{"_id"},
	}

	rec, err := frame.FromRecords(nil, s, []record.Record{
		metricsRow("64bb7ea337b9d8195e3b441d", day(2024, 3, 10), 1),
		metricsRow("64bb7ea337b9d8195e3b441e", day(2024, 3, 20), 2),
	})
	require.NoError(t, err)
	require.NoError(t, e.Storage.WriteParquet(context.Background(), "metrics.parquet", false, []arrow.Record{rec}, s, 7))
	rec.Release()

	require.NoError(t, e.Import(context.Background(), mc))

	require.Len(t, driver.insertedRows, 1)
	assert.Equal(t, day(2024, 3, 20), driver.insertedRows[0]["date"])
}

func TestUploadQueueDedupesAndPreservesOrder(t *testing.T) {
	q := NewUploadQueue()
	q.enqueue("a")
	q.enqueue("b")
	q.enqueue("a")

	assert.Equal(t, []string{"a", "b"}, q.Paths())
	assert.False(t, q.Empty())
	assert.True(t, NewUploadQueue().Empty())
}

func TestWithoutDateStripsOnlyDateKey(t *testing.T) {
	f := record.Record{"date": record.Record{"$gte": day(2024, 1, 1)}, "tasks": "x"}
	out := withoutDate(f)
	_, hasDate := out["date"]
	assert.False(t, hasDate)
	assert.Equal(t, "x", out["tasks"])
	assert.Contains(t, f, "date", "input filter must not be mutated")
}

func TestDateRangeFromFilterDefaults(t *testing.T) {
	now := day(2024, 6, 1)
	start, end := dateRangeFromFilter(record.Record{}, now)
	assert.Equal(t, defaultExportStart, start)
	assert.Equal(t, now, end)

	start, end = dateRangeFromFilter(record.Record{
		"date": record.Record{"$gte": day(2024, 3, 1), "$lte": day(2024, 4, 30)},
	}, now)
	assert.Equal(t, day(2024, 3, 1), start)
	assert.Equal(t, day(2024, 4, 30), end)
}

func TestTmpPathFor(t *testing.T) {
	assert.Equal(t, "/x/0.tmp.parquet", tmpPathFor("/x/0.parquet"))
	assert.Equal(t, "/x/file.tmp.parquet", tmpPathFor("/x/file"))
}
