package syncengine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/go-kit/log/level"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/errs"
	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/parquetio"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
)

// UploadQueue collects the local paths whose content changed during a sync
// run, deduplicated, in first-enqueued order.
type UploadQueue struct {
	seen  map[string]bool
	paths []string
}

// NewUploadQueue returns an empty queue.
func NewUploadQueue() *UploadQueue {
	return &UploadQueue{seen: make(map[string]bool)}
}

func (q *UploadQueue) enqueue(path string) {
	if q.seen[path] {
		return
	}
	q.seen[path] = true
	q.paths = append(q.paths, path)
}

// Paths returns the enqueued paths in enqueue order.
func (q *UploadQueue) Paths() []string {
	out := make([]string, len(q.paths))
	copy(out, q.paths)
	return out
}

// Empty reports whether nothing changed during the run.
func (q *UploadQueue) Empty() bool { return len(q.paths) == 0 }

// IncrementalSync appends rows with `date` past the on-disk watermark to
// mc's primary and secondary files, atomically per (partition) file, with
// rollback on failure. Returns the set of local paths that changed, for the
// caller to hand to storage.UploadToRemote.
func (e *Engine) IncrementalSync(ctx context.Context, mc *schema.MongoCollection) (*UploadQueue, error) {
	primary := mc.PrimaryModel
	if !hasField(primary.Schema, "date") {
		return nil, &errs.ConfigError{
			Collection: mc.Collection,
			Reason:     `incremental sync requires a "date" column on the primary model`,
		}
	}

	queue := NewUploadQueue()

	lastParquetDate, err := e.maxDateInParquet(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("syncengine: %s: %w", mc.Collection, err)
	}

	filter := primary.EffectiveFilter(e.Sample, e.SamplingCtx)
	dbMaxRaw, ok, err := e.DB.MaxDate(ctx, primary.Collection, "date", filter)
	if err != nil {
		return nil, fmt.Errorf("syncengine: %s: %w", mc.Collection, err)
	}
	if !ok {
		return queue, nil
	}
	dbMax, ok := dbMaxRaw.(time.Time)
	if !ok || !dbMax.After(lastParquetDate) {
		return queue, nil
	}

	backupDir := e.backupDir()
	for _, m := range mc.AllModels() {
		if err := e.syncModel(ctx, m, lastParquetDate, dbMax, backupDir, queue); err != nil {
			return queue, err
		}
	}
	return queue, nil
}

func (e *Engine) backupDir() string {
	return filepath.Join(e.tempDir(), "backup")
}

func (e *Engine) tempDir() string {
	root := e.Storage.DataDir
	if e.Sample {
		root = e.Storage.SampleDir
	}
	return filepath.Join(filepath.Dir(root), ".sync_temp")
}

// CleanupTempDir removes the backup staging directory, for
// `--cleanup-temp-dir`. Backups are otherwise left in place so a failed
// run's state stays recoverable until the operator opts into cleanup.
func (e *Engine) CleanupTempDir() error {
	if err := os.RemoveAll(e.tempDir()); err != nil {
		return fmt.Errorf("syncengine: cleanup temp dir: %w", err)
	}
	return nil
}

// maxDateInParquet returns the maximum `date` value across m's existing
// on-disk rows (partitioned or not), or the zero time if the model has no
// date column or no rows exist yet.
func (e *Engine) maxDateInParquet(ctx context.Context, m *schema.ParquetModel) (time.Time, error) {
	if !hasField(m.Schema, "date") {
		return time.Time{}, nil
	}
	records, _, err := e.Storage.ScanParquet(ctx, m.ParquetFilename, e.Sample, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("scan %s for max date: %w", m.ParquetFilename, err)
	}
	var max time.Time
	for _, rec := range records {
		rows, err := frame.ToRecords(rec)
		if err != nil {
			return time.Time{}, err
		}
		for _, row := range rows {
			if t, ok := row["date"].(time.Time); ok && t.After(max) {
				max = t
			}
		}
	}
	return max, nil
}

// syncModel queries one model's post-watermark rows and merges them into
// its file, or into each affected partition file for a partitioned model.
func (e *Engine) syncModel(ctx context.Context, m *schema.ParquetModel, lastParquetDate, dbMax time.Time, backupDir string, queue *UploadQueue) error {
	staticFilter := withoutDate(m.EffectiveFilter(e.Sample, e.SamplingCtx))

	if m.PartitionBy == calendar.NoPartition {
		incFilter := mergeFilter(staticFilter, record.Record{"date": record.Record{"$gt": lastParquetDate}})
		rec, err := e.DB.Find(ctx, m, incFilter)
		if err != nil {
			return err
		}
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}

		transformed, err := m.Transform(rec)
		if err != nil {
			return &errs.DataError{Collection: m.Collection, Reason: "transform failed", Err: err}
		}
		defer transformed.Release()

		path := e.Storage.TargetFilepath(m.ParquetFilename, e.Sample)
		return e.writeIncremental(ctx, m, path, transformed, backupDir, "", queue)
	}

	start := lastParquetDate.AddDate(0, 0, 1)
	if lastParquetDate.IsZero() {
		start = defaultExportStart
	}
	for _, p := range calendar.Partitions(m.PartitionBy, start, dbMax) {
		pStart, pEnd := p.Bounds()
		if pStart.Before(start) {
			pStart = start
		}
		incFilter := mergeFilter(staticFilter, record.Record{
			"date": record.Record{"$gt": lastParquetDate, "$gte": pStart, "$lte": pEnd},
		})

		rec, err := e.DB.Find(ctx, m, incFilter)
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

		path := e.Storage.PartitionPath(m.ParquetFilename, e.Sample, p)
		err = e.writeIncremental(ctx, m, path, transformed, backupDir, p.Dir(), queue)
		transformed.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// writeIncremental writes newRec's rows into path, creating it directly if
// absent or backing it up and concat-streaming (existing plus new) through
// a `.tmp.parquet` + atomic rename otherwise. path is enqueued onto queue
// iff its content hash changed.
func (e *Engine) writeIncremental(ctx context.Context, m *schema.ParquetModel, path string, newRec arrow.Record, backupDir, partitionLabel string, queue *UploadQueue) error {
	hashBefore, err := fileHash(path)
	if err != nil {
		return err
	}

	if !fileExists(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("syncengine: mkdir for %s: %w", path, err)
		}
		if err := parquetio.WriteStream(ctx, path, &recordsReader{records: []arrow.Record{newRec}}, parquetio.NewWriteOptions(e.CompressionLevel)); err != nil {
			return fmt.Errorf("syncengine: write %s: %w", path, err)
		}
	} else {
		existing, _, err := parquetio.ReadAll(ctx, path)
		if err != nil {
			return fmt.Errorf("syncengine: read existing %s: %w", path, err)
		}

		backupPath, err := backupFile(path, backupDir)
		if err != nil {
			return err
		}

		if err := e.concatAndReplace(ctx, path, existing, newRec); err != nil {
			restored := restoreFile(backupPath, path) == nil
			return &errs.AtomicWriteError{Path: path, Partition: partitionLabel, Restored: restored, Err: err}
		}
	}

	hashAfter, err := fileHash(path)
	if err != nil {
		return err
	}
	if hashAfter != hashBefore {
		queue.enqueue(path)
	}
	level.Info(e.logger).Log("msg", "incremental sync updated file", "collection", m.Collection, "path", path, "partition", partitionLabel)
	return nil
}

// concatAndReplace streams existing ∪ {newRec} to a temp file beside path,
// then atomically renames it over path. On failure the temp file is
// discarded and path is left untouched; the caller is responsible for
// restoring path from its backup.
func (e *Engine) concatAndReplace(ctx context.Context, path string, existing []arrow.Record, newRec arrow.Record) error {
	tmpPath := tmpPathFor(path)
	if len(existing) > 0 && !newRec.Schema().Equal(existing[0].Schema()) {
		// Batches read back from Parquet carry field metadata a freshly
		// queried batch lacks; rebuild the new rows on the file's schema.
		rows, err := frame.ToRecords(newRec)
		if err != nil {
			return fmt.Errorf("conform new rows for %s: %w", path, err)
		}
		conformed, err := frame.FromRecords(nil, existing[0].Schema(), rows)
		if err != nil {
			return fmt.Errorf("conform new rows for %s: %w", path, err)
		}
		defer conformed.Release()
		newRec = conformed
	}
	all := make([]arrow.Record, 0, len(existing)+1)
	all = append(all, existing...)
	all = append(all, newRec)

	if err := parquetio.WriteStream(ctx, tmpPath, &recordsReader{records: all}, parquetio.NewWriteOptions(e.CompressionLevel)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("concat to %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s over %s: %w", tmpPath, path, err)
	}
	return nil
}

func tmpPathFor(path string) string {
	if strings.HasSuffix(path, ".parquet") {
		return strings.TrimSuffix(path, ".parquet") + ".tmp.parquet"
	}
	return path + ".tmp.parquet"
}

// fileHash returns the hex MD5 digest of path's contents, or "" if path
// does not exist — absence is treated as "no prior content" so a
// newly-created file always registers as changed.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("syncengine: hash %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("syncengine: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// backupFile copies path into backupDir, returning the backup's path, or ""
// if path does not exist yet (nothing to protect).
func backupFile(path, backupDir string) (string, error) {
	if !fileExists(path) {
		return "", nil
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("syncengine: mkdir backup dir %s: %w", backupDir, err)
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := copyFile(path, backupPath); err != nil {
		return "", fmt.Errorf("syncengine: backup %s: %w", path, err)
	}
	return backupPath, nil
}

// restoreFile copies backupPath back over originalPath, or removes
// originalPath if there was no backup (the file did not exist pre-sync).
func restoreFile(backupPath, originalPath string) error {
	if backupPath == "" {
		return os.Remove(originalPath)
	}
	return copyFile(backupPath, originalPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// recordsReader adapts a fixed slice of arrow.Record to arrio.Reader for
// parquetio.WriteStream's consumption.
type recordsReader struct {
	records []arrow.Record
	pos     int
}

func (r *recordsReader) Read() (arrow.Record, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}
