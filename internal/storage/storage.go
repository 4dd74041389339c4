// Package storage resolves local-vs-remote paths and drives Parquet I/O
// against both: local reads/writes go through internal/parquetio, remote
// walk/upload/download goes through a thanos-io/objstore bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/thanos-io/objstore"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/parquetio"
)

// Adapter resolves collection names to on-disk/remote paths and moves
// Parquet data between the local filesystem and a remote bucket.
type Adapter struct {
	DataDir   string
	SampleDir string
	Bucket    objstore.Bucket
}

func New(dataDir, sampleDir string, bucket objstore.Bucket) *Adapter {
	return &Adapter{DataDir: dataDir, SampleDir: sampleDir, Bucket: bucket}
}

// TargetFilepath resolves name (e.g. "pages.parquet" or
// "page_metrics.parquet/year=2024/month=3/0.parquet") to a local path under
// the sample or data root. remote paths are relative — the object store has
// no notion of the local root — so remote callers should use name directly
// against Adapter.Bucket rather than this method.
func (a *Adapter) TargetFilepath(name string, sample bool) string {
	root := a.DataDir
	if sample {
		root = a.SampleDir
	}
	return filepath.Join(root, name)
}

// ReadParquet eagerly reads every record batch of a single, non-partitioned
// Parquet file.
func (a *Adapter) ReadParquet(ctx context.Context, name string, sample bool) ([]arrow.Record, *arrow.Schema, error) {
	return parquetio.ReadAll(ctx, a.TargetFilepath(name, sample))
}

// WriteParquet writes records to a single file at the target path,
// creating parent directories as needed.
func (a *Adapter) WriteParquet(ctx context.Context, name string, sample bool, records []arrow.Record, schema *arrow.Schema, compressionLevel int) error {
	path := a.TargetFilepath(name, sample)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for %s: %w", path, err)
	}

	reader, err := newSliceReader(records, schema)
	if err != nil {
		return err
	}
	return parquetio.WriteStream(ctx, path, reader, parquetio.NewWriteOptions(compressionLevel))
}

// Partition identifies one partition file discovered under a partitioned
// collection directory.
type Partition struct {
	Year  int
	Month int // 0 if year-only
	Path  string
}

// Partitions lists the partition files that already exist on disk under a
// partitioned collection's directory: directories are named "year=YYYY"
// and, for month partitions, "year=YYYY/month=M"; the leaf file is always
// "0.parquet". A non-partitioned or not-yet-created collection yields nil,
// nil. Exported so the sync engine can discover which partitions already
// have data without duplicating this walk.
func (a *Adapter) Partitions(name string, sample bool) ([]Partition, error) {
	root := a.TargetFilepath(name, sample)
	var out []Partition

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	yearDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("storage: list partitions under %s: %w", root, err)
	}

	for _, yd := range yearDirs {
		if !yd.IsDir() || !strings.HasPrefix(yd.Name(), "year=") {
			continue
		}
		year, err := strconv.Atoi(strings.TrimPrefix(yd.Name(), "year="))
		if err != nil {
			continue
		}
		yearPath := filepath.Join(root, yd.Name())

		direct := filepath.Join(yearPath, "0.parquet")
		if _, err := os.Stat(direct); err == nil {
			out = append(out, Partition{Year: year, Path: direct})
			continue
		}

		monthDirs, err := os.ReadDir(yearPath)
		if err != nil {
			return nil, fmt.Errorf("storage: list month partitions under %s: %w", yearPath, err)
		}
		for _, md := range monthDirs {
			if !md.IsDir() || !strings.HasPrefix(md.Name(), "month=") {
				continue
			}
			month, err := strconv.Atoi(strings.TrimPrefix(md.Name(), "month="))
			if err != nil {
				continue
			}
			path := filepath.Join(yearPath, md.Name(), "0.parquet")
			out = append(out, Partition{Year: year, Month: month, Path: path})
		}
	}
	return out, nil
}

// PartitionPath returns the local path a calendar partition's file lives
// (or would live) at under a partitioned collection's directory, whether or
// not the file has been written yet.
func (a *Adapter) PartitionPath(name string, sample bool, p calendar.Partition) string {
	return filepath.Join(a.TargetFilepath(name, sample), p.Dir(), "0.parquet")
}

// ScanParquet reads every record of a collection, local or partitioned,
// applying a date >= minDate row filter per batch when minDate is non-nil
// and the schema has a date column. It materializes eagerly; callers that
// need bounded memory over a large partitioned collection stream through
// ScanParquetBatches instead.
func (a *Adapter) ScanParquet(ctx context.Context, name string, sample bool, minDate *time.Time) ([]arrow.Record, *arrow.Schema, error) {
	parts, err := a.Partitions(name, sample)
	if err != nil {
		return nil, nil, err
	}
	if parts == nil {
		records, schema, err := a.ReadParquet(ctx, name, sample)
		if err != nil {
			return nil, nil, err
		}
		filtered, err := filterByMinDate(records, schema, minDate)
		if err != nil {
			return nil, nil, err
		}
		return filtered, schema, nil
	}

	var all []arrow.Record
	var schema *arrow.Schema
	for _, p := range parts {
		records, s, err := parquetio.ReadAll(ctx, p.Path)
		if err != nil {
			return nil, nil, err
		}
		if schema == nil {
			schema = s
		}
		filtered, err := filterByMinDate(records, s, minDate)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, filtered...)
	}
	return all, schema, nil
}

// ScanParquetBatches streams every batch of name (partitioned or not)
// through fn without materializing the whole collection, so a large
// partitioned import bounds memory to one batch at a time.
func (a *Adapter) ScanParquetBatches(ctx context.Context, name string, sample bool, fn func(arrow.Record) error) error {
	parts, err := a.Partitions(name, sample)
	if err != nil {
		return err
	}
	if parts == nil {
		return parquetio.StreamFile(ctx, a.TargetFilepath(name, sample), fn)
	}
	for _, p := range parts {
		if err := parquetio.StreamFile(ctx, p.Path, fn); err != nil {
			return err
		}
	}
	return nil
}

// filterByMinDate drops every row whose `date` falls before minDate,
// rebuilding each batch against its own schema. Batches without a date
// column, or a nil minDate, pass through untouched.
func filterByMinDate(records []arrow.Record, schema *arrow.Schema, minDate *time.Time) ([]arrow.Record, error) {
	if minDate == nil {
		return records, nil
	}
	if _, ok := schema.FieldsByName("date"); !ok {
		return records, nil
	}

	out := make([]arrow.Record, 0, len(records))
	for _, rec := range records {
		rows, err := frame.ToRecords(rec)
		if err != nil {
			return nil, fmt.Errorf("storage: filter by min date: %w", err)
		}
		kept := rows[:0]
		for _, row := range rows {
			if d, ok := row["date"].(time.Time); ok && d.Before(*minDate) {
				continue
			}
			kept = append(kept, row)
		}
		if len(kept) == len(rows) {
			out = append(out, rec)
			continue
		}
		filtered, err := frame.FromRecords(nil, rec.Schema(), kept)
		rec.Release()
		if err != nil {
			return nil, fmt.Errorf("storage: filter by min date: %w", err)
		}
		out = append(out, filtered)
	}
	return out, nil
}

// ModelFilepaths expands name into the local .parquet file paths that
// actually exist for it: the single file for a simple collection, every
// partition's 0.parquet for a partitioned one, nothing for a collection
// never exported. Upload callers use this so a partitioned directory is
// never handed to the bucket as if it were a file.
func (a *Adapter) ModelFilepaths(name string, sample bool) ([]string, error) {
	path := a.TargetFilepath(name, sample)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return walkParquetFiles(path)
}

// UploadToRemote walks the local sample/data directory and uploads every
// .parquet file, preserving its path relative to the root, unless filepaths
// is given, in which case only those paths are uploaded (the incremental
// sync path, which knows exactly which partitions changed).
func (a *Adapter) UploadToRemote(ctx context.Context, filepaths []string, sample bool, cleanupLocal bool) error {
	if a.Bucket == nil {
		return fmt.Errorf("storage: no remote storage backend configured")
	}
	root := a.DataDir
	if sample {
		root = a.SampleDir
	}

	paths := filepaths
	if paths == nil {
		var err error
		paths, err = walkParquetFiles(root)
		if err != nil {
			return err
		}
	}

	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = filepath.Base(p)
		}
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("storage: open %s for upload: %w", p, err)
		}
		err = a.Bucket.Upload(ctx, filepath.ToSlash(rel), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("storage: upload %s: %w", rel, err)
		}
		if cleanupLocal {
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("storage: cleanup %s after upload: %w", p, err)
			}
		}
	}
	return nil
}

func walkParquetFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".parquet") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: walk %s: %w", root, err)
	}
	return out, nil
}

// DownloadFromRemote fetches each named object (or, for a partitioned
// collection, every .parquet descendant of the name's prefix) from the
// bucket into the matching local path under sample/data root.
func (a *Adapter) DownloadFromRemote(ctx context.Context, names []string, sample bool) error {
	if a.Bucket == nil {
		return fmt.Errorf("storage: no remote storage backend configured")
	}
	root := a.DataDir
	if sample {
		root = a.SampleDir
	}

	for _, name := range names {
		exists, err := a.Bucket.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("storage: check existence of %s: %w", name, err)
		}
		if exists {
			if err := a.downloadOne(ctx, name, filepath.Join(root, name)); err != nil {
				return err
			}
			continue
		}

		prefix := strings.TrimSuffix(name, "/") + "/"
		err = a.Bucket.Iter(ctx, prefix, func(objName string) error {
			if !strings.HasSuffix(objName, ".parquet") {
				return nil
			}
			return a.downloadOne(ctx, objName, filepath.Join(root, objName))
		}, objstore.WithRecursiveIter)
		if err != nil {
			return fmt.Errorf("storage: download directory %s: %w", name, err)
		}
	}
	return nil
}

func (a *Adapter) downloadOne(ctx context.Context, remoteName, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for download %s: %w", localPath, err)
	}
	rc, err := a.Bucket.Get(ctx, remoteName)
	if err != nil {
		return fmt.Errorf("storage: get %s: %w", remoteName, err)
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("storage: write %s: %w", localPath, err)
	}
	return nil
}

// sliceReader adapts a fixed []arrow.Record to the arrio.Reader shape
// parquetio.WriteStream consumes.
type sliceReader struct {
	records []arrow.Record
	schema  *arrow.Schema
	pos     int
}

func newSliceReader(records []arrow.Record, schema *arrow.Schema) (*sliceReader, error) {
	if schema == nil {
		return nil, fmt.Errorf("storage: WriteParquet requires a non-nil schema")
	}
	return &sliceReader{records: records, schema: schema}, nil
}

func (r *sliceReader) Read() (arrow.Record, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *sliceReader) Schema() *arrow.Schema { return r.schema }
