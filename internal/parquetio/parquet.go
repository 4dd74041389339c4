// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

// Package parquetio streams Arrow records to and from Parquet files through
// the arrio.Reader/Writer abstraction, so a partitioned primary file is never
// materialized whole in memory.
package parquetio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/arrowarc/parquetsync/internal/arrio"
)

// WriteOptions controls how a Parquet file is produced. CompressionLevel
// follows the zstd 5-9 range named by the on-disk layout contract.
type WriteOptions struct {
	CompressionLevel   int
	MaxRowGroupLength  int64
	WriterAllocator    memory.Allocator
	ArrowWriterProps   pqarrow.ArrowWriterProperties
	ParquetWriterProps *parquet.WriterProperties
}

// NewWriteOptions builds zstd-compressed writer options at the given level;
// 0 or negative defaults to 7.
func NewWriteOptions(compressionLevel int) *WriteOptions {
	if compressionLevel <= 0 {
		compressionLevel = 7
	}
	mem := memory.NewGoAllocator()
	return &WriteOptions{
		CompressionLevel:  compressionLevel,
		MaxRowGroupLength: 128 * 1024 * 1024,
		WriterAllocator:   mem,
		ArrowWriterProps:  pqarrow.DefaultWriterProps(),
		ParquetWriterProps: parquet.NewWriterProperties(
			parquet.WithAllocator(mem),
			parquet.WithCompression(compress.Codecs.Zstd),
			parquet.WithCompressionLevel(compressionLevel),
			parquet.WithMaxRowGroupLength(128*1024*1024),
		),
	}
}

type parquetRecordReader struct {
	recordReader pqarrow.RecordReader
	parquetRdr   *file.Reader
}

func (r *parquetRecordReader) Read() (arrow.Record, error) {
	if !r.recordReader.Next() {
		if err := r.recordReader.Err(); err != nil && err != io.EOF {
			return nil, err
		}
		return nil, io.EOF
	}
	return r.recordReader.Record(), nil
}

func (r *parquetRecordReader) Close() error {
	return r.parquetRdr.Close()
}

// StreamReader is an arrio.Reader that also owns the underlying file handle.
type StreamReader interface {
	arrio.Reader
	Close() error
}

// ReadStream opens filePath and returns a streaming reader over its row
// groups. columns/rowGroups narrow what is read; empty/nil means "all".
func ReadStream(ctx context.Context, filePath string, memoryMap bool, batchSize int64, columns []string, rowGroups []int) (StreamReader, error) {
	if batchSize <= 0 {
		batchSize = 4096
	}

	parquetRdr, err := file.OpenParquetFile(filePath, memoryMap)
	if err != nil {
		return nil, fmt.Errorf("open parquet file %s: %w", filePath, err)
	}

	arrowRdr, err := pqarrow.NewFileReader(parquetRdr, pqarrow.ArrowReadProperties{
		BatchSize: batchSize,
		Parallel:  true,
	}, memory.DefaultAllocator)
	if err != nil {
		parquetRdr.Close()
		return nil, fmt.Errorf("create arrow file reader for %s: %w", filePath, err)
	}

	schema, err := arrowRdr.Schema()
	if err != nil {
		parquetRdr.Close()
		return nil, fmt.Errorf("read schema of %s: %w", filePath, err)
	}

	var colIndices []int
	if len(columns) > 0 {
		for i, field := range schema.Fields() {
			for _, name := range columns {
				if field.Name == name {
					colIndices = append(colIndices, i)
				}
			}
		}
	}
	if len(rowGroups) == 0 {
		rowGroups = nil
	}

	recordReader, err := arrowRdr.GetRecordReader(ctx, colIndices, rowGroups)
	if err != nil {
		parquetRdr.Close()
		return nil, fmt.Errorf("get record reader for %s: %w", filePath, err)
	}

	return &parquetRecordReader{recordReader: recordReader, parquetRdr: parquetRdr}, nil
}

// WriteStream drains reader into a single new Parquet file at filePath,
// opening the writer lazily from the first record's schema. If reader yields
// no records at all, an empty file is still created so downstream globbing
// finds it.
func WriteStream(ctx context.Context, filePath string, reader arrio.Reader, opts *WriteOptions) error {
	if opts == nil {
		opts = NewWriteOptions(7)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", filePath, err)
	}
	defer f.Close()

	var writer *pqarrow.FileWriter
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read record for %s: %w", filePath, err)
		}

		if writer == nil {
			writer, err = pqarrow.NewFileWriter(record.Schema(), f, opts.ParquetWriterProps, opts.ArrowWriterProps)
			if err != nil {
				return fmt.Errorf("create parquet writer for %s: %w", filePath, err)
			}
		}

		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write record to %s: %w", filePath, err)
		}
	}
}

// StreamFile opens filePath and calls fn once per record batch without ever
// materializing the whole file in memory, closing the reader when done or on
// the first error.
func StreamFile(ctx context.Context, filePath string, fn func(arrow.Record) error) error {
	r, err := ReadStream(ctx, filePath, false, 0, nil, nil)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// ReadAll materializes every record of filePath into memory. Used only for
// small reference files (pages, tasks, projects); partitioned primaries must
// stream via ReadStream instead.
func ReadAll(ctx context.Context, filePath string) ([]arrow.Record, *arrow.Schema, error) {
	r, err := ReadStream(ctx, filePath, false, 0, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var out []arrow.Record
	var schema *arrow.Schema
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rec.Retain()
		out = append(out, rec)
		if schema == nil {
			schema = rec.Schema()
		}
	}
	return out, schema, nil
}
