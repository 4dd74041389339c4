package frame

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquetsync/internal/record"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "visits", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "tags", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}, nil)
}

func TestFromRecordsToRecordsRoundTrip(t *testing.T) {
	schema := testSchema()
	now := time.Now().UTC().Truncate(time.Millisecond)
	rows := []record.Record{
		{
			"_id":    "64bb7ea337b9d8195e3b441d",
			"visits": int64(42),
			"score":  float32(0.5),
			"date":   now,
			"tags":   []any{"a", "b"},
		},
		{
			"_id":    "64bb7ea337b9d8195e3b441e",
			"visits": nil,
			"score":  nil,
			"date":   now,
			"tags":   []any{},
		},
	}

	rec, err := FromRecords(nil, schema, rows)
	require.NoError(t, err)
	defer rec.Release()
	assert.EqualValues(t, 2, rec.NumRows())

	back, err := ToRecords(rec)
	require.NoError(t, err)
	require.Len(t, back, 2)

	assert.Equal(t, "64bb7ea337b9d8195e3b441d", back[0]["_id"])
	assert.EqualValues(t, 42, back[0]["visits"])
	assert.Equal(t, now, back[0]["date"])
	assert.Equal(t, []any{"a", "b"}, back[0]["tags"])

	assert.Nil(t, back[1]["visits"])
	assert.Nil(t, back[1]["score"])
	assert.Equal(t, []any{}, back[1]["tags"])
}

func TestFromRecordsRejectsWrongType(t *testing.T) {
	schema := testSchema()
	_, err := FromRecords(nil, schema, []record.Record{{"_id": 123}})
	assert.Error(t, err)
}

func TestConcatEmptyYieldsZeroRowBatchWithSchema(t *testing.T) {
	schema := testSchema()
	rec, err := Concat(nil, schema, nil)
	require.NoError(t, err)
	defer rec.Release()
	assert.EqualValues(t, 0, rec.NumRows())
	assert.True(t, rec.Schema().Equal(schema))
}

func TestConcatMergesMultipleBatches(t *testing.T) {
	schema := testSchema()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a, err := FromRecords(nil, schema, []record.Record{
		{"_id": "1", "visits": int64(1), "score": nil, "date": now, "tags": []any{}},
	})
	require.NoError(t, err)
	defer a.Release()
	b, err := FromRecords(nil, schema, []record.Record{
		{"_id": "2", "visits": int64(2), "score": nil, "date": now, "tags": []any{}},
	})
	require.NoError(t, err)
	defer b.Release()

	merged, err := Concat(nil, schema, []arrow.Record{a, b})
	require.NoError(t, err)
	defer merged.Release()
	assert.EqualValues(t, 2, merged.NumRows())
}
