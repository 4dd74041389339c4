package schema

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/sampling"
)

func TestCombinedSchemaUnifiesNarrowerNumericWins(t *testing.T) {
	primary := &ParquetModel{
		Schema: arrow.NewSchema([]arrow.Field{
			{Name: "_id", Type: arrow.BinaryTypes.String},
			{Name: "clicks", Type: arrow.PrimitiveTypes.Int32},
		}, nil),
	}
	secondary := &ParquetModel{
		Collection: "secondary",
		SecondarySchema: arrow.NewSchema([]arrow.Field{
			{Name: "_id", Type: arrow.BinaryTypes.String},
			{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
			{Name: "extra", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil),
	}
	c := &MongoCollection{
		Collection:      "test",
		PrimaryModel:    primary,
		SecondaryModels: []*ParquetModel{secondary},
	}

	combined, err := c.CombinedSchema()
	require.NoError(t, err)

	clicks, ok := combined.FieldsByName("clicks")
	require.True(t, ok)
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int32, clicks[0].Type))

	_, ok = combined.FieldsByName("extra")
	assert.True(t, ok)
}

func TestCombinedSchemaRejectsIncompatibleTypes(t *testing.T) {
	primary := &ParquetModel{
		Schema: arrow.NewSchema([]arrow.Field{
			{Name: "_id", Type: arrow.BinaryTypes.String},
			{Name: "flag", Type: arrow.FixedWidthTypes.Boolean},
		}, nil),
	}
	secondary := &ParquetModel{
		Collection: "secondary",
		SecondarySchema: arrow.NewSchema([]arrow.Field{
			{Name: "flag", Type: arrow.BinaryTypes.String},
		}, nil),
	}
	c := &MongoCollection{PrimaryModel: primary, SecondaryModels: []*ParquetModel{secondary}}

	_, err := c.CombinedSchema()
	assert.Error(t, err)
}

func TestPrepareForInsertAppliesDefaultsDecodesAndSorts(t *testing.T) {
	c := &MongoCollection{
		Collection:     "tasks",
		ObjectIDFields: []string{"_id"},
		DefaultValues:  map[string]any{"tasks": []any{}},
	}
	rows := []record.Record{
		{"_id": "64bb7ea337b9d8195e3b441e", "tasks": nil},
		{"_id": "64bb7ea337b9d8195e3b441d", "tasks": nil},
	}

	out, err := c.PrepareForInsert(rows, true)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]["_id"].(ident.ID)
	second := out[1]["_id"].(ident.ID)
	assert.True(t, ident.Less(first, second))
	assert.Equal(t, []any{}, out[0]["tasks"])
}

func TestExplodeImplodeListFieldRoundTrip(t *testing.T) {
	gen := ident.NewGenerator()
	secondarySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "_term_id", Type: arrow.BinaryTypes.String},
		{Name: "term", Type: arrow.BinaryTypes.String},
		{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rejoinSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "terms", Type: arrow.ListOf(searchtermStructType())},
	}, nil)

	queryRows := []record.Record{
		{
			"_id": "1",
			"terms": []any{
				record.Record{"term": "a", "clicks": int64(1), "position": nil, "ctr": nil},
				record.Record{"term": "b", "clicks": int64(2), "position": nil, "ctr": nil},
			},
		},
	}
	querySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "terms", Type: arrow.ListOf(searchtermStructType())},
	}, nil)
	queryRec, err := frame.FromRecords(nil, querySchema, queryRows)
	require.NoError(t, err)
	defer queryRec.Release()

	explode := explodeListField("terms", "_term_id", secondarySchema, gen)
	exploded, err := explode(queryRec)
	require.NoError(t, err)
	defer exploded.Release()
	assert.EqualValues(t, 2, exploded.NumRows())

	implode := implodeListField("terms", "_term_id", []string{"term", "clicks", "position", "ctr"}, rejoinSchema)
	rejoined, err := implode(exploded)
	require.NoError(t, err)
	defer rejoined.Release()
	assert.EqualValues(t, 1, rejoined.NumRows())

	rows, err := frame.ToRecords(rejoined)
	require.NoError(t, err)
	terms := rows[0]["terms"].([]any)
	assert.Len(t, terms, 2)
}

func TestSamplingFilterCombinesTaskIDsAndDateRange(t *testing.T) {
	t1, err := ident.FromHex("64bb7ea337b9d8195e3b441d")
	require.NoError(t, err)
	t2, err := ident.FromHex("621d280492982ac8c344d372")
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ctx := sampling.New(map[string][]ident.ID{"task": {t1, t2}}, sampling.DateRange{Start: start})
	filter := samplingFilterTasksAndDate(ctx)

	in := filter["tasks"].(record.Record)["$in"].([]any)
	assert.Equal(t, []any{t1, t2}, in)
	assert.Equal(t, start, filter["date"].(record.Record)["$gte"])
}

func TestSamplingFilterEmptyContextIsEmpty(t *testing.T) {
	filter := samplingFilterTasksAndDate(sampling.Context{})
	assert.Empty(t, filter)
}

func TestRegistrySelectIncludeExcludeAndDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&MongoCollection{Collection: "a"})
	r.Register(&MongoCollection{Collection: "b"})
	r.Register(&MongoCollection{Collection: "c"})

	all, err := r.Select(nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	included, err := r.Select([]string{"b"}, nil)
	require.NoError(t, err)
	require.Len(t, included, 1)
	assert.Equal(t, "b", included[0].Collection)

	excluded, err := r.Select(nil, []string{"b"})
	require.NoError(t, err)
	require.Len(t, excluded, 2)
	assert.Equal(t, "a", excluded[0].Collection)
	assert.Equal(t, "c", excluded[1].Collection)

	_, err = r.Select([]string{"nope"}, nil)
	assert.Error(t, err)
}

func TestBuildRegistersEveryCollectionInOrderWithPageMetricsFirst(t *testing.T) {
	gen := ident.NewGenerator()
	r := Build(gen)

	names := r.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, "page_metrics", names[0])
	assert.Equal(t, "view_pages", names[len(names)-2])
	assert.Equal(t, "view_tasks", names[len(names)-1])

	pm := r.Get("page_metrics")
	require.NotNil(t, pm)
	assert.Len(t, pm.SecondaryModels, 3)

	views, err := r.Select(nil, nil)
	require.NoError(t, err)
	var viewCount int
	for _, c := range views {
		if c.IsView {
			viewCount++
		}
	}
	assert.Equal(t, 2, viewCount)
}
