package schema

import (
	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/calendar"
	"github.com/arrowarc/parquetsync/internal/ident"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/sampling"
)

func searchtermStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "term", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "position", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		arrow.Field{Name: "ctr", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	)
}

func activityLinkStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "link", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
	)
}

// newPageMetricsCollection builds the page_metrics collection: a
// month-partitioned, incrementally-synced primary of per-url daily metrics,
// and three secondary models that explode the array-of-struct fields
// (aa_searchterms, gsc_searchterms, activity_map) into row-per-element
// files keyed by `_id`/`_term_id` or `_id`/`_link_id`.
func newPageMetricsCollection(gen *ident.Generator) *MongoCollection {
	primarySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "visits", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dyf_yes", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dyf_no", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gsc_total_clicks", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gsc_total_impressions", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gsc_total_ctr", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "gsc_total_position", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)

	primary := &ParquetModel{
		Collection:      "page_metrics",
		ParquetFilename: "page_metrics.parquet",
		Schema:          primarySchema,
		PartitionBy:     calendar.PartitionMonth,
		Transform:       roundFloatColumns("gsc_total_ctr", "gsc_total_position"),
		ReverseTransform: identityTransform,
		SamplingFilter: func(ctx sampling.Context) record.Record {
			return samplingFilterTasksAndDate(ctx)
		},
	}

	aaQuerySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "aa_searchterms", Type: arrow.ListOf(searchtermStructType()), Nullable: true},
	}, nil)
	aaSecondarySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "_term_id", Type: arrow.BinaryTypes.String},
		{Name: "term", Type: arrow.BinaryTypes.String},
		{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
		{Name: "position", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "ctr", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)
	aaRejoinSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "aa_searchterms", Type: arrow.ListOf(searchtermStructType())},
	}, nil)
	aaSearchterms := &ParquetModel{
		Collection:       "page_metrics",
		ParquetFilename:  "aa_searchterms.parquet",
		Schema:           aaQuerySchema,
		SecondarySchema:  aaSecondarySchema,
		PartitionBy:      calendar.PartitionMonth,
		Transform:        explodeListField("aa_searchterms", "_term_id", aaSecondarySchema, gen),
		ReverseTransform: implodeListField("aa_searchterms", "_term_id", []string{"term", "clicks", "position", "ctr"}, aaRejoinSchema),
	}

	gscQuerySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "gsc_searchterms", Type: arrow.ListOf(searchtermStructType()), Nullable: true},
	}, nil)
	gscSecondarySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "_term_id", Type: arrow.BinaryTypes.String},
		{Name: "term", Type: arrow.BinaryTypes.String},
		{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
		{Name: "position", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "ctr", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	}, nil)
	gscRejoinSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "gsc_searchterms", Type: arrow.ListOf(searchtermStructType())},
	}, nil)
	gscSearchterms := &ParquetModel{
		Collection:       "page_metrics",
		ParquetFilename:  "gsc_searchterms.parquet",
		Schema:           gscQuerySchema,
		SecondarySchema:  gscSecondarySchema,
		PartitionBy:      calendar.PartitionMonth,
		Transform:        explodeListField("gsc_searchterms", "_term_id", gscSecondarySchema, gen),
		ReverseTransform: implodeListField("gsc_searchterms", "_term_id", []string{"term", "clicks", "position", "ctr"}, gscRejoinSchema),
	}

	amQuerySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "activity_map", Type: arrow.ListOf(activityLinkStructType()), Nullable: true},
	}, nil)
	amSecondarySchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "_link_id", Type: arrow.BinaryTypes.String},
		{Name: "link", Type: arrow.BinaryTypes.String},
		{Name: "clicks", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	amRejoinSchema := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "activity_map", Type: arrow.ListOf(activityLinkStructType())},
	}, nil)
	activityMap := &ParquetModel{
		Collection:       "page_metrics",
		ParquetFilename:  "activity_map.parquet",
		Schema:           amQuerySchema,
		SecondarySchema:  amSecondarySchema,
		PartitionBy:      calendar.PartitionMonth,
		Transform:        explodeListField("activity_map", "_link_id", amSecondarySchema, gen),
		ReverseTransform: implodeListField("activity_map", "_link_id", []string{"link", "clicks"}, amRejoinSchema),
	}

	return &MongoCollection{
		Collection:      "page_metrics",
		PrimaryModel:    primary,
		SecondaryModels: []*ParquetModel{aaSearchterms, gscSearchterms, activityMap},
		SyncType:        SyncIncremental,
		ObjectIDFields:  []string{"_id"},
		DefaultValues: map[string]any{
			"aa_searchterms":  []any{},
			"gsc_searchterms": []any{},
			"activity_map":    []any{},
		},
	}
}

// samplingFilterTasksAndDate combines the sampled task id list ($in) with
// the sampled date range's lower bound ($gte).
func samplingFilterTasksAndDate(ctx sampling.Context) record.Record {
	filter := record.Record{}
	if ids := ctx.IDs("task"); len(ids) > 0 {
		vals := make([]any, len(ids))
		for i, id := range ids {
			vals[i] = id
		}
		filter["tasks"] = record.Record{"$in": vals}
	}
	if dr := ctx.DateRange(); !dr.Start.IsZero() {
		filter["date"] = record.Record{"$gte": dr.Start}
	}
	return filter
}
