package schema

import (
	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/calendar"
)

// Each constructor below declares its own schema inline; several of the
// lookup collections share the same "id + a handful of string/list fields"
// contour.

func newPagesCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "lang", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "redirect", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "is_404", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "owners", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "sections", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "tasks", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}, nil)
	primary := &ParquetModel{
		Collection:       "pages",
		ParquetFilename:  "pages.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "pages",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id"},
		DefaultValues: map[string]any{
			"owners":   []any{},
			"sections": []any{},
			"tasks":    []any{},
		},
	}
}

func newCalldriversCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "tpc_id", Type: arrow.BinaryTypes.String},
		{Name: "enquiry_line", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "topic", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "subtopic", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "sub_subtopic", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "calls", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	primary := &ParquetModel{
		Collection:       "calldrivers",
		ParquetFilename:  "calldrivers.parquet",
		Schema:           s,
		PartitionBy:      calendar.PartitionMonth,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "calldrivers",
		PrimaryModel:   primary,
		SyncType:       SyncIncremental,
		ObjectIDFields: []string{"_id"},
	}
}

func newFeedbackCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "tasks", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "main_section", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "whats_wrong", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "comment", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	primary := &ParquetModel{
		Collection:       "feedback",
		ParquetFilename:  "feedback.parquet",
		Schema:           s,
		PartitionBy:      calendar.PartitionMonth,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "feedback",
		PrimaryModel:   primary,
		SyncType:       SyncIncremental,
		ObjectIDFields: []string{"_id"},
		DefaultValues:  map[string]any{"tasks": []any{}},
	}
}

func newGCTasksMappingsCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "gc_task", Type: arrow.BinaryTypes.String},
		{Name: "task_id", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	primary := &ParquetModel{
		Collection:       "gc_tasks_mappings",
		ParquetFilename:  "gc_tasks_mappings.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "gc_tasks_mappings",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id"},
	}
}

func newGCTSSCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "gc_task", Type: arrow.BinaryTypes.String},
		{Name: "sampling_task", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "able_to_complete", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	primary := &ParquetModel{
		Collection:       "gc_tss",
		ParquetFilename:  "gc_tss.parquet",
		Schema:           s,
		PartitionBy:      calendar.PartitionMonth,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "gc_tss",
		PrimaryModel:   primary,
		SyncType:       SyncIncremental,
		ObjectIDFields: []string{"_id"},
	}
}

func gcTaskStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "title", Type: arrow.BinaryTypes.String},
	)
}

func newTasksCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "tpc_ids", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "gc_tasks", Type: arrow.ListOf(gcTaskStructType())},
		{Name: "projects", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "ux_tests", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}, nil)
	primary := &ParquetModel{
		Collection:       "tasks",
		ParquetFilename:  "tasks.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "tasks",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id"},
		DefaultValues: map[string]any{
			"tpc_ids":  []any{},
			"gc_tasks": []any{},
			"projects": []any{},
			"ux_tests": []any{},
		},
	}
}

func newProjectsCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "tasks", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}, nil)
	primary := &ParquetModel{
		Collection:       "projects",
		ParquetFilename:  "projects.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "projects",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id"},
		DefaultValues:  map[string]any{"tasks": []any{}},
	}
}

func newUxTestsCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "tasks", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "cops", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	}, nil)
	primary := &ParquetModel{
		Collection:       "ux_tests",
		ParquetFilename:  "ux_tests.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "ux_tests",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id"},
		DefaultValues:  map[string]any{"tasks": []any{}},
	}
}

// newLookupCollection builds one of the static, non-partitioned reference
// tables that are joined onto views but otherwise move verbatim between the
// database and a single Parquet file: pages_list, annotations, readability,
// reports, custom_reports_registry, search_assessment. Each gets its own
// small schema, since their field sets genuinely differ, but share the
// identity transform/reverse_transform and simple sync type.
func newLookupCollection(collection, filename string, fields []arrow.Field) *MongoCollection {
	s := arrow.NewSchema(append([]arrow.Field{{Name: "_id", Type: arrow.BinaryTypes.String}}, fields...), nil)
	primary := &ParquetModel{
		Collection:       collection,
		ParquetFilename:  filename,
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     collection,
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id"},
	}
}
