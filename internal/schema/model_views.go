package schema

import (
	"github.com/apache/arrow/go/v17/arrow"
)

// dateRangeStructType is the "daterange" struct every view row carries: the
// preset range (or its comparison range) the row was computed for.
func dateRangeStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "start", Type: arrow.FixedWidthTypes.Timestamp_ms},
		arrow.Field{Name: "end", Type: arrow.FixedWidthTypes.Timestamp_ms},
	)
}

// newViewPagesCollection declares the view_pages shape the view builder
// writes: one row per page per preset date range, joined with its
// rolled-up metrics, feedback count and task list. The sync engine skips
// IsView collections entirely — nothing here is ever exported from or
// imported into the database; ViewBuilder (internal/viewbuilder) is the only
// writer.
func newViewPagesCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "daterange", Type: dateRangeStructType()},
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "pageStatus", Type: arrow.BinaryTypes.String},
		{Name: "tasks", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "visits", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dyf_yes", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dyf_no", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "feedback_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gsc_total_clicks", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gsc_total_impressions", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "gsc_avg_ctr", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "gsc_avg_position", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "aa_searchterms", Type: arrow.ListOf(searchtermStructType())},
		{Name: "gsc_searchterms", Type: arrow.ListOf(searchtermStructType())},
		{Name: "activity_map", Type: arrow.ListOf(activityLinkStructType())},
		{Name: "lastUpdated", Type: arrow.FixedWidthTypes.Timestamp_ms},
	}, nil)
	primary := &ParquetModel{
		Collection:       "view_pages",
		ParquetFilename:  "view_pages.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "view_pages",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id", "tasks"},
		DefaultValues: map[string]any{
			"tasks":           []any{},
			"aa_searchterms":  []any{},
			"gsc_searchterms": []any{},
			"activity_map":    []any{},
		},
		IsView: true,
	}
}

// calldriversEnquiryStructType is one row of the tasks view's
// calldriversEnquiry list: an enquiry line's summed call count for the
// task's date range.
func calldriversEnquiryStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "enquiry_line", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "calls", Type: arrow.PrimitiveTypes.Int64},
	)
}

// callsByTopicStructType is one row of the tasks view's callsByTopic list:
// one of the task's call-driver topic/subtopic lines with its summed call
// count for the date range.
func callsByTopicStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "tpc_id", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "enquiry_line", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "topic", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "subtopic", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "sub_subtopic", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "calls", Type: arrow.PrimitiveTypes.Int64},
	)
}

// dailyMetricStructType is one row of the tasks view's metricsByDay list:
// one calendar day's zero-filled visits/dyf/comments/calls and their
// per-visit rates (null when visits is zero).
func dailyMetricStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		arrow.Field{Name: "visits", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "dyf_yes", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "dyf_no", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "calls", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "comments", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "commentsPerVisit", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		arrow.Field{Name: "callsPerVisit", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
	)
}

// taskProjectStructType is one row of the tasks view's projects list: the
// projects whose tasks reference list names the task, grouped back by task
// id.
func taskProjectStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "_id", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

// taskUxTestStructType is one row of the tasks view's ux_tests list,
// carrying each test's cops flag so the view can aggregate a task-level
// cops as the max across its tests.
func taskUxTestStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "_id", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "cops", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	)
}

// taskPageStructType is one row of the tasks view's pages list: the subset
// of a page's view_pages fields rolled up per task (url, title, visits,
// pageStatus) rather than the full page row.
func taskPageStructType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "url", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "visits", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "pageStatus", Type: arrow.BinaryTypes.String},
	)
}

// newViewTasksCollection declares the view_tasks shape: one row per task per
// preset date range, with its rolled-up visit, feedback-comment, call-driver
// and task-survey (gc_tss via gc_tasks_mappings) metrics, its member
// projects and UX tests grouped back by task id (with a task-level cops
// flag aggregated as the max of its tests'), per-enquiry-line/per-topic
// call breakdowns, a zero-filled per-day metrics table, its member pages,
// and a derived tmf_ranking_index.
func newViewTasksCollection() *MongoCollection {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
		{Name: "daterange", Type: dateRangeStructType()},
		{Name: "task_id", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "page_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "visits", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dyf_yes", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dyf_no", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "comments", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "calls", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "callsPerVisit", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "survey", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "survey_completed", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "projects", Type: arrow.ListOf(taskProjectStructType())},
		{Name: "ux_tests", Type: arrow.ListOf(taskUxTestStructType())},
		{Name: "cops", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "calldriversEnquiry", Type: arrow.ListOf(calldriversEnquiryStructType())},
		{Name: "callsByTopic", Type: arrow.ListOf(callsByTopicStructType())},
		{Name: "metricsByDay", Type: arrow.ListOf(dailyMetricStructType())},
		{Name: "pages", Type: arrow.ListOf(taskPageStructType())},
		{Name: "tmf_ranking_index", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "lastUpdated", Type: arrow.FixedWidthTypes.Timestamp_ms},
	}, nil)
	primary := &ParquetModel{
		Collection:       "view_tasks",
		ParquetFilename:  "view_tasks.parquet",
		Schema:           s,
		Transform:        identityTransform,
		ReverseTransform: identityTransform,
	}
	return &MongoCollection{
		Collection:     "view_tasks",
		PrimaryModel:   primary,
		SyncType:       SyncSimple,
		ObjectIDFields: []string{"_id", "task_id"},
		DefaultValues: map[string]any{
			"projects":           []any{},
			"ux_tests":           []any{},
			"calldriversEnquiry": []any{},
			"callsByTopic":       []any{},
			"metricsByDay":       []any{},
			"pages":              []any{},
		},
		IsView: true,
	}
}
