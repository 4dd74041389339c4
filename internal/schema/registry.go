package schema

import (
	"github.com/apache/arrow/go/v17/arrow"

	"github.com/arrowarc/parquetsync/internal/ident"
)

// Build constructs the complete registry of collections this engine moves
// between the database and Parquet: page_metrics and its secondaries first,
// then the flat collections, the static reference/lookup tables, and finally
// the two view collections the sync engine skips over. gen supplies the
// per-element identifiers the page_metrics secondaries' explode transforms
// need.
func Build(gen *ident.Generator) *Registry {
	r := NewRegistry()

	r.Register(newPageMetricsCollection(gen))
	r.Register(newPagesCollection())
	r.Register(newCalldriversCollection())
	r.Register(newFeedbackCollection())
	r.Register(newGCTasksMappingsCollection())
	r.Register(newGCTSSCollection())
	r.Register(newTasksCollection())
	r.Register(newProjectsCollection())
	r.Register(newUxTestsCollection())

	r.Register(newLookupCollection("pages_list", "pages_list.parquet", []arrow.Field{
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "lang", Type: arrow.BinaryTypes.String, Nullable: true},
	}))
	r.Register(newLookupCollection("annotations", "annotations.parquet", []arrow.Field{
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "text", Type: arrow.BinaryTypes.String, Nullable: true},
	}))
	r.Register(newLookupCollection("readability", "readability.parquet", []arrow.Field{
		{Name: "url", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "final_fk_score", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "word_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}))
	r.Register(newLookupCollection("reports", "reports.parquet", []arrow.Field{
		{Name: "title", Type: arrow.BinaryTypes.String},
		{Name: "en_url", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "fr_url", Type: arrow.BinaryTypes.String, Nullable: true},
	}))
	r.Register(newLookupCollection("custom_reports_registry", "custom_reports_registry.parquet", []arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "query", Type: arrow.BinaryTypes.String, Nullable: true},
	}))
	r.Register(newLookupCollection("search_assessment", "search_assessment.parquet", []arrow.Field{
		{Name: "query", Type: arrow.BinaryTypes.String},
		{Name: "expected_url", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "pass", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	}))

	r.Register(newViewPagesCollection())
	r.Register(newViewTasksCollection())

	return r
}
