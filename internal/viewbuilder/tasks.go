package viewbuilder

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/arrowarc/parquetsync/internal/record"
	daterange "github.com/arrowarc/parquetsync/internal/views"
)

// tasksViewPrefix names the temp files RecalculateTasksView stages between
// its write and insert phases.
const tasksViewPrefix = "view_tasks"

// RecalculateTasksView deletes every existing view_tasks row, then for each
// of the fourteen preset/comparison date ranges computes one row per task
// (rolling up the same pages/page_metrics/feedback data the pages view
// joins, plus calldrivers, gc_tss/gc_tasks_mappings survey completion, and
// the projects/ux_tests grouped back onto each task), writes it to a temp
// file, and streams every temp file back through an unordered batched
// insert. from pins the reference date, same as RecalculatePagesView.
func (b *Builder) RecalculateTasksView(ctx context.Context, from *time.Time) error {
	mc, err := b.collection("view_tasks")
	if err != nil {
		return err
	}
	if err := b.DB.DropCollection(ctx, "view_tasks"); err != nil {
		return fmt.Errorf("viewbuilder: drop view_tasks: %w", err)
	}

	source, err := b.loadTasksViewSources(ctx)
	if err != nil {
		return err
	}

	ranges := allRanges(daterange.GetDateRangesWithComparisons(from))

	for _, dr := range ranges {
		rows := b.buildTasksViewRows(dr, source)
		filename := rangeFilename(tasksViewPrefix, dr)
		if err := b.writeTemp(ctx, filename, mc.PrimaryModel.Schema, rows); err != nil {
			return err
		}
		logInfo(b.logger, "msg", "computed tasks view range", "start", dr.Start, "end", dr.End, "rows", len(rows))
	}

	for _, dr := range ranges {
		filename := rangeFilename(tasksViewPrefix, dr)
		if err := b.insertFromTemp(ctx, filename, mc, b.TasksBatchSize); err != nil {
			return err
		}
	}
	return nil
}

// tasksViewSources holds every source collection's rows, read once and
// reused across all fourteen date ranges.
type tasksViewSources struct {
	tasks           []record.Record
	pages           []record.Record
	metrics         []record.Record
	feedback        []record.Record
	calldrivers     []record.Record
	gcTasksMappings []record.Record
	gcTSS           []record.Record
	uxTests         []record.Record
	projects        []record.Record
}

func (b *Builder) loadTasksViewSources(ctx context.Context) (*tasksViewSources, error) {
	names := []string{"tasks", "pages", "page_metrics", "feedback", "calldrivers", "gc_tasks_mappings", "gc_tss", "ux_tests", "projects"}
	rows := make(map[string][]record.Record, len(names))
	for _, name := range names {
		mc, err := b.collection(name)
		if err != nil {
			return nil, err
		}
		r, err := b.readModelRows(ctx, mc.PrimaryModel)
		if err != nil {
			return nil, err
		}
		rows[name] = r
	}
	return &tasksViewSources{
		tasks:           rows["tasks"],
		pages:           rows["pages"],
		metrics:         rows["page_metrics"],
		feedback:        rows["feedback"],
		calldrivers:     rows["calldrivers"],
		gcTasksMappings: rows["gc_tasks_mappings"],
		gcTSS:           rows["gc_tss"],
		uxTests:         rows["ux_tests"],
		projects:        rows["projects"],
	}, nil
}

// membersByTask groups source rows (projects or ux_tests) by every task id
// named in their "tasks" reference list — each row explodes onto all the
// tasks it references.
func membersByTask(rows []record.Record) map[string][]record.Record {
	out := make(map[string][]record.Record)
	for _, row := range rows {
		for _, taskID := range stringListField(row, "tasks") {
			out[taskID] = append(out[taskID], row)
		}
	}
	return out
}

// projectRows shapes a task's member projects into the view's struct rows.
func projectRows(members []record.Record) []record.Record {
	out := make([]record.Record, 0, len(members))
	for _, m := range members {
		out = append(out, record.Record{
			"_id":   stringField(m, "_id"),
			"title": nonEmptyString(stringField(m, "title")),
		})
	}
	return out
}

// uxTestRows shapes a task's member UX tests into the view's struct rows,
// keeping each test's own cops flag.
func uxTestRows(members []record.Record) []record.Record {
	out := make([]record.Record, 0, len(members))
	for _, m := range members {
		out = append(out, record.Record{
			"_id":   stringField(m, "_id"),
			"title": nonEmptyString(stringField(m, "title")),
			"cops":  m["cops"],
		})
	}
	return out
}

// copsMax aggregates a task's cops flag as the max of its UX tests': true
// when any test is cops, false when it has tests but none are, null when it
// has no tests at all.
func copsMax(members []record.Record) any {
	if len(members) == 0 {
		return nil
	}
	for _, m := range members {
		if c, ok := m["cops"].(bool); ok && c {
			return true
		}
	}
	return false
}

// callsByTpcID sums calldrivers.calls within dr, grouped by tpc_id.
func callsByTpcID(calldrivers []record.Record, dr daterange.DateRange) map[string]int64 {
	out := make(map[string]int64)
	for _, row := range calldrivers {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		out[stringField(row, "tpc_id")] += intField(row, "calls")
	}
	return out
}

// callsByTaskID sums each task's calls over every tpc_id in its tpc_ids
// list.
func callsByTaskID(tasks []record.Record, calls map[string]int64) map[string]int64 {
	out := make(map[string]int64)
	for _, task := range tasks {
		taskID := stringField(task, "_id")
		var total int64
		for _, tpcID := range stringListField(task, "tpc_ids") {
			total += calls[tpcID]
		}
		out[taskID] = total
	}
	return out
}

// surveyAgg accumulates one gc_task's response counts for a date range.
type surveyAgg struct {
	total     int64
	completed int64
}

// surveyByGcTask filters gcTSS to dr, sampled rows ("sampling_task" == "y")
// with a definitive completion answer, and counts responses and completions
// per gc_task.
func surveyByGcTask(gcTSS []record.Record, dr daterange.DateRange) map[string]*surveyAgg {
	out := make(map[string]*surveyAgg)
	for _, row := range gcTSS {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		if stringField(row, "sampling_task") != "y" {
			continue
		}
		completion := stringField(row, "able_to_complete")
		if completion != "Yes" && completion != "No" {
			continue
		}
		gcTask := stringField(row, "gc_task")
		agg, ok := out[gcTask]
		if !ok {
			agg = &surveyAgg{}
			out[gcTask] = agg
		}
		agg.total++
		if completion == "Yes" {
			agg.completed++
		}
	}
	return out
}

// surveyByTaskID joins surveyByGcTask onto task ids via gc_tasks_mappings
// (gc_task -> task_id), summing when more than one gc_task maps to the same
// task.
func surveyByTaskID(mappings []record.Record, byGcTask map[string]*surveyAgg) map[string]*surveyAgg {
	out := make(map[string]*surveyAgg)
	for _, mapping := range mappings {
		taskID := stringField(mapping, "task_id")
		if taskID == "" {
			continue
		}
		gcAgg, ok := byGcTask[stringField(mapping, "gc_task")]
		if !ok {
			continue
		}
		agg, ok := out[taskID]
		if !ok {
			agg = &surveyAgg{}
			out[taskID] = agg
		}
		agg.total += gcAgg.total
		agg.completed += gcAgg.completed
	}
	return out
}

// topicRow is one calldrivers line's label fields plus its calls summed
// within a date range, keyed by tpc_id — the row shape callsByTopic embeds
// directly, and calldriversEnquiry groups further by enquiry_line.
type topicRow struct {
	enquiryLine string
	topic       string
	subtopic    string
	subSubtopic string
	calls       int64
}

// topicRowsByTpcID sums calldrivers.calls within dr grouped by tpc_id,
// keeping each tpc_id's label fields from its first contributing row
// (stable per tpc_id in practice — one tpc_id always carries the same
// enquiry_line/topic/subtopic/sub_subtopic).
func topicRowsByTpcID(calldrivers []record.Record, dr daterange.DateRange) map[string]*topicRow {
	out := make(map[string]*topicRow)
	for _, row := range calldrivers {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		tpcID := stringField(row, "tpc_id")
		agg, ok := out[tpcID]
		if !ok {
			agg = &topicRow{
				enquiryLine: stringField(row, "enquiry_line"),
				topic:       stringField(row, "topic"),
				subtopic:    stringField(row, "subtopic"),
				subSubtopic: stringField(row, "sub_subtopic"),
			}
			out[tpcID] = agg
		}
		agg.calls += intField(row, "calls")
	}
	return out
}

// callsByTopicForTask returns one callsByTopic row per tpc_id the task
// claims (via its tpc_ids list) that actually had calls in range.
func callsByTopicForTask(tpcIDs []string, byTpc map[string]*topicRow) []record.Record {
	out := make([]record.Record, 0, len(tpcIDs))
	for _, tpcID := range tpcIDs {
		t, ok := byTpc[tpcID]
		if !ok {
			continue
		}
		out = append(out, record.Record{
			"tpc_id":       tpcID,
			"enquiry_line": nonEmptyString(t.enquiryLine),
			"topic":        nonEmptyString(t.topic),
			"subtopic":     nonEmptyString(t.subtopic),
			"sub_subtopic": nonEmptyString(t.subSubtopic),
			"calls":        t.calls,
		})
	}
	return out
}

// calldriversEnquiryForTask sums callsByTopicForTask's rows by enquiry_line,
// since more than one tpc_id can share an enquiry line.
func calldriversEnquiryForTask(topicRows []record.Record) []record.Record {
	sums := make(map[string]int64)
	order := make([]string, 0, len(topicRows))
	for _, row := range topicRows {
		line := stringField(row, "enquiry_line")
		if _, seen := sums[line]; !seen {
			order = append(order, line)
		}
		sums[line] += intField(row, "calls")
	}
	out := make([]record.Record, 0, len(order))
	for _, line := range order {
		out = append(out, record.Record{"enquiry_line": line, "calls": sums[line]})
	}
	return out
}

// nonEmptyString returns s as an any, or nil for an empty string, so an
// absent label renders as a null struct field rather than "".
func nonEmptyString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// dayKey formats t's UTC calendar day for use as a per-day grouping key.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// daysInRange enumerates every calendar day in dr's inclusive span.
func daysInRange(dr daterange.DateRange) []time.Time {
	start := time.Date(dr.Start.Year(), dr.Start.Month(), dr.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(dr.End.Year(), dr.End.Month(), dr.End.Day(), 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// dailyPageAgg accumulates one url's visits/dyf for a single day.
type dailyPageAgg struct {
	visits, dyfYes, dyfNo int64
}

// metricsByURLAndDay indexes metricsRows by (url, day) — the same rollup as
// aggregatePageMetricsByURL but without collapsing the date dimension.
func metricsByURLAndDay(metricsRows []record.Record, dr daterange.DateRange) map[string]map[string]*dailyPageAgg {
	out := make(map[string]map[string]*dailyPageAgg)
	for _, row := range metricsRows {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		url := stringField(row, "url")
		byDay, ok := out[url]
		if !ok {
			byDay = make(map[string]*dailyPageAgg)
			out[url] = byDay
		}
		k := dayKey(date)
		agg, ok := byDay[k]
		if !ok {
			agg = &dailyPageAgg{}
			byDay[k] = agg
		}
		agg.visits += intField(row, "visits")
		agg.dyfYes += intField(row, "dyf_yes")
		agg.dyfNo += intField(row, "dyf_no")
	}
	return out
}

// feedbackByURLAndDay indexes feedbackRows counts by (url, day).
func feedbackByURLAndDay(feedbackRows []record.Record, dr daterange.DateRange) map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for _, row := range feedbackRows {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		url := stringField(row, "url")
		byDay, ok := out[url]
		if !ok {
			byDay = make(map[string]int64)
			out[url] = byDay
		}
		byDay[dayKey(date)]++
	}
	return out
}

// callsByTpcAndDay indexes calldrivers.calls by (tpc_id, day).
func callsByTpcAndDay(calldrivers []record.Record, dr daterange.DateRange) map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for _, row := range calldrivers {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		tpcID := stringField(row, "tpc_id")
		byDay, ok := out[tpcID]
		if !ok {
			byDay = make(map[string]int64)
			out[tpcID] = byDay
		}
		byDay[dayKey(date)] += intField(row, "calls")
	}
	return out
}

// metricsByDayForTask crosses every calendar day in dr with the task's
// member urls/tpc_ids, zero-filling days with no contributing rows, and
// derives commentsPerVisit/callsPerVisit (null when visits is zero), sorted
// ascending by date.
func metricsByDayForTask(dr daterange.DateRange, urls, tpcIDs []string, metricsByDay map[string]map[string]*dailyPageAgg, feedbackByDay map[string]map[string]int64, callsByDay map[string]map[string]int64) []record.Record {
	days := daysInRange(dr)
	out := make([]record.Record, 0, len(days))
	for _, day := range days {
		k := dayKey(day)
		var visits, dyfYes, dyfNo, comments, calls int64
		for _, url := range urls {
			if agg, ok := metricsByDay[url][k]; ok {
				visits += agg.visits
				dyfYes += agg.dyfYes
				dyfNo += agg.dyfNo
			}
			comments += feedbackByDay[url][k]
		}
		for _, tpcID := range tpcIDs {
			calls += callsByDay[tpcID][k]
		}

		var commentsPerVisit, callsPerVisit any
		if visits != 0 {
			commentsPerVisit = round4(float64(comments) / float64(visits))
			callsPerVisit = round4(float64(calls) / float64(visits))
		}

		out = append(out, record.Record{
			"date":             day,
			"visits":           visits,
			"dyf_yes":          dyfYes,
			"dyf_no":           dyfNo,
			"calls":            calls,
			"comments":         comments,
			"commentsPerVisit": commentsPerVisit,
			"callsPerVisit":    callsPerVisit,
		})
	}
	return out
}

// pagesForTask builds the task's member-page list: url/title/visits/
// pageStatus for every page naming the task in its tasks list.
func pagesForTask(pagesRows []record.Record, taskURLs []string, metricsByURL map[string]*pageMetricAgg) []record.Record {
	byURL := make(map[string]record.Record, len(pagesRows))
	for _, page := range pagesRows {
		byURL[stringField(page, "url")] = page
	}

	out := make([]record.Record, 0, len(taskURLs))
	for _, url := range taskURLs {
		page, ok := byURL[url]
		if !ok {
			continue
		}
		var title any
		if t := stringField(page, "title"); t != "" {
			title = t
		}
		var visits int64
		if agg, ok := metricsByURL[url]; ok {
			visits = agg.visits
		}
		out = append(out, record.Record{
			"url":        url,
			"title":      title,
			"visits":     visits,
			"pageStatus": pageStatus(page),
		})
	}
	return out
}

// addTMFRankingIndex computes the blended ranking score the original
// implementation derives as visits*0.1 + totalCalls*0.6 + survey*0.3,
// rounded to 5 decimals.
func addTMFRankingIndex(visits, calls, survey int64) float64 {
	v := float64(visits)*0.1 + float64(calls)*0.6 + float64(survey)*0.3
	return math.Round(v*1e5) / 1e5
}

// buildTasksViewRows computes one view_tasks row per task for a single date
// range, rolling up page-level metrics through each task's page membership
// and joining calldrivers, survey and ux_tests/projects membership counts.
func (b *Builder) buildTasksViewRows(dr daterange.DateRange, src *tasksViewSources) []record.Record {
	urlToTasks := urlToTaskIDs(src.pages)
	metricsByURL := aggregatePageMetricsByURL(src.metrics, dr)
	feedbackByURL := countFeedbackByURL(src.feedback, dr)

	pageCount := make(map[string]int64)
	for taskID, urls := range urlToTasks {
		pageCount[taskID] = int64(len(urls))
	}

	calls := callsByTaskID(src.tasks, callsByTpcID(src.calldrivers, dr))
	survey := surveyByTaskID(src.gcTasksMappings, surveyByGcTask(src.gcTSS, dr))
	uxTestsByTask := membersByTask(src.uxTests)
	projectsByTask := membersByTask(src.projects)

	byTpc := topicRowsByTpcID(src.calldrivers, dr)
	dailyMetrics := metricsByURLAndDay(src.metrics, dr)
	dailyFeedback := feedbackByURLAndDay(src.feedback, dr)
	dailyCalls := callsByTpcAndDay(src.calldrivers, dr)

	now := time.Now().UTC()
	out := make([]record.Record, 0, len(src.tasks))
	for _, task := range src.tasks {
		taskID := stringField(task, "_id")
		taskURLs := urlToTasks[taskID]
		tpcIDs := stringListField(task, "tpc_ids")

		var visits, dyfYes, dyfNo int64
		for _, url := range taskURLs {
			agg, ok := metricsByURL[url]
			if !ok {
				continue
			}
			visits += agg.visits
			dyfYes += agg.dyfYes
			dyfNo += agg.dyfNo
		}

		var comments int64
		for _, url := range taskURLs {
			comments += feedbackByURL[url]
		}

		taskCalls := calls[taskID]

		var callsPerVisit any
		if visits != 0 {
			callsPerVisit = float64(taskCalls) / float64(visits)
		}

		var title any
		if t := stringField(task, "title"); t != "" {
			title = t
		}

		taskSurvey := survey[taskID]
		var surveyTotal, surveyCompleted int64
		if taskSurvey != nil {
			surveyTotal, surveyCompleted = taskSurvey.total, taskSurvey.completed
		}

		topicRows := callsByTopicForTask(tpcIDs, byTpc)

		row := record.Record{
			"_id": b.gen.New().Hex(),
			"daterange": record.Record{
				"start": dr.Start,
				"end":   dr.End,
			},
			"task_id":            taskID,
			"title":              title,
			"page_count":         pageCount[taskID],
			"visits":             visits,
			"dyf_yes":            dyfYes,
			"dyf_no":             dyfNo,
			"comments":           comments,
			"calls":              taskCalls,
			"callsPerVisit":      callsPerVisit,
			"survey":             surveyTotal,
			"survey_completed":   surveyCompleted,
			"projects":           toAnySlice(projectRows(projectsByTask[taskID])),
			"ux_tests":           toAnySlice(uxTestRows(uxTestsByTask[taskID])),
			"cops":               copsMax(uxTestsByTask[taskID]),
			"calldriversEnquiry": toAnySlice(calldriversEnquiryForTask(topicRows)),
			"callsByTopic":       toAnySlice(topicRows),
			"metricsByDay":       toAnySlice(metricsByDayForTask(dr, taskURLs, tpcIDs, dailyMetrics, dailyFeedback, dailyCalls)),
			"pages":              toAnySlice(pagesForTask(src.pages, taskURLs, metricsByURL)),
			"tmf_ranking_index":  addTMFRankingIndex(visits, taskCalls, surveyTotal),
			"lastUpdated":        now,
		}
		out = append(out, row)
	}
	return out
}
