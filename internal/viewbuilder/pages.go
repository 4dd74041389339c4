package viewbuilder

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/arrowarc/parquetsync/internal/record"
	daterange "github.com/arrowarc/parquetsync/internal/views"
)

// topSearchTerms and topActivityLinks cap how many aggregated rows each
// url's aa_searchterms/gsc_searchterms and activity_map columns carry.
const (
	topSearchTerms   = 200
	topActivityLinks = 100
)

// pagesViewPrefix names the temp files RecalculatePagesView stages between
// its write and insert phases.
const pagesViewPrefix = "view_pages"

// RecalculatePagesView deletes every existing view_pages row, then for each
// of the fourteen preset/comparison date ranges computes one row per page
// (joined against page_metrics and feedback), writes it to a temp file, and
// finally streams every temp file back through an unordered batched insert.
// from pins the reference date the seven presets are computed relative to;
// nil means today.
func (b *Builder) RecalculatePagesView(ctx context.Context, from *time.Time) error {
	mc, err := b.collection("view_pages")
	if err != nil {
		return err
	}
	if err := b.DB.DropCollection(ctx, "view_pages"); err != nil {
		return fmt.Errorf("viewbuilder: drop view_pages: %w", err)
	}

	pagesColl, err := b.collection("pages")
	if err != nil {
		return err
	}
	metricsColl, err := b.collection("page_metrics")
	if err != nil {
		return err
	}
	feedbackColl, err := b.collection("feedback")
	if err != nil {
		return err
	}

	pagesRows, err := b.readModelRows(ctx, pagesColl.PrimaryModel)
	if err != nil {
		return err
	}
	metricsRows, err := b.readModelRows(ctx, metricsColl.PrimaryModel)
	if err != nil {
		return err
	}
	feedbackRows, err := b.readModelRows(ctx, feedbackColl.PrimaryModel)
	if err != nil {
		return err
	}
	aaRows, err := b.readSecondaryRows(ctx, metricsColl, "aa_searchterms.parquet")
	if err != nil {
		return err
	}
	gscRows, err := b.readSecondaryRows(ctx, metricsColl, "gsc_searchterms.parquet")
	if err != nil {
		return err
	}
	amRows, err := b.readSecondaryRows(ctx, metricsColl, "activity_map.parquet")
	if err != nil {
		return err
	}
	metricsByID := indexMetricsByID(metricsRows)

	ranges := allRanges(daterange.GetDateRangesWithComparisons(from))

	for _, dr := range ranges {
		aaByURL := aggregateGroupedTerms(aaRows, metricsByID, dr, "term", topSearchTerms)
		gscByURL := aggregateGroupedTerms(gscRows, metricsByID, dr, "term", topSearchTerms)
		amByURL := aggregateGroupedTerms(amRows, metricsByID, dr, "link", topActivityLinks)
		rows := b.buildPagesViewRows(dr, pagesRows, metricsRows, feedbackRows, aaByURL, gscByURL, amByURL)
		filename := rangeFilename(pagesViewPrefix, dr)
		if err := b.writeTemp(ctx, filename, mc.PrimaryModel.Schema, rows); err != nil {
			return err
		}
		logInfo(b.logger, "msg", "computed pages view range", "start", dr.Start, "end", dr.End, "rows", len(rows))
	}

	for _, dr := range ranges {
		filename := rangeFilename(pagesViewPrefix, dr)
		if err := b.insertFromTemp(ctx, filename, mc, b.PagesBatchSize); err != nil {
			return err
		}
	}
	return nil
}

// pageMetricAgg accumulates one url's rolled-up metrics across a date range:
// sums for visits/dyf/gsc clicks & impressions, running sums for the ctr/
// position columns that report as means rather than sums.
type pageMetricAgg struct {
	visits    int64
	dyfYes    int64
	dyfNo     int64
	gscClicks int64
	gscImpr   int64
	ctrSum    float64
	ctrN      int
	posSum    float64
	posN      int
}

// meanCTR and meanPosition return agg's running ctr/position means, or nil
// if no row contributed a value, so the output column stays null rather
// than reporting a false zero.
func (agg *pageMetricAgg) meanCTR() any {
	if agg.ctrN == 0 {
		return nil
	}
	return round4(agg.ctrSum / float64(agg.ctrN))
}

func (agg *pageMetricAgg) meanPosition() any {
	if agg.posN == 0 {
		return nil
	}
	return round4(agg.posSum / float64(agg.posN))
}

// round4 rounds v to 4 decimal places, the same precision the schema layer
// stores click-through rates and positions at.
func round4(v float64) float32 {
	return float32(math.Round(v*10000) / 10000)
}

// aggregatePageMetricsByURL sums every metricsRows entry whose date falls
// within dr, grouped by url.
func aggregatePageMetricsByURL(metricsRows []record.Record, dr daterange.DateRange) map[string]*pageMetricAgg {
	out := make(map[string]*pageMetricAgg)
	for _, row := range metricsRows {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		url := stringField(row, "url")
		agg, ok := out[url]
		if !ok {
			agg = &pageMetricAgg{}
			out[url] = agg
		}
		agg.visits += intField(row, "visits")
		agg.dyfYes += intField(row, "dyf_yes")
		agg.dyfNo += intField(row, "dyf_no")
		agg.gscClicks += intField(row, "gsc_total_clicks")
		agg.gscImpr += intField(row, "gsc_total_impressions")
		if ctr, ok := row["gsc_total_ctr"].(float32); ok {
			agg.ctrSum += float64(ctr)
			agg.ctrN++
		}
		if pos, ok := row["gsc_total_position"].(float32); ok {
			agg.posSum += float64(pos)
			agg.posN++
		}
	}
	return out
}

// metricsRef is the url/date a page_metrics primary row's `_id` resolves to
// — the join key the exploded secondary files (aa_searchterms,
// gsc_searchterms, activity_map) need, since those rows carry `_id` and
// their own term/link/clicks columns but not url or date directly.
type metricsRef struct {
	url  string
	date time.Time
}

// indexMetricsByID builds the `_id` -> (url, date) lookup aggregateGroupedTerms
// joins exploded secondary rows through.
func indexMetricsByID(metricsRows []record.Record) map[string]metricsRef {
	out := make(map[string]metricsRef, len(metricsRows))
	for _, row := range metricsRows {
		out[stringField(row, "_id")] = metricsRef{url: stringField(row, "url"), date: timeField(row, "date")}
	}
	return out
}

// termAgg accumulates one (url, key) pair's clicks and running position/ctr
// sums across a date range, where key is a lowercased search term or
// activity-map link.
type termAgg struct {
	clicks int64
	posSum float64
	posN   int
	ctrSum float64
	ctrN   int
}

// aggregateGroupedTerms rolls up one exploded secondary file for a date
// range: join each row onto its page_metrics parent via `_id` to recover its
// url/date, keep rows whose date falls in dr, lowercase keyField (term or
// link), group by (url, key), sum clicks and average position/ctr, and emit
// each url's top-K rows by clicks descending.
func aggregateGroupedTerms(rows []record.Record, byID map[string]metricsRef, dr daterange.DateRange, keyField string, topK int) map[string][]record.Record {
	type groupKey struct {
		url string
		key string
	}
	groups := make(map[groupKey]*termAgg)
	keysByURL := make(map[string][]string)

	for _, row := range rows {
		ref, ok := byID[stringField(row, "_id")]
		if !ok || ref.date.IsZero() || !inRange(ref.date, dr) {
			continue
		}
		key := strings.ToLower(stringField(row, keyField))
		gk := groupKey{url: ref.url, key: key}
		agg, seen := groups[gk]
		if !seen {
			agg = &termAgg{}
			groups[gk] = agg
			keysByURL[ref.url] = append(keysByURL[ref.url], key)
		}
		agg.clicks += intField(row, "clicks")
		if pos, ok := row["position"].(float32); ok {
			agg.posSum += float64(pos)
			agg.posN++
		}
		if ctr, ok := row["ctr"].(float32); ok {
			agg.ctrSum += float64(ctr)
			agg.ctrN++
		}
	}

	out := make(map[string][]record.Record, len(keysByURL))
	for url, keys := range keysByURL {
		rowsForURL := make([]record.Record, 0, len(keys))
		for _, key := range keys {
			agg := groups[groupKey{url: url, key: key}]
			row := record.Record{keyField: key, "clicks": agg.clicks}
			if agg.posN > 0 {
				row["position"] = round4(agg.posSum / float64(agg.posN))
			}
			if agg.ctrN > 0 {
				row["ctr"] = round4(agg.ctrSum / float64(agg.ctrN))
			}
			rowsForURL = append(rowsForURL, row)
		}
		sort.SliceStable(rowsForURL, func(i, j int) bool {
			return intField(rowsForURL[i], "clicks") > intField(rowsForURL[j], "clicks")
		})
		if len(rowsForURL) > topK {
			rowsForURL = rowsForURL[:topK]
		}
		out[url] = rowsForURL
	}
	return out
}

// pageStatus classifies a page: a page marked is_404 is "404", a page
// marked redirect (and not 404) is "Redirected", everything else is "Live".
func pageStatus(page record.Record) string {
	if is404, _ := page["is_404"].(bool); is404 {
		return "404"
	}
	if redirect, _ := page["redirect"].(bool); redirect {
		return "Redirected"
	}
	return "Live"
}

// toAnySlice converts rows (already shaped as record.Record with the
// struct's own field names) to the []any the list-of-struct column setter
// expects.
func toAnySlice(rows []record.Record) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// countFeedbackByURL counts feedbackRows entries within dr, grouped by url.
func countFeedbackByURL(feedbackRows []record.Record, dr daterange.DateRange) map[string]int64 {
	out := make(map[string]int64)
	for _, row := range feedbackRows {
		date := timeField(row, "date")
		if date.IsZero() || !inRange(date, dr) {
			continue
		}
		url := stringField(row, "url")
		out[url]++
	}
	return out
}

// buildPagesViewRows computes one view_pages row per page for a single date
// range, left-joining each page onto its metrics and feedback rollups plus
// its top-K search-term and activity-map rows for that range.
func (b *Builder) buildPagesViewRows(dr daterange.DateRange, pagesRows, metricsRows, feedbackRows []record.Record, aaByURL, gscByURL, amByURL map[string][]record.Record) []record.Record {
	metricsByURL := aggregatePageMetricsByURL(metricsRows, dr)
	feedbackByURL := countFeedbackByURL(feedbackRows, dr)
	now := time.Now().UTC()

	out := make([]record.Record, 0, len(pagesRows))
	for _, page := range pagesRows {
		url := stringField(page, "url")

		var title any
		if t := stringField(page, "title"); t != "" {
			title = t
		}

		tasks := stringListField(page, "tasks")
		taskList := make([]any, len(tasks))
		for i, t := range tasks {
			taskList[i] = t
		}

		var visits, dyfYes, dyfNo, gscClicks, gscImpr int64
		var avgCTR, avgPosition any
		if agg, ok := metricsByURL[url]; ok {
			visits, dyfYes, dyfNo = agg.visits, agg.dyfYes, agg.dyfNo
			gscClicks, gscImpr = agg.gscClicks, agg.gscImpr
			avgCTR, avgPosition = agg.meanCTR(), agg.meanPosition()
		}

		row := record.Record{
			"_id": b.gen.New().Hex(),
			"daterange": record.Record{
				"start": dr.Start,
				"end":   dr.End,
			},
			"url":                   url,
			"title":                 title,
			"pageStatus":            pageStatus(page),
			"tasks":                 taskList,
			"visits":                visits,
			"dyf_yes":               dyfYes,
			"dyf_no":                dyfNo,
			"feedback_count":        feedbackByURL[url],
			"gsc_total_clicks":      gscClicks,
			"gsc_total_impressions": gscImpr,
			"gsc_avg_ctr":           avgCTR,
			"gsc_avg_position":      avgPosition,
			"aa_searchterms":        toAnySlice(aaByURL[url]),
			"gsc_searchterms":       toAnySlice(gscByURL[url]),
			"activity_map":          toAnySlice(amByURL[url]),
			"lastUpdated":           now,
		}
		out = append(out, row)
	}
	return out
}

// urlToTaskIDs indexes pagesRows by task id: every url that names a task in
// its "tasks" list contributes that url to the task's entry.
func urlToTaskIDs(pagesRows []record.Record) map[string][]string {
	out := make(map[string][]string)
	for _, page := range pagesRows {
		url := stringField(page, "url")
		for _, taskID := range stringListField(page, "tasks") {
			out[taskID] = append(out[taskID], url)
		}
	}
	return out
}
