// Package daterange computes the dashboard's seven preset date ranges —
// last week, last month, last quarter, last year, last fiscal year, last 52
// weeks and year to date — each paired with a comparison range of identical
// length starting and ending on matching weekdays. The quarter comparison
// carries a weekday-alignment safeguard that pulls the naive 13-week
// subtraction back one extra week near quarter boundaries.
package daterange

import "time"

// DateRange is an inclusive [Start, End] span at UTC midnight.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DateRangeWithComparison pairs a preset range with its comparison period.
type DateRangeWithComparison struct {
	Label               string
	DateRange           DateRange
	ComparisonDateRange DateRange
}

// DateRangesWithComparisons holds all seven presets computed relative to the
// same reference date.
type DateRangesWithComparisons struct {
	Week        DateRangeWithComparison
	Month       DateRangeWithComparison
	Quarter     DateRangeWithComparison
	Year        DateRangeWithComparison
	FiscalYear  DateRangeWithComparison
	Last52Weeks DateRangeWithComparison
	YearToDate  DateRangeWithComparison
}

var rangeLabels = map[string]string{
	"week":          "Last week",
	"month":         "Last month",
	"quarter":       "Last quarter",
	"year":          "Last year",
	"fiscal_year":   "Last fiscal year",
	"last_52_weeks": "Last 52 weeks",
	"year_to_date":  "Year to date",
}

func normalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func today() time.Time {
	return normalizeDate(time.Now())
}

// resolveFrom normalizes an optional reference date, defaulting to today.
func resolveFrom(from *time.Time) time.Time {
	if from == nil {
		return today()
	}
	return normalizeDate(*from)
}

func startOfWeek(date time.Time) time.Time {
	date = normalizeDate(date)
	daysSinceSunday := int(date.Weekday())
	return date.AddDate(0, 0, -daysSinceSunday)
}

func startOfMonth(date time.Time) time.Time {
	date = normalizeDate(date)
	return time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func startOfQuarter(date time.Time) time.Time {
	date = normalizeDate(date)
	quarterMonth := ((int(date.Month())-1)/3)*3 + 1
	return time.Date(date.Year(), time.Month(quarterMonth), 1, 0, 0, 0, 0, time.UTC)
}

func startOfYear(date time.Time) time.Time {
	date = normalizeDate(date)
	return time.Date(date.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

func endOfMonth(date time.Time) time.Time {
	date = normalizeDate(date)
	var nextMonth time.Time
	if date.Month() == time.December {
		nextMonth = time.Date(date.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	} else {
		nextMonth = time.Date(date.Year(), date.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	}
	return nextMonth.AddDate(0, 0, -1)
}

func endOfQuarter(date time.Time) time.Time {
	date = normalizeDate(date)
	quarterMonth := ((int(date.Month())-1)/3+1)*3
	if quarterMonth > 12 {
		quarterMonth = 12
	}
	return endOfMonth(time.Date(date.Year(), time.Month(quarterMonth), 1, 0, 0, 0, 0, time.UTC))
}

func subtractWeeks(weeks int, fromDate time.Time) time.Time {
	return normalizeDate(fromDate).AddDate(0, 0, -7*weeks)
}

// wholeDays returns the number of whole 24-hour days between a and b
// (a - b). Both inputs here are always UTC-midnight-normalized, so the
// difference is an exact multiple of 24h and floor/truncating division
// agree.
func wholeDays(a, b time.Time) int64 {
	return int64(a.Sub(b) / (24 * time.Hour))
}

func getGenericComparisonDate(periodType string, fromDate time.Time) time.Time {
	weeksPerPeriod := map[string]int{"week": 1, "month": 4, "year": 52}
	return subtractWeeks(weeksPerPeriod[periodType], fromDate)
}

func getQuarterComparisonDate(fromDate time.Time) time.Time {
	fromDate = normalizeDate(fromDate)
	currentRangeStart := getPeriodDateRange("quarter", fromDate).Start

	sevenDaysAfterStart := currentRangeStart.AddDate(0, 0, 7)
	sevenDaysBeforeStart := currentRangeStart.AddDate(0, 0, -7)

	// three months floored to whole weeks
	comparisonDate := subtractWeeks(13, fromDate)

	isStart := !comparisonDate.Before(sevenDaysBeforeStart) && !comparisonDate.After(sevenDaysAfterStart)

	if !comparisonDate.Before(sevenDaysAfterStart) ||
		(isStart && wholeDays(comparisonDate, endOfQuarter(comparisonDate)) < 90) {
		comparisonDate = subtractWeeks(1, comparisonDate)
	}

	return comparisonDate
}

func getPeriodDateRange(periodType string, fromDate time.Time) DateRange {
	fromDate = normalizeDate(fromDate)

	var start, end time.Time
	switch periodType {
	case "week":
		end = startOfWeek(fromDate).AddDate(0, 0, -1)
		start = startOfWeek(end)
	case "month":
		end = startOfMonth(fromDate).AddDate(0, 0, -1)
		start = startOfMonth(end)
	case "quarter":
		end = startOfQuarter(fromDate).AddDate(0, 0, -1)
		start = startOfQuarter(end)
	case "year":
		end = startOfYear(fromDate).AddDate(0, 0, -1)
		start = startOfYear(end)
	default:
		panic("daterange: unsupported period type " + periodType)
	}

	return DateRange{Start: start, End: end}
}

func getComparisonDateRange(periodType string, dr DateRange) DateRange {
	if periodType == "quarter" {
		return DateRange{
			Start: getQuarterComparisonDate(dr.Start),
			End:   getQuarterComparisonDate(dr.End),
		}
	}

	switch periodType {
	case "fiscal_year", "last_52_weeks", "year_to_date":
		periodType = "year"
	}

	period := "year"
	switch periodType {
	case "week":
		period = "week"
	case "month":
		period = "month"
	}

	return DateRange{
		Start: getGenericComparisonDate(period, dr.Start),
		End:   getGenericComparisonDate(period, dr.End),
	}
}

// LastWeek returns the most recently completed Sunday-through-Saturday week
// before from (today if nil), with its one-week-earlier comparison.
func LastWeek(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getPeriodDateRange("week", fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["week"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("week", dr),
	}
}

// LastMonth returns the most recently completed calendar month before from.
func LastMonth(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getPeriodDateRange("month", fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["month"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("month", dr),
	}
}

// LastQuarter returns the most recently completed calendar quarter before
// from, with its weekday-aligned 13-week-earlier comparison.
func LastQuarter(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getPeriodDateRange("quarter", fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["quarter"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("quarter", dr),
	}
}

// LastYear returns the most recently completed calendar year before from.
func LastYear(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getPeriodDateRange("year", fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["year"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("year", dr),
	}
}

func getFiscalYearDateRange(fromDate time.Time) DateRange {
	fromDate = normalizeDate(fromDate)
	currentYearEnd := time.Date(fromDate.Year(), time.March, 31, 0, 0, 0, 0, time.UTC)

	if currentYearEnd.After(fromDate) {
		currentYearEnd = time.Date(fromDate.Year()-1, time.March, 31, 0, 0, 0, 0, time.UTC)
	}

	end := currentYearEnd
	start := time.Date(end.Year()-1, time.April, 1, 0, 0, 0, 0, time.UTC)

	return DateRange{Start: start, End: end}
}

// LastFiscalYear returns the most recently completed fiscal year (April 1
// through March 31) before from.
func LastFiscalYear(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getFiscalYearDateRange(fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["fiscal_year"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("fiscal_year", dr),
	}
}

func getLast52WeeksDateRange(fromDate time.Time) DateRange {
	fromDate = normalizeDate(fromDate)
	end := startOfWeek(fromDate).AddDate(0, 0, -1)
	start := startOfWeek(end)
	start = start.AddDate(0, 0, -7*51)

	return DateRange{Start: start, End: end}
}

// Last52Weeks returns the 52 complete weeks before from.
func Last52Weeks(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getLast52WeeksDateRange(fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["last_52_weeks"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("last_52_weeks", dr),
	}
}

func getYearToDateDateRange(fromDate time.Time) DateRange {
	fromDate = normalizeDate(fromDate)
	end := fromDate.AddDate(0, 0, -1)
	start := startOfYear(end)

	return DateRange{Start: start, End: end}
}

// YearToDate returns the span from the start of the current calendar year
// through the day before from.
func YearToDate(from *time.Time) DateRangeWithComparison {
	fromDate := resolveFrom(from)
	dr := getYearToDateDateRange(fromDate)
	return DateRangeWithComparison{
		Label:               rangeLabels["year_to_date"],
		DateRange:           dr,
		ComparisonDateRange: getComparisonDateRange("year_to_date", dr),
	}
}

// GetDateRangesWithComparisons computes all seven presets relative to the
// same reference date (today if from is nil).
func GetDateRangesWithComparisons(from *time.Time) DateRangesWithComparisons {
	return DateRangesWithComparisons{
		Week:        LastWeek(from),
		Month:       LastMonth(from),
		Quarter:     LastQuarter(from),
		Year:        LastYear(from),
		FiscalYear:  LastFiscalYear(from),
		Last52Weeks: Last52Weeks(from),
		YearToDate:  YearToDate(from),
	}
}

// GetDateRangesMinMax returns the earliest start and latest end across every
// preset's primary (non-comparison) range, the span a view builder needs to
// scan to satisfy all seven at once.
func GetDateRangesMinMax(ranges DateRangesWithComparisons) DateRange {
	all := []DateRangeWithComparison{
		ranges.Week, ranges.Month, ranges.Quarter, ranges.Year,
		ranges.FiscalYear, ranges.Last52Weeks, ranges.YearToDate,
	}

	min := all[0].DateRange.Start
	max := all[0].DateRange.End
	for _, r := range all[1:] {
		if r.DateRange.Start.Before(min) {
			min = r.DateRange.Start
		}
		if r.DateRange.End.After(max) {
			max = r.DateRange.End
		}
	}

	return DateRange{Start: min, End: max}
}
