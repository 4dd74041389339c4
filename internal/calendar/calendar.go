// Package calendar implements the month/year partition arithmetic and
// human-readable duration formatting shared by the export, sync and view
// builder components.
package calendar

import (
	"fmt"
	"time"
)

// PartitionKind selects the calendar granularity a ParquetModel partitions
// its primary file on.
type PartitionKind string

const (
	NoPartition    PartitionKind = ""
	PartitionMonth PartitionKind = "month"
	PartitionYear  PartitionKind = "year"
)

// Partition identifies one calendar partition: a year, and for month
// partitioning also the 1-12 month number.
type Partition struct {
	Year  int
	Month int // 0 for year partitions
}

// Dir returns the Hive-style directory suffix for the partition, e.g.
// "year=2024" or "year=2024/month=3".
func (p Partition) Dir() string {
	if p.Month == 0 {
		return fmt.Sprintf("year=%d", p.Year)
	}
	return fmt.Sprintf("year=%d/month=%d", p.Year, p.Month)
}

// Bounds returns the inclusive [start, end] instants covered by the
// partition, both at UTC midnight/end-of-day.
func (p Partition) Bounds() (start, end time.Time) {
	if p.Month == 0 {
		return startOfYear(p.Year), endOfYear(p.Year)
	}
	return startOfMonth(p.Year, p.Month), endOfMonth(p.Year, p.Month)
}

func startOfYear(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func endOfYear(year int) time.Time {
	return time.Date(year, time.December, 31, 23, 59, 59, 999000000, time.UTC)
}

func startOfMonth(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// LastDayOfMonth returns the last calendar day of the given year/month by
// stepping to day 1 of the following month and subtracting one day — the
// classic last-day-of-month trick, avoiding a month-length lookup table.
func LastDayOfMonth(year, month int) time.Time {
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1)
}

func endOfMonth(year, month int) time.Time {
	last := LastDayOfMonth(year, month)
	return time.Date(last.Year(), last.Month(), last.Day(), 23, 59, 59, 999000000, time.UTC)
}

// MonthRange enumerates every month partition whose bounds intersect
// [start, end], inclusive, in ascending order.
func MonthRange(start, end time.Time) []Partition {
	var out []Partition
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(stop) {
		out = append(out, Partition{Year: cur.Year(), Month: int(cur.Month())})
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// YearRange enumerates every year partition whose bounds intersect
// [start, end], inclusive, in ascending order.
func YearRange(start, end time.Time) []Partition {
	var out []Partition
	for y := start.Year(); y <= end.Year(); y++ {
		out = append(out, Partition{Year: y})
	}
	return out
}

// Partitions dispatches to MonthRange or YearRange according to kind. For
// NoPartition it returns nil.
func Partitions(kind PartitionKind, start, end time.Time) []Partition {
	switch kind {
	case PartitionMonth:
		return MonthRange(start, end)
	case PartitionYear:
		return YearRange(start, end)
	default:
		return nil
	}
}

// FormatDuration renders d the way the view builder logs step timings:
// Go's default string form, rounded to whole seconds once the duration is
// at least a second. Sub-second durations are left exactly as Go renders
// them.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	d = d.Round(time.Second)
	return d.String()
}

// Midnight truncates t to UTC midnight of its calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
