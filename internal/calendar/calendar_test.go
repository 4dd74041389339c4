package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastDayOfMonthLeapYear(t *testing.T) {
	d := LastDayOfMonth(2024, 2)
	assert.Equal(t, 29, d.Day())
}

func TestLastDayOfMonthNonLeapYear(t *testing.T) {
	d := LastDayOfMonth(2023, 2)
	assert.Equal(t, 28, d.Day())
}

func TestMonthRangeSpansBoundary(t *testing.T) {
	start := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	parts := MonthRange(start, end)

	assert.Equal(t, []Partition{{Year: 2024, Month: 1}, {Year: 2024, Month: 2}}, parts)
}

func TestPartitionBoundsContainOnlyOwnMonth(t *testing.T) {
	p := Partition{Year: 2024, Month: 1}
	start, end := p.Bounds()

	jan31 := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
	feb1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, !jan31.Before(start) && !jan31.After(end))
	assert.True(t, feb1.After(end))
}

func TestPartitionDir(t *testing.T) {
	assert.Equal(t, "year=2024/month=3", Partition{Year: 2024, Month: 3}.Dir())
	assert.Equal(t, "year=2024", Partition{Year: 2024}.Dir())
}

func TestYearRange(t *testing.T) {
	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []Partition{{Year: 2022}, {Year: 2023}, {Year: 2024}}, YearRange(start, end))
}
