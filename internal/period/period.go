// Package period maps template due days onto calendar periods.
package period

import (
	"fmt"
	"math"
	"time"
)

// NormalizeDueDay truncates day toward zero and clamps it into [1,31].
// Non-finite input yields 1.
func NormalizeDueDay(day float64) int {
	if math.IsNaN(day) || math.IsInf(day, 0) {
		return 1
	}
	return clamp(int(math.Trunc(day)), 1, 31)
}

// NormalizeMonthYear clamps month into [1,12] and truncates year.
func NormalizeMonthYear(month, year float64) (int, int) {
	m := 1
	if !math.IsNaN(month) {
		switch {
		case math.IsInf(month, 1):
			m = 12
		case math.IsInf(month, -1):
			m = 1
		default:
			m = clamp(int(math.Trunc(month)), 1, 12)
		}
	}
	y := 0
	if !math.IsNaN(year) && !math.IsInf(year, 0) {
		y = int(math.Trunc(year))
	}
	return m, y
}

// DaysIn returns the number of days in month of year.
func DaysIn(month, year int) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DueDate returns the end of the effective due day (23:59:59.999 UTC), with the
// day clamped to the last valid day of the month.
func DueDate(dueDay, month, year int) time.Time {
	day := NormalizeDueDay(float64(dueDay))
	if last := DaysIn(month, year); day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

// Label renders "March 2024".
func Label(month, year int) string {
	return fmt.Sprintf("%s %d", time.Month(month).String(), year)
}

// Title is the task title derived from a template name.
func Title(templateName string, month, year int) string {
	return templateName + " - " + Label(month, year)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
