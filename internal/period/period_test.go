package period_test

import (
	"math"
	"testing"
	"time"

	"complyline/internal/period"
)

func TestDueDateClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name             string
		day, month, year int
		want             time.Time
	}{
		{"feb non-leap", 31, 2, 2023, time.Date(2023, 2, 28, 23, 59, 59, 999_000_000, time.UTC)},
		{"feb leap", 31, 2, 2024, time.Date(2024, 2, 29, 23, 59, 59, 999_000_000, time.UTC)},
		{"day zero", 0, 6, 2024, time.Date(2024, 6, 1, 23, 59, 59, 999_000_000, time.UTC)},
		{"negative day", -4, 6, 2024, time.Date(2024, 6, 1, 23, 59, 59, 999_000_000, time.UTC)},
		{"april 31", 31, 4, 2024, time.Date(2024, 4, 30, 23, 59, 59, 999_000_000, time.UTC)},
		{"over max", 45, 1, 2025, time.Date(2025, 1, 31, 23, 59, 59, 999_000_000, time.UTC)},
		{"mid month", 15, 3, 2024, time.Date(2024, 3, 15, 23, 59, 59, 999_000_000, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := period.DueDate(tc.day, tc.month, tc.year)
			if !got.Equal(tc.want) {
				t.Fatalf("DueDate(%d,%d,%d)=%s, want %s", tc.day, tc.month, tc.year, got, tc.want)
			}
			if got.Location() != time.UTC {
				t.Fatalf("expected UTC, got %s", got.Location())
			}
		})
	}
}

func TestDueDateFormatsAsMillisecondUTC(t *testing.T) {
	got := period.DueDate(15, 3, 2024).Format(time.RFC3339Nano)
	if got != "2024-03-15T23:59:59.999Z" {
		t.Fatalf("unexpected due date %s", got)
	}
}

func TestNormalizeDueDay(t *testing.T) {
	cases := map[float64]int{
		15:          15,
		15.9:        15,
		-0.5:        1,
		0:           1,
		31.99:       31,
		100:         31,
		math.NaN():  1,
		math.Inf(1): 1,
	}
	for in, want := range cases {
		if got := period.NormalizeDueDay(in); got != want {
			t.Fatalf("NormalizeDueDay(%v)=%d, want %d", in, got, want)
		}
	}
}

func TestNormalizeMonthYear(t *testing.T) {
	m, y := period.NormalizeMonthYear(13, 2024.7)
	if m != 12 || y != 2024 {
		t.Fatalf("got %d/%d", m, y)
	}
	m, y = period.NormalizeMonthYear(0, -1.2)
	if m != 1 || y != -1 {
		t.Fatalf("got %d/%d", m, y)
	}
	m, _ = period.NormalizeMonthYear(3.8, 2024)
	if m != 3 {
		t.Fatalf("expected truncation to 3, got %d", m)
	}
}

func TestTitle(t *testing.T) {
	if got := period.Title("HIPAA review", 3, 2024); got != "HIPAA review - March 2024" {
		t.Fatalf("unexpected title %q", got)
	}
}
