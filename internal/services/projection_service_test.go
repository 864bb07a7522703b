package services

import (
	"testing"
	"time"

	"github.com/koinonia/backend/internal/models"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name string
		from time.Time
		n    int
		want time.Time
	}{
		{"jan 31 plus one is feb 28", date(2025, time.January, 31, 18, 0), 1, date(2025, time.February, 28, 18, 0)},
		{"jan 31 plus one in a leap year", date(2024, time.January, 31, 18, 0), 1, date(2024, time.February, 29, 18, 0)},
		{"jan 31 plus two is mar 31", date(2025, time.January, 31, 18, 0), 2, date(2025, time.March, 31, 18, 0)},
		{"jan 31 plus three is apr 30", date(2025, time.January, 31, 18, 0), 3, date(2025, time.April, 30, 18, 0)},
		{"mid month is untouched", date(2025, time.March, 15, 9, 30), 1, date(2025, time.April, 15, 9, 30)},
		{"year rollover", date(2025, time.November, 30, 12, 0), 3, date(2026, time.February, 28, 12, 0)},
		{"zero months", date(2025, time.May, 31, 8, 0), 0, date(2025, time.May, 31, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addMonthsClamped(tt.from, tt.n)
			if !got.Equal(tt.want) {
				t.Errorf("addMonthsClamped(%v, %d) = %v, want %v", tt.from, tt.n, got, tt.want)
			}
		})
	}
}

func TestTargetDate(t *testing.T) {
	origin := date(2025, time.January, 31, 18, 0)

	tests := []struct {
		name        string
		rec         models.Recurrence
		anchorIndex int
		index       int
		want        time.Time
	}{
		{"anchor maps to origin", models.RecurrenceWeekly, 1, 1, origin},
		{"daily step", models.RecurrenceDaily, 1, 4, date(2025, time.February, 3, 18, 0)},
		{"weekly step", models.RecurrenceWeekly, 1, 3, date(2025, time.February, 14, 18, 0)},
		{"monthly clamps to feb", models.RecurrenceMonthly, 1, 2, date(2025, time.February, 28, 18, 0)},
		{"monthly recovers day 31 in march", models.RecurrenceMonthly, 1, 3, date(2025, time.March, 31, 18, 0)},
		{"monthly clamps to apr 30", models.RecurrenceMonthly, 1, 4, date(2025, time.April, 30, 18, 0)},
		{"yearly", models.RecurrenceYearly, 1, 2, date(2026, time.January, 31, 18, 0)},
		{"none always returns origin", models.RecurrenceNone, 1, 7, origin},
		{"moved anchor shifts the series", models.RecurrenceWeekly, 5, 6, date(2025, time.February, 7, 18, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := targetDate(origin, tt.rec, tt.anchorIndex, tt.index)
			if !got.Equal(tt.want) {
				t.Errorf("targetDate(index=%d) = %v, want %v", tt.index, got, tt.want)
			}
		})
	}
}

func TestTargetDateLeapYearSeries(t *testing.T) {
	// A yearly series anchored on Feb 29 lands on Feb 28 until the next leap year.
	origin := date(2024, time.February, 29, 10, 0)

	want := map[int]time.Time{
		1: origin,
		2: date(2025, time.February, 28, 10, 0),
		3: date(2026, time.February, 28, 10, 0),
		4: date(2027, time.February, 28, 10, 0),
		5: date(2028, time.February, 29, 10, 0),
	}
	for index, expected := range want {
		got := targetDate(origin, models.RecurrenceYearly, 1, index)
		if !got.Equal(expected) {
			t.Errorf("index %d: got %v, want %v", index, got, expected)
		}
	}
}

func TestTargetDateClampingDoesNotCompound(t *testing.T) {
	// Every step is taken from the origin, so a clamped February never turns
	// the rest of the series into a day-28 series.
	origin := date(2025, time.January, 31, 18, 0)
	got := targetDate(origin, models.RecurrenceMonthly, 1, 6)
	want := date(2025, time.June, 30, 18, 0)
	if !got.Equal(want) {
		t.Errorf("index 6: got %v, want %v", got, want)
	}
	got = targetDate(origin, models.RecurrenceMonthly, 1, 8)
	want = date(2025, time.August, 31, 18, 0)
	if !got.Equal(want) {
		t.Errorf("index 8: got %v, want %v", got, want)
	}
}
