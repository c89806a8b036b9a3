package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueDays(t *testing.T) {
	tests := []struct {
		name string
		in   Date
		want []int
	}{
		{"ordinary day", Date{1403, 2, 14}, []int{14}},
		{"day 30 of a 31-day month", Date{1403, 3, 30}, []int{30}},
		{"day 31 of a 31-day month", Date{1403, 3, 31}, []int{31}},
		{"last day of a 30-day month", Date{1403, 9, 30}, []int{30, 31}},
		{"day 29 of a 30-day month", Date{1403, 9, 29}, []int{29}},
		{"last day of short esfand", Date{1402, 12, 29}, []int{29, 30, 31}},
		{"day 29 of leap esfand", Date{1403, 12, 29}, []int{29}},
		{"last day of leap esfand", Date{1403, 12, 30}, []int{30, 31}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DueDays(tt.in))
		})
	}
}

func TestDueDays_OncePerMonth(t *testing.T) {
	start := Date{1402, 1, 1}.Time(time.UTC)
	end := Date{1404, 1, 1}.Time(time.UTC)

	for _, anchor := range []int{1, 15, 29, 30, 31} {
		hits := map[[2]int]int{}
		for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
			d := FromTime(day)
			for _, due := range DueDays(d) {
				if due == anchor {
					hits[[2]int{d.Year, d.Month}]++
				}
			}
		}
		assert.Len(t, hits, 24, "anchor %d", anchor)
		for month, n := range hits {
			assert.Equal(t, 1, n, "anchor %d month %v", anchor, month)
		}
	}
}

func TestStartOfMonth(t *testing.T) {
	loc := time.UTC
	got := StartOfMonth(time.Date(2024, 10, 21, 15, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 9, 22, 0, 0, 0, 0, loc), got)
}

func TestDueDayOf(t *testing.T) {
	assert.Equal(t, 30, DueDayOf(time.Date(2024, 10, 21, 9, 0, 0, 0, time.UTC)))
}

func TestWindow_Contains(t *testing.T) {
	start, err := ParseClock("23:45")
	require.NoError(t, err)
	end, err := ParseClock("00:30")
	require.NoError(t, err)
	w := Window{Start: start, End: end, Location: time.UTC}

	at := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

	assert.False(t, w.Contains(at(23, 44)))
	assert.True(t, w.Contains(at(23, 45)))
	assert.True(t, w.Contains(at(23, 59)))
	assert.True(t, w.Contains(at(0, 0)))
	assert.True(t, w.Contains(at(0, 29)))
	assert.False(t, w.Contains(at(0, 30)))
	assert.False(t, w.Contains(at(12, 0)))

	t.Run("window converts to its location", func(t *testing.T) {
		tehran := time.FixedZone("IRST", 3*3600+1800)
		w := Window{Start: start, End: end, Location: tehran}
		// 20:20 UTC is 23:50 in Tehran.
		assert.True(t, w.Contains(at(20, 20)))
	})

	t.Run("invalid clock", func(t *testing.T) {
		_, err := ParseClock("25:00")
		assert.Error(t, err)
	})
}
