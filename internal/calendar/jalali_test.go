package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromTime(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want Date
	}{
		{"last day of short esfand", time.Date(2024, 3, 19, 12, 0, 0, 0, time.UTC), Date{1402, 12, 29}},
		{"nowruz 1403", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), Date{1403, 1, 1}},
		{"leap esfand 30", time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC), Date{1403, 12, 30}},
		{"nowruz 1404", time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), Date{1404, 1, 1}},
		{"first day of mehr", time.Date(2024, 9, 22, 0, 0, 0, 0, time.UTC), Date{1403, 7, 1}},
		{"last day of mehr", time.Date(2024, 10, 21, 0, 0, 0, 0, time.UTC), Date{1403, 7, 30}},
		{"first day of aban", time.Date(2024, 10, 22, 0, 0, 0, 0, time.UTC), Date{1403, 8, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromTime(tt.in))
		})
	}
}

func TestDate_Time(t *testing.T) {
	loc := time.UTC
	assert.Equal(t, time.Date(2024, 9, 22, 0, 0, 0, 0, loc), Date{1403, 7, 1}.Time(loc))
	assert.Equal(t, time.Date(2025, 3, 21, 0, 0, 0, 0, loc), Date{1404, 1, 1}.Time(loc))
	assert.Equal(t, time.Date(2025, 3, 20, 0, 0, 0, 0, loc), Date{1403, 12, 30}.Time(loc))

	// Round trip over a full leap year.
	start := time.Date(2024, 3, 20, 0, 0, 0, 0, loc)
	for i := 0; i < 366; i++ {
		day := start.AddDate(0, 0, i)
		assert.Equal(t, day, FromTime(day).Time(loc), day.String())
	}
}

func TestMonthLength(t *testing.T) {
	assert.Equal(t, 31, MonthLength(1403, 1))
	assert.Equal(t, 31, MonthLength(1403, 6))
	assert.Equal(t, 30, MonthLength(1403, 7))
	assert.Equal(t, 30, MonthLength(1403, 11))
	assert.Equal(t, 30, MonthLength(1403, 12))
	assert.Equal(t, 29, MonthLength(1402, 12))
	assert.True(t, IsLeap(1399))
	assert.True(t, IsLeap(1403))
	assert.False(t, IsLeap(1404))
}

func TestOutOfRangeYearPanics(t *testing.T) {
	assert.Panics(t, func() { IsLeap(4000) })
	assert.Panics(t, func() { Date{4000, 1, 1}.Time(time.UTC) })
	assert.Equal(t, "1403/07/30", FromTime(time.Date(2024, 10, 21, 8, 0, 0, 0, time.UTC)).String())
}
