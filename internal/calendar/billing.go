package calendar

import (
	"fmt"
	"time"
)

// DueDays returns the due days that are billed on d. On the last day of a
// month shorter than 31 days every later anchor day is billed as well, so a
// subscription anchored on day 31 is still charged once per month.
func DueDays(d Date) []int {
	length := MonthLength(d.Year, d.Month)
	if d.Day != length || length == 31 {
		return []int{d.Day}
	}
	days := make([]int, 0, 32-length)
	for day := length; day <= 31; day++ {
		days = append(days, day)
	}
	return days
}

// DueDayOf is the anchor day for a subscription created at t.
func DueDayOf(t time.Time) int {
	return FromTime(t).Day
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfMonth returns midnight of the first day of t's Jalali month.
func StartOfMonth(t time.Time) time.Time {
	d := FromTime(t)
	return Date{Year: d.Year, Month: d.Month, Day: 1}.Time(t.Location())
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	var c Clock
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("invalid clock %q", s)
	}
	return c, nil
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

// Window is a daily interval [Start, End) that may wrap past midnight.
type Window struct {
	Start    Clock
	End      Clock
	Location *time.Location
}

// Contains reports whether t falls inside the window in the window's location.
func (w Window) Contains(t time.Time) bool {
	if w.Location != nil {
		t = t.In(w.Location)
	}
	now := t.Hour()*60 + t.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
