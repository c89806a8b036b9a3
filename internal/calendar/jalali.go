// Package calendar converts between the Gregorian and Jalali (Solar Hijri)
// calendars and answers the billing questions asked in local time: which
// due days fall on a given date, where the current month starts, and whether
// a wall-clock time lies in the nightly maintenance window.
package calendar

import (
	"fmt"
	"time"

	jalaali "github.com/jalaali/go-jalaali"
)

// Date is a day in the Jalali calendar.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

// The conversion tables cover Jalali years -61 to 3177. Billing only ever
// converts present-day dates, so leaving that range is a programming error.
func must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("calendar: %v", err))
	}
	return v
}

// FromTime converts the calendar date of t, in t's location, to Jalali.
func FromTime(t time.Time) Date {
	gy, gm, gd := t.Date()
	jy, jm, jd, err := jalaali.ToJalaali(gy, gm, gd)
	must(jy, err)
	return Date{Year: jy, Month: int(jm), Day: jd}
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	gy, gm, gd, err := jalaali.ToGregorian(d.Year, jalaali.Month(d.Month), d.Day)
	must(gy, err)
	return time.Date(gy, gm, gd, 0, 0, 0, 0, loc)
}

// IsLeap reports whether the Jalali year has a 30-day Esfand.
func IsLeap(year int) bool {
	return must(jalaali.IsLeapYear(year))
}

// MonthLength returns the number of days in a Jalali month.
func MonthLength(year, month int) int {
	return must(jalaali.MonthLength(year, month))
}
