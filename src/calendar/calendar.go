// Package calendar provides the date rules used by the tariff classifier:
// weekend detection, Easter and the Slovenian public holiday table.
package calendar

import (
	"sort"
	"time"
)

// Holiday is a single public holiday on a given date.
type Holiday struct {
	Date time.Time
	Name string
}

type fixedHoliday struct {
	month time.Month
	day   int
	name  string
}

var fixedHolidays = []fixedHoliday{
	{time.January, 1, "Novo leto"},
	{time.January, 2, "Novo leto (2. dan)"},
	{time.February, 8, "Prešernov dan"},
	{time.April, 27, "Dan upora proti okupatorju"},
	{time.May, 1, "Praznik dela (1. dan)"},
	{time.May, 2, "Praznik dela (2. dan)"},
	{time.June, 25, "Dan državnosti"},
	{time.August, 15, "Marijino vnebovzetje"},
	{time.October, 31, "Dan reformacije"},
	{time.November, 1, "Dan spomina na mrtve"},
	{time.December, 25, "Božič"},
	{time.December, 26, "Dan samostojnosti in enotnosti"},
}

// Weekday returns the day of week with Monday as 0 and Sunday as 6
func Weekday(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}

// IsWeekend reports whether date falls on a Saturday or Sunday
func IsWeekend(date time.Time) bool {
	return Weekday(date) >= 5
}

// IsWeekday is the complement of IsWeekend
func IsWeekday(date time.Time) bool {
	return !IsWeekend(date)
}

// Day truncates t to midnight in its own location
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay compares calendar dates, ignoring time of day
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// EasterSunday computes Easter for a Gregorian year (Meeus/Jones/Butcher)
func EasterSunday(year int, loc *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

// HolidaysForYear returns the fixed and Easter-relative holidays of a year, sorted by date
func HolidaysForYear(year int, loc *time.Location) []Holiday {
	holidays := make([]Holiday, 0, len(fixedHolidays)+3)
	for _, f := range fixedHolidays {
		holidays = append(holidays, Holiday{
			Date: time.Date(year, f.month, f.day, 0, 0, 0, 0, loc),
			Name: f.name,
		})
	}

	easter := EasterSunday(year, loc)
	holidays = append(holidays,
		Holiday{Date: easter, Name: "Velika noč"},
		Holiday{Date: easter.AddDate(0, 0, 1), Name: "Velikonočni ponedeljek"},
		Holiday{Date: easter.AddDate(0, 0, 49), Name: "Binkošti"},
	)

	sort.SliceStable(holidays, func(i, j int) bool {
		return holidays[i].Date.Before(holidays[j].Date)
	})
	return holidays
}

// HolidayName returns the holiday on date, if there is one
func HolidayName(date time.Time) (string, bool) {
	for _, h := range HolidaysForYear(date.Year(), date.Location()) {
		if SameDay(h.Date, date) {
			return h.Name, true
		}
	}
	return "", false
}

// IsHoliday reports whether date is a public holiday
func IsHoliday(date time.Time) bool {
	_, ok := HolidayName(date)
	return ok
}

// IsWorkFreeDay is true on weekends and holidays
func IsWorkFreeDay(date time.Time) bool {
	return IsWeekend(date) || IsHoliday(date)
}

// NextHoliday finds the first holiday strictly after date.
// This year's and next year's tables are searched so the result rolls over on Dec 31.
func NextHoliday(date time.Time) (Holiday, bool) {
	day := Day(date)
	candidates := HolidaysForYear(day.Year(), day.Location())
	candidates = append(candidates, HolidaysForYear(day.Year()+1, day.Location())...)

	for _, h := range candidates {
		if h.Date.After(day) {
			return h, true
		}
	}
	return Holiday{}, false
}

// DaysBetween counts whole calendar days from a to b, ignoring DST shifts
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
