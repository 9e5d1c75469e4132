// Package parisdate holds the calendar arithmetic shared by the billing
// pipeline. Every day count and month boundary is taken in Europe/Paris
// local time, the reference zone of distributor flux.
package parisdate

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/errors"
)

// Zone is the IANA name of the billing time zone.
const Zone = "Europe/Paris"

var location = mustLoad(Zone)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("parisdate: load %s: %v", name, err))
	}
	return loc
}

// Location returns the Europe/Paris location.
func Location() *time.Location { return location }

// Date returns local midnight of the calendar day containing t.
func Date(t time.Time) time.Time {
	local := t.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
}

// At builds a local midnight for the given civil date.
func At(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, location)
}

// DaysBetween returns the number of calendar days from the local date of a
// to the local date of b. DST transitions do not shift the count.
func DaysBetween(a, b time.Time) int {
	la, lb := a.In(location), b.In(location)
	ua := time.Date(la.Year(), la.Month(), la.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(lb.Year(), lb.Month(), lb.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// MonthStart returns local midnight of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	local := t.In(location)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, location)
}

// NextMonth returns the first day of the month following t's month.
func NextMonth(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	start := MonthStart(t)
	return DaysBetween(start, start.AddDate(0, 1, 0))
}

// MonthKey formats a month the way records are keyed ("2006-01").
func MonthKey(t time.Time) string {
	return t.In(location).Format("2006-01")
}

// ParseMonth parses a "2006-01" key into the local first day of month.
func ParseMonth(value string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", value, location)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parisdate: invalid month %q", value)
	}
	return t, nil
}

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// FrenchLabel renders a date for display on billing documents, e.g. "1 mars 2025".
func FrenchLabel(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	local := t.In(location)
	return fmt.Sprintf("%d %s %d", local.Day(), frenchMonths[local.Month()-1], local.Year())
}
