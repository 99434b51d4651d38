package edition

import (
	"fmt"
	"time"
)

// DateLayout is the DD-MM-YYYY form used by the gazette and the cache file.
const DateLayout = "02-01-2006"

// Date is a calendar day without time of day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses DD-MM-YYYY.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want DD-MM-YYYY): %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate panics on malformed input. Fixtures only.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string { return d.time().Format(DateLayout) }

func (d Date) Weekday() time.Weekday { return d.time().Weekday() }

func (d Date) AddDays(n int) Date { return DateOf(d.time().AddDate(0, 0, n)) }

func (d Date) Before(o Date) bool { return d.time().Before(o.time()) }

func (d Date) After(o Date) bool { return d.time().After(o.time()) }

// IsBusinessDay is Monday through Friday; no holiday calendar.
func (d Date) IsBusinessDay() bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BusinessDaysBetween counts business days walking from from to to, with
// from excluded and to included. Walking backwards the result is negative
// and covers [to, from), so a weekend reference still lands on the right
// count in either direction.
func BusinessDaysBetween(from, to Date) int {
	n := 0
	switch {
	case to.After(from):
		for cur := from.AddDays(1); !cur.After(to); cur = cur.AddDays(1) {
			if cur.IsBusinessDay() {
				n++
			}
		}
	case to.Before(from):
		for cur := to; cur.Before(from); cur = cur.AddDays(1) {
			if cur.IsBusinessDay() {
				n--
			}
		}
	}
	return n
}

// Range returns every date from start to end inclusive.
func Range(start, end Date) []Date {
	var out []Date
	for cur := start; !cur.After(end); cur = cur.AddDays(1) {
		out = append(out, cur)
	}
	return out
}
