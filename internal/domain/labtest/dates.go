package labtest

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the persisted day format.
const DateLayout = "2006-01-02"

// ParseDate reads the loose date formats found on lab sheets, in order:
//
//	YYYY-MM-DD, YYYY/MM/DD (two-digit years are taken as 20YY)
//	MM-DD, MM/DD
//	MM.DD
//
// Each format must match the whole string. Dates without an explicit
// century are assumed to be in the past: when the result falls after now the
// previous year is used instead, so "12.19" logged in January means last
// December. The result is midnight in now's location.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(text)
	loc := now.Location()

	if strings.ContainsAny(s, "-/") {
		sep := "/"
		if strings.Contains(s, "-") {
			sep = "-"
		}
		parts := strings.Split(s, sep)
		switch len(parts) {
		case 3:
			year, ok1 := atoiDigits(parts[0])
			month, ok2 := atoiDigits(parts[1])
			day, ok3 := atoiDigits(parts[2])
			if ok1 && ok2 && ok3 {
				if year < 100 {
					return pastDate(2000+year, month, day, now)
				}
				return calendarDate(year, month, day, loc)
			}
		case 2:
			month, ok1 := atoiDigits(parts[0])
			day, ok2 := atoiDigits(parts[1])
			if ok1 && ok2 {
				return pastDate(now.Year(), month, day, now)
			}
		}
	}

	if parts := strings.Split(s, "."); len(parts) == 2 {
		month, ok1 := atoiDigits(parts[0])
		day, ok2 := atoiDigits(parts[1])
		if ok1 && ok2 {
			return pastDate(now.Year(), month, day, now)
		}
	}
	return time.Time{}, false
}

// pastDate builds year-month-day and steps back one year if it lies after now.
func pastDate(year, month, day int, now time.Time) (time.Time, bool) {
	t, ok := calendarDate(year, month, day, now.Location())
	if !ok {
		return time.Time{}, false
	}
	if t.After(now) {
		return calendarDate(year-1, month, day, now.Location())
	}
	return t, true
}

// calendarDate rejects out-of-range components instead of letting time.Date
// normalise them (Feb 30 is not Mar 2).
func calendarDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoiDigits(s string) (int, bool) {
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
