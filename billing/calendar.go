/*
calendar.go - Brazilian national holiday calendar

PURPOSE:
  Pure computation of whether a calendar date is a national holiday.
  Used by the due-date resolver to keep invoice due dates on business days.

HOLIDAYS:
  Fixed: Jan 1, Apr 21, May 1, Sep 7, Oct 12, Nov 2, Nov 15, Nov 20, Dec 25.
  Moved (offsets from Easter Sunday):
    Good Friday     = Easter - 2
    Carnival        = Easter - 47
    Corpus Christi  = Easter + 60

EASTER:
  Computed with the Gregorian computus (modular arithmetic over the year).
  No external calendar data is needed; the set for any year is deterministic.

CACHING:
  Holiday sets are computed once per year and cached. Computing the set is
  cheap; the cache just avoids rebuilding it on every due-date roll.

SEE ALSO:
  - duedate.go: NextBusinessDay
*/
package billing

import (
	"sync"
	"time"
)

var (
	holidayMu    sync.RWMutex
	holidayCache = map[int]map[Date]bool{}
)

// IsNationalHoliday reports whether d is a Brazilian national holiday.
func IsNationalHoliday(d Date) bool {
	return holidaysForYear(d.Year)[d.normalize()]
}

// HolidaysInYear returns every national holiday in the given year,
// in no particular order.
func HolidaysInYear(year int) []Date {
	set := holidaysForYear(year)
	dates := make([]Date, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	return dates
}

func holidaysForYear(year int) map[Date]bool {
	holidayMu.RLock()
	set, ok := holidayCache[year]
	holidayMu.RUnlock()
	if ok {
		return set
	}

	set = buildHolidaySet(year)

	holidayMu.Lock()
	holidayCache[year] = set
	holidayMu.Unlock()
	return set
}

func buildHolidaySet(year int) map[Date]bool {
	set := map[Date]bool{
		NewDate(year, time.January, 1):   true, // Confraternização Universal
		NewDate(year, time.April, 21):    true, // Tiradentes
		NewDate(year, time.May, 1):       true, // Dia do Trabalho
		NewDate(year, time.September, 7): true, // Independência
		NewDate(year, time.October, 12):  true, // Nossa Senhora Aparecida
		NewDate(year, time.November, 2):  true, // Finados
		NewDate(year, time.November, 15): true, // Proclamação da República
		NewDate(year, time.November, 20): true, // Consciência Negra
		NewDate(year, time.December, 25): true, // Natal
	}

	easter := EasterSunday(year)
	set[easter.AddDays(-2)] = true  // Sexta-feira Santa
	set[easter.AddDays(-47)] = true // Carnaval
	set[easter.AddDays(60)] = true  // Corpus Christi

	return set
}

// EasterSunday computes Easter for a Gregorian calendar year using the
// anonymous Gregorian computus.
func EasterSunday(year int) Date {
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
	return NewDate(year, time.Month(month), day)
}
