package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil calendar date (no time-of-day, no timezone)
// =============================================================================

// Date is a calendar date. All billing arithmetic (due dates, day counting,
// month iteration) works on civil dates; the wall clock only enters the
// system through Clock and JobSchedule.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf extracts the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns the date at UTC midnight, for arithmetic and storage.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time().Before(other.Time()) }
func (d Date) After(other Date) bool  { return d.Time().After(other.Time()) }
func (d Date) Equal(other Date) bool  { return d == other.normalize() }
func (d Date) IsZero() bool           { return d == Date{} }

func (d Date) normalize() Date { return DateOf(d.Time()) }

// Arithmetic
func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

// AddMonths adds n calendar months, clamping the day to the target month's
// length (Jan 31 + 1 month = Feb 28/29, not Mar 2).
func (d Date) AddMonths(n int) Date {
	ym := d.YearMonth().AddMonths(n)
	day := d.Day
	if max := ym.Days(); day > max {
		day = max
	}
	return Date{Year: ym.Year, Month: ym.Month, Day: day}
}

// DaysSince returns the number of whole days from other to d.
// Negative when d is before other.
func (d Date) DaysSince(other Date) int {
	return int(d.Time().Sub(other.Time()).Hours() / 24)
}

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) YearMonth() YearMonth { return YearMonth{Year: d.Year, Month: d.Month} }

func (d Date) String() string { return d.Time().Format("2006-01-02") }

// =============================================================================
// YEAR-MONTH - Billing period key
// =============================================================================

// YearMonth identifies one billing month. Invoices are unique per student (or
// per enrollment) per YearMonth.
type YearMonth struct {
	Year  int
	Month time.Month
}

func (ym YearMonth) AddMonths(n int) YearMonth {
	t := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Days returns the number of days in the month.
func (ym YearMonth) Days() int {
	// Day zero of the next month is the last day of this one.
	return time.Date(ym.Year, ym.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

func (ym YearMonth) After(other YearMonth) bool { return other.Before(ym) }

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}
