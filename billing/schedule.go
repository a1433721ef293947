/*
schedule.go - Billing schedule generation

PURPOSE:
  Materializes a student's recurring monthly invoices from an enrollment's
  date range and price: one invoice per covered calendar month, each due
  date rolled to a business day, each invoice pre-seeded PENDING or LATE
  depending on "today".

COVERED MONTHS:
  First month = the start date's month. Last billable month:
    - end date given:        the calendar month preceding the end date's month
    - else lessons/week set: startMonth + (12 or 24) - 1 for 2x / 1x weekly
    - else:                  startMonth + 11 (a year by default)

DUE DAY:
  dueDay is clamped to the month's length (31 -> Feb 28), then rolled
  forward through weekends and holidays.

NO-OP:
  Absent price or due day generates nothing. That is a valid no-op, not an
  error: enrollments without billing terms simply carry no invoices.

UNIQUENESS:
  No duplicate-month check happens here. The bulk path is duplicate-free by
  construction (a contiguous month range); the single-invoice path checks
  before calling in.
*/
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScheduleInput describes one enrollment's billing terms.
type ScheduleInput struct {
	StudentID    StudentID
	EnrollmentID EnrollmentID // empty for ad hoc schedules

	StartDate Date
	EndDate   *Date

	// MonthlyAmount nil or DueDay 0 makes generation a no-op.
	MonthlyAmount *decimal.Decimal
	DueDay        int

	LessonsPerWeek *int

	// Today seeds the initial status of each invoice.
	Today Date
}

// GenerateSchedule produces exactly one invoice per covered month.
// Pure apart from id generation; persists nothing.
func GenerateSchedule(in ScheduleInput) []Invoice {
	if in.MonthlyAmount == nil || in.DueDay <= 0 {
		return nil
	}

	first := in.StartDate.YearMonth()
	last := lastBillableMonth(first, in.EndDate, in.LessonsPerWeek)

	var invoices []Invoice
	for ym := first; !ym.After(last); ym = ym.AddMonths(1) {
		day := in.DueDay
		if max := ym.Days(); day > max {
			day = max
		}
		due := NextBusinessDay(NewDate(ym.Year, ym.Month, day))

		invoices = append(invoices, Invoice{
			ID:           InvoiceID(uuid.NewString()),
			StudentID:    in.StudentID,
			EnrollmentID: in.EnrollmentID,
			Year:         ym.Year,
			Month:        ym.Month,
			Amount:       *in.MonthlyAmount,
			DueDate:      due,
			Status:       SeedStatus(due, in.Today),
			CreatedAt:    time.Now().UTC(),
		})
	}
	return invoices
}

func lastBillableMonth(first YearMonth, endDate *Date, lessonsPerWeek *int) YearMonth {
	switch {
	case endDate != nil:
		return endDate.YearMonth().AddMonths(-1)
	case lessonsPerWeek != nil:
		months := 24
		if *lessonsPerWeek == 2 {
			months = 12
		}
		return first.AddMonths(months - 1)
	default:
		return first.AddMonths(11)
	}
}
