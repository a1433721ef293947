package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmusic/tuition-engine/billing"
)

func intPtr(n int) *int                    { return &n }
func datePtr(d billing.Date) *billing.Date { return &d }

func scheduleInput(start billing.Date) billing.ScheduleInput {
	amount := money("150.00")
	return billing.ScheduleInput{
		StudentID:     "student-1",
		EnrollmentID:  "enrollment-1",
		StartDate:     start,
		MonthlyAmount: &amount,
		DueDay:        15,
		Today:         start,
	}
}

// =============================================================================
// MONTH RANGE TESTS
// =============================================================================

func TestGenerateSchedule_DefaultYear(t *testing.T) {
	// GIVEN: no end date and no lesson frequency
	// THEN: 12 invoices, start month through start month + 11
	in := scheduleInput(date(2025, time.January, 10))
	invoices := billing.GenerateSchedule(in)

	require.Len(t, invoices, 12)
	assert.Equal(t, 2025, invoices[0].Year)
	assert.Equal(t, time.January, invoices[0].Month)
	assert.Equal(t, time.December, invoices[11].Month)

	for i, inv := range invoices {
		assert.Equal(t, billing.StudentID("student-1"), inv.StudentID)
		assert.Equal(t, billing.EnrollmentID("enrollment-1"), inv.EnrollmentID)
		assert.True(t, inv.Amount.Equal(money("150.00")))
		assert.NotEmpty(t, inv.ID, "invoice %d has an id", i)
		assert.Nil(t, inv.LateFee, "no accrual before the first run")
		assert.Nil(t, inv.Interest)
	}
}

func TestGenerateSchedule_TwiceWeekly(t *testing.T) {
	in := scheduleInput(date(2025, time.March, 1))
	in.LessonsPerWeek = intPtr(2)

	invoices := billing.GenerateSchedule(in)
	require.Len(t, invoices, 12)
	assert.Equal(t, time.March, invoices[0].Month)
	assert.Equal(t, time.February, invoices[11].Month)
	assert.Equal(t, 2026, invoices[11].Year)
}

func TestGenerateSchedule_OnceWeekly(t *testing.T) {
	in := scheduleInput(date(2025, time.March, 1))
	in.LessonsPerWeek = intPtr(1)

	invoices := billing.GenerateSchedule(in)
	require.Len(t, invoices, 24)
}

func TestGenerateSchedule_EndDateBoundsRange(t *testing.T) {
	// GIVEN: end date 2025-07-01
	// THEN: the last billable month is June; the end month itself is excluded
	in := scheduleInput(date(2025, time.January, 10))
	in.EndDate = datePtr(date(2025, time.July, 1))

	invoices := billing.GenerateSchedule(in)
	require.Len(t, invoices, 6)
	assert.Equal(t, time.June, invoices[5].Month)
}

func TestGenerateSchedule_EndDateWinsOverFrequency(t *testing.T) {
	in := scheduleInput(date(2025, time.January, 10))
	in.EndDate = datePtr(date(2025, time.April, 20))
	in.LessonsPerWeek = intPtr(1)

	invoices := billing.GenerateSchedule(in)
	require.Len(t, invoices, 3, "Jan, Feb, Mar")
}

// =============================================================================
// DUE DAY TESTS
// =============================================================================

func TestGenerateSchedule_ClampsDueDayToMonthLength(t *testing.T) {
	// GIVEN: due day 31
	// THEN: February clamps to the 28th (2025 is not a leap year)
	in := scheduleInput(date(2025, time.January, 5))
	in.DueDay = 31

	invoices := billing.GenerateSchedule(in)
	require.True(t, len(invoices) >= 2)

	feb := invoices[1]
	require.Equal(t, time.February, feb.Month)
	// 2025-02-28 is a Friday, no rolling needed
	assert.Equal(t, date(2025, time.February, 28), feb.DueDate)
}

func TestGenerateSchedule_RollsDueDateToBusinessDay(t *testing.T) {
	// GIVEN: due day 15
	// THEN: March 15 2025 (Saturday) rolls to Monday the 17th
	in := scheduleInput(date(2025, time.March, 1))

	invoices := billing.GenerateSchedule(in)
	require.NotEmpty(t, invoices)
	assert.Equal(t, date(2025, time.March, 17), invoices[0].DueDate)
}

// =============================================================================
// STATUS SEEDING TESTS
// =============================================================================

func TestGenerateSchedule_BackdatedMonthsSeedLate(t *testing.T) {
	// GIVEN: enrollment backdated to January, today is mid-April
	// THEN: months already past their due date seed LATE, the rest PENDING
	in := scheduleInput(date(2025, time.January, 10))
	in.Today = date(2025, time.April, 10)

	invoices := billing.GenerateSchedule(in)
	require.Len(t, invoices, 12)

	assert.Equal(t, billing.StatusLate, invoices[0].Status, "January")
	assert.Equal(t, billing.StatusLate, invoices[1].Status, "February")
	assert.Equal(t, billing.StatusLate, invoices[2].Status, "March")
	assert.Equal(t, billing.StatusPending, invoices[3].Status, "April (due 15th)")
	assert.Equal(t, billing.StatusPending, invoices[11].Status)
}

// =============================================================================
// NO-OP TESTS
// =============================================================================

func TestGenerateSchedule_NoAmountIsNoOp(t *testing.T) {
	in := scheduleInput(date(2025, time.January, 10))
	in.MonthlyAmount = nil

	assert.Empty(t, billing.GenerateSchedule(in))
}

func TestGenerateSchedule_NoDueDayIsNoOp(t *testing.T) {
	in := scheduleInput(date(2025, time.January, 10))
	in.DueDay = 0

	assert.Empty(t, billing.GenerateSchedule(in))
}
