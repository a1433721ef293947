package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmusic/tuition-engine/billing"
	"github.com/newmusic/tuition-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(year int, month time.Month, day int) billing.Date {
	return billing.NewDate(year, month, day)
}

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tod(s string) billing.TimeOfDay {
	v, err := billing.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return v
}

func seedStudent(t *testing.T, s *sqlite.Store, id string) {
	err := s.SaveStudent(context.Background(), billing.Student{
		ID:        billing.StudentID(id),
		Name:      "Student " + id,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedSection(t *testing.T, s *sqlite.Store, id string, slots ...billing.WeeklySlot) {
	err := s.SaveSection(context.Background(), billing.ClassSection{
		ID:         billing.SectionID(id),
		Instrument: "piano",
		Instructor: "Instructor",
		Capacity:   5,
		Slots:      slots,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedEnrollment(t *testing.T, s *sqlite.Store, id, studentID, sectionID string) {
	amount := money("150.00")
	err := s.SaveEnrollment(context.Background(), billing.Enrollment{
		ID:             billing.EnrollmentID(id),
		StudentID:      billing.StudentID(studentID),
		SectionID:      billing.SectionID(sectionID),
		StartDate:      date(2025, time.March, 10),
		EndDate:        date(2027, time.March, 10),
		LessonsPerWeek: 1,
		MonthlyAmount:  &amount,
		DueDay:         15,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

// =============================================================================
// STUDENT TESTS
// =============================================================================

func TestStudent_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	got, err := s.GetStudent(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Student s1", got.Name)
	assert.True(t, got.Active)
}

func TestStudent_GetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetStudent(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStudent_SaveIsUpsert(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	err := s.SaveStudent(context.Background(), billing.Student{
		ID: "s1", Name: "Renamed", Active: false, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := s.GetStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.Active)

	all, err := s.ListStudents(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// SECTION TESTS
// =============================================================================

func TestSection_RoundTripWithSlots(t *testing.T) {
	s := newTestStore(t)
	seedSection(t, s, "sec1",
		billing.WeeklySlot{Day: 3, Start: tod("14:00"), End: tod("15:30")},
		billing.WeeklySlot{Day: 1, Start: tod("10:00")},
	)

	got, err := s.GetSection(context.Background(), "sec1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Slots, 2)
	// Slots come back ordered by day then start time.
	assert.Equal(t, 1, got.Slots[0].Day)
	assert.Equal(t, tod("10:00"), got.Slots[0].Start)
	assert.Equal(t, billing.TimeOfDay(0), got.Slots[0].End, "unset end stays unset")
	assert.Equal(t, 3, got.Slots[1].Day)
	assert.Equal(t, tod("15:30"), got.Slots[1].End)
}

func TestSection_SaveReplacesSlots(t *testing.T) {
	s := newTestStore(t)
	seedSection(t, s, "sec1",
		billing.WeeklySlot{Day: 1, Start: tod("10:00")},
		billing.WeeklySlot{Day: 3, Start: tod("10:00")},
	)

	seedSection(t, s, "sec1", billing.WeeklySlot{Day: 5, Start: tod("16:00")})

	got, err := s.GetSection(context.Background(), "sec1")
	require.NoError(t, err)
	require.Len(t, got.Slots, 1)
	assert.Equal(t, 5, got.Slots[0].Day)
}

// =============================================================================
// ENROLLMENT TESTS
// =============================================================================

func TestEnrollment_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	seedSection(t, s, "sec1", billing.WeeklySlot{Day: 1, Start: tod("10:00")})
	seedEnrollment(t, s, "e1", "s1", "sec1")

	got, err := s.GetEnrollment(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, billing.StudentID("s1"), got.StudentID)
	assert.Equal(t, date(2025, time.March, 10), got.StartDate)
	assert.Equal(t, date(2027, time.March, 10), got.EndDate)
	require.NotNil(t, got.MonthlyAmount)
	assert.True(t, got.MonthlyAmount.Equal(money("150.00")))
	assert.Equal(t, 15, got.DueDay)
}

func TestEnrollment_NilBillingTermsSurvive(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	seedSection(t, s, "sec1", billing.WeeklySlot{Day: 1, Start: tod("10:00")})

	err := s.SaveEnrollment(context.Background(), billing.Enrollment{
		ID: "e1", StudentID: "s1", SectionID: "sec1",
		StartDate:      date(2025, time.March, 10),
		EndDate:        date(2025, time.September, 10),
		LessonsPerWeek: 1,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := s.GetEnrollment(context.Background(), "e1")
	require.NoError(t, err)
	assert.Nil(t, got.MonthlyAmount)
	assert.Zero(t, got.DueDay)
}

func TestEnrollment_ActiveQueries(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	seedSection(t, s, "sec1", billing.WeeklySlot{Day: 1, Start: tod("10:00")})
	seedSection(t, s, "sec2", billing.WeeklySlot{Day: 2, Start: tod("10:00")})
	seedEnrollment(t, s, "e1", "s1", "sec1")
	seedEnrollment(t, s, "e2", "s1", "sec2")

	active, err := s.ListActiveEnrollments(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	has, err := s.HasActiveEnrollment(context.Background(), "s1", "sec1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasActiveEnrollment(context.Background(), "s1", "sec3")
	require.NoError(t, err)
	assert.False(t, has)

	count, err := s.CountActiveBySection(context.Background(), "sec1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnrollment_Delete(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	seedSection(t, s, "sec1", billing.WeeklySlot{Day: 1, Start: tod("10:00")})
	seedEnrollment(t, s, "e1", "s1", "sec1")

	require.NoError(t, s.DeleteEnrollment(context.Background(), "e1"))

	got, err := s.GetEnrollment(context.Background(), "e1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// INVOICE TESTS
// =============================================================================

func invoice(id, studentID string, year int, month time.Month, due billing.Date) billing.Invoice {
	return billing.Invoice{
		ID:        billing.InvoiceID(id),
		StudentID: billing.StudentID(studentID),
		Year:      year,
		Month:     month,
		Amount:    money("150.00"),
		DueDate:   due,
		Status:    billing.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestInvoice_RoundTripPending(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	err := s.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17)))
	require.NoError(t, err)

	got, err := s.GetInvoice(context.Background(), "i1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Amount.Equal(money("150.00")))
	assert.Equal(t, date(2025, time.March, 17), got.DueDate)
	assert.Equal(t, billing.StatusPending, got.Status)
	assert.Nil(t, got.LateFee)
	assert.Nil(t, got.Interest)
	assert.Nil(t, got.PaidDate)
	assert.Empty(t, got.PaymentMethod)
	assert.Empty(t, got.EnrollmentID)
}

func TestInvoice_RoundTripPaidWithAccrual(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	seedSection(t, s, "sec1", billing.WeeklySlot{Day: 1, Start: tod("10:00")})
	seedEnrollment(t, s, "e1", "s1", "sec1")

	fee := money("15.00")
	interest := money("4.50")
	paid := date(2025, time.March, 20)
	inv := invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17))
	inv.EnrollmentID = "e1"
	inv.Status = billing.StatusPaid
	inv.LateFee = &fee
	inv.Interest = &interest
	inv.PaidDate = &paid
	inv.PaymentMethod = "pix"
	require.NoError(t, s.SaveInvoice(context.Background(), inv))

	got, err := s.GetInvoice(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, billing.EnrollmentID("e1"), got.EnrollmentID)
	assert.Equal(t, billing.StatusPaid, got.Status)
	require.NotNil(t, got.LateFee)
	assert.True(t, got.LateFee.Equal(fee))
	require.NotNil(t, got.Interest)
	assert.True(t, got.Interest.Equal(interest))
	require.NotNil(t, got.PaidDate)
	assert.Equal(t, paid, *got.PaidDate)
	assert.Equal(t, "pix", got.PaymentMethod)
}

func TestInvoice_DuplicateMonthRejected(t *testing.T) {
	// The partial unique indexes refuse a second invoice for the same
	// student and month, separately for ad hoc and enrollment-linked rows.
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17))))

	err := s.SaveInvoice(context.Background(), invoice("i2", "s1", 2025, time.March, date(2025, time.March, 17)))
	assert.ErrorIs(t, err, billing.ErrDuplicateInvoice)

	// A different month is fine.
	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i3", "s1", 2025, time.April, date(2025, time.April, 17))))
}

func TestInvoice_FindForMonth(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17))))

	got, err := s.FindInvoiceForMonth(context.Background(), "s1", 2025, time.March)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, billing.InvoiceID("i1"), got.ID)

	got, err = s.FindInvoiceForMonth(context.Background(), "s1", 2025, time.April)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvoice_ListPendingDueBefore(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.January, date(2025, time.January, 10))))
	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i2", "s1", 2025, time.February, date(2025, time.February, 10))))
	onDay := invoice("i3", "s1", 2025, time.March, date(2025, time.March, 10))
	require.NoError(t, s.SaveInvoice(context.Background(), onDay))
	late := invoice("i4", "s1", 2024, time.December, date(2024, time.December, 10))
	late.Status = billing.StatusLate
	require.NoError(t, s.SaveInvoice(context.Background(), late))

	due, err := s.ListPendingDueBefore(context.Background(), date(2025, time.March, 10))
	require.NoError(t, err)
	require.Len(t, due, 2, "strictly before the cutoff, PENDING only")
	assert.Equal(t, billing.InvoiceID("i1"), due[0].ID)
	assert.Equal(t, billing.InvoiceID("i2"), due[1].ID)
}

func TestInvoice_ListByStatus(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.January, date(2025, time.January, 10))))
	late := invoice("i2", "s1", 2025, time.February, date(2025, time.February, 10))
	late.Status = billing.StatusLate
	require.NoError(t, s.SaveInvoice(context.Background(), late))

	got, err := s.ListInvoicesByStatus(context.Background(), billing.StatusLate)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, billing.InvoiceID("i2"), got[0].ID)
}

func TestInvoice_Delete(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")
	require.NoError(t, s.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17))))

	require.NoError(t, s.DeleteInvoice(context.Background(), "i1"))

	got, err := s.GetInvoice(context.Background(), "i1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	err := s.WithTx(context.Background(), func(tx billing.Store) error {
		if err := tx.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17))); err != nil {
			return err
		}
		return tx.SaveInvoice(context.Background(), invoice("i2", "s1", 2025, time.April, date(2025, time.April, 17)))
	})
	require.NoError(t, err)

	got, err := s.ListInvoicesByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "s1")

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx billing.Store) error {
		if err := tx.SaveInvoice(context.Background(), invoice("i1", "s1", 2025, time.March, date(2025, time.March, 17))); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.ListInvoicesByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, got, "the invoice write rolled back with the failure")
}

// =============================================================================
// AUDIT AND RUN LOG TESTS
// =============================================================================

func TestAuditLog_RecordAndList(t *testing.T) {
	s := newTestStore(t)

	for i, action := range []billing.AuditAction{billing.AuditCreate, billing.AuditUpdate, billing.AuditDelete} {
		err := s.Record(context.Background(), billing.AuditEntry{
			ID:          string(rune('a' + i)),
			At:          time.Date(2025, time.March, 10+i, 9, 0, 0, 0, time.UTC),
			Actor:       "admin",
			Action:      action,
			Table:       "invoices",
			EntityID:    "i1",
			Description: "test entry",
		})
		require.NoError(t, err)
	}

	entries, err := s.ListAuditEntries(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, billing.AuditDelete, entries[0].Action)
	assert.Equal(t, billing.AuditUpdate, entries[1].Action)
}

func TestRunLog_SaveAndList(t *testing.T) {
	s := newTestStore(t)

	started := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	run := billing.AccrualRun{
		ID:            "run-1",
		StartedAt:     started,
		ReferenceDate: date(2025, time.March, 15),
		Status:        "running",
	}
	require.NoError(t, s.SaveAccrualRun(context.Background(), run))

	// Completion rewrites the same row.
	completed := started.Add(2 * time.Second)
	run.CompletedAt = &completed
	run.Transitioned = 3
	run.Recomputed = 7
	run.Status = "completed"
	require.NoError(t, s.SaveAccrualRun(context.Background(), run))

	runs, err := s.ListAccrualRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 3, runs[0].Transitioned)
	assert.Equal(t, 7, runs[0].Recomputed)
	assert.Equal(t, date(2025, time.March, 15), runs[0].ReferenceDate)
	require.NotNil(t, runs[0].CompletedAt)
	assert.True(t, runs[0].CompletedAt.Equal(completed))
}
