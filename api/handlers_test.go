package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmusic/tuition-engine/api"
	"github.com/newmusic/tuition-engine/billing"
	"github.com/newmusic/tuition-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestServer wires the full router over an in-memory store with the clock
// pinned at 2025-03-15 12:00 Recife time.
func newTestServer(t *testing.T) (http.Handler, *store.Memory) {
	mem := store.NewMemory()
	h := api.NewHandler(mem)

	loc, err := time.LoadLocation("America/Recife")
	require.NoError(t, err)
	h.Service.Schedule = billing.JobSchedule{Location: loc, RunHour: 9}
	h.Service.Clock = billing.FixedClock{
		Instant: time.Date(2025, time.March, 15, 12, 0, 0, 0, loc),
	}
	return api.NewRouter(h), mem
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func createStudent(t *testing.T, router http.Handler, name string) api.StudentDTO {
	rec := doJSON(t, router, http.MethodPost, "/api/students", map[string]any{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto api.StudentDTO
	decodeBody(t, rec, &dto)
	return dto
}

func createSection(t *testing.T, router http.Handler, instrument string, vocal bool, slots ...map[string]any) api.SectionDTO {
	rec := doJSON(t, router, http.MethodPost, "/api/sections", map[string]any{
		"instrument": instrument,
		"vocal":      vocal,
		"instructor": "Instructor",
		"slots":      slots,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto api.SectionDTO
	decodeBody(t, rec, &dto)
	return dto
}

// =============================================================================
// STUDENT ENDPOINT TESTS
// =============================================================================

func TestStudentEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	created := createStudent(t, router, "Ana")
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)

	rec := doJSON(t, router, http.MethodGet, "/api/students", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []api.StudentDTO
	decodeBody(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Ana", list[0].Name)

	rec = doJSON(t, router, http.MethodGet, "/api/students/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got api.StudentDTO
	decodeBody(t, rec, &got)
	require.NotNil(t, got.PaymentsCurrent)
	assert.False(t, *got.PaymentsCurrent, "no invoice for the current month")
}

func TestGetStudent_NotFound(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/students/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateStudent_ValidationFailure(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/students", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.Error)
}

// =============================================================================
// SECTION ENDPOINT TESTS
// =============================================================================

func TestCreateSection_DefaultSlotEnd(t *testing.T) {
	router, _ := newTestServer(t)

	sec := createSection(t, router, "piano", false,
		map[string]any{"day": 1, "start": "10:00"},
		map[string]any{"day": 3, "start": "14:00", "end": "15:30"},
	)
	require.Len(t, sec.Slots, 2)
	assert.Equal(t, "Monday", sec.Slots[0].DayName)
	assert.Equal(t, "11:00", sec.Slots[0].End, "one hour default")
	assert.Equal(t, "15:30", sec.Slots[1].End)
	assert.Zero(t, sec.Enrolled)
}

func TestCreateSection_BadSlotTime(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sections", map[string]any{
		"instrument": "piano",
		"slots":      []map[string]any{{"day": 1, "start": "25:00"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ENROLLMENT ENDPOINT TESTS
// =============================================================================

func TestEnrollmentFlow(t *testing.T) {
	// GIVEN: a student and a vocal section meeting twice a week
	// WHEN: enrolling with billing terms via the API
	// THEN: the derived end date and generated invoices come back
	router, _ := newTestServer(t)
	student := createStudent(t, router, "Ana")
	section := createSection(t, router, "vocal", true,
		map[string]any{"day": 1, "start": "10:00"},
		map[string]any{"day": 3, "start": "10:00"},
	)

	rec := doJSON(t, router, http.MethodPost, "/api/enrollments", map[string]any{
		"student_id":     student.ID,
		"section_id":     section.ID,
		"start_date":     "2025-03-10",
		"monthly_amount": "150.00",
		"due_day":        15,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var enrollment api.EnrollmentDTO
	decodeBody(t, rec, &enrollment)
	assert.Equal(t, 2, enrollment.LessonsPerWeek)
	assert.Equal(t, "2025-06-10", enrollment.EndDate)
	require.NotNil(t, enrollment.MonthlyAmount)
	assert.Equal(t, "150.00", *enrollment.MonthlyAmount)

	rec = doJSON(t, router, http.MethodGet, "/api/enrollments/"+enrollment.ID+"/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []api.InvoiceDTO
	decodeBody(t, rec, &invoices)
	require.Len(t, invoices, 3)
	assert.Equal(t, 3, invoices[0].Month)
	assert.Equal(t, "PENDING", invoices[2].Status)
}

func TestCreateEnrollment_ConflictIs409(t *testing.T) {
	router, _ := newTestServer(t)
	student := createStudent(t, router, "Ana")
	first := createSection(t, router, "vocal", true, map[string]any{"day": 1, "start": "10:00"})
	second := createSection(t, router, "piano", false, map[string]any{"day": 1, "start": "10:30"})

	rec := doJSON(t, router, http.MethodPost, "/api/enrollments", map[string]any{
		"student_id": student.ID, "section_id": first.ID, "start_date": "2025-03-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/enrollments", map[string]any{
		"student_id": student.ID, "section_id": second.ID, "start_date": "2025-03-10",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckConflict(t *testing.T) {
	router, _ := newTestServer(t)
	student := createStudent(t, router, "Ana")
	section := createSection(t, router, "vocal", true, map[string]any{"day": 1, "start": "10:00"})

	rec := doJSON(t, router, http.MethodPost, "/api/enrollments", map[string]any{
		"student_id": student.ID, "section_id": section.ID, "start_date": "2025-03-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/enrollments/check-conflict", map[string]any{
		"student_id": student.ID,
		"slots":      []map[string]any{{"day": 1, "start": "10:30"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.ConflictCheckResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Conflict)
	assert.NotEmpty(t, resp.Detail)

	rec = doJSON(t, router, http.MethodPost, "/api/enrollments/check-conflict", map[string]any{
		"student_id": student.ID,
		"slots":      []map[string]any{{"day": 2, "start": "10:30"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.False(t, resp.Conflict)
}

// =============================================================================
// INVOICE ENDPOINT TESTS
// =============================================================================

func TestInvoiceEndpoints(t *testing.T) {
	router, _ := newTestServer(t)
	student := createStudent(t, router, "Ana")

	rec := doJSON(t, router, http.MethodPost, "/api/invoices", map[string]any{
		"student_id": student.ID,
		"year":       2025,
		"month":      6,
		"amount":     "200.00",
		"due_date":   "2025-06-14",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var invoice api.InvoiceDTO
	decodeBody(t, rec, &invoice)
	assert.Equal(t, "2025-06-16", invoice.DueDate, "Saturday rolls to Monday")
	assert.Equal(t, "PENDING", invoice.Status)
	assert.Equal(t, "200.00", invoice.TotalDue)

	rec = doJSON(t, router, http.MethodPost, "/api/invoices/"+invoice.ID+"/settle", map[string]any{
		"payment_method": "pix",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &invoice)
	assert.Equal(t, "PAID", invoice.Status)
	require.NotNil(t, invoice.PaidDate)
	assert.Equal(t, "2025-03-15", *invoice.PaidDate, "defaults to today")

	// Settling twice is a business rule violation.
	rec = doJSON(t, router, http.MethodPost, "/api/invoices/"+invoice.ID+"/settle", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Paid invoices cannot be deleted.
	rec = doJSON(t, router, http.MethodDelete, "/api/invoices/"+invoice.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListInvoices_RequiresStatus(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/invoices", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/invoices?status=LATE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []api.InvoiceDTO
	decodeBody(t, rec, &list)
	assert.Empty(t, list)
}

// =============================================================================
// ADMIN ENDPOINT TESTS
// =============================================================================

func TestAdminAccrualRun(t *testing.T) {
	router, mem := newTestServer(t)
	student := createStudent(t, router, "Ana")

	amount := money("100.00")
	err := mem.SaveInvoice(context.Background(), billing.Invoice{
		ID:        "inv-1",
		StudentID: billing.StudentID(student.ID),
		Year:      2025,
		Month:     time.March,
		Amount:    amount,
		DueDate:   billing.NewDate(2025, time.March, 5),
		Status:    billing.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/admin/accrual/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var counts map[string]int
	decodeBody(t, rec, &counts)
	assert.Equal(t, 1, counts["transitioned"])
	assert.Equal(t, 1, counts["recomputed"])

	rec = doJSON(t, router, http.MethodGet, "/api/admin/accrual/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []api.AccrualRunDTO
	decodeBody(t, rec, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/invoices/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary map[string]int
	decodeBody(t, rec, &summary)
	assert.Equal(t, 1, summary["late"])
	assert.Zero(t, summary["pending"])
	assert.Equal(t, 1, summary["open"])
}

func TestAdminAudit(t *testing.T) {
	router, _ := newTestServer(t)
	student := createStudent(t, router, "Ana")

	rec := doJSON(t, router, http.MethodPost, "/api/invoices", map[string]any{
		"student_id": student.ID,
		"year":       2025,
		"month":      6,
		"amount":     "200.00",
		"due_date":   "2025-06-16",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []api.AuditEntryDTO
	decodeBody(t, rec, &entries)
	require.NotEmpty(t, entries)
	assert.Equal(t, "admin", entries[0].Actor, "actor comes from the X-Actor header")
	assert.Equal(t, "invoices", entries[0].Table)
}

// =============================================================================
// CALENDAR ENDPOINT TESTS
// =============================================================================

func TestCalendarEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/calendar/holidays?year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var holidays []string
	decodeBody(t, rec, &holidays)
	assert.Len(t, holidays, 12)
	assert.Contains(t, holidays, "2025-04-18", "Good Friday")

	rec = doJSON(t, router, http.MethodGet, "/api/calendar/next-business-day?date=2025-01-04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "2025-01-06", resp["next_business_day"])

	rec = doJSON(t, router, http.MethodGet, "/api/calendar/holidays", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
