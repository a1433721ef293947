/*
handlers.go - HTTP API handlers for the tuition billing system

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Students:
    GET    /api/students                 List all students
    POST   /api/students                 Create student
    GET    /api/students/{id}            Get student (with payments-current flag)
    GET    /api/students/{id}/invoices   Student's invoice history
    GET    /api/students/{id}/enrollments Active enrollments

  Sections:
    GET    /api/sections                 List sections with occupancy
    POST   /api/sections                 Create section with weekly slots
    GET    /api/sections/{id}            Get section

  Enrollments:
    POST   /api/enrollments              Enroll (validates conflicts, generates invoices)
    GET    /api/enrollments/{id}         Get enrollment
    PUT    /api/enrollments/{id}         Update enrollment
    DELETE /api/enrollments/{id}         Delete enrollment (cascades invoices)
    GET    /api/enrollments/{id}/invoices Generated invoices
    POST   /api/enrollments/check-conflict Dry-run slot conflict check

  Invoices:
    GET    /api/invoices?status=LATE     List by status
    POST   /api/invoices                 Create ad hoc invoice
    GET    /api/invoices/{id}            Get invoice
    POST   /api/invoices/{id}/settle     Mark paid
    DELETE /api/invoices/{id}            Delete (refused when PAID)

  Admin:
    POST   /api/admin/accrual/run        Run the daily accrual now
    GET    /api/admin/accrual/runs       Past accrual runs
    GET    /api/admin/audit              Audit log
    GET    /api/admin/invoices/summary   Open invoice counts by status

  Calendar:
    GET    /api/calendar/holidays?year=  National holidays of a year
    GET    /api/calendar/next-business-day?date=  Due-date resolution

REQUEST FLOW:
  1. Decode JSON body
  2. Validate (go-playground/validator struct tags)
  3. Call domain logic
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input, failed validation tags
  - 404: Record not found
  - 409: Business rule violations (duplicate, conflict, paid guard)
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; the
  actor is taken from the X-Actor header when present.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newmusic/tuition-engine/billing"
	"github.com/newmusic/tuition-engine/tuition"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AuditReader is satisfied by stores that keep the audit history.
type AuditReader interface {
	ListAuditEntries(ctx context.Context, limit int) ([]billing.AuditEntry, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   billing.TxStore
	Service *tuition.Service

	validate *validator.Validate
}

// NewHandler creates a new handler over the given store.
func NewHandler(store billing.TxStore) *Handler {
	return &Handler{
		Store:    store,
		Service:  tuition.NewService(store),
		validate: validator.New(),
	}
}

// decode parses the JSON body into v and runs struct-tag validation.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

// actor reads the acting user from the request, for the audit trail.
func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent creates a student directory entry.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	student := billing.Student{
		ID:        billing.StudentID(newID()),
		Name:      req.Name,
		Active:    active,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveStudent(r.Context(), student); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(student))
}

// GetStudent returns one student with the payments-current flag.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := billing.StudentID(chi.URLParam(r, "id"))
	student, err := h.Store.GetStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get student", err)
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "Student not found", nil)
		return
	}

	dto := toStudentDTO(*student)
	if current, err := h.Service.StudentPaymentsCurrent(r.Context(), id); err == nil {
		dto.PaymentsCurrent = &current
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetStudentInvoices returns the student's invoice history.
func (h *Handler) GetStudentInvoices(w http.ResponseWriter, r *http.Request) {
	id := billing.StudentID(chi.URLParam(r, "id"))
	invoices, err := h.Store.ListInvoicesByStudent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// GetStudentEnrollments returns the student's active enrollments.
func (h *Handler) GetStudentEnrollments(w http.ResponseWriter, r *http.Request) {
	id := billing.StudentID(chi.URLParam(r, "id"))
	enrollments, err := h.Store.ListActiveEnrollments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list enrollments", err)
		return
	}

	dtos := make([]EnrollmentDTO, len(enrollments))
	for i, e := range enrollments {
		dtos[i] = toEnrollmentDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SECTION HANDLERS
// =============================================================================

// ListSections returns all class sections with current occupancy.
func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.Store.ListSections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sections", err)
		return
	}

	dtos := make([]SectionDTO, len(sections))
	for i, sec := range sections {
		enrolled, err := h.Store.CountActiveBySection(r.Context(), sec.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to count enrollments", err)
			return
		}
		dtos[i] = toSectionDTO(sec, enrolled)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSection creates a class section with its weekly slots.
func (h *Handler) CreateSection(w http.ResponseWriter, r *http.Request) {
	var req CreateSectionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	slots, err := parseSlots(req.Slots)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot time", err)
		return
	}

	section := billing.ClassSection{
		ID:         billing.SectionID(newID()),
		Instrument: req.Instrument,
		Vocal:      req.Vocal,
		Instructor: req.Instructor,
		Capacity:   req.Capacity,
		Slots:      slots,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveSection(r.Context(), section); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create section", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSectionDTO(section, 0))
}

// GetSection returns one class section.
func (h *Handler) GetSection(w http.ResponseWriter, r *http.Request) {
	id := billing.SectionID(chi.URLParam(r, "id"))
	section, err := h.Store.GetSection(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get section", err)
		return
	}
	if section == nil {
		writeError(w, http.StatusNotFound, "Section not found", nil)
		return
	}

	enrolled, err := h.Store.CountActiveBySection(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count enrollments", err)
		return
	}
	writeJSON(w, http.StatusOK, toSectionDTO(*section, enrolled))
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

// CreateEnrollment enrolls a student, validating schedule conflicts and
// generating the invoice schedule when billing terms are present.
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startDate, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	amount, err := parseOptionalAmount(req.MonthlyAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_amount", err)
		return
	}

	enrollment, err := h.Service.CreateEnrollment(r.Context(), tuition.EnrollmentInput{
		StudentID:      billing.StudentID(req.StudentID),
		SectionID:      billing.SectionID(req.SectionID),
		StartDate:      startDate,
		MonthlyAmount:  amount,
		DueDay:         req.DueDay,
		LessonsPerWeek: req.LessonsPerWeek,
		Active:         req.Active,
		Actor:          actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to create enrollment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentDTO(*enrollment))
}

// GetEnrollment returns one enrollment.
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	id := billing.EnrollmentID(chi.URLParam(r, "id"))
	enrollment, err := h.Store.GetEnrollment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get enrollment", err)
		return
	}
	if enrollment == nil {
		writeError(w, http.StatusNotFound, "Enrollment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*enrollment))
}

// UpdateEnrollment edits an enrollment.
func (h *Handler) UpdateEnrollment(w http.ResponseWriter, r *http.Request) {
	id := billing.EnrollmentID(chi.URLParam(r, "id"))

	var req UpdateEnrollmentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startDate, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	amount, err := parseOptionalAmount(req.MonthlyAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_amount", err)
		return
	}

	enrollment, err := h.Service.UpdateEnrollment(r.Context(), id, tuition.UpdateEnrollmentInput{
		SectionID:      billing.SectionID(req.SectionID),
		StartDate:      startDate,
		MonthlyAmount:  amount,
		DueDay:         req.DueDay,
		LessonsPerWeek: req.LessonsPerWeek,
		Active:         req.Active,
		Actor:          actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to update enrollment", err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*enrollment))
}

// DeleteEnrollment removes an enrollment and its non-paid invoices.
func (h *Handler) DeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	id := billing.EnrollmentID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteEnrollment(r.Context(), id, actor(r)); err != nil {
		writeDomainError(w, "Failed to delete enrollment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEnrollmentInvoices returns the invoices generated by an enrollment.
func (h *Handler) GetEnrollmentInvoices(w http.ResponseWriter, r *http.Request) {
	id := billing.EnrollmentID(chi.URLParam(r, "id"))
	invoices, err := h.Store.ListInvoicesByEnrollment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// CheckConflict dry-runs the slot conflict validation against a student's
// active enrollments.
func (h *Handler) CheckConflict(w http.ResponseWriter, r *http.Request) {
	var req ConflictCheckRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	slots, err := parseSlots(req.Slots)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot time", err)
		return
	}

	err = h.Service.ValidateNoScheduleConflict(r.Context(), billing.StudentID(req.StudentID),
		slots, billing.EnrollmentID(req.ExcludeEnrollmentID))
	if err != nil {
		if errors.Is(err, billing.ErrScheduleConflict) {
			writeJSON(w, http.StatusOK, ConflictCheckResponse{Conflict: true, Detail: err.Error()})
			return
		}
		writeDomainError(w, "Failed to check conflict", err)
		return
	}
	writeJSON(w, http.StatusOK, ConflictCheckResponse{Conflict: false})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices filtered by the status query parameter.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	status := billing.InvoiceStatus(r.URL.Query().Get("status"))
	if status == "" {
		writeError(w, http.StatusBadRequest, "Missing status query parameter", nil)
		return
	}
	invoices, err := h.Store.ListInvoicesByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// CreateInvoice creates one ad hoc invoice.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	dueDate, err := billing.ParseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date", err)
		return
	}

	invoice, err := h.Service.CreateInvoice(r.Context(), tuition.CreateInvoiceInput{
		StudentID: billing.StudentID(req.StudentID),
		Year:      req.Year,
		Month:     time.Month(req.Month),
		Amount:    amount,
		DueDate:   dueDate,
		Actor:     actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*invoice))
}

// GetInvoice returns one invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	invoice, err := h.Store.GetInvoice(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if invoice == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*invoice))
}

// SettleInvoice marks an invoice paid.
func (h *Handler) SettleInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req SettleInvoiceRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var paidDate *billing.Date
	if req.PaidDate != "" {
		d, err := billing.ParseDate(req.PaidDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_date", err)
			return
		}
		paidDate = &d
	}

	invoice, err := h.Service.SettleInvoice(r.Context(), id, paidDate, req.PaymentMethod, actor(r))
	if err != nil {
		writeDomainError(w, "Failed to settle invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*invoice))
}

// DeleteInvoice removes a non-paid invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))
	if err := h.Service.DeleteInvoice(r.Context(), id, actor(r)); err != nil {
		writeDomainError(w, "Failed to delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAccrual triggers the daily accrual job immediately.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.RunDailyAccrual(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Accrual run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"transitioned": result.Transitioned,
		"recomputed":   result.Recomputed,
	})
}

// ListAccrualRuns returns recent accrual job executions.
func (h *Handler) ListAccrualRuns(w http.ResponseWriter, r *http.Request) {
	if h.Service.RunLog == nil {
		writeJSON(w, http.StatusOK, []AccrualRunDTO{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Service.RunLog.ListAccrualRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accrual runs", err)
		return
	}

	dtos := make([]AccrualRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAccrualRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// InvoiceSummary reports how many invoices are open, split by status.
func (h *Handler) InvoiceSummary(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Store.ListInvoicesByStatus(r.Context(), billing.StatusPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count invoices", err)
		return
	}
	late, err := h.Store.ListInvoicesByStatus(r.Context(), billing.StatusLate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"pending": len(pending),
		"late":    len(late),
		"open":    len(pending) + len(late),
	})
}

// ListAudit returns recent audit log entries. Stores without audit history
// report an empty list.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.Store.(AuditReader)
	if !ok {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := reader.ListAuditEntries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit entries", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, entry := range entries {
		dtos[i] = AuditEntryDTO{
			ID:          entry.ID,
			At:          entry.At.Format(time.RFC3339),
			Actor:       entry.Actor,
			Action:      string(entry.Action),
			Table:       entry.Table,
			EntityID:    entry.EntityID,
			Description: entry.Description,
			Content:     entry.Content,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListHolidays returns the national holidays of a year.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1900 || year > 2200 {
		writeError(w, http.StatusBadRequest, "Invalid or missing year query parameter", err)
		return
	}

	holidays := billing.HolidaysInYear(year)
	dtos := make([]string, len(holidays))
	for i, d := range holidays {
		dtos[i] = d.String()
	}
	writeJSON(w, http.StatusOK, dtos)
}

// NextBusinessDay resolves a date to the next business day (itself when it
// already is one).
func (h *Handler) NextBusinessDay(w http.ResponseWriter, r *http.Request) {
	d, err := billing.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing date query parameter", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"date":              d.String(),
		"next_business_day": billing.NextBusinessDay(d).String(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case billing.IsValidation(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func newID() string {
	return uuid.NewString()
}

func parseOptionalAmount(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
