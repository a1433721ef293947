/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

CONVENTIONS:
  - Dates as "YYYY-MM-DD" strings, timestamps as RFC3339
  - Money as decimal strings ("150.00"), never floats
  - Times of day as "HH:MM"
  - Request structs carry validator tags; validation runs before any
    domain call

SEE ALSO:
  - handlers.go: where these are populated and validated
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/newmusic/tuition-engine/billing"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// CreateStudentRequest creates a student directory entry.
type CreateStudentRequest struct {
	Name   string `json:"name" validate:"required,min=1,max=200"`
	Active *bool  `json:"active"`
}

// SlotRequest is one weekly slot of a class section.
type SlotRequest struct {
	// Day of week, 1 = Monday .. 7 = Sunday.
	Day   int    `json:"day" validate:"required,min=1,max=7"`
	Start string `json:"start" validate:"required"`
	// End is optional; empty means one hour after start.
	End string `json:"end"`
}

// CreateSectionRequest creates a class section with its weekly slots.
type CreateSectionRequest struct {
	Instrument string        `json:"instrument" validate:"required,min=1,max=100"`
	Vocal      bool          `json:"vocal"`
	Instructor string        `json:"instructor" validate:"max=200"`
	Capacity   int           `json:"capacity" validate:"min=0"`
	Slots      []SlotRequest `json:"slots" validate:"dive"`
}

// CreateEnrollmentRequest enrolls a student in a section.
type CreateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`

	// Billing terms; both optional, invoices are only generated when the
	// amount is present and due_day is positive.
	MonthlyAmount *string `json:"monthly_amount"`
	DueDay        int     `json:"due_day" validate:"min=0,max=31"`

	// LessonsPerWeek overrides the slot-count inference when present.
	LessonsPerWeek *int  `json:"lessons_per_week" validate:"omitempty,min=1,max=2"`
	Active         *bool `json:"active"`
}

// UpdateEnrollmentRequest edits an enrollment.
type UpdateEnrollmentRequest struct {
	SectionID      string  `json:"section_id" validate:"required"`
	StartDate      string  `json:"start_date" validate:"required"`
	MonthlyAmount  *string `json:"monthly_amount"`
	DueDay         int     `json:"due_day" validate:"min=0,max=31"`
	LessonsPerWeek *int    `json:"lessons_per_week" validate:"omitempty,min=1,max=2"`
	Active         *bool   `json:"active"`
}

// ConflictCheckRequest asks whether candidate slots collide with a student's
// active enrollments.
type ConflictCheckRequest struct {
	StudentID string        `json:"student_id" validate:"required"`
	Slots     []SlotRequest `json:"slots" validate:"required,min=1,dive"`
	// ExcludeEnrollmentID leaves one enrollment out of the existing set,
	// for edit flows.
	ExcludeEnrollmentID string `json:"exclude_enrollment_id"`
}

// CreateInvoiceRequest creates a single ad hoc invoice.
type CreateInvoiceRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Year      int    `json:"year" validate:"required,min=2000,max=2100"`
	Month     int    `json:"month" validate:"required,min=1,max=12"`
	Amount    string `json:"amount" validate:"required"`
	DueDate   string `json:"due_date" validate:"required"`
}

// SettleInvoiceRequest marks an invoice paid.
type SettleInvoiceRequest struct {
	// PaidDate defaults to today when empty.
	PaidDate      string `json:"paid_date"`
	PaymentMethod string `json:"payment_method" validate:"max=100"`
}

// =============================================================================
// RESPONSE BODIES
// =============================================================================

// StudentDTO is the API representation of a student.
type StudentDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Active          bool   `json:"active"`
	PaymentsCurrent *bool  `json:"payments_current,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// SlotDTO is one weekly slot.
type SlotDTO struct {
	Day     int    `json:"day"`
	DayName string `json:"day_name"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// SectionDTO is the API representation of a class section.
type SectionDTO struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Vocal      bool      `json:"vocal"`
	Instructor string    `json:"instructor"`
	Capacity   int       `json:"capacity"`
	Enrolled   int       `json:"enrolled"`
	Slots      []SlotDTO `json:"slots"`
}

// EnrollmentDTO is the API representation of an enrollment.
type EnrollmentDTO struct {
	ID             string  `json:"id"`
	StudentID      string  `json:"student_id"`
	SectionID      string  `json:"section_id"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	LessonsPerWeek int     `json:"lessons_per_week"`
	MonthlyAmount  *string `json:"monthly_amount,omitempty"`
	DueDay         int     `json:"due_day"`
	Active         bool    `json:"active"`
	CreatedAt      string  `json:"created_at"`
}

// InvoiceDTO is the API representation of an invoice.
type InvoiceDTO struct {
	ID            string  `json:"id"`
	StudentID     string  `json:"student_id"`
	EnrollmentID  string  `json:"enrollment_id,omitempty"`
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	Amount        string  `json:"amount"`
	LateFee       *string `json:"late_fee,omitempty"`
	Interest      *string `json:"interest,omitempty"`
	TotalDue      string  `json:"total_due"`
	DueDate       string  `json:"due_date"`
	PaidDate      *string `json:"paid_date,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Status        string  `json:"status"`
}

// ConflictCheckResponse reports the outcome of a conflict check.
type ConflictCheckResponse struct {
	Conflict bool   `json:"conflict"`
	Detail   string `json:"detail,omitempty"`
}

// AccrualRunDTO is one recorded execution of the daily accrual job.
type AccrualRunDTO struct {
	ID            string `json:"id"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
	ReferenceDate string `json:"reference_date"`
	Transitioned  int    `json:"transitioned"`
	Recomputed    int    `json:"recomputed"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// AuditEntryDTO is one audit log record.
type AuditEntryDTO struct {
	ID          string `json:"id"`
	At          string `json:"at"`
	Actor       string `json:"actor,omitempty"`
	Action      string `json:"action"`
	Table       string `json:"table"`
	EntityID    string `json:"entity_id"`
	Description string `json:"description"`
	Content     string `json:"content,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStudentDTO(s billing.Student) StudentDTO {
	return StudentDTO{
		ID:        string(s.ID),
		Name:      s.Name,
		Active:    s.Active,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

func toSectionDTO(sec billing.ClassSection, enrolled int) SectionDTO {
	slots := make([]SlotDTO, len(sec.Slots))
	for i, slot := range sec.Slots {
		slots[i] = SlotDTO{
			Day:     slot.Day,
			DayName: slot.DayName(),
			Start:   slot.Start.String(),
			End:     slot.EndOrDefault().String(),
		}
	}
	return SectionDTO{
		ID:         string(sec.ID),
		Instrument: sec.Instrument,
		Vocal:      sec.Vocal,
		Instructor: sec.Instructor,
		Capacity:   sec.Capacity,
		Enrolled:   enrolled,
		Slots:      slots,
	}
}

func toEnrollmentDTO(e billing.Enrollment) EnrollmentDTO {
	dto := EnrollmentDTO{
		ID:             string(e.ID),
		StudentID:      string(e.StudentID),
		SectionID:      string(e.SectionID),
		StartDate:      e.StartDate.String(),
		EndDate:        e.EndDate.String(),
		LessonsPerWeek: e.LessonsPerWeek,
		DueDay:         e.DueDay,
		Active:         e.Active,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
	if e.MonthlyAmount != nil {
		s := e.MonthlyAmount.StringFixed(2)
		dto.MonthlyAmount = &s
	}
	return dto
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:            string(inv.ID),
		StudentID:     string(inv.StudentID),
		EnrollmentID:  string(inv.EnrollmentID),
		Year:          inv.Year,
		Month:         int(inv.Month),
		Amount:        inv.Amount.StringFixed(2),
		TotalDue:      inv.TotalDue().StringFixed(2),
		DueDate:       inv.DueDate.String(),
		PaymentMethod: inv.PaymentMethod,
		Status:        string(inv.Status),
	}
	dto.LateFee = decimalString(inv.LateFee)
	dto.Interest = decimalString(inv.Interest)
	if inv.PaidDate != nil {
		s := inv.PaidDate.String()
		dto.PaidDate = &s
	}
	return dto
}

func toInvoiceDTOs(invs []billing.Invoice) []InvoiceDTO {
	dtos := make([]InvoiceDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvoiceDTO(inv)
	}
	return dtos
}

func toAccrualRunDTO(run billing.AccrualRun) AccrualRunDTO {
	dto := AccrualRunDTO{
		ID:            run.ID,
		StartedAt:     run.StartedAt.Format(time.RFC3339),
		ReferenceDate: run.ReferenceDate.String(),
		Transitioned:  run.Transitioned,
		Recomputed:    run.Recomputed,
		Status:        run.Status,
		Error:         run.Error,
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

// parseSlots converts slot requests to domain slots. Returns the first
// parse failure.
func parseSlots(reqs []SlotRequest) ([]billing.WeeklySlot, error) {
	slots := make([]billing.WeeklySlot, 0, len(reqs))
	for _, req := range reqs {
		start, err := billing.ParseTimeOfDay(req.Start)
		if err != nil {
			return nil, err
		}
		var end billing.TimeOfDay
		if req.End != "" {
			end, err = billing.ParseTimeOfDay(req.End)
			if err != nil {
				return nil, err
			}
		}
		slots = append(slots, billing.WeeklySlot{Day: req.Day, Start: start, End: end})
	}
	return slots, nil
}
