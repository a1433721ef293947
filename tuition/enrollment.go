/*
enrollment.go - Enrollment lifecycle with conflict validation

PURPOSE:
  Create, update and delete enrollments. Creation checks the student is
  active, the section has room, the student isn't already enrolled in it,
  and the candidate weekly slots don't collide with any other active
  enrollment - all inside one store transaction, then derives the course
  end date and generates the invoice schedule.

RULES CARRIED FROM THE BILLING MODEL:
  - End date is derived (duration table), never user-supplied.
  - Updates re-validate conflicts when the section changes, excluding the
    enrollment being edited from the existing set.
  - The end date cannot move before a month that already has a PAID invoice.
  - Deactivation is refused while PAID invoices exist in the period.
  - Deletion cascades to the enrollment's invoices (and ad hoc invoices of
    the same student inside the period) but is refused if any of them is
    PAID.
*/
package tuition

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newmusic/tuition-engine/billing"
)

// EnrollmentInput carries the user-supplied enrollment fields.
type EnrollmentInput struct {
	StudentID billing.StudentID
	SectionID billing.SectionID
	StartDate billing.Date

	// MonthlyAmount and DueDay may be absent; then no invoices are created.
	MonthlyAmount *decimal.Decimal
	DueDay        int

	// LessonsPerWeek nil means "infer from the section's slot count".
	LessonsPerWeek *int

	// Active nil defaults to true on create.
	Active *bool

	Actor string
}

// CreateEnrollment enrolls a student in a class section and materializes the
// invoice schedule when billing terms are present.
func (s *Service) CreateEnrollment(ctx context.Context, in EnrollmentInput) (*billing.Enrollment, error) {
	var (
		enrollment billing.Enrollment
		section    *billing.ClassSection
		student    *billing.Student
	)

	err := s.Store.WithTx(ctx, func(tx billing.Store) error {
		var err error
		student, err = tx.GetStudent(ctx, in.StudentID)
		if err != nil {
			return err
		}
		if student == nil {
			return billing.ErrStudentNotFound
		}
		if !student.Active {
			return billing.ErrStudentInactive
		}

		section, err = tx.GetSection(ctx, in.SectionID)
		if err != nil {
			return err
		}
		if section == nil {
			return billing.ErrSectionNotFound
		}

		enrolled, err := tx.HasActiveEnrollment(ctx, in.StudentID, in.SectionID)
		if err != nil {
			return err
		}
		if enrolled {
			return billing.ErrDuplicateEnrollment
		}

		if section.Capacity > 0 {
			count, err := tx.CountActiveBySection(ctx, in.SectionID)
			if err != nil {
				return err
			}
			if count >= section.Capacity {
				return billing.ErrSectionFull
			}
		}

		if err := s.validateNoConflict(ctx, tx, in.StudentID, section.Slots, ""); err != nil {
			return err
		}

		lessons := billing.InferLessonsPerWeek(section.Slots)
		if in.LessonsPerWeek != nil {
			lessons = *in.LessonsPerWeek
		}
		endDate := billing.CourseEndDate(in.StartDate, lessons, section.Vocal)

		active := true
		if in.Active != nil {
			active = *in.Active
		}

		enrollment = billing.Enrollment{
			ID:             billing.EnrollmentID(uuid.NewString()),
			StudentID:      in.StudentID,
			SectionID:      in.SectionID,
			StartDate:      in.StartDate,
			EndDate:        endDate,
			LessonsPerWeek: lessons,
			MonthlyAmount:  in.MonthlyAmount,
			DueDay:         in.DueDay,
			Active:         active,
			CreatedAt:      s.Clock.Now().UTC(),
		}
		if err := tx.SaveEnrollment(ctx, enrollment); err != nil {
			return err
		}

		if in.MonthlyAmount != nil && in.DueDay > 0 {
			invoices := billing.GenerateSchedule(billing.ScheduleInput{
				StudentID:      in.StudentID,
				EnrollmentID:   enrollment.ID,
				StartDate:      in.StartDate,
				EndDate:        &endDate,
				MonthlyAmount:  in.MonthlyAmount,
				DueDay:         in.DueDay,
				LessonsPerWeek: &lessons,
				Today:          s.today(),
			})
			if err := tx.SaveInvoices(ctx, invoices); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, in.Actor, billing.AuditCreate, "enrollments", string(enrollment.ID),
		fmt.Sprintf("Enrolled student %s in section %s", student.Name, section.Instrument),
		fmt.Sprintf("Student: %s, Section: %s - %s, Start: %s, End: %s",
			student.Name, section.Instrument, section.Instructor, enrollment.StartDate, enrollment.EndDate))
	return &enrollment, nil
}

// UpdateEnrollmentInput carries updatable enrollment fields.
type UpdateEnrollmentInput struct {
	SectionID      billing.SectionID
	StartDate      billing.Date
	MonthlyAmount  *decimal.Decimal
	DueDay         int
	LessonsPerWeek *int
	Active         *bool
	Actor          string
}

// UpdateEnrollment edits an enrollment. A section change re-validates
// capacity and schedule conflicts (excluding this enrollment from the
// existing set); the derived end date is recomputed and checked against
// already-paid months.
func (s *Service) UpdateEnrollment(ctx context.Context, id billing.EnrollmentID, in UpdateEnrollmentInput) (*billing.Enrollment, error) {
	var updated billing.Enrollment

	err := s.Store.WithTx(ctx, func(tx billing.Store) error {
		enrollment, err := tx.GetEnrollment(ctx, id)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return billing.ErrEnrollmentNotFound
		}

		section, err := tx.GetSection(ctx, enrollment.SectionID)
		if err != nil {
			return err
		}
		if in.SectionID != "" && in.SectionID != enrollment.SectionID {
			newSection, err := tx.GetSection(ctx, in.SectionID)
			if err != nil {
				return err
			}
			if newSection == nil {
				return billing.ErrSectionNotFound
			}
			if newSection.Capacity > 0 {
				count, err := tx.CountActiveBySection(ctx, in.SectionID)
				if err != nil {
					return err
				}
				if count >= newSection.Capacity {
					return billing.ErrSectionFull
				}
			}
			if err := s.validateNoConflict(ctx, tx, enrollment.StudentID, newSection.Slots, id); err != nil {
				return err
			}
			section = newSection
			enrollment.SectionID = in.SectionID
		}
		if section == nil {
			return billing.ErrSectionNotFound
		}

		lessons := enrollment.LessonsPerWeek
		if in.LessonsPerWeek != nil {
			lessons = *in.LessonsPerWeek
		}
		endDate := billing.CourseEndDate(in.StartDate, lessons, section.Vocal)

		if err := s.checkNoPaidAfter(ctx, tx, enrollment.StudentID, endDate); err != nil {
			return err
		}

		if in.Active != nil {
			if !*in.Active {
				paid, err := s.hasPaidInPeriod(ctx, tx, enrollment.StudentID, enrollment.StartDate, enrollment.EndDate)
				if err != nil {
					return err
				}
				if paid {
					return billing.ErrPaidInvoicesInPeriod
				}
			}
			enrollment.Active = *in.Active
		}

		enrollment.StartDate = in.StartDate
		enrollment.EndDate = endDate
		enrollment.LessonsPerWeek = lessons
		enrollment.MonthlyAmount = in.MonthlyAmount
		enrollment.DueDay = in.DueDay

		updated = *enrollment
		return tx.SaveEnrollment(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, in.Actor, billing.AuditUpdate, "enrollments", string(id),
		fmt.Sprintf("Updated enrollment %s", id),
		fmt.Sprintf("Section: %s, Start: %s, End: %s", updated.SectionID, updated.StartDate, updated.EndDate))
	return &updated, nil
}

// DeleteEnrollment removes an enrollment and cascades to its invoices.
// Refused while any invoice in the enrollment's billing period is PAID.
func (s *Service) DeleteEnrollment(ctx context.Context, id billing.EnrollmentID, actor string) error {
	var removed billing.Enrollment

	err := s.Store.WithTx(ctx, func(tx billing.Store) error {
		enrollment, err := tx.GetEnrollment(ctx, id)
		if err != nil {
			return err
		}
		if enrollment == nil {
			return billing.ErrEnrollmentNotFound
		}

		linked, err := tx.ListInvoicesByEnrollment(ctx, id)
		if err != nil {
			return err
		}
		for _, inv := range linked {
			if inv.Status == billing.StatusPaid {
				return billing.ErrPaidInvoicesInPeriod
			}
		}

		// Ad hoc invoices of the same student inside the enrollment period
		// are part of the cascade too.
		adHoc, err := s.adHocInvoicesInPeriod(ctx, tx, enrollment.StudentID, enrollment.StartDate, enrollment.EndDate)
		if err != nil {
			return err
		}
		for _, inv := range adHoc {
			if inv.Status == billing.StatusPaid {
				return billing.ErrPaidInvoicesInPeriod
			}
		}

		for _, inv := range append(linked, adHoc...) {
			if err := tx.DeleteInvoice(ctx, inv.ID); err != nil {
				return err
			}
		}

		removed = *enrollment
		return tx.DeleteEnrollment(ctx, id)
	})
	if err != nil {
		return err
	}

	s.audit(ctx, actor, billing.AuditDelete, "enrollments", string(id),
		fmt.Sprintf("Deleted enrollment of student %s", removed.StudentID),
		fmt.Sprintf("Student: %s, Section: %s", removed.StudentID, removed.SectionID))
	return nil
}

// =============================================================================
// CONFLICT VALIDATION
// =============================================================================

// ValidateNoScheduleConflict checks a candidate slot set against the
// student's active enrollments. excludeEnrollmentID (may be empty) removes
// the enrollment being edited from the existing set.
func (s *Service) ValidateNoScheduleConflict(ctx context.Context, studentID billing.StudentID, candidate []billing.WeeklySlot, excludeEnrollmentID billing.EnrollmentID) error {
	return s.validateNoConflict(ctx, s.Store, studentID, candidate, excludeEnrollmentID)
}

func (s *Service) validateNoConflict(ctx context.Context, store billing.Store, studentID billing.StudentID, candidate []billing.WeeklySlot, exclude billing.EnrollmentID) error {
	if len(candidate) == 0 {
		return nil
	}
	active, err := store.ListActiveEnrollments(ctx, studentID)
	if err != nil {
		return err
	}
	for _, e := range active {
		if exclude != "" && e.ID == exclude {
			continue
		}
		section, err := store.GetSection(ctx, e.SectionID)
		if err != nil {
			return err
		}
		if section == nil {
			continue
		}
		if err := billing.CheckSlotConflict(section.Slots, candidate); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PAID-INVOICE GUARDS
// =============================================================================

func (s *Service) hasPaidInPeriod(ctx context.Context, store billing.Store, studentID billing.StudentID, start, end billing.Date) (bool, error) {
	if start.IsZero() || end.IsZero() {
		return false, nil
	}
	invoices, err := store.ListInvoicesByStudent(ctx, studentID)
	if err != nil {
		return false, err
	}
	first, last := start.YearMonth(), end.YearMonth()
	for _, inv := range invoices {
		if inv.Status != billing.StatusPaid {
			continue
		}
		ym := inv.YearMonth()
		if !ym.Before(first) && !ym.After(last) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) checkNoPaidAfter(ctx context.Context, store billing.Store, studentID billing.StudentID, endDate billing.Date) error {
	if endDate.IsZero() {
		return nil
	}
	invoices, err := store.ListInvoicesByStudent(ctx, studentID)
	if err != nil {
		return err
	}
	limit := endDate.YearMonth()
	for _, inv := range invoices {
		if inv.Status == billing.StatusPaid && inv.YearMonth().After(limit) {
			return billing.ErrPaidInvoiceAfterEndDate
		}
	}
	return nil
}

func (s *Service) adHocInvoicesInPeriod(ctx context.Context, store billing.Store, studentID billing.StudentID, start, end billing.Date) ([]billing.Invoice, error) {
	if start.IsZero() || end.IsZero() {
		return nil, nil
	}
	invoices, err := store.ListInvoicesByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	first, last := start.YearMonth(), end.YearMonth()
	var out []billing.Invoice
	for _, inv := range invoices {
		if inv.EnrollmentID != "" {
			continue
		}
		ym := inv.YearMonth()
		if !ym.Before(first) && !ym.After(last) {
			out = append(out, inv)
		}
	}
	return out, nil
}
