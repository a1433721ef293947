/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All error types in one place. Validation errors are returned synchronously
  to the caller, who surfaces them to the end user; there are no retryable
  errors inside the pure functions.

USAGE:
  Callers classify with the helpers:

    if billing.IsValidation(err) { ... }  // surface as 400
    if billing.IsNotFound(err)   { ... }  // surface as 404

  The schedule conflict carries structure:

    var conflict *billing.ConflictError
    if errors.As(err, &conflict) { ... conflict.Day, conflict.Start ... }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvoiceAlreadyPaid is returned when settling or deleting a PAID invoice.
	ErrInvoiceAlreadyPaid = errors.New("invoice already paid")

	// ErrDuplicateInvoice is returned when an invoice already exists for the
	// student and billing month.
	ErrDuplicateInvoice = errors.New("invoice already exists for this month")

	// ErrScheduleConflict is returned when a candidate enrollment's weekly
	// slots overlap an existing active enrollment.
	ErrScheduleConflict = errors.New("schedule conflict with an active enrollment")

	// ErrStudentInactive is returned when enrolling an inactive student.
	ErrStudentInactive = errors.New("student is not active")

	// ErrDuplicateEnrollment is returned when the student already has an
	// active enrollment in the same section.
	ErrDuplicateEnrollment = errors.New("student already enrolled in this section")

	// ErrSectionFull is returned when the section is at capacity.
	ErrSectionFull = errors.New("class section is at capacity")

	// ErrPaidInvoicesInPeriod blocks enrollment deletion/deactivation while
	// paid invoices exist in its billing period.
	ErrPaidInvoicesInPeriod = errors.New("enrollment has paid invoices in its period")

	// ErrPaidInvoiceAfterEndDate blocks moving an enrollment end date before
	// an already-paid billing month.
	ErrPaidInvoiceAfterEndDate = errors.New("paid invoice exists after the new end date")

	// Not-found errors.
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrStudentNotFound    = errors.New("student not found")
	ErrSectionNotFound    = errors.New("class section not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConflictError names the existing slot a candidate enrollment collided with.
type ConflictError struct {
	Day   int
	Start TimeOfDay
	End   TimeOfDay
}

func (e *ConflictError) Error() string {
	slot := WeeklySlot{Day: e.Day, Start: e.Start, End: e.End}
	return fmt.Sprintf("schedule conflict: existing class on %s", slot)
}

func (e *ConflictError) Unwrap() error { return ErrScheduleConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is a business rule violation the
// caller should surface to the end user.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvoiceAlreadyPaid) ||
		errors.Is(err, ErrDuplicateInvoice) ||
		errors.Is(err, ErrScheduleConflict) ||
		errors.Is(err, ErrStudentInactive) ||
		errors.Is(err, ErrDuplicateEnrollment) ||
		errors.Is(err, ErrSectionFull) ||
		errors.Is(err, ErrPaidInvoicesInPeriod) ||
		errors.Is(err, ErrPaidInvoiceAfterEndDate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrSectionNotFound)
}
