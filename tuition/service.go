/*
service.go - Tuition billing service

PURPOSE:
  Orchestrates the billing core over a store: invoice generation and
  settlement, enrollment lifecycle with schedule-conflict validation, and
  the queries the directory/CRUD layer needs. All business rules live in
  the billing package; this layer sequences reads, validations and writes
  inside store transactions.

ISOLATION:
  Enrollment create/update runs "read existing enrollments -> validate
  conflict -> write" inside one store transaction so no concurrent request
  can slip an overlapping enrollment past the check.

AUDIT:
  Every state change records an audit entry (action, table, entity id,
  human-readable description, free-text diff). Audit failures are logged
  and swallowed; they never fail the business operation.

SEE ALSO:
  - billing/schedule.go: invoice materialization
  - billing/conflict.go: slot overlap test
  - job.go: the daily accrual run
*/
package tuition

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newmusic/tuition-engine/billing"
)

// Service exposes the billing core's operations to its only caller, the
// directory/enrollment layer.
type Service struct {
	Store    billing.TxStore
	Audit    billing.AuditLog // optional
	RunLog   billing.RunLog   // optional
	Clock    billing.Clock
	Schedule billing.JobSchedule
}

// NewService creates a service with the production clock and job schedule.
func NewService(store billing.TxStore) *Service {
	s := &Service{
		Store:    store,
		Clock:    billing.SystemClock{},
		Schedule: billing.DefaultJobSchedule(),
	}
	if audit, ok := store.(billing.AuditLog); ok {
		s.Audit = audit
	}
	if runs, ok := store.(billing.RunLog); ok {
		s.RunLog = runs
	}
	return s
}

func (s *Service) today() billing.Date {
	return s.Schedule.Today(s.Clock.Now())
}

func (s *Service) audit(ctx context.Context, actor string, action billing.AuditAction, table, entityID, description, content string) {
	if s.Audit == nil {
		return
	}
	entry := billing.AuditEntry{
		ID:          uuid.NewString(),
		At:          s.Clock.Now().UTC(),
		Actor:       actor,
		Action:      action,
		Table:       table,
		EntityID:    entityID,
		Description: description,
		Content:     content,
	}
	if err := s.Audit.Record(ctx, entry); err != nil {
		log.Printf("[Audit] failed to record %s on %s/%s: %v", action, table, entityID, err)
	}
}

// =============================================================================
// INVOICES
// =============================================================================

// GenerateInput describes a bulk invoice generation request.
type GenerateInput struct {
	StudentID    billing.StudentID
	EnrollmentID billing.EnrollmentID // empty for ad hoc schedules
	StartDate    billing.Date
	EndDate      *billing.Date
	// MonthlyAmount nil or DueDay 0 makes the call a valid no-op.
	MonthlyAmount  *decimal.Decimal
	DueDay         int
	LessonsPerWeek *int
}

// GenerateInvoices materializes one invoice per covered month and persists
// them in a single batch. Returns the created invoices.
func (s *Service) GenerateInvoices(ctx context.Context, in GenerateInput) ([]billing.Invoice, error) {
	student, err := s.Store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, billing.ErrStudentNotFound
	}

	invoices := billing.GenerateSchedule(billing.ScheduleInput{
		StudentID:      in.StudentID,
		EnrollmentID:   in.EnrollmentID,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		MonthlyAmount:  in.MonthlyAmount,
		DueDay:         in.DueDay,
		LessonsPerWeek: in.LessonsPerWeek,
		Today:          s.today(),
	})
	if len(invoices) == 0 {
		return nil, nil
	}

	err = s.Store.WithTx(ctx, func(tx billing.Store) error {
		return tx.SaveInvoices(ctx, invoices)
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// CreateInvoiceInput describes a manual single-invoice entry.
type CreateInvoiceInput struct {
	StudentID billing.StudentID
	Year      int
	Month     time.Month
	Amount    decimal.Decimal
	DueDate   billing.Date
	Actor     string
}

// CreateInvoice creates one ad hoc invoice. The due date is rolled to the
// next business day; the invoice seeds LATE when that date is already past.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*billing.Invoice, error) {
	student, err := s.Store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, billing.ErrStudentNotFound
	}

	var created billing.Invoice
	err = s.Store.WithTx(ctx, func(tx billing.Store) error {
		existing, err := tx.FindInvoiceForMonth(ctx, in.StudentID, in.Year, in.Month)
		if err != nil {
			return err
		}
		if existing != nil {
			return billing.ErrDuplicateInvoice
		}

		due := billing.NextBusinessDay(in.DueDate)
		created = billing.Invoice{
			ID:        billing.InvoiceID(uuid.NewString()),
			StudentID: in.StudentID,
			Year:      in.Year,
			Month:     in.Month,
			Amount:    in.Amount,
			DueDate:   due,
			Status:    billing.SeedStatus(due, s.today()),
			CreatedAt: s.Clock.Now().UTC(),
		}
		return tx.SaveInvoice(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, in.Actor, billing.AuditCreate, "invoices", string(created.ID),
		fmt.Sprintf("Created invoice %d/%d for student %s", int(created.Month), created.Year, student.Name),
		fmt.Sprintf("Student: %s, %d/%d, Amount: %s", student.Name, int(created.Month), created.Year, created.Amount))
	return &created, nil
}

// SettleInvoice marks an invoice PAID. Fails if it already is. A zero
// paidDate defaults to today.
func (s *Service) SettleInvoice(ctx context.Context, id billing.InvoiceID, paidDate *billing.Date, method, actor string) (*billing.Invoice, error) {
	var settled billing.Invoice
	err := s.Store.WithTx(ctx, func(tx billing.Store) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return billing.ErrInvoiceNotFound
		}

		date := s.today()
		if paidDate != nil {
			date = *paidDate
		}
		if err := inv.Settle(date, method); err != nil {
			return err
		}
		settled = *inv
		return tx.SaveInvoice(ctx, settled)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, billing.AuditUpdate, "invoices", string(id),
		fmt.Sprintf("Settled invoice %d/%d for student %s", int(settled.Month), settled.Year, settled.StudentID),
		fmt.Sprintf("Paid: %s, Method: %s", *settled.PaidDate, method))
	return &settled, nil
}

// DeleteInvoice removes an invoice. PAID invoices cannot be deleted.
func (s *Service) DeleteInvoice(ctx context.Context, id billing.InvoiceID, actor string) error {
	var removed billing.Invoice
	err := s.Store.WithTx(ctx, func(tx billing.Store) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return billing.ErrInvoiceNotFound
		}
		if inv.Status == billing.StatusPaid {
			return billing.ErrInvoiceAlreadyPaid
		}
		removed = *inv
		return tx.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return err
	}

	s.audit(ctx, actor, billing.AuditDelete, "invoices", string(id),
		fmt.Sprintf("Deleted invoice %d/%d for student %s", int(removed.Month), removed.Year, removed.StudentID),
		fmt.Sprintf("%d/%d, Amount: %s", int(removed.Month), removed.Year, removed.Amount))
	return nil
}

// StudentPaymentsCurrent reports whether the student's invoice for the
// current calendar month is PAID. No invoice this month counts as false.
func (s *Service) StudentPaymentsCurrent(ctx context.Context, studentID billing.StudentID) (bool, error) {
	today := s.today()
	inv, err := s.Store.FindInvoiceForMonth(ctx, studentID, today.Year, today.Month)
	if err != nil {
		return false, err
	}
	return inv != nil && inv.Status == billing.StatusPaid, nil
}

// CountOpenInvoices returns how many invoices are PENDING or LATE.
func (s *Service) CountOpenInvoices(ctx context.Context) (int, error) {
	pending, err := s.Store.ListInvoicesByStatus(ctx, billing.StatusPending)
	if err != nil {
		return 0, err
	}
	late, err := s.Store.ListInvoicesByStatus(ctx, billing.StatusLate)
	if err != nil {
		return 0, err
	}
	return len(pending) + len(late), nil
}

// =============================================================================
// CALENDAR UTILITIES
// =============================================================================

// IsHoliday reports whether the date is a national holiday.
func (s *Service) IsHoliday(d billing.Date) bool { return billing.IsNationalHoliday(d) }

// NextBusinessDay rolls the date forward through weekends and holidays.
func (s *Service) NextBusinessDay(d billing.Date) billing.Date { return billing.NextBusinessDay(d) }
