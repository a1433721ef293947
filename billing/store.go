/*
store.go - Persistence interfaces for the billing core

PURPOSE:
  Defines the boundary between the billing/tuition logic and the database.
  The core is storage-agnostic: any backend that satisfies these small
  interfaces works. Two implementations exist:
    - store/sqlite: production SQLite
    - billing/store: in-memory, for tests

TRANSACTIONS:
  TxStore.WithTx spans "read -> validate -> write" so that the enrollment
  conflict check and the daily accrual batches see one consistent snapshot.
  All invoice updates of one accrual batch commit together: status and
  lateFee/interest move as a unit, never status alone.

AUDIT:
  The audit log records human-readable descriptions of state changes. The
  core supplies an action, an entity id and a free-text diff; it does not
  own audit storage. Auditing is best-effort and never fails the operation.
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence boundary
// =============================================================================

// Store holds students, class sections, enrollments and invoices.
type Store interface {
	// Directory snapshot (students and class sections with weekly slots).
	SaveStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id StudentID) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	SaveSection(ctx context.Context, sec ClassSection) error
	GetSection(ctx context.Context, id SectionID) (*ClassSection, error)
	ListSections(ctx context.Context) ([]ClassSection, error)

	// Enrollments.
	SaveEnrollment(ctx context.Context, e Enrollment) error
	GetEnrollment(ctx context.Context, id EnrollmentID) (*Enrollment, error)
	ListActiveEnrollments(ctx context.Context, studentID StudentID) ([]Enrollment, error)
	HasActiveEnrollment(ctx context.Context, studentID StudentID, sectionID SectionID) (bool, error)
	CountActiveBySection(ctx context.Context, sectionID SectionID) (int, error)
	DeleteEnrollment(ctx context.Context, id EnrollmentID) error

	// Invoices.
	SaveInvoice(ctx context.Context, inv Invoice) error
	SaveInvoices(ctx context.Context, invs []Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	FindInvoiceForMonth(ctx context.Context, studentID StudentID, year int, month time.Month) (*Invoice, error)
	ListInvoicesByStudent(ctx context.Context, studentID StudentID) ([]Invoice, error)
	ListInvoicesByEnrollment(ctx context.Context, enrollmentID EnrollmentID) ([]Invoice, error)
	ListInvoicesByStatus(ctx context.Context, status InvoiceStatus) ([]Invoice, error)
	ListPendingDueBefore(ctx context.Context, day Date) ([]Invoice, error)
	DeleteInvoice(ctx context.Context, id InvoiceID) error
}

// TxStore wraps Store with transaction support. If fn returns an error the
// transaction rolls back; otherwise it commits.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEntry records who changed what. Content carries the free-text diff.
type AuditEntry struct {
	ID          string
	At          time.Time
	Actor       string
	Action      AuditAction
	Table       string
	EntityID    string
	Description string
	Content     string
}

type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// ACCRUAL RUN RECORDS
// =============================================================================

// AccrualRun records one execution of the daily accrual job, for audit and
// for the admin surface.
type AccrualRun struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   *time.Time
	ReferenceDate Date
	Transitioned  int
	Recomputed    int
	Status        string // "running", "completed", "failed"
	Error         string
}

type RunLog interface {
	SaveAccrualRun(ctx context.Context, run AccrualRun) error
	ListAccrualRuns(ctx context.Context, limit int) ([]AccrualRun, error)
}
