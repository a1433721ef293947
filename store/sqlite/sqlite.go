/*
Package sqlite provides a SQLite-backed implementation of the billing
storage interfaces.

PURPOSE:
  Implements billing.TxStore, billing.AuditLog and billing.RunLog using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  students:       directory snapshot of students (active flag)
  class_sections: sections with instrument category and capacity
  section_slots:  weekly day/time slots, (section, day, start) unique
  enrollments:    student-to-section assignments with billing terms
  invoices:       monthly tuition charges with status and accrual fields
  audit_log:      human-readable record of state changes
  accrual_runs:   one row per daily accrual job execution

UNIQUENESS:
  Partial unique indexes enforce the invoice invariant at the database
  level: one invoice per (student, year, month) when unlinked, one per
  (enrollment, year, month) when linked. The service checks before insert;
  the indexes are the backstop.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WAL mode keeps readers unblocked.

USAGE:
  store, err := sqlite.New("./data/tuition.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: interface definitions
  - billing/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/newmusic/tuition-engine/billing"
)

// Store implements billing.TxStore, billing.AuditLog and billing.RunLog.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS class_sections (
		id TEXT PRIMARY KEY,
		instrument TEXT NOT NULL,
		vocal INTEGER NOT NULL DEFAULT 0,
		instructor TEXT,
		capacity INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS section_slots (
		section_id TEXT NOT NULL REFERENCES class_sections(id) ON DELETE CASCADE,
		day INTEGER NOT NULL,
		start_minutes INTEGER NOT NULL,
		end_minutes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (section_id, day, start_minutes)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		section_id TEXT NOT NULL REFERENCES class_sections(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		lessons_per_week INTEGER NOT NULL DEFAULT 1,
		monthly_amount TEXT,
		due_day INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_student_active
		ON enrollments(student_id, active);
	CREATE INDEX IF NOT EXISTS idx_enrollments_section_active
		ON enrollments(section_id, active);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		enrollment_id TEXT REFERENCES enrollments(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		amount TEXT NOT NULL,
		late_fee TEXT,
		interest TEXT,
		due_date TEXT NOT NULL,
		paid_date TEXT,
		payment_method TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- One invoice per student per month for ad hoc invoices, per enrollment
	-- per month for generated ones.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_adhoc_invoice_month
		ON invoices(student_id, year, month)
		WHERE enrollment_id IS NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_enrollment_invoice_month
		ON invoices(enrollment_id, year, month)
		WHERE enrollment_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_invoices_status_due
		ON invoices(status, due_date);
	CREATE INDEX IF NOT EXISTS idx_invoices_student
		ON invoices(student_id, year, month);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor TEXT,
		action TEXT NOT NULL,
		table_name TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		description TEXT,
		content TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_table_entity
		ON audit_log(table_name, entity_id);

	CREATE TABLE IF NOT EXISTS accrual_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		reference_date TEXT NOT NULL,
		transitioned INTEGER NOT NULL DEFAULT 0,
		recomputed INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same helpers serve
// direct calls and transactional views.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) SaveStudent(ctx context.Context, st billing.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveStudent(ctx, s.db, st)
}

func saveStudent(ctx context.Context, db dbtx, st billing.Student) error {
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO students (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`, st.ID, st.Name, boolToInt(st.Active), createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

func (s *Store) GetStudent(ctx context.Context, id billing.StudentID) (*billing.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStudent(ctx, s.db, id)
}

func getStudent(ctx context.Context, db dbtx, id billing.StudentID) (*billing.Student, error) {
	var (
		st        billing.Student
		active    int
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, active, created_at FROM students WHERE id = ?", id,
	).Scan(&st.ID, &st.Name, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	st.Active = active != 0
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &st, nil
}

func (s *Store) ListStudents(ctx context.Context) ([]billing.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStudents(ctx, s.db)
}

func listStudents(ctx context.Context, db dbtx) ([]billing.Student, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, name, active, created_at FROM students ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []billing.Student
	for rows.Next() {
		var (
			st        billing.Student
			active    int
			createdAt string
		)
		if err := rows.Scan(&st.ID, &st.Name, &active, &createdAt); err != nil {
			return nil, err
		}
		st.Active = active != 0
		st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		students = append(students, st)
	}
	return students, rows.Err()
}

// =============================================================================
// CLASS SECTIONS
// =============================================================================

func (s *Store) SaveSection(ctx context.Context, sec billing.ClassSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSection(ctx, s.db, sec)
}

func saveSection(ctx context.Context, db dbtx, sec billing.ClassSection) error {
	createdAt := sec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO class_sections (id, instrument, vocal, instructor, capacity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instrument = excluded.instrument,
			vocal = excluded.vocal,
			instructor = excluded.instructor,
			capacity = excluded.capacity
	`, sec.ID, sec.Instrument, boolToInt(sec.Vocal), sec.Instructor, sec.Capacity, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save section: %w", err)
	}

	// Replace the slot set wholesale.
	if _, err := db.ExecContext(ctx, "DELETE FROM section_slots WHERE section_id = ?", sec.ID); err != nil {
		return fmt.Errorf("failed to clear section slots: %w", err)
	}
	for _, slot := range sec.Slots {
		_, err := db.ExecContext(ctx, `
			INSERT INTO section_slots (section_id, day, start_minutes, end_minutes)
			VALUES (?, ?, ?, ?)
		`, sec.ID, slot.Day, int(slot.Start), int(slot.End))
		if err != nil {
			return fmt.Errorf("failed to save section slot: %w", err)
		}
	}
	return nil
}

func (s *Store) GetSection(ctx context.Context, id billing.SectionID) (*billing.ClassSection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSection(ctx, s.db, id)
}

func getSection(ctx context.Context, db dbtx, id billing.SectionID) (*billing.ClassSection, error) {
	var (
		sec       billing.ClassSection
		vocal     int
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, instrument, vocal, instructor, capacity, created_at FROM class_sections WHERE id = ?", id,
	).Scan(&sec.ID, &sec.Instrument, &vocal, &sec.Instructor, &sec.Capacity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	sec.Vocal = vocal != 0
	sec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	slots, err := loadSlots(ctx, db, id)
	if err != nil {
		return nil, err
	}
	sec.Slots = slots
	return &sec, nil
}

func loadSlots(ctx context.Context, db dbtx, id billing.SectionID) ([]billing.WeeklySlot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT day, start_minutes, end_minutes FROM section_slots
		WHERE section_id = ? ORDER BY day ASC, start_minutes ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load section slots: %w", err)
	}
	defer rows.Close()

	var slots []billing.WeeklySlot
	for rows.Next() {
		var day, start, end int
		if err := rows.Scan(&day, &start, &end); err != nil {
			return nil, err
		}
		slots = append(slots, billing.WeeklySlot{
			Day:   day,
			Start: billing.TimeOfDay(start),
			End:   billing.TimeOfDay(end),
		})
	}
	return slots, rows.Err()
}

func (s *Store) ListSections(ctx context.Context) ([]billing.ClassSection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSections(ctx, s.db)
}

func listSections(ctx context.Context, db dbtx) ([]billing.ClassSection, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, instrument, vocal, instructor, capacity, created_at FROM class_sections ORDER BY instrument ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []billing.ClassSection
	for rows.Next() {
		var (
			sec       billing.ClassSection
			vocal     int
			createdAt string
		)
		if err := rows.Scan(&sec.ID, &sec.Instrument, &vocal, &sec.Instructor, &sec.Capacity, &createdAt); err != nil {
			return nil, err
		}
		sec.Vocal = vocal != 0
		sec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sections {
		slots, err := loadSlots(ctx, db, sections[i].ID)
		if err != nil {
			return nil, err
		}
		sections[i].Slots = slots
	}
	return sections, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (s *Store) SaveEnrollment(ctx context.Context, e billing.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEnrollment(ctx, s.db, e)
}

func saveEnrollment(ctx context.Context, db dbtx, e billing.Enrollment) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO enrollments
		(id, student_id, section_id, start_date, end_date, lessons_per_week,
		 monthly_amount, due_day, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id,
			section_id = excluded.section_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			lessons_per_week = excluded.lessons_per_week,
			monthly_amount = excluded.monthly_amount,
			due_day = excluded.due_day,
			active = excluded.active
	`,
		e.ID, e.StudentID, e.SectionID,
		e.StartDate.String(), e.EndDate.String(), e.LessonsPerWeek,
		nullDecimal(e.MonthlyAmount), e.DueDay, boolToInt(e.Active),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

const enrollmentColumns = `id, student_id, section_id, start_date, end_date,
	lessons_per_week, monthly_amount, due_day, active, created_at`

func (s *Store) GetEnrollment(ctx context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEnrollment(ctx, s.db, id)
}

func getEnrollment(ctx context.Context, db dbtx, id billing.EnrollmentID) (*billing.Enrollment, error) {
	enrollments, err := queryEnrollments(ctx, db,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(enrollments) == 0 {
		return nil, nil
	}
	return &enrollments[0], nil
}

func (s *Store) ListActiveEnrollments(ctx context.Context, studentID billing.StudentID) ([]billing.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActiveEnrollments(ctx, s.db, studentID)
}

func listActiveEnrollments(ctx context.Context, db dbtx, studentID billing.StudentID) ([]billing.Enrollment, error) {
	return queryEnrollments(ctx, db,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE student_id = ? AND active = 1 ORDER BY start_date ASC",
		studentID)
}

func (s *Store) HasActiveEnrollment(ctx context.Context, studentID billing.StudentID, sectionID billing.SectionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasActiveEnrollment(ctx, s.db, studentID, sectionID)
}

func hasActiveEnrollment(ctx context.Context, db dbtx, studentID billing.StudentID, sectionID billing.SectionID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE student_id = ? AND section_id = ? AND active = 1",
		studentID, sectionID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) CountActiveBySection(ctx context.Context, sectionID billing.SectionID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countActiveBySection(ctx, s.db, sectionID)
}

func countActiveBySection(ctx context.Context, db dbtx, sectionID billing.SectionID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrollments WHERE section_id = ? AND active = 1", sectionID,
	).Scan(&count)
	return count, err
}

func (s *Store) DeleteEnrollment(ctx context.Context, id billing.EnrollmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEnrollment(ctx, s.db, id)
}

func deleteEnrollment(ctx context.Context, db dbtx, id billing.EnrollmentID) error {
	_, err := db.ExecContext(ctx, "DELETE FROM enrollments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	return nil
}

func queryEnrollments(ctx context.Context, db dbtx, query string, args ...any) ([]billing.Enrollment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []billing.Enrollment
	for rows.Next() {
		var (
			e             billing.Enrollment
			startDate     string
			endDate       string
			monthlyAmount sql.NullString
			active        int
			createdAt     string
		)
		err := rows.Scan(&e.ID, &e.StudentID, &e.SectionID, &startDate, &endDate,
			&e.LessonsPerWeek, &monthlyAmount, &e.DueDay, &active, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		e.StartDate, _ = billing.ParseDate(startDate)
		e.EndDate, _ = billing.ParseDate(endDate)
		e.MonthlyAmount = parseNullDecimal(monthlyAmount)
		e.Active = active != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveInvoice(ctx, s.db, inv)
}

func saveInvoice(ctx context.Context, db dbtx, inv billing.Invoice) error {
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var paidDate any
	if inv.PaidDate != nil {
		paidDate = inv.PaidDate.String()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO invoices
		(id, student_id, enrollment_id, year, month, amount, late_fee, interest,
		 due_date, paid_date, payment_method, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			late_fee = excluded.late_fee,
			interest = excluded.interest,
			paid_date = excluded.paid_date,
			payment_method = excluded.payment_method,
			status = excluded.status
	`,
		inv.ID, inv.StudentID, nullEnrollmentID(inv.EnrollmentID),
		inv.Year, int(inv.Month), inv.Amount.String(),
		nullDecimal(inv.LateFee), nullDecimal(inv.Interest),
		inv.DueDate.String(), paidDate, inv.PaymentMethod, inv.Status,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateInvoice
		}
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (s *Store) SaveInvoices(ctx context.Context, invs []billing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, inv := range invs {
		if err := saveInvoice(ctx, sqlTx, inv); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

const invoiceColumns = `id, student_id, enrollment_id, year, month, amount,
	late_fee, interest, due_date, paid_date, payment_method, status, created_at`

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInvoice(ctx, s.db, id)
}

func getInvoice(ctx context.Context, db dbtx, id billing.InvoiceID) (*billing.Invoice, error) {
	invoices, err := queryInvoices(ctx, db,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (s *Store) FindInvoiceForMonth(ctx context.Context, studentID billing.StudentID, year int, month time.Month) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findInvoiceForMonth(ctx, s.db, studentID, year, month)
}

func findInvoiceForMonth(ctx context.Context, db dbtx, studentID billing.StudentID, year int, month time.Month) (*billing.Invoice, error) {
	invoices, err := queryInvoices(ctx, db,
		"SELECT "+invoiceColumns+" FROM invoices WHERE student_id = ? AND year = ? AND month = ? LIMIT 1",
		studentID, year, int(month))
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (s *Store) ListInvoicesByStudent(ctx context.Context, studentID billing.StudentID) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvoicesByStudent(ctx, s.db, studentID)
}

func listInvoicesByStudent(ctx context.Context, db dbtx, studentID billing.StudentID) ([]billing.Invoice, error) {
	return queryInvoices(ctx, db,
		"SELECT "+invoiceColumns+" FROM invoices WHERE student_id = ? ORDER BY year ASC, month ASC",
		studentID)
}

func (s *Store) ListInvoicesByEnrollment(ctx context.Context, enrollmentID billing.EnrollmentID) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvoicesByEnrollment(ctx, s.db, enrollmentID)
}

func listInvoicesByEnrollment(ctx context.Context, db dbtx, enrollmentID billing.EnrollmentID) ([]billing.Invoice, error) {
	return queryInvoices(ctx, db,
		"SELECT "+invoiceColumns+" FROM invoices WHERE enrollment_id = ? ORDER BY year ASC, month ASC",
		enrollmentID)
}

func (s *Store) ListInvoicesByStatus(ctx context.Context, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvoicesByStatus(ctx, s.db, status)
}

func listInvoicesByStatus(ctx context.Context, db dbtx, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	return queryInvoices(ctx, db,
		"SELECT "+invoiceColumns+" FROM invoices WHERE status = ? ORDER BY due_date ASC",
		status)
}

func (s *Store) ListPendingDueBefore(ctx context.Context, day billing.Date) ([]billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPendingDueBefore(ctx, s.db, day)
}

func listPendingDueBefore(ctx context.Context, db dbtx, day billing.Date) ([]billing.Invoice, error) {
	return queryInvoices(ctx, db,
		"SELECT "+invoiceColumns+" FROM invoices WHERE status = ? AND due_date < ? ORDER BY due_date ASC",
		billing.StatusPending, day.String())
}

func (s *Store) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteInvoice(ctx, s.db, id)
}

func deleteInvoice(ctx context.Context, db dbtx, id billing.InvoiceID) error {
	_, err := db.ExecContext(ctx, "DELETE FROM invoices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return nil
}

func queryInvoices(ctx context.Context, db dbtx, query string, args ...any) ([]billing.Invoice, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(rows *sql.Rows) (billing.Invoice, error) {
	var (
		inv           billing.Invoice
		enrollmentID  sql.NullString
		month         int
		amount        string
		lateFee       sql.NullString
		interest      sql.NullString
		dueDate       string
		paidDate      sql.NullString
		paymentMethod sql.NullString
		createdAt     string
	)
	err := rows.Scan(&inv.ID, &inv.StudentID, &enrollmentID, &inv.Year, &month,
		&amount, &lateFee, &interest, &dueDate, &paidDate, &paymentMethod,
		&inv.Status, &createdAt)
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.EnrollmentID = billing.EnrollmentID(enrollmentID.String)
	inv.Month = time.Month(month)
	inv.Amount, _ = decimal.NewFromString(amount)
	inv.LateFee = parseNullDecimal(lateFee)
	inv.Interest = parseNullDecimal(interest)
	inv.DueDate, _ = billing.ParseDate(dueDate)
	if paidDate.Valid {
		d, err := billing.ParseDate(paidDate.String)
		if err == nil {
			inv.PaidDate = &d
		}
	}
	inv.PaymentMethod = paymentMethod.String
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return inv, nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes billing.Store calls through an open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveStudent(ctx context.Context, st billing.Student) error {
	return saveStudent(ctx, ts.tx, st)
}
func (ts *txStore) GetStudent(ctx context.Context, id billing.StudentID) (*billing.Student, error) {
	return getStudent(ctx, ts.tx, id)
}
func (ts *txStore) ListStudents(ctx context.Context) ([]billing.Student, error) {
	return listStudents(ctx, ts.tx)
}
func (ts *txStore) SaveSection(ctx context.Context, sec billing.ClassSection) error {
	return saveSection(ctx, ts.tx, sec)
}
func (ts *txStore) GetSection(ctx context.Context, id billing.SectionID) (*billing.ClassSection, error) {
	return getSection(ctx, ts.tx, id)
}
func (ts *txStore) ListSections(ctx context.Context) ([]billing.ClassSection, error) {
	return listSections(ctx, ts.tx)
}
func (ts *txStore) SaveEnrollment(ctx context.Context, e billing.Enrollment) error {
	return saveEnrollment(ctx, ts.tx, e)
}
func (ts *txStore) GetEnrollment(ctx context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	return getEnrollment(ctx, ts.tx, id)
}
func (ts *txStore) ListActiveEnrollments(ctx context.Context, studentID billing.StudentID) ([]billing.Enrollment, error) {
	return listActiveEnrollments(ctx, ts.tx, studentID)
}
func (ts *txStore) HasActiveEnrollment(ctx context.Context, studentID billing.StudentID, sectionID billing.SectionID) (bool, error) {
	return hasActiveEnrollment(ctx, ts.tx, studentID, sectionID)
}
func (ts *txStore) CountActiveBySection(ctx context.Context, sectionID billing.SectionID) (int, error) {
	return countActiveBySection(ctx, ts.tx, sectionID)
}
func (ts *txStore) DeleteEnrollment(ctx context.Context, id billing.EnrollmentID) error {
	return deleteEnrollment(ctx, ts.tx, id)
}
func (ts *txStore) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	return saveInvoice(ctx, ts.tx, inv)
}
func (ts *txStore) SaveInvoices(ctx context.Context, invs []billing.Invoice) error {
	for _, inv := range invs {
		if err := saveInvoice(ctx, ts.tx, inv); err != nil {
			return err
		}
	}
	return nil
}
func (ts *txStore) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	return getInvoice(ctx, ts.tx, id)
}
func (ts *txStore) FindInvoiceForMonth(ctx context.Context, studentID billing.StudentID, year int, month time.Month) (*billing.Invoice, error) {
	return findInvoiceForMonth(ctx, ts.tx, studentID, year, month)
}
func (ts *txStore) ListInvoicesByStudent(ctx context.Context, studentID billing.StudentID) ([]billing.Invoice, error) {
	return listInvoicesByStudent(ctx, ts.tx, studentID)
}
func (ts *txStore) ListInvoicesByEnrollment(ctx context.Context, enrollmentID billing.EnrollmentID) ([]billing.Invoice, error) {
	return listInvoicesByEnrollment(ctx, ts.tx, enrollmentID)
}
func (ts *txStore) ListInvoicesByStatus(ctx context.Context, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	return listInvoicesByStatus(ctx, ts.tx, status)
}
func (ts *txStore) ListPendingDueBefore(ctx context.Context, day billing.Date) ([]billing.Invoice, error) {
	return listPendingDueBefore(ctx, ts.tx, day)
}
func (ts *txStore) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	return deleteInvoice(ctx, ts.tx, id)
}

// =============================================================================
// AUDIT LOG (billing.AuditLog interface)
// =============================================================================

func (s *Store) Record(ctx context.Context, entry billing.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor, action, table_name, entity_id, description, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.At.Format(time.RFC3339), entry.Actor, entry.Action,
		entry.Table, entry.EntityID, entry.Description, entry.Content)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest audit entries up to limit.
func (s *Store) ListAuditEntries(ctx context.Context, limit int) ([]billing.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, actor, action, table_name, entity_id, description, content
		FROM audit_log ORDER BY at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []billing.AuditEntry
	for rows.Next() {
		var (
			entry billing.AuditEntry
			at    string
		)
		err := rows.Scan(&entry.ID, &at, &entry.Actor, &entry.Action,
			&entry.Table, &entry.EntityID, &entry.Description, &entry.Content)
		if err != nil {
			return nil, err
		}
		entry.At, _ = time.Parse(time.RFC3339, at)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// ACCRUAL RUNS (billing.RunLog interface)
// =============================================================================

func (s *Store) SaveAccrualRun(ctx context.Context, run billing.AccrualRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accrual_runs
		(id, started_at, completed_at, reference_date, transitioned, recomputed, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			transitioned = excluded.transitioned,
			recomputed = excluded.recomputed,
			status = excluded.status,
			error = excluded.error
	`, run.ID, run.StartedAt.Format(time.RFC3339), completedAt,
		run.ReferenceDate.String(), run.Transitioned, run.Recomputed,
		run.Status, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save accrual run: %w", err)
	}
	return nil
}

func (s *Store) ListAccrualRuns(ctx context.Context, limit int) ([]billing.AccrualRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, reference_date, transitioned, recomputed, status, error
		FROM accrual_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accrual runs: %w", err)
	}
	defer rows.Close()

	var runs []billing.AccrualRun
	for rows.Next() {
		var (
			run           billing.AccrualRun
			startedAt     string
			completedAt   sql.NullString
			referenceDate string
		)
		err := rows.Scan(&run.ID, &startedAt, &completedAt, &referenceDate,
			&run.Transitioned, &run.Recomputed, &run.Status, &run.Error)
		if err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err == nil {
				run.CompletedAt = &t
			}
		}
		run.ReferenceDate, _ = billing.ParseDate(referenceDate)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullEnrollmentID(id billing.EnrollmentID) any {
	if id == "" {
		return nil
	}
	return string(id)
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}
