// Package store provides an in-memory billing.Store for testing and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newmusic/tuition-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	students    map[billing.StudentID]billing.Student
	sections    map[billing.SectionID]billing.ClassSection
	enrollments map[billing.EnrollmentID]billing.Enrollment
	invoices    map[billing.InvoiceID]billing.Invoice

	audit []billing.AuditEntry
	runs  []billing.AccrualRun
}

func NewMemory() *Memory {
	return &Memory{
		students:    make(map[billing.StudentID]billing.Student),
		sections:    make(map[billing.SectionID]billing.ClassSection),
		enrollments: make(map[billing.EnrollmentID]billing.Enrollment),
		invoices:    make(map[billing.InvoiceID]billing.Invoice),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveStudent(_ context.Context, s billing.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
	return nil
}

func (m *Memory) GetStudent(_ context.Context, id billing.StudentID) (*billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListStudents(_ context.Context) ([]billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveSection(_ context.Context, sec billing.ClassSection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections[sec.ID] = sec
	return nil
}

func (m *Memory) GetSection(_ context.Context, id billing.SectionID) (*billing.ClassSection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sec, ok := m.sections[id]
	if !ok {
		return nil, nil
	}
	// Copy slots so callers cannot mutate stored state.
	sec.Slots = append([]billing.WeeklySlot(nil), sec.Slots...)
	return &sec, nil
}

func (m *Memory) ListSections(_ context.Context) ([]billing.ClassSection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.ClassSection, 0, len(m.sections))
	for _, sec := range m.sections {
		sec.Slots = append([]billing.WeeklySlot(nil), sec.Slots...)
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (m *Memory) SaveEnrollment(_ context.Context, e billing.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = e
	return nil
}

func (m *Memory) GetEnrollment(_ context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListActiveEnrollments(_ context.Context, studentID billing.StudentID) ([]billing.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) HasActiveEnrollment(_ context.Context, studentID billing.StudentID, sectionID billing.SectionID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.Active {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CountActiveBySection(_ context.Context, sectionID billing.SectionID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.enrollments {
		if e.SectionID == sectionID && e.Active {
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeleteEnrollment(_ context.Context, id billing.EnrollmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.enrollments, id)
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) SaveInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) SaveInvoices(_ context.Context, invs []billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range invs {
		m.invoices[inv.ID] = inv
	}
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *Memory) FindInvoiceForMonth(_ context.Context, studentID billing.StudentID, year int, month time.Month) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invoices {
		if inv.StudentID == studentID && inv.Year == year && inv.Month == month {
			found := inv
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListInvoicesByStudent(_ context.Context, studentID billing.StudentID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterInvoices(func(inv billing.Invoice) bool { return inv.StudentID == studentID }), nil
}

func (m *Memory) ListInvoicesByEnrollment(_ context.Context, enrollmentID billing.EnrollmentID) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterInvoices(func(inv billing.Invoice) bool { return inv.EnrollmentID == enrollmentID }), nil
}

func (m *Memory) ListInvoicesByStatus(_ context.Context, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterInvoices(func(inv billing.Invoice) bool { return inv.Status == status }), nil
}

func (m *Memory) ListPendingDueBefore(_ context.Context, day billing.Date) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterInvoices(func(inv billing.Invoice) bool {
		return inv.Status == billing.StatusPending && inv.DueDate.Before(day)
	}), nil
}

func (m *Memory) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invoices, id)
	return nil
}

// filterInvoices must be called with at least the read lock held.
func (m *Memory) filterInvoices(keep func(billing.Invoice) bool) []billing.Invoice {
	var out []billing.Invoice
	for _, inv := range m.invoices {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.ID < b.ID
	})
	return out
}

// =============================================================================
// AUDIT + RUN LOG
// =============================================================================

func (m *Memory) Record(_ context.Context, entry billing.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail (test helper).
func (m *Memory) AuditEntries() []billing.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.AuditEntry(nil), m.audit...)
}

func (m *Memory) SaveAccrualRun(_ context.Context, run billing.AccrualRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListAccrualRuns(_ context.Context, limit int) ([]billing.AccrualRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := append([]billing.AccrualRun(nil), m.runs...)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn against a snapshot; on error the snapshot is restored.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	snapshot := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restore(snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	students    map[billing.StudentID]billing.Student
	sections    map[billing.SectionID]billing.ClassSection
	enrollments map[billing.EnrollmentID]billing.Enrollment
	invoices    map[billing.InvoiceID]billing.Invoice
}

func (m *Memory) snapshot() memorySnapshot {
	snap := memorySnapshot{
		students:    make(map[billing.StudentID]billing.Student, len(m.students)),
		sections:    make(map[billing.SectionID]billing.ClassSection, len(m.sections)),
		enrollments: make(map[billing.EnrollmentID]billing.Enrollment, len(m.enrollments)),
		invoices:    make(map[billing.InvoiceID]billing.Invoice, len(m.invoices)),
	}
	for k, v := range m.students {
		snap.students[k] = v
	}
	for k, v := range m.sections {
		snap.sections[k] = v
	}
	for k, v := range m.enrollments {
		snap.enrollments[k] = v
	}
	for k, v := range m.invoices {
		snap.invoices[k] = v
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.students = snap.students
	m.sections = snap.sections
	m.enrollments = snap.enrollments
	m.invoices = snap.invoices
}
