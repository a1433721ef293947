/*
invoice.go - Invoice model and status machine

PURPOSE:
  One invoice is one month of tuition for one student. Invoices move through
  a forward-only status machine:

    PENDING -> LATE -> PAID

  PAID is terminal; a paid invoice can never re-enter LATE, and the daily
  accrual job never touches it.

LIFECYCLE:
  - Created in bulk by GenerateSchedule when an enrollment is created, or
    individually by manual entry.
  - Mutated only by settlement (PENDING/LATE -> PAID) or by the daily accrual
    job (PENDING -> LATE, or in-place recompute of LateFee/Interest).
  - Deleted only while not PAID; cascaded when the owning enrollment goes.

UNIQUENESS:
  At most one invoice per (student, year, month) when unlinked to an
  enrollment, and per (enrollment, year, month) when linked.

SEE ALSO:
  - schedule.go: bulk materialization
  - accrual.go: LateFee/Interest computation
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	StudentID    string
	SectionID    string
	EnrollmentID string
	InvoiceID    string
)

// =============================================================================
// STATUS
// =============================================================================

type InvoiceStatus string

const (
	StatusPending InvoiceStatus = "PENDING"
	StatusLate    InvoiceStatus = "LATE"
	StatusPaid    InvoiceStatus = "PAID"
)

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID        InvoiceID
	StudentID StudentID

	// EnrollmentID is empty for ad hoc invoices created by manual entry.
	EnrollmentID EnrollmentID

	Year  int
	Month time.Month

	// Amount is the base monthly price. LateFee and Interest stay nil until
	// the first accrual pass; after that they are recomputed, not
	// accumulated, on every pass.
	Amount   decimal.Decimal
	LateFee  *decimal.Decimal
	Interest *decimal.Decimal

	// DueDate is always a business day (resolved via NextBusinessDay).
	DueDate Date

	PaidDate      *Date
	PaymentMethod string

	Status    InvoiceStatus
	CreatedAt time.Time
}

func (inv *Invoice) YearMonth() YearMonth {
	return YearMonth{Year: inv.Year, Month: inv.Month}
}

// Settle moves the invoice to PAID. Fails if it already is.
func (inv *Invoice) Settle(paidDate Date, method string) error {
	if inv.Status == StatusPaid {
		return ErrInvoiceAlreadyPaid
	}
	inv.Status = StatusPaid
	inv.PaidDate = &paidDate
	inv.PaymentMethod = method
	return nil
}

// ApplyAccrual recomputes LateFee and Interest as of referenceDate and sets
// both fields together (never one without the other).
func (inv *Invoice) ApplyAccrual(referenceDate Date) {
	acc := ComputeAccrual(inv.Amount, inv.DueDate, referenceDate)
	inv.LateFee = &acc.LateFee
	inv.Interest = &acc.Interest
}

// TotalDue is the base amount plus any accrued late fee and interest.
func (inv *Invoice) TotalDue() decimal.Decimal {
	total := inv.Amount
	if inv.LateFee != nil {
		total = total.Add(*inv.LateFee)
	}
	if inv.Interest != nil {
		total = total.Add(*inv.Interest)
	}
	return total
}

// SeedStatus returns the status a freshly created invoice should carry:
// LATE when its resolved due date is already strictly in the past.
func SeedStatus(dueDate, today Date) InvoiceStatus {
	if dueDate.Before(today) {
		return StatusLate
	}
	return StatusPending
}
