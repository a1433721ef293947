/*
accrual.go - Late-fee and interest computation for overdue invoices

PURPOSE:
  Pure computation of what an overdue invoice owes on top of its base
  amount: a one-time late fee plus simple daily interest.

POLICY:
  lateFee       = round(amount * 10%, 2)          -- flat, regardless of days
  interestPerDay = round(amount * 1%, 2)
  interest      = round(interestPerDay * daysLate, 2)

  daysLate is whole calendar days from the due date to the reference date,
  clamped at zero. There is no cap on days or on accumulated interest.

IDEMPOTENCE:
  Both values are recomputed from scratch on every call, never accumulated.
  Calling twice with the same reference date yields identical results, which
  is what makes the daily job safe to re-run.

REFERENCE DATE:
  Callers must pass the reference date from JobSchedule.ReferenceDate, not
  "now": the day only counts as elapsed once the daily run hour has passed.

SEE ALSO:
  - clock.go: reference date rule
  - tuition/job.go: the daily batch that applies this
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// moneyScale is the fixed-point scale for all monetary values.
const moneyScale = 2

var (
	lateFeeRate       = decimal.NewFromFloat(0.10)
	dailyInterestRate = decimal.NewFromFloat(0.01)
)

// Accrual is the outcome of one accrual computation.
type Accrual struct {
	DaysLate int
	LateFee  decimal.Decimal
	Interest decimal.Decimal
}

// ComputeAccrual computes the late fee and interest owed on an invoice of
// the given base amount, due on dueDate, as of referenceDate.
// Pure and deterministic; safe to call concurrently.
func ComputeAccrual(amount decimal.Decimal, dueDate, referenceDate Date) Accrual {
	days := referenceDate.DaysSince(dueDate)
	if days < 0 {
		days = 0
	}

	lateFee := amount.Mul(lateFeeRate).Round(moneyScale)
	perDay := amount.Mul(dailyInterestRate).Round(moneyScale)
	interest := perDay.Mul(decimal.NewFromInt(int64(days))).Round(moneyScale)

	return Accrual{DaysLate: days, LateFee: lateFee, Interest: interest}
}
