/*
clock.go - Wall clock abstraction and the accrual reference-date rule

PURPOSE:
  The daily accrual job counts overdue days against a "reference day" rather
  than the raw current date. The job is scheduled for a fixed local hour
  (default 09:00 America/Recife); until that hour has passed, the current
  day has not "happened" yet for interest purposes. This keeps day counting
  stable when the trigger time jitters around the run hour or the job is
  re-run during the same day.

RULE:
  referenceDay = today(zone)      if localTime >= runHour
               = today(zone) - 1  otherwise

  Status transitions (PENDING -> LATE) use calendar "today" in the zone, not
  the lagged reference day. This asymmetry is a behavioral contract, not an
  implementation detail.
*/
package billing

import "time"

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current instant. The system clock is used in
// production; tests pin a fixed instant.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }

// =============================================================================
// JOB SCHEDULE
// =============================================================================

const (
	// DefaultZone pins "today" for overdue decisions.
	DefaultZone = "America/Recife"
	// DefaultRunHour is the local hour the daily accrual job fires.
	DefaultRunHour = 9
)

// JobSchedule carries the timezone and run hour of the daily accrual job.
type JobSchedule struct {
	Location *time.Location
	RunHour  int
}

// DefaultJobSchedule returns the production schedule: 09:00 America/Recife.
func DefaultJobSchedule() JobSchedule {
	loc, err := time.LoadLocation(DefaultZone)
	if err != nil {
		loc = time.UTC
	}
	return JobSchedule{Location: loc, RunHour: DefaultRunHour}
}

// Today returns the calendar date of now in the job's timezone. Used for the
// PENDING -> LATE transition cutoff.
func (js JobSchedule) Today(now time.Time) Date {
	return DateOf(now.In(js.Location))
}

// ReferenceDate returns the day to count overdue days against: today if the
// run hour has passed in the job's timezone, otherwise yesterday.
func (js JobSchedule) ReferenceDate(now time.Time) Date {
	local := now.In(js.Location)
	today := DateOf(local)
	if local.Hour() < js.RunHour {
		return today.AddDays(-1)
	}
	return today
}
