/*
enrollment.go - Enrollment, student and class-section models

PURPOSE:
  An Enrollment assigns a student to a class section for a bounded date
  range with monetary terms. The end date is never user-supplied: it derives
  from the start date through a fixed duration table keyed by instrument
  category (vocal vs. other) and lesson frequency.

DURATION TABLE:
  vocal, 2 lessons/week  ->  3 months
  vocal, 1 lesson/week   ->  6 months
  other, 2 lessons/week  -> 12 months
  other, 1 lesson/week   -> 24 months

OWNERSHIP:
  An enrollment owns its generated invoices (cascading delete); invoices
  hold a back-reference by id only, so there is no object cycle.
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIRECTORY TYPES - Snapshot of what the directory service owns
// =============================================================================

type Student struct {
	ID        StudentID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// ClassSection is a recurring weekly class: an instrument, an instructor,
// a capacity and one or more weekly slots.
type ClassSection struct {
	ID         SectionID
	Instrument string
	// Vocal marks the "vocal" instrument category, which uses the short
	// course durations.
	Vocal      bool
	Instructor string
	// Capacity of 0 means unlimited.
	Capacity  int
	Slots     []WeeklySlot
	CreatedAt time.Time
}

// =============================================================================
// ENROLLMENT
// =============================================================================

type Enrollment struct {
	ID        EnrollmentID
	StudentID StudentID
	SectionID SectionID

	StartDate Date
	// EndDate is derived from StartDate via CourseEndDate, never supplied.
	EndDate Date

	LessonsPerWeek int

	// MonthlyAmount and DueDay are the billing terms. Either may be absent
	// (nil / 0), in which case no invoices are generated for the enrollment.
	MonthlyAmount *decimal.Decimal
	DueDay        int

	Active    bool
	CreatedAt time.Time
}

// CourseLengthMonths returns the course duration from the fixed table.
// Any lesson frequency other than 2 falls into the 1x/week bucket.
func CourseLengthMonths(vocal bool, lessonsPerWeek int) int {
	if vocal {
		if lessonsPerWeek == 2 {
			return 3
		}
		return 6
	}
	if lessonsPerWeek == 2 {
		return 12
	}
	return 24
}

// CourseEndDate derives the enrollment end date from the duration table.
func CourseEndDate(startDate Date, lessonsPerWeek int, vocal bool) Date {
	return startDate.AddMonths(CourseLengthMonths(vocal, lessonsPerWeek))
}

// InferLessonsPerWeek derives the lesson frequency from a section's weekly
// slots when the caller did not supply one: two or more slots count as
// twice a week, anything else as once.
func InferLessonsPerWeek(slots []WeeklySlot) int {
	if len(slots) >= 2 {
		return 2
	}
	return 1
}
