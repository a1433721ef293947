/*
conflict.go - Weekly schedule conflict validation

PURPOSE:
  Detects day-of-week + time-range overlap between a student's existing
  active enrollments and a candidate enrollment's weekly slots. Any overlap
  rejects the candidate; the error names the slot it collided with.

OVERLAP TEST:
  Half-open intervals on the same weekday:
    candidate.Start < existing.End && candidate.End > existing.Start
  Back-to-back slots (one ends exactly when the other starts) do not
  conflict.

DEFAULTS:
  A slot without an end time runs for one hour.
  A section with zero slots never participates in conflicts.
*/
package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME OF DAY
// =============================================================================

// TimeOfDay is minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "15:04".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) AddHours(h int) TimeOfDay { return t + TimeOfDay(h*60) }

func (t TimeOfDay) Before(other TimeOfDay) bool { return t < other }
func (t TimeOfDay) After(other TimeOfDay) bool  { return t > other }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// =============================================================================
// WEEKLY SLOT
// =============================================================================

// slotDefaultLength is how long a slot runs when no end time is set.
const slotDefaultLength = 1 // hours

// WeeklySlot is one recurring class meeting: a weekday plus a time range.
// Day uses 1=Monday .. 7=Sunday. (Day, Start) is unique within a section.
type WeeklySlot struct {
	Day   int
	Start TimeOfDay
	// End of 0 means unset; EndOrDefault applies the one-hour default.
	End TimeOfDay
}

func (s WeeklySlot) EndOrDefault() TimeOfDay {
	if s.End == 0 {
		return s.Start.AddHours(slotDefaultLength)
	}
	return s.End
}

// Overlaps reports whether two slots collide: same weekday and intersecting
// half-open time ranges.
func (s WeeklySlot) Overlaps(other WeeklySlot) bool {
	if s.Day != other.Day {
		return false
	}
	return other.Start.Before(s.EndOrDefault()) && other.EndOrDefault().After(s.Start)
}

// DayName returns the weekday name for a 1=Monday..7=Sunday slot day.
func (s WeeklySlot) DayName() string {
	names := []string{"", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	if s.Day >= 1 && s.Day <= 7 {
		return names[s.Day]
	}
	return ""
}

func (s WeeklySlot) String() string {
	return fmt.Sprintf("%s %s-%s", s.DayName(), s.Start, s.EndOrDefault())
}

// =============================================================================
// CONFLICT CHECK
// =============================================================================

// CheckSlotConflict compares every candidate slot against every existing
// slot and returns a ConflictError for the first collision, or nil when the
// candidate set is acceptable. Either set being empty short-circuits to
// acceptance.
func CheckSlotConflict(existing, candidate []WeeklySlot) error {
	if len(existing) == 0 || len(candidate) == 0 {
		return nil
	}
	for _, cand := range candidate {
		for _, ex := range existing {
			if ex.Overlaps(cand) {
				return &ConflictError{Day: ex.Day, Start: ex.Start, End: ex.EndOrDefault()}
			}
		}
	}
	return nil
}
