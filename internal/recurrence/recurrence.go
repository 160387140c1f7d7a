// Package recurrence computes schedules for recurring transactions.
//
// Every interval has a stepper that knows how to move a date forward by a
// whole number of calendar units. Month and year steps clamp to the last
// valid day of the target month, so 31 January plus one month is the end of
// February. All functions are pure.
package recurrence

import (
	"fmt"
	"time"

	"ledger/internal/core"
)

// Stepper advances a date by n calendar units of one interval.
type Stepper interface {
	Step(anchor time.Time, n int) time.Time
	// Estimate returns a lower bound on the number of steps between from and to.
	Estimate(from, to time.Time) int
}

type dayStepper struct{ days int }

func (s dayStepper) Step(anchor time.Time, n int) time.Time {
	return anchor.AddDate(0, 0, n*s.days)
}

func (s dayStepper) Estimate(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24)/s.days - 1
}

type monthStepper struct{ months int }

func (s monthStepper) Step(anchor time.Time, n int) time.Time {
	return addMonthsClamped(anchor, n*s.months)
}

func (s monthStepper) Estimate(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	return months/s.months - 1
}

var steppers = map[core.RecurringInterval]Stepper{
	core.Daily:   dayStepper{days: 1},
	core.Weekly:  dayStepper{days: 7},
	core.Monthly: monthStepper{months: 1},
	core.Yearly:  monthStepper{months: 12},
}

// StepperFor returns the stepper for an interval.
func StepperFor(interval core.RecurringInterval) (Stepper, error) {
	s, ok := steppers[interval]
	if !ok {
		return nil, fmt.Errorf("%w: unknown interval %q", core.ErrInvalidRecurrence, interval)
	}
	return s, nil
}

// NextDate advances date by exactly one unit of interval.
func NextDate(date time.Time, interval core.RecurringInterval) (time.Time, error) {
	s, err := StepperFor(interval)
	if err != nil {
		return time.Time{}, err
	}
	return s.Step(date, 1), nil
}

// NextAfter returns the first occurrence of the series anchored at anchor
// that falls strictly after the given instant. The anchor itself is never
// returned. Occurrences are always computed from the anchor, so a series
// starting on the 31st keeps landing on month ends instead of drifting to
// the 28th after February.
func NextAfter(anchor time.Time, interval core.RecurringInterval, after time.Time) (time.Time, error) {
	s, err := StepperFor(interval)
	if err != nil {
		return time.Time{}, err
	}
	n := 1
	if after.After(anchor) {
		if est := s.Estimate(anchor, after); est > n {
			n = est
		}
	}
	next := s.Step(anchor, n)
	for !next.After(after) {
		n++
		next = s.Step(anchor, n)
	}
	return next, nil
}

// IsDue reports whether a recurring template should be materialized at now.
// A template that was never processed is always due.
func IsDue(tx core.Transaction, now time.Time) bool {
	if !tx.IsRecurring {
		return false
	}
	if tx.LastProcessed == nil {
		return true
	}
	return tx.NextRecurringDate != nil && !tx.NextRecurringDate.After(now)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
