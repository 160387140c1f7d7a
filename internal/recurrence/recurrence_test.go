package recurrence

import (
	"errors"
	"testing"
	"time"

	"ledger/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextDate(t *testing.T) {
	tests := []struct {
		name     string
		date     time.Time
		interval core.RecurringInterval
		want     time.Time
	}{
		{"daily", day(2024, 1, 31), core.Daily, day(2024, 2, 1)},
		{"daily year end", day(2023, 12, 31), core.Daily, day(2024, 1, 1)},
		{"weekly", day(2024, 2, 26), core.Weekly, day(2024, 3, 4)},
		{"monthly", day(2024, 1, 15), core.Monthly, day(2024, 2, 15)},
		{"monthly leap february", day(2024, 1, 31), core.Monthly, day(2024, 2, 29)},
		{"monthly common february", day(2023, 1, 31), core.Monthly, day(2023, 2, 28)},
		{"monthly to 30 day month", day(2024, 3, 31), core.Monthly, day(2024, 4, 30)},
		{"monthly december", day(2024, 12, 10), core.Monthly, day(2025, 1, 10)},
		{"yearly", day(2023, 6, 1), core.Yearly, day(2024, 6, 1)},
		{"yearly from leap day", day(2024, 2, 29), core.Yearly, day(2025, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDate(tt.date, tt.interval)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextDate() = %s, want %s", got.Format(time.DateOnly), tt.want.Format(time.DateOnly))
			}
		})
	}
}

func TestNextDatePreservesTimeOfDay(t *testing.T) {
	in := time.Date(2024, 1, 31, 14, 30, 0, 0, time.UTC)
	got, _ := NextDate(in, core.Monthly)
	if got.Hour() != 14 || got.Minute() != 30 {
		t.Fatalf("expected time of day preserved, got %s", got)
	}
}

func TestNextDateUnknownInterval(t *testing.T) {
	_, err := NextDate(day(2024, 1, 1), "HOURLY")
	if !errors.Is(err, core.ErrInvalidRecurrence) {
		t.Fatalf("expected ErrInvalidRecurrence, got %v", err)
	}
}

func TestNextAfter(t *testing.T) {
	tests := []struct {
		name     string
		anchor   time.Time
		interval core.RecurringInterval
		after    time.Time
		want     time.Time
	}{
		{"skips the current cycle", day(2024, 1, 15), core.Monthly, day(2024, 2, 16), day(2024, 3, 15)},
		{"on the due date", day(2024, 1, 15), core.Monthly, day(2024, 2, 15), day(2024, 3, 15)},
		{"backlog of months", day(2023, 1, 15), core.Monthly, day(2024, 2, 16), day(2024, 3, 15)},
		{"month end does not drift", day(2024, 1, 31), core.Monthly, day(2024, 3, 1), day(2024, 3, 31)},
		{"future anchor", day(2024, 5, 1), core.Monthly, day(2024, 2, 1), day(2024, 6, 1)},
		{"daily backlog", day(2024, 1, 1), core.Daily, day(2024, 3, 10), day(2024, 3, 11)},
		{"weekly", day(2024, 1, 1), core.Weekly, day(2024, 1, 20), day(2024, 1, 22)},
		{"yearly", day(2020, 2, 29), core.Yearly, day(2023, 3, 1), day(2024, 2, 29)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextAfter(tt.anchor, tt.interval, tt.after)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextAfter() = %s, want %s", got.Format(time.DateOnly), tt.want.Format(time.DateOnly))
			}
		})
	}
}

func TestNextAfterEqualsNextDateAtAnchor(t *testing.T) {
	for interval := range steppers {
		anchor := day(2024, 1, 31)
		a, _ := NextAfter(anchor, interval, anchor)
		b, _ := NextDate(anchor, interval)
		if !a.Equal(b) {
			t.Errorf("%s: NextAfter(anchor, anchor) = %s, NextDate = %s", interval, a, b)
		}
	}
}

func TestIsDue(t *testing.T) {
	now := day(2024, 2, 16)
	past := day(2024, 2, 15)
	future := day(2024, 3, 15)
	processed := day(2024, 1, 15)

	tests := []struct {
		name string
		tx   core.Transaction
		want bool
	}{
		{"never processed", core.Transaction{IsRecurring: true, NextRecurringDate: &future}, true},
		{"next date passed", core.Transaction{IsRecurring: true, LastProcessed: &processed, NextRecurringDate: &past}, true},
		{"next date is now", core.Transaction{IsRecurring: true, LastProcessed: &processed, NextRecurringDate: &now}, true},
		{"next date ahead", core.Transaction{IsRecurring: true, LastProcessed: &processed, NextRecurringDate: &future}, false},
		{"not recurring", core.Transaction{LastProcessed: nil}, false},
		{"processed without next date", core.Transaction{IsRecurring: true, LastProcessed: &processed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.tx, now); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}
