package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger/internal/notify"
	sheetsmem "ledger/internal/sheets/memory"
	"ledger/internal/stats"
)

type staticInsights []string

func (s staticInsights) MonthlyInsightsOrFallback(context.Context, string, stats.MonthlyStats) []string {
	return s
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{day(2024, 3, 1), day(2024, 2, 1)},
		{day(2024, 1, 15), day(2023, 12, 1)},
		{time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC), day(2024, 2, 1)},
	}
	for _, tt := range tests {
		if got := PreviousMonth(tt.now); !got.Equal(tt.want) {
			t.Errorf("PreviousMonth(%s) = %s, want %s", tt.now, got, tt.want)
		}
	}
}

func TestReportGeneratorSendsPreviousMonth(t *testing.T) {
	f := newFixture(t)
	acc := f.user(t, "u1")
	f.user(t, "u2")
	f.expense(t, "u1", acc.ID, "40", day(2024, 2, 3))
	f.expense(t, "u1", acc.ID, "10", day(2024, 3, 1)) // reporting month excludes this

	n := &fakeNotifier{}
	sheet := sheetsmem.New()
	gen := NewReportGenerator(f.store, staticInsights{"Keep it up"}, n, sheet)

	res, err := gen.Run(context.Background(), day(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Users != 2 || res.Sent != 2 || res.Exported != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	var u1 notify.MonthlyReportData
	for _, msg := range n.sent {
		if msg.To == "u1@example.com" {
			u1 = msg.Data.(notify.MonthlyReportData)
			if msg.Subject != "Your Monthly Financial Report - February 2024" {
				t.Errorf("subject = %q", msg.Subject)
			}
		}
	}
	if u1.TotalExpenses != "40.00" || u1.Month != "February 2024" || len(u1.Insights) != 1 {
		t.Errorf("u1 report = %+v", u1)
	}
	if len(u1.Categories) != 1 || u1.Categories[0].Category != "groceries" {
		t.Errorf("categories = %+v", u1.Categories)
	}

	rows := sheet.Rows()
	if len(rows) != 2 {
		t.Fatalf("exported rows = %d", len(rows))
	}
}

func TestReportGeneratorIsolatesSendFailures(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	f.user(t, "u2")

	gen := NewReportGenerator(f.store, staticInsights{"x"}, &fakeNotifier{err: errors.New("smtp down")}, nil)
	res, err := gen.Run(context.Background(), day(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Users != 2 || res.Failed != 2 || res.Sent != 0 || res.Exported != 0 {
		t.Fatalf("result = %+v", res)
	}
}
