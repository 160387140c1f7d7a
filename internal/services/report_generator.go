package services

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/notify"
	"ledger/internal/sheets"
	"ledger/internal/stats"
	"ledger/internal/storage"
)

// InsightSource produces advice for a month of statistics and never fails.
type InsightSource interface {
	MonthlyInsightsOrFallback(ctx context.Context, ownerID string, st stats.MonthlyStats) []string
}

// ReportResult counts what one monthly report run did.
type ReportResult struct {
	Users    int
	Sent     int
	Exported int
	Failed   int
}

// ReportGenerator emails every user a summary of the previous month and
// optionally appends it to a spreadsheet.
type ReportGenerator struct {
	store    storage.Store
	stats    *stats.Aggregator
	insights InsightSource
	notifier notify.Notifier
	sheet    sheets.ReportWriter
	logger   *log.Logger
}

// NewReportGenerator builds a generator; sheet may be nil.
func NewReportGenerator(store storage.Store, insights InsightSource, notifier notify.Notifier, sheet sheets.ReportWriter) *ReportGenerator {
	return &ReportGenerator{
		store:    store,
		stats:    stats.NewAggregator(store),
		insights: insights,
		notifier: notifier,
		sheet:    sheet,
		logger:   log.For(log.ComponentReport),
	}
}

// PreviousMonth is the first instant of the calendar month before now.
func PreviousMonth(now time.Time) time.Time {
	return stats.MonthStart(now).AddDate(0, -1, 0)
}

func (g *ReportGenerator) Run(ctx context.Context, now time.Time) (ReportResult, error) {
	var users []core.User
	err := g.store.View(ctx, func(tx storage.Tx) error {
		var err error
		users, err = tx.ListUsers(ctx)
		return err
	})
	if err != nil {
		return ReportResult{}, fmt.Errorf("list users: %w", err)
	}

	month := PreviousMonth(now)
	res := ReportResult{Users: len(users)}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		exported, err := g.report(ctx, u, month)
		if exported {
			res.Exported++
		}
		if err != nil {
			res.Failed++
			g.logger.ErrorContext(ctx, "Monthly report failed",
				log.FieldOwnerID, u.ID,
				log.FieldError, err)
			continue
		}
		res.Sent++
	}

	if res.Failed > 0 {
		g.logger.ErrorContext(ctx, "Monthly reports finished with failures",
			"users", res.Users, "sent", res.Sent, "failed", res.Failed)
	} else {
		g.logger.InfoContext(ctx, "Monthly reports finished",
			"users", res.Users, "sent", res.Sent, "exported", res.Exported)
	}
	return res, nil
}

func (g *ReportGenerator) report(ctx context.Context, u core.User, month time.Time) (bool, error) {
	st, err := g.stats.MonthlyStats(ctx, u.ID, month)
	if err != nil {
		return false, err
	}

	exported := false
	if g.sheet != nil {
		row := sheets.ReportRow{
			Month:         month,
			UserID:        u.ID,
			Email:         u.Email,
			TotalIncome:   st.TotalIncome,
			TotalExpenses: st.TotalExpenses,
			Count:         st.Count,
		}
		if cats := st.Categories(); len(cats) > 0 {
			row.TopCategory = cats[0].Category
		}
		if _, err := g.sheet.AppendReport(ctx, row); err != nil {
			g.logger.WarnContext(ctx, "Report export failed",
				log.FieldOwnerID, u.ID,
				log.FieldError, err)
		} else {
			exported = true
		}
	}

	data := notify.MonthlyReportData{
		UserName:      u.Name,
		Month:         month.Format("January 2006"),
		TotalIncome:   st.TotalIncome.StringFixed(2),
		TotalExpenses: st.TotalExpenses.StringFixed(2),
		Net:           st.Net().StringFixed(2),
		Insights:      g.insights.MonthlyInsightsOrFallback(ctx, u.ID, st),
	}
	for _, c := range st.Categories() {
		data.Categories = append(data.Categories, notify.CategoryLine{Category: c.Category, Amount: c.Amount.StringFixed(2)})
	}

	err = g.notifier.Send(ctx, notify.Message{
		To:       u.Email,
		Subject:  "Your Monthly Financial Report - " + data.Month,
		Template: notify.TemplateMonthlyReport,
		Data:     data,
	})
	if err != nil {
		return exported, fmt.Errorf("send monthly report: %w", err)
	}
	return exported, nil
}
