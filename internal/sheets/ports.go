// Package sheets exports monthly report summaries to a spreadsheet.
package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReportRow is one user's monthly summary.
type ReportRow struct {
	Month         time.Time
	UserID        string
	Email         string
	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal
	Count         int
	TopCategory   string
}

// Net is income minus expenses.
func (r ReportRow) Net() decimal.Decimal {
	return r.TotalIncome.Sub(r.TotalExpenses)
}

// Values is the row as written to the sheet, column A onwards.
func (r ReportRow) Values() []any {
	return []any{
		r.Month.Format("2006-01"),
		r.UserID,
		r.Email,
		r.TotalIncome.StringFixed(2),
		r.TotalExpenses.StringFixed(2),
		r.Net().StringFixed(2),
		r.Count,
		r.TopCategory,
	}
}

type ReportWriter interface {
	AppendReport(ctx context.Context, row ReportRow) (rowRef string, err error)
}
