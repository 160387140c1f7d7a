package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ledger/internal/core"
)

func TestRenderBudgetAlert(t *testing.T) {
	body, err := Render(TemplateBudgetAlert, BudgetAlertData{
		UserName:      "Ada",
		AccountName:   "Main",
		PercentUsed:   "85.0",
		BudgetAmount:  "1000.00",
		TotalExpenses: "850.00",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Hello Ada", "85.0%", "Main", "1000.00", "850.00"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRenderMonthlyReportEscapes(t *testing.T) {
	body, err := Render(TemplateMonthlyReport, MonthlyReportData{
		UserName:   "<b>x</b>",
		Month:      "March 2024",
		Categories: []CategoryLine{{Category: "groceries", Amount: "120.00"}},
		Insights:   []string{"Spend less on coffee"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(body, "<b>x</b>") {
		t.Error("user name was not escaped")
	}
	for _, want := range []string{"March 2024", "groceries: 120.00", "Spend less on coffee"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := Render("missing.html", nil); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestLogNotifierSend(t *testing.T) {
	n := NewLogNotifier()
	err := n.Send(context.Background(), Message{
		To:       "ada@example.com",
		Subject:  "Budget Alert for Main",
		Template: TemplateBudgetAlert,
		Data:     BudgetAlertData{UserName: "Ada"},
	})
	if err != nil {
		t.Fatal(err)
	}
}
