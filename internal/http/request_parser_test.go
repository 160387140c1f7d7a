package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ledger/internal/core"
)

func TestParseMonthParams(t *testing.T) {
	now := time.Date(2024, 7, 20, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		query   url.Values
		want    string
		wantErr bool
	}{
		{"defaults to current month", url.Values{}, "2024-07-01", false},
		{"both values provided", url.Values{"year": {"2023"}, "month": {"12"}}, "2023-12-01", false},
		{"only month", url.Values{"month": {"2"}}, "2024-02-01", false},
		{"month out of range", url.Values{"month": {"13"}}, "", true},
		{"non-numeric year", url.Values{"year": {"abc"}}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMonthParams(tt.query, now)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidInput) {
					t.Errorf("error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseMonthParams() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skip("tzdata not available")
	}
	d, err := ParseDate(" 2024-03-31 ", rome)
	if err != nil {
		t.Fatal(err)
	}
	if d.Location() != rome || d.Day() != 31 || d.Hour() != 0 {
		t.Errorf("ParseDate() = %s", d)
	}
	if _, err := ParseDate("2024-03-31T10:00:00Z", rome); err != nil {
		t.Errorf("RFC 3339 should parse: %v", err)
	}
	if _, err := ParseDate("31/03/2024", rome); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("error = %v", err)
	}
}

func TestAmountUnmarshal(t *testing.T) {
	var body struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 12.5, "b": "7,25", "c": null}`), &body); err != nil {
		t.Fatal(err)
	}
	if body.A != "12.5" || body.B != "7,25" || body.C != "" {
		t.Errorf("got %+v", body)
	}
}

func TestTransactionRequestInput(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	req := TransactionRequest{
		AccountID:         " acc-1 ",
		Type:              "expense",
		Amount:            "10,005",
		Description:       "coffee\x00\x07 ",
		Category:          "food",
		IsRecurring:       true,
		RecurringInterval: "weekly",
	}
	in, err := req.Input(now)
	if err != nil {
		t.Fatal(err)
	}
	if in.AccountID != "acc-1" || in.Type != core.Expense || in.RecurringInterval != core.Weekly {
		t.Errorf("input = %+v", in)
	}
	if in.Amount.String() != "10.01" {
		t.Errorf("amount = %s, want 10.01", in.Amount)
	}
	if in.Description != "coffee" {
		t.Errorf("description = %q", in.Description)
	}
	if !in.Date.Equal(now) {
		t.Errorf("date = %s, want now", in.Date)
	}

	req.Amount = "-3"
	if _, err := req.Input(now); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("error = %v, want ErrInvalidAmount", err)
	}
}

func TestAccountRequestInput(t *testing.T) {
	in, err := AccountRequest{Name: "Main", Type: "savings", Balance: "-20.5"}.Input()
	if err != nil {
		t.Fatal(err)
	}
	if in.Type != core.Savings || in.Balance.String() != "-20.5" {
		t.Errorf("input = %+v", in)
	}
	if _, err := (AccountRequest{Name: "x", Balance: "lots"}).Input(); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("error = %v", err)
	}
}

func TestParseTransactionFilter(t *testing.T) {
	f, err := ParseTransactionFilter(url.Values{
		"accountId": {"a1"}, "type": {"income"}, "from": {"2024-01-01"}, "to": {"2024-02-01"}, "limit": {"50"},
	}, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if f.AccountID != "a1" || f.Type != core.Income || f.Limit != 50 || f.From.Month() != time.January || f.To.Month() != time.February {
		t.Errorf("filter = %+v", f)
	}

	for _, q := range []url.Values{{"type": {"transfer"}}, {"limit": {"0"}}, {"from": {"yesterday"}}} {
		if _, err := ParseTransactionFilter(q, time.UTC); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("%v: error = %v", q, err)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"ids": ["a"]}`, false},
		{"empty", ``, true},
		{"trailing object", `{"ids": []}{"ids": []}`, true},
		{"malformed", `{"ids": [`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst BulkDeleteRequest
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrInvalidInput) {
				t.Errorf("error should wrap ErrInvalidInput: %v", err)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  a\x00b\tc\n "); got != "ab\tc" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}
