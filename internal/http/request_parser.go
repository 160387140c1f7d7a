// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for decoding and validating request bodies
// and query parameters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/storage"
)

const maxBodyBytes = 1 << 20

// DecodeJSON reads a single JSON object from the request body into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", core.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON body: %v", core.ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must hold a single JSON object", core.ErrInvalidInput)
	}
	return nil
}

// Amount accepts a JSON number or string such as "12,50".
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = ""
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	*a = Amount(s)
	return nil
}

// TransactionRequest is the body of create and update transaction calls.
type TransactionRequest struct {
	AccountID         string `json:"accountId"`
	Type              string `json:"type"`
	Amount            Amount `json:"amount"`
	Description       string `json:"description"`
	Category          string `json:"category"`
	Date              string `json:"date"`
	IsRecurring       bool   `json:"isRecurring"`
	RecurringInterval string `json:"recurringInterval"`
}

// Input converts the request into ledger input. A missing date means now.
func (req TransactionRequest) Input(now time.Time) (ledger.TransactionInput, error) {
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		return ledger.TransactionInput{}, err
	}
	date := now
	if strings.TrimSpace(req.Date) != "" {
		if date, err = ParseDate(req.Date, now.Location()); err != nil {
			return ledger.TransactionInput{}, err
		}
	}
	return ledger.TransactionInput{
		AccountID:         strings.TrimSpace(req.AccountID),
		Type:              core.TransactionType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Amount:            amount,
		Description:       sanitizeInput(req.Description),
		Category:          sanitizeInput(req.Category),
		Date:              date,
		IsRecurring:       req.IsRecurring,
		RecurringInterval: core.RecurringInterval(strings.ToUpper(strings.TrimSpace(req.RecurringInterval))),
	}, nil
}

// AccountRequest is the body of the create account call.
type AccountRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   Amount `json:"balance"`
	IsDefault bool   `json:"isDefault"`
}

func (req AccountRequest) Input() (ledger.AccountInput, error) {
	balance := decimal.Zero
	if strings.TrimSpace(string(req.Balance)) != "" {
		var err error
		if balance, err = core.ParseBalance(string(req.Balance)); err != nil {
			return ledger.AccountInput{}, err
		}
	}
	return ledger.AccountInput{
		Name:      sanitizeInput(req.Name),
		Type:      core.AccountType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Balance:   balance,
		IsDefault: req.IsDefault,
	}, nil
}

// BudgetRequest is the body of the upsert budget call.
type BudgetRequest struct {
	Amount Amount `json:"amount"`
}

// BulkDeleteRequest is the body of the bulk delete call.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// ParseDate accepts YYYY-MM-DD (midnight in loc) or RFC 3339.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", core.ErrInvalidInput, s)
}

// ParseMonthParams reads year and month from the query, defaulting to the
// month containing now. The result is the first instant of that month in
// now's location.
func ParseMonthParams(query url.Values, now time.Time) (time.Time, error) {
	year, month := now.Year(), int(now.Month())

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1970 || y > 9999 {
			return time.Time{}, fmt.Errorf("%w: invalid year %q", core.ErrInvalidInput, v)
		}
		year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return time.Time{}, fmt.Errorf("%w: invalid month %q", core.ErrInvalidInput, v)
		}
		month = m
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, now.Location()), nil
}

// ParseTransactionFilter reads accountId, type, from, to and limit.
func ParseTransactionFilter(query url.Values, loc *time.Location) (storage.TransactionFilter, error) {
	var f storage.TransactionFilter
	f.AccountID = strings.TrimSpace(query.Get("accountId"))

	if v := strings.TrimSpace(query.Get("type")); v != "" {
		f.Type = core.TransactionType(strings.ToUpper(v))
		if !f.Type.Valid() {
			return f, fmt.Errorf("%w: unknown transaction type %q", core.ErrInvalidInput, v)
		}
	}
	if v := query.Get("from"); v != "" {
		t, err := ParseDate(v, loc)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if v := query.Get("to"); v != "" {
		t, err := ParseDate(v, loc)
		if err != nil {
			return f, err
		}
		f.To = t
	}
	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return f, fmt.Errorf("%w: invalid limit %q", core.ErrInvalidInput, v)
		}
		f.Limit = n
	}
	return f, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
