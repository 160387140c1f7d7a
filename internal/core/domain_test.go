package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validTransaction() Transaction {
	return Transaction{
		UserID:    "u1",
		AccountID: "a1",
		Type:      Expense,
		Amount:    decimal.RequireFromString("30.00"),
		Category:  "groceries",
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := validTransaction().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"missing owner", func(tx *Transaction) { tx.UserID = "" }, ErrUnauthorized},
		{"missing account", func(tx *Transaction) { tx.AccountID = "" }, ErrInvalidInput},
		{"bad type", func(tx *Transaction) { tx.Type = "TRANSFER" }, ErrInvalidInput},
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-5) }, ErrInvalidAmount},
		{"zero date", func(tx *Transaction) { tx.Date = time.Time{} }, ErrInvalidInput},
		{"missing category", func(tx *Transaction) { tx.Category = " " }, ErrInvalidInput},
		{"recurring without interval", func(tx *Transaction) { tx.IsRecurring = true }, ErrInvalidRecurrence},
		{"interval without flag", func(tx *Transaction) { tx.RecurringInterval = Monthly }, ErrInvalidRecurrence},
		{"unknown interval", func(tx *Transaction) {
			tx.IsRecurring = true
			tx.RecurringInterval = "HOURLY"
		}, ErrInvalidRecurrence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			if err := tx.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignedAmount(t *testing.T) {
	tx := validTransaction()
	if !tx.SignedAmount().Equal(decimal.RequireFromString("-30")) {
		t.Fatalf("expense should be negative, got %s", tx.SignedAmount())
	}
	tx.Type = Income
	if !tx.SignedAmount().Equal(decimal.RequireFromString("30")) {
		t.Fatalf("income should be positive, got %s", tx.SignedAmount())
	}
}

func TestAccountAndBudgetValidate(t *testing.T) {
	if err := (Account{UserID: "u", Name: "Main", Type: Current}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Account{UserID: "u", Name: "Main", Type: "CHECKING"}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := (Budget{UserID: "u", Amount: decimal.Zero}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
