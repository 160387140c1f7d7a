package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"

	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"

	Current AccountType = "CURRENT"
	Savings AccountType = "SAVINGS"

	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

type (
	TransactionType   string
	RecurringInterval string
	AccountType       string
	TransactionStatus string

	User struct {
		ID        string
		Email     string
		Name      string
		CreatedAt time.Time
	}

	Account struct {
		ID        string
		UserID    string
		Name      string
		Type      AccountType
		Balance   decimal.Decimal
		IsDefault bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Transaction struct {
		ID          string
		UserID      string
		AccountID   string
		Type        TransactionType
		Amount      decimal.Decimal // always positive, sign comes from Type
		Description string
		Category    string
		Date        time.Time
		Status      TransactionStatus

		IsRecurring       bool
		RecurringInterval RecurringInterval // empty unless IsRecurring
		NextRecurringDate *time.Time
		LastProcessed     *time.Time

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Budget struct {
		ID            string
		UserID        string
		Amount        decimal.Decimal
		LastAlertSent *time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// ProcessingFailure is the durable record of a recurring event that
	// could not be applied within its retry budget.
	ProcessingFailure struct {
		ID            string
		TransactionID string
		UserID        string
		Attempts      int
		Error         string
		FailedAt      time.Time
	}
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

func (a AccountType) Valid() bool {
	return a == Current || a == Savings
}

// Delta returns the signed balance effect of amount for the given type.
func Delta(t TransactionType, amount decimal.Decimal) decimal.Decimal {
	if t == Expense {
		return amount.Neg()
	}
	return amount
}

// SignedAmount is the balance effect of the transaction.
func (t Transaction) SignedAmount() decimal.Decimal {
	return Delta(t.Type, t.Amount)
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, t.Type)
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if strings.TrimSpace(t.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if len(t.Description) > 500 {
		return errors.Join(ErrInvalidInput, errors.New("description too long (max 500 characters)"))
	}
	return ValidateRecurrence(t.IsRecurring, t.RecurringInterval)
}

// ValidateRecurrence checks that the recurring flag and the interval agree.
func ValidateRecurrence(isRecurring bool, interval RecurringInterval) error {
	switch {
	case isRecurring && interval == "":
		return fmt.Errorf("%w: interval is required for recurring transactions", ErrInvalidRecurrence)
	case isRecurring && !interval.Valid():
		return fmt.Errorf("%w: unknown interval %q", ErrInvalidRecurrence, interval)
	case !isRecurring && interval != "":
		return fmt.Errorf("%w: interval set on a non-recurring transaction", ErrInvalidRecurrence)
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrUnauthorized
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: unknown account type %q", ErrInvalidInput, a.Type)
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrUnauthorized
	}
	if !b.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
