package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ledger/internal/core"
)

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	b, err := s.ledger.UpsertBudget(r.Context(), ownerFrom(r.Context()), amount)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"id":            b.ID,
		"amount":        b.Amount.StringFixed(core.MoneyScale),
		"lastAlertSent": b.LastAlertSent,
	}).Write(w)
}

// handleCurrentBudget reports the budget against this month's expenses on
// accountId, or on the default account when none is given.
func (s *Server) handleCurrentBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFrom(ctx)

	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		var err error
		if accountID, err = s.defaultAccountID(ctx, owner); err != nil {
			ErrorFrom(r, err).Write(w)
			return
		}
	}

	st, err := s.ledger.CurrentBudget(ctx, owner, accountID, s.now().In(s.loc))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(toBudgetResponse(accountID, st)).Write(w)
}

func (s *Server) defaultAccountID(ctx context.Context, owner string) (string, error) {
	accounts, err := s.ledger.ListAccounts(ctx, owner)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.IsDefault {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("default account: %w", core.ErrNotFound)
}
