package http

import (
	"context"
	"net/http"
	"time"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/stats"
	"ledger/internal/storage"
)

const dateLayout = "2006-01-02"

type accountResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Balance   string    `json:"balance"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Name:      a.Name,
		Type:      string(a.Type),
		Balance:   a.Balance.StringFixed(core.MoneyScale),
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type transactionResponse struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"accountId"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	Description       string     `json:"description"`
	Category          string     `json:"category"`
	Date              time.Time  `json:"date"`
	Status            string     `json:"status"`
	IsRecurring       bool       `json:"isRecurring"`
	RecurringInterval string     `json:"recurringInterval,omitempty"`
	NextRecurringDate *time.Time `json:"nextRecurringDate,omitempty"`
	LastProcessed     *time.Time `json:"lastProcessed,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		AccountID:         t.AccountID,
		Type:              string(t.Type),
		Amount:            t.Amount.StringFixed(core.MoneyScale),
		Description:       t.Description,
		Category:          t.Category,
		Date:              t.Date,
		Status:            string(t.Status),
		IsRecurring:       t.IsRecurring,
		RecurringInterval: string(t.RecurringInterval),
		NextRecurringDate: t.NextRecurringDate,
		LastProcessed:     t.LastProcessed,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func toTransactionResponses(txs []core.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

type budgetResponse struct {
	Budget *struct {
		ID            string     `json:"id"`
		Amount        string     `json:"amount"`
		LastAlertSent *time.Time `json:"lastAlertSent,omitempty"`
	} `json:"budget"`
	AccountID       string `json:"accountId"`
	CurrentExpenses string `json:"currentExpenses"`
	PercentUsed     string `json:"percentUsed"`
}

func toBudgetResponse(accountID string, st ledger.BudgetStatus) budgetResponse {
	resp := budgetResponse{
		AccountID:       accountID,
		CurrentExpenses: st.CurrentExpenses.StringFixed(core.MoneyScale),
		PercentUsed:     st.PercentUsed.StringFixed(1),
	}
	if st.Budget != nil {
		resp.Budget = &struct {
			ID            string     `json:"id"`
			Amount        string     `json:"amount"`
			LastAlertSent *time.Time `json:"lastAlertSent,omitempty"`
		}{st.Budget.ID, st.Budget.Amount.StringFixed(core.MoneyScale), st.Budget.LastAlertSent}
	}
	return resp
}

type categoryResponse struct {
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

type statsResponse struct {
	Month         string             `json:"month"`
	TotalIncome   string             `json:"totalIncome"`
	TotalExpenses string             `json:"totalExpenses"`
	Net           string             `json:"net"`
	Count         int                `json:"transactionCount"`
	ByCategory    []categoryResponse `json:"byCategory"`
}

func toStatsResponse(month time.Time, st stats.MonthlyStats) statsResponse {
	resp := statsResponse{
		Month:         month.Format("2006-01"),
		TotalIncome:   st.TotalIncome.StringFixed(core.MoneyScale),
		TotalExpenses: st.TotalExpenses.StringFixed(core.MoneyScale),
		Net:           st.Net().StringFixed(core.MoneyScale),
		Count:         st.Count,
		ByCategory:    []categoryResponse{},
	}
	for _, c := range st.Categories() {
		resp.ByCategory = append(resp.ByCategory, categoryResponse{c.Category, c.Amount.StringFixed(core.MoneyScale)})
	}
	return resp
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks that the store answers a read-only unit.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]any{
		"tx_create_limiter": s.txCreateLimiter.GetMetrics(),
		"trace":             s.traceMiddleware.GetMetrics(),
		"known_users":       s.knownUsers.Size(),
		"insights":          s.insights != nil,
	}
	err := s.store.View(ctx, func(storage.Tx) error { return nil })
	if err != nil {
		checks["store"] = err.Error()
		ErrorResponse(http.StatusServiceUnavailable, "not ready").Data(checks).Write(w)
		return
	}
	checks["store"] = "ok"
	NewJSONResponse().Data(checks).Write(w)
}
