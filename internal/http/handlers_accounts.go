package http

import (
	"net/http"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	in, err := req.Input()
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	a, err := s.ledger.CreateAccount(r.Context(), ownerFrom(r.Context()), in)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(toAccountResponse(a)).Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.ListAccounts(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, txs, err := s.ledger.GetAccountWithTransactions(r.Context(), r.PathValue("id"), ownerFrom(r.Context()))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(struct {
		accountResponse
		Transactions []transactionResponse `json:"transactions"`
	}{toAccountResponse(a), toTransactionResponses(txs)}).Write(w)
}

func (s *Server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.SetDefaultAccount(r.Context(), r.PathValue("id"), ownerFrom(r.Context()))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(toAccountResponse(a)).Write(w)
}
