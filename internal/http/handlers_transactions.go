package http

import (
	"net/http"

	"ledger/internal/log"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	in, err := req.Input(s.now().In(s.loc))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}

	t, err := s.ledger.CreateTransaction(r.Context(), ownerFrom(r.Context()), in)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	log.FromContext(r.Context()).Fields(log.NewFields().
		WithOperation(log.OpCreate).
		WithTransaction(t.ID, t.AccountID, t.Amount)).
		InfoContext(r.Context(), "Transaction created", "type", t.Type)
	NewJSONResponse().Status(http.StatusCreated).Data(toTransactionResponse(t)).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.ledger.GetTransaction(r.Context(), r.PathValue("id"), ownerFrom(r.Context()))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(toTransactionResponse(t)).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	in, err := req.Input(s.now().In(s.loc))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	t, err := s.ledger.UpdateTransaction(r.Context(), r.PathValue("id"), ownerFrom(r.Context()), in)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(toTransactionResponse(t)).Write(w)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := ParseTransactionFilter(r.URL.Query(), s.loc)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), ownerFrom(r.Context()), f)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(toTransactionResponses(txs)).Write(w)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	n, err := s.ledger.DeleteTransactions(r.Context(), req.IDs, ownerFrom(r.Context()))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transactions deleted",
		log.FieldOperation, log.OpDelete, "count", n)
	NewJSONResponse().Data(map[string]int{"deleted": n}).Write(w)
}
