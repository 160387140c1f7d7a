package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"ledger/internal/core"
	"ledger/internal/insight"
	"ledger/internal/stats"
)

const maxReceiptBytes = 5 << 20

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParams(r.URL.Query(), s.now().In(s.loc))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	var opts []stats.Option
	if accountID := strings.TrimSpace(r.URL.Query().Get("accountId")); accountID != "" {
		opts = append(opts, stats.WithAccount(accountID))
	}
	st, err := s.stats.MonthlyStats(r.Context(), ownerFrom(r.Context()), month, opts...)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(toStatsResponse(month, st)).Write(w)
}

// handleInsights returns model-written observations on a month. Model
// failures degrade to the fallback list.
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	month, err := ParseMonthParams(r.URL.Query(), s.now().In(s.loc))
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	owner := ownerFrom(r.Context())
	st, err := s.stats.MonthlyStats(r.Context(), owner, month)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(map[string]any{
		"month":    month.Format("2006-01"),
		"insights": s.insights.MonthlyInsightsOrFallback(r.Context(), owner, st),
	}).Write(w)
}

// handleScanReceipt extracts a draft transaction from an uploaded receipt
// image sent as the multipart field "receipt".
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if s.insights == nil {
		ErrorResponse(http.StatusServiceUnavailable, "receipt scanning is not configured").Write(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBytes+1024)
	file, header, err := r.FormFile("receipt")
	if err != nil {
		ErrorFrom(r, fmt.Errorf("%w: receipt image is required", core.ErrInvalidInput)).Write(w)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes+1))
	if err != nil {
		ErrorFrom(r, fmt.Errorf("%w: read receipt: %v", core.ErrInvalidInput, err)).Write(w)
		return
	}
	if len(image) > maxReceiptBytes {
		ErrorFrom(r, fmt.Errorf("%w: receipt image exceeds 5MB", core.ErrInvalidInput)).Write(w)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}
	receipt, err := s.insights.ScanReceipt(r.Context(), image, mimeType)
	if err != nil {
		ErrorFrom(r, err).Write(w)
		return
	}
	NewJSONResponse().Data(receiptResponse(receipt)).Write(w)
}

func receiptResponse(rc insight.Receipt) map[string]string {
	return map[string]string{
		"amount":       rc.Amount.StringFixed(core.MoneyScale),
		"date":         rc.Date.Format(dateLayout),
		"description":  rc.Description,
		"merchantName": rc.MerchantName,
		"category":     rc.Category,
	}
}
