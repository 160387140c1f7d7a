// Package memory is an in-process ReportWriter used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"ledger/internal/core"
	ports "ledger/internal/sheets"
)

var _ ports.ReportWriter = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	rows []ports.ReportRow
}

func New() *Store {
	return &Store{}
}

// AppendReport stores the row and returns a synthetic row reference.
func (s *Store) AppendReport(_ context.Context, row ports.ReportRow) (string, error) {
	if row.UserID == "" || row.Month.IsZero() {
		return "", fmt.Errorf("%w: report row needs a user and a month", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []ports.ReportRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ReportRow(nil), s.rows...)
}
