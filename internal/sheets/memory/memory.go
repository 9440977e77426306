package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ledger/internal/core"
	ports "ledger/internal/sheets"
)

// Store keeps exported sheets in memory. It backs the export worker when
// no spreadsheet is configured, and tests.
type Store struct {
	mu     sync.Mutex
	sheets map[string][][]any
	writes int
}

var _ ports.TransactionExporter = (*Store)(nil)

func New() *Store {
	return &Store{sheets: make(map[string][][]any)}
}

// ExportTransactions replaces the rows of sheet and returns a synthetic
// range reference.
func (s *Store) ExportTransactions(_ context.Context, sheet string, txs []core.Transaction) (string, error) {
	sheet = strings.TrimSpace(sheet)
	if sheet == "" {
		return "", fmt.Errorf("sheet name is required")
	}
	rows := ports.Rows(txs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[sheet] = rows
	s.writes++
	return fmt.Sprintf("mem:%s!A1:F%d", sheet, len(rows)), nil
}

// Sheet returns a copy of the rows of sheet, header included.
func (s *Store) Sheet(name string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sheets[name]
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Writes counts successful exports.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
