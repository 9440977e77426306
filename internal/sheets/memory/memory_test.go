package memory

import (
	"context"
	"testing"

	"ledger/internal/core"
)

func TestExportReplacesSheet(t *testing.T) {
	s := New()
	ctx := context.Background()
	txs := []core.Transaction{
		{ID: "1", Type: core.Expense, Category: core.Courses, Amount: core.MustMoney("3"), Date: core.NewDate(2025, 3, 1)},
		{ID: "2", Type: core.Income, Category: core.Salaire, Amount: core.MustMoney("9"), Date: core.NewDate(2025, 3, 2)},
	}

	ref, err := s.ExportTransactions(ctx, "March", txs)
	if err != nil || ref != "mem:March!A1:F3" {
		t.Fatalf("unexpected export: ref=%q err=%v", ref, err)
	}
	if _, err := s.ExportTransactions(ctx, "March", txs[:1]); err != nil {
		t.Fatalf("second export: %v", err)
	}

	rows := s.Sheet("March")
	if len(rows) != 2 {
		t.Fatalf("expected header and one row after replace, got %d rows", len(rows))
	}
	if rows[1][5] != "1" {
		t.Fatalf("unexpected row: %v", rows[1])
	}
	if s.Writes() != 2 {
		t.Fatalf("Writes = %d, want 2", s.Writes())
	}
}

func TestExportRequiresSheetName(t *testing.T) {
	if _, err := New().ExportTransactions(context.Background(), " ", nil); err == nil {
		t.Fatal("expected error for blank sheet name")
	}
}
