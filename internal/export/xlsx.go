package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"ledger/internal/core"
)

const (
	transactionsSheet = "Transactions"
	summarySheet      = "Summary"
)

var transactionHeaders = []string{"Date", "Type", "Category", "Description", "Amount", "ID"}

// WriteXLSX writes txs as one sheet with a header row. Amounts are numeric
// cells.
func WriteXLSX(w io.Writer, txs []core.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", transactionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeTransactions(f, txs); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// WriteStatementXLSX adds a summary sheet in front of the transactions.
func WriteStatementXLSX(w io.Writer, st Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSummary(f, st.Summary); err != nil {
		return err
	}
	if _, err := f.NewSheet(transactionsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeTransactions(f, st.Transactions); err != nil {
		return err
	}
	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeTransactions(f *excelize.File, txs []core.Transaction) error {
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	amountStyle, err := amountStyle(f)
	if err != nil {
		return err
	}

	header := make([]any, len(transactionHeaders))
	for i, h := range transactionHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(transactionsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(transactionsSheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, tx := range txs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{tx.Date.String(), string(tx.Type), string(tx.Category), tx.DescriptionText(), tx.Amount.Float(), tx.ID}
		if err := f.SetSheetRow(transactionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if len(txs) > 0 {
		last, _ := excelize.CoordinatesToCellName(5, len(txs)+1)
		if err := f.SetCellStyle(transactionsSheet, "E2", last, amountStyle); err != nil {
			return fmt.Errorf("style amounts: %w", err)
		}
	}

	widths := map[string]float64{"A": 12, "B": 10, "C": 16, "D": 40, "E": 12, "F": 38}
	for col, width := range widths {
		if err := f.SetColWidth(transactionsSheet, col, col, width); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, s core.DashboardSummary) error {
	style, err := amountStyle(f)
	if err != nil {
		return err
	}
	rows := [][]any{
		{"Period", string(s.Period)},
		{"From", s.StartDate.String()},
		{"To", s.EndDate.String()},
		{},
		{"Total income", s.Balance.TotalIncome.Float()},
		{"Total expenses", s.Balance.TotalExpenses.Float()},
		{"Balance", s.Balance.Balance.Float()},
		{},
		{"Category", "Amount", "Share %"},
	}
	for _, share := range s.Shares() {
		pct, _ := share.Percent.Float64()
		rows = append(rows, []any{string(share.Category), share.Amount.Float(), pct})
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "B5", "B7", style); err != nil {
		return fmt.Errorf("style totals: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "A", 18)
}

func amountStyle(f *excelize.File) (int, error) {
	format := "#,##0.00"
	id, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return 0, fmt.Errorf("amount style: %w", err)
	}
	return id, nil
}
