package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"ledger/internal/core"
)

// Rows past this Y position start a new page. A4 is 297mm high.
const pageBreakY = 270

var pdfColumns = []struct {
	title string
	width float64
	align string
}{
	{"DATE", 24, "C"},
	{"TYPE", 20, "C"},
	{"CATEGORY", 32, "L"},
	{"DESCRIPTION", 76, "L"},
	{"AMOUNT", 30, "R"},
}

// WritePDF renders st as an A4 statement: totals, the expense breakdown
// and the transaction table, repeating the table header on every page.
func WritePDF(w io.Writer, st Statement) error {
	pdf := buildPDF(st)
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func buildPDF(st Statement) *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(false, 14)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	s := st.Summary

	pdf.AddPage()
	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Statement")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s (%s to %s)", s.Period, s.StartDate, s.EndDate))
	pdf.Ln(10)

	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(248, 248, 248)
	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(60, 10, "Income", "1", 0, "C", true, 0, "")
	pdf.CellFormat(60, 10, "Expenses", "1", 0, "C", true, 0, "")
	pdf.CellFormat(62, 10, "Balance", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(60, 10, s.Balance.TotalIncome.String(), "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 10, s.Balance.TotalExpenses.String(), "1", 0, "C", false, 0, "")
	pdf.CellFormat(62, 10, s.Balance.Balance.String(), "1", 1, "C", false, 0, "")
	pdf.Ln(6)

	if shares := s.Shares(); len(shares) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Expenses by category")
		pdf.Ln(9)
		pdf.SetFont("Helvetica", "", 10)
		for _, share := range shares {
			pdf.CellFormat(80, 7, tr(string(share.Category)), "1", 0, "L", false, 0, "")
			pdf.CellFormat(50, 7, share.Amount.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 7, share.Percent.StringFixed(1)+"%", "1", 1, "R", false, 0, "")
		}
		pdf.Ln(6)
	}

	tableHeader(pdf)
	pdf.SetFont("Helvetica", "", 9)
	if len(st.Transactions) == 0 {
		pdf.CellFormat(0, 8, "No transactions in this period", "1", 1, "C", false, 0, "")
	}
	for _, tx := range st.Transactions {
		if pdf.GetY() > pageBreakY {
			pdf.AddPage()
			tableHeader(pdf)
			pdf.SetFont("Helvetica", "", 9)
		}
		amount := tx.Amount.String()
		if tx.Type == core.Expense {
			amount = "-" + amount
		}
		cells := []string{tx.Date.String(), string(tx.Type), string(tx.Category), trimTo(tx.DescriptionText(), 48), amount}
		for i, col := range pdfColumns {
			ln := 0
			if i == len(pdfColumns)-1 {
				ln = 1
			}
			pdf.CellFormat(col.width, 7, tr(cells[i]), "1", ln, col.align, false, 0, "")
		}
	}

	if !st.GeneratedAt.IsZero() {
		pdf.SetY(-18)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 10, "Generated "+st.GeneratedAt.Format(time.RFC3339), "", 0, "C", false, 0, "")
	}
	return pdf
}

func tableHeader(pdf *gofpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(245, 245, 245)
	for i, col := range pdfColumns {
		ln := 0
		if i == len(pdfColumns)-1 {
			ln = 1
		}
		pdf.CellFormat(col.width, 8, col.title, "1", ln, "C", true, 0, "")
	}
}

func trimTo(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "..."
}
