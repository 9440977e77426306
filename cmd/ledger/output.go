package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"ledger/internal/core"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRaw(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintf(w, "%s\n", raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func printTransactions(w io.Writer, items []core.Transaction) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No transactions")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "DATE\tTYPE\tCATEGORY\tAMOUNT\tDESCRIPTION\tID")
	for _, tx := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.Date, tx.Type, tx.Category, tx.Amount, tx.DescriptionText(), tx.ID)
	}
	return tw.Flush()
}

func printTransaction(w io.Writer, tx core.Transaction) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID\t%s\n", tx.ID)
	fmt.Fprintf(tw, "Date\t%s\n", tx.Date)
	fmt.Fprintf(tw, "Type\t%s\n", tx.Type)
	fmt.Fprintf(tw, "Category\t%s\n", tx.Category)
	fmt.Fprintf(tw, "Amount\t%s\n", tx.Amount)
	if desc := tx.DescriptionText(); desc != "" {
		fmt.Fprintf(tw, "Description\t%s\n", desc)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s core.DashboardSummary) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Period\t%s (%s to %s)\n", s.Period, s.StartDate, s.EndDate)
	fmt.Fprintf(tw, "Income\t%s\n", s.Balance.TotalIncome)
	fmt.Fprintf(tw, "Expenses\t%s\n", s.Balance.TotalExpenses)
	fmt.Fprintf(tw, "Balance\t%s\n", s.Balance.Balance)
	if shares := s.Shares(); len(shares) > 0 {
		fmt.Fprintln(tw, "\nCATEGORY\tAMOUNT\tSHARE")
		for _, sh := range shares {
			fmt.Fprintf(tw, "%s\t%s\t%s%%\n", sh.Category, sh.Amount, sh.Percent.StringFixed(1))
		}
	}
	return tw.Flush()
}
