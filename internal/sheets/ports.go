package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ledger/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionExporter writes a snapshot of transactions to a named
	// sheet, replacing what the sheet held before, so repeated exports of
	// the same period leave one copy of each row.
	TransactionExporter interface {
		ExportTransactions(ctx context.Context, sheet string, txs []core.Transaction) (ref string, err error)
	}
)

// Header is the first row of every exported sheet.
var Header = []any{"Date", "Type", "Category", "Description", "Amount", "ID"}

// Row lays out tx in Header order.
func Row(tx core.Transaction) []any {
	return []any{tx.Date.String(), string(tx.Type), string(tx.Category), tx.DescriptionText(), tx.Amount.Float(), tx.ID}
}

// Rows returns the header followed by one row per transaction.
func Rows(txs []core.Transaction) [][]any {
	out := make([][]any, 0, len(txs)+1)
	out = append(out, Header)
	for _, tx := range txs {
		out = append(out, Row(tx))
	}
	return out
}

// YearPrefixedName prefixes base with year, as in "2025 Transactions",
// unless base already starts with a year.
func YearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// PeriodSheetName names the sheet holding one period's snapshot, for
// example "2025 Transactions monthly 2025-03-01".
func PeriodSheetName(base string, w core.PeriodWindow) string {
	name := YearPrefixedName(base, w.StartDate.Year())
	return fmt.Sprintf("%s %s %s", name, w.Period, w.StartDate)
}
