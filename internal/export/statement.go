// Package export renders period statements: the dashboard summary of a
// period together with its transactions, as XLSX or PDF.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/core"
)

// SummaryReader is satisfied by *services.DashboardService.
type SummaryReader interface {
	GetSummaryBetween(ctx context.Context, period core.Period, start, end core.Date) (core.DashboardSummary, error)
}

// TransactionLister is satisfied by *services.TransactionService.
type TransactionLister interface {
	List(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error)
}

// Statement is everything an export shows for one period.
type Statement struct {
	Summary      core.DashboardSummary
	Transactions []core.Transaction
	GeneratedAt  time.Time
}

type StatementBuilder struct {
	Dashboard    SummaryReader
	Transactions TransactionLister
	Now          func() time.Time
}

// Build fetches the summary and the transactions of the period containing
// today. Both requests run concurrently; the first failure cancels the
// other. Transactions are ordered by date, oldest first.
func (b StatementBuilder) Build(ctx context.Context, period core.Period, today core.Date) (Statement, error) {
	if err := period.Validate(); err != nil {
		return Statement{}, err
	}
	start, end := period.Range(today)

	var st Statement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := b.Dashboard.GetSummaryBetween(gctx, period, start, end)
		if err != nil {
			return fmt.Errorf("statement summary: %w", err)
		}
		st.Summary = summary
		return nil
	})
	g.Go(func() error {
		items, err := b.Transactions.List(gctx, core.TransactionFilter{
			StartDate: start,
			EndDate:   end,
			Limit:     core.MaxListLimit,
		})
		if err != nil {
			return fmt.Errorf("statement transactions: %w", err)
		}
		st.Transactions = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return Statement{}, err
	}

	sort.SliceStable(st.Transactions, func(i, j int) bool {
		return st.Transactions[i].Date.Before(st.Transactions[j].Date.Time)
	})
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	st.GeneratedAt = now()
	return st, nil
}

// Filename suggests a file name such as statement-2025-03-01_2025-03-31.pdf.
func (st Statement) Filename(ext string) string {
	return fmt.Sprintf("statement-%s_%s.%s", st.Summary.StartDate, st.Summary.EndDate, ext)
}
