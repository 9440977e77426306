package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"ledger/internal/core"
)

type fakeDashboard struct {
	start, end core.Date
	err        error
}

func (f *fakeDashboard) GetSummaryBetween(_ context.Context, p core.Period, start, end core.Date) (core.DashboardSummary, error) {
	f.start, f.end = start, end
	if f.err != nil {
		return core.DashboardSummary{}, f.err
	}
	return core.DashboardSummary{
		Balance: core.Totals{
			TotalIncome:   core.MustMoney("50"),
			TotalExpenses: core.MustMoney("30"),
			Balance:       core.MustMoney("20"),
		},
		ExpensesByCategory: []core.CategoryAmount{
			{Category: core.Courses, Amount: core.MustMoney("10")},
			{Category: core.Loyer, Amount: core.MustMoney("20")},
		},
		PeriodWindow: core.PeriodWindow{Period: p, StartDate: start, EndDate: end},
	}, nil
}

type fakeLister struct {
	filter core.TransactionFilter
	items  []core.Transaction
	err    error
}

func (f *fakeLister) List(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func sample() []core.Transaction {
	return []core.Transaction{
		{ID: "b", Type: core.Expense, Category: core.Loyer, Amount: core.MustMoney("20"), Date: core.NewDate(2025, 3, 5)},
		{ID: "a", Type: core.Expense, Category: core.Courses, Amount: core.MustMoney("10"), Date: core.NewDate(2025, 3, 2), Description: core.Description("Épicerie")},
		{ID: "c", Type: core.Income, Category: core.Salaire, Amount: core.MustMoney("50"), Date: core.NewDate(2025, 3, 1)},
	}
}

func TestBuildStatement(t *testing.T) {
	dash := &fakeDashboard{}
	lister := &fakeLister{items: sample()}
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	b := StatementBuilder{Dashboard: dash, Transactions: lister, Now: func() time.Time { return now }}

	st, err := b.Build(context.Background(), core.Monthly, core.NewDate(2025, 3, 14))
	require.NoError(t, err)

	assert.Equal(t, "2025-03-01", dash.start.String())
	assert.Equal(t, "2025-03-31", dash.end.String())
	assert.Equal(t, dash.start, lister.filter.StartDate)
	assert.Equal(t, core.MaxListLimit, lister.filter.Limit)

	require.Len(t, st.Transactions, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{st.Transactions[0].ID, st.Transactions[1].ID, st.Transactions[2].ID})
	assert.Equal(t, now, st.GeneratedAt)
	assert.Equal(t, "statement-2025-03-01_2025-03-31.pdf", st.Filename("pdf"))
}

func TestBuildStatementFailure(t *testing.T) {
	boom := errors.New("boom")
	b := StatementBuilder{Dashboard: &fakeDashboard{}, Transactions: &fakeLister{err: boom}}
	_, err := b.Build(context.Background(), core.Weekly, core.NewDate(2025, 3, 14))
	assert.ErrorIs(t, err, boom)

	_, err = b.Build(context.Background(), "daily", core.NewDate(2025, 3, 14))
	assert.ErrorIs(t, err, core.ErrInvalidPeriod)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sample()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(transactionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, transactionHeaders, rows[0])
	assert.Equal(t, "2025-03-05", rows[1][0])
	assert.Equal(t, "Épicerie", rows[2][3])

	typ, err := f.GetCellType(transactionsSheet, "E2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ, "amounts are numbers")
	raw, err := f.GetCellValue(transactionsSheet, "E3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "10", raw)
}

func TestWriteStatementXLSX(t *testing.T) {
	b := StatementBuilder{Dashboard: &fakeDashboard{}, Transactions: &fakeLister{items: sample()}}
	st, err := b.Build(context.Background(), core.Monthly, core.NewDate(2025, 3, 14))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteStatementXLSX(&buf, st))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, transactionsSheet}, f.GetSheetList())
	period, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "monthly", period)
	balance, err := f.GetCellValue(summarySheet, "B7", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "20", balance)
	share, err := f.GetCellValue(summarySheet, "C11", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "66.7", share)
}

func TestWritePDF(t *testing.T) {
	st := Statement{
		Summary: core.DashboardSummary{
			PeriodWindow: core.PeriodWindow{Period: core.Yearly, StartDate: core.NewDate(2025, 1, 1), EndDate: core.NewDate(2025, 12, 31)},
		},
		GeneratedAt: time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, st))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Equal(t, 1, buildPDF(st).PageCount())
}

func TestPDFBreaksPages(t *testing.T) {
	st := Statement{Summary: core.DashboardSummary{PeriodWindow: core.PeriodWindow{Period: core.Yearly}}}
	for i := 0; i < 120; i++ {
		st.Transactions = append(st.Transactions, core.Transaction{
			ID:          fmt.Sprint(i),
			Type:        core.Expense,
			Category:    core.Courses,
			Amount:      core.MustMoney("1.5"),
			Date:        core.NewDate(2025, 1, 1).AddDays(i),
			Description: core.Description("a rather long description that will be trimmed before it reaches the table cell"),
		})
	}

	pdf := buildPDF(st)
	require.NoError(t, pdf.Error())
	assert.Greater(t, pdf.PageCount(), 2)
}

func TestTrimTo(t *testing.T) {
	assert.Equal(t, "short", trimTo("  short ", 10))
	assert.Equal(t, "abcd...", trimTo("abcdefgh", 5))
}
