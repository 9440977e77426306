package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Category Category `json:"category"`
	Amount   Money    `json:"amount"`
}

// Totals is the balance block of the dashboard.
type Totals struct {
	TotalIncome   Money `json:"total_income"`
	TotalExpenses Money `json:"total_expenses"`
	Balance       Money `json:"balance"`
}

// PeriodWindow echoes the window the backend aggregated over.
type PeriodWindow struct {
	Period    Period `json:"period"`
	StartDate Date   `json:"start_date"`
	EndDate   Date   `json:"end_date"`
}

// BalanceReport is the flat /dashboard/balance payload.
type BalanceReport struct {
	Totals
	PeriodWindow
}

// CategoryBreakdown is the /dashboard/expenses-by-category payload.
type CategoryBreakdown struct {
	ExpensesByCategory []CategoryAmount `json:"expenses_by_category"`
	PeriodWindow
}

// DashboardSummary combines totals and the category breakdown. The client
// never reorders or recomputes it.
type DashboardSummary struct {
	Balance            Totals           `json:"balance"`
	ExpensesByCategory []CategoryAmount `json:"expenses_by_category"`
	PeriodWindow
}

// CategoryShare is one slice of the expense chart.
type CategoryShare struct {
	Category Category
	Amount   Money
	Percent  decimal.Decimal
}

// Shares returns the percentage of the breakdown total carried by each
// category, rounded to one decimal, in the order given. It returns nil when
// the total is not positive.
func Shares(items []CategoryAmount) []CategoryShare {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount.Decimal)
	}
	if !total.IsPositive() {
		return nil
	}
	hundred := decimal.NewFromInt(100)
	out := make([]CategoryShare, 0, len(items))
	for _, it := range items {
		out = append(out, CategoryShare{
			Category: it.Category,
			Amount:   it.Amount,
			Percent:  it.Amount.Decimal.Mul(hundred).Div(total).Round(1),
		})
	}
	return out
}

// Shares is Shares over the summary's breakdown.
func (s DashboardSummary) Shares() []CategoryShare {
	return Shares(s.ExpensesByCategory)
}

// Report returns the balance half of the summary.
func (s DashboardSummary) Report() BalanceReport {
	return BalanceReport{Totals: s.Balance, PeriodWindow: s.PeriodWindow}
}

// Breakdown returns the category half of the summary.
func (s DashboardSummary) Breakdown() CategoryBreakdown {
	return CategoryBreakdown{ExpensesByCategory: s.ExpensesByCategory, PeriodWindow: s.PeriodWindow}
}
