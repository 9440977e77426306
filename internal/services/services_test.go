package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/api"
	"ledger/internal/apitest"
	"ledger/internal/core"
	"ledger/internal/session"
)

const (
	email    = "ana@example.com"
	password = "s3cret-pass"
)

type fixture struct {
	backend *apitest.Backend
	store   *session.Store
	client  *api.Client
	auth    *AuthService
	txs     *TransactionService
	dash    *DashboardService
}

func newFixture(t *testing.T, dashCfg DashboardConfig) *fixture {
	t.Helper()
	backend := apitest.New(t)
	backend.AddUser(email, password)

	store, err := session.NewStore(context.Background(), nil, nil)
	require.NoError(t, err)
	client, err := api.New(api.Config{BaseURL: backend.URL()}, store)
	require.NoError(t, err)

	return &fixture{
		backend: backend,
		store:   store,
		client:  client,
		auth:    NewAuthService(client, store, nil),
		txs:     NewTransactionService(client, nil),
		dash:    NewDashboardService(client, dashCfg, nil),
	}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	_, err := f.auth.Login(context.Background(), email, password)
	require.NoError(t, err)
}

func draft(amount string, typ core.TransactionType, cat core.Category, date core.Date) core.TransactionDraft {
	return core.TransactionDraft{
		Amount:   core.MustMoney(amount),
		Type:     typ,
		Category: cat,
		Date:     date,
	}
}

func TestLoginStoresSession(t *testing.T) {
	f := newFixture(t, DashboardConfig{})

	sess, err := f.auth.Login(context.Background(), " "+email+" ", password)
	require.NoError(t, err)

	assert.True(t, sess.Authenticated())
	assert.True(t, f.auth.IsAuthenticated())
	user, ok := f.auth.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, email, user.Email)
	assert.Equal(t, sess.Token, f.store.Token())
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, DashboardConfig{})

	_, err := f.auth.Login(context.Background(), email, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, errors.Is(err, api.ErrUnauthenticated))
	assert.Equal(t, "Incorrect email or password", api.Message(err, "login failed"))
	assert.False(t, f.auth.IsAuthenticated())
}

func TestFailedLoginEndsPreviousSession(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	var rejected bool
	f.client.OnUnauthenticated(func(context.Context) { rejected = true })
	var changes []session.Session
	f.auth.OnSessionChange(func(s session.Session) { changes = append(changes, s) })

	_, err := f.auth.Login(context.Background(), email, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, errors.Is(err, api.ErrUnauthenticated))

	assert.False(t, f.auth.IsAuthenticated())
	assert.Empty(t, f.store.Token())
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Authenticated())
	assert.False(t, rejected)
}

func TestLoginRequiresCredentials(t *testing.T) {
	f := newFixture(t, DashboardConfig{})

	for _, tc := range []struct{ email, password string }{
		{"", password},
		{"   ", password},
		{email, ""},
	} {
		_, err := f.auth.Login(context.Background(), tc.email, tc.password)
		assert.ErrorIs(t, err, api.ErrValidation)
	}
	assert.Zero(t, f.backend.Requests(http.MethodPost, "/auth/login"))
}

func TestLoginNetworkError(t *testing.T) {
	store, err := session.NewStore(context.Background(), nil, nil)
	require.NoError(t, err)
	client, err := api.New(api.Config{BaseURL: "http://127.0.0.1:1/api/v1", Timeout: time.Second}, store)
	require.NoError(t, err)

	_, err = NewAuthService(client, store, nil).Login(context.Background(), email, password)
	assert.ErrorIs(t, err, api.ErrNetwork)
	assert.False(t, store.IsAuthenticated())
}

func TestRegister(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	ctx := context.Background()

	user, err := f.auth.Register(ctx, "bob@example.com", "another-pass")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.NotEmpty(t, user.ID)
	assert.False(t, f.auth.IsAuthenticated(), "registration does not log in")

	_, err = f.auth.Register(ctx, "bob@example.com", "another-pass")
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, "Email already registered", api.Message(err, "registration failed"))

	_, err = f.auth.Register(ctx, "not-an-email", "another-pass")
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, "email: value is not a valid email address", api.Message(err, "registration failed"))
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	var changes int
	f.auth.OnSessionChange(func(session.Session) { changes++ })

	f.auth.Logout(context.Background())
	assert.False(t, f.auth.IsAuthenticated())
	assert.Zero(t, changes)

	f.login(t)
	f.auth.Logout(context.Background())
	f.auth.Logout(context.Background())
	assert.False(t, f.auth.IsAuthenticated())
	assert.Equal(t, 2, changes)
}

func TestTransactionLifecycle(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	ctx := context.Background()

	d := draft("42.50", core.Expense, core.Courses, core.NewDate(2025, 3, 10))
	d.Description = core.Description("groceries")
	created, err := f.txs.Create(ctx, d)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.Amount.Equal(core.MustMoney("42.5")))

	got, err := f.txs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.DescriptionText())

	edit := got.Draft()
	edit.Description = nil
	edit.Category = core.Restaurant
	updated, err := f.txs.Update(ctx, created.ID, edit)
	require.NoError(t, err)
	assert.Nil(t, updated.Description, "null description clears it")
	assert.Equal(t, core.Restaurant, updated.Category)

	list, err := f.txs.List(ctx, core.TransactionFilter{Type: core.Expense})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.txs.Delete(ctx, created.ID))
	err = f.txs.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = f.txs.Get(ctx, created.ID)
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = f.txs.Update(ctx, created.ID, edit)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestCreateRejectsInvalidDraftLocally(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	date := core.NewDate(2025, 3, 10)

	cases := map[string]core.TransactionDraft{
		"zero amount":     {Amount: core.Zero, Type: core.Expense, Category: core.Courses, Date: date},
		"negative amount": draft("-5", core.Expense, core.Courses, date),
		"unknown type":    draft("5", "gift", core.Courses, date),
		"wrong category":  draft("5", core.Income, core.Courses, date),
		"missing date":    draft("5", core.Expense, core.Courses, core.Date{}),
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.txs.Create(context.Background(), d)
			require.Error(t, err)
			assert.ErrorIs(t, err, api.ErrValidation)
		})
	}
	assert.Zero(t, f.backend.Requests(http.MethodPost, "/transactions"))
	assert.Empty(t, f.backend.Transactions())
}

func TestEmptyIDIsRejected(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	ctx := context.Background()

	_, err := f.txs.Get(ctx, "")
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.ErrorIs(t, f.txs.Delete(ctx, "  "), api.ErrValidation)
	_, err = f.txs.Update(ctx, "", draft("1", core.Expense, core.Courses, core.NewDate(2025, 1, 1)))
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestIDIsPathEscaped(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)

	_, err := f.txs.Get(context.Background(), "../budgets")
	assert.ErrorIs(t, err, api.ErrNotFound)
	assert.Zero(t, f.backend.Requests(http.MethodGet, "/budgets"))
}

func TestMutationsNotifyListeners(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	ctx := context.Background()

	var calls int
	unsubscribe := f.txs.OnChange(func(context.Context) { calls++ })

	tx, err := f.txs.Create(ctx, draft("10", core.Expense, core.Loyer, core.NewDate(2025, 3, 1)))
	require.NoError(t, err)
	_, err = f.txs.Update(ctx, tx.ID, tx.Draft())
	require.NoError(t, err)
	require.NoError(t, f.txs.Delete(ctx, tx.ID))
	assert.Equal(t, 3, calls)

	_ = f.txs.Delete(ctx, tx.ID)
	assert.Equal(t, 3, calls, "failed mutations do not notify")

	unsubscribe()
	_, err = f.txs.Create(ctx, draft("10", core.Expense, core.Loyer, core.NewDate(2025, 3, 1)))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUnauthenticatedTransactionCallClearsSession(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	f.backend.RevokeTokens()

	_, err := f.txs.List(context.Background(), core.TransactionFilter{})
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
	assert.False(t, f.auth.IsAuthenticated())
}

func TestSummaryRoundTrip(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	f.backend.Seed(email,
		draft("10.00", core.Expense, core.Courses, core.NewDate(2025, 3, 2)),
		draft("20.00", core.Expense, core.Loyer, core.NewDate(2025, 3, 3)),
		draft("50.00", core.Income, core.Salaire, core.NewDate(2025, 3, 1)),
		draft("99.00", core.Expense, core.Courses, core.NewDate(2025, 2, 1)),
	)

	summary, err := f.dash.GetSummary(context.Background(), core.Monthly)
	require.NoError(t, err)

	assert.True(t, summary.Balance.TotalIncome.Equal(core.MustMoney("50.00")))
	assert.True(t, summary.Balance.TotalExpenses.Equal(core.MustMoney("30.00")))
	assert.True(t, summary.Balance.Balance.Equal(core.MustMoney("20.00")))
	require.Len(t, summary.ExpensesByCategory, 2)
	assert.Equal(t, core.Courses, summary.ExpensesByCategory[0].Category)
	assert.True(t, summary.ExpensesByCategory[0].Amount.Equal(core.MustMoney("10.00")))
	assert.Equal(t, core.Loyer, summary.ExpensesByCategory[1].Category)
	assert.True(t, summary.ExpensesByCategory[1].Amount.Equal(core.MustMoney("20.00")))
	assert.Equal(t, core.Monthly, summary.Period)
	assert.Equal(t, "2025-03-01", summary.StartDate.String())
	assert.Equal(t, "2025-03-31", summary.EndDate.String())
}

func TestBalanceAndBreakdown(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	f.backend.Seed(email,
		draft("12.25", core.Expense, core.Transport, core.NewDate(2025, 3, 11)),
		draft("100", core.Income, core.Freelance, core.NewDate(2025, 3, 12)),
	)
	ctx := context.Background()

	report, err := f.dash.GetBalance(ctx, core.Weekly)
	require.NoError(t, err)
	assert.True(t, report.Balance.Equal(core.MustMoney("87.75")))
	assert.Equal(t, "2025-03-10", report.StartDate.String())

	breakdown, err := f.dash.GetExpensesByCategory(ctx, core.Yearly)
	require.NoError(t, err)
	require.Len(t, breakdown.ExpensesByCategory, 1)
	assert.Equal(t, core.Transport, breakdown.ExpensesByCategory[0].Category)
}

func TestDashboardRejectsInvalidPeriod(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)

	_, err := f.dash.GetSummary(context.Background(), "daily")
	assert.ErrorIs(t, err, api.ErrValidation)
	_, err = f.dash.GetBalance(context.Background(), "")
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Zero(t, f.backend.Requests(http.MethodGet, "/dashboard/summary"))
}

func TestSummaryBetweenUsesWindowedEndpoints(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	f.backend.Seed(email,
		draft("5", core.Expense, core.Sante, core.NewDate(2025, 1, 15)),
		draft("40", core.Income, core.Salaire, core.NewDate(2025, 1, 20)),
		draft("8", core.Expense, core.Courses, core.NewDate(2025, 3, 2)),
	)

	summary, err := f.dash.GetSummaryBetween(context.Background(), core.Monthly,
		core.NewDate(2025, 1, 1), core.NewDate(2025, 1, 31))
	require.NoError(t, err)

	assert.True(t, summary.Balance.TotalIncome.Equal(core.MustMoney("40")))
	assert.True(t, summary.Balance.TotalExpenses.Equal(core.MustMoney("5")))
	assert.True(t, summary.Balance.Balance.Equal(core.MustMoney("35")))
	require.Len(t, summary.ExpensesByCategory, 1)
	assert.Equal(t, core.Sante, summary.ExpensesByCategory[0].Category)
	assert.Equal(t, core.Monthly, summary.Period)
	assert.Equal(t, "2025-01-01", summary.StartDate.String())
	assert.Equal(t, "2025-01-31", summary.EndDate.String())

	assert.Zero(t, f.backend.Requests(http.MethodGet, "/dashboard/summary"))
	assert.Equal(t, 1, f.backend.Requests(http.MethodGet, "/dashboard/balance"))
	assert.Equal(t, 1, f.backend.Requests(http.MethodGet, "/dashboard/expenses-by-category"))

	_, err = f.dash.GetSummaryBetween(context.Background(), core.Monthly,
		core.NewDate(2025, 2, 1), core.NewDate(2025, 1, 1))
	assert.ErrorIs(t, err, api.ErrValidation)
}

func TestSummaryWithoutWindowUsesSummaryEndpoint(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)

	summary, err := f.dash.GetSummaryBetween(context.Background(), core.Monthly, core.Date{}, core.Date{})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", summary.StartDate.String())

	assert.Equal(t, 1, f.backend.Requests(http.MethodGet, "/dashboard/summary"))
	assert.Zero(t, f.backend.Requests(http.MethodGet, "/dashboard/balance"))
	assert.Zero(t, f.backend.Requests(http.MethodGet, "/dashboard/expenses-by-category"))
}

func TestSummaryBetweenFailsWhenEitherHalfFails(t *testing.T) {
	f := newFixture(t, DashboardConfig{CacheTTL: time.Minute, CacheSize: 4})
	f.login(t)
	f.backend.Fail(http.MethodGet, "/dashboard/expenses-by-category", http.StatusInternalServerError, "database unavailable")

	_, err := f.dash.GetSummaryBetween(context.Background(), core.Monthly,
		core.NewDate(2025, 1, 1), core.NewDate(2025, 1, 31))
	var httpErr *api.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
	assert.Zero(t, f.dash.Cache().Size())
}

// invalidatingBackend purges the dashboard cache while a request is in
// flight, as a mutation listener would.
type invalidatingBackend struct {
	Backend
	dash  *DashboardService
	purge bool
}

func (b *invalidatingBackend) Send(ctx context.Context, req api.Request, out any) error {
	err := b.Backend.Send(ctx, req, out)
	if b.purge {
		b.dash.Invalidate()
	}
	return err
}

func TestSummaryFetchedAcrossInvalidateIsNotCached(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	backend := &invalidatingBackend{Backend: f.client, purge: true}
	dash := NewDashboardService(backend, DashboardConfig{CacheTTL: time.Minute, CacheSize: 4}, nil)
	backend.dash = dash
	ctx := context.Background()

	_, err := dash.GetSummary(ctx, core.Monthly)
	require.NoError(t, err)
	assert.Zero(t, dash.Cache().Size())

	_, err = dash.GetSummary(ctx, core.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 2, f.backend.Requests(http.MethodGet, "/dashboard/summary"))

	backend.purge = false
	_, err = dash.GetSummary(ctx, core.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, dash.Cache().Size())
}

func TestSummaryCache(t *testing.T) {
	f := newFixture(t, DashboardConfig{CacheTTL: time.Minute, CacheSize: 4})
	f.login(t)
	ctx := context.Background()

	_, err := f.dash.GetSummary(ctx, core.Monthly)
	require.NoError(t, err)
	_, err = f.dash.GetSummary(ctx, core.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 1, f.backend.Requests(http.MethodGet, "/dashboard/summary"))

	f.txs.OnChange(func(context.Context) { f.dash.Invalidate() })
	_, err = f.txs.Create(ctx, draft("7", core.Expense, core.Courses, core.NewDate(2025, 3, 5)))
	require.NoError(t, err)

	summary, err := f.dash.GetSummary(ctx, core.Monthly)
	require.NoError(t, err)
	assert.Equal(t, 2, f.backend.Requests(http.MethodGet, "/dashboard/summary"))
	assert.True(t, summary.Balance.TotalExpenses.Equal(core.MustMoney("7")))
}

func TestSummaryCacheDisabledByDefault(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)

	assert.Nil(t, f.dash.Cache())
	f.dash.Invalidate()
	for i := 0; i < 2; i++ {
		_, err := f.dash.GetSummary(context.Background(), core.Monthly)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.backend.Requests(http.MethodGet, "/dashboard/summary"))
}

func TestBudgetsPassThrough(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	ctx := context.Background()
	budgets := NewBudgetService(f.client, nil)

	list, err := budgets.List(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(list))

	payload := json.RawMessage(`{"category":"courses","limit":300}`)
	created, err := budgets.Create(ctx, payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(created))

	_, err = budgets.Create(ctx, json.RawMessage(`{"category"`))
	assert.ErrorIs(t, err, api.ErrValidation)
	assert.Equal(t, 1, f.backend.Requests(http.MethodPost, "/budgets"))
}

func TestBackendDetailSurfaces(t *testing.T) {
	f := newFixture(t, DashboardConfig{})
	f.login(t)
	f.backend.Fail(http.MethodGet, "/dashboard/summary", http.StatusInternalServerError, "database unavailable")

	_, err := f.dash.GetSummary(context.Background(), core.Monthly)
	var httpErr *api.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)
	assert.Equal(t, "database unavailable", api.Message(err, "failed to load dashboard"))
}
