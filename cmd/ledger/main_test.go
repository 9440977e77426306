package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/apitest"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	email    = "ana@example.com"
	password = "secret-pw"
)

type harness struct {
	backend *apitest.Backend
	cfg     *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := apitest.New(t)
	backend.AddUser(email, password)
	return &harness{
		backend: backend,
		cfg: &config.Config{
			APIURL:           backend.URL(),
			HTTPTimeout:      5 * time.Second,
			SessionBackend:   config.SessionBackendSQLite,
			SessionDBPath:    filepath.Join(t.TempDir(), "session.db"),
			SummaryCacheSize: 4,
			GoogleSheetName:  "Transactions",
			ExportPeriod:     "monthly",
		},
	}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), h.cfg, log.Nop(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	code, _, stderr := h.run(t, "", "login", "-email", email, "-password", password)
	require.Equal(t, exitOK, code, stderr)
}

func TestUsage(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run(t, "")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage: ledger")

	code, _, stderr = h.run(t, "", "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage: ledger")

	code, _, _ = h.run(t, "", "tx", "get")
	assert.Equal(t, exitUsage, code, "missing ID")
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run(t, password+"\n", "login", "-email", email)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Logged in as "+email)

	code, stdout, _ = h.run(t, "", "whoami")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, email)

	code, stdout, _ = h.run(t, "", "logout")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Logged out")

	code, _, stderr = h.run(t, "", "whoami")
	assert.Equal(t, exitUnauthenticated, code)
	assert.Contains(t, stderr, "ledger login")
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run(t, "", "login", "-email", email, "-password", "nope")
	assert.NotEqual(t, exitOK, code)
	assert.Contains(t, stderr, "Incorrect email or password")
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run(t, "", "register", "-email", "bo@example.com", "-password", "long-enough-pw")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Registered bo@example.com")

	code, _, _ = h.run(t, "", "login", "-email", "bo@example.com", "-password", "long-enough-pw")
	assert.Equal(t, exitOK, code)
}

func TestCommandsRequireSession(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run(t, "", "tx", "list")
	assert.Equal(t, exitUnauthenticated, code)
	assert.Contains(t, stderr, "ledger login")
}

func TestTransactionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	code, stdout, stderr := h.run(t, "", "tx", "add",
		"-amount", "12,50", "-category", "courses", "-date", "2025-03-10", "-desc", "Farmers market", "-json")
	require.Equal(t, exitOK, code, stderr)
	var created core.Transaction
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, core.Expense, created.Type)
	assert.True(t, created.Amount.Equal(core.MustMoney("12.50")))

	code, stdout, _ = h.run(t, "", "tx", "list", "-search", "market")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, created.ID)

	code, stdout, _ = h.run(t, "", "tx", "list", "-search", "rent")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "No transactions")

	code, stdout, stderr = h.run(t, "", "tx", "update", created.ID, "-amount", "20", "-clear-desc")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Updated "+created.ID)

	stored := h.backend.Transactions()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Amount.Equal(core.MustMoney("20")))
	assert.Nil(t, stored[0].Description)
	assert.Equal(t, core.Courses, stored[0].Category, "untouched fields are kept")

	code, stdout, _ = h.run(t, "", "tx", "get", created.ID)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "20.00")

	code, stdout, _ = h.run(t, "", "tx", "delete", created.ID)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Deleted "+created.ID)
	assert.Empty(t, h.backend.Transactions())
}

func TestAddRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing amount", []string{"tx", "add", "-category", "courses"}, exitUsage},
		{"category of the other type", []string{"tx", "add", "-amount", "5", "-type", "income", "-category", "loyer"}, exitFailure},
		{"bad amount", []string{"tx", "add", "-amount", "12.5.0"}, exitFailure},
		{"bad date", []string{"tx", "add", "-amount", "5", "-date", "14/03/2025"}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := h.run(t, "", tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}
	assert.Empty(t, h.backend.Transactions())
}

func TestListWithDateWindow(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.backend.Seed(email,
		core.TransactionDraft{Amount: core.MustMoney("10"), Type: core.Expense, Category: core.Transport, Date: core.NewDate(2025, 2, 1)},
		core.TransactionDraft{Amount: core.MustMoney("30"), Type: core.Expense, Category: core.Restaurant, Date: core.NewDate(2025, 3, 5)},
	)

	code, stdout, stderr := h.run(t, "", "tx", "list", "-from", "2025-03-01", "-to", "2025-03-31", "-json")
	require.Equal(t, exitOK, code, stderr)
	var items []core.Transaction
	require.NoError(t, json.Unmarshal([]byte(stdout), &items))
	require.Len(t, items, 1)
	assert.Equal(t, core.Restaurant, items[0].Category)

	code, _, _ = h.run(t, "", "tx", "list", "-from", "2025-03-31", "-to", "2025-03-01")
	assert.Equal(t, exitFailure, code)
}

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	today := h.backend.Today
	h.backend.Seed(email,
		core.TransactionDraft{Amount: core.MustMoney("1000"), Type: core.Income, Category: core.Salaire, Date: today},
		core.TransactionDraft{Amount: core.MustMoney("300"), Type: core.Expense, Category: core.Loyer, Date: today},
		core.TransactionDraft{Amount: core.MustMoney("100"), Type: core.Expense, Category: core.Courses, Date: today},
	)

	code, stdout, stderr := h.run(t, "", "dashboard", "-json")
	require.Equal(t, exitOK, code, stderr)
	var summary core.DashboardSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.True(t, summary.Balance.Balance.Equal(core.MustMoney("600")))
	assert.Equal(t, core.Monthly, summary.Period)

	code, stdout, _ = h.run(t, "", "dashboard")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "75.0%")
	assert.Contains(t, stdout, "25.0%")

	code, _, _ = h.run(t, "", "dashboard", "-period", "daily")
	assert.Equal(t, exitFailure, code)

	code, _, _ = h.run(t, "", "dashboard", "-from", "2025-03-01")
	assert.Equal(t, exitUsage, code)
}

func TestDashboardWindow(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.backend.Seed(email,
		core.TransactionDraft{Amount: core.MustMoney("40"), Type: core.Expense, Category: core.Loyer, Date: core.NewDate(2025, 1, 10)},
		core.TransactionDraft{Amount: core.MustMoney("900"), Type: core.Expense, Category: core.Loyer, Date: h.backend.Today},
	)

	code, stdout, stderr := h.run(t, "", "dashboard", "-json", "-from", "2025-01-01", "-to", "2025-01-31")
	require.Equal(t, exitOK, code, stderr)
	var summary core.DashboardSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.True(t, summary.Balance.TotalExpenses.Equal(core.MustMoney("40")))
	assert.Equal(t, "2025-01-01", summary.StartDate.String())
	assert.Equal(t, "2025-01-31", summary.EndDate.String())

	assert.Zero(t, h.backend.Requests(http.MethodGet, "/dashboard/summary"))
	assert.Equal(t, 1, h.backend.Requests(http.MethodGet, "/dashboard/balance"))
	assert.Equal(t, 1, h.backend.Requests(http.MethodGet, "/dashboard/expenses-by-category"))
}

func TestBudgets(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	code, _, stderr := h.run(t, "", "budgets", "create", "-data", `{"category":"courses","amount":200}`)
	require.Equal(t, exitOK, code, stderr)

	code, stdout, _ := h.run(t, `{"category":"loyer","amount":900}`, "budgets", "create")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "loyer")

	code, stdout, _ = h.run(t, "", "budgets", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "courses")
	assert.Contains(t, stdout, "loyer")

	code, _, _ = h.run(t, "", "budgets", "create", "-data", "{not json")
	assert.Equal(t, exitFailure, code)
}

func TestExportXLSXAndPDF(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.backend.Seed(email,
		core.TransactionDraft{Amount: core.MustMoney("42"), Type: core.Expense, Category: core.Sante, Date: h.backend.Today},
	)
	dir := t.TempDir()

	for _, format := range []string{"xlsx", "pdf"} {
		path := filepath.Join(dir, "statement."+format)
		code, stdout, stderr := h.run(t, "", "export", format, "-o", path)
		require.Equal(t, exitOK, code, stderr)
		assert.Contains(t, stdout, path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	code, _, _ := h.run(t, "", "export", "csv")
	assert.Equal(t, exitUsage, code)
}

func TestExportSheetsNeedsConfiguration(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	code, _, stderr := h.run(t, "", "export", "sheets")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "GOOGLE_SPREADSHEET_ID")
}

type fakePublisher struct {
	drafts []core.TransactionDraft
	closed bool
}

func (p *fakePublisher) PublishImport(_ context.Context, d core.TransactionDraft) (string, error) {
	p.drafts = append(p.drafts, d)
	return "msg-" + string(rune('0'+len(p.drafts))), nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func stubPublisher(t *testing.T) *fakePublisher {
	t.Helper()
	pub := &fakePublisher{}
	orig := newPublisher
	newPublisher = func(*config.Config, *log.Logger) (importPublisher, error) { return pub, nil }
	t.Cleanup(func() { newPublisher = orig })
	return pub
}

func TestImportQueuesDrafts(t *testing.T) {
	h := newHarness(t)
	pub := stubPublisher(t)

	input := `[
		{"amount": 12.5, "type": "expense", "category": "courses", "description": null, "date": "2025-03-01"},
		{"amount": 2000, "type": "income", "category": "salaire", "description": "March", "date": "2025-03-01"}
	]`
	code, stdout, stderr := h.run(t, input, "import")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Queued 2 transactions")
	require.Len(t, pub.drafts, 2)
	assert.Equal(t, core.Salaire, pub.drafts[1].Category)
	assert.True(t, pub.closed)
}

func TestImportRejectsInvalidDraftBeforePublishing(t *testing.T) {
	h := newHarness(t)
	pub := stubPublisher(t)

	input := `[
		{"amount": 12.5, "type": "expense", "category": "courses", "description": null, "date": "2025-03-01"},
		{"amount": 5, "type": "income", "category": "loyer", "description": null, "date": "2025-03-01"}
	]`
	code, _, stderr := h.run(t, input, "import")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "draft 2")
	assert.Empty(t, pub.drafts)
}

func TestImportWithoutQueue(t *testing.T) {
	h := newHarness(t)

	input := `[{"amount": 1, "type": "expense", "category": "courses", "description": null, "date": "2025-03-01"}]`
	code, _, stderr := h.run(t, input, "import")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "AMQP_URL")
}
