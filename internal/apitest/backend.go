// Package apitest runs an in-memory finance backend behind httptest for
// tests of the packages that talk to the API.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ledger/internal/core"
)

// BasePath is the prefix every route is mounted under.
const BasePath = "/api/v1"

type account struct {
	password string
	user     core.User
}

// Backend is a fake of the finance API. It keeps users, tokens and
// transactions in memory and computes dashboard aggregates from them.
type Backend struct {
	// Today anchors the dashboard windows.
	Today core.Date

	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string
	txs      []core.Transaction
	budgets  []json.RawMessage
	failures map[string]failure
	requests map[string]int
}

type failure struct {
	status int
	detail any
}

// New starts a backend and closes it when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		Today:    core.NewDate(2025, 3, 14),
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		failures: make(map[string]failure),
		requests: make(map[string]int),
	}
	b.srv = httptest.NewServer(b.routes())
	t.Cleanup(b.srv.Close)
	return b
}

// URL is the base URL clients should be configured with.
func (b *Backend) URL() string {
	return b.srv.URL + BasePath
}

// AddUser registers an account and returns its user.
func (b *Backend) AddUser(email, password string) core.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(email, password)
}

func (b *Backend) addUserLocked(email, password string) core.User {
	user := core.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: core.Timestamp{Time: time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)},
	}
	b.accounts[email] = &account{password: password, user: user}
	return user
}

// IssueToken returns a valid token for the account with email.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueTokenLocked(b.accounts[email].user.ID)
}

func (b *Backend) issueTokenLocked(userID string) string {
	token := "tok-" + uuid.NewString()
	b.tokens[token] = userID
	return token
}

// RevokeTokens invalidates every issued token, so the next authenticated
// request is rejected with 401.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[string]string)
}

// Seed stores transactions for the account with email, in order.
func (b *Backend) Seed(email string, drafts ...core.TransactionDraft) []core.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	userID := b.accounts[email].user.ID
	out := make([]core.Transaction, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, b.insertLocked(userID, d))
	}
	return out
}

// Transactions returns the stored transactions of every user.
func (b *Backend) Transactions() []core.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Transaction(nil), b.txs...)
}

// Fail makes every request to "METHOD /path" answer with status and a
// {"detail": detail} body. The path excludes BasePath.
func (b *Backend) Fail(method, path string, status int, detail any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method+" "+path] = failure{status: status, detail: detail}
}

// Requests returns how many requests reached "METHOD /path".
func (b *Backend) Requests(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[method+" "+path]
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record)
	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth/login", b.login)
		r.Post("/auth/register", b.register)

		r.Group(func(r chi.Router) {
			r.Use(b.authenticate)
			r.Get("/transactions", b.listTransactions)
			r.Post("/transactions", b.createTransaction)
			r.Get("/transactions/{id}", b.getTransaction)
			r.Put("/transactions/{id}", b.updateTransaction)
			r.Delete("/transactions/{id}", b.deleteTransaction)
			r.Get("/dashboard/summary", b.summary)
			r.Get("/dashboard/balance", b.balance)
			r.Get("/dashboard/expenses-by-category", b.expensesByCategory)
			r.Get("/budgets", b.listBudgets)
			r.Post("/budgets", b.createBudget)
		})
	})
	return r
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + strings.TrimPrefix(r.URL.Path, BasePath)
		b.mu.Lock()
		b.requests[key]++
		f, failing := b.failures[key]
		b.mu.Unlock()

		if failing {
			writeJSON(w, f.status, map[string]any{"detail": f.detail})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		userID, valid := b.tokens[token]
		b.mu.Unlock()
		if !ok || !valid {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
	})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	email, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[email]
	if !ok || acc.password != password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": b.issueTokenLocked(acc.user.ID),
		"token_type":   "bearer",
		"user":         acc.user,
	})
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]any{{
			"loc":  []string{"body", "email"},
			"msg":  "value is not a valid email address",
			"type": "value_error",
		}}})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[req.Email]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	writeJSON(w, http.StatusCreated, b.addUserLocked(req.Email, req.Password))
}

func (b *Backend) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := dateParams(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit := 100
	if v := q.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	userID := userFrom(r.Context())
	b.mu.Lock()
	var out []core.Transaction
	for _, tx := range b.txs {
		switch {
		case tx.UserID != userID:
		case q.Get("transaction_type") != "" && string(tx.Type) != q.Get("transaction_type"):
		case q.Get("category") != "" && string(tx.Category) != q.Get("category"):
		case !inWindow(tx.Date, start, end):
		default:
			out = append(out, tx)
		}
	}
	b.mu.Unlock()

	if skip > len(out) {
		skip = len(out)
	}
	out = out[skip:]
	if limit < len(out) {
		out = out[:limit]
	}
	if out == nil {
		out = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) createTransaction(w http.ResponseWriter, r *http.Request) {
	var draft core.TransactionDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := draft.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	tx := b.insertLocked(userFrom(r.Context()), draft)
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, tx)
}

func (b *Backend) getTransaction(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findLocked(userFrom(r.Context()), chi.URLParam(r, "id"))
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, b.txs[i])
}

// updateTransaction applies only the fields present in the body.
func (b *Backend) updateTransaction(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findLocked(userFrom(r.Context()), chi.URLParam(r, "id"))
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Transaction not found")
		return
	}

	draft := b.txs[i].Draft()
	fields := map[string]any{
		"amount":      &draft.Amount,
		"type":        &draft.Type,
		"category":    &draft.Category,
		"description": &draft.Description,
		"date":        &draft.Date,
	}
	for name, raw := range patch {
		target, ok := fields[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s: %v", name, err))
			return
		}
	}
	if err := draft.Validate(); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	tx := &b.txs[i]
	tx.Amount, tx.Type, tx.Category, tx.Description, tx.Date =
		draft.Amount, draft.Type, draft.Category, draft.Description, draft.Date
	writeJSON(w, http.StatusOK, *tx)
}

func (b *Backend) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findLocked(userFrom(r.Context()), chi.URLParam(r, "id"))
	if i < 0 {
		writeDetail(w, http.StatusNotFound, "Transaction not found")
		return
	}
	b.txs = append(b.txs[:i], b.txs[i+1:]...)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Transaction deleted successfully"})
}

// summary always covers the current period; like the real endpoint it has
// no start_date or end_date.
func (b *Backend) summary(w http.ResponseWriter, r *http.Request) {
	window, ok := b.window(w, r, false)
	if !ok {
		return
	}
	totals, breakdown := b.aggregate(userFrom(r.Context()), window)
	writeJSON(w, http.StatusOK, core.DashboardSummary{
		Balance:            totals,
		ExpensesByCategory: breakdown,
		PeriodWindow:       window,
	})
}

func (b *Backend) balance(w http.ResponseWriter, r *http.Request) {
	window, ok := b.window(w, r, true)
	if !ok {
		return
	}
	totals, _ := b.aggregate(userFrom(r.Context()), window)
	writeJSON(w, http.StatusOK, core.BalanceReport{Totals: totals, PeriodWindow: window})
}

func (b *Backend) expensesByCategory(w http.ResponseWriter, r *http.Request) {
	window, ok := b.window(w, r, true)
	if !ok {
		return
	}
	_, breakdown := b.aggregate(userFrom(r.Context()), window)
	writeJSON(w, http.StatusOK, core.CategoryBreakdown{ExpensesByCategory: breakdown, PeriodWindow: window})
}

func (b *Backend) listBudgets(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]json.RawMessage{}, b.budgets...)
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) createBudget(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	b.mu.Lock()
	b.budgets = append(b.budgets, raw)
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, raw)
}

func (b *Backend) window(w http.ResponseWriter, r *http.Request, custom bool) (core.PeriodWindow, bool) {
	q := r.URL.Query()
	period := core.Period(q.Get("period"))
	if period == "" {
		period = core.DefaultPeriod
	}
	if err := period.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return core.PeriodWindow{}, false
	}
	start, end := period.Range(b.Today)
	if !custom {
		return core.PeriodWindow{Period: period, StartDate: start, EndDate: end}, true
	}
	customStart, customEnd, err := dateParams(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return core.PeriodWindow{}, false
	}
	// Half a window is ignored, as by the real backend.
	if !customStart.IsZero() && !customEnd.IsZero() {
		start, end = customStart, customEnd
	}
	return core.PeriodWindow{Period: period, StartDate: start, EndDate: end}, true
}

// aggregate sums the user's transactions in window. Categories keep the
// order of their first transaction.
func (b *Backend) aggregate(userID string, window core.PeriodWindow) (core.Totals, []core.CategoryAmount) {
	b.mu.Lock()
	defer b.mu.Unlock()

	totals := core.Totals{TotalIncome: core.Zero, TotalExpenses: core.Zero}
	breakdown := []core.CategoryAmount{}
	index := map[core.Category]int{}
	for _, tx := range b.txs {
		if tx.UserID != userID || !inWindow(tx.Date, window.StartDate, window.EndDate) {
			continue
		}
		if tx.Type == core.Income {
			totals.TotalIncome = totals.TotalIncome.Add(tx.Amount)
			continue
		}
		totals.TotalExpenses = totals.TotalExpenses.Add(tx.Amount)
		i, seen := index[tx.Category]
		if !seen {
			index[tx.Category] = len(breakdown)
			breakdown = append(breakdown, core.CategoryAmount{Category: tx.Category, Amount: tx.Amount})
			continue
		}
		breakdown[i].Amount = breakdown[i].Amount.Add(tx.Amount)
	}
	totals.Balance = totals.TotalIncome.Sub(totals.TotalExpenses)
	return totals, breakdown
}

func (b *Backend) insertLocked(userID string, d core.TransactionDraft) core.Transaction {
	tx := core.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      d.Amount,
		Type:        d.Type,
		Category:    d.Category,
		Description: d.Description,
		Date:        d.Date,
		CreatedAt:   core.Timestamp{Time: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)},
	}
	b.txs = append(b.txs, tx)
	return tx
}

func (b *Backend) findLocked(userID, id string) int {
	for i, tx := range b.txs {
		if tx.ID == id && tx.UserID == userID {
			return i
		}
	}
	return -1
}

func dateParams(startRaw, endRaw string) (start, end core.Date, err error) {
	if startRaw != "" {
		if start, err = core.ParseDate(startRaw); err != nil {
			return
		}
	}
	if endRaw != "" {
		end, err = core.ParseDate(endRaw)
	}
	return
}

func inWindow(d, start, end core.Date) bool {
	if !start.IsZero() && d.Before(start.Time) {
		return false
	}
	if !end.IsZero() && d.After(end.Time) {
		return false
	}
	return true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
