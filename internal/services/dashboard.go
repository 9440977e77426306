package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/api"
	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/log"
)

// DashboardConfig configures the optional summary cache. A zero CacheTTL
// disables it.
type DashboardConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// DashboardService reads the aggregated views of the backend. Every call is
// read-only; values are returned exactly as the backend computed them.
type DashboardService struct {
	backend Backend
	logger  *log.Logger
	cache   *cache.LRUCache[core.DashboardSummary]

	// gen counts purges; a fetch that overlaps one is not cached.
	mu  sync.Mutex
	gen uint64
}

func NewDashboardService(backend Backend, cfg DashboardConfig, logger *log.Logger) *DashboardService {
	if logger == nil {
		logger = log.Nop()
	}
	s := &DashboardService{
		backend: backend,
		logger:  logger.WithComponent(log.ComponentDashboard),
	}
	if cfg.CacheTTL > 0 {
		s.cache = cache.NewLRUCache[core.DashboardSummary](cfg.CacheSize, cfg.CacheTTL)
	}
	return s
}

// Cache returns the summary cache, or nil when caching is disabled.
func (s *DashboardService) Cache() *cache.LRUCache[core.DashboardSummary] {
	return s.cache
}

// Invalidate drops every cached summary.
func (s *DashboardService) Invalidate() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.gen++
	s.cache.Purge()
	s.mu.Unlock()
	s.logger.Debug("Summary cache purged")
}

func (s *DashboardService) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// store caches summary unless the cache was purged since gen was read.
func (s *DashboardService) store(key string, gen uint64, summary core.DashboardSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.cache.Set(key, summary)
}

func (s *DashboardService) GetSummary(ctx context.Context, period core.Period) (core.DashboardSummary, error) {
	return s.GetSummaryBetween(ctx, period, core.Date{}, core.Date{})
}

// GetSummaryBetween is GetSummary with an explicit window. The summary
// endpoint only knows the current period, so a window is answered by the
// balance and expenses-by-category endpoints instead. Zero dates leave the
// backend to derive the window from period.
func (s *DashboardService) GetSummaryBetween(ctx context.Context, period core.Period, start, end core.Date) (core.DashboardSummary, error) {
	query, err := periodQuery(period, start, end)
	if err != nil {
		return core.DashboardSummary{}, err
	}

	key := query.Encode()
	var gen uint64
	if s.cache != nil {
		gen = s.generation()
		if summary, ok := s.cache.Get(key); ok {
			s.logger.DebugContext(ctx, "Summary served from cache", log.FieldPeriod, string(period))
			return summary, nil
		}
	}

	var summary core.DashboardSummary
	if start.IsZero() && end.IsZero() {
		err = s.get(ctx, "/dashboard/summary", query, &summary)
	} else {
		summary, err = s.summaryOf(ctx, query, core.PeriodWindow{Period: period, StartDate: start, EndDate: end})
	}
	if err != nil {
		return core.DashboardSummary{}, err
	}
	if s.cache != nil {
		s.store(key, gen, summary)
	}
	return summary, nil
}

// summaryOf builds a summary for a custom window from its two halves.
// Window bounds the backend leaves out are filled from asked.
func (s *DashboardService) summaryOf(ctx context.Context, query url.Values, asked core.PeriodWindow) (core.DashboardSummary, error) {
	var (
		report    core.BalanceReport
		breakdown core.CategoryBreakdown
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.get(gctx, "/dashboard/balance", query, &report)
	})
	g.Go(func() error {
		return s.get(gctx, "/dashboard/expenses-by-category", query, &breakdown)
	})
	if err := g.Wait(); err != nil {
		return core.DashboardSummary{}, err
	}
	window := report.PeriodWindow
	if window.Period == "" {
		window.Period = asked.Period
	}
	if window.StartDate.IsZero() {
		window.StartDate = asked.StartDate
	}
	if window.EndDate.IsZero() {
		window.EndDate = asked.EndDate
	}
	return core.DashboardSummary{
		Balance:            report.Totals,
		ExpensesByCategory: breakdown.ExpensesByCategory,
		PeriodWindow:       window,
	}, nil
}

func (s *DashboardService) GetBalance(ctx context.Context, period core.Period) (core.BalanceReport, error) {
	query, err := periodQuery(period, core.Date{}, core.Date{})
	if err != nil {
		return core.BalanceReport{}, err
	}
	var report core.BalanceReport
	if err := s.get(ctx, "/dashboard/balance", query, &report); err != nil {
		return core.BalanceReport{}, err
	}
	return report, nil
}

func (s *DashboardService) GetExpensesByCategory(ctx context.Context, period core.Period) (core.CategoryBreakdown, error) {
	query, err := periodQuery(period, core.Date{}, core.Date{})
	if err != nil {
		return core.CategoryBreakdown{}, err
	}
	var breakdown core.CategoryBreakdown
	if err := s.get(ctx, "/dashboard/expenses-by-category", query, &breakdown); err != nil {
		return core.CategoryBreakdown{}, err
	}
	return breakdown, nil
}

func (s *DashboardService) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := s.backend.Send(ctx, api.Request{Method: http.MethodGet, Path: path, Query: query}, out); err != nil {
		return fmt.Errorf("dashboard %s: %w", query.Get("period"), err)
	}
	return nil
}

func periodQuery(period core.Period, start, end core.Date) (url.Values, error) {
	if err := period.Validate(); err != nil {
		return nil, api.NewValidationError("period", err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start.Time) {
		return nil, api.NewValidationError("end_date", core.ErrInvalidFilter)
	}
	q := url.Values{}
	q.Set("period", string(period))
	if !start.IsZero() {
		q.Set("start_date", start.String())
	}
	if !end.IsZero() {
		q.Set("end_date", end.String())
	}
	return q, nil
}
