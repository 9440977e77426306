// Package app wires the client together from configuration: session
// persistence, the API client, the domain services and their caches.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ledger/internal/api"
	"ledger/internal/cache"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/export"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/session"
	"ledger/internal/sheets"
	gsheet "ledger/internal/sheets/google"
	"ledger/internal/storage"
)

// ErrSheetsDisabled is returned by Sheets when no spreadsheet is configured.
var ErrSheetsDisabled = errors.New("google sheets export is not configured (set GOOGLE_SPREADSHEET_ID)")

// App holds the services of one process.
type App struct {
	Config *config.Config
	Logger *log.Logger

	// Storage is nil with the memory session backend.
	Storage *storage.SQLiteRepository
	Session *session.Store
	Client  *api.Client

	Auth         *services.AuthService
	Transactions *services.TransactionService
	Dashboard    *services.DashboardService
	Budgets      *services.BudgetService

	Caches *cache.Manager

	unsubscribe []func()
}

// New builds the application. reg receives the API client metrics and may
// be nil.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, reg prometheus.Registerer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app config is nil")
	}
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentApp)
	a := &App{Config: cfg, Logger: logger}

	var persister session.Persister
	switch cfg.SessionBackend {
	case config.SessionBackendSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SessionDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		a.Storage = repo
		persister = repo
	case config.SessionBackendMemory:
		persister = session.NewMemoryPersister()
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.SessionBackend)
	}

	store, err := session.NewStore(ctx, persister, logger)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	a.Session = store
	a.dropExpiredSession(ctx)

	client, err := api.New(api.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger,
		Metrics: api.NewMetrics(reg),
	}, store)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("create API client: %w", err)
	}
	a.Client = client

	a.Auth = services.NewAuthService(client, store, logger)
	a.Transactions = services.NewTransactionService(client, logger)
	a.Dashboard = services.NewDashboardService(client, services.DashboardConfig{
		CacheTTL:  cfg.SummaryCacheTTL,
		CacheSize: cfg.SummaryCacheSize,
	}, logger)
	a.Budgets = services.NewBudgetService(client, logger)

	a.Caches = cache.NewManager(logger)
	if c := a.Dashboard.Cache(); c != nil {
		a.Caches.Register(c)
		a.Caches.StartCleanup(cfg.SummaryCacheTTL)
	}

	// Cached summaries belong to one user and one state of their data.
	a.unsubscribe = append(a.unsubscribe,
		a.Transactions.OnChange(func(context.Context) { a.Dashboard.Invalidate() }),
		store.Subscribe(func(session.Session) { a.Dashboard.Invalidate() }),
		client.OnUnauthenticated(func(ctx context.Context) {
			logger.WarnContext(ctx, "Session expired or revoked, log in again")
		}),
	)

	logger.InfoContext(ctx, "Application initialized",
		"api_url", cfg.APIURL,
		"session_backend", cfg.SessionBackend,
		"summary_cache", a.Dashboard.Cache() != nil,
		"authenticated", store.IsAuthenticated())
	return a, nil
}

// dropExpiredSession clears a restored session whose JWT has expired, so
// the first request does not have to fail to find out.
func (a *App) dropExpiredSession(ctx context.Context) {
	token := a.Session.Token()
	if token == "" {
		return
	}
	claims, err := session.ParseClaims(token)
	if err != nil || !claims.Expired(time.Now()) {
		return
	}
	a.Logger.InfoContext(ctx, "Stored session has expired", "expired_at", claims.ExpiresAt)
	if err := a.Session.Clear(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Failed to clear expired session", log.FieldError, err)
	}
}

// StatementBuilder returns a builder reading from the app's services.
func (a *App) StatementBuilder() export.StatementBuilder {
	return export.StatementBuilder{Dashboard: a.Dashboard, Transactions: a.Transactions}
}

// Sheets returns the configured Google Sheets exporter.
func (a *App) Sheets(ctx context.Context) (sheets.TransactionExporter, error) {
	if !a.Config.SheetsEnabled() {
		return nil, ErrSheetsDisabled
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   a.Config.GoogleSpreadsheetID,
		CredentialsJSON: a.Config.GoogleServiceAccountJSON,
		CredentialsFile: a.Config.GoogleServiceAccountFile,
		OAuthClientJSON: a.Config.GoogleOAuthClientJSON,
		OAuthClientFile: a.Config.GoogleOAuthClientFile,
		OAuthTokenJSON:  a.Config.GoogleOAuthTokenJSON,
		OAuthTokenFile:  a.Config.GoogleOAuthTokenFile,
		Logger:          a.Logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ExportPeriod is the configured period of the periodic export.
func (a *App) ExportPeriod() (core.Period, error) {
	return core.ParsePeriod(a.Config.ExportPeriod)
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	a.unsubscribe = nil
	if a.Caches != nil {
		a.Caches.Stop()
	}
	return a.closeStorage()
}

func (a *App) closeStorage() error {
	if a.Storage == nil {
		return nil
	}
	err := a.Storage.Close()
	a.Storage = nil
	return err
}
