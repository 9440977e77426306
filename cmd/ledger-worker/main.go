// Command ledger-worker runs the background jobs of the client: it creates
// the transactions queued by "ledger import" and periodically exports the
// current period to Google Sheets. It acts with the session stored by
// "ledger login".
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ledger/internal/amqp"
	"ledger/internal/app"
	"ledger/internal/cli"
	"ledger/internal/config"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/worker"
)

const (
	shutdownTimeout   = 30 * time.Second
	opsRequestsPerMin = 120
)

var (
	errNeedsSQLite  = errors.New("the worker needs SESSION_BACKEND=sqlite to share the session of 'ledger login'")
	errNoSession    = errors.New("no stored session, run 'ledger login' first")
	errNothingToRun = errors.New("nothing to run: set AMQP_URL for imports or GOOGLE_SPREADSHEET_ID for exports")
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogJSON, log.ComponentWorker)

	ctx, stop := cli.SignalContext()
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger.Info("Starting ledger-worker", "addr", cfg.WorkerAddr)
	if err := run(ctx, cfg, logger, reg); err != nil {
		logger.Error("Worker stopped", log.FieldError, err)
		stop()
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, reg *prometheus.Registry) error {
	a, err := app.New(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Storage == nil {
		return errNeedsSQLite
	}
	if !a.Auth.IsAuthenticated() {
		return errNoSession
	}
	if cfg.AMQPURL == "" && !cfg.SheetsEnabled() {
		return errNothingToRun
	}

	metrics := worker.NewMetrics(reg)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		queue, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			return fmt.Errorf("connect to import queue: %w", err)
		}
		defer queue.Close()

		limiter := rate.NewLimiter(rate.Limit(cfg.ImportRate), cfg.ImportBurst)
		imports := worker.NewImportWorker(a.Transactions, a.Storage, limiter, metrics, logger)
		g.Go(func() error {
			err := queue.ConsumeImports(gctx, imports.HandleImport)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.SheetsEnabled() {
		exporter, err := a.Sheets(ctx)
		if err != nil {
			return err
		}
		period, err := a.ExportPeriod()
		if err != nil {
			return err
		}
		exports := worker.NewExportWorker(a.StatementBuilder(), exporter, worker.ExportConfig{
			Period:    period,
			SheetName: cfg.GoogleSheetName,
			Interval:  cfg.ExportInterval,
		}, metrics, logger)
		if err := exports.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return exports.Stop(stopCtx)
		})
	}

	ops := apphttp.NewServer(apphttp.ServerConfig{
		Addr:              cfg.WorkerAddr,
		Checks:            checks(a),
		Gatherer:          reg,
		RequestsPerMinute: opsRequestsPerMin,
		Logger:            logger,
	})
	g.Go(func() error {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// checks marks the worker not ready while no session is stored.
func checks(a *app.App) map[string]apphttp.Check {
	return map[string]apphttp.Check{
		"session": func(context.Context) error {
			if !a.Session.IsAuthenticated() {
				return errNoSession
			}
			return nil
		},
		"storage": func(ctx context.Context) error {
			return a.Storage.Ping(ctx)
		},
	}
}
