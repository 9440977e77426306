package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/export"
	"ledger/internal/log"
	"ledger/internal/sheets"
)

// StatementSource is satisfied by export.StatementBuilder.
type StatementSource interface {
	Build(ctx context.Context, period core.Period, today core.Date) (export.Statement, error)
}

// ExportConfig holds configuration for the export worker
type ExportConfig struct {
	// Period selects the window exported on every run.
	Period core.Period
	// SheetName is the base sheet name, see sheets.PeriodSheetName.
	SheetName string
	// Interval is how often the snapshot is refreshed.
	Interval time.Duration
}

// ExportWorker periodically writes the current period's transactions to
// a spreadsheet.
type ExportWorker struct {
	source   StatementSource
	exporter sheets.TransactionExporter
	config   ExportConfig
	today    func() core.Date
	metrics  *Metrics
	logger   *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportWorker(source StatementSource, exporter sheets.TransactionExporter, config ExportConfig, metrics *Metrics, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.Nop()
	}
	return &ExportWorker{
		source:   source,
		exporter: exporter,
		config:   config,
		today:    core.Today,
		metrics:  metrics,
		logger:   logger.WithComponent(log.ComponentExport),
	}
}

// Start begins the export loop. Returns an error if already running.
func (w *ExportWorker) Start(ctx context.Context) error {
	if w.config.Interval <= 0 {
		return fmt.Errorf("invalid export interval %v", w.config.Interval)
	}
	if err := w.config.Period.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("export worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	w.logger.InfoContext(ctx, "Export worker started",
		"interval", w.config.Interval,
		log.FieldPeriod, w.config.Period)
	return nil
}

// Stop signals the loop and waits for it or for ctx.
func (w *ExportWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Export worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Export worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *ExportWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *ExportWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Export immediately on startup
	w.exportLogged(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.exportLogged(ctx)
		}
	}
}

func (w *ExportWorker) exportLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		errType := log.ErrorTypeInternal
		if errors.Is(err, api.ErrUnauthenticated) {
			errType = log.ErrorTypeAuth
		}
		w.logger.ErrorContext(ctx, "Export failed",
			log.NewFields().WithOperation(log.OpExport).WithError(err, errType).ToSlice()...)
	}
}

// RunOnce exports the current period and returns the written range.
func (w *ExportWorker) RunOnce(ctx context.Context) (string, error) {
	today := w.today()
	st, err := w.source.Build(ctx, w.config.Period, today)
	if err != nil {
		w.metrics.exportDone(OutcomeFailed)
		return "", fmt.Errorf("build statement: %w", err)
	}

	window := st.Summary.PeriodWindow
	if window.StartDate.IsZero() {
		start, end := w.config.Period.Range(today)
		window = core.PeriodWindow{Period: w.config.Period, StartDate: start, EndDate: end}
	}
	sheet := sheets.PeriodSheetName(w.config.SheetName, window)

	ref, err := w.exporter.ExportTransactions(ctx, sheet, st.Transactions)
	if err != nil {
		w.metrics.exportDone(OutcomeFailed)
		return "", fmt.Errorf("export to %s: %w", sheet, err)
	}
	w.metrics.exportDone(OutcomeExported)
	w.logger.InfoContext(ctx, "Period exported",
		log.FieldOperation, log.OpExport,
		log.FieldPeriod, window.Period,
		log.FieldCount, len(st.Transactions),
		log.FieldSheetsRef, ref)
	return ref, nil
}
