// Package worker holds the background jobs run by ledger-worker: creating
// transactions from queued imports and exporting period snapshots to a
// spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"ledger/internal/amqp"
	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/storage"
)

// TransactionCreator is satisfied by *services.TransactionService.
type TransactionCreator interface {
	Create(ctx context.Context, draft core.TransactionDraft) (core.Transaction, error)
}

// ImportLog remembers which messages already produced a transaction.
type ImportLog interface {
	ImportedTransaction(ctx context.Context, messageID string) (string, bool, error)
	RecordImport(ctx context.Context, messageID, transactionID string) error
}

var _ ImportLog = (*storage.SQLiteRepository)(nil)

// ImportWorker creates one transaction per import message.
type ImportWorker struct {
	creator TransactionCreator
	imports ImportLog
	limiter *rate.Limiter
	metrics *Metrics
	logger  *log.Logger
}

// NewImportWorker builds a worker. A nil limiter means no rate limit.
func NewImportWorker(creator TransactionCreator, imports ImportLog, limiter *rate.Limiter, metrics *Metrics, logger *log.Logger) *ImportWorker {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &ImportWorker{
		creator: creator,
		imports: imports,
		limiter: limiter,
		metrics: metrics,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleImport is an amqp.ImportHandler. Redelivered messages that were
// already imported are acknowledged without calling the backend. Drafts
// the backend will never accept are discarded; an expired session
// requeues the message and stops consumption until someone logs in again.
func (w *ImportWorker) HandleImport(ctx context.Context, msg *amqp.ImportMessage) error {
	fields := log.NewFields().WithOperation(log.OpImport)
	fields[log.FieldMessageID] = msg.ID

	if txID, ok, err := w.imports.ImportedTransaction(ctx, msg.ID); err != nil {
		w.metrics.importDone(OutcomeRetry)
		return fmt.Errorf("check import log: %w", err)
	} else if ok {
		w.logger.InfoContext(ctx, "Import already processed", append(fields.ToSlice(), log.FieldTransaction, txID)...)
		w.metrics.importDone(OutcomeDuplicate)
		return nil
	}

	if err := msg.Draft.Validate(); err != nil {
		w.metrics.importDone(OutcomeDiscarded)
		return fmt.Errorf("%w: %w", amqp.ErrDiscard, err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		w.metrics.importDone(OutcomeRetry)
		return err
	}

	tx, err := w.creator.Create(ctx, msg.Draft)
	switch {
	case err == nil:
	case errors.Is(err, api.ErrUnauthenticated):
		w.metrics.importDone(OutcomeStopped)
		return fmt.Errorf("%w: %w", amqp.ErrStopConsuming, err)
	case errors.Is(err, api.ErrValidation):
		w.metrics.importDone(OutcomeDiscarded)
		return fmt.Errorf("%w: %w", amqp.ErrDiscard, err)
	default:
		w.metrics.importDone(OutcomeRetry)
		return err
	}

	if err := w.imports.RecordImport(ctx, msg.ID, tx.ID); err != nil {
		w.logger.WarnContext(ctx, "Failed to record import", fields.WithError(err, log.ErrorTypeDatabase).ToSlice()...)
	}
	w.metrics.importDone(OutcomeCreated)
	w.logger.InfoContext(ctx, "Transaction imported",
		fields.WithTransaction(tx.ID, string(tx.Type), string(tx.Category), tx.Amount.String()).ToSlice()...)
	return nil
}
