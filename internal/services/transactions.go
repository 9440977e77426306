package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/log"
)

// TransactionService manages the user's transactions on the backend.
type TransactionService struct {
	backend Backend
	logger  *log.Logger
	changes listeners
}

func NewTransactionService(backend Backend, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Nop()
	}
	return &TransactionService{
		backend: backend,
		logger:  logger.WithComponent(log.ComponentTransactions),
	}
}

// OnChange registers fn to run after every successful create, update or
// delete. The returned function unregisters it.
func (s *TransactionService) OnChange(fn func(ctx context.Context)) func() {
	return s.changes.add(fn)
}

// List returns the transactions matching the server-side part of filter,
// in the order the backend returns them.
func (s *TransactionService) List(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error) {
	if err := filter.Validate(); err != nil {
		return nil, api.NewValidationError("filter", err)
	}

	var items []core.Transaction
	err := s.backend.Send(ctx, api.Request{
		Method: http.MethodGet,
		Path:   "/transactions",
		Query:  filter.Query(),
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []core.Transaction{}
	}
	return items, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	path, err := transactionPath(id)
	if err != nil {
		return core.Transaction{}, err
	}

	var tx core.Transaction
	if err := s.backend.Send(ctx, api.Request{Method: http.MethodGet, Path: path}, &tx); err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

// Create validates draft and stores it. An invalid draft is rejected
// without contacting the backend.
func (s *TransactionService) Create(ctx context.Context, draft core.TransactionDraft) (core.Transaction, error) {
	if err := draft.Validate(); err != nil {
		return core.Transaction{}, draftError(err)
	}

	var tx core.Transaction
	err := s.backend.Send(ctx, api.Request{
		Method: http.MethodPost,
		Path:   "/transactions",
		Body:   draft,
	}, &tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction created", s.fields(log.OpCreate, tx)...)
	s.changes.notify(ctx)
	return tx, nil
}

// Update replaces every editable field of the transaction with draft. An
// absent description is sent as null so the backend clears it.
func (s *TransactionService) Update(ctx context.Context, id string, draft core.TransactionDraft) (core.Transaction, error) {
	path, err := transactionPath(id)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := draft.Validate(); err != nil {
		return core.Transaction{}, draftError(err)
	}

	var tx core.Transaction
	err = s.backend.Send(ctx, api.Request{
		Method: http.MethodPut,
		Path:   path,
		Body:   draft,
	}, &tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "Transaction updated", s.fields(log.OpUpdate, tx)...)
	s.changes.notify(ctx)
	return tx, nil
}

func (s *TransactionService) Delete(ctx context.Context, id string) error {
	path, err := transactionPath(id)
	if err != nil {
		return err
	}

	if err := s.backend.Send(ctx, api.Request{Method: http.MethodDelete, Path: path}, nil); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldTransaction, id,
	)
	s.changes.notify(ctx)
	return nil
}

func (s *TransactionService) fields(op string, tx core.Transaction) []any {
	return log.NewFields().
		WithOperation(op).
		WithTransaction(tx.ID, string(tx.Type), string(tx.Category), tx.Amount.String()).
		ToSlice()
}

func transactionPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", api.NewValidationError("id", errors.New("is required"))
	}
	return "/transactions/" + url.PathEscape(id), nil
}

// draftError names the field a draft validation error belongs to.
func draftError(err error) error {
	field := ""
	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		field = "amount"
	case errors.Is(err, core.ErrInvalidType):
		field = "type"
	case errors.Is(err, core.ErrInvalidCategory):
		field = "category"
	case errors.Is(err, core.ErrMissingDate):
		field = "date"
	}
	return api.NewValidationError(field, err)
}
