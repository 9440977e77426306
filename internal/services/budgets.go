package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ledger/internal/api"
	"ledger/internal/log"
)

// BudgetService exposes /budgets. Payloads pass through untouched until
// their shape settles.
type BudgetService struct {
	backend Backend
	logger  *log.Logger
}

func NewBudgetService(backend Backend, logger *log.Logger) *BudgetService {
	if logger == nil {
		logger = log.Nop()
	}
	return &BudgetService{backend: backend, logger: logger.WithComponent(log.ComponentBudgets)}
}

func (s *BudgetService) List(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := s.backend.Send(ctx, api.Request{Method: http.MethodGet, Path: "/budgets"}, &out); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return out, nil
}

func (s *BudgetService) Create(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(payload) {
		return nil, api.NewValidationError("budget", errors.New("payload is not valid JSON"))
	}
	var out json.RawMessage
	if err := s.backend.Send(ctx, api.Request{Method: http.MethodPost, Path: "/budgets", Body: payload}, &out); err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}
	s.logger.InfoContext(ctx, "Budget created", log.FieldOperation, log.OpCreate)
	return out, nil
}
