package views

import (
	"context"
	"strings"
	"sync"

	"ledger/internal/api"
	"ledger/internal/core"
)

const (
	msgListFailed   = "failed to load transactions"
	msgDeleteFailed = "failed to delete transaction"
	msgSaveFailed   = "failed to save transaction"
)

// TransactionStore is satisfied by *services.TransactionService.
type TransactionStore interface {
	List(ctx context.Context, filter core.TransactionFilter) ([]core.Transaction, error)
	Create(ctx context.Context, draft core.TransactionDraft) (core.Transaction, error)
	Update(ctx context.Context, id string, draft core.TransactionDraft) (core.Transaction, error)
	Delete(ctx context.Context, id string) error
}

// Filters are the list screen controls. Type and Category are applied by
// the backend, Search locally.
type Filters struct {
	Type     core.TransactionType
	Category core.Category
	Search   string
}

// TransactionsController backs the transaction list.
type TransactionsController struct {
	store TransactionStore

	mu      sync.Mutex
	filters Filters
	fetched []core.Transaction
	state   State[[]core.Transaction]
	gen     uint64
}

func NewTransactionsController(store TransactionStore) *TransactionsController {
	return &TransactionsController{store: store}
}

func (c *TransactionsController) State() State[[]core.Transaction] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *TransactionsController) Filters() Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// SetFilters applies f. A category that does not belong to the selected
// type is dropped. The backend is queried again only when the type or the
// category changed; a new search term filters the last fetched list.
func (c *TransactionsController) SetFilters(ctx context.Context, f Filters) error {
	f.Search = strings.TrimSpace(f.Search)
	if f.Type != "" && f.Category != "" && !f.Category.BelongsTo(f.Type) {
		f.Category = ""
	}

	c.mu.Lock()
	refetch := c.state.Status == Idle || f.Type != c.filters.Type || f.Category != c.filters.Category
	c.filters = f
	if !refetch {
		if c.state.Status == Ready {
			c.state = c.state.ready(core.FilterBySearch(c.fetched, f.Search))
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.Load(ctx)
}

// Load fetches the list for the current filters.
func (c *TransactionsController) Load(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen, f := c.gen, c.filters
	c.state = c.state.loading()
	c.mu.Unlock()

	items, err := c.store.List(ctx, core.TransactionFilter{Type: f.Type, Category: f.Category})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return err
	}
	if err != nil {
		c.state = c.state.failed(err, msgListFailed)
		return err
	}
	c.fetched = items
	c.state = c.state.ready(core.FilterBySearch(items, c.filters.Search))
	return nil
}

// Delete removes the transaction and reloads the list. When the delete
// fails the list stays as it was and the state carries the error.
func (c *TransactionsController) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		c.mu.Lock()
		c.state.Err = err
		c.state.Message = api.Message(err, msgDeleteFailed)
		if c.state.Unauthenticated() {
			c.state.Status = Failed
		}
		c.mu.Unlock()
		return err
	}
	return c.Load(ctx)
}
