package views

import (
	"context"
	"fmt"
	"sync"

	"ledger/internal/api"
	"ledger/internal/core"
)

// FormController backs the create and edit form of a transaction.
type FormController struct {
	store TransactionStore
	id    string

	mu    sync.Mutex
	draft core.TransactionDraft
	state State[core.Transaction]
}

// NewCreateForm starts an empty expense dated today.
func NewCreateForm(store TransactionStore, today core.Date) *FormController {
	return &FormController{
		store: store,
		draft: core.TransactionDraft{
			Type:     core.Expense,
			Category: core.DefaultCategory(core.Expense),
			Date:     today,
		},
	}
}

// NewEditForm starts from the current values of tx.
func NewEditForm(store TransactionStore, tx core.Transaction) *FormController {
	return &FormController{store: store, id: tx.ID, draft: tx.Draft()}
}

// Editing reports whether Submit updates an existing transaction.
func (c *FormController) Editing() bool {
	return c.id != ""
}

func (c *FormController) Draft() core.TransactionDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	if d.Description != nil {
		desc := *d.Description
		d.Description = &desc
	}
	return d
}

func (c *FormController) State() State[core.Transaction] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetType switches the type. The category resets to the first category
// of the new type whenever the type changes.
func (c *FormController) SetType(t core.TransactionType) error {
	if !t.Valid() {
		return api.NewValidationError("type", fmt.Errorf("%w: %q", core.ErrInvalidType, t))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft.Type != t {
		c.draft.Type = t
		c.draft.Category = core.DefaultCategory(t)
	}
	return nil
}

func (c *FormController) SetCategory(cat core.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !cat.BelongsTo(c.draft.Type) {
		return api.NewValidationError("category",
			fmt.Errorf("%w: %q is not a %s category", core.ErrInvalidCategory, cat, c.draft.Type))
	}
	c.draft.Category = cat
	return nil
}

// SetAmount parses user input such as "12,50".
func (c *FormController) SetAmount(input string) error {
	amount, err := core.ParseAmount(input)
	if err != nil {
		return api.NewValidationError("amount", err)
	}
	c.mu.Lock()
	c.draft.Amount = amount
	c.mu.Unlock()
	return nil
}

// SetDate parses a YYYY-MM-DD date.
func (c *FormController) SetDate(input string) error {
	date, err := core.ParseDate(input)
	if err != nil {
		return api.NewValidationError("date", fmt.Errorf("%w: %v", core.ErrMissingDate, err))
	}
	c.mu.Lock()
	c.draft.Date = date
	c.mu.Unlock()
	return nil
}

// SetDescription sets the free text; blank text clears it.
func (c *FormController) SetDescription(text string) {
	c.mu.Lock()
	c.draft.Description = core.Description(text)
	c.mu.Unlock()
}

// Submit creates or updates the transaction. The form keeps its values on
// failure so the user can correct them.
func (c *FormController) Submit(ctx context.Context) (core.Transaction, error) {
	c.mu.Lock()
	draft := c.draft
	c.state = c.state.loading()
	c.mu.Unlock()

	var (
		tx  core.Transaction
		err error
	)
	if c.Editing() {
		tx, err = c.store.Update(ctx, c.id, draft)
	} else {
		tx, err = c.store.Create(ctx, draft)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = c.state.failed(err, msgSaveFailed)
		return core.Transaction{}, err
	}
	c.state = c.state.ready(tx)
	return tx, nil
}
