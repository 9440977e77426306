package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/views"
)

func (c *command) tx(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: tx needs a subcommand", errUsage)
	}
	switch args[0] {
	case "list":
		return c.txList(ctx, args[1:])
	case "get":
		return c.txGet(ctx, args[1:])
	case "add":
		return c.txAdd(ctx, args[1:])
	case "update":
		return c.txUpdate(ctx, args[1:])
	case "delete":
		return c.txDelete(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown tx subcommand %q", errUsage, args[0])
	}
}

// splitID takes the leading positional ID so flags may follow it.
func splitID(args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("%w: missing transaction ID", errUsage)
	}
	return args[0], args[1:], nil
}

func parseType(s string) (core.TransactionType, error) {
	if s == "" {
		return "", nil
	}
	t, err := core.ParseTransactionType(strings.ToLower(s))
	if err != nil {
		return "", api.NewValidationError("type", err)
	}
	return t, nil
}

func parseOptionalDate(field, s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, api.NewValidationError(field, err)
	}
	return d, nil
}

func (c *command) txList(ctx context.Context, args []string) error {
	fs := c.flags("tx list")
	typ := fs.String("type", "", "income or expense")
	category := fs.String("category", "", "category")
	from := fs.String("from", "", "first date, YYYY-MM-DD")
	to := fs.String("to", "", "last date, YYYY-MM-DD")
	search := fs.String("search", "", "text matched against description and category")
	skip := fs.Int("skip", 0, "rows to skip")
	limit := fs.Int("limit", 0, "maximum rows")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	t, err := parseType(*typ)
	if err != nil {
		return err
	}
	filter := core.TransactionFilter{
		Type:     t,
		Category: core.Category(strings.ToLower(*category)),
		Skip:     *skip,
		Limit:    *limit,
	}
	if filter.StartDate, err = parseOptionalDate("from", *from); err != nil {
		return err
	}
	if filter.EndDate, err = parseOptionalDate("to", *to); err != nil {
		return err
	}

	var items []core.Transaction
	if filter.StartDate.IsZero() && filter.EndDate.IsZero() && filter.Skip == 0 && filter.Limit == 0 {
		list := views.NewTransactionsController(c.app.Transactions)
		err := list.SetFilters(ctx, views.Filters{Type: filter.Type, Category: filter.Category, Search: *search})
		if err != nil {
			return err
		}
		items = list.State().Data
	} else {
		fetched, err := c.app.Transactions.List(ctx, filter)
		if err != nil {
			return err
		}
		items = core.FilterBySearch(fetched, *search)
	}

	if *asJSON {
		return writeJSON(c.out, items)
	}
	return printTransactions(c.out, items)
}

func (c *command) txGet(ctx context.Context, args []string) error {
	id, rest, err := splitID(args)
	if err != nil {
		return err
	}
	fs := c.flags("tx get")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	tx, err := c.app.Transactions.Get(ctx, id)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(c.out, tx)
	}
	return printTransaction(c.out, tx)
}

// formFlags are the editable fields shared by add and update.
type formFlags struct {
	fs        *flag.FlagSet
	amount    string
	typ       string
	category  string
	date      string
	desc      string
	clearDesc bool
	asJSON    bool
}

func (c *command) newFormFlags(name string, allowsClear bool) *formFlags {
	f := &formFlags{fs: c.flags(name)}
	f.fs.StringVar(&f.amount, "amount", "", "amount, comma or dot decimals")
	f.fs.StringVar(&f.typ, "type", "", "income or expense")
	f.fs.StringVar(&f.category, "category", "", "category of the type")
	f.fs.StringVar(&f.date, "date", "", "date, YYYY-MM-DD")
	f.fs.StringVar(&f.desc, "desc", "", "description")
	f.fs.BoolVar(&f.asJSON, "json", false, "print JSON")
	if allowsClear {
		f.fs.BoolVar(&f.clearDesc, "clear-desc", false, "remove the description")
	}
	return f
}

// apply copies the flags that were set onto form. The type goes first
// since changing it resets the category.
func (f *formFlags) apply(form *views.FormController) error {
	set := map[string]bool{}
	f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["type"] {
		t, err := parseType(f.typ)
		if err != nil {
			return err
		}
		if err := form.SetType(t); err != nil {
			return err
		}
	}
	if set["category"] {
		if err := form.SetCategory(core.Category(strings.ToLower(f.category))); err != nil {
			return err
		}
	}
	if set["amount"] {
		if err := form.SetAmount(f.amount); err != nil {
			return err
		}
	}
	if set["date"] {
		if err := form.SetDate(f.date); err != nil {
			return err
		}
	}
	switch {
	case f.clearDesc:
		form.SetDescription("")
	case set["desc"]:
		form.SetDescription(f.desc)
	}
	return nil
}

func (c *command) txAdd(ctx context.Context, args []string) error {
	f := c.newFormFlags("tx add", false)
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.amount == "" {
		return fmt.Errorf("%w: -amount is required", errUsage)
	}
	form := views.NewCreateForm(c.app.Transactions, c.today())
	if err := f.apply(form); err != nil {
		return err
	}
	tx, err := form.Submit(ctx)
	if err != nil {
		return err
	}
	if f.asJSON {
		return writeJSON(c.out, tx)
	}
	fmt.Fprintf(c.out, "Created %s\n", tx.ID)
	return nil
}

func (c *command) txUpdate(ctx context.Context, args []string) error {
	id, rest, err := splitID(args)
	if err != nil {
		return err
	}
	f := c.newFormFlags("tx update", true)
	if err := f.fs.Parse(rest); err != nil {
		return err
	}
	if f.fs.NFlag() == 0 {
		return fmt.Errorf("%w: nothing to update", errUsage)
	}

	current, err := c.app.Transactions.Get(ctx, id)
	if err != nil {
		return err
	}
	form := views.NewEditForm(c.app.Transactions, current)
	if err := f.apply(form); err != nil {
		return err
	}
	tx, err := form.Submit(ctx)
	if err != nil {
		return err
	}
	if f.asJSON {
		return writeJSON(c.out, tx)
	}
	fmt.Fprintf(c.out, "Updated %s\n", tx.ID)
	return nil
}

func (c *command) txDelete(ctx context.Context, args []string) error {
	id, _, err := splitID(args)
	if err != nil {
		return err
	}
	if err := c.app.Transactions.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted %s\n", id)
	return nil
}
