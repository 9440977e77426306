package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"ledger/internal/amqp"
	"ledger/internal/api"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/export"
	"ledger/internal/log"
	"ledger/internal/sheets"
	"ledger/internal/views"
)

func (c *command) parsePeriod(s string) (core.Period, error) {
	if s == "" {
		return c.app.ExportPeriod()
	}
	p, err := core.ParsePeriod(s)
	if err != nil {
		return "", api.NewValidationError("period", err)
	}
	return p, nil
}

func (c *command) dashboard(ctx context.Context, args []string) error {
	fs := c.flags("dashboard")
	period := fs.String("period", string(core.DefaultPeriod), "weekly, monthly or yearly")
	from := fs.String("from", "", "window start, YYYY-MM-DD")
	to := fs.String("to", "", "window end, YYYY-MM-DD")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := c.parsePeriod(*period)
	if err != nil {
		return err
	}

	var summary core.DashboardSummary
	if *from != "" || *to != "" {
		start, err := parseOptionalDate("from", *from)
		if err != nil {
			return err
		}
		end, err := parseOptionalDate("to", *to)
		if err != nil {
			return err
		}
		if start.IsZero() || end.IsZero() {
			return fmt.Errorf("%w: -from and -to go together", errUsage)
		}
		if summary, err = c.app.Dashboard.GetSummaryBetween(ctx, p, start, end); err != nil {
			return err
		}
	} else {
		screen := views.NewDashboardController(c.app.Dashboard)
		if err := screen.SetPeriod(ctx, p); err != nil {
			return err
		}
		summary = screen.State().Data
	}

	if *asJSON {
		return writeJSON(c.out, summary)
	}
	return printSummary(c.out, summary)
}

func (c *command) budgets(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: budgets needs list or create", errUsage)
	}
	switch args[0] {
	case "list":
		raw, err := c.app.Budgets.List(ctx)
		if err != nil {
			return err
		}
		return writeRaw(c.out, raw)
	case "create":
		fs := c.flags("budgets create")
		data := fs.String("data", "", "budget JSON, read from stdin when omitted")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		payload := []byte(*data)
		if *data == "" {
			b, err := io.ReadAll(c.in)
			if err != nil {
				return fmt.Errorf("read budget: %w", err)
			}
			payload = b
		}
		payload = bytes.TrimSpace(payload)
		if !json.Valid(payload) {
			return api.NewValidationError("data", errors.New("budget is not valid JSON"))
		}
		raw, err := c.app.Budgets.Create(ctx, payload)
		if err != nil {
			return err
		}
		return writeRaw(c.out, raw)
	default:
		return fmt.Errorf("%w: unknown budgets subcommand %q", errUsage, args[0])
	}
}

func (c *command) export(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: export needs xlsx, pdf or sheets", errUsage)
	}
	format := args[0]
	if format != "xlsx" && format != "pdf" && format != "sheets" {
		return fmt.Errorf("%w: unknown export format %q", errUsage, format)
	}
	fs := c.flags("export " + format)
	period := fs.String("period", "", "weekly, monthly or yearly (default EXPORT_PERIOD)")
	output := fs.String("o", "", "output file, - for stdout")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	p, err := c.parsePeriod(*period)
	if err != nil {
		return err
	}

	// Fail before fetching anything when sheets are not configured.
	var exporter sheets.TransactionExporter
	if format == "sheets" {
		if exporter, err = c.app.Sheets(ctx); err != nil {
			return err
		}
	}

	today := c.today()
	st, err := c.app.StatementBuilder().Build(ctx, p, today)
	if err != nil {
		return err
	}

	if format == "sheets" {
		window := st.Summary.PeriodWindow
		if window.StartDate.IsZero() {
			window.Period = p
			window.StartDate, window.EndDate = p.Range(today)
		}
		name := sheets.PeriodSheetName(c.app.Config.GoogleSheetName, window)
		ref, err := exporter.ExportTransactions(ctx, name, st.Transactions)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Exported %d transactions to %s\n", len(st.Transactions), ref)
		return nil
	}

	write := export.WriteStatementXLSX
	if format == "pdf" {
		write = export.WritePDF
	}
	if *output == "-" {
		return write(c.out, st)
	}
	path := *output
	if path == "" {
		path = st.Filename(format)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, st); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Wrote %s\n", path)
	return nil
}

type importPublisher interface {
	PublishImport(ctx context.Context, draft core.TransactionDraft) (string, error)
	Close() error
}

var newPublisher = func(cfg *config.Config, logger *log.Logger) (importPublisher, error) {
	if cfg.AMQPURL == "" {
		return nil, errors.New("imports need a queue (set AMQP_URL)")
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// importDrafts queues a JSON array of drafts for the import worker. Every
// draft is checked before the first one is published.
func (c *command) importDrafts(ctx context.Context, args []string) error {
	fs := c.flags("import")
	file := fs.String("file", "-", "JSON array of drafts, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = c.in
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("open %s: %w", *file, err)
		}
		defer f.Close()
		r = f
	}
	var drafts []core.TransactionDraft
	if err := json.NewDecoder(r).Decode(&drafts); err != nil {
		return api.NewValidationError("file", fmt.Errorf("decode drafts: %w", err))
	}
	if len(drafts) == 0 {
		fmt.Fprintln(c.out, "Nothing to import")
		return nil
	}
	for i, d := range drafts {
		if err := d.Validate(); err != nil {
			return api.NewValidationError(fmt.Sprintf("draft %d", i+1), err)
		}
	}

	pub, err := newPublisher(c.app.Config, c.app.Logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	for i, d := range drafts {
		id, err := pub.PublishImport(ctx, d)
		if err != nil {
			return fmt.Errorf("queue draft %d of %d: %w", i+1, len(drafts), err)
		}
		fmt.Fprintf(c.out, "Queued %s\n", id)
	}
	fmt.Fprintf(c.out, "Queued %d transactions\n", len(drafts))
	return nil
}
