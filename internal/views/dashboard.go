package views

import (
	"context"
	"sync"

	"ledger/internal/api"
	"ledger/internal/core"
)

const msgDashboardFailed = "failed to load dashboard"

// SummaryReader is satisfied by *services.DashboardService.
type SummaryReader interface {
	GetSummary(ctx context.Context, period core.Period) (core.DashboardSummary, error)
}

type DashboardController struct {
	reader SummaryReader

	mu     sync.Mutex
	period core.Period
	state  State[core.DashboardSummary]
	gen    uint64
}

func NewDashboardController(reader SummaryReader) *DashboardController {
	return &DashboardController{reader: reader, period: core.DefaultPeriod}
}

func (c *DashboardController) State() State[core.DashboardSummary] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *DashboardController) Period() core.Period {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

// Load fetches the summary of the selected period.
func (c *DashboardController) Load(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen, period := c.gen, c.period
	c.state = c.state.loading()
	c.mu.Unlock()

	summary, err := c.reader.GetSummary(ctx, period)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return err
	}
	if err != nil {
		c.state = c.state.failed(err, msgDashboardFailed)
		return err
	}
	c.state = c.state.ready(summary)
	return nil
}

// SetPeriod selects p and reloads. An invalid period leaves the selection
// unchanged.
func (c *DashboardController) SetPeriod(ctx context.Context, p core.Period) error {
	if err := p.Validate(); err != nil {
		verr := api.NewValidationError("period", err)
		c.mu.Lock()
		c.state = c.state.failed(verr, msgDashboardFailed)
		c.mu.Unlock()
		return verr
	}
	c.mu.Lock()
	c.period = p
	c.mu.Unlock()
	return c.Load(ctx)
}
