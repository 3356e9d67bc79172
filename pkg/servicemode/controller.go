package servicemode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/tajine/pkg/breaker"
	"github.com/wisbric/tajine/pkg/budget"
	"github.com/wisbric/tajine/pkg/endpoint"
	"github.com/wisbric/tajine/pkg/flags"
)

// budgetTriggerClasses are the endpoint classes whose worst usage drives the
// budgetOk trigger.
var budgetTriggerClasses = []endpoint.Class{
	endpoint.PlaceDetails,
	endpoint.TextSearch,
	endpoint.Autocomplete,
	endpoint.Photos,
}

// budgetTriggerPct is the usage percentage at which budgetOk flips false.
const budgetTriggerPct = 80.0

// Controller is the periodic service-mode state machine.
type Controller struct {
	store    *Store
	health   *breaker.HealthStore
	budget   *budget.Enforcer
	flags    *flags.Store
	logger   *slog.Logger
	gauge    prometheus.Gauge
	interval time.Duration

	// latencyOk plugs a P95 check into the trigger set. The default always
	// reports OK; the metrics query is available to wire in.
	latencyOk func(ctx context.Context) bool

	// provider is the health-record service name the triggers project from.
	provider string
}

// NewController creates the Controller. gauge may be nil; latencyOk nil
// selects the always-OK default.
func NewController(store *Store, health *breaker.HealthStore, bud *budget.Enforcer, fl *flags.Store, logger *slog.Logger, gauge prometheus.Gauge, provider string, latencyOk func(ctx context.Context) bool) *Controller {
	if latencyOk == nil {
		latencyOk = func(context.Context) bool { return true }
	}
	return &Controller{
		store:     store,
		health:    health,
		budget:    bud,
		flags:     fl,
		logger:    logger,
		gauge:     gauge,
		interval:  time.Minute,
		latencyOk: latencyOk,
		provider:  provider,
	}
}

// Run starts the evaluation loop. It blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("service mode controller started", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("service mode controller stopped")
			return nil
		case <-ticker.C:
			if err := c.Evaluate(ctx); err != nil {
				c.logger.Error("service mode evaluation", "error", err)
			}
		}
	}
}

// Evaluate performs one trigger-gather + decide + apply cycle.
func (c *Controller) Evaluate(ctx context.Context) error {
	triggers, err := c.gatherTriggers(ctx)
	if err != nil {
		return err
	}

	current, err := c.store.Get(ctx)
	if err != nil {
		return err
	}

	// Manual offline mode holds until a manual change releases it.
	if current.CurrentMode == ModeOffline {
		return c.store.Upsert(ctx, current.CurrentMode, current.Reason, triggers, false)
	}

	mode, reason := Decide(triggers)
	if mode == current.CurrentMode {
		return c.store.Upsert(ctx, mode, current.Reason, triggers, false)
	}
	return c.apply(ctx, mode, current.CurrentMode, reason, triggers)
}

// gatherTriggers reads the health record, budgets, and latency hook.
func (c *Controller) gatherTriggers(ctx context.Context) (Triggers, error) {
	rec, err := c.health.Get(ctx, c.provider)
	if err != nil {
		return Triggers{}, fmt.Errorf("reading provider health: %w", err)
	}

	budgetOk := true
	for _, class := range budgetTriggerClasses {
		st, err := c.budget.Check(ctx, class)
		if err != nil {
			return Triggers{}, fmt.Errorf("checking budget for %s: %w", class, err)
		}
		if st.UsagePercent >= budgetTriggerPct {
			budgetOk = false
			break
		}
	}

	return Triggers{
		ProviderHealthy: rec.Healthy,
		// Breaker state is projected from the health record.
		BreakerClosed: rec.Healthy,
		BudgetOk:      budgetOk,
		LatencyOk:     c.latencyOk(ctx),
	}, nil
}

// SetMode applies a mode transition with the full flag-update discipline.
// It is the internal entry point auto-mitigation uses.
func (c *Controller) SetMode(ctx context.Context, mode Mode, reason string) error {
	current, err := c.store.Get(ctx)
	if err != nil {
		return err
	}
	if mode == current.CurrentMode {
		return nil
	}
	return c.apply(ctx, mode, current.CurrentMode, reason, current.Triggers)
}

// SetServiceMode is the public manual override. mode must be 0..3.
func (c *Controller) SetServiceMode(ctx context.Context, mode int, reason string) error {
	m, err := ParseMode(mode)
	if err != nil {
		return err
	}
	return c.SetMode(ctx, m, "manual_"+reason)
}

// apply records the transition and rolls out the per-mode flag table.
func (c *Controller) apply(ctx context.Context, mode, previous Mode, reason string, triggers Triggers) error {
	if err := c.store.InsertHistory(ctx, mode, previous, reason, triggers); err != nil {
		return err
	}
	if err := c.store.Upsert(ctx, mode, reason, triggers, true); err != nil {
		return err
	}
	if err := c.flags.SetAll(ctx, FlagsForMode(mode), reason); err != nil {
		return fmt.Errorf("applying mode flag table: %w", err)
	}

	if c.gauge != nil {
		c.gauge.Set(float64(mode))
	}
	c.logger.Info("service mode transition",
		"from", previous.String(),
		"to", mode.String(),
		"reason", reason,
	)
	return nil
}
