package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/tajine/internal/config"
	"github.com/wisbric/tajine/pkg/alerting"
	"github.com/wisbric/tajine/pkg/gateway"
	"github.com/wisbric/tajine/pkg/metricstore"
)

// runWorker starts every periodic loop of the control plane and blocks until
// the context is cancelled.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *components) error {
	logger.Info("worker started")

	notifier := alerting.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("slack alerting enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack alerting disabled (SLACK_BOT_TOKEN or SLACK_ALERT_CHANNEL not set)")
	}
	evaluator := alerting.NewEvaluator(c.alertStore, c.metricStore, c.modeCtrl, c.flags, notifier, logger)
	healthChecker := gateway.NewHealthChecker(c.gateway, logger, cfg.HealthCheckPlaceID)

	g, ctx := errgroup.WithContext(ctx)

	// Minute loops.
	g.Go(func() error { return c.modeCtrl.Run(ctx) })
	g.Go(func() error { return evaluator.Run(ctx) })
	g.Go(func() error { return healthChecker.Run(ctx) })

	// Hourly cache purges.
	g.Go(func() error {
		return runEvery(ctx, time.Hour, func(ctx context.Context) {
			if n, err := c.searchCache.PurgeExpired(ctx); err != nil {
				logger.Error("purging search cache", "error", err)
			} else if n > 0 {
				logger.Info("purged search cache rows", "count", n)
			}
			if n, err := c.tileCache.PurgeExpired(ctx); err != nil {
				logger.Error("purging tile cache", "error", err)
			} else if n > 0 {
				logger.Info("purged tile cache chunks", "count", n)
			}
		})
	})

	// Raw search log purge every 6 hours.
	g.Go(func() error {
		return runEvery(ctx, 6*time.Hour, func(ctx context.Context) {
			if n, err := c.popSvc.PurgeRaw(ctx); err != nil {
				logger.Error("purging raw search log", "error", err)
			} else if n > 0 {
				logger.Info("purged raw search log rows", "count", n)
			}
		})
	})

	// Daily jobs, pinned to their UTC hours.
	g.Go(func() error {
		return runDailyAt(ctx, 4, func(ctx context.Context) {
			if err := c.popSvc.AggregateDaily(ctx); err != nil {
				logger.Error("aggregating popular searches", "error", err)
			} else {
				logger.Info("popular search aggregation complete")
			}
		})
	})
	g.Go(func() error {
		return runDailyAt(ctx, 5, func(ctx context.Context) {
			if n, err := c.popSvc.PurgeAggregates(ctx); err != nil {
				logger.Error("purging search aggregates", "error", err)
			} else if n > 0 {
				logger.Info("purged search aggregates", "count", n)
			}
		})
	})
	g.Go(func() error {
		return runDailyAt(ctx, 2, func(ctx context.Context) {
			cutoff := time.Now().UTC().Add(-metricstore.DefaultRetention)
			if n, err := c.metricStore.PurgeOlderThan(ctx, cutoff); err != nil {
				logger.Error("purging metric events", "error", err)
			} else if n > 0 {
				logger.Info("purged metric events", "count", n)
			}
		})
	})

	return g.Wait()
}

// runEvery invokes fn immediately and then on every interval tick until ctx
// is cancelled.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// runDailyAt invokes fn once per day at the given UTC hour.
func runDailyAt(ctx context.Context, hourUTC int, fn func(context.Context)) error {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			fn(ctx)
		}
	}
}
