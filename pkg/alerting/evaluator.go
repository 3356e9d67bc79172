package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wisbric/tajine/pkg/flags"
	"github.com/wisbric/tajine/pkg/metricstore"
	"github.com/wisbric/tajine/pkg/servicemode"
)

// realertSuppression is how recently an unresolved alert must have fired for
// a fresh breach to be skipped instead of re-inserted.
const realertSuppression = 5 * time.Minute

// Metrics is the slice of the metric store the evaluator queries.
type Metrics interface {
	Query(ctx context.Context, name string, from, to time.Time, endpointTag string) (metricstore.Summary, error)
	ErrorRate(ctx context.Context, from, to time.Time) (float64, error)
	CacheHitRate(ctx context.Context, from, to time.Time, endpointTag string) (float64, error)
	Count(ctx context.Context, name string, from, to time.Time) (int64, error)
}

// AlertStore is the persistence surface the evaluator drives.
type AlertStore interface {
	ListEnabledThresholds(ctx context.Context) ([]Threshold, error)
	SeedDefaults(ctx context.Context) error
	UnresolvedAlert(ctx context.Context, threshold string) (*Alert, error)
	InsertAlert(ctx context.Context, threshold, severity, message string, value float64) (Alert, error)
	ResolveAlerts(ctx context.Context, threshold string) (int64, error)
}

// ModeSetter is the auto-mitigation hook into the service-mode controller.
// The dependency arrow runs evaluator → controller only; the controller never
// calls back into alerting.
type ModeSetter interface {
	SetMode(ctx context.Context, mode servicemode.Mode, reason string) error
}

// Evaluator is the periodic threshold evaluation loop.
type Evaluator struct {
	store    AlertStore
	metrics  Metrics
	modes    ModeSetter
	flags    *flags.Store
	notifier *Notifier
	logger   *slog.Logger
	interval time.Duration
	seeded   bool
}

// NewEvaluator creates the Evaluator. notifier may be disabled but not nil.
func NewEvaluator(store AlertStore, metrics Metrics, modes ModeSetter, fl *flags.Store, notifier *Notifier, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		metrics:  metrics,
		modes:    modes,
		flags:    fl,
		notifier: notifier,
		logger:   logger,
		interval: time.Minute,
	}
}

// Run starts the evaluation loop. It blocks until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Info("alert evaluator started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert evaluator stopped")
			return nil
		case <-ticker.C:
			if err := e.Evaluate(ctx); err != nil {
				e.logger.Error("alert evaluation", "error", err)
			}
		}
	}
}

// Evaluate performs one pass over all enabled thresholds.
func (e *Evaluator) Evaluate(ctx context.Context) error {
	thresholds, err := e.store.ListEnabledThresholds(ctx)
	if err != nil {
		return err
	}
	if len(thresholds) == 0 && !e.seeded {
		if err := e.store.SeedDefaults(ctx); err != nil {
			return err
		}
		e.seeded = true
		if thresholds, err = e.store.ListEnabledThresholds(ctx); err != nil {
			return err
		}
	}

	for _, t := range thresholds {
		if err := e.evaluateThreshold(ctx, t); err != nil {
			e.logger.Error("evaluating threshold", "threshold", t.Name, "error", err)
		}
	}
	return nil
}

// evaluateThreshold computes one threshold's metric and applies the breach or
// resolution path.
func (e *Evaluator) evaluateThreshold(ctx context.Context, t Threshold) error {
	value, err := e.computeMetric(ctx, t)
	if err != nil {
		return err
	}

	if !t.Breached(value) {
		resolved, err := e.store.ResolveAlerts(ctx, t.Name)
		if err != nil {
			return err
		}
		if resolved > 0 {
			e.logger.Info("alert resolved", "threshold", t.Name, "value", value)
			e.notifier.PostResolved(ctx, t.Name, time.Now().UTC())
		}
		return nil
	}

	// Suppress re-alerting while a recent unresolved alert exists.
	open, err := e.store.UnresolvedAlert(ctx, t.Name)
	if err != nil {
		return err
	}
	if open != nil && time.Since(open.TriggeredAt) < realertSuppression {
		return nil
	}

	message := fmt.Sprintf("%s %s %.3f (observed %.3f over %dm)",
		t.Metric, t.Comparison, t.Value, value, t.WindowMinutes)
	alert, err := e.store.InsertAlert(ctx, t.Name, t.Severity, message, value)
	if err != nil {
		return err
	}
	e.logger.Warn("alert triggered",
		"threshold", t.Name,
		"severity", t.Severity,
		"value", value,
	)

	if err := e.notifier.PostAlert(ctx, alert); err != nil {
		e.logger.Error("notifying alert", "threshold", t.Name, "error", err)
	}

	return e.mitigate(ctx, t)
}

// computeMetric dispatches on the threshold's metric kind.
func (e *Evaluator) computeMetric(ctx context.Context, t Threshold) (float64, error) {
	to := time.Now().UTC()
	from := to.Add(-time.Duration(t.WindowMinutes) * time.Minute)

	switch {
	case t.Metric == "api_error_rate":
		return e.metrics.ErrorRate(ctx, from, to)

	case t.Metric == "cache_hit_rate":
		return e.metrics.CacheHitRate(ctx, from, to, "")

	case t.Metric == "review_spam_rate":
		n, err := e.metrics.Count(ctx, metricstore.NameReviewSpam, from, to)
		if err != nil {
			return 0, err
		}
		hours := float64(t.WindowMinutes) / 60
		if hours == 0 {
			return 0, nil
		}
		return float64(n) / hours, nil

	case strings.HasSuffix(t.Metric, "_p95"):
		name := strings.TrimSuffix(t.Metric, "_p95") + "_latency"
		s, err := e.metrics.Query(ctx, name, from, to, "")
		if err != nil {
			return 0, err
		}
		return s.P95, nil

	default:
		s, err := e.metrics.Query(ctx, t.Metric, from, to, "")
		if err != nil {
			return 0, err
		}
		return s.Avg, nil
	}
}

// mitigate applies the threshold's auto-mitigation, if any.
func (e *Evaluator) mitigate(ctx context.Context, t Threshold) error {
	switch t.AutoMitigation {
	case "":
		return nil
	case MitigateServiceMode1:
		return e.modes.SetMode(ctx, servicemode.ModeCostSaver, "auto_mitigation_"+t.Name)
	case MitigateServiceMode2:
		return e.modes.SetMode(ctx, servicemode.ModeProviderLimited, "auto_mitigation_"+t.Name)
	case MitigateDisablePhotos:
		return e.flags.Set(ctx, flags.PhotosEnabled, false, "auto_mitigation_"+t.Name)
	default:
		e.logger.Warn("unknown auto-mitigation", "threshold", t.Name, "action", t.AutoMitigation)
		return nil
	}
}
