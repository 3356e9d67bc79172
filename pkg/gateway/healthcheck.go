package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/wisbric/tajine/pkg/fieldset"
)

// HealthChecker probes the provider with a minimal details call every minute
// so the health record the mode controller reads stays current even when
// organic traffic is idle.
type HealthChecker struct {
	svc      *Service
	logger   *slog.Logger
	placeID  string
	interval time.Duration
}

// NewHealthChecker creates a HealthChecker probing the given canary place.
func NewHealthChecker(svc *Service, logger *slog.Logger, placeID string) *HealthChecker {
	return &HealthChecker{
		svc:      svc,
		logger:   logger,
		placeID:  placeID,
		interval: time.Minute,
	}
}

// Run starts the probe loop. It blocks until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.logger.Info("provider health checker started", "interval", h.interval)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("provider health checker stopped")
			return nil
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

// probe issues one free HEALTH_CHECK details call. The breaker inside the
// gateway records the outcome into the health store.
func (h *HealthChecker) probe(ctx context.Context) {
	res := h.svc.ProviderRequest(ctx, Params{
		FieldSet:        fieldset.HealthCheck,
		EndpointClass:   "place_details",
		PlaceID:         h.placeID,
		SkipBudgetCheck: true,
		Priority:        1,
	})
	if !res.Success {
		h.logger.Warn("provider health probe failed",
			"code", res.Error.Code,
			"retryable", res.Error.Retryable,
		)
		return
	}
	h.logger.Debug("provider health probe ok", "latency_ms", res.Metadata.LatencyMs)
}
