// Package budget enforces the per-endpoint-class daily provider spend in
// millicents. Counters live in Redis under daily keys so every process sees
// the same spend; crossing the critical thresholds trips the class's feature
// flags.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tajine/pkg/endpoint"
	"github.com/wisbric/tajine/pkg/flags"
)

const (
	// Counter keys outlive their day so late recorders never resurrect a
	// deleted key, then expire.
	counterTTL = 48 * time.Hour

	warningPct  = 80.0
	criticalPct = 95.0
)

// Warning levels reported by Check.
const (
	LevelNone        = ""
	LevelApproaching = "approaching"
	LevelCritical    = "critical"
)

// autoDisable maps an endpoint class to the feature flags tripped when its
// budget goes critical. Autocomplete and health are never auto-disabled.
var autoDisable = map[endpoint.Class][]string{
	endpoint.Photos:       {flags.PhotosEnabled},
	endpoint.TextSearch:   {flags.TextSearchEnabled},
	endpoint.NearbySearch: {flags.NearbySearchEnabled},
	endpoint.PlaceDetails: {flags.PlaceDetailsEnhanced},
}

// Status is the result of a budget check.
type Status struct {
	Class           endpoint.Class `json:"class"`
	Allowed         bool           `json:"allowed"`
	UsedMillicents  int64          `json:"usedMillicents"`
	LimitMillicents int64          `json:"limitMillicents"`
	UsagePercent    float64        `json:"usagePercent"`
	Warning         bool           `json:"warning"`
	WarningLevel    string         `json:"warningLevel,omitempty"`
}

// Enforcer tracks and gates daily provider spend per endpoint class.
type Enforcer struct {
	rdb    *redis.Client
	limits map[endpoint.Class]int64
	flags  *flags.Store
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewEnforcer creates a budget Enforcer. Pass nil limits to use the default
// daily limits; gauge may be nil.
func NewEnforcer(rdb *redis.Client, limits map[endpoint.Class]int64, fl *flags.Store, logger *slog.Logger, gauge *prometheus.GaugeVec) *Enforcer {
	if limits == nil {
		limits = endpoint.DefaultDailyLimits
	}
	return &Enforcer{rdb: rdb, limits: limits, flags: fl, logger: logger, gauge: gauge}
}

// counterKey builds the daily counter key for a class, UTC-dated.
func counterKey(class endpoint.Class, day time.Time) string {
	return fmt.Sprintf("budget:%s:%s", class, day.UTC().Format("2006-01-02"))
}

// Check reports whether class has budget left today.
func (e *Enforcer) Check(ctx context.Context, class endpoint.Class) (Status, error) {
	used, err := e.rdb.Get(ctx, counterKey(class, time.Now())).Int64()
	if err != nil && err != redis.Nil {
		return Status{}, fmt.Errorf("reading budget counter for %s: %w", class, err)
	}
	return e.status(class, used), nil
}

// Record atomically adds cost millicents to today's counter. When this
// particular increment crosses the critical or blocking threshold, the
// class's auto-disable flags are turned off.
func (e *Enforcer) Record(ctx context.Context, class endpoint.Class, costMillicents int64) error {
	if costMillicents <= 0 {
		return nil
	}

	key := counterKey(class, time.Now())
	used, err := e.rdb.IncrBy(ctx, key, costMillicents).Result()
	if err != nil {
		return fmt.Errorf("incrementing budget counter for %s: %w", class, err)
	}
	// Refreshing the TTL on every increment is cheaper than an EXISTS probe.
	e.rdb.Expire(ctx, key, counterTTL)

	limit := e.limits[class]
	if e.gauge != nil && limit > 0 {
		e.gauge.WithLabelValues(string(class)).Set(float64(used) / float64(limit))
	}
	if limit <= 0 {
		return nil
	}

	before := pct(used-costMillicents, limit)
	after := pct(used, limit)
	if crossed(before, after, criticalPct) || crossed(before, after, 100) {
		e.tripFlags(ctx, class, after)
	}
	return nil
}

// status computes the Status for a known used value.
func (e *Enforcer) status(class endpoint.Class, used int64) Status {
	limit := e.limits[class]
	st := Status{
		Class:           class,
		Allowed:         true,
		UsedMillicents:  used,
		LimitMillicents: limit,
	}
	if limit <= 0 {
		return st
	}

	st.UsagePercent = pct(used, limit)
	switch {
	case st.UsagePercent >= 100:
		st.Allowed = false
		st.Warning = true
		st.WarningLevel = LevelCritical
	case st.UsagePercent >= criticalPct:
		st.Warning = true
		st.WarningLevel = LevelCritical
	case st.UsagePercent >= warningPct:
		st.Warning = true
		st.WarningLevel = LevelApproaching
	}
	return st
}

// tripFlags disables the class's auto-disable flags.
func (e *Enforcer) tripFlags(ctx context.Context, class endpoint.Class, usagePct float64) {
	names := autoDisable[class]
	if len(names) == 0 {
		return
	}
	reason := fmt.Sprintf("budget_critical_%s", class)
	for _, name := range names {
		if err := e.flags.Set(ctx, name, false, reason); err != nil {
			e.logger.Error("disabling flag on budget breach", "flag", name, "error", err)
		}
	}
	e.logger.Warn("budget threshold crossed",
		"class", class,
		"usage_percent", usagePct,
		"disabled_flags", names,
	)
}

// Snapshot returns the status of every endpoint class.
func (e *Enforcer) Snapshot(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(endpoint.All))
	for _, class := range endpoint.All {
		st, err := e.Check(ctx, class)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func pct(used, limit int64) float64 {
	return float64(used) / float64(limit) * 100
}

// crossed reports whether threshold was passed by moving from before to after.
func crossed(before, after, threshold float64) bool {
	return before < threshold && after >= threshold
}
