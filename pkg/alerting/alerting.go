// Package alerting evaluates metric thresholds every minute, records alerts,
// pushes Slack notifications, and drives service-mode auto-mitigation.
package alerting

import (
	"time"

	"github.com/google/uuid"
)

// Comparison directions.
const (
	CompareGreater = "gt"
	CompareLess    = "lt"
)

// Severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Auto-mitigation actions.
const (
	MitigateServiceMode1  = "set_service_mode_1"
	MitigateServiceMode2  = "set_service_mode_2"
	MitigateDisablePhotos = "disable_photos"
)

// Threshold is one evaluated alert rule.
type Threshold struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Metric         string    `json:"metric"`
	Comparison     string    `json:"comparison"`
	Value          float64   `json:"value"`
	WindowMinutes  int       `json:"windowMinutes"`
	Severity       string    `json:"severity"`
	AutoMitigation string    `json:"autoMitigation,omitempty"`
	Enabled        bool      `json:"enabled"`
}

// Alert is one recorded breach.
type Alert struct {
	ID          uuid.UUID  `json:"id"`
	Threshold   string     `json:"threshold"`
	Severity    string     `json:"severity"`
	Message     string     `json:"message"`
	Value       float64    `json:"value"`
	TriggeredAt time.Time  `json:"triggeredAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// Breached reports whether value violates the threshold.
func (t Threshold) Breached(value float64) bool {
	switch t.Comparison {
	case CompareGreater:
		return value > t.Value
	case CompareLess:
		return value < t.Value
	default:
		return false
	}
}

// DefaultThresholds seeds the evaluator on first run.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{
			Name:           "api_error_rate_high",
			Metric:         "api_error_rate",
			Comparison:     CompareGreater,
			Value:          0.05,
			WindowMinutes:  5,
			Severity:       SeverityCritical,
			AutoMitigation: MitigateServiceMode2,
			Enabled:        true,
		},
		{
			Name:          "search_latency_p95_high",
			Metric:        "search_p95",
			Comparison:    CompareGreater,
			Value:         2000,
			WindowMinutes: 10,
			Severity:      SeverityWarning,
			Enabled:       true,
		},
		{
			Name:          "cache_hit_rate_low",
			Metric:        "cache_hit_rate",
			Comparison:    CompareLess,
			Value:         0.5,
			WindowMinutes: 60,
			Severity:      SeverityWarning,
			Enabled:       true,
		},
		{
			Name:          "review_spam_rate_high",
			Metric:        "review_spam_rate",
			Comparison:    CompareGreater,
			Value:         10,
			WindowMinutes: 60,
			Severity:      SeverityWarning,
			Enabled:       true,
		},
	}
}
