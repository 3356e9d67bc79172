package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tajine",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var ProviderRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tajine",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Total provider gateway requests by endpoint class and outcome.",
	},
	[]string{"endpoint", "outcome"},
)

var ProviderRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tajine",
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Outbound provider call duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"endpoint"},
)

var CacheLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tajine",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache name and result.",
	},
	[]string{"cache", "result"},
)

var RequestsShedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tajine",
		Subsystem: "loadshed",
		Name:      "requests_shed_total",
		Help:      "Requests rejected by the load shedder by priority and reason.",
	},
	[]string{"priority", "reason"},
)

var BreakerTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tajine",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions by service and new state.",
	},
	[]string{"service", "state"},
)

var BudgetUsageRatio = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tajine",
		Subsystem: "budget",
		Name:      "usage_ratio",
		Help:      "Daily budget usage as a 0..1 ratio per endpoint class.",
	},
	[]string{"class"},
)

var ServiceModeGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tajine",
		Name:      "service_mode",
		Help:      "Current service degradation mode (0=normal..3=offline).",
	},
)

// All returns all Tajine-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProviderRequestsTotal,
		ProviderRequestDuration,
		CacheLookupsTotal,
		RequestsShedTotal,
		BreakerTransitionsTotal,
		BudgetUsageRatio,
		ServiceModeGauge,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
