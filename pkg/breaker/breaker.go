// Package breaker guards outbound provider calls with a per-service circuit
// breaker and mirrors the live breaker state into the service_health table
// for the mode controller to read.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Config tunes a Breaker. Zero values select the defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before admitting a
	// half-open probe.
	OpenTimeout time.Duration
}

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// HealthSink receives breaker state updates. The Postgres implementation
// lives in this package's store; tests substitute an in-memory one.
type HealthSink interface {
	RecordState(ctx context.Context, service string, healthy bool, state string, consecutiveFailures uint32) error
	RecordOutcome(ctx context.Context, service string, success bool, at time.Time) error
}

// Breaker wraps a gobreaker circuit for one upstream service.
type Breaker struct {
	service string
	cb      *gobreaker.CircuitBreaker
	sink    HealthSink
	logger  *slog.Logger
	metric  *prometheus.CounterVec

	// failures shadows the circuit's consecutive-failure count. The state
	// change callback runs under gobreaker's lock, where reading
	// cb.Counts() would deadlock.
	failures atomic.Uint32
}

// New creates a Breaker. sink and metric may be nil.
func New(service string, cfg Config, sink HealthSink, logger *slog.Logger, metric *prometheus.CounterVec) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}

	b := &Breaker{service: service, sink: sink, logger: logger, metric: metric}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1, // one half-open probe
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: b.onStateChange,
	})
	return b
}

// ErrOpen reports whether err means the circuit rejected the call without
// running it. Both the open state and a saturated half-open probe window
// surface as CIRCUIT_OPEN to callers.
func ErrOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Execute runs fn under the breaker. A non-nil error from fn counts as a
// failure; callers therefore only return errors for provider-facing failures
// (HTTP >= 500, 429, network errors, timeouts), never for plain 4xx results.
func (b *Breaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(func() (any, error) {
		res, ferr := fn()
		if ferr != nil {
			b.failures.Add(1)
		} else {
			b.failures.Store(0)
		}
		return res, ferr
	})

	if !ErrOpen(err) && b.sink != nil {
		now := time.Now().UTC()
		if serr := b.sink.RecordOutcome(context.WithoutCancel(ctx), b.service, err == nil, now); serr != nil {
			b.logger.Warn("recording breaker outcome", "service", b.service, "error", serr)
		}
	}
	return out, err
}

// State returns the current breaker state as a string (closed, open,
// half_open) plus the consecutive failure count. Reading the state also
// performs the open → half_open transition once the open timeout elapses.
func (b *Breaker) State() (string, uint32) {
	return stateName(b.cb.State()), b.failures.Load()
}

// onStateChange mirrors transitions into the health sink and metrics.
func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	healthy := to == gobreaker.StateClosed
	b.logger.Info("circuit breaker state change",
		"service", name,
		"from", stateName(from),
		"to", stateName(to),
	)
	if b.metric != nil {
		b.metric.WithLabelValues(name, stateName(to)).Inc()
	}
	if b.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.sink.RecordState(ctx, name, healthy, stateName(to), b.failures.Load()); err != nil {
		b.logger.Error("mirroring breaker state", "service", name, "error", err)
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
