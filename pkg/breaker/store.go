package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tajine/internal/db"
)

// HealthRecord is the persisted view of one upstream service's health.
type HealthRecord struct {
	Service             string     `json:"service"`
	Healthy             bool       `json:"healthy"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	OpenedAt            *time.Time `json:"openedAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// HealthStore persists service health records. It implements HealthSink.
type HealthStore struct {
	dbtx db.DBTX
}

// NewHealthStore creates a HealthStore.
func NewHealthStore(dbtx db.DBTX) *HealthStore {
	return &HealthStore{dbtx: dbtx}
}

// Get returns the health record for service. A missing row reads as healthy;
// state initialises lazily on the first write.
func (s *HealthStore) Get(ctx context.Context, service string) (HealthRecord, error) {
	var r HealthRecord
	err := s.dbtx.QueryRow(ctx,
		`SELECT service, healthy, state, consecutive_failures, opened_at,
		        last_failure_at, last_success_at, updated_at
		 FROM service_health WHERE service = $1`,
		service,
	).Scan(&r.Service, &r.Healthy, &r.State, &r.ConsecutiveFailures,
		&r.OpenedAt, &r.LastFailureAt, &r.LastSuccessAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return HealthRecord{Service: service, Healthy: true, State: "closed"}, nil
		}
		return HealthRecord{}, fmt.Errorf("reading service health: %w", err)
	}
	return r, nil
}

// RecordState upserts the breaker state for service. opened_at is stamped
// when the circuit opens and cleared when it closes.
func (s *HealthStore) RecordState(ctx context.Context, service string, healthy bool, state string, consecutiveFailures uint32) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO service_health (service, healthy, state, consecutive_failures, opened_at, updated_at)
		 VALUES ($1, $2, $3, $4, CASE WHEN $3 = 'open' THEN now() END, now())
		 ON CONFLICT (service) DO UPDATE
		 SET healthy = EXCLUDED.healthy,
		     state = EXCLUDED.state,
		     consecutive_failures = EXCLUDED.consecutive_failures,
		     opened_at = CASE
		         WHEN EXCLUDED.state = 'open' THEN now()
		         WHEN EXCLUDED.state = 'closed' THEN NULL
		         ELSE service_health.opened_at
		     END,
		     updated_at = now()`,
		service, healthy, state, int(consecutiveFailures),
	)
	if err != nil {
		return fmt.Errorf("recording service health state: %w", err)
	}
	return nil
}

// RecordOutcome stamps the last success or failure time for service.
func (s *HealthStore) RecordOutcome(ctx context.Context, service string, success bool, at time.Time) error {
	var query string
	if success {
		query = `INSERT INTO service_health (service, healthy, state, consecutive_failures, last_success_at, updated_at)
		 VALUES ($1, true, 'closed', 0, $2, now())
		 ON CONFLICT (service) DO UPDATE
		 SET last_success_at = EXCLUDED.last_success_at, updated_at = now()`
	} else {
		query = `INSERT INTO service_health (service, healthy, state, consecutive_failures, last_failure_at, updated_at)
		 VALUES ($1, true, 'closed', 1, $2, now())
		 ON CONFLICT (service) DO UPDATE
		 SET last_failure_at = EXCLUDED.last_failure_at, updated_at = now()`
	}
	if _, err := s.dbtx.Exec(ctx, query, service, at); err != nil {
		return fmt.Errorf("recording service outcome: %w", err)
	}
	return nil
}
