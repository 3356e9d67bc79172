package metricstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wisbric/tajine/internal/db"
)

const purgeBatch = 1000

// Store persists metric events.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a metric event Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// Insert appends one event.
func (s *Store) Insert(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return fmt.Errorf("encoding metric tags: %w", err)
	}
	if _, err := s.dbtx.Exec(ctx,
		`INSERT INTO metric_events (name, value, tags, ts) VALUES ($1, $2, $3, $4)`,
		e.Name, e.Value, tags, e.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting metric event: %w", err)
	}
	return nil
}

// InsertBatch appends a batch of events.
func (s *Store) InsertBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		if err := s.Insert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Values returns the raw sample values for name within [from, to), optionally
// filtered by the endpoint tag.
func (s *Store) Values(ctx context.Context, name string, from, to time.Time, endpointTag string) ([]float64, error) {
	query := `SELECT value FROM metric_events WHERE name = $1 AND ts >= $2 AND ts < $3`
	args := []any{name, from, to}
	if endpointTag != "" {
		query += ` AND tags->>'endpoint' = $4`
		args = append(args, endpointTag)
	}

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying metric values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning metric value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metric values: %w", err)
	}
	return values, nil
}

// Query computes the windowed Summary for name.
func (s *Store) Query(ctx context.Context, name string, from, to time.Time, endpointTag string) (Summary, error) {
	values, err := s.Values(ctx, name, from, to, endpointTag)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(values), nil
}

// Count returns the number of events for name within the window.
func (s *Store) Count(ctx context.Context, name string, from, to time.Time) (int64, error) {
	var n int64
	err := s.dbtx.QueryRow(ctx,
		`SELECT count(*) FROM metric_events WHERE name = $1 AND ts >= $2 AND ts < $3`,
		name, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting metric events: %w", err)
	}
	return n, nil
}

// ErrorRate returns errors / (errors + successes) over the window, or 0 when
// there is no traffic.
func (s *Store) ErrorRate(ctx context.Context, from, to time.Time) (float64, error) {
	errs, err := s.Count(ctx, NameAPIError, from, to)
	if err != nil {
		return 0, err
	}
	oks, err := s.Count(ctx, NameAPISuccess, from, to)
	if err != nil {
		return 0, err
	}
	total := errs + oks
	if total == 0 {
		return 0, nil
	}
	return float64(errs) / float64(total), nil
}

// CacheHitRate returns hits / (hits + misses) over the window, optionally
// scoped to one endpoint tag. No traffic reads as 1.0 so an idle cache never
// trips the hit-rate alert.
func (s *Store) CacheHitRate(ctx context.Context, from, to time.Time, endpointTag string) (float64, error) {
	hitVals, err := s.Values(ctx, NameCacheHit, from, to, endpointTag)
	if err != nil {
		return 0, err
	}
	missVals, err := s.Values(ctx, NameCacheMiss, from, to, endpointTag)
	if err != nil {
		return 0, err
	}
	total := len(hitVals) + len(missVals)
	if total == 0 {
		return 1, nil
	}
	return float64(len(hitVals)) / float64(total), nil
}

// PurgeOlderThan deletes events with ts <= cutoff in batches of 1000 until
// none remain, returning the total removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		tag, err := s.dbtx.Exec(ctx,
			`DELETE FROM metric_events WHERE id IN (
				SELECT id FROM metric_events WHERE ts <= $1 LIMIT $2
			)`,
			cutoff, purgeBatch,
		)
		if err != nil {
			return total, fmt.Errorf("purging metric events: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < purgeBatch {
			return total, nil
		}
	}
}
