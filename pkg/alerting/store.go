package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tajine/internal/db"
)

// Store persists thresholds and alerts.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an alerting Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// ListEnabledThresholds returns all enabled thresholds.
func (s *Store) ListEnabledThresholds(ctx context.Context) ([]Threshold, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT id, name, metric, comparison, threshold_value, window_minutes,
		        severity, COALESCE(auto_mitigation, ''), enabled
		 FROM alert_thresholds WHERE enabled ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing thresholds: %w", err)
	}
	defer rows.Close()

	var out []Threshold
	for rows.Next() {
		var t Threshold
		if err := rows.Scan(&t.ID, &t.Name, &t.Metric, &t.Comparison, &t.Value,
			&t.WindowMinutes, &t.Severity, &t.AutoMitigation, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scanning threshold: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thresholds: %w", err)
	}
	return out, nil
}

// SeedDefaults inserts the default thresholds, skipping names that exist.
func (s *Store) SeedDefaults(ctx context.Context) error {
	for _, t := range DefaultThresholds() {
		var mitigation any
		if t.AutoMitigation != "" {
			mitigation = t.AutoMitigation
		}
		_, err := s.dbtx.Exec(ctx,
			`INSERT INTO alert_thresholds
			   (name, metric, comparison, threshold_value, window_minutes, severity, auto_mitigation, enabled)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (name) DO NOTHING`,
			t.Name, t.Metric, t.Comparison, t.Value, t.WindowMinutes, t.Severity, mitigation, t.Enabled,
		)
		if err != nil {
			return fmt.Errorf("seeding threshold %s: %w", t.Name, err)
		}
	}
	return nil
}

// UnresolvedAlert returns the newest unresolved alert for a threshold, if any.
func (s *Store) UnresolvedAlert(ctx context.Context, threshold string) (*Alert, error) {
	var a Alert
	err := s.dbtx.QueryRow(ctx,
		`SELECT id, threshold_name, severity, message, value, triggered_at, resolved_at
		 FROM alerts WHERE threshold_name = $1 AND resolved_at IS NULL
		 ORDER BY triggered_at DESC LIMIT 1`,
		threshold,
	).Scan(&a.ID, &a.Threshold, &a.Severity, &a.Message, &a.Value, &a.TriggeredAt, &a.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading unresolved alert: %w", err)
	}
	return &a, nil
}

// InsertAlert records a breach.
func (s *Store) InsertAlert(ctx context.Context, threshold, severity, message string, value float64) (Alert, error) {
	var a Alert
	err := s.dbtx.QueryRow(ctx,
		`INSERT INTO alerts (threshold_name, severity, message, value, triggered_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING id, threshold_name, severity, message, value, triggered_at, resolved_at`,
		threshold, severity, message, value,
	).Scan(&a.ID, &a.Threshold, &a.Severity, &a.Message, &a.Value, &a.TriggeredAt, &a.ResolvedAt)
	if err != nil {
		return Alert{}, fmt.Errorf("inserting alert: %w", err)
	}
	return a, nil
}

// ResolveAlerts marks all unresolved alerts for a threshold as resolved.
func (s *Store) ResolveAlerts(ctx context.Context, threshold string) (int64, error) {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE alerts SET resolved_at = now()
		 WHERE threshold_name = $1 AND resolved_at IS NULL`,
		threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("resolving alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListAlerts returns recent alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, limit int, unresolvedOnly bool) ([]Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, threshold_name, severity, message, value, triggered_at, resolved_at
		 FROM alerts`
	if unresolvedOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY triggered_at DESC LIMIT $1`

	rows, err := s.dbtx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Threshold, &a.Severity, &a.Message, &a.Value,
			&a.TriggeredAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return out, nil
}
