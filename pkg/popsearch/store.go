package popsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/tajine/internal/db"
)

// KAnonymityThreshold is the minimum unique users a query needs before it
// appears in aggregates.
const KAnonymityThreshold = 20

const (
	rawRetention       = 24 * time.Hour
	aggregateRetention = 30 * 24 * time.Hour
	rawPurgeBatch      = 500
	aggPurgeBatch      = 500
)

// GlobalCity is the synthetic city bucket covering all traffic.
const GlobalCity = "global"

// RecentSearch is one raw, per-user search log row.
type RecentSearch struct {
	Query       string    `json:"query"`
	City        string    `json:"city,omitempty"`
	ResultCount int       `json:"resultCount"`
	SearchedAt  time.Time `json:"searchedAt"`
}

// PopularSearch is the public aggregate shape. Unique-user counts are
// deliberately absent.
type PopularSearch struct {
	Query string `json:"query"`
	City  string `json:"city"`
	Count int64  `json:"count"`
}

// Store persists raw search logs and aggregates.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a popsearch Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// InsertRaw logs one search for an authenticated user.
func (s *Store) InsertRaw(ctx context.Context, userID uuid.UUID, query, normalized, city string, resultCount int) error {
	var cityArg any
	if city != "" {
		cityArg = city
	}
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO recent_searches (user_id, query, normalized_query, city, result_count, searched_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		userID, query, normalized, cityArg, resultCount,
	)
	if err != nil {
		return fmt.Errorf("inserting recent search: %w", err)
	}
	return nil
}

// RecentByUser returns a user's own recent searches, newest first.
func (s *Store) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]RecentSearch, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.dbtx.Query(ctx,
		`SELECT query, COALESCE(city, ''), result_count, searched_at
		 FROM recent_searches WHERE user_id = $1
		 ORDER BY searched_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent searches: %w", err)
	}
	defer rows.Close()

	var out []RecentSearch
	for rows.Next() {
		var r RecentSearch
		if err := rows.Scan(&r.Query, &r.City, &r.ResultCount, &r.SearchedAt); err != nil {
			return nil, fmt.Errorf("scanning recent search: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent searches: %w", err)
	}
	return out, nil
}

// ClearByUser deletes a user's raw search history.
func (s *Store) ClearByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.dbtx.Exec(ctx,
		`DELETE FROM recent_searches WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clearing search history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeRawOlderThan deletes raw rows past the retention cutoff in batches of
// 500 until none remain.
func (s *Store) PurgeRawOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		tag, err := s.dbtx.Exec(ctx,
			`DELETE FROM recent_searches WHERE id IN (
				SELECT id FROM recent_searches WHERE searched_at <= $1 LIMIT $2
			)`,
			cutoff, rawPurgeBatch,
		)
		if err != nil {
			return total, fmt.Errorf("purging recent searches: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < rawPurgeBatch {
			return total, nil
		}
	}
}

// AggregateWindow rolls the raw log between start and end into
// k-anonymous per-city aggregates plus a global bucket, merging into any
// existing row for the same (city, query, period).
func (s *Store) AggregateWindow(ctx context.Context, start, end time.Time) error {
	const upsert = `
		INSERT INTO search_aggregates
		  (normalized_query, city, count, unique_users, period_start, period_end)
		%s
		ON CONFLICT (city, normalized_query, period_start) DO UPDATE
		SET count = search_aggregates.count + EXCLUDED.count,
		    unique_users = GREATEST(search_aggregates.unique_users, EXCLUDED.unique_users),
		    period_end = EXCLUDED.period_end`

	perCity := fmt.Sprintf(upsert, `
		SELECT normalized_query, city, count(*), count(DISTINCT user_id), $1, $2
		FROM recent_searches
		WHERE searched_at >= $1 AND searched_at < $2 AND city IS NOT NULL
		GROUP BY city, normalized_query
		HAVING count(DISTINCT user_id) >= $3`)
	if _, err := s.dbtx.Exec(ctx, perCity, start, end, KAnonymityThreshold); err != nil {
		return fmt.Errorf("aggregating per-city searches: %w", err)
	}

	global := fmt.Sprintf(upsert, `
		SELECT normalized_query, '`+GlobalCity+`', count(*), count(DISTINCT user_id), $1, $2
		FROM recent_searches
		WHERE searched_at >= $1 AND searched_at < $2
		GROUP BY normalized_query
		HAVING count(DISTINCT user_id) >= $3`)
	if _, err := s.dbtx.Exec(ctx, global, start, end, KAnonymityThreshold); err != nil {
		return fmt.Errorf("aggregating global searches: %w", err)
	}
	return nil
}

// PopularByCity returns the top aggregated queries for a city (or the global
// bucket), counts only.
func (s *Store) PopularByCity(ctx context.Context, city string, limit int) ([]PopularSearch, error) {
	if city == "" {
		city = GlobalCity
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.dbtx.Query(ctx,
		`SELECT normalized_query, city, sum(count) AS total
		 FROM search_aggregates WHERE city = $1
		 GROUP BY normalized_query, city
		 ORDER BY total DESC LIMIT $2`,
		city, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing popular searches: %w", err)
	}
	defer rows.Close()

	var out []PopularSearch
	for rows.Next() {
		var p PopularSearch
		if err := rows.Scan(&p.Query, &p.City, &p.Count); err != nil {
			return nil, fmt.Errorf("scanning popular search: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating popular searches: %w", err)
	}
	return out, nil
}

// PurgeAggregatesOlderThan deletes aggregates whose period started at or
// before cutoff, in batches.
func (s *Store) PurgeAggregatesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		tag, err := s.dbtx.Exec(ctx,
			`DELETE FROM search_aggregates WHERE id IN (
				SELECT id FROM search_aggregates WHERE period_start <= $1 LIMIT $2
			)`,
			cutoff, aggPurgeBatch,
		)
		if err != nil {
			return total, fmt.Errorf("purging search aggregates: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < aggPurgeBatch {
			return total, nil
		}
	}
}
