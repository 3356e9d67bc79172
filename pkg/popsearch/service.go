package popsearch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service implements the public popular-searches operations.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a popsearch Service.
func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// LogRecentSearch records one search for an authenticated user. Anonymous
// callers and PII-carrying queries are silently dropped; the raw query is
// filtered before any normalization so a partially-sanitised query can never
// slip through.
func (s *Service) LogRecentSearch(ctx context.Context, userID uuid.UUID, query, city string, resultCount int) error {
	if userID == uuid.Nil {
		return nil
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if ContainsPII(query) {
		s.logger.Debug("dropping search log with PII")
		return nil
	}

	normalized := Normalize(query)
	if normalized == "" {
		return nil
	}
	return s.store.InsertRaw(ctx, userID, query, normalized, strings.ToLower(strings.TrimSpace(city)), resultCount)
}

// GetPopularSearches returns the top queries for a city, or globally when
// city is empty. Unique-user counts never leave the store.
func (s *Service) GetPopularSearches(ctx context.Context, city string, limit int) ([]PopularSearch, error) {
	return s.store.PopularByCity(ctx, strings.ToLower(strings.TrimSpace(city)), limit)
}

// GetMyRecentSearches returns the caller's own raw search history.
func (s *Service) GetMyRecentSearches(ctx context.Context, userID uuid.UUID, limit int) ([]RecentSearch, error) {
	return s.store.RecentByUser(ctx, userID, limit)
}

// ClearMySearchHistory deletes the caller's raw search history.
func (s *Service) ClearMySearchHistory(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.ClearByUser(ctx, userID)
}

// PurgeRaw drops raw rows past the 24-hour retention.
func (s *Service) PurgeRaw(ctx context.Context) (int64, error) {
	return s.store.PurgeRawOlderThan(ctx, time.Now().UTC().Add(-rawRetention))
}

// AggregateDaily rolls the past 24 hours into k-anonymous aggregates.
func (s *Service) AggregateDaily(ctx context.Context) error {
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-24 * time.Hour)
	return s.store.AggregateWindow(ctx, start, end)
}

// PurgeAggregates drops aggregates past the 30-day retention.
func (s *Service) PurgeAggregates(ctx context.Context) (int64, error) {
	return s.store.PurgeAggregatesOlderThan(ctx, time.Now().UTC().Add(-aggregateRetention))
}
