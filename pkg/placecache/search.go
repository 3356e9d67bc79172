// Package placecache implements the ID-only caches in front of the places
// provider: a short-TTL search-result cache and a geohash-tiled map cache.
// Cache rows carry opaque place keys and expiry only — provider content is
// never written.
package placecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wisbric/tajine/internal/db"
	"github.com/wisbric/tajine/pkg/placekey"
)

const (
	searchTTL      = 15 * time.Minute
	maxSearchKeys  = 50
	purgeBatchSize = 100
)

// SearchLookup is the result of a search cache probe.
type SearchLookup struct {
	Hit       bool
	PlaceKeys []placekey.Key
}

// SearchCache is the ID-only cache for text-search results, keyed by the
// normalised query fingerprint.
type SearchCache struct {
	dbtx db.DBTX
}

// NewSearchCache creates a SearchCache over the given database handle.
func NewSearchCache(dbtx db.DBTX) *SearchCache {
	return &SearchCache{dbtx: dbtx}
}

// Lookup probes the cache. An expired row counts as a miss and is left in
// place for the purge job.
func (c *SearchCache) Lookup(ctx context.Context, cacheKey string) (SearchLookup, error) {
	var keys []string
	var expiresAt time.Time
	err := c.dbtx.QueryRow(ctx,
		`SELECT place_keys, expires_at FROM search_cache WHERE cache_key = $1`,
		cacheKey,
	).Scan(&keys, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SearchLookup{}, nil
		}
		return SearchLookup{}, fmt.Errorf("search cache lookup: %w", err)
	}

	if !expiresAt.After(time.Now()) {
		return SearchLookup{}, nil
	}

	out := make([]placekey.Key, len(keys))
	for i, k := range keys {
		out[i] = placekey.Key(k)
	}
	return SearchLookup{Hit: true, PlaceKeys: out}, nil
}

// Write upserts an entry, truncating to the 50-key cap and stamping a fresh
// 15-minute expiry.
func (c *SearchCache) Write(ctx context.Context, cacheKey string, keys []placekey.Key, provider string) error {
	if len(keys) > maxSearchKeys {
		keys = keys[:maxSearchKeys]
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}

	_, err := c.dbtx.Exec(ctx,
		`INSERT INTO search_cache (cache_key, place_keys, provider, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (cache_key) DO UPDATE
		 SET place_keys = EXCLUDED.place_keys,
		     provider = EXCLUDED.provider,
		     expires_at = EXCLUDED.expires_at,
		     created_at = now()`,
		cacheKey, raw, provider, time.Now().Add(searchTTL),
	)
	if err != nil {
		return fmt.Errorf("search cache write: %w", err)
	}
	return nil
}

// PurgeExpired deletes up to 100 expired rows per invocation and returns the
// number removed.
func (c *SearchCache) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := c.dbtx.Exec(ctx,
		`DELETE FROM search_cache WHERE cache_key IN (
			SELECT cache_key FROM search_cache WHERE expires_at <= now() LIMIT $1
		)`,
		purgeBatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("purging search cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
