package placecache

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/tajine/internal/db"
	"github.com/wisbric/tajine/pkg/geohash"
	"github.com/wisbric/tajine/pkg/placekey"
)

const (
	tileTTL          = 45 * time.Minute
	maxChunkKeys     = 100
	maxChunksPerTile = 10
)

// TileLookup is the result of a tile cache probe.
type TileLookup struct {
	Hit       bool
	PlaceKeys []placekey.Key
}

// TileBatchResult is the outcome of CheckBatch over a viewport's tiles.
type TileBatchResult struct {
	Hits   []TileHit  `json:"hits"`
	Misses []TileMiss `json:"misses"`
}

// TileHit is one cached tile with its concatenated place keys.
type TileHit struct {
	TileKey   string         `json:"tileKey"`
	PlaceKeys []placekey.Key `json:"placeKeys"`
}

// TileMiss identifies a tile the caller must fetch from the provider.
type TileMiss struct {
	TileKey string `json:"tileKey"`
	Zoom    int    `json:"zoom"`
}

// TileCache is the chunked, ID-only cache for map tiles.
type TileCache struct {
	dbtx db.DBTX
}

// NewTileCache creates a TileCache over the given database handle.
func NewTileCache(dbtx db.DBTX) *TileCache {
	return &TileCache{dbtx: dbtx}
}

// Lookup reads all chunks of (tileKey, zoom) in chunk order and concatenates
// their keys. A tile is a hit only when at least one chunk exists and none
// has expired; one stale chunk invalidates the whole tile.
func (c *TileCache) Lookup(ctx context.Context, tileKey string, zoom int) (TileLookup, error) {
	rows, err := c.dbtx.Query(ctx,
		`SELECT place_keys, expires_at FROM tile_cache
		 WHERE tile_key = $1 AND zoom = $2
		 ORDER BY chunk_index`,
		tileKey, zoom,
	)
	if err != nil {
		return TileLookup{}, fmt.Errorf("tile cache lookup: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var all []placekey.Key
	found := false
	for rows.Next() {
		var keys []string
		var expiresAt time.Time
		if err := rows.Scan(&keys, &expiresAt); err != nil {
			return TileLookup{}, fmt.Errorf("scanning tile chunk: %w", err)
		}
		if !expiresAt.After(now) {
			return TileLookup{}, nil
		}
		found = true
		for _, k := range keys {
			all = append(all, placekey.Key(k))
		}
	}
	if err := rows.Err(); err != nil {
		return TileLookup{}, fmt.Errorf("iterating tile chunks: %w", err)
	}
	if !found {
		return TileLookup{}, nil
	}
	return TileLookup{Hit: true, PlaceKeys: all}, nil
}

// Write replaces the tile's content: existing chunks are deleted, the input
// is truncated to the 1000-key cap and split into chunks of 100. An empty
// input still writes one empty chunk so "checked and empty" is cacheable.
func (c *TileCache) Write(ctx context.Context, tileKey string, zoom int, keys []placekey.Key, provider string) error {
	if max := maxChunkKeys * maxChunksPerTile; len(keys) > max {
		keys = keys[:max]
	}

	if _, err := c.dbtx.Exec(ctx,
		`DELETE FROM tile_cache WHERE tile_key = $1 AND zoom = $2`,
		tileKey, zoom,
	); err != nil {
		return fmt.Errorf("clearing tile chunks: %w", err)
	}

	expiresAt := time.Now().Add(tileTTL)
	for idx, chunk := range splitChunks(keys) {
		raw := make([]string, len(chunk))
		for i, k := range chunk {
			raw[i] = k.String()
		}
		if _, err := c.dbtx.Exec(ctx,
			`INSERT INTO tile_cache (tile_key, zoom, chunk_index, place_keys, provider, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())`,
			tileKey, zoom, idx, raw, provider, expiresAt,
		); err != nil {
			return fmt.Errorf("inserting tile chunk %d: %w", idx, err)
		}
	}
	return nil
}

// CheckBatch probes a set of tiles at the given zoom in one pass.
func (c *TileCache) CheckBatch(ctx context.Context, tileKeys []string, zoom int) (TileBatchResult, error) {
	result := TileBatchResult{Hits: []TileHit{}, Misses: []TileMiss{}}
	if len(tileKeys) == 0 {
		return result, nil
	}

	rows, err := c.dbtx.Query(ctx,
		`SELECT tile_key, place_keys, expires_at FROM tile_cache
		 WHERE tile_key = ANY($1) AND zoom = $2
		 ORDER BY tile_key, chunk_index`,
		tileKeys, zoom,
	)
	if err != nil {
		return result, fmt.Errorf("tile cache batch lookup: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	type tileState struct {
		keys    []placekey.Key
		expired bool
	}
	states := make(map[string]*tileState)
	for rows.Next() {
		var tileKey string
		var keys []string
		var expiresAt time.Time
		if err := rows.Scan(&tileKey, &keys, &expiresAt); err != nil {
			return result, fmt.Errorf("scanning tile chunk: %w", err)
		}
		st, ok := states[tileKey]
		if !ok {
			st = &tileState{}
			states[tileKey] = st
		}
		if !expiresAt.After(now) {
			st.expired = true
			continue
		}
		for _, k := range keys {
			st.keys = append(st.keys, placekey.Key(k))
		}
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterating tile chunks: %w", err)
	}

	for _, tileKey := range tileKeys {
		st, ok := states[tileKey]
		if !ok || st.expired {
			result.Misses = append(result.Misses, TileMiss{TileKey: tileKey, Zoom: zoom})
			continue
		}
		result.Hits = append(result.Hits, TileHit{TileKey: tileKey, PlaceKeys: st.keys})
	}
	return result, nil
}

// TilesForViewport computes the tile set covering bounds at zoom and probes
// them in one batch.
func (c *TileCache) TilesForViewport(ctx context.Context, bounds geohash.Bounds, zoom int) (TileBatchResult, error) {
	hashes := geohash.TilesForBounds(bounds, zoom)
	tileKeys := make([]string, len(hashes))
	for i, h := range hashes {
		tileKeys[i] = TileKey(h)
	}
	return c.CheckBatch(ctx, tileKeys, zoom)
}

// PurgeExpired deletes up to 100 fully expired chunk rows per invocation.
func (c *TileCache) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := c.dbtx.Exec(ctx,
		`DELETE FROM tile_cache WHERE ctid IN (
			SELECT ctid FROM tile_cache WHERE expires_at <= now() LIMIT $1
		)`,
		purgeBatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("purging tile cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// splitChunks splits keys into chunks of at most 100, always returning at
// least one (possibly empty) chunk.
func splitChunks(keys []placekey.Key) [][]placekey.Key {
	if len(keys) == 0 {
		return [][]placekey.Key{{}}
	}
	var chunks [][]placekey.Key
	for start := 0; start < len(keys); start += maxChunkKeys {
		end := start + maxChunkKeys
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}
