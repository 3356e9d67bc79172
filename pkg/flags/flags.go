// Package flags is the feature-flag store shared by the budget enforcer, the
// service-mode controller, and the gateway. Flags live in Redis so every
// process sees toggles immediately; unknown flags lazily default to enabled.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "flag:"

// Known feature flags.
const (
	PhotosEnabled        = "photos_enabled"
	OpenNowEnabled       = "open_now_enabled"
	TextSearchEnabled    = "text_search_enabled"
	NearbySearchEnabled  = "nearby_search_enabled"
	AutocompleteEnabled  = "autocomplete_enabled"
	PlaceDetailsEnhanced = "place_details_enhanced"
	MapTilesEnabled      = "map_tiles_enabled"
)

// All lists every known flag.
var All = []string{
	PhotosEnabled,
	OpenNowEnabled,
	TextSearchEnabled,
	NearbySearchEnabled,
	AutocompleteEnabled,
	PlaceDetailsEnhanced,
	MapTilesEnabled,
}

// Flag is one feature flag's state.
type Flag struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes feature flags in Redis.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewStore creates a flag Store.
func NewStore(rdb *redis.Client, logger *slog.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// IsEnabled returns the flag's state, defaulting to enabled when the flag has
// never been written or Redis is unreachable. The provider gates fail open on
// flag reads so a flag-store outage cannot take down the whole API.
func (s *Store) IsEnabled(ctx context.Context, name string) bool {
	f, err := s.Get(ctx, name)
	if err != nil {
		s.logger.Warn("flag read failed, defaulting to enabled", "flag", name, "error", err)
		return true
	}
	return f.Enabled
}

// Get returns the flag's full state. A missing flag reads as enabled.
func (s *Store) Get(ctx context.Context, name string) (Flag, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Flag{Enabled: true}, nil
		}
		return Flag{}, fmt.Errorf("reading flag %s: %w", name, err)
	}

	var f Flag
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Flag{}, fmt.Errorf("decoding flag %s: %w", name, err)
	}
	return f, nil
}

// Set writes a flag with its reason.
func (s *Store) Set(ctx context.Context, name string, enabled bool, reason string) error {
	f := Flag{Enabled: enabled, Reason: reason, UpdatedAt: time.Now().UTC()}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding flag %s: %w", name, err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+name, raw, 0).Err(); err != nil {
		return fmt.Errorf("writing flag %s: %w", name, err)
	}
	s.logger.Info("feature flag updated", "flag", name, "enabled", enabled, "reason", reason)
	return nil
}

// SetAll applies the same reason to a set of flag updates.
func (s *Store) SetAll(ctx context.Context, updates map[string]bool, reason string) error {
	for name, enabled := range updates {
		if err := s.Set(ctx, name, enabled, reason); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the state of all known flags.
func (s *Store) Snapshot(ctx context.Context) (map[string]Flag, error) {
	out := make(map[string]Flag, len(All))
	for _, name := range All {
		f, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = f
	}
	return out, nil
}
