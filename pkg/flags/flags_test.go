package flags

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb, slog.Default()), mr
}

func TestUnsetFlagDefaultsEnabled(t *testing.T) {
	s, _ := newTestStore(t)
	if !s.IsEnabled(context.Background(), PhotosEnabled) {
		t.Error("unset flag should default to enabled")
	}
}

func TestSetAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, PhotosEnabled, false, "budget_critical_photos"); err != nil {
		t.Fatalf("Set error = %v", err)
	}

	f, err := s.Get(ctx, PhotosEnabled)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if f.Enabled {
		t.Error("flag should be disabled")
	}
	if f.Reason != "budget_critical_photos" {
		t.Errorf("reason = %q, want %q", f.Reason, "budget_critical_photos")
	}
	if f.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
}

func TestIsEnabledFailsOpen(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	if !s.IsEnabled(context.Background(), TextSearchEnabled) {
		t.Error("flag read against a dead redis should fail open")
	}
}

func TestSnapshotCoversAllFlags(t *testing.T) {
	s, _ := newTestStore(t)
	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	if len(snap) != len(All) {
		t.Errorf("snapshot has %d flags, want %d", len(snap), len(All))
	}
	for _, name := range All {
		if _, ok := snap[name]; !ok {
			t.Errorf("snapshot missing flag %q", name)
		}
	}
}
