package loadshed

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestShedder(t *testing.T, maxConcurrent int) *Shedder {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewShedder(rdb, slog.Default(), maxConcurrent, nil)
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{0, LevelNormal},
		{0.49, LevelNormal},
		{0.5, LevelElevated},
		{0.74, LevelElevated},
		{0.75, LevelHigh},
		{0.89, LevelHigh},
		{0.9, LevelCritical},
		{1.2, LevelCritical},
	}
	for _, c := range cases {
		if got := levelFor(c.ratio); got != c.want {
			t.Errorf("levelFor(%v) = %q, want %q", c.ratio, got, c.want)
		}
	}
}

func TestAcquireRelease(t *testing.T) {
	s := newTestShedder(t, 4)
	ctx := context.Background()

	release, err := s.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire error = %v", err)
	}

	st, err := s.GetLoadState(ctx)
	if err != nil {
		t.Fatalf("GetLoadState error = %v", err)
	}
	if st.ActiveRequests != 1 {
		t.Errorf("active = %d, want 1", st.ActiveRequests)
	}
	if st.QueueDepths[1] != 1 {
		t.Errorf("queue[1] = %d, want 1", st.QueueDepths[1])
	}

	release()
	release() // double release must be a no-op

	st, _ = s.GetLoadState(ctx)
	if st.ActiveRequests != 0 {
		t.Errorf("active after release = %d, want 0", st.ActiveRequests)
	}
	if st.QueueDepths[1] != 0 {
		t.Errorf("queue[1] after release = %d, want 0", st.QueueDepths[1])
	}
}

func TestP4ShedUnderElevatedLoad(t *testing.T) {
	s := newTestShedder(t, 4)
	ctx := context.Background()

	// Hold 2 of 4 slots: ratio 0.5 → elevated.
	for i := 0; i < 2; i++ {
		if _, err := s.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire P1 error = %v", err)
		}
	}

	_, err := s.Acquire(ctx, 4)
	var shed ShedError
	if !errors.As(err, &shed) {
		t.Fatalf("P4 under elevated load: err = %v, want ShedError", err)
	}
	if shed.Reason != ReasonLoadShed {
		t.Errorf("reason = %q, want %q", shed.Reason, ReasonLoadShed)
	}

	// P1 still passes.
	if _, err := s.Acquire(ctx, 1); err != nil {
		t.Errorf("P1 under elevated load should proceed, got %v", err)
	}
}

func TestP3ShedOnlyAtHighLoad(t *testing.T) {
	s := newTestShedder(t, 4)
	ctx := context.Background()

	// 2/4 = elevated: P3 passes.
	for i := 0; i < 2; i++ {
		if _, err := s.Acquire(ctx, 1); err != nil {
			t.Fatalf("Acquire error = %v", err)
		}
	}
	release, err := s.Acquire(ctx, 3)
	if err != nil {
		t.Fatalf("P3 at elevated load should pass, got %v", err)
	}

	// Push to 4/4 = critical (the P3 acquire made it 3).
	if _, err := s.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire error = %v", err)
	}
	_ = release

	_, err = s.Acquire(ctx, 3)
	var shed ShedError
	if !errors.As(err, &shed) {
		t.Fatalf("P3 at critical load: err = %v, want ShedError", err)
	}
}

func TestQueueFull(t *testing.T) {
	s := newTestShedder(t, 1000) // huge capacity so load level stays normal
	ctx := context.Background()

	// Fill priority-4 queue to its cap of 5.
	for i := 0; i < 5; i++ {
		if _, err := s.Acquire(ctx, 4); err != nil {
			t.Fatalf("Acquire %d error = %v", i, err)
		}
	}

	_, err := s.Acquire(ctx, 4)
	var shed ShedError
	if !errors.As(err, &shed) {
		t.Fatalf("6th P4: err = %v, want ShedError", err)
	}
	if shed.Reason != ReasonQueueFull {
		t.Errorf("reason = %q, want %q", shed.Reason, ReasonQueueFull)
	}
}

func TestP1QueueUnlimited(t *testing.T) {
	s := newTestShedder(t, 1000)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		if _, err := s.Acquire(ctx, 1); err != nil {
			t.Fatalf("P1 acquire %d rejected: %v", i, err)
		}
	}
}

func TestShedCountsTracked(t *testing.T) {
	s := newTestShedder(t, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Acquire(ctx, 4); err != nil {
			t.Fatalf("Acquire error = %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		_, _ = s.Acquire(ctx, 4)
	}

	st, err := s.GetLoadState(ctx)
	if err != nil {
		t.Fatalf("GetLoadState error = %v", err)
	}
	if st.TodayShedCounts[4] != 3 {
		t.Errorf("shed count P4 = %d, want 3", st.TodayShedCounts[4])
	}
}

func TestScenarioMaxConcurrencyFour(t *testing.T) {
	// Hold 4 P1 requests at max 4; a P4 is rejected, another P1 proceeds
	// after a release.
	s := newTestShedder(t, 4)
	ctx := context.Background()

	releases := make([]func(), 0, 4)
	for i := 0; i < 4; i++ {
		rel, err := s.Acquire(ctx, 1)
		if err != nil {
			t.Fatalf("P1 acquire %d error = %v", i, err)
		}
		releases = append(releases, rel)
	}

	if _, err := s.Acquire(ctx, 4); err == nil {
		t.Fatal("P4 at full load should be shed")
	}

	releases[0]()
	if _, err := s.Acquire(ctx, 1); err != nil {
		t.Errorf("P1 after a release should proceed, got %v", err)
	}
}
