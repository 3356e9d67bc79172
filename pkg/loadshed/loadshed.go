// Package loadshed implements priority-based concurrency control in front of
// the provider gateway. Counters live in Redis so shedding decisions hold
// across processes.
package loadshed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	activeKey      = "load:active_requests"
	queueKeyPrefix = "load:queue:"
	shedKeyPrefix  = "load:shed:"
	shedCounterTTL = 48 * time.Hour

	// DefaultMaxConcurrent is the global in-flight provider call ceiling.
	DefaultMaxConcurrent = 25
)

// Load levels derived from the active/max ratio.
const (
	LevelNormal   = "normal"
	LevelElevated = "elevated"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Shed reasons.
const (
	ReasonQueueFull = "queue_full"
	ReasonLoadShed  = "load_shed"
)

// maxQueueDepth caps the per-priority queue; 0 means unlimited.
var maxQueueDepth = map[int]int64{1: 0, 2: 50, 3: 20, 4: 5}

// sheddingPolicy lists the priorities rejected at each load level.
var sheddingPolicy = map[string][]int{
	LevelNormal:   nil,
	LevelElevated: {4},
	LevelHigh:     {3, 4},
	LevelCritical: {3, 4},
}

// ShedError is returned when a request is rejected by the shedder.
type ShedError struct {
	Priority int
	Reason   string
}

func (e ShedError) Error() string {
	return fmt.Sprintf("request shed (priority %d, %s)", e.Priority, e.Reason)
}

// State is the monitoring snapshot returned by GetLoadState.
type State struct {
	LoadLevel       string        `json:"loadLevel"`
	ActiveRequests  int64         `json:"activeRequests"`
	MaxConcurrent   int           `json:"maxConcurrent"`
	LoadPercent     float64       `json:"loadPercent"`
	QueueDepths     map[int]int64 `json:"queueDepths"`
	TodayShedCounts map[int]int64 `json:"todayShedCounts"`
}

// Shedder accounts in-flight requests and rejects low-priority work under
// load.
type Shedder struct {
	rdb           *redis.Client
	logger        *slog.Logger
	maxConcurrent int
	shedMetric    *prometheus.CounterVec
}

// NewShedder creates a Shedder. maxConcurrent <= 0 selects the default;
// shedMetric may be nil.
func NewShedder(rdb *redis.Client, logger *slog.Logger, maxConcurrent int, shedMetric *prometheus.CounterVec) *Shedder {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Shedder{rdb: rdb, logger: logger, maxConcurrent: maxConcurrent, shedMetric: shedMetric}
}

// Acquire runs the gate sequence for a request at the given priority. On
// success it returns a release function that MUST run on every exit path
// (defer it immediately). On rejection it returns a ShedError.
func (s *Shedder) Acquire(ctx context.Context, priority int) (func(), error) {
	if priority < 1 || priority > 4 {
		priority = 4
	}

	queueKey := queueKeyPrefix + strconv.Itoa(priority)

	if cap := maxQueueDepth[priority]; cap > 0 {
		depth, err := s.rdb.Get(ctx, queueKey).Int64()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("reading queue depth: %w", err)
		}
		if depth >= cap {
			s.recordShed(ctx, priority, ReasonQueueFull)
			return nil, ShedError{Priority: priority, Reason: ReasonQueueFull}
		}
	}

	active, err := s.rdb.Get(ctx, activeKey).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading active count: %w", err)
	}
	level := levelFor(float64(active) / float64(s.maxConcurrent))
	for _, shed := range sheddingPolicy[level] {
		if priority == shed {
			s.recordShed(ctx, priority, ReasonLoadShed)
			return nil, ShedError{Priority: priority, Reason: ReasonLoadShed}
		}
	}

	if err := s.rdb.Incr(ctx, activeKey).Err(); err != nil {
		return nil, fmt.Errorf("incrementing active count: %w", err)
	}
	if err := s.rdb.Incr(ctx, queueKey).Err(); err != nil {
		// Keep the books balanced if the second increment fails.
		s.rdb.Decr(context.WithoutCancel(ctx), activeKey)
		return nil, fmt.Errorf("incrementing queue depth: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release runs on cancellation paths too.
			rctx := context.WithoutCancel(ctx)
			if err := s.rdb.Decr(rctx, activeKey).Err(); err != nil {
				s.logger.Error("decrementing active count", "error", err)
			}
			if err := s.rdb.Decr(rctx, queueKey).Err(); err != nil {
				s.logger.Error("decrementing queue depth", "error", err)
			}
		})
	}
	return release, nil
}

// GetLoadState returns the monitoring snapshot.
func (s *Shedder) GetLoadState(ctx context.Context) (State, error) {
	active, err := s.rdb.Get(ctx, activeKey).Int64()
	if err != nil && err != redis.Nil {
		return State{}, fmt.Errorf("reading active count: %w", err)
	}

	st := State{
		ActiveRequests:  active,
		MaxConcurrent:   s.maxConcurrent,
		LoadPercent:     float64(active) / float64(s.maxConcurrent) * 100,
		QueueDepths:     make(map[int]int64, 4),
		TodayShedCounts: make(map[int]int64, 4),
	}
	st.LoadLevel = levelFor(float64(active) / float64(s.maxConcurrent))

	day := time.Now().UTC().Format("2006-01-02")
	for p := 1; p <= 4; p++ {
		depth, err := s.rdb.Get(ctx, queueKeyPrefix+strconv.Itoa(p)).Int64()
		if err != nil && err != redis.Nil {
			return State{}, fmt.Errorf("reading queue depth %d: %w", p, err)
		}
		st.QueueDepths[p] = depth

		shed, err := s.rdb.Get(ctx, shedKey(p, day)).Int64()
		if err != nil && err != redis.Nil {
			return State{}, fmt.Errorf("reading shed count %d: %w", p, err)
		}
		st.TodayShedCounts[p] = shed
	}
	return st, nil
}

// recordShed bumps the daily shed counter and the prometheus metric.
func (s *Shedder) recordShed(ctx context.Context, priority int, reason string) {
	key := shedKey(priority, time.Now().UTC().Format("2006-01-02"))
	if err := s.rdb.Incr(ctx, key).Err(); err != nil {
		s.logger.Warn("recording shed count", "error", err)
	} else {
		s.rdb.Expire(ctx, key, shedCounterTTL)
	}
	if s.shedMetric != nil {
		s.shedMetric.WithLabelValues(strconv.Itoa(priority), reason).Inc()
	}
	s.logger.Info("request shed", "priority", priority, "reason", reason)
}

func shedKey(priority int, day string) string {
	return shedKeyPrefix + strconv.Itoa(priority) + ":" + day
}

// levelFor maps a load ratio onto a level.
func levelFor(ratio float64) string {
	switch {
	case ratio >= 0.9:
		return LevelCritical
	case ratio >= 0.75:
		return LevelHigh
	case ratio >= 0.5:
		return LevelElevated
	default:
		return LevelNormal
	}
}
