package metricstore

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered metric event writer. Gateway calls emit
// fire-and-forget; a background goroutine batches them into the store so a
// slow insert never sits on the request path.
type Writer struct {
	store  *Store
	logger *slog.Logger
	events chan Event
	wg     sync.WaitGroup
}

// NewWriter creates a metric Writer. Call Start to begin processing events.
func NewWriter(store *Store, logger *slog.Logger) *Writer {
	return &Writer{
		store:  store,
		logger: logger,
		events: make(chan Event, bufferSize),
	}
}

// Start begins the background flush goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending events to be flushed.
func (w *Writer) Close() {
	close(w.events)
	w.wg.Wait()
}

// Emit enqueues an event for async writing. It never blocks the caller; if
// the buffer is full the event is dropped and a warning is logged.
func (w *Writer) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case w.events <- e:
	default:
		w.logger.Warn("metric buffer full, dropping event", "name", e.Name)
	}
}

// run is the background loop that drains the events channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.store.InsertBatch(flushCtx, batch); err != nil {
			w.logger.Error("flushing metric events", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain whatever is buffered, then exit.
			for {
				select {
				case e, ok := <-w.events:
					if !ok {
						flush()
						return
					}
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}
