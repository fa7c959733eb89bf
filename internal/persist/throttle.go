package persist

import (
	"context"
	"sync"
	"time"

	flowlog "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/persist"
)

// ThrottledWriter paces snapshot writes to an underlying persister. Commits
// arriving faster than the interval coalesce into a single pending write that
// carries the earliest unwritten previous state and the latest next state, so
// the adapter always sees one transition spanning the whole burst.
//
// With a zero interval every commit writes through immediately.
type ThrottledWriter[S any] struct {
	dst      persist.Persister[S]
	interval time.Duration
	log      flowlog.Logger
	// onResult observes every completed write, if set. The store wires
	// telemetry emission here.
	onResult func(err error)

	mu          sync.Mutex
	timer       *time.Timer
	pending     bool
	pendingPrev S
	pendingNext S
	lastWrite   time.Time
	closed      bool
}

// NewThrottledWriter wraps dst. Panics if dst or log is nil.
func NewThrottledWriter[S any](dst persist.Persister[S], interval time.Duration, log flowlog.Logger) *ThrottledWriter[S] {
	if dst == nil {
		panic("ThrottledWriter requires a non-nil persister")
	}
	if log == nil {
		panic("ThrottledWriter requires a non-nil logger")
	}
	return &ThrottledWriter[S]{
		dst:      dst,
		interval: interval,
		log:      log.With("component", "ThrottledWriter"),
	}
}

// SetResultHandler registers a callback invoked after every underlying write.
// Must be called before the writer is handed to committers.
func (w *ThrottledWriter[S]) SetResultHandler(fn func(err error)) {
	w.onResult = fn
}

// Read passes through to the underlying persister.
func (w *ThrottledWriter[S]) Read(ctx context.Context) (S, bool, error) {
	return w.dst.Read(ctx)
}

// Persist records the transition and writes it now if the interval has
// elapsed, otherwise schedules a coalesced write. It never blocks on the
// underlying adapter beyond an immediate write.
func (w *ThrottledWriter[S]) Persist(ctx context.Context, previous, next S) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}

	if w.pending {
		// Keep the earliest unwritten previous; only the latest next matters.
		w.pendingNext = next
		w.mu.Unlock()
		return nil
	}

	if w.interval <= 0 || time.Since(w.lastWrite) >= w.interval {
		w.lastWrite = time.Now()
		w.mu.Unlock()
		return w.write(ctx, previous, next)
	}

	w.pending = true
	w.pendingPrev = previous
	w.pendingNext = next
	wait := w.interval - time.Since(w.lastWrite)
	w.timer = time.AfterFunc(wait, w.flushPending)
	w.mu.Unlock()
	return nil
}

// Delete flushes nothing and passes through.
func (w *ThrottledWriter[S]) Delete(ctx context.Context) error {
	w.mu.Lock()
	w.dropPendingLocked()
	w.mu.Unlock()
	return w.dst.Delete(ctx)
}

// Flush writes any pending transition immediately. Called on store close so
// the last state of a session is never lost to the throttle window.
func (w *ThrottledWriter[S]) Flush(ctx context.Context) error {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return nil
	}
	prev, next := w.pendingPrev, w.pendingNext
	w.dropPendingLocked()
	w.lastWrite = time.Now()
	w.mu.Unlock()
	return w.write(ctx, prev, next)
}

// Close flushes pending state and stops the writer. Subsequent Persist calls
// are ignored.
func (w *ThrottledWriter[S]) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	w.closed = true
	w.dropPendingLocked()
	w.mu.Unlock()
	return err
}

func (w *ThrottledWriter[S]) flushPending() {
	w.mu.Lock()
	if !w.pending || w.closed {
		w.mu.Unlock()
		return
	}
	prev, next := w.pendingPrev, w.pendingNext
	w.dropPendingLocked()
	w.lastWrite = time.Now()
	w.mu.Unlock()

	if err := w.write(context.Background(), prev, next); err != nil {
		w.log.Errorf("scheduled snapshot write failed: %v", err)
	}
}

func (w *ThrottledWriter[S]) dropPendingLocked() {
	w.pending = false
	var zero S
	w.pendingPrev = zero
	w.pendingNext = zero
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *ThrottledWriter[S]) write(ctx context.Context, prev, next S) error {
	err := w.dst.Persist(ctx, prev, next)
	if w.onResult != nil {
		w.onResult(err)
	}
	return err
}

var _ persist.Persister[struct{}] = (*ThrottledWriter[struct{}])(nil)
