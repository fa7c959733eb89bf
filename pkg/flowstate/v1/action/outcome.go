package action

import (
	"context"
	"sync"
)

// Status is the terminal outcome of a dispatch attempt.
type Status int

const (
	// StatusSucceeded means before and reduce completed without error.
	// The state may or may not have changed (see Outcome.StateChanged).
	StatusSucceeded Status = iota
	// StatusFailed means before or reduce returned an error.
	StatusFailed
	// StatusAborted means an abort gate (abort predicate, non-reentrancy,
	// throttle, fresh window, offline silent-abort, or debounce supersession)
	// skipped the dispatch entirely.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the read-only result of a single dispatch attempt. It reports
// which lifecycle phases completed and, on failure, both the original error
// and the final wrapped error, since callers and tests need both.
type Outcome struct {
	ActionType string
	Seq        uint64
	Status     Status

	// Phase-completion flags. A phase that does not exist on the action
	// (no hook implemented) counts as trivially done.
	BeforeDone bool
	ReduceDone bool
	AfterDone  bool

	// StateChanged reports whether reduce committed a new state value, i.e.
	// returned something other than the no-change sentinel.
	StateChanged bool

	// Attempts is the number of reduce invocations performed (1 unless a
	// retry capability re-invoked it; 0 when reduce never ran).
	Attempts int

	// Err is the final error after per-action and global wrapping. Cause is
	// the original error as thrown by the failing phase. Both are nil on
	// success or abort.
	Err   error
	Cause error

	// Swallowed reports that the error pipeline decided not to rethrow Err
	// (user-facing errors by default, or an observer veto). Swallowed errors
	// remain queryable through the store's LastError.
	Swallowed bool
}

// Handle is the result handle returned by Dispatch. For synchronous actions
// it is already resolved when Dispatch returns; for asynchronous actions it
// resolves when the lifecycle reaches its terminal outcome.
type Handle struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	outcome  Outcome
}

// NewHandle creates an unresolved handle. It is exported for the store.
func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Resolve records the terminal outcome and releases waiters. Only the first
// call has effect.
func (h *Handle) Resolve(o Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return
	}
	h.outcome = o
	h.resolved = true
	close(h.done)
}

// Done returns a channel closed once the dispatch reached a terminal outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the terminal outcome and whether the handle is resolved.
func (h *Handle) Outcome() (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.resolved
}

// Wait blocks until the dispatch resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		o, _ := h.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
