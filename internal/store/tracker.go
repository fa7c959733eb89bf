package store

import (
	"context"
	"sync"
	"time"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
)

// tracker records which action types are in flight and which failed last, and
// services the wait helpers. It has its own mutex so waiter bookkeeping never
// contends with the dispatch path beyond the brief update calls.
type tracker[S any] struct {
	mu          sync.Mutex
	inFlight    map[string]int
	lastErr     map[string]error
	typeWaiters map[string][]chan action.Outcome
	condWaiters []*condWaiter[S]
}

type condWaiter[S any] struct {
	pred func(S) bool
	ch   chan struct{}
}

func newTracker[S any]() *tracker[S] {
	return &tracker[S]{
		inFlight:    make(map[string]int),
		lastErr:     make(map[string]error),
		typeWaiters: make(map[string][]chan action.Outcome),
	}
}

// started records an accepted dispatch. Accepting a new dispatch of a type
// clears that type's recorded failure, mirroring the user retrying the thing
// that failed.
func (t *tracker[S]) started(actionType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[actionType]++
	delete(t.lastErr, actionType)
}

// finished records a terminal outcome and releases type waiters. state is the
// state value at completion, used to re-evaluate condition waiters.
func (t *tracker[S]) finished(o action.Outcome, state S) {
	t.mu.Lock()
	if n := t.inFlight[o.ActionType]; n <= 1 {
		delete(t.inFlight, o.ActionType)
	} else {
		t.inFlight[o.ActionType] = n - 1
	}
	if o.Status == action.StatusFailed && o.Err != nil {
		t.lastErr[o.ActionType] = o.Err
	}
	waiters := t.typeWaiters[o.ActionType]
	delete(t.typeWaiters, o.ActionType)
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- o
	}
	t.stateChanged(state)
}

// stateChanged re-evaluates condition waiters against the new state and
// releases the satisfied ones.
func (t *tracker[S]) stateChanged(state S) {
	t.mu.Lock()
	var remaining []*condWaiter[S]
	var satisfied []*condWaiter[S]
	for _, w := range t.condWaiters {
		if w.pred(state) {
			satisfied = append(satisfied, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	t.condWaiters = remaining
	t.mu.Unlock()

	for _, w := range satisfied {
		close(w.ch)
	}
}

// isInFlight reports whether any dispatch of actionType has not yet reached a
// terminal outcome.
func (t *tracker[S]) isInFlight(actionType string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight[actionType] > 0
}

// lastError returns the recorded failure for actionType, nil if none.
func (t *tracker[S]) lastError(actionType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr[actionType]
}

// recordError notes a failure outside the normal terminal path, used by the
// optimistic sync push loop whose handle has already resolved.
func (t *tracker[S]) recordError(actionType string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr[actionType] = err
}

// clearError forgets the recorded failure for actionType. An empty type
// clears all recorded failures.
func (t *tracker[S]) clearError(actionType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if actionType == "" {
		t.lastErr = make(map[string]error)
		return
	}
	delete(t.lastErr, actionType)
}

// waitForType blocks until the next dispatch of actionType reaches a terminal
// outcome, or the timeout elapses. A zero timeout waits on ctx alone.
func (t *tracker[S]) waitForType(ctx context.Context, actionType string, timeout time.Duration) (action.Outcome, error) {
	ch := make(chan action.Outcome, 1)
	t.mu.Lock()
	t.typeWaiters[actionType] = append(t.typeWaiters[actionType], ch)
	t.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case o := <-ch:
		return o, nil
	case <-timeoutCh:
		t.removeTypeWaiter(actionType, ch)
		return action.Outcome{}, flowerrors.NewTimeoutError("waiting for action '" + actionType + "'")
	case <-ctx.Done():
		t.removeTypeWaiter(actionType, ch)
		return action.Outcome{}, ctx.Err()
	}
}

func (t *tracker[S]) removeTypeWaiter(actionType string, ch chan action.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	waiters := t.typeWaiters[actionType]
	for i, w := range waiters {
		if w == ch {
			t.typeWaiters[actionType] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// waitForCondition blocks until pred holds for some committed state, or the
// timeout elapses. current is the state at registration time; a predicate
// already satisfied returns immediately.
func (t *tracker[S]) waitForCondition(ctx context.Context, current S, pred func(S) bool, timeout time.Duration) error {
	if pred(current) {
		return nil
	}

	w := &condWaiter[S]{pred: pred, ch: make(chan struct{})}
	t.mu.Lock()
	t.condWaiters = append(t.condWaiters, w)
	t.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.ch:
		return nil
	case <-timeoutCh:
		t.removeCondWaiter(w)
		return flowerrors.NewTimeoutError("waiting for state condition")
	case <-ctx.Done():
		t.removeCondWaiter(w)
		return ctx.Err()
	}
}

func (t *tracker[S]) removeCondWaiter(w *condWaiter[S]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cw := range t.condWaiters {
		if cw == w {
			t.condWaiters = append(t.condWaiters[:i], t.condWaiters[i+1:]...)
			return
		}
	}
}
