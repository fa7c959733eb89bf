package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-labs/flowstate/internal/logger"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
)

type counterState struct {
	N     int
	Note  string
	Items []string
}

// testAction is the configurable action used across the store tests. All
// optional hooks are implemented; nil funcs behave like absent hooks.
type testAction struct {
	typ    string
	shape  action.Shape
	caps   action.Capabilities
	before func(rc *action.Context[counterState]) error
	reduce func(rc *action.Context[counterState]) (*counterState, error)
	after  func(rc *action.Context[counterState]) error
	abort  func(state counterState) bool
	wrap   func(err error) error
}

func (a *testAction) Type() string {
	if a.typ == "" {
		return "test-action"
	}
	return a.typ
}

func (a *testAction) Shape() action.Shape { return a.shape }

func (a *testAction) Reduce(rc *action.Context[counterState]) (*counterState, error) {
	if a.reduce == nil {
		return nil, nil
	}
	return a.reduce(rc)
}

func (a *testAction) Before(rc *action.Context[counterState]) error {
	if a.before == nil {
		return nil
	}
	return a.before(rc)
}

func (a *testAction) After(rc *action.Context[counterState]) error {
	if a.after == nil {
		return nil
	}
	return a.after(rc)
}

func (a *testAction) AbortWhen(state counterState) bool {
	if a.abort == nil {
		return false
	}
	return a.abort(state)
}

func (a *testAction) WrapError(err error) error {
	if a.wrap == nil {
		return nil
	}
	return a.wrap(err)
}

func (a *testAction) Capabilities() action.Capabilities { return a.caps }

var (
	_ action.Action[counterState]         = (*testAction)(nil)
	_ action.BeforeHook[counterState]     = (*testAction)(nil)
	_ action.AfterHook[counterState]      = (*testAction)(nil)
	_ action.AbortPredicate[counterState] = (*testAction)(nil)
	_ action.ErrorWrapper                 = (*testAction)(nil)
	_ action.Capable                      = (*testAction)(nil)
)

// increment builds a sync action adding delta to the counter.
func increment(typ string, delta int) *testAction {
	return &testAction{
		typ: typ,
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			next := rc.State()
			next.N += delta
			return &next, nil
		},
	}
}

func newTestStore(t *testing.T) *Store[counterState] {
	t.Helper()
	s := New(counterState{})
	require.NoError(t, s.SetLogger(logger.NewLogger("error", "text", nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

// recorder collects observer notifications in order, for ordering assertions.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func TestDispatch_SyncCommitsInline(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Dispatch(context.Background(), increment("inc", 2))
	require.NoError(t, err)

	// Sync dispatch completes, observers included, before Dispatch returns.
	o, resolved := h.Outcome()
	require.True(t, resolved)
	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.True(t, o.StateChanged)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, 2, s.State().N)
}

func TestDispatch_NilChangeSentinel(t *testing.T) {
	s := newTestStore(t)
	var changes int
	require.NoError(t, s.SubscribeState(func(action.StateChange[counterState]) { changes++ }))

	noop := &testAction{typ: "noop", reduce: func(rc *action.Context[counterState]) (*counterState, error) {
		return nil, nil
	}}
	o, err := s.DispatchAndWait(context.Background(), noop)
	require.NoError(t, err)

	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.False(t, o.StateChanged)
	assert.Zero(t, changes, "no state observer fires for the no-change sentinel")
}

func TestDispatch_CommitOfEqualValueStillNotifies(t *testing.T) {
	s := newTestStore(t)
	var changes int
	require.NoError(t, s.SubscribeState(func(action.StateChange[counterState]) { changes++ }))

	same := &testAction{typ: "same", reduce: func(rc *action.Context[counterState]) (*counterState, error) {
		next := rc.State()
		return &next, nil
	}}
	o, err := s.DispatchAndWait(context.Background(), same)
	require.NoError(t, err)

	assert.True(t, o.StateChanged)
	assert.Equal(t, 1, changes, "an explicit commit notifies even when the value is equal")
}

func TestDispatch_ObserverOrdering(t *testing.T) {
	s := newTestStore(t)
	rec := &recorder{}
	require.NoError(t, s.SubscribeDispatch(func(phase action.DispatchPhase, actionType string, seq uint64) {
		rec.add("dispatch:" + phase.String())
	}))
	require.NoError(t, s.SubscribeState(func(c action.StateChange[counterState]) {
		rec.add("state")
	}))

	_, err := s.DispatchAndWait(context.Background(), increment("inc", 1))
	require.NoError(t, err)

	assert.Equal(t, []string{"dispatch:started", "state", "dispatch:ended"}, rec.list())
}

func TestDispatch_NilAction(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Dispatch(context.Background(), nil)
	require.Error(t, err)
}

func TestDispatch_InvalidCapabilityCombination(t *testing.T) {
	s := newTestStore(t)
	act := increment("bad", 1)
	act.caps = action.Capabilities{
		NonReentrant: &action.NonReentrantSpec{},
		Throttle:     &action.ThrottleSpec{},
	}
	_, err := s.Dispatch(context.Background(), act)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abort gate")
}

func TestDispatch_AsyncResolvesHandle(t *testing.T) {
	s := newTestStore(t)
	release := make(chan struct{})
	act := &testAction{
		typ:   "slow",
		shape: action.Async,
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			<-release
			next := rc.State()
			next.N = 42
			return &next, nil
		},
	}

	h, err := s.Dispatch(context.Background(), act)
	require.NoError(t, err)
	// Accepted synchronously: tracked in flight before Dispatch returns.
	assert.True(t, s.IsInFlight("slow"))

	close(release)
	o, werr := h.Wait(context.Background())
	require.NoError(t, werr)
	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.Equal(t, 42, s.State().N)
	assert.False(t, s.IsInFlight("slow"))
}

func TestDispatch_ClosedStore(t *testing.T) {
	s := New(counterState{})
	require.NoError(t, s.SetLogger(logger.NewLogger("error", "text", nil)))
	require.NoError(t, s.Close(context.Background()))

	_, err := s.Dispatch(context.Background(), increment("inc", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestStore_SettersRejectedAfterFirstDispatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DispatchAndWait(context.Background(), increment("inc", 1))
	require.NoError(t, err)

	err = s.SetEnvironment("late")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after the first dispatch")
}

func TestStore_EnvironmentReachesHooks(t *testing.T) {
	s := newTestStore(t)
	type env struct{ API string }
	require.NoError(t, s.SetEnvironment(&env{API: "https://example.test"}))

	var seen *env
	act := &testAction{typ: "env", reduce: func(rc *action.Context[counterState]) (*counterState, error) {
		seen = rc.Env().(*env)
		return nil, nil
	}}
	_, err := s.DispatchAndWait(context.Background(), act)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "https://example.test", seen.API)
}

func TestStore_WaitForCondition(t *testing.T) {
	s := newTestStore(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Dispatch(context.Background(), increment("inc", 5))
	}()

	err := s.WaitForCondition(context.Background(), func(st counterState) bool { return st.N >= 5 }, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, s.State().N)
}

func TestStore_WaitForConditionTimeout(t *testing.T) {
	s := newTestStore(t)
	err := s.WaitForCondition(context.Background(), func(st counterState) bool { return st.N > 0 }, 30*time.Millisecond)
	require.Error(t, err)
}

func TestStore_WaitForActionType(t *testing.T) {
	s := newTestStore(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Dispatch(context.Background(), increment("tracked", 1))
	}()

	o, err := s.WaitForActionType(context.Background(), "tracked", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tracked", o.ActionType)
	assert.Equal(t, action.StatusSucceeded, o.Status)
}

func TestClose_ReleasesPendingDebounce(t *testing.T) {
	s := newTestStore(t)

	act := increment("search", 1)
	act.caps = action.Capabilities{Debounce: &action.DebounceSpec{Window: time.Hour}}
	h, err := s.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.True(t, s.IsInFlight("search"))

	waitDone := make(chan error, 1)
	var waited action.Outcome
	go func() {
		o, werr := s.WaitForActionType(context.Background(), "search", 5*time.Second)
		waited = o
		waitDone <- werr
	}()
	require.Eventually(t, func() bool {
		s.tracker.mu.Lock()
		defer s.tracker.mu.Unlock()
		return len(s.tracker.typeWaiters["search"]) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Close(context.Background()))

	// The cancelled dispatch reaches a terminal outcome: its handle resolves,
	// the in-flight count drops and registered waiters are released.
	select {
	case werr := <-waitDone:
		require.NoError(t, werr)
	case <-time.After(time.Second):
		t.Fatal("waiter was never released by Close")
	}
	assert.Equal(t, action.StatusAborted, waited.Status)

	o, resolved := h.Outcome()
	require.True(t, resolved)
	assert.Equal(t, action.StatusAborted, o.Status)
	assert.False(t, s.IsInFlight("search"))
	assert.Zero(t, s.State().N)
}
