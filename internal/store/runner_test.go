package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
)

func TestLifecycle_BeforeErrorSkipsReduce(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("precondition failed")
	reduced := false
	afterRan := false

	act := &testAction{
		typ:    "guarded",
		before: func(rc *action.Context[counterState]) error { return boom },
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			reduced = true
			return nil, nil
		},
		after: func(rc *action.Context[counterState]) error {
			afterRan = true
			return nil
		},
	}

	o, err := s.DispatchAndWait(context.Background(), act)
	require.Error(t, err)
	assert.Equal(t, action.StatusFailed, o.Status)
	assert.False(t, o.BeforeDone)
	assert.False(t, reduced)
	assert.True(t, afterRan, "after runs even when before fails")
	assert.True(t, o.AfterDone)
	assert.Zero(t, o.Attempts)
	assert.ErrorIs(t, o.Cause, boom)
}

func TestLifecycle_AfterErrorIsOutOfBand(t *testing.T) {
	s := newTestStore(t)
	var sunk []error
	require.NoError(t, s.SetUnhandledErrorSink(func(err error) { sunk = append(sunk, err) }))

	act := increment("inc", 1)
	act.after = func(rc *action.Context[counterState]) error { return errors.New("cleanup failed") }

	o, err := s.DispatchAndWait(context.Background(), act)
	require.NoError(t, err, "after-hook errors never fail the dispatch")
	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.Equal(t, 1, s.State().N)

	require.Len(t, sunk, 1)
	var ce *flowerrors.CleanupError
	assert.ErrorAs(t, sunk[0], &ce)
}

func TestLifecycle_AbortPredicateIsNoOp(t *testing.T) {
	s := newTestStore(t)
	rec := &recorder{}
	require.NoError(t, s.SubscribeDispatch(func(p action.DispatchPhase, at string, seq uint64) { rec.add("dispatch") }))
	require.NoError(t, s.SubscribeState(func(action.StateChange[counterState]) { rec.add("state") }))

	act := increment("maybe", 1)
	act.abort = func(st counterState) bool { return st.N == 0 }

	h, err := s.Dispatch(context.Background(), act)
	require.NoError(t, err)
	o, resolved := h.Outcome()
	require.True(t, resolved)
	assert.Equal(t, action.StatusAborted, o.Status)
	assert.Zero(t, s.State().N)
	assert.Empty(t, rec.list(), "aborted dispatches notify no observers")
}

func TestLifecycle_FailureNotifiesStateWithError(t *testing.T) {
	s := newTestStore(t)
	var changes []action.StateChange[counterState]
	require.NoError(t, s.SubscribeState(func(c action.StateChange[counterState]) { changes = append(changes, c) }))

	boom := errors.New("boom")
	act := &testAction{typ: "failing", reduce: func(rc *action.Context[counterState]) (*counterState, error) {
		return nil, boom
	}}

	_, err := s.DispatchAndWait(context.Background(), act)
	require.Error(t, err)

	require.Len(t, changes, 1)
	assert.Error(t, changes[0].Err)
	assert.Equal(t, changes[0].Previous, changes[0].Next, "failure notification carries an unchanged state")
}

func TestLifecycle_RetryReinvokesReduce(t *testing.T) {
	s := newTestStore(t)
	attempts := []int{}

	act := &testAction{
		typ: "flaky",
		caps: action.Capabilities{Retry: &action.RetrySpec{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
		}},
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			attempts = append(attempts, rc.Attempt())
			if rc.Attempt() < 2 {
				return nil, errors.New("transient")
			}
			next := rc.State()
			next.N = 10
			return &next, nil
		},
	}

	o, err := s.DispatchAndWait(context.Background(), act)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts, "the attempt counter increments per reduce invocation")
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, 10, s.State().N)
}

func TestLifecycle_RetryExhaustionFails(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("still broken")
	calls := 0

	act := &testAction{
		typ: "doomed",
		caps: action.Capabilities{Retry: &action.RetrySpec{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
		}},
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			calls++
			return nil, boom
		},
	}

	o, err := s.DispatchAndWait(context.Background(), act)
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, action.StatusFailed, o.Status)
	assert.ErrorIs(t, o.Cause, boom)
}

func TestLifecycle_RetryForcesAsync(t *testing.T) {
	s := newTestStore(t)
	block := make(chan struct{})

	act := &testAction{
		typ:   "forced",
		shape: action.Sync,
		caps:  action.Capabilities{Retry: &action.RetrySpec{MaxRetries: 1, InitialDelay: time.Millisecond}},
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			<-block
			return nil, nil
		},
	}

	h, err := s.Dispatch(context.Background(), act)
	require.NoError(t, err)
	_, resolved := h.Outcome()
	assert.False(t, resolved, "retry-capable actions run asynchronously even when declared sync")
	close(block)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)
}

func TestLifecycle_UnhandledSinkReceivesFireAndForgetFailures(t *testing.T) {
	s := newTestStore(t)
	sunk := make(chan error, 1)
	require.NoError(t, s.SetUnhandledErrorSink(func(err error) { sunk <- err }))

	act := &testAction{
		typ:   "background",
		shape: action.Async,
		reduce: func(rc *action.Context[counterState]) (*counterState, error) {
			return nil, errors.New("nobody is watching")
		},
	}

	_, err := s.Dispatch(context.Background(), act)
	require.NoError(t, err)

	select {
	case got := <-sunk:
		var de *flowerrors.DispatchError
		assert.ErrorAs(t, got, &de)
	case <-time.After(time.Second):
		t.Fatal("unhandled error never reached the sink")
	}
}

func TestLifecycle_DispatchAndWaitDoesNotDoubleReport(t *testing.T) {
	s := newTestStore(t)
	var sunk []error
	require.NoError(t, s.SetUnhandledErrorSink(func(err error) { sunk = append(sunk, err) }))

	act := &testAction{typ: "watched", reduce: func(rc *action.Context[counterState]) (*counterState, error) {
		return nil, errors.New("boom")
	}}

	_, err := s.DispatchAndWait(context.Background(), act)
	require.Error(t, err)
	assert.Empty(t, sunk, "a waited-on error belongs to the caller, not the sink")
}
