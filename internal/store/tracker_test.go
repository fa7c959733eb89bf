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

func TestTracker_LastErrorClearedByRedispatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DispatchAndWait(context.Background(), failing("load", errors.New("first try")))
	require.Error(t, err)
	require.Error(t, s.LastError("load"))

	// Accepting a new dispatch of the type clears its recorded failure.
	_, err = s.DispatchAndWait(context.Background(), increment("load", 1))
	require.NoError(t, err)
	assert.NoError(t, s.LastError("load"))
}

func TestTracker_ClearErrorSingleAndAll(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.DispatchAndWait(context.Background(), failing("a", errors.New("a failed")))
	_, _ = s.DispatchAndWait(context.Background(), failing("b", errors.New("b failed")))
	require.Error(t, s.LastError("a"))
	require.Error(t, s.LastError("b"))

	s.ClearError("a")
	assert.NoError(t, s.LastError("a"))
	assert.Error(t, s.LastError("b"))

	s.ClearError("")
	assert.NoError(t, s.LastError("b"))
}

func TestTracker_AbortedDispatchLeavesNoError(t *testing.T) {
	s := newTestStore(t)
	act := increment("gated", 1)
	act.abort = func(counterState) bool { return true }

	h, err := s.Dispatch(context.Background(), act)
	require.NoError(t, err)
	o, resolved := h.Outcome()
	require.True(t, resolved)
	assert.Equal(t, action.StatusAborted, o.Status)
	assert.NoError(t, s.LastError("gated"))
	assert.False(t, s.IsInFlight("gated"))
}

func TestTracker_WaitForActionTypeTimeout(t *testing.T) {
	s := newTestStore(t)
	_, err := s.WaitForActionType(context.Background(), "never", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, flowerrors.IsTimeout(err))
}

func TestTracker_WaitForActionTypeContextCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.WaitForActionType(ctx, "never", 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTracker_WaitForActionTypeSeesFailure(t *testing.T) {
	s := newTestStore(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = s.DispatchAndWait(context.Background(), failing("load", errors.New("boom")))
	}()

	o, err := s.WaitForActionType(context.Background(), "load", time.Second)
	require.NoError(t, err, "the wait itself succeeds; the outcome carries the failure")
	assert.Equal(t, action.StatusFailed, o.Status)
	assert.Error(t, o.Err)
}

func TestTracker_WaitForConditionAlreadySatisfied(t *testing.T) {
	s := newTestStore(t)
	err := s.WaitForCondition(context.Background(), func(counterState) bool { return true }, time.Second)
	require.NoError(t, err)
}
