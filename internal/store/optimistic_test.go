package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/optimistic"
)

// noteCommand builds a Command writing value into the Note field.
func noteCommand(value string, commit func(ctx context.Context, env, tentative interface{}) (interface{}, error)) *optimistic.Command[counterState] {
	return &optimistic.Command[counterState]{
		Name:     "save-note",
		NewValue: func(counterState) interface{} { return value },
		Get:      func(st counterState) interface{} { return st.Note },
		Set: func(st counterState, v interface{}) counterState {
			st.Note = v.(string)
			return st
		},
		Commit: commit,
	}
}

func TestOptimistic_CommandAppliesTentativeSynchronously(t *testing.T) {
	s := newTestStore(t)
	block := make(chan struct{})

	cmd := noteCommand("draft", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		<-block
		return nil, nil
	})

	h, err := s.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "draft", s.State().Note, "the tentative value is visible before the commit finishes")

	close(block)
	o, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.Equal(t, "draft", s.State().Note)
}

func TestOptimistic_CommandAdoptsAuthoritativeValue(t *testing.T) {
	s := newTestStore(t)

	cmd := noteCommand("draft", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		return "draft (server normalized)", nil
	})

	h, err := s.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	o, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.Equal(t, "draft (server normalized)", s.State().Note)
}

func TestOptimistic_CommandRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t)

	cmd := noteCommand("doomed", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		return nil, errors.New("server rejected")
	})

	h, err := s.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	o, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusFailed, o.Status)
	assert.Empty(t, s.State().Note, "the tentative value is rolled back")
	assert.Error(t, s.LastError("save-note"))
}

func TestOptimistic_CommandRollbackSkippedWhenValueMovedOn(t *testing.T) {
	s := newTestStore(t)
	fail := make(chan struct{})

	cmd := noteCommand("v1", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		<-fail
		return nil, errors.New("server rejected")
	})

	h, err := s.Dispatch(context.Background(), cmd)
	require.NoError(t, err)

	// A newer edit replaces the field while the commit is still in flight.
	edit := &testAction{typ: "edit-note", reduce: func(rc *action.Context[counterState]) (*counterState, error) {
		next := rc.State()
		next.Note = "v2"
		return &next, nil
	}}
	_, err = s.DispatchAndWait(context.Background(), edit)
	require.NoError(t, err)

	close(fail)
	o, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusFailed, o.Status)
	assert.Equal(t, "v2", s.State().Note, "a stale rollback never clobbers a newer value")
}

func TestOptimistic_CommandSkipsConcurrentDuplicate(t *testing.T) {
	s := newTestStore(t)
	block := make(chan struct{})

	first := noteCommand("v1", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		<-block
		return nil, nil
	})
	first.Key = "note-7"
	h1, err := s.Dispatch(context.Background(), first)
	require.NoError(t, err)

	dup := noteCommand("v2", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		return nil, nil
	})
	dup.Key = "note-7"
	h2, err := s.Dispatch(context.Background(), dup)
	require.NoError(t, err)
	o2, resolved := h2.Outcome()
	require.True(t, resolved)
	assert.Equal(t, action.StatusAborted, o2.Status)

	// A different entity is not serialized against note-7.
	other := noteCommand("other", func(ctx context.Context, env, tentative interface{}) (interface{}, error) {
		return nil, nil
	})
	other.Key = "note-8"
	h3, err := s.Dispatch(context.Background(), other)
	require.NoError(t, err)
	o3, err := h3.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, action.StatusSucceeded, o3.Status)

	close(block)
	_, err = h1.Wait(context.Background())
	require.NoError(t, err)
}

func TestOptimistic_CommandRequiresAccessors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Dispatch(context.Background(), &optimistic.Command[counterState]{Name: "incomplete"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires")
}

func TestOptimistic_SyncResolvesAfterLocalApply(t *testing.T) {
	s := newTestStore(t)
	block := make(chan struct{})

	syn := &optimistic.Sync[counterState]{
		Name:  "set-note",
		Value: "hello",
		Get:   func(st counterState) interface{} { return st.Note },
		Set: func(st counterState, v interface{}) counterState {
			st.Note = v.(string)
			return st
		},
		Push: func(ctx context.Context, env, value interface{}) (interface{}, error) {
			<-block
			return nil, nil
		},
	}

	h, err := s.Dispatch(context.Background(), syn)
	require.NoError(t, err)
	o, resolved := h.Outcome()
	require.True(t, resolved, "the handle resolves after the local apply, not after the push")
	assert.Equal(t, action.StatusSucceeded, o.Status)
	assert.Equal(t, "hello", s.State().Note)
	close(block)
}

func TestOptimistic_SyncCoalescesBurst(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	var pushed []string
	firstPushStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var once sync.Once

	setNote := func(value string) *optimistic.Sync[counterState] {
		return &optimistic.Sync[counterState]{
			Name:  "set-note",
			Value: value,
			Get:   func(st counterState) interface{} { return st.Note },
			Set: func(st counterState, v interface{}) counterState {
				st.Note = v.(string)
				return st
			},
			Push: func(ctx context.Context, env, value interface{}) (interface{}, error) {
				mu.Lock()
				pushed = append(pushed, value.(string))
				first := len(pushed) == 1
				mu.Unlock()
				if first {
					once.Do(func() { close(firstPushStarted) })
					<-releaseFirst
				}
				return nil, nil
			},
		}
	}

	_, err := s.Dispatch(context.Background(), setNote("a"))
	require.NoError(t, err)
	<-firstPushStarted

	// These arrive while the first push is in flight and coalesce to one.
	_, err = s.Dispatch(context.Background(), setNote("ab"))
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), setNote("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", s.State().Note, "every dispatch applies locally at once")

	close(releaseFirst)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pushed) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "abc"}, pushed, "the intermediate value never reaches the network")
}

func TestOptimistic_SyncPushFailureRollsBack(t *testing.T) {
	s := newTestStore(t)
	var sunk []error
	done := make(chan struct{})
	require.NoError(t, s.SetUnhandledErrorSink(func(err error) {
		sunk = append(sunk, err)
		close(done)
	}))

	syn := &optimistic.Sync[counterState]{
		Name:  "set-note",
		Value: "transient",
		Get:   func(st counterState) interface{} { return st.Note },
		Set: func(st counterState, v interface{}) counterState {
			st.Note = v.(string)
			return st
		},
		Push: func(ctx context.Context, env, value interface{}) (interface{}, error) {
			return nil, errors.New("network down")
		},
	}

	h, err := s.Dispatch(context.Background(), syn)
	require.NoError(t, err)
	o, _ := h.Outcome()
	assert.Equal(t, action.StatusSucceeded, o.Status, "the local apply already succeeded")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push failure never reached the sink")
	}
	assert.Empty(t, s.State().Note, "the local value is rolled back")
	assert.Error(t, s.LastError("set-note"))
	require.Len(t, sunk, 1)
}

func setNoteWithPush(t *testing.T, s *Store[counterState], value string, push func(ctx context.Context, env, v interface{}, localRev uint64) (uint64, interface{}, error)) *action.Handle {
	t.Helper()
	h, err := s.Dispatch(context.Background(), &optimistic.SyncWithPush[counterState]{
		Name:  "shared-note",
		Key:   "note-1",
		Value: value,
		Get:   func(st counterState) interface{} { return st.Note },
		Set: func(st counterState, v interface{}) counterState {
			st.Note = v.(string)
			return st
		},
		Push: push,
	})
	require.NoError(t, err)
	return h
}

func TestOptimistic_SyncWithPushRevisionHandshake(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	var localRevs []uint64
	pushDone := make(chan struct{})

	setNoteWithPush(t, s, "v1", func(ctx context.Context, env, v interface{}, localRev uint64) (uint64, interface{}, error) {
		mu.Lock()
		localRevs = append(localRevs, localRev)
		mu.Unlock()
		defer close(pushDone)
		return 17, nil, nil
	})

	select {
	case <-pushDone:
	case <-time.After(time.Second):
		t.Fatal("push never ran")
	}
	mu.Lock()
	assert.Equal(t, []uint64{1}, localRevs, "the first local dispatch carries revision 1")
	mu.Unlock()

	// The push loop records the server's revision asynchronously.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gate("shared-note/note-1").revHigh == 17
	}, time.Second, 5*time.Millisecond)

	// Revision 17 is now the high-water mark: a stale external push is
	// discarded, a newer one applies.
	applied, err := s.ApplyServerPush("shared-note/note-1", 17, func(st counterState) *counterState {
		st.Note = "stale"
		return &st
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "v1", s.State().Note)

	applied, err = s.ApplyServerPush("shared-note/note-1", 18, func(st counterState) *counterState {
		st.Note = "from another device"
		return &st
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "from another device", s.State().Note)
}

func TestOptimistic_ServerPushDiscardsStaleRevision(t *testing.T) {
	s := newTestStore(t)

	applied, err := s.ApplyServerPush("doc", 5, func(st counterState) *counterState {
		st.Note = "rev5"
		return &st
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, "rev5", s.State().Note)

	applied, err = s.ApplyServerPush("doc", 5, func(st counterState) *counterState {
		st.Note = "rev5 again"
		return &st
	})
	require.NoError(t, err)
	assert.False(t, applied, "equal revisions are stale")
	assert.Equal(t, "rev5", s.State().Note)

	applied, err = s.ApplyServerPush("doc", 4, func(st counterState) *counterState {
		st.Note = "rev4"
		return &st
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "rev5", s.State().Note)
}

func TestOptimistic_ServerPushNilApplyRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyServerPush("doc", 1, nil)
	require.Error(t, err)
}

func TestOptimistic_ServerPushNoChangeSentinel(t *testing.T) {
	s := newTestStore(t)
	var changes int
	require.NoError(t, s.SubscribeState(func(action.StateChange[counterState]) { changes++ }))

	applied, err := s.ApplyServerPush("doc", 1, func(counterState) *counterState { return nil })
	require.NoError(t, err)
	assert.True(t, applied, "the revision advances even without a state change")
	assert.Zero(t, changes)

	applied, err = s.ApplyServerPush("doc", 1, func(st counterState) *counterState { return &st })
	require.NoError(t, err)
	assert.False(t, applied)
}
