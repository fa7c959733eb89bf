package persist

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstate-labs/flowstate/internal/logger"
)

type testState struct {
	Counter int    `json:"counter"`
	Note    string `json:"note"`
}

func TestFilePersister_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	p, err := NewFilePersister[testState](path, nil)
	require.NoError(t, err)

	ctx := context.Background()

	_, found, err := p.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, p.Persist(ctx, testState{}, testState{Counter: 7, Note: "hello"}))

	got, found, err := p.Read(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, testState{Counter: 7, Note: "hello"}, got)

	require.NoError(t, p.Delete(ctx))
	_, found, err = p.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting absent state is a no-op.
	require.NoError(t, p.Delete(ctx))
}

func TestFilePersister_RequiresPath(t *testing.T) {
	_, err := NewFilePersister[testState]("", nil)
	require.Error(t, err)
}

func TestSQLitePersister_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	p, err := NewSQLitePersister[testState](ctx, path, nil)
	require.NoError(t, err)
	defer p.Close()

	_, found, err := p.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	rev, err := p.Revision(ctx)
	require.NoError(t, err)
	assert.Zero(t, rev)

	require.NoError(t, p.Persist(ctx, testState{}, testState{Counter: 1}))
	require.NoError(t, p.Persist(ctx, testState{Counter: 1}, testState{Counter: 2}))

	got, found, err := p.Read(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, got.Counter)

	rev, err = p.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)

	require.NoError(t, p.Delete(ctx))
	_, found, err = p.Read(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

// recordingPersister captures transitions for throttle assertions.
type recordingPersister struct {
	mu     sync.Mutex
	writes []testState
	prevs  []testState
}

func (r *recordingPersister) Read(ctx context.Context) (testState, bool, error) {
	return testState{}, false, nil
}

func (r *recordingPersister) Persist(ctx context.Context, prev, next testState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prevs = append(r.prevs, prev)
	r.writes = append(r.writes, next)
	return nil
}

func (r *recordingPersister) Delete(ctx context.Context) error { return nil }

func (r *recordingPersister) snapshot() ([]testState, []testState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]testState(nil), r.prevs...), append([]testState(nil), r.writes...)
}

func TestThrottledWriter_ImmediateWhenIntervalZero(t *testing.T) {
	rec := &recordingPersister{}
	w := NewThrottledWriter[testState](rec, 0, logger.NewLogger("error", "text", nil))
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, testState{}, testState{Counter: 1}))
	require.NoError(t, w.Persist(ctx, testState{Counter: 1}, testState{Counter: 2}))

	_, writes := rec.snapshot()
	assert.Len(t, writes, 2)
}

func TestThrottledWriter_CoalescesBurst(t *testing.T) {
	rec := &recordingPersister{}
	w := NewThrottledWriter[testState](rec, 50*time.Millisecond, logger.NewLogger("error", "text", nil))
	ctx := context.Background()

	// First write goes through immediately (no prior write recorded).
	require.NoError(t, w.Persist(ctx, testState{}, testState{Counter: 1}))
	// Burst inside the window coalesces to the latest value.
	require.NoError(t, w.Persist(ctx, testState{Counter: 1}, testState{Counter: 2}))
	require.NoError(t, w.Persist(ctx, testState{Counter: 2}, testState{Counter: 3}))
	require.NoError(t, w.Persist(ctx, testState{Counter: 3}, testState{Counter: 4}))

	require.Eventually(t, func() bool {
		_, writes := rec.snapshot()
		return len(writes) == 2
	}, time.Second, 5*time.Millisecond)

	prevs, writes := rec.snapshot()
	assert.Equal(t, 1, writes[0].Counter)
	assert.Equal(t, 4, writes[1].Counter)
	// The coalesced write spans from the earliest unwritten previous.
	assert.Equal(t, 1, prevs[1].Counter)
}

func TestThrottledWriter_FlushOnClose(t *testing.T) {
	rec := &recordingPersister{}
	w := NewThrottledWriter[testState](rec, time.Hour, logger.NewLogger("error", "text", nil))
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, testState{}, testState{Counter: 1}))
	require.NoError(t, w.Persist(ctx, testState{Counter: 1}, testState{Counter: 2}))

	require.NoError(t, w.Close(ctx))

	_, writes := rec.snapshot()
	require.Len(t, writes, 2)
	assert.Equal(t, 2, writes[1].Counter)

	// Writes after close are ignored.
	require.NoError(t, w.Persist(ctx, testState{}, testState{Counter: 9}))
	_, writes = rec.snapshot()
	assert.Len(t, writes, 2)
}

func TestThrottledWriter_ResultHandler(t *testing.T) {
	rec := &recordingPersister{}
	w := NewThrottledWriter[testState](rec, 0, logger.NewLogger("error", "text", nil))
	var results []error
	w.SetResultHandler(func(err error) { results = append(results, err) })

	require.NoError(t, w.Persist(context.Background(), testState{}, testState{Counter: 1}))
	require.Len(t, results, 1)
	assert.NoError(t, results[0])
}
