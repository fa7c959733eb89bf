package store

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/optimistic"
)

// dispatchOptimisticCommand runs the one-shot optimistic protocol: take the
// per-key lock, apply the tentative value synchronously, then confirm or
// reconcile on a goroutine. Each run is tagged with a transaction id for
// telemetry correlation.
func (s *Store[S]) dispatchOptimisticCommand(ctx context.Context, cmd *optimistic.Command[S], reportUnhandled bool) (*action.Handle, error) {
	if cmd.NewValue == nil || cmd.Get == nil || cmd.Set == nil || cmd.Commit == nil {
		return nil, flowerrors.NewConfigError("optimistic command requires NewValue, Get, Set and Commit", nil)
	}
	key := cmd.LockKey()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, flowerrors.NewConfigError("store is closed", nil)
	}
	s.markStartedLocked()
	s.seq++
	seq := s.seq

	g := s.gate(key)
	if g.inFlight {
		s.mu.Unlock()
		return s.newAbortedHandle(cmd.Type(), seq, "operation for this entity already in flight"), nil
	}
	g.inFlight = true

	// Atomic tentative apply. The accessors are pure by contract; this is the
	// one place user functions run under the store mutex.
	prevState := s.state
	prevValue := cmd.Get(s.state)
	tentative := cmd.NewValue(s.state)
	nextState := cmd.Set(s.state, tentative)
	s.state = nextState
	s.mu.Unlock()

	s.tracker.started(cmd.Type())
	handle := action.NewHandle()
	txn := uuid.NewString()

	now := time.Now()
	s.bus.Emit(events.Event{Type: events.DispatchStart, Timestamp: now, ActionType: cmd.Type(), Seq: seq,
		Payload: map[string]interface{}{"txn": txn}})
	s.notifyDispatch(action.DispatchStarted, cmd.Type(), seq)
	s.bus.Emit(events.Event{Type: events.OptimisticApplied, Timestamp: now, ActionType: cmd.Type(), Seq: seq,
		Payload: map[string]interface{}{"txn": txn, "key": key}})
	s.persistTransition(prevState, nextState)
	s.notifyState(action.StateChange[S]{ActionType: cmd.Type(), Seq: seq, Previous: prevState, Next: nextState})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finishOptimisticCommand(cmd, key, seq, txn, tentative, prevValue, handle, reportUnhandled, now)
	}()
	return handle, nil
}

func (s *Store[S]) finishOptimisticCommand(
	cmd *optimistic.Command[S],
	key string,
	seq uint64,
	txn string,
	tentative, prevValue interface{},
	handle *action.Handle,
	reportUnhandled bool,
	startedAt time.Time,
) {
	result, err := cmd.Commit(s.baseCtx, s.env, tentative)

	o := action.Outcome{
		ActionType:   cmd.Type(),
		Seq:          seq,
		BeforeDone:   true,
		ReduceDone:   err == nil,
		AfterDone:    true,
		StateChanged: true,
		Attempts:     1,
	}

	if err == nil {
		// A non-nil commit result is the authoritative value; replace the
		// tentative one unless a newer edit already moved the field on.
		if result != nil && !reflect.DeepEqual(result, tentative) {
			s.swapValueIfCurrent(cmd.Type(), seq, cmd.Get, cmd.Set, tentative, result)
		}
		s.bus.Emit(events.Event{Type: events.OptimisticConfirmed, Timestamp: time.Now(), ActionType: cmd.Type(), Seq: seq,
			Payload: map[string]interface{}{"txn": txn, "key": key}})
		o.Status = action.StatusSucceeded
	} else {
		rolledBack := s.swapValueIfCurrent(cmd.Type(), seq, cmd.Get, cmd.Set, tentative, prevValue)
		s.bus.Emit(events.Event{Type: events.OptimisticRollback, Timestamp: time.Now(), ActionType: cmd.Type(), Seq: seq,
			Payload: map[string]interface{}{"txn": txn, "key": key, "rolled_back": rolledBack}})
		o.Status = action.StatusFailed
		o.Cause = err
		o.Err, o.Swallowed = s.processError(cmd.Type(), nil, seq, err)
		cur := s.State()
		s.notifyState(action.StateChange[S]{ActionType: cmd.Type(), Seq: seq, Previous: cur, Next: cur, Err: o.Err})
	}

	s.mu.Lock()
	s.gate(key).inFlight = false
	s.mu.Unlock()

	s.tracker.finished(o, s.State())
	s.notifyDispatch(action.DispatchEnded, cmd.Type(), seq)
	s.bus.Emit(events.Event{Type: events.DispatchEnd, Timestamp: time.Now(), ActionType: cmd.Type(), Seq: seq,
		Payload: map[string]interface{}{"status": o.Status.String(), "duration": time.Since(startedAt), "txn": txn}})
	handle.Resolve(o)
	if cmd.OnDone != nil {
		cmd.OnDone(o)
	}
	if o.Status == action.StatusFailed && !o.Swallowed && reportUnhandled {
		s.reportUnhandled(flowerrors.NewDispatchError(cmd.Type(), o.Err))
	}
}

// swapValueIfCurrent replaces the optimistic field only if it still carries
// expected, so a newer edit is never clobbered by a stale confirmation or
// rollback. Reports whether the swap happened.
func (s *Store[S]) swapValueIfCurrent(
	actionType string,
	seq uint64,
	get func(S) interface{},
	set func(S, interface{}) S,
	expected, replacement interface{},
) bool {
	s.mu.Lock()
	if !reflect.DeepEqual(get(s.state), expected) {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = set(s.state, replacement)
	next := s.state
	s.mu.Unlock()

	s.persistTransition(prev, next)
	s.notifyState(action.StateChange[S]{ActionType: actionType, Seq: seq, Previous: prev, Next: next})
	return true
}

// syncView erases the difference between the plain and the revisioned sync
// variants for the shared coalescing push loop.
type syncView[S any] struct {
	typ     string
	key     string
	value   interface{}
	get     func(S) interface{}
	set     func(S, interface{}) S
	push    func(ctx context.Context, env interface{}, value interface{}, localRev uint64) (uint64, interface{}, error)
	withRev bool
	onDone  func(action.Outcome)
}

// dispatchOptimisticSync runs the coalescing protocol shared by Sync and
// SyncWithPush. Exactly one of syn and swp is non-nil.
func (s *Store[S]) dispatchOptimisticSync(ctx context.Context, syn *optimistic.Sync[S], swp *optimistic.SyncWithPush[S], reportUnhandled bool) (*action.Handle, error) {
	var v syncView[S]
	switch {
	case syn != nil:
		if syn.Get == nil || syn.Set == nil || syn.Push == nil {
			return nil, flowerrors.NewConfigError("optimistic sync requires Get, Set and Push", nil)
		}
		v = syncView[S]{
			typ: syn.Type(), key: syn.LockKey(), value: syn.Value,
			get: syn.Get, set: syn.Set, onDone: syn.OnDone,
			push: func(ctx context.Context, env, value interface{}, _ uint64) (uint64, interface{}, error) {
				authoritative, err := syn.Push(ctx, env, value)
				return 0, authoritative, err
			},
		}
	default:
		if swp.Get == nil || swp.Set == nil || swp.Push == nil {
			return nil, flowerrors.NewConfigError("optimistic sync requires Get, Set and Push", nil)
		}
		v = syncView[S]{
			typ: swp.Type(), key: swp.LockKey(), value: swp.Value,
			get: swp.Get, set: swp.Set, onDone: swp.OnDone,
			push: swp.Push, withRev: true,
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, flowerrors.NewConfigError("store is closed", nil)
	}
	s.markStartedLocked()
	s.seq++
	seq := s.seq

	g := s.gate(v.key)
	prevState := s.state
	prevValue := v.get(s.state)
	nextState := v.set(s.state, v.value)
	s.state = nextState

	var localRev uint64
	if v.withRev {
		g.revHigh++
		localRev = g.revHigh
	}

	cur := pendingSync{value: v.value, prev: prevValue, localRev: localRev, seq: seq}
	startLoop := false
	if g.syncInFlight {
		// Coalesce: only the latest queued value survives the burst.
		g.syncPending = &cur
	} else {
		g.syncInFlight = true
		startLoop = true
	}
	s.mu.Unlock()

	s.tracker.started(v.typ)
	handle := action.NewHandle()
	now := time.Now()

	s.bus.Emit(events.Event{Type: events.DispatchStart, Timestamp: now, ActionType: v.typ, Seq: seq})
	s.notifyDispatch(action.DispatchStarted, v.typ, seq)
	s.bus.Emit(events.Event{Type: events.OptimisticApplied, Timestamp: now, ActionType: v.typ, Seq: seq,
		Payload: map[string]interface{}{"key": v.key, "rev": localRev}})
	s.persistTransition(prevState, nextState)
	s.notifyState(action.StateChange[S]{ActionType: v.typ, Seq: seq, Previous: prevState, Next: nextState})

	// The handle resolves after the local apply. Push failures surface
	// through rollback notifications, LastError and the unhandled sink.
	o := action.Outcome{
		ActionType: v.typ, Seq: seq, Status: action.StatusSucceeded,
		BeforeDone: true, ReduceDone: true, AfterDone: true,
		StateChanged: true, Attempts: 1,
	}
	s.tracker.finished(o, nextState)
	s.notifyDispatch(action.DispatchEnded, v.typ, seq)
	s.bus.Emit(events.Event{Type: events.DispatchEnd, Timestamp: time.Now(), ActionType: v.typ, Seq: seq,
		Payload: map[string]interface{}{"status": o.Status.String(), "duration": time.Since(now)}})
	handle.Resolve(o)
	if v.onDone != nil {
		v.onDone(o)
	}

	if startLoop {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSyncPushLoop(v, cur, reportUnhandled)
		}()
	}
	return handle, nil
}

// runSyncPushLoop drains the coalesced pushes for one key: while a push is in
// flight at most one follow-up waits, carrying the latest value, so a burst
// of n dispatches costs at most two outstanding network calls.
func (s *Store[S]) runSyncPushLoop(v syncView[S], first pendingSync, reportUnhandled bool) {
	cur := first
	for {
		serverRev, authoritative, err := v.push(s.baseCtx, s.env, cur.value, cur.localRev)

		if err == nil {
			if v.withRev {
				s.mu.Lock()
				if serverRev > s.gate(v.key).revHigh {
					s.gate(v.key).revHigh = serverRev
				}
				s.mu.Unlock()
			}
			if authoritative != nil && !reflect.DeepEqual(authoritative, cur.value) {
				s.swapValueIfCurrent(v.typ, cur.seq, v.get, v.set, cur.value, authoritative)
			}
			s.bus.Emit(events.Event{Type: events.OptimisticConfirmed, Timestamp: time.Now(), ActionType: v.typ, Seq: cur.seq,
				Payload: map[string]interface{}{"key": v.key, "server_rev": serverRev}})
		} else {
			rolledBack := s.swapValueIfCurrent(v.typ, cur.seq, v.get, v.set, cur.value, cur.prev)
			s.bus.Emit(events.Event{Type: events.OptimisticRollback, Timestamp: time.Now(), ActionType: v.typ, Seq: cur.seq,
				Payload: map[string]interface{}{"key": v.key, "rolled_back": rolledBack}})
			wrapped, swallowed := s.processError(v.typ, nil, cur.seq, err)
			s.tracker.recordError(v.typ, wrapped)
			cur2 := s.State()
			s.notifyState(action.StateChange[S]{ActionType: v.typ, Seq: cur.seq, Previous: cur2, Next: cur2, Err: wrapped})
			if !swallowed && reportUnhandled {
				s.reportUnhandled(flowerrors.NewDispatchError(v.typ, wrapped))
			}
		}

		s.mu.Lock()
		g := s.gate(v.key)
		if g.syncPending != nil {
			cur = *g.syncPending
			g.syncPending = nil
			s.mu.Unlock()
			continue
		}
		g.syncInFlight = false
		s.mu.Unlock()
		return
	}
}

// ApplyServerPush reconciles an externally pushed value for key. The update
// is applied only if revision is strictly greater than the highest revision
// already observed for the key; stale pushes are discarded. apply receives
// the current state and returns the new one, nil meaning no change; it must
// be pure, like the optimistic accessors.
func (s *Store[S]) ApplyServerPush(key string, revision uint64, apply func(S) *S) (bool, error) {
	if apply == nil {
		return false, flowerrors.NewConfigError("server push requires an apply function", nil)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, flowerrors.NewConfigError("store is closed", nil)
	}
	s.markStartedLocked()
	g := s.gate(key)
	if revision <= g.revHigh {
		revHigh := g.revHigh
		s.mu.Unlock()
		s.bus.Emit(events.Event{Type: events.ServerPushDiscarded, Timestamp: time.Now(),
			Payload: map[string]interface{}{"key": key, "revision": revision, "rev_high": revHigh}})
		return false, nil
	}
	g.revHigh = revision

	next := apply(s.state)
	var prev, committed S
	appliedState := false
	if next != nil {
		prev = s.state
		s.state = *next
		committed = *next
		appliedState = true
	}
	s.mu.Unlock()

	s.bus.Emit(events.Event{Type: events.ServerPushApplied, Timestamp: time.Now(),
		Payload: map[string]interface{}{"key": key, "revision": revision}})
	if appliedState {
		s.persistTransition(prev, committed)
		s.notifyState(action.StateChange[S]{ActionType: "server-push", Previous: prev, Next: committed})
	}
	return true, nil
}
