package store

import (
	"context"
	"time"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/optimistic"
)

// Dispatch accepts an action for execution. The returned handle is resolved
// inline for synchronous actions; for asynchronous ones it resolves when the
// lifecycle reaches its terminal outcome. Errors returned here are
// acceptance errors (nil action, invalid capabilities, closed store); errors
// thrown by the action itself travel through the error pipeline and are
// reported to the unhandled sink when rethrown.
func (s *Store[S]) Dispatch(ctx context.Context, act action.Action[S]) (*action.Handle, error) {
	return s.dispatch(ctx, act, true)
}

// DispatchAndWait dispatches and blocks until the terminal outcome. When the
// dispatch fails and the pipeline's disposition is rethrow, the final wrapped
// error is returned to the caller instead of the unhandled sink.
func (s *Store[S]) DispatchAndWait(ctx context.Context, act action.Action[S]) (action.Outcome, error) {
	h, err := s.dispatch(ctx, act, false)
	if err != nil {
		return action.Outcome{}, err
	}
	o, err := h.Wait(ctx)
	if err != nil {
		return action.Outcome{}, err
	}
	if o.Status == action.StatusFailed && !o.Swallowed {
		return o, flowerrors.NewDispatchError(o.ActionType, o.Err)
	}
	return o, nil
}

func (s *Store[S]) dispatch(ctx context.Context, act action.Action[S], reportUnhandled bool) (*action.Handle, error) {
	if act == nil {
		return nil, flowerrors.NewConfigError("cannot dispatch a nil action", nil)
	}

	// The optimistic variants bypass the reduce lifecycle entirely.
	switch opt := any(act).(type) {
	case *optimistic.Command[S]:
		return s.dispatchOptimisticCommand(ctx, opt, reportUnhandled)
	case *optimistic.Sync[S]:
		return s.dispatchOptimisticSync(ctx, opt, nil, reportUnhandled)
	case *optimistic.SyncWithPush[S]:
		return s.dispatchOptimisticSync(ctx, nil, opt, reportUnhandled)
	}

	var caps action.Capabilities
	if c, ok := act.(action.Capable); ok {
		caps = c.Capabilities()
	}
	if err := caps.Validate(); err != nil {
		return nil, err
	}

	// The connectivity probe may touch the network, so it runs before the
	// store mutex is taken. ModeRetry probes inside its reduce wrapper
	// instead.
	online := true
	if caps.Internet != nil && caps.Internet.Mode != action.ModeRetry {
		online = s.checker.Online(ctx)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, flowerrors.NewConfigError("store is closed", nil)
	}
	s.markStartedLocked()
	s.seq++
	seq := s.seq

	// Abort predicate: a complete no-op, nothing observes it but telemetry.
	if ap, ok := act.(action.AbortPredicate[S]); ok && ap.AbortWhen(s.state) {
		s.mu.Unlock()
		return s.newAbortedHandle(act.Type(), seq, "abort predicate"), nil
	}

	if caps.Internet != nil && caps.Internet.Mode == action.ModeAbort && !online {
		s.mu.Unlock()
		return s.newAbortedHandle(act.Type(), seq, "offline"), nil
	}

	// Abort-gate capabilities: check and set atomically with acceptance.
	now := time.Now()
	var release func(o action.Outcome)
	if caps.NonReentrant != nil {
		key := lockKeyFor(caps.NonReentrant.Key, act.Type())
		g := s.gate(key)
		if g.inFlight {
			s.mu.Unlock()
			return s.newAbortedHandle(act.Type(), seq, "non-reentrant lock held"), nil
		}
		g.inFlight = true
		release = func(action.Outcome) {
			s.mu.Lock()
			g.inFlight = false
			s.mu.Unlock()
		}
	}
	if caps.Throttle != nil {
		key := lockKeyFor(caps.Throttle.Key, act.Type())
		g := s.gate(key)
		if !caps.Throttle.Force && now.Before(g.throttleUntil) {
			s.mu.Unlock()
			return s.newAbortedHandle(act.Type(), seq, "throttled"), nil
		}
		g.throttleUntil = now.Add(s.throttleWindow(caps.Throttle))
		if caps.Throttle.UnlockOnError {
			release = func(o action.Outcome) {
				if o.Status == action.StatusFailed {
					s.mu.Lock()
					g.throttleUntil = time.Time{}
					s.mu.Unlock()
				}
			}
		}
	}
	if caps.Fresh != nil {
		key := lockKeyFor(caps.Fresh.Key, act.Type())
		g := s.gate(key)
		if g.hasSuccess && now.Sub(g.lastSuccess) < caps.Fresh.Freshness {
			s.mu.Unlock()
			return s.newAbortedHandle(act.Type(), seq, "still fresh"), nil
		}
		release = func(o action.Outcome) {
			if o.Status == action.StatusSucceeded {
				s.mu.Lock()
				g.lastSuccess = time.Now()
				g.hasSuccess = true
				s.mu.Unlock()
			}
		}
	}

	handle := action.NewHandle()

	// Debounce defers execution; a newer dispatch within the window
	// supersedes the scheduled one.
	if caps.Debounce != nil {
		key := lockKeyFor(caps.Debounce.Key, act.Type())
		g := s.gate(key)
		superseded := g.debounce
		if superseded != nil {
			superseded.timer.Stop()
		}
		s.tracker.started(act.Type())
		entry := &debounceState[S]{seq: seq, act: act, handle: handle}
		entry.timer = time.AfterFunc(s.debounceWindow(caps.Debounce), func() {
			s.fireDebounced(key, seq, caps, release, reportUnhandled)
		})
		g.debounce = entry
		state := s.state
		s.mu.Unlock()

		if superseded != nil {
			s.tracker.finished(action.Outcome{
				ActionType: superseded.act.Type(),
				Seq:        superseded.seq,
				Status:     action.StatusAborted,
			}, state)
			s.resolveAborted(superseded.act.Type(), superseded.seq, superseded.handle)
		}
		return handle, nil
	}

	s.tracker.started(act.Type())
	s.mu.Unlock()

	// ModeDialog offline: the dispatch fails with the user-facing message
	// before any phase runs; the pipeline swallows it by default.
	var precondErr error
	if caps.Internet != nil && caps.Internet.Mode == action.ModeDialog && !online {
		msg := caps.Internet.Message
		if msg == "" {
			msg = "No internet connection"
		}
		precondErr = flowerrors.NewUserError(msg, nil)
	}

	async := act.Shape() == action.Async || caps.ForcesAsync()
	if !async {
		s.runLifecycle(ctx, act, caps, seq, handle, release, reportUnhandled, precondErr)
		return handle, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLifecycle(s.baseCtx, act, caps, seq, handle, release, reportUnhandled, precondErr)
	}()
	return handle, nil
}

// fireDebounced runs a scheduled trailing execution, unless it was superseded
// or the store closed in the meantime.
func (s *Store[S]) fireDebounced(key string, seq uint64, caps action.Capabilities, release func(action.Outcome), reportUnhandled bool) {
	s.mu.Lock()
	g := s.gate(key)
	entry := g.debounce
	if entry == nil || entry.seq != seq {
		s.mu.Unlock()
		return
	}
	g.debounce = nil
	if s.closed {
		s.mu.Unlock()
		s.tracker.finished(action.Outcome{ActionType: entry.act.Type(), Seq: seq, Status: action.StatusAborted}, s.State())
		s.resolveAborted(entry.act.Type(), seq, entry.handle)
		return
	}
	s.mu.Unlock()

	s.runLifecycle(s.baseCtx, entry.act, caps, seq, entry.handle, release, reportUnhandled, nil)
}

// newAbortedHandle builds the resolved handle for a gate-aborted dispatch.
// Aborted dispatches produce no observer notifications, only telemetry.
func (s *Store[S]) newAbortedHandle(actionType string, seq uint64, reason string) *action.Handle {
	h := action.NewHandle()
	h.Resolve(action.Outcome{ActionType: actionType, Seq: seq, Status: action.StatusAborted})
	s.logger.Debugf("dispatch of '%s' aborted: %s", actionType, reason)
	s.bus.Emit(events.Event{
		Type:       events.DispatchAborted,
		Timestamp:  time.Now(),
		ActionType: actionType,
		Seq:        seq,
		Payload:    map[string]interface{}{"reason": reason},
	})
	return h
}

// resolveAborted resolves an already-issued handle as aborted.
func (s *Store[S]) resolveAborted(actionType string, seq uint64, h *action.Handle) {
	h.Resolve(action.Outcome{ActionType: actionType, Seq: seq, Status: action.StatusAborted})
	s.bus.Emit(events.Event{
		Type:       events.DispatchAborted,
		Timestamp:  time.Now(),
		ActionType: actionType,
		Seq:        seq,
		Payload:    map[string]interface{}{"reason": "superseded"},
	})
}

func (s *Store[S]) throttleWindow(spec *action.ThrottleSpec) time.Duration {
	if spec.Window > 0 {
		return spec.Window
	}
	if s.defaults.ThrottleWindow > 0 {
		return s.defaults.ThrottleWindow
	}
	return action.DefaultThrottleWindow
}

func (s *Store[S]) debounceWindow(spec *action.DebounceSpec) time.Duration {
	if spec.Window > 0 {
		return spec.Window
	}
	if s.defaults.DebounceWindow > 0 {
		return s.defaults.DebounceWindow
	}
	return action.DefaultDebounceWindow
}
