package store

import (
	"context"
	"time"

	"github.com/flowstate-labs/flowstate/internal/retry"
	"github.com/flowstate-labs/flowstate/internal/tracing"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// runLifecycle executes one accepted dispatch from start notification to
// terminal outcome. It runs on the caller goroutine for synchronous actions
// and on a dedicated goroutine otherwise. precondErr, when non-nil, fails the
// dispatch before any phase runs (offline dialog gate).
//
// Phase ordering: before, reduce (possibly wrapped by retry), commit, state
// notification, after. On failure the after hook still runs, then the error
// pipeline, then a state notification carrying the error with an unchanged
// state. The end notification is always last.
func (s *Store[S]) runLifecycle(
	ctx context.Context,
	act action.Action[S],
	caps action.Capabilities,
	seq uint64,
	handle *action.Handle,
	release func(action.Outcome),
	reportUnhandled bool,
	precondErr error,
) {
	startedAt := time.Now()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "flowstate.dispatch",
			trace.WithAttributes(
				attribute.String("flowstate.action_type", act.Type()),
				attribute.Int64("flowstate.seq", int64(seq)),
			))
		defer span.End()
	}

	s.bus.Emit(events.Event{Type: events.DispatchStart, Timestamp: startedAt, ActionType: act.Type(), Seq: seq})
	s.notifyDispatch(action.DispatchStarted, act.Type(), seq)

	o := action.Outcome{ActionType: act.Type(), Seq: seq}
	stateFn := func() S { return s.State() }

	var phaseErr error
	if precondErr != nil {
		phaseErr = precondErr
	} else {
		// Before phase.
		rc := action.NewContext(ctx, stateFn, s.env, s.logger, seq, 0)
		if bh, ok := act.(action.BeforeHook[S]); ok {
			phaseErr = bh.Before(rc)
		}
		o.BeforeDone = phaseErr == nil

		// Reduce phase, possibly wrapped.
		if phaseErr == nil {
			var next *S
			next, o.Attempts, phaseErr = s.runReduce(ctx, act, caps, seq, stateFn)
			o.ReduceDone = phaseErr == nil

			if phaseErr == nil && next != nil {
				prev := s.commit(*next)
				o.StateChanged = true
				s.bus.Emit(events.Event{Type: events.StateCommitted, Timestamp: time.Now(), ActionType: act.Type(), Seq: seq})
				s.persistTransition(prev, *next)
				s.notifyState(action.StateChange[S]{ActionType: act.Type(), Seq: seq, Previous: prev, Next: *next})
			}
		}

		// After phase runs regardless of earlier failures. Its errors never
		// replace a phase error; they go out-of-band.
		if ah, ok := act.(action.AfterHook[S]); ok {
			if afterErr := ah.After(rc); afterErr != nil {
				cleanup := flowerrors.NewCleanupError(act.Type(), afterErr)
				s.logger.Errorf("after hook failed: %v", cleanup)
				s.reportUnhandled(cleanup)
			}
		}
		o.AfterDone = true
	}

	if phaseErr == nil {
		o.Status = action.StatusSucceeded
	} else {
		o.Status = action.StatusFailed
		o.Cause = phaseErr
		var actionWrap func(error) error
		if w, ok := act.(action.ErrorWrapper); ok {
			actionWrap = w.WrapError
		}
		o.Err, o.Swallowed = s.processError(act.Type(), actionWrap, seq, phaseErr)
		if span != nil {
			tracing.RecordError(span, o.Err)
		}
		// Failed dispatches notify state observers once with the error and an
		// unchanged state, so UI layers can re-render error affordances.
		cur := s.State()
		s.notifyState(action.StateChange[S]{ActionType: act.Type(), Seq: seq, Previous: cur, Next: cur, Err: o.Err})
	}

	if release != nil {
		release(o)
	}
	s.tracker.finished(o, s.State())
	s.notifyDispatch(action.DispatchEnded, act.Type(), seq)
	s.bus.Emit(events.Event{
		Type:       events.DispatchEnd,
		Timestamp:  time.Now(),
		ActionType: act.Type(),
		Seq:        seq,
		Payload: map[string]interface{}{
			"status":   o.Status.String(),
			"duration": time.Since(startedAt),
			"attempts": o.Attempts,
		},
	})
	handle.Resolve(o)

	if o.Status == action.StatusFailed && !o.Swallowed && reportUnhandled {
		s.reportUnhandled(flowerrors.NewDispatchError(act.Type(), o.Err))
	}
}

// runReduce invokes the reduce phase, applying the retry or internet-retry
// wrapper when configured. It returns the new state pointer (nil meaning no
// change), the number of reduce invocations, and the final error.
func (s *Store[S]) runReduce(
	ctx context.Context,
	act action.Action[S],
	caps action.Capabilities,
	seq uint64,
	stateFn func() S,
) (*S, int, error) {
	attempt := func(ctx context.Context, n int) (*S, error) {
		rc := action.NewContext(ctx, stateFn, s.env, s.logger, seq, n)
		return act.Reduce(rc)
	}

	switch {
	case caps.Retry != nil:
		cfg := s.retryConfig(caps.Retry, act.Type(), seq)
		var next *S
		attempts, err := s.retryHelper.Do(ctx, cfg, func(ctx context.Context, n int) error {
			var opErr error
			next, opErr = attempt(ctx, n)
			return opErr
		})
		return next, attempts, err

	case caps.Internet != nil && caps.Internet.Mode == action.ModeRetry:
		// Offline periods count as failed attempts and are waited out with
		// the configured backoff; the loop never gives up on its own.
		cfg := s.retryConfig(&caps.Internet.Backoff, act.Type(), seq)
		cfg.MaxRetries = -1
		var next *S
		attempts, err := s.retryHelper.Do(ctx, cfg, func(ctx context.Context, n int) error {
			if !s.checker.Online(ctx) {
				return flowerrors.NewUserError("waiting for internet connection", nil)
			}
			var opErr error
			next, opErr = attempt(ctx, n)
			return opErr
		})
		return next, attempts, err

	default:
		next, err := attempt(ctx, 0)
		return next, 1, err
	}
}

// retryConfig resolves a retry spec against the store defaults and wires the
// telemetry callback.
func (s *Store[S]) retryConfig(spec *action.RetrySpec, actionType string, seq uint64) retry.Config {
	cfg := retry.Config{
		MaxRetries:   spec.MaxRetries,
		InitialDelay: spec.InitialDelay,
		Multiplier:   spec.Multiplier,
		MaxDelay:     spec.MaxDelay,
		ActionType:   actionType,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.bus.Emit(events.Event{
				Type:       events.RetryAttempt,
				Timestamp:  time.Now(),
				ActionType: actionType,
				Seq:        seq,
				Payload:    map[string]interface{}{"attempt": attempt, "delay": delay},
			})
		},
	}
	if cfg.MaxRetries == 0 {
		if s.defaults.RetryMax != 0 {
			cfg.MaxRetries = s.defaults.RetryMax
		} else {
			cfg.MaxRetries = action.DefaultMaxRetries
		}
	}
	if cfg.InitialDelay == 0 {
		if s.defaults.RetryDelay > 0 {
			cfg.InitialDelay = s.defaults.RetryDelay
		} else {
			cfg.InitialDelay = action.DefaultRetryInitialDelay
		}
	}
	if cfg.Multiplier < 1.0 {
		if s.defaults.RetryMult >= 1.0 {
			cfg.Multiplier = s.defaults.RetryMult
		} else {
			cfg.Multiplier = action.DefaultRetryMultiplier
		}
	}
	if cfg.MaxDelay == 0 && s.defaults.RetryMaxDelay > 0 {
		cfg.MaxDelay = s.defaults.RetryMaxDelay
	}
	return cfg
}
