// Package store implements the dispatch engine behind the public Store
// interface: state commits, lifecycle execution, behavior gates, the error
// pipeline, optimistic updates, and the wait helpers.
package store

import (
	"context"
	"sync"
	"time"

	intevents "github.com/flowstate-labs/flowstate/internal/events"
	"github.com/flowstate-labs/flowstate/internal/logger"
	intmetrics "github.com/flowstate-labs/flowstate/internal/metrics"
	intpersist "github.com/flowstate-labs/flowstate/internal/persist"
	"github.com/flowstate-labs/flowstate/internal/retry"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/connectivity"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	flowlog "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
	flowmetrics "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/metrics"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/persist"
	flowtracing "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/tracing"
	"go.opentelemetry.io/otel/trace"
)

// Defaults are the store-wide capability defaults, overridable from a config
// file. Zero fields fall back to the action package constants.
type Defaults struct {
	ThrottleWindow time.Duration
	DebounceWindow time.Duration
	RetryMax       int
	RetryDelay     time.Duration
	RetryMult      float64
	RetryMaxDelay  time.Duration
}

// Store is the single-owner state container. One mutex guards the state
// value, the gate table and the dispatch counter; user hooks never run while
// it is held, with one deliberate exception: the pure accessor functions of
// optimistic actions, which must read and swap atomically.
type Store[S any] struct {
	mu    sync.Mutex
	state S
	seq   uint64

	// started flips on the first dispatch; configuration setters reject
	// changes afterwards.
	started bool
	closed  bool

	env             interface{}
	logger          flowlog.Logger
	bus             events.Bus
	channelBus      *intevents.ChannelEventBus
	metricsProvider flowmetrics.RegistryProvider
	tracerProvider  flowtracing.TracerProvider
	tracer          trace.Tracer
	checker         connectivity.Checker
	globalWrap      func(error) error
	unhandled       func(error)
	writer          *intpersist.ThrottledWriter[S]
	persistInterval time.Duration
	rawPersister    persist.Persister[S]
	defaults        Defaults

	retryHelper *retry.Helper

	stateObservers    []action.StateObserver[S]
	dispatchObservers []action.DispatchObserver
	errorObservers    []action.ErrorObserver

	gates   map[string]*gateEntry[S]
	tracker *tracker[S]

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a store holding initial. Options are applied by the public
// constructor through the setter methods.
func New[S any](initial S) *Store[S] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store[S]{
		state:   initial,
		logger:  logger.NewDefaultLogger("info"),
		bus:     intevents.NewNoOpEventBus(),
		checker: connectivity.Always(),
		gates:   make(map[string]*gateEntry[S]),
		tracker: newTracker[S](),
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.retryHelper = retry.NewHelper(s.logger)
	return s
}

// configurable guards setters: configuration is frozen once the first
// dispatch has been accepted.
func (s *Store[S]) configurable(what string) error {
	if s.started {
		return flowerrors.NewConfigError(what+" cannot be changed after the first dispatch", nil)
	}
	if s.closed {
		return flowerrors.NewConfigError(what+" cannot be changed on a closed store", nil)
	}
	return nil
}

// SetLogger replaces the default stderr logger.
func (s *Store[S]) SetLogger(l flowlog.Logger) error {
	if l == nil {
		return flowerrors.NewConfigError("logger cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("logger"); err != nil {
		return err
	}
	s.logger = l
	s.retryHelper = retry.NewHelper(l)
	return nil
}

// SetEventBus replaces the default no-op telemetry bus. When given a
// ChannelEventBus and a metrics provider is also configured, the store starts
// a metrics listener on it.
func (s *Store[S]) SetEventBus(b events.Bus) error {
	if b == nil {
		return flowerrors.NewConfigError("event bus cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("event bus"); err != nil {
		return err
	}
	s.bus = b
	if cb, ok := b.(*intevents.ChannelEventBus); ok {
		s.channelBus = cb
	} else {
		s.channelBus = nil
	}
	return nil
}

// SetMetricsRegistryProvider configures the Prometheus registry the store
// registers its dispatch metrics on.
func (s *Store[S]) SetMetricsRegistryProvider(p flowmetrics.RegistryProvider) error {
	if p == nil {
		return flowerrors.NewConfigError("metrics registry provider cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("metrics registry provider"); err != nil {
		return err
	}
	s.metricsProvider = p
	return nil
}

// SetTracerProvider configures distributed tracing for dispatch lifecycles.
func (s *Store[S]) SetTracerProvider(p flowtracing.TracerProvider) error {
	if p == nil {
		return flowerrors.NewConfigError("tracer provider cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("tracer provider"); err != nil {
		return err
	}
	s.tracerProvider = p
	s.tracer = p.GetTracer("flowstate/store")
	return nil
}

// SetConnectivityChecker configures the online probe used by internet-gated
// actions. The default checker always reports online.
func (s *Store[S]) SetConnectivityChecker(c connectivity.Checker) error {
	if c == nil {
		return flowerrors.NewConfigError("connectivity checker cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("connectivity checker"); err != nil {
		return err
	}
	s.checker = c
	return nil
}

// SetGlobalErrorWrapper configures the store-wide error transform applied
// after any per-action wrap. Returning nil from the wrapper keeps the error
// unchanged.
func (s *Store[S]) SetGlobalErrorWrapper(fn func(error) error) error {
	if fn == nil {
		return flowerrors.NewConfigError("global error wrapper cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("global error wrapper"); err != nil {
		return err
	}
	s.globalWrap = fn
	return nil
}

// SetUnhandledErrorSink configures where rethrown errors of fire-and-forget
// dispatches and after-hook failures are reported. The default sink logs.
func (s *Store[S]) SetUnhandledErrorSink(fn func(error)) error {
	if fn == nil {
		return flowerrors.NewConfigError("unhandled error sink cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("unhandled error sink"); err != nil {
		return err
	}
	s.unhandled = fn
	return nil
}

// SetEnvironment configures the opaque environment bag handed to every hook
// context. The store never inspects it.
func (s *Store[S]) SetEnvironment(env interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("environment"); err != nil {
		return err
	}
	s.env = env
	return nil
}

// SetPersister configures the persistence adapter and the write throttle
// interval. A zero interval writes every commit.
func (s *Store[S]) SetPersister(p persist.Persister[S], interval time.Duration) error {
	if p == nil {
		return flowerrors.NewConfigError("persister cannot be nil", nil)
	}
	if interval < 0 {
		return flowerrors.NewConfigError("persist interval cannot be negative", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("persister"); err != nil {
		return err
	}
	s.rawPersister = p
	s.persistInterval = interval
	return nil
}

// SetDefaults overrides the store-wide capability defaults.
func (s *Store[S]) SetDefaults(d Defaults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("defaults"); err != nil {
		return err
	}
	s.defaults = d
	return nil
}

// Hydrate replaces the initial state with the persisted snapshot, if one
// exists. It must be called before the first dispatch.
func (s *Store[S]) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configurable("state hydration"); err != nil {
		return err
	}
	if s.rawPersister == nil {
		return flowerrors.NewConfigError("hydrate requires a configured persister", nil)
	}
	state, found, err := s.rawPersister.Read(ctx)
	if err != nil {
		return err
	}
	if found {
		s.state = state
	}
	return nil
}

// markStarted freezes configuration and finishes wiring that depends on the
// final option set: the throttled writer, and the metrics listener when both
// a channel bus and a registry provider are present. Callers hold s.mu.
func (s *Store[S]) markStartedLocked() {
	if s.started {
		return
	}
	s.started = true

	if s.rawPersister != nil {
		s.writer = intpersist.NewThrottledWriter(s.rawPersister, s.persistInterval, s.logger)
		s.writer.SetResultHandler(func(err error) {
			if err != nil {
				s.logger.Errorf("state persistence failed: %v", err)
				s.bus.Emit(events.Event{Type: events.PersistError, Timestamp: time.Now()})
				return
			}
			s.bus.Emit(events.Event{Type: events.PersistWrite, Timestamp: time.Now()})
		})
	}

	if s.metricsProvider != nil && s.channelBus != nil {
		m, err := intmetrics.NewDispatchMetrics(s.metricsProvider.Registry())
		if err != nil {
			s.logger.Errorf("failed to register dispatch metrics: %v", err)
			return
		}
		listener := intevents.NewMetricsEventListener(s.channelBus, m, s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			listener.Start(s.baseCtx)
		}()
	}
}

// State returns the current state value. State values are treated as
// immutable; callers must not mutate shared reference fields.
func (s *Store[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubscribeState registers a state observer. Observers registered after
// dispatching has begun see only subsequent changes.
func (s *Store[S]) SubscribeState(obs action.StateObserver[S]) error {
	if obs == nil {
		return flowerrors.NewConfigError("state observer cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateObservers = append(s.stateObservers, obs)
	return nil
}

// SubscribeDispatch registers a dispatch lifecycle observer.
func (s *Store[S]) SubscribeDispatch(obs action.DispatchObserver) error {
	if obs == nil {
		return flowerrors.NewConfigError("dispatch observer cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchObservers = append(s.dispatchObservers, obs)
	return nil
}

// SubscribeError registers an error observer participating in the
// rethrow-or-swallow decision.
func (s *Store[S]) SubscribeError(obs action.ErrorObserver) error {
	if obs == nil {
		return flowerrors.NewConfigError("error observer cannot be nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorObservers = append(s.errorObservers, obs)
	return nil
}

// IsInFlight reports whether any dispatch of actionType is still executing.
func (s *Store[S]) IsInFlight(actionType string) bool {
	return s.tracker.isInFlight(actionType)
}

// LastError returns the error of the most recent failed dispatch of
// actionType. It is cleared by ClearError or by accepting a new dispatch of
// the same type.
func (s *Store[S]) LastError(actionType string) error {
	return s.tracker.lastError(actionType)
}

// ClearError forgets the recorded failure for actionType; empty clears all.
func (s *Store[S]) ClearError(actionType string) {
	s.tracker.clearError(actionType)
}

// WaitForActionType blocks until the next dispatch of actionType reaches a
// terminal outcome. A zero timeout waits on ctx alone.
func (s *Store[S]) WaitForActionType(ctx context.Context, actionType string, timeout time.Duration) (action.Outcome, error) {
	return s.tracker.waitForType(ctx, actionType, timeout)
}

// WaitForCondition blocks until pred holds for the current or a future
// committed state. A zero timeout waits on ctx alone.
func (s *Store[S]) WaitForCondition(ctx context.Context, pred func(S) bool, timeout time.Duration) error {
	if pred == nil {
		return flowerrors.NewConfigError("condition predicate cannot be nil", nil)
	}
	return s.tracker.waitForCondition(ctx, s.State(), pred, timeout)
}

// Close stops the store: in-flight asynchronous dispatches are cancelled
// through their context, pending snapshot writes are flushed, and the
// telemetry bus and tracer provider are shut down. Dispatching on a closed
// store fails with a ConfigError.
func (s *Store[S]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	// Cancel pending debounce timers; their dispatches resolve as aborted.
	var cancelled []*debounceState[S]
	for _, g := range s.gates {
		if g.debounce != nil {
			g.debounce.timer.Stop()
			cancelled = append(cancelled, g.debounce)
			g.debounce = nil
		}
	}
	state := s.state
	s.mu.Unlock()

	// Finishing outside the mutex: the tracker releases waiters and runs
	// condition predicates.
	for _, entry := range cancelled {
		s.tracker.finished(action.Outcome{
			ActionType: entry.act.Type(),
			Seq:        entry.seq,
			Status:     action.StatusAborted,
		}, state)
		s.resolveAborted(entry.act.Type(), entry.seq, entry.handle)
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var firstErr error
	select {
	case <-done:
	case <-ctx.Done():
		firstErr = ctx.Err()
	}

	if s.writer != nil {
		if err := s.writer.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.channelBus != nil {
		s.channelBus.Close()
	}
	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// commit swaps the state under the mutex and returns the previous value.
func (s *Store[S]) commit(next S) (prev S) {
	s.mu.Lock()
	prev = s.state
	s.state = next
	s.mu.Unlock()
	return prev
}

// notifyState informs state observers and re-evaluates condition waiters.
// Runs on the dispatching goroutine, never under the store mutex.
func (s *Store[S]) notifyState(change action.StateChange[S]) {
	s.mu.Lock()
	observers := append([]action.StateObserver[S](nil), s.stateObservers...)
	s.mu.Unlock()
	for _, obs := range observers {
		obs(change)
	}
	if change.Err == nil {
		s.tracker.stateChanged(change.Next)
	}
}

// notifyDispatch informs dispatch observers of a phase transition.
func (s *Store[S]) notifyDispatch(phase action.DispatchPhase, actionType string, seq uint64) {
	s.mu.Lock()
	observers := append([]action.DispatchObserver(nil), s.dispatchObservers...)
	s.mu.Unlock()
	for _, obs := range observers {
		obs(phase, actionType, seq)
	}
}

// persistTransition hands a committed transition to the throttled writer.
func (s *Store[S]) persistTransition(prev, next S) {
	if s.writer == nil {
		return
	}
	if err := s.writer.Persist(s.baseCtx, prev, next); err != nil {
		s.logger.Errorf("state persistence failed: %v", err)
	}
}

// reportUnhandled delivers an error nobody is waiting on to the configured
// sink, or the log by default.
func (s *Store[S]) reportUnhandled(err error) {
	if err == nil {
		return
	}
	if s.unhandled != nil {
		s.unhandled(err)
		return
	}
	s.logger.Errorf("unhandled dispatch error: %v", err)
}
