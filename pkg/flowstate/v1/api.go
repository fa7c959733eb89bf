// Package v1 is the public flowstate API: a typed, unidirectional-data-flow
// state container for client applications. State lives in a single immutable
// value; all changes travel through dispatched actions whose lifecycle,
// concurrency behavior and error handling the store controls.
package v1

import (
	"context"
	"time"

	"github.com/flowstate-labs/flowstate/internal/store"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/connectivity"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/metrics"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/persist"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/tracing"
)

// Store is the public interface of a flowstate state container. S is the
// application state type, treated as an immutable value: reducers return new
// values instead of mutating, and observers must not modify what they
// receive.
type Store[S any] interface {
	// Dispatch accepts an action. For synchronous actions the returned handle
	// is resolved when Dispatch returns; for asynchronous ones it resolves at
	// the terminal outcome. Acceptance errors (nil action, invalid capability
	// combination, closed store) are returned directly.
	Dispatch(ctx context.Context, act action.Action[S]) (*action.Handle, error)

	// DispatchAndWait dispatches and blocks until the terminal outcome,
	// returning the final wrapped error when the dispatch failed and the
	// error pipeline's disposition is rethrow.
	DispatchAndWait(ctx context.Context, act action.Action[S]) (action.Outcome, error)

	// State returns the current state value.
	State() S

	// Hydrate replaces the initial state with the persisted snapshot, if one
	// exists. Must be called before the first dispatch.
	Hydrate(ctx context.Context) error

	// ApplyServerPush reconciles an externally pushed update for key, applied
	// only if revision exceeds every revision already observed for the key.
	ApplyServerPush(key string, revision uint64, apply func(S) *S) (bool, error)

	// SubscribeState registers an observer of committed state transitions and
	// per-dispatch failure notifications.
	SubscribeState(obs action.StateObserver[S]) error
	// SubscribeDispatch registers an observer of dispatch start/end.
	SubscribeDispatch(obs action.DispatchObserver) error
	// SubscribeError registers an observer participating in the
	// rethrow-or-swallow decision for dispatch errors.
	SubscribeError(obs action.ErrorObserver) error

	// IsInFlight reports whether any dispatch of actionType has not yet
	// reached a terminal outcome.
	IsInFlight(actionType string) bool
	// LastError returns the most recent failure of actionType, cleared by
	// ClearError or by accepting a new dispatch of the type.
	LastError(actionType string) error
	// ClearError forgets recorded failures; an empty type clears all.
	ClearError(actionType string)

	// WaitForActionType blocks until the next dispatch of actionType reaches
	// a terminal outcome. A zero timeout waits on ctx alone.
	WaitForActionType(ctx context.Context, actionType string, timeout time.Duration) (action.Outcome, error)
	// WaitForCondition blocks until pred holds for the current or a future
	// committed state. A zero timeout waits on ctx alone.
	WaitForCondition(ctx context.Context, pred func(S) bool, timeout time.Duration) error

	// Close stops the store, flushes pending persistence and shuts down the
	// telemetry plumbing. Dispatching afterwards fails.
	Close(ctx context.Context) error

	// Setter methods for configuring the store programmatically. They fail
	// once the first dispatch has been accepted.
	SetLogger(l log.Logger) error
	SetEventBus(b events.Bus) error
	SetMetricsRegistryProvider(p metrics.RegistryProvider) error
	SetTracerProvider(p tracing.TracerProvider) error
	SetConnectivityChecker(c connectivity.Checker) error
	SetGlobalErrorWrapper(fn func(error) error) error
	SetUnhandledErrorSink(fn func(error)) error
	SetEnvironment(env interface{}) error
	SetPersister(p persist.Persister[S], interval time.Duration) error
	SetDefaults(d store.Defaults) error
}

// Option configures a store at creation.
type Option[S any] func(Store[S]) error

// New creates a store holding initial and applies the options in order.
func New[S any](initial S, opts ...Option[S]) (Store[S], error) {
	s := store.New(initial)
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithLogger provides a custom logger.
func WithLogger[S any](l log.Logger) Option[S] {
	return func(s Store[S]) error {
		if l == nil {
			return flowerrors.NewConfigError("logger cannot be nil", nil)
		}
		return s.SetLogger(l)
	}
}

// WithEventBus provides a custom telemetry event bus.
func WithEventBus[S any](b events.Bus) Option[S] {
	return func(s Store[S]) error {
		if b == nil {
			return flowerrors.NewConfigError("event bus cannot be nil", nil)
		}
		return s.SetEventBus(b)
	}
}

// WithMetricsRegistryProvider provides a custom metrics provider.
func WithMetricsRegistryProvider[S any](p metrics.RegistryProvider) Option[S] {
	return func(s Store[S]) error {
		if p == nil {
			return flowerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return s.SetMetricsRegistryProvider(p)
	}
}

// WithTracerProvider provides a custom tracing provider.
func WithTracerProvider[S any](p tracing.TracerProvider) Option[S] {
	return func(s Store[S]) error {
		if p == nil {
			return flowerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return s.SetTracerProvider(p)
	}
}

// WithConnectivityChecker provides the online probe used by internet-gated
// actions.
func WithConnectivityChecker[S any](c connectivity.Checker) Option[S] {
	return func(s Store[S]) error {
		if c == nil {
			return flowerrors.NewConfigError("connectivity checker cannot be nil", nil)
		}
		return s.SetConnectivityChecker(c)
	}
}

// WithGlobalErrorWrapper provides the store-wide error transform applied
// after any per-action wrap.
func WithGlobalErrorWrapper[S any](fn func(error) error) Option[S] {
	return func(s Store[S]) error {
		if fn == nil {
			return flowerrors.NewConfigError("global error wrapper cannot be nil", nil)
		}
		return s.SetGlobalErrorWrapper(fn)
	}
}

// WithUnhandledErrorSink provides the sink for rethrown errors of
// fire-and-forget dispatches and after-hook failures.
func WithUnhandledErrorSink[S any](fn func(error)) Option[S] {
	return func(s Store[S]) error {
		if fn == nil {
			return flowerrors.NewConfigError("unhandled error sink cannot be nil", nil)
		}
		return s.SetUnhandledErrorSink(fn)
	}
}

// WithEnvironment provides the opaque environment bag handed to every hook
// context (API clients, databases, clocks). The store never inspects it.
func WithEnvironment[S any](env interface{}) Option[S] {
	return func(s Store[S]) error {
		return s.SetEnvironment(env)
	}
}

// WithPersister provides the persistence adapter and the snapshot write
// throttle interval. A zero interval writes every commit.
func WithPersister[S any](p persist.Persister[S], interval time.Duration) Option[S] {
	return func(s Store[S]) error {
		if p == nil {
			return flowerrors.NewConfigError("persister cannot be nil", nil)
		}
		return s.SetPersister(p, interval)
	}
}

// WithDefaults overrides the store-wide capability defaults.
func WithDefaults[S any](d store.Defaults) Option[S] {
	return func(s Store[S]) error {
		return s.SetDefaults(d)
	}
}

// Defaults re-exports the store-wide capability defaults for configuration.
type Defaults = store.Defaults

var _ Store[struct{}] = (*store.Store[struct{}])(nil)
