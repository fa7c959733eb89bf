// Package action defines the value types dispatched into a flowstate store:
// actions, their lifecycle hooks, behavior capabilities, and the result
// objects callers receive back.
package action

import (
	"context"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
)

// Shape declares whether an action's reduce executes synchronously within the
// dispatching call or asynchronously on its own goroutine. The declaration is
// explicit and required; the store never infers it from how quickly a reduce
// happens to return. Some capabilities (Debounce, Retry, the internet-retry
// gate) force asynchronous execution regardless of the declared shape.
type Shape int

const (
	// Sync actions execute fully, including commit and observer notification,
	// before Dispatch returns.
	Sync Shape = iota
	// Async actions are guaranteed to have been accepted (abort gates passed,
	// locks taken, tracked in-flight) when Dispatch returns, but their
	// lifecycle runs on a separate goroutine.
	Async
)

func (s Shape) String() string {
	switch s {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// Action describes an intended state transition. An action's payload is
// immutable for its lifetime; only the container state changes. A single
// action instance is consumed by exactly one execution per dispatch call
// (retries re-invoke Reduce on the same instance with an incremented attempt
// counter).
type Action[S any] interface {
	// Type returns the action's type identifier, used for tracking, lock
	// keying and observer matching.
	Type() string

	// Shape declares the action's execution shape.
	Shape() Shape

	// Reduce computes the next state. Returning a non-nil pointer commits the
	// pointed-to value as the new state, even if it is equal to the previous
	// one. Returning nil is the explicit no-change sentinel: no commit occurs
	// and no state observer fires.
	Reduce(rc *Context[S]) (*S, error)
}

// BeforeHook is the optional precondition phase. If Before returns an error,
// Reduce is skipped entirely, but the after hook still runs.
type BeforeHook[S any] interface {
	Before(rc *Context[S]) error
}

// AfterHook is the optional cleanup phase. After runs exactly once per
// dispatch attempt regardless of success or failure of the earlier phases.
// An error returned from After is reported out-of-band and never suppresses
// or replaces an error from Before or Reduce.
type AfterHook[S any] interface {
	After(rc *Context[S]) error
}

// AbortPredicate lets an action declare a synchronous precondition evaluated
// against the current state before any phase runs. When AbortWhen reports
// true, the dispatch is a complete no-op: no phase executes and no observer
// is notified.
type AbortPredicate[S any] interface {
	AbortWhen(state S) bool
}

// ErrorWrapper lets an action transform an error captured from its before or
// reduce phases before the store's global wrap runs. Returning nil keeps the
// error unchanged.
type ErrorWrapper interface {
	WrapError(err error) error
}

// Capable declares an action's attached behavior capabilities. Actions
// without this interface carry no capabilities.
type Capable interface {
	Capabilities() Capabilities
}

// Context is the execution context handed to an action's lifecycle hooks.
// It is constructed by the store; one Context exists per reduce attempt so
// that Attempt stays accurate under retry.
type Context[S any] struct {
	ctx     context.Context
	state   func() S
	env     interface{}
	logger  log.Logger
	seq     uint64
	attempt int
}

// NewContext builds a hook context. It is exported for the store and for
// tests that exercise actions directly.
func NewContext[S any](ctx context.Context, state func() S, env interface{}, logger log.Logger, seq uint64, attempt int) *Context[S] {
	return &Context[S]{ctx: ctx, state: state, env: env, logger: logger, seq: seq, attempt: attempt}
}

// Context returns the context.Context governing this dispatch.
func (c *Context[S]) Context() context.Context { return c.ctx }

// State returns the current state snapshot at the time of the call.
func (c *Context[S]) State() S { return c.state() }

// Env returns the opaque environment bag configured on the store. The store
// has no lifecycle responsibility for it beyond availability.
func (c *Context[S]) Env() interface{} { return c.env }

// Logger returns the store's logger.
func (c *Context[S]) Logger() log.Logger { return c.logger }

// Seq returns the monotonic dispatch sequence number of this dispatch.
func (c *Context[S]) Seq() uint64 { return c.seq }

// Attempt returns the zero-based reduce attempt number. It is zero unless a
// retry capability re-invoked the reduce, letting reducers change behavior on
// retry (e.g. fall back to an alternate source).
func (c *Context[S]) Attempt() int { return c.attempt }
