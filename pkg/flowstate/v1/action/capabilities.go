package action

import (
	"fmt"
	"time"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
)

// Default values applied when a capability spec leaves a field zero.
const (
	DefaultThrottleWindow    = 1000 * time.Millisecond
	DefaultDebounceWindow    = 333 * time.Millisecond
	DefaultMaxRetries        = 3
	DefaultRetryInitialDelay = 350 * time.Millisecond
	DefaultRetryMultiplier   = 2.0
)

// Capabilities is the set of behavior modifiers attached to an action. Each
// field is optional; a nil field means the capability is absent. Certain
// combinations compete for the same extension point and are rejected by
// Validate (see its doc) instead of producing silently wrong behavior.
type Capabilities struct {
	NonReentrant *NonReentrantSpec
	Throttle     *ThrottleSpec
	Debounce     *DebounceSpec
	Retry        *RetrySpec
	Fresh        *FreshSpec
	Internet     *InternetSpec
}

// NonReentrantSpec guarantees at-most-one concurrent execution per lock key.
// A second dispatch while one is in flight is fully skipped (no observer
// notification), not queued.
type NonReentrantSpec struct {
	// Key overrides the lock key; empty uses the action type.
	Key string
}

// ThrottleSpec suppresses dispatches that arrive before the end of the fresh
// window established by the most recent execution start for the lock key.
type ThrottleSpec struct {
	// Key overrides the lock key; empty uses the action type.
	Key string
	// Window is the throttle duration; zero uses DefaultThrottleWindow.
	Window time.Duration
	// Force bypasses throttling unconditionally for this dispatch.
	Force bool
	// UnlockOnError clears the fresh window when the execution fails. The
	// default (false) leaves the window set, preventing hot-retry loops.
	UnlockOnError bool
}

// WindowOrDefault returns the configured window, or DefaultThrottleWindow.
func (t *ThrottleSpec) WindowOrDefault() time.Duration {
	if t.Window > 0 {
		return t.Window
	}
	return DefaultThrottleWindow
}

// DebounceSpec delays execution until the lock key has been quiet for the
// window; intermediate dispatches within the window never execute their
// reduce and resolve as aborted. Debounced actions always execute
// asynchronously regardless of their declared shape.
//
// An abort-gate capability on the same action (non-reentrant, throttle,
// fresh) is evaluated at dispatch time, before debounce scheduling: a
// dispatch the gate suppresses never enters the window and its parameters do
// not participate in trailing coalescing.
type DebounceSpec struct {
	// Key overrides the lock key; empty uses the action type.
	Key string
	// Window is the debounce duration; zero uses DefaultDebounceWindow.
	Window time.Duration
}

// WindowOrDefault returns the configured window, or DefaultDebounceWindow.
func (d *DebounceSpec) WindowOrDefault() time.Duration {
	if d.Window > 0 {
		return d.Window
	}
	return DefaultDebounceWindow
}

// RetrySpec re-invokes a failing reduce with exponential backoff. Only errors
// from reduce trigger retry; errors from before propagate immediately. Using
// this capability forces asynchronous execution.
type RetrySpec struct {
	// MaxRetries is the number of re-invocations after the first failure
	// (total executions = MaxRetries + 1). Zero uses DefaultMaxRetries; a
	// negative value retries indefinitely.
	MaxRetries int
	// InitialDelay is the wait before the first retry; zero uses
	// DefaultRetryInitialDelay. The delay is measured from when the failing
	// attempt returned, not from the original dispatch time.
	InitialDelay time.Duration
	// Multiplier scales the delay per attempt; values below 1 use
	// DefaultRetryMultiplier.
	Multiplier float64
	// MaxDelay caps the computed delay; zero means no cap.
	MaxDelay time.Duration
}

// Unlimited reports whether the spec retries indefinitely.
func (r *RetrySpec) Unlimited() bool { return r.MaxRetries < 0 }

// FreshSpec skips re-execution entirely while the last successful completion
// for the lock key is younger than Freshness.
type FreshSpec struct {
	// Key overrides the lock key; empty uses the action type.
	Key string
	// Freshness is the span during which data is considered still valid.
	Freshness time.Duration
}

// InternetMode selects what an internet-gated action does when the
// connectivity checker reports offline.
type InternetMode int

const (
	// ModeDialog fails the dispatch with a user-facing error carrying
	// Message, recorded for display rather than rethrown.
	ModeDialog InternetMode = iota
	// ModeAbort silently skips the dispatch, exactly like an abort predicate.
	ModeAbort
	// ModeRetry retries indefinitely, waiting out offline periods with the
	// configured backoff, until the reduce succeeds. It occupies both the
	// abort-gate and the reduce-wrapper extension points and forces
	// asynchronous execution.
	ModeRetry
)

func (m InternetMode) String() string {
	switch m {
	case ModeDialog:
		return "dialog"
	case ModeAbort:
		return "abort"
	case ModeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// InternetSpec gates execution on connectivity as reported by the store's
// configured checker.
type InternetSpec struct {
	Mode InternetMode
	// Message is the user-facing text for ModeDialog; empty uses a default.
	Message string
	// Backoff paces ModeRetry attempts. MaxRetries is ignored: ModeRetry is
	// always unlimited.
	Backoff RetrySpec
}

// Validate enforces the capability exclusivity groups:
//
//   - abort-gate group (at most one): NonReentrant, Throttle, Fresh, and
//     Internet in ModeRetry;
//   - reduce-wrapper group (at most one): Retry, Debounce, and Internet in
//     ModeRetry.
//
// It also rejects malformed individual specs. Validation runs before any
// lifecycle phase of a dispatch, so violating actions fail fast.
func (c Capabilities) Validate() error {
	var abortGate, reduceWrap []string
	if c.NonReentrant != nil {
		abortGate = append(abortGate, "non-reentrant")
	}
	if c.Throttle != nil {
		abortGate = append(abortGate, "throttle")
		if c.Throttle.Window < 0 {
			return flowerrors.NewValidationError("throttle window cannot be negative", nil)
		}
	}
	if c.Fresh != nil {
		abortGate = append(abortGate, "fresh")
		if c.Fresh.Freshness <= 0 {
			return flowerrors.NewValidationError("fresh capability requires a positive freshness duration", nil)
		}
	}
	if c.Debounce != nil {
		reduceWrap = append(reduceWrap, "debounce")
		if c.Debounce.Window < 0 {
			return flowerrors.NewValidationError("debounce window cannot be negative", nil)
		}
	}
	if c.Retry != nil {
		reduceWrap = append(reduceWrap, "retry")
		if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
			return flowerrors.NewValidationError("retry delays cannot be negative", nil)
		}
	}
	if c.Internet != nil && c.Internet.Mode == ModeRetry {
		abortGate = append(abortGate, "internet-retry")
		reduceWrap = append(reduceWrap, "internet-retry")
	}

	if len(abortGate) > 1 {
		return flowerrors.NewValidationError(
			fmt.Sprintf("capabilities %v all override the abort gate; at most one is allowed per action", abortGate), nil)
	}
	if len(reduceWrap) > 1 {
		return flowerrors.NewValidationError(
			fmt.Sprintf("capabilities %v all wrap the reduce invocation; at most one is allowed per action", reduceWrap), nil)
	}
	return nil
}

// ForcesAsync reports whether any attached capability requires asynchronous
// execution regardless of the action's declared shape.
func (c Capabilities) ForcesAsync() bool {
	if c.Debounce != nil || c.Retry != nil {
		return true
	}
	return c.Internet != nil && c.Internet.Mode == ModeRetry
}
