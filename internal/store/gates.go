package store

import (
	"time"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
)

// gateEntry carries the per-lock-key bookkeeping behind the behavior
// capabilities and the optimistic protocols. Entries are created lazily and
// never removed; the key space is bounded by the action types and entity
// keys an application actually uses. All fields are guarded by the store
// mutex.
type gateEntry[S any] struct {
	// inFlight marks a non-reentrant execution in progress for this key.
	inFlight bool

	// throttleUntil is the end of the current throttle window.
	throttleUntil time.Time

	// lastSuccess is when an execution for this key last completed
	// successfully; hasSuccess distinguishes the zero time.
	lastSuccess time.Time
	hasSuccess  bool

	// debounce holds the currently scheduled trailing execution, nil when
	// none is pending.
	debounce *debounceState[S]

	// syncInFlight and syncPending implement the optimistic sync coalescing
	// protocol: at most one push runs at a time, and at most one follow-up is
	// queued, carrying the latest value.
	syncInFlight bool
	syncPending  *pendingSync

	// revHigh is the highest revision observed for this key, from local
	// optimistic dispatches and accepted server pushes alike.
	revHigh uint64
}

// debounceState is one scheduled trailing execution. A newer dispatch within
// the window supersedes it: the timer restarts and the superseded handle
// resolves as aborted.
type debounceState[S any] struct {
	timer  *time.Timer
	seq    uint64
	act    action.Action[S]
	handle *action.Handle
}

// pendingSync is the single queued optimistic sync push.
type pendingSync struct {
	value    interface{}
	prev     interface{}
	localRev uint64
	seq      uint64
}

// gate returns the entry for key, creating it if needed. Callers hold the
// store mutex.
func (s *Store[S]) gate(key string) *gateEntry[S] {
	g, ok := s.gates[key]
	if !ok {
		g = &gateEntry[S]{}
		s.gates[key] = g
	}
	return g
}

// lockKeyFor resolves the effective lock key for a capability spec key,
// falling back to the action type.
func lockKeyFor(specKey, actionType string) string {
	if specKey != "" {
		return specKey
	}
	return actionType
}
