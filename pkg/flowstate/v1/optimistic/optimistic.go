// Package optimistic defines the optimistic-update action variants. All three
// share the core protocol: apply now, confirm later, reconcile on mismatch.
//
// The accessor functions (Get, Set, NewValue) must be pure: they are invoked
// while the store holds its internal mutex to keep the tentative apply
// atomic, and must not call back into the store.
package optimistic

import (
	"context"

	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
)

// Command is the one-shot optimistic variant (create/delete/submit). The
// tentative value is committed synchronously during Dispatch, before Commit
// starts; on Commit failure the value is rolled back only if the current
// state still carries the tentative value, so a newer edit is never
// clobbered by the rollback of an older one.
//
// Commands are non-reentrant per Name+Key: operations on different entities
// proceed in parallel while operations on the same entity serialize (a
// concurrent duplicate is skipped, not queued).
type Command[S any] struct {
	// Name is the action type. Key disambiguates the lock so independent
	// entities do not serialize against each other.
	Name string
	Key  string

	// NewValue computes the tentative value from the pre-apply state.
	NewValue func(state S) interface{}
	// Get reads the optimistic field from a state value.
	Get func(state S) interface{}
	// Set returns a new state with the optimistic field replaced.
	Set func(state S, value interface{}) S

	// Commit performs the real (slow) operation. A non-nil returned value is
	// the authoritative server value and overwrites the tentative one.
	Commit func(ctx context.Context, env interface{}, tentative interface{}) (interface{}, error)

	// OnDone, if set, runs once the dispatch reaches its terminal outcome,
	// regardless of success or failure.
	OnDone func(o action.Outcome)
}

func (c *Command[S]) Type() string {
	if c.Name == "" {
		return "optimistic-command"
	}
	return c.Name
}

func (c *Command[S]) Shape() action.Shape { return action.Async }

// Reduce is never invoked: the store recognizes optimistic actions and runs
// the dedicated apply/confirm/reconcile protocol instead.
func (c *Command[S]) Reduce(*action.Context[S]) (*S, error) {
	return nil, flowerrors.NewConfigError("optimistic command must be dispatched through a flowstate store", nil)
}

// LockKey returns the composite non-reentrancy key.
func (c *Command[S]) LockKey() string {
	if c.Key == "" {
		return c.Type()
	}
	return c.Type() + "/" + c.Key
}

// Sync is the coalescing optimistic variant for rapid repeated input (e.g.
// toggles). Every dispatch commits its Value locally at once; network syncs
// coalesce so that while one push is in flight at most one follow-up is
// queued, carrying the latest value. The dispatch handle resolves after the
// local apply; push failures surface through rollback notifications and the
// store's LastError.
type Sync[S any] struct {
	Name string
	Key  string

	// Value is the tentative value carried by this dispatch.
	Value interface{}

	Get func(state S) interface{}
	Set func(state S, value interface{}) S

	// Push sends value to the server. A non-nil returned value is the
	// authoritative one and overwrites the local value on success.
	Push func(ctx context.Context, env interface{}, value interface{}) (interface{}, error)

	OnDone func(o action.Outcome)
}

func (s *Sync[S]) Type() string {
	if s.Name == "" {
		return "optimistic-sync"
	}
	return s.Name
}

func (s *Sync[S]) Shape() action.Shape { return action.Async }

func (s *Sync[S]) Reduce(*action.Context[S]) (*S, error) {
	return nil, flowerrors.NewConfigError("optimistic sync must be dispatched through a flowstate store", nil)
}

// LockKey returns the composite coalescing key. Server pushes for this value
// must be applied through Store.ApplyServerPush with the same key.
func (s *Sync[S]) LockKey() string {
	if s.Key == "" {
		return s.Type()
	}
	return s.Type() + "/" + s.Key
}

// SyncWithPush extends Sync with revision reconciliation for values the
// server may also push from elsewhere (other devices). Every local dispatch
// increments a per-key revision counter; the push handshake exchanges the
// local revision and records the server's returned revision. An external
// push is applied only if its revision is strictly greater than the highest
// revision already observed for the key, so a delayed push from a prior
// state never clobbers a newer local value.
type SyncWithPush[S any] struct {
	Name string
	Key  string

	Value interface{}

	Get func(state S) interface{}
	Set func(state S, value interface{}) S

	// Push sends value and the local revision to the server and returns the
	// server's revision for the accepted write.
	Push func(ctx context.Context, env interface{}, value interface{}, localRev uint64) (serverRev uint64, authoritative interface{}, err error)

	OnDone func(o action.Outcome)
}

func (s *SyncWithPush[S]) Type() string {
	if s.Name == "" {
		return "optimistic-sync-push"
	}
	return s.Name
}

func (s *SyncWithPush[S]) Shape() action.Shape { return action.Async }

func (s *SyncWithPush[S]) Reduce(*action.Context[S]) (*S, error) {
	return nil, flowerrors.NewConfigError("optimistic sync must be dispatched through a flowstate store", nil)
}

// LockKey returns the composite key shared by local dispatches, coalescing,
// revision tracking and Store.ApplyServerPush.
func (s *SyncWithPush[S]) LockKey() string {
	if s.Key == "" {
		return s.Type()
	}
	return s.Type() + "/" + s.Key
}
