package events

import "time"

// EventType represents the type of a flowstate telemetry event.
type EventType string

// Standard flowstate event types. These are telemetry signals emitted on a
// best-effort, non-blocking bus; they are distinct from the store's
// synchronous, causally-ordered observer notifications.
const (
	DispatchStart       EventType = "DispatchStart"       // a dispatch was accepted and is about to execute
	DispatchEnd         EventType = "DispatchEnd"         // a dispatch reached a terminal outcome
	DispatchAborted     EventType = "DispatchAborted"     // a dispatch was skipped by an abort gate
	StateCommitted      EventType = "StateCommitted"      // a new state value was committed
	ErrorOccurred       EventType = "ErrorOccurred"       // the error pipeline processed a failure
	RetryAttempt        EventType = "RetryAttempt"        // a reduce attempt failed and will be retried
	OptimisticApplied   EventType = "OptimisticApplied"   // a tentative value was committed locally
	OptimisticConfirmed EventType = "OptimisticConfirmed" // the server confirmed an optimistic value
	OptimisticRollback  EventType = "OptimisticRollback"  // a failed optimistic update was reconciled
	ServerPushApplied   EventType = "ServerPushApplied"   // an externally pushed update was accepted
	ServerPushDiscarded EventType = "ServerPushDiscarded" // a stale push was rejected by revision check
	PersistWrite        EventType = "PersistWrite"        // the throttled persister wrote a snapshot
	PersistError        EventType = "PersistError"        // the persistence adapter reported an error
)

// Event represents a significant occurrence within a flowstate store.
type Event struct {
	// Type categorizes the event.
	Type EventType `json:"type"`
	// Timestamp marks when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// ActionType identifies the action context, if applicable.
	ActionType string `json:"action_type,omitempty"`
	// Seq is the monotonic dispatch sequence number, if applicable.
	Seq uint64 `json:"seq,omitempty"`
	// Payload contains event-specific data. State values MUST NOT be included
	// in the payload; events describe transitions, not contents.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus defines the interface for publishing telemetry events.
// Implementations should be non-blocking or handle blocking carefully to
// avoid slowing down the dispatch engine.
type Bus interface {
	// Emit publishes an event to the bus.
	Emit(event Event)
}
